// Package customer tracks the per-customer credit balance: a running ledger
// increased by overpayments and returns, decreased when credit is consumed to
// pay invoices.
package customer

import (
	"time"

	"github.com/meridian-erp/meridian-erp/internal/money"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// Customer aggregate. Balance is credit owed to the customer and never goes
// negative.
type Customer struct {
	Code      string
	Name      string
	Balance   money.Money
	CreatedAt time.Time
	UpdatedAt time.Time
}

// BalanceIncreased event.
type BalanceIncreased struct {
	CustomerCode string
	Delta        money.Money
	Balance      money.Money
}

// BalanceReduced event.
type BalanceReduced struct {
	CustomerCode string
	Delta        money.Money
	Balance      money.Money
}

// IncreaseBalance adds credit to the customer.
func (c *Customer) IncreaseBalance(amount money.Money) (BalanceIncreased, error) {
	if !amount.IsPositive() {
		return BalanceIncreased{}, shared.Validationf("customer %s: balance increase must be positive, got %s", c.Code, amount)
	}
	next, err := c.Balance.Add(amount)
	if err != nil {
		return BalanceIncreased{}, err
	}
	c.Balance = next
	c.UpdatedAt = time.Now()
	return BalanceIncreased{CustomerCode: c.Code, Delta: amount, Balance: c.Balance}, nil
}

// DecreaseBalance consumes credit. Fails if it would drive the balance
// negative.
func (c *Customer) DecreaseBalance(amount money.Money) (BalanceReduced, error) {
	if !amount.IsPositive() {
		return BalanceReduced{}, shared.Validationf("customer %s: balance decrease must be positive, got %s", c.Code, amount)
	}
	next, err := c.Balance.Sub(amount)
	if err != nil {
		return BalanceReduced{}, err
	}
	if next.IsNegative() {
		return BalanceReduced{}, shared.Rulef("customer %s: balance %s cannot cover decrease of %s", c.Code, c.Balance, amount)
	}
	c.Balance = next
	c.UpdatedAt = time.Now()
	return BalanceReduced{CustomerCode: c.Code, Delta: amount, Balance: c.Balance}, nil
}
