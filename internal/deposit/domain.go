// Package deposit implements the Deposit aggregate: money a customer pays in
// without designating an invoice, consumed by the allocation algorithm
// against outstanding debt.
package deposit

import (
	"time"

	"github.com/google/uuid"

	"github.com/meridian-erp/meridian-erp/internal/invoice"
	"github.com/meridian-erp/meridian-erp/internal/money"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// Status enumerates deposit statuses.
type Status string

const (
	StatusActive   Status = "ACTIVE"
	StatusCanceled Status = "CANCELED"
)

// Deposit aggregate. Remaining is the part of the amount not yet consumed by
// any invoice.
type Deposit struct {
	ID           uuid.UUID
	CustomerCode string
	Method       invoice.Method
	Details      invoice.PaymentDetails
	Amount       money.Money
	Remaining    money.Money
	CreatedBy    string
	CanceledBy   string
	Status       Status
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Made event. Details travel with the event so allocation can stamp the
// payments it creates with the deposit's own method metadata.
type Made struct {
	DepositID    uuid.UUID
	CustomerCode string
	Method       invoice.Method
	Details      invoice.PaymentDetails
	Amount       money.Money
	CreatedBy    string
}

// Canceled event. Consumed is the part already applied to invoices; Remaining
// is the unconsumed part whose granted credit must be clawed back.
type Canceled struct {
	DepositID    uuid.UUID
	CustomerCode string
	Consumed     money.Money
	Remaining    money.Money
	CanceledBy   string
}

// RemainingUpdated event carries the previous and new values for audit.
type RemainingUpdated struct {
	DepositID    uuid.UUID
	CustomerCode string
	Previous     money.Money
	Current      money.Money
}

// New validates and builds a deposit with remaining initialized to the full
// amount.
func New(customerCode string, details invoice.PaymentDetails, amount money.Money, createdBy string) (*Deposit, Made, error) {
	if customerCode == "" {
		return nil, Made{}, shared.Validationf("deposit requires a customer code")
	}
	if details == nil {
		return nil, Made{}, shared.Validationf("deposit requires payment details")
	}
	if err := details.Validate(); err != nil {
		return nil, Made{}, err
	}
	if !amount.IsPositive() {
		return nil, Made{}, shared.Validationf("deposit amount must be positive, got %s", amount)
	}
	if createdBy == "" {
		return nil, Made{}, shared.Validationf("deposit requires a creator")
	}

	now := time.Now()
	d := &Deposit{
		ID:           uuid.New(),
		CustomerCode: customerCode,
		Method:       details.Method(),
		Details:      details,
		Amount:       amount,
		Remaining:    amount,
		CreatedBy:    createdBy,
		Status:       StatusActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	return d, Made{
		DepositID:    d.ID,
		CustomerCode: d.CustomerCode,
		Method:       d.Method,
		Details:      d.Details,
		Amount:       d.Amount,
		CreatedBy:    d.CreatedBy,
	}, nil
}

// Cancel flips the deposit to CANCELED. Downstream handlers cancel every
// payment created from it and reverse the credit its unconsumed remainder
// granted.
func (d *Deposit) Cancel(canceledBy string) (Canceled, error) {
	if d.Status == StatusCanceled {
		return Canceled{}, shared.Rulef("deposit %s: already canceled", d.ID)
	}
	if canceledBy == "" {
		return Canceled{}, shared.Validationf("deposit cancellation requires a canceler")
	}
	consumed, err := d.Amount.Sub(d.Remaining)
	if err != nil {
		return Canceled{}, err
	}
	d.Status = StatusCanceled
	d.CanceledBy = canceledBy
	d.UpdatedAt = time.Now()
	return Canceled{
		DepositID:    d.ID,
		CustomerCode: d.CustomerCode,
		Consumed:     consumed,
		Remaining:    d.Remaining,
		CanceledBy:   canceledBy,
	}, nil
}

// UpdateRemaining records how much of the deposit is still unconsumed.
func (d *Deposit) UpdateRemaining(newRemaining money.Money) (RemainingUpdated, error) {
	if newRemaining.IsNegative() {
		return RemainingUpdated{}, shared.Validationf("deposit %s: remaining cannot be negative, got %s", d.ID, newRemaining)
	}
	if d.Amount.Less(newRemaining) {
		return RemainingUpdated{}, shared.Rulef("deposit %s: remaining %s exceeds amount %s", d.ID, newRemaining, d.Amount)
	}
	previous := d.Remaining
	d.Remaining = newRemaining
	d.UpdatedAt = time.Now()
	return RemainingUpdated{
		DepositID:    d.ID,
		CustomerCode: d.CustomerCode,
		Previous:     previous,
		Current:      newRemaining,
	}, nil
}
