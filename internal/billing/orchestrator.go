// Package billing implements the settlement orchestrator: the only component
// that coordinates money across multiple invoices and the customer balance.
// Allocation distributes a lump sum over outstanding invoices oldest first;
// reversal claws previously granted credit back when its source is canceled.
package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/meridian-erp/meridian-erp/internal/bus"
	"github.com/meridian-erp/meridian-erp/internal/invoice"
	"github.com/meridian-erp/meridian-erp/internal/money"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// SystemActor stamps payments and cancellations performed by the orchestrator
// rather than a person.
const SystemActor = "system:billing"

// PaymentInfo describes how the payments created by an allocation are
// stamped.
type PaymentInfo struct {
	Details   invoice.PaymentDetails
	CreatedBy string
	DepositID *uuid.UUID
}

// Orchestrator runs allocation and reversal. Every call takes the customer's
// settlement lock and an explicit deadline, and executes its mutations inside
// a single store transaction.
type Orchestrator struct {
	store   Store
	locks   *shared.CustomerLocks
	bus     *bus.Bus
	logger  *slog.Logger
	timeout time.Duration
}

// NewOrchestrator builds an Orchestrator.
func NewOrchestrator(store Store, locks *shared.CustomerLocks, b *bus.Bus, logger *slog.Logger, timeout time.Duration) *Orchestrator {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Orchestrator{store: store, locks: locks, bus: b, logger: logger, timeout: timeout}
}

// Allocate walks the customer's PENDING and OVERDUE invoices oldest first,
// paying each invoice's outstanding amount until the money runs out. The
// returned remainder is whatever could not be applied; callers convert a
// positive remainder into a customer-balance increase. Conservation holds:
// amount == sum of applied payments + remainder.
func (o *Orchestrator) Allocate(ctx context.Context, customerCode string, amount money.Money, info PaymentInfo) (money.Money, error) {
	if amount.IsNegative() {
		return money.Money{}, shared.Validationf("allocation amount cannot be negative, got %s", amount)
	}
	if amount.IsZero() {
		return amount, nil
	}
	if info.Details == nil {
		return money.Money{}, shared.Validationf("allocation requires payment details")
	}

	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()
	ctx, release, err := o.locks.Acquire(ctx, customerCode)
	if err != nil {
		return money.Money{}, err
	}
	defer release()

	remainder := amount
	var events []any
	err = o.store.InTx(ctx, func(s Store) error {
		invoices, err := s.OpenInvoices(ctx, customerCode)
		if err != nil {
			return err
		}
		for _, inv := range invoices {
			if !remainder.IsPositive() {
				break
			}
			apply, err := money.Min(remainder, inv.Owed())
			if err != nil {
				return err
			}
			evt, err := inv.AppendPayment(invoice.PaymentInput{
				Details:   info.Details,
				Amount:    apply,
				CreatedBy: info.CreatedBy,
				DepositID: info.DepositID,
			})
			if err != nil {
				return err
			}
			if err := s.SaveInvoice(ctx, inv); err != nil {
				return err
			}
			remainder = remainder.MustSub(apply)
			events = append(events, evt)
		}
		// The last payment of the walk reports the money tendered beyond what
		// any invoice needed.
		if remainder.IsPositive() && len(events) > 0 {
			last := events[len(events)-1].(invoice.PaymentAppended)
			last.Leftover = remainder
			events[len(events)-1] = last
		}
		return nil
	})
	if err != nil {
		return money.Money{}, fmt.Errorf("billing: allocate %s for %s: %w", amount, customerCode, err)
	}

	o.logger.Info("allocation complete",
		slog.String("customer", customerCode),
		slog.String("amount", amount.String()),
		slog.Int("payments", len(events)),
		slog.String("remainder", remainder.String()))
	if err := o.bus.PublishAll(ctx, events); err != nil {
		return money.Money{}, err
	}
	return remainder, nil
}

// Reverse claws back previously granted credit after its source payment or
// deposit is canceled. The balance is drained first since it is cheaper to
// reverse than searching payments; then the customer's CUSTOMER_BALANCE
// payments are canceled or reduced, most recent first. Conservation holds:
// amount == balance drained + payment reductions + remainder.
//
// A positive remainder means the canceled money exceeded all reversible
// credit. What to do with it is an open product decision; it is reported and
// logged, nothing more.
func (o *Orchestrator) Reverse(ctx context.Context, customerCode string, amount money.Money, canceledBy string) (money.Money, error) {
	if amount.IsNegative() {
		return money.Money{}, shared.Validationf("reversal amount cannot be negative, got %s", amount)
	}
	if amount.IsZero() {
		return amount, nil
	}
	if canceledBy == "" {
		canceledBy = SystemActor
	}

	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()
	ctx, release, err := o.locks.Acquire(ctx, customerCode)
	if err != nil {
		return money.Money{}, err
	}
	defer release()

	remainder := amount
	var events []any
	err = o.store.InTx(ctx, func(s Store) error {
		cust, err := s.Customer(ctx, customerCode)
		if err != nil {
			return err
		}
		drain, err := money.Min(remainder, cust.Balance)
		if err != nil {
			return err
		}
		if drain.IsPositive() {
			evt, err := cust.DecreaseBalance(drain)
			if err != nil {
				return err
			}
			if err := s.SaveCustomer(ctx, cust); err != nil {
				return err
			}
			remainder = remainder.MustSub(drain)
			events = append(events, evt)
		}

		for remainder.IsPositive() {
			inv, paymentID, err := s.LatestBalancePayment(ctx, customerCode)
			if err != nil {
				if errors.Is(err, shared.ErrNotFound) {
					break
				}
				return err
			}
			pay, ok := inv.PaymentByID(paymentID)
			if !ok {
				return fmt.Errorf("billing: payment %s missing on invoice %s", paymentID, inv.ID)
			}
			if pay.Amount.Less(remainder) || pay.Amount.Equal(remainder) {
				evt, err := inv.CancelPayment(paymentID, canceledBy)
				if err != nil {
					return err
				}
				evt.Reversal = true
				remainder = remainder.MustSub(pay.Amount)
				events = append(events, evt)
			} else {
				evt, err := inv.ReducePaymentAmount(paymentID, remainder)
				if err != nil {
					return err
				}
				evt.Reversal = true
				remainder = money.Zero(remainder.Currency())
				events = append(events, evt)
			}
			if err := s.SaveInvoice(ctx, inv); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return money.Money{}, fmt.Errorf("billing: reverse %s for %s: %w", amount, customerCode, err)
	}

	if remainder.IsPositive() {
		o.logger.Warn("reversal remainder unresolved",
			slog.String("customer", customerCode),
			slog.String("requested", amount.String()),
			slog.String("unresolved", remainder.String()))
	} else {
		o.logger.Info("reversal complete",
			slog.String("customer", customerCode),
			slog.String("amount", amount.String()))
	}
	if err := o.bus.PublishAll(ctx, events); err != nil {
		return money.Money{}, err
	}
	return remainder, nil
}
