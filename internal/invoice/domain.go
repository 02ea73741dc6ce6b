// Package invoice implements the Invoice aggregate: a billable total tied to
// a sale order, tracking payments against it until fully settled or marked
// overdue. An invoice exclusively owns its payments; deposited always equals
// the sum of its active payment amounts and never exceeds the total.
package invoice

import (
	"time"

	"github.com/google/uuid"

	"github.com/meridian-erp/meridian-erp/internal/money"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// Status enumerates invoice statuses.
type Status string

const (
	StatusPending Status = "PENDING"
	StatusPaid    Status = "PAID"
	StatusOverdue Status = "OVERDUE"
)

// PaymentStatus enumerates payment statuses.
type PaymentStatus string

const (
	PaymentActive   PaymentStatus = "ACTIVE"
	PaymentCanceled PaymentStatus = "CANCELED"
)

// Payment is one unit of money applied to an invoice. Canceled payments are
// immutable except for the cancel transition itself.
type Payment struct {
	ID         uuid.UUID
	Method     Method
	Details    PaymentDetails
	Amount     money.Money
	CreatedBy  string
	CanceledBy string
	Status     PaymentStatus
	// DepositID links payments created by allocating a deposit, so canceling
	// the deposit can cancel them.
	DepositID *uuid.UUID
	CreatedAt time.Time
}

// Invoice aggregate.
type Invoice struct {
	ID           uuid.UUID
	CustomerCode string
	OrderID      string
	Total        money.Money
	Deposited    money.Money
	DueDate      time.Time
	Status       Status
	Payments     []Payment
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Generated event, emitted for brand-new invoices.
type Generated struct {
	InvoiceID    uuid.UUID
	CustomerCode string
	OrderID      string
	Total        money.Money
	Deposited    money.Money
	DueDate      time.Time
}

// Dued event carries the still-unpaid amount at the moment of the
// PENDING -> OVERDUE transition.
type Dued struct {
	InvoiceID    uuid.UUID
	CustomerCode string
	Unpaid       money.Money
}

// PaymentAppended event. Leftover is the portion of the caller's tendered
// amount beyond what this invoice needed; the billing orchestrator sets it on
// the final payment of an allocation walk.
type PaymentAppended struct {
	InvoiceID    uuid.UUID
	CustomerCode string
	PaymentID    uuid.UUID
	Method       Method
	Amount       money.Money
	Deposited    money.Money
	Status       Status
	Leftover     money.Money
}

// PaymentCanceledEvent carries the payment's now-freed amount and the
// invoice's new status. Reversal marks cancellations performed by the billing
// orchestrator while clawing credit back, which must not re-grant credit.
type PaymentCanceledEvent struct {
	InvoiceID    uuid.UUID
	CustomerCode string
	PaymentID    uuid.UUID
	Method       Method
	Freed        money.Money
	Status       Status
	CanceledBy   string
	DepositID    *uuid.UUID
	Reversal     bool
}

// PaymentAmountReduced event. StatusChanged flags transitions caused by the
// reduction (a PAID invoice losing money goes back to PENDING and needs the
// shortfall re-applied elsewhere).
type PaymentAmountReduced struct {
	InvoiceID     uuid.UUID
	CustomerCode  string
	PaymentID     uuid.UUID
	Method        Method
	Reduction     money.Money
	NewAmount     money.Money
	Deposited     money.Money
	Status        Status
	StatusChanged bool
	Reversal      bool
}

// PaymentInput describes a payment to append.
type PaymentInput struct {
	Details   PaymentDetails
	Amount    money.Money
	CreatedBy string
	DepositID *uuid.UUID
	// Leftover is reported on the emitted event only; the invoice itself
	// never holds more than its total.
	Leftover money.Money
}

// NewInvoiceInput describes an invoice to create.
type NewInvoiceInput struct {
	// ID is supplied when rehydrating an externally numbered invoice; a nil
	// ID means brand-new and triggers a Generated event.
	ID              *uuid.UUID
	CustomerCode    string
	OrderID         string
	Total           money.Money
	DueDate         time.Time
	InitialPayments []PaymentInput
}

// New validates the input and builds the aggregate, initializing deposited
// from the initial payments. The Generated event is emitted only for
// brand-new invoices.
func New(in NewInvoiceInput) (*Invoice, []any, error) {
	if in.CustomerCode == "" {
		return nil, nil, shared.Validationf("invoice requires a customer code")
	}
	if in.OrderID == "" {
		return nil, nil, shared.Validationf("invoice requires an order id")
	}
	if !in.Total.IsPositive() {
		return nil, nil, shared.Validationf("invoice total must be positive, got %s", in.Total)
	}
	if in.DueDate.IsZero() {
		return nil, nil, shared.Validationf("invoice requires a due date")
	}

	now := time.Now()
	inv := &Invoice{
		CustomerCode: in.CustomerCode,
		OrderID:      in.OrderID,
		Total:        in.Total,
		Deposited:    money.Zero(in.Total.Currency()),
		DueDate:      in.DueDate,
		Status:       StatusPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	brandNew := in.ID == nil
	if brandNew {
		inv.ID = uuid.New()
	} else {
		inv.ID = *in.ID
	}

	var events []any
	for _, p := range in.InitialPayments {
		evt, err := inv.AppendPayment(p)
		if err != nil {
			return nil, nil, err
		}
		events = append(events, evt)
	}
	if brandNew {
		events = append([]any{Generated{
			InvoiceID:    inv.ID,
			CustomerCode: inv.CustomerCode,
			OrderID:      inv.OrderID,
			Total:        inv.Total,
			Deposited:    inv.Deposited,
			DueDate:      inv.DueDate,
		}}, events...)
	}
	return inv, events, nil
}

// Owed returns the still-unpaid amount.
func (i *Invoice) Owed() money.Money {
	return i.Total.MustSub(i.Deposited)
}

// Due transitions PENDING -> OVERDUE once the due date has passed.
func (i *Invoice) Due(now time.Time) (Dued, error) {
	switch i.Status {
	case StatusPaid:
		return Dued{}, shared.Rulef("invoice %s: already paid", i.ID)
	case StatusOverdue:
		return Dued{}, shared.Rulef("invoice %s: already overdue", i.ID)
	}
	if i.DueDate.After(now) {
		return Dued{}, shared.Rulef("invoice %s: due date %s has not passed yet", i.ID, i.DueDate.Format(time.DateOnly))
	}
	i.Status = StatusOverdue
	i.UpdatedAt = now
	return Dued{InvoiceID: i.ID, CustomerCode: i.CustomerCode, Unpaid: i.Owed()}, nil
}

// AppendPayment adds an active payment, increasing deposited and recomputing
// status. Overpaying a single invoice is rejected; spreading money across
// invoices is the billing orchestrator's job.
func (i *Invoice) AppendPayment(in PaymentInput) (PaymentAppended, error) {
	if in.Details == nil {
		return PaymentAppended{}, shared.Validationf("payment details required")
	}
	if err := in.Details.Validate(); err != nil {
		return PaymentAppended{}, err
	}
	if !in.Amount.IsPositive() {
		return PaymentAppended{}, shared.Validationf("payment amount must be positive, got %s", in.Amount)
	}
	if in.CreatedBy == "" {
		return PaymentAppended{}, shared.Validationf("payment requires a creator")
	}
	if i.Status == StatusPaid {
		return PaymentAppended{}, shared.Rulef("invoice %s: already paid", i.ID)
	}

	deposited, err := i.Deposited.Add(in.Amount)
	if err != nil {
		return PaymentAppended{}, err
	}
	if i.Total.Less(deposited) {
		overage := deposited.MustSub(i.Total)
		return PaymentAppended{}, shared.Rulef(
			"invoice %s: payment of %s exceeds total by %s, remaining payable is %s",
			i.ID, in.Amount, overage, i.Owed())
	}

	p := Payment{
		ID:        uuid.New(),
		Method:    in.Details.Method(),
		Details:   in.Details,
		Amount:    in.Amount,
		CreatedBy: in.CreatedBy,
		Status:    PaymentActive,
		DepositID: in.DepositID,
		CreatedAt: time.Now(),
	}
	i.Payments = append(i.Payments, p)
	i.Deposited = deposited
	i.recomputeStatus()
	i.UpdatedAt = p.CreatedAt

	leftover := in.Leftover
	if leftover.Currency() == "" {
		leftover = money.Zero(i.Total.Currency())
	}
	return PaymentAppended{
		InvoiceID:    i.ID,
		CustomerCode: i.CustomerCode,
		PaymentID:    p.ID,
		Method:       p.Method,
		Amount:       p.Amount,
		Deposited:    i.Deposited,
		Status:       i.Status,
		Leftover:     leftover,
	}, nil
}

// CancelPayment marks the payment CANCELED and frees its amount.
func (i *Invoice) CancelPayment(paymentID uuid.UUID, canceledBy string) (PaymentCanceledEvent, error) {
	p := i.payment(paymentID)
	if p == nil {
		return PaymentCanceledEvent{}, shared.Validationf("invoice %s: payment %s: %s", i.ID, paymentID, shared.ErrNotFound)
	}
	if p.Status == PaymentCanceled {
		return PaymentCanceledEvent{}, shared.Rulef("invoice %s: payment %s already canceled", i.ID, paymentID)
	}
	if canceledBy == "" {
		return PaymentCanceledEvent{}, shared.Validationf("payment cancellation requires a canceler")
	}

	deposited, err := i.Deposited.Sub(p.Amount)
	if err != nil {
		return PaymentCanceledEvent{}, err
	}
	p.Status = PaymentCanceled
	p.CanceledBy = canceledBy
	i.Deposited = deposited
	i.recomputeStatus()
	i.UpdatedAt = time.Now()

	return PaymentCanceledEvent{
		InvoiceID:    i.ID,
		CustomerCode: i.CustomerCode,
		PaymentID:    p.ID,
		Method:       p.Method,
		Freed:        p.Amount,
		Status:       i.Status,
		CanceledBy:   canceledBy,
		DepositID:    p.DepositID,
	}, nil
}

// ReducePaymentAmount shrinks an active payment's amount and the invoice's
// deposited figure in lock-step. Reduction must lie in [0, payment amount].
func (i *Invoice) ReducePaymentAmount(paymentID uuid.UUID, reduction money.Money) (PaymentAmountReduced, error) {
	p := i.payment(paymentID)
	if p == nil {
		return PaymentAmountReduced{}, shared.Validationf("invoice %s: payment %s: %s", i.ID, paymentID, shared.ErrNotFound)
	}
	if p.Status == PaymentCanceled {
		return PaymentAmountReduced{}, shared.Rulef("invoice %s: payment %s is canceled", i.ID, paymentID)
	}
	if reduction.IsNegative() || p.Amount.Less(reduction) {
		return PaymentAmountReduced{}, shared.Rulef(
			"invoice %s: reduction %s outside [0, %s]", i.ID, reduction, p.Amount)
	}

	newAmount, err := p.Amount.Sub(reduction)
	if err != nil {
		return PaymentAmountReduced{}, err
	}
	deposited, err := i.Deposited.Sub(reduction)
	if err != nil {
		return PaymentAmountReduced{}, err
	}

	before := i.Status
	p.Amount = newAmount
	i.Deposited = deposited
	i.recomputeStatus()
	i.UpdatedAt = time.Now()

	return PaymentAmountReduced{
		InvoiceID:     i.ID,
		CustomerCode:  i.CustomerCode,
		PaymentID:     p.ID,
		Method:        p.Method,
		Reduction:     reduction,
		NewAmount:     newAmount,
		Deposited:     i.Deposited,
		Status:        i.Status,
		StatusChanged: before != i.Status,
	}, nil
}

// PaymentByID returns a copy of the payment with the given id.
func (i *Invoice) PaymentByID(id uuid.UUID) (Payment, bool) {
	if p := i.payment(id); p != nil {
		return *p, true
	}
	return Payment{}, false
}

func (i *Invoice) payment(id uuid.UUID) *Payment {
	for idx := range i.Payments {
		if i.Payments[idx].ID == id {
			return &i.Payments[idx]
		}
	}
	return nil
}

// recomputeStatus derives status from deposited. OVERDUE is sticky until the
// invoice is fully paid; PENDING is restored when a formerly PAID invoice
// loses money.
func (i *Invoice) recomputeStatus() {
	switch {
	case i.Deposited.Equal(i.Total):
		i.Status = StatusPaid
	case i.Status == StatusPaid:
		i.Status = StatusPending
	}
}
