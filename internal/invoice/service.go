package invoice

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/meridian-erp/meridian-erp/internal/bus"
	"github.com/meridian-erp/meridian-erp/internal/money"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// LineItem is one billed order line.
type LineItem struct {
	ProductCode string
	Quantity    int64
	UnitPrice   money.Money
}

// GenerateInvoice command. The total is computed from the items; the billing
// orchestrator may pre-settle the new invoice from the customer's balance.
type GenerateInvoice struct {
	CustomerCode string
	OrderID      string
	DueDate      time.Time
	Items        []LineItem
}

// AddPayment command.
type AddPayment struct {
	InvoiceID uuid.UUID
	Details   PaymentDetails
	Amount    money.Money
	CreatedBy string
}

// CancelPayment command.
type CancelPayment struct {
	PaymentID  uuid.UUID
	CanceledBy string
}

// ReducePaymentAmount command, a partial reversal.
type ReducePaymentAmount struct {
	PaymentID uuid.UUID
	Reduction money.Money
}

// DueInvoice command, issued by the daily scan for PENDING invoices whose due
// date has passed.
type DueInvoice struct {
	InvoiceID uuid.UUID
}

// DueReminder is one invoice due today, shaped for the notification batch.
type DueReminder struct {
	InvoiceID    uuid.UUID
	CustomerCode string
	OrderID      string
	Unpaid       money.Money
}

// RepositoryPort defines data access for invoices.
type RepositoryPort interface {
	Get(ctx context.Context, id uuid.UUID) (*Invoice, error)
	FindByPayment(ctx context.Context, paymentID uuid.UUID) (*Invoice, error)
	Create(ctx context.Context, inv *Invoice) error
	Save(ctx context.Context, inv *Invoice) error
	ListPendingPastDue(ctx context.Context, asOf time.Time) ([]uuid.UUID, error)
	ListDueOn(ctx context.Context, day time.Time) ([]DueReminder, error)
}

// CustomerDirectory is the customer existence lookup collaborator.
type CustomerDirectory interface {
	Exists(ctx context.Context, code string) (bool, error)
}

// Service handles invoice commands.
type Service struct {
	repo      RepositoryPort
	customers CustomerDirectory
	bus       *bus.Bus
	logger    *slog.Logger
}

// NewService builds a Service instance.
func NewService(repo RepositoryPort, customers CustomerDirectory, b *bus.Bus, logger *slog.Logger) *Service {
	return &Service{repo: repo, customers: customers, bus: b, logger: logger}
}

// Register binds command handlers on the bus.
func (s *Service) Register() {
	bus.Handle(s.bus, s.HandleGenerateInvoice)
	bus.Handle(s.bus, s.HandleAddPayment)
	bus.Handle(s.bus, s.HandleCancelPayment)
	bus.Handle(s.bus, s.HandleReducePaymentAmount)
	bus.Handle(s.bus, s.HandleDueInvoice)
}

// HandleGenerateInvoice creates an invoice from a placed order.
func (s *Service) HandleGenerateInvoice(ctx context.Context, cmd GenerateInvoice) error {
	_, err := s.Generate(ctx, cmd)
	return err
}

// Generate creates an invoice from a placed order and returns it. The HTTP
// layer calls this directly to echo the created resource back.
func (s *Service) Generate(ctx context.Context, cmd GenerateInvoice) (*Invoice, error) {
	if len(cmd.Items) == 0 {
		return nil, shared.Validationf("invoice requires at least one item")
	}
	ok, err := s.customers.Exists(ctx, cmd.CustomerCode)
	if err != nil {
		return nil, fmt.Errorf("invoice: lookup customer %s: %w", cmd.CustomerCode, err)
	}
	if !ok {
		return nil, fmt.Errorf("customer %s: %w", cmd.CustomerCode, shared.ErrNotFound)
	}

	total := money.Zero(cmd.Items[0].UnitPrice.Currency())
	for _, item := range cmd.Items {
		if item.Quantity <= 0 {
			return nil, shared.Validationf("item %s: quantity must be positive", item.ProductCode)
		}
		if !item.UnitPrice.IsPositive() {
			return nil, shared.Validationf("item %s: unit price must be positive", item.ProductCode)
		}
		line := money.FromCents(item.UnitPrice.Cents()*item.Quantity, item.UnitPrice.Currency())
		if total, err = total.Add(line); err != nil {
			return nil, err
		}
	}

	inv, events, err := New(NewInvoiceInput{
		CustomerCode: cmd.CustomerCode,
		OrderID:      cmd.OrderID,
		Total:        total,
		DueDate:      cmd.DueDate,
	})
	if err != nil {
		return nil, err
	}
	if err := s.repo.Create(ctx, inv); err != nil {
		return nil, fmt.Errorf("invoice: create for order %s: %w", cmd.OrderID, err)
	}
	s.logger.Info("invoice generated",
		slog.String("invoice", inv.ID.String()),
		slog.String("customer", inv.CustomerCode),
		slog.String("order", inv.OrderID),
		slog.String("total", inv.Total.String()))
	if err := s.bus.PublishAll(ctx, events); err != nil {
		return nil, err
	}
	return inv, nil
}

// Find loads one invoice with its payments.
func (s *Service) Find(ctx context.Context, id uuid.UUID) (*Invoice, error) {
	return s.repo.Get(ctx, id)
}

// HandleAddPayment appends a payment to an invoice.
func (s *Service) HandleAddPayment(ctx context.Context, cmd AddPayment) error {
	inv, err := s.repo.Get(ctx, cmd.InvoiceID)
	if err != nil {
		return fmt.Errorf("invoice: load %s: %w", cmd.InvoiceID, err)
	}
	evt, err := inv.AppendPayment(PaymentInput{
		Details:   cmd.Details,
		Amount:    cmd.Amount,
		CreatedBy: cmd.CreatedBy,
	})
	if err != nil {
		return err
	}
	if err := s.repo.Save(ctx, inv); err != nil {
		return fmt.Errorf("invoice: save %s: %w", inv.ID, err)
	}
	s.logger.Info("payment appended",
		slog.String("invoice", inv.ID.String()),
		slog.String("payment", evt.PaymentID.String()),
		slog.String("method", string(evt.Method)),
		slog.String("amount", evt.Amount.String()),
		slog.String("status", string(inv.Status)))
	return s.bus.Publish(ctx, evt)
}

// HandleCancelPayment cancels a payment; downstream handlers claw back any
// credit it produced.
func (s *Service) HandleCancelPayment(ctx context.Context, cmd CancelPayment) error {
	inv, err := s.repo.FindByPayment(ctx, cmd.PaymentID)
	if err != nil {
		return fmt.Errorf("invoice: find by payment %s: %w", cmd.PaymentID, err)
	}
	evt, err := inv.CancelPayment(cmd.PaymentID, cmd.CanceledBy)
	if err != nil {
		return err
	}
	if err := s.repo.Save(ctx, inv); err != nil {
		return fmt.Errorf("invoice: save %s: %w", inv.ID, err)
	}
	s.logger.Info("payment canceled",
		slog.String("invoice", inv.ID.String()),
		slog.String("payment", cmd.PaymentID.String()),
		slog.String("freed", evt.Freed.String()),
		slog.String("status", string(inv.Status)))
	return s.bus.Publish(ctx, evt)
}

// HandleReducePaymentAmount applies a partial reversal to a payment.
func (s *Service) HandleReducePaymentAmount(ctx context.Context, cmd ReducePaymentAmount) error {
	inv, err := s.repo.FindByPayment(ctx, cmd.PaymentID)
	if err != nil {
		return fmt.Errorf("invoice: find by payment %s: %w", cmd.PaymentID, err)
	}
	evt, err := inv.ReducePaymentAmount(cmd.PaymentID, cmd.Reduction)
	if err != nil {
		return err
	}
	if err := s.repo.Save(ctx, inv); err != nil {
		return fmt.Errorf("invoice: save %s: %w", inv.ID, err)
	}
	s.logger.Info("payment amount reduced",
		slog.String("invoice", inv.ID.String()),
		slog.String("payment", cmd.PaymentID.String()),
		slog.String("reduction", cmd.Reduction.String()),
		slog.Bool("status_changed", evt.StatusChanged))
	return s.bus.Publish(ctx, evt)
}

// HandleDueInvoice transitions a pending invoice to OVERDUE.
func (s *Service) HandleDueInvoice(ctx context.Context, cmd DueInvoice) error {
	inv, err := s.repo.Get(ctx, cmd.InvoiceID)
	if err != nil {
		return fmt.Errorf("invoice: load %s: %w", cmd.InvoiceID, err)
	}
	evt, err := inv.Due(time.Now())
	if err != nil {
		return err
	}
	if err := s.repo.Save(ctx, inv); err != nil {
		return fmt.Errorf("invoice: save %s: %w", inv.ID, err)
	}
	s.logger.Info("invoice overdue",
		slog.String("invoice", inv.ID.String()),
		slog.String("unpaid", evt.Unpaid.String()))
	return s.bus.Publish(ctx, evt)
}

// PendingPastDue lists invoices the daily scan must transition.
func (s *Service) PendingPastDue(ctx context.Context, asOf time.Time) ([]uuid.UUID, error) {
	return s.repo.ListPendingPastDue(ctx, asOf)
}

// DueToday lists reminders for invoices whose due date is the given day.
func (s *Service) DueToday(ctx context.Context, day time.Time) ([]DueReminder, error) {
	return s.repo.ListDueOn(ctx, day)
}
