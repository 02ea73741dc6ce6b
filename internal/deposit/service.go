package deposit

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/meridian-erp/meridian-erp/internal/bus"
	"github.com/meridian-erp/meridian-erp/internal/invoice"
	"github.com/meridian-erp/meridian-erp/internal/money"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// EnterDeposit command.
type EnterDeposit struct {
	CustomerCode string
	Details      invoice.PaymentDetails
	Amount       money.Money
	CreatedBy    string
}

// CancelDeposit command.
type CancelDeposit struct {
	DepositID  uuid.UUID
	CanceledBy string
}

// UpdateRemaining command, issued by the billing orchestrator after an
// allocation consumes part of the deposit.
type UpdateRemaining struct {
	DepositID uuid.UUID
	Remaining money.Money
}

// RepositoryPort defines data access for deposits.
type RepositoryPort interface {
	Get(ctx context.Context, id uuid.UUID) (*Deposit, error)
	Create(ctx context.Context, d *Deposit) error
	Save(ctx context.Context, d *Deposit) error
}

// CustomerDirectory is the customer existence lookup collaborator.
type CustomerDirectory interface {
	Exists(ctx context.Context, code string) (bool, error)
}

// Service handles deposit commands.
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
	bus.Handle(s.bus, s.HandleEnterDeposit)
	bus.Handle(s.bus, s.HandleCancelDeposit)
	bus.Handle(s.bus, s.HandleUpdateRemaining)
}

// HandleEnterDeposit records a customer cash inflow and publishes Made, which
// triggers allocation.
func (s *Service) HandleEnterDeposit(ctx context.Context, cmd EnterDeposit) error {
	_, err := s.Enter(ctx, cmd)
	return err
}

// Enter records a customer cash inflow and returns the stored deposit. By the
// time this returns, the allocation chain has already run, so Remaining
// reflects what outstanding debt did not consume.
func (s *Service) Enter(ctx context.Context, cmd EnterDeposit) (*Deposit, error) {
	ok, err := s.customers.Exists(ctx, cmd.CustomerCode)
	if err != nil {
		return nil, fmt.Errorf("deposit: lookup customer %s: %w", cmd.CustomerCode, err)
	}
	if !ok {
		return nil, fmt.Errorf("customer %s: %w", cmd.CustomerCode, shared.ErrNotFound)
	}

	d, made, err := New(cmd.CustomerCode, cmd.Details, cmd.Amount, cmd.CreatedBy)
	if err != nil {
		return nil, err
	}
	if err := s.repo.Create(ctx, d); err != nil {
		return nil, fmt.Errorf("deposit: create for %s: %w", cmd.CustomerCode, err)
	}
	s.logger.Info("deposit made",
		slog.String("deposit", d.ID.String()),
		slog.String("customer", d.CustomerCode),
		slog.String("amount", d.Amount.String()))
	if err := s.bus.Publish(ctx, made); err != nil {
		return nil, err
	}
	return s.repo.Get(ctx, d.ID)
}

// Find loads one deposit.
func (s *Service) Find(ctx context.Context, id uuid.UUID) (*Deposit, error) {
	return s.repo.Get(ctx, id)
}

// HandleCancelDeposit cancels a deposit and publishes Canceled, which cancels
// the payments it funded and reverses its granted credit.
func (s *Service) HandleCancelDeposit(ctx context.Context, cmd CancelDeposit) error {
	d, err := s.repo.Get(ctx, cmd.DepositID)
	if err != nil {
		return fmt.Errorf("deposit: load %s: %w", cmd.DepositID, err)
	}
	evt, err := d.Cancel(cmd.CanceledBy)
	if err != nil {
		return err
	}
	if err := s.repo.Save(ctx, d); err != nil {
		return fmt.Errorf("deposit: save %s: %w", d.ID, err)
	}
	s.logger.Info("deposit canceled",
		slog.String("deposit", d.ID.String()),
		slog.String("consumed", evt.Consumed.String()),
		slog.String("remaining", evt.Remaining.String()))
	return s.bus.Publish(ctx, evt)
}

// HandleUpdateRemaining records the unconsumed balance after allocation.
func (s *Service) HandleUpdateRemaining(ctx context.Context, cmd UpdateRemaining) error {
	d, err := s.repo.Get(ctx, cmd.DepositID)
	if err != nil {
		return fmt.Errorf("deposit: load %s: %w", cmd.DepositID, err)
	}
	evt, err := d.UpdateRemaining(cmd.Remaining)
	if err != nil {
		return err
	}
	if err := s.repo.Save(ctx, d); err != nil {
		return fmt.Errorf("deposit: save %s: %w", d.ID, err)
	}
	s.logger.Info("deposit remaining updated",
		slog.String("deposit", d.ID.String()),
		slog.String("previous", evt.Previous.String()),
		slog.String("current", evt.Current.String()))
	return s.bus.Publish(ctx, evt)
}
