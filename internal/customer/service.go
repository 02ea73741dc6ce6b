package customer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/meridian-erp/meridian-erp/internal/bus"
	"github.com/meridian-erp/meridian-erp/internal/money"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

func isNotFound(err error) bool {
	return errors.Is(err, shared.ErrNotFound)
}

// IncreaseBalance command.
type IncreaseBalance struct {
	CustomerCode string
	Amount       money.Money
}

// DecreaseBalance command.
type DecreaseBalance struct {
	CustomerCode string
	Amount       money.Money
}

// RepositoryPort defines data access for customers.
type RepositoryPort interface {
	Get(ctx context.Context, code string) (*Customer, error)
	Save(ctx context.Context, c *Customer) error
}

// Service handles customer balance commands.
type Service struct {
	repo   RepositoryPort
	bus    *bus.Bus
	logger *slog.Logger
}

// NewService builds a Service instance.
func NewService(repo RepositoryPort, b *bus.Bus, logger *slog.Logger) *Service {
	return &Service{repo: repo, bus: b, logger: logger}
}

// Register binds command handlers on the bus.
func (s *Service) Register() {
	bus.Handle(s.bus, s.HandleIncreaseBalance)
	bus.Handle(s.bus, s.HandleDecreaseBalance)
}

// Exists reports whether the customer code refers to a known customer. Used
// by command validation in other modules.
func (s *Service) Exists(ctx context.Context, code string) (bool, error) {
	if _, err := s.repo.Get(ctx, code); err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Balance returns the customer's current credit balance.
func (s *Service) Balance(ctx context.Context, code string) (money.Money, error) {
	c, err := s.repo.Get(ctx, code)
	if err != nil {
		return money.Money{}, err
	}
	return c.Balance, nil
}

// HandleIncreaseBalance applies an IncreaseBalance command.
func (s *Service) HandleIncreaseBalance(ctx context.Context, cmd IncreaseBalance) error {
	c, err := s.repo.Get(ctx, cmd.CustomerCode)
	if err != nil {
		return fmt.Errorf("customer: load %s: %w", cmd.CustomerCode, err)
	}
	evt, err := c.IncreaseBalance(cmd.Amount)
	if err != nil {
		return err
	}
	if err := s.repo.Save(ctx, c); err != nil {
		return fmt.Errorf("customer: save %s: %w", cmd.CustomerCode, err)
	}
	s.logger.Info("balance increased",
		slog.String("customer", cmd.CustomerCode),
		slog.String("delta", cmd.Amount.String()),
		slog.String("balance", c.Balance.String()))
	return s.bus.Publish(ctx, evt)
}

// HandleDecreaseBalance applies a DecreaseBalance command.
func (s *Service) HandleDecreaseBalance(ctx context.Context, cmd DecreaseBalance) error {
	c, err := s.repo.Get(ctx, cmd.CustomerCode)
	if err != nil {
		return fmt.Errorf("customer: load %s: %w", cmd.CustomerCode, err)
	}
	evt, err := c.DecreaseBalance(cmd.Amount)
	if err != nil {
		return err
	}
	if err := s.repo.Save(ctx, c); err != nil {
		return fmt.Errorf("customer: save %s: %w", cmd.CustomerCode, err)
	}
	s.logger.Info("balance reduced",
		slog.String("customer", cmd.CustomerCode),
		slog.String("delta", cmd.Amount.String()),
		slog.String("balance", c.Balance.String()))
	return s.bus.Publish(ctx, evt)
}
