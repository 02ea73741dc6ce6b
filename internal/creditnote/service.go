package creditnote

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/meridian-erp/meridian-erp/internal/bus"
	"github.com/meridian-erp/meridian-erp/internal/money"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// ReturnedItem is one returned product in a MakeCreditNote command. The price
// is resolved through the product lookup collaborator.
type ReturnedItem struct {
	ProductCode string
	Returned    int64
}

// MakeCreditNote command.
type MakeCreditNote struct {
	CustomerCode string
	CreatedBy    string
	Observation  string
	Items        []ReturnedItem
}

// RepositoryPort defines data access for credit notes.
type RepositoryPort interface {
	Create(ctx context.Context, cn *CreditNote) error
}

// CustomerDirectory is the customer existence lookup collaborator.
type CustomerDirectory interface {
	Exists(ctx context.Context, code string) (bool, error)
}

// ProductPricer resolves the unit price of a product, an external
// product/stock collaborator.
type ProductPricer interface {
	Price(ctx context.Context, productCode string) (money.Money, error)
}

// Service handles credit note commands.
type Service struct {
	repo      RepositoryPort
	customers CustomerDirectory
	products  ProductPricer
	bus       *bus.Bus
	logger    *slog.Logger
}

// NewService builds a Service instance.
func NewService(repo RepositoryPort, customers CustomerDirectory, products ProductPricer, b *bus.Bus, logger *slog.Logger) *Service {
	return &Service{repo: repo, customers: customers, products: products, bus: b, logger: logger}
}

// Register binds command handlers on the bus.
func (s *Service) Register() {
	bus.Handle(s.bus, s.HandleMakeCreditNote)
}

// HandleMakeCreditNote prices the returned items, persists the credit note
// and publishes Made, which triggers allocation.
func (s *Service) HandleMakeCreditNote(ctx context.Context, cmd MakeCreditNote) error {
	_, err := s.Make(ctx, cmd)
	return err
}

// Make prices the returned items, persists the credit note and publishes
// Made. The HTTP layer calls this directly to echo the created resource back.
func (s *Service) Make(ctx context.Context, cmd MakeCreditNote) (*CreditNote, error) {
	ok, err := s.customers.Exists(ctx, cmd.CustomerCode)
	if err != nil {
		return nil, fmt.Errorf("creditnote: lookup customer %s: %w", cmd.CustomerCode, err)
	}
	if !ok {
		return nil, fmt.Errorf("customer %s: %w", cmd.CustomerCode, shared.ErrNotFound)
	}
	if len(cmd.Items) == 0 {
		return nil, shared.Validationf("credit note requires at least one item")
	}

	items := make([]Item, 0, len(cmd.Items))
	for _, it := range cmd.Items {
		price, err := s.products.Price(ctx, it.ProductCode)
		if err != nil {
			return nil, fmt.Errorf("creditnote: price product %s: %w", it.ProductCode, err)
		}
		items = append(items, Item{ProductCode: it.ProductCode, Returned: it.Returned, Price: price})
	}

	cn, made, err := New(cmd.CustomerCode, cmd.CreatedBy, cmd.Observation, items)
	if err != nil {
		return nil, err
	}
	if err := s.repo.Create(ctx, cn); err != nil {
		return nil, fmt.Errorf("creditnote: create for %s: %w", cmd.CustomerCode, err)
	}
	s.logger.Info("credit note made",
		slog.String("credit_note", cn.ID.String()),
		slog.String("customer", cn.CustomerCode),
		slog.String("total", cn.Total.String()))
	if err := s.bus.Publish(ctx, made); err != nil {
		return nil, err
	}
	return cn, nil
}
