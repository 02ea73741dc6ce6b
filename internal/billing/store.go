package billing

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-erp/meridian-erp/internal/customer"
	"github.com/meridian-erp/meridian-erp/internal/invoice"
	"github.com/meridian-erp/meridian-erp/internal/platform/db"
)

// Store is the persistence surface of the orchestrator. InTx runs a function
// against a transactional view of the same store, making one allocation or
// reversal a single persistence boundary.
type Store interface {
	OpenInvoices(ctx context.Context, customerCode string) ([]*invoice.Invoice, error)
	LatestBalancePayment(ctx context.Context, customerCode string) (*invoice.Invoice, uuid.UUID, error)
	SaveInvoice(ctx context.Context, inv *invoice.Invoice) error
	Customer(ctx context.Context, code string) (*customer.Customer, error)
	SaveCustomer(ctx context.Context, c *customer.Customer) error
	PaymentsByDeposit(ctx context.Context, depositID uuid.UUID) ([]uuid.UUID, error)
	InTx(ctx context.Context, fn func(Store) error) error
}

// PgStore implements Store over PostgreSQL.
type PgStore struct {
	pool      *pgxpool.Pool
	invoices  *invoice.Queries
	customers *customer.Queries
}

// NewPgStore constructs a store over the pool.
func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool, invoices: invoice.NewQueries(pool), customers: customer.NewQueries(pool)}
}

// OpenInvoices lists the customer's PENDING/OVERDUE invoices oldest first.
func (s *PgStore) OpenInvoices(ctx context.Context, customerCode string) ([]*invoice.Invoice, error) {
	return s.invoices.ListOpenByCustomer(ctx, customerCode)
}

// LatestBalancePayment finds the most recent active CUSTOMER_BALANCE payment.
func (s *PgStore) LatestBalancePayment(ctx context.Context, customerCode string) (*invoice.Invoice, uuid.UUID, error) {
	return s.invoices.FindLatestBalancePayment(ctx, customerCode)
}

// SaveInvoice persists an invoice mutated by the orchestrator.
func (s *PgStore) SaveInvoice(ctx context.Context, inv *invoice.Invoice) error {
	return s.invoices.Save(ctx, inv)
}

// PaymentsByDeposit lists active payments funded by the deposit.
func (s *PgStore) PaymentsByDeposit(ctx context.Context, depositID uuid.UUID) ([]uuid.UUID, error) {
	return s.invoices.ListByDeposit(ctx, depositID)
}

// Customer loads a customer row.
func (s *PgStore) Customer(ctx context.Context, code string) (*customer.Customer, error) {
	return s.customers.Get(ctx, code)
}

// SaveCustomer persists the balance and appends the audit ledger row.
func (s *PgStore) SaveCustomer(ctx context.Context, c *customer.Customer) error {
	return s.customers.Save(ctx, c)
}

// InTx runs fn against a transactional copy of the store.
func (s *PgStore) InTx(ctx context.Context, fn func(Store) error) error {
	return db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		return fn(&PgStore{
			pool:      s.pool,
			invoices:  invoice.NewQueries(tx),
			customers: customer.NewQueries(tx),
		})
	})
}
