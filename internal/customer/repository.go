package customer

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-erp/meridian-erp/internal/money"
	"github.com/meridian-erp/meridian-erp/internal/platform/db"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// Queries bundles the customer SQL over a Querier, so the billing
// orchestrator can run the same statements inside its settlement transaction.
type Queries struct {
	db db.Querier
}

// NewQueries constructs Queries over a pool or transaction.
func NewQueries(q db.Querier) *Queries {
	return &Queries{db: q}
}

// Repository provides PostgreSQL backed persistence for customers.
type Repository struct {
	*Queries
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{Queries: NewQueries(pool)}
}

// Get loads a customer by code.
func (q *Queries) Get(ctx context.Context, code string) (*Customer, error) {
	const query = `
		SELECT code, name, balance_cents, currency, created_at, updated_at
		FROM customers
		WHERE code = $1`

	var (
		c        Customer
		cents    int64
		currency string
	)
	err := q.db.QueryRow(ctx, query, code).Scan(&c.Code, &c.Name, &cents, &currency, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("customer %s: %w", code, shared.ErrNotFound)
		}
		return nil, fmt.Errorf("customer: get %s: %w", code, err)
	}
	c.Balance = money.FromCents(cents, money.Currency(currency))
	return &c, nil
}

// Save persists the customer's balance and appends a balance ledger row for
// auditing.
func (q *Queries) Save(ctx context.Context, c *Customer) error {
	const query = `
		UPDATE customers
		SET balance_cents = $2, currency = $3, updated_at = $4
		WHERE code = $1`

	tag, err := q.db.Exec(ctx, query, c.Code, c.Balance.Cents(), string(c.Balance.Currency()), c.UpdatedAt)
	if err != nil {
		return fmt.Errorf("customer: save %s: %w", c.Code, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("customer %s: %w", c.Code, shared.ErrNotFound)
	}

	const ledger = `
		INSERT INTO customer_balance_ledger (customer_code, balance_cents, currency, recorded_at)
		VALUES ($1, $2, $3, $4)`
	if _, err := q.db.Exec(ctx, ledger, c.Code, c.Balance.Cents(), string(c.Balance.Currency()), c.UpdatedAt); err != nil {
		return fmt.Errorf("customer: ledger %s: %w", c.Code, err)
	}
	return nil
}
