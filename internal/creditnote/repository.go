package creditnote

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-erp/meridian-erp/internal/money"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// Repository provides PostgreSQL backed persistence for credit notes.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Create inserts a credit note and its items. Credit notes are never updated.
func (r *Repository) Create(ctx context.Context, cn *CreditNote) error {
	const note = `
		INSERT INTO credit_notes (id, customer_code, created_by, observation, total_cents, currency, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	if _, err := r.pool.Exec(ctx, note, cn.ID, cn.CustomerCode, cn.CreatedBy,
		cn.Observation, cn.Total.Cents(), string(cn.Total.Currency()), cn.CreatedAt); err != nil {
		return fmt.Errorf("creditnote: insert %s: %w", cn.ID, err)
	}

	const item = `
		INSERT INTO credit_note_items (credit_note_id, product_code, returned, price_cents, currency)
		VALUES ($1, $2, $3, $4, $5)`

	for _, it := range cn.Items {
		if _, err := r.pool.Exec(ctx, item, cn.ID, it.ProductCode, it.Returned,
			it.Price.Cents(), string(it.Price.Currency())); err != nil {
			return fmt.Errorf("creditnote: insert item %s: %w", it.ProductCode, err)
		}
	}
	return nil
}

// CatalogPricer resolves unit prices from the synced product price list. The
// catalog itself is maintained by an external system; this table is a read
// model.
type CatalogPricer struct {
	pool *pgxpool.Pool
}

// NewCatalogPricer constructs a pricer over the product_prices table.
func NewCatalogPricer(pool *pgxpool.Pool) *CatalogPricer {
	return &CatalogPricer{pool: pool}
}

// Price implements ProductPricer.
func (p *CatalogPricer) Price(ctx context.Context, productCode string) (money.Money, error) {
	const q = `SELECT price_cents, currency FROM product_prices WHERE product_code = $1`
	var (
		cents    int64
		currency string
	)
	if err := p.pool.QueryRow(ctx, q, productCode).Scan(&cents, &currency); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return money.Money{}, fmt.Errorf("product %s: %w", productCode, shared.ErrNotFound)
		}
		return money.Money{}, fmt.Errorf("creditnote: price %s: %w", productCode, err)
	}
	return money.FromCents(cents, money.Currency(currency)), nil
}
