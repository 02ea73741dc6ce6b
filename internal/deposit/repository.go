package deposit

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-erp/meridian-erp/internal/invoice"
	"github.com/meridian-erp/meridian-erp/internal/money"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// Repository provides PostgreSQL backed persistence for deposits.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Get loads a deposit by id.
func (r *Repository) Get(ctx context.Context, id uuid.UUID) (*Deposit, error) {
	const query = `
		SELECT id, customer_code, method, details, amount_cents, remaining_cents, currency,
		       created_by, COALESCE(canceled_by, ''), status, created_at, updated_at
		FROM deposits
		WHERE id = $1`

	var (
		d                 Deposit
		raw               []byte
		amount, remaining int64
		currency          string
	)
	err := r.pool.QueryRow(ctx, query, id).Scan(&d.ID, &d.CustomerCode, &d.Method, &raw,
		&amount, &remaining, &currency, &d.CreatedBy, &d.CanceledBy, &d.Status, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("deposit %s: %w", id, shared.ErrNotFound)
		}
		return nil, fmt.Errorf("deposit: get %s: %w", id, err)
	}
	d.Amount = money.FromCents(amount, money.Currency(currency))
	d.Remaining = money.FromCents(remaining, money.Currency(currency))
	if d.Details, err = invoice.DecodeDetails(d.Method, raw); err != nil {
		return nil, err
	}
	return &d, nil
}

// Create inserts a new deposit.
func (r *Repository) Create(ctx context.Context, d *Deposit) error {
	raw, err := invoice.EncodeDetails(d.Details)
	if err != nil {
		return err
	}
	const query = `
		INSERT INTO deposits (id, customer_code, method, details, amount_cents, remaining_cents, currency, created_by, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	_, err = r.pool.Exec(ctx, query, d.ID, d.CustomerCode, d.Method, raw,
		d.Amount.Cents(), d.Remaining.Cents(), string(d.Amount.Currency()),
		d.CreatedBy, d.Status, d.CreatedAt, d.UpdatedAt)
	if err != nil {
		return fmt.Errorf("deposit: insert %s: %w", d.ID, err)
	}
	return nil
}

// Save updates a deposit's mutable fields.
func (r *Repository) Save(ctx context.Context, d *Deposit) error {
	const query = `
		UPDATE deposits
		SET remaining_cents = $2, status = $3, canceled_by = NULLIF($4, ''), updated_at = $5
		WHERE id = $1`

	tag, err := r.pool.Exec(ctx, query, d.ID, d.Remaining.Cents(), d.Status, d.CanceledBy, d.UpdatedAt)
	if err != nil {
		return fmt.Errorf("deposit: save %s: %w", d.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("deposit %s: %w", d.ID, shared.ErrNotFound)
	}
	return nil
}
