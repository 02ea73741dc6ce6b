package invoice

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-erp/meridian-erp/internal/money"
	"github.com/meridian-erp/meridian-erp/internal/platform/db"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// Queries bundles the invoice SQL over a Querier, so the billing orchestrator
// can run the same statements inside its settlement transaction.
type Queries struct {
	db db.Querier
}

// NewQueries constructs Queries over a pool or transaction.
func NewQueries(q db.Querier) *Queries {
	return &Queries{db: q}
}

// Repository provides PostgreSQL backed persistence for invoices.
type Repository struct {
	*Queries
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{Queries: NewQueries(pool), pool: pool}
}

const invoiceColumns = `id, customer_code, order_id, total_cents, deposited_cents, currency, due_date, status, created_at, updated_at`

func (q *Queries) scanInvoice(row pgx.Row) (*Invoice, error) {
	var (
		inv              Invoice
		total, deposited int64
		currency         string
	)
	err := row.Scan(&inv.ID, &inv.CustomerCode, &inv.OrderID, &total, &deposited,
		&currency, &inv.DueDate, &inv.Status, &inv.CreatedAt, &inv.UpdatedAt)
	if err != nil {
		return nil, err
	}
	inv.Total = money.FromCents(total, money.Currency(currency))
	inv.Deposited = money.FromCents(deposited, money.Currency(currency))
	return &inv, nil
}

func (q *Queries) loadPayments(ctx context.Context, inv *Invoice) error {
	const query = `
		SELECT id, method, details, amount_cents, currency, created_by,
		       COALESCE(canceled_by, ''), status, deposit_id, created_at
		FROM payments
		WHERE invoice_id = $1
		ORDER BY created_at, id`

	rows, err := q.db.Query(ctx, query, inv.ID)
	if err != nil {
		return fmt.Errorf("invoice: load payments %s: %w", inv.ID, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			p        Payment
			raw      []byte
			cents    int64
			currency string
		)
		if err := rows.Scan(&p.ID, &p.Method, &raw, &cents, &currency,
			&p.CreatedBy, &p.CanceledBy, &p.Status, &p.DepositID, &p.CreatedAt); err != nil {
			return fmt.Errorf("invoice: scan payment: %w", err)
		}
		p.Amount = money.FromCents(cents, money.Currency(currency))
		if p.Details, err = DecodeDetails(p.Method, raw); err != nil {
			return err
		}
		inv.Payments = append(inv.Payments, p)
	}
	return rows.Err()
}

// Get loads an invoice with its payments.
func (q *Queries) Get(ctx context.Context, id uuid.UUID) (*Invoice, error) {
	query := fmt.Sprintf(`SELECT %s FROM invoices WHERE id = $1`, invoiceColumns)
	inv, err := q.scanInvoice(q.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("invoice %s: %w", id, shared.ErrNotFound)
		}
		return nil, fmt.Errorf("invoice: get %s: %w", id, err)
	}
	if err := q.loadPayments(ctx, inv); err != nil {
		return nil, err
	}
	return inv, nil
}

// FindByPayment loads the invoice owning the given payment.
func (q *Queries) FindByPayment(ctx context.Context, paymentID uuid.UUID) (*Invoice, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM invoices
		WHERE id = (SELECT invoice_id FROM payments WHERE id = $1)`, invoiceColumns)
	inv, err := q.scanInvoice(q.db.QueryRow(ctx, query, paymentID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("payment %s: %w", paymentID, shared.ErrNotFound)
		}
		return nil, fmt.Errorf("invoice: find by payment %s: %w", paymentID, err)
	}
	if err := q.loadPayments(ctx, inv); err != nil {
		return nil, err
	}
	return inv, nil
}

// ListOpenByCustomer returns the customer's PENDING and OVERDUE invoices in
// ascending creation order, the walk order of the allocation algorithm.
func (q *Queries) ListOpenByCustomer(ctx context.Context, customerCode string) ([]*Invoice, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM invoices
		WHERE customer_code = $1 AND status IN ('PENDING', 'OVERDUE')
		ORDER BY created_at, id`, invoiceColumns)

	rows, err := q.db.Query(ctx, query, customerCode)
	if err != nil {
		return nil, fmt.Errorf("invoice: list open for %s: %w", customerCode, err)
	}
	defer rows.Close()

	var out []*Invoice
	for rows.Next() {
		inv, err := q.scanInvoice(rows)
		if err != nil {
			return nil, fmt.Errorf("invoice: scan: %w", err)
		}
		out = append(out, inv)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, inv := range out {
		if err := q.loadPayments(ctx, inv); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// FindLatestBalancePayment returns the invoice holding the customer's
// most-recently-created ACTIVE CUSTOMER_BALANCE payment, or ErrNotFound.
func (q *Queries) FindLatestBalancePayment(ctx context.Context, customerCode string) (*Invoice, uuid.UUID, error) {
	const query = `
		SELECT p.id, p.invoice_id
		FROM payments p
		JOIN invoices i ON i.id = p.invoice_id
		WHERE i.customer_code = $1 AND p.method = 'CUSTOMER_BALANCE' AND p.status = 'ACTIVE'
		ORDER BY p.created_at DESC, p.id DESC
		LIMIT 1`

	var paymentID, invoiceID uuid.UUID
	err := q.db.QueryRow(ctx, query, customerCode).Scan(&paymentID, &invoiceID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, uuid.Nil, fmt.Errorf("balance payment for %s: %w", customerCode, shared.ErrNotFound)
		}
		return nil, uuid.Nil, fmt.Errorf("invoice: latest balance payment for %s: %w", customerCode, err)
	}
	inv, err := q.Get(ctx, invoiceID)
	if err != nil {
		return nil, uuid.Nil, err
	}
	return inv, paymentID, nil
}

// ListByDeposit returns ids of active payments created from the deposit,
// newest first.
func (q *Queries) ListByDeposit(ctx context.Context, depositID uuid.UUID) ([]uuid.UUID, error) {
	const query = `
		SELECT id FROM payments
		WHERE deposit_id = $1 AND status = 'ACTIVE'
		ORDER BY created_at DESC, id DESC`

	rows, err := q.db.Query(ctx, query, depositID)
	if err != nil {
		return nil, fmt.Errorf("invoice: list by deposit %s: %w", depositID, err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("invoice: scan payment id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Create inserts a new invoice and its payments.
func (q *Queries) Create(ctx context.Context, inv *Invoice) error {
	const query = `
		INSERT INTO invoices (id, customer_code, order_id, total_cents, deposited_cents, currency, due_date, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := q.db.Exec(ctx, query, inv.ID, inv.CustomerCode, inv.OrderID,
		inv.Total.Cents(), inv.Deposited.Cents(), string(inv.Total.Currency()),
		inv.DueDate, inv.Status, inv.CreatedAt, inv.UpdatedAt)
	if err != nil {
		return fmt.Errorf("invoice: insert %s: %w", inv.ID, err)
	}
	return q.savePayments(ctx, inv)
}

// Save updates an invoice and upserts its payments.
func (q *Queries) Save(ctx context.Context, inv *Invoice) error {
	const query = `
		UPDATE invoices
		SET deposited_cents = $2, status = $3, updated_at = $4
		WHERE id = $1`

	tag, err := q.db.Exec(ctx, query, inv.ID, inv.Deposited.Cents(), inv.Status, inv.UpdatedAt)
	if err != nil {
		return fmt.Errorf("invoice: update %s: %w", inv.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("invoice %s: %w", inv.ID, shared.ErrNotFound)
	}
	return q.savePayments(ctx, inv)
}

func (q *Queries) savePayments(ctx context.Context, inv *Invoice) error {
	const query = `
		INSERT INTO payments (id, invoice_id, method, details, amount_cents, currency, created_by, canceled_by, status, deposit_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NULLIF($8, ''), $9, $10, $11)
		ON CONFLICT (id) DO UPDATE
		SET amount_cents = EXCLUDED.amount_cents,
		    canceled_by = EXCLUDED.canceled_by,
		    status = EXCLUDED.status`

	for _, p := range inv.Payments {
		raw, err := EncodeDetails(p.Details)
		if err != nil {
			return err
		}
		if _, err := q.db.Exec(ctx, query, p.ID, inv.ID, p.Method, raw,
			p.Amount.Cents(), string(p.Amount.Currency()), p.CreatedBy,
			p.CanceledBy, p.Status, p.DepositID, p.CreatedAt); err != nil {
			return fmt.Errorf("invoice: save payment %s: %w", p.ID, err)
		}
	}
	return nil
}

// ListPendingPastDue returns ids of PENDING invoices whose due date passed.
func (q *Queries) ListPendingPastDue(ctx context.Context, asOf time.Time) ([]uuid.UUID, error) {
	const query = `
		SELECT id FROM invoices
		WHERE status = 'PENDING' AND due_date < $1
		ORDER BY due_date, id`

	rows, err := q.db.Query(ctx, query, asOf)
	if err != nil {
		return nil, fmt.Errorf("invoice: list past due: %w", err)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("invoice: scan id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ListDueOn returns reminders for unpaid invoices whose due date falls on the
// given day.
func (q *Queries) ListDueOn(ctx context.Context, day time.Time) ([]DueReminder, error) {
	const query = `
		SELECT id, customer_code, order_id, total_cents - deposited_cents, currency
		FROM invoices
		WHERE status IN ('PENDING', 'OVERDUE') AND due_date >= $1 AND due_date < $2
		ORDER BY customer_code, created_at`

	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
	rows, err := q.db.Query(ctx, query, start, start.AddDate(0, 0, 1))
	if err != nil {
		return nil, fmt.Errorf("invoice: list due on %s: %w", start.Format(time.DateOnly), err)
	}
	defer rows.Close()

	var out []DueReminder
	for rows.Next() {
		var (
			r        DueReminder
			cents    int64
			currency string
		)
		if err := rows.Scan(&r.InvoiceID, &r.CustomerCode, &r.OrderID, &cents, &currency); err != nil {
			return nil, fmt.Errorf("invoice: scan reminder: %w", err)
		}
		r.Unpaid = money.FromCents(cents, money.Currency(currency))
		out = append(out, r)
	}
	return out, rows.Err()
}
