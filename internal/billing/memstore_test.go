package billing

import (
	"context"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/meridian-erp/meridian-erp/internal/bus"
	"github.com/meridian-erp/meridian-erp/internal/creditnote"
	"github.com/meridian-erp/meridian-erp/internal/customer"
	"github.com/meridian-erp/meridian-erp/internal/deposit"
	"github.com/meridian-erp/meridian-erp/internal/invoice"
	"github.com/meridian-erp/meridian-erp/internal/money"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

func usd(cents int64) money.Money { return money.FromCents(cents, money.USD) }

// memData backs every in-memory port with one shared dataset, mirroring the
// aggregates sharing one database.
type memData struct {
	invoices  map[uuid.UUID]*invoice.Invoice
	invOrder  []uuid.UUID
	deposits  map[uuid.UUID]*deposit.Deposit
	customers map[string]*customer.Customer
	notes     map[uuid.UUID]*creditnote.CreditNote
}

func newMemData() *memData {
	return &memData{
		invoices:  make(map[uuid.UUID]*invoice.Invoice),
		deposits:  make(map[uuid.UUID]*deposit.Deposit),
		customers: make(map[string]*customer.Customer),
		notes:     make(map[uuid.UUID]*creditnote.CreditNote),
	}
}

func (d *memData) addInvoice(inv *invoice.Invoice) {
	d.invoices[inv.ID] = inv
	d.invOrder = append(d.invOrder, inv.ID)
}

// memStore implements Store.
type memStore struct{ d *memData }

func (s *memStore) OpenInvoices(ctx context.Context, customerCode string) ([]*invoice.Invoice, error) {
	var out []*invoice.Invoice
	for _, id := range s.d.invOrder {
		inv := s.d.invoices[id]
		if inv.CustomerCode != customerCode {
			continue
		}
		if inv.Status == invoice.StatusPending || inv.Status == invoice.StatusOverdue {
			out = append(out, inv)
		}
	}
	return out, nil
}

func (s *memStore) LatestBalancePayment(ctx context.Context, customerCode string) (*invoice.Invoice, uuid.UUID, error) {
	var (
		bestInv *invoice.Invoice
		bestID  uuid.UUID
		bestAt  time.Time
	)
	for _, id := range s.d.invOrder {
		inv := s.d.invoices[id]
		if inv.CustomerCode != customerCode {
			continue
		}
		for _, p := range inv.Payments {
			if p.Method != invoice.MethodCustomerBalance || p.Status != invoice.PaymentActive {
				continue
			}
			if bestInv == nil || !p.CreatedAt.Before(bestAt) {
				bestInv, bestID, bestAt = inv, p.ID, p.CreatedAt
			}
		}
	}
	if bestInv == nil {
		return nil, uuid.Nil, fmt.Errorf("balance payment for %s: %w", customerCode, shared.ErrNotFound)
	}
	return bestInv, bestID, nil
}

func (s *memStore) SaveInvoice(ctx context.Context, inv *invoice.Invoice) error {
	if _, ok := s.d.invoices[inv.ID]; !ok {
		s.d.addInvoice(inv)
		return nil
	}
	s.d.invoices[inv.ID] = inv
	return nil
}

func (s *memStore) Customer(ctx context.Context, code string) (*customer.Customer, error) {
	c, ok := s.d.customers[code]
	if !ok {
		return nil, fmt.Errorf("customer %s: %w", code, shared.ErrNotFound)
	}
	return c, nil
}

func (s *memStore) SaveCustomer(ctx context.Context, c *customer.Customer) error {
	s.d.customers[c.Code] = c
	return nil
}

func (s *memStore) PaymentsByDeposit(ctx context.Context, depositID uuid.UUID) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	for i := len(s.d.invOrder) - 1; i >= 0; i-- {
		inv := s.d.invoices[s.d.invOrder[i]]
		for _, p := range inv.Payments {
			if p.DepositID != nil && *p.DepositID == depositID && p.Status == invoice.PaymentActive {
				ids = append(ids, p.ID)
			}
		}
	}
	return ids, nil
}

func (s *memStore) InTx(ctx context.Context, fn func(Store) error) error {
	return fn(s)
}

// memInvoiceRepo implements invoice.RepositoryPort.
type memInvoiceRepo struct{ d *memData }

func (r *memInvoiceRepo) Get(ctx context.Context, id uuid.UUID) (*invoice.Invoice, error) {
	inv, ok := r.d.invoices[id]
	if !ok {
		return nil, fmt.Errorf("invoice %s: %w", id, shared.ErrNotFound)
	}
	return inv, nil
}

func (r *memInvoiceRepo) FindByPayment(ctx context.Context, paymentID uuid.UUID) (*invoice.Invoice, error) {
	for _, inv := range r.d.invoices {
		if _, ok := inv.PaymentByID(paymentID); ok {
			return inv, nil
		}
	}
	return nil, fmt.Errorf("payment %s: %w", paymentID, shared.ErrNotFound)
}

func (r *memInvoiceRepo) Create(ctx context.Context, inv *invoice.Invoice) error {
	r.d.addInvoice(inv)
	return nil
}

func (r *memInvoiceRepo) Save(ctx context.Context, inv *invoice.Invoice) error {
	r.d.invoices[inv.ID] = inv
	return nil
}

func (r *memInvoiceRepo) ListPendingPastDue(ctx context.Context, asOf time.Time) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	for _, id := range r.d.invOrder {
		inv := r.d.invoices[id]
		if inv.Status == invoice.StatusPending && inv.DueDate.Before(asOf) {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (r *memInvoiceRepo) ListDueOn(ctx context.Context, day time.Time) ([]invoice.DueReminder, error) {
	start := time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, day.Location())
	end := start.AddDate(0, 0, 1)
	var out []invoice.DueReminder
	for _, id := range r.d.invOrder {
		inv := r.d.invoices[id]
		if inv.Status == invoice.StatusPaid {
			continue
		}
		if inv.DueDate.Before(start) || !inv.DueDate.Before(end) {
			continue
		}
		out = append(out, invoice.DueReminder{
			InvoiceID:    inv.ID,
			CustomerCode: inv.CustomerCode,
			OrderID:      inv.OrderID,
			Unpaid:       inv.Owed(),
		})
	}
	return out, nil
}

// memDepositRepo implements deposit.RepositoryPort.
type memDepositRepo struct{ d *memData }

func (r *memDepositRepo) Get(ctx context.Context, id uuid.UUID) (*deposit.Deposit, error) {
	dep, ok := r.d.deposits[id]
	if !ok {
		return nil, fmt.Errorf("deposit %s: %w", id, shared.ErrNotFound)
	}
	return dep, nil
}

func (r *memDepositRepo) Create(ctx context.Context, dep *deposit.Deposit) error {
	r.d.deposits[dep.ID] = dep
	return nil
}

func (r *memDepositRepo) Save(ctx context.Context, dep *deposit.Deposit) error {
	r.d.deposits[dep.ID] = dep
	return nil
}

// memCustomerRepo implements customer.RepositoryPort.
type memCustomerRepo struct{ d *memData }

func (r *memCustomerRepo) Get(ctx context.Context, code string) (*customer.Customer, error) {
	c, ok := r.d.customers[code]
	if !ok {
		return nil, fmt.Errorf("customer %s: %w", code, shared.ErrNotFound)
	}
	return c, nil
}

func (r *memCustomerRepo) Save(ctx context.Context, c *customer.Customer) error {
	r.d.customers[c.Code] = c
	return nil
}

// memNoteRepo implements creditnote.RepositoryPort.
type memNoteRepo struct{ d *memData }

func (r *memNoteRepo) Create(ctx context.Context, cn *creditnote.CreditNote) error {
	r.d.notes[cn.ID] = cn
	return nil
}

// staticPricer implements creditnote.ProductPricer.
type staticPricer map[string]money.Money

func (p staticPricer) Price(ctx context.Context, productCode string) (money.Money, error) {
	price, ok := p[productCode]
	if !ok {
		return money.Money{}, fmt.Errorf("product %s: %w", productCode, shared.ErrNotFound)
	}
	return price, nil
}

// fixture wires the full settlement core over in-memory storage: every
// service registered on one bus, the orchestrator, and the handler graph.
type fixture struct {
	data     *memData
	bus      *bus.Bus
	store    *memStore
	orch     *Orchestrator
	invoices *invoice.Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureWithLocks(t, shared.NewCustomerLocks(nil, time.Minute))
}

func newFixtureWithLocks(t *testing.T, locks *shared.CustomerLocks) *fixture {
	t.Helper()
	logger := slog.Default()
	data := newMemData()
	b := bus.New(logger)
	store := &memStore{d: data}
	orch := NewOrchestrator(store, locks, b, logger, 10*time.Second)

	customerRepo := &memCustomerRepo{d: data}
	customerSvc := customer.NewService(customerRepo, b, logger)
	customerSvc.Register()

	invoiceSvc := invoice.NewService(&memInvoiceRepo{d: data}, customerSvc, b, logger)
	invoiceSvc.Register()

	depositSvc := deposit.NewService(&memDepositRepo{d: data}, customerSvc, b, logger)
	depositSvc.Register()

	noteSvc := creditnote.NewService(&memNoteRepo{d: data}, customerSvc,
		staticPricer{"P-1": usd(1500), "P-2": usd(2500)}, b, logger)
	noteSvc.Register()

	NewGraph(b, orch, store, locks, logger).Register()

	return &fixture{data: data, bus: b, store: store, orch: orch, invoices: invoiceSvc}
}

func (f *fixture) addCustomer(code string, balanceCents int64) *customer.Customer {
	c := &customer.Customer{Code: code, Name: code, Balance: usd(balanceCents)}
	f.data.customers[code] = c
	return c
}

// addOpenInvoice seeds an invoice with a deterministic creation time so the
// oldest-debt-first walk order is explicit in tests.
func (f *fixture) addOpenInvoice(t *testing.T, code string, totalCents int64, createdAt time.Time) *invoice.Invoice {
	t.Helper()
	inv, _, err := invoice.New(invoice.NewInvoiceInput{
		CustomerCode: code,
		OrderID:      fmt.Sprintf("ORD-%d", len(f.data.invOrder)+1),
		Total:        usd(totalCents),
		DueDate:      createdAt.AddDate(0, 1, 0),
	})
	if err != nil {
		t.Fatal(err)
	}
	inv.CreatedAt = createdAt
	f.data.addInvoice(inv)
	return inv
}
