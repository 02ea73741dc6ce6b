package billing

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/meridian-erp/meridian-erp/internal/bus"
	"github.com/meridian-erp/meridian-erp/internal/creditnote"
	"github.com/meridian-erp/meridian-erp/internal/customer"
	"github.com/meridian-erp/meridian-erp/internal/deposit"
	"github.com/meridian-erp/meridian-erp/internal/invoice"
	"github.com/meridian-erp/meridian-erp/internal/money"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

func (f *fixture) onlyDeposit(t *testing.T) *deposit.Deposit {
	t.Helper()
	require.Len(t, f.data.deposits, 1)
	for _, d := range f.data.deposits {
		return d
	}
	return nil
}

func (f *fixture) onlyInvoice(t *testing.T) *invoice.Invoice {
	t.Helper()
	require.Len(t, f.data.invoices, 1)
	return f.data.invoices[f.data.invOrder[0]]
}

func TestDepositSettlesOutstandingInvoices(t *testing.T) {
	f := newFixture(t)
	f.addCustomer("CUST-1", 0)
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	older := f.addOpenInvoice(t, "CUST-1", 30000, base)
	newer := f.addOpenInvoice(t, "CUST-1", 50000, base.Add(time.Hour))

	err := f.bus.Dispatch(context.Background(), deposit.EnterDeposit{
		CustomerCode: "CUST-1",
		Details:      invoice.BankTransferDetails{OperationNumber: "OP-77", AccountNumber: "001-42"},
		Amount:       usd(100000),
		CreatedBy:    "alice",
	})
	require.NoError(t, err)

	require.Equal(t, invoice.StatusPaid, older.Status)
	require.Equal(t, invoice.StatusPaid, newer.Status)

	dep := f.onlyDeposit(t)
	require.Equal(t, deposit.StatusActive, dep.Status)
	require.True(t, dep.Remaining.Equal(usd(20000)), "remaining %s", dep.Remaining)
	require.True(t, f.data.customers["CUST-1"].Balance.Equal(usd(20000)))

	// Payments carry the deposit link so canceling the deposit can find them.
	for _, p := range older.Payments {
		require.NotNil(t, p.DepositID)
		require.Equal(t, dep.ID, *p.DepositID)
		require.Equal(t, invoice.MethodBankTransfer, p.Method)
	}
}

func TestDepositFullyConsumedGrantsNoCredit(t *testing.T) {
	f := newFixture(t)
	f.addCustomer("CUST-1", 0)
	f.addOpenInvoice(t, "CUST-1", 50000, time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))

	err := f.bus.Dispatch(context.Background(), deposit.EnterDeposit{
		CustomerCode: "CUST-1",
		Details:      invoice.CashDetails{},
		Amount:       usd(30000),
		CreatedBy:    "alice",
	})
	require.NoError(t, err)

	dep := f.onlyDeposit(t)
	require.True(t, dep.Remaining.IsZero())
	require.True(t, f.data.customers["CUST-1"].Balance.IsZero())
}

func TestCancelDepositRevertsSettlement(t *testing.T) {
	f := newFixture(t)
	f.addCustomer("CUST-1", 0)
	inv := f.addOpenInvoice(t, "CUST-1", 30000, time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))

	ctx := context.Background()
	require.NoError(t, f.bus.Dispatch(ctx, deposit.EnterDeposit{
		CustomerCode: "CUST-1",
		Details:      invoice.CashDetails{},
		Amount:       usd(50000),
		CreatedBy:    "alice",
	}))
	dep := f.onlyDeposit(t)
	require.True(t, f.data.customers["CUST-1"].Balance.Equal(usd(20000)))

	require.NoError(t, f.bus.Dispatch(ctx, deposit.CancelDeposit{DepositID: dep.ID, CanceledBy: "bob"}))

	require.Equal(t, deposit.StatusCanceled, dep.Status)
	// The funded payment is canceled and the remainder's credit clawed back.
	require.Equal(t, invoice.StatusPending, inv.Status)
	require.True(t, inv.Deposited.IsZero())
	require.True(t, f.data.customers["CUST-1"].Balance.IsZero())
}

func TestGenerateInvoicePreSettlesFromBalance(t *testing.T) {
	f := newFixture(t)
	f.addCustomer("CUST-1", 20000)

	err := f.bus.Dispatch(context.Background(), invoice.GenerateInvoice{
		CustomerCode: "CUST-1",
		OrderID:      "ORD-9",
		DueDate:      time.Now().AddDate(0, 1, 0),
		Items: []invoice.LineItem{
			{ProductCode: "P-1", Quantity: 2, UnitPrice: usd(50000)},
		},
	})
	require.NoError(t, err)

	inv := f.onlyInvoice(t)
	require.True(t, inv.Total.Equal(usd(100000)))
	require.True(t, inv.Deposited.Equal(usd(20000)))
	require.Equal(t, invoice.StatusPending, inv.Status)
	require.True(t, f.data.customers["CUST-1"].Balance.IsZero())

	require.Len(t, inv.Payments, 1)
	require.Equal(t, invoice.MethodCustomerBalance, inv.Payments[0].Method)
	require.Equal(t, SystemActor, inv.Payments[0].CreatedBy)
}

func TestGenerateInvoiceCoveredEntirelyByBalance(t *testing.T) {
	f := newFixture(t)
	f.addCustomer("CUST-1", 150000)

	err := f.bus.Dispatch(context.Background(), invoice.GenerateInvoice{
		CustomerCode: "CUST-1",
		OrderID:      "ORD-9",
		DueDate:      time.Now().AddDate(0, 1, 0),
		Items: []invoice.LineItem{
			{ProductCode: "P-1", Quantity: 1, UnitPrice: usd(100000)},
		},
	})
	require.NoError(t, err)

	inv := f.onlyInvoice(t)
	require.Equal(t, invoice.StatusPaid, inv.Status)
	require.True(t, f.data.customers["CUST-1"].Balance.Equal(usd(50000)))
}

func TestCreditNoteSettlesDebtAndBanksRemainder(t *testing.T) {
	f := newFixture(t)
	f.addCustomer("CUST-1", 0)
	inv := f.addOpenInvoice(t, "CUST-1", 100000, time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))

	// P-1 prices at 15.00: 100 returned units credit 1500.00.
	err := f.bus.Dispatch(context.Background(), creditnote.MakeCreditNote{
		CustomerCode: "CUST-1",
		CreatedBy:    "alice",
		Observation:  "damaged batch",
		Items:        []creditnote.ReturnedItem{{ProductCode: "P-1", Returned: 100}},
	})
	require.NoError(t, err)

	require.Equal(t, invoice.StatusPaid, inv.Status)
	require.True(t, f.data.customers["CUST-1"].Balance.Equal(usd(50000)),
		"balance %s", f.data.customers["CUST-1"].Balance)
	require.Len(t, f.data.notes, 1)
}

func TestCancelBalancePaymentClawsBackFromBalance(t *testing.T) {
	f := newFixture(t)
	f.addCustomer("CUST-1", 40000)
	ctx := context.Background()
	require.NoError(t, f.bus.Dispatch(ctx, invoice.GenerateInvoice{
		CustomerCode: "CUST-1",
		OrderID:      "ORD-9",
		DueDate:      time.Now().AddDate(0, 1, 0),
		Items:        []invoice.LineItem{{ProductCode: "P-1", Quantity: 1, UnitPrice: usd(20000)}},
	}))
	inv := f.onlyInvoice(t)
	require.Len(t, inv.Payments, 1)
	require.Equal(t, invoice.StatusPaid, inv.Status)
	require.True(t, f.data.customers["CUST-1"].Balance.Equal(usd(20000)))

	// Voiding spent credit claws the same amount back out of the balance.
	require.NoError(t, f.bus.Dispatch(ctx, invoice.CancelPayment{
		PaymentID:  inv.Payments[0].ID,
		CanceledBy: "bob",
	}))

	require.True(t, inv.Deposited.IsZero())
	require.Equal(t, invoice.StatusPending, inv.Status)
	require.True(t, f.data.customers["CUST-1"].Balance.IsZero())
}

func TestCancelBalancePaymentCascadesToOtherBalancePayments(t *testing.T) {
	f := newFixture(t)
	f.addCustomer("CUST-1", 20000)
	ctx := context.Background()
	require.NoError(t, f.bus.Dispatch(ctx, invoice.GenerateInvoice{
		CustomerCode: "CUST-1",
		OrderID:      "ORD-1",
		DueDate:      time.Now().AddDate(0, 1, 0),
		Items:        []invoice.LineItem{{ProductCode: "P-1", Quantity: 1, UnitPrice: usd(12000)}},
	}))
	require.NoError(t, f.bus.Dispatch(ctx, invoice.GenerateInvoice{
		CustomerCode: "CUST-1",
		OrderID:      "ORD-2",
		DueDate:      time.Now().AddDate(0, 1, 0),
		Items:        []invoice.LineItem{{ProductCode: "P-1", Quantity: 1, UnitPrice: usd(8000)}},
	}))
	require.True(t, f.data.customers["CUST-1"].Balance.IsZero())

	var first, second *invoice.Invoice
	for _, id := range f.data.invOrder {
		inv := f.data.invoices[id]
		if inv.OrderID == "ORD-1" {
			first = inv
		} else {
			second = inv
		}
	}
	require.NotNil(t, first)
	require.NotNil(t, second)

	// Balance is empty, so the claw-back consumes the other invoice's
	// balance payment; the excess stays unresolved.
	require.NoError(t, f.bus.Dispatch(ctx, invoice.CancelPayment{
		PaymentID:  first.Payments[0].ID,
		CanceledBy: "bob",
	}))

	require.Equal(t, invoice.StatusPending, first.Status)
	require.Equal(t, invoice.StatusPending, second.Status)
	require.True(t, first.Deposited.IsZero())
	require.True(t, second.Deposited.IsZero())
	require.Equal(t, invoice.PaymentCanceled, second.Payments[0].Status)
	require.True(t, f.data.customers["CUST-1"].Balance.IsZero())
}

func TestReduceBalancePaymentClawsBackDifference(t *testing.T) {
	f := newFixture(t)
	f.addCustomer("CUST-1", 40000)
	ctx := context.Background()
	require.NoError(t, f.bus.Dispatch(ctx, invoice.GenerateInvoice{
		CustomerCode: "CUST-1",
		OrderID:      "ORD-9",
		DueDate:      time.Now().AddDate(0, 1, 0),
		Items:        []invoice.LineItem{{ProductCode: "P-1", Quantity: 1, UnitPrice: usd(20000)}},
	}))
	inv := f.onlyInvoice(t)

	require.NoError(t, f.bus.Dispatch(ctx, invoice.ReducePaymentAmount{
		PaymentID: inv.Payments[0].ID,
		Reduction: usd(5000),
	}))

	require.True(t, inv.Deposited.Equal(usd(15000)))
	require.True(t, f.data.customers["CUST-1"].Balance.Equal(usd(15000)))
}

func TestCanceledNonBalancePaymentGrantsNothing(t *testing.T) {
	f := newFixture(t)
	f.addCustomer("CUST-1", 0)
	inv := f.addOpenInvoice(t, "CUST-1", 50000, time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))
	ctx := context.Background()
	require.NoError(t, f.bus.Dispatch(ctx, invoice.AddPayment{
		InvoiceID: inv.ID,
		Details:   invoice.CheckDetails{CheckNumber: "CHK-1", PaymentDate: time.Now()},
		Amount:    usd(50000),
		CreatedBy: "alice",
	}))
	require.Equal(t, invoice.StatusPaid, inv.Status)

	require.NoError(t, f.bus.Dispatch(ctx, invoice.CancelPayment{
		PaymentID:  inv.Payments[0].ID,
		CanceledBy: "bob",
	}))

	require.Equal(t, invoice.StatusPending, inv.Status)
	require.True(t, f.data.customers["CUST-1"].Balance.IsZero())
}

func TestDepositForUnknownCustomerFails(t *testing.T) {
	f := newFixture(t)
	err := f.bus.Dispatch(context.Background(), deposit.EnterDeposit{
		CustomerCode: "NOBODY",
		Details:      invoice.CashDetails{},
		Amount:       usd(1000),
		CreatedBy:    "alice",
	})
	require.Error(t, err)
	require.Empty(t, f.data.deposits)
}

func TestAllocationWithDepositIDDistinctFromManualPayment(t *testing.T) {
	f := newFixture(t)
	f.addCustomer("CUST-1", 0)
	inv := f.addOpenInvoice(t, "CUST-1", 60000, time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))
	ctx := context.Background()

	require.NoError(t, f.bus.Dispatch(ctx, invoice.AddPayment{
		InvoiceID: inv.ID,
		Details:   invoice.CashDetails{},
		Amount:    usd(10000),
		CreatedBy: "alice",
	}))
	require.NoError(t, f.bus.Dispatch(ctx, deposit.EnterDeposit{
		CustomerCode: "CUST-1",
		Details:      invoice.CashDetails{},
		Amount:       usd(50000),
		CreatedBy:    "alice",
	}))

	require.Equal(t, invoice.StatusPaid, inv.Status)
	require.Len(t, inv.Payments, 2)
	require.Nil(t, inv.Payments[0].DepositID)
	require.NotNil(t, inv.Payments[1].DepositID)

	total := money.Zero(money.USD)
	for _, p := range inv.Payments {
		total = total.MustAdd(p.Amount)
	}
	require.True(t, total.Equal(inv.Total))
}

func newRedisFixture(t *testing.T) (*fixture, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return newFixtureWithLocks(t, shared.NewCustomerLocks(client, time.Minute)), mr
}

func TestDepositChainHoldsCustomerLockAtBalanceChange(t *testing.T) {
	f, mr := newRedisFixture(t)
	f.addCustomer("CUST-1", 0)
	f.addOpenInvoice(t, "CUST-1", 30000, time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))

	// The remainder banking runs after Allocate has returned; the chain's
	// lease must still be held when the balance actually changes.
	var increases int
	bus.Subscribe(f.bus, func(ctx context.Context, e customer.BalanceIncreased) error {
		increases++
		require.True(t, mr.Exists(shared.CustomerLockKey("CUST-1")))
		return nil
	})

	require.NoError(t, f.bus.Dispatch(context.Background(), deposit.EnterDeposit{
		CustomerCode: "CUST-1",
		Details:      invoice.CashDetails{},
		Amount:       usd(50000),
		CreatedBy:    "alice",
	}))

	require.Equal(t, 1, increases)
	require.True(t, f.data.customers["CUST-1"].Balance.Equal(usd(20000)))
	require.False(t, mr.Exists(shared.CustomerLockKey("CUST-1")))
}

func TestPreSettleHoldsCustomerLockAtBalanceChange(t *testing.T) {
	f, mr := newRedisFixture(t)
	f.addCustomer("CUST-1", 20000)

	var reductions int
	bus.Subscribe(f.bus, func(ctx context.Context, e customer.BalanceReduced) error {
		reductions++
		require.True(t, mr.Exists(shared.CustomerLockKey("CUST-1")))
		return nil
	})

	require.NoError(t, f.bus.Dispatch(context.Background(), invoice.GenerateInvoice{
		CustomerCode: "CUST-1",
		OrderID:      "ORD-9",
		DueDate:      time.Now().AddDate(0, 1, 0),
		Items:        []invoice.LineItem{{ProductCode: "P-1", Quantity: 1, UnitPrice: usd(50000)}},
	}))

	require.Equal(t, 1, reductions)
	require.True(t, f.data.customers["CUST-1"].Balance.IsZero())
	require.False(t, mr.Exists(shared.CustomerLockKey("CUST-1")))
}
