package invoice

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/meridian-erp/meridian-erp/internal/money"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

func usd(cents int64) money.Money { return money.FromCents(cents, money.USD) }

func newTestInvoice(t *testing.T, totalCents int64) *Invoice {
	t.Helper()
	inv, events, err := New(NewInvoiceInput{
		CustomerCode: "CUST-1",
		OrderID:      "ORD-1",
		Total:        usd(totalCents),
		DueDate:      time.Now().Add(30 * 24 * time.Hour),
	})
	require.NoError(t, err)
	require.Len(t, events, 1)
	require.IsType(t, Generated{}, events[0])
	return inv
}

func TestNewValidation(t *testing.T) {
	valid := NewInvoiceInput{
		CustomerCode: "CUST-1",
		OrderID:      "ORD-1",
		Total:        usd(1000),
		DueDate:      time.Now(),
	}

	in := valid
	in.CustomerCode = ""
	_, _, err := New(in)
	require.True(t, shared.IsValidation(err))

	in = valid
	in.OrderID = ""
	_, _, err = New(in)
	require.True(t, shared.IsValidation(err))

	in = valid
	in.Total = usd(0)
	_, _, err = New(in)
	require.True(t, shared.IsValidation(err))

	in = valid
	in.DueDate = time.Time{}
	_, _, err = New(in)
	require.True(t, shared.IsValidation(err))
}

func TestNewWithSuppliedIDEmitsNoGeneratedEvent(t *testing.T) {
	id := uuid.New()
	inv, events, err := New(NewInvoiceInput{
		ID:           &id,
		CustomerCode: "CUST-1",
		OrderID:      "ORD-1",
		Total:        usd(1000),
		DueDate:      time.Now(),
	})
	require.NoError(t, err)
	require.Equal(t, id, inv.ID)
	require.Empty(t, events)
}

func TestNewInitializesDepositedFromInitialPayments(t *testing.T) {
	inv, events, err := New(NewInvoiceInput{
		CustomerCode: "CUST-1",
		OrderID:      "ORD-1",
		Total:        usd(1000),
		DueDate:      time.Now(),
		InitialPayments: []PaymentInput{
			{Details: CashDetails{}, Amount: usd(400), CreatedBy: "ana"},
		},
	})
	require.NoError(t, err)
	require.Equal(t, int64(400), inv.Deposited.Cents())
	require.Len(t, events, 2) // Generated + PaymentAppended
}

// Payments of $400 and $600 on a $1000 invoice fully settle it.
func TestTwoPaymentsSettleInvoice(t *testing.T) {
	inv := newTestInvoice(t, 100000)

	evt, err := inv.AppendPayment(PaymentInput{Details: CashDetails{}, Amount: usd(40000), CreatedBy: "ana"})
	require.NoError(t, err)
	require.Equal(t, StatusPending, evt.Status)
	require.Equal(t, int64(40000), evt.Deposited.Cents())

	evt, err = inv.AppendPayment(PaymentInput{
		Details:   BankTransferDetails{OperationNumber: "OP-9", AccountNumber: "AC-1"},
		Amount:    usd(60000),
		CreatedBy: "ana",
	})
	require.NoError(t, err)
	require.Equal(t, StatusPaid, inv.Status)
	require.Equal(t, int64(100000), inv.Deposited.Cents())
	require.Equal(t, StatusPaid, evt.Status)
}

// A $1200 payment on a $1000 invoice is rejected, and the error
// reports the $1000 remaining payable.
func TestOverpaymentRejectedWithRemaining(t *testing.T) {
	inv := newTestInvoice(t, 100000)

	_, err := inv.AppendPayment(PaymentInput{Details: CashDetails{}, Amount: usd(120000), CreatedBy: "ana"})
	require.True(t, shared.IsRule(err))
	require.Contains(t, err.Error(), "USD 200.00")         // overage
	require.Contains(t, err.Error(), "remaining payable")  //
	require.Contains(t, err.Error(), "USD 1000.00")        // still payable
	require.Equal(t, int64(0), inv.Deposited.Cents())
	require.Empty(t, inv.Payments)
}

func TestAppendPaymentOnPaidInvoiceFails(t *testing.T) {
	inv := newTestInvoice(t, 1000)
	_, err := inv.AppendPayment(PaymentInput{Details: CashDetails{}, Amount: usd(1000), CreatedBy: "ana"})
	require.NoError(t, err)

	_, err = inv.AppendPayment(PaymentInput{Details: CashDetails{}, Amount: usd(1), CreatedBy: "ana"})
	require.True(t, shared.IsRule(err))
	require.Contains(t, err.Error(), "already paid")
}

func TestAppendPaymentValidatesDetails(t *testing.T) {
	inv := newTestInvoice(t, 1000)

	_, err := inv.AppendPayment(PaymentInput{Amount: usd(100), CreatedBy: "ana"})
	require.True(t, shared.IsValidation(err))

	_, err = inv.AppendPayment(PaymentInput{
		Details:   BankTransferDetails{OperationNumber: "OP-1"},
		Amount:    usd(100),
		CreatedBy: "ana",
	})
	require.True(t, shared.IsValidation(err))
	require.Contains(t, err.Error(), "account number")

	_, err = inv.AppendPayment(PaymentInput{
		Details:   CheckDetails{CheckNumber: "CHK-1"},
		Amount:    usd(100),
		CreatedBy: "ana",
	})
	require.True(t, shared.IsValidation(err))
	require.Contains(t, err.Error(), "payment date")

	_, err = inv.AppendPayment(PaymentInput{Details: CashDetails{}, Amount: usd(0), CreatedBy: "ana"})
	require.True(t, shared.IsValidation(err))

	_, err = inv.AppendPayment(PaymentInput{Details: CashDetails{}, Amount: usd(100)})
	require.True(t, shared.IsValidation(err))
}

func TestCancelPaymentFreesExactlyItsAmount(t *testing.T) {
	inv := newTestInvoice(t, 1000)
	evt, err := inv.AppendPayment(PaymentInput{Details: CashDetails{}, Amount: usd(600), CreatedBy: "ana"})
	require.NoError(t, err)
	_, err = inv.AppendPayment(PaymentInput{Details: CashDetails{}, Amount: usd(400), CreatedBy: "ana"})
	require.NoError(t, err)
	require.Equal(t, StatusPaid, inv.Status)

	canceled, err := inv.CancelPayment(evt.PaymentID, "bo")
	require.NoError(t, err)
	require.Equal(t, int64(600), canceled.Freed.Cents())
	require.Equal(t, int64(400), inv.Deposited.Cents())
	require.Equal(t, StatusPending, inv.Status)
	require.Equal(t, "bo", canceled.CanceledBy)

	// Canceling again is rejected and nothing moves.
	_, err = inv.CancelPayment(evt.PaymentID, "bo")
	require.True(t, shared.IsRule(err))
	require.Equal(t, int64(400), inv.Deposited.Cents())
}

func TestCancelUnknownPaymentFails(t *testing.T) {
	inv := newTestInvoice(t, 1000)
	_, err := inv.CancelPayment(uuid.New(), "bo")
	require.Error(t, err)
}

func TestReducePaymentAmount(t *testing.T) {
	inv := newTestInvoice(t, 1000)
	evt, err := inv.AppendPayment(PaymentInput{Details: CashDetails{}, Amount: usd(1000), CreatedBy: "ana"})
	require.NoError(t, err)
	require.Equal(t, StatusPaid, inv.Status)

	reduced, err := inv.ReducePaymentAmount(evt.PaymentID, usd(300))
	require.NoError(t, err)
	require.Equal(t, int64(700), reduced.NewAmount.Cents())
	require.Equal(t, int64(700), inv.Deposited.Cents())
	require.Equal(t, StatusPending, inv.Status)
	require.True(t, reduced.StatusChanged)

	// Reduction above the payment amount is rejected.
	_, err = inv.ReducePaymentAmount(evt.PaymentID, usd(800))
	require.True(t, shared.IsRule(err))

	// Negative reduction is rejected.
	_, err = inv.ReducePaymentAmount(evt.PaymentID, usd(-1))
	require.True(t, shared.IsRule(err))

	// Zero reduction is a permitted no-op that changes no status.
	noop, err := inv.ReducePaymentAmount(evt.PaymentID, usd(0))
	require.NoError(t, err)
	require.False(t, noop.StatusChanged)
	require.Equal(t, int64(700), inv.Deposited.Cents())
}

// due() succeeds once on a past-due PENDING invoice and fails the
// second time with "already overdue".
func TestDueTransition(t *testing.T) {
	inv, _, err := New(NewInvoiceInput{
		CustomerCode: "CUST-1",
		OrderID:      "ORD-1",
		Total:        usd(1000),
		DueDate:      time.Now().Add(-24 * time.Hour),
	})
	require.NoError(t, err)

	evt, err := inv.Due(time.Now())
	require.NoError(t, err)
	require.Equal(t, StatusOverdue, inv.Status)
	require.Equal(t, int64(1000), evt.Unpaid.Cents())

	_, err = inv.Due(time.Now())
	require.True(t, shared.IsRule(err))
	require.Contains(t, err.Error(), "already overdue")
}

func TestDueFailsWhenNotYetDue(t *testing.T) {
	inv := newTestInvoice(t, 1000)
	_, err := inv.Due(time.Now())
	require.True(t, shared.IsRule(err))
}

func TestDueFailsWhenPaid(t *testing.T) {
	inv, _, err := New(NewInvoiceInput{
		CustomerCode: "CUST-1",
		OrderID:      "ORD-1",
		Total:        usd(1000),
		DueDate:      time.Now().Add(-24 * time.Hour),
	})
	require.NoError(t, err)
	_, err = inv.AppendPayment(PaymentInput{Details: CashDetails{}, Amount: usd(1000), CreatedBy: "ana"})
	require.NoError(t, err)

	_, err = inv.Due(time.Now())
	require.True(t, shared.IsRule(err))
	require.Contains(t, err.Error(), "already paid")
}

func TestOverdueStaysUntilFullyPaid(t *testing.T) {
	inv, _, err := New(NewInvoiceInput{
		CustomerCode: "CUST-1",
		OrderID:      "ORD-1",
		Total:        usd(1000),
		DueDate:      time.Now().Add(-24 * time.Hour),
	})
	require.NoError(t, err)
	_, err = inv.Due(time.Now())
	require.NoError(t, err)

	_, err = inv.AppendPayment(PaymentInput{Details: CashDetails{}, Amount: usd(400), CreatedBy: "ana"})
	require.NoError(t, err)
	require.Equal(t, StatusOverdue, inv.Status)

	_, err = inv.AppendPayment(PaymentInput{Details: CashDetails{}, Amount: usd(600), CreatedBy: "ana"})
	require.NoError(t, err)
	require.Equal(t, StatusPaid, inv.Status)
}

func TestDepositedMatchesActivePayments(t *testing.T) {
	inv := newTestInvoice(t, 100000)
	var ids []uuid.UUID
	for _, cents := range []int64{10000, 20000, 30000} {
		evt, err := inv.AppendPayment(PaymentInput{Details: CashDetails{}, Amount: usd(cents), CreatedBy: "ana"})
		require.NoError(t, err)
		ids = append(ids, evt.PaymentID)
	}
	_, err := inv.CancelPayment(ids[1], "bo")
	require.NoError(t, err)

	sum := int64(0)
	for _, p := range inv.Payments {
		if p.Status == PaymentActive {
			sum += p.Amount.Cents()
		}
	}
	require.Equal(t, sum, inv.Deposited.Cents())
	require.False(t, inv.Deposited.IsNegative())
	require.False(t, inv.Total.Less(inv.Deposited))
}
