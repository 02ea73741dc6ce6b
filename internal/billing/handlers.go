package billing

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/meridian-erp/meridian-erp/internal/bus"
	"github.com/meridian-erp/meridian-erp/internal/creditnote"
	"github.com/meridian-erp/meridian-erp/internal/customer"
	"github.com/meridian-erp/meridian-erp/internal/deposit"
	"github.com/meridian-erp/meridian-erp/internal/invoice"
	"github.com/meridian-erp/meridian-erp/internal/money"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// Graph wires the cross-aggregate event handlers. Each handler reacts to a
// domain event by dispatching follow-up commands; the chains terminate at
// balance-change events, which only feed the audit trail. Every handler that
// moves money holds the customer's settlement lease for its whole chain, so
// the balance reads and writes of one chain never interleave with another;
// Allocate and Reverse re-enter the lease instead of blocking on it.
type Graph struct {
	bus    *bus.Bus
	orch   *Orchestrator
	store  Store
	locks  *shared.CustomerLocks
	logger *slog.Logger
}

// NewGraph builds the handler graph.
func NewGraph(b *bus.Bus, orch *Orchestrator, store Store, locks *shared.CustomerLocks, logger *slog.Logger) *Graph {
	return &Graph{bus: b, orch: orch, store: store, locks: locks, logger: logger}
}

// Register subscribes every handler on the bus.
func (g *Graph) Register() {
	bus.Subscribe(g.bus, g.onInvoiceGenerated)
	bus.Subscribe(g.bus, g.onDepositMade)
	bus.Subscribe(g.bus, g.onDepositCanceled)
	bus.Subscribe(g.bus, g.onCreditNoteMade)
	bus.Subscribe(g.bus, g.onPaymentCanceled)
	bus.Subscribe(g.bus, g.onPaymentAmountReduced)
	bus.Subscribe(g.bus, g.onBalanceIncreased)
	bus.Subscribe(g.bus, g.onBalanceReduced)
}

// onInvoiceGenerated pre-settles a new invoice from the customer's available
// credit balance.
func (g *Graph) onInvoiceGenerated(ctx context.Context, e invoice.Generated) error {
	ctx, release, err := g.locks.Acquire(ctx, e.CustomerCode)
	if err != nil {
		return err
	}
	defer release()

	cust, err := g.store.Customer(ctx, e.CustomerCode)
	if err != nil {
		return fmt.Errorf("billing: pre-settle %s: %w", e.InvoiceID, err)
	}
	owed := e.Total.MustSub(e.Deposited)
	use, err := money.Min(cust.Balance, owed)
	if err != nil {
		return err
	}
	if !use.IsPositive() {
		return nil
	}
	if err := g.bus.Dispatch(ctx, customer.DecreaseBalance{CustomerCode: e.CustomerCode, Amount: use}); err != nil {
		return err
	}
	return g.bus.Dispatch(ctx, invoice.AddPayment{
		InvoiceID: e.InvoiceID,
		Details:   invoice.CustomerBalanceDetails{},
		Amount:    use,
		CreatedBy: SystemActor,
	})
}

// onDepositMade allocates the deposit over outstanding invoices, records the
// unconsumed remainder on the deposit and grants it as balance credit.
func (g *Graph) onDepositMade(ctx context.Context, e deposit.Made) error {
	ctx, release, err := g.locks.Acquire(ctx, e.CustomerCode)
	if err != nil {
		return err
	}
	defer release()

	remainder, err := g.orch.Allocate(ctx, e.CustomerCode, e.Amount, PaymentInfo{
		Details:   e.Details,
		CreatedBy: e.CreatedBy,
		DepositID: &e.DepositID,
	})
	if err != nil {
		return err
	}
	if err := g.bus.Dispatch(ctx, deposit.UpdateRemaining{DepositID: e.DepositID, Remaining: remainder}); err != nil {
		return err
	}
	if remainder.IsPositive() {
		return g.bus.Dispatch(ctx, customer.IncreaseBalance{CustomerCode: e.CustomerCode, Amount: remainder})
	}
	return nil
}

// onDepositCanceled cancels every payment the deposit funded, then reverses
// the credit granted for its unconsumed remainder.
func (g *Graph) onDepositCanceled(ctx context.Context, e deposit.Canceled) error {
	ctx, release, err := g.locks.Acquire(ctx, e.CustomerCode)
	if err != nil {
		return err
	}
	defer release()

	paymentIDs, err := g.store.PaymentsByDeposit(ctx, e.DepositID)
	if err != nil {
		return err
	}
	for _, id := range paymentIDs {
		if err := g.bus.Dispatch(ctx, invoice.CancelPayment{PaymentID: id, CanceledBy: e.CanceledBy}); err != nil {
			return err
		}
	}
	if !e.Remaining.IsPositive() {
		return nil
	}
	unresolved, err := g.orch.Reverse(ctx, e.CustomerCode, e.Remaining, e.CanceledBy)
	if err != nil {
		return err
	}
	if unresolved.IsPositive() {
		g.logger.Warn("deposit cancellation left unresolved credit",
			slog.String("deposit", e.DepositID.String()),
			slog.String("unresolved", unresolved.String()))
	}
	return nil
}

// onCreditNoteMade settles the credit total against outstanding invoices and
// banks the remainder as balance credit.
func (g *Graph) onCreditNoteMade(ctx context.Context, e creditnote.Made) error {
	ctx, release, err := g.locks.Acquire(ctx, e.CustomerCode)
	if err != nil {
		return err
	}
	defer release()

	remainder, err := g.orch.Allocate(ctx, e.CustomerCode, e.Total, PaymentInfo{
		Details:   invoice.CustomerBalanceDetails{},
		CreatedBy: e.CreatedBy,
	})
	if err != nil {
		return err
	}
	if remainder.IsPositive() {
		return g.bus.Dispatch(ctx, customer.IncreaseBalance{CustomerCode: e.CustomerCode, Amount: remainder})
	}
	return nil
}

// onPaymentCanceled claws the freed money back out of the customer's credit
// when a CUSTOMER_BALANCE payment is canceled by a user. Such a payment is
// spent credit; voiding it voids the credit, so the same amount is drained
// from the balance and, failing that, from the customer's other
// CUSTOMER_BALANCE payments. Cancellations carrying the Reversal flag are the
// claw-back itself; deposit-funded payments are reconciled by the deposit
// cancel flow; real-money payments never created credit and reverse nothing.
func (g *Graph) onPaymentCanceled(ctx context.Context, e invoice.PaymentCanceledEvent) error {
	if e.Reversal || e.DepositID != nil {
		return nil
	}
	if e.Method != invoice.MethodCustomerBalance {
		return nil
	}
	ctx, release, err := g.locks.Acquire(ctx, e.CustomerCode)
	if err != nil {
		return err
	}
	defer release()

	unresolved, err := g.orch.Reverse(ctx, e.CustomerCode, e.Freed, e.CanceledBy)
	if err != nil {
		return err
	}
	if unresolved.IsPositive() {
		g.logger.Warn("payment cancellation left unresolved credit",
			slog.String("payment", e.PaymentID.String()),
			slog.String("unresolved", unresolved.String()))
	}
	return nil
}

// onPaymentAmountReduced mirrors onPaymentCanceled for partial voids.
func (g *Graph) onPaymentAmountReduced(ctx context.Context, e invoice.PaymentAmountReduced) error {
	if e.Reversal || e.Method != invoice.MethodCustomerBalance || !e.Reduction.IsPositive() {
		return nil
	}
	ctx, release, err := g.locks.Acquire(ctx, e.CustomerCode)
	if err != nil {
		return err
	}
	defer release()

	unresolved, err := g.orch.Reverse(ctx, e.CustomerCode, e.Reduction, SystemActor)
	if err != nil {
		return err
	}
	if unresolved.IsPositive() {
		g.logger.Warn("payment reduction left unresolved credit",
			slog.String("payment", e.PaymentID.String()),
			slog.String("unresolved", unresolved.String()))
	}
	return nil
}

// onBalanceIncreased feeds the audit trail.
func (g *Graph) onBalanceIncreased(ctx context.Context, e customer.BalanceIncreased) error {
	g.logger.Info("audit: balance increased",
		slog.String("customer", e.CustomerCode),
		slog.String("delta", e.Delta.String()),
		slog.String("balance", e.Balance.String()))
	return nil
}

// onBalanceReduced feeds the audit trail.
func (g *Graph) onBalanceReduced(ctx context.Context, e customer.BalanceReduced) error {
	g.logger.Info("audit: balance reduced",
		slog.String("customer", e.CustomerCode),
		slog.String("delta", e.Delta.String()),
		slog.String("balance", e.Balance.String()))
	return nil
}
