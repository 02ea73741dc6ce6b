package billing

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/meridian-erp/meridian-erp/internal/bus"
	"github.com/meridian-erp/meridian-erp/internal/invoice"
	"github.com/meridian-erp/meridian-erp/internal/notify"
	"github.com/meridian-erp/meridian-erp/internal/shared"
)

// InvoiceScanPort lists invoices for the daily scans.
type InvoiceScanPort interface {
	PendingPastDue(ctx context.Context, asOf time.Time) ([]uuid.UUID, error)
	DueToday(ctx context.Context, day time.Time) ([]invoice.DueReminder, error)
}

// Scanner drives the two daily scans: transitioning past-due invoices to
// OVERDUE and batching due-today reminders per customer for the notification
// dispatcher.
type Scanner struct {
	invoices InvoiceScanPort
	bus      *bus.Bus
	notifier notify.Dispatcher
	logger   *slog.Logger
}

// NewScanner builds a Scanner.
func NewScanner(invoices InvoiceScanPort, b *bus.Bus, notifier notify.Dispatcher, logger *slog.Logger) *Scanner {
	return &Scanner{invoices: invoices, bus: b, notifier: notifier, logger: logger}
}

// MarkOverdue issues a DueInvoice command for every PENDING invoice whose due
// date has passed. Individual failures are logged and do not stop the scan;
// a business-rule rejection here only means another writer got there first.
func (s *Scanner) MarkOverdue(ctx context.Context, asOf time.Time) error {
	ids, err := s.invoices.PendingPastDue(ctx, asOf)
	if err != nil {
		return err
	}
	var failed int
	for _, id := range ids {
		if err := s.bus.Dispatch(ctx, invoice.DueInvoice{InvoiceID: id}); err != nil {
			if shared.IsRule(err) {
				continue
			}
			failed++
			s.logger.Error("due transition failed",
				slog.String("invoice", id.String()),
				slog.Any("error", err))
		}
	}
	s.logger.Info("overdue scan complete",
		slog.Int("scanned", len(ids)),
		slog.Int("failed", failed))
	return nil
}

// RemindDueToday groups invoices due today per customer and hands each batch
// to the notification dispatcher. Dispatch is fire-and-forget: failures are
// logged, never propagated.
func (s *Scanner) RemindDueToday(ctx context.Context, day time.Time) error {
	reminders, err := s.invoices.DueToday(ctx, day)
	if err != nil {
		return err
	}
	byCustomer := make(map[string][]invoice.DueReminder)
	var order []string
	for _, r := range reminders {
		if _, seen := byCustomer[r.CustomerCode]; !seen {
			order = append(order, r.CustomerCode)
		}
		byCustomer[r.CustomerCode] = append(byCustomer[r.CustomerCode], r)
	}
	for _, code := range order {
		if err := s.notifier.DueToday(ctx, code, byCustomer[code]); err != nil {
			s.logger.Warn("due reminder dispatch failed",
				slog.String("customer", code),
				slog.Any("error", err))
		}
	}
	s.logger.Info("due reminder scan complete",
		slog.Int("invoices", len(reminders)),
		slog.Int("customers", len(order)))
	return nil
}
