// Package notify is the boundary to the outbound notification collaborator.
// Delivery itself is external; this package only shapes and enqueues the
// batches.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/meridian-erp/meridian-erp/internal/invoice"
)

// TaskDueToday is the asynq task type carrying one customer's due-today
// batch.
const TaskDueToday = "notify:due_today"

// Dispatcher hands notification batches to the delivery collaborator.
type Dispatcher interface {
	DueToday(ctx context.Context, customerCode string, reminders []invoice.DueReminder) error
}

// DueTodayPayload is the wire form of a due-today batch.
type DueTodayPayload struct {
	CustomerCode string       `json:"customerCode"`
	Invoices     []DueInvoice `json:"invoices"`
}

// DueInvoice is one unpaid invoice in a reminder batch.
type DueInvoice struct {
	InvoiceID string `json:"invoiceId"`
	OrderID   string `json:"orderId"`
	Unpaid    string `json:"unpaid"`
}

// AsynqDispatcher enqueues notification tasks for the worker.
type AsynqDispatcher struct {
	client *asynq.Client
}

// NewAsynqDispatcher builds a dispatcher over an asynq client.
func NewAsynqDispatcher(client *asynq.Client) *AsynqDispatcher {
	return &AsynqDispatcher{client: client}
}

// DueToday enqueues one customer's batch.
func (d *AsynqDispatcher) DueToday(ctx context.Context, customerCode string, reminders []invoice.DueReminder) error {
	payload := DueTodayPayload{CustomerCode: customerCode}
	for _, r := range reminders {
		payload.Invoices = append(payload.Invoices, DueInvoice{
			InvoiceID: r.InvoiceID.String(),
			OrderID:   r.OrderID,
			Unpaid:    r.Unpaid.String(),
		})
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("notify: marshal batch for %s: %w", customerCode, err)
	}
	if _, err := d.client.EnqueueContext(ctx, asynq.NewTask(TaskDueToday, data)); err != nil {
		return fmt.Errorf("notify: enqueue batch for %s: %w", customerCode, err)
	}
	return nil
}

// HandleDueTodayTask processes TaskDueToday on the worker. The actual channel
// (mail, SMS) is an external collaborator; here the batch is logged as
// handed off.
func HandleDueTodayTask(logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		var payload DueTodayPayload
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return asynq.SkipRetry
		}
		logger.Info("due-today notification dispatched",
			slog.String("customer", payload.CustomerCode),
			slog.Int("invoices", len(payload.Invoices)))
		return nil
	}
}
