// Package jobs runs the asynq worker: the daily settlement scans and the
// notification handoff tasks.
package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"github.com/meridian-erp/meridian-erp/internal/billing"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskDueScan transitions PENDING invoices past their due date to OVERDUE.
	TaskDueScan = "invoice:due_scan"
	// TaskDueRemind batches due-today reminders per customer.
	TaskDueRemind = "invoice:due_remind"
)

type scanPayload struct {
	// RequestedAt records when the scheduler fired; the scan itself always
	// evaluates wall-clock time at processing.
	RequestedAt time.Time `json:"requestedAt"`
}

// NewDueScanTask constructs the overdue-scan task.
func NewDueScanTask() (*asynq.Task, error) {
	data, err := json.Marshal(scanPayload{RequestedAt: time.Now()})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskDueScan, data), nil
}

// NewDueRemindTask constructs the due-today reminder task.
func NewDueRemindTask() (*asynq.Task, error) {
	data, err := json.Marshal(scanPayload{RequestedAt: time.Now()})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskDueRemind, data), nil
}

// HandleDueScanTask processes TaskDueScan tasks.
func HandleDueScanTask(scanner *billing.Scanner, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		logger.Info("overdue scan starting")
		return scanner.MarkOverdue(ctx, time.Now())
	}
}

// HandleDueRemindTask processes TaskDueRemind tasks.
func HandleDueRemindTask(scanner *billing.Scanner, logger *slog.Logger) asynq.HandlerFunc {
	return func(ctx context.Context, t *asynq.Task) error {
		logger.Info("due reminder scan starting")
		return scanner.RemindDueToday(ctx, time.Now())
	}
}
