package jobs

import (
	"context"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/procureflow/internal/billing"
	jobmetrics "github.com/odyssey-erp/procureflow/internal/jobs"
	"github.com/odyssey-erp/procureflow/internal/receiving"
	"github.com/odyssey-erp/procureflow/internal/shared"
)

const (
	// TaskInvoiceBackfill ensures every passed GRN has its invoice.
	TaskInvoiceBackfill = "billing:invoice_backfill"
)

// NewInvoiceBackfillTask builds the backfill task.
func NewInvoiceBackfillTask() *asynq.Task {
	return asynq.NewTask(TaskInvoiceBackfill, nil, asynq.Queue(QueueDefault))
}

// GRNLister lists GRNs by status.
type GRNLister interface {
	ListGRNs(ctx context.Context, status receiving.Status) ([]receiving.GRN, error)
}

// InvoiceEnsurer creates a GRN's invoice when missing.
type InvoiceEnsurer interface {
	EnsureInvoiceForGRN(ctx context.Context, actor shared.Actor, grnID string) (billing.Invoice, bool, error)
}

// InvoiceBackfillJob repairs passed GRNs whose invoice was never written.
type InvoiceBackfillJob struct {
	GRNs     GRNLister
	Invoices InvoiceEnsurer
	Logger   *slog.Logger
	Metrics  *jobmetrics.Metrics
}

// Handle processes TaskInvoiceBackfill tasks.
func (j *InvoiceBackfillJob) Handle(ctx context.Context, _ *asynq.Task) error {
	if j == nil || j.GRNs == nil || j.Invoices == nil {
		return errors.New("invoice backfill: handler not configured")
	}
	tracker := j.metrics().Track(TaskInvoiceBackfill)
	logger := j.logger()

	grns, err := j.GRNs.ListGRNs(ctx, receiving.StatusQCPassed)
	if err != nil {
		logger.Error("list passed grns", slog.Any("error", err))
		return tracker.End(err)
	}
	created := 0
	var firstErr error
	for _, grn := range grns {
		if grn.InvoiceID != "" {
			continue
		}
		inv, ok, err := j.Invoices.EnsureInvoiceForGRN(ctx, shared.System, grn.ID)
		if err != nil {
			logger.Error("ensure invoice", slog.String("grn_id", grn.ID), slog.Any("error", err))
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if ok {
			created++
			logger.Info("invoice backfilled", slog.String("grn_id", grn.ID), slog.String("invoice_id", inv.ID))
		}
	}
	j.metrics().AddBackfilled(created)
	logger.Info("invoice backfill finished", slog.Int("scanned", len(grns)), slog.Int("created", created))
	return tracker.End(firstErr)
}

func (j *InvoiceBackfillJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskInvoiceBackfill))
	}
	return slog.Default().With(slog.String("job", TaskInvoiceBackfill))
}

func (j *InvoiceBackfillJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}
