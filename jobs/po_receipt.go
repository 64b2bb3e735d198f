package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/procureflow/internal/jobs"
	"github.com/odyssey-erp/procureflow/internal/preparation"
	"github.com/odyssey-erp/procureflow/internal/receiving"
	"github.com/odyssey-erp/procureflow/internal/shared"
	"github.com/odyssey-erp/procureflow/internal/store"
)

const (
	// TaskPOReceipt recomputes the receipt status of one purchase order.
	TaskPOReceipt = "procurement:po_receipt"
)

// POReceiptPayload names the purchase order to recompute.
type POReceiptPayload struct {
	PurchaseOrderID string `json:"purchaseOrderId"`
}

// NewPOReceiptTask builds a recompute task. Tasks for the same PO collapse
// while one is pending.
func NewPOReceiptTask(poID string) (*asynq.Task, error) {
	body, err := json.Marshal(POReceiptPayload{PurchaseOrderID: poID})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskPOReceipt, body, asynq.Queue(QueueReceipts), asynq.TaskID(TaskPOReceipt+":"+poID)), nil
}

// ReceiptRecomputer derives PO receipt status from its GRNs.
type ReceiptRecomputer interface {
	RecomputePOReceipt(ctx context.Context, poID string) (preparation.POStatus, error)
}

// POReceiptJob runs recomputation under a per-PO lock.
type POReceiptJob struct {
	Receipts ReceiptRecomputer
	Locker   *shared.Locker
	Logger   *slog.Logger
	Metrics  *jobmetrics.Metrics
}

// Handle processes TaskPOReceipt tasks.
func (j *POReceiptJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Receipts == nil || j.Locker == nil {
		return errors.New("po receipt: handler not configured")
	}
	var payload POReceiptPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil || payload.PurchaseOrderID == "" {
		return asynq.SkipRetry
	}
	tracker := j.metrics().Track(TaskPOReceipt)
	logger := j.logger().With(slog.String("po_id", payload.PurchaseOrderID))

	err := j.Locker.WithLock(ctx, shared.POReceiptLockKey(payload.PurchaseOrderID), func(ctx context.Context) error {
		status, err := j.Receipts.RecomputePOReceipt(ctx, payload.PurchaseOrderID)
		if err != nil {
			return err
		}
		logger.Info("po receipt recomputed", slog.String("status", string(status)))
		return nil
	})
	if errors.Is(err, shared.ErrNotFound) {
		logger.Warn("purchase order missing; dropping task")
		return tracker.End(asynq.SkipRetry)
	}
	if err != nil {
		logger.Error("recompute po receipt", slog.Any("error", err))
	}
	return tracker.End(err)
}

func (j *POReceiptJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskPOReceipt))
	}
	return slog.Default().With(slog.String("job", TaskPOReceipt))
}

func (j *POReceiptJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

// ChangeSource streams committed store changes.
type ChangeSource interface {
	Subscribe(ctx context.Context, prefix string, fn func(store.Change)) (func(), error)
}

// GRNReader resolves the purchase order behind a GRN.
type GRNReader interface {
	GetGRN(ctx context.Context, id string) (receiving.GRN, error)
}

// ReceiptEnqueuer schedules a recompute for one purchase order.
type ReceiptEnqueuer interface {
	EnqueuePOReceipt(ctx context.Context, poID string) error
}

// WatchReceipts schedules a PO receipt recompute whenever a GRN changes. It
// reconciles receipt status written by other processes.
func WatchReceipts(ctx context.Context, changes ChangeSource, grns GRNReader, queue ReceiptEnqueuer, logger *slog.Logger) (func(), error) {
	if logger == nil {
		logger = slog.Default()
	}
	return changes.Subscribe(ctx, receiving.Path(""), func(change store.Change) {
		grn, err := grns.GetGRN(ctx, change.ID)
		if err != nil {
			logger.Warn("receipt watch: load grn", slog.String("grn_id", change.ID), slog.Any("error", err))
			return
		}
		if grn.PurchaseOrderID == "" {
			return
		}
		if err := queue.EnqueuePOReceipt(ctx, grn.PurchaseOrderID); err != nil {
			logger.Warn("receipt watch: enqueue", slog.String("po_id", grn.PurchaseOrderID), slog.Any("error", err))
		}
	})
}
