package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/odyssey-erp/procureflow/internal/jobs"
	"github.com/odyssey-erp/procureflow/internal/notify"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// QueueNotifications carries workflow notifications.
	QueueNotifications = "notifications"
	// QueueReceipts carries purchase order receipt recomputation.
	QueueReceipts = "receipts"
	// TaskNotifySend delivers one workflow notification.
	TaskNotifySend = "notify:send"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// NewNotifyTask constructs an Asynq task for a notification.
func NewNotifyTask(n notify.Notification) (*asynq.Task, error) {
	data, err := json.Marshal(n)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskNotifySend, data, asynq.Queue(QueueNotifications), asynq.MaxRetry(5)), nil
}

// Enqueuer is the part of asynq.Client used to submit tasks.
type Enqueuer interface {
	EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error)
}

// QueueNotifier implements notify.Notifier by enqueueing notify:send tasks,
// so delivery happens in the worker and never in the request path.
type QueueNotifier struct {
	client Enqueuer
}

// NewQueueNotifier wraps an asynq client.
func NewQueueNotifier(client Enqueuer) *QueueNotifier {
	return &QueueNotifier{client: client}
}

// Notify implements notify.Notifier.
func (q *QueueNotifier) Notify(ctx context.Context, n notify.Notification) error {
	if q == nil || q.client == nil {
		return errors.New("queue notifier: client not configured")
	}
	task, err := NewNotifyTask(n)
	if err != nil {
		return err
	}
	_, err = q.client.EnqueueContext(ctx, task)
	return err
}

// NotifyJob hands queued notifications to the delivery channel.
type NotifyJob struct {
	Delivery notify.Notifier
	Logger   *slog.Logger
	Metrics  *jobmetrics.Metrics
}

// Handle processes TaskNotifySend tasks.
func (j *NotifyJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Delivery == nil {
		return errors.New("notify: handler not configured")
	}
	var n notify.Notification
	if err := json.Unmarshal(t.Payload(), &n); err != nil {
		return asynq.SkipRetry
	}
	tracker := j.metrics().Track(TaskNotifySend)
	err := j.Delivery.Notify(ctx, n)
	j.metrics().NotificationDelivered(string(n.Kind), err == nil)
	if err != nil {
		j.logger().Warn("deliver notification",
			slog.String("kind", string(n.Kind)),
			slog.String("recipient", n.Recipient.String()),
			slog.Any("error", err))
	}
	return tracker.End(err)
}

func (j *NotifyJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskNotifySend))
	}
	return slog.Default().With(slog.String("job", TaskNotifySend))
}

func (j *NotifyJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}
