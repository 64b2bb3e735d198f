package jobs

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/procureflow/internal/platform/httpx"
)

// Queues lists every queue the worker drains, highest weight first.
var Queues = []string{QueueNotifications, QueueReceipts, QueueDefault}

var queueWeights = map[string]int{
	QueueNotifications: 3,
	QueueReceipts:      2,
	QueueDefault:       1,
}

// Worker runs the procurement job handlers and the backfill schedule.
type Worker struct {
	server    *asynq.Server
	mux       *asynq.ServeMux
	scheduler *asynq.Scheduler
}

// WorkerConfig wires the job handlers. A nil job leaves its task type
// unhandled; an empty BackfillSpec disables the schedule.
type WorkerConfig struct {
	RedisOpts    asynq.RedisClientOpt
	Logger       *slog.Logger
	Concurrency  int
	Notify       *NotifyJob
	POReceipt    *POReceiptJob
	Backfill     *InvoiceBackfillJob
	BackfillSpec string
}

// NewWorker registers the configured jobs.
func NewWorker(cfg WorkerConfig) (*Worker, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 5
	}
	srv := asynq.NewServer(cfg.RedisOpts, asynq.Config{
		Concurrency: concurrency,
		Queues:      queueWeights,
		ErrorHandler: asynq.ErrorHandlerFunc(func(_ context.Context, task *asynq.Task, err error) {
			logger.Error("job failed", slog.String("task", task.Type()), slog.Any("error", err))
		}),
	})

	mux := asynq.NewServeMux()
	if cfg.Notify != nil {
		mux.HandleFunc(TaskNotifySend, cfg.Notify.Handle)
	}
	if cfg.POReceipt != nil {
		mux.HandleFunc(TaskPOReceipt, cfg.POReceipt.Handle)
	}
	if cfg.Backfill != nil {
		mux.HandleFunc(TaskInvoiceBackfill, cfg.Backfill.Handle)
	}

	worker := &Worker{server: srv, mux: mux}
	if cfg.Backfill != nil && cfg.BackfillSpec != "" {
		worker.scheduler = asynq.NewScheduler(cfg.RedisOpts, &asynq.SchedulerOpts{Location: time.UTC})
		if _, err := worker.scheduler.Register(cfg.BackfillSpec, NewInvoiceBackfillTask(), asynq.MaxRetry(3)); err != nil {
			return nil, err
		}
	}
	return worker, nil
}

// Run processes jobs until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	if w == nil {
		return errors.New("worker: not configured")
	}
	if err := w.server.Start(w.mux); err != nil {
		return err
	}
	if w.scheduler != nil {
		if err := w.scheduler.Start(); err != nil {
			w.server.Shutdown()
			return err
		}
	}
	<-ctx.Done()
	if w.scheduler != nil {
		w.scheduler.Shutdown()
	}
	w.server.Shutdown()
	return nil
}

// Client submits procurement jobs.
type Client struct {
	client *asynq.Client
}

// NewClient constructs an Asynq client.
func NewClient(redisOpts asynq.RedisClientOpt) *Client {
	return &Client{client: asynq.NewClient(redisOpts)}
}

// EnqueueContext implements Enqueuer.
func (c *Client) EnqueueContext(ctx context.Context, task *asynq.Task, opts ...asynq.Option) (*asynq.TaskInfo, error) {
	return c.client.EnqueueContext(ctx, task, opts...)
}

// EnqueuePOReceipt schedules receipt recomputation for a purchase order. A
// pending task for the same PO absorbs the request.
func (c *Client) EnqueuePOReceipt(ctx context.Context, poID string) error {
	task, err := NewPOReceiptTask(poID)
	if err != nil {
		return err
	}
	_, err = c.client.EnqueueContext(ctx, task)
	if errors.Is(err, asynq.ErrTaskIDConflict) {
		return nil
	}
	return err
}

// EnqueueInvoiceBackfill schedules an invoice backfill pass.
func (c *Client) EnqueueInvoiceBackfill(ctx context.Context) (*asynq.TaskInfo, error) {
	return c.client.EnqueueContext(ctx, NewInvoiceBackfillTask())
}

// Close releases client resources.
func (c *Client) Close() error {
	return c.client.Close()
}

// QueueInspector is the part of asynq.Inspector the health endpoint reads.
type QueueInspector interface {
	Queues() ([]string, error)
	GetQueueInfo(queue string) (*asynq.QueueInfo, error)
}

// QueueHealth is the backlog of one queue.
type QueueHealth struct {
	Queue     string `json:"queue"`
	Pending   int    `json:"pending"`
	Active    int    `json:"active"`
	Retry     int    `json:"retry"`
	Archived  int    `json:"archived"`
	Paused    bool   `json:"paused"`
	Processed int    `json:"processedToday"`
	Failed    int    `json:"failedToday"`
}

// Handler reports queue backlogs over HTTP.
type Handler struct {
	inspector QueueInspector
	logger    *slog.Logger
}

// NewHandler constructs the jobs handler.
func NewHandler(inspector QueueInspector, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{inspector: inspector, logger: logger}
}

// MountRoutes attaches job routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/health", h.health)
	r.Get("/health/{queue}", h.queueHealth)
}

func (h *Handler) health(w http.ResponseWriter, _ *http.Request) {
	live, err := h.liveQueues()
	if err != nil {
		h.logger.Warn("jobs health", slog.Any("error", err))
		httpx.Problem(w, http.StatusServiceUnavailable, "Queue Unavailable", err.Error())
		return
	}
	out := make([]QueueHealth, 0, len(Queues))
	for _, queue := range Queues {
		health, err := h.inspect(live, queue)
		if err != nil {
			h.logger.Warn("jobs health", slog.String("queue", queue), slog.Any("error", err))
			httpx.Problem(w, http.StatusServiceUnavailable, "Queue Unavailable", err.Error())
			return
		}
		out = append(out, health)
	}
	httpx.JSON(w, http.StatusOK, out)
}

func (h *Handler) queueHealth(w http.ResponseWriter, r *http.Request) {
	queue := chi.URLParam(r, "queue")
	if _, known := queueWeights[queue]; !known {
		httpx.Problem(w, http.StatusNotFound, "Unknown Queue", queue)
		return
	}
	live, err := h.liveQueues()
	if err == nil {
		var health QueueHealth
		if health, err = h.inspect(live, queue); err == nil {
			httpx.JSON(w, http.StatusOK, health)
			return
		}
	}
	h.logger.Warn("jobs health", slog.String("queue", queue), slog.Any("error", err))
	httpx.Problem(w, http.StatusServiceUnavailable, "Queue Unavailable", err.Error())
}

// liveQueues lists the queues that have received at least one task.
func (h *Handler) liveQueues() (map[string]bool, error) {
	live := make(map[string]bool)
	if h.inspector == nil {
		return live, nil
	}
	names, err := h.inspector.Queues()
	if err != nil {
		return nil, err
	}
	for _, name := range names {
		live[name] = true
	}
	return live, nil
}

// inspect reports a queue that never received a task as empty.
func (h *Handler) inspect(live map[string]bool, queue string) (QueueHealth, error) {
	health := QueueHealth{Queue: queue}
	if !live[queue] {
		return health, nil
	}
	info, err := h.inspector.GetQueueInfo(queue)
	if err != nil {
		return QueueHealth{}, err
	}
	health.Pending = info.Pending
	health.Active = info.Active
	health.Retry = info.Retry
	health.Archived = info.Archived
	health.Paused = info.Paused
	health.Processed = info.Processed
	health.Failed = info.Failed
	return health, nil
}
