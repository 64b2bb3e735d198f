package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/procureflow/internal/billing"
	"github.com/odyssey-erp/procureflow/internal/notify"
	"github.com/odyssey-erp/procureflow/internal/observability"
	"github.com/odyssey-erp/procureflow/internal/platform/db"
	"github.com/odyssey-erp/procureflow/internal/preparation"
	"github.com/odyssey-erp/procureflow/internal/receiving"
	"github.com/odyssey-erp/procureflow/internal/requests"
	"github.com/odyssey-erp/procureflow/internal/shared"
	"github.com/odyssey-erp/procureflow/internal/stock"
	"github.com/odyssey-erp/procureflow/internal/store"
)

// OpenStore connects the configured entity store. The returned func
// releases its resources.
func OpenStore(ctx context.Context, cfg *Config, client *redis.Client, logger *slog.Logger) (store.Store, func(), error) {
	if cfg.StoreDriver == StoreDriverMemory {
		logger.Warn("using in-memory store; data is lost on restart")
		return store.NewMemoryStore(), func() {}, nil
	}
	pool, err := db.New(ctx, cfg.PGDSN, cfg.PGMaxConns)
	if err != nil {
		return nil, nil, err
	}
	var feed store.Feed
	if client != nil {
		feed = store.NewRedisFeed(client, "", logger)
	}
	pg := store.NewPostgresStore(pool, feed, logger)
	if err := pg.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("ensure schema: %w", err)
	}
	return pg, pool.Close, nil
}

// Deps are the collaborators shared by every service.
type Deps struct {
	Config   *Config
	Logger   *slog.Logger
	Store    store.Store
	Redis    redis.Cmdable
	Notifier notify.Notifier
	Metrics  *observability.Metrics
	Clock    shared.Clock
}

// Services is the wired procurement core.
type Services struct {
	Store        store.Store
	Stock        *stock.Service
	Requests     *requests.Service
	Preparations *preparation.Service
	Receiving    *receiving.Service
	Billing      *billing.Service
	Ranker       *preparation.SupplierRanker
	Dashboard    *Dashboard
}

// NewServices wires the lifecycle: requests hand approved work to
// preparation, receiving posts to stock and asks billing for the invoice.
func NewServices(deps Deps) *Services {
	cfg := deps.Config
	if cfg == nil {
		cfg = &Config{}
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	notifier := deps.Notifier
	if notifier == nil {
		notifier = notify.NewLogNotifier(logger)
	}
	fan := notify.NewFanOut(notifier, cfg.NotifyTimeout, logger)
	approvals := shared.NewApprovalRecorder(logger)
	audit := shared.NewAuditLogger(logger)
	var observer shared.TransitionObserver = shared.NopObserver{}
	if deps.Metrics != nil {
		observer = deps.Metrics
	}
	var idempotency *shared.IdempotencyStore
	if deps.Redis != nil {
		idempotency = shared.NewIdempotencyStore(deps.Redis, cfg.IdempotencyTTL)
	}

	stockSvc := stock.NewService(stock.NewRepository(deps.Store), stock.Options{
		Logger: logger, Notifier: fan, Clock: deps.Clock,
	})
	preps := preparation.NewService(preparation.NewRepository(deps.Store), preparation.Options{
		Logger: logger, Notifier: fan, Audit: audit, Observer: observer, Clock: deps.Clock,
		Policy: preparation.Policy{AllowOverDelivery: cfg.AllowOverDelivery},
	})
	reqs := requests.NewService(requests.NewRepository(deps.Store), preps, requests.Options{
		Logger: logger, Notifier: fan, Approvals: approvals, Audit: audit, Observer: observer, Clock: deps.Clock,
		Policy: requests.Policy{ProductAutoApproveLimit: cfg.ProductAutoApproveLimit},
	})
	bill := billing.NewService(billing.NewRepository(deps.Store), preps, billing.Options{
		Logger: logger, Notifier: fan, Audit: audit, Observer: observer, Clock: deps.Clock, Idempotency: idempotency,
		Policy: billing.Policy{TaxRate: decimal.NewNullDecimal(cfg.TaxRate), DueDays: cfg.InvoiceDueDays},
	})
	recv := receiving.NewService(receiving.NewRepository(deps.Store), stockSvc, preps, bill, receiving.Options{
		Logger: logger, Notifier: fan, Approvals: approvals, Audit: audit, Observer: observer, Clock: deps.Clock,
		Policy: receiving.Policy{VarianceWarnPercent: cfg.VarianceWarnPercent},
	})

	services := &Services{
		Store:        deps.Store,
		Stock:        stockSvc,
		Requests:     reqs,
		Preparations: preps,
		Receiving:    recv,
		Billing:      bill,
		Ranker:       preparation.NewSupplierRanker(recv),
	}
	services.Dashboard = NewDashboard(services, deps.Clock)
	return services
}
