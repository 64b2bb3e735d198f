package app

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/procureflow/internal/billing"
	"github.com/odyssey-erp/procureflow/internal/platform/httpx"
	"github.com/odyssey-erp/procureflow/internal/shared"
	"github.com/odyssey-erp/procureflow/internal/stock"
)

const summaryTimeout = 2 * time.Second

// Summary is the operational overview across the lifecycle.
type Summary struct {
	Requests     map[string]int      `json:"requests"`
	Preparations map[string]int      `json:"preparations"`
	GRNs         map[string]int      `json:"grns"`
	Outstanding  OutstandingInvoices `json:"outstanding"`
	Aging        billing.AgingBucket `json:"aging"`
	LowStock     map[string]int      `json:"lowStock"`
	AsOf         time.Time           `json:"asOf"`
}

// OutstandingInvoices totals invoices that are not fully paid.
type OutstandingInvoices struct {
	Count     int             `json:"count"`
	Remaining decimal.Decimal `json:"remaining"`
}

// Dashboard aggregates read models from every service.
type Dashboard struct {
	services *Services
	clock    shared.Clock
}

// NewDashboard builds a Dashboard over the wired services.
func NewDashboard(services *Services, clock shared.Clock) *Dashboard {
	return &Dashboard{services: services, clock: clock}
}

// Summary loads every section concurrently; the first failure cancels the rest.
func (d *Dashboard) Summary(ctx context.Context) (Summary, error) {
	now := d.clock.Now()
	out := Summary{
		Requests:     map[string]int{},
		Preparations: map[string]int{},
		GRNs:         map[string]int{},
		LowStock:     map[string]int{},
		AsOf:         now,
	}
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		reqs, err := d.services.Requests.List(ctx)
		if err != nil {
			return err
		}
		for _, req := range reqs {
			out.Requests[string(req.Status)]++
		}
		return nil
	})

	g.Go(func() error {
		preps, err := d.services.Preparations.ListByStatus(ctx, "")
		if err != nil {
			return err
		}
		for _, prep := range preps {
			out.Preparations[string(prep.Status)]++
		}
		return nil
	})

	g.Go(func() error {
		grns, err := d.services.Receiving.ListGRNs(ctx, "")
		if err != nil {
			return err
		}
		for _, grn := range grns {
			out.GRNs[string(grn.Status)]++
		}
		return nil
	})

	g.Go(func() error {
		invoices, err := d.services.Billing.ListInvoices(ctx, "")
		if err != nil {
			return err
		}
		remaining := decimal.Zero
		for _, inv := range invoices {
			if inv.PaymentStatus == billing.PaymentPaid {
				continue
			}
			out.Outstanding.Count++
			remaining = remaining.Add(inv.RemainingAmount)
		}
		out.Outstanding.Remaining = remaining
		out.Aging = billing.Aging(invoices, now)
		return nil
	})

	raw, packing := 0, 0
	g.Go(func() error {
		alerts, err := d.services.Stock.LowStockAlerts(ctx, stock.NamespaceRaw)
		raw = len(alerts)
		return err
	})
	g.Go(func() error {
		alerts, err := d.services.Stock.LowStockAlerts(ctx, stock.NamespacePacking)
		packing = len(alerts)
		return err
	})

	if err := g.Wait(); err != nil {
		return Summary{}, err
	}
	out.LowStock[string(stock.NamespaceRaw)] = raw
	out.LowStock[string(stock.NamespacePacking)] = packing
	return out, nil
}

// DashboardHandler serves the summary.
type DashboardHandler struct {
	logger    *slog.Logger
	dashboard *Dashboard
}

// NewDashboardHandler builds a DashboardHandler.
func NewDashboardHandler(logger *slog.Logger, dashboard *Dashboard) *DashboardHandler {
	return &DashboardHandler{logger: logger, dashboard: dashboard}
}

// MountRoutes registers dashboard routes.
func (h *DashboardHandler) MountRoutes(r chi.Router) {
	r.Get("/dashboard", h.summary)
}

func (h *DashboardHandler) summary(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), summaryTimeout)
	defer cancel()
	summary, err := h.dashboard.Summary(ctx)
	if err != nil {
		h.logger.Error("dashboard summary", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, summary)
}
