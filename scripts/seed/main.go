package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/procureflow/internal/app"
	"github.com/odyssey-erp/procureflow/internal/billing"
	"github.com/odyssey-erp/procureflow/internal/platform/cache"
	"github.com/odyssey-erp/procureflow/internal/preparation"
	"github.com/odyssey-erp/procureflow/internal/receiving"
	"github.com/odyssey-erp/procureflow/internal/requests"
	"github.com/odyssey-erp/procureflow/internal/shared"
	"github.com/odyssey-erp/procureflow/internal/stock"
)

var (
	staff    = shared.Actor{ID: "seed-staff", DisplayName: "Seed Staff", Role: shared.RoleStaff}
	head     = shared.Actor{ID: "seed-head", DisplayName: "Seed Operations Head", Role: shared.RoleOperationsHead}
	director = shared.Actor{ID: "seed-director", DisplayName: "Seed Director", Role: shared.RoleDirector}
	buyer    = shared.Actor{ID: "seed-buyer", DisplayName: "Seed Purchasing", Role: shared.RolePurchasing}
	stores   = shared.Actor{ID: "seed-stores", DisplayName: "Seed Stores", Role: shared.RoleStores}
	qc       = shared.Actor{ID: "seed-qc", DisplayName: "Seed QC", Role: shared.RoleQC}
	finance  = shared.Actor{ID: "seed-finance", DisplayName: "Seed Finance", Role: shared.RoleFinance}
)

type material struct {
	id        string
	name      string
	unit      string
	ns        stock.Namespace
	reorder   string
	order     string
	delivered string
	price     string
}

var catalogue = []material{
	{id: "caustic-soda", name: "Caustic Soda", unit: "kg", ns: stock.NamespaceRaw, reorder: "200", order: "500", delivered: "480", price: "120.00"},
	{id: "palm-oil", name: "Palm Oil", unit: "l", ns: stock.NamespaceRaw, reorder: "300", order: "800", delivered: "800", price: "14500.00"},
	{id: "carton-24", name: "Carton 24 pcs", unit: "pcs", ns: stock.NamespacePacking, reorder: "1000", order: "2500", delivered: "2600", price: "3200.00"},
}

func main() {
	ctx := context.Background()
	cfg, err := app.LoadConfig()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	logger := app.NewLogger(cfg)

	var client *redis.Client
	if c, err := cache.New(ctx, cfg.RedisAddr); err != nil {
		log.Printf("redis unavailable, seeding without it: %v", err)
	} else {
		client = c
		defer client.Close()
	}
	st, closeStore, err := app.OpenStore(ctx, cfg, client, logger)
	if err != nil {
		log.Fatalf("open store: %v", err)
	}
	defer closeStore()

	deps := app.Deps{Config: cfg, Logger: logger, Store: st}
	if client != nil {
		deps.Redis = client
	}
	svc := app.NewServices(deps)

	fmt.Println("→ Seeding reorder levels...")
	for _, m := range catalogue {
		if _, err := svc.Stock.SetReorderLevel(ctx, stores, m.ns, m.id, decimal.RequireFromString(m.reorder)); err != nil {
			log.Fatalf("reorder level %s: %v", m.id, err)
		}
	}

	fmt.Println("→ Seeding procurement cycles...")
	today := time.Now().UTC().Truncate(24 * time.Hour)
	for i, m := range catalogue {
		inv, err := seedCycle(ctx, svc, m, i+1, today)
		if err != nil {
			log.Fatalf("cycle %s: %v", m.id, err)
		}
		fmt.Printf("   %s → invoice %s total %s\n", m.id, inv.Number, inv.Total.StringFixed(2))
	}
	fmt.Println("✓ Seed complete")
}

func seedCycle(ctx context.Context, svc *app.Services, m material, seq int, today time.Time) (billing.Invoice, error) {
	req, err := svc.Requests.CreateRequest(ctx, staff, requests.CreateInput{
		Kind:  requests.KindMaterial,
		Title: "Seed " + m.name,
		Items: []requests.Item{{MaterialID: m.id, Name: m.name, Quantity: decimal.RequireFromString(m.order), Unit: m.unit, Category: m.ns}},
	})
	if err != nil {
		return billing.Invoice{}, fmt.Errorf("create request: %w", err)
	}
	if _, err := svc.Requests.ApproveAtOperationsHead(ctx, head, req.ID, "seed"); err != nil {
		return billing.Invoice{}, fmt.Errorf("ho approve: %w", err)
	}
	req, err = svc.Requests.ApproveAtDirector(ctx, director, req.ID, "seed")
	if err != nil {
		return billing.Invoice{}, fmt.Errorf("md approve: %w", err)
	}
	prepID := req.PreparationIDs[0]
	if _, err := svc.Preparations.AssignSupplier(ctx, buyer, prepID, preparation.AssignInput{
		SupplierID:           fmt.Sprintf("sup-%d", seq),
		SupplierName:         fmt.Sprintf("Seed Supplier %d", seq),
		UnitPrice:            decimal.RequireFromString(m.price),
		ExpectedDeliveryDate: today.AddDate(0, 0, 7),
	}); err != nil {
		return billing.Invoice{}, fmt.Errorf("assign supplier: %w", err)
	}
	if _, err := svc.Preparations.IssuePurchaseOrder(ctx, buyer, preparation.IssuePOInput{
		PreparationIDs: []string{prepID},
		Number:         fmt.Sprintf("PO-SEED-%03d", seq),
	}); err != nil {
		return billing.Invoice{}, fmt.Errorf("issue po: %w", err)
	}
	_, handle, err := svc.Preparations.MarkDelivered(ctx, buyer, prepID, preparation.DeliveryInput{
		DeliveredQuantity: decimal.RequireFromString(m.delivered),
		DeliveryDate:      today,
	})
	if err != nil {
		return billing.Invoice{}, fmt.Errorf("mark delivered: %w", err)
	}
	grn, _, err := svc.Receiving.CreateGRNFromDelivery(ctx, stores, handle, receiving.Header{})
	if err != nil {
		return billing.Invoice{}, fmt.Errorf("create grn: %w", err)
	}
	grn, err = svc.Receiving.ApproveGRN(ctx, qc, grn.ID)
	if err != nil {
		return billing.Invoice{}, fmt.Errorf("approve grn: %w", err)
	}
	inv, err := svc.Billing.GetInvoice(ctx, grn.InvoiceID)
	if err != nil {
		return billing.Invoice{}, err
	}
	half := inv.Total.Div(decimal.NewFromInt(2)).Round(2)
	inv, _, err = svc.Billing.RecordPayment(ctx, finance, billing.PaymentInput{
		InvoiceID: inv.ID,
		Amount:    half,
		Method:    billing.MethodBankTransfer,
		Reference: fmt.Sprintf("SEED-TRX-%03d", seq),
	})
	if err != nil {
		return billing.Invoice{}, fmt.Errorf("record payment: %w", err)
	}
	return inv, nil
}
