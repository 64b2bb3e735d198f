package perf

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/procureflow/internal/billing"
	"github.com/odyssey-erp/procureflow/internal/preparation"
	"github.com/odyssey-erp/procureflow/internal/receiving"
	"github.com/odyssey-erp/procureflow/internal/shared"
	"github.com/odyssey-erp/procureflow/internal/store"
)

func matchFixture(lines int) (billing.Invoice, receiving.GRN, preparation.PurchaseOrder) {
	var (
		inv billing.Invoice
		grn receiving.GRN
		po  preparation.PurchaseOrder
	)
	price := decimal.RequireFromString("120.00")
	for i := 0; i < lines; i++ {
		id := fmt.Sprintf("mat-%03d", i)
		qty := decimal.NewFromInt(int64(100 + i))
		inv.Lines = append(inv.Lines, billing.InvoiceLine{MaterialID: id, Quantity: qty, UnitPrice: price, Amount: qty.Mul(price)})
		grn.Items = append(grn.Items, receiving.Line{LineInput: receiving.LineInput{MaterialID: id, DeliveredQuantity: qty, UnitPrice: price}})
		po.Lines = append(po.Lines, preparation.POLine{MaterialID: id, OrderedQuantity: qty, UnitPrice: price})
	}
	return inv, grn, po
}

func BenchmarkThreeWayMatch(b *testing.B) {
	for _, lines := range []int{10, 100, 500} {
		inv, grn, po := matchFixture(lines)
		b.Run(fmt.Sprintf("lines=%d", lines), func(b *testing.B) {
			b.ReportAllocs()
			for i := 0; i < b.N; i++ {
				if variances := billing.Match(inv, grn, po); len(variances) != 0 {
					b.Fatalf("unexpected variances: %d", len(variances))
				}
			}
		})
	}
}

func BenchmarkAging(b *testing.B) {
	asOf := time.Date(2026, 6, 30, 0, 0, 0, 0, time.UTC)
	invoices := make([]billing.Invoice, 10000)
	for i := range invoices {
		invoices[i] = billing.Invoice{
			Total:           decimal.NewFromInt(1000),
			RemainingAmount: decimal.NewFromInt(int64(i % 1000)),
			DueDate:         asOf.AddDate(0, 0, 60-i%180),
		}
	}
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = billing.Aging(invoices, asOf)
	}
}

func BenchmarkRecordPaymentInMemory(b *testing.B) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	inv := billing.Invoice{
		ID:              "inv-bench",
		Total:           decimal.NewFromInt(int64(b.N) + 1),
		RemainingAmount: decimal.NewFromInt(int64(b.N) + 1),
		PaymentStatus:   billing.PaymentPending,
	}
	if err := s.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		_, err := tx.Write(ctx, billing.Path(inv.ID), inv, store.NoVersion)
		return err
	}); err != nil {
		b.Fatal(err)
	}
	svc := billing.NewService(billing.NewRepository(s), nil, billing.Options{})
	actor := shared.Actor{ID: "fin-1", Role: shared.RoleFinance}
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, _, err := svc.RecordPayment(ctx, actor, billing.PaymentInput{
			InvoiceID: inv.ID,
			Amount:    decimal.NewFromInt(1),
			Method:    billing.MethodBankTransfer,
		}); err != nil {
			b.Fatal(err)
		}
	}
}
