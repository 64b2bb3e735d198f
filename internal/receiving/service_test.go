package receiving

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/procureflow/internal/notify"
	"github.com/odyssey-erp/procureflow/internal/preparation"
	"github.com/odyssey-erp/procureflow/internal/requests"
	"github.com/odyssey-erp/procureflow/internal/shared"
	"github.com/odyssey-erp/procureflow/internal/stock"
	"github.com/odyssey-erp/procureflow/internal/store"
)

var (
	receiver  = shared.Actor{ID: "u-stores", DisplayName: "Stores", Role: shared.RoleStores}
	inspector = shared.Actor{ID: "u-qc", DisplayName: "QC", Role: shared.RoleQC}
	buyer     = shared.Actor{ID: "u-buyer", Role: shared.RolePurchasing}
	delivered = time.Date(2024, 3, 8, 0, 0, 0, 0, time.UTC)
)

func dec(v string) decimal.Decimal { return decimal.RequireFromString(v) }

type fakeInvoices struct {
	err   error
	calls []string
}

func (f *fakeInvoices) AttachInvoice(_ context.Context, _ store.Tx, _ shared.Actor, grn GRN) (InvoiceRef, error) {
	if f.err != nil {
		return InvoiceRef{}, f.err
	}
	if grn.Status != StatusQCPassed {
		return InvoiceRef{}, shared.InvalidTransition("test", "grn %s is %s", grn.ID, grn.Status)
	}
	f.calls = append(f.calls, grn.ID)
	total := decimal.Zero
	for _, line := range grn.Items {
		total = total.Add(line.DeliveredQuantity.Mul(line.UnitPrice))
	}
	return InvoiceRef{ID: "inv-" + grn.ID, Total: total}, nil
}

type fixture struct {
	svc      *Service
	stock    *stock.Service
	preps    *preparation.Service
	invoices *fakeInvoices
	rec      *notify.Recorder
	store    store.Store
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	s := store.NewMemoryStore()
	rec := &notify.Recorder{}
	fan := notify.NewFanOut(rec, 0, nil)
	stockSvc := stock.NewService(stock.NewRepository(s), stock.Options{Notifier: fan})
	preps := preparation.NewService(preparation.NewRepository(s), preparation.Options{Notifier: fan, Policy: preparation.Policy{AllowOverDelivery: true}})
	invoices := &fakeInvoices{}
	svc := NewService(NewRepository(s), stockSvc, preps, invoices, Options{Notifier: fan, Audit: shared.NewAuditLogger(nil)})
	return fixture{svc: svc, stock: stockSvc, preps: preps, invoices: invoices, rec: rec, store: s}
}

func sodaLine(ordered, deliveredQty string) LineInput {
	return LineInput{
		MaterialID:        "caustic-soda",
		MaterialName:      "Caustic Soda",
		Unit:              "kg",
		OrderedQuantity:   dec(ordered),
		DeliveredQuantity: dec(deliveredQty),
		UnitPrice:         dec("120.00"),
	}
}

func header() Header {
	return Header{SupplierID: "s1", SupplierName: "Chem Supply", DeliveryDate: delivered}
}

// seedDelivered walks one request line to a delivered preparation, optionally
// on an issued purchase order.
func (f fixture) seedDelivered(t *testing.T, issuePO bool, items ...requests.Item) []preparation.DeliveryHandle {
	t.Helper()
	ctx := context.Background()
	req := requests.Request{ID: "req-1", Status: requests.StatusMDApproved, Items: items}
	var ids []string
	require.NoError(t, f.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		var err error
		ids, err = f.preps.CreateFromApprovedRequest(ctx, tx, shared.Actor{ID: "u-md"}, req)
		return err
	}))
	for _, id := range ids {
		_, err := f.preps.AssignSupplier(ctx, buyer, id, preparation.AssignInput{SupplierID: "s1", SupplierName: "Chem Supply", UnitPrice: dec("120.00"), ExpectedDeliveryDate: delivered})
		require.NoError(t, err)
	}
	if issuePO {
		_, err := f.preps.IssuePurchaseOrder(ctx, buyer, preparation.IssuePOInput{PreparationIDs: ids, Number: "PO-1"})
		require.NoError(t, err)
	}
	handles := make([]preparation.DeliveryHandle, len(ids))
	for i, id := range ids {
		_, handle, err := f.preps.MarkDelivered(ctx, buyer, id, preparation.DeliveryInput{DeliveredQuantity: items[i].Quantity.Sub(dec("20")), DeliveryDate: delivered})
		require.NoError(t, err)
		handles[i] = handle
	}
	return handles
}

func TestCreateGRNComputesVariance(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	grn, warnings, err := f.svc.CreateGRN(ctx, receiver, CreateInput{Header: header(), Items: []LineInput{sodaLine("500", "480")}})
	require.NoError(t, err)
	require.Empty(t, warnings)
	require.Equal(t, StatusPendingQC, grn.Status)
	require.True(t, grn.Items[0].Variance.Equal(dec("-20")))
	require.True(t, grn.Items[0].VariancePercent.Equal(dec("-4")))
	require.Equal(t, stock.NamespaceRaw, grn.Items[0].Category)

	exact, warnings, err := f.svc.CreateGRN(ctx, receiver, CreateInput{Header: header(), Items: []LineInput{sodaLine("500", "500")}})
	require.NoError(t, err)
	require.Empty(t, warnings)
	require.True(t, exact.Items[0].Variance.IsZero())
	require.True(t, exact.Items[0].VariancePercent.IsZero())

	short, warnings, err := f.svc.CreateGRN(ctx, receiver, CreateInput{Header: header(), Items: []LineInput{sodaLine("300", "280")}})
	require.NoError(t, err)
	require.Len(t, warnings, 1)
	require.True(t, warnings[0].VariancePercent.Equal(dec("-6.67")))
	require.Equal(t, StatusPendingQC, short.Status)
	require.Len(t, f.rec.OfKind(notify.KindGRNVarianceWarning), 1)
	require.Len(t, f.rec.OfKind(notify.KindGRNCreated), 3)
}

func TestCreateGRNValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, _, err := f.svc.CreateGRN(ctx, receiver, CreateInput{Header: header()})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, _, err = f.svc.CreateGRN(ctx, receiver, CreateInput{Header: header(), Items: []LineInput{sodaLine("0", "10")}})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, _, err = f.svc.CreateGRN(ctx, receiver, CreateInput{Header: header(), Items: []LineInput{sodaLine("10", "-1")}})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, _, err = f.svc.CreateGRN(ctx, receiver, CreateInput{Items: []LineInput{sodaLine("10", "10")}})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, _, err = f.svc.CreateGRN(ctx, receiver, CreateInput{Ref: Ref{PurchaseOrderID: "missing"}, Items: []LineInput{sodaLine("10", "10")}})
	require.ErrorIs(t, err, shared.ErrNotFound)

	grns, err := f.svc.ListGRNs(ctx, "")
	require.NoError(t, err)
	require.Empty(t, grns)
}

func TestApproveGRNPostsStockAndInvoice(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	grn, _, err := f.svc.CreateGRN(ctx, receiver, CreateInput{Header: header(), Items: []LineInput{
		sodaLine("500", "480"),
		{MaterialID: "drum", MaterialName: "Drum", Category: stock.NamespacePacking, OrderedQuantity: dec("10"), DeliveredQuantity: dec("0"), UnitPrice: dec("15")},
	}})
	require.NoError(t, err)

	approved, err := f.svc.ApproveGRN(ctx, inspector, grn.ID)
	require.NoError(t, err)
	require.Equal(t, StatusQCPassed, approved.Status)
	require.Equal(t, "inv-"+grn.ID, approved.InvoiceID)
	require.Len(t, approved.MovementIDs, 1)

	level, err := f.stock.GetLevel(ctx, stock.NamespaceRaw, "caustic-soda")
	require.NoError(t, err)
	require.True(t, level.Quantity.Equal(dec("480")))
	_, err = f.stock.GetLevel(ctx, stock.NamespacePacking, "drum")
	require.ErrorIs(t, err, shared.ErrNotFound)

	_, err = f.svc.ApproveGRN(ctx, inspector, grn.ID)
	require.ErrorIs(t, err, shared.ErrInvalidTransition)
	level, err = f.stock.GetLevel(ctx, stock.NamespaceRaw, "caustic-soda")
	require.NoError(t, err)
	require.True(t, level.Quantity.Equal(dec("480")))
	require.Len(t, f.invoices.calls, 1)

	generated := f.rec.OfKind(notify.KindInvoiceGenerated)
	require.Len(t, generated, 1)
	require.Equal(t, "57600.00", generated[0].Meta["total"])

	history, err := f.svc.History(ctx, grn.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	require.Equal(t, shared.ApprovalApprove, history[1].Action)
}

func TestApproveGRNRollsBackOnInvoiceFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	grn, _, err := f.svc.CreateGRN(ctx, receiver, CreateInput{Header: header(), Items: []LineInput{sodaLine("500", "480")}})
	require.NoError(t, err)

	f.invoices.err = shared.Dependency("test", errors.New("billing offline"))
	_, err = f.svc.ApproveGRN(ctx, inspector, grn.ID)
	require.ErrorIs(t, err, shared.ErrDependency)

	stored, err := f.svc.GetGRN(ctx, grn.ID)
	require.NoError(t, err)
	require.Equal(t, StatusPendingQC, stored.Status)
	_, err = f.stock.GetLevel(ctx, stock.NamespaceRaw, "caustic-soda")
	require.ErrorIs(t, err, shared.ErrNotFound)

	f.invoices.err = nil
	approved, err := f.svc.ApproveGRN(ctx, inspector, grn.ID)
	require.NoError(t, err)
	require.Equal(t, StatusQCPassed, approved.Status)
}

func TestRejectGRN(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	grn, _, err := f.svc.CreateGRN(ctx, receiver, CreateInput{Header: header(), Items: []LineInput{sodaLine("500", "480")}})
	require.NoError(t, err)

	_, err = f.svc.RejectGRN(ctx, inspector, grn.ID, "")
	require.ErrorIs(t, err, shared.ErrValidation)

	rejected, err := f.svc.RejectGRN(ctx, inspector, grn.ID, "contaminated")
	require.NoError(t, err)
	require.Equal(t, StatusQCFailed, rejected.Status)
	require.Equal(t, "contaminated", rejected.Decision.Reason)

	_, err = f.svc.ApproveGRN(ctx, inspector, grn.ID)
	require.ErrorIs(t, err, shared.ErrInvalidTransition)
	_, err = f.stock.GetLevel(ctx, stock.NamespaceRaw, "caustic-soda")
	require.ErrorIs(t, err, shared.ErrNotFound)
	require.Empty(t, f.invoices.calls)

	_, err = f.svc.ApproveGRN(ctx, inspector, "missing")
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestRejectGRNOnPurchaseOrderCompletes(t *testing.T) {
	f := newFixture(t)
	handles := f.seedDelivered(t, true,
		requests.Item{MaterialID: "caustic-soda", Name: "Caustic Soda", Quantity: dec("500"), Unit: "kg"},
	)
	poID := handles[0].PurchaseOrderID
	grn, _, err := f.svc.CreateGRN(context.Background(), receiver, CreateInput{Ref: Ref{PurchaseOrderID: poID}, Items: []LineInput{sodaLine("500", "480")}})
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := f.svc.RejectGRN(context.Background(), inspector, grn.ID, "torn bags")
		done <- err
	}()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("rejecting a GRN on a purchase order did not return")
	}

	po, err := f.preps.GetPurchaseOrder(context.Background(), poID)
	require.NoError(t, err)
	require.Equal(t, preparation.POStatusIssued, po.Status)
}

func TestCreateGRNOnUnknownPurchaseOrder(t *testing.T) {
	f := newFixture(t)
	_, _, err := f.svc.CreateGRN(context.Background(), receiver, CreateInput{Ref: Ref{PurchaseOrderID: "po-missing"}, Items: []LineInput{sodaLine("500", "500")}})
	require.ErrorIs(t, err, shared.ErrNotFound)
	grns, err := f.svc.ListGRNs(context.Background(), "")
	require.NoError(t, err)
	require.Empty(t, grns)
}

func TestCreateGRNFromDeliveryReceivesPreparation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	handle := f.seedDelivered(t, false, requests.Item{MaterialID: "caustic-soda", Name: "Caustic Soda", Quantity: dec("500"), Unit: "kg"})[0]

	grn, warnings, err := f.svc.CreateGRNFromDelivery(ctx, receiver, handle, Header{})
	require.NoError(t, err)
	require.Empty(t, warnings)
	require.Equal(t, handle.PreparationID, grn.PreparationID)
	require.Equal(t, "s1", grn.Header.SupplierID)
	require.True(t, grn.Items[0].DeliveredQuantity.Equal(dec("480")))

	prep, err := f.preps.Get(ctx, handle.PreparationID)
	require.NoError(t, err)
	require.Equal(t, preparation.StatusReceived, prep.Status)
	require.Equal(t, grn.ID, prep.GRNID)

	_, _, err = f.svc.CreateGRNFromDelivery(ctx, receiver, handle, Header{})
	require.ErrorIs(t, err, shared.ErrInvalidTransition)
	grns, err := f.svc.ListGRNs(ctx, StatusPendingQC)
	require.NoError(t, err)
	require.Len(t, grns, 1)
}

func TestRecomputePOReceipt(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	handles := f.seedDelivered(t, true,
		requests.Item{MaterialID: "caustic-soda", Name: "Caustic Soda", Quantity: dec("500"), Unit: "kg"},
		requests.Item{MaterialID: "resin", Name: "Resin", Quantity: dec("100"), Unit: "kg"},
	)
	poID := handles[0].PurchaseOrderID
	require.NotEmpty(t, poID)

	status, err := f.svc.RecomputePOReceipt(ctx, poID)
	require.NoError(t, err)
	require.Equal(t, preparation.POStatusIssued, status)

	first, _, err := f.svc.CreateGRN(ctx, receiver, CreateInput{Ref: Ref{PurchaseOrderID: poID}, Items: []LineInput{sodaLine("500", "500")}})
	require.NoError(t, err)
	require.Equal(t, "s1", first.Header.SupplierID)
	po, err := f.preps.GetPurchaseOrder(ctx, poID)
	require.NoError(t, err)
	require.Equal(t, preparation.POStatusPartiallyReceived, po.Status)

	second, _, err := f.svc.CreateGRN(ctx, receiver, CreateInput{Ref: Ref{PurchaseOrderID: poID}, Items: []LineInput{
		{MaterialID: "resin", OrderedQuantity: dec("100"), DeliveredQuantity: dec("100")},
	}})
	require.NoError(t, err)
	require.True(t, second.Items[0].UnitPrice.Equal(dec("120")), "unit price falls back to the PO line")
	po, err = f.preps.GetPurchaseOrder(ctx, poID)
	require.NoError(t, err)
	require.Equal(t, preparation.POStatusFullyReceived, po.Status)

	_, err = f.svc.RejectGRN(ctx, inspector, second.ID, "wet bags")
	require.NoError(t, err)
	po, err = f.preps.GetPurchaseOrder(ctx, poID)
	require.NoError(t, err)
	require.Equal(t, preparation.POStatusPartiallyReceived, po.Status)

	again, err := f.svc.RecomputePOReceipt(ctx, poID)
	require.NoError(t, err)
	require.Equal(t, preparation.POStatusPartiallyReceived, again)
}

func TestRecordQC(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	base := QCInput{SupplierID: "s1", SupplierName: "Chem Supply", MaterialID: "label", Category: stock.NamespacePacking, Grade: GradeA, DefectRate: dec("1.5"), Acceptance: Accepted, QuantityReceived: dec("40")}

	record, err := f.svc.RecordQC(ctx, inspector, base)
	require.NoError(t, err)
	require.True(t, record.QuantityAccepted.Equal(dec("40")))
	require.NotEmpty(t, record.MovementID)
	level, err := f.stock.GetLevel(ctx, stock.NamespacePacking, "label")
	require.NoError(t, err)
	require.True(t, level.Quantity.Equal(dec("40")))

	rejected := base
	rejected.Acceptance = Rejected
	rejected.Grade = GradeD
	record, err = f.svc.RecordQC(ctx, inspector, rejected)
	require.NoError(t, err)
	require.True(t, record.QuantityAccepted.IsZero())
	require.Empty(t, record.MovementID)

	over := base
	tooMany := dec("41")
	over.QuantityAccepted = &tooMany
	_, err = f.svc.RecordQC(ctx, inspector, over)
	require.ErrorIs(t, err, shared.ErrValidation)

	badRate := base
	badRate.DefectRate = dec("101")
	_, err = f.svc.RecordQC(ctx, inspector, badRate)
	require.ErrorIs(t, err, shared.ErrValidation)

	badGrade := base
	badGrade.Grade = "E"
	_, err = f.svc.RecordQC(ctx, inspector, badGrade)
	require.ErrorIs(t, err, shared.ErrValidation)

	linked := base
	linked.GRNID = "missing"
	_, err = f.svc.RecordQC(ctx, inspector, linked)
	require.ErrorIs(t, err, shared.ErrNotFound)

	level, err = f.stock.GetLevel(ctx, stock.NamespacePacking, "label")
	require.NoError(t, err)
	require.True(t, level.Quantity.Equal(dec("40")))

	records, err := f.svc.ListQCRecords(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, records, 2)

	samples, err := f.svc.QualitySamples(ctx)
	require.NoError(t, err)
	scores := preparation.Rank(samples)
	require.Len(t, scores, 1)
	require.Equal(t, 50.0, scores[0].AcceptanceRate)
	require.Equal(t, 2.5, scores[0].AverageGrade)
}
