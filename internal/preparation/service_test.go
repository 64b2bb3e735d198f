package preparation

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/procureflow/internal/notify"
	"github.com/odyssey-erp/procureflow/internal/requests"
	"github.com/odyssey-erp/procureflow/internal/shared"
	"github.com/odyssey-erp/procureflow/internal/stock"
	"github.com/odyssey-erp/procureflow/internal/store"
)

var (
	buyer    = shared.Actor{ID: "u-buyer", DisplayName: "Buyer", Role: shared.RolePurchasing}
	director = shared.Actor{ID: "u-md", Role: shared.RoleDirector}
	deadline = time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)
)

func dec(v string) decimal.Decimal { return decimal.RequireFromString(v) }

func newTestService(t *testing.T, policy Policy) (*Service, *notify.Recorder, store.Store) {
	t.Helper()
	s := store.NewMemoryStore()
	rec := &notify.Recorder{}
	svc := NewService(NewRepository(s), Options{Notifier: notify.NewFanOut(rec, 0, nil), Policy: policy})
	return svc, rec, s
}

func approvedRequest(items ...requests.Item) requests.Request {
	return requests.Request{ID: "req-1", Kind: requests.KindMaterial, Status: requests.StatusMDApproved, Items: items}
}

func soda() requests.Item {
	return requests.Item{MaterialID: "caustic-soda", Name: "Caustic Soda", Quantity: dec("500"), Unit: "kg", Category: stock.NamespaceRaw}
}

func seed(t *testing.T, svc *Service, s store.Store, req requests.Request) []string {
	t.Helper()
	var ids []string
	err := s.WithTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		var err error
		ids, err = svc.CreateFromApprovedRequest(ctx, tx, director, req)
		return err
	})
	require.NoError(t, err)
	return ids
}

func assign(t *testing.T, svc *Service, id, supplier string, price string) Preparation {
	t.Helper()
	prep, err := svc.AssignSupplier(context.Background(), buyer, id, AssignInput{
		SupplierID: supplier, SupplierName: supplier + " Chemicals", UnitPrice: dec(price), ExpectedDeliveryDate: deadline,
	})
	require.NoError(t, err)
	return prep
}

func TestCreateFromApprovedRequestIsDeterministic(t *testing.T) {
	svc, _, s := newTestService(t, Policy{})
	req := approvedRequest(soda(), requests.Item{MaterialID: "drum", Name: "Drum", Quantity: dec("20"), Unit: "pcs", Category: stock.NamespacePacking})

	first := seed(t, svc, s, req)
	require.Equal(t, []string{"req-1-1", "req-1-2"}, first)
	second := seed(t, svc, s, req)
	require.Equal(t, first, second)

	preps, err := svc.ListByRequest(context.Background(), "req-1")
	require.NoError(t, err)
	require.Len(t, preps, 2)
	require.Equal(t, StatusAwaitingSupplier, preps[0].Status)
	require.Equal(t, stock.NamespacePacking, preps[1].Category)
}

func TestCreateFromUnapprovedRequestFails(t *testing.T) {
	svc, _, s := newTestService(t, Policy{})
	req := approvedRequest(soda())
	req.Status = requests.StatusForwardedToMD
	err := s.WithTx(context.Background(), func(ctx context.Context, tx store.Tx) error {
		_, err := svc.CreateFromApprovedRequest(ctx, tx, director, req)
		return err
	})
	require.ErrorIs(t, err, shared.ErrInvalidTransition)
}

func TestAssignSupplierAndDeliver(t *testing.T) {
	svc, rec, s := newTestService(t, Policy{AllowOverDelivery: true})
	ctx := context.Background()
	id := seed(t, svc, s, approvedRequest(soda()))[0]

	_, _, err := svc.MarkDelivered(ctx, buyer, id, DeliveryInput{DeliveredQuantity: dec("480"), DeliveryDate: deadline})
	require.ErrorIs(t, err, shared.ErrInvalidTransition)

	_, err = svc.AssignSupplier(ctx, buyer, id, AssignInput{SupplierID: "s1", SupplierName: "S1", UnitPrice: dec("0"), ExpectedDeliveryDate: deadline})
	require.ErrorIs(t, err, shared.ErrValidation)

	prep := assign(t, svc, id, "s1", "120.00")
	require.Equal(t, StatusSupplierAssigned, prep.Status)
	require.Len(t, rec.OfKind(notify.KindSupplierAssigned), 1)

	_, err = svc.AssignSupplier(ctx, buyer, id, AssignInput{SupplierID: "s2", SupplierName: "S2", UnitPrice: dec("1"), ExpectedDeliveryDate: deadline})
	require.ErrorIs(t, err, shared.ErrInvalidTransition)

	_, _, err = svc.MarkDelivered(ctx, buyer, id, DeliveryInput{DeliveredQuantity: dec("-1"), DeliveryDate: deadline})
	require.ErrorIs(t, err, shared.ErrValidation)

	prep, handle, err := svc.MarkDelivered(ctx, buyer, id, DeliveryInput{DeliveredQuantity: dec("480"), DeliveryDate: deadline, BatchNumber: "B-77"})
	require.NoError(t, err)
	require.Equal(t, StatusDelivered, prep.Status)
	require.Equal(t, id, handle.PreparationID)
	require.True(t, handle.OrderedQuantity.Equal(dec("500")))
	require.True(t, handle.DeliveredQuantity.Equal(dec("480")))
	require.True(t, handle.UnitPrice.Equal(dec("120")))
	require.Equal(t, "s1", handle.SupplierID)

	again, err := svc.Handle(ctx, id)
	require.NoError(t, err)
	require.Equal(t, handle.BatchNumber, again.BatchNumber)
}

func TestOverDeliveryPolicy(t *testing.T) {
	strict, _, s := newTestService(t, Policy{})
	id := seed(t, strict, s, approvedRequest(soda()))[0]
	assign(t, strict, id, "s1", "120")
	_, _, err := strict.MarkDelivered(context.Background(), buyer, id, DeliveryInput{DeliveredQuantity: dec("510"), DeliveryDate: deadline})
	require.ErrorIs(t, err, shared.ErrValidation)

	lenient, _, s2 := newTestService(t, Policy{AllowOverDelivery: true})
	id = seed(t, lenient, s2, approvedRequest(soda()))[0]
	assign(t, lenient, id, "s1", "120")
	prep, _, err := lenient.MarkDelivered(context.Background(), buyer, id, DeliveryInput{DeliveredQuantity: dec("510"), DeliveryDate: deadline})
	require.NoError(t, err)
	require.True(t, prep.Delivery.Over)
}

func TestSubmitAllocation(t *testing.T) {
	svc, _, s := newTestService(t, Policy{})
	ctx := context.Background()
	id := seed(t, svc, s, approvedRequest(soda()))[0]

	_, err := svc.SubmitAllocation(ctx, buyer, id, []Split{
		{SupplierID: "s1", SupplierName: "S1", Quantity: dec("200"), UnitPrice: dec("118"), DeliveryDate: deadline},
		{SupplierID: "s2", SupplierName: "S2", Quantity: dec("250"), UnitPrice: dec("121"), DeliveryDate: deadline},
	})
	require.ErrorIs(t, err, shared.ErrValidation)

	unchanged, err := svc.Get(ctx, id)
	require.NoError(t, err)
	require.Equal(t, StatusAwaitingSupplier, unchanged.Status)
	require.Nil(t, unchanged.Allocation)

	prep, err := svc.SubmitAllocation(ctx, buyer, id, []Split{
		{SupplierID: "s1", SupplierName: "S1", Quantity: dec("200"), UnitPrice: dec("118"), DeliveryDate: deadline},
		{SupplierID: "s2", SupplierName: "S2", Quantity: dec("300"), UnitPrice: dec("121"), DeliveryDate: deadline},
	})
	require.NoError(t, err)
	require.Equal(t, StatusSupplierAssigned, prep.Status)
	require.Equal(t, "s2", prep.Supplier.SupplierID)
	require.True(t, prep.Allocation.Allocated.Equal(dec("500")))
	require.True(t, prep.Allocation.Value.Equal(dec("59900")))
}

func TestAllocationRecomputesOnMutation(t *testing.T) {
	alloc := NewAllocation(dec("10"))
	require.False(t, alloc.Balanced())
	require.Error(t, alloc.Add(Split{SupplierID: "s1", Quantity: dec("0"), UnitPrice: dec("1")}))
	require.NoError(t, alloc.Add(Split{SupplierID: "s1", Quantity: dec("4"), UnitPrice: dec("2.5")}))
	require.ErrorIs(t, alloc.Validate(), ErrUnbalancedAllocation)
	require.NoError(t, alloc.Add(Split{SupplierID: "s2", Quantity: dec("6"), UnitPrice: dec("3")}))
	require.NoError(t, alloc.Validate())
	require.True(t, alloc.Value.Equal(dec("28")))
	require.Equal(t, "s2", alloc.Primary().SupplierID)
}

func TestMarkReceivedRequiresDelivery(t *testing.T) {
	svc, _, s := newTestService(t, Policy{})
	ctx := context.Background()
	id := seed(t, svc, s, approvedRequest(soda()))[0]

	receive := func() error {
		return s.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
			return svc.MarkReceived(ctx, tx, buyer, id, "grn-1")
		})
	}
	require.ErrorIs(t, receive(), shared.ErrInvalidTransition)

	assign(t, svc, id, "s1", "120")
	_, _, err := svc.MarkDelivered(ctx, buyer, id, DeliveryInput{DeliveredQuantity: dec("500"), DeliveryDate: deadline})
	require.NoError(t, err)
	require.NoError(t, receive())

	prep, err := svc.Get(ctx, id)
	require.NoError(t, err)
	require.Equal(t, StatusReceived, prep.Status)
	require.Equal(t, "grn-1", prep.GRNID)
	require.ErrorIs(t, receive(), shared.ErrInvalidTransition)
}

func TestIssuePurchaseOrder(t *testing.T) {
	svc, rec, s := newTestService(t, Policy{})
	ctx := context.Background()
	ids := seed(t, svc, s, approvedRequest(soda(), requests.Item{MaterialID: "resin", Name: "Resin", Quantity: dec("40"), Unit: "kg"}, requests.Item{MaterialID: "drum", Name: "Drum", Quantity: dec("5"), Unit: "pcs"}))

	_, err := svc.IssuePurchaseOrder(ctx, buyer, IssuePOInput{PreparationIDs: []string{ids[0]}})
	require.ErrorIs(t, err, shared.ErrInvalidTransition)

	assign(t, svc, ids[0], "s1", "120")
	assign(t, svc, ids[1], "s1", "45.5")
	assign(t, svc, ids[2], "s2", "10")

	_, err = svc.IssuePurchaseOrder(ctx, buyer, IssuePOInput{PreparationIDs: []string{ids[0], ids[2]}})
	require.ErrorIs(t, err, shared.ErrValidation)

	po, err := svc.IssuePurchaseOrder(ctx, buyer, IssuePOInput{PreparationIDs: []string{ids[0], ids[1]}, Number: "PO-001"})
	require.NoError(t, err)
	require.Equal(t, POStatusIssued, po.Status)
	require.Equal(t, "s1", po.SupplierID)
	require.Len(t, po.Lines, 2)
	require.Equal(t, deadline, po.ExpectedDate)
	line, ok := po.Line("resin")
	require.True(t, ok)
	require.True(t, line.UnitPrice.Equal(dec("45.5")))
	require.Len(t, rec.OfKind(notify.KindPurchaseOrderIssued), 1)

	prep, err := svc.Get(ctx, ids[0])
	require.NoError(t, err)
	require.Equal(t, po.ID, prep.PurchaseOrderID)

	_, err = svc.IssuePurchaseOrder(ctx, buyer, IssuePOInput{PreparationIDs: []string{ids[0]}})
	require.ErrorIs(t, err, shared.ErrInvalidTransition)

	err = s.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		changed, err := svc.UpdatePOReceiptStatus(ctx, tx, po.ID, POStatusPartiallyReceived)
		require.True(t, changed)
		return err
	})
	require.NoError(t, err)
	stored, err := svc.GetPurchaseOrder(ctx, po.ID)
	require.NoError(t, err)
	require.Equal(t, POStatusPartiallyReceived, stored.Status)
}

type countingSource struct {
	calls   atomic.Int32
	release chan struct{}
	samples []QualitySample
	err     error
}

func (c *countingSource) QualitySamples(context.Context) ([]QualitySample, error) {
	c.calls.Add(1)
	if c.release != nil {
		<-c.release
	}
	return c.samples, c.err
}

func TestRankSuppliers(t *testing.T) {
	source := &countingSource{samples: []QualitySample{
		{SupplierID: "s1", Grade: "A", Accepted: true},
		{SupplierID: "s1", Grade: "B", Accepted: true},
		{SupplierID: "s2", Grade: "A", Accepted: true},
		{SupplierID: "s2", Grade: "D", Accepted: false},
		{SupplierID: "s3", Grade: "A", Accepted: true},
	}}
	ranker := NewSupplierRanker(source)

	scores, err := ranker.RankSuppliers(context.Background())
	require.NoError(t, err)
	require.Len(t, scores, 3)
	require.Equal(t, "s3", scores[0].SupplierID)
	require.Equal(t, 4.0, scores[0].AverageGrade)
	require.Equal(t, "s1", scores[1].SupplierID)
	require.Equal(t, 3.5, scores[1].AverageGrade)
	require.Equal(t, 100.0, scores[1].AcceptanceRate)
	require.Equal(t, "s2", scores[2].SupplierID)
	require.Equal(t, 50.0, scores[2].AcceptanceRate)
}

func TestRankSuppliersSharesConcurrentCalls(t *testing.T) {
	source := &countingSource{release: make(chan struct{}), samples: []QualitySample{{SupplierID: "s1", Grade: "A", Accepted: true}}}
	ranker := NewSupplierRanker(source)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			scores, err := ranker.RankSuppliers(context.Background())
			assert.NoError(t, err)
			assert.Len(t, scores, 1)
		}()
	}
	time.Sleep(50 * time.Millisecond)
	close(source.release)
	wg.Wait()
	require.Equal(t, int32(1), source.calls.Load())
}

func TestRankSuppliersDependencyFailure(t *testing.T) {
	ranker := NewSupplierRanker(&countingSource{err: errors.New("store offline")})
	_, err := ranker.RankSuppliers(context.Background())
	require.ErrorIs(t, err, shared.ErrDependency)
}
