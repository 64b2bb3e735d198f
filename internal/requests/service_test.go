package requests

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/procureflow/internal/notify"
	"github.com/odyssey-erp/procureflow/internal/shared"
	"github.com/odyssey-erp/procureflow/internal/store"
)

var (
	requester = shared.Actor{ID: "u-staff", DisplayName: "Rina", Role: shared.RoleStaff}
	opsHead   = shared.Actor{ID: "u-ho", DisplayName: "Ops Head", Role: shared.RoleOperationsHead}
	director  = shared.Actor{ID: "u-md", DisplayName: "Director", Role: shared.RoleDirector}
)

type fakePreparations struct {
	calls []string
	err   error
}

func (f *fakePreparations) CreateFromApprovedRequest(_ context.Context, _ store.Tx, _ shared.Actor, req Request) ([]string, error) {
	if f.err != nil {
		return nil, f.err
	}
	if req.Status != StatusMDApproved {
		return nil, shared.InvalidTransition("test", "request %s is %s", req.ID, req.Status)
	}
	f.calls = append(f.calls, req.ID)
	ids := make([]string, len(req.Items))
	for i := range req.Items {
		ids[i] = fmt.Sprintf("%s-%d", req.ID, i+1)
	}
	return ids, nil
}

type fixture struct {
	svc   *Service
	preps *fakePreparations
	rec   *notify.Recorder
	store store.Store
}

func newFixture(t *testing.T, policy Policy) fixture {
	t.Helper()
	s := store.NewMemoryStore()
	preps := &fakePreparations{}
	rec := &notify.Recorder{}
	now := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	svc := NewService(NewRepository(s), preps, Options{
		Notifier: notify.NewFanOut(rec, 0, nil),
		Audit:    shared.NewAuditLogger(nil),
		Clock:    func() time.Time { return now },
		Policy:   policy,
	})
	return fixture{svc: svc, preps: preps, rec: rec, store: s}
}

func causticSoda() CreateInput {
	return CreateInput{
		Kind:  KindMaterial,
		Title: "Caustic soda restock",
		Items: []Item{{MaterialID: "caustic-soda", Name: "Caustic Soda", Quantity: decimal.NewFromInt(500), Unit: "kg"}},
	}
}

func TestCreateRequestValidation(t *testing.T) {
	f := newFixture(t, Policy{})
	ctx := context.Background()

	_, err := f.svc.CreateRequest(ctx, requester, CreateInput{Kind: KindMaterial})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = f.svc.CreateRequest(ctx, requester, CreateInput{Items: []Item{{Name: "x", Quantity: decimal.NewFromInt(1), Unit: "kg"}}})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = f.svc.CreateRequest(ctx, requester, CreateInput{Items: []Item{{MaterialID: "m", Name: "x", Quantity: decimal.Zero, Unit: "kg"}}})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = f.svc.CreateRequest(ctx, shared.Actor{}, causticSoda())
	require.ErrorIs(t, err, shared.ErrValidation)

	all, err := f.svc.List(ctx)
	require.NoError(t, err)
	require.Empty(t, all)
}

func TestHappyPathCreatesPreparations(t *testing.T) {
	f := newFixture(t, Policy{})
	ctx := context.Background()

	req, err := f.svc.CreateRequest(ctx, requester, causticSoda())
	require.NoError(t, err)
	require.Equal(t, StatusPendingHO, req.Status)
	require.Len(t, f.rec.OfKind(notify.KindRequestCreated), 1)

	req, err = f.svc.ApproveAtOperationsHead(ctx, opsHead, req.ID, "ok")
	require.NoError(t, err)
	require.Equal(t, StatusForwardedToMD, req.Status)
	require.Equal(t, opsHead.ID, req.HeadApproval.Actor.ID)
	require.Equal(t, "ok", req.HeadApproval.Comments)
	forwarded := f.rec.OfKind(notify.KindRequestForwarded)
	require.Len(t, forwarded, 1)
	require.Equal(t, shared.RoleDirector, forwarded[0].Recipient.Role)

	req, err = f.svc.ApproveAtDirector(ctx, director, req.ID, "")
	require.NoError(t, err)
	require.Equal(t, StatusMDApproved, req.Status)
	require.Equal(t, []string{req.ID + "-1"}, req.PreparationIDs)
	require.Len(t, f.rec.OfKind(notify.KindPreparationCreated), 1)
	require.Len(t, f.rec.OfKind(notify.KindRequestApproved), 1)

	history, err := f.svc.History(ctx, req.ID)
	require.NoError(t, err)
	require.Len(t, history, 3)
	require.Equal(t, shared.ApprovalSubmit, history[0].Action)
	require.Equal(t, shared.ApprovalApprove, history[2].Action)
	require.Equal(t, director.ID, history[2].Actor.ID)
}

func TestWrongStateLeavesRequestUnchanged(t *testing.T) {
	f := newFixture(t, Policy{})
	ctx := context.Background()

	req, err := f.svc.CreateRequest(ctx, requester, causticSoda())
	require.NoError(t, err)

	_, err = f.svc.ApproveAtDirector(ctx, director, req.ID, "")
	require.ErrorIs(t, err, shared.ErrInvalidTransition)

	_, err = f.svc.ApproveAtOperationsHead(ctx, opsHead, req.ID, "")
	require.NoError(t, err)
	_, err = f.svc.ApproveAtOperationsHead(ctx, opsHead, req.ID, "again")
	require.ErrorIs(t, err, shared.ErrInvalidTransition)

	stored, err := f.svc.Get(ctx, req.ID)
	require.NoError(t, err)
	require.Equal(t, StatusForwardedToMD, stored.Status)
	require.Empty(t, stored.HeadApproval.Comments)
	require.Empty(t, f.preps.calls)
}

func TestRejectionFlow(t *testing.T) {
	f := newFixture(t, Policy{})
	ctx := context.Background()

	req, err := f.svc.CreateRequest(ctx, requester, causticSoda())
	require.NoError(t, err)

	_, err = f.svc.RejectAtOperationsHead(ctx, opsHead, req.ID, "  ")
	require.ErrorIs(t, err, shared.ErrValidation)

	rejected, err := f.svc.RejectAtOperationsHead(ctx, opsHead, req.ID, "budget exceeded")
	require.NoError(t, err)
	require.Equal(t, StatusRejected, rejected.Status)
	require.Equal(t, StatusPendingHO, rejected.Rejection.Stage)
	require.Equal(t, "budget exceeded", rejected.Rejection.Reason)

	notes := f.rec.OfKind(notify.KindRequestRejected)
	require.Len(t, notes, 1)
	require.Equal(t, requester.ID, notes[0].Recipient.UserID)
	require.Equal(t, "budget exceeded", notes[0].Meta["reason"])

	_, err = f.svc.ApproveAtDirector(ctx, director, req.ID, "")
	require.ErrorIs(t, err, shared.ErrInvalidTransition)

	stored, err := f.svc.Get(ctx, req.ID)
	require.NoError(t, err)
	require.Equal(t, StatusRejected, stored.Status)
	require.Empty(t, stored.PreparationIDs)
	require.Empty(t, f.preps.calls)
}

func TestDirectorRejection(t *testing.T) {
	f := newFixture(t, Policy{})
	ctx := context.Background()

	req, err := f.svc.CreateRequest(ctx, requester, causticSoda())
	require.NoError(t, err)
	_, err = f.svc.RejectAtDirector(ctx, director, req.ID, "not yet")
	require.ErrorIs(t, err, shared.ErrInvalidTransition)

	_, err = f.svc.ApproveAtOperationsHead(ctx, opsHead, req.ID, "")
	require.NoError(t, err)
	rejected, err := f.svc.RejectAtDirector(ctx, director, req.ID, "postpone to Q3")
	require.NoError(t, err)
	require.Equal(t, StatusForwardedToMD, rejected.Rejection.Stage)
	require.True(t, rejected.Status.Terminal())
}

func TestPreparationFailureRollsBackApproval(t *testing.T) {
	f := newFixture(t, Policy{})
	ctx := context.Background()

	req, err := f.svc.CreateRequest(ctx, requester, causticSoda())
	require.NoError(t, err)
	_, err = f.svc.ApproveAtOperationsHead(ctx, opsHead, req.ID, "")
	require.NoError(t, err)

	f.preps.err = shared.Dependency("test", fmt.Errorf("store offline"))
	_, err = f.svc.ApproveAtDirector(ctx, director, req.ID, "")
	require.ErrorIs(t, err, shared.ErrDependency)

	stored, err := f.svc.Get(ctx, req.ID)
	require.NoError(t, err)
	require.Equal(t, StatusForwardedToMD, stored.Status)
	require.Nil(t, stored.DirectorApproval)

	history, err := f.svc.History(ctx, req.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
}

func TestUnknownRequestIsNotFound(t *testing.T) {
	f := newFixture(t, Policy{})
	_, err := f.svc.ApproveAtOperationsHead(context.Background(), opsHead, "missing", "")
	require.ErrorIs(t, err, shared.ErrNotFound)
	_, err = f.svc.Get(context.Background(), "missing")
	require.ErrorIs(t, err, shared.ErrNotFound)
}

func TestProductAutoApprovalUnderLimit(t *testing.T) {
	f := newFixture(t, Policy{ProductAutoApproveLimit: decimal.NewFromInt(1000)})
	ctx := context.Background()
	price := decimal.NewFromInt(25)

	small, err := f.svc.CreateRequest(ctx, requester, CreateInput{
		Kind:  KindProduct,
		Items: []Item{{MaterialID: "label", Name: "Label roll", Quantity: decimal.NewFromInt(10), Unit: "roll", Category: "packing", EstimatedUnitPrice: &price}},
	})
	require.NoError(t, err)
	small, err = f.svc.ApproveAtOperationsHead(ctx, opsHead, small.ID, "")
	require.NoError(t, err)
	require.Equal(t, StatusMDApproved, small.Status)
	require.True(t, small.AutoApproved)
	require.Len(t, small.PreparationIDs, 1)

	unpriced, err := f.svc.CreateRequest(ctx, requester, CreateInput{
		Kind:  KindProduct,
		Items: []Item{{MaterialID: "label", Name: "Label roll", Quantity: decimal.NewFromInt(1), Unit: "roll"}},
	})
	require.NoError(t, err)
	unpriced, err = f.svc.ApproveAtOperationsHead(ctx, opsHead, unpriced.ID, "")
	require.NoError(t, err)
	require.Equal(t, StatusForwardedToMD, unpriced.Status)

	material, err := f.svc.CreateRequest(ctx, requester, causticSoda())
	require.NoError(t, err)
	material, err = f.svc.ApproveAtOperationsHead(ctx, opsHead, material.ID, "")
	require.NoError(t, err)
	require.Equal(t, StatusForwardedToMD, material.Status)
}

func TestQueriesAcceptLegacyStatusNames(t *testing.T) {
	f := newFixture(t, Policy{})
	ctx := context.Background()

	first, err := f.svc.CreateRequest(ctx, requester, causticSoda())
	require.NoError(t, err)
	second, err := f.svc.CreateRequest(ctx, shared.Actor{ID: "u-other", Role: shared.RoleStaff}, causticSoda())
	require.NoError(t, err)
	_, err = f.svc.ApproveAtOperationsHead(ctx, opsHead, second.ID, "")
	require.NoError(t, err)

	pending, err := f.svc.ListByStatus(ctx, "pending")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, first.ID, pending[0].ID)

	forwarded, err := f.svc.ListByStatus(ctx, "approved_by_ho")
	require.NoError(t, err)
	require.Len(t, forwarded, 1)
	require.Equal(t, second.ID, forwarded[0].ID)

	_, err = f.svc.ListByStatus(ctx, "archived")
	require.ErrorIs(t, err, shared.ErrValidation)

	mine, err := f.svc.ListByRequester(ctx, requester.ID)
	require.NoError(t, err)
	require.Len(t, mine, 1)
}

func TestLegacyStoredStatusDecodes(t *testing.T) {
	f := newFixture(t, Policy{})
	ctx := context.Background()

	_, err := f.store.Write(ctx, Path("legacy-1"), map[string]any{
		"id":        "legacy-1",
		"kind":      "material",
		"status":    "ho_approved",
		"items":     []map[string]any{{"materialId": "m", "name": "m", "quantity": "1", "unit": "kg"}},
		"requester": map[string]any{"id": requester.ID},
	}, store.NoVersion)
	require.NoError(t, err)

	req, err := f.svc.ApproveAtDirector(ctx, director, "legacy-1", "")
	require.NoError(t, err)
	require.Equal(t, StatusMDApproved, req.Status)
}

func TestCanTransition(t *testing.T) {
	require.True(t, CanTransition(StatusPendingHO, StatusForwardedToMD))
	require.True(t, CanTransition(StatusForwardedToMD, StatusRejected))
	require.False(t, CanTransition(StatusPendingHO, StatusMDApproved))
	require.False(t, CanTransition(StatusRejected, StatusPendingHO))
	require.False(t, CanTransition(StatusMDApproved, StatusRejected))

	for raw, want := range map[string]Status{"pending": StatusPendingHO, "HO_APPROVED": StatusForwardedToMD, "approved": StatusMDApproved, "rejected": StatusRejected} {
		got, err := ParseStatus(raw)
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
}

func TestWatchReceivesCommittedChanges(t *testing.T) {
	f := newFixture(t, Policy{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	seen := make(chan Request, 4)
	stop, err := f.svc.Watch(ctx, func(req Request) { seen <- req })
	require.NoError(t, err)
	defer stop()

	created, err := f.svc.CreateRequest(ctx, requester, causticSoda())
	require.NoError(t, err)

	select {
	case req := <-seen:
		require.Equal(t, created.ID, req.ID)
	case <-time.After(time.Second):
		t.Fatal("no change delivered")
	}
}
