package stock

import (
	"context"
	"math/rand"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/procureflow/internal/notify"
	"github.com/odyssey-erp/procureflow/internal/shared"
	"github.com/odyssey-erp/procureflow/internal/store"
)

var storekeeper = shared.Actor{ID: "u-stores", DisplayName: "Stores", Role: shared.RoleStores}

func newTestService(t *testing.T) (*Service, *notify.Recorder, store.Store) {
	t.Helper()
	s := store.NewMemoryStore()
	rec := &notify.Recorder{}
	svc := NewService(NewRepository(s), Options{Notifier: notify.NewFanOut(rec, 0, nil)})
	return svc, rec, s
}

func qty(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func TestRecordMovementInAndClampedOut(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.RecordMovement(ctx, storekeeper, MovementInput{MaterialID: "caustic-soda", Direction: DirectionIn, Quantity: qty(480), Reason: ReasonGRNApproved})
	require.NoError(t, err)

	level, err := svc.GetLevel(ctx, NamespaceRaw, "caustic-soda")
	require.NoError(t, err)
	require.True(t, level.Quantity.Equal(qty(480)))

	m, err := svc.Dispatch(ctx, storekeeper, DispatchInput{MaterialID: "caustic-soda", Quantity: qty(500)})
	require.NoError(t, err)
	require.True(t, m.Clamped)

	level, err = svc.GetLevel(ctx, NamespaceRaw, "caustic-soda")
	require.NoError(t, err)
	require.True(t, level.Quantity.IsZero(), "over-dispatch floors at zero, got %s", level.Quantity)
}

func TestRecordMovementValidation(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.RecordMovement(ctx, storekeeper, MovementInput{MaterialID: "m1", Direction: DirectionIn, Quantity: qty(0), Reason: ReasonGRNApproved})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = svc.RecordMovement(ctx, storekeeper, MovementInput{MaterialID: "m1", Direction: DirectionIn, Quantity: qty(-5), Reason: ReasonGRNApproved})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = svc.RecordMovement(ctx, storekeeper, MovementInput{MaterialID: "", Direction: DirectionIn, Quantity: qty(1), Reason: ReasonGRNApproved})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = svc.RecordMovement(ctx, storekeeper, MovementInput{Namespace: "liquid", MaterialID: "m1", Direction: DirectionIn, Quantity: qty(1), Reason: ReasonGRNApproved})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = svc.RecordMovement(ctx, shared.Actor{}, MovementInput{MaterialID: "m1", Direction: DirectionIn, Quantity: qty(1), Reason: ReasonGRNApproved})
	require.ErrorIs(t, err, shared.ErrValidation)
}

func TestDeterministicMovementIDIsIdempotent(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	input := MovementInput{ID: "grn-1-0", MaterialID: "m1", Direction: DirectionIn, Quantity: qty(10), Reason: ReasonGRNApproved}

	first, err := svc.RecordMovement(ctx, storekeeper, input)
	require.NoError(t, err)
	second, err := svc.RecordMovement(ctx, storekeeper, input)
	require.NoError(t, err)
	require.Equal(t, first.ID, second.ID)

	level, err := svc.GetLevel(ctx, NamespaceRaw, "m1")
	require.NoError(t, err)
	require.True(t, level.Quantity.Equal(qty(10)))

	movements, err := svc.ListMovements(ctx, NamespaceRaw, "m1")
	require.NoError(t, err)
	require.Len(t, movements, 1)
}

func TestNamespacesAreIsolated(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.RecordMovement(ctx, storekeeper, MovementInput{Namespace: NamespacePacking, MaterialID: "drum", Direction: DirectionIn, Quantity: qty(3), Reason: ReasonQCAccepted})
	require.NoError(t, err)

	_, err = svc.GetLevel(ctx, NamespaceRaw, "drum")
	require.ErrorIs(t, err, shared.ErrNotFound)

	level, err := svc.GetLevel(ctx, NamespacePacking, "drum")
	require.NoError(t, err)
	require.True(t, level.Quantity.Equal(qty(3)))
}

func TestLevelMatchesClampedReplay(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	rng := rand.New(rand.NewSource(42))

	for i := 0; i < 200; i++ {
		dir := DirectionIn
		reason := ReasonGRNApproved
		if rng.Intn(3) == 0 {
			dir = DirectionOut
			reason = ReasonDispatch
		}
		_, err := svc.RecordMovement(ctx, storekeeper, MovementInput{
			MaterialID: "resin",
			Direction:  dir,
			Quantity:   decimal.NewFromInt(int64(rng.Intn(50) + 1)),
			Reason:     reason,
		})
		require.NoError(t, err)

		result, err := svc.Verify(ctx, NamespaceRaw, "resin")
		require.NoError(t, err)
		require.True(t, result.Consistent, "iteration %d stored=%s replayed=%s", i, result.Stored, result.Replayed)
		require.False(t, result.Stored.IsNegative())
	}
}

func TestLowStockAlerts(t *testing.T) {
	svc, rec, _ := newTestService(t)
	ctx := context.Background()

	for material, onHand := range map[string]int64{"a": 100, "b": 40, "c": 20, "d": 5} {
		_, err := svc.RecordMovement(ctx, storekeeper, MovementInput{MaterialID: material, Direction: DirectionIn, Quantity: qty(onHand), Reason: ReasonGRNApproved})
		require.NoError(t, err)
	}
	for _, material := range []string{"a", "b", "c"} {
		_, err := svc.SetReorderLevel(ctx, storekeeper, NamespaceRaw, material, qty(40))
		require.NoError(t, err)
	}

	alerts, err := svc.LowStockAlerts(ctx, NamespaceRaw)
	require.NoError(t, err)
	require.Len(t, alerts, 2)
	require.Equal(t, "c", alerts[0].MaterialID)
	require.Equal(t, SeverityCritical, alerts[0].Severity)
	require.Equal(t, "b", alerts[1].MaterialID)
	require.Equal(t, SeverityWarning, alerts[1].Severity)

	_, err = svc.Dispatch(ctx, storekeeper, DispatchInput{MaterialID: "a", Quantity: qty(85)})
	require.NoError(t, err)
	low := rec.OfKind(notify.KindStockLow)
	require.Len(t, low, 1)
	require.Equal(t, "a", low[0].RelatedID)
	require.Equal(t, string(SeverityCritical), low[0].Meta["severity"])
}

func TestRecordMovementTxRollsBackWithCaller(t *testing.T) {
	svc, _, s := newTestService(t)
	ctx := context.Background()

	err := s.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		if _, err := svc.RecordMovementTx(ctx, tx, storekeeper, MovementInput{MaterialID: "m1", Direction: DirectionIn, Quantity: qty(5), Reason: ReasonGRNApproved}); err != nil {
			return err
		}
		return shared.InvalidTransition("test", "abort")
	})
	require.ErrorIs(t, err, shared.ErrInvalidTransition)

	_, err = svc.GetLevel(ctx, NamespaceRaw, "m1")
	require.ErrorIs(t, err, shared.ErrNotFound)
}
