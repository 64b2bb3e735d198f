package shared

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/procureflow/internal/store"
)

func TestErrorMatchesKindAndCause(t *testing.T) {
	err := FromStore("requests.approve", store.ErrConflict)
	require.ErrorIs(t, err, ErrInvalidTransition)
	require.ErrorIs(t, err, store.ErrConflict)
	require.Equal(t, KindInvalidTransition, KindOf(err))

	err = FromStore("requests.get", store.ErrNotFound)
	require.ErrorIs(t, err, ErrNotFound)

	cause := errors.New("connection reset")
	err = FromStore("requests.get", cause)
	require.ErrorIs(t, err, ErrDependency)
	require.ErrorIs(t, err, cause)

	original := Validation("requests.create", "items required")
	require.Same(t, original, FromStore("outer", original))
	require.Contains(t, original.Error(), "items required")
}

func TestValidateStructListsFields(t *testing.T) {
	type input struct {
		Name  string `validate:"required"`
		Items []int  `validate:"min=1"`
	}
	err := ValidateStruct("demo", input{})
	require.ErrorIs(t, err, ErrValidation)
	require.Contains(t, err.Error(), "Name is required")
	require.Contains(t, err.Error(), "Items must have at least 1 entries")

	require.NoError(t, ValidateStruct("demo", input{Name: "x", Items: []int{1}}))
}

func TestApprovalRecorderOrdersBySequence(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemoryStore()
	rec := NewApprovalRecorder(nil)
	actor := Actor{ID: "u1", Role: RoleOperationsHead}

	err := s.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		require.NoError(t, rec.Record(ctx, tx, ApprovalLog{Module: "requests", RefID: "r1", Actor: actor.Ref(), Action: ApprovalSubmit}))
		return rec.Record(ctx, tx, ApprovalLog{Module: "requests", RefID: "r1", Actor: actor.Ref(), Action: ApprovalApprove, Note: "ok"})
	})
	require.NoError(t, err)

	logs, err := rec.List(ctx, s, "requests", "r1")
	require.NoError(t, err)
	require.Len(t, logs, 2)
	require.Equal(t, ApprovalSubmit, logs[0].Action)
	require.Equal(t, ApprovalApprove, logs[1].Action)

	err = s.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return rec.Record(ctx, tx, ApprovalLog{Module: "requests", RefID: "r1", Action: ApprovalReject})
	})
	require.Error(t, err)
}

func TestIdempotencyStoreRejectsDuplicates(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	idem := NewIdempotencyStore(client, time.Hour)
	ctx := context.Background()

	require.NoError(t, idem.CheckAndInsert(ctx, "inv-1:TRX-9", "billing.payment"))
	require.ErrorIs(t, idem.CheckAndInsert(ctx, "inv-1:TRX-9", "billing.payment"), ErrIdempotencyConflict)
	require.NoError(t, idem.CheckAndInsert(ctx, "inv-1:TRX-9", "other.module"))

	require.NoError(t, idem.Delete(ctx, "inv-1:TRX-9", "billing.payment"))
	require.NoError(t, idem.CheckAndInsert(ctx, "inv-1:TRX-9", "billing.payment"))

	mr.FastForward(2 * time.Hour)
	require.NoError(t, idem.CheckAndInsert(ctx, "inv-1:TRX-9", "billing.payment"))
}

func TestLockerSerialisesCriticalSection(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	locker := NewLocker(client, time.Minute)
	ctx := context.Background()
	key := POReceiptLockKey("po-1")

	var calls atomic.Int32
	err := locker.WithLock(ctx, key, func(ctx context.Context) error {
		calls.Add(1)
		inner := locker.WithLock(ctx, key, func(context.Context) error {
			calls.Add(1)
			return nil
		})
		require.ErrorIs(t, inner, ErrLockHeld)
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, int32(1), calls.Load())

	require.NoError(t, locker.WithLock(ctx, key, func(context.Context) error { return nil }))
}

func TestPaginate(t *testing.T) {
	items := []int{1, 2, 3, 4, 5}
	page, meta := Paginate(items, 2, 2)
	require.Equal(t, []int{3, 4}, page)
	require.Equal(t, 3, meta.TotalPages)

	page, _ = Paginate(items, 9, 2)
	require.Empty(t, page)
}

func TestStampTouch(t *testing.T) {
	at := time.UnixMilli(1_700_000_000_000)
	stamp := NewStamp(Actor{ID: "u1"}, at)
	stamp.Touch(Actor{ID: "u2"}, at.Add(time.Second))
	require.Equal(t, int64(1_700_000_000_000), stamp.CreatedAt)
	require.Equal(t, int64(1_700_000_001_000), stamp.UpdatedAt)
	require.Equal(t, "u2", stamp.UpdatedBy.ID)
}
