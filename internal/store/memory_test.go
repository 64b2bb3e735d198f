package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type widget struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func (w *widget) AssignID(id string) { w.ID = id }

func TestMemoryStoreWriteVersions(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	v, err := s.Write(ctx, "widgets/a", widget{ID: "a", Name: "first"}, NoVersion)
	require.NoError(t, err)
	require.Equal(t, Version(1), v)

	_, err = s.Write(ctx, "widgets/a", widget{ID: "a"}, NoVersion)
	require.ErrorIs(t, err, ErrConflict)

	_, err = s.Write(ctx, "widgets/a", widget{ID: "a", Name: "stale"}, Version(7))
	require.ErrorIs(t, err, ErrConflict)

	v, err = s.Write(ctx, "widgets/a", widget{ID: "a", Name: "second"}, Version(1))
	require.NoError(t, err)
	require.Equal(t, Version(2), v)

	_, err = s.Write(ctx, "widgets/missing", widget{}, Version(3))
	require.ErrorIs(t, err, ErrNotFound)

	got, version, err := Get[widget](ctx, s, "widgets/a")
	require.NoError(t, err)
	require.Equal(t, "second", got.Name)
	require.Equal(t, Version(2), version)
}

func TestMemoryStoreAppendAssignsID(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	w := &widget{Name: "appended"}
	id, err := s.Append(ctx, "widgets", w)
	require.NoError(t, err)
	require.NotEmpty(t, id)
	require.Equal(t, id, w.ID)

	stored, _, err := Get[widget](ctx, s, Path("widgets", id))
	require.NoError(t, err)
	require.Equal(t, id, stored.ID)
}

func TestMemoryStorePatchMergesFields(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	_, err := s.Write(ctx, "widgets/p", widget{ID: "p", Name: "orig", Count: 1}, NoVersion)
	require.NoError(t, err)

	v, err := s.Patch(ctx, "widgets/p", map[string]any{"count": 5}, AnyVersion)
	require.NoError(t, err)
	require.Equal(t, Version(2), v)

	got, _, err := Get[widget](ctx, s, "widgets/p")
	require.NoError(t, err)
	require.Equal(t, "orig", got.Name)
	require.Equal(t, 5, got.Count)

	_, err = s.Patch(ctx, "widgets/none", map[string]any{"count": 1}, AnyVersion)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreTxRollback(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	boom := errors.New("boom")

	err := s.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		if _, err := tx.Write(ctx, "widgets/x", widget{ID: "x"}, NoVersion); err != nil {
			return err
		}
		doc, err := tx.Read(ctx, "widgets/x")
		require.NoError(t, err)
		require.Equal(t, Version(1), doc.Version)
		return boom
	})
	require.ErrorIs(t, err, boom)

	_, err = s.Read(ctx, "widgets/x")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreUsableAfterPanicInTx(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	require.Panics(t, func() {
		_ = s.WithTx(ctx, func(ctx context.Context, tx Tx) error {
			if _, err := tx.Write(ctx, "widgets/p", widget{ID: "p"}, NoVersion); err != nil {
				return err
			}
			panic("handler bug")
		})
	})

	_, err := s.Read(ctx, "widgets/p")
	require.ErrorIs(t, err, ErrNotFound)
	_, err = s.Write(ctx, "widgets/p", widget{ID: "p"}, NoVersion)
	require.NoError(t, err)
}

func TestMemoryStoreListSeesStagedWrites(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	_, err := s.Write(ctx, "widgets/b", widget{ID: "b"}, NoVersion)
	require.NoError(t, err)

	err = s.WithTx(ctx, func(ctx context.Context, tx Tx) error {
		if _, err := tx.Write(ctx, "widgets/a", widget{ID: "a"}, NoVersion); err != nil {
			return err
		}
		items, err := ListAs[widget](ctx, tx, "widgets")
		require.NoError(t, err)
		require.Len(t, items, 2)
		require.Equal(t, "a", items[0].ID)
		return nil
	})
	require.NoError(t, err)
}

func TestMemoryStoreSubscribeFiltersByPrefix(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	var (
		mu   sync.Mutex
		seen []string
	)
	unsubscribe, err := s.Subscribe(ctx, "widgets/", func(c Change) {
		mu.Lock()
		seen = append(seen, c.Path)
		mu.Unlock()
	})
	require.NoError(t, err)
	defer unsubscribe()

	_, err = s.Write(ctx, "gadgets/z", widget{ID: "z"}, NoVersion)
	require.NoError(t, err)
	_, err = s.Write(ctx, "widgets/w", widget{ID: "w"}, NoVersion)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 1 && seen[0] == "widgets/w"
	}, time.Second, 10*time.Millisecond)
}

func TestMemoryStoreConcurrentOptimisticWrites(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	_, err := s.Write(ctx, "widgets/c", widget{ID: "c"}, NoVersion)
	require.NoError(t, err)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.Write(ctx, "widgets/c", widget{ID: "c", Count: 1}, Version(1)); err == nil {
				mu.Lock()
				successes++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	require.Equal(t, 1, successes)
}

func TestSplitPath(t *testing.T) {
	collection, id, err := SplitPath("approvals/requests/abc")
	require.NoError(t, err)
	require.Equal(t, "approvals/requests", collection)
	require.Equal(t, "abc", id)

	_, _, err = SplitPath("noslash")
	require.Error(t, err)
}
