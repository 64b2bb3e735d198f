package stock

import (
	"context"
	"errors"

	"github.com/odyssey-erp/procureflow/internal/store"
)

// ErrLevelNotFound indicates the material has never moved.
var ErrLevelNotFound = errors.New("stock: level not found")

// ErrMovementNotFound indicates an unknown movement id.
var ErrMovementNotFound = errors.New("stock: movement not found")

// TxRepository exposes the ledger writes available inside a transaction.
type TxRepository interface {
	GetLevelForUpdate(ctx context.Context, ns Namespace, materialID string) (Level, store.Version, error)
	SaveLevel(ctx context.Context, level Level, expected store.Version) error
	GetMovement(ctx context.Context, ns Namespace, id string) (Movement, error)
	InsertMovement(ctx context.Context, movement *Movement) error
}

// Repository persists ledger data in the entity store.
type Repository struct {
	store store.Store
}

// NewRepository constructs Repository.
func NewRepository(s store.Store) *Repository {
	return &Repository{store: s}
}

func levelsCollection(ns Namespace) string    { return "stock/" + string(ns) + "/levels" }
func movementsCollection(ns Namespace) string { return "stock/" + string(ns) + "/movements" }

// WithTx runs fn with a transactional repository.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return r.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return fn(ctx, r.Bind(tx))
	})
}

// Bind wraps a transaction opened by another component.
func (r *Repository) Bind(tx store.Tx) TxRepository {
	return &txRepo{tx: tx}
}

// GetLevel returns the current projection.
func (r *Repository) GetLevel(ctx context.Context, ns Namespace, materialID string) (Level, error) {
	level, _, err := store.Get[Level](ctx, r.store, store.Path(levelsCollection(ns), materialID))
	if errors.Is(err, store.ErrNotFound) {
		return Level{}, ErrLevelNotFound
	}
	return level, err
}

// ListLevels returns every level in a namespace.
func (r *Repository) ListLevels(ctx context.Context, ns Namespace) ([]Level, error) {
	return store.ListAs[Level](ctx, r.store, levelsCollection(ns))
}

// ListMovements returns movements of one material, or all when materialID is empty.
func (r *Repository) ListMovements(ctx context.Context, ns Namespace, materialID string) ([]Movement, error) {
	all, err := store.ListAs[Movement](ctx, r.store, movementsCollection(ns))
	if err != nil {
		return nil, err
	}
	if materialID == "" {
		return all, nil
	}
	out := make([]Movement, 0, len(all))
	for _, m := range all {
		if m.MaterialID == materialID {
			out = append(out, m)
		}
	}
	return out, nil
}

type txRepo struct {
	tx store.Tx
}

func (t *txRepo) GetLevelForUpdate(ctx context.Context, ns Namespace, materialID string) (Level, store.Version, error) {
	level, version, err := store.Get[Level](ctx, t.tx, store.Path(levelsCollection(ns), materialID))
	if errors.Is(err, store.ErrNotFound) {
		return Level{}, store.NoVersion, ErrLevelNotFound
	}
	return level, version, err
}

func (t *txRepo) SaveLevel(ctx context.Context, level Level, expected store.Version) error {
	_, err := t.tx.Write(ctx, store.Path(levelsCollection(level.Namespace), level.MaterialID), level, expected)
	return err
}

func (t *txRepo) GetMovement(ctx context.Context, ns Namespace, id string) (Movement, error) {
	m, _, err := store.Get[Movement](ctx, t.tx, store.Path(movementsCollection(ns), id))
	if errors.Is(err, store.ErrNotFound) {
		return Movement{}, ErrMovementNotFound
	}
	return m, err
}

func (t *txRepo) InsertMovement(ctx context.Context, movement *Movement) error {
	if movement.ID == "" {
		_, err := t.tx.Append(ctx, movementsCollection(movement.Namespace), movement)
		return err
	}
	_, err := t.tx.Write(ctx, store.Path(movementsCollection(movement.Namespace), movement.ID), movement, store.NoVersion)
	return err
}
