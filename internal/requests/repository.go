package requests

import (
	"context"
	"errors"
	"sort"

	"github.com/odyssey-erp/procureflow/internal/store"
)

const collection = "requests"

// ErrRequestNotFound indicates an unknown request id.
var ErrRequestNotFound = errors.New("requests: request not found")

// TxRepository exposes request persistence inside a transaction.
type TxRepository interface {
	Get(ctx context.Context, id string) (Request, store.Version, error)
	Insert(ctx context.Context, req *Request) error
	Update(ctx context.Context, req Request, expected store.Version) error
	Store() store.Tx
}

// Repository persists requests in the entity store.
type Repository struct {
	store store.Store
}

// NewRepository constructs Repository.
func NewRepository(s store.Store) *Repository {
	return &Repository{store: s}
}

// Path returns the store path of a request.
func Path(id string) string { return store.Path(collection, id) }

// WithTx runs fn with a transactional repository.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return r.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
}

// Get loads a request.
func (r *Repository) Get(ctx context.Context, id string) (Request, error) {
	req, _, err := store.Get[Request](ctx, r.store, Path(id))
	if errors.Is(err, store.ErrNotFound) {
		return Request{}, ErrRequestNotFound
	}
	return req, err
}

// List returns every request ordered by creation time.
func (r *Repository) List(ctx context.Context) ([]Request, error) {
	items, err := store.ListAs[Request](ctx, r.store, collection)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].CreatedAt != items[j].CreatedAt {
			return items[i].CreatedAt < items[j].CreatedAt
		}
		return items[i].ID < items[j].ID
	})
	return items, nil
}

// Reader exposes the underlying store for history lookups.
func (r *Repository) Reader() store.Reader { return r.store }

// Subscribe forwards request document changes.
func (r *Repository) Subscribe(ctx context.Context, fn func(store.Change)) (func(), error) {
	return r.store.Subscribe(ctx, collection+"/", fn)
}

type txRepo struct {
	tx store.Tx
}

func (t *txRepo) Get(ctx context.Context, id string) (Request, store.Version, error) {
	req, version, err := store.Get[Request](ctx, t.tx, Path(id))
	if errors.Is(err, store.ErrNotFound) {
		return Request{}, 0, ErrRequestNotFound
	}
	return req, version, err
}

func (t *txRepo) Insert(ctx context.Context, req *Request) error {
	_, err := t.tx.Append(ctx, collection, req)
	return err
}

func (t *txRepo) Update(ctx context.Context, req Request, expected store.Version) error {
	_, err := t.tx.Write(ctx, Path(req.ID), req, expected)
	return err
}

func (t *txRepo) Store() store.Tx { return t.tx }
