package preparation

import (
	"context"
	"errors"
	"sort"

	"github.com/odyssey-erp/procureflow/internal/store"
)

const (
	collection   = "preparations"
	poCollection = "purchase_orders"
)

var (
	// ErrPreparationNotFound indicates an unknown preparation id.
	ErrPreparationNotFound = errors.New("preparation: not found")
	// ErrPurchaseOrderNotFound indicates an unknown purchase order id.
	ErrPurchaseOrderNotFound = errors.New("preparation: purchase order not found")
)

// TxRepository exposes preparation persistence inside a transaction.
type TxRepository interface {
	Get(ctx context.Context, id string) (Preparation, store.Version, error)
	Create(ctx context.Context, prep Preparation) error
	Update(ctx context.Context, prep Preparation, expected store.Version) error
	GetPurchaseOrder(ctx context.Context, id string) (PurchaseOrder, store.Version, error)
	InsertPurchaseOrder(ctx context.Context, po *PurchaseOrder) error
	UpdatePurchaseOrder(ctx context.Context, po PurchaseOrder, expected store.Version) error
	Store() store.Tx
}

// Repository persists preparations and purchase orders.
type Repository struct {
	store store.Store
}

// NewRepository constructs Repository.
func NewRepository(s store.Store) *Repository {
	return &Repository{store: s}
}

// Path returns the store path of a preparation.
func Path(id string) string { return store.Path(collection, id) }

// POPath returns the store path of a purchase order.
func POPath(id string) string { return store.Path(poCollection, id) }

// WithTx runs fn with a transactional repository.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return r.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return fn(ctx, r.Bind(tx))
	})
}

// Bind joins a transaction opened by another module.
func (r *Repository) Bind(tx store.Tx) TxRepository {
	return &txRepo{tx: tx}
}

// Get loads a preparation.
func (r *Repository) Get(ctx context.Context, id string) (Preparation, error) {
	prep, _, err := store.Get[Preparation](ctx, r.store, Path(id))
	if errors.Is(err, store.ErrNotFound) {
		return Preparation{}, ErrPreparationNotFound
	}
	return prep, err
}

// List returns every preparation ordered by request then line.
func (r *Repository) List(ctx context.Context) ([]Preparation, error) {
	items, err := store.ListAs[Preparation](ctx, r.store, collection)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].CreatedAt != items[j].CreatedAt {
			return items[i].CreatedAt < items[j].CreatedAt
		}
		if items[i].RequestID != items[j].RequestID {
			return items[i].RequestID < items[j].RequestID
		}
		return items[i].Line < items[j].Line
	})
	return items, nil
}

// GetPurchaseOrder loads a purchase order.
func (r *Repository) GetPurchaseOrder(ctx context.Context, id string) (PurchaseOrder, error) {
	po, _, err := store.Get[PurchaseOrder](ctx, r.store, POPath(id))
	if errors.Is(err, store.ErrNotFound) {
		return PurchaseOrder{}, ErrPurchaseOrderNotFound
	}
	return po, err
}

// ListPurchaseOrders returns every purchase order.
func (r *Repository) ListPurchaseOrders(ctx context.Context) ([]PurchaseOrder, error) {
	return store.ListAs[PurchaseOrder](ctx, r.store, poCollection)
}

type txRepo struct {
	tx store.Tx
}

func (t *txRepo) Get(ctx context.Context, id string) (Preparation, store.Version, error) {
	prep, version, err := store.Get[Preparation](ctx, t.tx, Path(id))
	if errors.Is(err, store.ErrNotFound) {
		return Preparation{}, 0, ErrPreparationNotFound
	}
	return prep, version, err
}

func (t *txRepo) Create(ctx context.Context, prep Preparation) error {
	_, err := t.tx.Write(ctx, Path(prep.ID), prep, store.NoVersion)
	return err
}

func (t *txRepo) Update(ctx context.Context, prep Preparation, expected store.Version) error {
	_, err := t.tx.Write(ctx, Path(prep.ID), prep, expected)
	return err
}

func (t *txRepo) GetPurchaseOrder(ctx context.Context, id string) (PurchaseOrder, store.Version, error) {
	po, version, err := store.Get[PurchaseOrder](ctx, t.tx, POPath(id))
	if errors.Is(err, store.ErrNotFound) {
		return PurchaseOrder{}, 0, ErrPurchaseOrderNotFound
	}
	return po, version, err
}

func (t *txRepo) InsertPurchaseOrder(ctx context.Context, po *PurchaseOrder) error {
	_, err := t.tx.Append(ctx, poCollection, po)
	return err
}

func (t *txRepo) UpdatePurchaseOrder(ctx context.Context, po PurchaseOrder, expected store.Version) error {
	_, err := t.tx.Write(ctx, POPath(po.ID), po, expected)
	return err
}

func (t *txRepo) Store() store.Tx { return t.tx }
