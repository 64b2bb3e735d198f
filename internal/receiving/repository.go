package receiving

import (
	"context"
	"errors"
	"sort"

	"github.com/odyssey-erp/procureflow/internal/store"
)

const (
	grnCollection = "grns"
	qcCollection  = "qc_records"
)

var (
	// ErrGRNNotFound indicates an unknown GRN id.
	ErrGRNNotFound = errors.New("receiving: grn not found")
	// ErrQCRecordNotFound indicates an unknown QC record id.
	ErrQCRecordNotFound = errors.New("receiving: qc record not found")
)

// TxRepository exposes receiving persistence inside a transaction.
type TxRepository interface {
	Get(ctx context.Context, id string) (GRN, store.Version, error)
	Insert(ctx context.Context, grn *GRN) error
	Update(ctx context.Context, grn GRN, expected store.Version) error
	List(ctx context.Context) ([]GRN, error)
	InsertQC(ctx context.Context, record QCRecord) error
	Store() store.Tx
}

// Repository persists GRNs and QC records.
type Repository struct {
	store store.Store
}

// NewRepository constructs Repository.
func NewRepository(s store.Store) *Repository {
	return &Repository{store: s}
}

// Path returns the store path of a GRN.
func Path(id string) string { return store.Path(grnCollection, id) }

// QCPath returns the store path of a QC record.
func QCPath(id string) string { return store.Path(qcCollection, id) }

// WithTx runs fn with a transactional repository.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return r.store.WithTx(ctx, func(ctx context.Context, tx store.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
}

// Get loads a GRN.
func (r *Repository) Get(ctx context.Context, id string) (GRN, error) {
	grn, _, err := store.Get[GRN](ctx, r.store, Path(id))
	if errors.Is(err, store.ErrNotFound) {
		return GRN{}, ErrGRNNotFound
	}
	return grn, err
}

// List returns every GRN ordered by creation time.
func (r *Repository) List(ctx context.Context) ([]GRN, error) {
	return listGRNs(ctx, r.store)
}

// GetQC loads a QC record.
func (r *Repository) GetQC(ctx context.Context, id string) (QCRecord, error) {
	rec, _, err := store.Get[QCRecord](ctx, r.store, QCPath(id))
	if errors.Is(err, store.ErrNotFound) {
		return QCRecord{}, ErrQCRecordNotFound
	}
	return rec, err
}

// ListQC returns every QC record ordered by creation time.
func (r *Repository) ListQC(ctx context.Context) ([]QCRecord, error) {
	items, err := store.ListAs[QCRecord](ctx, r.store, qcCollection)
	if err != nil {
		return nil, err
	}
	sort.SliceStable(items, func(i, j int) bool { return items[i].CreatedAt < items[j].CreatedAt })
	return items, nil
}

// Reader exposes the underlying store for history lookups.
func (r *Repository) Reader() store.Reader { return r.store }

func listGRNs(ctx context.Context, reader store.Reader) ([]GRN, error) {
	items, err := store.ListAs[GRN](ctx, reader, grnCollection)
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

type txRepo struct {
	tx store.Tx
}

func (t *txRepo) Get(ctx context.Context, id string) (GRN, store.Version, error) {
	grn, version, err := store.Get[GRN](ctx, t.tx, Path(id))
	if errors.Is(err, store.ErrNotFound) {
		return GRN{}, 0, ErrGRNNotFound
	}
	return grn, version, err
}

func (t *txRepo) Insert(ctx context.Context, grn *GRN) error {
	_, err := t.tx.Append(ctx, grnCollection, grn)
	return err
}

func (t *txRepo) Update(ctx context.Context, grn GRN, expected store.Version) error {
	_, err := t.tx.Write(ctx, Path(grn.ID), grn, expected)
	return err
}

func (t *txRepo) List(ctx context.Context) ([]GRN, error) {
	return listGRNs(ctx, t.tx)
}

func (t *txRepo) InsertQC(ctx context.Context, record QCRecord) error {
	_, err := t.tx.Write(ctx, QCPath(record.ID), record, store.NoVersion)
	return err
}

func (t *txRepo) Store() store.Tx { return t.tx }
