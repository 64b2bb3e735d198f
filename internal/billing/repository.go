package billing

import (
	"context"
	"errors"
	"sort"

	"github.com/odyssey-erp/procureflow/internal/receiving"
	"github.com/odyssey-erp/procureflow/internal/store"
)

const (
	invoiceCollection = "invoices"
	paymentCollection = "payments"
)

// ErrInvoiceNotFound indicates an unknown invoice id.
var ErrInvoiceNotFound = errors.New("billing: invoice not found")

// TxRepository exposes billing persistence inside a transaction.
type TxRepository interface {
	GetInvoice(ctx context.Context, id string) (Invoice, store.Version, error)
	CreateInvoice(ctx context.Context, inv Invoice) error
	UpdateInvoice(ctx context.Context, inv Invoice, expected store.Version) error
	InsertPayment(ctx context.Context, payment *Payment) error
	ListPayments(ctx context.Context, invoiceID string) ([]Payment, error)
	GetGRN(ctx context.Context, id string) (receiving.GRN, store.Version, error)
	LinkGRNInvoice(ctx context.Context, grnID, invoiceID string, expected store.Version) error
	Store() store.Tx
}

// Repository persists invoices and payments.
type Repository struct {
	store store.Store
}

// NewRepository constructs Repository.
func NewRepository(s store.Store) *Repository {
	return &Repository{store: s}
}

// Path returns the store path of an invoice.
func Path(id string) string { return store.Path(invoiceCollection, id) }

// InvoiceIDForGRN derives the single invoice id a GRN may have.
func InvoiceIDForGRN(grnID string) string { return "inv-" + grnID }

func paymentsOf(invoiceID string) string { return paymentCollection + "/" + invoiceID }

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

// GetInvoice loads an invoice.
func (r *Repository) GetInvoice(ctx context.Context, id string) (Invoice, error) {
	inv, _, err := store.Get[Invoice](ctx, r.store, Path(id))
	if errors.Is(err, store.ErrNotFound) {
		return Invoice{}, ErrInvoiceNotFound
	}
	return inv, err
}

// ListInvoices returns every invoice ordered by creation time.
func (r *Repository) ListInvoices(ctx context.Context) ([]Invoice, error) {
	items, err := store.ListAs[Invoice](ctx, r.store, invoiceCollection)
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

// ListPayments returns the payments of an invoice in posting order.
func (r *Repository) ListPayments(ctx context.Context, invoiceID string) ([]Payment, error) {
	return listPayments(ctx, r.store, invoiceID)
}

// GetGRN reads a GRN for matching.
func (r *Repository) GetGRN(ctx context.Context, id string) (receiving.GRN, error) {
	grn, _, err := store.Get[receiving.GRN](ctx, r.store, receiving.Path(id))
	if errors.Is(err, store.ErrNotFound) {
		return receiving.GRN{}, receiving.ErrGRNNotFound
	}
	return grn, err
}

func listPayments(ctx context.Context, reader store.Reader, invoiceID string) ([]Payment, error) {
	items, err := store.ListAs[Payment](ctx, reader, paymentsOf(invoiceID))
	if err != nil {
		return nil, err
	}
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].At != items[j].At {
			return items[i].At < items[j].At
		}
		return items[i].ID < items[j].ID
	})
	return items, nil
}

type txRepo struct {
	tx store.Tx
}

func (t *txRepo) GetInvoice(ctx context.Context, id string) (Invoice, store.Version, error) {
	inv, version, err := store.Get[Invoice](ctx, t.tx, Path(id))
	if errors.Is(err, store.ErrNotFound) {
		return Invoice{}, 0, ErrInvoiceNotFound
	}
	return inv, version, err
}

func (t *txRepo) CreateInvoice(ctx context.Context, inv Invoice) error {
	_, err := t.tx.Write(ctx, Path(inv.ID), inv, store.NoVersion)
	return err
}

func (t *txRepo) UpdateInvoice(ctx context.Context, inv Invoice, expected store.Version) error {
	_, err := t.tx.Write(ctx, Path(inv.ID), inv, expected)
	return err
}

func (t *txRepo) InsertPayment(ctx context.Context, payment *Payment) error {
	_, err := t.tx.Append(ctx, paymentsOf(payment.InvoiceID), payment)
	return err
}

func (t *txRepo) ListPayments(ctx context.Context, invoiceID string) ([]Payment, error) {
	return listPayments(ctx, t.tx, invoiceID)
}

func (t *txRepo) GetGRN(ctx context.Context, id string) (receiving.GRN, store.Version, error) {
	grn, version, err := store.Get[receiving.GRN](ctx, t.tx, receiving.Path(id))
	if errors.Is(err, store.ErrNotFound) {
		return receiving.GRN{}, 0, receiving.ErrGRNNotFound
	}
	return grn, version, err
}

func (t *txRepo) LinkGRNInvoice(ctx context.Context, grnID, invoiceID string, expected store.Version) error {
	_, err := t.tx.Patch(ctx, receiving.Path(grnID), map[string]any{"invoiceId": invoiceID}, expected)
	return err
}

func (t *txRepo) Store() store.Tx { return t.tx }
