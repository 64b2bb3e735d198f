package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/procureflow/internal/notify"
	"github.com/odyssey-erp/procureflow/internal/preparation"
	"github.com/odyssey-erp/procureflow/internal/receiving"
	"github.com/odyssey-erp/procureflow/internal/shared"
	"github.com/odyssey-erp/procureflow/internal/store"
)

const paymentModule = "billing.payment"

var (
	defaultTaxRate = decimal.NewFromFloat(0.10)
	cent           = decimal.New(1, -2)
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Bind(tx store.Tx) TxRepository
	GetInvoice(ctx context.Context, id string) (Invoice, error)
	ListInvoices(ctx context.Context) ([]Invoice, error)
	ListPayments(ctx context.Context, invoiceID string) ([]Payment, error)
	GetGRN(ctx context.Context, id string) (receiving.GRN, error)
}

// POSource resolves the purchase order an invoice is matched against.
type POSource interface {
	GetPurchaseOrder(ctx context.Context, id string) (preparation.PurchaseOrder, error)
}

// Options groups optional collaborators.
type Options struct {
	Logger      *slog.Logger
	Notifier    *notify.FanOut
	Audit       *shared.AuditLogger
	Observer    shared.TransitionObserver
	Clock       shared.Clock
	Idempotency *shared.IdempotencyStore
	Policy      Policy
}

// Service owns invoices and payments.
type Service struct {
	repo        RepositoryPort
	orders      POSource
	notifier    *notify.FanOut
	audit       *shared.AuditLogger
	observer    shared.TransitionObserver
	logger      *slog.Logger
	clock       shared.Clock
	idempotency *shared.IdempotencyStore
	taxRate     decimal.Decimal
	dueDays     int
}

// NewService builds Service.
func NewService(repo RepositoryPort, orders POSource, opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	observer := opts.Observer
	if observer == nil {
		observer = shared.NopObserver{}
	}
	taxRate := defaultTaxRate
	if opts.Policy.TaxRate.Valid {
		taxRate = opts.Policy.TaxRate.Decimal
	}
	dueDays := opts.Policy.DueDays
	if dueDays <= 0 {
		dueDays = 30
	}
	return &Service{
		repo:        repo,
		orders:      orders,
		notifier:    opts.Notifier,
		audit:       opts.Audit,
		observer:    observer,
		logger:      logger,
		clock:       opts.Clock,
		idempotency: opts.Idempotency,
		taxRate:     taxRate,
		dueDays:     dueDays,
	}
}

// AttachInvoice implements receiving.InvoicePort.
func (s *Service) AttachInvoice(ctx context.Context, tx store.Tx, actor shared.Actor, grn receiving.GRN) (receiving.InvoiceRef, error) {
	inv, err := s.GenerateFromGRNTx(ctx, tx, actor, grn)
	if err != nil {
		return receiving.InvoiceRef{}, err
	}
	return receiving.InvoiceRef{ID: inv.ID, Total: inv.Total}, nil
}

// GenerateFromGRNTx writes the invoice of grn inside tx. grn may be the
// in-flight copy whose qc_passed status is not committed yet.
func (s *Service) GenerateFromGRNTx(ctx context.Context, tx store.Tx, actor shared.Actor, grn receiving.GRN) (Invoice, error) {
	const op = "billing.generate_invoice"
	if grn.Status != receiving.StatusQCPassed {
		return Invoice{}, shared.InvalidTransition(op, "grn %s is %s; expected %s", grn.ID, grn.Status, receiving.StatusQCPassed)
	}
	repo := s.repo.Bind(tx)
	id := InvoiceIDForGRN(grn.ID)
	if _, _, err := repo.GetInvoice(ctx, id); err == nil {
		return Invoice{}, shared.InvalidTransition(op, "grn %s already has invoice %s", grn.ID, id)
	} else if !errors.Is(err, ErrInvoiceNotFound) {
		return Invoice{}, err
	}
	inv := s.BuildInvoice(actor, grn, s.clock.Now())
	if err := repo.CreateInvoice(ctx, inv); err != nil {
		return Invoice{}, err
	}
	s.audit.Record(ctx, tx, shared.AuditLog{
		Actor: actor.Ref(), Action: "invoice.generated", Entity: "invoice", EntityID: inv.ID,
		Meta: map[string]any{"grn_id": grn.ID, "total": inv.Total.StringFixed(2)}, At: inv.CreatedAt,
	})
	return inv, nil
}

// BuildInvoice prices the delivered quantities of grn and applies tax.
func (s *Service) BuildInvoice(actor shared.Actor, grn receiving.GRN, now time.Time) Invoice {
	lines := make([]InvoiceLine, 0, len(grn.Items))
	subtotal := decimal.Zero
	for _, item := range grn.Items {
		amount := item.DeliveredQuantity.Mul(item.UnitPrice).Round(2)
		lines = append(lines, InvoiceLine{
			MaterialID:   item.MaterialID,
			MaterialName: item.MaterialName,
			Quantity:     item.DeliveredQuantity,
			UnitPrice:    item.UnitPrice,
			Amount:       amount,
		})
		subtotal = subtotal.Add(amount)
	}
	tax := subtotal.Mul(s.taxRate).Round(2)
	total := subtotal.Add(tax)
	return Invoice{
		ID:              InvoiceIDForGRN(grn.ID),
		Number:          generateNumber("INV", now),
		GRNID:           grn.ID,
		PurchaseOrderID: grn.PurchaseOrderID,
		SupplierID:      grn.Header.SupplierID,
		SupplierName:    grn.Header.SupplierName,
		Lines:           lines,
		Subtotal:        subtotal,
		TaxRate:         s.taxRate,
		Tax:             tax,
		Total:           total,
		TotalPaid:       decimal.Zero,
		RemainingAmount: total,
		PaymentStatus:   PaymentPending,
		ReviewStatus:    ReviewPending,
		DueDate:         now.AddDate(0, 0, s.dueDays),
		Stamp:           shared.NewStamp(actor, now),
	}
}

// GenerateInvoiceFromGRN creates the invoice of a committed qc_passed GRN.
// A second call for the same GRN fails with an invalid transition.
func (s *Service) GenerateInvoiceFromGRN(ctx context.Context, actor shared.Actor, grnID string) (Invoice, error) {
	inv, _, err := s.generate(ctx, "billing.generate_invoice", actor, grnID, false)
	return inv, err
}

// EnsureInvoiceForGRN returns the invoice of grnID, generating it when the
// GRN has none. The bool reports whether it was created by this call.
func (s *Service) EnsureInvoiceForGRN(ctx context.Context, actor shared.Actor, grnID string) (Invoice, bool, error) {
	return s.generate(ctx, "billing.ensure_invoice", actor, grnID, true)
}

func (s *Service) generate(ctx context.Context, op string, actor shared.Actor, grnID string, reuse bool) (Invoice, bool, error) {
	if err := actor.Require(op); err != nil {
		return Invoice{}, false, err
	}
	var (
		inv     Invoice
		created bool
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		grn, version, err := tx.GetGRN(ctx, grnID)
		if errors.Is(err, receiving.ErrGRNNotFound) {
			return shared.NotFound(op, "grn %s does not exist", grnID)
		}
		if err != nil {
			return err
		}
		existing, _, err := tx.GetInvoice(ctx, InvoiceIDForGRN(grnID))
		switch {
		case err == nil && reuse:
			inv = existing
			return nil
		case err == nil:
			return shared.InvalidTransition(op, "grn %s already has invoice %s", grnID, existing.ID)
		case !errors.Is(err, ErrInvoiceNotFound):
			return err
		}
		inv, err = s.GenerateFromGRNTx(ctx, tx.Store(), actor, grn)
		if err != nil {
			return err
		}
		created = true
		return tx.LinkGRNInvoice(ctx, grn.ID, inv.ID, version)
	})
	if err != nil {
		return Invoice{}, false, shared.FromStore(op, err)
	}
	if created {
		s.observer.ObserveTransition("invoice", "", string(inv.PaymentStatus))
		s.notifier.Send(ctx, notify.Notification{
			Recipient: notify.ToRole(shared.RoleFinance),
			Kind:      notify.KindInvoiceGenerated,
			RelatedID: inv.ID,
			Meta:      map[string]string{"total": inv.Total.StringFixed(2), "grn": grnID},
		})
	}
	return inv, created, nil
}

// ThreeWayMatch compares each invoice line with the GRN quantity and the PO
// unit price. Variances flag the invoice for review; payment is not blocked.
// Empty grnID and poID fall back to the invoice's own references.
func (s *Service) ThreeWayMatch(ctx context.Context, actor shared.Actor, invoiceID, poID, grnID string) (Invoice, error) {
	const op = "billing.three_way_match"
	if err := actor.Require(op); err != nil {
		return Invoice{}, err
	}
	inv, err := s.GetInvoice(ctx, invoiceID)
	if err != nil {
		return Invoice{}, err
	}
	if grnID == "" {
		grnID = inv.GRNID
	}
	grn, err := s.repo.GetGRN(ctx, grnID)
	if errors.Is(err, receiving.ErrGRNNotFound) {
		return Invoice{}, shared.NotFound(op, "grn %s does not exist", grnID)
	}
	if err != nil {
		return Invoice{}, shared.FromStore(op, err)
	}
	if poID == "" {
		poID = grn.PurchaseOrderID
	}
	if poID == "" {
		poID = inv.PurchaseOrderID
	}
	if poID == "" {
		return Invoice{}, shared.Validation(op, "invoice %s has no purchase order to match against", invoiceID)
	}
	po, err := s.orders.GetPurchaseOrder(ctx, poID)
	if err != nil {
		return Invoice{}, err
	}

	var (
		matched Invoice
		from    ReviewStatus
	)
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, version, err := tx.GetInvoice(ctx, invoiceID)
		if err != nil {
			return err
		}
		from = current.ReviewStatus
		now := s.clock.Now()
		variances := Match(current, grn, po)
		current.MatchResult = &MatchResult{
			PurchaseOrderID: po.ID,
			GRNID:           grn.ID,
			Matched:         len(variances) == 0,
			Variances:       variances,
			CheckedBy:       actor.Ref(),
			CheckedAt:       now.UnixMilli(),
		}
		current.ReviewStatus = ReviewVerified
		if len(variances) > 0 {
			current.ReviewStatus = ReviewVariance
		}
		current.Touch(actor, now)
		if err := tx.UpdateInvoice(ctx, current, version); err != nil {
			return err
		}
		s.audit.Record(ctx, tx.Store(), shared.AuditLog{
			Actor: actor.Ref(), Action: "invoice.matched", Entity: "invoice", EntityID: current.ID,
			Meta: map[string]any{"po_id": po.ID, "grn_id": grn.ID, "variances": len(variances)}, At: current.UpdatedAt,
		})
		matched = current
		return nil
	})
	if err != nil {
		return Invoice{}, shared.FromStore(op, err)
	}
	s.observer.ObserveTransition("invoice_review", string(from), string(matched.ReviewStatus))
	if matched.ReviewStatus == ReviewVariance {
		s.logger.Warn("invoice three-way match found variances",
			slog.String("invoice_id", matched.ID),
			slog.Int("variances", len(matched.MatchResult.Variances)))
		s.notifier.Send(ctx, notify.Notification{
			Recipient: notify.ToRole(shared.RoleFinance),
			Kind:      notify.KindInvoiceVariance,
			RelatedID: matched.ID,
			Meta:      map[string]string{"variances": fmt.Sprint(len(matched.MatchResult.Variances))},
		})
	}
	return matched, nil
}

// Match lists the disagreements between an invoice, its GRN and its PO.
// Prices within one cent agree.
func Match(inv Invoice, grn receiving.GRN, po preparation.PurchaseOrder) []MatchVariance {
	var out []MatchVariance
	for _, line := range inv.Lines {
		grnLine, ok := grn.Line(line.MaterialID)
		switch {
		case !ok:
			out = append(out, MatchVariance{MaterialID: line.MaterialID, Kind: VarianceMissingGRN, Invoiced: line.Quantity, Expected: decimal.Zero})
		case !line.Quantity.Equal(grnLine.DeliveredQuantity):
			out = append(out, MatchVariance{MaterialID: line.MaterialID, Kind: VarianceQuantity, Invoiced: line.Quantity, Expected: grnLine.DeliveredQuantity})
		}
		poLine, ok := po.Line(line.MaterialID)
		switch {
		case !ok:
			out = append(out, MatchVariance{MaterialID: line.MaterialID, Kind: VarianceMissingPOLine, Invoiced: line.UnitPrice, Expected: decimal.Zero})
		case line.UnitPrice.Sub(poLine.UnitPrice).Abs().GreaterThan(cent):
			out = append(out, MatchVariance{MaterialID: line.MaterialID, Kind: VariancePrice, Invoiced: line.UnitPrice, Expected: poLine.UnitPrice})
		}
	}
	return out
}

// RecordPayment posts a payment and rolls it up into the invoice. A payment
// reference may be used once per invoice.
func (s *Service) RecordPayment(ctx context.Context, actor shared.Actor, input PaymentInput) (Invoice, Payment, error) {
	const op = "billing.record_payment"
	if err := actor.Require(op); err != nil {
		return Invoice{}, Payment{}, err
	}
	if err := shared.ValidateStruct(op, input); err != nil {
		return Invoice{}, Payment{}, err
	}
	if !input.Amount.IsPositive() {
		return Invoice{}, Payment{}, shared.Validation(op, "payment amount must be greater than zero")
	}
	input.Reference = strings.TrimSpace(input.Reference)
	now := s.clock.Now()
	if input.Date.IsZero() {
		input.Date = now
	}

	key := input.InvoiceID + ":" + input.Reference
	claimed := false
	if input.Reference != "" && s.idempotency != nil {
		if err := s.idempotency.CheckAndInsert(ctx, key, paymentModule); err != nil {
			if errors.Is(err, shared.ErrIdempotencyConflict) {
				return Invoice{}, Payment{}, shared.Validation(op, "payment reference %q already recorded for invoice %s", input.Reference, input.InvoiceID)
			}
			return Invoice{}, Payment{}, shared.Dependency(op, err)
		}
		claimed = true
	}

	var (
		updated Invoice
		payment Payment
		from    PaymentStatus
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		inv, version, err := tx.GetInvoice(ctx, input.InvoiceID)
		if errors.Is(err, ErrInvoiceNotFound) {
			return shared.NotFound(op, "invoice %s does not exist", input.InvoiceID)
		}
		if err != nil {
			return err
		}
		if input.Amount.GreaterThan(inv.RemainingAmount) {
			return shared.Validation(op, "payment %s exceeds remaining amount %s", input.Amount.StringFixed(2), inv.RemainingAmount.StringFixed(2))
		}
		if input.Reference != "" {
			existing, err := tx.ListPayments(ctx, inv.ID)
			if err != nil {
				return err
			}
			for _, p := range existing {
				if p.Reference == input.Reference {
					return shared.Validation(op, "payment reference %q already recorded for invoice %s", input.Reference, inv.ID)
				}
			}
		}
		payment = Payment{
			InvoiceID: inv.ID,
			Amount:    input.Amount,
			Method:    input.Method,
			Date:      input.Date,
			Reference: input.Reference,
			Actor:     actor.Ref(),
			At:        now.UnixMilli(),
		}
		if err := tx.InsertPayment(ctx, &payment); err != nil {
			return err
		}
		from = inv.PaymentStatus
		inv = ApplyPayment(inv, input.Amount)
		inv.Touch(actor, now)
		if err := tx.UpdateInvoice(ctx, inv, version); err != nil {
			return err
		}
		s.audit.Record(ctx, tx.Store(), shared.AuditLog{
			Actor: actor.Ref(), Action: "payment.recorded", Entity: "invoice", EntityID: inv.ID,
			Meta: map[string]any{"payment_id": payment.ID, "amount": payment.Amount.StringFixed(2), "method": string(payment.Method)}, At: payment.At,
		})
		updated = inv
		return nil
	})
	if err != nil {
		if claimed {
			if derr := s.idempotency.Delete(ctx, key, paymentModule); derr != nil {
				s.logger.Warn("release payment reference", slog.String("invoice_id", input.InvoiceID), slog.Any("error", derr))
			}
		}
		return Invoice{}, Payment{}, shared.FromStore(op, err)
	}
	if from != updated.PaymentStatus {
		s.observer.ObserveTransition("invoice", string(from), string(updated.PaymentStatus))
	}
	s.notifier.Send(ctx, notify.Notification{
		Recipient: notify.ToRole(shared.RoleFinance),
		Kind:      notify.KindPaymentRecorded,
		RelatedID: updated.ID,
		Meta: map[string]string{
			"amount":    payment.Amount.StringFixed(2),
			"remaining": updated.RemainingAmount.StringFixed(2),
			"status":    string(updated.PaymentStatus),
		},
	})
	return updated, payment, nil
}

// ApplyPayment rolls amount into the invoice totals. Remaining is floored
// at zero.
func ApplyPayment(inv Invoice, amount decimal.Decimal) Invoice {
	inv.TotalPaid = inv.TotalPaid.Add(amount)
	inv.RemainingAmount = decimal.Max(decimal.Zero, inv.Total.Sub(inv.TotalPaid))
	inv.PaymentStatus = StatusFor(inv.TotalPaid, inv.RemainingAmount)
	return inv
}

// StatusFor derives the payment status from the paid and remaining amounts.
func StatusFor(paid, remaining decimal.Decimal) PaymentStatus {
	switch {
	case !remaining.IsPositive():
		return PaymentPaid
	case paid.IsPositive():
		return PaymentPartiallyPaid
	default:
		return PaymentPending
	}
}

// CalculateAging buckets the unpaid amounts by days past due at asOf.
func (s *Service) CalculateAging(ctx context.Context, asOf time.Time) (AgingBucket, error) {
	invoices, err := s.repo.ListInvoices(ctx)
	if err != nil {
		return AgingBucket{}, shared.FromStore("billing.aging", err)
	}
	return Aging(invoices, asOf), nil
}

// Aging buckets remaining amounts: current, 1-30, 31-60, 61-90 and over 90
// days past due.
func Aging(invoices []Invoice, asOf time.Time) AgingBucket {
	bucket := AgingBucket{}
	for _, inv := range invoices {
		if !inv.RemainingAmount.IsPositive() {
			continue
		}
		daysOverdue := int(asOf.Sub(inv.DueDate).Hours() / 24)
		switch {
		case daysOverdue <= 0:
			bucket.Current = bucket.Current.Add(inv.RemainingAmount)
		case daysOverdue <= 30:
			bucket.Bucket30 = bucket.Bucket30.Add(inv.RemainingAmount)
		case daysOverdue <= 60:
			bucket.Bucket60 = bucket.Bucket60.Add(inv.RemainingAmount)
		case daysOverdue <= 90:
			bucket.Bucket90 = bucket.Bucket90.Add(inv.RemainingAmount)
		default:
			bucket.Bucket120 = bucket.Bucket120.Add(inv.RemainingAmount)
		}
		bucket.Total = bucket.Total.Add(inv.RemainingAmount)
	}
	return bucket
}

// GetInvoice returns an invoice by id.
func (s *Service) GetInvoice(ctx context.Context, id string) (Invoice, error) {
	inv, err := s.repo.GetInvoice(ctx, id)
	if errors.Is(err, ErrInvoiceNotFound) {
		return Invoice{}, shared.NotFound("billing.get_invoice", "invoice %s does not exist", id)
	}
	if err != nil {
		return Invoice{}, shared.FromStore("billing.get_invoice", err)
	}
	return inv, nil
}

// GetInvoiceByGRN returns the invoice generated from grnID.
func (s *Service) GetInvoiceByGRN(ctx context.Context, grnID string) (Invoice, error) {
	inv, err := s.repo.GetInvoice(ctx, InvoiceIDForGRN(grnID))
	if errors.Is(err, ErrInvoiceNotFound) {
		return Invoice{}, shared.NotFound("billing.get_invoice_by_grn", "grn %s has no invoice", grnID)
	}
	if err != nil {
		return Invoice{}, shared.FromStore("billing.get_invoice_by_grn", err)
	}
	return inv, nil
}

// ListInvoices returns invoices in a payment status; empty returns all.
func (s *Service) ListInvoices(ctx context.Context, status PaymentStatus) ([]Invoice, error) {
	switch status {
	case "", PaymentPending, PaymentPartiallyPaid, PaymentPaid:
	default:
		return nil, shared.Validation("billing.list_invoices", "unknown payment status %q", status)
	}
	all, err := s.repo.ListInvoices(ctx)
	if err != nil {
		return nil, shared.FromStore("billing.list_invoices", err)
	}
	out := make([]Invoice, 0, len(all))
	for _, inv := range all {
		if status == "" || inv.PaymentStatus == status {
			out = append(out, inv)
		}
	}
	return out, nil
}

// ListPayments returns the payments posted against an invoice.
func (s *Service) ListPayments(ctx context.Context, invoiceID string) ([]Payment, error) {
	if _, err := s.GetInvoice(ctx, invoiceID); err != nil {
		return nil, err
	}
	payments, err := s.repo.ListPayments(ctx, invoiceID)
	if err != nil {
		return nil, shared.FromStore("billing.list_payments", err)
	}
	return payments, nil
}

func generateNumber(prefix string, at time.Time) string {
	return fmt.Sprintf("%s-%s-%d", prefix, at.Format("20060102"), at.UnixNano()%1_000_000)
}
