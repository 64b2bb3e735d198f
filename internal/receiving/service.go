package receiving

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/procureflow/internal/notify"
	"github.com/odyssey-erp/procureflow/internal/preparation"
	"github.com/odyssey-erp/procureflow/internal/shared"
	"github.com/odyssey-erp/procureflow/internal/stock"
	"github.com/odyssey-erp/procureflow/internal/store"
)

const approvalModule = "grn"

var hundred = decimal.NewFromInt(100)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, id string) (GRN, error)
	List(ctx context.Context) ([]GRN, error)
	GetQC(ctx context.Context, id string) (QCRecord, error)
	ListQC(ctx context.Context) ([]QCRecord, error)
	Reader() store.Reader
}

// StockPort posts accepted quantities to the ledger inside the caller's
// transaction.
type StockPort interface {
	RecordMovementTx(ctx context.Context, tx store.Tx, actor shared.Actor, input stock.MovementInput) (stock.Movement, error)
}

// PreparationPort exposes the purchasing side of a receipt.
type PreparationPort interface {
	MarkReceived(ctx context.Context, tx store.Tx, actor shared.Actor, id, grnID string) error
	GetPurchaseOrderTx(ctx context.Context, tx store.Tx, id string) (preparation.PurchaseOrder, error)
	UpdatePOReceiptStatus(ctx context.Context, tx store.Tx, poID string, status preparation.POStatus) (bool, error)
}

// InvoicePort generates the invoice of an approved GRN inside the approval
// transaction.
type InvoicePort interface {
	AttachInvoice(ctx context.Context, tx store.Tx, actor shared.Actor, grn GRN) (InvoiceRef, error)
}

// Options groups optional collaborators.
type Options struct {
	Logger    *slog.Logger
	Notifier  *notify.FanOut
	Approvals *shared.ApprovalRecorder
	Audit     *shared.AuditLogger
	Observer  shared.TransitionObserver
	Clock     shared.Clock
	Policy    Policy
}

// Service owns GRNs and QC records.
type Service struct {
	repo         RepositoryPort
	stock        StockPort
	preparations PreparationPort
	invoices     InvoicePort
	notifier     *notify.FanOut
	approvals    *shared.ApprovalRecorder
	audit        *shared.AuditLogger
	observer     shared.TransitionObserver
	logger       *slog.Logger
	clock        shared.Clock
	warnAbove    decimal.Decimal
}

// NewService builds Service.
func NewService(repo RepositoryPort, stock StockPort, preparations PreparationPort, invoices InvoicePort, opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	approvals := opts.Approvals
	if approvals == nil {
		approvals = shared.NewApprovalRecorder(logger)
	}
	observer := opts.Observer
	if observer == nil {
		observer = shared.NopObserver{}
	}
	warnAbove := opts.Policy.VarianceWarnPercent
	if !warnAbove.IsPositive() {
		warnAbove = decimal.NewFromInt(5)
	}
	return &Service{
		repo:         repo,
		stock:        stock,
		preparations: preparations,
		invoices:     invoices,
		notifier:     opts.Notifier,
		approvals:    approvals,
		audit:        opts.Audit,
		observer:     observer,
		logger:       logger,
		clock:        opts.Clock,
		warnAbove:    warnAbove,
	}
}

// CreateGRN records a delivery pending QC. Variance never blocks creation;
// lines above the threshold come back as warnings.
func (s *Service) CreateGRN(ctx context.Context, actor shared.Actor, input CreateInput) (GRN, []VarianceWarning, error) {
	return s.create(ctx, "receiving.create_grn", actor, input, false)
}

// CreateGRNFromDelivery opens the GRN of a delivered preparation and hands
// the preparation to receiving in the same transaction.
func (s *Service) CreateGRNFromDelivery(ctx context.Context, actor shared.Actor, handle preparation.DeliveryHandle, header Header) (GRN, []VarianceWarning, error) {
	const op = "receiving.create_grn_from_delivery"
	if handle.PreparationID == "" {
		return GRN{}, nil, shared.Validation(op, "delivery handle has no preparation")
	}
	if header.SupplierID == "" {
		header.SupplierID = handle.SupplierID
		header.SupplierName = handle.SupplierName
	}
	if header.DeliveryDate.IsZero() {
		header.DeliveryDate = handle.DeliveryDate
	}
	input := CreateInput{
		Ref:    Ref{PurchaseOrderID: handle.PurchaseOrderID, PreparationID: handle.PreparationID},
		Header: header,
		Items: []LineInput{{
			MaterialID:        handle.MaterialID,
			MaterialName:      handle.MaterialName,
			Category:          handle.Category,
			Unit:              handle.Unit,
			OrderedQuantity:   handle.OrderedQuantity,
			DeliveredQuantity: handle.DeliveredQuantity,
			UnitPrice:         handle.UnitPrice,
			LotNumber:         handle.BatchNumber,
		}},
	}
	return s.create(ctx, op, actor, input, true)
}

func (s *Service) create(ctx context.Context, op string, actor shared.Actor, input CreateInput, fromDelivery bool) (GRN, []VarianceWarning, error) {
	if err := actor.Require(op); err != nil {
		return GRN{}, nil, err
	}
	if len(input.Items) == 0 {
		return GRN{}, nil, shared.Validation(op, "at least one item is required")
	}
	if err := shared.ValidateStruct(op, input); err != nil {
		return GRN{}, nil, err
	}
	if strings.TrimSpace(input.Header.SupplierID) == "" && input.Ref.PurchaseOrderID == "" {
		return GRN{}, nil, shared.Validation(op, "supplier is required")
	}
	input.Items = append([]LineInput(nil), input.Items...)
	for i, item := range input.Items {
		if !item.OrderedQuantity.IsPositive() {
			return GRN{}, nil, shared.Validation(op, "item %d (%s): ordered quantity must be greater than zero", i+1, item.MaterialID)
		}
		if item.DeliveredQuantity.IsNegative() {
			return GRN{}, nil, shared.Validation(op, "item %d (%s): delivered quantity must not be negative", i+1, item.MaterialID)
		}
		if item.UnitPrice.IsNegative() {
			return GRN{}, nil, shared.Validation(op, "item %d (%s): unit price must not be negative", i+1, item.MaterialID)
		}
		category, ok := stock.ParseNamespace(string(item.Category))
		if !ok {
			return GRN{}, nil, shared.Validation(op, "item %d (%s): unknown category %q", i+1, item.MaterialID, item.Category)
		}
		input.Items[i].Category = category
	}

	now := s.clock.Now()
	grn := GRN{
		Number:          strings.TrimSpace(input.Number),
		PurchaseOrderID: input.Ref.PurchaseOrderID,
		PreparationID:   input.Ref.PreparationID,
		Header:          input.Header,
		Status:          StatusPendingQC,
		Receiver:        actor.Ref(),
		Stamp:           shared.NewStamp(actor, now),
	}
	if grn.Number == "" {
		grn.Number = generateNumber("GRN", now)
	}
	var warnings []VarianceWarning
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var po *preparation.PurchaseOrder
		if grn.PurchaseOrderID != "" {
			loaded, err := s.preparations.GetPurchaseOrderTx(ctx, tx.Store(), grn.PurchaseOrderID)
			if err != nil {
				return err
			}
			po = &loaded
			if grn.Header.SupplierID == "" {
				grn.Header.SupplierID = po.SupplierID
				grn.Header.SupplierName = po.SupplierName
			}
		}
		if strings.TrimSpace(grn.Header.SupplierID) == "" {
			return shared.Validation(op, "supplier is required")
		}
		grn.Items, warnings = s.buildLines(input.Items, po)
		if err := tx.Insert(ctx, &grn); err != nil {
			return err
		}
		if fromDelivery {
			if err := s.preparations.MarkReceived(ctx, tx.Store(), actor, grn.PreparationID, grn.ID); err != nil {
				return err
			}
		}
		if err := s.approvals.Record(ctx, tx.Store(), shared.ApprovalLog{
			Module: approvalModule, RefID: grn.ID, Actor: actor.Ref(), Action: shared.ApprovalSubmit, At: grn.CreatedAt,
		}); err != nil {
			return err
		}
		s.audit.Record(ctx, tx.Store(), shared.AuditLog{
			Actor: actor.Ref(), Action: "grn.created", Entity: "grn", EntityID: grn.ID,
			Meta: map[string]any{"number": grn.Number, "warnings": len(warnings)}, At: grn.CreatedAt,
		})
		if po != nil {
			return s.recomputeReceipt(ctx, tx, *po)
		}
		return nil
	})
	if err != nil {
		return GRN{}, nil, shared.FromStore(op, err)
	}
	s.observer.ObserveTransition("grn", "", string(grn.Status))
	notes := []notify.Notification{{
		Recipient: notify.ToRole(shared.RoleQC),
		Kind:      notify.KindGRNCreated,
		RelatedID: grn.ID,
	}}
	if len(warnings) > 0 {
		s.logger.Warn("grn variance above threshold",
			slog.String("grn_id", grn.ID),
			slog.Int("lines", len(warnings)),
			slog.String("threshold_percent", s.warnAbove.String()))
		notes = append(notes, notify.Notification{
			Recipient: notify.ToRole(shared.RolePurchasing),
			Kind:      notify.KindGRNVarianceWarning,
			RelatedID: grn.ID,
			Meta:      map[string]string{"lines": strconv.Itoa(len(warnings))},
		})
	}
	s.notifier.Send(ctx, notes...)
	return grn, warnings, nil
}

// buildLines prices lines from the PO where the receiver left the price
// empty and flags variances above the warning threshold.
func (s *Service) buildLines(items []LineInput, po *preparation.PurchaseOrder) ([]Line, []VarianceWarning) {
	lines := make([]Line, len(items))
	var warnings []VarianceWarning
	for i, item := range items {
		if po != nil && item.UnitPrice.IsZero() {
			if poLine, ok := po.Line(item.MaterialID); ok {
				item.UnitPrice = poLine.UnitPrice
			}
		}
		line := ComputeVariance(item)
		if line.VariancePercent.Abs().GreaterThan(s.warnAbove) {
			warnings = append(warnings, VarianceWarning{
				MaterialID:      line.MaterialID,
				Ordered:         line.OrderedQuantity,
				Delivered:       line.DeliveredQuantity,
				Variance:        line.Variance,
				VariancePercent: line.VariancePercent,
			})
		}
		lines[i] = line
	}
	return lines, warnings
}

// ComputeVariance derives delivered minus ordered and its percentage of the
// ordered quantity, rounded to two decimals.
func ComputeVariance(item LineInput) Line {
	variance := item.DeliveredQuantity.Sub(item.OrderedQuantity)
	percent := decimal.Zero
	if item.OrderedQuantity.IsPositive() {
		percent = variance.Div(item.OrderedQuantity).Mul(hundred).Round(2)
	}
	return Line{LineInput: item, Variance: variance, VariancePercent: percent}
}

// ApproveGRN passes QC: posts stock for every delivered line, flips the GRN
// to qc_passed and generates its invoice, all in one transaction.
func (s *Service) ApproveGRN(ctx context.Context, actor shared.Actor, grnID string) (GRN, error) {
	const op = "receiving.approve_grn"
	if err := actor.Require(op); err != nil {
		return GRN{}, err
	}
	var (
		approved GRN
		invoice  InvoiceRef
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		grn, version, err := s.loadPending(ctx, op, tx, grnID)
		if err != nil {
			return err
		}
		now := s.clock.Now()
		movementIDs := make([]string, 0, len(grn.Items))
		for i, line := range grn.Items {
			if !line.DeliveredQuantity.IsPositive() {
				continue
			}
			movement, err := s.stock.RecordMovementTx(ctx, tx.Store(), actor, stock.MovementInput{
				ID:           fmt.Sprintf("%s-%d", grn.ID, i+1),
				Namespace:    line.Category,
				MaterialID:   line.MaterialID,
				MaterialName: line.MaterialName,
				Unit:         line.Unit,
				Direction:    stock.DirectionIn,
				Quantity:     line.DeliveredQuantity,
				Reason:       stock.ReasonGRNApproved,
				BatchNumber:  line.LotNumber,
				SupplierID:   grn.Header.SupplierID,
				RefModule:    "grn",
				RefID:        grn.ID,
			})
			if err != nil {
				return err
			}
			movementIDs = append(movementIDs, movement.ID)
		}
		grn.Status = StatusQCPassed
		grn.Decision = &Decision{Actor: actor.Ref(), At: now.UnixMilli()}
		grn.MovementIDs = movementIDs
		grn.Touch(actor, now)
		if s.invoices != nil {
			invoice, err = s.invoices.AttachInvoice(ctx, tx.Store(), actor, grn)
			if err != nil {
				return err
			}
			grn.InvoiceID = invoice.ID
		}
		if err := tx.Update(ctx, grn, version); err != nil {
			return err
		}
		if err := s.approvals.Record(ctx, tx.Store(), shared.ApprovalLog{
			Module: approvalModule, RefID: grn.ID, Actor: actor.Ref(), Action: shared.ApprovalApprove, At: grn.UpdatedAt,
		}); err != nil {
			return err
		}
		s.audit.Record(ctx, tx.Store(), shared.AuditLog{
			Actor: actor.Ref(), Action: "grn.qc_passed", Entity: "grn", EntityID: grn.ID,
			Meta: map[string]any{"movements": len(movementIDs), "invoice_id": grn.InvoiceID}, At: grn.UpdatedAt,
		})
		approved = grn
		return nil
	})
	if err != nil {
		return GRN{}, shared.FromStore(op, err)
	}
	s.observer.ObserveTransition("grn", string(StatusPendingQC), string(StatusQCPassed))
	notes := []notify.Notification{{
		Recipient: notify.ToRole(shared.RoleStores),
		Kind:      notify.KindGRNPassed,
		RelatedID: approved.ID,
	}}
	if invoice.ID != "" {
		s.observer.ObserveTransition("invoice", "", "pending")
		notes = append(notes, notify.Notification{
			Recipient: notify.ToRole(shared.RoleFinance),
			Kind:      notify.KindInvoiceGenerated,
			RelatedID: invoice.ID,
			Meta:      map[string]string{"total": invoice.Total.StringFixed(2), "grn": approved.ID},
		})
	}
	s.notifier.Send(ctx, notes...)
	return approved, nil
}

// RejectGRN fails QC. The GRN is terminal and has no stock or invoice
// effect.
func (s *Service) RejectGRN(ctx context.Context, actor shared.Actor, grnID, reason string) (GRN, error) {
	const op = "receiving.reject_grn"
	if err := actor.Require(op); err != nil {
		return GRN{}, err
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return GRN{}, shared.Validation(op, "rejection reason is required")
	}
	var rejected GRN
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		grn, version, err := s.loadPending(ctx, op, tx, grnID)
		if err != nil {
			return err
		}
		now := s.clock.Now()
		grn.Status = StatusQCFailed
		grn.Decision = &Decision{Actor: actor.Ref(), At: now.UnixMilli(), Reason: reason}
		grn.Touch(actor, now)
		if err := tx.Update(ctx, grn, version); err != nil {
			return err
		}
		if err := s.approvals.Record(ctx, tx.Store(), shared.ApprovalLog{
			Module: approvalModule, RefID: grn.ID, Actor: actor.Ref(), Action: shared.ApprovalReject, Note: reason, At: grn.UpdatedAt,
		}); err != nil {
			return err
		}
		s.audit.Record(ctx, tx.Store(), shared.AuditLog{
			Actor: actor.Ref(), Action: "grn.qc_failed", Entity: "grn", EntityID: grn.ID,
			Meta: map[string]any{"reason": reason}, At: grn.UpdatedAt,
		})
		if grn.PurchaseOrderID != "" {
			po, err := s.preparations.GetPurchaseOrderTx(ctx, tx.Store(), grn.PurchaseOrderID)
			if err != nil {
				return err
			}
			if err := s.recomputeReceipt(ctx, tx, po); err != nil {
				return err
			}
		}
		rejected = grn
		return nil
	})
	if err != nil {
		return GRN{}, shared.FromStore(op, err)
	}
	s.observer.ObserveTransition("grn", string(StatusPendingQC), string(StatusQCFailed))
	s.notifier.Send(ctx, notify.Notification{
		Recipient: notify.ToRole(shared.RolePurchasing),
		Kind:      notify.KindGRNFailed,
		RelatedID: rejected.ID,
		Meta:      map[string]string{"reason": reason},
	})
	return rejected, nil
}

func (s *Service) loadPending(ctx context.Context, op string, tx TxRepository, grnID string) (GRN, store.Version, error) {
	grn, version, err := tx.Get(ctx, grnID)
	if errors.Is(err, ErrGRNNotFound) {
		return GRN{}, 0, shared.NotFound(op, "grn %s does not exist", grnID)
	}
	if err != nil {
		return GRN{}, 0, err
	}
	if grn.Status != StatusPendingQC {
		return GRN{}, 0, shared.InvalidTransition(op, "grn %s is %s; expected %s", grnID, grn.Status, StatusPendingQC)
	}
	return grn, version, nil
}

// RecomputePOReceipt derives the receipt status of a purchase order from its
// non-failed GRNs. It is idempotent.
func (s *Service) RecomputePOReceipt(ctx context.Context, poID string) (preparation.POStatus, error) {
	const op = "receiving.recompute_po_receipt"
	var status preparation.POStatus
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		po, err := s.preparations.GetPurchaseOrderTx(ctx, tx.Store(), poID)
		if err != nil {
			return err
		}
		grns, err := tx.List(ctx)
		if err != nil {
			return err
		}
		status = ReceiptStatus(po, grns)
		_, err = s.preparations.UpdatePOReceiptStatus(ctx, tx.Store(), po.ID, status)
		return err
	})
	if err != nil {
		return "", shared.FromStore(op, err)
	}
	return status, nil
}

func (s *Service) recomputeReceipt(ctx context.Context, tx TxRepository, po preparation.PurchaseOrder) error {
	grns, err := tx.List(ctx)
	if err != nil {
		return err
	}
	_, err = s.preparations.UpdatePOReceiptStatus(ctx, tx.Store(), po.ID, ReceiptStatus(po, grns))
	return err
}

// ReceiptStatus sums delivered quantity per material across the PO's
// non-failed GRNs and compares it with the ordered quantity.
func ReceiptStatus(po preparation.PurchaseOrder, grns []GRN) preparation.POStatus {
	delivered := make(map[string]decimal.Decimal)
	received := false
	for _, grn := range grns {
		if grn.PurchaseOrderID != po.ID || grn.Status == StatusQCFailed {
			continue
		}
		for _, line := range grn.Items {
			delivered[line.MaterialID] = delivered[line.MaterialID].Add(line.DeliveredQuantity)
			if line.DeliveredQuantity.IsPositive() {
				received = true
			}
		}
	}
	if !received {
		return preparation.POStatusIssued
	}
	for material, ordered := range po.Ordered() {
		if delivered[material].LessThan(ordered) {
			return preparation.POStatusPartiallyReceived
		}
	}
	return preparation.POStatusFullyReceived
}

// RecordQC stores an inspection. An accepted record that is not linked to a
// GRN posts its accepted quantity to stock in the same transaction.
func (s *Service) RecordQC(ctx context.Context, actor shared.Actor, input QCInput) (QCRecord, error) {
	const op = "receiving.record_qc"
	if err := actor.Require(op); err != nil {
		return QCRecord{}, err
	}
	if err := shared.ValidateStruct(op, input); err != nil {
		return QCRecord{}, err
	}
	if input.DefectRate.IsNegative() || input.DefectRate.GreaterThan(hundred) {
		return QCRecord{}, shared.Validation(op, "defect rate must be between 0 and 100")
	}
	if input.QuantityReceived.IsNegative() {
		return QCRecord{}, shared.Validation(op, "received quantity must not be negative")
	}
	accepted := decimal.Zero
	if input.Acceptance == Accepted {
		accepted = input.QuantityReceived
	}
	if input.QuantityAccepted != nil {
		accepted = *input.QuantityAccepted
		if accepted.IsNegative() || accepted.GreaterThan(input.QuantityReceived) {
			return QCRecord{}, shared.Validation(op, "accepted quantity %s must be between 0 and %s", accepted, input.QuantityReceived)
		}
	}
	category, ok := stock.ParseNamespace(string(input.Category))
	if !ok {
		return QCRecord{}, shared.Validation(op, "unknown category %q", input.Category)
	}

	now := s.clock.Now()
	record := QCRecord{
		ID:                 store.NewID(),
		GRNID:              input.GRNID,
		SupplierID:         input.SupplierID,
		SupplierName:       input.SupplierName,
		MaterialID:         input.MaterialID,
		MaterialName:       input.MaterialName,
		Category:           category,
		Grade:              input.Grade,
		DefectRate:         input.DefectRate,
		PackagingCondition: input.PackagingCondition,
		Acceptance:         input.Acceptance,
		QuantityReceived:   input.QuantityReceived,
		QuantityAccepted:   accepted,
		BatchNumber:        input.BatchNumber,
		Notes:              input.Notes,
		Inspector:          actor.Ref(),
		Stamp:              shared.NewStamp(actor, now),
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if record.GRNID != "" {
			if _, _, err := tx.Get(ctx, record.GRNID); errors.Is(err, ErrGRNNotFound) {
				return shared.NotFound(op, "grn %s does not exist", record.GRNID)
			} else if err != nil {
				return err
			}
		} else if record.Acceptance == Accepted && accepted.IsPositive() {
			movement, err := s.stock.RecordMovementTx(ctx, tx.Store(), actor, stock.MovementInput{
				ID:           "qc-" + record.ID,
				Namespace:    category,
				MaterialID:   record.MaterialID,
				MaterialName: record.MaterialName,
				Direction:    stock.DirectionIn,
				Quantity:     accepted,
				Reason:       stock.ReasonQCAccepted,
				BatchNumber:  record.BatchNumber,
				SupplierID:   record.SupplierID,
				RefModule:    "qc",
				RefID:        record.ID,
			})
			if err != nil {
				return err
			}
			record.MovementID = movement.ID
		}
		if err := tx.InsertQC(ctx, record); err != nil {
			return err
		}
		s.audit.Record(ctx, tx.Store(), shared.AuditLog{
			Actor: actor.Ref(), Action: "qc.recorded", Entity: "qc_record", EntityID: record.ID,
			Meta: map[string]any{"acceptance": string(record.Acceptance), "grade": string(record.Grade)}, At: record.CreatedAt,
		})
		return nil
	})
	if err != nil {
		return QCRecord{}, shared.FromStore(op, err)
	}
	s.notifier.Send(ctx, notify.Notification{
		Recipient: notify.ToRole(shared.RolePurchasing),
		Kind:      notify.KindQCRecorded,
		RelatedID: record.ID,
		Meta:      map[string]string{"status": string(record.Acceptance), "grade": string(record.Grade)},
	})
	return record, nil
}

// GetGRN returns a GRN by id.
func (s *Service) GetGRN(ctx context.Context, id string) (GRN, error) {
	grn, err := s.repo.Get(ctx, id)
	if errors.Is(err, ErrGRNNotFound) {
		return GRN{}, shared.NotFound("receiving.get_grn", "grn %s does not exist", id)
	}
	if err != nil {
		return GRN{}, shared.FromStore("receiving.get_grn", err)
	}
	return grn, nil
}

// ListGRNs returns GRNs in status; empty returns all.
func (s *Service) ListGRNs(ctx context.Context, status Status) ([]GRN, error) {
	switch status {
	case "", StatusPendingQC, StatusQCPassed, StatusQCFailed:
	default:
		return nil, shared.Validation("receiving.list_grns", "unknown status %q", status)
	}
	all, err := s.repo.List(ctx)
	if err != nil {
		return nil, shared.FromStore("receiving.list_grns", err)
	}
	out := make([]GRN, 0, len(all))
	for _, grn := range all {
		if status == "" || grn.Status == status {
			out = append(out, grn)
		}
	}
	return out, nil
}

// ListQCRecords returns QC records of a supplier; empty returns all.
func (s *Service) ListQCRecords(ctx context.Context, supplierID string) ([]QCRecord, error) {
	all, err := s.repo.ListQC(ctx)
	if err != nil {
		return nil, shared.FromStore("receiving.list_qc", err)
	}
	out := make([]QCRecord, 0, len(all))
	for _, rec := range all {
		if supplierID == "" || rec.SupplierID == supplierID {
			out = append(out, rec)
		}
	}
	return out, nil
}

// History returns the QC approval log of a GRN.
func (s *Service) History(ctx context.Context, grnID string) ([]shared.ApprovalLog, error) {
	if _, err := s.GetGRN(ctx, grnID); err != nil {
		return nil, err
	}
	logs, err := s.approvals.List(ctx, s.repo.Reader(), approvalModule, grnID)
	if err != nil {
		return nil, shared.FromStore("receiving.history", err)
	}
	return logs, nil
}

// QualitySamples implements preparation.QualitySource.
func (s *Service) QualitySamples(ctx context.Context) ([]preparation.QualitySample, error) {
	records, err := s.repo.ListQC(ctx)
	if err != nil {
		return nil, err
	}
	samples := make([]preparation.QualitySample, len(records))
	for i, rec := range records {
		samples[i] = preparation.QualitySample{
			SupplierID:   rec.SupplierID,
			SupplierName: rec.SupplierName,
			Grade:        string(rec.Grade),
			Accepted:     rec.Acceptance == Accepted,
		}
	}
	return samples, nil
}

func generateNumber(prefix string, at time.Time) string {
	return fmt.Sprintf("%s-%s-%d", prefix, at.Format("20060102"), at.UnixNano()%1_000_000)
}
