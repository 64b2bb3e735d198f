package preparation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/odyssey-erp/procureflow/internal/notify"
	"github.com/odyssey-erp/procureflow/internal/requests"
	"github.com/odyssey-erp/procureflow/internal/shared"
	"github.com/odyssey-erp/procureflow/internal/store"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Bind(tx store.Tx) TxRepository
	Get(ctx context.Context, id string) (Preparation, error)
	List(ctx context.Context) ([]Preparation, error)
	GetPurchaseOrder(ctx context.Context, id string) (PurchaseOrder, error)
	ListPurchaseOrders(ctx context.Context) ([]PurchaseOrder, error)
}

// Options groups optional collaborators.
type Options struct {
	Logger   *slog.Logger
	Notifier *notify.FanOut
	Audit    *shared.AuditLogger
	Observer shared.TransitionObserver
	Clock    shared.Clock
	Policy   Policy
}

// Service owns purchase preparation and purchase orders.
type Service struct {
	repo     RepositoryPort
	notifier *notify.FanOut
	audit    *shared.AuditLogger
	observer shared.TransitionObserver
	logger   *slog.Logger
	clock    shared.Clock
	policy   Policy
}

// NewService builds Service.
func NewService(repo RepositoryPort, opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	observer := opts.Observer
	if observer == nil {
		observer = shared.NopObserver{}
	}
	return &Service{
		repo:     repo,
		notifier: opts.Notifier,
		audit:    opts.Audit,
		observer: observer,
		logger:   logger,
		clock:    opts.Clock,
		policy:   opts.Policy,
	}
}

// CreateFromApprovedRequest opens one preparation per request line inside
// the approval transaction. Ids are derived from the request so a retried
// approval reuses them.
func (s *Service) CreateFromApprovedRequest(ctx context.Context, tx store.Tx, actor shared.Actor, req requests.Request) ([]string, error) {
	const op = "preparation.create_from_request"
	if req.Status != requests.StatusMDApproved {
		return nil, shared.InvalidTransition(op, "request %s is %s; expected %s", req.ID, req.Status, requests.StatusMDApproved)
	}
	if len(req.Items) == 0 {
		return nil, shared.Validation(op, "request %s has no items", req.ID)
	}
	repo := s.repo.Bind(tx)
	now := s.clock.Now()
	ids := make([]string, 0, len(req.Items))
	for i, item := range req.Items {
		id := fmt.Sprintf("%s-%d", req.ID, i+1)
		if _, _, err := repo.Get(ctx, id); err == nil {
			ids = append(ids, id)
			continue
		} else if !errors.Is(err, ErrPreparationNotFound) {
			return nil, err
		}
		prep := Preparation{
			ID:           id,
			RequestID:    req.ID,
			Line:         i + 1,
			MaterialID:   item.MaterialID,
			MaterialName: item.Name,
			Quantity:     item.Quantity,
			Unit:         item.Unit,
			Category:     item.Category,
			Urgency:      string(item.Urgency),
			Status:       StatusAwaitingSupplier,
			Stamp:        shared.NewStamp(actor, now),
		}
		if err := repo.Create(ctx, prep); err != nil {
			return nil, err
		}
		s.audit.Record(ctx, tx, shared.AuditLog{Actor: actor.Ref(), Action: "preparation.created", Entity: "preparation", EntityID: id, At: prep.CreatedAt})
		ids = append(ids, id)
	}
	return ids, nil
}

// AssignSupplier records the single supplier for an awaiting preparation.
func (s *Service) AssignSupplier(ctx context.Context, actor shared.Actor, id string, input AssignInput) (Preparation, error) {
	const op = "preparation.assign_supplier"
	if err := shared.ValidateStruct(op, input); err != nil {
		return Preparation{}, err
	}
	if !input.UnitPrice.IsPositive() {
		return Preparation{}, shared.Validation(op, "unit price must be greater than zero")
	}
	prep, err := s.transition(ctx, op, actor, id, StatusAwaitingSupplier, StatusSupplierAssigned, func(_ TxRepository, p *Preparation) error {
		p.Supplier = &SupplierAssignment{
			SupplierID:           input.SupplierID,
			SupplierName:         input.SupplierName,
			UnitPrice:            input.UnitPrice,
			ExpectedDeliveryDate: input.ExpectedDeliveryDate,
		}
		return nil
	})
	if err != nil {
		return Preparation{}, err
	}
	s.notifySupplier(ctx, prep)
	return prep, nil
}

// SubmitAllocation splits an awaiting preparation across suppliers. The
// largest split becomes the primary supplier.
func (s *Service) SubmitAllocation(ctx context.Context, actor shared.Actor, id string, splits []Split) (Preparation, error) {
	const op = "preparation.submit_allocation"
	if len(splits) == 0 {
		return Preparation{}, shared.Validation(op, "at least one split is required")
	}
	for i, split := range splits {
		if err := shared.ValidateStruct(op, split); err != nil {
			return Preparation{}, fmt.Errorf("split %d: %w", i+1, err)
		}
	}
	prep, err := s.transition(ctx, op, actor, id, StatusAwaitingSupplier, StatusSupplierAssigned, func(_ TxRepository, p *Preparation) error {
		alloc := NewAllocation(p.Quantity)
		for _, split := range splits {
			if err := alloc.Add(split); err != nil {
				return shared.Validation(op, "%v", err)
			}
		}
		if err := alloc.Validate(); err != nil {
			return shared.Validation(op, "%v", err)
		}
		primary := alloc.Primary()
		p.Allocation = alloc
		p.Supplier = &SupplierAssignment{
			SupplierID:           primary.SupplierID,
			SupplierName:         primary.SupplierName,
			UnitPrice:            primary.UnitPrice,
			ExpectedDeliveryDate: primary.DeliveryDate,
		}
		return nil
	})
	if err != nil {
		return Preparation{}, err
	}
	s.notifySupplier(ctx, prep)
	return prep, nil
}

// MarkDelivered records the delivery and returns the handle Receiving uses to
// open a GRN.
func (s *Service) MarkDelivered(ctx context.Context, actor shared.Actor, id string, input DeliveryInput) (Preparation, DeliveryHandle, error) {
	const op = "preparation.mark_delivered"
	if err := shared.ValidateStruct(op, input); err != nil {
		return Preparation{}, DeliveryHandle{}, err
	}
	if input.DeliveredQuantity.IsNegative() {
		return Preparation{}, DeliveryHandle{}, shared.Validation(op, "delivered quantity must not be negative")
	}
	prep, err := s.transition(ctx, op, actor, id, StatusSupplierAssigned, StatusDelivered, func(_ TxRepository, p *Preparation) error {
		over := input.DeliveredQuantity.GreaterThan(p.Quantity)
		if over && !s.policy.AllowOverDelivery {
			return shared.Validation(op, "delivered %s exceeds required %s", input.DeliveredQuantity, p.Quantity)
		}
		if over {
			s.logger.Warn("over-delivery accepted",
				slog.String("preparation_id", p.ID),
				slog.String("required", p.Quantity.String()),
				slog.String("delivered", input.DeliveredQuantity.String()))
		}
		p.Delivery = &Delivery{
			Quantity:           input.DeliveredQuantity,
			Date:               input.DeliveryDate,
			BatchNumber:        strings.TrimSpace(input.BatchNumber),
			PackagingCondition: input.PackagingCondition,
			Over:               over,
		}
		return nil
	})
	if err != nil {
		return Preparation{}, DeliveryHandle{}, err
	}
	s.notifier.Send(ctx, notify.Notification{
		Recipient: notify.ToRole(shared.RoleStores),
		Kind:      notify.KindDelivered,
		RelatedID: prep.ID,
		Meta:      map[string]string{"quantity": prep.Delivery.Quantity.String()},
	})
	return prep, handleFor(prep), nil
}

// Handle rebuilds the delivery handle of a delivered preparation.
func (s *Service) Handle(ctx context.Context, id string) (DeliveryHandle, error) {
	const op = "preparation.handle"
	prep, err := s.Get(ctx, id)
	if err != nil {
		return DeliveryHandle{}, err
	}
	if prep.Status != StatusDelivered {
		return DeliveryHandle{}, shared.InvalidTransition(op, "preparation %s is %s; expected %s", id, prep.Status, StatusDelivered)
	}
	return handleFor(prep), nil
}

func handleFor(p Preparation) DeliveryHandle {
	h := DeliveryHandle{
		PreparationID:   p.ID,
		RequestID:       p.RequestID,
		PurchaseOrderID: p.PurchaseOrderID,
		MaterialID:      p.MaterialID,
		MaterialName:    p.MaterialName,
		Unit:            p.Unit,
		Category:        p.Category,
		OrderedQuantity: p.Quantity,
	}
	if p.Supplier != nil {
		h.SupplierID = p.Supplier.SupplierID
		h.SupplierName = p.Supplier.SupplierName
		h.UnitPrice = p.Supplier.UnitPrice
	}
	if p.Delivery != nil {
		h.DeliveredQuantity = p.Delivery.Quantity
		h.DeliveryDate = p.Delivery.Date
		h.BatchNumber = p.Delivery.BatchNumber
	}
	return h
}

// MarkReceived hands a delivered preparation to Receiving inside the GRN
// creation transaction.
func (s *Service) MarkReceived(ctx context.Context, tx store.Tx, actor shared.Actor, id, grnID string) error {
	const op = "preparation.mark_received"
	repo := s.repo.Bind(tx)
	prep, version, err := repo.Get(ctx, id)
	if errors.Is(err, ErrPreparationNotFound) {
		return shared.NotFound(op, "preparation %s does not exist", id)
	}
	if err != nil {
		return err
	}
	if prep.Status != StatusDelivered {
		return shared.InvalidTransition(op, "preparation %s is %s; expected %s", id, prep.Status, StatusDelivered)
	}
	prep.Status = StatusReceived
	prep.GRNID = grnID
	prep.Touch(actor, s.clock.Now())
	if err := repo.Update(ctx, prep, version); err != nil {
		return err
	}
	s.audit.Record(ctx, tx, shared.AuditLog{
		Actor: actor.Ref(), Action: "preparation.received", Entity: "preparation", EntityID: id,
		Meta: map[string]any{"grn_id": grnID}, At: prep.UpdatedAt,
	})
	return nil
}

type mutation func(tx TxRepository, p *Preparation) error

func (s *Service) transition(ctx context.Context, op string, actor shared.Actor, id string, expect, to Status, mutate mutation) (Preparation, error) {
	if err := actor.Require(op); err != nil {
		return Preparation{}, err
	}
	var updated Preparation
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		prep, version, err := tx.Get(ctx, id)
		if errors.Is(err, ErrPreparationNotFound) {
			return shared.NotFound(op, "preparation %s does not exist", id)
		}
		if err != nil {
			return err
		}
		if prep.Status != expect {
			return shared.InvalidTransition(op, "preparation %s is %s; expected %s", id, prep.Status, expect)
		}
		if err := mutate(tx, &prep); err != nil {
			return err
		}
		prep.Status = to
		prep.Touch(actor, s.clock.Now())
		if err := tx.Update(ctx, prep, version); err != nil {
			return err
		}
		s.audit.Record(ctx, tx.Store(), shared.AuditLog{
			Actor: actor.Ref(), Action: "preparation." + string(to), Entity: "preparation", EntityID: id,
			Meta: map[string]any{"from": string(expect), "to": string(to)}, At: prep.UpdatedAt,
		})
		updated = prep
		return nil
	})
	if err != nil {
		return Preparation{}, shared.FromStore(op, err)
	}
	s.observer.ObserveTransition("preparation", string(expect), string(to))
	return updated, nil
}

func (s *Service) notifySupplier(ctx context.Context, prep Preparation) {
	s.notifier.Send(ctx, notify.Notification{
		Recipient: notify.ToRole(shared.RolePurchasing),
		Kind:      notify.KindSupplierAssigned,
		RelatedID: prep.ID,
		Meta:      map[string]string{"supplier": prep.Supplier.SupplierName},
	})
}

// IssuePurchaseOrder groups preparations of one supplier into an issued
// purchase order.
func (s *Service) IssuePurchaseOrder(ctx context.Context, actor shared.Actor, input IssuePOInput) (PurchaseOrder, error) {
	const op = "preparation.issue_po"
	if err := actor.Require(op); err != nil {
		return PurchaseOrder{}, err
	}
	if err := shared.ValidateStruct(op, input); err != nil {
		return PurchaseOrder{}, err
	}
	var po PurchaseOrder
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		now := s.clock.Now()
		po = PurchaseOrder{
			Number:       strings.TrimSpace(input.Number),
			Status:       POStatusIssued,
			ExpectedDate: input.ExpectedDate,
			Note:         input.Note,
			Stamp:        shared.NewStamp(actor, now),
		}
		if po.Number == "" {
			po.Number = generateNumber("PO", now)
		}
		type loaded struct {
			prep    Preparation
			version store.Version
		}
		preps := make([]loaded, 0, len(input.PreparationIDs))
		seen := make(map[string]struct{}, len(input.PreparationIDs))
		for _, id := range input.PreparationIDs {
			if _, dup := seen[id]; dup {
				return shared.Validation(op, "preparation %s listed twice", id)
			}
			seen[id] = struct{}{}
			prep, version, err := tx.Get(ctx, id)
			if errors.Is(err, ErrPreparationNotFound) {
				return shared.NotFound(op, "preparation %s does not exist", id)
			}
			if err != nil {
				return err
			}
			if prep.Status != StatusSupplierAssigned && prep.Status != StatusDelivered {
				return shared.InvalidTransition(op, "preparation %s is %s; a supplier must be assigned first", id, prep.Status)
			}
			if prep.PurchaseOrderID != "" {
				return shared.InvalidTransition(op, "preparation %s is already on purchase order %s", id, prep.PurchaseOrderID)
			}
			if po.SupplierID == "" {
				po.SupplierID = prep.Supplier.SupplierID
				po.SupplierName = prep.Supplier.SupplierName
			} else if prep.Supplier.SupplierID != po.SupplierID {
				return shared.Validation(op, "preparation %s is sourced from %s, not %s", id, prep.Supplier.SupplierID, po.SupplierID)
			}
			if po.ExpectedDate.Before(prep.Supplier.ExpectedDeliveryDate) && input.ExpectedDate.IsZero() {
				po.ExpectedDate = prep.Supplier.ExpectedDeliveryDate
			}
			po.Lines = append(po.Lines, POLine{
				PreparationID:   prep.ID,
				MaterialID:      prep.MaterialID,
				MaterialName:    prep.MaterialName,
				Unit:            prep.Unit,
				Category:        prep.Category,
				OrderedQuantity: prep.Quantity,
				UnitPrice:       prep.Supplier.UnitPrice,
			})
			preps = append(preps, loaded{prep: prep, version: version})
		}
		if err := tx.InsertPurchaseOrder(ctx, &po); err != nil {
			return err
		}
		for _, l := range preps {
			l.prep.PurchaseOrderID = po.ID
			l.prep.Touch(actor, now)
			if err := tx.Update(ctx, l.prep, l.version); err != nil {
				return err
			}
		}
		s.audit.Record(ctx, tx.Store(), shared.AuditLog{
			Actor: actor.Ref(), Action: "po.issued", Entity: "purchase_order", EntityID: po.ID,
			Meta: map[string]any{"number": po.Number, "lines": len(po.Lines)}, At: po.CreatedAt,
		})
		return nil
	})
	if err != nil {
		return PurchaseOrder{}, shared.FromStore(op, err)
	}
	s.observer.ObserveTransition("purchase_order", "", string(po.Status))
	s.notifier.Send(ctx, notify.Notification{
		Recipient: notify.ToRole(shared.RolePurchasing),
		Kind:      notify.KindPurchaseOrderIssued,
		RelatedID: po.Number,
		Meta:      map[string]string{"supplier": po.SupplierName},
	})
	return po, nil
}

// UpdatePOReceiptStatus stores a recomputed receipt status. It reports
// whether the status changed.
func (s *Service) UpdatePOReceiptStatus(ctx context.Context, tx store.Tx, poID string, status POStatus) (bool, error) {
	const op = "preparation.update_po_receipt"
	repo := s.repo.Bind(tx)
	po, version, err := repo.GetPurchaseOrder(ctx, poID)
	if errors.Is(err, ErrPurchaseOrderNotFound) {
		return false, shared.NotFound(op, "purchase order %s does not exist", poID)
	}
	if err != nil {
		return false, err
	}
	if po.Status == status {
		return false, nil
	}
	from := po.Status
	po.Status = status
	po.Touch(shared.System, s.clock.Now())
	if err := repo.UpdatePurchaseOrder(ctx, po, version); err != nil {
		return false, err
	}
	s.logger.Info("purchase order receipt status changed",
		slog.String("po_id", poID), slog.String("from", string(from)), slog.String("to", string(status)))
	return true, nil
}

// GetPurchaseOrder returns a purchase order by id.
func (s *Service) GetPurchaseOrder(ctx context.Context, id string) (PurchaseOrder, error) {
	po, err := s.repo.GetPurchaseOrder(ctx, id)
	if errors.Is(err, ErrPurchaseOrderNotFound) {
		return PurchaseOrder{}, shared.NotFound("preparation.get_po", "purchase order %s does not exist", id)
	}
	if err != nil {
		return PurchaseOrder{}, shared.FromStore("preparation.get_po", err)
	}
	return po, nil
}

// GetPurchaseOrderTx reads a purchase order through a transaction opened by
// another module.
func (s *Service) GetPurchaseOrderTx(ctx context.Context, tx store.Tx, id string) (PurchaseOrder, error) {
	po, _, err := s.repo.Bind(tx).GetPurchaseOrder(ctx, id)
	if errors.Is(err, ErrPurchaseOrderNotFound) {
		return PurchaseOrder{}, shared.NotFound("preparation.get_po", "purchase order %s does not exist", id)
	}
	if err != nil {
		return PurchaseOrder{}, err
	}
	return po, nil
}

// ListPurchaseOrders returns every purchase order.
func (s *Service) ListPurchaseOrders(ctx context.Context) ([]PurchaseOrder, error) {
	pos, err := s.repo.ListPurchaseOrders(ctx)
	if err != nil {
		return nil, shared.FromStore("preparation.list_po", err)
	}
	return pos, nil
}

// Get returns a preparation by id.
func (s *Service) Get(ctx context.Context, id string) (Preparation, error) {
	prep, err := s.repo.Get(ctx, id)
	if errors.Is(err, ErrPreparationNotFound) {
		return Preparation{}, shared.NotFound("preparation.get", "preparation %s does not exist", id)
	}
	if err != nil {
		return Preparation{}, shared.FromStore("preparation.get", err)
	}
	return prep, nil
}

// ListByStatus returns preparations in status; empty returns all.
func (s *Service) ListByStatus(ctx context.Context, status Status) ([]Preparation, error) {
	switch status {
	case "", StatusAwaitingSupplier, StatusSupplierAssigned, StatusDelivered, StatusReceived:
	default:
		return nil, shared.Validation("preparation.list_by_status", "unknown status %q", status)
	}
	return s.filter(ctx, func(p Preparation) bool { return status == "" || p.Status == status })
}

// ListByRequest returns the preparations opened for a request.
func (s *Service) ListByRequest(ctx context.Context, requestID string) ([]Preparation, error) {
	return s.filter(ctx, func(p Preparation) bool { return p.RequestID == requestID })
}

func (s *Service) filter(ctx context.Context, keep func(Preparation) bool) ([]Preparation, error) {
	all, err := s.repo.List(ctx)
	if err != nil {
		return nil, shared.FromStore("preparation.list", err)
	}
	out := make([]Preparation, 0, len(all))
	for _, p := range all {
		if keep(p) {
			out = append(out, p)
		}
	}
	return out, nil
}

func generateNumber(prefix string, at time.Time) string {
	return fmt.Sprintf("%s-%s-%d", prefix, at.Format("20060102"), at.UnixNano()%1_000_000)
}
