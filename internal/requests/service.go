package requests

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/odyssey-erp/procureflow/internal/notify"
	"github.com/odyssey-erp/procureflow/internal/shared"
	"github.com/odyssey-erp/procureflow/internal/stock"
	"github.com/odyssey-erp/procureflow/internal/store"
)

const approvalModule = "requests"

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, id string) (Request, error)
	List(ctx context.Context) ([]Request, error)
	Reader() store.Reader
	Subscribe(ctx context.Context, fn func(store.Change)) (func(), error)
}

// PreparationPort creates purchase preparations when a request is finalized.
// It runs inside the approval transaction.
type PreparationPort interface {
	CreateFromApprovedRequest(ctx context.Context, tx store.Tx, actor shared.Actor, req Request) ([]string, error)
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

// Service owns the request lifecycle.
type Service struct {
	repo         RepositoryPort
	preparations PreparationPort
	notifier     *notify.FanOut
	approvals    *shared.ApprovalRecorder
	audit        *shared.AuditLogger
	observer     shared.TransitionObserver
	logger       *slog.Logger
	clock        shared.Clock
	policy       Policy
}

// NewService builds Service.
func NewService(repo RepositoryPort, preparations PreparationPort, opts Options) *Service {
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
	return &Service{
		repo:         repo,
		preparations: preparations,
		notifier:     opts.Notifier,
		approvals:    approvals,
		audit:        opts.Audit,
		observer:     observer,
		logger:       logger,
		clock:        opts.Clock,
		policy:       opts.Policy,
	}
}

// CreateRequest submits a new request awaiting operations head approval.
func (s *Service) CreateRequest(ctx context.Context, actor shared.Actor, input CreateInput) (Request, error) {
	const op = "requests.create"
	if err := actor.Require(op); err != nil {
		return Request{}, err
	}
	if len(input.Items) == 0 {
		return Request{}, shared.Validation(op, "at least one item is required")
	}
	if err := shared.ValidateStruct(op, input); err != nil {
		return Request{}, err
	}
	items := make([]Item, len(input.Items))
	for i, item := range input.Items {
		if !item.Quantity.IsPositive() {
			return Request{}, shared.Validation(op, "item %d (%s): quantity must be greater than zero", i+1, item.MaterialID)
		}
		category, ok := stock.ParseNamespace(string(item.Category))
		if !ok {
			return Request{}, shared.Validation(op, "item %d (%s): unknown category %q", i+1, item.MaterialID, item.Category)
		}
		if item.EstimatedUnitPrice != nil && item.EstimatedUnitPrice.IsNegative() {
			return Request{}, shared.Validation(op, "item %d (%s): estimated unit price must not be negative", i+1, item.MaterialID)
		}
		item.Category = category
		if item.Urgency == "" {
			item.Urgency = UrgencyNormal
		}
		items[i] = item
	}
	kind := input.Kind
	if kind == "" {
		kind = KindMaterial
	}

	req := Request{
		Kind:      kind,
		Title:     strings.TrimSpace(input.Title),
		Items:     items,
		Requester: actor.Ref(),
		Status:    StatusPendingHO,
		Stamp:     shared.NewStamp(actor, s.clock.Now()),
	}
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.Insert(ctx, &req); err != nil {
			return err
		}
		if err := s.approvals.Record(ctx, tx.Store(), shared.ApprovalLog{
			Module: approvalModule, RefID: req.ID, Actor: actor.Ref(), Action: shared.ApprovalSubmit, At: req.CreatedAt,
		}); err != nil {
			return err
		}
		s.audit.Record(ctx, tx.Store(), shared.AuditLog{Actor: actor.Ref(), Action: "request.created", Entity: "request", EntityID: req.ID, At: req.CreatedAt})
		return nil
	})
	if err != nil {
		return Request{}, shared.FromStore(op, err)
	}
	s.observer.ObserveTransition("request", "", string(req.Status))
	s.notifier.Send(ctx, notify.Notification{
		Recipient: notify.ToRole(shared.RoleOperationsHead),
		Kind:      notify.KindRequestCreated,
		RelatedID: req.ID,
		Meta:      map[string]string{"requester": actor.DisplayName},
	})
	return req, nil
}

// ApproveAtOperationsHead forwards a pending request to the director.
func (s *Service) ApproveAtOperationsHead(ctx context.Context, actor shared.Actor, id, comments string) (Request, error) {
	const op = "requests.approve_ho"
	var autoFinal bool
	req, from, err := s.transition(ctx, op, actor, id, StatusPendingHO, StatusForwardedToMD, func(ctx context.Context, tx TxRepository, req *Request, now int64) error {
		req.HeadApproval = &Decision{Actor: actor.Ref(), At: now, Comments: comments}
		if !s.autoApproves(*req) {
			return nil
		}
		autoFinal = true
		req.AutoApproved = true
		req.Status = StatusMDApproved
		return s.finalize(ctx, tx, actor, req)
	})
	if err != nil {
		return Request{}, err
	}
	if autoFinal {
		s.logger.Info("product request auto-approved under policy limit", slog.String("request_id", req.ID))
		s.observer.ObserveTransition("request", string(from), string(StatusForwardedToMD))
		s.observer.ObserveTransition("request", string(StatusForwardedToMD), string(StatusMDApproved))
		s.notifyFinal(ctx, req)
		return req, nil
	}
	s.observer.ObserveTransition("request", string(from), string(req.Status))
	s.notifier.Send(ctx, notify.Notification{
		Recipient: notify.ToRole(shared.RoleDirector),
		Kind:      notify.KindRequestForwarded,
		RelatedID: req.ID,
	})
	return req, nil
}

// RejectAtOperationsHead stops a pending request.
func (s *Service) RejectAtOperationsHead(ctx context.Context, actor shared.Actor, id, reason string) (Request, error) {
	return s.reject(ctx, "requests.reject_ho", actor, id, StatusPendingHO, reason)
}

// RejectAtDirector stops a forwarded request.
func (s *Service) RejectAtDirector(ctx context.Context, actor shared.Actor, id, reason string) (Request, error) {
	return s.reject(ctx, "requests.reject_md", actor, id, StatusForwardedToMD, reason)
}

// ApproveAtDirector finalizes a forwarded request and opens one purchase
// preparation per line in the same transaction.
func (s *Service) ApproveAtDirector(ctx context.Context, actor shared.Actor, id, comments string) (Request, error) {
	const op = "requests.approve_md"
	req, from, err := s.transition(ctx, op, actor, id, StatusForwardedToMD, StatusMDApproved, func(ctx context.Context, tx TxRepository, req *Request, now int64) error {
		req.DirectorApproval = &Decision{Actor: actor.Ref(), At: now, Comments: comments}
		return s.finalize(ctx, tx, actor, req)
	})
	if err != nil {
		return Request{}, err
	}
	s.observer.ObserveTransition("request", string(from), string(req.Status))
	s.notifyFinal(ctx, req)
	return req, nil
}

func (s *Service) reject(ctx context.Context, op string, actor shared.Actor, id string, expect Status, reason string) (Request, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return Request{}, shared.Validation(op, "rejection reason is required")
	}
	req, from, err := s.transition(ctx, op, actor, id, expect, StatusRejected, func(_ context.Context, _ TxRepository, req *Request, now int64) error {
		req.Rejection = &Rejection{Stage: expect, Actor: actor.Ref(), At: now, Reason: reason}
		return nil
	})
	if err != nil {
		return Request{}, err
	}
	s.observer.ObserveTransition("request", string(from), string(req.Status))
	s.notifier.Send(ctx, notify.Notification{
		Recipient: notify.ToUser(req.Requester.ID),
		Kind:      notify.KindRequestRejected,
		RelatedID: req.ID,
		Meta:      map[string]string{"reason": reason, "stage": string(expect)},
	})
	return req, nil
}

type mutation func(ctx context.Context, tx TxRepository, req *Request, now int64) error

// transition re-reads the request inside the write transaction, checks the
// precondition and writes with the version it read.
func (s *Service) transition(ctx context.Context, op string, actor shared.Actor, id string, expect, to Status, mutate mutation) (Request, Status, error) {
	if err := actor.Require(op); err != nil {
		return Request{}, "", err
	}
	if id == "" {
		return Request{}, "", shared.Validation(op, "request id required")
	}
	var (
		updated Request
		from    Status
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		req, version, err := tx.Get(ctx, id)
		if errors.Is(err, ErrRequestNotFound) {
			return shared.NotFound(op, "request %s does not exist", id)
		}
		if err != nil {
			return err
		}
		from = req.Status
		if req.Status != expect || !CanTransition(req.Status, to) {
			return shared.InvalidTransition(op, "request %s is %s; expected %s", id, req.Status, expect)
		}
		now := s.clock.Now()
		req.Status = to
		if err := mutate(ctx, tx, &req, now.UnixMilli()); err != nil {
			return err
		}
		req.Touch(actor, now)

		action, note := shared.ApprovalApprove, ""
		if req.Status == StatusRejected {
			action, note = shared.ApprovalReject, req.Rejection.Reason
		} else if req.HeadApproval != nil && expect == StatusPendingHO {
			note = req.HeadApproval.Comments
		} else if req.DirectorApproval != nil {
			note = req.DirectorApproval.Comments
		}
		if err := s.approvals.Record(ctx, tx.Store(), shared.ApprovalLog{
			Module: approvalModule, RefID: req.ID, Actor: actor.Ref(), Action: action, Note: note, At: req.UpdatedAt,
		}); err != nil {
			return err
		}
		s.audit.Record(ctx, tx.Store(), shared.AuditLog{
			Actor: actor.Ref(), Action: "request." + string(req.Status), Entity: "request", EntityID: req.ID,
			Meta: map[string]any{"from": string(from), "to": string(req.Status)}, At: req.UpdatedAt,
		})
		if err := tx.Update(ctx, req, version); err != nil {
			return err
		}
		updated = req
		return nil
	})
	if err != nil {
		return Request{}, "", shared.FromStore(op, err)
	}
	return updated, from, nil
}

func (s *Service) finalize(ctx context.Context, tx TxRepository, actor shared.Actor, req *Request) error {
	if s.preparations == nil {
		return nil
	}
	ids, err := s.preparations.CreateFromApprovedRequest(ctx, tx.Store(), actor, *req)
	if err != nil {
		return err
	}
	req.PreparationIDs = ids
	return nil
}

func (s *Service) autoApproves(req Request) bool {
	limit := s.policy.ProductAutoApproveLimit
	if req.Kind != KindProduct || !limit.IsPositive() {
		return false
	}
	value, priced := req.EstimatedValue()
	return priced && value.LessThanOrEqual(limit)
}

func (s *Service) notifyFinal(ctx context.Context, req Request) {
	notes := []notify.Notification{{
		Recipient: notify.ToUser(req.Requester.ID),
		Kind:      notify.KindRequestApproved,
		RelatedID: req.ID,
	}}
	for i, prepID := range req.PreparationIDs {
		material := ""
		if i < len(req.Items) {
			material = req.Items[i].Name
		}
		notes = append(notes, notify.Notification{
			Recipient: notify.ToRole(shared.RolePurchasing),
			Kind:      notify.KindPreparationCreated,
			RelatedID: prepID,
			Meta:      map[string]string{"material": material, "request": req.ID},
		})
	}
	s.notifier.Send(ctx, notes...)
}

// Get returns a request by id.
func (s *Service) Get(ctx context.Context, id string) (Request, error) {
	req, err := s.repo.Get(ctx, id)
	if errors.Is(err, ErrRequestNotFound) {
		return Request{}, shared.NotFound("requests.get", "request %s does not exist", id)
	}
	if err != nil {
		return Request{}, shared.FromStore("requests.get", err)
	}
	return req, nil
}

// ListByStatus accepts canonical or legacy status names.
func (s *Service) ListByStatus(ctx context.Context, status string) ([]Request, error) {
	parsed, err := ParseStatus(status)
	if err != nil {
		return nil, shared.Validation("requests.list_by_status", "%v", err)
	}
	return s.filter(ctx, "requests.list_by_status", func(r Request) bool { return r.Status == parsed })
}

// ListByRequester returns requests submitted by userID.
func (s *Service) ListByRequester(ctx context.Context, userID string) ([]Request, error) {
	if userID == "" {
		return nil, shared.Validation("requests.list_by_requester", "requester id required")
	}
	return s.filter(ctx, "requests.list_by_requester", func(r Request) bool { return r.Requester.ID == userID })
}

// List returns every request.
func (s *Service) List(ctx context.Context) ([]Request, error) {
	return s.filter(ctx, "requests.list", func(Request) bool { return true })
}

func (s *Service) filter(ctx context.Context, op string, keep func(Request) bool) ([]Request, error) {
	all, err := s.repo.List(ctx)
	if err != nil {
		return nil, shared.FromStore(op, err)
	}
	out := make([]Request, 0, len(all))
	for _, r := range all {
		if keep(r) {
			out = append(out, r)
		}
	}
	return out, nil
}

// History returns the approval log of a request.
func (s *Service) History(ctx context.Context, id string) ([]shared.ApprovalLog, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	logs, err := s.approvals.List(ctx, s.repo.Reader(), approvalModule, id)
	if err != nil {
		return nil, shared.FromStore("requests.history", err)
	}
	return logs, nil
}

// Watch streams committed request changes to fn until the returned function
// is called or ctx ends.
func (s *Service) Watch(ctx context.Context, fn func(Request)) (func(), error) {
	unsubscribe, err := s.repo.Subscribe(ctx, func(change store.Change) {
		req, err := s.repo.Get(ctx, change.ID)
		if err != nil {
			s.logger.Debug("watch: reload request", slog.String("request_id", change.ID), slog.Any("error", err))
			return
		}
		fn(req)
	})
	if err != nil {
		return nil, shared.Dependency("requests.watch", err)
	}
	return unsubscribe, nil
}
