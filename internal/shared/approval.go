package shared

import (
	"context"
	"errors"
	"log/slog"
	"sort"

	"github.com/odyssey-erp/procureflow/internal/store"
)

// ApprovalAction enumerates approval log actions.
type ApprovalAction string

const (
	// ApprovalSubmit marks a submit action.
	ApprovalSubmit ApprovalAction = "SUBMIT"
	// ApprovalApprove marks an approve action.
	ApprovalApprove ApprovalAction = "APPROVE"
	// ApprovalReject marks a reject action.
	ApprovalReject ApprovalAction = "REJECT"
)

// ApprovalLog represents a single approval record.
type ApprovalLog struct {
	ID     string         `json:"id"`
	Seq    int            `json:"seq"`
	Module string         `json:"module"`
	RefID  string         `json:"refId"`
	Actor  ActorRef       `json:"actor"`
	Action ApprovalAction `json:"action"`
	Note   string         `json:"note,omitempty"`
	At     int64          `json:"at"`
}

// AssignID implements store.Identifiable.
func (l *ApprovalLog) AssignID(id string) { l.ID = id }

// ApprovalRecorder persists approval history next to the transition it records.
type ApprovalRecorder struct {
	logger *slog.Logger
}

// NewApprovalRecorder constructs ApprovalRecorder.
func NewApprovalRecorder(logger *slog.Logger) *ApprovalRecorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &ApprovalRecorder{logger: logger}
}

func approvalCollection(module, ref string) string {
	return "approvals/" + module + "/" + ref
}

// Record appends the approval entry inside tx.
func (r *ApprovalRecorder) Record(ctx context.Context, tx store.Tx, log ApprovalLog) error {
	if r == nil {
		return errors.New("approval recorder not initialised")
	}
	if log.Module == "" {
		return errors.New("approval module required")
	}
	if log.Actor.ID == "" {
		return errors.New("approval actor required")
	}
	if log.RefID == "" {
		return errors.New("approval ref id required")
	}
	if log.Action == "" {
		return errors.New("approval action required")
	}
	collection := approvalCollection(log.Module, log.RefID)
	existing, err := tx.List(ctx, collection)
	if err != nil {
		return err
	}
	log.Seq = len(existing) + 1
	if _, err := tx.Append(ctx, collection, &log); err != nil {
		r.logger.Error("record approval", slog.String("module", log.Module), slog.String("ref", log.RefID), slog.Any("error", err))
		return err
	}
	return nil
}

// List returns approvals for module/ref in the order they were recorded.
func (r *ApprovalRecorder) List(ctx context.Context, reader store.Reader, module, ref string) ([]ApprovalLog, error) {
	if r == nil {
		return nil, errors.New("approval recorder not initialised")
	}
	logs, err := store.ListAs[ApprovalLog](ctx, reader, approvalCollection(module, ref))
	if err != nil {
		return nil, err
	}
	sort.Slice(logs, func(i, j int) bool { return logs[i].Seq < logs[j].Seq })
	return logs, nil
}
