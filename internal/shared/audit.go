package shared

import (
	"context"
	"log/slog"

	"github.com/odyssey-erp/procureflow/internal/store"
)

const auditCollection = "audit_logs"

// AuditLog represents a record stored in audit_logs.
type AuditLog struct {
	ID       string         `json:"id"`
	Actor    ActorRef       `json:"actor"`
	Action   string         `json:"action"`
	Entity   string         `json:"entity"`
	EntityID string         `json:"entityId"`
	Meta     map[string]any `json:"meta,omitempty"`
	At       int64          `json:"at"`
}

// AssignID implements store.Identifiable.
func (l *AuditLog) AssignID(id string) { l.ID = id }

// AuditLogger writes records into audit_logs. Failures are logged and never
// returned to the workflow.
type AuditLogger struct {
	logger *slog.Logger
}

// NewAuditLogger returns a new AuditLogger.
func NewAuditLogger(logger *slog.Logger) *AuditLogger {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuditLogger{logger: logger}
}

// Record persists the log entry inside tx.
func (l *AuditLogger) Record(ctx context.Context, tx store.Tx, log AuditLog) {
	if l == nil {
		return
	}
	if log.Action == "" || log.Entity == "" || log.EntityID == "" {
		l.logger.Warn("audit log requires action/entity/entity_id", slog.String("action", log.Action))
		return
	}
	if _, err := tx.Append(ctx, auditCollection, &log); err != nil {
		l.logger.Warn("record audit", slog.String("entity", log.Entity), slog.String("entity_id", log.EntityID), slog.Any("error", err))
	}
}

// List returns every audit entry for an entity.
func (l *AuditLogger) List(ctx context.Context, reader store.Reader, entity, entityID string) ([]AuditLog, error) {
	all, err := store.ListAs[AuditLog](ctx, reader, auditCollection)
	if err != nil {
		return nil, err
	}
	out := make([]AuditLog, 0)
	for _, entry := range all {
		if entry.Entity == entity && entry.EntityID == entityID {
			out = append(out, entry)
		}
	}
	return out, nil
}
