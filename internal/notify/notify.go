// Package notify fans workflow events out to the next actor. Delivery is best
// effort: failures are logged and never reach the workflow.
package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/odyssey-erp/procureflow/internal/shared"
)

// Kind identifies the notification template.
type Kind string

const (
	KindRequestCreated      Kind = "request.created"
	KindRequestForwarded    Kind = "request.forwarded"
	KindRequestRejected     Kind = "request.rejected"
	KindRequestApproved     Kind = "request.approved"
	KindPreparationCreated  Kind = "preparation.created"
	KindSupplierAssigned    Kind = "preparation.supplier_assigned"
	KindDelivered           Kind = "preparation.delivered"
	KindGRNCreated          Kind = "grn.created"
	KindGRNVarianceWarning  Kind = "grn.variance_warning"
	KindGRNPassed           Kind = "grn.qc_passed"
	KindGRNFailed           Kind = "grn.qc_failed"
	KindQCRecorded          Kind = "qc.recorded"
	KindInvoiceGenerated    Kind = "invoice.generated"
	KindInvoiceVariance     Kind = "invoice.variance_review"
	KindPaymentRecorded     Kind = "payment.recorded"
	KindStockLow            Kind = "stock.low"
	KindPurchaseOrderIssued Kind = "po.issued"
)

// Recipient addresses either a role or a single user.
type Recipient struct {
	Role   shared.Role `json:"role,omitempty"`
	UserID string      `json:"userId,omitempty"`
}

// ToRole addresses everyone holding role.
func ToRole(role shared.Role) Recipient { return Recipient{Role: role} }

// ToUser addresses one user.
func ToUser(id string) Recipient { return Recipient{UserID: id} }

func (r Recipient) String() string {
	if r.UserID != "" {
		return "user:" + r.UserID
	}
	return "role:" + string(r.Role)
}

// Notification is a single message for one recipient.
type Notification struct {
	Recipient Recipient         `json:"recipient"`
	Kind      Kind              `json:"kind"`
	RelatedID string            `json:"relatedId"`
	Meta      map[string]string `json:"meta,omitempty"`
	At        int64             `json:"at"`
}

// Notifier delivers or enqueues a notification.
type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// FanOut sends notifications without letting failures or slowness leak into
// the calling workflow.
type FanOut struct {
	notifier Notifier
	timeout  time.Duration
	logger   *slog.Logger
}

// NewFanOut wraps notifier.
func NewFanOut(notifier Notifier, timeout time.Duration, logger *slog.Logger) *FanOut {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FanOut{notifier: notifier, timeout: timeout, logger: logger}
}

// Send delivers every notification, logging and discarding failures.
func (f *FanOut) Send(ctx context.Context, notes ...Notification) {
	if f == nil || f.notifier == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), f.timeout)
	defer cancel()
	now := time.Now().UnixMilli()
	for _, n := range notes {
		if n.At == 0 {
			n.At = now
		}
		if err := f.notifier.Notify(ctx, n); err != nil {
			f.logger.Warn("notification dropped",
				slog.String("kind", string(n.Kind)),
				slog.String("recipient", n.Recipient.String()),
				slog.String("related_id", n.RelatedID),
				slog.Any("error", err))
		}
	}
}

// LogNotifier writes rendered notifications to the log.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier constructs a LogNotifier.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger}
}

// Notify implements Notifier.
func (l *LogNotifier) Notify(ctx context.Context, n Notification) error {
	l.logger.InfoContext(ctx, Render(n),
		slog.String("kind", string(n.Kind)),
		slog.String("recipient", n.Recipient.String()),
		slog.String("related_id", n.RelatedID))
	return nil
}

// Recorder keeps notifications in memory.
type Recorder struct {
	mu   sync.Mutex
	sent []Notification
	Err  error
}

// Notify implements Notifier.
func (r *Recorder) Notify(_ context.Context, n Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	r.sent = append(r.sent, n)
	return nil
}

// Sent returns a copy of every recorded notification.
func (r *Recorder) Sent() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Notification, len(r.sent))
	copy(out, r.sent)
	return out
}

// OfKind filters recorded notifications.
func (r *Recorder) OfKind(kind Kind) []Notification {
	var out []Notification
	for _, n := range r.Sent() {
		if n.Kind == kind {
			out = append(out, n)
		}
	}
	return out
}
