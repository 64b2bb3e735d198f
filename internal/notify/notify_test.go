package notify

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/procureflow/internal/shared"
)

type slowNotifier struct{}

func (slowNotifier) Notify(ctx context.Context, _ Notification) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestFanOutSwallowsErrors(t *testing.T) {
	rec := &Recorder{Err: errors.New("queue down")}
	fan := NewFanOut(rec, time.Second, nil)
	require.NotPanics(t, func() {
		fan.Send(context.Background(), Notification{Recipient: ToRole(shared.RoleDirector), Kind: KindRequestForwarded, RelatedID: "r1"})
	})
	require.Empty(t, rec.Sent())
}

func TestFanOutBoundedByTimeout(t *testing.T) {
	fan := NewFanOut(slowNotifier{}, 20*time.Millisecond, nil)
	start := time.Now()
	fan.Send(context.Background(), Notification{Kind: KindGRNCreated, RelatedID: "g1"})
	require.Less(t, time.Since(start), time.Second)
}

func TestFanOutStampsTime(t *testing.T) {
	rec := &Recorder{}
	NewFanOut(rec, time.Second, nil).Send(context.Background(), Notification{Kind: KindGRNCreated, RelatedID: "g1"})
	sent := rec.OfKind(KindGRNCreated)
	require.Len(t, sent, 1)
	require.NotZero(t, sent[0].At)
}

func TestNilFanOutIsNoop(t *testing.T) {
	var fan *FanOut
	require.NotPanics(t, func() { fan.Send(context.Background(), Notification{Kind: KindStockLow}) })
}

func TestRenderFormatsAmounts(t *testing.T) {
	line := Render(Notification{Kind: KindInvoiceGenerated, RelatedID: "INV-g1", Meta: map[string]string{"total": "63360"}})
	require.Equal(t, "Invoice INV-g1 generated, total 63,360.00", line)

	line = Render(Notification{Kind: KindRequestRejected, RelatedID: "r1", Meta: map[string]string{"reason": "budget exceeded"}})
	require.Contains(t, line, "budget exceeded")
}
