package cli

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/procureflow/jobs"
)

func TestBuildTaskResolvesSupportedJobs(t *testing.T) {
	task, err := BuildTask(jobs.TaskInvoiceBackfill, nil)
	require.NoError(t, err)
	require.Equal(t, jobs.TaskInvoiceBackfill, task.Type())

	task, err = BuildTask(jobs.TaskPOReceipt, []string{"po-7"})
	require.NoError(t, err)
	require.Equal(t, jobs.TaskPOReceipt, task.Type())
	var payload jobs.POReceiptPayload
	require.NoError(t, json.Unmarshal(task.Payload(), &payload))
	require.Equal(t, "po-7", payload.PurchaseOrderID)
}

func TestBuildTaskRejectsBadInput(t *testing.T) {
	_, err := BuildTask(jobs.TaskPOReceipt, nil)
	require.ErrorContains(t, err, "purchase order id")

	_, err = BuildTask("analytics:warmup", nil)
	require.ErrorContains(t, err, "unsupported job")
}

func TestNewJobsCLIRequiresAddress(t *testing.T) {
	_, err := NewJobsCLI("")
	require.Error(t, err)

	var missing *JobsCLI
	_, err = missing.Trigger(t.Context(), jobs.TaskInvoiceBackfill)
	require.Error(t, err)
}
