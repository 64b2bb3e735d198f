package stock

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/procureflow/internal/shared"
)

// Namespace separates raw and packing materials.
type Namespace string

const (
	NamespaceRaw     Namespace = "raw"
	NamespacePacking Namespace = "packing"
)

// ParseNamespace normalises a namespace; empty means raw.
func ParseNamespace(raw string) (Namespace, bool) {
	switch Namespace(strings.ToLower(strings.TrimSpace(raw))) {
	case "", NamespaceRaw:
		return NamespaceRaw, true
	case NamespacePacking:
		return NamespacePacking, true
	}
	return "", false
}

// Direction of a movement.
type Direction string

const (
	DirectionIn  Direction = "in"
	DirectionOut Direction = "out"
)

// Reason explains why stock moved.
type Reason string

const (
	ReasonGRNApproved Reason = "grn_approved"
	ReasonQCAccepted  Reason = "qc_accepted"
	ReasonDispatch    Reason = "dispatch"
)

// Movement is an immutable ledger entry.
type Movement struct {
	ID           string          `json:"id"`
	Seq          int64           `json:"seq"`
	Namespace    Namespace       `json:"namespace"`
	MaterialID   string          `json:"materialId"`
	MaterialName string          `json:"materialName,omitempty"`
	Direction    Direction       `json:"direction"`
	Quantity     decimal.Decimal `json:"quantity"`
	Reason       Reason          `json:"reason"`
	BatchNumber  string          `json:"batchNumber,omitempty"`
	SupplierID   string          `json:"supplierId,omitempty"`
	RefModule    string          `json:"refModule,omitempty"`
	RefID        string          `json:"refId,omitempty"`
	Actor        shared.ActorRef `json:"actor"`
	At           int64           `json:"at"`
	Clamped      bool            `json:"clamped,omitempty"`
	LevelAfter   decimal.Decimal `json:"levelAfter"`
}

// AssignID implements store.Identifiable.
func (m *Movement) AssignID(id string) { m.ID = id }

// Level is the projected quantity of one material.
type Level struct {
	Namespace    Namespace       `json:"namespace"`
	MaterialID   string          `json:"materialId"`
	MaterialName string          `json:"materialName,omitempty"`
	Unit         string          `json:"unit,omitempty"`
	Quantity     decimal.Decimal `json:"quantity"`
	ReorderLevel decimal.Decimal `json:"reorderLevel"`
	Seq          int64           `json:"seq"`
	shared.Stamp
}

// MovementInput describes a ledger posting. ID is optional; a deterministic
// id turns retried postings into no-ops.
type MovementInput struct {
	ID           string          `json:"id,omitempty"`
	Namespace    Namespace       `json:"namespace"`
	MaterialID   string          `json:"materialId" validate:"required,excludesall=/"`
	MaterialName string          `json:"materialName"`
	Unit         string          `json:"unit"`
	Direction    Direction       `json:"direction" validate:"oneof=in out"`
	Quantity     decimal.Decimal `json:"quantity"`
	Reason       Reason          `json:"reason" validate:"required"`
	BatchNumber  string          `json:"batchNumber"`
	SupplierID   string          `json:"supplierId"`
	RefModule    string          `json:"refModule"`
	RefID        string          `json:"refId"`
}

// DispatchInput releases material to production.
type DispatchInput struct {
	Namespace  Namespace       `json:"namespace"`
	MaterialID string          `json:"materialId" validate:"required,excludesall=/"`
	Quantity   decimal.Decimal `json:"quantity"`
	RefID      string          `json:"refId"`
	Note       string          `json:"note"`
}

// Severity grades a low stock alert.
type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// Alert flags a material at or below its reorder level.
type Alert struct {
	Namespace    Namespace       `json:"namespace"`
	MaterialID   string          `json:"materialId"`
	MaterialName string          `json:"materialName,omitempty"`
	Quantity     decimal.Decimal `json:"quantity"`
	ReorderLevel decimal.Decimal `json:"reorderLevel"`
	Severity     Severity        `json:"severity"`
}

// Verification compares the stored projection with a replay of movements.
type Verification struct {
	MaterialID string          `json:"materialId"`
	Stored     decimal.Decimal `json:"stored"`
	Replayed   decimal.Decimal `json:"replayed"`
	Movements  int             `json:"movements"`
	Consistent bool            `json:"consistent"`
}
