package receiving

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/procureflow/internal/shared"
	"github.com/odyssey-erp/procureflow/internal/stock"
)

// Status is the GRN lifecycle state.
type Status string

const (
	StatusPendingQC Status = "pending_qc"
	StatusQCPassed  Status = "qc_passed"
	StatusQCFailed  Status = "qc_failed"
)

// Ref links a GRN to what it receives against.
type Ref struct {
	PurchaseOrderID string `json:"purchaseOrderId,omitempty"`
	PreparationID   string `json:"preparationId,omitempty"`
}

// Header describes the delivery as a whole.
type Header struct {
	SupplierID         string    `json:"supplierId"`
	SupplierName       string    `json:"supplierName"`
	DeliveryDate       time.Time `json:"deliveryDate"`
	PackagingCondition string    `json:"packagingCondition,omitempty"`
	TransportCondition string    `json:"transportCondition,omitempty"`
	Note               string    `json:"note,omitempty"`
}

// LineInput is one received material.
type LineInput struct {
	MaterialID        string          `json:"materialId" validate:"required,excludesall=/"`
	MaterialName      string          `json:"materialName"`
	Category          stock.Namespace `json:"category"`
	Unit              string          `json:"unit"`
	OrderedQuantity   decimal.Decimal `json:"orderedQuantity"`
	DeliveredQuantity decimal.Decimal `json:"deliveredQuantity"`
	UnitPrice         decimal.Decimal `json:"unitPrice"`
	LotNumber         string          `json:"lotNumber,omitempty"`
	ManufactureDate   *time.Time      `json:"manufactureDate,omitempty"`
	ExpiryDate        *time.Time      `json:"expiryDate,omitempty"`
	Condition         string          `json:"condition,omitempty"`
}

// Line is a received material with its variance against the order.
type Line struct {
	LineInput
	Variance        decimal.Decimal `json:"variance"`
	VariancePercent decimal.Decimal `json:"variancePercent"`
}

// Decision records the QC outcome of a GRN.
type Decision struct {
	Actor  shared.ActorRef `json:"actor"`
	At     int64           `json:"at"`
	Reason string          `json:"reason,omitempty"`
}

// GRN is a goods received note awaiting or past QC.
type GRN struct {
	ID              string          `json:"id"`
	Number          string          `json:"number"`
	PurchaseOrderID string          `json:"purchaseOrderId,omitempty"`
	PreparationID   string          `json:"preparationId,omitempty"`
	Header          Header          `json:"header"`
	Items           []Line          `json:"items"`
	Status          Status          `json:"status"`
	Receiver        shared.ActorRef `json:"receiver"`
	Decision        *Decision       `json:"decision,omitempty"`
	MovementIDs     []string        `json:"movementIds,omitempty"`
	InvoiceID       string          `json:"invoiceId,omitempty"`
	shared.Stamp
}

// AssignID implements store.Identifiable.
func (g *GRN) AssignID(id string) { g.ID = id }

// Line returns the first line for materialID.
func (g GRN) Line(materialID string) (Line, bool) {
	for _, line := range g.Items {
		if line.MaterialID == materialID {
			return line, true
		}
	}
	return Line{}, false
}

// CreateInput describes a new GRN.
type CreateInput struct {
	Ref    Ref         `json:"ref"`
	Number string      `json:"number"`
	Header Header      `json:"header"`
	Items  []LineInput `json:"items" validate:"required,min=1,dive"`
}

// VarianceWarning flags a line whose variance exceeds the threshold.
type VarianceWarning struct {
	MaterialID      string          `json:"materialId"`
	Ordered         decimal.Decimal `json:"ordered"`
	Delivered       decimal.Decimal `json:"delivered"`
	Variance        decimal.Decimal `json:"variance"`
	VariancePercent decimal.Decimal `json:"variancePercent"`
}

// Grade is the QC grade A (best) to D.
type Grade string

const (
	GradeA Grade = "A"
	GradeB Grade = "B"
	GradeC Grade = "C"
	GradeD Grade = "D"
)

// Acceptance is the QC verdict.
type Acceptance string

const (
	Accepted Acceptance = "accepted"
	Rejected Acceptance = "rejected"
)

// QCRecord is an inspection result for a received material.
type QCRecord struct {
	ID                 string          `json:"id"`
	GRNID              string          `json:"grnId,omitempty"`
	SupplierID         string          `json:"supplierId"`
	SupplierName       string          `json:"supplierName,omitempty"`
	MaterialID         string          `json:"materialId"`
	MaterialName       string          `json:"materialName,omitempty"`
	Category           stock.Namespace `json:"category"`
	Grade              Grade           `json:"grade"`
	DefectRate         decimal.Decimal `json:"defectRate"`
	PackagingCondition string          `json:"packagingCondition,omitempty"`
	Acceptance         Acceptance      `json:"acceptance"`
	QuantityReceived   decimal.Decimal `json:"quantityReceived"`
	QuantityAccepted   decimal.Decimal `json:"quantityAccepted"`
	BatchNumber        string          `json:"batchNumber,omitempty"`
	Notes              string          `json:"notes,omitempty"`
	Inspector          shared.ActorRef `json:"inspector"`
	MovementID         string          `json:"movementId,omitempty"`
	shared.Stamp
}

// QCInput describes an inspection.
type QCInput struct {
	GRNID              string           `json:"grnId"`
	SupplierID         string           `json:"supplierId" validate:"required"`
	SupplierName       string           `json:"supplierName"`
	MaterialID         string           `json:"materialId" validate:"required,excludesall=/"`
	MaterialName       string           `json:"materialName"`
	Category           stock.Namespace  `json:"category"`
	Grade              Grade            `json:"grade" validate:"required,oneof=A B C D"`
	DefectRate         decimal.Decimal  `json:"defectRate"`
	PackagingCondition string           `json:"packagingCondition"`
	Acceptance         Acceptance       `json:"acceptance" validate:"required,oneof=accepted rejected"`
	QuantityReceived   decimal.Decimal  `json:"quantityReceived"`
	QuantityAccepted   *decimal.Decimal `json:"quantityAccepted,omitempty"`
	BatchNumber        string           `json:"batchNumber"`
	Notes              string           `json:"notes"`
}

// InvoiceRef identifies the invoice generated on GRN approval.
type InvoiceRef struct {
	ID    string
	Total decimal.Decimal
}

// Policy tunes receiving.
type Policy struct {
	// VarianceWarnPercent is the absolute variance percentage above which a
	// line is flagged. Zero means 5.
	VarianceWarnPercent decimal.Decimal
}
