package preparation

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/procureflow/internal/shared"
	"github.com/odyssey-erp/procureflow/internal/stock"
)

// Status is the purchase preparation lifecycle state.
type Status string

const (
	StatusAwaitingSupplier Status = "awaiting_supplier"
	StatusSupplierAssigned Status = "supplier_assigned"
	StatusDelivered        Status = "delivered"
	StatusReceived         Status = "received"
)

// SupplierAssignment is the primary supplier of a preparation.
type SupplierAssignment struct {
	SupplierID           string          `json:"supplierId" validate:"required"`
	SupplierName         string          `json:"supplierName" validate:"required"`
	UnitPrice            decimal.Decimal `json:"unitPrice"`
	ExpectedDeliveryDate time.Time       `json:"expectedDeliveryDate" validate:"required"`
}

// Delivery records what arrived from the supplier.
type Delivery struct {
	Quantity           decimal.Decimal `json:"quantity"`
	Date               time.Time       `json:"date"`
	BatchNumber        string          `json:"batchNumber,omitempty"`
	PackagingCondition string          `json:"packagingCondition,omitempty"`
	Over               bool            `json:"over,omitempty"`
}

// Preparation tracks sourcing for one approved request line.
type Preparation struct {
	ID              string              `json:"id"`
	RequestID       string              `json:"requestId"`
	Line            int                 `json:"line"`
	MaterialID      string              `json:"materialId"`
	MaterialName    string              `json:"materialName"`
	Quantity        decimal.Decimal     `json:"quantity"`
	Unit            string              `json:"unit"`
	Category        stock.Namespace     `json:"category"`
	Urgency         string              `json:"urgency,omitempty"`
	Status          Status              `json:"status"`
	Supplier        *SupplierAssignment `json:"supplier,omitempty"`
	Allocation      *Allocation         `json:"allocation,omitempty"`
	Delivery        *Delivery           `json:"delivery,omitempty"`
	PurchaseOrderID string              `json:"purchaseOrderId,omitempty"`
	GRNID           string              `json:"grnId,omitempty"`
	shared.Stamp
}

// AssignInput describes a single-supplier assignment.
type AssignInput struct {
	SupplierID           string          `json:"supplierId" validate:"required"`
	SupplierName         string          `json:"supplierName" validate:"required"`
	UnitPrice            decimal.Decimal `json:"unitPrice"`
	ExpectedDeliveryDate time.Time       `json:"expectedDeliveryDate" validate:"required"`
}

// DeliveryInput describes a delivery from the assigned supplier.
type DeliveryInput struct {
	DeliveredQuantity  decimal.Decimal `json:"deliveredQuantity"`
	DeliveryDate       time.Time       `json:"deliveryDate" validate:"required"`
	BatchNumber        string          `json:"batchNumber"`
	PackagingCondition string          `json:"packagingCondition"`
}

// DeliveryHandle carries what Receiving needs to open a GRN for a delivered
// preparation.
type DeliveryHandle struct {
	PreparationID     string          `json:"preparationId"`
	RequestID         string          `json:"requestId"`
	PurchaseOrderID   string          `json:"purchaseOrderId,omitempty"`
	MaterialID        string          `json:"materialId"`
	MaterialName      string          `json:"materialName"`
	Unit              string          `json:"unit"`
	Category          stock.Namespace `json:"category"`
	OrderedQuantity   decimal.Decimal `json:"orderedQuantity"`
	DeliveredQuantity decimal.Decimal `json:"deliveredQuantity"`
	UnitPrice         decimal.Decimal `json:"unitPrice"`
	SupplierID        string          `json:"supplierId"`
	SupplierName      string          `json:"supplierName"`
	DeliveryDate      time.Time       `json:"deliveryDate"`
	BatchNumber       string          `json:"batchNumber,omitempty"`
}

// POStatus is the receipt state of a purchase order.
type POStatus string

const (
	POStatusIssued            POStatus = "issued"
	POStatusPartiallyReceived POStatus = "partially_received"
	POStatusFullyReceived     POStatus = "fully_received"
)

// POLine is an ordered material on a purchase order.
type POLine struct {
	PreparationID   string          `json:"preparationId"`
	MaterialID      string          `json:"materialId"`
	MaterialName    string          `json:"materialName"`
	Unit            string          `json:"unit"`
	Category        stock.Namespace `json:"category"`
	OrderedQuantity decimal.Decimal `json:"orderedQuantity"`
	UnitPrice       decimal.Decimal `json:"unitPrice"`
}

// PurchaseOrder groups preparations sourced from one supplier.
type PurchaseOrder struct {
	ID           string    `json:"id"`
	Number       string    `json:"number"`
	SupplierID   string    `json:"supplierId"`
	SupplierName string    `json:"supplierName"`
	Status       POStatus  `json:"status"`
	ExpectedDate time.Time `json:"expectedDate"`
	Lines        []POLine  `json:"lines"`
	Note         string    `json:"note,omitempty"`
	shared.Stamp
}

// AssignID implements store.Identifiable.
func (po *PurchaseOrder) AssignID(id string) { po.ID = id }

// Line returns the PO line for materialID.
func (po PurchaseOrder) Line(materialID string) (POLine, bool) {
	for _, line := range po.Lines {
		if line.MaterialID == materialID {
			return line, true
		}
	}
	return POLine{}, false
}

// Ordered sums ordered quantity per material.
func (po PurchaseOrder) Ordered() map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(po.Lines))
	for _, line := range po.Lines {
		out[line.MaterialID] = out[line.MaterialID].Add(line.OrderedQuantity)
	}
	return out
}

// IssuePOInput groups preparations into a purchase order.
type IssuePOInput struct {
	PreparationIDs []string  `json:"preparationIds" validate:"required,min=1"`
	Number         string    `json:"number"`
	ExpectedDate   time.Time `json:"expectedDate"`
	Note           string    `json:"note"`
}

// QualitySample is one QC outcome used for supplier ranking.
type QualitySample struct {
	SupplierID   string
	SupplierName string
	Grade        string
	Accepted     bool
}

// SupplierScore ranks a supplier by QC history.
type SupplierScore struct {
	SupplierID     string  `json:"supplierId"`
	SupplierName   string  `json:"supplierName,omitempty"`
	AverageGrade   float64 `json:"averageGrade"`
	Deliveries     int     `json:"deliveries"`
	AcceptanceRate float64 `json:"acceptanceRate"`
}

// Policy tunes delivery handling.
type Policy struct {
	AllowOverDelivery bool
}
