package billing

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/procureflow/internal/shared"
)

// PaymentStatus is derived from the amounts paid against an invoice.
type PaymentStatus string

const (
	PaymentPending       PaymentStatus = "pending"
	PaymentPartiallyPaid PaymentStatus = "partially_paid"
	PaymentPaid          PaymentStatus = "paid"
)

// ReviewStatus is the three-way match outcome.
type ReviewStatus string

const (
	ReviewPending  ReviewStatus = "pending_review"
	ReviewVariance ReviewStatus = "variance_review"
	ReviewVerified ReviewStatus = "verified"
)

// Method is how a payment was made.
type Method string

const (
	MethodBankTransfer Method = "bank_transfer"
	MethodCash         Method = "cash"
	MethodCheque       Method = "cheque"
	MethodCard         Method = "card"
	MethodOther        Method = "other"
)

// InvoiceLine bills one received material.
type InvoiceLine struct {
	MaterialID   string          `json:"materialId"`
	MaterialName string          `json:"materialName,omitempty"`
	Quantity     decimal.Decimal `json:"quantity"`
	UnitPrice    decimal.Decimal `json:"unitPrice"`
	Amount       decimal.Decimal `json:"amount"`
}

// Invoice is the supplier bill generated from a passed GRN.
type Invoice struct {
	ID              string          `json:"id"`
	Number          string          `json:"number"`
	GRNID           string          `json:"grnId"`
	PurchaseOrderID string          `json:"purchaseOrderId,omitempty"`
	SupplierID      string          `json:"supplierId"`
	SupplierName    string          `json:"supplierName,omitempty"`
	Lines           []InvoiceLine   `json:"lines"`
	Subtotal        decimal.Decimal `json:"subtotal"`
	TaxRate         decimal.Decimal `json:"taxRate"`
	Tax             decimal.Decimal `json:"tax"`
	Total           decimal.Decimal `json:"total"`
	TotalPaid       decimal.Decimal `json:"totalPaid"`
	RemainingAmount decimal.Decimal `json:"remainingAmount"`
	PaymentStatus   PaymentStatus   `json:"paymentStatus"`
	ReviewStatus    ReviewStatus    `json:"reviewStatus"`
	MatchResult     *MatchResult    `json:"matchResult,omitempty"`
	DueDate         time.Time       `json:"dueDate"`
	shared.Stamp
}

// Line returns the invoice line for materialID.
func (inv Invoice) Line(materialID string) (InvoiceLine, bool) {
	for _, line := range inv.Lines {
		if line.MaterialID == materialID {
			return line, true
		}
	}
	return InvoiceLine{}, false
}

// Payment is an immutable payment against an invoice.
type Payment struct {
	ID        string          `json:"id"`
	InvoiceID string          `json:"invoiceId"`
	Amount    decimal.Decimal `json:"amount"`
	Method    Method          `json:"method"`
	Date      time.Time       `json:"date"`
	Reference string          `json:"reference,omitempty"`
	Actor     shared.ActorRef `json:"actor"`
	At        int64           `json:"at"`
}

// AssignID implements store.Identifiable.
func (p *Payment) AssignID(id string) { p.ID = id }

// PaymentInput describes a payment.
type PaymentInput struct {
	InvoiceID string          `json:"invoiceId" validate:"required"`
	Amount    decimal.Decimal `json:"amount"`
	Method    Method          `json:"method" validate:"required,oneof=bank_transfer cash cheque card other"`
	Date      time.Time       `json:"date"`
	Reference string          `json:"reference"`
}

// Variance kinds found by the three-way match.
const (
	VarianceQuantity      = "quantity"
	VariancePrice         = "price"
	VarianceMissingGRN    = "missing_grn_line"
	VarianceMissingPOLine = "missing_po_line"
)

// MatchVariance is one disagreement between invoice, GRN and PO.
type MatchVariance struct {
	MaterialID string          `json:"materialId"`
	Kind       string          `json:"kind"`
	Invoiced   decimal.Decimal `json:"invoiced"`
	Expected   decimal.Decimal `json:"expected"`
}

// MatchResult records the last three-way match of an invoice.
type MatchResult struct {
	PurchaseOrderID string          `json:"purchaseOrderId"`
	GRNID           string          `json:"grnId"`
	Matched         bool            `json:"matched"`
	Variances       []MatchVariance `json:"variances,omitempty"`
	CheckedBy       shared.ActorRef `json:"checkedBy"`
	CheckedAt       int64           `json:"checkedAt"`
}

// AgingBucket sums remaining amounts by days past due.
type AgingBucket struct {
	Current   decimal.Decimal `json:"current"`
	Bucket30  decimal.Decimal `json:"bucket30"`
	Bucket60  decimal.Decimal `json:"bucket60"`
	Bucket90  decimal.Decimal `json:"bucket90"`
	Bucket120 decimal.Decimal `json:"bucket120"`
	Total     decimal.Decimal `json:"total"`
}

// Policy tunes invoice generation.
type Policy struct {
	// TaxRate applied to the subtotal. Unset means 10%; a set zero is a
	// tax-free policy.
	TaxRate decimal.NullDecimal
	// DueDays after generation. Zero means 30.
	DueDays int
}
