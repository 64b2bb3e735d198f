package notify

import (
	"strconv"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var printer = message.NewPrinter(language.English)

// Render produces the human readable line for a notification.
func Render(n Notification) string {
	p := printer
	meta := n.Meta
	switch n.Kind {
	case KindRequestCreated:
		return p.Sprintf("Request %s submitted by %s awaits operations head approval", n.RelatedID, meta["requester"])
	case KindRequestForwarded:
		return p.Sprintf("Request %s was approved by the operations head and awaits director approval", n.RelatedID)
	case KindRequestRejected:
		return p.Sprintf("Request %s was rejected: %s", n.RelatedID, meta["reason"])
	case KindRequestApproved:
		return p.Sprintf("Request %s received final approval", n.RelatedID)
	case KindPreparationCreated:
		return p.Sprintf("Purchase preparation %s needs a supplier for %s", n.RelatedID, meta["material"])
	case KindSupplierAssigned:
		return p.Sprintf("Supplier %s assigned to preparation %s", meta["supplier"], n.RelatedID)
	case KindDelivered:
		return p.Sprintf("Preparation %s delivered: %s received", n.RelatedID, amount(p, meta["quantity"]))
	case KindGRNCreated:
		return p.Sprintf("GRN %s is pending QC", n.RelatedID)
	case KindGRNVarianceWarning:
		return p.Sprintf("GRN %s has %s lines with variance above threshold", n.RelatedID, meta["lines"])
	case KindGRNPassed:
		return p.Sprintf("GRN %s passed QC", n.RelatedID)
	case KindGRNFailed:
		return p.Sprintf("GRN %s failed QC: %s", n.RelatedID, meta["reason"])
	case KindQCRecorded:
		return p.Sprintf("QC record %s: %s", n.RelatedID, meta["status"])
	case KindInvoiceGenerated:
		return p.Sprintf("Invoice %s generated, total %s", n.RelatedID, amount(p, meta["total"]))
	case KindInvoiceVariance:
		return p.Sprintf("Invoice %s needs variance review (%s issues)", n.RelatedID, meta["variances"])
	case KindPaymentRecorded:
		return p.Sprintf("Payment of %s recorded on invoice %s, remaining %s", amount(p, meta["amount"]), n.RelatedID, amount(p, meta["remaining"]))
	case KindStockLow:
		return p.Sprintf("Material %s is low on stock (%s)", n.RelatedID, meta["severity"])
	case KindPurchaseOrderIssued:
		return p.Sprintf("Purchase order %s issued to %s", n.RelatedID, meta["supplier"])
	default:
		return p.Sprintf("%s: %s", n.Kind, n.RelatedID)
	}
}

func amount(p *message.Printer, raw string) string {
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return raw
	}
	return p.Sprintf("%.2f", v)
}
