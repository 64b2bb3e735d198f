package preparation

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// ErrUnbalancedAllocation is returned when splits do not cover the required
// quantity exactly.
var ErrUnbalancedAllocation = errors.New("preparation: allocation does not match required quantity")

// Split assigns part of a preparation to one supplier.
type Split struct {
	SupplierID   string          `json:"supplierId" validate:"required"`
	SupplierName string          `json:"supplierName" validate:"required"`
	Quantity     decimal.Decimal `json:"quantity"`
	UnitPrice    decimal.Decimal `json:"unitPrice"`
	DeliveryDate time.Time       `json:"deliveryDate" validate:"required"`
}

// Allocation spreads a required quantity across suppliers. Totals are
// recomputed on every mutation.
type Allocation struct {
	Required  decimal.Decimal `json:"required"`
	Splits    []Split         `json:"splits"`
	Allocated decimal.Decimal `json:"allocated"`
	Value     decimal.Decimal `json:"value"`
}

// NewAllocation starts an empty allocation for required.
func NewAllocation(required decimal.Decimal) *Allocation {
	return &Allocation{Required: required}
}

// Add appends a split after checking its quantity and price.
func (a *Allocation) Add(split Split) error {
	if !split.Quantity.IsPositive() {
		return fmt.Errorf("split %s: quantity must be greater than zero", split.SupplierID)
	}
	if !split.UnitPrice.IsPositive() {
		return fmt.Errorf("split %s: unit price must be greater than zero", split.SupplierID)
	}
	a.Splits = append(a.Splits, split)
	a.recompute()
	return nil
}

func (a *Allocation) recompute() {
	a.Allocated = decimal.Zero
	a.Value = decimal.Zero
	for _, split := range a.Splits {
		a.Allocated = a.Allocated.Add(split.Quantity)
		a.Value = a.Value.Add(split.Quantity.Mul(split.UnitPrice))
	}
	a.Value = a.Value.Round(2)
}

// Balanced reports whether the splits sum to the required quantity.
func (a *Allocation) Balanced() bool {
	return len(a.Splits) > 0 && a.Allocated.Equal(a.Required)
}

// Validate refuses unbalanced allocations.
func (a *Allocation) Validate() error {
	if !a.Balanced() {
		return fmt.Errorf("%w: allocated %s of %s", ErrUnbalancedAllocation, a.Allocated, a.Required)
	}
	return nil
}

// Primary returns the largest split; ties keep the earliest.
func (a *Allocation) Primary() Split {
	var primary Split
	for i, split := range a.Splits {
		if i == 0 || split.Quantity.GreaterThan(primary.Quantity) {
			primary = split
		}
	}
	return primary
}
