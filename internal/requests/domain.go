package requests

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/odyssey-erp/procureflow/internal/shared"
	"github.com/odyssey-erp/procureflow/internal/stock"
)

// Status is the request lifecycle state.
type Status string

const (
	StatusPendingHO     Status = "pending_ho"
	StatusForwardedToMD Status = "forwarded_to_md"
	StatusMDApproved    Status = "md_approved"
	StatusRejected      Status = "rejected"
)

// Older documents and clients use these names for the same states.
var legacyStatuses = map[string]Status{
	"pending":        StatusPendingHO,
	"ho_approved":    StatusForwardedToMD,
	"approved_by_ho": StatusForwardedToMD,
	"approved":       StatusMDApproved,
}

var transitions = map[Status][]Status{
	StatusPendingHO:     {StatusForwardedToMD, StatusRejected},
	StatusForwardedToMD: {StatusMDApproved, StatusRejected},
}

// ParseStatus accepts canonical and legacy status names.
func ParseStatus(raw string) (Status, error) {
	name := strings.ToLower(strings.TrimSpace(raw))
	switch Status(name) {
	case StatusPendingHO, StatusForwardedToMD, StatusMDApproved, StatusRejected:
		return Status(name), nil
	}
	if status, ok := legacyStatuses[name]; ok {
		return status, nil
	}
	return "", fmt.Errorf("requests: unknown status %q", raw)
}

// UnmarshalJSON maps legacy names on the way in from storage or clients.
func (s *Status) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw == "" {
		*s = ""
		return nil
	}
	status, err := ParseStatus(raw)
	if err != nil {
		return err
	}
	*s = status
	return nil
}

// CanTransition reports whether to is directly reachable from from.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transitions exist.
func (s Status) Terminal() bool {
	return len(transitions[s]) == 0
}

// Kind discriminates material and product requests.
type Kind string

const (
	KindMaterial Kind = "material"
	KindProduct  Kind = "product"
)

// Urgency of a requested line.
type Urgency string

const (
	UrgencyLow      Urgency = "low"
	UrgencyNormal   Urgency = "normal"
	UrgencyHigh     Urgency = "high"
	UrgencyCritical Urgency = "critical"
)

// Item is a requested material or product line.
type Item struct {
	MaterialID         string           `json:"materialId" validate:"required,excludesall=/"`
	Name               string           `json:"name" validate:"required"`
	Quantity           decimal.Decimal  `json:"quantity"`
	Unit               string           `json:"unit" validate:"required"`
	Category           stock.Namespace  `json:"category"`
	Urgency            Urgency          `json:"urgency" validate:"omitempty,oneof=low normal high critical"`
	Reason             string           `json:"reason,omitempty"`
	EstimatedUnitPrice *decimal.Decimal `json:"estimatedUnitPrice,omitempty"`
}

// Decision records who moved the request and when.
type Decision struct {
	Actor    shared.ActorRef `json:"actor"`
	At       int64           `json:"at"`
	Comments string          `json:"comments,omitempty"`
}

// Rejection records the tier that stopped the request.
type Rejection struct {
	Stage  Status          `json:"stage"`
	Actor  shared.ActorRef `json:"actor"`
	At     int64           `json:"at"`
	Reason string          `json:"reason"`
}

// Request is a material or product request moving through two-tier approval.
type Request struct {
	ID               string          `json:"id"`
	Kind             Kind            `json:"kind"`
	Title            string          `json:"title,omitempty"`
	Items            []Item          `json:"items"`
	Requester        shared.ActorRef `json:"requester"`
	Status           Status          `json:"status"`
	HeadApproval     *Decision       `json:"headApproval,omitempty"`
	DirectorApproval *Decision       `json:"directorApproval,omitempty"`
	Rejection        *Rejection      `json:"rejection,omitempty"`
	AutoApproved     bool            `json:"autoApproved,omitempty"`
	PreparationIDs   []string        `json:"preparationIds,omitempty"`
	shared.Stamp
}

// AssignID implements store.Identifiable.
func (r *Request) AssignID(id string) { r.ID = id }

// EstimatedValue sums quantity × estimated unit price; ok is false when any
// line lacks a price.
func (r Request) EstimatedValue() (decimal.Decimal, bool) {
	total := decimal.Zero
	for _, item := range r.Items {
		if item.EstimatedUnitPrice == nil {
			return decimal.Zero, false
		}
		total = total.Add(item.Quantity.Mul(*item.EstimatedUnitPrice))
	}
	return total, true
}

// CreateInput describes a new request.
type CreateInput struct {
	Kind  Kind   `json:"kind" validate:"omitempty,oneof=material product"`
	Title string `json:"title"`
	Items []Item `json:"items" validate:"required,min=1,dive"`
}

// Policy tunes approval behaviour.
type Policy struct {
	// ProductAutoApproveLimit lets operations head approval finalize product
	// requests whose estimated value is at or below the limit. Zero disables it.
	ProductAutoApproveLimit decimal.Decimal
}
