package shared

import (
	"strings"
	"time"
)

// Role is the resolved role of the acting user.
type Role string

const (
	RoleStaff          Role = "staff"
	RoleOperationsHead Role = "operations_head"
	RoleDirector       Role = "director"
	RolePurchasing     Role = "purchasing"
	RoleStores         Role = "stores"
	RoleQC             Role = "qc"
	RoleFinance        Role = "finance"
)

// ParseRole normalises a role name.
func ParseRole(raw string) (Role, bool) {
	role := Role(strings.ToLower(strings.TrimSpace(raw)))
	switch role {
	case RoleStaff, RoleOperationsHead, RoleDirector, RolePurchasing, RoleStores, RoleQC, RoleFinance:
		return role, true
	}
	return "", false
}

// System is the actor recorded for background recomputation.
var System = Actor{ID: "system", DisplayName: "System"}

// Actor is the trusted identity performing an operation. It is always passed
// explicitly into workflow calls.
type Actor struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName"`
	Role        Role   `json:"role"`
}

// ActorRef is the persisted reference to an actor.
type ActorRef struct {
	ID          string `json:"id"`
	DisplayName string `json:"displayName,omitempty"`
	Role        Role   `json:"role,omitempty"`
}

// Ref returns the persisted form of the actor.
func (a Actor) Ref() ActorRef {
	return ActorRef{ID: a.ID, DisplayName: a.DisplayName, Role: a.Role}
}

// Require fails with a ValidationError when the actor is anonymous.
func (a Actor) Require(op string) error {
	if strings.TrimSpace(a.ID) == "" {
		return Validation(op, "actor id required")
	}
	return nil
}

// Stamp is embedded in every stored entity.
type Stamp struct {
	CreatedAt int64    `json:"createdAt"`
	UpdatedAt int64    `json:"updatedAt"`
	UpdatedBy ActorRef `json:"updatedBy"`
}

// NewStamp initialises creation metadata.
func NewStamp(actor Actor, at time.Time) Stamp {
	ms := at.UnixMilli()
	return Stamp{CreatedAt: ms, UpdatedAt: ms, UpdatedBy: actor.Ref()}
}

// Touch refreshes the update metadata.
func (s *Stamp) Touch(actor Actor, at time.Time) {
	s.UpdatedAt = at.UnixMilli()
	s.UpdatedBy = actor.Ref()
}

// Clock returns the current time; services accept one for deterministic tests.
type Clock func() time.Time

// Now resolves a nil clock to time.Now.
func (c Clock) Now() time.Time {
	if c == nil {
		return time.Now().UTC()
	}
	return c().UTC()
}
