package auth

import (
	"fmt"
	"sort"
	"strings"
)

// Capability is a closed, typed set of ledger actions. Free-form permission
// strings never enter the system: anything outside this catalog fails to
// parse at the boundary.
type Capability string

const (
	CapDocumentCreate Capability = "ledger.document.create"
	CapDocumentCancel Capability = "ledger.document.cancel"
	CapPaymentApply   Capability = "ledger.payment.apply"
	CapPaymentEdit    Capability = "ledger.payment.edit"
	CapPaymentReverse Capability = "ledger.payment.reverse"
	CapClearingToggle Capability = "ledger.clearing.toggle"
	CapRead           Capability = "ledger.read"
)

// AllCapabilities lists the full catalog in stable order.
var AllCapabilities = []Capability{
	CapDocumentCreate,
	CapDocumentCancel,
	CapPaymentApply,
	CapPaymentEdit,
	CapPaymentReverse,
	CapClearingToggle,
	CapRead,
}

var capabilitySet = func() map[Capability]struct{} {
	m := make(map[Capability]struct{}, len(AllCapabilities))
	for _, c := range AllCapabilities {
		m[c] = struct{}{}
	}
	return m
}()

// ParseCapability validates a raw string against the catalog.
func ParseCapability(raw string) (Capability, error) {
	c := Capability(strings.TrimSpace(strings.ToLower(raw)))
	if _, ok := capabilitySet[c]; !ok {
		return "", fmt.Errorf("%w: unknown capability %q", ErrInvalidInput, raw)
	}
	return c, nil
}

// Role names a built-in bundle of capabilities.
type Role string

const (
	RoleAdmin      Role = "admin"
	RoleAccountant Role = "accountant"
	RoleReconciler Role = "reconciler"
	RoleViewer     Role = "viewer"
)

// roleCapabilities is the exhaustive role -> capability mapping. Reconcilers
// only match transactions against bank statements; they never move amounts.
var roleCapabilities = map[Role][]Capability{
	RoleAdmin: AllCapabilities,
	RoleAccountant: {
		CapDocumentCreate,
		CapDocumentCancel,
		CapPaymentApply,
		CapPaymentEdit,
		CapPaymentReverse,
		CapRead,
	},
	RoleReconciler: {
		CapClearingToggle,
		CapRead,
	},
	RoleViewer: {
		CapRead,
	},
}

// CapabilitiesForRoles resolves role names into the union of their
// capability sets. Unknown roles contribute nothing.
func CapabilitiesForRoles(roles []string) map[Capability]struct{} {
	set := make(map[Capability]struct{})
	for _, raw := range roles {
		role := Role(strings.TrimSpace(strings.ToLower(raw)))
		for _, c := range roleCapabilities[role] {
			set[c] = struct{}{}
		}
	}
	return set
}

// Principal is an authenticated caller with resolved capabilities.
type Principal struct {
	UserID       string
	Roles        []string
	Capabilities map[Capability]struct{}
}

// NewPrincipal resolves the principal's capability set from its roles.
func NewPrincipal(userID string, roles []string) Principal {
	return Principal{
		UserID:       userID,
		Roles:        roles,
		Capabilities: CapabilitiesForRoles(roles),
	}
}

// Can reports whether the principal holds the capability.
func (p Principal) Can(c Capability) bool {
	_, ok := p.Capabilities[c]
	return ok
}

// SortedCapabilities returns the capability keys in stable order, for token
// claims and responses.
func (p Principal) SortedCapabilities() []string {
	out := make([]string, 0, len(p.Capabilities))
	for c := range p.Capabilities {
		out = append(out, string(c))
	}
	sort.Strings(out)
	return out
}
