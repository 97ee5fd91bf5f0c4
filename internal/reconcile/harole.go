package reconcile

import "sync/atomic"

// Role is a high-availability leadership role. Leader election itself is
// out of scope; this is only the read-side contract the remediation gate
// chain consults.
type Role string

const (
	RoleActive  Role = "ACTIVE"
	RoleStandby Role = "STANDBY"
)

// HARole is an atomically readable/writable leadership cell, grounded on
// the integration-test contract that remediation must check `ha_role`
// fresh on every attempt rather than cache it.
type HARole struct {
	v atomic.Value
}

// NewHARole constructs a cell starting in STANDBY — the safe default.
func NewHARole() *HARole {
	h := &HARole{}
	h.v.Store(RoleStandby)
	return h
}

// Set updates the current role.
func (h *HARole) Set(r Role) { h.v.Store(r) }

// Get returns the current role.
func (h *HARole) Get() Role { return h.v.Load().(Role) }

// IsLeader reports whether the current role is ACTIVE.
func (h *HARole) IsLeader() bool { return h.Get() == RoleActive }
