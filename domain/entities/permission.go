package entities

import "time"

// TrustLevel records why a StoredPermission was kept: for the remainder of
// the host process (Session) or across process restarts (Permanent).
type TrustLevel string

const (
	TrustSession   TrustLevel = "session"
	TrustPermanent TrustLevel = "permanent"
)

// StoredPermission is a previously granted capability set, persisted by a
// PermissionStore and keyed by the permission engine's granularity.
type StoredPermission struct {
	GrantedAt        time.Time    `yaml:"granted_at" json:"granted_at"`
	CapabilitiesHash string       `yaml:"capabilities_hash" json:"capabilities_hash"`
	Capabilities     Capabilities `yaml:"capabilities" json:"capabilities"`
	TrustLevel       TrustLevel   `yaml:"trust_level" json:"trust_level"`
}

// NewStoredPermission captures caps at the current moment under the given
// trust level, computing its stable hash for later escalation checks.
func NewStoredPermission(caps Capabilities, level TrustLevel) StoredPermission {
	return StoredPermission{
		GrantedAt:        time.Now(),
		CapabilitiesHash: caps.Hash(),
		Capabilities:     caps,
		TrustLevel:       level,
	}
}

// HasEscalated reports whether requested asks for anything beyond what was
// hashed at grant time: any change in the capability set, including a
// narrower one, registers as escalation since the hash is sensitive to the
// whole structure, not just additions.
func (s StoredPermission) HasEscalated(requested Capabilities) bool {
	return s.CapabilitiesHash != requested.Hash()
}

// PermissionContext is what a PermissionStrategy and its audit trail see for
// a single execution: which plugin/command is asking, what it requests, what
// (if anything) is already granted, and whether a human can be prompted.
type PermissionContext struct {
	PluginName  string
	CommandPath []string
	Requested   Capabilities
	Granted     *StoredPermission
	Interactive bool
}
