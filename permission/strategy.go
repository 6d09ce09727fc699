// Package permission implements the Permission Engine (§4.6) and Trust
// Directives (§4.10): strategy-driven allow/deny/prompt decisions, stored
// grants, interactive prompting, audit trail, and the template-based trust
// flag parser that lets a caller short-circuit a decision from argv.
package permission

import (
	"github.com/capgate/capgate/domain/entities"
)

// Granularity controls how a stored permission key is scoped.
type Granularity int

const (
	// GranularityPlugin stores one permission per plugin (the default).
	GranularityPlugin Granularity = iota
	// GranularityCommand stores a separate permission per command path.
	GranularityCommand
	// GranularityExecution requires a fresh decision every call; never
	// persisted.
	GranularityExecution
)

// Decision is what a Strategy's Check/OnEscalation returns.
type Decision struct {
	Kind    DecisionKind
	Reason  string              // set for DecisionDeny
	Reduced *entities.Capabilities // set for DecisionAllowPartial
}

// DecisionKind tags a Decision.
type DecisionKind int

const (
	DecisionAllow DecisionKind = iota
	DecisionDeny
	DecisionPrompt
	DecisionAllowPartial
)

func Allow() Decision             { return Decision{Kind: DecisionAllow} }
func Deny(reason string) Decision { return Decision{Kind: DecisionDeny, Reason: reason} }
func Prompt() Decision            { return Decision{Kind: DecisionPrompt} }
func AllowPartial(reduced entities.Capabilities) Decision {
	return Decision{Kind: DecisionAllowPartial, Reduced: &reduced}
}

// Strategy decides whether a plugin's requested capabilities may be granted.
// Implementations are the customization point named in the design notes:
// the engine dispatches to Check or OnEscalation, never hardcoding policy.
type Strategy interface {
	Granularity() Granularity
	InheritCapabilities() bool
	Check(ctx entities.PermissionContext) Decision
	OnEscalation(ctx entities.PermissionContext) Decision
}

// baseStrategy supplies the escalation default (always prompt) so each named
// preset only needs to override what differs.
type baseStrategy struct{}

func (baseStrategy) OnEscalation(_ entities.PermissionContext) Decision { return Prompt() }

// DefaultStrategy: one permission per plugin; allow if already stored,
// otherwise prompt; escalation always prompts.
type DefaultStrategy struct{ baseStrategy }

func (DefaultStrategy) Granularity() Granularity   { return GranularityPlugin }
func (DefaultStrategy) InheritCapabilities() bool  { return true }
func (DefaultStrategy) Check(ctx entities.PermissionContext) Decision {
	if ctx.Granted != nil {
		return Allow()
	}
	return Prompt()
}

// StrictStrategy: one permission per command; always prompts interactively,
// denies outright when not interactive; escalation always prompts.
type StrictStrategy struct{ baseStrategy }

func (StrictStrategy) Granularity() Granularity  { return GranularityCommand }
func (StrictStrategy) InheritCapabilities() bool { return false }
func (StrictStrategy) Check(ctx entities.PermissionContext) Decision {
	if !ctx.Interactive {
		return Deny("strict policy requires an interactive session")
	}
	return Prompt()
}

// PermissiveStrategy: one permission per plugin; allows everything except a
// plugin requesting network access; escalation always prompts.
type PermissiveStrategy struct{ baseStrategy }

func (PermissiveStrategy) Granularity() Granularity  { return GranularityPlugin }
func (PermissiveStrategy) InheritCapabilities() bool { return true }
func (PermissiveStrategy) Check(ctx entities.PermissionContext) Decision {
	if len(ctx.Requested.Net) > 0 {
		return Deny("permissive policy still denies network capabilities")
	}
	return Allow()
}

// CIStrategy: one permission per plugin; allows only what is already
// stored or pre-trusted, denies everything else without prompting (CI has
// no interactive user); escalation is denied outright too.
type CIStrategy struct{}

func (CIStrategy) Granularity() Granularity  { return GranularityPlugin }
func (CIStrategy) InheritCapabilities() bool { return true }
func (CIStrategy) Check(ctx entities.PermissionContext) Decision {
	if ctx.Granted != nil {
		return Allow()
	}
	return Deny("CI: no stored permission")
}
func (CIStrategy) OnEscalation(_ entities.PermissionContext) Decision {
	return Deny("CI: capability escalation requires interactive approval")
}

// TrustAllStrategy: one permission per plugin; allows everything
// unconditionally, including escalations. Intended for local development
// only.
type TrustAllStrategy struct{}

func (TrustAllStrategy) Granularity() Granularity                          { return GranularityPlugin }
func (TrustAllStrategy) InheritCapabilities() bool                         { return true }
func (TrustAllStrategy) Check(_ entities.PermissionContext) Decision        { return Allow() }
func (TrustAllStrategy) OnEscalation(_ entities.PermissionContext) Decision { return Allow() }
