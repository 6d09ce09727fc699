package permission

import (
	"fmt"
	"time"

	"github.com/capgate/capgate/domain/entities"
	"github.com/capgate/capgate/domain/errors"
)

// Config bundles the four pluggable components the engine drives: the
// strategy that makes allow/deny/prompt decisions, the store that persists
// them, the prompter that collects a human's answer, and the audit sink
// that records every step. Trust carries the parsed trust directives for
// this invocation (argv already parsed by a TrustFlagConfig).
type Config struct {
	Strategy Strategy
	Store    Store
	Prompter Prompter
	Audit    Sink
	Trust    TrustDirectives
}

// Engine implements the six-step permission check from §4.6.
type Engine struct {
	config Config
}

// New builds an Engine from config. A nil Store/Prompter panics only if
// actually exercised; a nil Audit disables audit recording. Callers should
// always supply concrete values (see the presets for ready-made bundles).
func New(config Config) *Engine {
	return &Engine{config: config}
}

// Check runs the engine's permission pipeline for one execution and returns
// nil if the plugin may proceed, or an error describing why not.
func (e *Engine) Check(ctx entities.PermissionContext) error {
	commandName := ""
	if len(ctx.CommandPath) > 0 {
		commandName = ctx.CommandPath[len(ctx.CommandPath)-1]
	}

	// Step 1: trust directives short-circuit everything else.
	if e.config.Trust.IsPluginTrusted(ctx.PluginName) || e.config.Trust.IsCommandTrusted(commandName) {
		e.record(AuditEvent{Type: EventPermissionRequested, Plugin: ctx.PluginName, Command: commandName})
		e.record(AuditEvent{
			Type: EventPermissionGranted, Plugin: ctx.PluginName, Command: commandName,
			TrustLevel: "once", CapabilitiesHash: ctx.Requested.Hash(),
		})
		return nil
	}

	// Step 2: load stored permission, if any.
	key := MakeKey(ctx.PluginName, commandName, e.config.Strategy.Granularity())
	var stored *entities.StoredPermission
	if e.config.Strategy.Granularity() != GranularityExecution {
		s, err := e.config.Store.Get(key)
		if err != nil {
			return &errors.PermissionError{Plugin: ctx.PluginName, Command: commandName, Reason: fmt.Sprintf("reading stored permission: %v", err)}
		}
		stored = s
	}

	// Step 3: build the context the strategy sees.
	fullCtx := entities.PermissionContext{
		PluginName:  ctx.PluginName,
		CommandPath: ctx.CommandPath,
		Requested:   ctx.Requested,
		Granted:     stored,
		Interactive: ctx.Interactive,
	}

	e.record(AuditEvent{Type: EventPermissionRequested, Plugin: ctx.PluginName, Command: commandName, CapabilitiesHash: ctx.Requested.Hash()})

	// Step 4: strategy decision, routed through escalation if applicable.
	var decision Decision
	escalated := stored != nil && stored.HasEscalated(ctx.Requested)
	if escalated {
		e.record(AuditEvent{
			Type: EventEscalationDetected, Plugin: ctx.PluginName, Command: commandName,
			OldHash: stored.CapabilitiesHash, NewHash: ctx.Requested.Hash(),
		})
		decision = e.config.Strategy.OnEscalation(fullCtx)
	} else {
		decision = e.config.Strategy.Check(fullCtx)
	}

	// AllowPartial is treated as a full Allow in this revision; narrowing
	// the granted set to Decision.Reduced is an open question left for a
	// future strategy revision.
	if decision.Kind == DecisionAllowPartial {
		decision = Allow()
	}

	switch decision.Kind {
	case DecisionAllow:
		e.record(AuditEvent{Type: EventPermissionGranted, Plugin: ctx.PluginName, Command: commandName, CapabilitiesHash: ctx.Requested.Hash()})
		return nil

	case DecisionDeny:
		e.record(AuditEvent{Type: EventPermissionDenied, Plugin: ctx.PluginName, Command: commandName, Reason: decision.Reason})
		return &errors.PermissionError{Plugin: ctx.PluginName, Command: commandName, Reason: decision.Reason}

	case DecisionPrompt:
		return e.prompt(ctx, fullCtx, key, commandName, escalated, stored)

	default:
		e.record(AuditEvent{Type: EventPermissionDenied, Plugin: ctx.PluginName, Command: commandName, Reason: "unrecognized decision"})
		return &errors.PermissionError{Plugin: ctx.PluginName, Command: commandName, Reason: "unrecognized decision"}
	}
}

// Step 5: the prompt path.
func (e *Engine) prompt(ctx entities.PermissionContext, fullCtx entities.PermissionContext, key, commandName string, escalated bool, stored *entities.StoredPermission) error {
	var reply PromptReply
	var err error
	if escalated && stored != nil {
		reply, err = e.config.Prompter.PromptEscalation(ctx.PluginName, stored.Capabilities, ctx.Requested)
	} else {
		reply, err = e.config.Prompter.Prompt(ctx.PluginName, ctx.Requested)
	}
	if err != nil {
		e.record(AuditEvent{Type: EventPermissionDenied, Plugin: ctx.PluginName, Command: commandName, Reason: err.Error()})
		return &errors.PermissionError{Plugin: ctx.PluginName, Command: commandName, Reason: err.Error()}
	}

	if !reply.Allowed() {
		e.record(AuditEvent{Type: EventPermissionDenied, Plugin: ctx.PluginName, Command: commandName, Reason: "denied by user"})
		return &errors.PermissionError{Plugin: ctx.PluginName, Command: commandName, Reason: "denied by user"}
	}

	if level, persist := reply.TrustLevel(); persist && e.config.Strategy.Granularity() != GranularityExecution {
		newPermission := entities.NewStoredPermission(ctx.Requested, level)
		if err := e.config.Store.Set(key, newPermission); err != nil {
			return &errors.PermissionError{Plugin: ctx.PluginName, Command: commandName, Reason: fmt.Sprintf("persisting permission: %v", err)}
		}
	}

	trustLevel := "once"
	if level, persist := reply.TrustLevel(); persist {
		trustLevel = string(level)
	}
	e.record(AuditEvent{Type: EventPermissionGranted, Plugin: ctx.PluginName, Command: commandName, TrustLevel: trustLevel, CapabilitiesHash: ctx.Requested.Hash()})
	return nil
}

func (e *Engine) record(event AuditEvent) {
	if e.config.Audit == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	_ = e.config.Audit.Record(event)
}
