package authstate

import (
	"context"

	"github.com/vhorizon/authstate/internal/audit"
)

// AuditEvent is one audit record emitted by the resolver.
type AuditEvent = audit.Event

// AuditSink receives audit events from the resolver's dispatcher goroutine.
type AuditSink = audit.Sink

type NoOpSink = audit.NoOpSink
type ChannelSink = audit.ChannelSink
type JSONWriterSink = audit.JSONWriterSink
type ZapSink = audit.ZapSink

var (
	NewChannelSink    = audit.NewChannelSink
	NewJSONWriterSink = audit.NewJSONWriterSink
	NewZapSink        = audit.NewZapSink
)

const (
	auditEventSessionInitialized = "session_initialized"
	auditEventAuthEvent          = "auth_event"
	auditEventRoleResolved       = "role_resolved"
	auditEventSignOut            = "sign_out"
	auditEventLateRefine         = "late_refine"
)

func newAuditDispatcher(cfg AuditConfig, sink AuditSink) *audit.Dispatcher {
	return audit.NewDispatcher(audit.Config{
		Enabled:    cfg.Enabled,
		BufferSize: cfg.BufferSize,
		DropIfFull: cfg.DropIfFull,
	}, sink)
}

func (r *Resolver) emitAudit(ctx context.Context, event AuditEvent) {
	if r.audit == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = r.clock.Now()
	}
	r.audit.Emit(ctx, event)
}
