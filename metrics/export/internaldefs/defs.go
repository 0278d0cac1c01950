package internaldefs

import (
	"github.com/vhorizon/authstate"
)

// CounterDef names one resolver counter for exporters.
type CounterDef struct {
	ID   authstate.MetricID
	Name string
	Help string
}

// HistogramDef names one resolver histogram for exporters.
type HistogramDef struct {
	ID   authstate.MetricID
	Name string
	Help string
}

// CounterDefs lists every exported counter in a stable order.
var CounterDefs = []CounterDef{
	{ID: authstate.MetricInitConfirmed, Name: "authstate_init_confirmed_total", Help: "Initializations confirmed by the server."},
	{ID: authstate.MetricInitDegraded, Name: "authstate_init_degraded_total", Help: "Initializations that adopted the locally stored session."},
	{ID: authstate.MetricInitAbsent, Name: "authstate_init_absent_total", Help: "Initializations that resolved to no user."},
	{ID: authstate.MetricInitTimeout, Name: "authstate_init_timeout_total", Help: "Primary session fetches that exceeded the init timeout."},
	{ID: authstate.MetricInitPrimaryError, Name: "authstate_init_primary_error_total", Help: "Primary session fetches that failed."},
	{ID: authstate.MetricFallbackMalformed, Name: "authstate_fallback_malformed_total", Help: "Persisted session blobs discarded as malformed."},
	{ID: authstate.MetricRoleLookup, Name: "authstate_role_lookup_total", Help: "Role lookups started."},
	{ID: authstate.MetricRoleLookupFailure, Name: "authstate_role_lookup_failure_total", Help: "Role lookups that failed and resolved to non-admin."},
	{ID: authstate.MetricRoleLookupTimeout, Name: "authstate_role_lookup_timeout_total", Help: "Role lookups that exceeded their timeout."},
	{ID: authstate.MetricAuthEvent, Name: "authstate_auth_event_total", Help: "Auth state change events handled."},
	{ID: authstate.MetricSignedIn, Name: "authstate_signed_in_total", Help: "SIGNED_IN events handled."},
	{ID: authstate.MetricSignedOut, Name: "authstate_signed_out_total", Help: "Events that cleared the identity."},
	{ID: authstate.MetricSignOut, Name: "authstate_sign_out_total", Help: "Sign-out calls."},
	{ID: authstate.MetricSignOutRemoteFailure, Name: "authstate_sign_out_remote_failure_total", Help: "Sign-outs whose remote call failed or timed out."},
	{ID: authstate.MetricLateRefine, Name: "authstate_late_refine_total", Help: "Late primary results applied after the gate opened."},
	{ID: authstate.MetricStaleDiscarded, Name: "authstate_stale_discarded_total", Help: "Asynchronous results discarded because a newer transition happened."},
}

// HistogramDefs lists every exported histogram.
var HistogramDefs = []HistogramDef{
	{ID: authstate.MetricInitLatency, Name: "authstate_init_latency_seconds", Help: "Time from Initialize to the gate opening."},
}

// AuditDroppedName is the counter exporters publish for dropped audit events.
const AuditDroppedName = "authstate_audit_dropped_total"

// AuditDroppedHelp describes AuditDroppedName.
const AuditDroppedHelp = "Dropped audit events due to dispatcher backpressure."

const bucketCount = len(authstate.HistogramBounds) + 1

// HistogramBoundSeconds are the finite bucket upper bounds in seconds.
var HistogramBoundSeconds = func() []float64 {
	out := make([]float64, len(authstate.HistogramBounds))
	for i, d := range authstate.HistogramBounds {
		out[i] = d.Seconds()
	}
	return out
}()

// HistogramBoundSuffix names each bucket, the unbounded one last.
var HistogramBoundSuffix = [bucketCount]string{
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"1",
	"2_5",
	"5",
	"inf",
}

// NormalizeBuckets copies raw into a fixed-size array, padding with zeros.
func NormalizeBuckets(raw []uint64) [bucketCount]uint64 {
	var out [bucketCount]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets turns per-bucket counts into running totals.
func CumulativeBuckets(raw [bucketCount]uint64) [bucketCount]uint64 {
	var out [bucketCount]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
