package otel

import "github.com/vhorizon/authstate"

type part struct {
	label string
	value func(c map[authstate.MetricID]uint64) uint64
}

// splitDef publishes related resolver counters as one instrument keyed by a
// single attribute.
type splitDef struct {
	name, help, key string
	parts           []part
}

type plainDef struct {
	id         authstate.MetricID
	name, help string
}

func count(id authstate.MetricID) func(map[authstate.MetricID]uint64) uint64 {
	return func(c map[authstate.MetricID]uint64) uint64 { return c[id] }
}

// rest is total minus the listed subsets. Counters are read one at a time, so
// a subset may briefly run ahead of its total.
func rest(total authstate.MetricID, subsets ...authstate.MetricID) func(map[authstate.MetricID]uint64) uint64 {
	return func(c map[authstate.MetricID]uint64) uint64 {
		n := c[total]
		for _, id := range subsets {
			if c[id] >= n {
				return 0
			}
			n -= c[id]
		}
		return n
	}
}

var splitDefs = []splitDef{
	{
		name: "authstate.init.outcomes",
		help: "Initializations by outcome.",
		key:  "outcome",
		parts: []part{
			{"confirmed", count(authstate.MetricInitConfirmed)},
			{"degraded", count(authstate.MetricInitDegraded)},
			{"absent", count(authstate.MetricInitAbsent)},
		},
	},
	{
		name: "authstate.role.lookups",
		help: "Admin role lookups by result. Failed and timed-out lookups resolve to non-admin.",
		key:  "result",
		parts: []part{
			{"ok", rest(authstate.MetricRoleLookup, authstate.MetricRoleLookupFailure)},
			{"error", rest(authstate.MetricRoleLookupFailure, authstate.MetricRoleLookupTimeout)},
			{"timeout", count(authstate.MetricRoleLookupTimeout)},
		},
	},
	{
		name: "authstate.auth.events",
		help: "Auth state change events by effect on identity.",
		key:  "effect",
		parts: []part{
			{"signed_in", count(authstate.MetricSignedIn)},
			{"cleared", count(authstate.MetricSignedOut)},
			{"updated", rest(authstate.MetricAuthEvent, authstate.MetricSignedIn, authstate.MetricSignedOut)},
		},
	},
	{
		name: "authstate.sign_outs",
		help: "Sign-outs by remote result. Local state is cleared either way.",
		key:  "remote",
		parts: []part{
			{"ok", rest(authstate.MetricSignOut, authstate.MetricSignOutRemoteFailure)},
			{"failed", count(authstate.MetricSignOutRemoteFailure)},
		},
	},
}

var plainDefs = []plainDef{
	{authstate.MetricInitTimeout, "authstate.init.primary.timeouts", "Primary session fetches that exceeded the init timeout."},
	{authstate.MetricInitPrimaryError, "authstate.init.primary.errors", "Primary session fetches that failed."},
	{authstate.MetricFallbackMalformed, "authstate.fallback.malformed", "Persisted session blobs discarded as malformed."},
	{authstate.MetricLateRefine, "authstate.init.late_refines", "Late primary results applied after the gate opened."},
	{authstate.MetricStaleDiscarded, "authstate.stale_discarded", "Asynchronous results discarded because a newer transition happened."},
}
