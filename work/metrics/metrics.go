package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// SessionsActive tracks the number of live playback sessions per surface.
// A surface holds at most one live session, so per-surface values are 0 or 1.
var SessionsActive = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Name: "iptv_session_active",
	Help: "Number of live playback sessions",
}, []string{"surface"})

// SessionTransitions counts state-machine transitions per surface and target
// state (initializing, playing, paused, stalled, reconnecting, fatal, closed).
var SessionTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "iptv_session_transitions_total",
	Help: "Playback session state transitions",
}, []string{"surface", "state"})

// SessionErrors counts classified engine errors per surface. The "class"
// label is one of network, media, unsupported, invalid.
var SessionErrors = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "iptv_session_errors_total",
	Help: "Classified playback errors",
}, []string{"surface", "class"})

// ReconnectAttempts counts scheduled reconnect attempts per surface.
var ReconnectAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "iptv_session_reconnects_total",
	Help: "Scheduled reconnect attempts",
}, []string{"surface"})

// StallRecoveries counts soft stall recoveries that did not consume a retry.
var StallRecoveries = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "iptv_session_stall_recoveries_total",
	Help: "Soft recoveries from stalled playback",
}, []string{"surface"})

// LogoLookups counts logo resolutions by outcome (hit, miss, failed).
var LogoLookups = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "iptv_logo_lookups_total",
	Help: "Logo resolver lookups by outcome",
}, []string{"outcome"})
