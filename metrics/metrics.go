// Package metrics wraps a small set of Prometheus collectors behind
// kex.MetricsHook, the nil-safe hook interface core/kex accepts, plus
// an OnAuthOutcome method the embedding layer calls after each user
// authentication outcome, generalizing the teacher's
// per-connection JSON ScanResults philosophy
// (modules/ldap/scanner.go: every scan produces a typed, structured
// result) from one connection's output to fleet-wide counters
// (SPEC_FULL.md section 11.3).
//
// Neither core package imports this package directly: a Recorder is
// constructed here and handed to kex.WithMetrics as a plain interface
// value, and core/userauth has no metrics hook of its own, so core
// stays unit-testable without a live Prometheus registry.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Recorder implements kex.MetricsHook. Its OnAuthOutcome method is
// called by the embedding layer (cmd/sshkexd) from outside the state
// machines: core/kex depends only on the MetricsHook interface, and
// core/userauth does not depend on Recorder at all.
type Recorder struct {
	kexTransitions *prometheus.CounterVec
	kexDuration    *prometheus.HistogramVec
	authOutcomes   *prometheus.CounterVec

	kexStartedMu sync.Mutex
	kexStarted   map[string]time.Time
}

// NewRecorder builds a Recorder and registers its collectors with reg.
// Pass prometheus.DefaultRegisterer for the global registry, or a
// fresh prometheus.NewRegistry() in tests.
func NewRecorder(reg prometheus.Registerer) *Recorder {
	r := &Recorder{
		kexTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sshkex",
			Subsystem: "kex",
			Name:      "transitions_total",
			Help:      "Count of key-exchange state machine transitions, by role and destination state.",
		}, []string{"role", "state"}),
		kexDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "sshkex",
			Subsystem: "kex",
			Name:      "handshake_duration_seconds",
			Help:      "Wall-clock time from StartKeyExchange to Complete.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"role"}),
		authOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "sshkex",
			Subsystem: "userauth",
			Name:      "outcomes_total",
			Help:      "Count of user-authentication outcomes, by role and outcome kind.",
		}, []string{"role", "outcome"}),
		kexStarted: make(map[string]time.Time),
	}
	reg.MustRegister(r.kexTransitions, r.kexDuration, r.authOutcomes)
	return r
}

// OnKexTransition implements kex.MetricsHook. The in-flight-duration
// bookkeeping is keyed by the role string the Machine passes ("client"
// or "server") and carries no connection identifier: overlapping
// handshakes of the same role share one start-time entry, and a later
// KexSent overwrites an earlier one. Several connections may call this
// method concurrently from their own goroutines on the one shared
// Recorder, so kexStarted is guarded by its own mutex rather than
// relying on the caller to serialize access.
func (r *Recorder) OnKexTransition(role string, from, to string) {
	r.kexTransitions.WithLabelValues(role, to).Inc()
	switch to {
	case "KexSent":
		r.kexStartedMu.Lock()
		r.kexStarted[role] = time.Now()
		r.kexStartedMu.Unlock()
	case "Complete":
		r.kexStartedMu.Lock()
		start, ok := r.kexStarted[role]
		if ok {
			delete(r.kexStarted, role)
		}
		r.kexStartedMu.Unlock()
		if ok {
			r.kexDuration.WithLabelValues(role).Observe(time.Since(start).Seconds())
		}
	}
}

// OnAuthOutcome records a completed user-authentication outcome.
// outcome is one of "success", "partial", "failure".
func (r *Recorder) OnAuthOutcome(role, outcome string) {
	r.authOutcomes.WithLabelValues(role, outcome).Inc()
}
