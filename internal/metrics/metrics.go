package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// States reported through the agent_state gauge.
var States = []string{"STOPPED", "RUNNING", "CRASHED", "HANG"}

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	agentStarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "agentvisor",
			Subsystem: "agent",
			Name:      "starts_total",
			Help:      "Number of worker spawns, including restarts.",
		}, []string{"name"},
	)
	agentRestarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "agentvisor",
			Subsystem: "agent",
			Name:      "restarts_total",
			Help:      "Number of restarts by reason (CRASHED, HANG, manual).",
		}, []string{"name", "reason"},
	)
	agentStops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "agentvisor",
			Subsystem: "agent",
			Name:      "stops_total",
			Help:      "Number of operator stops.",
		}, []string{"name"},
	)
	agentState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "agentvisor",
			Subsystem: "agent",
			Name:      "state",
			Help:      "Observed state of each agent (1 = current state, 0 otherwise).",
		}, []string{"name", "state"},
	)
	heartbeatAge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "agentvisor",
			Subsystem: "agent",
			Name:      "heartbeat_age_seconds",
			Help:      "Age of the last heartbeat at the time of the last check.",
		}, []string{"name"},
	)
	checks = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "agentvisor",
			Subsystem: "supervisor",
			Name:      "checks_total",
			Help:      "Number of completed health-check passes.",
		},
	)
	checkDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "agentvisor",
			Subsystem: "supervisor",
			Name:      "check_duration_seconds",
			Help:      "Duration of a health-check pass including restarts.",
			Buckets:   prometheus.DefBuckets,
		},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{agentStarts, agentRestarts, agentStops, agentState, heartbeatAge, checks, checkDuration}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			// If already registered, ignore (allows double Register with default registry)
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler returns an http.Handler that serves Prometheus metrics for the DefaultGatherer.
func Handler() http.Handler { return promhttp.Handler() }

// Below are lightweight helpers used by internal packages to record metrics.
// They no-op if Register hasn't been called.

func IncStart(name string) {
	if regOK.Load() {
		agentStarts.WithLabelValues(name).Inc()
	}
}

func IncRestart(name, reason string) {
	if regOK.Load() {
		agentRestarts.WithLabelValues(name, reason).Inc()
	}
}

func IncStop(name string) {
	if regOK.Load() {
		agentStops.WithLabelValues(name).Inc()
	}
}

// SetState marks state as the current one for name and clears the others.
func SetState(name, state string) {
	if !regOK.Load() {
		return
	}
	for _, s := range States {
		v := 0.0
		if s == state {
			v = 1
		}
		agentState.WithLabelValues(name, s).Set(v)
	}
}

func SetHeartbeatAge(name string, seconds float64) {
	if regOK.Load() {
		heartbeatAge.WithLabelValues(name).Set(seconds)
	}
}

// ForgetAgent drops every per-agent series of name, e.g. after removal.
func ForgetAgent(name string) {
	if !regOK.Load() {
		return
	}
	labels := prometheus.Labels{"name": name}
	agentState.DeletePartialMatch(labels)
	heartbeatAge.DeletePartialMatch(labels)
}

func ObserveCheck(seconds float64) {
	if regOK.Load() {
		checks.Inc()
		checkDuration.Observe(seconds)
	}
}
