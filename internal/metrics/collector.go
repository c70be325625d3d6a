// Package metrics exposes the control plane's Prometheus instrumentation:
// the Façade (activity pipeline, lifecycle actions, freezes, approval
// decisions) and the Surveillance Engine report through one shared
// Collector, served by promhttp at /metrics on the HTTP API's listener.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector groups every metric this repo exports. It wraps a private
// registry rather than registering against prometheus.DefaultRegisterer so
// tests can build throwaway Collectors without colliding on re-registration.
type Collector struct {
	registry *prometheus.Registry

	ActivitiesLogged  *prometheus.CounterVec
	RiskAssessments   *prometheus.CounterVec
	FreezesTriggered  *prometheus.CounterVec
	ApprovalsDecided  *prometheus.CounterVec
	LifecycleActions  *prometheus.CounterVec
	SurveillanceCycle prometheus.Histogram
	// AgentsByStatus is registered, but no component in this repository sets it.
	AgentsByStatus *prometheus.GaugeVec
}

// New builds a Collector with every metric registered against a fresh
// registry.
func New() *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		registry: reg,
		ActivitiesLogged: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "acp",
			Name:      "activities_logged_total",
			Help:      "Activities appended to the Code of Conduct log, by activity_type.",
		}, []string{"activity_type"}),
		RiskAssessments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "acp",
			Name:      "risk_assessments_total",
			Help:      "Risk Classifier verdicts, by risk_level.",
		}, []string{"risk_level"}),
		FreezesTriggered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "acp",
			Name:      "freezes_triggered_total",
			Help:      "Freeze Registry freezes created, by freeze_type.",
		}, []string{"freeze_type"}),
		ApprovalsDecided: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "acp",
			Name:      "approvals_decided_total",
			Help:      "ApprovalRequest decisions, by outcome (approved/rejected/expired).",
		}, []string{"outcome"}),
		LifecycleActions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "acp",
			Name:      "lifecycle_actions_total",
			Help:      "execute_action invocations, by action and outcome.",
		}, []string{"action", "outcome"}),
		SurveillanceCycle: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "acp",
			Name:      "surveillance_cycle_duration_seconds",
			Help:      "Wall-clock duration of one Surveillance Engine RunCycle.",
			Buckets:   prometheus.DefBuckets,
		}),
		AgentsByStatus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "acp",
			Name:      "agents_by_status",
			Help:      "Agent count, by tenant_id and status.",
		}, []string{"tenant_id", "status"}),
	}

	reg.MustRegister(
		c.ActivitiesLogged,
		c.RiskAssessments,
		c.FreezesTriggered,
		c.ApprovalsDecided,
		c.LifecycleActions,
		c.SurveillanceCycle,
		c.AgentsByStatus,
	)
	return c
}

// Handler returns the promhttp handler scraping this Collector's registry.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}
