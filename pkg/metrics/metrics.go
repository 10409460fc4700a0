// pkg/metrics/metrics.go
package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus instruments for the decision pipeline.
type Metrics struct {
	EventsTotal       *prometheus.CounterVec
	DecisionLatency   *prometheus.HistogramVec
	ActionsTotal      *prometheus.CounterVec
	AnalyzerFailures  *prometheus.CounterVec
	StorageFailures   prometheus.Counter
	PolicyReloads     prometheus.Counter
	PolicyUnconverged prometheus.Gauge
	IntakeDepth       prometheus.Gauge
}

// New creates the pipeline metrics. Instruments are created unregistered;
// call Register to attach them to a registry.
func New() *Metrics {
	return &Metrics{
		EventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aegis_events_total",
			Help: "Events received, by kind and outcome (decided, rejected, unroutable).",
		}, []string{"kind", "outcome"}),
		DecisionLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "aegis_decision_latency_seconds",
			Help:    "Wall time from intake to decided action, by event kind.",
			Buckets: prometheus.DefBuckets,
		}, []string{"kind"}),
		ActionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aegis_actions_total",
			Help: "Decided actions, by action name.",
		}, []string{"action"}),
		AnalyzerFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "aegis_analyzer_failures_total",
			Help: "Analyzer errors during event processing, by analyzer.",
		}, []string{"analyzer"}),
		StorageFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "aegis_storage_failures_total",
			Help: "Analysis records dropped because persistence failed.",
		}),
		PolicyReloads: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "aegis_policy_reloads_total",
			Help: "Successful MDP policy recomputations from model reloads.",
		}),
		PolicyUnconverged: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "aegis_policy_unconverged",
			Help: "1 when the active policy hit the value-iteration cap without converging.",
		}),
		IntakeDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "aegis_intake_depth",
			Help: "Events waiting in the agent's intake queue.",
		}),
	}
}

// Register attaches every instrument to the registry. Re-registering an
// identical collector is tolerated so tests can share the default registry.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		m.EventsTotal,
		m.DecisionLatency,
		m.ActionsTotal,
		m.AnalyzerFailures,
		m.StorageFailures,
		m.PolicyReloads,
		m.PolicyUnconverged,
		m.IntakeDepth,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			var already prometheus.AlreadyRegisteredError
			if errors.As(err, &already) {
				continue
			}
			return err
		}
	}
	return nil
}
