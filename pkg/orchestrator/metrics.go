package orchestrator

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/entrhq/browsepilot/pkg/types"
)

var (
	metricSessionsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "browsepilot",
		Name:      "sessions_created_total",
		Help:      "Number of browser sessions created.",
	})
	metricSessionsDestroyed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "browsepilot",
		Name:      "sessions_destroyed_total",
		Help:      "Number of browser sessions whose local identity was cleared.",
	})
	metricDestroyFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "browsepilot",
		Name:      "session_destroy_failures_total",
		Help:      "Number of remote session destroy calls that returned an error.",
	})
	metricActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "browsepilot",
		Name:      "sessions_active",
		Help:      "Browser sessions currently held by task instances.",
	})
	metricSteps = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "browsepilot",
		Name:      "steps_total",
		Help:      "Executed steps by tool and final status.",
	}, []string{"tool", "status"})
	metricTasks = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "browsepilot",
		Name:      "tasks_total",
		Help:      "Finished task runs by outcome.",
	}, []string{"outcome"})
)

const (
	outcomeCompleted = "completed"
	outcomePartial   = "partial"
	outcomeFailed    = "failed"
)

func recordSessionCreated() {
	metricSessionsCreated.Inc()
	metricActiveSessions.Inc()
}

func recordSessionClosed(destroyErr error) {
	metricSessionsDestroyed.Inc()
	metricActiveSessions.Dec()
	if destroyErr != nil {
		metricDestroyFailures.Inc()
	}
}

func recordStep(step types.Step) {
	metricSteps.WithLabelValues(string(step.Tool), string(step.Status)).Inc()
}

func recordTask(outcome string) {
	metricTasks.WithLabelValues(outcome).Inc()
}
