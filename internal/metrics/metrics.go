package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors for the coordination engine.
type Metrics struct {
	Registry *prometheus.Registry

	WorkflowsStarted   *prometheus.CounterVec
	WorkflowsCompleted *prometheus.CounterVec
	WorkflowsFailed    *prometheus.CounterVec
	WorkflowDuration   *prometheus.HistogramVec
	AgentTasks         *prometheus.CounterVec
	AgentTaskErrors    *prometheus.CounterVec
	IntelCacheHits     prometheus.Counter
	IntelCacheMisses   prometheus.Counter
	AlertsPublished    prometheus.Counter
}

// New creates the collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,
		WorkflowsStarted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "threatmesh_workflows_started_total",
			Help: "Total number of workflows started.",
		}, []string{"workflow"}),
		WorkflowsCompleted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "threatmesh_workflows_completed_total",
			Help: "Total number of workflows completed successfully.",
		}, []string{"workflow"}),
		WorkflowsFailed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "threatmesh_workflows_failed_total",
			Help: "Total number of workflows that failed.",
		}, []string{"workflow"}),
		WorkflowDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "threatmesh_workflow_duration_seconds",
			Help:    "Duration of workflow execution.",
			Buckets: prometheus.DefBuckets,
		}, []string{"workflow"}),
		AgentTasks: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "threatmesh_agent_tasks_total",
			Help: "Total number of tasks processed per agent.",
		}, []string{"agent"}),
		AgentTaskErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "threatmesh_agent_task_errors_total",
			Help: "Total number of task processing errors per agent.",
		}, []string{"agent"}),
		IntelCacheHits: factory.NewCounter(prometheus.CounterOpts{
			Name: "threatmesh_intel_cache_hits_total",
			Help: "Intelligence lookups answered from the cache.",
		}),
		IntelCacheMisses: factory.NewCounter(prometheus.CounterOpts{
			Name: "threatmesh_intel_cache_misses_total",
			Help: "Intelligence lookups that required synthesis.",
		}),
		AlertsPublished: factory.NewCounter(prometheus.CounterOpts{
			Name: "threatmesh_alerts_published_total",
			Help: "Alerts and reports published to the event bus.",
		}),
	}
}
