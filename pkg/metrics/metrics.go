package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const (
	leadQualification = "lead_qualification"

	jobsTotal            = "jobs_total"
	decisionsTotal       = "decisions_total"
	rateLimitDenialTotal = "rate_limit_denials_total"
	councilAbstentions   = "council_abstentions_total"
	queuedJobsCount      = "queued_jobs_count"

	jobKindLabel       = "kind"
	jobStatusLabel     = "status"
	decisionKindLabel  = "kind"
	outcomeLabel       = "outcome"
	evaluatorTypeLabel = "evaluator_type"
	serviceLabel       = "service"
)

/**
* Metrics definition
**/
var jobsTotalMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Subsystem: leadQualification,
		Name:      jobsTotal,
		Help:      "number of jobs reaching a terminal status, by kind",
	},
	[]string{jobKindLabel, jobStatusLabel},
)

var decisionsTotalMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Subsystem: leadQualification,
		Name:      decisionsTotal,
		Help:      "number of recorded decisions by kind, outcome and evaluator type",
	},
	[]string{decisionKindLabel, outcomeLabel, evaluatorTypeLabel},
)

var rateLimitDenialsMetric = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Subsystem: leadQualification,
		Name:      rateLimitDenialTotal,
		Help:      "number of outbound calls denied by the quota window, per service",
	},
	[]string{serviceLabel},
)

var councilAbstentionsMetric = prometheus.NewCounter(
	prometheus.CounterOpts{
		Subsystem: leadQualification,
		Name:      councilAbstentions,
		Help:      "number of evaluator calls counted as abstentions",
	},
)

var queuedJobsMetric = prometheus.NewGauge(
	prometheus.GaugeOpts{
		Subsystem: leadQualification,
		Name:      queuedJobsCount,
		Help:      "number of jobs currently waiting to be claimed",
	},
)

func IncreaseJobsTotalMetric(kind, status string) {
	jobsTotalMetric.With(prometheus.Labels{jobKindLabel: kind, jobStatusLabel: status}).Inc()
}

func IncreaseDecisionsTotalMetric(kind, outcome, evaluatorType string) {
	decisionsTotalMetric.With(prometheus.Labels{
		decisionKindLabel:  kind,
		outcomeLabel:       outcome,
		evaluatorTypeLabel: evaluatorType,
	}).Inc()
}

func IncreaseRateLimitDenialsMetric(service string) {
	rateLimitDenialsMetric.With(prometheus.Labels{serviceLabel: service}).Inc()
}

func IncreaseCouncilAbstentionsMetric() {
	councilAbstentionsMetric.Inc()
}

func UpdateQueuedJobsMetric(count int) {
	queuedJobsMetric.Set(float64(count))
}

func init() {
	registerMetrics()
}

func registerMetrics() {
	prometheus.MustRegister(jobsTotalMetric)
	prometheus.MustRegister(decisionsTotalMetric)
	prometheus.MustRegister(rateLimitDenialsMetric)
	prometheus.MustRegister(councilAbstentionsMetric)
	prometheus.MustRegister(queuedJobsMetric)
}
