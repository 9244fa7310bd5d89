package batch

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	jobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ccbp",
		Subsystem: "batch",
		Name:      "jobs_total",
		Help:      "Batch jobs by terminal status.",
	}, []string{"status"})

	documentsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ccbp",
		Subsystem: "batch",
		Name:      "documents_total",
		Help:      "Per-row document outcomes.",
	}, []string{"result"})

	ruleRewrites = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "ccbp",
		Subsystem: "engine",
		Name:      "rule_rewrites_total",
		Help:      "Fields rewritten per substitution rule.",
	}, []string{"rule_id"})
)
