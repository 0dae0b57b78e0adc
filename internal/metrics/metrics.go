// Package metrics содержит метрики Prometheus сервиса кредитных заявок.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ProposalsCreated — число принятых заявок.
	ProposalsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "proposals_created_total",
			Help: "Total number of accepted loan proposals",
		},
	)

	// JobsCompleted — число успешно выполненных фоновых задач по видам.
	JobsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobs_completed_total",
			Help: "Total number of background jobs completed successfully",
		},
		[]string{"kind"},
	)

	// JobRetries — число запланированных повторных попыток по видам задач.
	JobRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "job_retries_total",
			Help: "Total number of background job retries scheduled",
		},
		[]string{"kind"},
	)

	// JobsExhausted — число задач, исчерпавших лимит попыток.
	JobsExhausted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "jobs_exhausted_total",
			Help: "Total number of background jobs that exhausted their retry budget",
		},
		[]string{"kind"},
	)

	// JobDuration — длительность одной попытки выполнения задачи.
	JobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "job_duration_seconds",
			Help: "Duration of a single background job attempt in seconds",
		},
		[]string{"kind"},
	)
)
