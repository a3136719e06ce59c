package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Метрики ядра допуска и доставки прогресса.
var (
	// AdmissionsTotal — количество запросов на допуск по результату:
	// granted, quota_exceeded, store_unavailable, create_failed.
	AdmissionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "jexagent_admissions_total",
		Help: "Task admission attempts by outcome",
	}, []string{"outcome"})

	// CompensationsTotal — компенсирующие decrement'ы квоты.
	CompensationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "jexagent_quota_compensations_total",
		Help: "Compensating quota releases after failed task creation",
	})

	// CompensationFailures — неудавшиеся компенсации.
	// Каждая такая ошибка — расхождение для reconciler'а.
	CompensationFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "jexagent_quota_compensation_failures_total",
		Help: "Failed compensating releases (counter may over-count until reconciled)",
	})

	// EventsPublished — опубликованные события прогресса.
	EventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "jexagent_progress_events_total",
		Help: "Progress events published, by kind",
	}, []string{"kind"})

	// EventsDropped — события, не доставленные медленному подписчику.
	// Подписчик дочитает историю через replay.
	EventsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "jexagent_progress_events_dropped_total",
		Help: "Events dropped for slow subscribers (recoverable via replay)",
	})

	// WSConnections — текущее число живых WebSocket-соединений.
	WSConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "jexagent_ws_connections",
		Help: "Currently open progress WebSocket connections",
	})

	// InvalidTransitions — отклонённые переходы состояний.
	InvalidTransitions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "jexagent_task_invalid_transitions_total",
		Help: "Rejected task state transitions (logic anomaly signal)",
	})

	// CountersRepaired — счётчики квот, исправленные reconciler'ом.
	CountersRepaired = promauto.NewCounter(prometheus.CounterOpts{
		Name: "jexagent_quota_counters_repaired_total",
		Help: "Overcounted quota counters repaired by the reconciler",
	})

	// TasksRepublished — зависшие PENDING tasks, опубликованные повторно.
	TasksRepublished = promauto.NewCounter(prometheus.CounterOpts{
		Name: "jexagent_tasks_republished_total",
		Help: "Stale pending tasks republished by the reconciler",
	})
)
