package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Метрики пайплайна. Регистрируются в prometheus.DefaultRegisterer
// и отдаются сервисами на /metrics через promhttp.
var (
	// ToolInvocations — вызовы внешних инструментов по исходу.
	ToolInvocations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "megs",
		Name:      "tool_invocations_total",
		Help:      "External tool invocations by tool, tier and status.",
	}, []string{"tool", "tier", "status"})

	// ToolDuration — длительность вызовов внешних инструментов.
	ToolDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "megs",
		Name:      "tool_duration_seconds",
		Help:      "Wall time of external tool invocations.",
		Buckets:   prometheus.ExponentialBuckets(0.5, 4, 10),
	}, []string{"tool", "tier"})

	// TasksTotal — завершённые tasks по типу шага и статусу.
	TasksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "megs",
		Name:      "tasks_total",
		Help:      "Finished tasks by step type and status.",
	}, []string{"type", "status"})

	// MessagesTotal — обработанные сообщения RabbitMQ по очереди и исходу
	// (ack, requeue, dead_letter).
	MessagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "megs",
		Name:      "mq_messages_total",
		Help:      "Consumed RabbitMQ messages by queue and outcome.",
	}, []string{"queue", "outcome"})

	// RunsTotal — завершённые runs по статусу.
	RunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "megs",
		Name:      "runs_total",
		Help:      "Finished runs by status.",
	}, []string{"status"})
)

// Статусы вызова инструмента для ToolInvocations.
const (
	StatusOK     = "ok"
	StatusFailed = "failed"
)
