// Package telemetry — логи и метрики сервисов megs.
//
// Логи: slog, уровень из LOG_LEVEL, формат из LOG_FORMAT (text или json).
// Обработчики сообщений получают логгер с run_id/task_id через
// WithLogger/FromContext.
//
// Метрики (namespace megs, отдаются на /metrics):
//   - tool_invocations_total, tool_duration_seconds — запуски kaiju, kaiju2table, ktImportText
//   - tasks_total, runs_total — завершённые tasks и runs по статусу
//   - mq_messages_total — исход обработки сообщений по очереди
package telemetry
