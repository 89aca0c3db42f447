// Package mq предоставляет инфраструктуру для работы с RabbitMQ.
//
// Структура:
//   - connection.go — управление соединением с RabbitMQ (reconnect, graceful shutdown)
//   - topology.go   — объявление exchanges, queues, bindings
//   - publisher.go  — публикация сообщений в очереди
//   - consumer.go   — потребление сообщений из очередей
//
// Типы сообщений:
//   - run.pending      — новый run ожидает выполнения
//   - run.cancelled    — run отменён через API
//   - task.ready       — задача готова к выполнению
//   - task.completed   — задача завершена
//
// Готовые задачи маршрутизируются по ресурсному tier: tasks.ready.light
// и tasks.ready.heavy. Воркер подписан ровно на одну из этих очередей.
package mq
