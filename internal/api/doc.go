// Package api содержит HTTP API сервер для запуска и просмотра runs.
//
// Структура:
//   - handler.go      — Handler и интерфейсы хранилищ
//   - routes.go       — регистрация маршрутов
//   - middleware.go   — recovery, request id, logging
//   - response.go     — JSON-ответы и отображение ошибок в HTTP коды
//   - dto.go          — request/response структуры
//   - run_handler.go  — /runs: создание, список, отмена, tasks
//   - plan_handler.go — /plan, /params, /presets
package api
