// Package engine содержит движок выполнения графа шагов.
//
// Включает:
//   - parser.go   — валидация FlowSpec (типы шагов, зависимости, ветки map)
//   - dag.go      — построение и обход DAG с разворачиванием веток map
//   - template.go — рендеринг payload шагов ({{ output "id" }})
//   - plan.go     — планирование графа классификации по параметрам run
//
// Engine отвечает за понимание структуры графа и определение
// порядка выполнения шагов на основе их зависимостей.
package engine
