// Package orchestrator ведёт runs пайплайна классификации по их DAG.
//
// Orchestrator отвечает за:
//   - Получение новых runs из очереди RabbitMQ (и polling БД как fallback)
//   - Построение DAG из спланированного графа run
//   - Создание tasks для готовых шагов и публикацию в очередь их tier
//   - Отслеживание завершения tasks и отмены runs
//   - Финализацию run: Result из шага aggregate или первая ошибка шага
//
// Шаги образцов выполняются независимо, но любой упавший шаг
// завершает весь run со статусом FAILED.
package orchestrator
