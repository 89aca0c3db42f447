// Package worker выполняет отдельные tasks пайплайна.
//
// # Обзор
//
// Worker — stateless компонент, привязанный к одному ресурсному tier
// (LIGHT или HEAVY). Он:
//
//   - Получает tasks из очереди tasks.ready.<tier> (event-driven)
//   - Периодически проверяет queued tasks своего tier в БД (polling fallback)
//   - Выполняет шаг через steps.Registry (kaiju, kaiju2table, ...)
//   - Делает retry с backoff, если для шага задана RetryPolicy
//   - Отправляет результат в очередь tasks.completed
//
// Тяжёлые воркеры держат по одной task (prefetch 1), лёгкие берут столько,
// сколько лёгких аллокаций помещается в CPU машины.
//
//	w := worker.New(worker.Config{
//	    Tier:      domain.TierHeavy,
//	    TaskRepo:  taskRepo,
//	    RunRepo:   runRepo,
//	    Publisher: publisher,
//	    Conn:      mqConn,
//	    Registry:  worker.NewRegistry(steps.DefaultRegistry(tk)),
//	})
//
// # Обработка task
//
//  1. Получение task (из очереди или polling)
//  2. Загрузка task из БД, проверка статуса QUEUED и tier
//  3. Перевод в RUNNING, инкремент Attempt
//  4. RetryPolicy и таймаут берутся из Run.Spec
//  5. Выполнение через executeWithRetry
//  6. Успех → MarkSucceeded, publish TaskCompleted(SUCCEEDED)
//  7. Ошибка → MarkFailed, publish TaskCompleted(FAILED)
//
// # Ошибки
//
// Пакет различает два уровня ошибок:
//   - Инфраструктурные (error от Execute): отмена, сбой хранилища
//   - Логические (ExecutionResult.Error): ненулевой код выхода,
//     отсутствующий артефакт, таймаут, битый payload
//
// Инфраструктурные всегда retriable. Логические повторяются только по
// RetryPolicy шага, битый payload не повторяется никогда.
package worker
