// Package cli реализует инструмент командной строки megs.
//
// # Локальные команды
//
// Работают без платформы, напрямую вызывая инструменты:
//   - run: классификация образцов через kaiju, kaiju2table, kaiju2krona, ktImportText
//   - plan: граф шагов для заданных образцов
//   - preflight: подсчёт записей FASTQ и проверка пар
//   - presets: встроенные launch presets
//
// Параметры собираются из --preset и флагов --sample, --db, --nodes,
// --names, --rank (флаги переопределяют preset).
//
// # Команды платформы
//
// Client — HTTP-клиент для megs API:
//   - submit: отправить run
//   - runs: list, show, cancel, tasks
//
// ## Output
//
// Форматирование вывода. Поддерживает два режима:
//   - Таблицы (text/tabwriter) — по умолчанию
//   - JSON — с флагом --json
//
// Данные выводятся в stdout, сообщения (Success/Error) — в stderr.
// Это позволяет использовать pipe: megs runs list --json | jq .
package cli
