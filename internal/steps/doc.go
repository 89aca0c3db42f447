// Package steps содержит шаги таксономического пайплайна.
//
// # Обзор
//
// Каждый шаг строит командную строку внешнего инструмента, запускает её
// через Runner и оборачивает результат в типизированную запись:
//
//	organize     Sample[] + References → ClassificationInput[]
//	kaiju        ClassificationInput   → ClassificationOutput   (HEAVY)
//	kaiju2table  ClassificationOutput  → <sample>_kaiju.tsv
//	kaiju2krona  ClassificationOutput  → KronaInput
//	krona_plot   KronaInput            → <sample>_krona.html
//	aggregate    SampleResult[]        → Result
//
// Toolkit даёт типизированные функции (Classify, ExportTable, ConvertKrona,
// PlotKrona) для локального режима. Реализации Step декодируют payload
// task и вызывают те же функции для режима воркера.
//
// # Артефакты
//
// Layout кладёт файлы в <workdir>/kaiju/<sample>/<file> и публикует их
// как <namespace>/kaiju/<sample>/<file>. Имена зависят только от имени
// образца.
//
// # Ошибки
//
// Ненулевой код выхода инструмента возвращается как *CommandError
// (errors.Is(err, ErrCommandFailed)). Успешный вызов без объявленного
// артефакта даёт ErrMissingOutput. Шаги не делают retry.
//
// # Файлы пакета
//
//   - step.go           — интерфейс Step, Request, Response
//   - registry.go       — Registry для получения Step по типу
//   - catalog.go        — типы шагов, инструменты и ресурсные классы
//   - runner.go         — Command, Runner, ExecRunner
//   - layout.go         — раскладка и имена артефактов
//   - toolkit.go        — Organize и вызовы инструментов
//   - pipeline_steps.go — реализации Step
//   - codec.go          — перевод записей в payload и обратно
package steps
