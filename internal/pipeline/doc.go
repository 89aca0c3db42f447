// Package pipeline выполняет таксономический пайплайн локально, в одном процессе.
//
// Для каждого образца:
//
//	classify → { kaiju2table, kaiju2krona → krona_plot }
//
// Образцы независимы и обрабатываются параллельно через Map.
// Одновременные вызовы инструментов ограничены слотами tier:
// тяжёлые (kaiju) и лёгкие (всё остальное) считаются отдельно.
//
// Первая ошибка отменяет остальные ветки (fail-fast). Retry здесь нет.
package pipeline
