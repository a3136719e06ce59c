// Package runner выполняет допущенные task'и.
//
// Runner потребляет очередь tasks.admitted, переводит task в RUNNING
// через реестр состояний и прогоняет сценарий (Executor). Ход
// выполнения уходит событиями в fanout обменник: каждое событие
// нумеруется Emitter'ом, журнал шлюза не получает дыр и дубликатов
// даже при повторном запуске после сбоя.
//
// Отмена кооперативная: runner следит за статусом task'а и отменяет
// контекст выполнения, когда task переведён в CANCELLED. Финальное
// событие отменённого task'а отправляет инициатор отмены, runner
// молча сворачивается.
package runner
