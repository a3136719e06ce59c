// Package progress реализует раздачу событий прогресса задач
// в реальном времени поверх durable журнала.
//
// Broadcaster держит комнату подписчиков на каждый task. Каждое
// опубликованное событие сначала дописывается в журнал (EventLog),
// затем уходит живым подписчикам. Подписчик, подключившийся после
// старта task'а, восстанавливает пропущенное через Replay и дальше
// получает события вживую. Доставка живым подписчикам best-effort:
// переполненный буфер медленного подписчика теряет события, полная
// история всегда доступна из журнала.
package progress
