// Package reconcile устраняет дрейф, оставленный путём допуска.
//
// Sweeper периодически ищет счётчики, у которых daily_used больше
// числа tasks с удержанной квотой в том же окне, и уменьшает их до
// факта. Дрейф в другую сторону невозможен: квота списывается до
// создания task'а. Вторым проходом Sweeper публикует повторно tasks,
// зависшие в PENDING: их сообщение task.admitted потерялось при
// допуске, и без повторной публикации они не выполнятся никогда.
//
// Sweeper не реализует leader election самостоятельно.
// Это делается в main через pg_try_advisory_lock: Tick() вызывается
// только лидером.
package reconcile
