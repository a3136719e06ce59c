// Package mq предоставляет инфраструктуру для работы с RabbitMQ.
//
// Структура:
//   - connection.go — управление соединением с RabbitMQ (reconnect, graceful shutdown)
//   - topology.go   — объявление exchanges, queues, bindings
//   - publisher.go  — публикация сообщений в очереди
//   - consumer.go   — потребление сообщений из очередей
//
// Типы сообщений:
//   - task.admitted — task прошёл квоту и ждёт выполнения
//   - task.progress — событие прогресса выполняющегося task'а
//
// Exchanges:
//   - jexagent.tasks    — допущенные task'и (direct)
//   - jexagent.progress — события прогресса (fanout на все шлюзы)
//   - jexagent.dlq      — dead letter queue
package mq
