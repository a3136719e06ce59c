package mq

import (
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Exchange — тип для имени обменника.
type Exchange string

// Queue — тип для имени очереди.
type Queue string

// RoutingKey — тип для ключа маршрутизации.
type RoutingKey string

// Exchanges — имена обменников.
const (
	// ExchangeTasks — direct: допущенные task'и для runner'ов.
	ExchangeTasks Exchange = "jexagent.tasks"

	// ExchangeProgress — fanout: события прогресса для всех шлюзов.
	ExchangeProgress Exchange = "jexagent.progress"

	// ExchangeDLQ — dead letter queue.
	ExchangeDLQ Exchange = "jexagent.dlq"
)

// Queues — имена очередей.
const (
	QueueTasksAdmitted Queue = "tasks.admitted"
	QueueDLQTasks      Queue = "dlq.tasks"
)

// Routing keys.
const (
	RoutingKeyAdmitted RoutingKey = "admitted"
	RoutingKeyDLQTasks RoutingKey = "tasks"
)

// SetupTopology объявляет обменники, очереди и привязки.
// Идемпотентно: повторный вызов на живом брокере безопасен.
//
// Очередь прогресса здесь не объявляется: каждый шлюз держит
// свою эксклюзивную очередь, см. DeclareProgressQueue.
func SetupTopology(conn *Connection) error {
	return conn.WithChannel(func(ch *amqp.Channel) error {
		if err := declareExchanges(ch); err != nil {
			return err
		}
		if err := declareQueues(ch); err != nil {
			return err
		}
		return bindQueues(ch)
	})
}

// declareExchanges создаёт обменники.
func declareExchanges(ch *amqp.Channel) error {
	exchanges := []struct {
		name Exchange
		kind string
	}{
		{ExchangeTasks, "direct"},
		{ExchangeProgress, "fanout"},
		{ExchangeDLQ, "direct"},
	}

	for _, ex := range exchanges {
		err := ch.ExchangeDeclare(
			string(ex.name), // name
			ex.kind,         // type
			true,            // durable
			false,           // auto-deleted
			false,           // internal
			false,           // no-wait
			nil,             // arguments
		)
		if err != nil {
			return fmt.Errorf("declare exchange %s: %w", ex.name, err)
		}
	}

	return nil
}

// declareQueues создаёт durable очереди.
func declareQueues(ch *amqp.Channel) error {
	dlqArgs := amqp.Table{
		"x-dead-letter-exchange":    string(ExchangeDLQ),
		"x-dead-letter-routing-key": string(RoutingKeyDLQTasks),
	}

	queues := []struct {
		name Queue
		args amqp.Table
	}{
		// tasks.admitted — с DLQ: task после исчерпания retry уходит в DLQ
		{QueueTasksAdmitted, dlqArgs},

		// dlq.tasks — сама DLQ очередь
		{QueueDLQTasks, nil},
	}

	for _, q := range queues {
		_, err := ch.QueueDeclare(
			string(q.name), // name
			true,           // durable
			false,          // delete when unused
			false,          // exclusive
			false,          // no-wait
			q.args,         // arguments
		)
		if err != nil {
			return fmt.Errorf("declare queue %s: %w", q.name, err)
		}
	}

	return nil
}

// bindQueues привязывает очереди к обменникам.
func bindQueues(ch *amqp.Channel) error {
	bindings := []struct {
		queue      Queue
		routingKey RoutingKey
		exchange   Exchange
	}{
		{QueueTasksAdmitted, RoutingKeyAdmitted, ExchangeTasks},
		{QueueDLQTasks, RoutingKeyDLQTasks, ExchangeDLQ},
	}

	for _, b := range bindings {
		err := ch.QueueBind(
			string(b.queue),      // queue name
			string(b.routingKey), // routing key
			string(b.exchange),   // exchange
			false,                // no-wait
			nil,                  // arguments
		)
		if err != nil {
			return fmt.Errorf("bind queue %s to %s: %w", b.queue, b.exchange, err)
		}
	}

	return nil
}

// DeclareProgressQueue объявляет эксклюзивную очередь шлюза и привязывает
// её к fanout обменнику прогресса. Имя генерирует брокер, очередь
// умирает вместе с соединением: каждый шлюз видит весь поток событий,
// пропущенное компенсирует replay из журнала.
func DeclareProgressQueue(conn *Connection) (string, error) {
	var queueName string
	err := conn.WithChannel(func(ch *amqp.Channel) error {
		q, err := ch.QueueDeclare(
			"",    // name (auto-generated)
			false, // durable
			true,  // delete when unused
			true,  // exclusive
			false, // no-wait
			nil,   // arguments
		)
		if err != nil {
			return fmt.Errorf("declare progress queue: %w", err)
		}

		if err := ch.QueueBind(q.Name, "", string(ExchangeProgress), false, nil); err != nil {
			return fmt.Errorf("bind progress queue: %w", err)
		}

		queueName = q.Name
		return nil
	})
	return queueName, err
}

// TopologyInfo возвращает описание топологии для логирования.
func TopologyInfo() string {
	return `
  JexAgent RabbitMQ Topology:

    jexagent.tasks (direct)
    └── tasks.admitted [routing: admitted]
            Consumer: Worker
            DLQ: dlq.tasks

    jexagent.progress (fanout)
    └── <exclusive per-gateway queue>
            Consumer: API gateway (websocket fanout)

    jexagent.dlq (direct)
    └── dlq.tasks [routing: tasks]
            Manual processing
  `
}
