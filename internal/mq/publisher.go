package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/deloog/jexagent-backend/internal/domain"
)

// MessageType — тип сообщения в очереди.
type MessageType string

// Типы сообщений.
const (
	MessageTypeTaskAdmitted MessageType = "task.admitted"
	MessageTypeTaskProgress MessageType = "task.progress"
)

// Publisher публикует сообщения в RabbitMQ.
type Publisher struct {
	conn   *Connection
	logger *slog.Logger
}

// NewPublisher создаёт новый Publisher.
func NewPublisher(conn *Connection, logger *slog.Logger) *Publisher {
	return &Publisher{
		conn:   conn,
		logger: logger,
	}
}

// Message — сообщение для публикации.
type Message struct {
	// ID — уникальный идентификатор сообщения.
	ID string `json:"id"`

	// Type — тип сообщения.
	Type MessageType `json:"type"`

	// Payload — полезная нагрузка.
	Payload any `json:"payload"`

	// Timestamp — время создания.
	Timestamp time.Time `json:"timestamp"`
}

// TaskAdmittedPayload — payload для допущенного task'а.
type TaskAdmittedPayload struct {
	TaskID  uuid.UUID `json:"task_id"`
	OwnerID uuid.UUID `json:"owner_id"`
	Scene   string    `json:"scene"`
}

// ProgressPayload — payload события прогресса.
// Повторяет domain.ProgressEvent: sequence в сообщении позволяет
// шлюзу дедуплицировать повторную доставку.
type ProgressPayload struct {
	Event domain.ProgressEvent `json:"event"`
}

// Publish публикует сообщение в указанный exchange с routing key.
func (p *Publisher) Publish(ctx context.Context, exchange Exchange, routingKey RoutingKey, msg *Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}

	return p.conn.WithChannel(func(ch *amqp.Channel) error {
		err := ch.PublishWithContext(
			ctx,
			string(exchange),   // exchange
			string(routingKey), // routing key
			false,
			false,
			amqp.Publishing{
				ContentType:  "application/json",
				DeliveryMode: amqp.Persistent, // сообщение переживёт рестарт RabbitMQ
				MessageId:    msg.ID,
				Timestamp:    msg.Timestamp,
				Body:         body,
			},
		)
		if err != nil {
			return fmt.Errorf("publish to %s/%s: %w", exchange, routingKey, err)
		}

		p.logger.Debug("published message",
			"exchange", exchange,
			"routing_key", routingKey,
			"message_id", msg.ID,
			"type", msg.Type,
		)

		return nil
	})
}

// PublishTaskAdmitted публикует событие о допущенном task'е.
// Потребитель: Worker.
func (p *Publisher) PublishTaskAdmitted(ctx context.Context, task *domain.Task) error {
	msg := &Message{
		ID:   uuid.New().String(),
		Type: MessageTypeTaskAdmitted,
		Payload: TaskAdmittedPayload{
			TaskID:  task.ID,
			OwnerID: task.OwnerID,
			Scene:   task.Scene,
		},
		Timestamp: time.Now(),
	}

	return p.Publish(ctx, ExchangeTasks, RoutingKeyAdmitted, msg)
}

// PublishProgress публикует событие прогресса в fanout обменник.
// Потребители: все API шлюзы.
func (p *Publisher) PublishProgress(ctx context.Context, ev *domain.ProgressEvent) error {
	msg := &Message{
		ID:        uuid.New().String(),
		Type:      MessageTypeTaskProgress,
		Payload:   ProgressPayload{Event: *ev},
		Timestamp: time.Now(),
	}

	return p.Publish(ctx, ExchangeProgress, "", msg)
}
