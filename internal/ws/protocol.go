package ws

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/deloog/jexagent-backend/internal/domain"
)

// Типы клиентских сообщений.
const (
	ClientMsgJoin  = "join"
	ClientMsgLeave = "leave"
)

// Типы серверных сообщений.
const (
	ServerMsgJoined   = "joined"
	ServerMsgLeft     = "left"
	ServerMsgProgress = "progress"
	ServerMsgError    = "error"
)

// ClientMessage — входящее сообщение клиента.
type ClientMessage struct {
	Type   string    `json:"type"`
	TaskID uuid.UUID `json:"task_id"`
}

// ServerMessage — исходящее сообщение шлюза.
type ServerMessage struct {
	Type   string                `json:"type"`
	TaskID uuid.UUID             `json:"task_id,omitempty"`
	Event  *domain.ProgressEvent `json:"event,omitempty"`
	Error  string                `json:"error,omitempty"`
}

// parseClientMessage разбирает клиентское сообщение и валидирует тип.
func parseClientMessage(data []byte) (*ClientMessage, error) {
	var msg ClientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("unmarshal client message: %w", err)
	}

	switch msg.Type {
	case ClientMsgJoin, ClientMsgLeave:
	default:
		return nil, fmt.Errorf("unknown message type %q", msg.Type)
	}

	if msg.TaskID == uuid.Nil {
		return nil, fmt.Errorf("task_id is required")
	}

	return &msg, nil
}

// mustMarshal сериализует серверное сообщение.
// Структура известна на этапе компиляции, ошибка невозможна.
func mustMarshal(msg *ServerMessage) []byte {
	data, err := json.Marshal(msg)
	if err != nil {
		panic(err)
	}
	return data
}

func joinedMessage(taskID uuid.UUID) []byte {
	return mustMarshal(&ServerMessage{Type: ServerMsgJoined, TaskID: taskID})
}

func leftMessage(taskID uuid.UUID) []byte {
	return mustMarshal(&ServerMessage{Type: ServerMsgLeft, TaskID: taskID})
}

func progressMessage(ev *domain.ProgressEvent) []byte {
	return mustMarshal(&ServerMessage{Type: ServerMsgProgress, TaskID: ev.TaskID, Event: ev})
}

func errorMessage(taskID uuid.UUID, text string) []byte {
	return mustMarshal(&ServerMessage{Type: ServerMsgError, TaskID: taskID, Error: text})
}
