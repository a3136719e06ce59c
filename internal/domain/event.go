package domain

import (
	"time"

	"github.com/google/uuid"
)

// EventKind — тип события прогресса.
type EventKind string

const (
	// EventStarted — task начал выполняться.
	EventStarted EventKind = "STARTED"

	// EventProgress — промежуточное обновление прогресса.
	EventProgress EventKind = "PROGRESS"

	// EventCompleted — task успешно завершён (финальное событие).
	EventCompleted EventKind = "COMPLETED"

	// EventFailed — task завершился с ошибкой (финальное событие).
	EventFailed EventKind = "FAILED"
)

// IsFinal возвращает true для финальных событий.
func (k EventKind) IsFinal() bool {
	return k == EventCompleted || k == EventFailed
}

// ProgressEvent — неизменяемый факт о ходе выполнения task.
//
// Sequence монотонно растёт внутри одного task без пропусков со стороны
// эмиттера; потребитель обязан уметь обнаружить пропуск по Sequence и
// дочитать историю через replay.
type ProgressEvent struct {
	// TaskID — task, к которому относится событие.
	TaskID uuid.UUID `json:"task_id"`

	// Sequence — порядковый номер события внутри task (с 1).
	Sequence int64 `json:"sequence"`

	// Kind — тип события.
	Kind EventKind `json:"kind"`

	// Phase — текущая фаза обработки (например "inquiry", "planning").
	Phase string `json:"phase,omitempty"`

	// Progress — процент выполнения 0–100.
	Progress int `json:"progress"`

	// Message — человекочитаемое описание.
	Message string `json:"message,omitempty"`

	// Payload — произвольные данные события (итоговый результат и т.п.).
	Payload map[string]any `json:"payload,omitempty"`

	// EmittedAt — время эмиссии события.
	EmittedAt time.Time `json:"emitted_at"`
}
