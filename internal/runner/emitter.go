package runner

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/deloog/jexagent-backend/internal/domain"
)

// EventSink принимает события прогресса для доставки шлюзам.
type EventSink interface {
	PublishProgress(ctx context.Context, ev *domain.ProgressEvent) error
}

// Emitter нумерует и отправляет события одного запуска task'а.
//
// Sequence монотонно растёт в пределах task'а. При повторном запуске
// после сбоя нумерация продолжается с последнего записанного
// sequence: журнал не получает дыр и дубликатов.
type Emitter struct {
	taskID uuid.UUID
	sink   EventSink
	seq    atomic.Int64
}

// NewEmitter создаёт Emitter. startSeq — последний sequence,
// уже записанный в журнал task'а (0 для свежего task'а).
func NewEmitter(taskID uuid.UUID, sink EventSink, startSeq int64) *Emitter {
	e := &Emitter{
		taskID: taskID,
		sink:   sink,
	}
	e.seq.Store(startSeq)
	return e
}

// LastSequence возвращает последний выданный sequence.
func (e *Emitter) LastSequence() int64 {
	return e.seq.Load()
}

// Emit отправляет событие со следующим sequence.
func (e *Emitter) Emit(ctx context.Context, kind domain.EventKind, phase string, progress int, message string) error {
	ev := &domain.ProgressEvent{
		TaskID:    e.taskID,
		Sequence:  e.seq.Add(1),
		Kind:      kind,
		Phase:     phase,
		Progress:  progress,
		Message:   message,
		EmittedAt: time.Now().UTC(),
	}
	return e.sink.PublishProgress(ctx, ev)
}

// Started отправляет стартовое событие.
func (e *Emitter) Started(ctx context.Context) error {
	return e.Emit(ctx, domain.EventStarted, "", 0, "")
}

// Progress отправляет промежуточное событие.
// progress — процент выполнения 0–100.
func (e *Emitter) Progress(ctx context.Context, phase string, progress int, message string) error {
	return e.Emit(ctx, domain.EventProgress, phase, progress, message)
}

// Completed отправляет финальное событие успеха.
func (e *Emitter) Completed(ctx context.Context) error {
	return e.Emit(ctx, domain.EventCompleted, "finished", 100, "task completed")
}

// Failed отправляет финальное событие ошибки.
func (e *Emitter) Failed(ctx context.Context, message string) error {
	return e.Emit(ctx, domain.EventFailed, "finished", 0, message)
}
