package progress

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/deloog/jexagent-backend/internal/domain"
	"github.com/deloog/jexagent-backend/internal/repo"
	"github.com/deloog/jexagent-backend/internal/telemetry"
)

// subscriberBuffer — ёмкость канала подписчика. Медленный подписчик
// теряет события после переполнения, журнал при этом остаётся полным.
const subscriberBuffer = 256

// Subscriber — один получатель событий task'а.
type Subscriber struct {
	ConnID   string
	TaskID   uuid.UUID
	JoinedAt time.Time

	ch chan domain.ProgressEvent
}

// Events возвращает канал входящих событий. Канал закрывается
// при Unsubscribe.
func (s *Subscriber) Events() <-chan domain.ProgressEvent {
	return s.ch
}

// room — комната одного task'а: подписчики и последний доставленный sequence.
type room struct {
	mu      sync.Mutex
	subs    map[string]*Subscriber
	lastSeq int64
}

// Broadcaster раздаёт события прогресса подписчикам комнат.
// Каждое событие сначала дописывается в durable журнал и только
// потом уходит живым подписчикам: подписчик, пришедший позже,
// добирает пропущенное через Replay.
type Broadcaster struct {
	log    EventLog
	logger *slog.Logger

	mu    sync.RWMutex
	rooms map[uuid.UUID]*room
}

// NewBroadcaster создаёт Broadcaster поверх журнала событий.
func NewBroadcaster(eventLog EventLog, logger *slog.Logger) *Broadcaster {
	return &Broadcaster{
		log:    eventLog,
		logger: logger,
		rooms:  make(map[uuid.UUID]*room),
	}
}

// Subscribe подключает connID к комнате task'а. Повторная подписка
// того же connID заменяет предыдущую.
func (b *Broadcaster) Subscribe(connID string, taskID uuid.UUID) *Subscriber {
	sub := &Subscriber{
		ConnID:   connID,
		TaskID:   taskID,
		JoinedAt: time.Now().UTC(),
		ch:       make(chan domain.ProgressEvent, subscriberBuffer),
	}

	// b.mu держится до вставки: Unsubscribe под тем же мьютексом
	// удаляет опустевшую комнату, и подписчик, вошедший между
	// проверкой и вставкой, осиротел бы в удалённой комнате.
	b.mu.Lock()
	rm, ok := b.rooms[taskID]
	if !ok {
		rm = &room{subs: make(map[string]*Subscriber)}
		b.rooms[taskID] = rm
	}

	rm.mu.Lock()
	if prev, ok := rm.subs[connID]; ok {
		close(prev.ch)
	}
	rm.subs[connID] = sub
	rm.mu.Unlock()
	b.mu.Unlock()

	return sub
}

// Unsubscribe отключает connID от комнаты task'а и закрывает его канал.
// Пустая комната удаляется.
func (b *Broadcaster) Unsubscribe(connID string, taskID uuid.UUID) {
	b.mu.Lock()
	rm, ok := b.rooms[taskID]
	if !ok {
		b.mu.Unlock()
		return
	}

	rm.mu.Lock()
	sub, found := rm.subs[connID]
	if found {
		delete(rm.subs, connID)
		close(sub.ch)
	}
	empty := len(rm.subs) == 0
	rm.mu.Unlock()

	if empty {
		delete(b.rooms, taskID)
	}
	b.mu.Unlock()
}

// Publish дописывает событие в журнал и раздаёт его живым подписчикам.
// Дубликат (повторная доставка из MQ) в журнал не попадает и
// повторно не раздаётся. Ошибка журнала не блокирует живую доставку.
func (b *Broadcaster) Publish(ctx context.Context, ev *domain.ProgressEvent) error {
	var appendErr error
	if err := b.log.Append(ctx, ev); err != nil {
		if errors.Is(err, repo.ErrAlreadyExists) {
			return nil
		}
		if errors.Is(err, repo.ErrInvalidState) {
			// Запоздавшая эмиссия после терминального перехода.
			b.logger.Warn("событие для завершённого task'а отклонено",
				slog.String("task_id", ev.TaskID.String()),
				slog.Int64("sequence", ev.Sequence),
				slog.String("kind", string(ev.Kind)),
			)
			return nil
		}
		appendErr = fmt.Errorf("append progress event: %w", err)
		b.logger.Error("не удалось записать событие в журнал",
			slog.String("task_id", ev.TaskID.String()),
			slog.Int64("sequence", ev.Sequence),
			slog.String("error", err.Error()),
		)
	}

	telemetry.EventsPublished.WithLabelValues(string(ev.Kind)).Inc()

	b.mu.RLock()
	rm, ok := b.rooms[ev.TaskID]
	b.mu.RUnlock()
	if !ok {
		return appendErr
	}

	rm.mu.Lock()
	defer rm.mu.Unlock()

	if ev.Sequence <= rm.lastSeq {
		// Уже доставляли: гонка повторной доставки при недоступном журнале.
		return appendErr
	}
	rm.lastSeq = ev.Sequence

	for _, sub := range rm.subs {
		select {
		case sub.ch <- *ev:
		default:
			telemetry.EventsDropped.Inc()
			b.logger.Warn("подписчик не успевает, событие пропущено",
				slog.String("conn_id", sub.ConnID),
				slog.String("task_id", ev.TaskID.String()),
				slog.Int64("sequence", ev.Sequence),
			)
		}
	}
	return appendErr
}

// Replay возвращает полную историю событий task'а из журнала
// в порядке sequence.
func (b *Broadcaster) Replay(ctx context.Context, taskID uuid.UUID) ([]domain.ProgressEvent, error) {
	return b.log.ListByTask(ctx, taskID)
}

// TaskFinished публикует финальное событие завершённого task'а
// и возвращает его. Используется для переходов, инициированных не
// runner'ом (отмена): sequence продолжает журнал.
func (b *Broadcaster) TaskFinished(ctx context.Context, task *domain.Task, kind domain.EventKind, message string) *domain.ProgressEvent {
	last, err := b.log.LastSequence(ctx, task.ID)
	if err != nil {
		b.logger.Error("не удалось определить sequence финального события",
			slog.String("task_id", task.ID.String()),
			slog.String("error", err.Error()),
		)
		last = 0
	}

	progress := 0
	if kind == domain.EventCompleted {
		progress = 100
	}

	ev := &domain.ProgressEvent{
		TaskID:    task.ID,
		Sequence:  last + 1,
		Kind:      kind,
		Phase:     "finished",
		Progress:  progress,
		Message:   message,
		EmittedAt: time.Now().UTC(),
	}
	if err := b.Publish(ctx, ev); err != nil {
		b.logger.Error("не удалось опубликовать финальное событие",
			slog.String("task_id", task.ID.String()),
			slog.String("error", err.Error()),
		)
	}
	return ev
}
