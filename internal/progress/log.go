package progress

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/deloog/jexagent-backend/internal/domain"
	"github.com/deloog/jexagent-backend/internal/repo"
)

// EventLog — durable append-only журнал событий одного task'а.
// Реализуется repo.EventRepo; MemoryLog — для тестов и локального режима.
type EventLog interface {
	// Append дописывает событие. Повтор (task_id, sequence)
	// возвращает repo.ErrAlreadyExists и журнал не мутирует.
	Append(ctx context.Context, ev *domain.ProgressEvent) error

	// ListByTask возвращает события в порядке sequence.
	ListByTask(ctx context.Context, taskID uuid.UUID) ([]domain.ProgressEvent, error)

	// LastSequence возвращает максимальный sequence task'а (0 — пусто).
	LastSequence(ctx context.Context, taskID uuid.UUID) (int64, error)
}

// MemoryLog — in-memory реализация EventLog.
type MemoryLog struct {
	mu     sync.RWMutex
	events map[uuid.UUID][]domain.ProgressEvent
}

// NewMemoryLog создаёт пустой MemoryLog.
func NewMemoryLog() *MemoryLog {
	return &MemoryLog{events: make(map[uuid.UUID][]domain.ProgressEvent)}
}

// Append реализует EventLog.
func (l *MemoryLog) Append(_ context.Context, ev *domain.ProgressEvent) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, existing := range l.events[ev.TaskID] {
		if existing.Sequence == ev.Sequence {
			return repo.ErrAlreadyExists
		}
	}
	l.events[ev.TaskID] = append(l.events[ev.TaskID], *ev)
	return nil
}

// ListByTask реализует EventLog.
func (l *MemoryLog) ListByTask(_ context.Context, taskID uuid.UUID) ([]domain.ProgressEvent, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	events := make([]domain.ProgressEvent, len(l.events[taskID]))
	copy(events, l.events[taskID])
	sort.Slice(events, func(i, j int) bool { return events[i].Sequence < events[j].Sequence })
	return events, nil
}

// LastSequence реализует EventLog.
func (l *MemoryLog) LastSequence(_ context.Context, taskID uuid.UUID) (int64, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var last int64
	for _, ev := range l.events[taskID] {
		if ev.Sequence > last {
			last = ev.Sequence
		}
	}
	return last, nil
}
