package registry

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

// TaskStore — персистентное хранилище tasks.
// Реализуется repo.TaskRepo; в тестах — in-memory fake.
type TaskStore interface {
	Create(ctx context.Context, task *domain.Task) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Task, error)
	UpdateStatusFrom(ctx context.Context, task *domain.Task, allowedFrom []domain.TaskStatus) error
}

// Notifier получает финальное событие при переходе task в терминальный статус.
// В шлюзе это ProgressBroadcaster, в worker'е — эмиттер событий runner'а.
type Notifier interface {
	TaskFinished(ctx context.Context, task *domain.Task, kind domain.EventKind, message string)
}

// Registry — единственная точка создания tasks и переходов их статусов.
//
// Переходы валидируются машиной состояний domain.TaskStatus и
// сериализуются по task: per-task мьютекс внутри процесса плюс
// условный UPDATE в хранилище между процессами. AdmissionController
// в Registry не участвует: квота списывается один раз при допуске,
// независимо от исхода task'а.
type Registry struct {
	store    TaskStore
	notifier Notifier
	logger   *slog.Logger

	mu    sync.Mutex
	locks map[uuid.UUID]*sync.Mutex
}

// Config — конфигурация Registry.
type Config struct {
	Store    TaskStore
	Notifier Notifier // опционально
	Logger   *slog.Logger
}

// New создаёт новый Registry.
func New(cfg Config) *Registry {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		store:    cfg.Store,
		notifier: cfg.Notifier,
		logger:   logger,
		locks:    make(map[uuid.UUID]*sync.Mutex),
	}
}

// Ошибки Registry.
var (
	// ErrInvalidTransition — недопустимый переход статуса.
	// Состояние task'а при этом не меняется.
	ErrInvalidTransition = errors.New("invalid task state transition")

	// ErrTaskNotFound — task не найден.
	ErrTaskNotFound = errors.New("task not found")
)

// Create создаёт task в статусе PENDING.
func (r *Registry) Create(ctx context.Context, ownerID uuid.UUID, scene, input string, period domain.PeriodKey) (*domain.Task, error) {
	task := &domain.Task{
		ID:           uuid.New(),
		OwnerID:      ownerID,
		Scene:        scene,
		Input:        input,
		Status:       domain.TaskStatusPending,
		QuotaCharged: true,
		PeriodKey:    period,
		CreatedAt:    time.Now(),
	}
	if err := r.store.Create(ctx, task); err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}
	return task, nil
}

// Get возвращает task по ID.
func (r *Registry) Get(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	task, err := r.store.GetByID(ctx, id)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrTaskNotFound
	}
	return task, err
}

// Transition переводит task в статус next.
//
// Недопустимый переход возвращает ErrInvalidTransition, логируется как
// аномалия и не мутирует состояние. Переход в терминальный статус
// уведомляет Notifier финальным событием; повторное списание квоты
// не происходит никогда.
func (r *Registry) Transition(ctx context.Context, taskID uuid.UUID, next domain.TaskStatus, errMsg string) (*domain.Task, error) {
	lock := r.taskLock(taskID)
	lock.Lock()
	defer lock.Unlock()

	task, err := r.store.GetByID(ctx, taskID)
	if errors.Is(err, repo.ErrNotFound) {
		return nil, ErrTaskNotFound
	}
	if err != nil {
		return nil, err
	}

	from := task.Status
	if !from.CanTransitionTo(next) {
		telemetry.InvalidTransitions.Inc()
		r.logger.Warn("rejected task state transition",
			"task_id", taskID,
			"from", from,
			"to", next,
		)
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, next)
	}

	switch next {
	case domain.TaskStatusRunning:
		task.MarkRunning()
	case domain.TaskStatusSucceeded:
		task.MarkSucceeded()
	case domain.TaskStatusFailed:
		task.MarkFailed(errMsg)
	case domain.TaskStatusCancelled:
		task.MarkCancelled()
	}

	// Условие на прежний статус в хранилище: конкурентный переход из
	// другого процесса не пройдёт незамеченным.
	if err := r.store.UpdateStatusFrom(ctx, task, []domain.TaskStatus{from}); err != nil {
		if errors.Is(err, repo.ErrInvalidState) {
			telemetry.InvalidTransitions.Inc()
			r.logger.Warn("lost task state transition race",
				"task_id", taskID,
				"from", from,
				"to", next,
			)
			return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, next)
		}
		return nil, fmt.Errorf("persist transition: %w", err)
	}

	if next.IsTerminal() {
		if r.notifier != nil {
			kind := domain.EventCompleted
			message := "task completed"
			switch next {
			case domain.TaskStatusFailed:
				kind = domain.EventFailed
				message = errMsg
			case domain.TaskStatusCancelled:
				kind = domain.EventFailed
				message = "task cancelled"
			}
			r.notifier.TaskFinished(ctx, task, kind, message)
		}
		// Терминальный статус больше не меняется, мьютекс не нужен.
		// Отложенный Unlock держит ссылку на сам мьютекс, удаление
		// записи из карты безопасно.
		r.ReleaseLock(taskID)
	}

	return task, nil
}

// taskLock возвращает мьютекс для task'а.
// Разные tasks переходят независимо, одинаковые — строго по очереди.
func (r *Registry) taskLock(taskID uuid.UUID) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	lock, ok := r.locks[taskID]
	if !ok {
		lock = &sync.Mutex{}
		r.locks[taskID] = lock
	}
	return lock
}

// ReleaseLock удаляет per-task мьютекс завершённого task'а.
// Вызывается после терминального перехода, чтобы карта не росла вечно.
func (r *Registry) ReleaseLock(taskID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.locks, taskID)
}
