package runner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/deloog/jexagent-backend/internal/domain"
	"github.com/deloog/jexagent-backend/internal/mq"
	"github.com/deloog/jexagent-backend/internal/registry"
	"github.com/deloog/jexagent-backend/internal/repo"
)

// Default configuration values.
const (
	defaultPrefetch    = 5
	cancelPollInterval = 2 * time.Second
	defaultExecTimeout = 10 * time.Minute
)

// TaskStore отдаёт task'и для выполнения.
type TaskStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Task, error)
}

// SequenceStore отдаёт последний записанный sequence task'а.
type SequenceStore interface {
	LastSequence(ctx context.Context, taskID uuid.UUID) (int64, error)
}

// Runner выполняет допущенные task'и.
//
// Runner — stateless компонент системы, который:
//   - Получает task'и из очереди tasks.admitted
//   - Переводит task в RUNNING через реестр состояний
//   - Выполняет сценарий, отправляя события прогресса в fanout
//   - Следит за отменой: отменённый task прерывается между шагами
//   - Фиксирует терминальный статус и финальное событие
//
// Runners масштабируются горизонтально — несколько экземпляров
// могут потреблять из одной очереди.
type Runner struct {
	registry  *registry.Registry
	tasks     TaskStore
	sequences SequenceStore
	sink      EventSink
	scenes    *Registry

	conn     *mq.Connection
	consumer *mq.Consumer

	execTimeout time.Duration

	logger     *slog.Logger
	cancelFunc context.CancelFunc
	wg         sync.WaitGroup
}

// Config — конфигурация Runner.
type Config struct {
	Registry  *registry.Registry
	Tasks     TaskStore
	Sequences SequenceStore
	Sink      EventSink

	// Scenes — реестр сценариев (опционально; если nil — NewRegistry()).
	Scenes *Registry

	Conn *mq.Connection

	// ExecTimeout — максимум времени на один task (default: 10m).
	ExecTimeout time.Duration

	Logger *slog.Logger
}

// New создаёт новый Runner.
func New(cfg Config) *Runner {
	scenes := cfg.Scenes
	if scenes == nil {
		scenes = NewRegistry()
	}

	execTimeout := cfg.ExecTimeout
	if execTimeout <= 0 {
		execTimeout = defaultExecTimeout
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Runner{
		registry:    cfg.Registry,
		tasks:       cfg.Tasks,
		sequences:   cfg.Sequences,
		sink:        cfg.Sink,
		scenes:      scenes,
		conn:        cfg.Conn,
		execTimeout: execTimeout,
		logger:      logger,
	}
}

// Start запускает потребление очереди tasks.admitted.
func (r *Runner) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	r.cancelFunc = cancel

	r.consumer = mq.NewConsumer(r.conn, r.logger, mq.ConsumerConfig{
		Queue:    string(mq.QueueTasksAdmitted),
		Handler:  r.handleTaskAdmitted,
		Prefetch: defaultPrefetch,
	})

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.consumer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			r.logger.Error("task consumer error", "error", err)
		}
	}()

	r.logger.Info("runner started")
	return nil
}

// Stop останавливает Runner и ждёт завершения текущих task'ов.
func (r *Runner) Stop() {
	r.logger.Info("stopping runner...")

	if r.cancelFunc != nil {
		r.cancelFunc()
	}
	if r.consumer != nil {
		r.consumer.Stop()
	}

	r.wg.Wait()
	r.logger.Info("runner stopped")
}

// handleTaskAdmitted обрабатывает событие из очереди tasks.admitted.
func (r *Runner) handleTaskAdmitted(ctx context.Context, delivery *mq.Delivery) error {
	payload, err := mq.ParsePayload[mq.TaskAdmittedPayload](&delivery.Message)
	if err != nil {
		r.logger.Error("failed to parse task.admitted payload", "error", err)
		return fmt.Errorf("parse task.admitted payload: %w", mq.ErrDiscard)
	}

	if err := r.run(ctx, payload.TaskID); err != nil {
		// Ожидаемые ситуации — не возвращаем ошибку (ack)
		if errors.Is(err, ErrTaskNotFound) || errors.Is(err, ErrTaskNotPending) {
			r.logger.Debug("task not processed", "task_id", payload.TaskID, "reason", err)
			return nil
		}
		r.logger.Error("failed to run task", "task_id", payload.TaskID, "error", err)
		return err
	}

	return nil
}

// run выполняет один task от загрузки до терминального статуса.
func (r *Runner) run(ctx context.Context, taskID uuid.UUID) error {
	task, err := r.tasks.GetByID(ctx, taskID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrTaskNotFound, taskID)
		}
		return fmt.Errorf("get task: %w", err)
	}

	if task.Status.IsTerminal() {
		// Отменён до старта или повторная доставка завершённого task'а
		return nil
	}

	// Повторная доставка после сбоя: task уже RUNNING, продолжаем
	// без перехода. Свежий task переводим PENDING -> RUNNING.
	if task.Status != domain.TaskStatusRunning {
		task, err = r.registry.Transition(ctx, taskID, domain.TaskStatusRunning, "")
		if err != nil {
			if errors.Is(err, registry.ErrInvalidTransition) {
				// Проиграли гонку отмене
				return nil
			}
			return fmt.Errorf("mark running: %w", err)
		}
	}
	defer r.registry.ReleaseLock(taskID)

	startSeq, err := r.sequences.LastSequence(ctx, taskID)
	if err != nil {
		return fmt.Errorf("last sequence: %w", err)
	}

	em := NewEmitter(taskID, r.sink, startSeq)
	if startSeq == 0 {
		if err := em.Started(ctx); err != nil {
			r.logger.Warn("failed to emit started event", "task_id", taskID, "error", err)
		}
	}

	logger := r.logger.With("task_id", taskID, "scene", task.Scene)
	logger.Info("task execution started")

	execCtx, cancelExec := context.WithTimeout(ctx, r.execTimeout)
	defer cancelExec()

	watchDone := make(chan struct{})
	go r.watchCancellation(execCtx, cancelExec, taskID, watchDone)

	executor, err := r.scenes.Get(task.Scene)
	if err != nil {
		cancelExec()
		<-watchDone
		return r.finishFailed(ctx, em, taskID, err, logger)
	}

	execErr := executor.Execute(execCtx, task, em)
	// Причину прерывания читаем до cancelExec: после него
	// execCtx.Err() всегда Canceled.
	ctxErr := execCtx.Err()
	cancelExec()
	<-watchDone

	if execErr != nil {
		if ctxErr != nil {
			current, getErr := r.tasks.GetByID(ctx, taskID)
			if getErr == nil && current.Status == domain.TaskStatusCancelled {
				// Финальное событие уже отправил инициатор отмены
				logger.Info("task cancelled during execution")
				return nil
			}
			if ctx.Err() != nil {
				// Shutdown: вернуть в очередь, доделает другой runner
				return execErr
			}
			if errors.Is(ctxErr, context.DeadlineExceeded) {
				execErr = fmt.Errorf("execution timed out after %s", r.execTimeout)
			}
		}
		return r.finishFailed(ctx, em, taskID, execErr, logger)
	}

	if _, err := r.registry.Transition(ctx, taskID, domain.TaskStatusSucceeded, ""); err != nil {
		if errors.Is(err, registry.ErrInvalidTransition) {
			// Отменён на финише
			return nil
		}
		return fmt.Errorf("mark succeeded: %w", err)
	}
	if err := em.Completed(ctx); err != nil {
		logger.Warn("failed to emit completed event", "error", err)
	}

	logger.Info("task execution finished")
	return nil
}

// finishFailed фиксирует FAILED и отправляет финальное событие.
func (r *Runner) finishFailed(ctx context.Context, em *Emitter, taskID uuid.UUID, cause error, logger *slog.Logger) error {
	if _, err := r.registry.Transition(ctx, taskID, domain.TaskStatusFailed, cause.Error()); err != nil {
		if errors.Is(err, registry.ErrInvalidTransition) {
			return nil
		}
		return fmt.Errorf("mark failed: %w", err)
	}
	if err := em.Failed(ctx, cause.Error()); err != nil {
		logger.Warn("failed to emit failed event", "error", err)
	}

	logger.Warn("task execution failed", "error", cause)
	return nil
}

// watchCancellation отменяет контекст выполнения, когда task
// переведён в CANCELLED извне.
func (r *Runner) watchCancellation(ctx context.Context, cancel context.CancelFunc, taskID uuid.UUID, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(cancelPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			task, err := r.tasks.GetByID(ctx, taskID)
			if err != nil {
				continue
			}
			if task.Status == domain.TaskStatusCancelled {
				r.logger.Info("cancellation detected", "task_id", taskID)
				cancel()
				return
			}
		}
	}
}
