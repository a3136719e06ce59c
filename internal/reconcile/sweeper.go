package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/deloog/jexagent-backend/internal/domain"
	"github.com/deloog/jexagent-backend/internal/telemetry"
)

// stalePendingAge — возраст, после которого PENDING task считается
// зависшим: его публикация в MQ не дошла до worker'ов.
const stalePendingAge = 5 * time.Minute

// CounterStore — доступ к счётчикам квот для сверки.
// Реализуется repo.QuotaRepo.
type CounterStore interface {
	ListOvercounted(ctx context.Context, period domain.PeriodKey) ([]domain.QuotaCounter, error)
	RepairCounter(ctx context.Context, userID uuid.UUID, period domain.PeriodKey) (bool, error)
}

// TaskStore — доступ к зависшим task'ам для повторной публикации.
// Реализуется repo.TaskRepo.
type TaskStore interface {
	ListStalePending(ctx context.Context, olderThan time.Time, limit int) ([]domain.Task, error)
}

// TaskPublisher публикует допущенный task в очередь worker'ов.
// Реализуется mq.Publisher.
type TaskPublisher interface {
	PublishTaskAdmitted(ctx context.Context, task *domain.Task) error
}

// Sweeper устраняет два вида дрейфа, которые оставляет путь допуска.
//
// Первый — неудавшаяся компенсация: квота списана, task не создан,
// decrement не прошёл. Такой счётчик до конца окна завышен и зря
// отказывает пользователю. Sweeper находит завышенные счётчики и
// приводит их к числу tasks с удержанной квотой.
//
// Второй — потерянная публикация: task создан и квота удержана, но
// сообщение task.admitted до MQ не дошло. Такой task навсегда
// останется PENDING; Sweeper публикует зависшие PENDING повторно
// (worker идемпотентен к повторной доставке).
type Sweeper struct {
	counters  CounterStore
	tasks     TaskStore
	publisher TaskPublisher
	logger    *slog.Logger
	now       func() time.Time
}

// Config — конфигурация Sweeper.
type Config struct {
	Counters CounterStore

	// Tasks и Publisher включают повторную публикацию зависших
	// PENDING; оба nil отключают этот проход (для тестов счётчиков).
	Tasks     TaskStore
	Publisher TaskPublisher

	Logger *slog.Logger

	// Now — источник времени (для тестов; default: time.Now).
	Now func() time.Time
}

// New создаёт новый Sweeper.
func New(cfg Config) *Sweeper {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Sweeper{
		counters:  cfg.Counters,
		tasks:     cfg.Tasks,
		publisher: cfg.Publisher,
		logger:    logger,
		now:       now,
	}
}

// republishBatch — максимум зависших tasks за один проход.
const republishBatch = 100

// Tick выполняет один проход сверки текущего окна.
// Ошибки одного счётчика не блокируют обработку остальных,
// а сбой одного прохода не отменяет другой.
func (s *Sweeper) Tick(ctx context.Context) error {
	counterErr := s.repairCounters(ctx)
	republishErr := s.republishStale(ctx)
	if counterErr != nil {
		return counterErr
	}
	return republishErr
}

// repairCounters приводит завышенные счётчики к фактическому числу
// tasks с удержанной квотой.
func (s *Sweeper) repairCounters(ctx context.Context) error {
	period := domain.CurrentPeriod(s.now())

	overcounted, err := s.counters.ListOvercounted(ctx, period)
	if err != nil {
		return fmt.Errorf("list overcounted: %w", err)
	}

	if len(overcounted) == 0 {
		return nil
	}

	s.logger.Info("found overcounted quota counters",
		"period", string(period),
		"count", len(overcounted),
	)

	var repaired int
	for _, counter := range overcounted {
		fixed, err := s.counters.RepairCounter(ctx, counter.UserID, period)
		if err != nil {
			s.logger.Error("failed to repair quota counter",
				"user_id", counter.UserID,
				"period", string(period),
				"error", err,
			)
			continue
		}
		if fixed {
			repaired++
			telemetry.CountersRepaired.Inc()
			s.logger.Info("quota counter repaired",
				"user_id", counter.UserID,
				"period", string(period),
				"was_used", counter.DailyUsed,
			)
		}
	}

	s.logger.Info("counter repair pass completed",
		"overcounted", len(overcounted),
		"repaired", repaired,
	)

	return nil
}

// republishStale повторно публикует PENDING tasks, чья публикация
// в MQ потерялась при допуске.
func (s *Sweeper) republishStale(ctx context.Context) error {
	if s.tasks == nil || s.publisher == nil {
		return nil
	}

	cutoff := s.now().Add(-stalePendingAge)
	stale, err := s.tasks.ListStalePending(ctx, cutoff, republishBatch)
	if err != nil {
		return fmt.Errorf("list stale pending: %w", err)
	}
	if len(stale) == 0 {
		return nil
	}

	s.logger.Info("found stale pending tasks",
		"count", len(stale),
		"older_than", cutoff,
	)

	var republished int
	for i := range stale {
		task := &stale[i]
		if err := s.publisher.PublishTaskAdmitted(ctx, task); err != nil {
			s.logger.Error("failed to republish stale task",
				"task_id", task.ID,
				"error", err,
			)
			continue
		}
		republished++
		telemetry.TasksRepublished.Inc()
		s.logger.Info("stale pending task republished",
			"task_id", task.ID,
			"created_at", task.CreatedAt,
		)
	}

	s.logger.Info("republish pass completed",
		"stale", len(stale),
		"republished", republished,
	)

	return nil
}
