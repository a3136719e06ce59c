package admission

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/deloog/jexagent-backend/internal/domain"
	"github.com/deloog/jexagent-backend/internal/quota"
	"github.com/deloog/jexagent-backend/internal/telemetry"
)

// TaskCreator создаёт запись task'а. Реализуется registry.Registry.
type TaskCreator interface {
	Create(ctx context.Context, ownerID uuid.UUID, scene, input string, period domain.PeriodKey) (*domain.Task, error)
}

// ChargeStore переключает флаг удержания квоты у task'а.
// Реализуется repo.TaskRepo; условие на ожидаемое значение делает
// повторный release невозможным.
type ChargeStore interface {
	SetQuotaCharged(ctx context.Context, id uuid.UUID, expected, value bool) error
}

// Controller решает, может ли новый task начать выполнение.
//
// Последовательность допуска: текущий PeriodKey → атомарный
// TryConsume → создание task'а. Если создание не удалось по любой
// причине, здесь — и только здесь — выполняется компенсирующий
// Release: единица квоты не должна остаться за task'ом, которого
// никогда не существовало.
type Controller struct {
	store   quota.Store
	creator TaskCreator
	charges ChargeStore
	logger  *slog.Logger
	now     func() time.Time
}

// Config — конфигурация Controller.
type Config struct {
	Store   quota.Store
	Creator TaskCreator
	Charges ChargeStore // опционально (nil в in-memory режиме)
	Logger  *slog.Logger
	Now     func() time.Time // опционально, для тестов
}

// New создаёт новый Controller.
func New(cfg Config) *Controller {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Controller{
		store:   cfg.Store,
		creator: cfg.Creator,
		charges: cfg.Charges,
		logger:  logger,
		now:     now,
	}
}

// Admit допускает task пользователя ownerID к выполнению.
//
// Возвращает созданный task (QuotaCharged=true) либо:
//   - *QuotaExceededError — квота исчерпана, счётчик не тронут;
//   - ErrStoreUnavailable — хранилище недоступно, допуск закрыт;
//   - ошибку создания task'а — квота уже компенсирована обратно.
func (c *Controller) Admit(ctx context.Context, ownerID uuid.UUID, scene, input string) (*domain.Task, error) {
	period := domain.CurrentPeriod(c.now())

	grant, err := c.store.TryConsume(ctx, ownerID, period)
	if err != nil {
		telemetry.AdmissionsTotal.WithLabelValues("store_unavailable").Inc()
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if !grant.Granted {
		telemetry.AdmissionsTotal.WithLabelValues("quota_exceeded").Inc()
		return nil, &QuotaExceededError{Used: grant.Used, Quota: grant.Quota}
	}

	task, err := c.creator.Create(ctx, ownerID, scene, input, period)
	if err != nil {
		// Компенсация: допуск состоялся, task — нет.
		telemetry.AdmissionsTotal.WithLabelValues("create_failed").Inc()
		c.compensate(ctx, ownerID, period)
		return nil, fmt.Errorf("create admitted task: %w", err)
	}

	telemetry.AdmissionsTotal.WithLabelValues("granted").Inc()
	c.logger.Info("task admitted",
		"task_id", task.ID,
		"user_id", ownerID,
		"daily_used", grant.Used,
		"daily_quota", grant.Quota,
	)
	return task, nil
}

// ReleaseCharge возвращает единицу квоты task'а, который так и не начал
// выполняться. Повторный вызов для того же task'а — no-op: флаг
// QuotaCharged снимается строго один раз.
func (c *Controller) ReleaseCharge(ctx context.Context, task *domain.Task) error {
	if !task.QuotaCharged {
		return nil
	}

	if c.charges != nil {
		if err := c.charges.SetQuotaCharged(ctx, task.ID, true, false); err != nil {
			// Флаг уже снят конкурентным вызовом: счётчик не трогаем.
			return nil
		}
	}
	task.QuotaCharged = false

	if _, err := c.store.Release(ctx, task.OwnerID, task.PeriodKey); err != nil {
		telemetry.CompensationFailures.Inc()
		c.logger.Error("quota release failed, counter may over-count until reconciled",
			"task_id", task.ID,
			"user_id", task.OwnerID,
			"period", task.PeriodKey,
			"error", err,
		)
		return err
	}
	telemetry.CompensationsTotal.Inc()
	return nil
}

// compensate — компенсирующий decrement после неудачного создания task'а.
// Неудача самой компенсации логируется как расхождение для reconciler'а,
// inline-retry не делается.
func (c *Controller) compensate(ctx context.Context, ownerID uuid.UUID, period domain.PeriodKey) {
	if _, err := c.store.Release(ctx, ownerID, period); err != nil {
		telemetry.CompensationFailures.Inc()
		c.logger.Error("quota compensation failed, counter may over-count until reconciled",
			"user_id", ownerID,
			"period", period,
			"error", err,
		)
		return
	}
	telemetry.CompensationsTotal.Inc()
	c.logger.Info("quota charge compensated after failed task creation",
		"user_id", ownerID,
		"period", period,
	)
}

// QuotaFor возвращает текущее состояние счётчика пользователя.
func (c *Controller) QuotaFor(ctx context.Context, ownerID uuid.UUID) (*domain.QuotaCounter, error) {
	counter, err := c.store.CounterFor(ctx, ownerID, domain.CurrentPeriod(c.now()))
	if err != nil {
		if errors.Is(err, quota.ErrUnavailable) {
			return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		return nil, err
	}
	return counter, nil
}
