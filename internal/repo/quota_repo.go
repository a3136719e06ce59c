package repo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/deloog/jexagent-backend/internal/domain"
	"github.com/deloog/jexagent-backend/internal/quota"
)

// QuotaRepo — PostgreSQL-реализация quota.Store.
//
// Проверка лимита и инкремент выполняются хранимой функцией
// increment_daily_used одним атомарным оператором под row-level lock;
// read-then-write из двух запросов здесь невозможен по построению.
type QuotaRepo struct {
	pool         *pgxpool.Pool
	defaultDaily int
}

// NewQuotaRepo создаёт новый QuotaRepo.
// defaultDaily — лимит, назначаемый счётчику при первом обращении.
func NewQuotaRepo(pool *pgxpool.Pool, defaultDaily int) *QuotaRepo {
	return &QuotaRepo{pool: pool, defaultDaily: defaultDaily}
}

// компилятор проверяет соответствие интерфейсу
var _ quota.Store = (*QuotaRepo)(nil)

// TryConsume реализует quota.Store.
func (r *QuotaRepo) TryConsume(ctx context.Context, userID uuid.UUID, period domain.PeriodKey) (quota.Grant, error) {
	var used int
	err := r.pool.QueryRow(ctx,
		`SELECT increment_daily_used($1, $2::date, $3)`,
		userID, string(period), r.defaultDaily,
	).Scan(&used)

	if err == nil {
		c, cerr := r.CounterFor(ctx, userID, period)
		if cerr != nil {
			// Инкремент прошёл; лимит для показа недоступен — не фатально.
			return quota.Grant{Granted: true, Used: used, Quota: r.defaultDaily}, nil
		}
		return quota.Grant{Granted: true, Used: used, Quota: c.DailyQuota}, nil
	}

	if isQuotaExceeded(err) {
		c, cerr := r.CounterFor(ctx, userID, period)
		if cerr != nil {
			return quota.Grant{}, cerr
		}
		return quota.Grant{Granted: false, Used: c.DailyUsed, Quota: c.DailyQuota}, nil
	}

	return quota.Grant{}, fmt.Errorf("%w: %v", quota.ErrUnavailable, err)
}

// Release реализует quota.Store.
func (r *QuotaRepo) Release(ctx context.Context, userID uuid.UUID, period domain.PeriodKey) (int, error) {
	var used int
	err := r.pool.QueryRow(ctx,
		`SELECT decrement_daily_used($1, $2::date)`,
		userID, string(period),
	).Scan(&used)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", quota.ErrUnavailable, err)
	}
	return used, nil
}

// CounterFor реализует quota.Store.
// Для пользователя без строки возвращает нетронутый счётчик с дефолтным
// лимитом (строка появится при первом TryConsume).
func (r *QuotaRepo) CounterFor(ctx context.Context, userID uuid.UUID, period domain.PeriodKey) (*domain.QuotaCounter, error) {
	var c domain.QuotaCounter
	var periodKey time.Time
	err := r.pool.QueryRow(ctx,
		`SELECT user_id, period_key, daily_used, daily_quota FROM user_quotas WHERE user_id = $1`,
		userID,
	).Scan(&c.UserID, &periodKey, &c.DailyUsed, &c.DailyQuota)
	if errors.Is(err, pgx.ErrNoRows) {
		return &domain.QuotaCounter{
			UserID:     userID,
			PeriodKey:  period,
			DailyQuota: r.defaultDaily,
		}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", quota.ErrUnavailable, err)
	}

	c.PeriodKey = domain.CurrentPeriod(periodKey)
	if c.PeriodKey != period {
		// Окно сменилось, но счётчик ещё не перекатился в БД:
		// наружу отдаём состояние нового окна.
		c.PeriodKey = period
		c.DailyUsed = 0
	}
	return &c, nil
}

// ListOvercounted возвращает счётчики, у которых daily_used больше числа
// tasks с удержанной квотой в том же окне — след неудавшейся компенсации.
func (r *QuotaRepo) ListOvercounted(ctx context.Context, period domain.PeriodKey) ([]domain.QuotaCounter, error) {
	query := `
		SELECT q.user_id, q.daily_used, q.daily_quota
		FROM user_quotas q
		LEFT JOIN tasks t
		       ON t.owner_id = q.user_id
		      AND t.period_key = q.period_key
		      AND t.quota_charged
		WHERE q.period_key = $1::date
		GROUP BY q.user_id, q.daily_used, q.daily_quota
		HAVING q.daily_used > count(t.id)
	`
	rows, err := r.pool.Query(ctx, query, string(period))
	if err != nil {
		return nil, fmt.Errorf("list overcounted quotas: %w", err)
	}
	defer rows.Close()

	var counters []domain.QuotaCounter
	for rows.Next() {
		c := domain.QuotaCounter{PeriodKey: period}
		if err := rows.Scan(&c.UserID, &c.DailyUsed, &c.DailyQuota); err != nil {
			return nil, fmt.Errorf("scan overcounted quota: %w", err)
		}
		counters = append(counters, c)
	}
	return counters, rows.Err()
}

// RepairCounter приводит daily_used к фактическому числу tasks
// с удержанной квотой. Пересчёт и запись — один оператор: счётчик
// только уменьшается, конкурентный допуск не затирается.
// Возвращает true, если счётчик был исправлен.
func (r *QuotaRepo) RepairCounter(ctx context.Context, userID uuid.UUID, period domain.PeriodKey) (bool, error) {
	query := `
		UPDATE user_quotas q
		SET daily_used = charged.cnt
		FROM (
			SELECT count(*) AS cnt
			FROM tasks t
			WHERE t.owner_id = $1
			  AND t.period_key = $2::date
			  AND t.quota_charged
		) charged
		WHERE q.user_id = $1
		  AND q.period_key = $2::date
		  AND q.daily_used > charged.cnt
	`
	result, err := r.pool.Exec(ctx, query, userID, string(period))
	if err != nil {
		return false, fmt.Errorf("repair quota counter: %w", err)
	}
	return result.RowsAffected() > 0, nil
}

// isQuotaExceeded распознаёт условие quota_exceeded из хранимой функции.
func isQuotaExceeded(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "P0001" && strings.Contains(pgErr.Message, "quota_exceeded")
	}
	return false
}
