package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/deloog/jexagent-backend/internal/domain"
)

// TaskRepo — репозиторий для работы с tasks.
type TaskRepo struct {
	pool *pgxpool.Pool
}

// NewTaskRepo создаёт новый TaskRepo.
func NewTaskRepo(pool *pgxpool.Pool) *TaskRepo {
	return &TaskRepo{pool: pool}
}

// Create создаёт новый task.
func (r *TaskRepo) Create(ctx context.Context, task *domain.Task) error {
	query := `
		INSERT INTO tasks (id, owner_id, scene, input, status, quota_charged, period_key, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := r.pool.Exec(ctx, query,
		task.ID,
		task.OwnerID,
		task.Scene,
		nullString(task.Input),
		task.Status,
		task.QuotaCharged,
		string(task.PeriodKey),
		task.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

// GetByID возвращает task по ID.
func (r *TaskRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Task, error) {
	query := `
		SELECT id, owner_id, scene, input, status, quota_charged, period_key,
		       started_at, finished_at, error, created_at
		FROM tasks
		WHERE id = $1
	`
	return scanTask(r.pool.QueryRow(ctx, query, id))
}

// ListByOwner возвращает tasks пользователя, новые первыми.
func (r *TaskRepo) ListByOwner(ctx context.Context, ownerID uuid.UUID, limit, offset int) ([]domain.Task, error) {
	query := `
		SELECT id, owner_id, scene, input, status, quota_charged, period_key,
		       started_at, finished_at, error, created_at
		FROM tasks
		WHERE owner_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`
	rows, err := r.pool.Query(ctx, query, ownerID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []domain.Task
	for rows.Next() {
		task, err := scanTaskFromRows(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, *task)
	}
	return tasks, rows.Err()
}

// ListStalePending возвращает tasks, застрявшие в PENDING дольше
// olderThan: их публикация в MQ потерялась при допуске, старые первыми.
func (r *TaskRepo) ListStalePending(ctx context.Context, olderThan time.Time, limit int) ([]domain.Task, error) {
	query := `
		SELECT id, owner_id, scene, input, status, quota_charged, period_key,
		       started_at, finished_at, error, created_at
		FROM tasks
		WHERE status = 'PENDING'
		  AND created_at < $1
		ORDER BY created_at ASC
		LIMIT $2
	`
	rows, err := r.pool.Query(ctx, query, olderThan, limit)
	if err != nil {
		return nil, fmt.Errorf("list stale pending tasks: %w", err)
	}
	defer rows.Close()

	var tasks []domain.Task
	for rows.Next() {
		task, err := scanTaskFromRows(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, *task)
	}
	return tasks, rows.Err()
}

// UpdateStatusFrom переводит task в новый статус при условии, что текущий
// статус входит в allowedFrom. Условие в WHERE делает переход атомарным
// между процессами: конкурентный переход для того же task не пройдёт.
// Возвращает ErrInvalidState, если текущий статус не позволяет переход.
func (r *TaskRepo) UpdateStatusFrom(ctx context.Context, task *domain.Task, allowedFrom []domain.TaskStatus) error {
	from := make([]string, len(allowedFrom))
	for i, s := range allowedFrom {
		from[i] = string(s)
	}

	query := `
		UPDATE tasks
		SET status = $2, started_at = $3, finished_at = $4, error = $5
		WHERE id = $1 AND status = ANY($6::task_status[])
	`
	result, err := r.pool.Exec(ctx, query,
		task.ID,
		task.Status,
		task.StartedAt,
		task.FinishedAt,
		nullString(task.Error),
		from,
	)
	if err != nil {
		return fmt.Errorf("update task status: %w", err)
	}
	if result.RowsAffected() == 0 {
		// Либо task нет, либо статус уже ушёл из allowedFrom.
		if _, err := r.GetByID(ctx, task.ID); errors.Is(err, ErrNotFound) {
			return ErrNotFound
		}
		return ErrInvalidState
	}
	return nil
}

// SetQuotaCharged переключает флаг удержания квоты.
// expected — ожидаемое текущее значение: защита от двойного release.
func (r *TaskRepo) SetQuotaCharged(ctx context.Context, id uuid.UUID, expected, value bool) error {
	query := `
		UPDATE tasks
		SET quota_charged = $3
		WHERE id = $1 AND quota_charged = $2
	`
	result, err := r.pool.Exec(ctx, query, id, expected, value)
	if err != nil {
		return fmt.Errorf("set quota_charged: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrInvalidState
	}
	return nil
}

// CountCharged возвращает число tasks пользователя, удерживающих квоту
// в окне period. Используется reconciler'ом для поиска расхождений.
func (r *TaskRepo) CountCharged(ctx context.Context, ownerID uuid.UUID, period domain.PeriodKey) (int, error) {
	query := `
		SELECT count(*)
		FROM tasks
		WHERE owner_id = $1 AND period_key = $2 AND quota_charged
	`
	var n int
	if err := r.pool.QueryRow(ctx, query, ownerID, string(period)).Scan(&n); err != nil {
		return 0, fmt.Errorf("count charged tasks: %w", err)
	}
	return n, nil
}

// --- Helpers ---

// scanTask сканирует одну строку в Task.
func scanTask(row pgx.Row) (*domain.Task, error) {
	var task domain.Task
	var input *string
	var taskError *string
	var periodKey time.Time

	err := row.Scan(
		&task.ID,
		&task.OwnerID,
		&task.Scene,
		&input,
		&task.Status,
		&task.QuotaCharged,
		&periodKey,
		&task.StartedAt,
		&task.FinishedAt,
		&taskError,
		&task.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan task: %w", err)
	}

	task.PeriodKey = domain.CurrentPeriod(periodKey)
	if input != nil {
		task.Input = *input
	}
	if taskError != nil {
		task.Error = *taskError
	}
	return &task, nil
}

// scanTaskFromRows сканирует строку из rows в Task.
func scanTaskFromRows(rows pgx.Rows) (*domain.Task, error) {
	var task domain.Task
	var input *string
	var taskError *string
	var periodKey time.Time

	err := rows.Scan(
		&task.ID,
		&task.OwnerID,
		&task.Scene,
		&input,
		&task.Status,
		&task.QuotaCharged,
		&periodKey,
		&task.StartedAt,
		&task.FinishedAt,
		&taskError,
		&task.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("scan task: %w", err)
	}

	task.PeriodKey = domain.CurrentPeriod(periodKey)
	if input != nil {
		task.Input = *input
	}
	if taskError != nil {
		task.Error = *taskError
	}
	return &task, nil
}

// nullString возвращает nil для пустой строки (для NULL в БД).
func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
