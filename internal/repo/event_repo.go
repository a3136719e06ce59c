package repo

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/deloog/jexagent-backend/internal/domain"
)

// EventRepo — durable append-only журнал событий прогресса.
//
// Журнал — источник истины для replay: живая доставка best-effort,
// а клиент, подозревающий пропуск, дочитывает историю отсюда.
type EventRepo struct {
	pool *pgxpool.Pool
}

// NewEventRepo создаёт новый EventRepo.
func NewEventRepo(pool *pgxpool.Pool) *EventRepo {
	return &EventRepo{pool: pool}
}

// Append дописывает событие в журнал task'а.
// Повторная запись того же (task_id, sequence) — конфликт уникальности:
// возвращается ErrAlreadyExists, журнал не мутируется.
// STARTED/PROGRESS для task'а в терминальном статусе отклоняются
// с ErrInvalidState (запоздавшая эмиссия после отмены); финальные
// события проходят всегда, они и фиксируют терминальный статус.
func (r *EventRepo) Append(ctx context.Context, ev *domain.ProgressEvent) error {
	var payloadJSON []byte
	if ev.Payload != nil {
		var err error
		payloadJSON, err = json.Marshal(ev.Payload)
		if err != nil {
			return fmt.Errorf("marshal payload: %w", err)
		}
	}

	query := `
		INSERT INTO progress_events (task_id, sequence, kind, phase, progress, message, payload, emitted_at)
		SELECT $1, $2, $3, $4, $5, $6, $7, $8
		WHERE $9
		   OR NOT EXISTS (
			SELECT 1 FROM tasks t
			WHERE t.id = $1
			  AND t.status IN ('SUCCEEDED', 'FAILED', 'CANCELLED')
		   )
		ON CONFLICT (task_id, sequence) DO NOTHING
	`
	result, err := r.pool.Exec(ctx, query,
		ev.TaskID,
		ev.Sequence,
		string(ev.Kind),
		nullString(ev.Phase),
		ev.Progress,
		nullString(ev.Message),
		payloadJSON,
		ev.EmittedAt,
		ev.Kind.IsFinal(),
	)
	if err != nil {
		return fmt.Errorf("insert progress event: %w", err)
	}
	if result.RowsAffected() == 0 {
		var exists bool
		err := r.pool.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM progress_events WHERE task_id = $1 AND sequence = $2)`,
			ev.TaskID, ev.Sequence,
		).Scan(&exists)
		if err != nil {
			return fmt.Errorf("classify rejected progress event: %w", err)
		}
		if exists {
			return ErrAlreadyExists
		}
		return ErrInvalidState
	}
	return nil
}

// ListByTask возвращает все события task'а в порядке sequence.
// Вызов рестартуем: всегда возвращает тот же префикс плюс всё,
// что было дописано с прошлого вызова.
func (r *EventRepo) ListByTask(ctx context.Context, taskID uuid.UUID) ([]domain.ProgressEvent, error) {
	query := `
		SELECT task_id, sequence, kind, phase, progress, message, payload, emitted_at
		FROM progress_events
		WHERE task_id = $1
		ORDER BY sequence ASC
	`
	rows, err := r.pool.Query(ctx, query, taskID)
	if err != nil {
		return nil, fmt.Errorf("list progress events: %w", err)
	}
	defer rows.Close()

	var events []domain.ProgressEvent
	for rows.Next() {
		var ev domain.ProgressEvent
		var kind string
		var phase, message *string
		var payloadJSON []byte

		err := rows.Scan(
			&ev.TaskID,
			&ev.Sequence,
			&kind,
			&phase,
			&ev.Progress,
			&message,
			&payloadJSON,
			&ev.EmittedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan progress event: %w", err)
		}

		ev.Kind = domain.EventKind(kind)
		if phase != nil {
			ev.Phase = *phase
		}
		if message != nil {
			ev.Message = *message
		}
		if payloadJSON != nil {
			if err := json.Unmarshal(payloadJSON, &ev.Payload); err != nil {
				return nil, fmt.Errorf("unmarshal payload: %w", err)
			}
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// LastSequence возвращает максимальный sequence в журнале task'а.
// Пустой журнал даёт 0.
func (r *EventRepo) LastSequence(ctx context.Context, taskID uuid.UUID) (int64, error) {
	query := `SELECT coalesce(max(sequence), 0) FROM progress_events WHERE task_id = $1`

	var last int64
	if err := r.pool.QueryRow(ctx, query, taskID).Scan(&last); err != nil {
		return 0, fmt.Errorf("last sequence: %w", err)
	}
	return last, nil
}
