package api

import (
	"time"

	"github.com/google/uuid"
	"github.com/deloog/jexagent-backend/internal/domain"
)

// Task DTOs

// CreateTaskRequest — запрос на создание task.
type CreateTaskRequest struct {
	Scene string `json:"scene"`
	Input string `json:"input,omitempty"`
}

// TaskResponse — ответ с task.
type TaskResponse struct {
	ID           uuid.UUID  `json:"id"`
	OwnerID      uuid.UUID  `json:"owner_id"`
	Scene        string     `json:"scene"`
	Input        string     `json:"input,omitempty"`
	Status       string     `json:"status"`
	QuotaCharged bool       `json:"quota_charged"`
	PeriodKey    string     `json:"period_key"`
	StartedAt    *time.Time `json:"started_at,omitempty"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
	Error        string     `json:"error,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// TaskFromDomain конвертирует domain.Task в TaskResponse.
func TaskFromDomain(t domain.Task) TaskResponse {
	return TaskResponse{
		ID:           t.ID,
		OwnerID:      t.OwnerID,
		Scene:        t.Scene,
		Input:        t.Input,
		Status:       string(t.Status),
		QuotaCharged: t.QuotaCharged,
		PeriodKey:    string(t.PeriodKey),
		StartedAt:    t.StartedAt,
		FinishedAt:   t.FinishedAt,
		Error:        t.Error,
		CreatedAt:    t.CreatedAt,
	}
}

// Progress DTOs

// ProgressEventResponse — ответ с событием прогресса.
type ProgressEventResponse struct {
	TaskID    uuid.UUID `json:"task_id"`
	Sequence  int64     `json:"sequence"`
	Kind      string    `json:"kind"`
	Phase     string    `json:"phase,omitempty"`
	Progress  int       `json:"progress"`
	Message   string    `json:"message,omitempty"`
	EmittedAt time.Time `json:"emitted_at"`
}

// EventFromDomain конвертирует domain.ProgressEvent в ProgressEventResponse.
func EventFromDomain(ev domain.ProgressEvent) ProgressEventResponse {
	return ProgressEventResponse{
		TaskID:    ev.TaskID,
		Sequence:  ev.Sequence,
		Kind:      string(ev.Kind),
		Phase:     ev.Phase,
		Progress:  ev.Progress,
		Message:   ev.Message,
		EmittedAt: ev.EmittedAt,
	}
}

// Quota DTOs

// QuotaResponse — ответ с состоянием квоты пользователя.
type QuotaResponse struct {
	UserID    uuid.UUID `json:"user_id"`
	PeriodKey string    `json:"period_key"`
	Used      int       `json:"used"`
	Quota     int       `json:"quota"`
	Remaining int       `json:"remaining"`
}

// QuotaFromDomain конвертирует domain.QuotaCounter в QuotaResponse.
func QuotaFromDomain(c domain.QuotaCounter) QuotaResponse {
	return QuotaResponse{
		UserID:    c.UserID,
		PeriodKey: string(c.PeriodKey),
		Used:      c.DailyUsed,
		Quota:     c.DailyQuota,
		Remaining: c.Remaining(),
	}
}
