package domain

import (
	"time"

	"github.com/google/uuid"
)

// Task — единица допущенной работы.
//
// Task создаётся только AdmissionController'ом и только после того,
// как за него списана единица дневной квоты пользователя. Выполняется
// worker'ом, который публикует события прогресса по ходу работы.
type Task struct {
	// ID — уникальный идентификатор task.
	ID uuid.UUID `json:"id"`

	// OwnerID — пользователь, от имени которого создан task.
	// Ровно один task ссылается ровно на один счётчик квоты
	// через пару (OwnerID, PeriodKey).
	OwnerID uuid.UUID `json:"owner_id"`

	// Scene — сценарий обработки (что именно делает task).
	Scene string `json:"scene"`

	// Input — пользовательский ввод для сценария.
	Input string `json:"input,omitempty"`

	// Status — текущий статус task.
	Status TaskStatus `json:"status"`

	// QuotaCharged — удерживает ли task единицу квоты.
	// true сразу после успешного допуска; false после компенсирующего
	// decrement'а (task так и не начал выполняться).
	QuotaCharged bool `json:"quota_charged"`

	// PeriodKey — окно квоты, в котором task был допущен.
	PeriodKey PeriodKey `json:"period_key"`

	// StartedAt — время начала выполнения (когда статус стал RUNNING).
	StartedAt *time.Time `json:"started_at,omitempty"`

	// FinishedAt — время завершения (успешного или с ошибкой).
	FinishedAt *time.Time `json:"finished_at,omitempty"`

	// Error — текст ошибки, если task завершился с FAILED.
	Error string `json:"error,omitempty"`

	// CreatedAt — время создания task.
	CreatedAt time.Time `json:"created_at"`
}

// Duration возвращает продолжительность выполнения.
// Возвращает 0, если task ещё не завершён.
func (t *Task) Duration() time.Duration {
	if t.StartedAt == nil || t.FinishedAt == nil {
		return 0
	}
	return t.FinishedAt.Sub(*t.StartedAt)
}

// IsFinished возвращает true, если task завершён (в любом статусе).
func (t *Task) IsFinished() bool {
	return t.Status.IsTerminal()
}

// MarkRunning переводит task в статус RUNNING.
func (t *Task) MarkRunning() {
	now := time.Now()
	t.Status = TaskStatusRunning
	t.StartedAt = &now
}

// MarkSucceeded переводит task в статус SUCCEEDED.
func (t *Task) MarkSucceeded() {
	now := time.Now()
	t.Status = TaskStatusSucceeded
	t.FinishedAt = &now
}

// MarkFailed переводит task в статус FAILED с ошибкой.
func (t *Task) MarkFailed(err string) {
	now := time.Now()
	t.Status = TaskStatusFailed
	t.FinishedAt = &now
	t.Error = err
}

// MarkCancelled переводит task в статус CANCELLED.
func (t *Task) MarkCancelled() {
	now := time.Now()
	t.Status = TaskStatusCancelled
	t.FinishedAt = &now
}
