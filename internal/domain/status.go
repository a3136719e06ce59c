package domain

// TaskStatus — статус выполнения task.
//
// Жизненный цикл:
//
//	PENDING → RUNNING → SUCCEEDED
//	                  ↘ FAILED
//	          (или) → CANCELLED (из PENDING или RUNNING)
//
// Терминальные статусы финальны: переходов из них нет.
type TaskStatus string

const (
	// TaskStatusPending — task создан (квота списана), но ещё не начал выполняться.
	TaskStatusPending TaskStatus = "PENDING"

	// TaskStatusRunning — task в процессе выполнения.
	TaskStatusRunning TaskStatus = "RUNNING"

	// TaskStatusSucceeded — task успешно завершён.
	TaskStatusSucceeded TaskStatus = "SUCCEEDED"

	// TaskStatusFailed — task завершился с ошибкой.
	TaskStatusFailed TaskStatus = "FAILED"

	// TaskStatusCancelled — task отменён пользователем.
	TaskStatusCancelled TaskStatus = "CANCELLED"
)

// IsTerminal возвращает true, если статус финальный (task завершён).
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case TaskStatusSucceeded, TaskStatusFailed, TaskStatusCancelled:
		return true
	default:
		return false
	}
}

// CanTransitionTo проверяет допустимость перехода в статус next.
func (s TaskStatus) CanTransitionTo(next TaskStatus) bool {
	switch s {
	case TaskStatusPending:
		return next == TaskStatusRunning || next == TaskStatusCancelled
	case TaskStatusRunning:
		return next == TaskStatusSucceeded || next == TaskStatusFailed || next == TaskStatusCancelled
	default:
		return false
	}
}

// String возвращает строковое представление TaskStatus.
func (s TaskStatus) String() string {
	return string(s)
}

// ParseTaskStatus парсит строку в TaskStatus.
// Пустая строка и неизвестные значения считаются невалидными.
func ParseTaskStatus(s string) (TaskStatus, bool) {
	switch s {
	case "PENDING":
		return TaskStatusPending, true
	case "RUNNING":
		return TaskStatusRunning, true
	case "SUCCEEDED":
		return TaskStatusSucceeded, true
	case "FAILED":
		return TaskStatusFailed, true
	case "CANCELLED":
		return TaskStatusCancelled, true
	default:
		return "", false
	}
}
