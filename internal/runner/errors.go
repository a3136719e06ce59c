package runner

import "errors"

// Ошибки runner'а.
var (
	// ErrTaskNotFound — task не найден в БД.
	ErrTaskNotFound = errors.New("task not found")

	// ErrTaskNotPending — task нельзя взять в работу из текущего статуса.
	ErrTaskNotPending = errors.New("task is not in PENDING status")

	// ErrUnknownScene — нет executor'а для данного сценария.
	ErrUnknownScene = errors.New("unknown scene")
)
