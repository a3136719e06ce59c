package admission

import (
	"errors"
	"fmt"
)

// Ошибки допуска.
var (
	// ErrQuotaExceeded — дневная квота исчерпана. Ожидаемый исход,
	// показывается пользователю, retry не имеет смысла до нового окна.
	ErrQuotaExceeded = errors.New("daily quota exceeded")

	// ErrStoreUnavailable — хранилище квоты недоступно. Допуск
	// закрывается (fail closed): task не создан, квота не списана.
	// Запрос допуска можно повторить целиком.
	ErrStoreUnavailable = errors.New("quota store unavailable")
)

// QuotaExceededError — отказ в допуске с текущими значениями счётчика
// для показа пользователю.
type QuotaExceededError struct {
	Used  int
	Quota int
}

// Error реализует интерфейс error.
func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("daily quota exceeded: %d/%d used", e.Used, e.Quota)
}

// Unwrap позволяет errors.Is(err, ErrQuotaExceeded).
func (e *QuotaExceededError) Unwrap() error {
	return ErrQuotaExceeded
}
