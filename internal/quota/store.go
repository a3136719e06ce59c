package quota

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/deloog/jexagent-backend/internal/domain"
)

// Ошибки хранилища квоты.
var (
	// ErrUnavailable — хранилище недоступно (транзиентная ошибка).
	// Отказ в допуске и недоступность хранилища различимы всегда:
	// недоступность никогда не трактуется ни как grant, ни как denial.
	ErrUnavailable = errors.New("quota store unavailable")
)

// Grant — результат попытки списания единицы квоты.
//
// Отказ (Granted=false) — ожидаемый исход, а не ошибка: счётчик при
// этом не мутируется, Used/Quota возвращаются для показа пользователю.
type Grant struct {
	// Granted — удалось ли списать единицу.
	Granted bool

	// Used — значение daily_used после операции
	// (при отказе — текущее значение без изменений).
	Used int

	// Quota — дневной лимит пользователя.
	Quota int
}

// Store — атомарный дневной счётчик допусков на пользователя.
//
// Единственная точка сериализации — пара (userID, periodKey): TryConsume
// и Release для одного пользователя взаимно исключены (row-level lock в
// PostgreSQL, per-key мьютекс в памяти). Счётчики разных пользователей
// не контендят.
type Store interface {
	// TryConsume атомарно проверяет лимит и инкрементирует счётчик.
	// Проверка и инкремент — одна операция: окно check-then-update
	// между двумя конкурентными запросами исключено, а не детектируется.
	TryConsume(ctx context.Context, userID uuid.UUID, period domain.PeriodKey) (Grant, error)

	// Release безусловно декрементирует счётчик (не ниже нуля).
	// Используется для компенсации, когда допущенный task так и не был
	// создан. Сам по себе не идемпотентен: не больше одного Release на
	// успешный TryConsume обеспечивает вызывающий через Task.QuotaCharged.
	Release(ctx context.Context, userID uuid.UUID, period domain.PeriodKey) (int, error)

	// CounterFor возвращает текущее состояние счётчика пользователя.
	CounterFor(ctx context.Context, userID uuid.UUID, period domain.PeriodKey) (*domain.QuotaCounter, error)
}
