package quota

import (
	"context"

	"github.com/google/uuid"
	"github.com/deloog/jexagent-backend/internal/domain"
)

// disabledStore — Store с выключенным принуждением квоты.
//
// TryConsume всегда разрешает и не мутирует состояние, Release — no-op.
// Это единственное место, где живёт ветка «квота выключена»: вызывающие
// стороны работают с обычным Store и о флаге не знают.
type disabledStore struct {
	inner Store
}

// Disabled оборачивает store так, что принуждение квоты отключено.
// inner используется только для чтения текущего состояния счётчика.
func Disabled(inner Store) Store {
	return &disabledStore{inner: inner}
}

// TryConsume всегда разрешает, не трогая счётчик.
func (s *disabledStore) TryConsume(ctx context.Context, userID uuid.UUID, period domain.PeriodKey) (Grant, error) {
	c, err := s.inner.CounterFor(ctx, userID, period)
	if err != nil {
		// Счётчик недоступен — допуск всё равно разрешён, квота выключена.
		return Grant{Granted: true}, nil
	}
	return Grant{Granted: true, Used: c.DailyUsed, Quota: c.DailyQuota}, nil
}

// Release — no-op при выключенной квоте.
func (s *disabledStore) Release(ctx context.Context, userID uuid.UUID, period domain.PeriodKey) (int, error) {
	c, err := s.inner.CounterFor(ctx, userID, period)
	if err != nil {
		return 0, nil
	}
	return c.DailyUsed, nil
}

// CounterFor делегирует чтение внутреннему store.
func (s *disabledStore) CounterFor(ctx context.Context, userID uuid.UUID, period domain.PeriodKey) (*domain.QuotaCounter, error) {
	return s.inner.CounterFor(ctx, userID, period)
}
