package domain

import (
	"time"

	"github.com/google/uuid"
)

// PeriodKey — идентификатор окна сброса квоты: дата в UTC в формате YYYY-MM-DD.
//
// Счётчик не удаляется на границе суток, а «перекатывается» на новый
// PeriodKey при первом обращении в новом окне.
type PeriodKey string

// CurrentPeriod возвращает PeriodKey для момента t.
func CurrentPeriod(t time.Time) PeriodKey {
	return PeriodKey(t.UTC().Format("2006-01-02"))
}

// QuotaCounter — дневной счётчик допусков одного пользователя.
//
// Инвариант: 0 <= DailyUsed <= DailyQuota в состоянии покоя.
// Мутируется только атомарными increment/decrement операциями QuotaStore.
type QuotaCounter struct {
	// UserID — владелец счётчика.
	UserID uuid.UUID `json:"user_id"`

	// PeriodKey — окно, к которому относится счётчик.
	PeriodKey PeriodKey `json:"period_key"`

	// DailyUsed — сколько допусков израсходовано в текущем окне.
	DailyUsed int `json:"daily_used"`

	// DailyQuota — лимит допусков на окно.
	DailyQuota int `json:"daily_quota"`
}

// Remaining возвращает остаток квоты (не меньше нуля).
func (c *QuotaCounter) Remaining() int {
	if c.DailyUsed >= c.DailyQuota {
		return 0
	}
	return c.DailyQuota - c.DailyUsed
}

// Exhausted возвращает true, если квота исчерпана.
func (c *QuotaCounter) Exhausted() bool {
	return c.DailyUsed >= c.DailyQuota
}
