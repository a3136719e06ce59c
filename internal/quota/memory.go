package quota

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/deloog/jexagent-backend/internal/domain"
)

// MemoryStore — in-memory реализация Store.
//
// Используется в тестах и локальной разработке без PostgreSQL.
// Семантика идентична SQL-реализации, включая перекат счётчика на
// новый PeriodKey. Каждый пользователь защищён собственным мьютексом —
// аналог row-level lock: счётчики разных пользователей не контендят.
type MemoryStore struct {
	mu           sync.RWMutex
	entries      map[uuid.UUID]*memoryEntry
	defaultDaily int
}

// memoryEntry — счётчик одного пользователя со своим локом.
type memoryEntry struct {
	mu      sync.Mutex
	counter domain.QuotaCounter
}

// NewMemoryStore создаёт MemoryStore с дневным лимитом defaultDaily.
func NewMemoryStore(defaultDaily int) *MemoryStore {
	return &MemoryStore{
		entries:      make(map[uuid.UUID]*memoryEntry),
		defaultDaily: defaultDaily,
	}
}

// entry возвращает (создавая при необходимости) запись пользователя.
func (s *MemoryStore) entry(userID uuid.UUID) *memoryEntry {
	s.mu.RLock()
	e, ok := s.entries[userID]
	s.mu.RUnlock()
	if ok {
		return e
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok = s.entries[userID]; ok {
		return e
	}
	e = &memoryEntry{counter: domain.QuotaCounter{
		UserID:     userID,
		DailyQuota: s.defaultDaily,
	}}
	s.entries[userID] = e
	return e
}

// rollLocked перекатывает счётчик на новое окно. Вызывается под e.mu.
func rollLocked(c *domain.QuotaCounter, period domain.PeriodKey) {
	if c.PeriodKey != period {
		c.PeriodKey = period
		c.DailyUsed = 0
	}
}

// TryConsume реализует Store.
func (s *MemoryStore) TryConsume(_ context.Context, userID uuid.UUID, period domain.PeriodKey) (Grant, error) {
	e := s.entry(userID)
	e.mu.Lock()
	defer e.mu.Unlock()

	rollLocked(&e.counter, period)
	if e.counter.Exhausted() {
		return Grant{Granted: false, Used: e.counter.DailyUsed, Quota: e.counter.DailyQuota}, nil
	}
	e.counter.DailyUsed++
	return Grant{Granted: true, Used: e.counter.DailyUsed, Quota: e.counter.DailyQuota}, nil
}

// Release реализует Store.
func (s *MemoryStore) Release(_ context.Context, userID uuid.UUID, period domain.PeriodKey) (int, error) {
	e := s.entry(userID)
	e.mu.Lock()
	defer e.mu.Unlock()

	rollLocked(&e.counter, period)
	if e.counter.DailyUsed > 0 {
		e.counter.DailyUsed--
	}
	return e.counter.DailyUsed, nil
}

// CounterFor реализует Store.
func (s *MemoryStore) CounterFor(_ context.Context, userID uuid.UUID, period domain.PeriodKey) (*domain.QuotaCounter, error) {
	e := s.entry(userID)
	e.mu.Lock()
	defer e.mu.Unlock()

	rollLocked(&e.counter, period)
	c := e.counter
	return &c, nil
}

// SetQuota задаёт индивидуальный лимит пользователя (для тестов).
func (s *MemoryStore) SetQuota(userID uuid.UUID, daily int) {
	e := s.entry(userID)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.counter.DailyQuota = daily
}
