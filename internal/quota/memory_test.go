package quota

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/deloog/jexagent-backend/internal/domain"
)

func TestMemoryStore_TryConsume(t *testing.T) {
	store := NewMemoryStore(2)
	userID := uuid.New()
	period := domain.CurrentPeriod(time.Now())
	ctx := context.Background()

	g, err := store.TryConsume(ctx, userID, period)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !g.Granted || g.Used != 1 || g.Quota != 2 {
		t.Errorf("first consume = %+v, want granted used=1 quota=2", g)
	}

	g, _ = store.TryConsume(ctx, userID, period)
	if !g.Granted || g.Used != 2 {
		t.Errorf("second consume = %+v, want granted used=2", g)
	}

	// Лимит исчерпан: отказ без мутации.
	g, _ = store.TryConsume(ctx, userID, period)
	if g.Granted {
		t.Error("third consume should be denied")
	}
	if g.Used != 2 || g.Quota != 2 {
		t.Errorf("denied grant = %+v, want used=2 quota=2", g)
	}

	c, _ := store.CounterFor(ctx, userID, period)
	if c.DailyUsed != 2 {
		t.Errorf("daily_used = %d, want 2 (denial must not mutate)", c.DailyUsed)
	}
}

func TestMemoryStore_ConcurrentConsume(t *testing.T) {
	const workers = 50
	const dailyQuota = 7

	store := NewMemoryStore(dailyQuota)
	userID := uuid.New()
	period := domain.CurrentPeriod(time.Now())
	ctx := context.Background()

	var wg sync.WaitGroup
	granted := make(chan bool, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			g, err := store.TryConsume(ctx, userID, period)
			if err != nil {
				t.Errorf("unexpected error: %v", err)
				return
			}
			granted <- g.Granted
		}()
	}
	wg.Wait()
	close(granted)

	var grants int
	for ok := range granted {
		if ok {
			grants++
		}
	}

	// Ровно min(N, Q) допусков при любом интерливинге.
	if grants != dailyQuota {
		t.Errorf("granted = %d, want exactly %d", grants, dailyQuota)
	}

	c, _ := store.CounterFor(ctx, userID, period)
	if c.DailyUsed != dailyQuota {
		t.Errorf("daily_used = %d, want %d", c.DailyUsed, dailyQuota)
	}
}

func TestMemoryStore_Release(t *testing.T) {
	store := NewMemoryStore(5)
	userID := uuid.New()
	period := domain.CurrentPeriod(time.Now())
	ctx := context.Background()

	store.TryConsume(ctx, userID, period)
	store.TryConsume(ctx, userID, period)

	used, err := store.Release(ctx, userID, period)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if used != 1 {
		t.Errorf("used after release = %d, want 1", used)
	}

	// Пол на нуле: release пустого счётчика не уводит в минус.
	store.Release(ctx, userID, period)
	used, _ = store.Release(ctx, userID, period)
	if used != 0 {
		t.Errorf("used after over-release = %d, want 0", used)
	}
}

func TestMemoryStore_PeriodRoll(t *testing.T) {
	store := NewMemoryStore(1)
	userID := uuid.New()
	ctx := context.Background()

	day1 := domain.PeriodKey("2025-03-01")
	day2 := domain.PeriodKey("2025-03-02")

	g, _ := store.TryConsume(ctx, userID, day1)
	if !g.Granted {
		t.Fatal("day1 consume should be granted")
	}
	g, _ = store.TryConsume(ctx, userID, day1)
	if g.Granted {
		t.Fatal("day1 second consume should be denied")
	}

	// Новое окно: счётчик перекатывается, лимит доступен снова.
	g, _ = store.TryConsume(ctx, userID, day2)
	if !g.Granted || g.Used != 1 {
		t.Errorf("day2 consume = %+v, want granted used=1", g)
	}
}

func TestMemoryStore_IndependentUsers(t *testing.T) {
	store := NewMemoryStore(1)
	period := domain.CurrentPeriod(time.Now())
	ctx := context.Background()

	alice := uuid.New()
	bob := uuid.New()

	g, _ := store.TryConsume(ctx, alice, period)
	if !g.Granted {
		t.Fatal("alice should be granted")
	}
	g, _ = store.TryConsume(ctx, bob, period)
	if !g.Granted {
		t.Error("bob's counter is independent, should be granted")
	}
}

func TestDisabledStore(t *testing.T) {
	store := Disabled(NewMemoryStore(3))
	userID := uuid.New()
	period := domain.CurrentPeriod(time.Now())
	ctx := context.Background()

	for i := 0; i < 1000; i++ {
		g, err := store.TryConsume(ctx, userID, period)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !g.Granted {
			t.Fatalf("consume %d should be granted with enforcement disabled", i)
		}
	}

	c, err := store.CounterFor(ctx, userID, period)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.DailyUsed != 0 {
		t.Errorf("daily_used = %d, want 0 (disabled store must not mutate)", c.DailyUsed)
	}

	// Release — no-op.
	if used, _ := store.Release(ctx, userID, period); used != 0 {
		t.Errorf("release returned %d, want 0", used)
	}
}
