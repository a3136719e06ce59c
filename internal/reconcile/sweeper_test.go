package reconcile

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/deloog/jexagent-backend/internal/domain"
)

// fakeCounters — in-memory CounterStore для тестов.
type fakeCounters struct {
	mu          sync.Mutex
	overcounted []domain.QuotaCounter
	repaired    []uuid.UUID

	failRepairFor uuid.UUID
	listErr       error
}

func (f *fakeCounters) ListOvercounted(_ context.Context, _ domain.PeriodKey) ([]domain.QuotaCounter, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.overcounted, nil
}

func (f *fakeCounters) RepairCounter(_ context.Context, userID uuid.UUID, _ domain.PeriodKey) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if userID == f.failRepairFor {
		return false, errors.New("deadlock detected")
	}
	f.repaired = append(f.repaired, userID)
	return true, nil
}

// fakeTasks — in-memory TaskStore для тестов.
type fakeTasks struct {
	stale   []domain.Task
	listErr error

	gotOlderThan time.Time
}

func (f *fakeTasks) ListStalePending(_ context.Context, olderThan time.Time, _ int) ([]domain.Task, error) {
	f.gotOlderThan = olderThan
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.stale, nil
}

// fakePublisher собирает повторно опубликованные tasks.
type fakePublisher struct {
	published []uuid.UUID
	failFor   uuid.UUID
}

func (f *fakePublisher) PublishTaskAdmitted(_ context.Context, task *domain.Task) error {
	if task.ID == f.failFor {
		return errors.New("channel closed")
	}
	f.published = append(f.published, task.ID)
	return nil
}

var sweeperNow = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

func newSweeper(counters *fakeCounters) *Sweeper {
	return New(Config{
		Counters: counters,
		Logger:   slog.Default(),
		Now:      func() time.Time { return sweeperNow },
	})
}

func newRepublishSweeper(tasks *fakeTasks, publisher *fakePublisher) *Sweeper {
	return New(Config{
		Counters:  &fakeCounters{},
		Tasks:     tasks,
		Publisher: publisher,
		Logger:    slog.Default(),
		Now:       func() time.Time { return sweeperNow },
	})
}

func stalePending(age time.Duration) domain.Task {
	return domain.Task{
		ID:           uuid.New(),
		OwnerID:      uuid.New(),
		Scene:        "render",
		Status:       domain.TaskStatusPending,
		QuotaCharged: true,
		CreatedAt:    sweeperNow.Add(-age),
	}
}

func TestSweeperRepairsOvercounted(t *testing.T) {
	userA := uuid.New()
	userB := uuid.New()
	counters := &fakeCounters{
		overcounted: []domain.QuotaCounter{
			{UserID: userA, DailyUsed: 5, DailyQuota: 10},
			{UserID: userB, DailyUsed: 2, DailyQuota: 10},
		},
	}

	if err := newSweeper(counters).Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}

	if len(counters.repaired) != 2 {
		t.Errorf("исправлено %d счётчиков, ожидалось 2", len(counters.repaired))
	}
}

func TestSweeperNothingToRepair(t *testing.T) {
	counters := &fakeCounters{}

	if err := newSweeper(counters).Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if len(counters.repaired) != 0 {
		t.Errorf("исправления без расхождений: %v", counters.repaired)
	}
}

func TestSweeperContinuesAfterRepairFailure(t *testing.T) {
	userA := uuid.New()
	userB := uuid.New()
	counters := &fakeCounters{
		overcounted: []domain.QuotaCounter{
			{UserID: userA, DailyUsed: 5, DailyQuota: 10},
			{UserID: userB, DailyUsed: 3, DailyQuota: 10},
		},
		failRepairFor: userA,
	}

	if err := newSweeper(counters).Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}

	if len(counters.repaired) != 1 || counters.repaired[0] != userB {
		t.Errorf("repaired = %v, ожидался только второй счётчик", counters.repaired)
	}
}

func TestSweeperListFailure(t *testing.T) {
	counters := &fakeCounters{listErr: errors.New("connection refused")}

	if err := newSweeper(counters).Tick(context.Background()); err == nil {
		t.Error("ожидалась ошибка при недоступном хранилище")
	}
}

func TestSweeperRepublishesStalePending(t *testing.T) {
	a := stalePending(10 * time.Minute)
	b := stalePending(20 * time.Minute)
	tasks := &fakeTasks{stale: []domain.Task{a, b}}
	publisher := &fakePublisher{}

	if err := newRepublishSweeper(tasks, publisher).Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}

	if len(publisher.published) != 2 {
		t.Fatalf("опубликовано %d tasks, ожидалось 2", len(publisher.published))
	}
	if want := sweeperNow.Add(-stalePendingAge); !tasks.gotOlderThan.Equal(want) {
		t.Errorf("порог давности = %v, ожидалось %v", tasks.gotOlderThan, want)
	}
}

func TestSweeperRepublishContinuesAfterFailure(t *testing.T) {
	a := stalePending(10 * time.Minute)
	b := stalePending(20 * time.Minute)
	tasks := &fakeTasks{stale: []domain.Task{a, b}}
	publisher := &fakePublisher{failFor: a.ID}

	if err := newRepublishSweeper(tasks, publisher).Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}

	if len(publisher.published) != 1 || publisher.published[0] != b.ID {
		t.Errorf("published = %v, ожидался только второй task", publisher.published)
	}
}

func TestSweeperRepublishDisabledWithoutPublisher(t *testing.T) {
	tasks := &fakeTasks{stale: []domain.Task{stalePending(10 * time.Minute)}}

	sw := New(Config{
		Counters: &fakeCounters{},
		Tasks:    tasks,
		Logger:   slog.Default(),
		Now:      func() time.Time { return sweeperNow },
	})
	if err := sw.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if !tasks.gotOlderThan.IsZero() {
		t.Error("проход повторной публикации выполнен без publisher'а")
	}
}

func TestSweeperRepublishListFailure(t *testing.T) {
	tasks := &fakeTasks{listErr: errors.New("connection refused")}

	if err := newRepublishSweeper(tasks, &fakePublisher{}).Tick(context.Background()); err == nil {
		t.Error("ожидалась ошибка при недоступном хранилище")
	}
}
