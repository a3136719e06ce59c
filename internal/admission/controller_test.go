package admission

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/deloog/jexagent-backend/internal/domain"
	"github.com/deloog/jexagent-backend/internal/quota"
)

// fakeCreator — TaskCreator, который можно заставить падать.
type fakeCreator struct {
	mu      sync.Mutex
	created int
	fail    bool
}

func (f *fakeCreator) Create(_ context.Context, ownerID uuid.UUID, scene, input string, period domain.PeriodKey) (*domain.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return nil, errors.New("insert failed")
	}
	f.created++
	return &domain.Task{
		ID:           uuid.New(),
		OwnerID:      ownerID,
		Scene:        scene,
		Input:        input,
		Status:       domain.TaskStatusPending,
		QuotaCharged: true,
		PeriodKey:    period,
		CreatedAt:    time.Now(),
	}, nil
}

// failingStore — quota.Store, возвращающий транзиентную ошибку.
type failingStore struct{}

func (failingStore) TryConsume(context.Context, uuid.UUID, domain.PeriodKey) (quota.Grant, error) {
	return quota.Grant{}, quota.ErrUnavailable
}
func (failingStore) Release(context.Context, uuid.UUID, domain.PeriodKey) (int, error) {
	return 0, quota.ErrUnavailable
}
func (failingStore) CounterFor(context.Context, uuid.UUID, domain.PeriodKey) (*domain.QuotaCounter, error) {
	return nil, quota.ErrUnavailable
}

func TestController_Admit(t *testing.T) {
	store := quota.NewMemoryStore(3)
	creator := &fakeCreator{}
	ctrl := New(Config{Store: store, Creator: creator})
	ownerID := uuid.New()

	task, err := ctrl.Admit(context.Background(), ownerID, "analyze", "hello")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !task.QuotaCharged {
		t.Error("admitted task should hold a quota unit")
	}
	if task.Status != domain.TaskStatusPending {
		t.Errorf("status = %s, want PENDING", task.Status)
	}
}

func TestController_Admit_QuotaExceeded(t *testing.T) {
	store := quota.NewMemoryStore(1)
	creator := &fakeCreator{}
	ctrl := New(Config{Store: store, Creator: creator})
	ownerID := uuid.New()
	ctx := context.Background()

	if _, err := ctrl.Admit(ctx, ownerID, "analyze", ""); err != nil {
		t.Fatalf("first admit: %v", err)
	}

	_, err := ctrl.Admit(ctx, ownerID, "analyze", "")
	if !errors.Is(err, ErrQuotaExceeded) {
		t.Fatalf("error = %v, want ErrQuotaExceeded", err)
	}

	var qe *QuotaExceededError
	if !errors.As(err, &qe) {
		t.Fatal("error should carry used/quota for display")
	}
	if qe.Used != 1 || qe.Quota != 1 {
		t.Errorf("QuotaExceededError = %+v, want used=1 quota=1", qe)
	}
}

func TestController_Admit_Concurrent(t *testing.T) {
	const workers = 20
	const dailyQuota = 5

	store := quota.NewMemoryStore(dailyQuota)
	creator := &fakeCreator{}
	ctrl := New(Config{Store: store, Creator: creator})
	ownerID := uuid.New()

	var wg sync.WaitGroup
	results := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := ctrl.Admit(context.Background(), ownerID, "analyze", "")
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var granted, denied int
	for err := range results {
		switch {
		case err == nil:
			granted++
		case errors.Is(err, ErrQuotaExceeded):
			denied++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}

	if granted != dailyQuota {
		t.Errorf("granted = %d, want exactly %d", granted, dailyQuota)
	}
	if denied != workers-dailyQuota {
		t.Errorf("denied = %d, want %d", denied, workers-dailyQuota)
	}

	c, _ := store.CounterFor(context.Background(), ownerID, domain.CurrentPeriod(time.Now()))
	if c.DailyUsed != dailyQuota {
		t.Errorf("daily_used = %d, want %d", c.DailyUsed, dailyQuota)
	}
}

func TestController_Admit_CompensatesFailedCreation(t *testing.T) {
	store := quota.NewMemoryStore(5)
	creator := &fakeCreator{fail: true}
	ctrl := New(Config{Store: store, Creator: creator})
	ownerID := uuid.New()
	ctx := context.Background()
	period := domain.CurrentPeriod(time.Now())

	before, _ := store.CounterFor(ctx, ownerID, period)

	_, err := ctrl.Admit(ctx, ownerID, "analyze", "")
	if err == nil {
		t.Fatal("admit should fail when task creation fails")
	}
	if errors.Is(err, ErrQuotaExceeded) {
		t.Fatal("creation failure must not masquerade as quota denial")
	}

	// Net zero: списание компенсировано.
	after, _ := store.CounterFor(ctx, ownerID, period)
	if after.DailyUsed != before.DailyUsed {
		t.Errorf("daily_used = %d, want %d (net zero)", after.DailyUsed, before.DailyUsed)
	}
}

func TestController_Admit_StoreUnavailable(t *testing.T) {
	creator := &fakeCreator{}
	ctrl := New(Config{Store: failingStore{}, Creator: creator})

	_, err := ctrl.Admit(context.Background(), uuid.New(), "analyze", "")
	if !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("error = %v, want ErrStoreUnavailable", err)
	}
	if creator.created != 0 {
		t.Error("no task may be created when the store is unavailable (fail closed)")
	}
}

func TestController_ReleaseCharge_Once(t *testing.T) {
	store := quota.NewMemoryStore(5)
	creator := &fakeCreator{}
	ctrl := New(Config{Store: store, Creator: creator})
	ownerID := uuid.New()
	ctx := context.Background()
	period := domain.CurrentPeriod(time.Now())

	task, err := ctrl.Admit(ctx, ownerID, "analyze", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := ctrl.ReleaseCharge(ctx, task); err != nil {
		t.Fatalf("first release: %v", err)
	}
	if task.QuotaCharged {
		t.Error("quota_charged should be cleared after release")
	}

	c, _ := store.CounterFor(ctx, ownerID, period)
	if c.DailyUsed != 0 {
		t.Errorf("daily_used = %d, want 0", c.DailyUsed)
	}

	// Повторный release через публичный контракт — no-op.
	if err := ctrl.ReleaseCharge(ctx, task); err != nil {
		t.Fatalf("second release: %v", err)
	}
	c, _ = store.CounterFor(ctx, ownerID, period)
	if c.DailyUsed != 0 {
		t.Errorf("daily_used = %d after double release, want 0", c.DailyUsed)
	}
}

func TestController_Admit_DisabledEnforcement(t *testing.T) {
	store := quota.Disabled(quota.NewMemoryStore(1))
	creator := &fakeCreator{}
	ctrl := New(Config{Store: store, Creator: creator})
	ownerID := uuid.New()
	ctx := context.Background()

	for i := 0; i < 100; i++ {
		if _, err := ctrl.Admit(ctx, ownerID, "analyze", ""); err != nil {
			t.Fatalf("admit %d with enforcement disabled: %v", i, err)
		}
	}

	c, _ := store.CounterFor(ctx, ownerID, domain.CurrentPeriod(time.Now()))
	if c.DailyUsed != 0 {
		t.Errorf("daily_used = %d, want 0 untouched", c.DailyUsed)
	}
}
