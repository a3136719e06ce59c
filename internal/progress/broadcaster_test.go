package progress

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/deloog/jexagent-backend/internal/domain"
)

func newTestBroadcaster() *Broadcaster {
	return NewBroadcaster(NewMemoryLog(), slog.Default())
}

func event(taskID uuid.UUID, seq int64, kind domain.EventKind) *domain.ProgressEvent {
	return &domain.ProgressEvent{
		TaskID:    taskID,
		Sequence:  seq,
		Kind:      kind,
		Phase:     "render",
		Progress:  int(seq) * 10,
		EmittedAt: time.Now().UTC(),
	}
}

func collect(t *testing.T, sub *Subscriber, n int) []domain.ProgressEvent {
	t.Helper()
	var got []domain.ProgressEvent
	timeout := time.After(2 * time.Second)
	for len(got) < n {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				t.Fatalf("канал закрыт после %d событий, ожидалось %d", len(got), n)
			}
			got = append(got, ev)
		case <-timeout:
			t.Fatalf("получено %d событий из %d", len(got), n)
		}
	}
	return got
}

func TestBroadcasterDeliversInOrder(t *testing.T) {
	b := newTestBroadcaster()
	taskID := uuid.New()
	sub := b.Subscribe("conn-1", taskID)

	ctx := context.Background()
	for seq := int64(1); seq <= 3; seq++ {
		if err := b.Publish(ctx, event(taskID, seq, domain.EventProgress)); err != nil {
			t.Fatalf("Publish(%d): %v", seq, err)
		}
	}

	got := collect(t, sub, 3)
	for i, ev := range got {
		if ev.Sequence != int64(i+1) {
			t.Errorf("событие %d: sequence = %d, ожидалось %d", i, ev.Sequence, i+1)
		}
	}
}

func TestBroadcasterSubscribeDuringLastUnsubscribe(t *testing.T) {
	b := newTestBroadcaster()
	taskID := uuid.New()
	ctx := context.Background()

	// Вход нового подписчика гоняется с выходом последнего: комната
	// не должна удаляться с уже вставленным новым подписчиком.
	for i := 0; i < 500; i++ {
		b.Subscribe("conn-a", taskID)

		done := make(chan struct{})
		go func() {
			b.Unsubscribe("conn-a", taskID)
			close(done)
		}()
		sub := b.Subscribe("conn-b", taskID)
		<-done

		seq := int64(i + 1)
		if err := b.Publish(ctx, event(taskID, seq, domain.EventProgress)); err != nil {
			t.Fatalf("Publish(%d): %v", seq, err)
		}

		select {
		case got := <-sub.Events():
			if got.Sequence != seq {
				t.Fatalf("итерация %d: sequence = %d, ожидалось %d", i, got.Sequence, seq)
			}
		case <-time.After(time.Second):
			t.Fatalf("итерация %d: подписчик не получил событие", i)
		}

		b.Unsubscribe("conn-b", taskID)
	}
}

func TestBroadcasterDuplicateNotRedelivered(t *testing.T) {
	b := newTestBroadcaster()
	taskID := uuid.New()
	sub := b.Subscribe("conn-1", taskID)

	ctx := context.Background()
	if err := b.Publish(ctx, event(taskID, 1, domain.EventProgress)); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	// Повторная доставка того же события из очереди.
	if err := b.Publish(ctx, event(taskID, 1, domain.EventProgress)); err != nil {
		t.Fatalf("Publish повтора: %v", err)
	}
	if err := b.Publish(ctx, event(taskID, 2, domain.EventProgress)); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	got := collect(t, sub, 2)
	if got[0].Sequence != 1 || got[1].Sequence != 2 {
		t.Errorf("получены sequence %d, %d, ожидалось 1, 2", got[0].Sequence, got[1].Sequence)
	}

	events, err := b.Replay(ctx, taskID)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if len(events) != 2 {
		t.Errorf("в журнале %d событий, ожидалось 2", len(events))
	}
}

func TestBroadcasterPersistsWithoutSubscribers(t *testing.T) {
	b := newTestBroadcaster()
	taskID := uuid.New()
	ctx := context.Background()

	if err := b.Publish(ctx, event(taskID, 1, domain.EventStarted)); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	for seq := int64(2); seq <= 5; seq++ {
		if err := b.Publish(ctx, event(taskID, seq, domain.EventProgress)); err != nil {
			t.Fatalf("Publish(%d): %v", seq, err)
		}
	}

	task := &domain.Task{ID: taskID, Status: domain.TaskStatusSucceeded}
	b.TaskFinished(ctx, task, domain.EventCompleted, "done")

	events, err := b.Replay(ctx, taskID)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if len(events) != 6 {
		t.Fatalf("в журнале %d событий, ожидалось 6", len(events))
	}
	for i, ev := range events {
		if ev.Sequence != int64(i+1) {
			t.Errorf("событие %d: sequence = %d, ожидалось %d", i, ev.Sequence, i+1)
		}
	}
	final := events[5]
	if final.Kind != domain.EventCompleted {
		t.Errorf("финальное событие kind = %s, ожидалось %s", final.Kind, domain.EventCompleted)
	}
	if final.Progress != 100 {
		t.Errorf("финальное событие progress = %d, ожидалось 100", final.Progress)
	}
}

func TestBroadcasterSlowSubscriberDoesNotBlock(t *testing.T) {
	b := newTestBroadcaster()
	taskID := uuid.New()
	b.Subscribe("slow", taskID)

	ctx := context.Background()
	done := make(chan struct{})
	go func() {
		defer close(done)
		for seq := int64(1); seq <= subscriberBuffer+50; seq++ {
			if err := b.Publish(ctx, event(taskID, seq, domain.EventProgress)); err != nil {
				t.Errorf("Publish(%d): %v", seq, err)
				return
			}
		}
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Publish заблокировался на медленном подписчике")
	}

	events, err := b.Replay(ctx, taskID)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if len(events) != subscriberBuffer+50 {
		t.Errorf("в журнале %d событий, ожидалось %d", len(events), subscriberBuffer+50)
	}
}

func TestBroadcasterUnsubscribeClosesChannel(t *testing.T) {
	b := newTestBroadcaster()
	taskID := uuid.New()
	sub := b.Subscribe("conn-1", taskID)
	b.Unsubscribe("conn-1", taskID)

	select {
	case _, ok := <-sub.Events():
		if ok {
			t.Error("после Unsubscribe канал вернул событие")
		}
	case <-time.After(time.Second):
		t.Error("канал не закрыт после Unsubscribe")
	}

	// Публикация в пустую комнату не паникует.
	if err := b.Publish(context.Background(), event(taskID, 1, domain.EventProgress)); err != nil {
		t.Fatalf("Publish: %v", err)
	}
}

func TestBroadcasterIndependentRooms(t *testing.T) {
	b := newTestBroadcaster()
	taskA := uuid.New()
	taskB := uuid.New()
	subA := b.Subscribe("conn-a", taskA)
	subB := b.Subscribe("conn-b", taskB)

	ctx := context.Background()
	if err := b.Publish(ctx, event(taskA, 1, domain.EventProgress)); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	got := collect(t, subA, 1)
	if got[0].TaskID != taskA {
		t.Errorf("подписчик A получил событие task'а %s", got[0].TaskID)
	}
	select {
	case ev := <-subB.Events():
		t.Errorf("подписчик B получил чужое событие sequence=%d", ev.Sequence)
	case <-time.After(50 * time.Millisecond):
	}
}
