package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/deloog/jexagent-backend/internal/domain"
	"github.com/deloog/jexagent-backend/internal/progress"
	"github.com/deloog/jexagent-backend/internal/repo"
)

type fakeTasks struct {
	tasks map[uuid.UUID]*domain.Task
}

func (f *fakeTasks) GetByID(_ context.Context, id uuid.UUID) (*domain.Task, error) {
	task, ok := f.tasks[id]
	if !ok {
		return nil, repo.ErrNotFound
	}
	return task, nil
}

func newTestServer(t *testing.T, tasks *fakeTasks) (*httptest.Server, *progress.Broadcaster) {
	t.Helper()
	b := progress.NewBroadcaster(progress.NewMemoryLog(), slog.Default())
	h := NewHandler(b, tasks, []string{"*"}, slog.Default())
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return srv, b
}

func dial(t *testing.T, srv *httptest.Server, userID uuid.UUID) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	header := http.Header{"X-User-ID": []string{userID.String()}}
	conn, _, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readServerMessage(t *testing.T, conn *websocket.Conn) *ServerMessage {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var msg ServerMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		t.Fatalf("unmarshal %q: %v", data, err)
	}
	return &msg
}

func sendJoin(t *testing.T, conn *websocket.Conn, taskID uuid.UUID) {
	t.Helper()
	msg, _ := json.Marshal(ClientMessage{Type: ClientMsgJoin, TaskID: taskID})
	if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
		t.Fatalf("write join: %v", err)
	}
}

func TestHandlerRejectsAnonymous(t *testing.T) {
	srv, _ := newTestServer(t, &fakeTasks{tasks: map[uuid.UUID]*domain.Task{}})

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err == nil {
		t.Fatal("ожидалась ошибка рукопожатия без identity")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("статус = %v, ожидался 401", resp)
	}
}

func TestHandlerJoinAndLiveDelivery(t *testing.T) {
	taskID := uuid.New()
	owner := uuid.New()
	tasks := &fakeTasks{tasks: map[uuid.UUID]*domain.Task{
		taskID: {ID: taskID, OwnerID: owner, Status: domain.TaskStatusRunning},
	}}
	srv, b := newTestServer(t, tasks)

	conn := dial(t, srv, owner)
	sendJoin(t, conn, taskID)

	if msg := readServerMessage(t, conn); msg.Type != ServerMsgJoined {
		t.Fatalf("первое сообщение %q, ожидалось joined", msg.Type)
	}

	ev := &domain.ProgressEvent{
		TaskID:    taskID,
		Sequence:  1,
		Kind:      domain.EventProgress,
		Phase:     "render",
		Progress:  50,
		EmittedAt: time.Now().UTC(),
	}
	if err := b.Publish(context.Background(), ev); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	msg := readServerMessage(t, conn)
	if msg.Type != ServerMsgProgress {
		t.Fatalf("сообщение %q, ожидалось progress", msg.Type)
	}
	if msg.Event == nil || msg.Event.Sequence != 1 || msg.Event.Phase != "render" {
		t.Errorf("неожиданное событие: %+v", msg.Event)
	}
}

func TestHandlerReplaysHistoryOnJoin(t *testing.T) {
	taskID := uuid.New()
	owner := uuid.New()
	tasks := &fakeTasks{tasks: map[uuid.UUID]*domain.Task{
		taskID: {ID: taskID, OwnerID: owner, Status: domain.TaskStatusRunning},
	}}
	srv, b := newTestServer(t, tasks)

	ctx := context.Background()
	for seq := int64(1); seq <= 3; seq++ {
		ev := &domain.ProgressEvent{
			TaskID:    taskID,
			Sequence:  seq,
			Kind:      domain.EventProgress,
			EmittedAt: time.Now().UTC(),
		}
		if err := b.Publish(ctx, ev); err != nil {
			t.Fatalf("Publish(%d): %v", seq, err)
		}
	}

	conn := dial(t, srv, owner)
	sendJoin(t, conn, taskID)

	if msg := readServerMessage(t, conn); msg.Type != ServerMsgJoined {
		t.Fatalf("первое сообщение %q, ожидалось joined", msg.Type)
	}
	for seq := int64(1); seq <= 3; seq++ {
		msg := readServerMessage(t, conn)
		if msg.Type != ServerMsgProgress || msg.Event == nil || msg.Event.Sequence != seq {
			t.Fatalf("история: получено %+v, ожидался sequence %d", msg, seq)
		}
	}
}

func TestHandlerDeniesForeignTask(t *testing.T) {
	taskID := uuid.New()
	tasks := &fakeTasks{tasks: map[uuid.UUID]*domain.Task{
		taskID: {ID: taskID, OwnerID: uuid.New(), Status: domain.TaskStatusRunning},
	}}
	srv, _ := newTestServer(t, tasks)

	conn := dial(t, srv, uuid.New())
	sendJoin(t, conn, taskID)

	msg := readServerMessage(t, conn)
	if msg.Type != ServerMsgError {
		t.Fatalf("сообщение %q, ожидалась ошибка доступа", msg.Type)
	}
}

func TestHandlerUnknownTask(t *testing.T) {
	srv, _ := newTestServer(t, &fakeTasks{tasks: map[uuid.UUID]*domain.Task{}})

	conn := dial(t, srv, uuid.New())
	sendJoin(t, conn, uuid.New())

	msg := readServerMessage(t, conn)
	if msg.Type != ServerMsgError || msg.Error != "task not found" {
		t.Fatalf("получено %+v, ожидалась ошибка task not found", msg)
	}
}

func TestParseClientMessage(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantErr bool
	}{
		{"join", `{"type":"join","task_id":"` + uuid.New().String() + `"}`, false},
		{"leave", `{"type":"leave","task_id":"` + uuid.New().String() + `"}`, false},
		{"unknown type", `{"type":"subscribe","task_id":"` + uuid.New().String() + `"}`, true},
		{"missing task_id", `{"type":"join"}`, true},
		{"not json", `join please`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseClientMessage([]byte(tt.raw))
			if (err != nil) != tt.wantErr {
				t.Errorf("parseClientMessage(%q) error = %v, wantErr %v", tt.raw, err, tt.wantErr)
			}
		})
	}
}
