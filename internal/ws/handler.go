package ws

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/deloog/jexagent-backend/internal/domain"
	"github.com/deloog/jexagent-backend/internal/progress"
	"github.com/deloog/jexagent-backend/internal/repo"
	"github.com/deloog/jexagent-backend/internal/telemetry"
)

// TaskGetter отдаёт task для проверки существования и владельца.
type TaskGetter interface {
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Task, error)
}

// Handler обслуживает websocket соединения шлюза.
//
// Клиент после рукопожатия шлёт join с task_id, получает joined,
// затем полную историю событий из журнала и дальше живой поток.
// Дедупликация по sequence закрывает стык истории и живых событий.
type Handler struct {
	upgrader    websocket.Upgrader
	broadcaster *progress.Broadcaster
	tasks       TaskGetter
	logger      *slog.Logger
}

// NewHandler создаёт Handler. allowedOrigins — список разрешённых
// Origin, "*" разрешает все.
func NewHandler(broadcaster *progress.Broadcaster, tasks TaskGetter, allowedOrigins []string, logger *slog.Logger) *Handler {
	allowAll := false
	allowed := make(map[string]struct{}, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		if origin == "*" {
			allowAll = true
		}
		allowed[origin] = struct{}{}
	}

	return &Handler{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				if allowAll {
					return true
				}
				origin := r.Header.Get("Origin")
				if origin == "" {
					// Не-браузерные клиенты Origin не шлют.
					return true
				}
				_, ok := allowed[origin]
				return ok
			},
		},
		broadcaster: broadcaster,
		tasks:       tasks,
		logger:      logger,
	}
}

// session — состояние одного соединения: активные подписки на task'и.
type session struct {
	conn *Conn

	mu    sync.Mutex
	stops map[uuid.UUID]chan struct{}
}

// ServeHTTP — точка входа websocket рукопожатия.
// Идентификация как в REST API: заголовок X-User-ID, для браузерных
// клиентов допустим query параметр user_id.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rawUserID := r.Header.Get("X-User-ID")
	if rawUserID == "" {
		rawUserID = r.URL.Query().Get("user_id")
	}
	userID, err := uuid.Parse(rawUserID)
	if err != nil {
		http.Error(w, "missing user identity", http.StatusUnauthorized)
		return
	}

	socket, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	conn := newConn(uuid.New().String(), userID, socket)
	logger := h.logger.With(
		slog.String("conn_id", conn.ID),
		slog.String("user_id", userID.String()),
	)
	logger.Info("websocket connected")

	telemetry.WSConnections.Inc()
	defer telemetry.WSConnections.Dec()

	sess := &session{
		conn:  conn,
		stops: make(map[uuid.UUID]chan struct{}),
	}

	go conn.writePump()
	h.readPump(r.Context(), sess, logger)

	conn.close()
	sess.leaveAll(h.broadcaster)
	logger.Info("websocket disconnected")
}

// readPump читает клиентские сообщения до разрыва соединения.
func (h *Handler) readPump(ctx context.Context, sess *session, logger *slog.Logger) {
	conn := sess.conn
	conn.ws.SetReadLimit(maxMessageSize)
	conn.ws.SetReadDeadline(time.Now().Add(pongWait))
	conn.ws.SetPongHandler(func(string) error {
		conn.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := conn.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warn("unexpected close", "error", err)
			}
			return
		}

		if !conn.limiter.Allow() {
			conn.Send(errorMessage(uuid.Nil, "rate limit exceeded"))
			continue
		}

		msg, err := parseClientMessage(data)
		if err != nil {
			conn.Send(errorMessage(uuid.Nil, err.Error()))
			continue
		}

		switch msg.Type {
		case ClientMsgJoin:
			h.join(ctx, sess, msg.TaskID, logger)
		case ClientMsgLeave:
			sess.leave(h.broadcaster, msg.TaskID)
		}
	}
}

// join подписывает соединение на события task'а.
// Сначала подписка, потом replay истории: события, пришедшие во время
// replay, буферизуются в подписке, стык закрывает фильтр по sequence.
func (h *Handler) join(ctx context.Context, sess *session, taskID uuid.UUID, logger *slog.Logger) {
	conn := sess.conn

	task, err := h.tasks.GetByID(ctx, taskID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			conn.Send(errorMessage(taskID, "task not found"))
			return
		}
		logger.Error("task lookup failed", "task_id", taskID, "error", err)
		conn.Send(errorMessage(taskID, "internal error"))
		return
	}
	if task.OwnerID != conn.UserID {
		conn.Send(errorMessage(taskID, "access denied"))
		return
	}

	sess.mu.Lock()
	if _, joined := sess.stops[taskID]; joined {
		sess.mu.Unlock()
		conn.Send(errorMessage(taskID, "already joined"))
		return
	}
	stop := make(chan struct{})
	sess.stops[taskID] = stop
	sess.mu.Unlock()

	sub := h.broadcaster.Subscribe(conn.ID, taskID)
	conn.Send(joinedMessage(taskID))

	history, err := h.broadcaster.Replay(ctx, taskID)
	if err != nil {
		logger.Error("replay failed", "task_id", taskID, "error", err)
	}

	go h.forward(sub, conn, stop, history, logger)

	logger.Info("joined task room", "task_id", taskID)
}

// forward отправляет соединению историю, затем живые события.
func (h *Handler) forward(sub *progress.Subscriber, conn *Conn, stop <-chan struct{}, history []domain.ProgressEvent, logger *slog.Logger) {
	var lastSeq int64
	for i := range history {
		ev := history[i]
		if !conn.Send(progressMessage(&ev)) {
			telemetry.EventsDropped.Inc()
		}
		lastSeq = ev.Sequence
	}

	for {
		select {
		case <-conn.Done():
			return

		case <-stop:
			conn.Send(leftMessage(sub.TaskID))
			return

		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			if ev.Sequence <= lastSeq {
				continue
			}
			lastSeq = ev.Sequence
			if !conn.Send(progressMessage(&ev)) {
				telemetry.EventsDropped.Inc()
				logger.Warn("send buffer full, event dropped",
					"task_id", ev.TaskID,
					"sequence", ev.Sequence,
				)
			}
		}
	}
}

// leave отписывает соединение от task'а.
func (s *session) leave(b *progress.Broadcaster, taskID uuid.UUID) {
	s.mu.Lock()
	stop, ok := s.stops[taskID]
	if ok {
		delete(s.stops, taskID)
	}
	s.mu.Unlock()

	if !ok {
		return
	}
	close(stop)
	b.Unsubscribe(s.conn.ID, taskID)
}

// leaveAll отписывает соединение от всех комнат при разрыве.
func (s *session) leaveAll(b *progress.Broadcaster) {
	s.mu.Lock()
	stops := s.stops
	s.stops = make(map[uuid.UUID]chan struct{})
	s.mu.Unlock()

	for taskID, stop := range stops {
		close(stop)
		b.Unsubscribe(s.conn.ID, taskID)
	}
}
