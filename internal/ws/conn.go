package ws

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

const (
	// writeWait — дедлайн на запись одного сообщения.
	writeWait = 10 * time.Second

	// pongWait — максимум тишины от клиента до разрыва.
	pongWait = 60 * time.Second

	// pingPeriod — интервал ping'ов, меньше pongWait.
	pingPeriod = (pongWait * 9) / 10

	// maxMessageSize — лимит входящего сообщения.
	maxMessageSize = 4096

	// sendBuffer — ёмкость исходящей очереди соединения.
	sendBuffer = 256

	// messagesPerMinute — лимит входящих сообщений клиента.
	messagesPerMinute = 120
)

// Conn — одно websocket соединение клиента.
//
// Запись идёт только через канал send из writePump: gorilla/websocket
// допускает одного писателя на соединение.
type Conn struct {
	ID     string
	UserID uuid.UUID

	ws      *websocket.Conn
	send    chan []byte
	limiter *rate.Limiter

	closeOnce sync.Once
	done      chan struct{}
}

func newConn(id string, userID uuid.UUID, ws *websocket.Conn) *Conn {
	return &Conn{
		ID:      id,
		UserID:  userID,
		ws:      ws,
		send:    make(chan []byte, sendBuffer),
		limiter: rate.NewLimiter(rate.Limit(float64(messagesPerMinute)/60.0), messagesPerMinute),
		done:    make(chan struct{}),
	}
}

// Send ставит сообщение в исходящую очередь.
// Возвращает false, если очередь переполнена или соединение закрыто.
func (c *Conn) Send(msg []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

// Done возвращает канал, закрываемый при завершении соединения.
func (c *Conn) Done() <-chan struct{} {
	return c.done
}

// close помечает соединение завершённым и закрывает сокет.
func (c *Conn) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.ws.Close()
	})
}

// writePump пишет сообщения из очереди и шлёт ping'и.
// Единственный писатель в сокет.
func (c *Conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case <-c.done:
			return

		case msg := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}

		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
