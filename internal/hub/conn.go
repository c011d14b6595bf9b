package hub

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/atende-io/atende/internal/session"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendQueueSize  = 64
)

// conn is one live websocket connection. Outbound traffic goes through
// a buffered send queue drained by a single writer goroutine; enqueue
// never blocks, so a stalled peer cannot hold up a broadcast.
type conn struct {
	hub *Hub
	ws  *websocket.Conn
	ctx context.Context

	send chan []byte
	done chan struct{}
	once sync.Once

	mu    sync.Mutex
	user  *session.User
	token string
}

func newConn(h *Hub, ws *websocket.Conn) *conn {
	return &conn{
		hub:  h,
		ws:   ws,
		send: make(chan []byte, sendQueueSize),
		done: make(chan struct{}),
	}
}

// identity returns the bound user, or nil before authentication.
func (c *conn) identity() *session.User {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.user
}

func (c *conn) bind(user *session.User, token string) {
	c.mu.Lock()
	c.user = user
	c.token = token
	c.mu.Unlock()
}

// enqueue hands a marshalled frame to the writer. Delivery is
// at-most-once: if the peer's queue is full the frame is dropped.
func (c *conn) enqueue(payload []byte) bool {
	select {
	case c.send <- payload:
		return true
	case <-c.done:
		return false
	default:
		return false
	}
}

// close tears the connection down once: unregisters it from the hub,
// stops the writer, and closes the socket.
func (c *conn) close() {
	c.once.Do(func() {
		close(c.done)
		c.hub.unregister(c)
		c.ws.Close()
	})
}

func (c *conn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case payload := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *conn) readPump() {
	defer c.close()

	c.ws.SetReadLimit(maxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, payload, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		c.hub.dispatch(c, payload)
	}
}
