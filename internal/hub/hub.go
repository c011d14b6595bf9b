// Package hub owns the real-time channel: websocket connections, the
// authentication window, command dispatch, and watcher fan-out.
package hub

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"runtime/debug"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/atende-io/atende/internal/session"
	"github.com/atende-io/atende/internal/ticket"
	"github.com/atende-io/atende/pkg/protocol"
)

const defaultAuthWindow = 5 * time.Second

// Sessions resolves bearer tokens to verified users.
type Sessions interface {
	Resolve(token string) (*session.User, error)
}

// BotController drives the bot operations reachable over the channel.
type BotController interface {
	StartInitialInteraction(ctx context.Context, cs *ticket.Case) error
	ContinueInteraction(ctx context.Context, cs *ticket.Case) error
	TransferToAgent(cs *ticket.Case) error
}

// Hub upgrades websocket connections, gates them through the session
// store, dispatches client commands, and pushes case-updated events to
// watchers. It satisfies ticket.Notifier.
type Hub struct {
	sessions   Sessions
	cases      *ticket.Directory
	bot        BotController
	authWindow time.Duration
	upgrader   websocket.Upgrader
	logger     *slog.Logger

	mu      sync.RWMutex
	byUser  map[int64]*conn
	byToken map[string]*conn
}

// Option configures a Hub.
type Option func(*Hub)

// WithAuthWindow overrides how long a fresh connection may stay
// unauthenticated before being terminated.
func WithAuthWindow(d time.Duration) Option {
	return func(h *Hub) { h.authWindow = d }
}

// New creates a hub over the given session gate, case directory, and
// bot controller.
func New(sessions Sessions, cases *ticket.Directory, bot BotController, logger *slog.Logger, opts ...Option) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Hub{
		sessions:   sessions,
		cases:      cases,
		bot:        bot,
		authWindow: defaultAuthWindow,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		logger:  logger,
		byUser:  make(map[int64]*conn),
		byToken: make(map[string]*conn),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// ServeHTTP upgrades the request and runs the connection's read loop
// until the peer disconnects. The connection must authenticate within
// the auth window or it is closed.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	c := newConn(h, ws)
	c.ctx = r.Context()
	h.logger.Info("connection established", "remote", r.RemoteAddr)

	authTimer := time.AfterFunc(h.authWindow, func() {
		if c.identity() == nil {
			h.logger.Warn("authentication window expired", "remote", r.RemoteAddr)
			c.close()
		}
	})
	defer authTimer.Stop()

	go c.writePump()
	c.readPump()
	h.logger.Info("connection closed", "remote", r.RemoteAddr)
}

// Broadcast delivers a case event to every currently-connected watcher.
// It never blocks: disconnected watchers are skipped and full send
// queues drop the frame. Called with the case lock held, which is what
// guarantees per-watcher event ordering.
func (h *Hub) Broadcast(watchers []int64, ev protocol.CaseEvent) {
	payload, err := json.Marshal(ev)
	if err != nil {
		h.logger.Error("event marshal failed", "case", ev.CaseID, "error", err)
		return
	}
	frame, err := json.Marshal(protocol.Frame{
		Command: protocol.CommandCaseUpdated,
		Payload: payload,
	})
	if err != nil {
		return
	}

	h.mu.RLock()
	conns := make([]*conn, 0, len(watchers))
	for _, id := range watchers {
		if c, ok := h.byUser[id]; ok {
			conns = append(conns, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range conns {
		if !c.enqueue(frame) {
			h.logger.Warn("event dropped, send queue full", "case", ev.CaseID, "kind", ev.Kind)
		}
	}
}

// dispatch parses one inbound frame and runs its handler on its own
// goroutine, so a slow operation (a bot turn can take seconds) never
// stalls the connection's read loop.
func (h *Hub) dispatch(c *conn, payload []byte) {
	var frame protocol.Frame
	if err := json.Unmarshal(payload, &frame); err != nil {
		h.reply(c, 0, nil, protocol.Reject(protocol.CodeInvalidInput, "malformed frame"))
		return
	}
	go h.handle(c, frame)
}

func (h *Hub) handle(c *conn, frame protocol.Frame) {
	// A fault inside a handler downgrades to a rejection instead of
	// taking the connection down.
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("command handler panicked",
				"command", frame.Command, "panic", r, "stack", string(debug.Stack()))
			h.reply(c, frame.ID, nil, protocol.Reject(protocol.CodeInternal, "internal error"))
		}
	}()

	var (
		data any
		err  error
	)
	switch frame.Command {
	case protocol.CommandAuthenticate:
		data, err = h.handleAuthenticate(c, frame.Payload)
	case protocol.CommandConnectChat:
		data, err = h.handleConnectChat(c, frame.Payload)
	case protocol.CommandSendMessage:
		data, err = h.handleSendMessage(c, frame.Payload)
	case protocol.CommandInteract:
		data, err = h.handleInteract(c, frame.Payload)
	default:
		err = protocol.Rejectf(protocol.CodeInvalidInput, "unknown command %q", frame.Command)
	}
	h.reply(c, frame.ID, data, err)
}

func (h *Hub) reply(c *conn, id uint64, data any, err error) {
	resp := protocol.Response{ID: id, OK: err == nil}
	if err != nil {
		resp.Error = protocol.AsRejection(err)
	} else if data != nil {
		raw, merr := json.Marshal(data)
		if merr != nil {
			h.logger.Error("response marshal failed", "error", merr)
			resp = protocol.Response{ID: id, OK: false, Error: protocol.Reject(protocol.CodeInternal, "internal error")}
		} else {
			resp.Data = raw
		}
	}
	payload, merr := json.Marshal(resp)
	if merr != nil {
		return
	}
	c.enqueue(payload)
}

// register binds an authenticated connection, superseding any live
// connection already bound to the same token or user.
func (h *Hub) register(c *conn, u *session.User, token string) {
	var stale []*conn
	h.mu.Lock()
	if prev, ok := h.byToken[token]; ok && prev != c {
		stale = append(stale, prev)
	}
	if prev, ok := h.byUser[u.ID]; ok && prev != c {
		stale = append(stale, prev)
	}
	h.byToken[token] = c
	h.byUser[u.ID] = c
	h.mu.Unlock()

	c.bind(u, token)
	for _, s := range stale {
		h.logger.Info("stale connection superseded", "user", u.ID)
		s.close()
	}
}

func (h *Hub) unregister(c *conn) {
	c.mu.Lock()
	u, token := c.user, c.token
	c.mu.Unlock()
	if u == nil {
		return
	}

	h.mu.Lock()
	if h.byToken[token] == c {
		delete(h.byToken, token)
	}
	if h.byUser[u.ID] == c {
		delete(h.byUser, u.ID)
	}
	h.mu.Unlock()
}

func (h *Hub) requireAuth(c *conn) (*session.User, error) {
	u := c.identity()
	if u == nil {
		return nil, protocol.Reject(protocol.CodeNotAuthenticated, "authenticate before sending commands")
	}
	return u, nil
}
