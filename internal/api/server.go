// Package api serves the HTTP surface: login, case CRUD, the log tail,
// and the websocket upgrade endpoint.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/atende-io/atende/internal/logring"
	"github.com/atende-io/atende/internal/session"
	"github.com/atende-io/atende/internal/ticket"
	"github.com/atende-io/atende/pkg/protocol"
)

// LogTailer abstracts the log ring so the server can run without one.
type LogTailer interface {
	Tail(since time.Time, minLevel slog.Level, limit int) []logring.Record
}

// Config holds the HTTP listener settings.
type Config struct {
	Host string
	Port int
}

// Server is the atende HTTP server. Case mutations beyond open/close
// happen over the real-time channel; HTTP covers login, listing, and
// operational endpoints.
type Server struct {
	sessions *session.Store
	cases    *ticket.Directory
	logs     LogTailer
	logger   *slog.Logger
	srv      *http.Server
}

// NewServer wires the HTTP routes. realtime is the websocket handler
// mounted at /ws; logs may be nil.
func NewServer(sessions *session.Store, cases *ticket.Directory, realtime http.Handler, cfg Config, logger *slog.Logger, logs LogTailer) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		sessions: sessions,
		cases:    cases,
		logs:     logs,
		logger:   logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("POST /api/login", s.handleLogin)
	mux.HandleFunc("POST /api/cases", s.withUser(s.handleOpenCase))
	mux.HandleFunc("GET /api/cases", s.withUser(s.handleListCases))
	mux.HandleFunc("GET /api/cases/{id}", s.withUser(s.handleGetCase))
	mux.HandleFunc("POST /api/cases/{id}/close", s.withUser(s.handleCloseCase))
	mux.HandleFunc("GET /api/logs", s.withUser(s.handleGetLogs))
	if realtime != nil {
		mux.Handle("GET /ws", realtime)
	}

	s.srv = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:           s.corsMiddleware(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Start begins listening. Blocks until context is cancelled.
func (s *Server) Start(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.srv.Shutdown(shutCtx)
	}()

	s.logger.Info("http server starting", "addr", s.srv.Addr)
	if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("api: %w", err)
	}
	return nil
}

// Handler returns the underlying http.Handler for testing.
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

// --- Middleware ---

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// withUser resolves the Bearer session token before the handler runs.
func (s *Server) withUser(next func(http.ResponseWriter, *http.Request, *session.User)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		if !strings.HasPrefix(auth, "Bearer ") {
			writeRejection(w, protocol.Reject(protocol.CodeNotAuthenticated, "missing bearer token"))
			return
		}
		u, err := s.sessions.Resolve(strings.TrimPrefix(auth, "Bearer "))
		if err != nil {
			writeRejection(w, protocol.AsRejection(err))
			return
		}
		next(w, r, u)
	}
}

// --- Handlers ---

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type loginRequest struct {
	Email string `json:"email"`
}

type loginResponse struct {
	Token string           `json:"token"`
	User  protocol.UserRef `json:"user"`
	Agent bool             `json:"agent"`
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeRejection(w, protocol.Reject(protocol.CodeInvalidInput, "invalid JSON"))
		return
	}
	if req.Email == "" {
		writeRejection(w, protocol.Reject(protocol.CodeInvalidInput, "email is required"))
		return
	}

	u, ok := s.sessions.FindByEmail(req.Email)
	if !ok {
		writeRejection(w, protocol.Reject(protocol.CodeNotAuthenticated, "unknown user"))
		return
	}
	token, err := s.sessions.Issue(u.ID)
	if err != nil {
		writeRejection(w, protocol.AsRejection(err))
		return
	}
	writeJSON(w, http.StatusOK, loginResponse{Token: token, User: u.Ref(), Agent: u.Agent})
}

type openCaseRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

func (s *Server) handleOpenCase(w http.ResponseWriter, r *http.Request, u *session.User) {
	var req openCaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeRejection(w, protocol.Reject(protocol.CodeInvalidInput, "invalid JSON"))
		return
	}

	cs, err := s.cases.Open(req.Title, req.Description, u.ID)
	if err != nil {
		writeRejection(w, protocol.AsRejection(err))
		return
	}
	writeJSON(w, http.StatusCreated, cs.Summary())
}

// handleListCases returns every case for agents, and only the caller's
// own cases otherwise.
func (s *Server) handleListCases(w http.ResponseWriter, r *http.Request, u *session.User) {
	var cases []*ticket.Case
	if u.Agent {
		cases = s.cases.All()
	} else {
		cases = s.cases.ForOpener(u.ID)
	}
	if closed := r.URL.Query().Get("closed"); closed != "" {
		want := closed == "true"
		filtered := cases[:0:0]
		for _, c := range cases {
			if c.Closed() == want {
				filtered = append(filtered, c)
			}
		}
		cases = filtered
	}

	out := make([]protocol.CaseSummary, 0, len(cases))
	for _, c := range cases {
		out = append(out, c.Summary())
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetCase(w http.ResponseWriter, r *http.Request, u *session.User) {
	cs, err := s.cases.Get(r.PathValue("id"))
	if err != nil {
		writeRejection(w, protocol.AsRejection(err))
		return
	}
	if !u.Agent && u.ID != cs.OpenerID() {
		writeRejection(w, protocol.Reject(protocol.CodeForbidden, "you are not a stakeholder of this case"))
		return
	}
	writeJSON(w, http.StatusOK, cs.Snapshot())
}

func (s *Server) handleCloseCase(w http.ResponseWriter, r *http.Request, u *session.User) {
	cs, err := s.cases.Get(r.PathValue("id"))
	if err != nil {
		writeRejection(w, protocol.AsRejection(err))
		return
	}
	if !u.Agent && u.ID != cs.OpenerID() {
		writeRejection(w, protocol.Reject(protocol.CodeForbidden, "only the opener or an agent may close a case"))
		return
	}
	if err := cs.Close(); err != nil {
		writeRejection(w, protocol.AsRejection(err))
		return
	}
	writeJSON(w, http.StatusOK, cs.Summary())
}

func (s *Server) handleGetLogs(w http.ResponseWriter, r *http.Request, u *session.User) {
	if !u.Agent {
		writeRejection(w, protocol.Reject(protocol.CodeForbidden, "log access requires the agent privilege"))
		return
	}
	if s.logs == nil {
		writeJSON(w, http.StatusOK, []logring.Record{})
		return
	}

	limit := 200
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 {
			limit = n
		}
	}

	minLevel := slog.LevelDebug
	if lvl := r.URL.Query().Get("level"); lvl != "" {
		switch strings.ToLower(lvl) {
		case "info":
			minLevel = slog.LevelInfo
		case "warn":
			minLevel = slog.LevelWarn
		case "error":
			minLevel = slog.LevelError
		}
	}

	var since time.Time
	if v := r.URL.Query().Get("since"); v != "" {
		if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
			since = time.UnixMilli(ms)
		}
	}

	recs := s.logs.Tail(since, minLevel, limit)
	if recs == nil {
		recs = []logring.Record{}
	}
	writeJSON(w, http.StatusOK, recs)
}

// --- Helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeRejection maps a rejection code onto an HTTP status and writes
// the rejection as the body, so HTTP and websocket clients see the
// same error shape.
func writeRejection(w http.ResponseWriter, rej *protocol.Rejection) {
	status := http.StatusInternalServerError
	switch rej.Code {
	case protocol.CodeNotAuthenticated:
		status = http.StatusUnauthorized
	case protocol.CodeForbidden:
		status = http.StatusForbidden
	case protocol.CodeNotFound:
		status = http.StatusNotFound
	case protocol.CodeInvalidInput:
		status = http.StatusBadRequest
	case protocol.CodeInvalidState:
		status = http.StatusConflict
	case protocol.CodeUpstreamTimeout:
		status = http.StatusGatewayTimeout
	case protocol.CodeUpstreamFailure:
		status = http.StatusBadGateway
	}
	writeJSON(w, status, rej)
}
