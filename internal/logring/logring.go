// Package logring keeps a bounded in-memory tail of the process log so
// the HTTP API can expose recent activity without touching disk.
package logring

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Record is one captured log line.
type Record struct {
	At     time.Time      `json:"at"`
	Level  string         `json:"level"`
	Msg    string         `json:"msg"`
	Fields map[string]any `json:"fields,omitempty"`
}

// Ring holds the most recent records, overwriting the oldest once full.
type Ring struct {
	mu     sync.Mutex
	buf    []Record
	next   int
	filled bool
}

// NewRing creates a ring holding up to capacity records.
func NewRing(capacity int) *Ring {
	if capacity <= 0 {
		capacity = 512
	}
	return &Ring{buf: make([]Record, capacity)}
}

func (r *Ring) add(rec Record) {
	r.mu.Lock()
	r.buf[r.next] = rec
	r.next++
	if r.next == len(r.buf) {
		r.next = 0
		r.filled = true
	}
	r.mu.Unlock()
}

// Tail returns up to limit records at or above minLevel and not older
// than since, oldest first. A zero since means no time filter; a
// non-positive limit means no cap.
func (r *Ring) Tail(since time.Time, minLevel slog.Level, limit int) []Record {
	r.mu.Lock()
	defer r.mu.Unlock()

	ordered := make([]Record, 0, len(r.buf))
	if r.filled {
		ordered = append(ordered, r.buf[r.next:]...)
	}
	ordered = append(ordered, r.buf[:r.next]...)

	out := make([]Record, 0, len(ordered))
	for _, rec := range ordered {
		if !since.IsZero() && rec.At.Before(since) {
			continue
		}
		if levelValue(rec.Level) < minLevel {
			continue
		}
		out = append(out, rec)
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out
}

func levelValue(s string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return l
}

// TeeHandler is an slog.Handler that captures every record into a Ring
// and forwards it to a wrapped handler. Capture ignores the wrapped
// handler's level filter so the ring always sees debug lines.
type TeeHandler struct {
	next   slog.Handler
	ring   *Ring
	bound  []slog.Attr
	groups []string
}

// Tee wraps next so records also land in ring.
func Tee(next slog.Handler, ring *Ring) *TeeHandler {
	return &TeeHandler{next: next, ring: ring}
}

func (h *TeeHandler) Enabled(context.Context, slog.Level) bool { return true }

func (h *TeeHandler) Handle(ctx context.Context, rec slog.Record) error {
	fields := make(map[string]any, rec.NumAttrs()+len(h.bound))
	for _, a := range h.bound {
		fields[a.Key] = flatten(a.Value)
	}
	rec.Attrs(func(a slog.Attr) bool {
		fields[h.qualify(a.Key)] = flatten(a.Value)
		return true
	})
	if len(fields) == 0 {
		fields = nil
	}

	h.ring.add(Record{
		At:     rec.Time,
		Level:  rec.Level.String(),
		Msg:    rec.Message,
		Fields: fields,
	})

	if h.next.Enabled(ctx, rec.Level) {
		return h.next.Handle(ctx, rec)
	}
	return nil
}

func (h *TeeHandler) qualify(key string) string {
	for i := len(h.groups) - 1; i >= 0; i-- {
		key = h.groups[i] + "." + key
	}
	return key
}

// flatten resolves an attr value into something json.Marshal renders
// usefully; errors become their message instead of an empty object.
func flatten(v slog.Value) any {
	v = v.Resolve()
	raw := v.Any()
	if err, ok := raw.(error); ok {
		return err.Error()
	}
	return raw
}

func (h *TeeHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	// Keys are qualified with the groups open at bind time, so a group
	// added later does not retroactively rename them.
	qualified := make([]slog.Attr, len(attrs))
	for i, a := range attrs {
		qualified[i] = slog.Attr{Key: h.qualify(a.Key), Value: a.Value}
	}
	return &TeeHandler{
		next:   h.next.WithAttrs(attrs),
		ring:   h.ring,
		bound:  append(h.bound[:len(h.bound):len(h.bound)], qualified...),
		groups: h.groups,
	}
}

func (h *TeeHandler) WithGroup(name string) slog.Handler {
	return &TeeHandler{
		next:   h.next.WithGroup(name),
		ring:   h.ring,
		bound:  h.bound,
		groups: append(h.groups[:len(h.groups):len(h.groups)], name),
	}
}
