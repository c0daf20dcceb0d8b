// Package audit records invocation outcomes. Writes are best effort: the
// sink never blocks the invocation path, and events are dropped when the
// buffer is full rather than slowing callers down.
package audit

import (
	"context"
	"sync"
	"time"

	"skillmarket/backend/internal/logging"
)

// Event is one audit record.
type Event struct {
	TenantID string    `json:"tenant_id"`
	UserID   string    `json:"user_id,omitempty"`
	DeviceID string    `json:"device_id,omitempty"`
	Action   string    `json:"action"`
	TargetID string    `json:"target_id"`
	OK       bool      `json:"ok"`
	Credits  int64     `json:"credits,omitempty"`
	Error    string    `json:"error,omitempty"`
	TS       time.Time `json:"ts"`
}

// Sink accepts audit events.
type Sink interface {
	Write(ev Event)
}

// AsyncSink buffers events on a channel and drains them on a background
// goroutine into the structured log plus an in-memory ring for the admin API.
type AsyncSink struct {
	ch     chan Event
	logger *logging.Logger
	done   chan struct{}

	mu     sync.Mutex
	recent []Event
	limit  int
}

// NewAsyncSink starts the drain goroutine. buffer is the channel depth;
// recent events are retained up to keep entries for inspection.
func NewAsyncSink(logger *logging.Logger, buffer, keep int) *AsyncSink {
	if buffer <= 0 {
		buffer = 1024
	}
	if keep <= 0 {
		keep = 500
	}
	s := &AsyncSink{
		ch:     make(chan Event, buffer),
		logger: logger,
		done:   make(chan struct{}),
		limit:  keep,
	}
	go s.drain()
	return s
}

// Write enqueues an event. If the buffer is full the event is dropped; the
// invocation path must not wait on audit.
func (s *AsyncSink) Write(ev Event) {
	if ev.TS.IsZero() {
		ev.TS = time.Now().UTC()
	}
	select {
	case s.ch <- ev:
	default:
		s.logger.Warn("audit buffer full, dropping event", "action", ev.Action, "tenant_id", ev.TenantID)
	}
}

func (s *AsyncSink) drain() {
	defer close(s.done)
	for ev := range s.ch {
		s.logger.Info("audit",
			"tenant_id", ev.TenantID, "user_id", ev.UserID, "device_id", ev.DeviceID,
			"action", ev.Action, "target_id", ev.TargetID, "ok", ev.OK,
			"credits", ev.Credits, "error", ev.Error)
		s.mu.Lock()
		s.recent = append(s.recent, ev)
		if len(s.recent) > s.limit {
			s.recent = s.recent[len(s.recent)-s.limit:]
		}
		s.mu.Unlock()
	}
}

// Recent returns up to limit of the most recent events, newest last.
func (s *AsyncSink) Recent(limit int) []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	if limit <= 0 || limit > len(s.recent) {
		limit = len(s.recent)
	}
	out := make([]Event, limit)
	copy(out, s.recent[len(s.recent)-limit:])
	return out
}

// Close stops accepting events and waits for the drain to finish.
func (s *AsyncSink) Close(ctx context.Context) error {
	close(s.ch)
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
