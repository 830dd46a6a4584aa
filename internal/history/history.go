package history

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventType defines the kind of lifecycle event.
type EventType string

const (
	EventCreate  EventType = "create"
	EventStart   EventType = "start"
	EventStop    EventType = "stop"
	EventRestart EventType = "restart"
	EventRemove  EventType = "remove"
)

// Event represents an agent lifecycle event exported to external systems.
type Event struct {
	ID         string    `json:"id"`
	Type       EventType `json:"type"`
	OccurredAt time.Time `json:"occurred_at"`
	Agent      string    `json:"agent"`
	WorkUnit   string    `json:"work_unit,omitempty"`
	PID        int       `json:"pid,omitempty"`
	// Reason is the observed state that triggered a restart (CRASHED, HANG) or "manual".
	Reason string `json:"reason,omitempty"`
	Detail string `json:"detail,omitempty"`
}

// Sink is a destination for history events (analytics/statistics systems).
// Implementations must be safe for concurrent use.
type Sink interface {
	Send(ctx context.Context, e Event) error
}

// DefaultSendTimeout bounds a single Send of Recorder.
const DefaultSendTimeout = 5 * time.Second

// Recorder fans events out to every configured sink. Delivery is best effort:
// a failing sink is logged and never fails the lifecycle operation.
// A nil *Recorder is valid and drops everything.
type Recorder struct {
	mu      sync.Mutex
	sinks   []Sink
	log     *slog.Logger
	now     func() time.Time
	timeout time.Duration
}

func NewRecorder(log *slog.Logger, sinks ...Sink) *Recorder {
	if log == nil {
		log = slog.Default()
	}
	return &Recorder{sinks: sinks, log: log, now: time.Now, timeout: DefaultSendTimeout}
}

// Emit stamps e with an ID and time when missing and sends it to all sinks.
func (r *Recorder) Emit(ctx context.Context, e Event) {
	if r == nil {
		return
	}
	r.mu.Lock()
	sinks := append([]Sink(nil), r.sinks...)
	r.mu.Unlock()
	if len(sinks) == 0 {
		return
	}
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = r.now()
	}
	e.OccurredAt = e.OccurredAt.UTC()
	for _, s := range sinks {
		sctx, cancel := context.WithTimeout(ctx, r.timeout)
		err := s.Send(sctx, e)
		cancel()
		if err != nil {
			r.log.Warn("history sink failed", "event", e.Type, "agent", e.Agent, "error", err)
		}
	}
}

// Len returns the number of sinks.
func (r *Recorder) Len() int {
	if r == nil {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sinks)
}

// Close closes every sink that implements io.Closer.
func (r *Recorder) Close() error {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var errs []error
	for _, s := range r.sinks {
		if c, ok := s.(interface{ Close() error }); ok {
			errs = append(errs, c.Close())
		}
	}
	r.sinks = nil
	return errors.Join(errs...)
}
