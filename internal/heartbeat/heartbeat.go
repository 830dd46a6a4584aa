package heartbeat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/loykin/agentvisor/internal/store"
)

// ErrCorrupt reports a heartbeat record that exists but cannot be decoded.
var ErrCorrupt = errors.New("corrupt heartbeat record")

// Status is the lifecycle phase a worker reports about itself.
type Status string

const (
	StatusStarted Status = "STARTED"
	StatusRunning Status = "RUNNING"
	StatusStopped Status = "STOPPED"
)

// Record is the liveness report a worker writes after start, after each cycle
// and on fatal error.
type Record struct {
	Agent    string    `json:"agent"`
	Skill    string    `json:"skill"`
	Status   Status    `json:"status"`
	LastTick time.Time `json:"lastTick"`
	PID      int       `json:"pid"`
}

// Age returns how long ago the record was written relative to now.
func (r Record) Age(now time.Time) time.Duration { return now.Sub(r.LastTick) }

// Store reads and writes heartbeat records.
type Store struct {
	store store.Store
}

func NewStore(s store.Store) *Store { return &Store{store: s} }

// Write replaces the agent's heartbeat. Within one worker process (same pid) the
// tick never moves backwards: an earlier tick is clamped to the stored one.
func (h *Store) Write(ctx context.Context, rec Record) error {
	if prev, err := h.Read(ctx, rec.Agent); err == nil {
		if prev.PID == rec.PID && rec.LastTick.Before(prev.LastTick) {
			rec.LastTick = prev.LastTick
		}
	}
	rec.LastTick = rec.LastTick.UTC()
	if err := store.PutJSON(ctx, h.store, store.BucketHeartbeats, rec.Agent, rec); err != nil {
		return fmt.Errorf("write heartbeat %s: %w", rec.Agent, err)
	}
	return nil
}

// Read returns the agent's heartbeat, store.ErrNotFound or ErrCorrupt.
func (h *Store) Read(ctx context.Context, agent string) (Record, error) {
	b, err := h.store.Get(ctx, store.BucketHeartbeats, agent)
	if err != nil {
		return Record{}, err
	}
	var rec Record
	if err := json.Unmarshal(b, &rec); err != nil {
		return Record{}, fmt.Errorf("%w: %s: %v", ErrCorrupt, agent, err)
	}
	return rec, nil
}

// Lookup is Read that maps a missing or undecodable record to nil.
func (h *Store) Lookup(ctx context.Context, agent string) (*Record, error) {
	rec, err := h.Read(ctx, agent)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) || errors.Is(err, ErrCorrupt) {
			return nil, nil
		}
		return nil, err
	}
	return &rec, nil
}

func (h *Store) Delete(ctx context.Context, agent string) error {
	return h.store.Delete(ctx, store.BucketHeartbeats, agent)
}
