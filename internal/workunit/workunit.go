package workunit

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/loykin/agentvisor/internal/agent"
)

// ErrNotRegistered is returned by Lookup for a work unit without an implementation.
var ErrNotRegistered = errors.New("work unit not registered")

// Cycle describes one invocation of a unit by the worker loop.
type Cycle struct {
	Agent string
	Unit  agent.WorkUnit
	// N counts cycles of this worker, starting at 1.
	N   int
	Now time.Time
	Log *slog.Logger
}

// Unit is one agent's instance of a work unit. It is created per worker, so any
// state it keeps belongs to that agent alone.
//
// Run returns nil after handling transient failures itself. A returned error is
// fatal and ends the worker.
type Unit interface {
	Run(ctx context.Context, c Cycle) error
}

// UnitFunc adapts a function to Unit.
type UnitFunc func(ctx context.Context, c Cycle) error

func (f UnitFunc) Run(ctx context.Context, c Cycle) error { return f(ctx, c) }

// Factory creates a fresh Unit for one agent.
type Factory func(agentName string) (Unit, error)

// Registry maps work units to their factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[agent.WorkUnit]Factory
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[agent.WorkUnit]Factory)}
}

// Register adds or replaces the factory of unit.
func (r *Registry) Register(unit agent.WorkUnit, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[unit] = f
}

// New creates the unit instance for agentName.
func (r *Registry) New(unit agent.WorkUnit, agentName string) (Unit, error) {
	r.mu.RLock()
	f, ok := r.factories[unit]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotRegistered, unit)
	}
	u, err := f(agentName)
	if err != nil {
		return nil, fmt.Errorf("init work unit %s: %w", unit, err)
	}
	return u, nil
}

// Units lists registered work units in name order.
func (r *Registry) Units() []agent.WorkUnit {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]agent.WorkUnit, 0, len(r.factories))
	for u := range r.factories {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
