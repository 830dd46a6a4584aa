package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/loykin/agentvisor/internal/store"
)

// Registry persists agent definitions in the agents bucket.
type Registry struct {
	store store.Store
	now   func() time.Time
	log   *slog.Logger
}

func NewRegistry(s store.Store) *Registry {
	return &Registry{store: s, now: time.Now, log: slog.Default()}
}

// SetLogger overrides the logger used for skipped records.
func (r *Registry) SetLogger(l *slog.Logger) {
	if l != nil {
		r.log = l
	}
}

// SetNow overrides the creation timestamp source.
func (r *Registry) SetNow(now func() time.Time) {
	if now != nil {
		r.now = now
	}
}

// Create stores a new definition. An existing agent with the same name is left
// untouched and ErrDuplicate is returned.
func (r *Registry) Create(ctx context.Context, baseName string, unit WorkUnit) (Definition, error) {
	baseName = strings.TrimSpace(baseName)
	if !store.ValidKey(baseName) {
		return Definition{}, fmt.Errorf("%w: %q", ErrInvalidName, baseName)
	}
	if !unit.Valid() {
		return Definition{}, fmt.Errorf("%w: %q", ErrUnknownWorkUnit, unit)
	}
	def := Definition{
		Name:      NameFor(baseName, unit),
		BaseName:  baseName,
		Role:      unit.Role(),
		WorkUnit:  unit,
		CreatedAt: r.now().UTC(),
	}
	if err := store.CreateJSON(ctx, r.store, store.BucketAgents, def.Name, def); err != nil {
		if errors.Is(err, store.ErrExists) {
			return Definition{}, fmt.Errorf("%w: %s", ErrDuplicate, def.Name)
		}
		return Definition{}, fmt.Errorf("create agent %s: %w", def.Name, err)
	}
	return def, nil
}

func (r *Registry) Get(ctx context.Context, name string) (Definition, error) {
	if !store.ValidKey(name) {
		return Definition{}, fmt.Errorf("%w: %q", ErrNotFound, name)
	}
	var def Definition
	if err := store.GetJSON(ctx, r.store, store.BucketAgents, name, &def); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return Definition{}, fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return Definition{}, fmt.Errorf("read agent %s: %w", name, err)
	}
	if err := def.Validate(); err != nil {
		return Definition{}, fmt.Errorf("agent %s: %w", name, err)
	}
	if def.Name != name {
		return Definition{}, fmt.Errorf("agent %s: record holds name %q", name, def.Name)
	}
	return def, nil
}

// List returns every readable definition sorted by name. Corrupt records are
// skipped with a warning.
func (r *Registry) List(ctx context.Context) ([]Definition, error) {
	keys, err := r.store.Keys(ctx, store.BucketAgents)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	defs := make([]Definition, 0, len(keys))
	for _, k := range keys {
		d, err := r.Get(ctx, k)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			r.log.Warn("skipping unreadable agent record", "agent", k, "error", err)
			continue
		}
		defs = append(defs, d)
	}
	return defs, nil
}

// Remove deletes the definition. Callers are responsible for making sure the agent
// is not running.
func (r *Registry) Remove(ctx context.Context, name string) error {
	if _, err := r.Get(ctx, name); err != nil {
		return err
	}
	if err := r.store.Delete(ctx, store.BucketAgents, name); err != nil {
		return fmt.Errorf("remove agent %s: %w", name, err)
	}
	return nil
}
