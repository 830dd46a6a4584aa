package process

import (
	"context"
	"errors"
	"fmt"

	"github.com/loykin/agentvisor/internal/store"
)

// Registry holds the process record of each running agent: the pid of its worker.
type Registry struct {
	store store.Store
}

func NewRegistry(s store.Store) *Registry { return &Registry{store: s} }

func (r *Registry) Write(ctx context.Context, agent string, pid int) error {
	if pid <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidPID, pid)
	}
	if err := r.store.Put(ctx, store.BucketPIDs, agent, FormatPID(pid)); err != nil {
		return fmt.Errorf("write pid %s: %w", agent, err)
	}
	return nil
}

// Read returns the recorded pid; ok is false when no record exists. An
// unparsable record is reported as an error.
func (r *Registry) Read(ctx context.Context, agent string) (pid int, ok bool, err error) {
	b, err := r.store.Get(ctx, store.BucketPIDs, agent)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("read pid %s: %w", agent, err)
	}
	pid, err = ParsePID(b)
	if err != nil {
		return 0, true, fmt.Errorf("pid record %s: %w", agent, err)
	}
	return pid, true, nil
}

// Delete removes the record. Missing is fine.
func (r *Registry) Delete(ctx context.Context, agent string) error {
	return r.store.Delete(ctx, store.BucketPIDs, agent)
}

// DeleteIf removes the record only while it still names pid, so an exiting worker
// never drops the record of its replacement.
func (r *Registry) DeleteIf(ctx context.Context, agent string, pid int) error {
	cur, ok, err := r.Read(ctx, agent)
	if err != nil && !errors.Is(err, ErrInvalidPID) {
		return err
	}
	if !ok || (err == nil && cur != pid) {
		return nil
	}
	return r.Delete(ctx, agent)
}

// Agents lists agents that currently have a record.
func (r *Registry) Agents(ctx context.Context) ([]string, error) {
	return r.store.Keys(ctx, store.BucketPIDs)
}
