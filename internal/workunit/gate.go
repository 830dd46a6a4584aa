package workunit

import (
	"context"
	"errors"
	"time"

	"github.com/robfig/cron/v3"
)

// Effect is the externally visible work of a unit.
type Effect interface {
	Apply(ctx context.Context, c Cycle) error
}

// EffectFunc adapts a function to Effect.
type EffectFunc func(ctx context.Context, c Cycle) error

func (f EffectFunc) Apply(ctx context.Context, c Cycle) error { return f(ctx, c) }

type fatalError struct{ err error }

func (e fatalError) Error() string { return e.err.Error() }
func (e fatalError) Unwrap() error { return e.err }

// Fatal marks err as unrecoverable: Gated passes it up and the worker stops.
func Fatal(err error) error {
	if err == nil {
		return nil
	}
	return fatalError{err: err}
}

// IsFatal reports whether err was marked with Fatal.
func IsFatal(err error) bool {
	var fe fatalError
	return errors.As(err, &fe)
}

// Gated runs Effect at most once per Interval, or at the times of Schedule
// when one is set. Cycles in between are no-ops. The first cycle always runs.
// Effect errors are logged and swallowed unless marked Fatal; a failed run is
// retried on the next cycle rather than after a full interval.
type Gated struct {
	Interval time.Duration
	Schedule cron.Schedule
	Effect   Effect

	lastRunAt time.Time
	runs      int
}

// next is the earliest time the effect may run again.
func (g *Gated) next() time.Time {
	if g.Schedule != nil {
		return g.Schedule.Next(g.lastRunAt)
	}
	return g.lastRunAt.Add(g.Interval)
}

func (g *Gated) Run(ctx context.Context, c Cycle) error {
	if !g.lastRunAt.IsZero() {
		if next := g.next(); c.Now.Before(next) {
			if c.Log != nil {
				c.Log.Debug("work unit gated", "unit", c.Unit, "next_run_in", next.Sub(c.Now))
			}
			return nil
		}
	}
	err := g.Effect.Apply(ctx, c)
	if err != nil {
		if IsFatal(err) {
			return err
		}
		if ctx.Err() != nil {
			return nil
		}
		if c.Log != nil {
			c.Log.Warn("work unit effect failed", "unit", c.Unit, "cycle", c.N, "error", err)
		}
		return nil
	}
	g.lastRunAt = c.Now
	g.runs++
	return nil
}

// LastRunAt is when the effect last succeeded.
func (g *Gated) LastRunAt() time.Time { return g.lastRunAt }

// Runs counts successful effect runs.
func (g *Gated) Runs() int { return g.runs }
