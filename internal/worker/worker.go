package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"k8s.io/utils/clock"

	"github.com/loykin/agentvisor/internal/agent"
	"github.com/loykin/agentvisor/internal/heartbeat"
	"github.com/loykin/agentvisor/internal/logger"
	"github.com/loykin/agentvisor/internal/process"
	"github.com/loykin/agentvisor/internal/workunit"
)

var (
	// ErrUnknownWorkUnit means the agent's work unit has no implementation.
	ErrUnknownWorkUnit = errors.New("unknown work unit")
	// ErrWorkUnitFailed wraps an error that escaped the work unit.
	ErrWorkUnitFailed = errors.New("work unit failed")
)

// DefaultInterval separates two cycles of the run loop.
const DefaultInterval = 5 * time.Second

// Runtime is the body of a worker process: it runs one agent's work unit in a
// loop and reports liveness through heartbeat and process records.
type Runtime struct {
	Agents     *agent.Registry
	Heartbeats *heartbeat.Store
	PIDs       *process.Registry
	Units      *workunit.Registry
	Clock      clock.WithTicker
	Interval   time.Duration
	Log        logger.Config
	// Console also receives the agent's log records when non-nil.
	Console io.Writer
	// PID defaults to os.Getpid().
	PID int
}

func (r *Runtime) interval() time.Duration {
	if r.Interval <= 0 {
		return DefaultInterval
	}
	return r.Interval
}

func (r *Runtime) clock() clock.WithTicker {
	if r.Clock == nil {
		return clock.RealClock{}
	}
	return r.Clock
}

// Run executes agent name until ctx is cancelled, which is a graceful stop and
// returns nil. Configuration problems and errors escaping the work unit are
// returned.
func (r *Runtime) Run(ctx context.Context, name string) error {
	def, err := r.Agents.Get(ctx, name)
	if err != nil {
		return fmt.Errorf("load agent: %w", err)
	}
	unit, err := r.Units.New(def.WorkUnit, def.Name)
	if err != nil {
		if errors.Is(err, workunit.ErrNotRegistered) {
			return fmt.Errorf("%w: %s", ErrUnknownWorkUnit, def.WorkUnit)
		}
		return err
	}

	lg := r.Log.NewAgentLogger(def.Name, r.Console)
	defer func() { _ = lg.Close() }()

	clk := r.clock()
	pid := r.PID
	if pid <= 0 {
		pid = os.Getpid()
	}
	// cleanup must not depend on the cancelled run context
	cleanup := context.Background()
	beat := func(ctx context.Context, st heartbeat.Status) error {
		return r.Heartbeats.Write(ctx, heartbeat.Record{
			Agent:    def.Name,
			Skill:    string(def.WorkUnit),
			Status:   st,
			LastTick: clk.Now(),
			PID:      pid,
		})
	}
	// The heartbeat goes first: a pid record next to a predecessor's stale
	// heartbeat would read as HANG.
	if err := beat(ctx, heartbeat.StatusStarted); err != nil {
		return err
	}
	if err := r.PIDs.Write(ctx, def.Name, pid); err != nil {
		_ = beat(cleanup, heartbeat.StatusStopped)
		return err
	}
	lg.Info("agent started", "unit", def.WorkUnit, "pid", pid, "interval", r.interval())

	ticker := clk.NewTicker(r.interval())
	defer ticker.Stop()

	for n := 1; ; n++ {
		err := r.cycle(ctx, unit, workunit.Cycle{
			Agent: def.Name,
			Unit:  def.WorkUnit,
			N:     n,
			Now:   clk.Now(),
			Log:   lg.Logger,
		})
		if ctx.Err() != nil {
			r.shutdown(cleanup, lg, def.Name, pid)
			return nil
		}
		if err != nil {
			if herr := beat(cleanup, heartbeat.StatusStopped); herr != nil {
				lg.Warn("failed to write final heartbeat", "error", herr)
			}
			lg.Error("work unit failed, worker exiting", "cycle", n, "error", err)
			if derr := r.PIDs.DeleteIf(cleanup, def.Name, pid); derr != nil {
				lg.Warn("failed to remove pid record", "error", derr)
			}
			return fmt.Errorf("%w: %w", ErrWorkUnitFailed, err)
		}
		if err := beat(ctx, heartbeat.StatusRunning); err != nil && ctx.Err() == nil {
			lg.Warn("failed to write heartbeat", "cycle", n, "error", err)
		}

		select {
		case <-ctx.Done():
			r.shutdown(cleanup, lg, def.Name, pid)
			return nil
		case <-ticker.C():
		}
	}
}

// cycle runs one unit invocation. Cancellation abandons it: the goroutine is
// left to finish on its own since the process is about to exit.
func (r *Runtime) cycle(ctx context.Context, unit workunit.Unit, c workunit.Cycle) error {
	done := make(chan error, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- fmt.Errorf("work unit panicked: %v", p)
			}
		}()
		done <- unit.Run(ctx, c)
	}()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Runtime) shutdown(ctx context.Context, lg *logger.AgentLogger, name string, pid int) {
	lg.Info("shutting down")
	if err := r.PIDs.DeleteIf(ctx, name, pid); err != nil {
		lg.Warn("failed to remove pid record", "error", err)
	}
}
