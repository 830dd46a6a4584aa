// Package lifecycle implements the operator actions behind the CLI: create,
// start, stop, restart, status and remove. Every action prints a short human
// readable line to Out.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"k8s.io/utils/clock"

	"github.com/loykin/agentvisor/internal/agent"
	"github.com/loykin/agentvisor/internal/health"
	"github.com/loykin/agentvisor/internal/history"
	"github.com/loykin/agentvisor/internal/metrics"
	"github.com/loykin/agentvisor/internal/store"
	"github.com/loykin/agentvisor/internal/supervisor"
)

// ErrRunning is returned by Remove for an agent whose worker is still up.
var ErrRunning = errors.New("agent is running, stop it first")

// DefaultRestartDelay is the pause between stop and start in Restart.
const DefaultRestartDelay = time.Second

type Actions struct {
	Store     store.Store
	Inspector *health.Inspector
	Starter   *supervisor.Starter
	Clock     clock.Clock
	// RestartDelay is waited between stop and start; zero means DefaultRestartDelay.
	RestartDelay time.Duration
	History      *history.Recorder
	Out          io.Writer
	// Color enables ANSI colors in Status.
	Color bool
	Log   *slog.Logger
}

func (a *Actions) out() io.Writer {
	if a.Out == nil {
		return os.Stdout
	}
	return a.Out
}

func (a *Actions) logger() *slog.Logger {
	if a.Log == nil {
		return slog.Default()
	}
	return a.Log
}

func (a *Actions) printf(format string, args ...any) {
	_, _ = fmt.Fprintf(a.out(), format+"\n", args...)
}

func (a *Actions) agents() *agent.Registry { return a.Inspector.Agents }

// Create defines a new agent. An existing agent is reported, not overwritten.
func (a *Actions) Create(ctx context.Context, baseName, workUnit string) (agent.Definition, error) {
	unit, err := agent.ParseWorkUnit(workUnit)
	if err != nil {
		return agent.Definition{}, err
	}
	def, err := a.agents().Create(ctx, baseName, unit)
	if errors.Is(err, agent.ErrDuplicate) {
		a.printf("Agent already exists: %s", agent.NameFor(baseName, unit))
		return agent.Definition{}, nil
	}
	if err != nil {
		return agent.Definition{}, err
	}
	a.printf("Agent created: %s", def.Name)
	a.History.Emit(ctx, history.Event{Type: history.EventCreate, Agent: def.Name, WorkUnit: string(def.WorkUnit)})
	return def, nil
}

// List prints every defined agent.
func (a *Actions) List(ctx context.Context) ([]agent.Definition, error) {
	defs, err := a.agents().List(ctx)
	if err != nil {
		return nil, err
	}
	if len(defs) == 0 {
		a.printf("No agents defined")
	}
	for _, d := range defs {
		a.printf("%-32s %-22s %s", d.Name, d.WorkUnit, d.CreatedAt.Format(time.RFC3339))
	}
	return defs, nil
}

// Start launches the worker of name. An agent with a live worker is left alone;
// a stale process record is dropped first.
func (a *Actions) Start(ctx context.Context, name string) (int, error) {
	def, err := a.agents().Get(ctx, name)
	if err != nil {
		return 0, err
	}
	pid, ok, err := a.Inspector.PIDs.Read(ctx, name)
	if err != nil {
		a.logger().Warn("unreadable pid record, replacing it", "agent", name, "error", err)
	}
	if ok && a.Inspector.Launcher.IsAlive(pid) {
		a.printf("Agent already running: %s (pid %d)", name, pid)
		return pid, nil
	}
	if ok || err != nil {
		if derr := a.Inspector.PIDs.Delete(ctx, name); derr != nil {
			a.logger().Warn("failed to remove stale pid record", "agent", name, "error", derr)
		}
	}
	pid, err = a.Starter.Start(ctx, name)
	if err != nil {
		return 0, err
	}
	a.printf("Agent started: %s (pid %d)", name, pid)
	a.History.Emit(ctx, history.Event{Type: history.EventStart, Agent: name, WorkUnit: string(def.WorkUnit), PID: pid})
	return pid, nil
}

// StartAll starts every defined agent and joins the failures.
func (a *Actions) StartAll(ctx context.Context) error {
	defs, err := a.agents().List(ctx)
	if err != nil {
		return err
	}
	var errs []error
	for _, d := range defs {
		if _, err := a.Start(ctx, d.Name); err != nil {
			a.printf("Failed to start %s: %v", d.Name, err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Stop terminates the worker of name and removes its process record. Without
// a record it only reports that the agent is not running.
func (a *Actions) Stop(ctx context.Context, name string) error {
	pid, ok, err := a.Inspector.PIDs.Read(ctx, name)
	if err != nil {
		return err
	}
	if !ok {
		a.printf("Agent not running: %s", name)
		return nil
	}
	if a.Inspector.Launcher.IsAlive(pid) {
		var last time.Time
		if hb, _ := a.Inspector.Heartbeats.Lookup(ctx, name); hb != nil {
			last = hb.LastTick
		}
		if health.Reused(a.Inspector.Launcher, pid, last) {
			a.logger().Warn("pid was reused by another process, not terminating", "agent", name, "pid", pid)
		} else if err := a.Inspector.Launcher.Terminate(pid); err != nil {
			a.logger().Warn("failed to terminate worker", "agent", name, "pid", pid, "error", err)
		}
	}
	if err := a.Inspector.PIDs.Delete(ctx, name); err != nil {
		return err
	}
	metrics.IncStop(name)
	a.printf("Agent stopped: %s", name)
	a.History.Emit(ctx, history.Event{Type: history.EventStop, Agent: name, PID: pid})
	return nil
}

// Restart stops name, waits RestartDelay and starts it again.
func (a *Actions) Restart(ctx context.Context, name string) (int, error) {
	if _, err := a.agents().Get(ctx, name); err != nil {
		return 0, err
	}
	if err := a.Stop(ctx, name); err != nil {
		return 0, err
	}
	delay := a.RestartDelay
	if delay <= 0 {
		delay = DefaultRestartDelay
	}
	a.Clock.Sleep(delay)
	return a.Start(ctx, name)
}

// Status classifies every agent the way the supervisor does and prints one
// line per agent.
func (a *Actions) Status(ctx context.Context) ([]health.Observation, error) {
	obs, err := a.Inspector.ObserveAll(ctx)
	if err != nil {
		return nil, err
	}
	if len(obs) == 0 {
		a.printf("No agents defined")
	}
	for _, o := range obs {
		pid := "-"
		if o.PID > 0 {
			pid = fmt.Sprint(o.PID)
		}
		tick := "-"
		if !o.LastTick.IsZero() {
			tick = o.LastTick.UTC().Format(time.RFC3339)
		}
		a.printf("%s %s pid=%s lastTick=%s", a.paint(o.State), o.Agent, pid, tick)
	}
	return obs, nil
}

func (a *Actions) paint(st health.State) string {
	label := fmt.Sprintf("%-7s", st)
	var c *color.Color
	switch st {
	case health.Running:
		c = color.New(color.FgGreen)
	case health.Hang:
		c = color.New(color.FgYellow)
	case health.Crashed:
		c = color.New(color.FgRed, color.Bold)
	default:
		c = color.New(color.Faint)
	}
	if !a.Color {
		c.DisableColor()
	} else {
		c.EnableColor()
	}
	return c.Sprint(label)
}

// RestartCrashed runs one healing pass that restarts only CRASHED agents and
// returns how many were restarted.
func (a *Actions) RestartCrashed(ctx context.Context) (int, error) {
	obs, err := a.Inspector.ObserveAll(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	var errs []error
	for _, o := range obs {
		if o.State != health.Crashed {
			continue
		}
		if err := a.Inspector.PIDs.Delete(ctx, o.Agent); err != nil {
			a.logger().Warn("failed to remove process record", "agent", o.Agent, "error", err)
		}
		pid, err := a.Starter.Start(ctx, o.Agent)
		if err != nil {
			a.printf("Failed to restart %s: %v", o.Agent, err)
			errs = append(errs, err)
			continue
		}
		n++
		metrics.IncRestart(o.Agent, string(health.Crashed))
		a.printf("Agent restarted: %s (pid %d)", o.Agent, pid)
		a.History.Emit(ctx, history.Event{
			Type: history.EventRestart, Agent: o.Agent, WorkUnit: string(o.WorkUnit),
			PID: pid, Reason: string(health.Crashed),
		})
	}
	if n == 0 && len(errs) == 0 {
		a.printf("No crashed agents")
	}
	return n, errors.Join(errs...)
}

// Remove deletes a STOPPED or CRASHED agent with all its records.
func (a *Actions) Remove(ctx context.Context, name string) error {
	def, err := a.agents().Get(ctx, name)
	if err != nil {
		return err
	}
	o := a.Inspector.Observe(ctx, def)
	if o.State == health.Running || o.State == health.Hang {
		return fmt.Errorf("%s: %w", name, ErrRunning)
	}
	var errs []error
	errs = append(errs, a.Inspector.PIDs.Delete(ctx, name))
	errs = append(errs, a.Inspector.Heartbeats.Delete(ctx, name))
	if a.Store != nil {
		errs = append(errs, a.Store.Delete(ctx, store.BucketReports, name))
	}
	if err := errors.Join(errs...); err != nil {
		a.logger().Warn("failed to remove agent records", "agent", name, "error", err)
	}
	if err := a.agents().Remove(ctx, name); err != nil {
		return err
	}
	metrics.ForgetAgent(name)
	a.printf("Agent removed: %s", name)
	a.History.Emit(ctx, history.Event{Type: history.EventRemove, Agent: name, WorkUnit: string(def.WorkUnit),
		Detail: "last state " + strings.ToLower(string(o.State))})
	return nil
}
