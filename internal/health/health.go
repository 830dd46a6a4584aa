package health

import (
	"context"
	"log/slog"
	"time"

	"k8s.io/utils/clock"

	"github.com/loykin/agentvisor/internal/agent"
	"github.com/loykin/agentvisor/internal/heartbeat"
	"github.com/loykin/agentvisor/internal/process"
)

// State is the observed health of an agent. It is derived on every check and
// never persisted.
type State string

const (
	Stopped State = "STOPPED"
	Running State = "RUNNING"
	Crashed State = "CRASHED"
	Hang    State = "HANG"
)

// DefaultTimeout is how old a heartbeat may get before a live worker counts as hung.
const DefaultTimeout = 15 * time.Second

// Classify derives the state of one agent:
// no process record -> STOPPED; process gone -> CRASHED (heartbeat ignored);
// live process with a heartbeat older than timeout -> HANG; otherwise RUNNING.
// A live process without a heartbeat is still starting up and counts as RUNNING.
func Classify(hasPID, alive bool, hb *heartbeat.Record, now time.Time, timeout time.Duration) State {
	if !hasPID {
		return Stopped
	}
	if !alive {
		return Crashed
	}
	if hb != nil && now.Sub(hb.LastTick) > timeout {
		return Hang
	}
	return Running
}

// Observation is what one check saw for an agent.
type Observation struct {
	Agent     string
	WorkUnit  agent.WorkUnit
	State     State
	PID       int
	LastTick  time.Time
	HBStatus  heartbeat.Status
	StartedAt time.Time
}

// Inspector observes agents from their records and the OS.
type Inspector struct {
	Agents     *agent.Registry
	PIDs       *process.Registry
	Heartbeats *heartbeat.Store
	Launcher   process.Launcher
	Clock      clock.PassiveClock
	Timeout    time.Duration
	Log        *slog.Logger
}

func (in *Inspector) timeout() time.Duration {
	if in.Timeout <= 0 {
		return DefaultTimeout
	}
	return in.Timeout
}

func (in *Inspector) logger() *slog.Logger {
	if in.Log == nil {
		return slog.Default()
	}
	return in.Log
}

// Observe classifies one agent. Record read failures degrade to the most
// conservative reading instead of failing the whole pass.
func (in *Inspector) Observe(ctx context.Context, def agent.Definition) Observation {
	obs := Observation{Agent: def.Name, WorkUnit: def.WorkUnit}
	pid, hasPID, err := in.PIDs.Read(ctx, def.Name)
	if err != nil {
		in.logger().Warn("unreadable pid record", "agent", def.Name, "error", err)
	}
	alive := hasPID && err == nil && in.Launcher.IsAlive(pid)
	if err == nil {
		obs.PID = pid
	}
	hb, herr := in.Heartbeats.Lookup(ctx, def.Name)
	if herr != nil {
		in.logger().Warn("unreadable heartbeat", "agent", def.Name, "error", herr)
	}
	if hb != nil {
		obs.LastTick = hb.LastTick
		obs.HBStatus = hb.Status
	}
	obs.State = Classify(hasPID, alive, hb, in.Clock.Now(), in.timeout())
	if alive {
		obs.StartedAt = startTime(in.Launcher, pid)
	}
	return obs
}

// ObserveAll classifies every defined agent in name order.
func (in *Inspector) ObserveAll(ctx context.Context) ([]Observation, error) {
	defs, err := in.Agents.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Observation, 0, len(defs))
	for _, d := range defs {
		out = append(out, in.Observe(ctx, d))
	}
	return out, nil
}

func startTime(l process.Launcher, pid int) time.Time {
	if st, ok := l.(process.StartTimer); ok {
		return st.StartTime(pid)
	}
	return time.Time{}
}

// Reused reports whether pid now belongs to a process that started after the
// agent's last heartbeat, meaning the original worker is gone and the pid was
// recycled. Unknown start times are treated as not reused.
func Reused(l process.Launcher, pid int, lastTick time.Time) bool {
	if lastTick.IsZero() {
		return false
	}
	st := startTime(l, pid)
	// start times have one-second resolution
	return !st.IsZero() && st.After(lastTick.Add(time.Second))
}
