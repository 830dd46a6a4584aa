package supervisor

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"k8s.io/utils/clock"

	"github.com/loykin/agentvisor/internal/health"
	"github.com/loykin/agentvisor/internal/history"
	"github.com/loykin/agentvisor/internal/metrics"
	"github.com/loykin/agentvisor/internal/process"
)

// DefaultInterval is the pause between two health-check passes.
const DefaultInterval = 5 * time.Second

// ReasonManual labels restarts requested by an operator.
const ReasonManual = "manual"

// Supervisor periodically classifies every agent and restarts the CRASHED and
// HANG ones. Check and Restart are serialized, so the console and the HTTP API
// may call them while Run is ticking.
type Supervisor struct {
	Inspector *health.Inspector
	Starter   *Starter
	Clock     clock.WithTicker
	Interval  time.Duration
	History   *history.Recorder
	// Resources, when set, samples the live workers after every pass.
	Resources *metrics.ResourceCollector
	Log       *slog.Logger

	mu   sync.Mutex
	last []health.Observation
}

func (s *Supervisor) interval() time.Duration {
	if s.Interval <= 0 {
		return DefaultInterval
	}
	return s.Interval
}

func (s *Supervisor) logger() *slog.Logger {
	if s.Log == nil {
		return slog.Default()
	}
	return s.Log
}

func (s *Supervisor) launcher() process.Launcher { return s.Inspector.Launcher }

// Check runs one health-check pass. It returns the states observed before any
// restart it triggered.
func (s *Supervisor) Check(ctx context.Context) ([]health.Observation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	began := s.Clock.Now()
	obs, err := s.Inspector.ObserveAll(ctx)
	if err != nil {
		return nil, err
	}
	running := make(map[string]int, len(obs))
	for _, o := range obs {
		metrics.SetState(o.Agent, string(o.State))
		if !o.LastTick.IsZero() {
			metrics.SetHeartbeatAge(o.Agent, began.Sub(o.LastTick).Seconds())
		}
		switch o.State {
		case health.Crashed, health.Hang:
			if pid, err := s.restart(ctx, o, string(o.State)); err == nil {
				running[o.Agent] = pid
			}
		case health.Running:
			running[o.Agent] = o.PID
		}
	}
	if s.Resources != nil {
		s.Resources.Collect(running)
	}
	s.last = obs
	metrics.ObserveCheck(s.Clock.Since(began).Seconds())
	return obs, nil
}

// Last returns the observations of the most recent pass.
func (s *Supervisor) Last() []health.Observation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]health.Observation(nil), s.last...)
}

// Restart forces a restart of name regardless of its state.
func (s *Supervisor) Restart(ctx context.Context, name string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	def, err := s.Inspector.Agents.Get(ctx, name)
	if err != nil {
		return 0, err
	}
	return s.restart(ctx, s.Inspector.Observe(ctx, def), ReasonManual)
}

// restart drops the process record, terminates the old worker when it still
// runs and spawns a new one.
func (s *Supervisor) restart(ctx context.Context, o health.Observation, reason string) (int, error) {
	log := s.logger().With("agent", o.Agent, "state", o.State, "reason", reason)
	log.Warn("restarting agent", "pid", o.PID)

	if err := s.Inspector.PIDs.Delete(ctx, o.Agent); err != nil {
		log.Warn("failed to remove process record", "error", err)
	}
	if o.PID > 0 && s.launcher().IsAlive(o.PID) {
		if health.Reused(s.launcher(), o.PID, o.LastTick) {
			log.Warn("pid was reused by another process, not terminating", "pid", o.PID)
		} else if err := s.launcher().Terminate(o.PID); err != nil {
			log.Warn("failed to terminate old worker", "pid", o.PID, "error", err)
		}
	}

	pid, err := s.Starter.Start(ctx, o.Agent)
	if err != nil {
		log.Error("restart failed", "error", err)
		return 0, err
	}
	metrics.IncRestart(o.Agent, reason)
	s.History.Emit(ctx, history.Event{
		Type:     history.EventRestart,
		Agent:    o.Agent,
		WorkUnit: string(o.WorkUnit),
		PID:      pid,
		Reason:   reason,
		Detail:   "previous pid " + strconv.Itoa(o.PID),
	})
	log.Info("agent restarted", "pid", pid)
	return pid, nil
}

// Run checks every Interval until ctx is done. Commands read from in are
// executed between passes and answered on out. A nil in disables the console.
// Run returns nil on cancellation and on the "exit" command.
func (s *Supervisor) Run(ctx context.Context, in io.Reader, out io.Writer) error {
	s.logger().Info("supervisor started", "interval", s.interval())
	t := s.Clock.NewTicker(s.interval())
	defer t.Stop()

	s.pass(ctx)
	var lines <-chan string
	if in != nil {
		lines = readLines(ctx, in)
	}
	for {
		select {
		case <-ctx.Done():
			s.logger().Info("supervisor stopping")
			return nil
		case <-t.C():
			s.pass(ctx)
		case line, ok := <-lines:
			if !ok {
				// input closed; keep supervising without a console
				lines = nil
				continue
			}
			if errors.Is(s.Execute(ctx, line, out), errExit) {
				s.logger().Info("supervisor exiting on console request")
				return nil
			}
		}
	}
}

func (s *Supervisor) pass(ctx context.Context) {
	if _, err := s.Check(ctx); err != nil && !errors.Is(err, context.Canceled) {
		s.logger().Error("health check failed", "error", err)
	}
}
