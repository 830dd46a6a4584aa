package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/mattn/go-isatty"
	"k8s.io/utils/clock"

	"github.com/loykin/agentvisor/internal/agent"
	"github.com/loykin/agentvisor/internal/config"
	"github.com/loykin/agentvisor/internal/health"
	"github.com/loykin/agentvisor/internal/heartbeat"
	"github.com/loykin/agentvisor/internal/history"
	histfactory "github.com/loykin/agentvisor/internal/history/factory"
	"github.com/loykin/agentvisor/internal/lifecycle"
	"github.com/loykin/agentvisor/internal/process"
	"github.com/loykin/agentvisor/internal/store"
	"github.com/loykin/agentvisor/internal/store/factory"
	"github.com/loykin/agentvisor/internal/supervisor"
	"github.com/loykin/agentvisor/internal/worker"
	"github.com/loykin/agentvisor/internal/workunit"
)

// app is the wiring shared by every subcommand: configuration, the record
// store and the registries on top of it.
type app struct {
	cfg        *config.Config
	log        *slog.Logger
	store      store.Store
	agents     *agent.Registry
	pids       *process.Registry
	heartbeats *heartbeat.Store
	launcher   process.Launcher
	history    *history.Recorder
	clock      clock.WithTicker
}

func newApp(configPath string) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.EnsureDirs(); err != nil {
		return nil, err
	}
	log := cfg.LoggerConfig().NewSlogger()
	slog.SetDefault(log)

	st, err := factory.NewFromDSN(cfg.Store, cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	a := &app{
		cfg:        cfg,
		log:        log,
		store:      st,
		agents:     agent.NewRegistry(st),
		pids:       process.NewRegistry(st),
		heartbeats: heartbeat.NewStore(st),
		launcher:   process.OSLauncher{},
		clock:      clock.RealClock{},
	}
	a.agents.SetLogger(log)
	if cfg.History.Enabled && len(cfg.History.DSNs) > 0 {
		rec, err := histfactory.NewRecorder(log, cfg.History.DSNs)
		if err != nil {
			// history is best effort; the lifecycle works without it
			log.Warn("history disabled", "error", err)
		} else {
			a.history = rec
		}
	}
	return a, nil
}

func (a *app) Close() error {
	return errors.Join(a.history.Close(), a.store.Close())
}

func (a *app) inspector() *health.Inspector {
	return &health.Inspector{
		Agents:     a.agents,
		PIDs:       a.pids,
		Heartbeats: a.heartbeats,
		Launcher:   a.launcher,
		Clock:      a.clock,
		Timeout:    a.cfg.Supervisor.HeartbeatTimeout,
		Log:        a.log,
	}
}

// starter spawns workers as "<this binary> run-agent <name>" with the
// configured environment and output in <log dir>/<name>.out.
func (a *app) starter() (*supervisor.Starter, error) {
	sp, err := process.NewSpawner(a.launcher, a.cfg.Path, a.cfg.Log.Dir)
	if err != nil {
		return nil, err
	}
	if sp.Env, err = a.cfg.WorkerEnv(); err != nil {
		return nil, err
	}
	return &supervisor.Starter{Spawner: sp, Log: a.log}, nil
}

func (a *app) actions(out io.Writer) (*lifecycle.Actions, error) {
	st, err := a.starter()
	if err != nil {
		return nil, err
	}
	return &lifecycle.Actions{
		Store:        a.store,
		Inspector:    a.inspector(),
		Starter:      st,
		Clock:        a.clock,
		RestartDelay: a.cfg.Supervisor.RestartDelay,
		History:      a.history,
		Out:          out,
		Color:        isTerminal(out),
		Log:          a.log,
	}, nil
}

func (a *app) runtime() *worker.Runtime {
	units := workunit.Default(a.store, func(u agent.WorkUnit) workunit.Settings {
		c := a.cfg.WorkUnit(string(u))
		return workunit.Settings{Interval: c.Interval, Schedule: c.Schedule, Endpoint: c.Endpoint, Budget: c.Timeout}
	})
	rt := &worker.Runtime{
		Agents:     a.agents,
		Heartbeats: a.heartbeats,
		PIDs:       a.pids,
		Units:      units,
		Clock:      a.clock,
		Interval:   a.cfg.Worker.Interval,
		Log:        a.cfg.LoggerConfig(),
	}
	// a spawned worker's stderr is its .out file; only tee when run by hand
	if isTerminal(os.Stderr) {
		rt.Console = os.Stderr
	}
	return rt
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
