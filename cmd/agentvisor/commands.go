package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/loykin/agentvisor/internal/auth"
	"github.com/loykin/agentvisor/internal/lifecycle"
	"github.com/loykin/agentvisor/internal/metrics"
	"github.com/loykin/agentvisor/internal/server"
	"github.com/loykin/agentvisor/internal/supervisor"
	agenttls "github.com/loykin/agentvisor/internal/tls"
	"github.com/loykin/agentvisor/pkg/client"
	"github.com/loykin/agentvisor/pkg/template"
)

// command implements each subcommand on top of a freshly loaded app
type command struct {
	flags *GlobalFlags
	out   io.Writer
}

func (c command) open() (*app, error) {
	return newApp(c.flags.ConfigPath)
}

// withActions loads the app, runs fn with lifecycle actions printing to c.out
// and releases the app.
func (c command) withActions(fn func(*lifecycle.Actions) error) error {
	a, err := c.open()
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()
	acts, err := a.actions(c.out)
	if err != nil {
		return err
	}
	return fn(acts)
}

// CreateAgent defines <baseName>-<suffix> for workUnit
func (c command) CreateAgent(ctx context.Context, baseName, workUnit string) error {
	return c.withActions(func(acts *lifecycle.Actions) error {
		_, err := acts.Create(ctx, baseName, workUnit)
		return err
	})
}

// ListAgents prints every definition
func (c command) ListAgents(ctx context.Context) error {
	return c.withActions(func(acts *lifecycle.Actions) error {
		_, err := acts.List(ctx)
		return err
	})
}

// StartAgent spawns the worker of name
func (c command) StartAgent(ctx context.Context, name string) error {
	return c.withActions(func(acts *lifecycle.Actions) error {
		_, err := acts.Start(ctx, name)
		return err
	})
}

// StartAll spawns every agent that is not already running
func (c command) StartAll(ctx context.Context) error {
	return c.withActions(func(acts *lifecycle.Actions) error {
		return acts.StartAll(ctx)
	})
}

// StopAgent terminates the worker of name
func (c command) StopAgent(ctx context.Context, name string) error {
	return c.withActions(func(acts *lifecycle.Actions) error {
		return acts.Stop(ctx, name)
	})
}

// RestartAgent stops name, waits and starts it again
func (c command) RestartAgent(ctx context.Context, name string) error {
	return c.withActions(func(acts *lifecycle.Actions) error {
		_, err := acts.Restart(ctx, name)
		return err
	})
}

// RemoveAgent deletes a stopped agent
func (c command) RemoveAgent(ctx context.Context, name string) error {
	return c.withActions(func(acts *lifecycle.Actions) error {
		return acts.Remove(ctx, name)
	})
}

// Status prints the state of every agent, restarting crashed ones first with --heal
func (c command) Status(ctx context.Context, f StatusFlags) error {
	return c.withActions(func(acts *lifecycle.Actions) error {
		if f.Heal {
			if _, err := acts.RestartCrashed(ctx); err != nil {
				return err
			}
		}
		_, err := acts.Status(ctx)
		return err
	})
}

// Supervise holds the supervisor lock and runs the health-check loop until
// the console exits or the process is signalled.
func (c command) Supervise(ctx context.Context, f SuperviseFlags) error {
	a, err := c.open()
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	lock, err := supervisor.Lock(a.cfg.LockPath())
	if err != nil {
		if errors.Is(err, supervisor.ErrLocked) {
			return fmt.Errorf("another supervisor is already running: %w", err)
		}
		return err
	}
	defer func() { _ = lock.Unlock() }()

	log := a.cfg.LoggerConfig().NewFileLogger("supervisor", os.Stderr)
	defer func() { _ = log.Close() }()

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		return err
	}
	resources := metrics.NewResourceCollector()
	if err := resources.RegisterMetrics(prometheus.DefaultRegisterer); err != nil {
		return err
	}

	starter, err := a.starter()
	if err != nil {
		return err
	}
	starter.Log = log.Logger
	inspector := a.inspector()
	inspector.Log = log.Logger
	sup := &supervisor.Supervisor{
		Inspector: inspector,
		Starter:   starter,
		Clock:     a.clock,
		Interval:  a.cfg.Supervisor.Interval,
		History:   a.history,
		Resources: resources,
		Log:       log.Logger,
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	listen := f.Listen
	if listen == "" {
		listen = a.cfg.Supervisor.Listen
	}
	if listen != "" {
		tlsCfg, err := agenttls.Setup(a.cfg.Supervisor.TLS)
		if err != nil {
			return fmt.Errorf("status API TLS: %w", err)
		}
		authn, err := auth.New(a.cfg.Supervisor.Auth)
		if err != nil {
			return err
		}
		srv, err := server.NewServer(server.Options{Addr: listen, BasePath: f.BasePath, TLS: tlsCfg, Auth: authn}, sup, resources)
		if err != nil {
			return fmt.Errorf("listen %s: %w", listen, err)
		}
		log.Info("status API listening", "addr", srv.Addr, "tls", tlsCfg != nil, "auth", authn.Enabled())
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	var in io.Reader = os.Stdin
	if f.NoConsole {
		in = nil
	}
	return sup.Run(ctx, in, c.out)
}

// RunAgent is the worker entry point: it runs the agent loop until the
// process is signalled.
func (c command) RunAgent(ctx context.Context, name string) error {
	a, err := c.open()
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()
	return a.runtime().Run(ctx, name)
}

// HashPassword reads a password from in and prints its bcrypt hash for
// [supervisor.auth].password_hash.
func (c command) HashPassword(in io.Reader) error {
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	h, err := auth.HashPassword(strings.TrimRight(line, "\r\n"))
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(c.out, h)
	return err
}

func (c command) apiClient(f APIFlags) (*client.Client, error) {
	cfg := client.Config{BaseURL: f.APIUrl, Timeout: f.APITimeout, Token: f.APIToken}
	if f.CACert != "" || f.Insecure {
		cfg.TLS = &client.TLSClientConfig{CACert: f.CACert, SkipVerify: f.Insecure}
	}
	return client.New(cfg)
}

// RemoteStatus prints the agents of a running supervisor in the local status format
func (c command) RemoteStatus(ctx context.Context, f APIFlags) error {
	cl, err := c.apiClient(f)
	if err != nil {
		return err
	}
	agents, err := cl.Agents(ctx)
	if err != nil {
		return fmt.Errorf("supervisor at %s: %w", f.APIUrl, err)
	}
	if len(agents) == 0 {
		_, _ = fmt.Fprintln(c.out, "No agents defined")
	}
	for _, a := range agents {
		pid := "-"
		if a.PID > 0 {
			pid = strconv.Itoa(a.PID)
		}
		tick := "-"
		if a.LastTick != nil {
			tick = a.LastTick.UTC().Format(time.RFC3339)
		}
		_, _ = fmt.Fprintf(c.out, "%-7s %s pid=%s lastTick=%s\n", a.State, a.Name, pid, tick)
	}
	return nil
}

// RemoteRestart restarts name through a running supervisor
func (c command) RemoteRestart(ctx context.Context, f APIFlags, name string) error {
	cl, err := c.apiClient(f)
	if err != nil {
		return err
	}
	pid, err := cl.Restart(ctx, name)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(c.out, "Agent restarted: %s (pid %d)\n", name, pid)
	return err
}

// InitConfig writes a starter configuration file
func (c command) InitConfig(f InitConfigFlags) error {
	b, err := template.NewGenerator().GenerateTOML(template.TemplateType(f.Template), f.Root)
	if err != nil {
		return err
	}
	if f.Output == "" {
		_, err = c.out.Write(b)
		return err
	}
	flag := os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	if !f.Force {
		flag |= os.O_EXCL
	}
	out, err := os.OpenFile(f.Output, flag, 0o600)
	if err != nil {
		return fmt.Errorf("write %s: %w", f.Output, err)
	}
	if _, err := out.Write(b); err != nil {
		_ = out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	_, err = fmt.Fprintf(c.out, "Config written: %s\n", f.Output)
	return err
}
