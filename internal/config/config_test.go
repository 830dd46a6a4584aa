package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/loykin/agentvisor/internal/logger"
)

func writeTOML(t *testing.T, data string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "agentvisor.toml")
	if err := os.WriteFile(p, []byte(data), 0o644); err != nil {
		t.Fatalf("write toml: %v", err)
	}
	return p
}

func TestLoadDefaults(t *testing.T) {
	c, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !filepath.IsAbs(c.Root) || filepath.Base(c.Root) != DefaultRoot {
		t.Fatalf("root: %s", c.Root)
	}
	if c.Log.Dir != filepath.Join(c.Root, "log") {
		t.Fatalf("log dir: %s", c.Log.Dir)
	}
	if c.Worker.Interval != 5*time.Second || c.Supervisor.Interval != 5*time.Second ||
		c.Supervisor.HeartbeatTimeout != 15*time.Second || c.Supervisor.RestartDelay != time.Second {
		t.Fatalf("timing defaults: %+v %+v", c.Worker, c.Supervisor)
	}
	if c.Store != "" || c.History.Enabled || c.Supervisor.Listen != "" || !c.UseOSEnv {
		t.Fatalf("unexpected defaults: %+v", c)
	}
	if u := c.WorkUnit("ALPHA_DETECTION"); u.Interval != time.Hour || u.Endpoint != "" || u.Timeout != 5*time.Second {
		t.Fatalf("unit default: %+v", u)
	}
}

func TestLoadFile(t *testing.T) {
	root := t.TempDir()
	p := writeTOML(t, `
root = "`+filepath.ToSlash(root)+`"
store = "sqlite://`+filepath.ToSlash(filepath.Join(root, "agents.db"))+`"
env = ["A=1"]

[worker]
interval = "2s"

[supervisor]
interval = "3s"
heartbeat_timeout = "30s"
restart_delay = "250ms"
listen = "127.0.0.1:8090"

[supervisor.tls]
enabled = true
auto_generate = true
min_version = "1.2"

[supervisor.auth]
enabled = true
tokens = ["ops-token"]

[log]
level = "debug"
format = "json"
color = true
max_size_mb = 5

[history]
enabled = true
dsns = ["sqlite://`+filepath.ToSlash(filepath.Join(root, "history.db"))+`"]

[workunits.ALPHA_DETECTION]
interval = "10m"
endpoint = "http://127.0.0.1:9000/alpha"

[workunits.retail_yield]
interval = "30s"

[workunits.DAO_TREASURY]
schedule = "@hourly"
`)
	c, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.Path != p || c.Root != root {
		t.Fatalf("path/root: %s %s", c.Path, c.Root)
	}
	if !strings.HasPrefix(c.Store, "sqlite://") {
		t.Fatalf("store: %s", c.Store)
	}
	if c.Worker.Interval != 2*time.Second || c.Supervisor.Interval != 3*time.Second ||
		c.Supervisor.HeartbeatTimeout != 30*time.Second || c.Supervisor.RestartDelay != 250*time.Millisecond {
		t.Fatalf("timings: %+v %+v", c.Worker, c.Supervisor)
	}
	if c.Supervisor.Listen != "127.0.0.1:8090" {
		t.Fatalf("listen: %s", c.Supervisor.Listen)
	}
	if tc := c.Supervisor.TLS; !tc.Enabled || !tc.AutoGenerate || tc.MinVersion != "1.2" || tc.Dir != filepath.Join(root, "tls") {
		t.Fatalf("tls: %+v", tc)
	}
	if !c.Supervisor.Auth.Enabled || len(c.Supervisor.Auth.Tokens) != 1 {
		t.Fatalf("auth: %+v", c.Supervisor.Auth)
	}
	if !c.History.Enabled || len(c.History.DSNs) != 1 {
		t.Fatalf("history: %+v", c.History)
	}
	a := c.WorkUnit("ALPHA_DETECTION")
	if a.Interval != 10*time.Minute || a.Endpoint != "http://127.0.0.1:9000/alpha" {
		t.Fatalf("alpha unit: %+v", a)
	}
	if y := c.WorkUnit("retail_yield"); y.Interval != 30*time.Second {
		t.Fatalf("yield unit: %+v", y)
	}
	if d := c.WorkUnit("DAO_TREASURY"); d.Schedule != "@hourly" {
		t.Fatalf("treasury unit: %+v", d)
	}

	lc := c.LoggerConfig()
	if lc.Slog.Level != logger.LevelDebug || lc.Slog.Format != logger.FormatJSON || lc.Slog.Color {
		t.Fatalf("logger config: %+v", lc.Slog)
	}
	if lc.File.Dir != filepath.Join(root, "log") || lc.File.MaxSizeMB != 5 || lc.File.MaxBackups != logger.DefaultMaxBackups {
		t.Fatalf("file config: %+v", lc.File)
	}
	if c.LockPath() != filepath.Join(root, "supervisor.lock") {
		t.Fatalf("lock path: %s", c.LockPath())
	}
	if err := c.EnsureDirs(); err != nil {
		t.Fatalf("ensure dirs: %v", err)
	}
	if _, err := os.Stat(c.Log.Dir); err != nil {
		t.Fatalf("log dir not created: %v", err)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	root := t.TempDir()
	p := writeTOML(t, `
root = "/should/not/be/used"
[supervisor]
interval = "3s"
`)
	t.Setenv("AGENTVISOR_ROOT", root)
	t.Setenv("AGENTVISOR_SUPERVISOR_INTERVAL", "7s")
	c, err := Load(p)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if c.Root != root {
		t.Fatalf("root override: %s", c.Root)
	}
	if c.Supervisor.Interval != 7*time.Second {
		t.Fatalf("interval override: %v", c.Supervisor.Interval)
	}
}

func TestLoadErrors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Fatalf("expected error for missing file")
	}
	if _, err := Load(writeTOML(t, "root = [")); err == nil {
		t.Fatalf("expected parse error")
	}
	_, err := Load(writeTOML(t, "[worker]\ninterval = \"0s\"\n[supervisor]\nheartbeat_timeout = \"-1s\"\n"))
	if err == nil {
		t.Fatalf("expected validation error")
	}
	if !strings.Contains(err.Error(), "worker.interval") || !strings.Contains(err.Error(), "heartbeat_timeout") {
		t.Fatalf("validation error should name both fields: %v", err)
	}
	if _, err := Load(writeTOML(t, "[workunits.ALPHA_DETECTION]\nschedule = \"nope\"\n")); err == nil {
		t.Fatalf("expected schedule validation error")
	}
	if _, err := Load(writeTOML(t, "[supervisor.auth]\nenabled = true\n")); err == nil || !strings.Contains(err.Error(), "supervisor.auth") {
		t.Fatalf("expected auth validation error, got %v", err)
	}
}

func TestTimingMustFitHeartbeatTimeout(t *testing.T) {
	_, err := Load(writeTOML(t, "[worker]\ninterval = \"20s\"\n"))
	if err == nil || !strings.Contains(err.Error(), "shorter than supervisor.heartbeat_timeout") {
		t.Fatalf("expected interval/timeout error, got %v", err)
	}
	_, err = Load(writeTOML(t, "[workunits.ALPHA_DETECTION]\nendpoint = \"http://127.0.0.1:9/x\"\ntimeout = \"10s\"\n"))
	if err == nil || !strings.Contains(err.Error(), "workunits.alpha_detection.timeout") {
		t.Fatalf("expected unit timeout error, got %v", err)
	}
	if _, err := Load(writeTOML(t, "[workunits.ALPHA_DETECTION]\ntimeout = \"-1s\"\n")); err == nil {
		t.Fatalf("expected negative timeout error")
	}

	c, err := Load(writeTOML(t, "[workunits.RETAIL_YIELD]\ntimeout = \"2s\"\n"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := c.WorkUnit("RETAIL_YIELD").Timeout; got != 2*time.Second {
		t.Fatalf("explicit timeout = %s", got)
	}
	// worst case gap between two beats: interval plus one cycle's budget
	if gap := c.Worker.Interval + c.EffectBudget(); gap >= c.Supervisor.HeartbeatTimeout {
		t.Fatalf("budget %s lets beats drift past the timeout", c.EffectBudget())
	}

	long := &Config{Worker: WorkerConfig{Interval: time.Second}, Supervisor: SupervisorConfig{HeartbeatTimeout: 10 * time.Minute}}
	if got := long.EffectBudget(); got != MaxEffectBudget {
		t.Fatalf("budget should be capped, got %s", got)
	}
}

func TestWorkerEnv(t *testing.T) {
	dir := t.TempDir()
	ef := filepath.Join(dir, "w.env")
	if err := os.WriteFile(ef, []byte("FROM_FILE=1\nSHARED=file\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	c := &Config{Root: dir, Store: "sqlite:///x.db", EnvFiles: []string{ef}, Env: []string{"SHARED=list"}}
	out, err := c.WorkerEnv()
	if err != nil {
		t.Fatalf("worker env: %v", err)
	}
	want := []string{"AGENTVISOR_ROOT=" + dir, "AGENTVISOR_STORE=sqlite:///x.db", "FROM_FILE=1", "SHARED=list"}
	if strings.Join(out, "\n") != strings.Join(want, "\n") {
		t.Fatalf("got %v want %v", out, want)
	}
	c.EnvFiles = []string{filepath.Join(dir, "missing.env")}
	if _, err := c.WorkerEnv(); err == nil {
		t.Fatalf("expected error for missing env file")
	}
}
