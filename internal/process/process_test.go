package process

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/loykin/agentvisor/internal/store"
	fsstore "github.com/loykin/agentvisor/internal/store/fs"
)

func requireUnix(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("tests require sh/sleep on Unix-like systems")
	}
}

func waitUntil(timeout, step time.Duration, fn func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if fn() {
			return true
		}
		time.Sleep(step)
	}
	return false
}

func newRegistry(t *testing.T) (*Registry, store.Store) {
	t.Helper()
	s, err := fsstore.New(t.TempDir())
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	return NewRegistry(s), s
}

func TestParsePID(t *testing.T) {
	cases := []struct {
		in   string
		want int
		ok   bool
	}{
		{"12345\n", 12345, true},
		{"12345", 12345, true},
		{" 77 \r\nextra", 77, true},
		{"0\n", 0, false},
		{"-3", 0, false},
		{"", 0, false},
		{"abc\n", 0, false},
	}
	for _, c := range cases {
		got, err := ParsePID([]byte(c.in))
		if c.ok && (err != nil || got != c.want) {
			t.Errorf("ParsePID(%q)=%d,%v want %d", c.in, got, err, c.want)
		}
		if !c.ok && !errors.Is(err, ErrInvalidPID) {
			t.Errorf("ParsePID(%q) expected ErrInvalidPID, got %d,%v", c.in, got, err)
		}
	}
}

func FuzzParsePID(f *testing.F) {
	f.Add("123\n")
	f.Add("0\n")
	f.Add("not-a-pid\n{}\n")
	f.Fuzz(func(t *testing.T, content string) {
		pid, err := ParsePID([]byte(content)) // Should never panic
		if err == nil && pid <= 0 {
			t.Fatalf("accepted non-positive pid %d from %q", pid, content)
		}
	})
}

func TestRegistryRoundTrip(t *testing.T) {
	r, _ := newRegistry(t)
	ctx := context.Background()
	if _, ok, err := r.Read(ctx, "demo-alpha"); ok || err != nil {
		t.Fatalf("expected no record, got ok=%v err=%v", ok, err)
	}
	if err := r.Write(ctx, "demo-alpha", 4242); err != nil {
		t.Fatalf("write: %v", err)
	}
	pid, ok, err := r.Read(ctx, "demo-alpha")
	if err != nil || !ok || pid != 4242 {
		t.Fatalf("read: pid=%d ok=%v err=%v", pid, ok, err)
	}
	agents, _ := r.Agents(ctx)
	if len(agents) != 1 || agents[0] != "demo-alpha" {
		t.Fatalf("agents: %v", agents)
	}
	if err := r.Delete(ctx, "demo-alpha"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := r.Delete(ctx, "demo-alpha"); err != nil {
		t.Fatalf("delete missing: %v", err)
	}
	if err := r.Write(ctx, "x", 0); !errors.Is(err, ErrInvalidPID) {
		t.Fatalf("expected ErrInvalidPID for pid 0, got %v", err)
	}
}

func TestRegistryDeleteIfKeepsReplacement(t *testing.T) {
	r, s := newRegistry(t)
	ctx := context.Background()
	_ = r.Write(ctx, "a", 200)
	// old worker 100 exiting after the supervisor already recorded 200
	if err := r.DeleteIf(ctx, "a", 100); err != nil {
		t.Fatalf("deleteIf: %v", err)
	}
	if pid, ok, _ := r.Read(ctx, "a"); !ok || pid != 200 {
		t.Fatalf("replacement record lost: pid=%d ok=%v", pid, ok)
	}
	if err := r.DeleteIf(ctx, "a", 200); err != nil {
		t.Fatalf("deleteIf own: %v", err)
	}
	if _, ok, _ := r.Read(ctx, "a"); ok {
		t.Fatalf("record should be gone")
	}
	// corrupt record is dropped
	_ = s.Put(ctx, store.BucketPIDs, "b", []byte("garbage"))
	if _, _, err := r.Read(ctx, "b"); !errors.Is(err, ErrInvalidPID) {
		t.Fatalf("expected ErrInvalidPID, got %v", err)
	}
	if err := r.DeleteIf(ctx, "b", 1); err != nil {
		t.Fatalf("deleteIf corrupt: %v", err)
	}
	if _, ok, _ := r.Read(ctx, "b"); ok {
		t.Fatalf("corrupt record should be gone")
	}
}

func TestLauncherSpawnAliveTerminate(t *testing.T) {
	requireUnix(t)
	dir := t.TempDir()
	out := filepath.Join(dir, "log", "sleeper.out")
	var l OSLauncher
	pid, err := l.Spawn(Command{Path: "/bin/sh", Args: []string{"-c", "echo hello; exec sleep 30"}, OutputPath: out})
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	if !l.IsAlive(pid) {
		t.Fatalf("expected pid %d alive", pid)
	}
	if !waitUntil(2*time.Second, 20*time.Millisecond, func() bool {
		b, _ := os.ReadFile(out)
		return strings.Contains(string(b), "hello")
	}) {
		t.Fatalf("output not captured")
	}
	if st := StartTime(pid); st.IsZero() || time.Since(st) > time.Minute {
		t.Fatalf("unexpected start time %v", st)
	}
	if err := l.Terminate(pid); err != nil {
		t.Fatalf("terminate: %v", err)
	}
	if !waitUntil(3*time.Second, 20*time.Millisecond, func() bool { return !l.IsAlive(pid) }) {
		t.Fatalf("process %d still alive after terminate", pid)
	}
	// terminating a gone process is fine
	if err := l.Terminate(pid); err != nil {
		t.Fatalf("terminate gone: %v", err)
	}
}

func TestLauncherSpawnMissingBinary(t *testing.T) {
	var l OSLauncher
	if _, err := l.Spawn(Command{Path: filepath.Join(t.TempDir(), "nope")}); err == nil {
		t.Fatalf("expected spawn error")
	}
	if _, err := l.Spawn(Command{}); err == nil {
		t.Fatalf("expected error for empty path")
	}
	if l.IsAlive(0) || l.IsAlive(-1) {
		t.Fatalf("non-positive pids are never alive")
	}
}

type recordingLauncher struct {
	cmds []Command
}

func (r *recordingLauncher) Spawn(c Command) (int, error) {
	r.cmds = append(r.cmds, c)
	return 1000 + len(r.cmds), nil
}
func (r *recordingLauncher) IsAlive(int) bool    { return false }
func (r *recordingLauncher) Terminate(int) error { return nil }

func TestSpawnerCommand(t *testing.T) {
	rl := &recordingLauncher{}
	s := &Spawner{Launcher: rl, Executable: "/usr/local/bin/agentvisor", ConfigPath: "/etc/agentvisor.toml", LogDir: "/var/log/av"}
	pid, err := s.SpawnAgent("demo-alpha")
	if err != nil || pid != 1001 {
		t.Fatalf("spawn: pid=%d err=%v", pid, err)
	}
	c := rl.cmds[0]
	if c.Path != "/usr/local/bin/agentvisor" {
		t.Fatalf("path: %s", c.Path)
	}
	want := []string{"run-agent", "demo-alpha", "--config", "/etc/agentvisor.toml"}
	if strings.Join(c.Args, " ") != strings.Join(want, " ") {
		t.Fatalf("args: %v", c.Args)
	}
	if c.OutputPath != filepath.Join("/var/log/av", "demo-alpha.out") {
		t.Fatalf("output: %s", c.OutputPath)
	}

	s.ConfigPath = ""
	if c := s.Command("x"); len(c.Args) != 2 {
		t.Fatalf("no --config expected: %v", c.Args)
	}
	var nilSpawner *Spawner
	if _, err := nilSpawner.SpawnAgent("x"); err == nil {
		t.Fatalf("expected error for unconfigured spawner")
	}
}
