package process

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"
)

// Launcher is the OS capability the supervisor and the CLI need: start a
// detached worker, probe it, stop it.
type Launcher interface {
	Spawn(cmd Command) (int, error)
	IsAlive(pid int) bool
	Terminate(pid int) error
}

// StartTimer is implemented by launchers that can tell when a process started.
type StartTimer interface {
	StartTime(pid int) time.Time
}

// Command describes a detached child process.
type Command struct {
	Path string
	Args []string
	Dir  string
	Env  []string
	// OutputPath receives the child's stdout and stderr (append mode). Empty
	// discards output.
	OutputPath string
}

// OSLauncher starts real processes.
type OSLauncher struct{}

func (OSLauncher) Spawn(c Command) (int, error) {
	if c.Path == "" {
		return 0, errors.New("spawn: empty command path")
	}
	cmd := exec.Command(c.Path, c.Args...)
	cmd.Dir = c.Dir
	if len(c.Env) > 0 {
		cmd.Env = c.Env
	}
	out, err := openOutput(c.OutputPath)
	if err != nil {
		return 0, err
	}
	defer func() { _ = out.Close() }()
	cmd.Stdin = nil
	cmd.Stdout = out
	cmd.Stderr = out
	configureSysProcAttr(cmd)
	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("spawn %s: %w", c.Path, err)
	}
	pid := cmd.Process.Pid
	// reap the child so it does not linger as a zombie while the parent lives on
	go func() { _ = cmd.Wait() }()
	return pid, nil
}

func (OSLauncher) IsAlive(pid int) bool { return pidAlive(pid) }

func (OSLauncher) StartTime(pid int) time.Time { return StartTime(pid) }

func (OSLauncher) Terminate(pid int) error {
	if pid <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidPID, pid)
	}
	return terminate(pid)
}

func openOutput(path string) (*os.File, error) {
	if path == "" {
		return os.OpenFile(os.DevNull, os.O_RDWR, 0)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, err
	}
	return os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
}


// StartTime returns when pid was started, or the zero time when unknown.
func StartTime(pid int) time.Time {
	sec := getProcStartUnix(pid)
	if sec <= 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0)
}
