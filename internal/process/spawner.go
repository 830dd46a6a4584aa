package process

import (
	"errors"
	"os"
	"path/filepath"
)

// AgentSpawner starts the worker of one agent and returns its pid.
type AgentSpawner interface {
	SpawnAgent(name string) (int, error)
}

// Spawner starts agent workers by re-executing the agentvisor binary with the
// run-agent subcommand.
type Spawner struct {
	Launcher   Launcher
	Executable string
	ConfigPath string
	// LogDir receives <name>.out with the worker's raw stdout/stderr.
	LogDir  string
	WorkDir string
	Env     []string
}

// NewSpawner returns a Spawner for the running executable.
func NewSpawner(l Launcher, configPath, logDir string) (*Spawner, error) {
	exe, err := os.Executable()
	if err != nil {
		return nil, err
	}
	return &Spawner{Launcher: l, Executable: exe, ConfigPath: configPath, LogDir: logDir}, nil
}

// Command returns the command line used to run agent name.
func (s *Spawner) Command(name string) Command {
	args := []string{"run-agent", name}
	if s.ConfigPath != "" {
		args = append(args, "--config", s.ConfigPath)
	}
	c := Command{Path: s.Executable, Args: args, Dir: s.WorkDir, Env: s.Env}
	if s.LogDir != "" {
		c.OutputPath = filepath.Join(s.LogDir, name+".out")
	}
	return c
}

// SpawnAgent starts a detached worker for name and returns its pid.
func (s *Spawner) SpawnAgent(name string) (int, error) {
	if s == nil || s.Launcher == nil {
		return 0, errors.New("spawner not configured")
	}
	return s.Launcher.Spawn(s.Command(name))
}
