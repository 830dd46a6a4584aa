package supervisor

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/loykin/agentvisor/internal/metrics"
	"github.com/loykin/agentvisor/internal/process"
)

// Starter launches a worker. It is shared by the supervisor restart path and
// the lifecycle actions. The process and heartbeat records belong to the
// worker: it writes both once it is up, so Start leaves them alone.
type Starter struct {
	Spawner process.AgentSpawner
	Log     *slog.Logger
}

// Start spawns the worker of name and returns its pid.
func (s *Starter) Start(_ context.Context, name string) (int, error) {
	pid, err := s.Spawner.SpawnAgent(name)
	if err != nil {
		return 0, fmt.Errorf("spawn %s: %w", name, err)
	}
	s.logger().Debug("worker spawned", "agent", name, "pid", pid)
	metrics.IncStart(name)
	return pid, nil
}

func (s *Starter) logger() *slog.Logger {
	if s.Log == nil {
		return slog.Default()
	}
	return s.Log
}
