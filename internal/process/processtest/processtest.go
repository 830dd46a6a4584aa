// Package processtest provides an in-memory process.Launcher for tests that
// must not start real workers.
package processtest

import (
	"sync"
	"time"

	"github.com/loykin/agentvisor/internal/process"
)

// Launcher records spawns and terminations and tracks liveness in memory.
// Spawned pids start at 1001 and are alive until terminated.
type Launcher struct {
	mu         sync.Mutex
	next       int
	alive      map[int]bool
	starts     map[int]time.Time
	spawned    []process.Command
	terminated []int
	spawnErr   error

	// OnSpawn, when set, runs after every successful Spawn outside the lock.
	// Tests use it to play the part of the started worker.
	OnSpawn func(pid int, c process.Command)
}

func New() *Launcher {
	return &Launcher{next: 1000, alive: map[int]bool{}, starts: map[int]time.Time{}}
}

func (l *Launcher) Spawn(c process.Command) (int, error) {
	l.mu.Lock()
	if l.spawnErr != nil {
		l.mu.Unlock()
		return 0, l.spawnErr
	}
	l.next++
	pid := l.next
	l.alive[pid] = true
	l.spawned = append(l.spawned, c)
	hook := l.OnSpawn
	l.mu.Unlock()
	if hook != nil {
		hook(pid, c)
	}
	return pid, nil
}

func (l *Launcher) IsAlive(pid int) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.alive[pid]
}

func (l *Launcher) Terminate(pid int) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.terminated = append(l.terminated, pid)
	delete(l.alive, pid)
	return nil
}

// StartTime returns the time set with SetStartTime, zero otherwise.
func (l *Launcher) StartTime(pid int) time.Time {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.starts[pid]
}

func (l *Launcher) SetAlive(pid int, alive bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if alive {
		l.alive[pid] = true
	} else {
		delete(l.alive, pid)
	}
}

func (l *Launcher) SetStartTime(pid int, t time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.starts[pid] = t
}

// FailSpawns makes every following Spawn return err (nil resets).
func (l *Launcher) FailSpawns(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.spawnErr = err
}

func (l *Launcher) Spawned() []process.Command {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]process.Command(nil), l.spawned...)
}

func (l *Launcher) Terminated() []int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]int(nil), l.terminated...)
}

// Spawner wraps l in a process.Spawner that runs a fixed executable path.
func (l *Launcher) Spawner() *process.Spawner {
	return &process.Spawner{Launcher: l, Executable: "/usr/local/bin/agentvisor"}
}
