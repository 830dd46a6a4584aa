package metrics

import (
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shirou/gopsutil/v4/process"
)

// Usage is a resource sample of one agent worker.
type Usage struct {
	Agent      string    `json:"agent"`
	PID        int       `json:"pid"`
	CPUPercent float64   `json:"cpu_percent"`
	MemoryMB   float64   `json:"memory_mb"`
	MemoryRSS  uint64    `json:"memory_rss"`
	NumThreads int32     `json:"num_threads"`
	NumFDs     int32     `json:"num_fds,omitempty"` // Unix only
	Timestamp  time.Time `json:"timestamp"`
}

// ResourceCollector samples CPU and memory of running workers. The supervisor
// calls Collect once per health-check pass.
type ResourceCollector struct {
	mu     sync.RWMutex
	latest map[string]Usage
	procs  map[int]*process.Process // kept across passes so CPUPercent has a baseline

	cpuPercent *prometheus.GaugeVec
	memoryMB   *prometheus.GaugeVec
	numThreads *prometheus.GaugeVec
	numFDs     *prometheus.GaugeVec
}

func NewResourceCollector() *ResourceCollector {
	gauge := func(name, help string) *prometheus.GaugeVec {
		return prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "agentvisor",
			Subsystem: "agent",
			Name:      name,
			Help:      help,
		}, []string{"name"})
	}
	return &ResourceCollector{
		latest:     make(map[string]Usage),
		procs:      make(map[int]*process.Process),
		cpuPercent: gauge("cpu_percent", "CPU usage percentage of the agent worker."),
		memoryMB:   gauge("memory_mb", "Resident memory of the agent worker in MB."),
		numThreads: gauge("num_threads", "Number of threads of the agent worker."),
		numFDs:     gauge("num_fds", "Number of open file descriptors of the agent worker (Unix only)."),
	}
}

// RegisterMetrics registers the resource gauges with the provided registerer.
func (c *ResourceCollector) RegisterMetrics(r prometheus.Registerer) error {
	collectors := []prometheus.Collector{c.cpuPercent, c.memoryMB, c.numThreads}
	if runtime.GOOS != "windows" {
		collectors = append(collectors, c.numFDs)
	}
	for _, col := range collectors {
		if err := r.Register(col); err != nil {
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	return nil
}

// Collect samples every agent in running (agent name -> pid) and forgets
// agents that are no longer listed.
func (c *ResourceCollector) Collect(running map[string]int) {
	now := time.Now()
	samples := make(map[string]Usage, len(running))
	for name, pid := range running {
		u, err := c.sample(name, pid, now)
		if err != nil {
			slog.Debug("failed to sample agent resources", "agent", name, "pid", pid, "error", err)
			continue
		}
		samples[name] = u
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for name, u := range samples {
		c.cpuPercent.WithLabelValues(name).Set(u.CPUPercent)
		c.memoryMB.WithLabelValues(name).Set(u.MemoryMB)
		c.numThreads.WithLabelValues(name).Set(float64(u.NumThreads))
		if runtime.GOOS != "windows" {
			c.numFDs.WithLabelValues(name).Set(float64(u.NumFDs))
		}
	}
	for name := range c.latest {
		if _, ok := samples[name]; !ok {
			c.cpuPercent.DeleteLabelValues(name)
			c.memoryMB.DeleteLabelValues(name)
			c.numThreads.DeleteLabelValues(name)
			c.numFDs.DeleteLabelValues(name)
		}
	}
	live := make(map[int]bool, len(samples))
	for _, u := range samples {
		live[u.PID] = true
	}
	for pid := range c.procs {
		if !live[pid] {
			delete(c.procs, pid)
		}
	}
	c.latest = samples
}

func (c *ResourceCollector) handle(pid int) (*process.Process, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if p, ok := c.procs[pid]; ok {
		return p, nil
	}
	p, err := process.NewProcess(int32(pid))
	if err != nil {
		return nil, err
	}
	c.procs[pid] = p
	return p, nil
}

func (c *ResourceCollector) sample(name string, pid int, at time.Time) (Usage, error) {
	if pid <= 0 {
		return Usage{}, fmt.Errorf("invalid pid %d", pid)
	}
	p, err := c.handle(pid)
	if err != nil {
		return Usage{}, fmt.Errorf("failed to create process handle: %w", err)
	}
	mem, err := p.MemoryInfo()
	if err != nil {
		return Usage{}, fmt.Errorf("failed to get memory info: %w", err)
	}
	u := Usage{
		Agent:     name,
		PID:       pid,
		MemoryMB:  float64(mem.RSS) / 1024 / 1024,
		MemoryRSS: mem.RSS,
		Timestamp: at,
	}
	// CPUPercent needs a previous call on the same handle for a meaningful value
	if cpu, err := p.Percent(0); err == nil {
		u.CPUPercent = cpu
	}
	if n, err := p.NumThreads(); err == nil {
		u.NumThreads = n
	}
	if runtime.GOOS != "windows" {
		if n, err := p.NumFDs(); err == nil {
			u.NumFDs = n
		}
	}
	return u, nil
}

// Latest returns the most recent sample of agent.
func (c *ResourceCollector) Latest(agent string) (Usage, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	u, ok := c.latest[agent]
	return u, ok
}
