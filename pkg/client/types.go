package client

import "time"

// Usage is the latest resource sample of a running worker.
type Usage struct {
	PID        int       `json:"pid"`
	CPUPercent float64   `json:"cpu_percent"`
	MemoryMB   float64   `json:"memory_mb"`
	MemoryRSS  uint64    `json:"memory_rss"`
	NumThreads int32     `json:"num_threads"`
	NumFDs     int32     `json:"num_fds,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// AgentStatus is one agent as reported by the supervisor.
type AgentStatus struct {
	Name            string     `json:"name"`
	WorkUnit        string     `json:"work_unit"`
	State           string     `json:"state"`
	PID             int        `json:"pid,omitempty"`
	LastTick        *time.Time `json:"last_tick,omitempty"`
	HeartbeatStatus string     `json:"heartbeat_status,omitempty"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	Usage           *Usage     `json:"usage,omitempty"`
}

// HealthResponse is returned by /health.
type HealthResponse struct {
	OK            bool `json:"ok"`
	CheckedAgents int  `json:"checked_agents"`
}

// RestartResponse is returned by a successful restart.
type RestartResponse struct {
	OK  bool `json:"ok"`
	PID int  `json:"pid"`
}

// ErrorResponse represents an API error
type ErrorResponse struct {
	Error string `json:"error"`
}
