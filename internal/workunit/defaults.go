package workunit

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/loykin/agentvisor/internal/agent"
	"github.com/loykin/agentvisor/internal/store"
)

// Settings tunes one unit in Default.
type Settings struct {
	Interval time.Duration
	// Schedule is a standard cron expression or descriptor ("@hourly",
	// "@every 10m") and replaces Interval when set.
	Schedule string
	Endpoint string
	// Budget caps one call to Endpoint, retries included.
	Budget time.Duration
}

// Default registers every known work unit. Each agent gets its own gate, so the
// once-per-interval limit applies per agent. settings may return a zero
// Interval, which means one hour.
func Default(s store.Store, settings func(agent.WorkUnit) Settings) *Registry {
	r := NewRegistry()
	for _, unit := range agent.WorkUnits() {
		r.Register(unit, func(string) (Unit, error) {
			cfg := Settings{}
			if settings != nil {
				cfg = settings(unit)
			}
			if cfg.Interval <= 0 {
				cfg.Interval = time.Hour
			}
			chain := Chain{LogEffect{}}
			if cfg.Endpoint != "" {
				h, err := NewHTTPEffect(cfg.Endpoint, cfg.Budget)
				if err != nil {
					return nil, err
				}
				chain = append(chain, h)
			}
			if s != nil {
				chain = append(chain, JournalEffect{Store: s})
			}
			g := &Gated{Interval: cfg.Interval, Effect: chain}
			if cfg.Schedule != "" {
				sched, err := cron.ParseStandard(cfg.Schedule)
				if err != nil {
					return nil, fmt.Errorf("schedule %q: %w", cfg.Schedule, err)
				}
				g.Schedule = sched
			}
			return g, nil
		})
	}
	return r
}
