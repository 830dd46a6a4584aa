package workunit

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/loykin/agentvisor/internal/agent"
	"github.com/loykin/agentvisor/internal/store"
)

var summaries = map[agent.WorkUnit]string{
	agent.DAOTreasury:         "treasury position check",
	agent.RetailYield:         "yield opportunity scan",
	agent.AlphaDetection:      "trending token scan",
	agent.PredictionArbitrage: "prediction market spread scan",
	agent.ColosseumForum:      "forum participation round",
}

// LogEffect only records that the unit ran.
type LogEffect struct{}

func (LogEffect) Apply(_ context.Context, c Cycle) error {
	if c.Log != nil {
		c.Log.Info("work unit tick", "unit", c.Unit, "task", summaries[c.Unit], "cycle", c.N)
	}
	return nil
}

// Chain applies effects in order and stops at the first error.
type Chain []Effect

func (ch Chain) Apply(ctx context.Context, c Cycle) error {
	for _, e := range ch {
		if err := e.Apply(ctx, c); err != nil {
			return err
		}
	}
	return nil
}

// Payload is the body HTTPEffect posts.
type Payload struct {
	Agent    string         `json:"agent"`
	WorkUnit agent.WorkUnit `json:"workUnit"`
	Cycle    int            `json:"cycle"`
	At       time.Time      `json:"at"`
}

// DefaultBudget bounds one HTTPEffect.Apply, retries included, when no budget
// is configured. It stays below the default heartbeat timeout minus the default
// worker interval.
const DefaultBudget = 5 * time.Second

// HTTPEffect posts a Payload to an external collaborator, retrying with
// exponential backoff. Budget caps the whole call, every attempt included, so
// a failing endpoint cannot hold the worker past its heartbeat deadline.
type HTTPEffect struct {
	Endpoint string
	Client   *http.Client
	Budget   time.Duration
}

// NewHTTPEffect validates endpoint. A bad endpoint is a configuration error.
// A non-positive budget means DefaultBudget.
func NewHTTPEffect(endpoint string, budget time.Duration) (*HTTPEffect, error) {
	u, err := url.Parse(endpoint)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("invalid endpoint %q", endpoint)
	}
	if budget <= 0 {
		budget = DefaultBudget
	}
	return &HTTPEffect{
		Endpoint: endpoint,
		Client:   &http.Client{},
		Budget:   budget,
	}, nil
}

func (h *HTTPEffect) budget() time.Duration {
	if h.Budget <= 0 {
		return DefaultBudget
	}
	return h.Budget
}

func (h *HTTPEffect) Apply(ctx context.Context, c Cycle) error {
	body, err := json.Marshal(Payload{Agent: c.Agent, WorkUnit: c.Unit, Cycle: c.N, At: c.Now.UTC()})
	if err != nil {
		return Fatal(err)
	}
	// the deadline also cuts an attempt stuck on a silent endpoint
	ctx, cancel := context.WithTimeout(ctx, h.budget())
	defer cancel()
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.Endpoint, bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")
		client := h.Client
		if client == nil {
			client = http.DefaultClient
		}
		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		defer func() { _ = resp.Body.Close() }()
		_, _ = io.Copy(io.Discard, resp.Body)
		switch {
		case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
			return fmt.Errorf("endpoint returned %s", resp.Status)
		case resp.StatusCode >= 400:
			return backoff.Permanent(fmt.Errorf("endpoint rejected request: %s", resp.Status))
		}
		return nil
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxElapsedTime = h.budget()
	err = backoff.Retry(op, backoff.WithContext(b, ctx))
	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		return perm.Err
	}
	return err
}

// Report is the per-agent run journal kept in the reports bucket.
type Report struct {
	Agent       string         `json:"agent"`
	WorkUnit    agent.WorkUnit `json:"workUnit"`
	LastUpdated time.Time      `json:"lastUpdated"`
	History     []ReportEntry  `json:"history"`
}

type ReportEntry struct {
	At    time.Time `json:"at"`
	Cycle int       `json:"cycle"`
}

// DefaultReportHistory bounds Report.History.
const DefaultReportHistory = 50

// JournalEffect appends each run to the agent's report, keeping the newest Max entries.
type JournalEffect struct {
	Store store.Store
	Max   int
}

func (j JournalEffect) Apply(ctx context.Context, c Cycle) error {
	var r Report
	if err := store.GetJSON(ctx, j.Store, store.BucketReports, c.Agent, &r); err != nil && !errors.Is(err, store.ErrNotFound) {
		// an unreadable journal starts over
		if c.Log != nil {
			c.Log.Warn("resetting unreadable report", "error", err)
		}
		r = Report{}
	}
	r.Agent = c.Agent
	r.WorkUnit = c.Unit
	r.LastUpdated = c.Now.UTC()
	r.History = append(r.History, ReportEntry{At: c.Now.UTC(), Cycle: c.N})
	limit := j.Max
	if limit <= 0 {
		limit = DefaultReportHistory
	}
	if len(r.History) > limit {
		r.History = r.History[len(r.History)-limit:]
	}
	return store.PutJSON(ctx, j.Store, store.BucketReports, c.Agent, r)
}
