package worker

import (
	"context"
	"errors"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	clocktesting "k8s.io/utils/clock/testing"

	"github.com/loykin/agentvisor/internal/agent"
	"github.com/loykin/agentvisor/internal/heartbeat"
	"github.com/loykin/agentvisor/internal/logger"
	"github.com/loykin/agentvisor/internal/process"
	"github.com/loykin/agentvisor/internal/store"
	fsstore "github.com/loykin/agentvisor/internal/store/fs"
	"github.com/loykin/agentvisor/internal/workunit"
)

var t0 = time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)

const testPID = 424242

type fixture struct {
	rt    *Runtime
	store store.Store
	clk   *clocktesting.FakeClock
	units *workunit.Registry
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	s, err := fsstore.New(dir)
	require.NoError(t, err)
	clk := clocktesting.NewFakeClock(t0)
	units := workunit.NewRegistry()
	lc := logger.DefaultConfig()
	lc.File.Dir = dir + "/log"
	rt := &Runtime{
		Agents:     agent.NewRegistry(s),
		Heartbeats: heartbeat.NewStore(s),
		PIDs:       process.NewRegistry(s),
		Units:      units,
		Clock:      clk,
		Interval:   5 * time.Second,
		Log:        lc,
		PID:        testPID,
	}
	_, err = rt.Agents.Create(context.Background(), "demo", agent.AlphaDetection)
	require.NoError(t, err)
	return &fixture{rt: rt, store: s, clk: clk, units: units}
}

func (f *fixture) register(fn func(ctx context.Context, c workunit.Cycle) error) {
	f.units.Register(agent.AlphaDetection, func(string) (workunit.Unit, error) {
		return workunit.UnitFunc(fn), nil
	})
}

func (f *fixture) start(t *testing.T) (cancel func(), done <-chan error) {
	t.Helper()
	ctx, c := context.WithCancel(context.Background())
	ch := make(chan error, 1)
	go func() { ch <- f.rt.Run(ctx, "demo-alpha") }()
	t.Cleanup(c)
	return c, ch
}

func (f *fixture) heartbeat(t *testing.T) *heartbeat.Record {
	t.Helper()
	hb, err := f.rt.Heartbeats.Lookup(context.Background(), "demo-alpha")
	require.NoError(t, err)
	return hb
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

func waitErr(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatalf("worker did not return")
		return nil
	}
}

func TestRunMissingAgent(t *testing.T) {
	f := newFixture(t)
	err := f.rt.Run(context.Background(), "ghost-alpha")
	assert.ErrorIs(t, err, agent.ErrNotFound)
}

func TestRunUnknownWorkUnit(t *testing.T) {
	f := newFixture(t)
	err := f.rt.Run(context.Background(), "demo-alpha")
	assert.ErrorIs(t, err, ErrUnknownWorkUnit)
	_, ok, _ := f.rt.PIDs.Read(context.Background(), "demo-alpha")
	assert.False(t, ok, "no pid record for a worker that never started")
}

func TestRunLoopHeartbeatsAndGracefulShutdown(t *testing.T) {
	f := newFixture(t)
	var cycles atomic.Int32
	f.register(func(ctx context.Context, c workunit.Cycle) error {
		cycles.Add(1)
		return nil
	})
	cancel, done := f.start(t)

	require.True(t, waitUntil(2*time.Second, 5*time.Millisecond, func() bool {
		hb := f.heartbeat(t)
		return hb != nil && hb.Status == heartbeat.StatusRunning
	}), "no RUNNING heartbeat")
	pid, ok, err := f.rt.PIDs.Read(context.Background(), "demo-alpha")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, testPID, pid)
	hb := f.heartbeat(t)
	assert.Equal(t, "ALPHA_DETECTION", hb.Skill)
	assert.Equal(t, testPID, hb.PID)
	assert.Equal(t, t0, hb.LastTick)
	assert.Equal(t, int32(1), cycles.Load())

	// next tick drives the next cycle and a newer heartbeat
	require.True(t, waitUntil(2*time.Second, 5*time.Millisecond, f.clk.HasWaiters))
	f.clk.Step(5 * time.Second)
	require.True(t, waitUntil(2*time.Second, 5*time.Millisecond, func() bool {
		hb := f.heartbeat(t)
		return cycles.Load() == 2 && hb != nil && hb.LastTick.Equal(t0.Add(5*time.Second))
	}), "second cycle did not run")

	cancel()
	require.NoError(t, waitErr(t, done))
	_, ok, _ = f.rt.PIDs.Read(context.Background(), "demo-alpha")
	assert.False(t, ok, "pid record must be removed on shutdown")

	b, err := os.ReadFile(f.rt.Log.File.Path("demo-alpha"))
	require.NoError(t, err)
	assert.Contains(t, string(b), "agent started")
	assert.Contains(t, string(b), "shutting down")
}

func TestCancelAbandonsInFlightCycle(t *testing.T) {
	f := newFixture(t)
	entered := make(chan struct{})
	f.register(func(ctx context.Context, c workunit.Cycle) error {
		close(entered)
		select {} // ignores cancellation
	})
	cancel, done := f.start(t)
	select {
	case <-entered:
	case <-time.After(2 * time.Second):
		t.Fatalf("unit never invoked")
	}
	cancel()
	require.NoError(t, waitErr(t, done))
	_, ok, _ := f.rt.PIDs.Read(context.Background(), "demo-alpha")
	assert.False(t, ok)
	hb := f.heartbeat(t)
	require.NotNil(t, hb)
	assert.Equal(t, heartbeat.StatusStarted, hb.Status, "no RUNNING heartbeat for an abandoned cycle")
}

func TestFatalErrorStopsWorker(t *testing.T) {
	f := newFixture(t)
	boom := errors.New("wallet key missing")
	f.register(func(ctx context.Context, c workunit.Cycle) error { return boom })
	_, done := f.start(t)
	err := waitErr(t, done)
	assert.ErrorIs(t, err, ErrWorkUnitFailed)
	assert.ErrorIs(t, err, boom)

	hb := f.heartbeat(t)
	require.NotNil(t, hb)
	assert.Equal(t, heartbeat.StatusStopped, hb.Status)
	_, ok, _ := f.rt.PIDs.Read(context.Background(), "demo-alpha")
	assert.False(t, ok)
	b, _ := os.ReadFile(f.rt.Log.File.Path("demo-alpha"))
	assert.True(t, strings.Contains(string(b), "wallet key missing"))
}

func TestPanicIsFatal(t *testing.T) {
	f := newFixture(t)
	f.register(func(ctx context.Context, c workunit.Cycle) error { panic("nil map") })
	_, done := f.start(t)
	err := waitErr(t, done)
	assert.ErrorIs(t, err, ErrWorkUnitFailed)
	assert.ErrorContains(t, err, "nil map")
}

func TestShutdownKeepsReplacementPIDRecord(t *testing.T) {
	f := newFixture(t)
	f.register(func(ctx context.Context, c workunit.Cycle) error { return nil })
	cancel, done := f.start(t)
	require.True(t, waitUntil(2*time.Second, 5*time.Millisecond, func() bool {
		hb := f.heartbeat(t)
		return hb != nil && hb.Status == heartbeat.StatusRunning
	}))
	// the supervisor already started a replacement
	require.NoError(t, f.rt.PIDs.Write(context.Background(), "demo-alpha", testPID+1))
	cancel()
	require.NoError(t, waitErr(t, done))
	pid, ok, _ := f.rt.PIDs.Read(context.Background(), "demo-alpha")
	assert.True(t, ok)
	assert.Equal(t, testPID+1, pid)
}
