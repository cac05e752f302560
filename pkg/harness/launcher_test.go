package harness

import (
	"bytes"
	"context"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NathanMulbrook/netfuzz/pkg/engine"
)

// fakeEngine is a controllable engine double.
type fakeEngine struct {
	startErr  error
	panicMsg  string
	delivered atomic.Int64
}

func (f *fakeEngine) Run(ctx context.Context, opts engine.Options, deliver engine.Callback) error {
	if f.startErr != nil {
		return f.startErr
	}
	if f.panicMsg != "" {
		panic(f.panicMsg)
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}
		deliver([]byte("case"))
		f.delivered.Add(1)
	}
}

func launcherConfig(target Endpoint) Config {
	cfg := testConfig(target)
	cfg.StartupDelay = 0
	cfg.ReadyTimeout = 100 * time.Millisecond
	return cfg
}

func TestLauncher_LaunchDoesNotBlock(t *testing.T) {
	tl := newTestListener(t)
	l := NewLauncher(launcherConfig(tl.endpoint()), &fakeEngine{}, engine.Options{})

	start := time.Now()
	run := l.Launch()
	elapsed := time.Since(start)

	require.NotNil(t, run)
	// The engine loop runs indefinitely; Launch must still return right away
	assert.Less(t, elapsed, 100*time.Millisecond)

	run.Stop()
	assert.NoError(t, run.Wait())
}

func TestLauncher_DoubleLaunchReturnsSameRun(t *testing.T) {
	tl := newTestListener(t)
	l := NewLauncher(launcherConfig(tl.endpoint()), &fakeEngine{}, engine.Options{})

	first := l.Launch()
	second := l.Launch()

	assert.Same(t, first, second)

	first.Stop()
	assert.NoError(t, first.Wait())
}

func TestLauncher_StopTerminatesRun(t *testing.T) {
	tl := newTestListener(t)
	eng := &fakeEngine{}
	l := NewLauncher(launcherConfig(tl.endpoint()), eng, engine.Options{})

	run := l.Launch()

	require.True(t, waitFor(t, time.Second, func() bool {
		return eng.delivered.Load() > 0
	}), "engine never started delivering")

	run.Stop()

	select {
	case <-run.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("run did not terminate after Stop")
	}
	assert.NoError(t, run.Err())
}

func TestLauncher_PauseResume(t *testing.T) {
	tl := newTestListener(t)
	eng := &fakeEngine{}
	l := NewLauncher(launcherConfig(tl.endpoint()), eng, engine.Options{})

	run := l.Launch()
	defer func() {
		run.Stop()
		run.Wait()
	}()

	require.True(t, waitFor(t, time.Second, func() bool {
		return eng.delivered.Load() > 0
	}))

	run.Pause()
	// Let the in-flight case drain, then the count must hold steady
	time.Sleep(50 * time.Millisecond)
	paused := eng.delivered.Load()
	time.Sleep(100 * time.Millisecond)
	assert.LessOrEqual(t, eng.delivered.Load(), paused+1)

	run.Resume()
	require.True(t, waitFor(t, time.Second, func() bool {
		return eng.delivered.Load() > paused+1
	}), "deliveries did not resume")
}

func TestLauncher_EngineStartupErrorIsIsolated(t *testing.T) {
	tl := newTestListener(t)
	eng := &fakeEngine{startErr: assert.AnError}
	l := NewLauncher(launcherConfig(tl.endpoint()), eng, engine.Options{})

	run := l.Launch()

	select {
	case <-run.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("run did not terminate after engine startup failure")
	}
	assert.ErrorIs(t, run.Err(), assert.AnError)
}

func TestLauncher_EnginePanicIsIsolated(t *testing.T) {
	tl := newTestListener(t)
	eng := &fakeEngine{panicMsg: "engine exploded"}
	l := NewLauncher(launcherConfig(tl.endpoint()), eng, engine.Options{})

	run := l.Launch()

	select {
	case <-run.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("run did not terminate after engine panic")
	}
	require.Error(t, run.Err())
	assert.Contains(t, run.Err().Error(), "engine exploded")
}

func TestLauncher_BadEngineOptionsSurfaceAsError(t *testing.T) {
	tl := newTestListener(t)
	opts := engine.Options{CorpusDir: t.TempDir(), MaxLen: -1}
	l := NewLauncher(launcherConfig(tl.endpoint()), engine.NewMutationEngine(), opts)

	run := l.Launch()

	select {
	case <-run.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("run did not terminate after bad options")
	}
	assert.Error(t, run.Err())
}

func TestLauncher_FuzzesRealListener(t *testing.T) {
	tl := newTestListener(t)
	opts := engine.Options{
		CorpusDir:     t.TempDir(),
		MaxLen:        1024,
		LenControl:    0,
		Seed:          42,
		StatsInterval: time.Minute,
	}
	l := NewLauncher(launcherConfig(tl.endpoint()), engine.NewMutationEngine(), opts)

	run := l.Launch()

	require.True(t, waitFor(t, 5*time.Second, func() bool {
		return tl.total.Load() >= 50
	}), "expected at least 50 delivered cases, got %d", tl.total.Load())

	run.Stop()
	assert.NoError(t, run.Wait())
}

func TestLauncher_StopLeavesNoArtifacts(t *testing.T) {
	tl := newTestListener(t)
	artifacts := t.TempDir()
	opts := engine.Options{
		CorpusDir:     t.TempDir(),
		MaxLen:        1024,
		Seed:          7,
		ArtifactDir:   artifacts,
		StatsInterval: time.Minute,
	}
	l := NewLauncher(launcherConfig(tl.endpoint()), engine.NewMutationEngine(), opts)

	run := l.Launch()

	require.True(t, waitFor(t, 5*time.Second, func() bool {
		return tl.total.Load() >= 20
	}), "expected deliveries before stopping, got %d", tl.total.Load())

	// The target is healthy the whole time; the delivery that gets cut
	// short by the stop must not be mistaken for a crash.
	run.Stop()
	require.NoError(t, run.Wait())

	files, err := os.ReadDir(artifacts)
	require.NoError(t, err)
	assert.Empty(t, files, "stopping a healthy run must not record a crash")
}

func TestLauncher_MidRunErrorLogsTermination(t *testing.T) {
	var buf bytes.Buffer
	prev := log.Logger
	log.Logger = zerolog.New(zerolog.SyncWriter(&buf))
	defer func() { log.Logger = prev }()

	tl := newTestListener(t)
	eng := &fakeEngine{startErr: assert.AnError}
	l := NewLauncher(launcherConfig(tl.endpoint()), eng, engine.Options{})

	run := l.Launch()

	select {
	case <-run.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("run did not terminate")
	}

	assert.Contains(t, buf.String(), "Fuzzing run ended with error")
	assert.NotContains(t, buf.String(), "failed to launch")
}

func TestLauncher_ContinuesWhenNothingListens(t *testing.T) {
	// Reserve a port, then free it so every delivery is refused
	tl := newTestListener(t)
	target := tl.endpoint()
	tl.Close()

	eng := &fakeEngine{}
	cfg := launcherConfig(target)
	cfg.ReadyTimeout = 20 * time.Millisecond
	l := NewLauncher(cfg, eng, engine.Options{})

	run := l.Launch()

	// Failed deliveries must not stall or abort the loop
	require.True(t, waitFor(t, 2*time.Second, func() bool {
		return eng.delivered.Load() >= 20
	}), "loop did not keep going against a dead endpoint, delivered %d", eng.delivered.Load())

	run.Stop()
	assert.NoError(t, run.Wait())
}
