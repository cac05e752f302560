package harness

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc/panics"
	"github.com/sourcegraph/conc/pool"
	"github.com/spf13/viper"

	"github.com/NathanMulbrook/netfuzz/pkg/engine"
	"github.com/NathanMulbrook/netfuzz/pkg/harness/control"
)

// Launcher starts the background fuzzing run. Launching is fire-and-forget:
// Launch returns immediately and the run proceeds concurrently with the rest
// of the host process.
type Launcher struct {
	cfg    Config
	engine engine.Engine
	opts   engine.Options

	mu  sync.Mutex
	run *Run
}

// NewLauncher creates a launcher for the given engine and options.
func NewLauncher(cfg Config, eng engine.Engine, opts engine.Options) *Launcher {
	return &Launcher{cfg: cfg, engine: eng, opts: opts}
}

// Launch starts the fuzzing worker and returns its handle without blocking.
// Launching the same Launcher twice does not start a second run: the handle
// from the first call is returned and a warning is logged.
func (l *Launcher) Launch() *Run {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.run != nil {
		log.Warn().Str("run_id", l.run.ID).Msg("Launch called twice, returning the already running fuzzing handle")
		return l.run
	}

	run := &Run{
		ID:     uuid.NewString(),
		cfg:    l.cfg,
		engine: l.engine,
		opts:   l.opts,
		done:   make(chan struct{}),
	}
	run.ctrl = control.New(run.ID)
	l.run = run

	go run.main()

	log.Info().
		Str("run_id", run.ID).
		Str("target", l.cfg.Target.Addr()).
		Msg("Fuzzing launched")
	return run
}

// LaunchBackground starts fuzzing with the viper-resolved configuration and
// the built-in mutation engine, returning immediately. It is safe to call
// from host-process startup code.
func LaunchBackground() *Run {
	l := NewLauncher(DefaultConfig(), engine.NewMutationEngine(), DefaultEngineOptions())
	return l.Launch()
}

// DefaultEngineOptions resolves the engine options from viper.
func DefaultEngineOptions() engine.Options {
	return engine.Options{
		CorpusDir:     viper.GetString("engine.corpus_dir"),
		MaxLen:        viper.GetInt("engine.max_len"),
		LenControl:    viper.GetInt("engine.len_control"),
		DetectLeaks:   viper.GetBool("engine.detect_leaks"),
		Dict:          viper.GetString("engine.dict"),
		ArtifactDir:   viper.GetString("engine.artifact_dir"),
		WatchCorpus:   viper.GetBool("engine.watch_corpus"),
		StatsInterval: time.Duration(viper.GetInt("engine.stats_interval")) * time.Second,
	}
}

// Run is the handle of a launched fuzzing run.
type Run struct {
	ID     string
	cfg    Config
	engine engine.Engine
	opts   engine.Options
	ctrl   *control.RunControl
	done   chan struct{}
	err    error
}

// Stop cancels the run. It does not wait for in-flight cases; use Wait or
// Done for that.
func (r *Run) Stop() {
	r.ctrl.SetCancelled()
}

// Pause suspends case generation between cases; Resume continues it.
func (r *Run) Pause()  { r.ctrl.SetPaused() }
func (r *Run) Resume() { r.ctrl.SetRunning() }

// Done is closed once the run has fully terminated.
func (r *Run) Done() <-chan struct{} {
	return r.done
}

// Wait blocks until the run terminates and returns its error, if any.
func (r *Run) Wait() error {
	<-r.done
	return r.err
}

// Err reports the run error once terminated; nil while still running.
func (r *Run) Err() error {
	select {
	case <-r.done:
		return r.err
	default:
		return nil
	}
}

func (r *Run) main() {
	defer close(r.done)

	ctx := r.ctrl.Context()

	// Give the target its expected startup time before the first probe
	if r.cfg.StartupDelay > 0 {
		select {
		case <-ctx.Done():
			return
		case <-time.After(r.cfg.StartupDelay):
		}
	}

	r.awaitReady()

	workers := r.cfg.Workers
	if workers < 1 {
		workers = 1
	}

	p := pool.New().WithErrors().WithMaxGoroutines(workers)
	for i := 0; i < workers; i++ {
		workerID := fmt.Sprintf("fuzz-worker-%d", i)
		p.Go(func() error {
			// An engine fault must never take down the host process
			var err error
			rec := panics.Try(func() {
				err = r.fuzzWorker(workerID)
			})
			if rec != nil {
				log.Error().
					Str("run_id", r.ID).
					Str("worker_id", workerID).
					Interface("panic", rec.Value).
					Msg("Fuzzing worker panicked")
				return rec.AsError()
			}
			return err
		})
	}

	if err := p.Wait(); err != nil {
		log.Error().Err(err).Str("run_id", r.ID).Msg("Fuzzing run ended with error")
		r.err = err
		return
	}

	log.Info().Str("run_id", r.ID).Msg("Fuzzing run finished")
}

// fuzzWorker hands the per-case delivery callback to the engine run loop.
// The loop runs until the engine returns, normally only on cancellation.
func (r *Run) fuzzWorker(workerID string) error {
	exec := NewExecutor(r.cfg)
	ctx := r.ctrl.Context()

	deliver := func(data []byte) bool {
		if !r.ctrl.CheckpointWithContext(ctx) {
			return false
		}
		outcome := exec.Execute(ctx, data)
		if outcome.Err != nil {
			log.Debug().
				Err(outcome.Err).
				Str("worker_id", workerID).
				Int("len", len(data)).
				Msg("Case delivery failed")
		}
		return outcome.OK
	}

	log.Debug().Str("run_id", r.ID).Str("worker_id", workerID).Msg("Fuzzing worker started")
	return r.engine.Run(ctx, r.opts, deliver)
}

// awaitReady probes the endpoint with backoff until it accepts a connection
// or the readiness timeout lapses. A lapsed timeout only logs a warning: the
// run still starts and per-case connection errors stay non-fatal.
func (r *Run) awaitReady() {
	exec := NewExecutor(r.cfg)
	ctx := r.ctrl.Context()

	backoff := r.cfg.ReadyBackoff
	if backoff <= 0 {
		backoff = 10 * time.Millisecond
	}
	deadline := time.Now().Add(r.cfg.ReadyTimeout)

	for {
		if err := exec.Probe(ctx); err == nil {
			log.Info().Str("target", r.cfg.Target.Addr()).Msg("Target endpoint is accepting connections")
			return
		}

		if r.cfg.ReadyTimeout > 0 && time.Now().After(deadline) {
			log.Warn().
				Str("target", r.cfg.Target.Addr()).
				Dur("timeout", r.cfg.ReadyTimeout).
				Msg("Target endpoint not reachable before readiness timeout, fuzzing anyway")
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}

		backoff *= 2
		if r.cfg.ReadyMaxBackoff > 0 && backoff > r.cfg.ReadyMaxBackoff {
			backoff = r.cfg.ReadyMaxBackoff
		}
	}
}
