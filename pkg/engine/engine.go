// Package engine implements the mutation engine driving a fuzzing run: it
// owns the corpus, derives candidate cases from it, and hands each case to a
// delivery callback supplied by the harness.
package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Callback delivers one generated case to the target. It returns true when
// the delivery succeeded. The engine borrows nothing: the callback must not
// retain the slice after returning.
type Callback func(data []byte) bool

// Engine generates cases and feeds them to a delivery callback until the
// context is cancelled.
type Engine interface {
	Run(ctx context.Context, opts Options, deliver Callback) error
}

// Options configures a fuzzing run. It mirrors the usual libFuzzer driver
// arguments and is resolved once at startup, then treated as immutable.
type Options struct {
	// CorpusDir holds seed inputs; newly found crashing inputs reference it.
	CorpusDir string
	// MaxLen caps the length of generated cases.
	MaxLen int
	// LenControl biases the case-length distribution; higher values keep
	// cases short for longer. 0 disables the ramp.
	LenControl int
	// DetectLeaks enables goroutine-leak watermark checks between cases.
	DetectLeaks bool
	// Dict optionally points to an AFL/libFuzzer-format token dictionary.
	Dict string
	// ArtifactDir receives the byte sequences of failed deliveries.
	ArtifactDir string
	// Seed fixes the mutation randomness; 0 picks a time-based seed.
	Seed int64
	// StatsInterval is how often a progress line is logged.
	StatsInterval time.Duration
	// WatchCorpus folds externally added seed files into the live run.
	WatchCorpus bool
}

func (o Options) validate() error {
	if o.CorpusDir == "" {
		return fmt.Errorf("corpus directory is required")
	}
	if o.MaxLen <= 0 {
		return fmt.Errorf("max_len must be positive, got %d", o.MaxLen)
	}
	if o.LenControl < 0 {
		return fmt.Errorf("len_control must not be negative, got %d", o.LenControl)
	}
	return nil
}

// MutationEngine is the built-in Engine. It is safe for concurrent Run calls
// sharing one instance: each call keeps its own mutation state and the
// corpus is internally synchronized.
type MutationEngine struct {
	mu       sync.Mutex
	corpora  map[string]*Corpus
	watching map[string]bool
	seq      atomic.Int64
}

// NewMutationEngine returns an engine with no corpus loaded yet; each corpus
// directory is loaded lazily on the first Run call that names it.
func NewMutationEngine() *MutationEngine {
	return &MutationEngine{
		corpora:  make(map[string]*Corpus),
		watching: make(map[string]bool),
	}
}

// Run generates and delivers cases until ctx is cancelled. A nil return
// means the run was stopped; a non-nil return means the engine could not
// start (bad options, unreadable corpus or dictionary).
func (e *MutationEngine) Run(ctx context.Context, opts Options, deliver Callback) error {
	if err := opts.validate(); err != nil {
		return fmt.Errorf("engine options: %w", err)
	}

	e.mu.Lock()
	corpus, ok := e.corpora[opts.CorpusDir]
	if !ok {
		var err error
		corpus, err = LoadCorpus(opts.CorpusDir)
		if err != nil {
			e.mu.Unlock()
			return err
		}
		e.corpora[opts.CorpusDir] = corpus
	}
	e.mu.Unlock()

	var dict [][]byte
	if opts.Dict != "" {
		var err error
		dict, err = LoadDictionary(opts.Dict)
		if err != nil {
			return err
		}
		log.Info().Str("dict", opts.Dict).Int("tokens", len(dict)).Msg("Dictionary loaded")
	}

	if opts.ArtifactDir != "" {
		if err := os.MkdirAll(opts.ArtifactDir, 0755); err != nil {
			return fmt.Errorf("could not create artifact directory %s: %w", opts.ArtifactDir, err)
		}
	}

	// One watcher per corpus directory, no matter how many workers run
	if opts.WatchCorpus && e.claimWatcher(opts.CorpusDir) {
		go func() {
			defer e.releaseWatcher(opts.CorpusDir)
			if err := watchCorpus(ctx, corpus); err != nil {
				log.Warn().Err(err).Msg("Corpus watcher could not start")
			}
		}()
	}

	seed := opts.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	// Concurrent Run calls on one engine get distinct mutation streams
	seed += e.seq.Add(1)

	mut := NewMutator(seed, opts.MaxLen, opts.LenControl, dict)

	statsInterval := opts.StatsInterval
	if statsInterval == 0 {
		statsInterval = 10 * time.Second
	}

	loop := runLoop{
		corpus:        corpus,
		mut:           mut,
		deliver:       deliver,
		opts:          opts,
		startTime:     time.Now(),
		lastStats:     time.Now(),
		statsInterval: statsInterval,
		baseline:      runtime.NumGoroutine(),
	}
	return loop.run(ctx)
}

// claimWatcher marks dir as watched, returning false if a watcher is
// already running for it.
func (e *MutationEngine) claimWatcher(dir string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.watching[dir] {
		return false
	}
	e.watching[dir] = true
	return true
}

func (e *MutationEngine) releaseWatcher(dir string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.watching, dir)
}

// runLoop holds per-run mutable state so one MutationEngine can back
// several workers at once.
type runLoop struct {
	corpus        *Corpus
	mut           *Mutator
	deliver       Callback
	opts          Options
	execs         uint64
	failures      uint64
	delivered     bool // at least one case reached the target
	startTime     time.Time
	lastStats     time.Time
	statsInterval time.Duration
	baseline      int
}

func (l *runLoop) run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			log.Info().Uint64("execs", l.execs).Msg("Engine run loop stopped")
			return nil
		default:
		}

		seed := l.corpus.Pick(l.mut.rng)
		other := l.corpus.Pick(l.mut.rng)
		data := l.mut.Mutate(seed, other, l.execs)

		ok := l.deliver(data)
		if ctx.Err() != nil {
			// The run is shutting down. A delivery that failed because it
			// was cancelled mid-flight is not a verdict on the target, so
			// it must not count as a failure or produce an artifact.
			continue
		}
		l.execs++

		if ok {
			l.delivered = true
		} else {
			l.failures++
			// A failure after successful deliveries may mean the target
			// died on an earlier case; keep the bytes for triage. Only the
			// transition is recorded so a dead target does not flood the
			// artifact directory.
			if l.delivered && l.opts.ArtifactDir != "" {
				l.writeArtifact(data)
				l.delivered = false
			}
		}

		if l.opts.DetectLeaks && l.execs%4096 == 0 {
			l.checkLeaks()
		}

		if time.Since(l.lastStats) >= l.statsInterval {
			l.logStats()
		}
	}
}

func (l *runLoop) writeArtifact(data []byte) {
	name := "crash-" + uuid.NewString()
	path := filepath.Join(l.opts.ArtifactDir, name)
	if err := os.WriteFile(path, data, 0644); err != nil {
		log.Error().Err(err).Str("artifact", path).Msg("Could not write artifact")
		return
	}
	log.Warn().Str("artifact", path).Int("len", len(data)).Msg("Delivery failed after prior successes, artifact saved")
}

func (l *runLoop) checkLeaks() {
	goroutines := runtime.NumGoroutine()
	if goroutines > l.baseline*2 && goroutines > l.baseline+32 {
		log.Warn().
			Int("baseline", l.baseline).
			Int("goroutines", goroutines).
			Msg("Goroutine count has grown since the run started, possible leak")
		l.baseline = goroutines
	}
}

func (l *runLoop) logStats() {
	elapsed := time.Since(l.startTime)
	execsPerSec := float64(l.execs) / elapsed.Seconds()
	log.Info().
		Uint64("execs", l.execs).
		Uint64("failures", l.failures).
		Float64("execs_per_sec", execsPerSec).
		Int("corpus", l.corpus.Len()).
		Dur("uptime", elapsed.Truncate(time.Second)).
		Msg("Fuzzing progress")
	l.lastStats = time.Now()
}
