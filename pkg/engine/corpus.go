package engine

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog/log"
)

// Corpus holds the in-memory seed pool backing a fuzzing run. Entries are
// opaque byte sequences; on disk each entry is a file named by the SHA1 of
// its content, so re-adding an existing seed is a no-op.
type Corpus struct {
	dir     string
	mu      sync.RWMutex
	entries [][]byte
	seen    map[string]struct{}
}

// LoadCorpus reads every file in dir as a seed entry. The directory is
// created if it does not exist yet, so a fresh run can start from an empty
// corpus.
func LoadCorpus(dir string) (*Corpus, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("could not create corpus directory %s: %w", dir, err)
	}

	c := &Corpus{
		dir:  dir,
		seen: make(map[string]struct{}),
	}

	files, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("could not read corpus directory %s: %w", dir, err)
	}

	for _, f := range files {
		if f.IsDir() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, f.Name()))
		if err != nil {
			log.Warn().Err(err).Str("file", f.Name()).Msg("Skipping unreadable corpus file")
			continue
		}
		c.add(data)
	}

	log.Info().Str("dir", dir).Int("entries", len(c.entries)).Msg("Corpus loaded")
	return c, nil
}

// Dir returns the directory backing this corpus.
func (c *Corpus) Dir() string {
	return c.dir
}

// Len returns the number of entries currently in the corpus.
func (c *Corpus) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Add inserts data into the in-memory pool if it was not already present.
// Returns true if the entry was new.
func (c *Corpus) Add(data []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.add(data)
}

// AddAndPersist inserts data and, if it was new, also writes it to the
// corpus directory using the SHA1 content hash as filename.
func (c *Corpus) AddAndPersist(data []byte) (bool, error) {
	c.mu.Lock()
	added := c.add(data)
	c.mu.Unlock()
	if !added {
		return false, nil
	}

	name := entryName(data)
	path := filepath.Join(c.dir, name)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return true, fmt.Errorf("could not persist corpus entry %s: %w", name, err)
	}
	return true, nil
}

// AddFromFile reads path and folds its content into the pool. Used by the
// directory watcher when seeds are dropped in externally.
func (c *Corpus) AddFromFile(path string) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return false, err
	}
	return c.Add(data), nil
}

// Pick returns a copy of a random corpus entry, or nil if the corpus is
// empty. Callers own the returned slice.
func (c *Corpus) Pick(rng *rand.Rand) []byte {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.entries) == 0 {
		return nil
	}
	entry := c.entries[rng.Intn(len(c.entries))]
	out := make([]byte, len(entry))
	copy(out, entry)
	return out
}

// add assumes c.mu is held (or the corpus is not yet shared).
func (c *Corpus) add(data []byte) bool {
	name := entryName(data)
	if _, ok := c.seen[name]; ok {
		return false
	}
	c.seen[name] = struct{}{}
	entry := make([]byte, len(data))
	copy(entry, data)
	c.entries = append(c.entries, entry)
	return true
}

func entryName(data []byte) string {
	sum := sha1.Sum(data)
	return hex.EncodeToString(sum[:])
}
