package engine

import (
	"math/rand"
)

// Mutator derives new candidate cases from corpus seeds. All randomness
// flows through a single seeded source so a run can be replayed.
type Mutator struct {
	rng        *rand.Rand
	maxLen     int
	lenControl int
	dict       [][]byte
}

// NewMutator creates a mutator bounded by maxLen. lenControl biases the
// case-length distribution: higher values keep generated cases short for
// longer before the allowed length ramps up to maxLen. dict entries, when
// present, are spliced into cases verbatim.
func NewMutator(seed int64, maxLen, lenControl int, dict [][]byte) *Mutator {
	return &Mutator{
		rng:        rand.New(rand.NewSource(seed)),
		maxLen:     maxLen,
		lenControl: lenControl,
		dict:       dict,
	}
}

// allowedLen returns the current length cap given how many cases have been
// generated so far. With lenControl 0 the full maxLen is available from the
// start.
func (m *Mutator) allowedLen(execs uint64) int {
	if m.lenControl <= 0 {
		return m.maxLen
	}
	cap := 16
	for cap < m.maxLen {
		execs /= uint64(m.lenControl)
		if execs == 0 {
			break
		}
		cap *= 2
	}
	if cap > m.maxLen {
		cap = m.maxLen
	}
	return cap
}

// Mutate produces a new case from seed. other is a second corpus entry used
// for crossover, and may be nil. The returned slice is freshly allocated.
func (m *Mutator) Mutate(seed, other []byte, execs uint64) []byte {
	out := make([]byte, len(seed), len(seed)+64)
	copy(out, seed)

	// 1..8 stacked mutation steps
	steps := 1 + m.rng.Intn(8)
	for i := 0; i < steps; i++ {
		out = m.mutateOnce(out, other)
	}

	if limit := m.allowedLen(execs); len(out) > limit {
		out = out[:limit]
	}
	return out
}

func (m *Mutator) mutateOnce(data, other []byte) []byte {
	if len(data) == 0 {
		// Can only grow from here
		return m.appendBytes(data)
	}

	switch m.rng.Intn(8) {
	case 0: // flip a bit
		pos := m.rng.Intn(len(data))
		data[pos] ^= 1 << uint(m.rng.Intn(8))
	case 1: // overwrite a range with random bytes
		pos := m.rng.Intn(len(data))
		n := 1 + m.rng.Intn(32)
		for i := pos; i < len(data) && i < pos+n; i++ {
			data[i] = byte(m.rng.Intn(256))
		}
	case 2: // truncate
		data = data[:m.rng.Intn(len(data)+1)]
	case 3: // append random bytes
		data = m.appendBytes(data)
	case 4: // insert a short run at an arbitrary position
		pos := m.rng.Intn(len(data) + 1)
		n := 1 + m.rng.Intn(16)
		insert := make([]byte, n)
		for i := range insert {
			insert[i] = byte(m.rng.Intn(256))
		}
		data = append(data[:pos], append(insert, data[pos:]...)...)
	case 5: // duplicate a range
		pos := m.rng.Intn(len(data))
		n := 1 + m.rng.Intn(len(data)-pos)
		dup := append([]byte(nil), data[pos:pos+n]...)
		data = append(data[:pos], append(dup, data[pos:]...)...)
	case 6: // splice with another corpus entry
		if len(other) > 0 {
			cut := m.rng.Intn(len(data))
			tail := other[m.rng.Intn(len(other)):]
			data = append(data[:cut], append([]byte(nil), tail...)...)
		} else {
			data = m.appendBytes(data)
		}
	case 7: // insert a dictionary token
		if len(m.dict) > 0 {
			tok := m.dict[m.rng.Intn(len(m.dict))]
			pos := m.rng.Intn(len(data) + 1)
			data = append(data[:pos], append(append([]byte(nil), tok...), data[pos:]...)...)
		} else {
			pos := m.rng.Intn(len(data))
			data[pos] = byte(m.rng.Intn(256))
		}
	}

	if len(data) > m.maxLen {
		data = data[:m.maxLen]
	}
	return data
}

func (m *Mutator) appendBytes(data []byte) []byte {
	n := 1 + m.rng.Intn(64)
	for i := 0; i < n && len(data) < m.maxLen; i++ {
		data = append(data, byte(m.rng.Intn(256)))
	}
	return data
}
