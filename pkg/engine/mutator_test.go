package engine

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMutator_Deterministic(t *testing.T) {
	seed := []byte("the quick brown fox")
	other := []byte("jumps over the lazy dog")

	a := NewMutator(7, 1024, 0, nil)
	b := NewMutator(7, 1024, 0, nil)

	for i := uint64(0); i < 100; i++ {
		got := a.Mutate(seed, other, i)
		want := b.Mutate(seed, other, i)
		if !bytes.Equal(got, want) {
			t.Fatalf("iteration %d diverged under identical seeds", i)
		}
	}
}

func TestMutator_RespectsMaxLen(t *testing.T) {
	maxLen := 64
	m := NewMutator(1, maxLen, 0, nil)
	seed := make([]byte, maxLen)

	for i := uint64(0); i < 1000; i++ {
		out := m.Mutate(seed, seed, i)
		if len(out) > maxLen {
			t.Fatalf("iteration %d produced %d bytes, max is %d", i, len(out), maxLen)
		}
	}
}

func TestMutator_GrowsFromEmpty(t *testing.T) {
	m := NewMutator(1, 1024, 0, nil)

	grew := false
	for i := uint64(0); i < 50; i++ {
		if len(m.Mutate(nil, nil, i)) > 0 {
			grew = true
			break
		}
	}
	assert.True(t, grew, "mutator never produced bytes from an empty seed")
}

func TestMutator_LenControlRampsUp(t *testing.T) {
	m := NewMutator(1, 60000, 20, nil)

	// Early in the run the allowed length stays small
	assert.Equal(t, 16, m.allowedLen(0))
	assert.Equal(t, 16, m.allowedLen(19))

	early := m.allowedLen(100)
	late := m.allowedLen(1 << 63)
	assert.Less(t, early, late)
	assert.Equal(t, 60000, late)
}

func TestMutator_LenControlDisabled(t *testing.T) {
	m := NewMutator(1, 60000, 0, nil)
	assert.Equal(t, 60000, m.allowedLen(0))
}

func TestMutator_UsesDictionaryTokens(t *testing.T) {
	token := []byte("NEEDLE")
	m := NewMutator(3, 4096, 0, [][]byte{token})
	seed := []byte("haystack")

	found := false
	for i := uint64(0); i < 2000 && !found; i++ {
		out := m.Mutate(seed, nil, i)
		if bytes.Contains(out, token) {
			found = true
		}
	}
	assert.True(t, found, "dictionary token was never inserted")
}
