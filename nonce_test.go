package battleye

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNonceCheckWindow(t *testing.T) {
	n := newNonceCheck(3)

	assert.True(t, n.Check(1))
	assert.True(t, n.Check(2))
	assert.True(t, n.Check(3))
	// 1 is still within the last 3 seen, so it is a duplicate.
	assert.False(t, n.Check(1))

	// Pushing a 4th distinct sequence evicts 1 from the window.
	assert.True(t, n.Check(4))
	assert.True(t, n.Check(1))
}

func TestNonceCheckReset(t *testing.T) {
	n := newNonceCheck(2)
	assert.True(t, n.Check(5))
	n.Reset()
	assert.True(t, n.Check(5))
}

func TestNonceCheckRejectsInvalidCapacity(t *testing.T) {
	assert.Panics(t, func() { newNonceCheck(0) })
	assert.Panics(t, func() { newNonceCheck(256) })
}

func TestNonceCheckForwardingMatchesWindow(t *testing.T) {
	n := newNonceCheck(2)
	seqs := []byte{1, 2, 1, 3, 1, 2}
	want := []bool{true, true, false, true, true, true}

	for i, s := range seqs {
		assert.Equal(t, want[i], n.Check(s), "index %d", i)
	}
}
