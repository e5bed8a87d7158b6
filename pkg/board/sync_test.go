package board

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPeer(t *testing.T, d *Doc, readOnly bool) *Peer {
	t.Helper()
	p, err := NewPeer(new(sync.Mutex), d, readOnly)
	require.NoError(t, err)
	return p
}

// exchange passes messages both ways until neither side has anything left to say or the round
// limit is hit. It returns the first error each side hit while receiving.
func exchange(t *testing.T, a, b *Peer) (errA, errB error) {
	t.Helper()
	for i := 0; i < 20; i++ {
		fromA, err := a.Generate()
		require.NoError(t, err)
		fromB, err := b.Generate()
		require.NoError(t, err)
		if len(fromA) == 0 && len(fromB) == 0 {
			return
		}
		for _, m := range fromA {
			if err := b.Receive(m); err != nil && errB == nil {
				errB = err
			}
		}
		for _, m := range fromB {
			if err := a.Receive(m); err != nil && errA == nil {
				errA = err
			}
		}
	}
	return
}

func TestPeer_ReplicatesChanges(t *testing.T) {
	primary, err := New(10)
	require.NoError(t, err)
	replica, err := Load(primary.Save(), 10)
	require.NoError(t, err)

	require.NoError(t, primary.Set(1, 1, "#FF0000"))
	source := newPeer(t, primary, true)
	// Written after the peer forked; picked up before the next Generate.
	require.NoError(t, primary.Set(2, 3, "#00FF00"))

	errA, errB := exchange(t, source, newPeer(t, replica, false))
	require.NoError(t, errA)
	require.NoError(t, errB)

	want, err := primary.Pixels()
	require.NoError(t, err)
	require.Len(t, want, 2)
	got, err := replica.Pixels()
	require.NoError(t, err)
	assert.ElementsMatch(t, want, got)
}

func TestPeer_ReadOnlyRejectsChanges(t *testing.T) {
	primary, err := New(10)
	require.NoError(t, err)
	replica, err := Load(primary.Save(), 10)
	require.NoError(t, err)
	require.NoError(t, replica.Set(4, 4, "#000000"))

	before, err := primary.Automerge().Changes()
	require.NoError(t, err)

	errA, _ := exchange(t, newPeer(t, primary, true), newPeer(t, replica, false))
	assert.ErrorIs(t, errA, ErrReadOnly)

	pixels, err := primary.Pixels()
	require.NoError(t, err)
	assert.Empty(t, pixels)
	after, err := primary.Automerge().Changes()
	require.NoError(t, err)
	assert.Len(t, after, len(before), "shared doc history is untouched")
}
