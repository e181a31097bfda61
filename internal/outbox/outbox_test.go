package outbox

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnqueuePeekRemove(t *testing.T) {
	o, err := Open(t.TempDir())
	require.NoError(t, err)

	id, err := o.Enqueue("peer-a", []byte("hello"), 0)
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	e, ok := o.Peek("peer-a")
	require.True(t, ok)
	assert.Equal(t, id, e.QueueID)

	require.NoError(t, o.Remove(id))
	_, ok = o.Peek("peer-a")
	assert.False(t, ok)
}

func TestPerPeerCapEvictsOldest(t *testing.T) {
	o, err := Open(t.TempDir())
	require.NoError(t, err)

	var first string
	for i := 0; i < maxPerPeer+5; i++ {
		id, err := o.Enqueue("peer-a", []byte("m"), 0)
		require.NoError(t, err)
		if i == 0 {
			first = id
		}
	}

	all := o.All()
	assert.Len(t, all, maxPerPeer)
	for _, e := range all {
		assert.NotEqual(t, first, e.QueueID)
	}
}

func TestDrainForPeerReturnsInOrderAndEmpties(t *testing.T) {
	o, err := Open(t.TempDir())
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		_, err := o.Enqueue("peer-b", []byte("m"), 0)
		require.NoError(t, err)
	}

	drained, err := o.DrainForPeer("peer-b")
	require.NoError(t, err)
	assert.Len(t, drained, 5)
	for i := 1; i < len(drained); i++ {
		assert.False(t, drained[i].CreatedAt.Before(drained[i-1].CreatedAt))
	}

	_, ok := o.Peek("peer-b")
	assert.False(t, ok)
}

func TestMaxAgeExpiry(t *testing.T) {
	o, err := Open(t.TempDir())
	require.NoError(t, err)

	id, err := o.Enqueue("peer-c", []byte("m"), time.Second)
	require.NoError(t, err)

	time.Sleep(1100 * time.Millisecond)
	_, ok := o.Peek("peer-c")
	assert.False(t, ok)

	assert.Equal(t, 0, o.Len())
	_ = id
}

func TestReloadFromDisk(t *testing.T) {
	dir := t.TempDir()
	o1, err := Open(dir)
	require.NoError(t, err)
	id, err := o1.Enqueue("peer-d", []byte("hello"), 0)
	require.NoError(t, err)

	o2, err := Open(dir)
	require.NoError(t, err)
	e, ok := o2.Peek("peer-d")
	require.True(t, ok)
	assert.Equal(t, id, e.QueueID)
}

func TestUpdatePersists(t *testing.T) {
	dir := t.TempDir()
	o, err := Open(dir)
	require.NoError(t, err)
	id, err := o.Enqueue("peer-e", []byte("hello"), 0)
	require.NoError(t, err)

	e, ok := o.Peek("peer-e")
	require.True(t, ok)
	e.AttemptCount = 3
	require.NoError(t, o.Update(e))

	o2, err := Open(dir)
	require.NoError(t, err)
	e2, ok := o2.Peek("peer-e")
	require.True(t, ok)
	assert.Equal(t, 3, e2.AttemptCount)
	_ = id
}
