package hbone

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newReadyConn() *Conn {
	c := &Conn{}
	c.state.Store(int32(StateReady))
	c.lastUnused.Store(time.Now().UnixNano())
	return c
}

func TestConnReserveRespectsCap(t *testing.T) {
	c := newReadyConn()
	require.True(t, c.tryReserve(2))
	require.True(t, c.tryReserve(2))
	require.False(t, c.tryReserve(2), "a third reservation must fail once the cap of 2 is reached")
	assert.EqualValues(t, 2, c.StreamsOutstanding())
}

func TestConnReleaseStampsIdle(t *testing.T) {
	c := newReadyConn()
	require.True(t, c.tryReserve(1))
	_, idle := c.idleSince()
	assert.False(t, idle, "a connection with an outstanding stream is never idle")

	c.release()
	since, idle := c.idleSince()
	assert.True(t, idle)
	assert.WithinDuration(t, time.Now(), since, time.Second)
}

func TestConnDrainingRejectsNewStreams(t *testing.T) {
	c := newReadyConn()
	c.drain()
	assert.False(t, c.tryReserve(5))
}

func TestKeyCanonicalization(t *testing.T) {
	a := NewKey("10.0.0.1:15008", []string{"spiffe://c/b", "spiffe://c/a"})
	b := NewKey("10.0.0.1:15008", []string{"spiffe://c/a", "spiffe://c/b", "spiffe://c/a"})
	assert.Equal(t, a, b, "identity set order and duplicates must not change the pool key")

	c := NewKey("10.0.0.1:15008", []string{"spiffe://c/a"})
	assert.NotEqual(t, a, c, "a strict subset of identities is still a distinct pool key")
}
