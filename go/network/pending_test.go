package network

import (
	"bytes"
	"errors"
	"testing"
	"time"

	pf "github.com/paynet/fep/go/protocols/fep"
	"github.com/stretchr/testify/require"
)

func TestPendingResolveIsAtMostOnce(t *testing.T) {
	var p = newPendingMap()

	var pr = p.add("k1", time.Second)
	require.NotNil(t, pr)
	require.Equal(t, 1, p.len())

	// First resolution wins; the late duplicate finds no entry.
	require.True(t, p.resolve("k1", pf.Message{MTI: "0210"}))
	require.False(t, p.resolve("k1", pf.Message{MTI: "0210"}))
	require.False(t, p.fail("k1", ErrPeerClosed))
	require.Equal(t, 0, p.len())

	var res = <-pr.ch
	require.NoError(t, res.err)
	require.Equal(t, "0210", res.msg.MTI)
}

func TestPendingDuplicateKeyRejected(t *testing.T) {
	var p = newPendingMap()

	require.NotNil(t, p.add("k1", time.Second))
	require.Nil(t, p.add("k1", time.Second))

	// The slot is reclaimed once the first request completes.
	p.remove("k1")
	require.NotNil(t, p.add("k1", time.Second))
}

func TestPendingFailAll(t *testing.T) {
	var p = newPendingMap()

	var a = p.add("a", time.Second)
	var b = p.add("b", time.Second)
	p.failAll(ErrCancelled)

	require.ErrorIs(t, (<-a.ch).err, ErrCancelled)
	require.ErrorIs(t, (<-b.ch).err, ErrCancelled)
	require.Equal(t, 0, p.len())
}

func TestPendingLateResponseTombstone(t *testing.T) {
	var p = newPendingMap()

	require.NotNil(t, p.add("k1", time.Second))
	p.remove("k1") // Requester timed out.

	// The arriving response matches no entry, but is identified as late.
	require.False(t, p.resolve("k1", pf.Message{MTI: "0210"}))
	require.True(t, p.wasLapsed("k1"))
	require.False(t, p.wasLapsed("k1"), "tombstones are consumed")

	// Keys never in flight carry no tombstone.
	require.False(t, p.wasLapsed("k2"))
}

func TestPendingFail(t *testing.T) {
	var p = newPendingMap()

	var pr = p.add("k", time.Second)
	require.True(t, p.fail("k", ErrPeerClosed))
	require.True(t, errors.Is((<-pr.ch).err, ErrPeerClosed))
}

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer

	require.NoError(t, writeFrame(&buf, []byte("hello")))
	require.NoError(t, writeFrame(&buf, nil))
	require.NoError(t, writeFrame(&buf, []byte("world")))

	var out, err = readFrame(&buf)
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), out)

	out, err = readFrame(&buf)
	require.NoError(t, err)
	require.Empty(t, out)

	out, err = readFrame(&buf)
	require.NoError(t, err)
	require.Equal(t, []byte("world"), out)

	_, err = readFrame(&buf)
	require.Error(t, err) // EOF.

	require.Error(t, writeFrame(&buf, make([]byte, maxFrameSize+1)))
}
