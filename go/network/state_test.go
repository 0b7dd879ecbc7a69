package network

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClientTransitionLegality(t *testing.T) {
	// Spot-check the happy path and its failure exits.
	require.True(t, connTransitionLegal(Disconnected, Connecting))
	require.True(t, connTransitionLegal(Connecting, Connected))
	require.True(t, connTransitionLegal(Connected, SigningOn))
	require.True(t, connTransitionLegal(SigningOn, SignedOn))
	require.True(t, connTransitionLegal(SignedOn, Reconnecting))
	require.True(t, connTransitionLegal(SignedOn, Disconnecting))
	require.True(t, connTransitionLegal(SignedOn, Failed))
	require.True(t, connTransitionLegal(Reconnecting, Connecting))
	require.True(t, connTransitionLegal(Disconnecting, Disconnected))
	require.True(t, connTransitionLegal(Failed, Connecting))

	// Forbidden jumps.
	require.False(t, connTransitionLegal(Disconnected, SignedOn))
	require.False(t, connTransitionLegal(Disconnected, Connected))
	require.False(t, connTransitionLegal(Connecting, SignedOn))
	require.False(t, connTransitionLegal(SignedOn, Connecting))
	require.False(t, connTransitionLegal(Disconnecting, Connecting))
	require.False(t, connTransitionLegal(Failed, SignedOn))
}

func TestServerTransitionLegality(t *testing.T) {
	require.True(t, serverTransitionLegal(ServerStopped, ServerStarting))
	require.True(t, serverTransitionLegal(ServerStarting, ServerRunning))
	require.True(t, serverTransitionLegal(ServerStarting, ServerFailed))
	require.True(t, serverTransitionLegal(ServerRunning, ServerStopping))
	require.True(t, serverTransitionLegal(ServerStopping, ServerStopped))
	require.True(t, serverTransitionLegal(ServerFailed, ServerStarting))

	require.False(t, serverTransitionLegal(ServerStopped, ServerRunning))
	require.False(t, serverTransitionLegal(ServerRunning, ServerStopped))
	require.False(t, serverTransitionLegal(ServerStopping, ServerRunning))
}

func TestStateStrings(t *testing.T) {
	require.Equal(t, "SIGNED_ON", SignedOn.String())
	require.Equal(t, "DISCONNECTED", Disconnected.String())
	require.Equal(t, "RUNNING", ServerRunning.String())
	require.Equal(t, "ConnState(99)", ConnState(99).String())
}
