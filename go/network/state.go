package network

import "fmt"

// ConnState is the lifecycle state of a dual-channel client.
// A client is operational only in SignedOn.
type ConnState int32

const (
	Disconnected ConnState = iota
	Connecting
	Connected
	SigningOn
	SignedOn
	Reconnecting
	Disconnecting
	Failed
)

// String returns the state's name.
func (s ConnState) String() string {
	switch s {
	case Disconnected:
		return "DISCONNECTED"
	case Connecting:
		return "CONNECTING"
	case Connected:
		return "CONNECTED"
	case SigningOn:
		return "SIGNING_ON"
	case SignedOn:
		return "SIGNED_ON"
	case Reconnecting:
		return "RECONNECTING"
	case Disconnecting:
		return "DISCONNECTING"
	case Failed:
		return "FAILED"
	default:
		return fmt.Sprintf("ConnState(%d)", s)
	}
}

// legalConnTransitions enumerates every allowed client transition.
// Transitions not listed are rejected.
var legalConnTransitions = map[ConnState][]ConnState{
	Disconnected:  {Connecting},
	Connecting:    {Connected, Reconnecting, Disconnecting, Failed},
	Connected:     {SigningOn, SignedOn, Reconnecting, Disconnecting, Failed},
	SigningOn:     {SignedOn, Reconnecting, Disconnecting, Failed},
	SignedOn:      {Reconnecting, Disconnecting, Failed},
	Reconnecting:  {Connecting, Disconnecting, Failed},
	Disconnecting: {Disconnected},
	Failed:        {Connecting, Disconnecting},
}

func connTransitionLegal(from, to ConnState) bool {
	for _, t := range legalConnTransitions[from] {
		if t == to {
			return true
		}
	}
	return false
}

// ServerState is the lifecycle state of a dual-channel server.
type ServerState int32

const (
	ServerStopped ServerState = iota
	ServerStarting
	ServerRunning
	ServerStopping
	ServerFailed
)

// String returns the state's name.
func (s ServerState) String() string {
	switch s {
	case ServerStopped:
		return "STOPPED"
	case ServerStarting:
		return "STARTING"
	case ServerRunning:
		return "RUNNING"
	case ServerStopping:
		return "STOPPING"
	case ServerFailed:
		return "FAILED"
	default:
		return fmt.Sprintf("ServerState(%d)", s)
	}
}

var legalServerTransitions = map[ServerState][]ServerState{
	ServerStopped:  {ServerStarting},
	ServerStarting: {ServerRunning, ServerStopping, ServerFailed},
	ServerRunning:  {ServerStopping, ServerFailed},
	ServerStopping: {ServerStopped},
	ServerFailed:   {ServerStarting},
}

func serverTransitionLegal(from, to ServerState) bool {
	for _, t := range legalServerTransitions[from] {
		if t == to {
			return true
		}
	}
	return false
}
