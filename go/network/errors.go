package network

import "errors"

// Sentinel errors of the connection layer. Callers match with errors.Is.
var (
	// ErrNotConnected: the client is not in an operational state.
	ErrNotConnected = errors.New("not connected")
	// ErrPeerClosed: the remote end closed the connection.
	ErrPeerClosed = errors.New("peer closed connection")
	// ErrTimeout: no response arrived within the request deadline.
	ErrTimeout = errors.New("request timed out")
	// ErrCancelled: the request was cancelled by a client close or shutdown.
	ErrCancelled = errors.New("request cancelled")
	// ErrBackpressure: the bounded send queue stayed full past the enqueue deadline.
	ErrBackpressure = errors.New("send queue is full")
	// ErrDuplicateCorrelation: a request with the same correlation key is in flight.
	ErrDuplicateCorrelation = errors.New("duplicate correlation key")
	// ErrServerMode: the operation applies only to client-mode connections.
	ErrServerMode = errors.New("connection is in server mode")
)
