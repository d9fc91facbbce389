package core

import "errors"

var (
	// ErrDuplicateConnection means a connection ID was registered twice. It is a logic error.
	ErrDuplicateConnection = errors.New("connection already registered")
	// ErrInvalidTransition is returned when a lifecycle event does not match the connection state.
	ErrInvalidTransition = errors.New("invalid connection state transition")
	// ErrConnectionClosed is returned when delivering to a connection that is no longer open.
	ErrConnectionClosed = errors.New("connection closed")
	// ErrSlowConsumer is returned when a connection's outbound queue is full.
	ErrSlowConsumer = errors.New("outbound queue full")
	// ErrRelayClosed is returned by OnConnect after the relay has shut down.
	ErrRelayClosed = errors.New("relay closed")
)
