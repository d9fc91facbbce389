package core

import (
	"sync/atomic"
)

// State is a connection lifecycle stage.
type State int32

const (
	// StateConnecting is the initial state, before the relay accepted the connection.
	StateConnecting State = iota
	// StateOpen means the connection is registered and takes part in fan-out.
	StateOpen
	// StateClosed is terminal.
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// DefaultSendBuffer is the outbound queue size used when none is given.
const DefaultSendBuffer = 32

// Connection is one duplex channel between a client and the relay.
// Messages for the peer are queued on Outbound; the transport drains it until Done is closed.
type Connection struct {
	ID       string
	Identity string

	state    atomic.Int32
	outbound chan Message
	done     chan struct{}
}

// NewConnection builds a connection in StateConnecting. identity may be empty.
func NewConnection(id, identity string, sendBuffer int) *Connection {
	if sendBuffer <= 0 {
		sendBuffer = DefaultSendBuffer
	}
	return &Connection{
		ID:       id,
		Identity: identity,
		outbound: make(chan Message, sendBuffer),
		done:     make(chan struct{}),
	}
}

// State returns the current lifecycle state.
func (c *Connection) State() State {
	return State(c.state.Load())
}

// Outbound yields messages addressed to this connection, in enqueue order.
func (c *Connection) Outbound() <-chan Message {
	return c.outbound
}

// Done is closed when the connection enters StateClosed.
func (c *Connection) Done() <-chan struct{} {
	return c.done
}

func (c *Connection) open() bool {
	return c.state.CompareAndSwap(int32(StateConnecting), int32(StateOpen))
}

// close moves the connection to StateClosed. Only the first call returns true.
func (c *Connection) close() bool {
	for {
		cur := c.state.Load()
		if State(cur) == StateClosed {
			return false
		}
		if c.state.CompareAndSwap(cur, int32(StateClosed)) {
			close(c.done)
			return true
		}
	}
}

// deliver enqueues without blocking. The outbound channel is never closed, so a
// delivery racing with teardown lands in a queue nobody drains and is dropped.
func (c *Connection) deliver(msg Message) error {
	if c.State() != StateOpen {
		return ErrConnectionClosed
	}
	select {
	case c.outbound <- msg:
		return nil
	default:
		return ErrSlowConsumer
	}
}
