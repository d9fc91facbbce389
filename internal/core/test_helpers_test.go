package core

import (
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func newTestRelay() *Relay {
	logger := zerolog.Nop()
	return NewRelay(NewRegistry(), &logger)
}

func mustConnect(t *testing.T, r *Relay, id, identity string) *Connection {
	t.Helper()

	c := NewConnection(id, identity, 8)
	if err := r.OnConnect(c); err != nil {
		t.Fatalf("connect %s: %v", id, err)
	}
	return c
}

func connectN(t *testing.T, r *Relay, n int) []*Connection {
	t.Helper()

	conns := make([]*Connection, 0, n)
	for i := 0; i < n; i++ {
		conns = append(conns, mustConnect(t, r, fmt.Sprintf("c%d", i), ""))
	}
	return conns
}

func mustMessage(t *testing.T, c *Connection) Message {
	t.Helper()

	select {
	case msg := <-c.Outbound():
		return msg
	case <-time.After(2 * time.Second):
		t.Fatalf("expected message for %s", c.ID)
		return Message{}
	}
}

func expectNoMessage(t *testing.T, c *Connection) {
	t.Helper()

	select {
	case msg := <-c.Outbound():
		t.Fatalf("unexpected message for %s: %+v", c.ID, msg)
	default:
	}
}
