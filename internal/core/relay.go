package core

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// Stats is a point-in-time view of relay activity.
type Stats struct {
	Connections int    `json:"connections"`
	Relayed     uint64 `json:"relayed"`
	Dropped     uint64 `json:"dropped"`
}

// Relay fans inbound messages out to every other open connection.
// Delivery is best-effort: no retries, no acknowledgements, no history.
type Relay struct {
	registry *Registry
	log      *zerolog.Logger
	maxText  int

	mu     sync.Mutex // serialises registration against Close
	closed bool

	relayed atomic.Uint64
	dropped atomic.Uint64
}

// RelayOption configures a Relay.
type RelayOption func(*Relay)

// WithMaxTextLength caps relayed texts at n bytes. Non-positive values keep MaxTextLength.
func WithMaxTextLength(n int) RelayOption {
	return func(r *Relay) {
		if n > 0 {
			r.maxText = n
		}
	}
}

// NewRelay builds a relay over the given registry. A nil logger disables logging.
func NewRelay(registry *Registry, logger *zerolog.Logger, opts ...RelayOption) *Relay {
	if registry == nil {
		registry = NewRegistry()
	}
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	r := &Relay{registry: registry, log: logger, maxText: MaxTextLength}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Registry exposes the relay's connection registry.
func (r *Relay) Registry() *Registry {
	return r.registry
}

// OnConnect opens c and registers it. On failure c ends up closed.
func (r *Relay) OnConnect(c *Connection) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		c.close()
		return ErrRelayClosed
	}
	if !c.open() {
		return ErrInvalidTransition
	}
	if err := r.registry.Register(c); err != nil {
		c.close()
		r.log.Error().Err(err).Str("conn_id", c.ID).Msg("duplicate connection id")
		return err
	}

	r.log.Debug().Str("conn_id", c.ID).Str("user", c.Identity).Int("connections", r.registry.Len()).Msg("connection opened")
	return nil
}

// OnMessage relays msg from c to all other open connections and returns how many
// peers it was queued for. Messages from a connection that is not open, and
// malformed messages, are discarded without error.
func (r *Relay) OnMessage(c *Connection, msg Message) int {
	if c.State() != StateOpen {
		r.log.Debug().Str("conn_id", c.ID).Str("state", c.State().String()).Msg("discarding message from non-open connection")
		return 0
	}
	if !msg.Valid(r.maxText) {
		r.log.Debug().Str("conn_id", c.ID).Int("len", len(msg.Text)).Msg("discarding malformed message")
		return 0
	}
	if c.Identity != "" {
		msg.Sender = c.Identity
	}

	targets := r.registry.AllExcept(c.ID)
	delivered := 0
	for _, peer := range targets {
		if err := peer.deliver(msg); err != nil {
			r.dropped.Add(1)
			ev := r.log.Debug()
			if errors.Is(err, ErrSlowConsumer) {
				ev = r.log.Warn()
			}
			ev.Err(err).Str("conn_id", peer.ID).Str("from", c.ID).Msg("drop message for peer")
			continue
		}
		delivered++
	}
	r.relayed.Add(1)

	r.log.Debug().Str("conn_id", c.ID).Int("peers", delivered).Msg("message relayed")
	return delivered
}

// OnDisconnect closes c and removes it from the registry. Safe to call more than once.
func (r *Relay) OnDisconnect(c *Connection) {
	if c.close() {
		r.log.Debug().Str("conn_id", c.ID).Str("user", c.Identity).Msg("connection closed")
	}
	// A duplicate that failed to register must not evict the original.
	r.registry.remove(c)
}

// Close shuts the relay down: every open connection is disconnected and new ones are refused.
func (r *Relay) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	conns := r.registry.Snapshot()
	r.mu.Unlock()

	for _, c := range conns {
		r.OnDisconnect(c)
	}
	r.log.Info().Int("connections", len(conns)).Msg("relay closed")
}

// Stats reports current counters.
func (r *Relay) Stats() Stats {
	return Stats{
		Connections: r.registry.Len(),
		Relayed:     r.relayed.Load(),
		Dropped:     r.dropped.Load(),
	}
}
