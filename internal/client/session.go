// Package client implements a chat session against the relay: one connection,
// a local ordered history, and send/receive for the UI layer.
package client

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/chatrelay/internal/proto"
)

var (
	// ErrNotConnected is returned by Send before Connect has completed or after Disconnect.
	ErrNotConnected = errors.New("session not connected")
	// ErrAlreadyConnected is returned by Connect on a live session.
	ErrAlreadyConnected = errors.New("session already connected")
	// ErrEmptyMessage is returned by Send for blank text.
	ErrEmptyMessage = errors.New("empty message")
)

// HistoryEntry is one line of the local chat history.
type HistoryEntry struct {
	User string
	Text string
	// At is when the entry was appended locally; the relay carries no timestamps.
	At time.Time
	// Own marks the local echo of a message this session sent.
	Own bool
}

// Handler is invoked for every message delivered by the relay, from the receive goroutine.
type Handler func(HistoryEntry)

// Option configures a Session.
type Option func(*Session)

// WithHandler sets the receive callback.
func WithHandler(h Handler) Option {
	return func(s *Session) { s.handler = h }
}

// WithHeader sets headers sent with the upgrade request, e.g. the session cookie.
func WithHeader(h http.Header) Option {
	return func(s *Session) { s.header = h.Clone() }
}

// WithToken sends token as the session cookie.
func WithToken(token string) Option {
	return func(s *Session) {
		if s.header == nil {
			s.header = http.Header{}
		}
		s.header.Add("Cookie", "token="+token)
	}
}

// WithLogger sets the session logger.
func WithLogger(logger *zerolog.Logger) Option {
	return func(s *Session) { s.log = logger }
}

// WithClock overrides time.Now for history timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Session) { s.now = now }
}

// Session is one user's view of the chat.
type Session struct {
	url      string
	identity string
	header   http.Header
	handler  Handler
	log      *zerolog.Logger
	now      func() time.Time

	mu      sync.Mutex
	conn    *websocket.Conn
	cancel  context.CancelFunc
	done    chan struct{}
	history []HistoryEntry
}

// New builds a disconnected session. identity labels outbound messages.
func New(url, identity string, opts ...Option) *Session {
	nop := zerolog.Nop()
	s := &Session{
		url:      url,
		identity: identity,
		log:      &nop,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Identity returns the name outbound messages carry.
func (s *Session) Identity() string {
	return s.identity
}

// Connect dials the relay and starts receiving. The receive goroutine runs until
// Disconnect or until the relay closes the connection.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn != nil {
		if !isClosed(s.done) {
			return ErrAlreadyConnected
		}
		// The relay ended the previous connection; release it before dialing again.
		s.cancel()
		_ = s.conn.CloseNow()
		s.conn, s.cancel = nil, nil
	}

	conn, _, err := websocket.Dial(ctx, s.url, &websocket.DialOptions{HTTPHeader: s.header})
	if err != nil {
		return fmt.Errorf("dial %s: %w", s.url, err)
	}

	recvCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	s.conn = conn
	s.cancel = cancel
	s.done = done

	go s.receive(recvCtx, conn, done)

	s.log.Debug().Str("url", s.url).Str("user", s.identity).Msg("session connected")
	return nil
}

// Connected reports whether Send would reach the relay.
func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn != nil && !isClosed(s.done)
}

// Done is closed when the receiving state ends. It is nil before Connect.
func (s *Session) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

// Send appends the message to local history at once, then transmits it.
// There is no acknowledgement from the relay.
func (s *Session) Send(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyMessage
	}

	s.mu.Lock()
	conn := s.conn
	if conn == nil || isClosed(s.done) {
		s.mu.Unlock()
		return ErrNotConnected
	}
	s.history = append(s.history, HistoryEntry{User: s.identity, Text: text, At: s.now(), Own: true})
	s.mu.Unlock()

	data, err := proto.Encode(proto.ChatMessage{User: s.identity, Text: text})
	if err != nil {
		return fmt.Errorf("encode: %w", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("send: %w", err)
	}
	return nil
}

// Disconnect closes the connection and waits for the receive goroutine. Safe to call
// on every exit path, including when never connected.
func (s *Session) Disconnect() error {
	s.mu.Lock()
	conn, cancel, done := s.conn, s.cancel, s.done
	s.conn, s.cancel = nil, nil
	s.mu.Unlock()

	if conn == nil {
		return nil
	}

	wasLive := !isClosed(done)
	err := conn.Close(websocket.StatusNormalClosure, "bye")
	cancel()
	<-done

	s.log.Debug().Str("url", s.url).Str("user", s.identity).Msg("session disconnected")

	if err != nil && wasLive && !isExpectedClose(err) {
		return fmt.Errorf("close: %w", err)
	}
	return nil
}

// History returns a copy of the local history in append order.
func (s *Session) History() []HistoryEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]HistoryEntry, len(s.history))
	copy(out, s.history)
	return out
}

func (s *Session) receive(ctx context.Context, conn *websocket.Conn, done chan struct{}) {
	defer close(done)

	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			if !isExpectedClose(err) {
				s.log.Warn().Err(err).Str("user", s.identity).Msg("session receive ended")
			}
			return
		}
		if typ != websocket.MessageText {
			continue
		}

		msg, err := proto.Decode(data)
		if err != nil {
			s.log.Debug().Err(err).Msg("dropping malformed frame")
			continue
		}

		entry := HistoryEntry{User: msg.User, Text: msg.Text, At: s.now()}
		s.mu.Lock()
		s.history = append(s.history, entry)
		s.mu.Unlock()

		if s.handler != nil {
			s.handler(entry)
		}
	}
}

func isClosed(ch <-chan struct{}) bool {
	if ch == nil {
		return false
	}
	select {
	case <-ch:
		return true
	default:
		return false
	}
}

func isExpectedClose(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, net.ErrClosed) {
		return true
	}
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		return true
	}
	return false
}
