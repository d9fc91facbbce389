package http

import (
	"context"
	"errors"
	"io"
	stdhttp "net/http"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/vovakirdan/chatrelay/internal/auth"
	"github.com/vovakirdan/chatrelay/internal/config"
	"github.com/vovakirdan/chatrelay/internal/core"
	"github.com/vovakirdan/chatrelay/internal/proto"
)

// WSHandler upgrades HTTP connections and bridges them to the relay.
type WSHandler struct {
	relay    *core.Relay
	resolver auth.IdentityResolver
	cfg      *config.Config
	log      *zerolog.Logger
}

// NewWSHandler builds a new WebSocket handler. A nil resolver accepts everyone anonymously.
func NewWSHandler(relay *core.Relay, resolver auth.IdentityResolver, cfg *config.Config, logger *zerolog.Logger) stdhttp.Handler {
	if resolver == nil {
		resolver = auth.Anonymous{}
	}
	return &WSHandler{relay: relay, resolver: resolver, cfg: cfg, log: logger}
}

func (h *WSHandler) ServeHTTP(w stdhttp.ResponseWriter, r *stdhttp.Request) {
	identity, err := h.resolver.Resolve(r.Context(), r)
	if err != nil {
		status := stdhttp.StatusInternalServerError
		if errors.Is(err, auth.ErrMissingToken) || errors.Is(err, auth.ErrInvalidToken) {
			status = stdhttp.StatusUnauthorized
		}
		h.log.Debug().Err(err).Int("status", status).Msg("ws identity rejected")
		stdhttp.Error(w, stdhttp.StatusText(status), status)
		return
	}

	client := core.NewConnection(uuid.NewString(), identity, h.cfg.SendBuffer)

	// Register before completing the upgrade so that a client which has finished its
	// handshake is already a broadcast target.
	if err := h.relay.OnConnect(client); err != nil {
		h.log.Warn().Err(err).Str("conn_id", client.ID).Msg("relay refused connection")
		stdhttp.Error(w, "relay unavailable", stdhttp.StatusServiceUnavailable)
		return
	}
	defer h.relay.OnDisconnect(client)

	conn, err := websocket.Accept(w, r, h.acceptOptions())
	if err != nil {
		h.log.Warn().Err(err).Str("conn_id", client.ID).Msg("ws accept error")
		return
	}
	defer conn.CloseNow()
	conn.SetReadLimit(h.cfg.MaxMessageBytes)

	h.log.Info().Str("conn_id", client.ID).Str("user", identity).Msg("ws connected")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	limiter := newRateLimiter(h.cfg.RateLimitPerMinute)
	limiter.startReset(ctx.Done())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return h.readLoop(gctx, conn, client, limiter) })
	g.Go(func() error { return h.writeLoop(gctx, conn, client) })
	err = g.Wait()

	status, reason := closeStatus(err)
	if status == websocket.StatusInternalError {
		h.log.Warn().Err(err).Str("conn_id", client.ID).Msg("ws connection closed with error")
	}
	_ = conn.Close(status, reason)

	h.log.Info().Str("conn_id", client.ID).Str("user", identity).Msg("ws disconnected")
}

func (h *WSHandler) acceptOptions() *websocket.AcceptOptions {
	if h.cfg.AllowsAnyOrigin() {
		return &websocket.AcceptOptions{InsecureSkipVerify: true}
	}
	return &websocket.AcceptOptions{OriginPatterns: h.cfg.AllowedOrigins}
}

// readLoop feeds inbound frames to the relay. Frames that are not chat messages are
// dropped and the connection stays open.
func (h *WSHandler) readLoop(ctx context.Context, conn *websocket.Conn, client *core.Connection, limiter *rateLimiter) error {
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		if typ != websocket.MessageText {
			h.log.Debug().Str("conn_id", client.ID).Msg("ignoring binary frame")
			continue
		}
		if !limiter.allow() {
			h.log.Debug().Str("conn_id", client.ID).Msg("rate limit exceeded, dropping message")
			continue
		}

		msg, err := proto.Decode(data)
		if err != nil {
			h.log.Debug().Err(err).Str("conn_id", client.ID).Msg("dropping malformed frame")
			continue
		}

		h.relay.OnMessage(client, core.Message{Sender: msg.User, Text: msg.Text})
	}
}

// writeLoop drains the connection's outbound queue until the relay closes it.
func (h *WSHandler) writeLoop(ctx context.Context, conn *websocket.Conn, client *core.Connection) error {
	for {
		select {
		case msg := <-client.Outbound():
			if err := wsjson.Write(ctx, conn, proto.ChatMessage{User: msg.Sender, Text: msg.Text}); err != nil {
				h.log.Debug().Err(err).Str("conn_id", client.ID).Msg("write ws message")
				return err
			}
		case <-client.Done():
			// Queued messages are abandoned; unblock the reader with a proper close handshake.
			_ = conn.Close(websocket.StatusGoingAway, "relay shutting down")
			return core.ErrConnectionClosed
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// closeStatus maps the error that ended a connection to the close frame we send.
func closeStatus(err error) (websocket.StatusCode, string) {
	switch {
	case err == nil:
		return websocket.StatusNormalClosure, "closing"
	case errors.Is(err, core.ErrConnectionClosed), errors.Is(err, context.Canceled):
		return websocket.StatusGoingAway, "relay shutting down"
	case errors.Is(err, io.EOF):
		return websocket.StatusNormalClosure, "closing"
	}

	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway, websocket.StatusNoStatusRcvd:
		return websocket.StatusNormalClosure, "closing"
	case websocket.StatusMessageTooBig:
		return websocket.StatusMessageTooBig, "message too big"
	case -1:
		return websocket.StatusInternalError, "internal error"
	default:
		return websocket.StatusNormalClosure, "closing"
	}
}
