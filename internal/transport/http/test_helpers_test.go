package http

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/chatrelay/internal/auth"
	"github.com/vovakirdan/chatrelay/internal/config"
	"github.com/vovakirdan/chatrelay/internal/core"
	"github.com/vovakirdan/chatrelay/internal/proto"
)

func testConfig() config.Config {
	cfg := config.Default()
	cfg.Addr = ":0"
	cfg.ReadHeaderTimeout = time.Second
	cfg.ShutdownTimeout = time.Second
	return cfg
}

func startTestServer(t *testing.T, cfg config.Config, resolver auth.IdentityResolver) (*httptest.Server, *core.Relay) {
	t.Helper()

	logger := zerolog.Nop()
	relay := core.NewRelay(core.NewRegistry(), &logger)
	server := NewServer(relay, resolver, &cfg, &logger)

	ts := httptest.NewServer(server.Handler)
	t.Cleanup(ts.Close)
	t.Cleanup(relay.Close)

	return ts, relay
}

func wsURL(ts *httptest.Server, path string) string {
	return strings.Replace(ts.URL, "http", "ws", 1) + path
}

func dial(t *testing.T, ctx context.Context, url string, opts *websocket.DialOptions) *websocket.Conn {
	t.Helper()

	conn, _, err := websocket.Dial(ctx, url, opts)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "done") })
	return conn
}

func send(t *testing.T, ctx context.Context, conn *websocket.Conn, user, text string) {
	t.Helper()

	if err := wsjson.Write(ctx, conn, proto.ChatMessage{User: user, Text: text}); err != nil {
		t.Fatalf("send: %v", err)
	}
}

func receive(t *testing.T, ctx context.Context, conn *websocket.Conn) proto.ChatMessage {
	t.Helper()

	var msg proto.ChatMessage
	if err := wsjson.Read(ctx, conn, &msg); err != nil {
		t.Fatalf("receive: %v", err)
	}
	return msg
}

func waitForConnections(t *testing.T, relay *core.Relay, want int) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if relay.Stats().Connections == want {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("expected %d connections, have %d", want, relay.Stats().Connections)
}
