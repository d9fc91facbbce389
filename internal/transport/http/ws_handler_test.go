package http

import (
	"context"
	"encoding/json"
	"errors"
	stdhttp "net/http"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/vovakirdan/chatrelay/internal/auth"
	"github.com/vovakirdan/chatrelay/internal/proto"
)

func TestHealthEndpoint(t *testing.T) {
	ts, _ := startTestServer(t, testConfig(), nil)

	resp, err := ts.Client().Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("health request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != stdhttp.StatusOK {
		t.Fatalf("unexpected status: %d", resp.StatusCode)
	}

	var body HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode health: %v", err)
	}
	if body.Status != "ok" || body.Connections != 0 {
		t.Fatalf("unexpected health body: %+v", body)
	}
}

func TestWebSocketUpgradeKeepsConnectionOpen(t *testing.T) {
	ts, relay := startTestServer(t, testConfig(), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := dial(t, ctx, wsURL(ts, "/api/socket"), nil)

	// A failed hijack after the 101 would tear the registration down right away.
	time.Sleep(50 * time.Millisecond)
	if err := conn.Ping(ctx); err != nil {
		t.Fatalf("ping after upgrade: %v", err)
	}

	resp, err := ts.Client().Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("health request failed: %v", err)
	}
	defer resp.Body.Close()

	var body HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode health: %v", err)
	}
	if body.Connections != 1 || relay.Stats().Connections != 1 {
		t.Fatalf("expected one open connection, health=%+v", body)
	}
}

func TestWebSocketBroadcastWithoutEcho(t *testing.T) {
	ts, relay := startTestServer(t, testConfig(), nil)
	url := wsURL(ts, "/api/socket")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	x := dial(t, ctx, url, nil)
	y := dial(t, ctx, url, nil)
	if relay.Stats().Connections != 2 {
		t.Fatalf("both connections should be registered once dial returns, have %d", relay.Stats().Connections)
	}

	send(t, ctx, x, "X", "hi")
	if got := receive(t, ctx, y); got != (proto.ChatMessage{User: "X", Text: "hi"}) {
		t.Fatalf("unexpected message at Y: %+v", got)
	}

	// Y answers; if X had been echoed, the echo would arrive before the answer.
	send(t, ctx, y, "Y", "hello")
	if got := receive(t, ctx, x); got != (proto.ChatMessage{User: "Y", Text: "hello"}) {
		t.Fatalf("X received %+v, expected Y's answer first", got)
	}
}

func TestWebSocketPreservesOrder(t *testing.T) {
	ts, _ := startTestServer(t, testConfig(), nil)
	url := wsURL(ts, "/api/socket")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	a := dial(t, ctx, url, nil)
	b := dial(t, ctx, url, nil)

	texts := []string{"m1", "m2", "m3", "m4"}
	for _, text := range texts {
		send(t, ctx, a, "A", text)
	}
	for _, want := range texts {
		if got := receive(t, ctx, b).Text; got != want {
			t.Fatalf("got %q, want %q", got, want)
		}
	}
}

func TestWebSocketDropsMalformedFrames(t *testing.T) {
	ts, _ := startTestServer(t, testConfig(), nil)
	url := wsURL(ts, "/api/socket")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	x := dial(t, ctx, url, nil)
	y := dial(t, ctx, url, nil)

	for _, frame := range []string{`not json`, `{"user":"X"}`, `{"user":"X","text":""}`} {
		if err := x.Write(ctx, websocket.MessageText, []byte(frame)); err != nil {
			t.Fatalf("write malformed frame: %v", err)
		}
	}
	if err := x.Write(ctx, websocket.MessageBinary, []byte{0x01}); err != nil {
		t.Fatalf("write binary frame: %v", err)
	}

	send(t, ctx, x, "X", "valid")
	if got := receive(t, ctx, y); got.Text != "valid" {
		t.Fatalf("expected only the valid message, got %+v", got)
	}
}

func TestWebSocketPeerDisconnect(t *testing.T) {
	ts, relay := startTestServer(t, testConfig(), nil)
	url := wsURL(ts, "/api/socket")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	x := dial(t, ctx, url, nil)
	y := dial(t, ctx, url, nil)

	if err := x.Close(websocket.StatusNormalClosure, "bye"); err != nil {
		t.Fatalf("close x: %v", err)
	}
	waitForConnections(t, relay, 1)

	send(t, ctx, y, "Y", "anyone?")

	// Y stays usable: a newcomer receives Y's next message and nothing earlier.
	z := dial(t, ctx, url, nil)
	send(t, ctx, y, "Y", "welcome")
	if got := receive(t, ctx, z); got.Text != "welcome" {
		t.Fatalf("newcomer got %+v, expected no replay", got)
	}
}

func TestWebSocketRelayShutdownClosesClients(t *testing.T) {
	ts, relay := startTestServer(t, testConfig(), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := dial(t, ctx, wsURL(ts, "/api/socket"), nil)
	relay.Close()

	_, _, err := conn.Read(ctx)
	if status := websocket.CloseStatus(err); status != websocket.StatusGoingAway {
		t.Fatalf("expected going away close, got %v (%v)", status, err)
	}

	_, resp, err := websocket.Dial(ctx, wsURL(ts, "/api/socket"), nil)
	if err == nil {
		t.Fatal("expected dial to fail after relay shutdown")
	}
	if resp == nil || resp.StatusCode != stdhttp.StatusServiceUnavailable {
		t.Fatalf("expected 503 after shutdown, got %+v", resp)
	}
}

func TestWebSocketJWTIdentity(t *testing.T) {
	cfg := testConfig()
	cfg.JWTSecret = "testsecret"
	cfg.JWTRequired = true

	jwtCfg := &auth.JWTConfig{Secret: []byte(cfg.JWTSecret), TTL: time.Minute}
	ts, _ := startTestServer(t, cfg, auth.NewJWTResolver(jwtCfg, nil, true))
	url := wsURL(ts, "/api/socket")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, resp, err := websocket.Dial(ctx, url, nil)
	if err == nil || resp == nil || resp.StatusCode != stdhttp.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got resp=%+v err=%v", resp, err)
	}

	_, resp, err = websocket.Dial(ctx, url+"?token=invalid", nil)
	if err == nil || resp == nil || resp.StatusCode != stdhttp.StatusUnauthorized {
		t.Fatalf("expected 401 for invalid token, got resp=%+v err=%v", resp, err)
	}

	token, err := auth.GenerateToken(jwtCfg, "u1", "alice")
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}
	alice := dial(t, ctx, url, &websocket.DialOptions{
		HTTPHeader: stdhttp.Header{"Cookie": []string{auth.TokenCookie + "=" + token}},
	})

	other, err := auth.GenerateToken(jwtCfg, "u2", "bob")
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}
	bob := dial(t, ctx, url, &websocket.DialOptions{
		HTTPHeader: stdhttp.Header{"Authorization": []string{"Bearer " + other}},
	})

	send(t, ctx, alice, "mallory", "it's me")
	if got := receive(t, ctx, bob); got.User != "alice" {
		t.Fatalf("expected sender alice from token, got %+v", got)
	}
}

func TestWebSocketCustomPath(t *testing.T) {
	cfg := testConfig()
	cfg.WSPath = "/chat"
	ts, _ := startTestServer(t, cfg, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, _, err := websocket.Dial(ctx, wsURL(ts, "/api/socket"), nil); err == nil {
		t.Fatal("expected default path to be unrouted")
	}

	a := dial(t, ctx, wsURL(ts, "/chat"), nil)
	b := dial(t, ctx, wsURL(ts, "/chat"), nil)
	if err := wsjson.Write(ctx, a, proto.ChatMessage{User: "A", Text: "custom"}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if got := receive(t, ctx, b); got.Text != "custom" {
		t.Fatalf("unexpected message: %+v", got)
	}
}

func TestCloseStatus(t *testing.T) {
	if status, _ := closeStatus(nil); status != websocket.StatusNormalClosure {
		t.Fatalf("nil error: got %v", status)
	}
	if status, _ := closeStatus(context.Canceled); status != websocket.StatusGoingAway {
		t.Fatalf("canceled: got %v", status)
	}
	if status, _ := closeStatus(errors.New("boom")); status != websocket.StatusInternalError {
		t.Fatalf("unknown error: got %v", status)
	}
}
