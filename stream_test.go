package client

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

const noiseMessage = `{"type": "info", "data": {"_id": {"dect_interface": 32768}}}`

var upgrader = websocket.Upgrader{}

// serveStream upgrades stream requests for testMAC and hands each accepted
// connection to fn, numbered from 1. Handshakes without the current token
// are rejected with 401.
func serveStream(t *testing.T, api *testAPI, fn func(n int, conn *websocket.Conn)) *atomic.Int32 {
	t.Helper()

	var conns atomic.Int32

	api.mux.HandleFunc("GET /ws/panels/"+testMAC, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+api.token {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		defer conn.Close()

		fn(int(conns.Add(1)), conn)
	})

	return &conns
}

// drain reads until the client goes away.
func drain(conn *websocket.Conn) {
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func send(t *testing.T, conn *websocket.Conn, payload string) {
	t.Helper()

	if err := conn.WriteMessage(websocket.TextMessage, []byte(payload)); err != nil {
		t.Errorf("write failed: %v", err)
	}
}

func runStream(ctx context.Context, s *Stream) <-chan error {
	errCh := make(chan error, 1)

	go func() {
		errCh <- s.Run(ctx)
	}()

	return errCh
}

func waitRun(t *testing.T, errCh <-chan error) error {
	t.Helper()

	select {
	case err := <-errCh:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("stream did not stop")
		return nil
	}
}

func receive(t *testing.T, messages <-chan Message) Message {
	t.Helper()

	select {
	case msg := <-messages:
		return msg
	case <-time.After(5 * time.Second):
		t.Fatal("no message received")
		return nil
	}
}

func collect(messages chan<- Message) MessageHandler {
	return func(_ context.Context, msg Message) error {
		messages <- msg
		return nil
	}
}

func TestStream_DeliversMessagesAndSkipsNoise(t *testing.T) {
	t.Parallel()

	api := newTestAPI(t)
	serveStream(t, api, func(_ int, conn *websocket.Conn) {
		send(t, conn, noiseMessage)
		send(t, conn, `not json`)
		_ = conn.WriteMessage(websocket.BinaryMessage, []byte{0x01, 0x02})
		send(t, conn, `{"type": "info", "data": {"_id": {"dect_interface": 1}}}`)
		send(t, conn, `{"type": "event", "eventType": "alarm", "zoneName": "Hall"}`)
		drain(conn)
	})

	client := newTestClient(t, api)
	messages := make(chan Message, 10)

	stream, err := client.NewStream("AA:BB:CC:DD:EE:FF", collect(messages))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	errCh := runStream(context.Background(), stream)

	info := receive(t, messages)
	if info.Type() != "info" {
		t.Errorf("expected the non-DECT info message first, got %v", info)
	}

	event := receive(t, messages)
	if event.Type() != "event" || event.Event().Type != "event" || event.Event().ZoneName != "Hall" {
		t.Errorf("unexpected event message: %v", event)
	}

	_ = stream.Close()

	if err := waitRun(t, errCh); err != nil {
		t.Errorf("expected nil after Close, got %v", err)
	}

	if len(messages) != 0 {
		t.Errorf("expected no further messages, got %d", len(messages))
	}
}

func TestStream_HandlerFailuresDoNotStopStream(t *testing.T) {
	t.Parallel()

	api := newTestAPI(t)
	serveStream(t, api, func(_ int, conn *websocket.Conn) {
		send(t, conn, `{"n": 1}`)
		send(t, conn, `{"n": 2}`)
		send(t, conn, `{"n": 3}`)
		drain(conn)
	})

	client := newTestClient(t, api)
	delivered := make(chan Message, 10)

	handler := func(_ context.Context, msg Message) error {
		switch msg["n"] {
		case float64(1):
			panic("boom")
		case float64(2):
			return errors.New("handler failed")
		}
		delivered <- msg
		return nil
	}

	stream, err := client.NewStream(testMAC, handler)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	errCh := runStream(context.Background(), stream)

	if msg := receive(t, delivered); msg["n"] != float64(3) {
		t.Errorf("expected message 3, got %v", msg)
	}

	if stream.State() != StreamConnected {
		t.Errorf("expected connected, got %s", stream.State())
	}

	_ = stream.Close()
	_ = waitRun(t, errCh)
}

func TestStream_ReconnectsAfterServerClose(t *testing.T) {
	t.Parallel()

	api := newTestAPI(t)
	conns := serveStream(t, api, func(n int, conn *websocket.Conn) {
		if n == 1 {
			send(t, conn, `{"connection": 1}`)
			_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}

		send(t, conn, `{"connection": 2}`)
		drain(conn)
	})

	client := newTestClient(t, api)
	messages := make(chan Message, 10)

	stream, err := client.NewStream(testMAC, collect(messages), WithStreamReconnectDelay(50*time.Millisecond))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	errCh := runStream(context.Background(), stream)

	if msg := receive(t, messages); msg["connection"] != float64(1) {
		t.Errorf("unexpected first message: %v", msg)
	}

	if msg := receive(t, messages); msg["connection"] != float64(2) {
		t.Errorf("unexpected second message: %v", msg)
	}

	if n := conns.Load(); n < 2 {
		t.Errorf("expected at least 2 connections, got %d", n)
	}

	_ = stream.Close()

	if err := waitRun(t, errCh); err != nil {
		t.Errorf("expected nil after Close, got %v", err)
	}

	if stream.State() != StreamClosed {
		t.Errorf("expected closed, got %s", stream.State())
	}
}

func TestStream_NoAutoReconnect(t *testing.T) {
	t.Parallel()

	api := newTestAPI(t)
	conns := serveStream(t, api, func(_ int, conn *websocket.Conn) {
		_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	})

	client := newTestClient(t, api, WithAutoReconnect(false))

	err := client.Watch(context.Background(), testMAC, func(context.Context, Message) error { return nil })

	var streamErr *StreamError
	if !errors.As(err, &streamErr) {
		t.Fatalf("expected StreamError, got %v", err)
	}

	if streamErr.MAC != testMAC {
		t.Errorf("expected MAC %s, got %s", testMAC, streamErr.MAC)
	}

	if !websocket.IsCloseError(streamErr.Err, websocket.CloseNormalClosure) {
		t.Errorf("expected normal closure as cause, got %v", streamErr.Err)
	}

	if n := conns.Load(); n != 1 {
		t.Errorf("expected 1 connection, got %d", n)
	}
}

func TestStream_ContextCancel(t *testing.T) {
	t.Parallel()

	api := newTestAPI(t)
	serveStream(t, api, func(_ int, conn *websocket.Conn) {
		send(t, conn, `{"ready": true}`)
		drain(conn)
	})

	client := newTestClient(t, api)
	messages := make(chan Message, 10)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stream, err := client.NewStream(testMAC, collect(messages))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	errCh := runStream(ctx, stream)
	receive(t, messages)

	cancel()

	if err := waitRun(t, errCh); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestStream_ReauthenticatesOnRejectedHandshake(t *testing.T) {
	t.Parallel()

	api := newTestAPI(t)

	var handshakes atomic.Int32
	api.mux.HandleFunc("GET /ws/panels/"+testMAC, func(w http.ResponseWriter, r *http.Request) {
		if handshakes.Add(1) == 1 {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		defer conn.Close()

		send(t, conn, `{"authorized": true}`)
		drain(conn)
	})

	client := newTestClient(t, api)
	messages := make(chan Message, 10)

	stream, err := client.NewStream(testMAC, collect(messages), WithStreamReconnectDelay(50*time.Millisecond))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	errCh := runStream(context.Background(), stream)
	receive(t, messages)

	if n := api.logins.Load(); n != 2 {
		t.Errorf("expected 2 logins, got %d", n)
	}

	if n := handshakes.Load(); n != 2 {
		t.Errorf("expected 2 handshakes, got %d", n)
	}

	_ = stream.Close()
	_ = waitRun(t, errCh)
}

func TestStream_StateListener(t *testing.T) {
	t.Parallel()

	api := newTestAPI(t)
	serveStream(t, api, func(_ int, conn *websocket.Conn) {
		send(t, conn, `{"ready": true}`)
		drain(conn)
	})

	client := newTestClient(t, api)
	messages := make(chan Message, 10)

	var mu sync.Mutex
	var states []StreamState

	listener := func(s StreamState) {
		mu.Lock()
		defer mu.Unlock()
		states = append(states, s)
	}

	stream, err := client.NewStream(testMAC, collect(messages), WithStateListener(listener))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	errCh := runStream(context.Background(), stream)
	receive(t, messages)

	_ = stream.Close()
	_ = waitRun(t, errCh)

	expected := []StreamState{StreamConnecting, StreamConnected, StreamDisconnected, StreamClosed}

	mu.Lock()
	defer mu.Unlock()

	if len(states) != len(expected) {
		t.Fatalf("expected states %v, got %v", expected, states)
	}

	for i := range expected {
		if states[i] != expected[i] {
			t.Errorf("state %d: expected %s, got %s", i, expected[i], states[i])
		}
	}
}

func TestStream_ClientCloseStopsStreams(t *testing.T) {
	t.Parallel()

	api := newTestAPI(t)
	serveStream(t, api, func(_ int, conn *websocket.Conn) {
		send(t, conn, `{"ready": true}`)
		drain(conn)
	})

	client := newTestClient(t, api)
	messages := make(chan Message, 10)

	stream, err := client.NewStream(testMAC, collect(messages))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	errCh := runStream(context.Background(), stream)
	receive(t, messages)

	_ = client.Close()

	if err := waitRun(t, errCh); err != nil {
		t.Errorf("expected nil after client Close, got %v", err)
	}
}

func TestStream_AlreadyRunning(t *testing.T) {
	t.Parallel()

	api := newTestAPI(t)
	serveStream(t, api, func(_ int, conn *websocket.Conn) {
		send(t, conn, `{"ready": true}`)
		drain(conn)
	})

	client := newTestClient(t, api)
	messages := make(chan Message, 10)

	stream, err := client.NewStream(testMAC, collect(messages))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	errCh := runStream(context.Background(), stream)
	receive(t, messages)

	if err := stream.Run(context.Background()); err == nil || err.Error() != "stream is already running" {
		t.Errorf("expected already running error, got %v", err)
	}

	_ = stream.Close()
	_ = waitRun(t, errCh)
}

func TestStream_RequiresOpenClient(t *testing.T) {
	t.Parallel()

	handler := func(context.Context, Message) error { return nil }

	t.Run("not connected", func(t *testing.T) {
		t.Parallel()

		client := New("user@example.com", "secret")

		stream, err := client.NewStream(testMAC, handler)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if err := stream.Run(context.Background()); !errors.Is(err, errNotConnected) {
			t.Errorf("expected not connected error, got %v", err)
		}
	})

	t.Run("closed", func(t *testing.T) {
		t.Parallel()

		api := newTestAPI(t)
		client := newTestClient(t, api)
		_ = client.Close()

		stream, err := client.NewStream(testMAC, handler)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if err := stream.Run(context.Background()); !errors.Is(err, errClosed) {
			t.Errorf("expected closed error, got %v", err)
		}
	})
}

func TestNewStream_Validation(t *testing.T) {
	t.Parallel()

	client := New("user@example.com", "secret")

	_, err := client.NewStream("not-a-mac", func(context.Context, Message) error { return nil })

	var macErr *InvalidMACError
	if !errors.As(err, &macErr) {
		t.Errorf("expected InvalidMACError, got %v", err)
	}

	if _, err := client.NewStream(testMAC, nil); err == nil {
		t.Error("expected error for nil handler")
	}
}

func TestStreamURL(t *testing.T) {
	t.Parallel()

	tests := []struct {
		baseURL  string
		expected string
		wantErr  bool
	}{
		{"https://api.crowcloud.xyz", "wss://api.crowcloud.xyz/ws/panels/" + testMAC, false},
		{"http://localhost:8080", "ws://localhost:8080/ws/panels/" + testMAC, false},
		{"https://example.com/crow/", "wss://example.com/crow/ws/panels/" + testMAC, false},
		{"https://example.com?x=1", "wss://example.com/ws/panels/" + testMAC, false},
		{"ftp://example.com", "", true},
	}

	for _, tt := range tests {
		got, err := streamURL(tt.baseURL, testMAC)

		if tt.wantErr {
			if err == nil {
				t.Errorf("%s: expected error", tt.baseURL)
			}
			continue
		}

		if err != nil {
			t.Errorf("%s: unexpected error: %v", tt.baseURL, err)
			continue
		}

		if got != tt.expected {
			t.Errorf("%s: expected %s, got %s", tt.baseURL, tt.expected, got)
		}
	}
}

func TestMessage_IsNoise(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		input    string
		expected bool
	}{
		{"dect interface info", noiseMessage, true},
		{"other interface", `{"type": "info", "data": {"_id": {"dect_interface": 1}}}`, false},
		{"not info", `{"type": "event", "data": {"_id": {"dect_interface": 32768}}}`, false},
		{"info without data", `{"type": "info"}`, false},
	}

	for _, tt := range tests {
		if got := Message(decodeObject(t, tt.input)).isNoise(); got != tt.expected {
			t.Errorf("%s: expected %t, got %t", tt.name, tt.expected, got)
		}
	}
}

func TestStreamState_String(t *testing.T) {
	t.Parallel()

	if StreamReconnecting.String() != "reconnecting" {
		t.Errorf("unexpected string %s", StreamReconnecting)
	}

	if StreamState(42).String() != "StreamState(42)" {
		t.Errorf("unexpected string %s", StreamState(42))
	}
}
