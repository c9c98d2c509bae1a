package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// dectInterfaceNoise marks the DECT interface status messages the service
// pushes to every subscriber. They carry nothing about the panel.
const dectInterfaceNoise = 32768

// StreamState is the connection state of a [Stream].
type StreamState int32

const (
	StreamDisconnected StreamState = iota
	StreamConnecting
	StreamConnected
	StreamReconnecting
	StreamClosed
)

func (s StreamState) String() string {
	switch s {
	case StreamDisconnected:
		return "disconnected"
	case StreamConnecting:
		return "connecting"
	case StreamConnected:
		return "connected"
	case StreamReconnecting:
		return "reconnecting"
	case StreamClosed:
		return "closed"
	default:
		return fmt.Sprintf("StreamState(%d)", int32(s))
	}
}

// Message is one decoded stream message.
type Message map[string]any

// Type returns the "type" field of the message, or "".
func (m Message) Type() string {
	t, _ := m["type"].(string)
	return t
}

// Event interprets the message as an alarm event.
func (m Message) Event() Event {
	return EventFromAPI(m)
}

func (m Message) isNoise() bool {
	if m.Type() != "info" {
		return false
	}

	v, ok := lookupPath(m, "data._id.dect_interface")
	if !ok {
		return false
	}

	marker, ok := v.(float64)

	return ok && marker == dectInterfaceNoise
}

// MessageHandler receives the messages of a stream, one at a time, on the
// goroutine running [Stream.Run]. Errors and panics are logged and do not
// stop the stream. A handler that needs to do slow work should hand it to
// its own goroutine.
type MessageHandler func(ctx context.Context, msg Message) error

type StreamOption func(*streamOptions)

type streamOptions struct {
	autoReconnect  bool
	reconnectDelay time.Duration
	onStateChange  func(StreamState)
}

// WithStreamAutoReconnect overrides [WithAutoReconnect] for one stream.
func WithStreamAutoReconnect(enabled bool) StreamOption {
	return func(o *streamOptions) {
		o.autoReconnect = enabled
	}
}

// WithStreamReconnectDelay overrides [WithReconnectDelay] for one stream.
func WithStreamReconnectDelay(delay time.Duration) StreamOption {
	return func(o *streamOptions) {
		if delay > 0 {
			o.reconnectDelay = delay
		}
	}
}

// WithStateListener registers fn to be called on every state change. fn
// runs on the stream goroutine and must not block.
func WithStateListener(fn func(StreamState)) StreamOption {
	return func(o *streamOptions) {
		if fn != nil {
			o.onStateChange = fn
		}
	}
}

// Stream relays the real-time messages of one panel. Create it with
// [Client.NewStream] and drive it with [Stream.Run].
type Stream struct {
	client  *Client
	mac     string
	url     string
	handler MessageHandler
	options streamOptions
	dialer  *websocket.Dialer

	state     atomic.Int32
	running   atomic.Bool
	done      chan struct{}
	closeOnce sync.Once
}

// NewStream prepares a stream for the panel with the given MAC address.
// Nothing is sent until [Stream.Run] is called.
func (c *Client) NewStream(mac string, handler MessageHandler, opts ...StreamOption) (*Stream, error) {
	if c == nil {
		return nil, errors.New("crow client is nil")
	}

	normalized, err := NormalizeMAC(mac)
	if err != nil {
		return nil, err
	}

	if handler == nil {
		return nil, errors.New("message handler must not be nil")
	}

	wsURL, err := streamURL(c.baseURL, normalized)
	if err != nil {
		return nil, err
	}

	options := streamOptions{
		autoReconnect:  c.options.autoReconnect,
		reconnectDelay: c.options.reconnectDelay,
	}

	for _, o := range opts {
		o(&options)
	}

	return &Stream{
		client:  c,
		mac:     normalized,
		url:     wsURL,
		handler: handler,
		options: options,
		dialer:  c.newDialer(),
		done:    make(chan struct{}),
	}, nil
}

// Watch streams the messages of a panel to handler until ctx is cancelled,
// the client is closed, or the connection drops with reconnection disabled.
func (c *Client) Watch(ctx context.Context, mac string, handler MessageHandler, opts ...StreamOption) error {
	s, err := c.NewStream(mac, handler, opts...)
	if err != nil {
		return err
	}

	return s.Run(ctx)
}

// State returns the current connection state.
func (s *Stream) State() StreamState {
	return StreamState(s.state.Load())
}

// Close stops the stream. A blocked read and a pending reconnect wait both
// return promptly, and Run returns nil. Close is idempotent.
func (s *Stream) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
	})

	return nil
}

// Run connects and relays messages until the stream is closed, ctx is
// cancelled, or, with reconnection disabled, the connection is lost. It
// returns nil after [Stream.Close], the context error after cancellation and
// a [*StreamError] when the connection is lost for good. An authentication
// failure before the first connection is returned as is.
func (s *Stream) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return errors.New("stream is already running")
	}
	defer s.running.Store(false)

	if err := s.client.register(s); err != nil {
		return err
	}
	defer s.client.unregister(s)
	defer s.setState(StreamClosed)

	parent := ctx

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		select {
		case <-s.done:
			cancel()
		case <-ctx.Done():
		}
	}()

	logger := s.client.options.requestLogger
	first := true

	for {
		var err error

		if err = s.client.ensureAuthenticated(ctx); err != nil {
			if ctx.Err() != nil {
				return s.stopReason(parent)
			}

			if first {
				return err
			}

			logger.Errorf("websocket authentication for panel %s failed: %v", s.mac, err)
		} else {
			err = s.session(ctx)
		}

		first = false

		if ctx.Err() != nil {
			return s.stopReason(parent)
		}

		if !s.options.autoReconnect {
			s.setState(StreamDisconnected)
			return &StreamError{MAC: s.mac, Err: err}
		}

		s.setState(StreamReconnecting)
		logger.Warnf("websocket for panel %s lost (%v), reconnecting in %v", s.mac, err, s.options.reconnectDelay)

		if err := sleepContext(ctx, s.options.reconnectDelay); err != nil {
			return s.stopReason(parent)
		}
	}
}

func (s *Stream) stopReason(parent context.Context) error {
	select {
	case <-s.done:
		return nil
	default:
	}

	if err := parent.Err(); err != nil {
		return err
	}

	return nil
}

// session runs one connection until it fails or ctx ends.
func (s *Stream) session(ctx context.Context) error {
	logger := s.client.options.requestLogger

	s.setState(StreamConnecting)

	header := http.Header{}
	if token := s.client.currentToken(); token != "" {
		header.Set("Authorization", "Bearer "+token)
	}

	conn, resp, err := s.dialer.DialContext(ctx, s.url, header)
	if err != nil {
		s.setState(StreamDisconnected)

		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			s.client.clearToken()
			return &AuthenticationError{Message: fmt.Sprintf("websocket handshake rejected with status %d", resp.StatusCode)}
		}

		return fmt.Errorf("dial websocket: %w", err)
	}

	stop := make(chan struct{})
	defer close(stop)

	go func() {
		select {
		case <-ctx.Done():
			// Unblocks ReadMessage
			_ = conn.Close()
		case <-stop:
		}
	}()

	defer conn.Close()

	s.setState(StreamConnected)
	logger.Debugf("websocket connected for panel %s", s.mac)

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			s.setState(StreamDisconnected)

			if ctx.Err() != nil {
				return ctx.Err()
			}

			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Debugf("websocket for panel %s closed by server", s.mac)
			} else {
				logger.Errorf("websocket error for panel %s: %v", s.mac, err)
			}

			return err
		}

		if msgType != websocket.TextMessage {
			continue
		}

		s.dispatch(ctx, data)
	}
}

func (s *Stream) dispatch(ctx context.Context, data []byte) {
	logger := s.client.options.requestLogger

	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		logger.Errorf("error decoding websocket message for panel %s: %v", s.mac, err)
		return
	}

	if msg == nil {
		return
	}

	if msg.isNoise() {
		logger.Debugf("skipping DECT info message for panel %s", s.mac)
		return
	}

	logger.Debugf("websocket message for panel %s: %s", s.mac, data)

	s.invoke(ctx, msg)
}

func (s *Stream) invoke(ctx context.Context, msg Message) {
	logger := s.client.options.requestLogger

	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("panic in websocket handler for panel %s: %v", s.mac, r)
		}
	}()

	if err := s.handler(ctx, msg); err != nil {
		logger.Errorf("error in websocket handler for panel %s: %v", s.mac, err)
	}
}

func (s *Stream) setState(state StreamState) {
	if StreamState(s.state.Swap(int32(state))) == state {
		return
	}

	if s.options.onStateChange != nil {
		s.options.onStateChange(state)
	}
}

func (c *Client) register(s *Stream) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return errClosed
	}

	if c.restClient == nil {
		return errNotConnected
	}

	c.streams[s] = struct{}{}

	return nil
}

func (c *Client) unregister(s *Stream) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.streams, s)
}

// newDialer builds the websocket dialer, reusing the TLS and proxy settings
// of a client supplied with WithHTTPClient.
func (c *Client) newDialer() *websocket.Dialer {
	dialer := &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: c.options.timeout,
	}

	if c.options.httpClient != nil {
		if t, ok := c.options.httpClient.Transport.(*http.Transport); ok {
			dialer.Proxy = t.Proxy
			dialer.TLSClientConfig = t.TLSClientConfig
		}
	}

	return dialer
}

// streamURL derives the websocket endpoint of a panel from the API base URL.
func streamURL(baseURL, mac string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("invalid base URL %q: %w", baseURL, err)
	}

	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	default:
		return "", fmt.Errorf("base URL %q must use http or https", baseURL)
	}

	u.Path = strings.TrimRight(u.Path, "/") + "/ws/panels/" + mac
	u.RawQuery = ""

	return u.String(), nil
}
