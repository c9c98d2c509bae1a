package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

var (
	errNotConnected = errors.New("client not connected - call Connect() first")
	errClosed       = errors.New("client is closed")
)

// Client is a Crow Cloud API client. It is safe for concurrent use.
type Client struct {
	email      string
	password   string
	baseURL    string
	options    *Options
	restClient *resty.Client
	limiter    *rate.Limiter

	loginMu sync.Mutex

	mu          sync.Mutex
	token       string
	tokenExpiry time.Time
	connected   bool
	closed      bool
	streams     map[*Stream]struct{}
}

type request struct {
	method       string
	path         string
	body         any
	params       map[string]string
	requiresAuth bool
}

// New creates a client for the given account. Call [Client.Connect] before
// using it.
func New(email, password string, opts ...Option) *Client {
	options := newClientOptions()

	for _, o := range opts {
		o(options)
	}

	return &Client{
		email:    email,
		password: password,
		baseURL:  options.baseURL,
		options:  options,
		streams:  make(map[*Stream]struct{}),
	}
}

// Connect validates the options, prepares the HTTP transport and logs in.
// Calling Connect on a connected client is a no-op.
func (c *Client) Connect(ctx context.Context) error {
	if c == nil {
		return errors.New("crow client is nil")
	}

	c.mu.Lock()

	if c.closed {
		c.mu.Unlock()
		return errClosed
	}

	if c.connected {
		c.mu.Unlock()
		return nil
	}

	if strings.TrimSpace(c.email) == "" || c.password == "" {
		c.mu.Unlock()
		return errors.New("email and password must be set")
	}

	if err := c.options.Validate(); err != nil {
		c.mu.Unlock()
		return fmt.Errorf("invalid options: %w", err)
	}

	if c.restClient == nil {
		c.restClient = c.newRestClient()

		if c.options.rateLimit > 0 {
			c.limiter = rate.NewLimiter(c.options.rateLimit, c.options.rateBurst)
		}
	}

	c.mu.Unlock()

	if err := c.Login(ctx); err != nil {
		return fmt.Errorf("failed to log in to Crow Cloud: %w", err)
	}

	c.mu.Lock()
	c.connected = true
	c.mu.Unlock()

	return nil
}

func (c *Client) newRestClient() *resty.Client {
	var rc *resty.Client
	if c.options.httpClient != nil {
		rc = resty.NewWithClient(c.options.httpClient)
	} else {
		rc = resty.New()
	}

	// Retries are driven by do, resty only sends
	return rc.
		SetBaseURL(c.options.baseURL).
		SetHeaders(c.options.requestHeaders).
		SetLogger(c.options.requestLogger).
		SetRetryCount(0)
}

// Close stops every stream started from this client and releases idle
// connections of the internally created HTTP client. An HTTP client
// supplied with [WithHTTPClient] is left untouched. Close is idempotent.
func (c *Client) Close() error {
	if c == nil {
		return nil
	}

	c.mu.Lock()

	if c.closed {
		c.mu.Unlock()
		return nil
	}

	c.closed = true
	c.connected = false
	c.token = ""
	c.tokenExpiry = time.Time{}

	streams := make([]*Stream, 0, len(c.streams))
	for s := range c.streams {
		streams = append(streams, s)
	}
	c.streams = nil

	rc := c.restClient
	c.mu.Unlock()

	for _, s := range streams {
		s.Close()
	}

	if rc != nil && c.options.httpClient == nil {
		rc.GetClient().CloseIdleConnections()
	}

	return nil
}

// Execute sends an authenticated request to path and returns the decoded
// JSON body. It returns nil when the body is empty or not JSON, and when
// the API answers 408, which state-changing endpoints use to signal that the
// panel has not confirmed the change yet.
func (c *Client) Execute(ctx context.Context, method, path string, body any, params map[string]string) (any, error) {
	return c.execute(ctx, request{
		method:       method,
		path:         path,
		body:         body,
		params:       params,
		requiresAuth: true,
	})
}

func (c *Client) execute(ctx context.Context, req request) (any, error) {
	resp, err := c.do(ctx, req)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode() == http.StatusRequestTimeout {
		return nil, nil
	}

	body := bytes.TrimSpace(resp.Body())
	if len(body) == 0 {
		return nil, nil
	}

	var result any
	if err := json.Unmarshal(body, &result); err != nil {
		c.options.requestLogger.Debugf("%s %s returned a non-JSON body, ignoring it", req.method, req.path)
		return nil, nil
	}

	return result, nil
}

// executeRaw is execute for endpoints with binary responses.
func (c *Client) executeRaw(ctx context.Context, req request) ([]byte, error) {
	resp, err := c.do(ctx, req)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode() == http.StatusRequestTimeout {
		return nil, nil
	}

	return resp.Body(), nil
}

// do runs req with the retry policy. It returns either a response with a
// 2xx or 408 status, or a typed error.
func (c *Client) do(ctx context.Context, req request) (*resty.Response, error) {
	rc, err := c.transport()
	if err != nil {
		return nil, err
	}

	if req.requiresAuth {
		if err := c.ensureAuthenticated(ctx); err != nil {
			return nil, err
		}
	}

	requestID := uuid.NewString()
	attempts := c.options.retryCount
	reauthenticated := false

	var lastErr error

	for attempt := 0; attempt < attempts; attempt++ {
		if err := c.waitLimiter(ctx); err != nil {
			return nil, err
		}

		resp, err := c.send(ctx, rc, req, requestID)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}

			lastErr = err

			if !c.options.retryPolicy(resp, err) {
				break
			}

			if attempt < attempts-1 {
				delay := c.options.retryDelay * time.Duration(attempt+1)
				c.options.requestLogger.Warnf("%s %s failed (attempt %d of %d), retrying in %v: %v", req.method, req.path, attempt+1, attempts, delay, err)

				if err := sleepContext(ctx, delay); err != nil {
					return nil, err
				}
			}

			continue
		}

		status := resp.StatusCode()

		if status == http.StatusUnauthorized || status == http.StatusForbidden {
			c.clearToken()

			if req.requiresAuth && !reauthenticated && attempt < attempts-1 {
				reauthenticated = true
				c.options.requestLogger.Debugf("%s %s was rejected with status %d, logging in again", req.method, req.path, status)

				if err := c.Login(ctx); err != nil {
					return nil, err
				}

				continue
			}

			return nil, &AuthenticationError{Message: fmt.Sprintf("%s %s was rejected with status %d", req.method, req.path, status)}
		}

		if err := c.checkStatus(req.path, resp); err != nil {
			return nil, err
		}

		return resp, nil
	}

	if lastErr == nil {
		return nil, &ConnectionError{Err: fmt.Errorf("%s %s failed after %d attempts", req.method, req.path, attempts)}
	}

	c.options.requestLogger.Errorf("%s %s failed after %d attempts: %v", req.method, req.path, attempts, lastErr)

	if isTimeout(lastErr) {
		return nil, &TimeoutError{Err: fmt.Errorf("%s %s: %w", req.method, req.path, lastErr)}
	}

	return nil, &ConnectionError{Err: fmt.Errorf("%s %s: %w", req.method, req.path, lastErr)}
}

// send performs one attempt of req, bounded by the configured timeout.
func (c *Client) send(ctx context.Context, rc *resty.Client, req request, requestID string) (*resty.Response, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.options.timeout)
	defer cancel()

	r := rc.R().
		SetContext(attemptCtx).
		SetHeader("X-Request-ID", requestID)

	if req.requiresAuth {
		if token := c.currentToken(); token != "" {
			r.SetAuthToken(token)
		}
	}

	if req.body != nil {
		r.SetBody(req.body)
	}

	if len(req.params) > 0 {
		r.SetQueryParams(req.params)
	}

	c.options.requestLogger.Debugf("%s %s (request %s)", req.method, req.path, requestID)

	return r.Execute(req.method, req.path)
}

// waitLimiter blocks until the rate limiter admits one request. The limiter
// refuses up front when the wait would outlast the deadline of ctx; that is
// reported as context.DeadlineExceeded.
func (c *Client) waitLimiter(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}

	if err := c.limiter.Wait(ctx); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		return fmt.Errorf("%w: %v", context.DeadlineExceeded, err)
	}

	return nil
}

// checkStatus maps a response status to the error taxonomy. 2xx and 408
// yield nil.
func (c *Client) checkStatus(path string, resp *resty.Response) error {
	status := resp.StatusCode()

	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusRequestTimeout:
		c.options.requestLogger.Debugf("received 408 for %s, expected for state changes", path)
		return nil
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return &AuthenticationError{}
	case status == http.StatusNotFound:
		return &NotFoundError{Path: path, Body: truncateBody(resp.Body())}
	case status == http.StatusTooManyRequests:
		return &RateLimitError{RetryAfter: parseRetryAfter(resp.Header().Get("Retry-After"))}
	default:
		return &ResponseError{StatusCode: status, Body: truncateBody(resp.Body())}
	}
}

func (c *Client) transport() (*resty.Client, error) {
	if c == nil {
		return nil, errors.New("crow client is nil")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, errClosed
	}

	if c.restClient == nil {
		return nil, errNotConnected
	}

	return c.restClient, nil
}

// parseRetryAfter accepts delta-seconds and HTTP dates.
func parseRetryAfter(value string) *time.Duration {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil
	}

	if seconds, err := strconv.Atoi(value); err == nil {
		if seconds < 0 {
			return nil
		}

		d := time.Duration(seconds) * time.Second

		return &d
	}

	if t, err := http.ParseTime(value); err == nil {
		d := time.Until(t).Round(time.Second)
		if d < 0 {
			d = 0
		}

		return &d
	}

	return nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
