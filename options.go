package client

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"
)

// DefaultBaseURL is the Crow Cloud API endpoint used unless [WithBaseURL]
// is given.
const DefaultBaseURL = "https://api.crowcloud.xyz"

type Option func(*Options)

type Options struct {
	baseURL        string
	timeout        time.Duration
	retryCount     int
	retryDelay     time.Duration
	autoReconnect  bool
	reconnectDelay time.Duration
	requestLogger  RequestLogger
	retryPolicy    func(*resty.Response, error) bool
	requestHeaders map[string]string
	httpClient     *http.Client
	rateLimit      rate.Limit
	rateBurst      int
}

func newClientOptions() *Options {
	return &Options{
		baseURL:        DefaultBaseURL,
		timeout:        30 * time.Second,
		retryCount:     3,
		retryDelay:     time.Second,
		autoReconnect:  true,
		reconnectDelay: 5 * time.Second,
		requestLogger:  &NoopLogger{},
		retryPolicy:    DefaultRetryPolicy,
		requestHeaders: map[string]string{
			"Content-Type": "application/json",
			"Accept":       "application/json",
		},
	}
}

func WithBaseURL(baseURL string) Option {
	return func(o *Options) {
		baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
		if baseURL != "" {
			o.baseURL = baseURL
		}
	}
}

func WithTimeout(timeout time.Duration) Option {
	return func(o *Options) {
		if timeout >= time.Second {
			o.timeout = timeout
		}
	}
}

// WithRetryCount sets the total number of attempts per request, including
// the first one.
func WithRetryCount(count int) Option {
	return func(o *Options) {
		if count >= 1 {
			o.retryCount = count
		}
	}
}

// WithRetryDelay sets the base backoff. Attempt n (0-based) that fails with a
// transient error waits retryDelay*(n+1) before the next attempt.
func WithRetryDelay(delay time.Duration) Option {
	return func(o *Options) {
		if delay >= 100*time.Millisecond {
			o.retryDelay = delay
		}
	}
}

func WithAutoReconnect(enabled bool) Option {
	return func(o *Options) {
		o.autoReconnect = enabled
	}
}

func WithReconnectDelay(delay time.Duration) Option {
	return func(o *Options) {
		if delay >= 100*time.Millisecond {
			o.reconnectDelay = delay
		}
	}
}

func WithRequestLogger(logger RequestLogger) Option {
	return func(o *Options) {
		if logger != nil {
			o.requestLogger = logger
		}
	}
}

// WithRetryPolicy replaces [DefaultRetryPolicy]. The policy only sees
// transport failures; HTTP status codes are classified by the client.
func WithRetryPolicy(policy func(*resty.Response, error) bool) Option {
	return func(o *Options) {
		if policy != nil {
			o.retryPolicy = policy
		}
	}
}

func WithRequestHeader(header, value string) Option {
	return func(o *Options) {
		header = strings.TrimSpace(header)

		if header == "" ||
			strings.EqualFold(header, "Content-Type") ||
			strings.EqualFold(header, "Accept") ||
			strings.EqualFold(header, "Authorization") {
			return
		}

		o.requestHeaders[header] = value
	}
}

// WithHTTPClient makes the client send requests through hc. The caller keeps
// ownership: [Client.Close] does not close its idle connections.
func WithHTTPClient(hc *http.Client) Option {
	return func(o *Options) {
		if hc != nil {
			o.httpClient = hc
		}
	}
}

// WithRateLimit limits outgoing requests, retries included, to rps per
// second with the given burst.
func WithRateLimit(rps float64, burst int) Option {
	return func(o *Options) {
		if rps > 0 && burst >= 1 {
			o.rateLimit = rate.Limit(rps)
			o.rateBurst = burst
		}
	}
}

func (o *Options) Validate() error {
	u, err := url.Parse(o.baseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("baseURL must be an absolute http or https URL, got %q", o.baseURL)
	}

	if o.timeout < time.Second {
		return errors.New("timeout must be at least 1s")
	}

	if o.timeout > 5*time.Minute {
		return fmt.Errorf("timeout must not exceed %v", 5*time.Minute)
	}

	if o.retryCount < 1 {
		return errors.New("retryCount must be at least 1")
	}

	if o.retryCount > 100 {
		return errors.New("retryCount must not exceed 100")
	}

	if o.retryDelay < 100*time.Millisecond {
		return errors.New("retryDelay must be at least 100ms")
	}

	if o.retryDelay > time.Minute {
		return fmt.Errorf("retryDelay must not exceed %v", time.Minute)
	}

	if o.reconnectDelay < 100*time.Millisecond {
		return errors.New("reconnectDelay must be at least 100ms")
	}

	if o.reconnectDelay > 10*time.Minute {
		return fmt.Errorf("reconnectDelay must not exceed %v", 10*time.Minute)
	}

	if o.requestLogger == nil {
		return errors.New("requestLogger must not be nil")
	}

	if o.retryPolicy == nil {
		return errors.New("retryPolicy must not be nil")
	}

	if o.rateLimit < 0 || (o.rateLimit > 0 && o.rateBurst < 1) {
		return errors.New("rate limit requires a positive rate and a burst of at least 1")
	}

	return nil
}
