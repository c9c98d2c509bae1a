package client

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	loginPath = "/api/auth/login"

	// tokenRefreshSkew is how long before its expiry a token is replaced.
	tokenRefreshSkew = 30 * time.Second
)

// loginTokenKeys lists the login response fields that may carry the token,
// current name first.
var loginTokenKeys = candidates{"token", "accessToken", "access_token"}

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Login exchanges the account credentials for a bearer token, replacing any
// token the client holds. Requests log in on their own when needed, so
// calling Login is only required to check credentials early.
func (c *Client) Login(ctx context.Context) error {
	c.loginMu.Lock()
	defer c.loginMu.Unlock()

	return c.login(ctx)
}

// login performs the credential exchange. Callers hold loginMu.
func (c *Client) login(ctx context.Context) error {
	rc, err := c.transport()
	if err != nil {
		return err
	}

	req := request{
		method: http.MethodPost,
		path:   loginPath,
		body:   credentials{Email: c.email, Password: c.password},
	}

	if err := c.waitLimiter(ctx); err != nil {
		return err
	}

	resp, err := c.send(ctx, rc, req, uuid.NewString())
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}

		if isTimeout(err) {
			return &TimeoutError{Err: err}
		}

		return &ConnectionError{Err: err}
	}

	if status := resp.StatusCode(); status == http.StatusUnauthorized || status == http.StatusForbidden {
		c.clearToken()
		return &AuthenticationError{}
	}

	if err := c.checkStatus(loginPath, resp); err != nil {
		return err
	}

	var data map[string]any
	if err := json.Unmarshal(resp.Body(), &data); err != nil {
		return &AuthenticationError{Message: "no token received in authentication response", Err: err}
	}

	token, ok := loginTokenKeys.str(data)
	if !ok || token == "" {
		return &AuthenticationError{Message: "no token received in authentication response"}
	}

	c.setToken(token)
	c.options.requestLogger.Debugf("logged in to Crow Cloud as %s", c.email)

	return nil
}

// ensureAuthenticated logs in unless a usable token is held. Concurrent
// callers share one login.
func (c *Client) ensureAuthenticated(ctx context.Context) error {
	if c.hasUsableToken() {
		return nil
	}

	c.loginMu.Lock()
	defer c.loginMu.Unlock()

	// Another caller may have logged in while this one waited
	if c.hasUsableToken() {
		return nil
	}

	return c.login(ctx)
}

func (c *Client) hasUsableToken() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.token == "" {
		return false
	}

	return c.tokenExpiry.IsZero() || time.Until(c.tokenExpiry) > tokenRefreshSkew
}

func (c *Client) currentToken() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.token
}

func (c *Client) setToken(token string) {
	expiry := tokenExpiry(token)

	// A fresh token that looks expired means the local clock runs ahead of
	// the server; keep it until the API rejects it.
	if !expiry.IsZero() && !expiry.After(time.Now()) {
		c.options.requestLogger.Warnf("login token expired at %s by the local clock, check the system time", expiry.Format(time.RFC3339))
		expiry = time.Time{}
	}

	c.mu.Lock()
	c.token = token
	c.tokenExpiry = expiry
	c.mu.Unlock()
}

func (c *Client) clearToken() {
	c.mu.Lock()
	c.token = ""
	c.tokenExpiry = time.Time{}
	c.mu.Unlock()
}

// tokenExpiry reads the exp claim of a JWT without verifying it; the API
// verifies its own tokens. Opaque tokens have no known expiry.
func tokenExpiry(token string) time.Time {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}
	}

	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}
	}

	return exp.Time
}
