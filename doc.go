// Package client provides a client for the Crow Cloud alarm panel API.
//
// The client wraps [github.com/go-resty/resty/v2] for REST calls and
// [github.com/gorilla/websocket] for real-time panel events, with token
// management, bounded retries and pluggable logging.
//
// # Basic Usage
//
//	c := client.New("user@example.com", "secret",
//	    client.WithRetryCount(5),
//	)
//
//	if err := c.Connect(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer c.Close()
//
//	areas, err := c.GetAreas(ctx, "AA:BB:CC:DD:EE:FF")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
// Panels are addressed by MAC address in any common notation; see
// [NormalizeMAC]. A malformed address fails with [*InvalidMACError] before
// anything is sent.
//
// # Configuration
//
// All configuration is supplied as [Option] functions passed to [New].
// Invalid values are silently ignored and the default is retained;
// all configuration is validated when [Client.Connect] is called.
//
// # Authentication
//
// [Client.Connect] logs in with the account credentials and keeps the
// bearer token. When the API rejects the token with 401 or 403 the token is
// dropped, the client logs in once more and repeats the request; a second
// rejection is returned as [*AuthenticationError]. Tokens that are JWTs are
// renewed shortly before their exp claim.
//
// # Retry Behaviour
//
// Each request is attempted up to the retry count (default 3). Transport
// failures accepted by the retry policy ([DefaultRetryPolicy] unless
// [WithRetryPolicy] is given) are retried after retryDelay*(attempt+1);
// when attempts run out a [*ConnectionError] or [*TimeoutError] is
// returned. HTTP errors are not retried: 404 yields [*NotFoundError], 429
// yields [*RateLimitError] carrying Retry-After, anything else non-2xx
// yields [*ResponseError]. A 408 answer is treated as success without a
// body, which is how the API acknowledges arm state changes it has not
// confirmed yet.
//
// # Streaming
//
// [Client.Watch] and [Stream] relay panel messages to a [MessageHandler],
// reconnecting after a fixed delay when the connection drops. Handler
// errors and panics are logged and never end the stream.
//
// # Logging
//
// Implement [RequestLogger] and supply it via [WithRequestLogger] to
// integrate with your logging library. The default [NoopLogger] discards
// all log output. Ensure your implementation redacts credentials and tokens
// from request and response bodies before persisting logs.
package client
