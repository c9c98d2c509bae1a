package client

import "github.com/go-resty/resty/v2"

// RequestLogger receives the log output of a [Client]: failed and retried
// requests, logins, and the life of every [Stream]. The same logger is
// handed to resty, so the method set matches resty's Logger. A
// *zap.SugaredLogger can be passed as is.
type RequestLogger interface {
	Errorf(format string, v ...any)
	Warnf(format string, v ...any)
	Debugf(format string, v ...any)
}

var _ resty.Logger = RequestLogger(nil)

// NoopLogger discards everything. It is the default when
// [WithRequestLogger] is not given.
type NoopLogger struct{}

func (NoopLogger) Errorf(string, ...any) {}
func (NoopLogger) Warnf(string, ...any)  {}
func (NoopLogger) Debugf(string, ...any) {}
