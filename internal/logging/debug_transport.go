package logging

import (
	"net/http"
	"time"
)

// DebugTransport logs method, URL, status and latency of every HTTP request
type DebugTransport struct {
	base   http.RoundTripper
	logger Logger
}

// NewDebugTransport wraps base (http.DefaultTransport when nil)
func NewDebugTransport(base http.RoundTripper, logger Logger) *DebugTransport {
	if base == nil {
		base = http.DefaultTransport
	}
	return &DebugTransport{base: base, logger: logger}
}

func (t *DebugTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()
	resp, err := t.base.RoundTrip(req)
	fields := []Field{
		F("method", req.Method),
		F("url", req.URL.Redacted()),
		F("duration_ms", time.Since(start).Milliseconds()),
	}
	if err != nil {
		t.logger.Debug("HTTP request failed", append(fields, F("error", err.Error()))...)
		return nil, err
	}
	t.logger.Debug("HTTP request", append(fields, F("status", resp.StatusCode))...)
	return resp, nil
}
