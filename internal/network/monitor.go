package network

import (
	"context"
	"net/http"
	"sync/atomic"
	"time"
)

// Monitor answers whether the remote API is reachable.
// Implementations never return an error; any failure means false.
type Monitor interface {
	Established(ctx context.Context) bool
}

// MonitorFunc adapts a function to Monitor
type MonitorFunc func(ctx context.Context) bool

func (f MonitorFunc) Established(ctx context.Context) bool {
	return f(ctx)
}

// StaticMonitor reports a fixed, settable state
type StaticMonitor struct {
	up atomic.Bool
}

func NewStaticMonitor(up bool) *StaticMonitor {
	m := &StaticMonitor{}
	m.up.Store(up)
	return m
}

func (m *StaticMonitor) Set(up bool) {
	m.up.Store(up)
}

func (m *StaticMonitor) Established(context.Context) bool {
	return m.up.Load()
}

// HTTPProbe treats any response below 500 as reachable
type HTTPProbe struct {
	URL    string
	Method string
	Client *http.Client
}

// NewHTTPProbe probes url with HEAD requests bounded by timeout
func NewHTTPProbe(url string, timeout time.Duration) *HTTPProbe {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPProbe{
		URL:    url,
		Method: http.MethodHead,
		Client: &http.Client{Timeout: timeout},
	}
}

func (p *HTTPProbe) Established(ctx context.Context) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()

	req, err := http.NewRequestWithContext(ctx, p.Method, p.URL, nil)
	if err != nil {
		return false
	}
	resp, err := p.Client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode < http.StatusInternalServerError
}
