package probe

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"
)

// Result is the raw outcome of one check. Err is set for every transport
// failure (timeout, DNS, refused, TLS); StatusCode is zero in that case.
type Result struct {
	StatusCode int
	Err        error
	Duration   time.Duration
}

type HTTP struct {
	UserAgent string
}

func NewHTTP(version string) *HTTP {
	return &HTTP{UserAgent: fmt.Sprintf("restartwatch/%s", version)}
}

// Probe issues a single GET over a fresh connection. Redirects are reported,
// not followed. The call never outlives maxTimeout.
func (h *HTTP) Probe(ctx context.Context, url string, connectTimeout, maxTimeout time.Duration) Result {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, maxTimeout)
	defer cancel()

	dialer := &net.Dialer{Timeout: connectTimeout}
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		DialContext:         dialer.DialContext,
		TLSHandshakeTimeout: connectTimeout,
		TLSClientConfig:     &tls.Config{MinVersion: tls.VersionTLS12},
		DisableKeepAlives:   true,
	}
	defer transport.CloseIdleConnections()

	client := &http.Client{
		Transport: transport,
		Timeout:   maxTimeout,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Result{Err: err, Duration: time.Since(start)}
	}
	if h.UserAgent != "" {
		req.Header.Set("User-Agent", h.UserAgent)
	}

	resp, err := client.Do(req)
	if err != nil {
		return Result{Err: err, Duration: time.Since(start)}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	return Result{StatusCode: resp.StatusCode, Duration: time.Since(start)}
}
