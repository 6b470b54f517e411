// Package netgate is the single outbound HTTP path for extraction. It knows
// whether the configured proxy is reachable and refuses to fetch when it
// is not.
package netgate

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"scholardock/pkg/logger"
	"scholardock/pkg/utils"
)

// ErrNetworkUnavailable means the proxy or upstream probe failed. Callers
// must not treat it as "nothing found".
var ErrNetworkUnavailable = errors.New("network unavailable")

// Status is the last probe outcome.
type Status struct {
	ProxyConfigured bool      `json:"proxy_configured"`
	Proxy           string    `json:"proxy,omitempty"`
	Available       bool      `json:"available"`
	Error           string    `json:"error,omitempty"`
	CheckedAt       time.Time `json:"checked_at"`
}

type Gate struct {
	client       *http.Client
	proxy        *url.URL
	probeURL     string
	probeTimeout time.Duration
	ttl          time.Duration
	userAgent    string
	log          logger.Logger

	probes singleflight.Group

	mu      sync.Mutex
	status  Status
	checked bool

	now func() time.Time
}

func New(cfg utils.NetworkConfig, log logger.Logger) (*Gate, error) {
	if log == nil {
		log = logger.NewNop()
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()

	var proxy *url.URL
	if cfg.ProxyURL != "" {
		u, err := url.Parse(cfg.ProxyURL)
		if err != nil {
			return nil, fmt.Errorf("parse proxy url: %w", err)
		}
		if u.Scheme == "" || u.Host == "" {
			return nil, fmt.Errorf("parse proxy url: %q has no scheme or host", cfg.ProxyURL)
		}
		proxy = u
		transport.Proxy = http.ProxyURL(u)
	}

	timeout := cfg.FetchTimeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	probeTimeout := cfg.ProbeTimeout
	if probeTimeout <= 0 {
		probeTimeout = 10 * time.Second
	}

	return &Gate{
		client:       &http.Client{Timeout: timeout, Transport: transport},
		proxy:        proxy,
		probeURL:     cfg.ProbeURL,
		probeTimeout: probeTimeout,
		ttl:          cfg.StatusTTL,
		userAgent:    cfg.UserAgent,
		log:          log,
		now:          time.Now,
	}, nil
}

// Available returns nil when fetching may proceed, otherwise an error
// wrapping ErrNetworkUnavailable. Results are cached for the status TTL and
// concurrent callers share one probe.
func (g *Gate) Available(ctx context.Context) error {
	st := g.Status(ctx)
	if st.Available {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return fmt.Errorf("%w: %s", ErrNetworkUnavailable, st.Error)
}

// Status returns the cached probe result, refreshing it when stale. The
// refresh runs detached from ctx. A caller whose ctx ends first gets an
// uncached status carrying ctx.Err().
func (g *Gate) Status(ctx context.Context) Status {
	g.mu.Lock()
	if g.checked && g.ttl > 0 && g.now().Sub(g.status.CheckedAt) < g.ttl {
		st := g.status
		g.mu.Unlock()
		return st
	}
	g.mu.Unlock()

	ch := g.probes.DoChan("probe", func() (any, error) {
		st := g.probe(context.WithoutCancel(ctx))
		g.mu.Lock()
		g.status = st
		g.checked = true
		g.mu.Unlock()
		return st, nil
	})
	select {
	case res := <-ch:
		return res.Val.(Status)
	case <-ctx.Done():
		st := Status{ProxyConfigured: g.proxy != nil, Error: ctx.Err().Error(), CheckedAt: g.now()}
		if g.proxy != nil {
			st.Proxy = g.proxy.Redacted()
		}
		return st
	}
}

// Invalidate forces the next Status call to probe again.
func (g *Gate) Invalidate() {
	g.mu.Lock()
	g.checked = false
	g.mu.Unlock()
}

func (g *Gate) probe(ctx context.Context) Status {
	st := Status{ProxyConfigured: g.proxy != nil, CheckedAt: g.now()}
	if g.proxy != nil {
		st.Proxy = g.proxy.Redacted()
	}
	if g.probeURL == "" {
		st.Available = true
		return st
	}

	ctx, cancel := context.WithTimeout(ctx, g.probeTimeout)
	defer cancel()

	req, err := g.newRequest(ctx, http.MethodGet, g.probeURL)
	if err != nil {
		st.Error = err.Error()
		return st
	}
	resp, err := g.client.Do(req)
	if err != nil {
		st.Error = err.Error()
		g.log.Warn("network probe failed", logger.String("probe_url", g.probeURL), logger.Error(err))
		return st
	}
	io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	resp.Body.Close()

	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusProxyAuthRequired {
		st.Error = fmt.Sprintf("probe status %d", resp.StatusCode)
		g.log.Warn("network probe rejected", logger.String("probe_url", g.probeURL), logger.Int("status", resp.StatusCode))
		return st
	}
	st.Available = true
	return st
}

func (g *Gate) newRequest(ctx context.Context, method, rawURL string) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	if g.userAgent != "" {
		req.Header.Set("User-Agent", g.userAgent)
	}
	return req, nil
}

// Page is a fetched response body.
type Page struct {
	URL         *url.URL
	ContentType string
	Body        []byte
}

// StatusError is a non-2xx response.
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("fetch %s: status %d", e.URL, e.Code)
}

// Fetch GETs rawURL and reads at most maxBytes of the body (0 means 4 MiB).
// The final URL after redirects is returned so relative links resolve.
func (g *Gate) Fetch(ctx context.Context, rawURL string, maxBytes int64) (*Page, error) {
	if maxBytes <= 0 {
		maxBytes = 4 << 20
	}
	req, err := g.newRequest(ctx, http.MethodGet, rawURL)
	if err != nil {
		return nil, err
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return nil, &StatusError{URL: rawURL, Code: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBytes))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", rawURL, err)
	}
	return &Page{
		URL:         resp.Request.URL,
		ContentType: resp.Header.Get("Content-Type"),
		Body:        body,
	}, nil
}
