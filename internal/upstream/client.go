// Package upstream talks to the inference service over HTTP. A long-lived
// pooled client serves the first attempt of every request; retries run on
// freshly built clients so a recreated upstream container is re-resolved
// and re-dialed instead of hitting stale pooled connections.
package upstream

import (
	"bytes"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/raulk/clock"
	"github.com/rs/zerolog"
)

// DialFunc matches net.Dialer.DialContext.
type DialFunc func(ctx context.Context, network, addr string) (net.Conn, error)

// Config configures a Client. Zero values take the defaults noted per field.
type Config struct {
	// BaseURL of the OpenAI-compatible API, e.g. http://vllm:8000/v1.
	BaseURL string
	// Timeout applied to a request when Options.Timeout is zero. Default 300s.
	Timeout time.Duration
	// MaxRetries is the total attempt budget of RequestWithRetry. Default 10.
	MaxRetries int
	// RetryDelay between attempts. Default 4s.
	RetryDelay time.Duration
	// FreshTimeout bounds dialing, TLS and the wait for response headers on
	// fresh clients. A response already streaming is not cut off. Default 10s.
	FreshTimeout time.Duration
	// DialContext overrides the dialer of both pooled and fresh clients.
	DialContext DialFunc
	Clock       clock.Clock
	Logger      *zerolog.Logger
}

// Options tune one request.
type Options struct {
	Body    []byte
	Header  http.Header
	Timeout time.Duration
	// IdleTimeout, when > 0, turns Timeout into a bound on the wait for
	// response headers only; the body then fails once no data has arrived
	// for IdleTimeout.
	IdleTimeout time.Duration
	// MaxRetries overrides Config.MaxRetries when > 0.
	MaxRetries int
	// RetryDelay overrides Config.RetryDelay when > 0.
	RetryDelay time.Duration
}

// Stats counts connection churn; used by tests and debug logging.
type Stats struct {
	FreshCreated int64
	FreshClosed  int64
	PoolResets   int64
}

// Client is the resilient upstream client. It is safe for concurrent use.
type Client struct {
	cfg    Config
	log    zerolog.Logger
	clock  clock.Clock
	pooled atomic.Pointer[http.Client]
	closed atomic.Bool

	freshCreated atomic.Int64
	freshClosed  atomic.Int64
	poolResets   atomic.Int64
}

// New builds a Client. The pooled connection is created lazily on first use.
func New(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 300 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 10
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 4 * time.Second
	}
	if cfg.FreshTimeout <= 0 {
		cfg.FreshTimeout = 10 * time.Second
	}
	c := &Client{cfg: cfg, log: zerolog.Nop(), clock: cfg.Clock}
	if cfg.Logger != nil {
		c.log = cfg.Logger.With().Str("component", "upstream").Logger()
	}
	if c.clock == nil {
		c.clock = clock.New()
	}
	return c
}

// BaseURL returns the configured base URL without a trailing slash.
func (c *Client) BaseURL() string { return strings.TrimRight(c.cfg.BaseURL, "/") }

// URL joins path onto the base URL.
func (c *Client) URL(path string) string {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return c.BaseURL() + path
}

// MetricsURL returns the Prometheus endpoint of the inference service, which
// lives at the server root rather than under the /v1 API prefix.
func (c *Client) MetricsURL() string {
	return strings.TrimSuffix(c.BaseURL(), "/v1") + "/metrics"
}

// Stats returns a snapshot of the connection counters.
func (c *Client) Stats() Stats {
	return Stats{
		FreshCreated: c.freshCreated.Load(),
		FreshClosed:  c.freshClosed.Load(),
		PoolResets:   c.poolResets.Load(),
	}
}

// Do performs a single attempt on the pooled connection.
func (c *Client) Do(ctx context.Context, method, url string, opts Options) (*http.Response, error) {
	opts.MaxRetries = 1
	return c.RequestWithRetry(ctx, method, url, opts)
}

// RequestWithRetry performs the request, retrying transient connection
// failures on fresh clients after a fixed delay. Any HTTP response,
// including 4xx/5xx, is returned as is after one attempt; use CheckStatus
// to turn error statuses into a *StatusError. Once retries are exhausted
// the last transport error is returned.
//
// The response body must be closed by the caller; closing it releases the
// attempt's timeout and, for fresh clients, the connection.
func (c *Client) RequestWithRetry(ctx context.Context, method, url string, opts Options) (*http.Response, error) {
	attempts := c.cfg.MaxRetries
	if opts.MaxRetries > 0 {
		attempts = opts.MaxRetries
	}
	delay := c.cfg.RetryDelay
	if opts.RetryDelay > 0 {
		delay = opts.RetryDelay
	}

	var n int
	return retry.DoWithData(
		func() (*http.Response, error) {
			n++
			return c.attempt(ctx, n, method, url, opts)
		},
		retry.Context(ctx),
		retry.Attempts(uint(attempts)),
		retry.Delay(delay),
		retry.DelayType(retry.FixedDelay),
		retry.LastErrorOnly(true),
		retry.WithTimer(c.clock),
		retry.RetryIf(func(err error) bool {
			return ctx.Err() == nil && IsTransient(err)
		}),
		retry.OnRetry(func(i uint, err error) {
			c.log.Warn().Err(err).
				Str("method", method).
				Str("url", url).
				Uint("attempt", i+1).
				Int("max_attempts", attempts).
				Msg("upstream connection error, retrying on a fresh connection")
		}),
	)
}

func (c *Client) attempt(ctx context.Context, n int, method, url string, opts Options) (*http.Response, error) {
	fresh := n > 1
	var hc *http.Client
	if fresh {
		hc = c.newFreshClient()
		c.freshCreated.Add(1)
	} else {
		hc = c.pooledClient()
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = c.cfg.Timeout
	}
	var (
		actx   context.Context
		cancel context.CancelFunc
		idle   *idleTimer
	)
	if opts.IdleTimeout > 0 {
		actx, cancel = context.WithCancel(ctx)
		idle = newIdleTimer(timeout, cancel)
	} else {
		actx, cancel = context.WithTimeout(ctx, timeout)
	}
	release := func() {
		if idle != nil {
			idle.stop()
		}
		cancel()
		if fresh {
			c.closeFresh(hc)
		}
	}

	var body io.Reader
	if opts.Body != nil {
		body = bytes.NewReader(opts.Body)
	}
	req, err := http.NewRequestWithContext(actx, method, url, body)
	if err != nil {
		release()
		return nil, retry.Unrecoverable(err)
	}
	for k, vs := range opts.Header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	resp, err := hc.Do(req)
	if idle != nil {
		err = idle.wrap(err)
	}
	observeAttempt(fresh, err)
	if err != nil {
		release()
		if !fresh && IsTransient(err) {
			c.resetPool(hc)
		}
		c.log.Debug().Err(err).Int("attempt", n).Bool("fresh", fresh).Str("url", url).Msg("upstream attempt failed")
		return nil, err
	}
	resp.Body = &releaseBody{ReadCloser: resp.Body, release: release}
	if idle != nil {
		idle.reset(opts.IdleTimeout)
		resp.Body = &idleBody{ReadCloser: resp.Body, timer: idle}
	}
	return resp, nil
}

func (c *Client) pooledClient() *http.Client {
	for {
		if hc := c.pooled.Load(); hc != nil {
			return hc
		}
		hc := c.newPooledClient()
		if c.pooled.CompareAndSwap(nil, hc) {
			return hc
		}
	}
}

// resetPool replaces the pooled client if it is still the one that failed.
func (c *Client) resetPool(failed *http.Client) {
	if c.pooled.CompareAndSwap(failed, nil) {
		failed.CloseIdleConnections()
		c.poolResets.Add(1)
		poolResetsTotal.Inc()
		c.log.Info().Msg("discarded pooled upstream connection after connection error")
	}
}

func (c *Client) closeFresh(hc *http.Client) {
	hc.CloseIdleConnections()
	c.freshClosed.Add(1)
}

func (c *Client) dialer(timeout time.Duration) DialFunc {
	if c.cfg.DialContext != nil {
		return c.cfg.DialContext
	}
	d := &net.Dialer{Timeout: timeout, KeepAlive: 30 * time.Second}
	return d.DialContext
}

func (c *Client) newPooledClient() *http.Client {
	tr := http.DefaultTransport.(*http.Transport).Clone()
	tr.DialContext = c.dialer(30 * time.Second)
	tr.MaxIdleConns = 100
	tr.MaxIdleConnsPerHost = 32
	tr.IdleConnTimeout = 90 * time.Second
	return &http.Client{Transport: tr}
}

// newFreshClient builds a single-use HTTP/1.1 client without keep-alive.
func (c *Client) newFreshClient() *http.Client {
	tr := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           c.dialer(c.cfg.FreshTimeout),
		DisableKeepAlives:     true,
		ForceAttemptHTTP2:     false,
		TLSNextProto:          map[string]func(string, *tls.Conn) http.RoundTripper{},
		TLSHandshakeTimeout:   c.cfg.FreshTimeout,
		ResponseHeaderTimeout: c.cfg.FreshTimeout,
	}
	return &http.Client{Transport: tr}
}

// Close drops the pooled client and its idle connections.
func (c *Client) Close() {
	if !c.closed.CompareAndSwap(false, true) {
		return
	}
	if hc := c.pooled.Swap(nil); hc != nil {
		hc.CloseIdleConnections()
	}
}

type releaseBody struct {
	io.ReadCloser
	once    sync.Once
	release func()
}

func (b *releaseBody) Close() error {
	err := b.ReadCloser.Close()
	b.once.Do(b.release)
	return err
}

// idleTimer cancels a request after a quiet period. Errors seen once it
// has fired are reported as deadline errors so they classify as timeouts.
type idleTimer struct {
	t     *time.Timer
	d     atomic.Int64
	fired atomic.Bool
}

func newIdleTimer(d time.Duration, cancel context.CancelFunc) *idleTimer {
	it := &idleTimer{}
	it.d.Store(int64(d))
	it.t = time.AfterFunc(d, func() {
		it.fired.Store(true)
		cancel()
	})
	return it
}

func (it *idleTimer) reset(d time.Duration) {
	it.d.Store(int64(d))
	it.t.Reset(d)
}

func (it *idleTimer) stop() { it.t.Stop() }

func (it *idleTimer) wrap(err error) error {
	if err == nil || !it.fired.Load() {
		return err
	}
	return fmt.Errorf("no data from upstream for %s: %w", time.Duration(it.d.Load()), context.DeadlineExceeded)
}

type idleBody struct {
	io.ReadCloser
	timer *idleTimer
}

func (b *idleBody) Read(p []byte) (int, error) {
	n, err := b.ReadCloser.Read(p)
	if n > 0 && !b.timer.fired.Load() {
		b.timer.t.Reset(time.Duration(b.timer.d.Load()))
	}
	if err != nil && err != io.EOF {
		err = b.timer.wrap(err)
	}
	return n, err
}
