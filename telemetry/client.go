// Package telemetry assembles consolidated sensor payloads and delivers
// them to the collector over authenticated HTTPS.
package telemetry

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	goutils "go.viam.com/utils"

	"github.com/envsensing/envnode/utils"
)

// Payload is one cycle's immutable snapshot. It is built fresh from the
// latest accepted samples each transmission cycle and is never sent
// partially: either the whole payload goes out or the cycle is skipped.
type Payload struct {
	DeviceID  string   `json:"device_id"`
	Timestamp int64    `json:"timestamp"`
	Data      Readings `json:"data"`
}

// Readings is the flat measurement map the collector ingests.
type Readings struct {
	RadiationCPM float64 `json:"radiation_cpm"`
	PM25         float64 `json:"pm25"`
	AirTempC     float64 `json:"air_temp_c"`
	Humidity     float64 `json:"humidity"`
	PressureHPa  float64 `json:"pressure_hpa"`
	VOC          float64 `json:"voc"`
}

const (
	// DefaultMaxAttempts bounds delivery tries per cycle; there is no
	// queue, an exhausted cycle's reading is simply dropped.
	DefaultMaxAttempts = 4

	// Backoff between attempts starts at backoffStart, doubles, and is
	// capped at backoffCap.
	backoffStart = time.Second
	backoffCap   = 8 * time.Second

	// DefaultRequestTimeout and DefaultHandshakeTimeout bound one attempt.
	DefaultRequestTimeout   = 15 * time.Second
	DefaultHandshakeTimeout = 15 * time.Second

	// preflightDialTimeout keeps the TCP reachability check cheap.
	preflightDialTimeout = 5 * time.Second

	apiKeyHeader = "X-API-Key"
)

// ClientOptions adjusts transport behavior; zero values select defaults.
type ClientOptions struct {
	MaxAttempts    int
	RequestTimeout time.Duration

	// HTTPClient overrides the built TLS client, for tests.
	HTTPClient *http.Client
}

// A Client delivers payloads to a single collector endpoint.
type Client struct {
	endpoint   *url.URL
	apiKey     string
	httpClient *http.Client
	resolver   *net.Resolver
	clock      clock.Clock
	logger     golog.Logger

	maxAttempts int

	// waitFn is replaced in tests to observe backoff delays.
	waitFn func(ctx context.Context, d time.Duration) bool
}

// NewClient builds a client for the given endpoint URL. The resolver is the
// node's pinned-DNS resolver; pass nil to use the system default.
func NewClient(rawURL, apiKey string, resolver *net.Resolver, c clock.Clock, logger golog.Logger, opts ClientOptions) (*Client, error) {
	endpoint, err := url.Parse(rawURL)
	if err != nil {
		return nil, errors.Wrapf(err, "bad collector url %q", rawURL)
	}
	if endpoint.Hostname() == "" {
		return nil, errors.Errorf("collector url %q has no host", rawURL)
	}
	if opts.MaxAttempts == 0 {
		opts.MaxAttempts = DefaultMaxAttempts
	}
	if opts.RequestTimeout == 0 {
		opts.RequestTimeout = DefaultRequestTimeout
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		dialer := &net.Dialer{Resolver: resolver}
		httpClient = &http.Client{
			Timeout: opts.RequestTimeout,
			Transport: &http.Transport{
				DialContext:         dialer.DialContext,
				TLSHandshakeTimeout: DefaultHandshakeTimeout,
				TLSClientConfig:     &tls.Config{MinVersion: tls.VersionTLS12},
			},
		}
	}
	client := &Client{
		endpoint:    endpoint,
		apiKey:      apiKey,
		httpClient:  httpClient,
		resolver:    resolver,
		clock:       c,
		logger:      logger,
		maxAttempts: opts.MaxAttempts,
	}
	client.waitFn = func(ctx context.Context, d time.Duration) bool {
		return utils.SelectContextOrWaitClock(ctx, client.clock, d)
	}
	return client, nil
}

// Preflight verifies the collector is DNS-resolvable and TCP-reachable on
// its TLS port, to fail fast and cheaply before paying for a full TLS
// handshake against a possibly-sleeping remote.
func (c *Client) Preflight(ctx context.Context) error {
	host := c.endpoint.Hostname()
	port := c.endpoint.Port()
	if port == "" {
		port = "443"
	}

	addr := host
	if net.ParseIP(host) == nil {
		resolver := c.resolver
		if resolver == nil {
			resolver = net.DefaultResolver
		}
		addrs, err := resolver.LookupHost(ctx, host)
		if err != nil {
			return errors.Wrapf(err, "cannot resolve %q", host)
		}
		if len(addrs) == 0 {
			return errors.Errorf("no addresses for %q", host)
		}
		addr = addrs[0]
	}

	dialer := net.Dialer{Timeout: preflightDialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(addr, port))
	if err != nil {
		return errors.Wrapf(err, "collector %s unreachable on port %s", host, port)
	}
	return conn.Close()
}

// Send delivers one payload, retrying with exponential backoff. A 2xx
// response is success; anything else is retried until attempts are
// exhausted, after which the cycle's reading is abandoned.
func (c *Client) Send(ctx context.Context, p Payload) error {
	body, err := json.Marshal(p)
	if err != nil {
		return errors.Wrap(err, "marshal payload")
	}

	var lastErr error
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		c.logger.Debugf("POST attempt %d/%d", attempt, c.maxAttempts)
		lastErr = c.post(ctx, body)
		if lastErr == nil {
			return nil
		}
		c.logger.Debugw("delivery attempt failed", "attempt", attempt, "error", lastErr)
		if attempt < c.maxAttempts {
			if !c.waitFn(ctx, BackoffFor(attempt)) {
				return ctx.Err()
			}
		}
	}
	return errors.Wrapf(lastErr, "delivery failed after %d attempts", c.maxAttempts)
}

func (c *Client) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint.String(), bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(apiKeyHeader, c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		goutils.UncheckedError(resp.Body.Close())
	}()
	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	return errors.Errorf("collector returned %d: %s", resp.StatusCode, bytes.TrimSpace(respBody))
}

// BackoffFor returns the delay inserted after the given (1-based) failed
// attempt: 1s, 2s, 4s, then capped at 8s.
func BackoffFor(attempt int) time.Duration {
	d := backoffStart
	for i := 1; i < attempt; i++ {
		d *= 2
		if d >= backoffCap {
			return backoffCap
		}
	}
	return d
}
