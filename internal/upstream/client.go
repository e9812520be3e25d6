// Package upstream talks to the Wazuh manager REST API: it resolves stored
// credentials into endpoints, checks daemon readiness, and dispatches proxied
// requests with bounded retry on transient error codes.
package upstream

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/hashicorp/go-cleanhttp"
	"github.com/hashicorp/go-retryablehttp"

	"github.com/koltyakov/wazuhproxy/internal/domain"
	"github.com/koltyakov/wazuhproxy/internal/metrics"
	"github.com/koltyakov/wazuhproxy/internal/netutil"
)

const (
	defaultTimeout    = 20 * time.Second
	defaultRetryWait  = 500 * time.Millisecond
	defaultMaxRetries = 3

	// maxEnvelopeBytes bounds how much of an upstream body is buffered.
	maxEnvelopeBytes = 64 << 20
)

// transientCodes are upstream error codes that are safe to retry.
var transientCodes = map[int]struct{}{
	1013: {},
	1014: {},
	1017: {},
	1018: {},
	1019: {},
}

// IsTransient reports whether code is a retryable upstream error code.
func IsTransient(code int) bool {
	_, ok := transientCodes[code]
	return ok
}

// ClientOptions configures a [Client].
type ClientOptions struct {
	// Timeout applies to every single outbound attempt.
	Timeout time.Duration
	// RetryWait is the fixed delay between attempts.
	RetryWait time.Duration
	// MaxRetries is the number of retries after the first attempt.
	MaxRetries int
	Logger     *slog.Logger
}

// Client holds the shared connection pool used for every upstream call.
type Client struct {
	http   *http.Client
	retry  *retryablehttp.Client
	logger *slog.Logger
}

// NewClient builds a client whose transport skips TLS verification: managers
// are reached over internal, self-signed certificates.
func NewClient(opts ClientOptions) *Client {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.RetryWait <= 0 {
		opts.RetryWait = defaultRetryWait
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	} else if opts.MaxRetries == 0 {
		opts.MaxRetries = defaultMaxRetries
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	transport := cleanhttp.DefaultPooledTransport()
	transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // self-signed managers
	httpClient := &http.Client{
		Transport: transport,
		Timeout:   opts.Timeout,
	}

	rc := retryablehttp.NewClient()
	rc.HTTPClient = httpClient
	rc.Logger = logger
	rc.RetryMax = opts.MaxRetries
	rc.RetryWaitMin = opts.RetryWait
	rc.RetryWaitMax = opts.RetryWait
	rc.Backoff = constantBackoff
	rc.CheckRetry = checkTransientEnvelope
	rc.ErrorHandler = exhaustedHandler
	rc.RequestLogHook = func(_ retryablehttp.Logger, _ *http.Request, attempt int) {
		if attempt > 0 {
			metrics.IncRetry()
		}
	}

	return &Client{http: httpClient, retry: rc, logger: logger}
}

// CloseIdleConnections drops idle pooled connections.
func (c *Client) CloseIdleConnections() {
	c.http.CloseIdleConnections()
}

func constantBackoff(minWait, _ time.Duration, _ int, _ *http.Response) time.Duration {
	return minWait
}

// checkTransientEnvelope retries only when the decoded envelope carries a
// transient error code. Transport errors are not retried.
func checkTransientEnvelope(ctx context.Context, resp *http.Response, err error) (bool, error) {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return false, ctxErr
	}
	if err != nil {
		return false, err
	}
	if resp == nil || resp.Body == nil {
		return false, nil
	}
	body, readErr := io.ReadAll(io.LimitReader(resp.Body, maxEnvelopeBytes))
	_ = resp.Body.Close()
	resp.Body = io.NopCloser(bytes.NewReader(body))
	if readErr != nil {
		return false, readErr
	}
	var head struct {
		Error int `json:"error"`
	}
	if json.Unmarshal(body, &head) != nil {
		return false, nil
	}
	return IsTransient(head.Error), nil
}

func exhaustedHandler(resp *http.Response, err error, _ int) (*http.Response, error) {
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}
	return nil, fmt.Errorf("%w: %w", domain.ErrRetriesExhausted, domain.ErrUpstreamTransient)
}

// getOnce performs a single GET without retry and decodes the envelope.
func (c *Client) getOnce(ctx context.Context, ep domain.Endpoint, path string) (domain.Envelope, error) {
	u, err := netutil.JoinPath(ep.BaseURL, path)
	if err != nil {
		return domain.Envelope{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), http.NoBody)
	if err != nil {
		return domain.Envelope{}, err
	}
	req.SetBasicAuth(ep.Username, ep.Password)
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return domain.Envelope{}, &domain.ConnectionError{ConnectionID: ep.ConnectionID, Op: "GET " + path, Err: err}
	}
	env, _, err := readEnvelope(resp, false)
	return env, err
}

// readEnvelope decodes the response body, optionally returning the raw bytes.
func readEnvelope(resp *http.Response, keepRaw bool) (domain.Envelope, []byte, error) {
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxEnvelopeBytes))
	if err != nil {
		return domain.Envelope{}, nil, fmt.Errorf("read upstream response: %w", err)
	}
	var env domain.Envelope
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&env); err != nil {
		return domain.Envelope{}, nil, fmt.Errorf("%w: decode upstream response (HTTP %d): %v", domain.ErrSerialization, resp.StatusCode, err)
	}
	if !keepRaw {
		body = nil
	}
	return env, body, nil
}
