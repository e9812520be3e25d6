package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"time"

	"github.com/hashicorp/go-retryablehttp"

	"github.com/koltyakov/wazuhproxy/internal/domain"
	"github.com/koltyakov/wazuhproxy/internal/metrics"
	"github.com/koltyakov/wazuhproxy/internal/netutil"
	"github.com/koltyakov/wazuhproxy/internal/sanitize"
)

// Dispatcher forwards one request to the upstream and returns the sanitized
// envelope.
type Dispatcher struct {
	client *Client
	logger *slog.Logger
}

func NewDispatcher(client *Client, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{client: client, logger: logger}
}

// Dispatch performs req against ep. A non-zero upstream error code that is
// not transient comes back in the envelope with a nil error. Transient codes
// are retried; when every attempt hits one, Dispatch returns a
// [*domain.RetriesExhaustedError].
func (d *Dispatcher) Dispatch(ctx context.Context, ep domain.Endpoint, req domain.Request) (domain.Envelope, error) {
	env, _, err := d.dispatch(ctx, ep, req, false)
	return env, err
}

// DispatchRaw is like Dispatch but also returns the raw upstream body, for
// callers that need the upstream key order. The raw body is not sanitized.
func (d *Dispatcher) DispatchRaw(ctx context.Context, ep domain.Endpoint, req domain.Request) (domain.Envelope, []byte, error) {
	return d.dispatch(ctx, ep, req, true)
}

func (d *Dispatcher) dispatch(ctx context.Context, ep domain.Endpoint, req domain.Request, keepRaw bool) (domain.Envelope, []byte, error) {
	method, ok := domain.NormalizeMethod(req.Method)
	if !ok {
		return domain.Envelope{}, nil, domain.Missing(fmt.Sprintf("Unsupported method %s.", req.Method))
	}
	httpReq, err := buildRequest(ctx, ep, method, req)
	if err != nil {
		return domain.Envelope{}, nil, err
	}

	start := time.Now()
	resp, err := d.client.retry.Do(httpReq)
	if err != nil {
		if errors.Is(err, domain.ErrRetriesExhausted) {
			metrics.ObserveUpstream(method, metrics.OutcomeRetriesExhausted, time.Since(start))
			exhausted := &domain.RetriesExhaustedError{Method: method, Path: req.Path}
			d.logger.Error("upstream request failed", "connection", ep.ConnectionID, "err", exhausted)
			return domain.Envelope{}, nil, exhausted
		}
		metrics.ObserveUpstream(method, metrics.OutcomeTransportError, time.Since(start))
		return domain.Envelope{}, nil, &domain.ConnectionError{ConnectionID: ep.ConnectionID, Op: method + " " + req.Path, Err: err}
	}

	env, raw, err := readEnvelope(resp, keepRaw)
	if err != nil {
		metrics.ObserveUpstream(method, metrics.OutcomeTransportError, time.Since(start))
		return domain.Envelope{}, nil, err
	}
	outcome := metrics.OutcomeOK
	if env.Error != 0 {
		outcome = metrics.OutcomeUpstreamError
	}
	metrics.ObserveUpstream(method, outcome, time.Since(start))
	d.logger.Debug("upstream request", "connection", ep.ConnectionID, "method", method, "path", req.Path, "error_code", env.Error)

	return sanitize.Envelope(env), raw, nil
}

func buildRequest(ctx context.Context, ep domain.Endpoint, method string, r domain.Request) (*retryablehttp.Request, error) {
	u, err := netutil.JoinPath(ep.BaseURL, r.Path)
	if err != nil {
		return nil, domain.Missing("Missing ID or endpoint.")
	}

	var body any
	contentType := ""
	switch {
	case method == domain.MethodGet:
		q := u.Query()
		for k, v := range r.Params {
			q.Set(k, formValue(v))
		}
		u.RawQuery = q.Encode()
	case method == domain.MethodPost && r.Kind != domain.ContentDefault:
		b, err := contentBody(r.Content)
		if err != nil {
			return nil, err
		}
		body = b
		contentType = r.Kind.ContentType()
	default:
		form := url.Values{}
		for k, v := range r.Params {
			form.Set(k, formValue(v))
		}
		body = []byte(form.Encode())
		contentType = "application/x-www-form-urlencoded"
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, err
	}
	req.SetBasicAuth(ep.Username, ep.Password)
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	return req, nil
}

// formValue renders a parameter value for a query string or form body.
func formValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case json.Number:
		return t.String()
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case map[string]any, []any:
		b, err := json.Marshal(t)
		if err != nil {
			return fmt.Sprint(t)
		}
		return string(b)
	default:
		return fmt.Sprint(t)
	}
}

// contentBody renders a raw POST body: strings verbatim, anything else as
// compact JSON.
func contentBody(v any) ([]byte, error) {
	switch t := v.(type) {
	case nil:
		return []byte{}, nil
	case string:
		return []byte(t), nil
	case []byte:
		return t, nil
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return nil, fmt.Errorf("%w: encode content: %v", domain.ErrSerialization, err)
		}
		return b, nil
	}
}
