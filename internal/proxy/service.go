// Package proxy implements the dashboard-facing operations: proxied upstream
// calls, readiness checks, CSV export, compliance lookups, the endpoint
// catalog and the host snapshot.
package proxy

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"github.com/koltyakov/wazuhproxy/internal/domain"
	"github.com/koltyakov/wazuhproxy/internal/export"
)

// ErrRequirementNotFound is returned for an unknown compliance requirement.
var ErrRequirementNotFound = errors.New("Requirement not found.")

type Resolver interface {
	Resolve(ctx context.Context, id string) (domain.Endpoint, error)
}

type ReadinessChecker interface {
	Ready(ctx context.Context, ep domain.Endpoint) (bool, error)
}

type Dispatcher interface {
	Dispatch(ctx context.Context, ep domain.Endpoint, req domain.Request) (domain.Envelope, error)
}

type Exporter interface {
	Export(ctx context.Context, ep domain.Endpoint, path string, filters map[string]any, w io.Writer) (export.Result, error)
}

// AdminGuard reports whether mutating methods may be forwarded.
type AdminGuard interface {
	AdminEnabled() bool
}

type Config struct {
	Resolver   Resolver
	Gate       ReadinessChecker
	Dispatcher Dispatcher
	Exporter   Exporter
	Admin      AdminGuard
	Logger     *slog.Logger
}

type Service struct {
	resolver   Resolver
	gate       ReadinessChecker
	dispatcher Dispatcher
	exporter   Exporter
	admin      AdminGuard
	logger     *slog.Logger
}

func New(cfg Config) *Service {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		resolver:   cfg.Resolver,
		gate:       cfg.Gate,
		dispatcher: cfg.Dispatcher,
		exporter:   cfg.Exporter,
		admin:      cfg.Admin,
		logger:     logger,
	}
}

// Request forwards one dashboard call to the upstream. The admin switch is
// consulted before any credential lookup, and the readiness gate before any
// dispatch. A gate that reports not ready yields [domain.ErrUpstreamNotReady].
func (s *Service) Request(ctx context.Context, p Params) (domain.Envelope, error) {
	id, okID := p.String("apiId", "id")
	endpoint, okEndpoint := p.String("endpoint")
	if !okID || !okEndpoint {
		return domain.Envelope{}, domain.Missing("Missing ID or endpoint.")
	}

	method := domain.MethodGet
	if m, ok := p.String("method"); ok {
		method = m
	}
	method, supported := domain.NormalizeMethod(method)
	if method != domain.MethodGet && !s.admin.AdminEnabled() {
		s.logger.Warn("admin mode is disabled", "method", method, "endpoint", endpoint)
		return domain.Envelope{}, domain.ErrForbidden
	}
	if !supported {
		return domain.Envelope{}, domain.Missing("Unsupported method " + method + ".")
	}

	req := domain.Request{Method: method, Path: endpoint, Params: p.Forwarded()}
	if method == domain.MethodPost {
		origin, _ := p.String("origin")
		kind, ok := domain.ContentKindForOrigin(origin)
		if !ok {
			return domain.Envelope{}, domain.Missing("Unsupported origin " + origin + ".")
		}
		req.Kind = kind
		req.Content = p["content"]
	}

	ep, err := s.resolver.Resolve(ctx, id)
	if err != nil {
		return domain.Envelope{}, err
	}
	ready, err := s.gate.Ready(ctx, ep)
	if err != nil {
		return domain.Envelope{}, err
	}
	if !ready {
		return domain.Envelope{}, domain.ErrUpstreamNotReady
	}
	return s.dispatcher.Dispatch(ctx, ep, req)
}

// Ready reports the readiness of the upstream behind apiID. Failures are
// folded into the response.
func (s *Service) Ready(ctx context.Context, apiID string) (domain.ReadyResponse, error) {
	if apiID == "" {
		return domain.ReadyResponse{}, domain.Missing("Missing API ID.")
	}
	resp := domain.ReadyResponse{Status: "200"}
	ep, err := s.resolver.Resolve(ctx, apiID)
	if err == nil {
		resp.Ready, err = s.gate.Ready(ctx, ep)
	}
	switch {
	case err != nil:
		s.logger.Error("error checking daemons", "connection", apiID, "err", err)
		resp.Ready = false
		resp.Message = domain.MessageReadinessError
	case resp.Ready:
		resp.Message = domain.MessageReady
	default:
		resp.Message = domain.MessageNotReady
	}
	return resp, nil
}

// Export writes the CSV rendering of path to w.
func (s *Service) Export(ctx context.Context, id, path string, filters map[string]any, w io.Writer) (export.Result, error) {
	if id == "" || path == "" {
		return export.Result{}, domain.Missing("Invalid arguments or missing params.")
	}
	ep, err := s.resolver.Resolve(ctx, id)
	if err != nil {
		return export.Result{}, err
	}
	res, err := s.exporter.Export(ctx, ep, path, filters, w)
	if err != nil {
		s.logger.Error("csv generation failed", "connection", id, "path", path, "err", err)
		return export.Result{}, err
	}
	s.logger.Info("csv generated", "connection", id, "path", path, "pages", res.Pages, "rows", res.Rows)
	return res, nil
}
