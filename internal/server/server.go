// Package server exposes the proxy operations over HTTP.
package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/quic-go/quic-go/http3"

	"github.com/koltyakov/wazuhproxy/internal/catalog"
	"github.com/koltyakov/wazuhproxy/internal/compliance"
	"github.com/koltyakov/wazuhproxy/internal/config"
	"github.com/koltyakov/wazuhproxy/internal/domain"
	"github.com/koltyakov/wazuhproxy/internal/export"
	"github.com/koltyakov/wazuhproxy/internal/metrics"
	"github.com/koltyakov/wazuhproxy/internal/proxy"
)

const (
	readHeaderTimeout = 10 * time.Second
	idleTimeout       = 120 * time.Second
	maxHeaderBytes    = 64 * 1024
	shutdownTimeout   = 5 * time.Second
)

// Service is the set of operations served over HTTP.
type Service interface {
	Request(ctx context.Context, p proxy.Params) (domain.Envelope, error)
	Ready(ctx context.Context, apiID string) (domain.ReadyResponse, error)
	Export(ctx context.Context, id, path string, filters map[string]any, w io.Writer) (export.Result, error)
	Compliance(ctx context.Context, framework string, p proxy.Params) (any, error)
	Catalog() ([]catalog.Group, error)
	Syscollector(ctx context.Context, apiID, agentID string) (domain.HostSnapshot, error)
}

// IdleCloser drops pooled upstream connections.
type IdleCloser interface {
	CloseIdleConnections()
}

type Server struct {
	cfg      config.ServerConfig
	svc      Service
	upstream IdleCloser
	log      *slog.Logger

	exportLimiter *rateLimiter
	watchers      sync.WaitGroup
	stopping      chan struct{}
	stopOnce      sync.Once
}

func New(cfg config.ServerConfig, svc Service, upstream IdleCloser, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.CleanupInterval <= 0 {
		cfg.CleanupInterval = 5 * time.Minute
	}
	if cfg.LimiterIdleTTL <= 0 {
		cfg.LimiterIdleTTL = 15 * time.Minute
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 10 * 1024 * 1024
	}
	if cfg.WatchInterval <= 0 {
		cfg.WatchInterval = 3 * time.Second
	}
	if cfg.ExportRate <= 0 {
		cfg.ExportRate = 1
	}
	if cfg.ExportBurst <= 0 {
		cfg.ExportBurst = 3
	}
	return &Server{
		cfg:           cfg,
		svc:           svc,
		upstream:      upstream,
		log:           logger,
		exportLimiter: newRateLimiter(cfg.ExportRate, cfg.ExportBurst, cfg.LimiterIdleTTL),
		stopping:      make(chan struct{}),
	}
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.handle(mux, "POST /api/request", "request", s.handleRequest)
	s.handle(mux, "POST /api/wazuh_ready", "wazuh_ready", s.handleReady)
	mux.HandleFunc("GET /api/wazuh_ready/watch", s.handleReadyWatch)
	s.handle(mux, "POST /api/csv", "csv", s.handleCSV)
	for _, name := range compliance.Names() {
		s.handle(mux, "GET /api/"+name, name, s.handleCompliance(name))
	}
	s.handle(mux, "GET /api/autocomplete", "autocomplete", s.handleAutocomplete)
	s.handle(mux, "GET /api/syscollector", "syscollector", s.handleSyscollector)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.Handle("GET /metrics", metrics.Handler())
	return mux
}

// Run serves until ctx is canceled. With TLS configured it serves HTTPS and,
// when enabled, HTTP/3 on the same address.
func (s *Server) Run(ctx context.Context) error {
	janitorCtx, cancelJanitor := context.WithCancel(ctx)
	defer cancelJanitor()
	go s.runJanitor(janitorCtx)

	handler := s.Handler()
	useTLS := s.cfg.TLSCertFile != "" && s.cfg.TLSKeyFile != ""

	var h3 *http3.Server
	if useTLS && s.cfg.HTTP3 {
		h3 = &http3.Server{Addr: s.cfg.Listen, Handler: handler}
		handler = altSvc(h3, handler)
	}

	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           handler,
		ReadHeaderTimeout: readHeaderTimeout,
		IdleTimeout:       idleTimeout,
		MaxHeaderBytes:    maxHeaderBytes,
	}
	if useTLS {
		srv.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	errCh := make(chan error, 2)
	go func() {
		var err error
		if useTLS {
			s.log.Info("starting HTTPS server", "addr", s.cfg.Listen)
			err = srv.ListenAndServeTLS(s.cfg.TLSCertFile, s.cfg.TLSKeyFile)
		} else {
			s.log.Info("starting HTTP server", "addr", s.cfg.Listen)
			err = srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()
	if h3 != nil {
		go func() {
			s.log.Info("starting HTTP/3 server", "addr", s.cfg.Listen)
			if err := h3.ListenAndServeTLS(s.cfg.TLSCertFile, s.cfg.TLSKeyFile); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- fmt.Errorf("http3 server: %w", err)
			}
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
	}
	if err := shutdownServer(srv, shutdownTimeout); err != nil && runErr == nil {
		runErr = err
	}
	if h3 != nil {
		_ = h3.Close()
	}
	s.stopOnce.Do(func() { close(s.stopping) })
	waitGroupWait(&s.watchers, shutdownTimeout)
	if s.upstream != nil {
		s.upstream.CloseIdleConnections()
	}
	return runErr
}

// altSvc advertises the HTTP/3 endpoint on every HTTPS response.
func altSvc(h3 *http3.Server, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.ProtoMajor < 3 {
			_ = h3.SetQUICHeaders(w.Header())
		}
		next.ServeHTTP(w, r)
	})
}

func shutdownServer(server *http.Server, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// waitGroupWait blocks until wg reaches zero or timeout elapses.
// Returns false if the timeout fired before all goroutines finished.
func waitGroupWait(wg *sync.WaitGroup, timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-done:
		return true
	case <-t.C:
		return false
	}
}
