// Package debughttp runs the operator listener of the proxy. It is meant for
// a loopback or management address and is never mounted on the API port.
package debughttp

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	httppprof "net/http/pprof"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/koltyakov/wazuhproxy/internal/metrics"
	"github.com/koltyakov/wazuhproxy/internal/settings"
)

const shutdownTimeout = 5 * time.Second

// Options configures the operator listener.
type Options struct {
	// Addr is the listen address. Empty disables the listener.
	Addr   string
	Logger *slog.Logger
	// Stanza reports the settings stanza currently in effect. Nil hides
	// /debug/settings.
	Stanza func() settings.Stanza
}

// Start binds the operator listener and serves it until ctx is canceled.
// Bind errors are returned synchronously so a busy port fails startup.
func Start(ctx context.Context, opts Options) error {
	addr := strings.TrimSpace(opts.Addr)
	if addr == "" {
		return nil
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Handler:           newMux(opts.Stanza),
		ReadHeaderTimeout: 5 * time.Second,
	}
	log := opts.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	go func() {
		log.Info("operator listener up", "addr", ln.Addr().String(), "settings", opts.Stanza != nil)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("operator listener stopped", "addr", ln.Addr().String(), "err", err)
		}
	}()
	return nil
}

func newMux(stanza func() settings.Stanza) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", metrics.Handler())
	if stanza != nil {
		mux.HandleFunc("GET /debug/settings", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/yaml")
			enc := yaml.NewEncoder(w)
			defer func() { _ = enc.Close() }()
			_ = enc.Encode(stanza())
		})
	}
	mux.HandleFunc("/debug/pprof/", httppprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", httppprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", httppprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", httppprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", httppprof.Trace)
	return mux
}
