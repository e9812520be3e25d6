package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/koltyakov/wazuhproxy/internal/auth"
	"github.com/koltyakov/wazuhproxy/internal/config"
	"github.com/koltyakov/wazuhproxy/internal/debughttp"
	"github.com/koltyakov/wazuhproxy/internal/export"
	ilog "github.com/koltyakov/wazuhproxy/internal/log"
	"github.com/koltyakov/wazuhproxy/internal/proxy"
	"github.com/koltyakov/wazuhproxy/internal/server"
	"github.com/koltyakov/wazuhproxy/internal/settings"
	"github.com/koltyakov/wazuhproxy/internal/store/sqlite"
	"github.com/koltyakov/wazuhproxy/internal/upstream"
)

func newServeCmd() *cobra.Command {
	var cfg *config.ServerConfig
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := cfg.Validate(); err != nil {
				return usageError{err: err}
			}
			return runServe(cmd.Context(), *cfg)
		},
	}
	cfg = config.BindServerFlags(cmd.Flags())
	return cmd
}

func runServe(ctx context.Context, cfg config.ServerConfig) error {
	logger, level := ilog.NewLeveled(os.Stdout, cfg.LogLevel)

	store, err := sqlite.OpenWithOptions(cfg.DBPath, sqlite.OpenOptions{
		MaxOpenConns: cfg.DBMaxOpenConns,
		MaxIdleConns: cfg.DBMaxIdleConns,
	})
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	defer func() { _ = store.Close() }()

	if err := installSealer(ctx, store, cfg.SecretKey); err != nil {
		return err
	}

	applyStanza := func(st settings.Stanza) {
		lvl := cfg.LogLevel
		if st.LogLevel != "" {
			lvl = st.LogLevel
		}
		level.Set(ilog.ParseLevel(lvl))
		logger.Info("settings applied", "admin", st.Admin, "log_level", lvl)
	}
	watcher, err := settings.NewWatcher(settings.WatcherConfig{
		Path:     cfg.SettingsPath,
		Logger:   logger,
		OnChange: applyStanza,
	})
	if err != nil {
		return fmt.Errorf("settings error: %w", err)
	}
	defer func() { _ = watcher.Close() }()
	applyStanza(watcher.Current())

	if err := debughttp.Start(ctx, debughttp.Options{
		Addr:   cfg.PprofListen,
		Logger: logger,
		Stanza: watcher.Current,
	}); err != nil {
		return fmt.Errorf("operator listen: %w", err)
	}

	svc, client := buildService(cfg, store, watcher, logger)
	s := server.New(cfg, svc, client, logger)
	if err := s.Run(ctx); err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// buildService wires the upstream stack behind the proxy service. The
// upstream timeout is fixed for the life of the process.
func buildService(cfg config.ServerConfig, store upstream.CredentialSource, watcher *settings.Watcher, logger *slog.Logger) (*proxy.Service, *upstream.Client) {
	timeout := watcher.RequestTimeout(cfg.RequestTimeout)
	client := upstream.NewClient(upstream.ClientOptions{
		Timeout: timeout,
		Logger:  logger,
	})
	dispatcher := upstream.NewDispatcher(client, logger)
	svc := proxy.New(proxy.Config{
		Resolver:   upstream.NewResolver(store),
		Gate:       upstream.NewGate(client, logger),
		Dispatcher: dispatcher,
		Exporter: export.New(dispatcher, export.Options{
			MaxPages: cfg.ExportMaxPages,
			Logger:   logger,
		}),
		Admin:  watcher,
		Logger: logger,
	})
	logger.Info("upstream client ready", "timeout", timeout)
	return svc, client
}

// installSealer resolves the sealing secret and attaches the sealer to store.
// A secret is generated and persisted on first use when none is configured.
func installSealer(ctx context.Context, store *sqlite.Store, configured string) error {
	secret, err := resolveSealingSecret(ctx, store, configured)
	if err != nil {
		return fmt.Errorf("sealing secret: %w", err)
	}
	sealer, err := auth.NewSealer(secret)
	if err != nil {
		return fmt.Errorf("sealing secret: %w", err)
	}
	store.SetSealer(sealer)
	return nil
}

func resolveSealingSecret(ctx context.Context, store *sqlite.Store, configured string) (string, error) {
	configured = strings.TrimSpace(configured)
	if configured != "" {
		return store.ResolveSealingSecret(ctx, configured)
	}
	current, exists, err := store.GetSealingSecret(ctx)
	if err != nil {
		return "", err
	}
	if exists {
		return current, nil
	}
	generated, err := auth.GenerateSecret()
	if err != nil {
		return "", err
	}
	return store.ResolveSealingSecret(ctx, generated)
}
