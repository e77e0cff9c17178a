package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/live-view/liveview-backend/internal/config"
	"github.com/live-view/liveview-backend/internal/views"
	"github.com/live-view/liveview-backend/pkg/dispatch"
	"github.com/live-view/liveview-backend/pkg/live"
	"github.com/live-view/liveview-backend/pkg/middleware"
	"github.com/live-view/liveview-backend/pkg/render"
	"github.com/live-view/liveview-backend/pkg/server"
	"github.com/live-view/liveview-backend/pkg/session"
)

type serveOptions struct {
	port       int
	logLevel   string
	configPath string
}

func (o *serveOptions) bind(cmd *cobra.Command) {
	cmd.Flags().IntVarP(&o.port, "port", "p", 0, "Port to listen on (default 8000 or $PORT)")
	cmd.Flags().StringVarP(&o.logLevel, "log-level", "l", "", "Log level: debug, info, warn or error")
	cmd.Flags().StringVarP(&o.configPath, "config", "c", "", "Path to the config file (default ./liveview.yaml)")
}

func serveCmd() *cobra.Command {
	opts := &serveOptions{}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the server",
		Long: `Start the HTTP and push channel server.

Configuration is read from liveview.yaml, then environment
variables, then flags, each overriding the previous.

Examples:
  liveview-backend serve
  liveview-backend serve --port=8080 --log-level=debug
  LIVEVIEW_BACKEND=redis LIVEVIEW_REDIS_URL=redis://localhost:6379 liveview-backend serve`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), opts)
		},
	}
	opts.bind(cmd)

	return cmd
}

// loadConfig merges the config file, environment and flags.
func loadConfig(opts *serveOptions, lookup func(string) (string, bool)) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if opts.configPath != "" {
		cfg, err = config.LoadFile(opts.configPath)
	} else {
		cfg, err = config.Load(".")
	}
	if err != nil {
		return nil, err
	}

	if err := cfg.ApplyEnv(lookup); err != nil {
		return nil, err
	}
	if opts.port > 0 {
		cfg.Port = opts.port
	}
	if opts.logLevel != "" {
		cfg.Log.Level = opts.logLevel
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func runServe(ctx context.Context, opts *serveOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := loadConfig(opts, os.LookupEnv)
	if err != nil {
		return err
	}
	logger, err := cfg.NewLogger(os.Stderr)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	backend, closeBackend, err := openBackend(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("open %s backend: %w", cfg.Backend.Type, err)
	}
	defer closeBackend()

	store := session.NewStore(backend, cfg.StoreConfig(), logger)

	srv, err := newServer(cfg, store, prometheus.DefaultRegisterer, prometheus.DefaultGatherer, logger)
	if err != nil {
		store.Shutdown(context.Background())
		return err
	}

	logger.Info("liveview-backend starting",
		"version", version,
		"address", cfg.Address(),
		"backend", cfg.Backend.Type)

	err = srv.Run(ctx)
	if errors.Is(err, server.ErrServerClosed) {
		err = nil
	}

	// Sessions were detached by the server shutdown; persist them before the
	// backend closes.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), srv.Config().ShutdownTimeout)
	defer cancel()
	if serr := store.Shutdown(shutdownCtx); serr != nil {
		logger.Warn("session store shutdown", "error", serr)
	}
	logger.Info("liveview-backend stopped")
	return err
}

// newServer assembles registries, dispatcher, metrics and tracing.
func newServer(cfg *config.Config, store *session.Store, reg prometheus.Registerer, gatherer prometheus.Gatherer, logger *slog.Logger) (*server.Server, error) {
	viewRegistry := live.NewRegistry()
	components := render.NewRegistry()
	if err := views.Register(viewRegistry, components); err != nil {
		return nil, err
	}

	metrics := middleware.NewMetrics(
		middleware.WithNamespace(cfg.Metrics.Namespace),
		middleware.WithRegistry(reg),
	)
	if err := metrics.RegisterStoreGauges(store); err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}

	d := dispatch.New(store, viewRegistry, components,
		dispatch.WithLogger(logger),
		dispatch.WithMiddleware(
			middleware.OpenTelemetry(),
			metrics.Middleware(),
		),
	)

	srv := server.New(d, cfg.ServerConfig(),
		server.WithLogger(logger),
		server.WithGatherer(gatherer),
	)
	if err := metrics.RegisterGauge("connections", "Number of open push channel connections", srv.ConnCount); err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}
	return srv, nil
}

// openBackend connects the configured persistence backend and checks it is
// reachable. The returned func releases it.
func openBackend(ctx context.Context, cfg *config.Config, logger *slog.Logger) (session.Backend, func(), error) {
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	switch cfg.Backend.Type {
	case "", config.BackendMemory:
		b := session.NewMemoryBackend()
		return b, func() { b.Close() }, nil

	case config.BackendRedis:
		client, err := session.DialRedis(dialCtx, cfg.Backend.Redis.URL)
		if err != nil {
			return nil, nil, err
		}
		var opts []session.RedisBackendOption
		if cfg.Backend.Redis.Prefix != "" {
			opts = append(opts, session.WithRedisPrefix(cfg.Backend.Redis.Prefix))
		}
		b := session.NewRedisBackend(client, opts...)
		return b, func() {
			b.Close()
			client.Close()
		}, nil

	case config.BackendSQL:
		db, err := session.OpenSQLite(dialCtx, cfg.Backend.SQL.Path)
		if err != nil {
			return nil, nil, err
		}
		opts := []session.SQLBackendOption{session.WithSQLLogger(logger)}
		if cfg.Backend.SQL.Table != "" {
			opts = append(opts, session.WithSQLTableName(cfg.Backend.SQL.Table))
		}
		b := session.NewSQLBackend(db, opts...)
		if err := b.CreateTable(dialCtx); err != nil {
			b.Close()
			db.Close()
			return nil, nil, err
		}
		return b, func() {
			b.Close()
			db.Close()
		}, nil

	case config.BackendS3:
		s3cfg := cfg.S3()
		b := session.NewS3Backend(session.NewS3Client(s3cfg), s3cfg.Bucket, s3cfg.Prefix)
		if err := b.Ping(dialCtx); err != nil {
			b.Close()
			return nil, nil, err
		}
		return b, func() { b.Close() }, nil

	default:
		return nil, nil, fmt.Errorf("%w: unknown backend %q", config.ErrInvalid, cfg.Backend.Type)
	}
}
