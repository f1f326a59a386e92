package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	"github.com/erazemk/podari/internal/api"
	"github.com/erazemk/podari/internal/auth"
	"github.com/erazemk/podari/internal/config"
	"github.com/erazemk/podari/internal/db"
	"github.com/erazemk/podari/internal/metrics"
	"github.com/erazemk/podari/internal/notify"
	"github.com/erazemk/podari/internal/store"
	"github.com/erazemk/podari/internal/workflow"
)

func main() {
	fs := flag.NewFlagSet("podari", flag.ContinueOnError)

	var configPath string
	fs.StringVar(&configPath, "config", "", "")
	fs.StringVar(&configPath, "c", "", "")

	var dbPath string
	fs.StringVar(&dbPath, "db", "", "")
	fs.StringVar(&dbPath, "d", "", "")

	var addr string
	fs.StringVar(&addr, "addr", "", "")
	fs.StringVar(&addr, "a", "", "")

	var adminEmail string
	fs.StringVar(&adminEmail, "admin", "", "")
	fs.StringVar(&adminEmail, "e", "", "")

	var logPath string
	fs.StringVar(&logPath, "log", "", "")
	fs.StringVar(&logPath, "l", "", "")

	fs.Usage = func() {
		fmt.Fprint(os.Stdout, `Usage: podari [flags]

Flags:
  -c, -config <path>      YAML config file (default: podari.yaml if present)
  -d, -db <path>          SQLite database path (default: podari.sqlite3)
  -a, -addr <host:port>   listen address (default: :8080)
  -e, -admin <email>      administrator email on first run (default: admin@podari.local)
  -l, -log <path>         log file path (default: no file, stdout/stderr only)
  -h, -help               show this help and exit

Every setting can also be given as a PODARI_* environment variable
(e.g. PODARI_KAFKA_BROKERS, PODARI_REDIS_URL) or in a .env file.
`)
	}

	if err := fs.Parse(os.Args[1:]); err != nil {
		if err == flag.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}

	if fs.NArg() > 0 {
		fmt.Fprintf(os.Stderr, "unexpected argument: %s\n", fs.Arg(0))
		fs.Usage()
		os.Exit(1)
	}

	// Only flags given on the command line override other sources.
	overrides := map[string]any{}
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "db", "d":
			overrides[config.KeyDB] = dbPath
		case "addr", "a":
			overrides[config.KeyAddr] = addr
		case "admin", "e":
			overrides[config.KeyAdminEmail] = adminEmail
		case "log", "l":
			overrides[config.KeyLog] = logPath
		}
	})

	cfg, err := config.Load(configPath, overrides)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	closeLog, err := setupLogger(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	defer closeLog()

	if err := run(cfg); err != nil {
		slog.Error("server error", "error", err)
		closeLog()
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	database, err := db.Open(cfg.DB)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer database.Close()

	if err := db.EnsureSchema(database); err != nil {
		return fmt.Errorf("ensuring database schema: %w", err)
	}

	password, err := bootstrapAdmin(ctx, database, cfg.AdminEmail, 0)
	if err != nil {
		return fmt.Errorf("creating administrator: %w", err)
	}
	if password != "" {
		printInitResult(cfg.DB, cfg.AdminEmail, password)
		fmt.Println()
	}

	slog.Info("database ready", "path", cfg.DB)

	// Load JWT secret from database (auto-generated on first run).
	jwtSecret, err := store.GetJWTSecret(ctx, database)
	if err != nil {
		return fmt.Errorf("getting JWT secret: %w", err)
	}

	var revoked auth.RevocationList
	if cfg.RedisURL != "" {
		client, err := auth.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return err
		}
		defer client.Close()
		revoked = &auth.RedisRevocationList{Client: client}
		slog.Info("using redis token revocation list")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	sinks := []notify.Sink{&notify.StoreSink{DB: database}}
	if len(cfg.KafkaBrokers) > 0 {
		kafka, err := notify.NewKafkaSink(cfg.KafkaBrokers, cfg.KafkaTopic)
		if err != nil {
			return err
		}
		defer kafka.Close()
		sinks = append(sinks, kafka)
		slog.Info("publishing notifications to kafka", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaTopic)
	}
	dispatcher := notify.NewDispatcher(cfg.NotifyQueueSize, m, sinks...)

	flow, err := workflow.New(database,
		workflow.WithNotifier(dispatcher),
		workflow.WithMetrics(m),
		workflow.WithMaxImages(cfg.ImageMaxCount),
	)
	if err != nil {
		return err
	}

	server := &http.Server{
		Addr: cfg.Addr,
		Handler: api.NewRouter(api.Deps{
			Auth:        auth.NewAuthenticator(database, jwtSecret, cfg.JWTTTL, revoked),
			Workflow:    flow,
			Metrics:     m,
			Gatherer:    reg,
			CORSOrigins: cfg.CORSOrigins,
		}),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	// The dispatcher outlives the signal so notifications from in-flight
	// requests are still delivered; it stops once the server has.
	g.Go(func() error {
		return dispatcher.Run(context.WithoutCancel(gctx))
	})

	g.Go(func() error {
		slog.Info("server started", "addr", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down")
		defer dispatcher.Close()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("server forced to shutdown", "error", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	slog.Info("server stopped, closing database")
	return nil
}
