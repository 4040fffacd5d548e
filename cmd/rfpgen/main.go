// CLAUDE:SUMMARY Entry point for the rfpgen HTTP service: config, store selection, observability, chi router, optional MCP.
// Command rfpgen serves the RFP to proposal API.
//
// Usage:
//
//	rfpgen                          # serve, reading rfpgen.yaml if present
//	rfpgen -config /etc/rfpgen.yaml # serve with an explicit config file
//	rfpgen -draft rfp.pdf           # decode a local file, print the draft and exit
package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hazyhaar/rfpgen/dbopen"
	"github.com/hazyhaar/rfpgen/docpipe"
	"github.com/hazyhaar/rfpgen/observability"
	"github.com/hazyhaar/rfpgen/proposal"
)

var version = "dev"

const (
	heartbeatInterval = 15 * time.Second
	cleanupInterval   = 6 * time.Hour
)

func main() {
	configPath := flag.String("config", os.Getenv("RFPGEN_CONFIG"), "path to rfpgen.yaml config file")
	draftPath := flag.String("draft", "", "decode a local file, print its proposal draft and exit")
	flag.Parse()

	cfg, err := proposal.LoadConfig(*configPath)
	if err != nil {
		slog.Error("config", "error", err)
		os.Exit(1)
	}

	var lvl slog.Level
	switch strings.ToLower(cfg.LogLevel) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
	slog.SetDefault(logger)

	if *draftPath != "" {
		if err := draft(cfg, logger, *draftPath); err != nil {
			logger.Error("rfpgen: draft", "error", err)
			os.Exit(1)
		}
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("rfpgen: fatal", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *proposal.Config, logger *slog.Logger) error {
	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	dpCfg := cfg.DocpipeConfig()
	dpCfg.Logger = logger
	opts := []proposal.Option{
		proposal.WithLogger(logger),
		proposal.WithListMax(cfg.ListLimitMax),
		proposal.WithMaxUpload(cfg.MaxUploadBytes()),
	}

	// Observability store: metrics, lifecycle events and heartbeats.
	if cfg.MetricsDB != "" {
		obsDB, err := dbopen.Open(cfg.MetricsDB, dbopen.WithMkdirAll(), dbopen.WithMigrations(observability.Migrations...))
		if err != nil {
			return fmt.Errorf("metrics db: %w", err)
		}
		defer obsDB.Close()

		metrics := observability.NewMetricsManager(obsDB, 100, 5*time.Second, observability.WithMetricsLogger(logger))
		defer metrics.Close()

		hb := observability.NewHeartbeatWriter(obsDB, "rfpgen", heartbeatInterval, logger)
		hb.Start(ctx)
		defer hb.Stop()

		opts = append(opts,
			proposal.WithMetrics(metrics),
			proposal.WithEvents(observability.NewEventLogger(obsDB, observability.WithEventLogger(logger))),
			proposal.WithHeartbeat(func(ctx context.Context) (*observability.HeartbeatStatus, error) {
				return observability.LatestHeartbeat(ctx, obsDB, hb.Name(), 3*heartbeatInterval)
			}),
		)
		if cfg.RetentionDays > 0 {
			go retention(ctx, obsDB, cfg.RetentionDays, logger)
		}
	}

	svc := proposal.New(store, docpipe.New(dpCfg), opts...)

	limiter := proposal.RouteLimiter(cfg.RateLimit, cfg.Proxies(), logger)
	if limiter.Enabled() {
		limiter.StartGC(ctx, time.Minute)
	}

	hcfg := proposal.HandlerConfig{
		MaxUploadBytes: cfg.MaxUploadBytes(),
		AllowedOrigins: cfg.CORS.AllowedOrigins,
		Limiter:        limiter,
		TrustedProxies: cfg.Proxies(),
		Logger:         logger,
	}
	if cfg.MCP.Enabled {
		hcfg.MCP = proposal.MCPHandler(svc.NewMCPServer(version))
		logger.Info("mcp endpoint enabled", "path", "/mcp")
	}

	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           proposal.Handler(svc, hcfg),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		logger.Info("server starting", "listen", cfg.Listen, "store", store.Driver(), "version", version)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errc <- err
		}
	}()

	select {
	case err := <-errc:
		return fmt.Errorf("listen: %w", err)
	case <-ctx.Done():
	}
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown", "error", err)
	}
	logger.Info("server stopped")
	return nil
}

// openStore returns the configured Store and a function releasing it.
func openStore(ctx context.Context, cfg *proposal.Config) (proposal.Store, func(), error) {
	switch cfg.Store.Driver {
	case proposal.DriverPostgres:
		pool, err := pgxpool.New(ctx, cfg.Store.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("postgres pool: %w", err)
		}
		store := proposal.NewPostgresStore(pool)
		if err := store.Init(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}
		return store, pool.Close, nil
	default:
		store, err := proposal.OpenSQLiteStore(cfg.Store.DSN)
		if err != nil {
			return nil, nil, err
		}
		return store, func() { store.Close() }, nil
	}
}

func retention(ctx context.Context, db *sql.DB, days int, logger *slog.Logger) {
	rc := observability.RetentionConfig{MetricsDays: days, EventsDays: days, HeartbeatsDays: days}
	tick := time.NewTicker(cleanupInterval)
	defer tick.Stop()
	for {
		if err := observability.Cleanup(ctx, db, rc); err != nil && ctx.Err() == nil {
			logger.Warn("observability cleanup", "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
		}
	}
}

// draft decodes path with the configured decoder and prints the extracted
// fields and sections as JSON.
func draft(cfg *proposal.Config, logger *slog.Logger, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	dpCfg := cfg.DocpipeConfig()
	dpCfg.Logger = logger
	decoded := docpipe.New(dpCfg).DecodeDetailed(docpipe.Input{
		Data:      data,
		MediaType: mime.TypeByExtension(filepath.Ext(path)),
		Filename:  filepath.Base(path),
	})

	svc := proposal.New(nil, nil, proposal.WithLogger(logger))
	res := svc.Draft(decoded.Text)

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(map[string]any{
		"decoded_as": decoded.Format,
		"tried":      decoded.Tried,
		"fields":     res.Fields,
		"sections":   res.Sections.Slice(),
	})
}
