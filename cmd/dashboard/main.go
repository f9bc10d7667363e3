package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alejandrodnm/mevdash/config"
	"github.com/alejandrodnm/mevdash/internal/adapters/notify"
	"github.com/alejandrodnm/mevdash/internal/adapters/storage"
	"github.com/alejandrodnm/mevdash/internal/adapters/stream"
	"github.com/alejandrodnm/mevdash/internal/adapters/upstream"
	"github.com/alejandrodnm/mevdash/internal/application/dashboard"
	"github.com/alejandrodnm/mevdash/internal/codec"
	"github.com/alejandrodnm/mevdash/internal/livestore"
	"github.com/alejandrodnm/mevdash/internal/ports"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to config file")
	endpointFlag := flag.String("endpoint", "", "upstream base URL (saved as preference)")
	strategyFlag := flag.String("strategy", "", "stream transport: websocket|sse (overrides config)")
	verbose := flag.Bool("verbose", false, "set log level to debug")
	logFormat := flag.String("format", "", "log format: text|json (overrides config)")
	table := flag.Bool("table", false, "print the full window table (default: compact 1-line)")
	once := flag.Bool("once", false, "render the first snapshot commit and exit")
	history := flag.Bool("history", false, "print the opportunity journal for the last 24h and exit")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			slog.Error("failed to load config", "err", err, "path", *configPath)
			os.Exit(1)
		}
		cfg = config.Default()
	}

	if *verbose {
		cfg.Log.Level = "debug"
	}
	if *logFormat != "" {
		cfg.Log.Format = *logFormat
	}
	if *strategyFlag != "" {
		cfg.Stream.Strategy = *strategyFlag
	}
	setupLogger(cfg.Log)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, err := storage.NewSQLiteStorage(cfg.Storage.DSN)
	if err != nil {
		slog.Error("failed to open storage", "err", err, "dsn", cfg.Storage.DSN)
		os.Exit(1)
	}
	defer store.Close()

	console := notify.NewConsole(*table || cfg.View.Table)

	if *history {
		printHistory(ctx, store, console)
		return
	}

	endpoint := resolveEndpoint(ctx, store, *endpointFlag, cfg.Stream.Endpoint)

	slog.Info("mevdash starting",
		"config", *configPath,
		"endpoint", endpoint,
		"strategy", cfg.Stream.Strategy,
		"gap_mode", cfg.Stream.GapMode,
		"once", *once,
	)

	if err := run(ctx, cfg, endpoint, store, console, *once); err != nil {
		slog.Error("mevdash exited with error", "err", err)
		os.Exit(1)
	}
	slog.Info("mevdash stopped cleanly")
}

// run cablea transporte, synchronizer, engine y renderer y los ejecuta hasta
// que ctx termina o alguno falla.
func run(ctx context.Context, cfg *config.Config, endpoint string, store *storage.SQLiteStorage, renderer ports.Renderer, once bool) error {
	strategy, err := stream.NewStrategy(cfg.Stream.Strategy, endpoint, stream.Paths{
		WebSocket: cfg.Stream.WebSocketPath,
		Events:    cfg.Stream.EventsPath,
		Credit:    cfg.Stream.CreditPath,
	})
	if err != nil {
		return err
	}
	gapMode, err := codec.ParseGapMode(cfg.Stream.GapMode)
	if err != nil {
		return err
	}

	transport := stream.NewClient(strategy, stream.Config{
		InitialBackoff: cfg.InitialBackoff(),
		MaxBackoff:     cfg.MaxBackoff(),
		CreditWindow:   cfg.Stream.CreditWindow,
		Limit:          cfg.Stream.Limit,
		Interval:       cfg.StreamInterval(),
	})

	api := upstream.NewClient(endpoint, cfg.SnapshotTimeout())
	syncer := dashboard.NewSynchronizer(api, dashboard.SyncConfig{
		Throttle: cfg.SnapshotThrottle(),
		Refresh:  cfg.SnapshotRefresh(),
		Timeout:  cfg.SnapshotTimeout(),
		Limits: ports.SnapshotLimits{
			TxLimit:          cfg.Snapshot.TxLimit,
			OpportunityLimit: cfg.Snapshot.OpportunityLimit,
			FeatureLimit:     cfg.Snapshot.FeatureLimit,
		},
	})

	var journal ports.OpportunityJournal
	if cfg.Storage.Journal {
		journal = store
	}
	engine := dashboard.New(engineConfig(cfg, gapMode), transport, syncer, api, journal)
	defer engine.Close()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := transport.Run(gctx); !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	g.Go(func() error { return syncer.Run(gctx) })
	g.Go(func() error { return engine.Run(gctx) })
	g.Go(func() error {
		return renderLoop(gctx, engine, renderer, cfg.View.ViewportHeightPx, cfg.RenderInterval(), once)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, errRenderedOnce) {
		return err
	}
	return nil
}

func engineConfig(cfg *config.Config, gapMode codec.GapMode) dashboard.Config {
	ec := dashboard.DefaultConfig()
	ec.GapMode = gapMode
	ec.ResyncCooldown = cfg.ResyncCooldown()
	ec.Transactions = livestore.Config{
		Name:     "transactions",
		MaxItems: cfg.Store.MaxTransactions,
		MaxAgeMs: cfg.Store.TxMaxAgeMs,
	}
	ec.Features = livestore.Config{
		Name:     "features",
		MaxItems: cfg.Store.MaxFeatures,
	}
	ec.Opportunities = livestore.Config{
		Name:             "opportunities",
		MaxItems:         cfg.Store.MaxOpportunities,
		MaxAgeMs:         cfg.Store.OppMaxAgeMs,
		ReportCollisions: true,
	}
	ec.DetailCacheSize = cfg.Store.DetailCacheSize
	ec.DetailEvictDelay = cfg.DetailEvictDelay()
	ec.RowHeight = cfg.View.RowHeightPx
	ec.Overscan = cfg.View.OverscanRows
	ec.FrameInterval = cfg.FrameInterval()
	ec.PruneInterval = cfg.PruneInterval()
	return ec
}

// resolveEndpoint elige el endpoint: flag (y se guarda) > config/entorno >
// preferencia guardada > localhost.
func resolveEndpoint(ctx context.Context, prefs ports.Preferences, flagValue, configured string) string {
	const key = "endpoint_base"
	if flagValue != "" {
		if err := prefs.SetPreference(ctx, key, flagValue); err != nil {
			slog.Warn("could not save endpoint preference", "err", err)
		}
		return flagValue
	}
	if configured != "" {
		return configured
	}
	if v, ok, err := prefs.GetPreference(ctx, key); err != nil {
		slog.Warn("could not read endpoint preference", "err", err)
	} else if ok {
		return v
	}
	return "http://localhost:8080"
}

func printHistory(ctx context.Context, journal ports.OpportunityJournal, console *notify.Console) {
	to := time.Now()
	opps, err := journal.GetHistory(ctx, to.Add(-24*time.Hour), to)
	if err != nil {
		slog.Error("failed to read opportunity journal", "err", err)
		os.Exit(1)
	}
	console.PrintHistory(opps)
}

func setupLogger(cfg config.LogConfig) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}
