package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"winpredict/internal/config"
	"winpredict/internal/crawler"
	"winpredict/internal/db"
	"winpredict/internal/logging"
	"winpredict/internal/notify"
	"winpredict/internal/riot"
	"winpredict/internal/storage"
)

func main() {
	os.Exit(run())
}

func run() int {
	envFile := config.LoadEnv()

	configPath := flag.String("config", "", "Optional YAML config file")
	seeds := flag.String("seeds", "", "Comma-separated Riot IDs (Name#Tag) or PUUIDs to start from")
	target := flag.Int("target", -1, "Stop after this many matches (0 = until the frontier empties)")
	workers := flag.Int("workers", 0, "Concurrent match fetches")
	minTier := flag.String("min-tier", "", "Skip players below this tier (e.g. EMERALD)")
	backend := flag.String("state", "", "Checkpoint backend: file or sqlite")
	checkpoint := flag.String("checkpoint", "", "Checkpoint path")
	dataset := flag.String("out", "", "Dataset CSV path")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		return 1
	}
	if *seeds != "" {
		cfg.Crawl.Seeds = strings.Split(*seeds, ",")
	}
	if *target >= 0 {
		cfg.Crawl.Target = *target
	}
	if *workers > 0 {
		cfg.Crawl.Workers = *workers
	}
	if *minTier != "" {
		cfg.Crawl.MinTier = strings.ToUpper(*minTier)
	}
	if *backend != "" {
		cfg.Crawl.StateBackend = *backend
	}
	if *checkpoint != "" {
		cfg.Crawl.CheckpointPath = *checkpoint
	}
	if *dataset != "" {
		cfg.Crawl.DatasetPath = *dataset
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config:\n%v\n", err)
		return 1
	}

	logger, err := logging.New(cfg.LogLevel, cfg.Env)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		return 1
	}
	defer func() { _ = logger.Sync() }()
	log := logger.Sugar()

	if envFile != "" {
		log.Infow("loaded env file", "path", envFile)
	}

	if err := crawl(cfg, logger); err != nil {
		log.Errorw("crawl failed", "error", err)
		return 1
	}
	return 0
}

func crawl(cfg *config.Config, logger *zap.Logger) (err error) {
	log := logger.Sugar()

	client, err := riot.NewClient(cfg.Riot.APIKey,
		riot.WithRegionalURL(cfg.Riot.RegionalURL()),
		riot.WithPlatformURL(cfg.Riot.PlatformURL()),
		riot.WithRateLimits(cfg.Riot.RequestsPerSecond, cfg.Riot.RequestsPer2Min),
		riot.WithTimeout(cfg.Riot.Timeout),
		riot.WithLogger(logger),
	)
	if err != nil {
		return fmt.Errorf("riot client: %w", err)
	}

	validator := riot.NewKeyValidator(riot.WithValidatorURL(cfg.Riot.PlatformURL()))
	startupCtx, cancelStartup := context.WithTimeout(context.Background(), 15*time.Second)
	valid, verr := validator.ValidateKey(startupCtx, cfg.Riot.APIKey)
	cancelStartup()
	switch {
	case verr != nil:
		log.Warnw("could not validate API key, continuing", "error", verr)
	case !valid && !cfg.Discord.KeyRotation():
		return errors.New("RIOT_API_KEY was rejected and Discord key rotation is not configured")
	case !valid:
		log.Warn("API key rejected at startup, the crawl will wait for a replacement")
	}

	store, err := openStore(cfg.Crawl)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, store.Close()) }()

	ds, err := storage.OpenDataset(cfg.Crawl.DatasetPath, cfg.Crawl.Minutes)
	if err != nil {
		return fmt.Errorf("open dataset: %w", err)
	}
	defer func() { err = multierr.Append(err, ds.Close()) }()
	existing, err := ds.ExistingIDs()
	if err != nil {
		return fmt.Errorf("scan dataset: %w", err)
	}
	log.Infow("writing dataset", "path", ds.Path(), "existing_rows", len(existing))

	var sinks []crawler.Sink
	if cfg.Crawl.ArchiveDir != "" {
		archive, aerr := storage.NewArchive(storage.ArchiveConfig{
			BaseDir:        cfg.Crawl.ArchiveDir,
			ColdDir:        cfg.Crawl.ArchiveColdDir,
			MatchesPerFile: cfg.Crawl.MatchesPerFile,
			MaxFileAge:     cfg.Crawl.MaxFileAge,
			Compress:       cfg.Crawl.Compress,
			Logger:         logger,
		})
		if aerr != nil {
			return fmt.Errorf("open archive: %w", aerr)
		}
		defer func() { err = multierr.Append(err, archive.Close()) }()
		sinks = append(sinks, archive)
		log.Infow("archiving raw matches", "dir", cfg.Crawl.ArchiveDir)
	}

	if cfg.Postgres.URL != "" {
		dbCtx, cancelDB := context.WithTimeout(context.Background(), 30*time.Second)
		database, derr := db.New(dbCtx, cfg.Postgres.URL)
		if derr == nil {
			derr = database.CreateTables(dbCtx)
		}
		cancelDB()
		if derr != nil {
			if database != nil {
				database.Close()
			}
			return fmt.Errorf("postgres: %w", derr)
		}
		defer database.Close()
		sinks = append(sinks, database)
		log.Info("mirroring matches to postgres")
	}

	var notifier crawler.Notifier
	var alerter crawler.KeyAlerter
	if cfg.Discord.WebhookURL != "" {
		webhook := notify.NewWebhookClient(cfg.Discord.WebhookURL)
		notifier, alerter = webhook, webhook
	}

	var keys crawler.KeyProvider
	if cfg.Discord.KeyRotation() {
		keys = notify.NewKeyFinder(cfg.Discord.BotToken, cfg.Discord.ChannelID,
			notify.WithPollInterval(cfg.Discord.PollInterval),
			notify.WithKeyFinderLogger(logger))
		log.Infow("key rotation enabled", "channel", cfg.Discord.ChannelID)
	}

	ctx, stop := crawler.SetupSignalHandler(context.Background(), logger, nil)
	defer stop()

	if cfg.Crawl.MetricsAddr != "" {
		srv := serveMetrics(cfg.Crawl.MetricsAddr, logger)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	spiderCfg := crawler.Config{
		Seeds:            cfg.Crawl.Seeds,
		MinTier:          cfg.Crawl.MinTier,
		MatchesPerPlayer: cfg.Crawl.MatchesPerPlayer,
		Workers:          cfg.Crawl.Workers,
		Target:           cfg.Crawl.Target,
		SaveInterval:     cfg.Crawl.SaveInterval,
		MaxFrontier:      cfg.Crawl.MaxFrontier,
		MinGameMinutes:   cfg.Crawl.MinGameMinutes,
		Minutes:          cfg.Crawl.Minutes,
	}
	opts := []crawler.Option{crawler.WithSinks(sinks...), crawler.WithLogger(logger)}
	if notifier != nil {
		opts = append(opts, crawler.WithNotifier(notifier))
	}

	sup := crawler.NewSupervisor(crawler.SupervisorConfig{
		NewSpider: func() *crawler.Spider { return crawler.NewSpider(client, store, ds, spiderCfg, opts...) },
		Client:    client,
		Keys:      keys,
		Validator: validator,
		Alerter:   alerter,
		Logger:    logger,

		MaxKeyRotations: cfg.Discord.MaxKeyRotations,
		KeyWaitTimeout:  cfg.Discord.KeyWaitTimeout,
	})

	sum, err := sup.Run(ctx)
	if err != nil {
		return err
	}
	log.Infow("crawl finished",
		"collected", sum.Collected,
		"total", sum.TotalCollected,
		"interrupted", sum.Interrupted)
	return nil
}

func openStore(cfg config.CrawlConfig) (crawler.Store, error) {
	switch cfg.StateBackend {
	case "sqlite":
		path := cfg.CheckpointPath
		if strings.HasSuffix(path, ".json") {
			path = strings.TrimSuffix(path, ".json") + ".db"
		}
		store, err := crawler.OpenSQLiteStore(path)
		if err != nil {
			return nil, fmt.Errorf("open sqlite state: %w", err)
		}
		return store, nil
	default:
		return crawler.NewFileStore(cfg.CheckpointPath), nil
	}
}

func serveMetrics(addr string, logger *zap.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Sugar().Errorw("metrics server stopped", "error", err)
		}
	}()
	logger.Sugar().Infow("serving metrics", "addr", addr)
	return srv
}
