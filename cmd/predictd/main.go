package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"winpredict/internal/config"
	"winpredict/internal/db"
	"winpredict/internal/logging"
	"winpredict/internal/predict"
	"winpredict/internal/server"
)

func main() {
	os.Exit(run())
}

func run() int {
	config.LoadEnv()

	configPath := flag.String("config", "", "Optional YAML config file")
	addr := flag.String("addr", "", "Listen address (overrides PREDICTD_ADDR)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		return 1
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}

	logger, err := logging.New(cfg.LogLevel, cfg.Env)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		return 1
	}
	defer func() { _ = logger.Sync() }()

	if err := serve(cfg, logger); err != nil {
		logger.Sugar().Errorw("predictd stopped", "error", err)
		return 1
	}
	return 0
}

func serve(cfg *config.Config, logger *zap.Logger) error {
	log := logger.Sugar()

	models := predict.NewHolder(nil)
	if err := models.Reload(registryConfig(cfg, logger)); err != nil {
		// Serve anyway; health reports unavailable until a reload succeeds.
		log.Errorw("no models loaded", "error", err)
	}

	handler := server.New(server.Config{
		Models:         models,
		Logger:         logger,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Timeout:        cfg.Server.WriteTimeout,
	})
	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           handler.Routes(),
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      cfg.Server.WriteTimeout + time.Second,
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	errCh := make(chan error, 1)
	go func() {
		log.Infow("predictd listening", "addr", cfg.Server.Addr)
		errCh <- srv.ListenAndServe()
	}()

	for {
		select {
		case err := <-errCh:
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		case sig := <-sigCh:
			if sig == syscall.SIGHUP {
				log.Info("reloading models")
				if err := models.Reload(registryConfig(cfg, logger)); err != nil {
					log.Errorw("reload failed, keeping previous models", "error", err)
				}
				continue
			}

			log.Infow("shutting down", "signal", sig.String())
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			err := srv.Shutdown(ctx)
			cancel()
			return err
		}
	}
}

// registryConfig resolves champion win rates, preferring the database when
// one is configured, then a JSON file, then no win rates at all.
func registryConfig(cfg *config.Config, logger *zap.Logger) predict.RegistryConfig {
	return predict.RegistryConfig{
		DraftPath:       cfg.Models.DraftPath,
		GameStateRFPath: cfg.Models.GameStateRFPath,
		GameStateLRPath: cfg.Models.GameStateLRPath,
		SnapshotPath:    cfg.Models.SnapshotPath,
		WinRates:        loadWinRates(cfg, logger),
		Logger:          logger,
	}
}

func loadWinRates(cfg *config.Config, logger *zap.Logger) predict.WinRateSource {
	log := logger.Sugar()

	if cfg.Postgres.URL != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		database, err := db.New(ctx, cfg.Postgres.URL)
		if err == nil {
			defer database.Close()
			rates, qerr := database.ChampionWinRates(ctx, cfg.Postgres.WinRatePatch, cfg.Postgres.WinRateMinGames)
			if qerr == nil && len(rates) > 0 {
				log.Infow("loaded win rates from postgres", "champions", len(rates), "patch", cfg.Postgres.WinRatePatch)
				return rates
			}
			err = qerr
		}
		log.Warnw("win rates unavailable from postgres", "error", err)
	}

	if cfg.Models.WinRatesPath != "" {
		rates, err := predict.LoadWinRatesFile(cfg.Models.WinRatesPath)
		if err == nil {
			log.Infow("loaded win rates from file", "champions", len(rates), "path", cfg.Models.WinRatesPath)
			return rates
		}
		log.Warnw("failed to load win rates file", "path", cfg.Models.WinRatesPath, "error", err)
	}

	log.Warn("no champion win rates, draft features default to 0.5")
	return nil
}
