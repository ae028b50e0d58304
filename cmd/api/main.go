package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kejdas/chess-game-analyzer/internal/config"
	"github.com/kejdas/chess-game-analyzer/internal/eco"
	"github.com/kejdas/chess-game-analyzer/internal/eval"
	"github.com/kejdas/chess-game-analyzer/internal/httpapi"
	"github.com/kejdas/chess-game-analyzer/internal/logx"
	"github.com/kejdas/chess-game-analyzer/internal/store"
)

func main() {
	var (
		configPath = flag.String("config", "", "HCL config file (optional)")

		// Server
		addr     = flag.String("addr", config.DefaultAddr, "listen address")
		gamesDir = flag.String("games-dir", config.DefaultGamesDir, "directory of <player>/<date>/*.pgn games")
		ecoDir   = flag.String("eco-dir", "", "directory of opening TSV files for classification")

		// Engine
		stockfishPath = flag.String("stockfish", config.DefaultEnginePath, "path to the UCI engine executable")
		depth         = flag.Int("depth", config.DefaultDepth, "default search depth")
		timeout       = flag.Duration("timeout", config.DefaultTimeout, "default per-request timeout")
		poolSize      = flag.Int("pool-size", 0, "warm engine processes to keep (0 = one process per request)")
		threads       = flag.Int("threads", 0, "engine Threads option (0 = engine default)")
		hashMB        = flag.Int("hash", 0, "engine Hash option in MB (0 = engine default)")

		// Cache
		cacheFile = flag.String("cache-file", "", "evaluation cache file (.csv, .csv.gz or .csv.zst)")

		logLevel = flag.String("log-level", config.DefaultLogLevel, "log level")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	// Flags given explicitly win over file and environment.
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "addr":
			cfg.Server.Addr = *addr
		case "games-dir":
			cfg.Games.Dir = *gamesDir
		case "eco-dir":
			cfg.Games.ECODir = *ecoDir
		case "stockfish":
			cfg.Engine.Path = *stockfishPath
		case "depth":
			cfg.Engine.Depth = *depth
		case "timeout":
			cfg.Engine.Timeout = *timeout
		case "pool-size":
			cfg.Engine.PoolSize = *poolSize
		case "threads":
			cfg.Engine.Threads = *threads
		case "hash":
			cfg.Engine.HashMB = *hashMB
		case "cache-file":
			cfg.Cache.File = *cacheFile
		case "log-level":
			cfg.Log.Level = *logLevel
		}
	})
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger := logx.NewLogger(cfg.Log)

	cache := store.NewResultCache(cfg.Cache.MaxEntries)
	if cfg.Cache.File != "" {
		n, err := cache.LoadFromFile(cfg.Cache.File)
		if err != nil {
			logger.Warn().Err(err).Str("file", cfg.Cache.File).Msg("failed to load evaluation cache")
		} else {
			logger.Info().Int("entries", n).Str("file", cfg.Cache.File).Msg("evaluation cache loaded")
		}
	}

	var openings *eco.Database
	if cfg.Games.ECODir != "" {
		openings = eco.NewDatabase()
		if err := openings.LoadDir(cfg.Games.ECODir); err != nil {
			logger.Warn().Err(err).Str("dir", cfg.Games.ECODir).Msg("opening book not loaded")
			openings = nil
		} else {
			logger.Info().Int("openings", openings.Count()).Msg("opening book loaded")
		}
	}

	svc := eval.NewService(eval.Config{
		EnginePath:       cfg.Engine.Path,
		DefaultDepth:     cfg.Engine.Depth,
		DefaultTimeout:   cfg.Engine.Timeout,
		HandshakeTimeout: cfg.Engine.HandshakeTimeout,
		ShutdownGrace:    cfg.Engine.ShutdownGrace,
		PoolSize:         cfg.Engine.PoolSize,
		EngineOptions:    cfg.Engine.EngineOptions(),
		RequireUCIOK:     cfg.Engine.RequireUCIOK,
		Logger:           logger,
		Cache:            cache,
	})

	logger.Info().
		Str("engine", cfg.Engine.Path).
		Int("depth", cfg.Engine.Depth).
		Dur("timeout", cfg.Engine.Timeout).
		Int("pool_size", cfg.Engine.PoolSize).
		Msg("evaluation service ready")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr: cfg.Server.Addr,
		Handler: httpapi.NewRouter(logger, httpapi.Options{
			Analyzer:   svc,
			Stats:      svc,
			GamesDir:   cfg.Games.Dir,
			Openings:   openings,
			BatchLimit: max(cfg.Engine.PoolSize, 1),
		}),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 10 * time.Minute, // analyze_game runs one search per ply
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("api listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("api server")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("http server shutdown error")
	}

	if err := svc.Close(); err != nil {
		logger.Warn().Err(err).Msg("evaluation service close error")
	}

	if cfg.Cache.File != "" {
		n, err := cache.SaveToFile(cfg.Cache.File)
		if err != nil {
			logger.Error().Err(err).Str("file", cfg.Cache.File).Msg("evaluation cache save error")
		} else {
			logger.Info().Int("entries", n).Str("file", cfg.Cache.File).Msg("evaluation cache saved")
		}
	}

	logger.Info().Msg("shutdown complete")
}
