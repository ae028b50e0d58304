package main

import (
	"context"
	"encoding/csv"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/kejdas/chess-game-analyzer/internal/config"
	"github.com/kejdas/chess-game-analyzer/internal/eco"
	"github.com/kejdas/chess-game-analyzer/internal/engine"
	"github.com/kejdas/chess-game-analyzer/internal/eval"
	"github.com/kejdas/chess-game-analyzer/internal/game"
	"github.com/kejdas/chess-game-analyzer/internal/logx"
)

func main() {
	var (
		configPath    = flag.String("config", "", "HCL config file (optional)")
		fen           = flag.String("fen", "", "position to evaluate")
		pgnPath       = flag.String("pgn", "", "PGN file; every ply of the first game is evaluated")
		driver        = flag.String("driver", "native", "engine driver: native or uci")
		stockfishPath = flag.String("stockfish", "", "path to the UCI engine executable (overrides config)")
		depth         = flag.Int("depth", 0, "search depth (0 = configured default)")
		timeout       = flag.Duration("timeout", 0, "per-position timeout (0 = configured default)")
		concurrency   = flag.Int("concurrency", 1, "positions evaluated in parallel")
		outputPath    = flag.String("output", "", "write results as CSV to this file")
	)
	flag.Parse()

	if (*fen == "") == (*pgnPath == "") {
		fmt.Fprintln(os.Stderr, "Usage: analyze (--fen <FEN> | --pgn <file.pgn>) [options]")
		flag.PrintDefaults()
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	if *stockfishPath != "" {
		cfg.Engine.Path = *stockfishPath
	}
	if *concurrency > 1 && cfg.Engine.PoolSize < *concurrency {
		cfg.Engine.PoolSize = *concurrency
	}

	logger := logx.NewLogger(cfg.Log)

	var analyzer eval.Analyzer
	switch *driver {
	case "native":
		analyzer = eval.NewService(eval.Config{
			EnginePath:       cfg.Engine.Path,
			DefaultDepth:     cfg.Engine.Depth,
			DefaultTimeout:   cfg.Engine.Timeout,
			HandshakeTimeout: cfg.Engine.HandshakeTimeout,
			ShutdownGrace:    cfg.Engine.ShutdownGrace,
			PoolSize:         cfg.Engine.PoolSize,
			EngineOptions:    cfg.Engine.EngineOptions(),
			RequireUCIOK:     cfg.Engine.RequireUCIOK,
			Logger:           logger,
		})
	case "uci":
		analyzer = eval.NewLibraryAnalyzer(eval.LibraryConfig{
			EnginePath:     cfg.Engine.Path,
			DefaultDepth:   cfg.Engine.Depth,
			DefaultTimeout: cfg.Engine.Timeout,
			HashMB:         cfg.Engine.HashMB,
			Threads:        cfg.Engine.Threads,
			Logger:         logger,
		})
	default:
		fmt.Fprintf(os.Stderr, "unknown driver %q (want native or uci)\n", *driver)
		os.Exit(2)
	}
	defer analyzer.Close()

	// Labels are the move that led to each position.
	var labels, fens []string
	if *fen != "" {
		labels, fens = []string{"-"}, []string{*fen}
	} else {
		var book *eco.Database
		if cfg.Games.ECODir != "" {
			book = eco.NewDatabase()
			if err := book.LoadDir(cfg.Games.ECODir); err != nil {
				logger.Warn().Err(err).Msg("opening book not loaded")
				book = nil
			}
		}
		g, err := game.Load(*pgnPath, book)
		if err != nil {
			logger.Fatal().Err(err).Str("pgn", *pgnPath).Msg("load game")
		}
		ev := logger.Info().
			Str("white", g.White).
			Str("black", g.Black).
			Int("plies", len(g.Moves))
		if g.Book != nil {
			ev = ev.Str("eco", g.Book.ECO).Str("opening", g.Book.Name)
		}
		ev.Msg("loaded game")
		fens = g.FENs()
		for i, ply := range g.Moves {
			labels = append(labels, moveLabel(i, ply.Move))
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	reqs := make([]eval.Request, len(fens))
	for i, f := range fens {
		reqs[i] = eval.Request{FEN: f, Depth: *depth, Timeout: *timeout}
	}

	start := time.Now()
	outcomes := eval.EvaluateAll(ctx, analyzer, reqs, *concurrency)

	var out *csv.Writer
	if *outputPath != "" {
		f, err := os.Create(*outputPath)
		if err != nil {
			logger.Fatal().Err(err).Msg("create output file")
		}
		defer f.Close()
		out = csv.NewWriter(f)
		defer out.Flush()
		_ = out.Write([]string{"ply", "move", "fen", "depth", "kind", "value", "best_move", "error"})
	}

	failed := 0
	for i, o := range outcomes {
		status := o.Result.Score.String()
		errText := ""
		if o.Err != nil {
			failed++
			status = engine.KindOf(o.Err).String()
			errText = o.Err.Error()
		}
		fmt.Printf("%-10s %-8s %-6s %s\n", labels[i], status, o.Result.BestMove, fens[i])

		if out != nil {
			_ = out.Write([]string{
				strconv.Itoa(i + 1),
				labels[i],
				fens[i],
				strconv.Itoa(o.Result.Depth),
				o.Result.Score.Kind.String(),
				strconv.Itoa(o.Result.Score.Value),
				o.Result.BestMove,
				errText,
			})
		}
	}

	logger.Info().
		Str("driver", *driver).
		Int("positions", len(outcomes)).
		Int("failed", failed).
		Dur("elapsed", time.Since(start)).
		Msg("analysis complete")

	if failed > 0 {
		if out != nil {
			out.Flush()
		}
		analyzer.Close()
		os.Exit(1)
	}
}

// moveLabel renders a ply as "12.Nf3" or "12...Nc6".
func moveLabel(ply int, san string) string {
	n := ply/2 + 1
	if ply%2 == 0 {
		return fmt.Sprintf("%d.%s", n, san)
	}
	return fmt.Sprintf("%d...%s", n, san)
}
