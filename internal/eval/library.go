package eval

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	fuci "github.com/freeeve/uci"
	"github.com/rs/zerolog"

	"github.com/kejdas/chess-game-analyzer/internal/engine"
	"github.com/kejdas/chess-game-analyzer/internal/uci"
)

// LibraryConfig configures a LibraryAnalyzer.
type LibraryConfig struct {
	EnginePath     string
	DefaultDepth   int
	DefaultTimeout time.Duration
	HashMB         int
	Threads        int
	Logger         zerolog.Logger
}

// LibraryAnalyzer drives the engine through github.com/freeeve/uci instead of
// the native session. It starts one engine per request and closes it when
// the search finishes or the deadline passes. Used to cross-check the native
// driver.
type LibraryAnalyzer struct {
	cfg LibraryConfig
	log zerolog.Logger
}

// NewLibraryAnalyzer creates a LibraryAnalyzer.
func NewLibraryAnalyzer(cfg LibraryConfig) *LibraryAnalyzer {
	if cfg.DefaultDepth <= 0 {
		cfg.DefaultDepth = DefaultDepth
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = DefaultTimeout
	}
	return &LibraryAnalyzer{
		cfg: cfg,
		log: cfg.Logger.With().Str("component", "eval").Str("driver", "uci").Logger(),
	}
}

type libraryOutcome struct {
	results *fuci.Results
	err     error
}

// Evaluate implements Analyzer.
func (a *LibraryAnalyzer) Evaluate(ctx context.Context, req Request) (Result, error) {
	start := time.Now()
	req.FEN = strings.TrimSpace(req.FEN)
	if req.Depth == 0 {
		req.Depth = a.cfg.DefaultDepth
	}
	if req.Timeout <= 0 {
		req.Timeout = a.cfg.DefaultTimeout
	}
	res := Result{FEN: req.FEN, Depth: req.Depth}
	finish := func(err error) (Result, error) {
		res.Elapsed = time.Since(start)
		return res, err
	}

	if req.FEN == "" {
		return finish(engine.NewError(engine.KindInvalidInput, "evaluate", errors.New("fen is required")))
	}
	if req.Depth < 0 {
		return finish(engine.NewError(engine.KindInvalidInput, "evaluate", errors.New("depth must be positive")))
	}
	if _, err := exec.LookPath(a.cfg.EnginePath); err != nil || a.cfg.EnginePath == "" {
		return finish(engine.NewError(engine.KindEngineNotFound, "start", fmt.Errorf("engine %q not found", a.cfg.EnginePath)))
	}

	ctx, cancel := context.WithTimeout(ctx, req.Timeout)
	defer cancel()

	eng, err := fuci.NewEngine(a.cfg.EnginePath)
	if err != nil {
		return finish(engine.NewError(engine.KindSpawnFailed, "start", err))
	}
	defer eng.Close()

	done := make(chan libraryOutcome, 1)
	go func() {
		opts := fuci.Options{
			Hash:    a.cfg.HashMB,
			Threads: a.cfg.Threads,
			MultiPV: 1,
			Ponder:  false,
			OwnBook: false,
		}
		if err := eng.SetOptions(opts); err != nil {
			done <- libraryOutcome{err: fmt.Errorf("set options: %w", err)}
			return
		}
		if err := eng.SetFEN(req.FEN); err != nil {
			done <- libraryOutcome{err: fmt.Errorf("set FEN: %w", err)}
			return
		}
		// Every depth is kept: a mated or stalemated position only reports
		// depth 0.
		results, err := eng.GoDepth(req.Depth)
		done <- libraryOutcome{results: results, err: err}
	}()

	var out libraryOutcome
	select {
	case out = <-done:
	case <-ctx.Done():
		kind := engine.KindAnalysisTimeout
		if errors.Is(ctx.Err(), context.Canceled) {
			kind = engine.KindCanceled
		}
		return finish(engine.NewError(kind, "analyze", ctx.Err()))
	}
	if out.err != nil {
		return finish(engine.NewError(engine.KindEngineUnavailable, "analyze", out.err))
	}
	if out.results == nil {
		return finish(engine.NewError(engine.KindEngineUnavailable, "analyze", errors.New("no results from engine")))
	}
	res.BestMove = moveOrNone(out.results.BestMove)
	if len(out.results.Results) == 0 {
		return finish(nil)
	}

	best := out.results.Results[0]
	for _, r := range out.results.Results {
		if r.Depth > best.Depth {
			best = r
		}
	}
	if best.Mate {
		res.Score = uci.MateIn(best.Score)
	} else {
		res.Score = uci.Centipawns(best.Score)
	}
	res.SearchDepth = best.Depth
	res.PV = best.BestMoves
	if res.BestMove == "" && len(best.BestMoves) > 0 {
		res.BestMove = moveOrNone(best.BestMoves[0])
	}

	a.log.Debug().Str("fen", req.FEN).Stringer("score", res.Score).Str("bestmove", res.BestMove).Msg("evaluated")
	return finish(nil)
}

// moveOrNone maps the engine's "(none)" to no move.
func moveOrNone(mv string) string {
	if mv == "(none)" {
		return ""
	}
	return mv
}

// Close implements Analyzer. Engines are per request, so there is nothing
// to release.
func (a *LibraryAnalyzer) Close() error { return nil }
