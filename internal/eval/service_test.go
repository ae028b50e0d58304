package eval_test

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/kejdas/chess-game-analyzer/internal/engine"
	"github.com/kejdas/chess-game-analyzer/internal/enginetest"
	"github.com/kejdas/chess-game-analyzer/internal/eval"
	"github.com/kejdas/chess-game-analyzer/internal/store"
	"github.com/kejdas/chess-game-analyzer/internal/uci"
)

const startFEN = "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1"

func TestMain(m *testing.M) {
	enginetest.Main()
	os.Exit(m.Run())
}

func newService(t *testing.T, stub enginetest.Engine, mutate ...func(*eval.Config)) *eval.Service {
	t.Helper()
	cfg := eval.Config{
		EnginePath:     stub.Path,
		EngineArgs:     stub.Args,
		EngineEnv:      stub.Env,
		DefaultTimeout: 5 * time.Second,
		ShutdownGrace:  200 * time.Millisecond,
		Logger:         zerolog.Nop(),
	}
	for _, m := range mutate {
		m(&cfg)
	}
	svc := eval.NewService(cfg)
	t.Cleanup(func() { svc.Close() })
	return svc
}

func TestEvaluateBestMove(t *testing.T) {
	stub := enginetest.New(t, enginetest.ModeNormal, "bestmove e2e4")
	svc := newService(t, stub)

	res, err := svc.Evaluate(context.Background(), eval.Request{FEN: startFEN})
	require.NoError(t, err)
	require.Equal(t, "e2e4", res.BestMove)
	require.Equal(t, eval.DefaultDepth, res.Depth)
	require.Equal(t, uci.ScoreNone, res.Score.Kind)
	require.Equal(t, "StubFish 1.0", res.Engine)

	stub.RequireGone(t)
}

func TestEvaluateLastScoreWins(t *testing.T) {
	stub := enginetest.New(t, enginetest.ModeNormal,
		"info depth 12 score cp -120 pv e7e5",
		"info depth score cp",
		"info depth 14 score cp 45 pv d7d5 c2c4",
		"bestmove d7d5 ponder c2c4",
	)
	svc := newService(t, stub)

	res, err := svc.Evaluate(context.Background(), eval.Request{FEN: startFEN, Depth: 14})
	require.NoError(t, err)
	pawns, ok := res.Score.Pawns()
	require.True(t, ok)
	require.InDelta(t, 0.45, pawns, 1e-9)
	require.Equal(t, "d7d5", res.BestMove)
	require.Equal(t, "c2c4", res.Ponder)
	require.Equal(t, 14, res.SearchDepth)
	require.Equal(t, []string{"d7d5", "c2c4"}, res.PV)
}

func TestEvaluateMate(t *testing.T) {
	stub := enginetest.New(t, enginetest.ModeNormal,
		"info depth 20 score mate 3 pv h5f7",
		"bestmove h5f7",
	)
	svc := newService(t, stub)

	res, err := svc.Evaluate(context.Background(), eval.Request{FEN: startFEN, Depth: 20})
	require.NoError(t, err)
	n, ok := res.Score.Mate()
	require.True(t, ok)
	require.Equal(t, 3, n)
	_, ok = res.Score.Pawns()
	require.False(t, ok)
	require.Equal(t, "h5f7", res.BestMove)
}

func TestEvaluateEmptyFENNeverSpawns(t *testing.T) {
	stub := enginetest.New(t, enginetest.ModeNormal)
	svc := newService(t, stub)

	for _, fen := range []string{"", "   "} {
		_, err := svc.Evaluate(context.Background(), eval.Request{FEN: fen})
		require.ErrorIs(t, err, engine.ErrInvalidInput)
	}
	require.False(t, stub.Spawned())
	require.Equal(t, int64(0), svc.Stats().Pool.Spawned)
}

func TestEvaluateEngineNotFound(t *testing.T) {
	svc := eval.NewService(eval.Config{
		EnginePath: filepath.Join(t.TempDir(), "no-such-engine"),
		Logger:     zerolog.Nop(),
	})
	defer svc.Close()

	_, err := svc.Evaluate(context.Background(), eval.Request{FEN: startFEN})
	require.ErrorIs(t, err, engine.ErrEngineNotFound)
	require.Equal(t, int64(1), svc.Stats().Failures["EngineNotFound"])
}

func TestEvaluateSpawnFailed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "garbage-engine")
	require.NoError(t, os.WriteFile(path, []byte{0x00, 0x01, 0x02, 0x03}, 0o755))

	svc := eval.NewService(eval.Config{EnginePath: path, Logger: zerolog.Nop()})
	defer svc.Close()

	_, err := svc.Evaluate(context.Background(), eval.Request{FEN: startFEN})
	require.ErrorIs(t, err, engine.ErrSpawnFailed)
}

func TestEvaluateHandshakeTimeout(t *testing.T) {
	stub := enginetest.New(t, enginetest.ModeSilent)
	svc := newService(t, stub)

	timeout := 400 * time.Millisecond
	start := time.Now()
	_, err := svc.Evaluate(context.Background(), eval.Request{FEN: startFEN, Timeout: timeout})
	require.ErrorIs(t, err, engine.ErrEngineHandshakeTimeout)
	require.Less(t, time.Since(start), timeout+time.Second)

	stub.RequireGone(t)
}

func TestEvaluateHandshakeTimeoutKillsStubbornEngine(t *testing.T) {
	stub := enginetest.New(t, enginetest.ModeStubborn)
	svc := newService(t, stub)

	_, err := svc.Evaluate(context.Background(), eval.Request{FEN: startFEN, Timeout: 300 * time.Millisecond})
	require.ErrorIs(t, err, engine.ErrEngineHandshakeTimeout)

	stub.RequireGone(t)
}

func TestEvaluateAnalysisTimeout(t *testing.T) {
	stub := enginetest.New(t, enginetest.ModeNormal, "info depth 10 score cp 35")
	svc := newService(t, stub)

	res, err := svc.Evaluate(context.Background(), eval.Request{FEN: startFEN, Timeout: 500 * time.Millisecond})
	require.ErrorIs(t, err, engine.ErrAnalysisTimeout)
	require.Equal(t, uci.ScoreNone, res.Score.Kind, "no partial score")
	require.Empty(t, res.BestMove)

	stub.RequireGone(t)
}

func TestEvaluateEngineCrash(t *testing.T) {
	stub := enginetest.New(t, enginetest.ModeCrash, "info depth 3 score cp 12")
	svc := newService(t, stub)

	_, err := svc.Evaluate(context.Background(), eval.Request{FEN: startFEN})
	require.ErrorIs(t, err, engine.ErrEngineUnavailable)

	stub.RequireGone(t)
}

func TestEvaluateCanceled(t *testing.T) {
	stub := enginetest.New(t, enginetest.ModeNormal, "info depth 10 score cp 35")
	svc := newService(t, stub)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(300*time.Millisecond, cancel)

	_, err := svc.Evaluate(ctx, eval.Request{FEN: startFEN})
	require.ErrorIs(t, err, engine.ErrCanceled)

	stub.RequireGone(t)
}

func TestPoolReusesHealthyProcess(t *testing.T) {
	stub := enginetest.New(t, enginetest.ModeNormal)
	svc := newService(t, stub, func(c *eval.Config) { c.PoolSize = 1 })

	for i := 0; i < 3; i++ {
		res, err := svc.Evaluate(context.Background(), eval.Request{FEN: startFEN, Depth: i + 1})
		require.NoError(t, err)
		require.Equal(t, "e2e4", res.BestMove)
	}

	st := svc.Stats().Pool
	require.Equal(t, int64(1), st.Spawned)
	require.Equal(t, int64(2), st.Reused)
	require.Equal(t, 1, st.Idle)

	require.NoError(t, svc.Close())
	stub.RequireGone(t)

	_, err := svc.Evaluate(context.Background(), eval.Request{FEN: startFEN})
	require.ErrorIs(t, err, engine.ErrEngineUnavailable)
}

func TestPoolDropsFailedProcess(t *testing.T) {
	stub := enginetest.New(t, enginetest.ModeNormal, "info depth 10 score cp 35")
	svc := newService(t, stub, func(c *eval.Config) { c.PoolSize = 2 })

	_, err := svc.Evaluate(context.Background(), eval.Request{FEN: startFEN, Timeout: 300 * time.Millisecond})
	require.ErrorIs(t, err, engine.ErrAnalysisTimeout)

	st := svc.Stats().Pool
	require.Zero(t, st.Idle)
	require.Zero(t, st.InUse)
	stub.RequireGone(t)
}

func TestPoolExhaustedBeforeDeadline(t *testing.T) {
	stub := enginetest.New(t, enginetest.ModeNormal, "info depth 10 score cp 35")
	svc := newService(t, stub, func(c *eval.Config) { c.PoolSize = 1 })

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		svc.Evaluate(context.Background(), eval.Request{FEN: startFEN, Timeout: time.Second})
	}()
	require.Eventually(t, func() bool { return svc.Stats().Pool.InUse == 1 }, 2*time.Second, 5*time.Millisecond)

	_, err := svc.Evaluate(context.Background(), eval.Request{FEN: startFEN, Timeout: 100 * time.Millisecond})
	require.ErrorIs(t, err, engine.ErrEngineUnavailable)
	wg.Wait()
}

func TestCloseStopsInFlightEvaluation(t *testing.T) {
	stub := enginetest.New(t, enginetest.ModeNormal, "info depth 10 score cp 35")
	svc := newService(t, stub, func(c *eval.Config) { c.PoolSize = 1 })

	errc := make(chan error, 1)
	go func() {
		_, err := svc.Evaluate(context.Background(), eval.Request{FEN: startFEN, Timeout: 10 * time.Second})
		errc <- err
	}()
	require.Eventually(t, func() bool { return svc.Stats().Pool.InUse == 1 }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, svc.Close())
	select {
	case err := <-errc:
		require.ErrorIs(t, err, engine.ErrEngineUnavailable)
	case <-time.After(3 * time.Second):
		t.Fatal("evaluation did not stop after Close")
	}
	stub.RequireGone(t)
}

func TestEvaluateUsesCache(t *testing.T) {
	stub := enginetest.New(t, enginetest.ModeNormal)
	cache := store.NewResultCache(0)
	svc := newService(t, stub, func(c *eval.Config) { c.Cache = cache })

	res, err := svc.Evaluate(context.Background(), eval.Request{FEN: startFEN, Depth: 8})
	require.NoError(t, err)
	require.False(t, res.Cached)

	res, err = svc.Evaluate(context.Background(), eval.Request{FEN: startFEN, Depth: 8})
	require.NoError(t, err)
	require.True(t, res.Cached)
	require.Equal(t, uci.Centipawns(20), res.Score)
	require.Equal(t, "e2e4", res.BestMove)

	st := svc.Stats()
	require.Equal(t, int64(1), st.Pool.Spawned)
	require.Equal(t, int64(1), st.CacheHits)
	require.Equal(t, 1, st.Cache.Size)
}

func TestEvaluateSendsEngineOptions(t *testing.T) {
	stub := enginetest.New(t, enginetest.ModeNormal)
	svc := newService(t, stub, func(c *eval.Config) {
		c.EngineOptions = map[string]string{"Threads": "1", "Hash": "16"}
		c.RequireUCIOK = true
	})

	res, err := svc.Evaluate(context.Background(), eval.Request{FEN: startFEN})
	require.NoError(t, err)
	require.Equal(t, "e2e4", res.BestMove)
}
