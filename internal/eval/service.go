// Package eval evaluates chess positions with a UCI engine: one request at a
// time per engine process, bounded by a deadline, with the process torn down
// or returned to its pool before the call returns.
package eval

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/kejdas/chess-game-analyzer/internal/engine"
	"github.com/kejdas/chess-game-analyzer/internal/store"
	"github.com/kejdas/chess-game-analyzer/internal/uci"
)

// Defaults applied when Config leaves a field zero.
const (
	DefaultDepth   = 15
	DefaultTimeout = 10 * time.Second
)

// Request asks for one position to be evaluated. Zero Depth and Timeout take
// the service defaults.
type Request struct {
	FEN     string
	Depth   int
	Timeout time.Duration
}

// Result is the outcome of an evaluation. On failure only the request fields
// and Elapsed are set; the error is returned alongside.
type Result struct {
	FEN         string
	Depth       int // requested depth
	Score       uci.Score
	SearchDepth int // depth of the last scored info line
	PV          []string
	BestMove    string
	Ponder      string
	Engine      string
	Elapsed     time.Duration
	Cached      bool
}

// Analyzer evaluates positions. *Service and *LibraryAnalyzer implement it.
type Analyzer interface {
	Evaluate(ctx context.Context, req Request) (Result, error)
	Close() error
}

// Config configures a Service.
type Config struct {
	EnginePath string
	EngineArgs []string // tests only; real engines take none
	EngineEnv  []string

	DefaultDepth     int
	DefaultTimeout   time.Duration
	HandshakeTimeout time.Duration // 0 = half of the request timeout
	ShutdownGrace    time.Duration
	PoolSize         int

	EngineOptions map[string]string
	RequireUCIOK  bool

	Logger zerolog.Logger
	Cache  *store.ResultCache // optional
}

// Service is the entry point for evaluations. It is safe for concurrent use;
// each in-flight request owns its engine process exclusively.
type Service struct {
	cfg   Config
	log   zerolog.Logger
	pool  *Pool
	cache *store.ResultCache

	closed      atomic.Bool
	evaluations int64
	cacheHits   int64
	failures    [engine.KindCanceled + 1]int64
}

// NewService creates a service. No engine is started until the first
// evaluation.
func NewService(cfg Config) *Service {
	if cfg.DefaultDepth <= 0 {
		cfg.DefaultDepth = DefaultDepth
	}
	if cfg.DefaultTimeout <= 0 {
		cfg.DefaultTimeout = DefaultTimeout
	}
	log := cfg.Logger.With().Str("component", "eval").Logger()

	pool := NewPool(PoolConfig{
		Process: engine.ProcessConfig{
			Path:          cfg.EnginePath,
			Args:          cfg.EngineArgs,
			Env:           cfg.EngineEnv,
			ShutdownGrace: cfg.ShutdownGrace,
			Logger:        cfg.Logger.With().Str("component", "engine").Logger(),
		},
		Size:   cfg.PoolSize,
		Logger: cfg.Logger,
	})

	return &Service{
		cfg:   cfg,
		log:   log,
		pool:  pool,
		cache: cfg.Cache,
	}
}

// Evaluate runs one analysis: validate, check the cache, acquire a process,
// handshake under a sub-deadline, search to the requested depth, and release
// the process. The process is shut down on every failure path before
// Evaluate returns.
func (s *Service) Evaluate(ctx context.Context, req Request) (res Result, err error) {
	start := time.Now()
	req = s.normalize(req)
	res = Result{FEN: req.FEN, Depth: req.Depth}

	defer func() {
		res.Elapsed = time.Since(start)
		atomic.AddInt64(&s.evaluations, 1)
		if err != nil {
			s.countFailure(err)
			s.log.Warn().Err(err).Str("fen", req.FEN).Int("depth", req.Depth).
				Dur("elapsed", res.Elapsed).Msg("evaluation failed")
		}
	}()

	if req.FEN == "" {
		return res, engine.NewError(engine.KindInvalidInput, "evaluate", errors.New("fen is required"))
	}
	if req.Depth < 0 {
		return res, engine.NewError(engine.KindInvalidInput, "evaluate", errors.New("depth must be positive"))
	}
	if s.closed.Load() {
		return res, engine.NewError(engine.KindEngineUnavailable, "evaluate", errors.New("service is closed"))
	}

	key := store.Key{FEN: req.FEN, Depth: req.Depth}
	if s.cache != nil {
		if e, ok := s.cache.Get(key); ok {
			atomic.AddInt64(&s.cacheHits, 1)
			res.Score = e.Score
			res.BestMove = e.BestMove
			res.Cached = true
			return res, nil
		}
	}

	ctx, cancel := context.WithTimeout(ctx, req.Timeout)
	defer cancel()

	proc, reused, err := s.pool.Acquire(ctx)
	if err != nil {
		return res, err
	}
	healthy := false
	defer func() { s.pool.Release(proc, healthy) }()

	session := uci.NewSession(proc, uci.SessionConfig{
		Options:      s.cfg.EngineOptions,
		RequireUCIOK: s.cfg.RequireUCIOK,
		Logger:       s.log,
	})

	hsCtx, hsCancel := context.WithTimeout(ctx, s.handshakeBudget(req.Timeout))
	err = session.Handshake(hsCtx)
	hsCancel()
	if err != nil {
		return res, err
	}

	out, err := session.Analyze(ctx, req.FEN, req.Depth)
	if err != nil {
		return res, err
	}
	healthy = true

	res.Score = out.Score
	res.SearchDepth = out.Depth
	res.PV = out.PV
	res.BestMove = out.BestMove
	res.Ponder = out.Ponder
	res.Engine = session.EngineName()

	if s.cache != nil && out.Score.Kind != uci.ScoreNone {
		s.cache.Put(key, store.Entry{Score: out.Score, BestMove: out.BestMove})
	}

	s.log.Debug().
		Str("fen", req.FEN).
		Int("depth", req.Depth).
		Stringer("score", out.Score).
		Str("bestmove", out.BestMove).
		Bool("reused", reused).
		Dur("elapsed", time.Since(start)).
		Msg("evaluated")
	return res, nil
}

func (s *Service) normalize(req Request) Request {
	req.FEN = strings.TrimSpace(req.FEN)
	if req.Depth == 0 {
		req.Depth = s.cfg.DefaultDepth
	}
	if req.Timeout <= 0 {
		req.Timeout = s.cfg.DefaultTimeout
	}
	return req
}

// handshakeBudget leaves the rest of the request timeout for the search.
func (s *Service) handshakeBudget(timeout time.Duration) time.Duration {
	if hs := s.cfg.HandshakeTimeout; hs > 0 && hs < timeout {
		return hs
	}
	return timeout / 2
}

func (s *Service) countFailure(err error) {
	k := engine.KindOf(err)
	if int(k) < len(s.failures) {
		atomic.AddInt64(&s.failures[k], 1)
	}
}

// Close shuts down every engine process and fails later evaluations with
// EngineUnavailable. In-flight evaluations fail as their process goes away.
func (s *Service) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	return s.pool.Close()
}

// Stats is a snapshot of service activity.
type Stats struct {
	Evaluations int64             `json:"evaluations"`
	CacheHits   int64             `json:"cache_hits"`
	Failures    map[string]int64  `json:"failures"`
	Pool        PoolStats         `json:"pool"`
	Cache       *store.CacheStats `json:"cache,omitempty"`
	Closed      bool              `json:"closed"`
}

// Stats returns current counters.
func (s *Service) Stats() Stats {
	st := Stats{
		Evaluations: atomic.LoadInt64(&s.evaluations),
		CacheHits:   atomic.LoadInt64(&s.cacheHits),
		Failures:    make(map[string]int64),
		Pool:        s.pool.Stats(),
		Closed:      s.closed.Load(),
	}
	for k := range s.failures {
		if n := atomic.LoadInt64(&s.failures[k]); n > 0 {
			st.Failures[engine.Kind(k).String()] = n
		}
	}
	if s.cache != nil {
		cs := s.cache.Stats()
		st.Cache = &cs
	}
	return st
}
