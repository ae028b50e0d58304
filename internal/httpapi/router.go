package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/kejdas/chess-game-analyzer/internal/eco"
	"github.com/kejdas/chess-game-analyzer/internal/eval"
	"github.com/kejdas/chess-game-analyzer/internal/game"
)

const (
	maxDepth       = 100
	maxTimeout     = 5 * time.Minute
	maxRequestBody = 1 << 20
)

// StatsSource reports evaluator statistics. *eval.Service implements it.
type StatsSource interface {
	Stats() eval.Stats
}

// Options wires the router to its backends.
type Options struct {
	Analyzer   eval.Analyzer
	Stats      StatsSource // optional
	GamesDir   string
	Openings   *eco.Database // optional
	BatchLimit int           // concurrent evaluations per analyze_game request
}

// Handler serves the analysis API.
type Handler struct {
	analyzer   eval.Analyzer
	stats      StatsSource
	gamesDir   string
	openings   *eco.Database
	batchLimit int
	log        zerolog.Logger
}

// NewRouter creates the HTTP router.
func NewRouter(log zerolog.Logger, opts Options) http.Handler {
	h := &Handler{
		analyzer:   opts.Analyzer,
		stats:      opts.Stats,
		gamesDir:   opts.GamesDir,
		openings:   opts.Openings,
		batchLimit: opts.BatchLimit,
		log:        log.With().Str("component", "httpapi").Logger(),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", h.health)
	mux.HandleFunc("GET /readyz", h.ready)
	mux.HandleFunc("POST /v1/analyze_fen", h.analyzeFEN)
	mux.HandleFunc("GET /v1/games", h.listGames)
	mux.HandleFunc("POST /v1/load_game", h.loadGame)
	mux.HandleFunc("POST /v1/analyze_game", h.analyzeGame)
	mux.HandleFunc("GET /v1/eval/status", h.evalStatus)

	// Unversioned paths kept for the game viewer.
	mux.HandleFunc("POST /analyze_fen", h.analyzeFEN)
	mux.HandleFunc("POST /load_game", h.loadGame)

	return CORS(RequestID(AccessLog(h.log, mux)))
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *Handler) ready(w http.ResponseWriter, r *http.Request) {
	if h.analyzer == nil || (h.stats != nil && h.stats.Stats().Closed) {
		http.Error(w, "evaluator unavailable", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody))
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is empty")
		}
		return err
	}
	return nil
}

// evalParams checks the caller-side limits on depth and timeout.
func evalParams(depth, timeoutSeconds int) (time.Duration, string) {
	if depth < 0 || depth > maxDepth {
		return 0, "depth must be between 1 and 100"
	}
	timeout := time.Duration(timeoutSeconds) * time.Second
	if timeoutSeconds < 0 || timeout > maxTimeout {
		return 0, "timeout_seconds must be between 1 and 300"
	}
	return timeout, ""
}

func (h *Handler) analyzeFEN(w http.ResponseWriter, r *http.Request) {
	log := zerolog.Ctx(r.Context())

	var req AnalyzeRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	timeout, msg := evalParams(req.Depth, req.TimeoutSeconds)
	if msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	res, err := h.analyzer.Evaluate(r.Context(), eval.Request{
		FEN:     req.FEN,
		Depth:   req.Depth,
		Timeout: timeout,
	})
	resp := toEvalResponse(res, err)
	if err != nil {
		status := statusFor(err)
		log.Warn().Err(err).Int("status", status).Str("fen", req.FEN).Msg("analyze failed")
		writeJSONStatus(w, status, resp)
		return
	}

	log.Info().
		Str("fen", res.FEN).
		Int("depth", res.Depth).
		Str("best_move", res.BestMove).
		Bool("cached", res.Cached).
		Dur("elapsed", res.Elapsed).
		Msg("analyze completed")
	writeJSON(w, resp)
}

func (h *Handler) listGames(w http.ResponseWriter, r *http.Request) {
	idx, err := game.List(h.gamesDir)
	if err != nil {
		zerolog.Ctx(r.Context()).Error().Err(err).Str("dir", h.gamesDir).Msg("list games")
		writeError(w, http.StatusInternalServerError, "cannot read games directory")
		return
	}
	writeJSON(w, idx)
}

// openGame resolves and loads the requested game, writing the error
// response itself when it fails.
func (h *Handler) openGame(w http.ResponseWriter, r *http.Request, req GameRequest) (*game.Game, bool) {
	if req.Player == "" || req.Date == "" || req.Filename == "" {
		writeError(w, http.StatusBadRequest, "Missing parameters")
		return nil, false
	}
	path, err := game.SafeJoin(h.gamesDir, req.Player, req.Date, req.Filename)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid file path")
		return nil, false
	}
	g, err := game.Load(path, h.openings)
	switch {
	case err == nil:
		return g, true
	case errors.Is(err, game.ErrNotFound):
		writeError(w, http.StatusNotFound, "Game not found")
	case errors.Is(err, game.ErrEmpty):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
	default:
		zerolog.Ctx(r.Context()).Error().Err(err).Str("path", path).Msg("load game")
		writeError(w, http.StatusInternalServerError, "cannot load game")
	}
	return nil, false
}

func (h *Handler) loadGame(w http.ResponseWriter, r *http.Request) {
	var req GameRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	g, ok := h.openGame(w, r, req)
	if !ok {
		return
	}
	writeJSON(w, g)
}

func (h *Handler) analyzeGame(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	var req GameRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	timeout, msg := evalParams(req.Depth, req.TimeoutSeconds)
	if msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}
	g, ok := h.openGame(w, r, req)
	if !ok {
		return
	}

	reqs := make([]eval.Request, len(g.Moves))
	for i, ply := range g.Moves {
		reqs[i] = eval.Request{FEN: ply.FEN, Depth: req.Depth, Timeout: timeout}
	}
	outcomes := eval.EvaluateAll(r.Context(), h.analyzer, reqs, h.batchLimit)

	resp := GameAnalysisResponse{
		White:   g.White,
		Black:   g.Black,
		Opening: g.Opening,
		Book:    g.Book,
		Moves:   make([]AnalyzedPly, len(g.Moves)),
	}
	for i, ply := range g.Moves {
		resp.Moves[i] = AnalyzedPly{Ply: ply, Eval: toEvalResponse(outcomes[i].Result, outcomes[i].Err)}
		if outcomes[i].Err != nil {
			resp.Failed++
		}
	}

	zerolog.Ctx(r.Context()).Info().
		Str("file", req.Filename).
		Int("plies", len(g.Moves)).
		Int("failed", resp.Failed).
		Dur("elapsed", time.Since(start)).
		Msg("game analysis completed")
	writeJSON(w, resp)
}

func (h *Handler) evalStatus(w http.ResponseWriter, r *http.Request) {
	if h.stats == nil {
		writeJSON(w, map[string]any{
			"enabled": false,
			"error":   "evaluator statistics not available",
		})
		return
	}
	writeJSON(w, map[string]any{
		"enabled": true,
		"stats":   h.stats.Stats(),
	})
}
