package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/kejdas/chess-game-analyzer/internal/eco"
	"github.com/kejdas/chess-game-analyzer/internal/engine"
	"github.com/kejdas/chess-game-analyzer/internal/eval"
	"github.com/kejdas/chess-game-analyzer/internal/game"
	"github.com/kejdas/chess-game-analyzer/internal/uci"
)

// AnalyzeRequest is the body of POST /v1/analyze_fen.
type AnalyzeRequest struct {
	FEN            string `json:"fen"`
	Depth          int    `json:"depth,omitempty"`
	TimeoutSeconds int    `json:"timeout_seconds,omitempty"`
}

// EvalResponse is the JSON shape of one evaluation. Score is in pawns from
// the side to move's point of view; exactly one of Score and MateIn is set
// for a successful search that reported a score.
type EvalResponse struct {
	FEN         string   `json:"fen"`
	Score       *float64 `json:"score,omitempty"`
	MateIn      *int     `json:"mate_in,omitempty"`
	Type        string   `json:"type,omitempty"` // cp or mate
	BestMove    string   `json:"best_move,omitempty"`
	Ponder      string   `json:"ponder,omitempty"`
	PV          []string `json:"pv,omitempty"`
	Depth       int      `json:"depth"`
	SearchDepth int      `json:"search_depth,omitempty"`
	Engine      string   `json:"engine,omitempty"`
	Cached      bool     `json:"cached,omitempty"`
	ElapsedMS   int64    `json:"elapsed_ms"`
	Error       string   `json:"error,omitempty"`
	ErrorKind   string   `json:"error_kind,omitempty"`
}

func toEvalResponse(res eval.Result, err error) EvalResponse {
	resp := EvalResponse{
		FEN:       res.FEN,
		Depth:     res.Depth,
		ElapsedMS: res.Elapsed.Milliseconds(),
	}
	if err != nil {
		resp.Error = err.Error()
		resp.ErrorKind = engine.KindOf(err).String()
		return resp
	}

	switch res.Score.Kind {
	case uci.ScoreCentipawns:
		pawns, _ := res.Score.Pawns()
		resp.Score = &pawns
		resp.Type = "cp"
	case uci.ScoreMate:
		n, _ := res.Score.Mate()
		resp.MateIn = &n
		resp.Type = "mate"
	}
	resp.BestMove = res.BestMove
	resp.Ponder = res.Ponder
	resp.PV = res.PV
	resp.SearchDepth = res.SearchDepth
	resp.Engine = res.Engine
	resp.Cached = res.Cached
	return resp
}

// statusFor maps an evaluation failure to an HTTP status.
func statusFor(err error) int {
	switch engine.KindOf(err) {
	case engine.KindInvalidInput:
		return http.StatusBadRequest
	case engine.KindEngineHandshakeTimeout, engine.KindAnalysisTimeout:
		return http.StatusGatewayTimeout
	case engine.KindEngineUnavailable:
		return http.StatusBadGateway
	case engine.KindEngineNotFound, engine.KindSpawnFailed, engine.KindCanceled:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// GameRequest names a game in the archive.
type GameRequest struct {
	Player         string `json:"player"`
	Date           string `json:"date"`
	Filename       string `json:"filename"`
	Depth          int    `json:"depth,omitempty"`
	TimeoutSeconds int    `json:"timeout_seconds,omitempty"`
}

// AnalyzedPly is a ply with the evaluation of the position after it.
type AnalyzedPly struct {
	game.Ply
	Eval EvalResponse `json:"eval"`
}

// GameAnalysisResponse is the body returned by POST /v1/analyze_game.
type GameAnalysisResponse struct {
	White   string        `json:"white"`
	Black   string        `json:"black"`
	Opening game.Opening  `json:"opening"`
	Book    *eco.Opening  `json:"book,omitempty"`
	Moves   []AnalyzedPly `json:"moves"`
	Failed  int           `json:"failed"`
}

type errorResponse struct {
	Error     string `json:"error"`
	ErrorKind string `json:"error_kind,omitempty"`
}

func writeJSON(w http.ResponseWriter, v any) {
	writeJSONStatus(w, http.StatusOK, v)
}

func writeJSONStatus(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSONStatus(w, status, errorResponse{Error: msg})
}
