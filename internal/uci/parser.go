package uci

import (
	"context"
	"fmt"
)

// ScoreKind says which unit a Score is expressed in.
type ScoreKind uint8

const (
	ScoreNone ScoreKind = iota
	ScoreCentipawns
	ScoreMate
)

func (k ScoreKind) String() string {
	switch k {
	case ScoreCentipawns:
		return "cp"
	case ScoreMate:
		return "mate"
	default:
		return "none"
	}
}

// Score is an engine evaluation from the side to move's point of view:
// centipawns, or plies to mate (negative when the side to move is mated).
type Score struct {
	Kind  ScoreKind
	Value int
}

// Centipawns returns a centipawn score.
func Centipawns(cp int) Score { return Score{Kind: ScoreCentipawns, Value: cp} }

// MateIn returns a mate-distance score.
func MateIn(n int) Score { return Score{Kind: ScoreMate, Value: n} }

// Pawns returns the centipawn score in pawn units.
func (s Score) Pawns() (float64, bool) {
	if s.Kind != ScoreCentipawns {
		return 0, false
	}
	return float64(s.Value) / 100, true
}

// Mate returns the mate distance.
func (s Score) Mate() (int, bool) {
	if s.Kind != ScoreMate {
		return 0, false
	}
	return s.Value, true
}

// String renders the score like "+0.45", "-1.20" or "#-3".
func (s Score) String() string {
	switch s.Kind {
	case ScoreCentipawns:
		return fmt.Sprintf("%+.2f", float64(s.Value)/100)
	case ScoreMate:
		return fmt.Sprintf("#%d", s.Value)
	default:
		return "-"
	}
}

// EventKind classifies a parsed output line.
type EventKind uint8

const (
	EventInfo EventKind = iota + 1
	EventBestMove
)

// Event is one structured piece of search output.
type Event struct {
	Kind     EventKind
	Depth    int
	Score    Score
	PV       []string
	BestMove string // empty when the engine reported no move
	Ponder   string
}

// ParseLine classifies a single line of engine output. It returns false for
// lines that carry nothing of interest and for malformed info lines.
//
// Rules, most specific first:
//   - "info depth ... score cp N": info event with a centipawn score. A
//     missing or non-integer N drops the line.
//   - "info depth ... score mate N": info event with a mate score.
//   - any line with a "bestmove" token: terminal event; the following token
//     is the move ("(none)" or a missing token means no move).
func ParseLine(line string) (Event, bool) {
	t := Tokenize(line)
	if len(t) == 0 {
		return Event{}, false
	}

	if t.HasPair("info", "depth") && t.Has("score") {
		ev := Event{Kind: EventInfo}
		switch {
		case t.Has("cp"):
			cp, ok := t.IntAfter("cp")
			if !ok {
				return Event{}, false
			}
			ev.Score = Centipawns(cp)
		case t.Has("mate"):
			n, ok := t.IntAfter("mate")
			if !ok {
				return Event{}, false
			}
			ev.Score = MateIn(n)
		default:
			return Event{}, false
		}
		ev.Depth, _ = t.IntAfter("depth")
		ev.PV = t.Rest("pv")
		return ev, true
	}

	if t.Has("bestmove") {
		ev := Event{Kind: EventBestMove}
		if mv, ok := t.After("bestmove"); ok && mv != "(none)" {
			ev.BestMove = mv
		}
		ev.Ponder, _ = t.After("ponder")
		return ev, true
	}

	return Event{}, false
}

// SearchResult is what a search produced up to and including bestmove.
type SearchResult struct {
	Score    Score
	Depth    int
	PV       []string
	BestMove string
	Ponder   string
	Lines    int // raw lines consumed
}

// LineReader is a deadline-bounded source of engine output lines.
// *engine.Process implements it.
type LineReader interface {
	ReadLine(ctx context.Context) (string, error)
}

// Consume reads search output until the terminal bestmove line. The last
// info line with a parsable score wins. Malformed lines are skipped. If ctx
// expires first, Consume fails with an AnalysisTimeout error and returns no
// partial score or move.
func Consume(ctx context.Context, r LineReader) (SearchResult, error) {
	var res SearchResult
	for {
		line, err := r.ReadLine(ctx)
		if err != nil {
			return SearchResult{}, readError("analyze", analysisTimeout, err)
		}
		res.Lines++

		ev, ok := ParseLine(line)
		if !ok {
			continue
		}
		switch ev.Kind {
		case EventInfo:
			res.Score = ev.Score
			res.Depth = ev.Depth
			res.PV = ev.PV
		case EventBestMove:
			res.BestMove = ev.BestMove
			res.Ponder = ev.Ponder
			return res, nil
		}
	}
}
