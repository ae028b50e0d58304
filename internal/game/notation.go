package game

import (
	"strings"

	"github.com/freeeve/pgn/v3"
)

const (
	files = "abcdefgh"
	ranks = "12345678"
)

func square(sq int) string {
	return string(files[sq%8]) + string(ranks[sq/8])
}

func promoSuffix(mv pgn.Mv) string {
	switch mv.Promo {
	case pgn.PromoQueen:
		return "q"
	case pgn.PromoRook:
		return "r"
	case pgn.PromoBishop:
		return "b"
	case pgn.PromoKnight:
		return "n"
	}
	return ""
}

// moveUCI renders mv in coordinate notation, the form engines print.
func moveUCI(mv pgn.Mv) string {
	return square(int(mv.From)) + square(int(mv.To)) + promoSuffix(mv)
}

// moveSAN renders mv in standard algebraic notation for the position it is
// played from. pos is not modified.
func moveSAN(pos *pgn.GameState, mv pgn.Mv) string {
	var san string
	if mv.Flags == 4 {
		san = "O-O-O"
		if mv.To > mv.From {
			san = "O-O"
		}
		return san + checkSuffix(pos, mv)
	}

	from, to := int(mv.From), int(mv.To)
	piece := pos.PieceAt(mv.From)
	if piece >= 'a' && piece <= 'z' {
		piece -= 32
	}
	isPawn := piece == 'P'
	isCapture := pos.PieceAt(mv.To) != 0 || (isPawn && mv.Flags == 2) // en passant

	switch {
	case isPawn:
		if isCapture {
			san = string(files[from%8]) + "x"
		}
		san += square(to)
		if p := promoSuffix(mv); p != "" {
			san += "=" + strings.ToUpper(p)
		}
	default:
		san = string(piece) + disambiguation(pos, mv)
		if isCapture {
			san += "x"
		}
		san += square(to)
	}
	return san + checkSuffix(pos, mv)
}

// disambiguation returns the file, rank or square needed when other pieces
// of the same type can reach the same square. The file is preferred, then the
// rank, and the full square only when neither alone is unique.
func disambiguation(pos *pgn.GameState, mv pgn.Mv) string {
	from := int(mv.From)
	piece := pos.PieceAt(mv.From)
	rivals, sameFile, sameRank := 0, false, false
	for _, other := range pgn.GenerateLegalMoves(pos) {
		if other.To != mv.To || other.From == mv.From || pos.PieceAt(other.From) != piece {
			continue
		}
		rivals++
		sameFile = sameFile || int(other.From)%8 == from%8
		sameRank = sameRank || int(other.From)/8 == from/8
	}
	switch {
	case rivals == 0:
		return ""
	case !sameFile:
		return string(files[from%8])
	case !sameRank:
		return string(ranks[from/8])
	default:
		return square(from)
	}
}

func checkSuffix(pos *pgn.GameState, mv pgn.Mv) string {
	next := pos.Pack().Unpack()
	if next == nil || pgn.ApplyMove(next, mv) != nil || !next.IsInCheck() {
		return ""
	}
	if len(pgn.GenerateLegalMoves(next)) == 0 {
		return "#"
	}
	return "+"
}
