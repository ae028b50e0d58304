// Package game reads the PGN game archive: a directory of
// <player>/<date>/<file>.pgn files. It replays games into per-ply FENs for
// the evaluator but never talks to an engine itself.
package game

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/freeeve/pgn/v3"

	"github.com/kejdas/chess-game-analyzer/internal/eco"
)

var (
	// ErrUnsafePath is returned when a requested path escapes the archive.
	ErrUnsafePath = errors.New("unsafe path")
	// ErrNotFound is returned for games that do not exist.
	ErrNotFound = errors.New("game not found")
	// ErrEmpty is returned for files without a parsable game.
	ErrEmpty = errors.New("no game in file")
)

// Index lists games as player -> date -> file names.
type Index map[string]map[string][]string

// List scans dir two levels deep for .pgn files. Entries that are not
// directories at the player and date levels are ignored.
func List(dir string) (Index, error) {
	players, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	idx := make(Index)
	for _, p := range players {
		if !p.IsDir() {
			continue
		}
		dates, err := os.ReadDir(filepath.Join(dir, p.Name()))
		if err != nil {
			return nil, err
		}
		idx[p.Name()] = make(map[string][]string)
		for _, d := range dates {
			if !d.IsDir() {
				continue
			}
			entries, err := os.ReadDir(filepath.Join(dir, p.Name(), d.Name()))
			if err != nil {
				return nil, err
			}
			files := []string{}
			for _, f := range entries {
				if !f.IsDir() && strings.HasSuffix(f.Name(), ".pgn") {
					files = append(files, f.Name())
				}
			}
			sort.Strings(files)
			idx[p.Name()][d.Name()] = files
		}
	}
	return idx, nil
}

// SafeJoin joins parts onto base and rejects results outside base.
func SafeJoin(base string, parts ...string) (string, error) {
	absBase, err := filepath.Abs(base)
	if err != nil {
		return "", err
	}
	joined := filepath.Join(append([]string{absBase}, parts...)...)
	rel, err := filepath.Rel(absBase, joined)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrUnsafePath, filepath.Join(parts...))
	}
	return joined, nil
}

// Opening is the opening named in the game's tags.
type Opening struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// Ply is one half-move and the position after it.
type Ply struct {
	Move string `json:"move"` // SAN
	UCI  string `json:"uci"`
	FEN  string `json:"fen"`
}

// Game is a replayed game.
type Game struct {
	White    string            `json:"white"`
	Black    string            `json:"black"`
	Result   string            `json:"result,omitempty"`
	Opening  Opening           `json:"opening"`
	Book     *eco.Opening      `json:"book,omitempty"` // deepest opening-book match
	StartFEN string            `json:"start_fen"`
	Moves    []Ply             `json:"moves"`
	Tags     map[string]string `json:"tags,omitempty"`
}

// FENs returns the position after every ply, in order.
func (g *Game) FENs() []string {
	fens := make([]string, len(g.Moves))
	for i, p := range g.Moves {
		fens[i] = p.FEN
	}
	return fens
}

// Load parses the first game in the PGN file at path and replays its
// mainline. Replay stops at the first move that cannot be applied. When
// book is non-nil each position is classified against it.
func Load(path string, book *eco.Database) (*Game, error) {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, filepath.Base(path))
		}
		return nil, err
	}

	parser := pgn.Games(path)
	first, ok := <-parser.Games
	if !ok || first == nil {
		if err := parser.Err(); err != nil {
			return nil, fmt.Errorf("parse %s: %w", filepath.Base(path), err)
		}
		return nil, fmt.Errorf("%w: %s", ErrEmpty, filepath.Base(path))
	}
	parser.Stop()
	return replay(first, book), nil
}

func replay(src *pgn.Game, book *eco.Database) *Game {
	tag := func(name, def string) string {
		if v := src.Tags[name]; v != "" {
			return v
		}
		return def
	}

	g := &Game{
		White:  tag("White", "White"),
		Black:  tag("Black", "Black"),
		Result: src.Tags["Result"],
		Opening: Opening{
			Name: tag("ECO", src.Tags["Opening"]),
			URL:  src.Tags["ECOUrl"],
		},
		Tags:  src.Tags,
		Moves: make([]Ply, 0, len(src.Moves)),
	}

	pos := pgn.NewStartingPosition()
	g.StartFEN = pos.ToFEN()
	for _, mv := range src.Moves {
		san := moveSAN(pos, mv)
		if err := pgn.ApplyMove(pos, mv); err != nil {
			break
		}
		g.Moves = append(g.Moves, Ply{Move: san, UCI: moveUCI(mv), FEN: pos.ToFEN()})
		if o := book.Lookup(pos); o != nil {
			g.Book = o
		}
	}
	return g
}
