package game

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kejdas/chess-game-analyzer/internal/eco"
)

const scholarsMate = `[Event "Casual"]
[White "kejdas"]
[Black "opponent"]
[Result "1-0"]
[ECO "C20"]
[ECOUrl "https://www.chess.com/openings/Kings-Pawn-Opening"]

1. e4 e5 2. Bc4 Nc6 3. Qh5 Nf6 4. Qxf7# 1-0
`

func writeArchive(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	day := filepath.Join(dir, "kejdas", "2024-05-01")
	require.NoError(t, os.MkdirAll(day, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(day, "b.pgn"), []byte(scholarsMate), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(day, "a.pgn"), []byte(scholarsMate), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(day, "notes.txt"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "kejdas", "stray.pgn"), []byte("x"), 0o644))
	return dir
}

func TestList(t *testing.T) {
	dir := writeArchive(t)

	idx, err := List(dir)
	require.NoError(t, err)
	require.Equal(t, Index{
		"kejdas": {"2024-05-01": {"a.pgn", "b.pgn"}},
	}, idx)

	_, err = List(filepath.Join(dir, "missing"))
	require.Error(t, err)
}

func TestSafeJoin(t *testing.T) {
	base := t.TempDir()

	p, err := SafeJoin(base, "kejdas", "2024-05-01", "a.pgn")
	require.NoError(t, err)
	require.Equal(t, filepath.Join(base, "kejdas", "2024-05-01", "a.pgn"), p)

	for _, parts := range [][]string{
		{"..", "etc", "passwd"},
		{"kejdas", "..", "..", "secret.pgn"},
	} {
		_, err := SafeJoin(base, parts...)
		require.ErrorIs(t, err, ErrUnsafePath, "parts %v", parts)
	}

	// Absolute parts stay under base.
	p, err = SafeJoin(base, "/etc/passwd")
	require.NoError(t, err)
	require.Equal(t, filepath.Join(base, "etc", "passwd"), p)
}

func TestLoad(t *testing.T) {
	dir := writeArchive(t)
	path, err := SafeJoin(dir, "kejdas", "2024-05-01", "a.pgn")
	require.NoError(t, err)

	g, err := Load(path, nil)
	require.NoError(t, err)
	require.Equal(t, "kejdas", g.White)
	require.Equal(t, "opponent", g.Black)
	require.Equal(t, "C20", g.Opening.Name)
	require.Equal(t, "https://www.chess.com/openings/Kings-Pawn-Opening", g.Opening.URL)
	require.Len(t, g.Moves, 7)

	require.Equal(t, "e4", g.Moves[0].Move)
	require.Equal(t, "e2e4", g.Moves[0].UCI)
	require.Contains(t, g.Moves[0].FEN, "rnbqkbnr/pppppppp/8/8/4P3/8/PPPP1PPP/RNBQKBNR b")
	require.Equal(t, "Qxf7#", g.Moves[6].Move)
	require.Equal(t, "h5f7", g.Moves[6].UCI)
	fens := g.FENs()
	require.Len(t, fens, 7)
	require.Equal(t, g.Moves[0].FEN, fens[0])
	require.Equal(t, g.Moves[6].FEN, fens[6])
	require.Nil(t, g.Book)
}

func TestLoadClassifiesOpening(t *testing.T) {
	book := eco.NewDatabase()
	require.NoError(t, book.Load(strings.NewReader(
		"C20\tKing's Pawn Game\t1. e4 e5\n"+
			"C23\tBishop's Opening\t1. e4 e5 2. Bc4\n"+
			"B20\tSicilian Defense\t1. e4 c5\n")))

	path, err := SafeJoin(writeArchive(t), "kejdas", "2024-05-01", "a.pgn")
	require.NoError(t, err)
	g, err := Load(path, book)
	require.NoError(t, err)
	require.NotNil(t, g.Book)
	require.Equal(t, eco.Opening{ECO: "C23", Name: "Bishop's Opening"}, *g.Book)
}

func TestLoadMissing(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.pgn"), nil)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestLoadDefaultsPlayerNames(t *testing.T) {
	path := filepath.Join(t.TempDir(), "anon.pgn")
	require.NoError(t, os.WriteFile(path, []byte("[Event \"?\"]\n[Opening \"Sicilian Defense\"]\n\n1. e4 c5 *\n"), 0o644))

	g, err := Load(path, nil)
	require.NoError(t, err)
	require.Equal(t, "White", g.White)
	require.Equal(t, "Black", g.Black)
	require.Equal(t, "Sicilian Defense", g.Opening.Name)
	require.Len(t, g.Moves, 2)
}
