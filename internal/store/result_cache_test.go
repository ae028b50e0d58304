package store

import (
	"compress/gzip"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/kejdas/chess-game-analyzer/internal/uci"
)

const (
	startFEN = "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1"
	mateFEN  = "r1bqkbnr/pppp1ppp/2n5/4p2Q/2B1P3/8/PPPP1PPP/RNB1K1NR w KQkq - 4 4"
)

func TestResultCacheGetPut(t *testing.T) {
	c := NewResultCache(0)

	_, ok := c.Get(Key{FEN: startFEN, Depth: 15})
	require.False(t, ok)

	c.Put(Key{FEN: startFEN, Depth: 15}, Entry{Score: uci.Centipawns(30), BestMove: "e2e4"})
	e, ok := c.Get(Key{FEN: startFEN, Depth: 15})
	require.True(t, ok)
	require.Equal(t, "e2e4", e.BestMove)

	_, ok = c.Get(Key{FEN: startFEN, Depth: 20})
	require.False(t, ok, "depth is part of the key")

	stats := c.Stats()
	require.Equal(t, uint64(1), stats.Hits)
	require.Equal(t, uint64(2), stats.Misses)
	require.Equal(t, 1, stats.CP)
}

func TestResultCacheEvictsOldest(t *testing.T) {
	c := NewResultCache(2)
	c.Put(Key{FEN: "a", Depth: 1}, Entry{})
	c.Put(Key{FEN: "b", Depth: 1}, Entry{})
	c.Put(Key{FEN: "a", Depth: 1}, Entry{BestMove: "e2e4"})
	c.Put(Key{FEN: "c", Depth: 1}, Entry{})

	require.Equal(t, 2, c.Len())
	_, ok := c.Get(Key{FEN: "a", Depth: 1})
	require.False(t, ok)
	_, ok = c.Get(Key{FEN: "c", Depth: 1})
	require.True(t, ok)
}

func TestResultCacheRoundTripCompressed(t *testing.T) {
	for _, name := range []string{"evals.csv", "evals.csv.gz", "evals.csv.zst"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), name)

			src := NewResultCache(0)
			src.Put(Key{FEN: startFEN, Depth: 15}, Entry{Score: uci.Centipawns(-45), BestMove: "e2e4"})
			src.Put(Key{FEN: mateFEN, Depth: 20}, Entry{Score: uci.MateIn(1), BestMove: "h5f7"})

			n, err := src.SaveToFile(path)
			require.NoError(t, err)
			require.Equal(t, 2, n)

			dst := NewResultCache(0)
			n, err = dst.LoadFromFile(path)
			require.NoError(t, err)
			require.Equal(t, 2, n)

			e, ok := dst.Get(Key{FEN: mateFEN, Depth: 20})
			require.True(t, ok)
			require.Equal(t, Entry{Score: uci.MateIn(1), BestMove: "h5f7"}, e)

			e, ok = dst.Get(Key{FEN: startFEN, Depth: 15})
			require.True(t, ok)
			require.Equal(t, uci.Centipawns(-45), e.Score)
		})
	}
}

func TestLoadFromFileSkipsBadRows(t *testing.T) {
	path := filepath.Join(t.TempDir(), "evals.csv.gz")
	f, err := os.Create(path)
	require.NoError(t, err)
	gw := gzip.NewWriter(f)
	_, err = gw.Write([]byte("fen,depth,kind,value,best_move\n" +
		startFEN + ",15,cp,20,e2e4\n" +
		startFEN + ",deep,cp,20,e2e4\n" +
		startFEN + ",12,eval,20,e2e4\n" +
		"short,row\n" +
		mateFEN + ",9,mate,-2,\n"))
	require.NoError(t, err)
	require.NoError(t, gw.Close())
	require.NoError(t, f.Close())

	c := NewResultCache(0)
	n, err := c.LoadFromFile(path)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	e, ok := c.Get(Key{FEN: mateFEN, Depth: 9})
	require.True(t, ok)
	require.Equal(t, uci.MateIn(-2), e.Score)
	require.Empty(t, e.BestMove)
}

func TestLoadFromMissingFile(t *testing.T) {
	n, err := NewResultCache(0).LoadFromFile(filepath.Join(t.TempDir(), "none.csv.zst"))
	require.NoError(t, err)
	require.Zero(t, n)
}
