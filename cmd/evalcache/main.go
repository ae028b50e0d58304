package main

import (
	"encoding/csv"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/kejdas/chess-game-analyzer/internal/config"
	"github.com/kejdas/chess-game-analyzer/internal/logx"
	"github.com/kejdas/chess-game-analyzer/internal/store"
	"github.com/kejdas/chess-game-analyzer/internal/uci"
)

// stringList collects a repeatable flag.
type stringList []string

func (l *stringList) String() string     { return strings.Join(*l, ",") }
func (l *stringList) Set(v string) error { *l = append(*l, v); return nil }

func main() {
	var (
		inputs   stringList
		analyses stringList
	)
	flag.Var(&inputs, "input", "evaluation cache file to merge (.csv, .csv.gz or .csv.zst; repeatable)")
	flag.Var(&analyses, "from-analysis", "CSV written by analyze -output to import (repeatable)")
	var (
		outputPath = flag.String("output", "", "write the merged cache here (suffix selects compression)")
		maxEntries = flag.Int("max-entries", config.DefaultCacheMaxEntries, "cache capacity; oldest entries are dropped first")
		logLevel   = flag.String("log-level", config.DefaultLogLevel, "log level")
	)
	flag.Parse()

	if len(inputs) == 0 && len(analyses) == 0 {
		fmt.Fprintln(os.Stderr, "Usage: evalcache (--input <file> | --from-analysis <file>)... [--output <file>]")
		flag.PrintDefaults()
		os.Exit(2)
	}

	logger := logx.NewLogger(config.LogConfig{Level: *logLevel})
	cache := store.NewResultCache(*maxEntries)

	for _, path := range inputs {
		if _, err := os.Stat(path); err != nil {
			logger.Fatal().Err(err).Str("file", path).Msg("open cache file")
		}
		n, err := cache.LoadFromFile(path)
		if err != nil {
			logger.Fatal().Err(err).Str("file", path).Msg("load cache file")
		}
		logger.Info().Int("entries", n).Str("file", path).Msg("cache file merged")
	}

	for _, path := range analyses {
		n, skipped, err := importAnalysis(cache, path)
		if err != nil {
			logger.Fatal().Err(err).Str("file", path).Msg("import analysis")
		}
		logger.Info().
			Int("imported", n).
			Int("skipped", skipped).
			Str("file", path).
			Msg("analysis imported")
	}

	printStats(logger, cache.Stats())

	if *outputPath != "" {
		n, err := cache.SaveToFile(*outputPath)
		if err != nil {
			logger.Fatal().Err(err).Str("file", *outputPath).Msg("write cache file")
		}
		logger.Info().Int("entries", n).Str("file", *outputPath).Msg("cache written")
	}
}

// importAnalysis reads rows of ply,move,fen,depth,kind,value,best_move,error.
// Failed and unscored rows are skipped.
func importAnalysis(cache *store.ResultCache, path string) (int, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, err
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err != nil {
		return 0, 0, fmt.Errorf("read header: %w", err)
	}
	col := make(map[string]int, len(header))
	for i, name := range header {
		col[name] = i
	}
	for _, name := range []string{"fen", "depth", "kind", "value", "best_move"} {
		if _, ok := col[name]; !ok {
			return 0, 0, fmt.Errorf("missing column %q", name)
		}
	}

	var imported, skipped int
	for {
		row, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return imported, skipped, err
		}
		if i, ok := col["error"]; ok && i < len(row) && row[i] != "" {
			skipped++
			continue
		}
		key, entry, ok := analysisRow(row, col)
		if !ok {
			skipped++
			continue
		}
		cache.Put(key, entry)
		imported++
	}
	return imported, skipped, nil
}

func analysisRow(row []string, col map[string]int) (store.Key, store.Entry, bool) {
	field := func(name string) string {
		if i := col[name]; i < len(row) {
			return row[i]
		}
		return ""
	}
	depth, err := strconv.Atoi(field("depth"))
	if err != nil || depth <= 0 || field("fen") == "" {
		return store.Key{}, store.Entry{}, false
	}
	value, err := strconv.Atoi(field("value"))
	if err != nil {
		return store.Key{}, store.Entry{}, false
	}
	var score uci.Score
	switch field("kind") {
	case "cp":
		score = uci.Centipawns(value)
	case "mate":
		score = uci.MateIn(value)
	default:
		return store.Key{}, store.Entry{}, false
	}
	return store.Key{FEN: field("fen"), Depth: depth}, store.Entry{Score: score, BestMove: field("best_move")}, true
}

func printStats(logger zerolog.Logger, s store.CacheStats) {
	logger.Info().
		Int("size", s.Size).
		Int("capacity", s.Capacity).
		Int("cp", s.CP).
		Int("mate", s.Mate).
		Msg("cache contents")
}
