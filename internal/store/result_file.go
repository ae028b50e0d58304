package store

import (
	"compress/gzip"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/klauspost/compress/zstd"

	"github.com/kejdas/chess-game-analyzer/internal/uci"
)

var header = []string{"fen", "depth", "kind", "value", "best_move"}

// LoadFromFile loads evaluations from a CSV file (supports .zst and .gz
// compression). A missing file loads nothing. Malformed rows are skipped.
func (c *ResultCache) LoadFromFile(path string) (int, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	defer f.Close()

	var reader io.Reader = f
	switch {
	case strings.HasSuffix(path, ".zst"):
		zr, err := zstd.NewReader(f, zstd.WithDecoderConcurrency(1))
		if err != nil {
			return 0, err
		}
		defer zr.Close()
		reader = zr
	case strings.HasSuffix(path, ".gz"):
		gr, err := gzip.NewReader(f)
		if err != nil {
			return 0, err
		}
		defer gr.Close()
		reader = gr
	}

	csvReader := csv.NewReader(reader)
	csvReader.FieldsPerRecord = -1

	if _, err := csvReader.Read(); err != nil {
		if err == io.EOF {
			return 0, nil
		}
		return 0, fmt.Errorf("read header: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	count := 0
	for {
		row, err := csvReader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				continue
			}
			// Truncated compressed stream: keep what we have.
			break
		}
		key, e, ok := parseRow(row)
		if !ok {
			continue
		}
		c.putLocked(key, e)
		count++
	}
	return count, nil
}

func parseRow(row []string) (Key, Entry, bool) {
	if len(row) < len(header) || row[0] == "" {
		return Key{}, Entry{}, false
	}
	depth, err := strconv.Atoi(row[1])
	if err != nil || depth <= 0 {
		return Key{}, Entry{}, false
	}
	value, err := strconv.Atoi(row[3])
	if err != nil {
		return Key{}, Entry{}, false
	}
	var score uci.Score
	switch row[2] {
	case "cp":
		score = uci.Centipawns(value)
	case "mate":
		score = uci.MateIn(value)
	case "none":
	default:
		return Key{}, Entry{}, false
	}
	return Key{FEN: row[0], Depth: depth}, Entry{Score: score, BestMove: row[4]}, true
}

// SaveToFile writes the cache to path, compressed according to its suffix.
// The file is replaced atomically.
func (c *ResultCache) SaveToFile(path string) (int, error) {
	keys, entries := c.snapshot()

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp*")
	if err != nil {
		return 0, err
	}
	defer os.Remove(tmp.Name())

	if err := writeRows(tmp, path, keys, entries); err != nil {
		tmp.Close()
		return 0, err
	}
	if err := tmp.Close(); err != nil {
		return 0, err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return 0, err
	}
	return len(keys), nil
}

func writeRows(f *os.File, path string, keys []Key, entries map[Key]Entry) error {
	var (
		w       io.Writer = f
		closeFn func() error
	)
	switch {
	case strings.HasSuffix(path, ".zst"):
		zw, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			return err
		}
		w, closeFn = zw, zw.Close
	case strings.HasSuffix(path, ".gz"):
		gw := gzip.NewWriter(f)
		w, closeFn = gw, gw.Close
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return err
	}
	for _, k := range keys {
		e := entries[k]
		row := []string{
			k.FEN,
			strconv.Itoa(k.Depth),
			e.Score.Kind.String(),
			strconv.Itoa(e.Score.Value),
			e.BestMove,
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return err
	}
	if closeFn != nil {
		return closeFn()
	}
	return nil
}
