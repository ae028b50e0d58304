package logx

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/kejdas/chess-game-analyzer/internal/config"
)

// NewLogger returns a zerolog logger writing to stdout in the configured
// format ("console" or "json") at the configured level.
func NewLogger(cfg config.LogConfig) zerolog.Logger {
	return New(os.Stdout, cfg)
}

// New is NewLogger with an explicit destination.
func New(w io.Writer, cfg config.LogConfig) zerolog.Logger {
	out := w
	if cfg.Format != "json" {
		out = zerolog.ConsoleWriter{
			Out:        w,
			TimeFormat: time.RFC3339,
		}
	}
	zerolog.CallerMarshalFunc = shortCaller

	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	return zerolog.New(out).Level(level).With().Timestamp().Caller().Logger()
}

// shortCaller renders file:line without the directory, padded for alignment.
func shortCaller(pc uintptr, file string, line int) string {
	short := file
	for i := len(file) - 1; i > 0; i-- {
		if file[i] == '/' {
			short = file[i+1:]
			break
		}
	}
	return fmt.Sprintf("%-28s", fmt.Sprintf("%s:%d", short, line))
}
