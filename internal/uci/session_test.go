package uci_test

import (
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kejdas/chess-game-analyzer/internal/engine"
	"github.com/kejdas/chess-game-analyzer/internal/enginetest"
	"github.com/kejdas/chess-game-analyzer/internal/uci"
)

func TestMain(m *testing.M) {
	enginetest.Main()
	os.Exit(m.Run())
}

// scriptConn answers commands from a script keyed by the command's first
// token. Unknown commands get no reply.
type scriptConn struct {
	mu       sync.Mutex
	script   map[string][]string
	sent     []string
	pending  chan string
	eof      bool
	writeErr error
}

func newScriptConn(script map[string][]string) *scriptConn {
	return &scriptConn{script: script, pending: make(chan string, 128)}
}

func (c *scriptConn) WriteLine(text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writeErr != nil {
		return c.writeErr
	}
	c.sent = append(c.sent, text)
	for _, line := range c.script[strings.Fields(text)[0]] {
		c.pending <- line
	}
	return nil
}

func (c *scriptConn) ReadLine(ctx context.Context) (string, error) {
	select {
	case line := <-c.pending:
		return line, nil
	default:
	}
	if c.eof {
		return "", io.EOF
	}
	select {
	case line := <-c.pending:
		return line, nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", engine.ErrReadTimeout
		}
		return "", ctx.Err()
	}
}

func (c *scriptConn) Sent() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.sent...)
}

var stockScript = map[string][]string{
	"uci":     {"id name Stockfish 17", "id author the Stockfish developers", "uciok"},
	"isready": {"readyok"},
	"go": {
		"info depth 1 score cp 10 pv e2e4",
		"info depth 2 score cp 18 pv d2d4",
		"bestmove d2d4 ponder d7d5",
	},
}

func TestSessionProtocolSequence(t *testing.T) {
	conn := newScriptConn(stockScript)
	s := uci.NewSession(conn, uci.SessionConfig{})
	require.Equal(t, uci.StateIdle, s.State())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	require.NoError(t, s.Handshake(ctx))
	require.Equal(t, uci.StateReady, s.State())
	require.Equal(t, "Stockfish 17", s.EngineName())

	res, err := s.Analyze(ctx, "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1", 15)
	require.NoError(t, err)
	require.Equal(t, uci.StateDone, s.State())
	require.Equal(t, "d2d4", res.BestMove)
	require.Equal(t, "d7d5", res.Ponder)
	require.Equal(t, uci.Centipawns(18), res.Score)

	require.Equal(t, []string{
		"uci",
		"isready",
		"position fen rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1",
		"go depth 15",
	}, conn.Sent())
}

func TestSessionSendsOptionsBeforeIsReady(t *testing.T) {
	conn := newScriptConn(stockScript)
	s := uci.NewSession(conn, uci.SessionConfig{
		Options:      map[string]string{"Threads": "2", "Hash": "64"},
		RequireUCIOK: true,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Handshake(ctx))

	require.Equal(t, []string{
		"uci",
		"setoption name Hash value 64",
		"setoption name Threads value 2",
		"isready",
	}, conn.Sent())
}

func TestSessionHandshakeTimeout(t *testing.T) {
	conn := newScriptConn(map[string][]string{"uci": {"uciok"}})
	s := uci.NewSession(conn, uci.SessionConfig{})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := s.Handshake(ctx)
	require.ErrorIs(t, err, engine.ErrEngineHandshakeTimeout)
	require.Equal(t, uci.StateFailed, s.State())

	_, err = s.Analyze(context.Background(), "8/8/8/8/8/8/8/K6k w - - 0 1", 1)
	require.Error(t, err, "analyze must refuse a failed session")
}

func TestSessionRequireUCIOKTimesOut(t *testing.T) {
	conn := newScriptConn(map[string][]string{"isready": {"readyok"}})
	s := uci.NewSession(conn, uci.SessionConfig{RequireUCIOK: true})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	require.ErrorIs(t, s.Handshake(ctx), engine.ErrEngineHandshakeTimeout)
	require.Equal(t, []string{"uci"}, conn.Sent())
}

func TestSessionWriteFailure(t *testing.T) {
	conn := newScriptConn(stockScript)
	conn.writeErr = engine.NewError(engine.KindEngineUnavailable, "write", errors.New("broken pipe"))
	s := uci.NewSession(conn, uci.SessionConfig{})

	err := s.Handshake(context.Background())
	require.ErrorIs(t, err, engine.ErrEngineUnavailable)
	require.Equal(t, uci.StateFailed, s.State())
}

func TestSessionEngineDiesMidSearch(t *testing.T) {
	conn := newScriptConn(map[string][]string{
		"isready": {"readyok"},
		"go":      {"info depth 3 score cp 12"},
	})
	s := uci.NewSession(conn, uci.SessionConfig{})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Handshake(ctx))

	conn.eof = true
	_, err := s.Analyze(ctx, "8/8/8/8/8/8/8/K6k w - - 0 1", 5)
	require.ErrorIs(t, err, engine.ErrEngineUnavailable)
}

func TestSessionReuseAfterDone(t *testing.T) {
	conn := newScriptConn(stockScript)
	s := uci.NewSession(conn, uci.SessionConfig{})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	for i := 0; i < 2; i++ {
		require.NoError(t, s.Handshake(ctx))
		_, err := s.Analyze(ctx, "8/8/8/8/8/8/8/K6k w - - 0 1", 4)
		require.NoError(t, err)
	}
	require.Equal(t, uci.StateDone, s.State())
}

func TestSessionOverRealProcess(t *testing.T) {
	stub := enginetest.New(t, enginetest.ModeNormal,
		"info depth 10 score cp 35 pv e2e4",
		"bestmove e2e4",
	)
	p, err := engine.Start(stub.ProcessConfig())
	require.NoError(t, err)
	defer p.Shutdown()

	s := uci.NewSession(p, uci.SessionConfig{})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, s.Handshake(ctx))
	require.Equal(t, "StubFish 1.0", s.EngineName())

	res, err := s.Analyze(ctx, "startpos-fen", 10)
	require.NoError(t, err)
	require.Equal(t, "e2e4", res.BestMove)
	require.Equal(t, uci.Centipawns(35), res.Score)

	require.NoError(t, p.Shutdown())
	stub.RequireGone(t)
}
