// Package uci implements the client side of the Universal Chess Interface:
// the handshake and position/search request sequence, and parsing of the
// engine's search output.
package uci

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/rs/zerolog"

	"github.com/kejdas/chess-game-analyzer/internal/engine"
)

// State is the position of a Session in its lifecycle:
// Idle -> Handshaking -> Ready -> Analyzing -> Done, with any step able to
// move to Failed.
type State uint8

const (
	StateIdle State = iota
	StateHandshaking
	StateReady
	StateAnalyzing
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateHandshaking:
		return "handshaking"
	case StateReady:
		return "ready"
	case StateAnalyzing:
		return "analyzing"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("State(%d)", uint8(s))
	}
}

// Conn is the line-oriented transport a Session drives.
// *engine.Process implements it.
type Conn interface {
	LineReader
	WriteLine(text string) error
}

// SessionConfig tunes the handshake.
type SessionConfig struct {
	// Options are sent as "setoption name K value V" between uci and isready.
	Options map[string]string
	// RequireUCIOK waits for uciok before sending isready. By default only
	// readyok is required.
	RequireUCIOK bool
	Logger       zerolog.Logger
}

// Session sequences one UCI exchange over a Conn. A Session is used by one
// goroutine at a time.
type Session struct {
	conn       Conn
	cfg        SessionConfig
	log        zerolog.Logger
	state      State
	engineName string
}

// NewSession wraps conn in an idle session.
func NewSession(conn Conn, cfg SessionConfig) *Session {
	return &Session{
		conn: conn,
		cfg:  cfg,
		log:  cfg.Logger,
	}
}

// State returns the current lifecycle state.
func (s *Session) State() State { return s.state }

// EngineName returns the name from "id name", if the engine sent one.
func (s *Session) EngineName() string { return s.engineName }

func (s *Session) transition(to State) {
	s.log.Debug().Stringer("from", s.state).Stringer("to", to).Msg("session state")
	s.state = to
}

func (s *Session) fail(err error) error {
	s.transition(StateFailed)
	return err
}

// Handshake sends uci (and any options) followed by isready, and waits for
// readyok. It may be called on an idle session or on one that finished a
// previous analysis. If ctx expires first it fails with
// EngineHandshakeTimeout.
func (s *Session) Handshake(ctx context.Context) error {
	if s.state != StateIdle && s.state != StateDone {
		return fmt.Errorf("handshake from state %s", s.state)
	}
	s.transition(StateHandshaking)

	if err := s.conn.WriteLine("uci"); err != nil {
		return s.fail(writeError("handshake", err))
	}
	if s.cfg.RequireUCIOK {
		if err := s.waitFor(ctx, "uciok"); err != nil {
			return s.fail(err)
		}
	}
	for _, name := range sortedKeys(s.cfg.Options) {
		cmd := fmt.Sprintf("setoption name %s value %s", name, s.cfg.Options[name])
		if err := s.conn.WriteLine(cmd); err != nil {
			return s.fail(writeError("handshake", err))
		}
	}
	if err := s.conn.WriteLine("isready"); err != nil {
		return s.fail(writeError("handshake", err))
	}
	if err := s.waitFor(ctx, "readyok"); err != nil {
		return s.fail(err)
	}

	s.transition(StateReady)
	return nil
}

// waitFor reads until a line containing the token want. Engine identity
// lines seen on the way are recorded.
func (s *Session) waitFor(ctx context.Context, want string) error {
	for {
		line, err := s.conn.ReadLine(ctx)
		if err != nil {
			return readError("handshake", handshakeTimeout, err)
		}
		t := Tokenize(line)
		if t.HasPair("id", "name") {
			s.engineName = strings.Join(t.Rest("name"), " ")
		}
		if t.Has(want) {
			return nil
		}
	}
}

// Analyze submits the position and a fixed-depth search, then consumes the
// search output until bestmove. The session must be Ready.
func (s *Session) Analyze(ctx context.Context, fen string, depth int) (SearchResult, error) {
	if s.state != StateReady {
		return SearchResult{}, fmt.Errorf("analyze from state %s", s.state)
	}
	s.transition(StateAnalyzing)

	if err := s.conn.WriteLine("position fen " + fen); err != nil {
		return SearchResult{}, s.fail(writeError("analyze", err))
	}
	if err := s.conn.WriteLine(fmt.Sprintf("go depth %d", depth)); err != nil {
		return SearchResult{}, s.fail(writeError("analyze", err))
	}

	res, err := Consume(ctx, s.conn)
	if err != nil {
		return SearchResult{}, s.fail(err)
	}
	s.transition(StateDone)
	return res, nil
}

const (
	handshakeTimeout = engine.KindEngineHandshakeTimeout
	analysisTimeout  = engine.KindAnalysisTimeout
)

// readError classifies a failed read. Deadline expiry maps to the phase's
// timeout kind; everything that means the engine is gone maps to
// EngineUnavailable.
func readError(op string, timeoutKind engine.Kind, err error) error {
	switch {
	case errors.Is(err, engine.ErrReadTimeout), errors.Is(err, context.DeadlineExceeded):
		return engine.NewError(timeoutKind, op, err)
	case errors.Is(err, context.Canceled):
		return engine.NewError(engine.KindCanceled, op, err)
	case errors.Is(err, io.EOF):
		return engine.NewError(engine.KindEngineUnavailable, op, errors.New("engine closed its output"))
	default:
		return engine.NewError(engine.KindEngineUnavailable, op, err)
	}
}

func writeError(op string, err error) error {
	var e *engine.Error
	if errors.As(err, &e) {
		return engine.NewError(e.Kind, op, e.Err)
	}
	return engine.NewError(engine.KindEngineUnavailable, op, err)
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
