package engine

import (
	"errors"
	"fmt"
)

// Kind classifies evaluation failures.
type Kind int

const (
	KindUnknown Kind = iota
	KindInvalidInput
	KindEngineNotFound
	KindSpawnFailed
	KindEngineHandshakeTimeout
	KindAnalysisTimeout
	KindEngineUnavailable
	KindCanceled
)

var kindNames = map[Kind]string{
	KindUnknown:                "Unknown",
	KindInvalidInput:           "InvalidInput",
	KindEngineNotFound:         "EngineNotFound",
	KindSpawnFailed:            "SpawnFailed",
	KindEngineHandshakeTimeout: "EngineHandshakeTimeout",
	KindAnalysisTimeout:        "AnalysisTimeout",
	KindEngineUnavailable:      "EngineUnavailable",
	KindCanceled:               "Canceled",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Error is a classified engine failure. Op names the step that failed
// (start, write, read, handshake, analyze, ...).
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	msg := "engine"
	if e.Op != "" {
		msg += " " + e.Op
	}
	msg += ": " + e.Kind.String()
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is a bare sentinel of the same kind, so that
// errors.Is(err, ErrAnalysisTimeout) works for any wrapped *Error.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Op == "" && t.Err == nil
}

// Sentinels for errors.Is.
var (
	ErrInvalidInput           = &Error{Kind: KindInvalidInput}
	ErrEngineNotFound         = &Error{Kind: KindEngineNotFound}
	ErrSpawnFailed            = &Error{Kind: KindSpawnFailed}
	ErrEngineHandshakeTimeout = &Error{Kind: KindEngineHandshakeTimeout}
	ErrAnalysisTimeout        = &Error{Kind: KindAnalysisTimeout}
	ErrEngineUnavailable      = &Error{Kind: KindEngineUnavailable}
	ErrCanceled               = &Error{Kind: KindCanceled}
)

// ErrReadTimeout is returned by ReadLine when the context deadline passes
// before a full line arrives.
var ErrReadTimeout = errors.New("read deadline exceeded")

// errProcessExited is wrapped when writing to an engine that is gone.
var errProcessExited = errors.New("process has exited")

// NewError builds a classified error.
func NewError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the Kind of the first *Error in err's chain, or KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}
