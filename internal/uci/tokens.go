package uci

import (
	"strconv"
	"strings"
)

// Tokens is one line of engine output split on whitespace.
type Tokens []string

// Tokenize splits a UCI line into whitespace-separated tokens.
func Tokenize(line string) Tokens {
	return Tokens(strings.Fields(line))
}

// Index returns the position of the first occurrence of tok, or -1.
func (t Tokens) Index(tok string) int {
	for i, s := range t {
		if s == tok {
			return i
		}
	}
	return -1
}

// Has reports whether tok occurs anywhere in the line.
func (t Tokens) Has(tok string) bool {
	return t.Index(tok) >= 0
}

// HasPair reports whether a is immediately followed by b somewhere in the line.
func (t Tokens) HasPair(a, b string) bool {
	for i := 0; i+1 < len(t); i++ {
		if t[i] == a && t[i+1] == b {
			return true
		}
	}
	return false
}

// After returns the token immediately following the first occurrence of tok.
func (t Tokens) After(tok string) (string, bool) {
	i := t.Index(tok)
	if i < 0 || i+1 >= len(t) {
		return "", false
	}
	return t[i+1], true
}

// IntAfter parses the token immediately following tok as a signed integer.
func (t Tokens) IntAfter(tok string) (int, bool) {
	s, ok := t.After(tok)
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, false
	}
	return n, true
}

// Rest returns every token after the first occurrence of tok.
func (t Tokens) Rest(tok string) []string {
	i := t.Index(tok)
	if i < 0 || i+1 >= len(t) {
		return nil
	}
	return append([]string(nil), t[i+1:]...)
}
