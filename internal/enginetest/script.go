package enginetest

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

// Script writes a shell script that execs the stub with its arguments and
// environment, for drivers that accept only an executable path. The stub
// replaces the shell, so PID and RequireGone still refer to the engine.
func (e Engine) Script(t testing.TB) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("stub script needs /bin/sh")
	}
	var b strings.Builder
	b.WriteString("#!/bin/sh\nexec env")
	for _, kv := range e.Env {
		b.WriteString(" " + shellQuote(kv))
	}
	b.WriteString(" " + shellQuote(e.Path))
	for _, a := range e.Args {
		b.WriteString(" " + shellQuote(a))
	}
	b.WriteString("\n")

	path := filepath.Join(t.TempDir(), "engine.sh")
	if err := os.WriteFile(path, []byte(b.String()), 0o755); err != nil {
		t.Fatalf("write stub script: %v", err)
	}
	return path
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
