// Package enginetest turns the running test binary into a scripted UCI engine
// so process, protocol and timeout behavior can be tested without Stockfish.
//
// A test package opts in from TestMain:
//
//	func TestMain(m *testing.M) {
//		enginetest.Main()
//		os.Exit(m.Run())
//	}
package enginetest

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/kejdas/chess-game-analyzer/internal/engine"
)

const (
	EnvMode    = "UCI_STUB_MODE"
	EnvSearch  = "UCI_STUB_SEARCH"
	EnvPIDFile = "UCI_STUB_PID_FILE"
)

// Stub behaviors.
const (
	ModeNormal   = "normal"   // answers uci/isready, prints the search script on go
	ModeSilent   = "silent"   // never answers uci or isready
	ModeCrash    = "crash"    // prints the search script, then exits with status 3
	ModeStubborn = "stubborn" // silent, and ignores quit and stdin EOF
	ModeDeaf     = "deaf"     // never reads stdin at all
)

// DefaultSearch is printed on "go" when no script is given.
var DefaultSearch = []string{
	"info depth 1 seldepth 1 score cp 20 nodes 20 pv e2e4",
	"bestmove e2e4",
}

// Main runs the stub and exits when EnvMode is set; otherwise it returns.
func Main() {
	mode := os.Getenv(EnvMode)
	if mode == "" {
		return
	}
	if f := os.Getenv(EnvPIDFile); f != "" {
		_ = os.WriteFile(f, []byte(strconv.Itoa(os.Getpid())), 0o644)
	}
	search := DefaultSearch
	if s := os.Getenv(EnvSearch); s != "" {
		search = strings.Split(s, "|")
	}
	os.Exit(Serve(os.Stdin, os.Stdout, mode, search))
}

// Serve speaks just enough UCI for the given mode and returns the exit status.
func Serve(in io.Reader, out io.Writer, mode string, search []string) int {
	if mode == ModeDeaf {
		for {
			time.Sleep(time.Hour)
		}
	}
	quiet := mode == ModeSilent || mode == ModeStubborn

	sc := bufio.NewScanner(in)
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			continue
		}
		switch fields[0] {
		case "uci":
			if quiet {
				continue
			}
			fmt.Fprintln(out, "id name StubFish 1.0")
			fmt.Fprintln(out, "id author enginetest")
			fmt.Fprintln(out, "uciok")
		case "isready":
			if quiet {
				continue
			}
			fmt.Fprintln(out, "readyok")
		case "go":
			for _, line := range search {
				fmt.Fprintln(out, line)
			}
			if mode == ModeCrash {
				return 3
			}
		case "quit":
			if mode == ModeStubborn {
				continue
			}
			return 0
		}
	}
	if mode == ModeStubborn {
		for {
			time.Sleep(time.Hour)
		}
	}
	return 0
}

// Engine describes how to launch the stub as a subprocess.
type Engine struct {
	Path    string
	Args    []string
	Env     []string
	PIDFile string
}

// New prepares a stub engine in the given mode. search replaces the lines
// printed in response to "go".
func New(t testing.TB, mode string, search ...string) Engine {
	t.Helper()
	exe, err := os.Executable()
	if err != nil {
		t.Fatalf("locate test binary: %v", err)
	}
	pidFile := filepath.Join(t.TempDir(), "engine.pid")
	env := []string{
		EnvMode + "=" + mode,
		EnvPIDFile + "=" + pidFile,
		// Race-enabled binaries sleep a second on exit by default, which
		// would outlast the shutdown grace period.
		"GORACE=atexit_sleep_ms=0",
	}
	if len(search) > 0 {
		env = append(env, EnvSearch+"="+strings.Join(search, "|"))
	}
	return Engine{
		Path:    exe,
		Args:    []string{"-test.run=^$"},
		Env:     env,
		PIDFile: pidFile,
	}
}

// ProcessConfig returns an engine.ProcessConfig that launches the stub.
func (e Engine) ProcessConfig() engine.ProcessConfig {
	return engine.ProcessConfig{
		Path:          e.Path,
		Args:          e.Args,
		Env:           e.Env,
		ShutdownGrace: 200 * time.Millisecond,
	}
}

// PID returns the pid the stub recorded, if it ever started.
func (e Engine) PID() (int, bool) {
	b, err := os.ReadFile(e.PIDFile)
	if err != nil {
		return 0, false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(b)))
	if err != nil {
		return 0, false
	}
	return pid, true
}

// Spawned reports whether the stub process was ever started.
func (e Engine) Spawned() bool {
	_, ok := e.PID()
	return ok
}

// RequireGone fails the test unless the stub was started and is no longer
// running.
func (e Engine) RequireGone(t testing.TB) {
	t.Helper()
	pid, ok := e.PID()
	if !ok {
		t.Fatalf("stub engine never recorded a pid in %s", e.PIDFile)
	}
	deadline := time.Now().Add(2 * time.Second)
	for Alive(pid) {
		if time.Now().After(deadline) {
			t.Fatalf("engine process %d is still running", pid)
		}
		time.Sleep(10 * time.Millisecond)
	}
}
