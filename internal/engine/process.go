// Package engine owns the operating-system side of a UCI engine: spawning the
// binary, line-oriented I/O over its standard streams, and teardown.
package engine

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
)

const (
	// DefaultShutdownGrace is how long Shutdown waits for the engine to exit
	// on its own before killing it.
	DefaultShutdownGrace = 500 * time.Millisecond

	// DefaultReadTimeout bounds ReadLine when the context has no deadline.
	DefaultReadTimeout = 60 * time.Second

	maxLineSize = 1024 * 1024
	lineBuffer  = 256
)

// ProcessConfig configures an engine subprocess.
type ProcessConfig struct {
	Path          string
	Args          []string // Engines are normally started with no arguments
	Env           []string // Appended to the parent environment
	ShutdownGrace time.Duration
	ReadTimeout   time.Duration
	Logger        zerolog.Logger
}

// Process is a running engine with line-buffered access to its stdin/stdout.
// WriteLine and ReadLine may be called from different goroutines; Shutdown
// is safe to call any number of times from any goroutine.
type Process struct {
	cmd         *exec.Cmd
	log         zerolog.Logger
	grace       time.Duration
	readTimeout time.Duration

	wmu   sync.Mutex
	stdin *os.File
	w     *bufio.Writer

	stdout  *os.File
	stderr  *os.File
	lines   chan string
	readErr error // written before lines is closed

	exited  chan struct{}
	waitErr error // written before exited is closed

	done         chan struct{}
	shutdownOnce sync.Once
	killed       bool
}

// Start spawns the engine binary at cfg.Path.
// It fails with KindEngineNotFound when the path does not resolve to an
// executable and KindSpawnFailed for any other OS-level error.
func Start(cfg ProcessConfig) (*Process, error) {
	if cfg.Path == "" {
		return nil, NewError(KindEngineNotFound, "start", errors.New("engine path is empty"))
	}
	path, err := exec.LookPath(cfg.Path)
	if err != nil {
		return nil, classifyStartError(err)
	}
	if cfg.ShutdownGrace <= 0 {
		cfg.ShutdownGrace = DefaultShutdownGrace
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = DefaultReadTimeout
	}

	var opened []*os.File
	pipe := func() (*os.File, *os.File, error) {
		r, w, err := os.Pipe()
		if err == nil {
			opened = append(opened, r, w)
		}
		return r, w, err
	}
	closeOpened := func() {
		for _, f := range opened {
			_ = f.Close()
		}
	}

	stdinR, stdinW, err := pipe()
	if err != nil {
		return nil, NewError(KindSpawnFailed, "start", fmt.Errorf("stdin pipe: %w", err))
	}
	stdoutR, stdoutW, err := pipe()
	if err != nil {
		closeOpened()
		return nil, NewError(KindSpawnFailed, "start", fmt.Errorf("stdout pipe: %w", err))
	}
	stderrR, stderrW, err := pipe()
	if err != nil {
		closeOpened()
		return nil, NewError(KindSpawnFailed, "start", fmt.Errorf("stderr pipe: %w", err))
	}

	cmd := exec.Command(path, cfg.Args...)
	if len(cfg.Env) > 0 {
		cmd.Env = append(os.Environ(), cfg.Env...)
	}
	// Plain *os.File streams: Wait never blocks on copy goroutines and never
	// closes our ends of the pipes.
	cmd.Stdin = stdinR
	cmd.Stdout = stdoutW
	cmd.Stderr = stderrW

	if err := cmd.Start(); err != nil {
		closeOpened()
		return nil, classifyStartError(err)
	}

	// The child holds its own copies now.
	_ = stdinR.Close()
	_ = stdoutW.Close()
	_ = stderrW.Close()

	p := &Process{
		cmd:         cmd,
		log:         cfg.Logger.With().Int("pid", cmd.Process.Pid).Logger(),
		grace:       cfg.ShutdownGrace,
		readTimeout: cfg.ReadTimeout,
		stdin:       stdinW,
		w:           bufio.NewWriter(stdinW),
		stdout:      stdoutR,
		stderr:      stderrR,
		lines:       make(chan string, lineBuffer),
		exited:      make(chan struct{}),
		done:        make(chan struct{}),
	}

	go p.wait()
	go p.readLoop()
	go p.drainStderr()

	p.log.Debug().Str("path", path).Msg("engine started")
	return p, nil
}

func classifyStartError(err error) error {
	if errors.Is(err, exec.ErrNotFound) ||
		errors.Is(err, exec.ErrDot) ||
		errors.Is(err, fs.ErrNotExist) ||
		errors.Is(err, fs.ErrPermission) ||
		errors.Is(err, syscall.EISDIR) {
		return NewError(KindEngineNotFound, "start", err)
	}
	return NewError(KindSpawnFailed, "start", err)
}

func (p *Process) wait() {
	p.waitErr = p.cmd.Wait()
	close(p.exited)
}

func (p *Process) readLoop() {
	defer close(p.lines)

	sc := bufio.NewScanner(p.stdout)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")
		p.log.Debug().Str("line", line).Msg("<<")
		select {
		case p.lines <- line:
		case <-p.done:
			return
		}
	}
	p.readErr = sc.Err()
}

func (p *Process) drainStderr() {
	sc := bufio.NewScanner(p.stderr)
	for sc.Scan() {
		p.log.Debug().Str("line", sc.Text()).Msg("engine stderr")
	}
}

// Pid returns the operating-system process id.
func (p *Process) Pid() int {
	return p.cmd.Process.Pid
}

// Exited reports whether the process has terminated and been reaped.
func (p *Process) Exited() bool {
	select {
	case <-p.exited:
		return true
	default:
		return false
	}
}

// Done is closed once the process has terminated and been reaped.
func (p *Process) Done() <-chan struct{} {
	return p.exited
}

// WriteLine sends text followed by a newline and flushes it to the engine.
func (p *Process) WriteLine(text string) error {
	p.wmu.Lock()
	defer p.wmu.Unlock()
	return p.writeLocked(text)
}

func (p *Process) writeLocked(text string) error {
	select {
	case <-p.exited:
		return NewError(KindEngineUnavailable, "write", errProcessExited)
	case <-p.done:
		return NewError(KindEngineUnavailable, "write", errors.New("process is shut down"))
	default:
	}
	if _, err := p.w.WriteString(text + "\n"); err != nil {
		return NewError(KindEngineUnavailable, "write", err)
	}
	if err := p.w.Flush(); err != nil {
		return NewError(KindEngineUnavailable, "write", err)
	}
	p.log.Debug().Str("line", text).Msg(">>")
	return nil
}

// ReadLine returns the next line of engine output. It returns ErrReadTimeout
// when ctx's deadline passes first, ctx.Err() when ctx is canceled, and
// io.EOF once the engine has closed its output. Without a deadline on ctx
// the wait is bounded by the configured ReadTimeout.
func (p *Process) ReadLine(ctx context.Context) (string, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.readTimeout)
		defer cancel()
	}

	select {
	case line, ok := <-p.lines:
		if !ok {
			if p.readErr != nil {
				return "", fmt.Errorf("read engine output: %w", p.readErr)
			}
			return "", io.EOF
		}
		return line, nil
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", ErrReadTimeout
		}
		return "", ctx.Err()
	}
}

// Shutdown closes the engine's streams and makes sure the process is gone.
// It sends "quit" and closes stdin, waits up to the grace period for a clean
// exit, and kills the process if it is still running after that.
func (p *Process) Shutdown() error {
	var err error
	p.shutdownOnce.Do(func() {
		// A writer stuck on a full pipe holds the lock; closing stdin below
		// unblocks it, so never wait for the lock here.
		if p.wmu.TryLock() {
			if !p.Exited() {
				// An engine that stopped reading leaves the pipe full.
				_ = p.stdin.SetWriteDeadline(time.Now().Add(p.grace))
				_ = p.writeLocked("quit")
			}
			p.wmu.Unlock()
		}
		_ = p.stdin.Close()

		timer := time.NewTimer(p.grace)
		select {
		case <-p.exited:
		case <-timer.C:
			p.killed = true
			if kerr := p.cmd.Process.Kill(); kerr != nil && !errors.Is(kerr, os.ErrProcessDone) {
				err = fmt.Errorf("kill engine: %w", kerr)
			}
			<-p.exited
		}
		timer.Stop()

		close(p.done)
		_ = p.stdout.Close()
		_ = p.stderr.Close()

		how := "graceful"
		if p.killed {
			how = "killed"
		}
		p.log.Debug().Str("shutdown", how).AnErr("wait", p.waitErr).Msg("engine stopped")
	})
	return err
}

// Killed reports whether Shutdown had to kill the process.
func (p *Process) Killed() bool {
	select {
	case <-p.done:
		return p.killed
	default:
		return false
	}
}
