package eval

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/kejdas/chess-game-analyzer/internal/engine"
)

// PoolConfig configures a Pool.
type PoolConfig struct {
	Process engine.ProcessConfig
	Size    int // 0 = spawn per checkout, never keep idle processes
	Logger  zerolog.Logger
}

// Pool hands out engine processes with check-out/check-in semantics. At most
// one caller holds a given process at a time. With Size > 0 at most Size
// processes exist and healthy ones are kept warm between checkouts.
type Pool struct {
	cfg PoolConfig
	log zerolog.Logger
	sem *semaphore.Weighted // nil when Size == 0

	mu     sync.Mutex
	idle   []*engine.Process
	inUse  map[*engine.Process]struct{}
	closed bool

	spawned int64
	reused  int64
}

// NewPool creates an empty pool. Processes are spawned lazily.
func NewPool(cfg PoolConfig) *Pool {
	p := &Pool{
		cfg:   cfg,
		log:   cfg.Logger.With().Str("component", "pool").Logger(),
		inUse: make(map[*engine.Process]struct{}),
	}
	if cfg.Size > 0 {
		p.sem = semaphore.NewWeighted(int64(cfg.Size))
	}
	return p
}

var errPoolClosed = errors.New("engine pool is closed")

// Acquire checks out a process, reusing an idle one when available. It
// reports whether the process was reused. Waiting for a free slot is bounded
// by ctx.
func (p *Pool) Acquire(ctx context.Context) (*engine.Process, bool, error) {
	if p.isClosed() {
		return nil, false, engine.NewError(engine.KindEngineUnavailable, "acquire", errPoolClosed)
	}
	if p.sem != nil {
		if err := p.sem.Acquire(ctx, 1); err != nil {
			if errors.Is(err, context.Canceled) {
				return nil, false, engine.NewError(engine.KindCanceled, "acquire", err)
			}
			return nil, false, engine.NewError(engine.KindEngineUnavailable, "acquire",
				errors.New("no engine became free before the deadline"))
		}
	}

	if proc := p.popIdle(); proc != nil {
		atomic.AddInt64(&p.reused, 1)
		return proc, true, nil
	}

	proc, err := engine.Start(p.cfg.Process)
	if err != nil {
		p.releaseSlot()
		return nil, false, err
	}
	atomic.AddInt64(&p.spawned, 1)

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		proc.Shutdown()
		p.releaseSlot()
		return nil, false, engine.NewError(engine.KindEngineUnavailable, "acquire", errPoolClosed)
	}
	p.inUse[proc] = struct{}{}
	p.mu.Unlock()

	p.log.Debug().Int("pid", proc.Pid()).Msg("spawned engine")
	return proc, false, nil
}

// popIdle takes the most recently returned live process off the idle list.
// Idle processes that died while parked are torn down.
func (p *Pool) popIdle() *engine.Process {
	var dead []*engine.Process
	defer func() {
		for _, proc := range dead {
			proc.Shutdown()
		}
	}()

	p.mu.Lock()
	defer p.mu.Unlock()
	for len(p.idle) > 0 {
		proc := p.idle[len(p.idle)-1]
		p.idle = p.idle[:len(p.idle)-1]
		if proc.Exited() {
			dead = append(dead, proc)
			continue
		}
		p.inUse[proc] = struct{}{}
		return proc
	}
	return nil
}

// Release checks a process back in. Healthy processes are parked for reuse
// when the pool keeps warm processes; everything else is shut down before
// Release returns.
func (p *Pool) Release(proc *engine.Process, healthy bool) {
	p.mu.Lock()
	delete(p.inUse, proc)
	keep := healthy && p.sem != nil && !p.closed && !proc.Exited()
	if keep {
		p.idle = append(p.idle, proc)
	}
	p.mu.Unlock()

	if !keep {
		if err := proc.Shutdown(); err != nil {
			p.log.Debug().Err(err).Int("pid", proc.Pid()).Msg("engine shutdown")
		}
	}
	p.releaseSlot()
}

func (p *Pool) releaseSlot() {
	if p.sem != nil {
		p.sem.Release(1)
	}
}

func (p *Pool) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// Close shuts down every idle and checked-out process and refuses further
// checkouts. Callers holding a process see it fail as EngineUnavailable.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	procs := append([]*engine.Process(nil), p.idle...)
	p.idle = nil
	for proc := range p.inUse {
		procs = append(procs, proc)
	}
	p.mu.Unlock()

	var wg sync.WaitGroup
	for _, proc := range procs {
		wg.Add(1)
		go func(proc *engine.Process) {
			defer wg.Done()
			proc.Shutdown()
		}(proc)
	}
	wg.Wait()

	p.log.Info().Int("processes", len(procs)).Msg("engine pool closed")
	return nil
}

// PoolStats is a snapshot of pool usage.
type PoolStats struct {
	Size    int   `json:"size"`
	Idle    int   `json:"idle"`
	InUse   int   `json:"in_use"`
	Spawned int64 `json:"spawned"`
	Reused  int64 `json:"reused"`
}

// Stats returns current pool statistics.
func (p *Pool) Stats() PoolStats {
	p.mu.Lock()
	idle, inUse := len(p.idle), len(p.inUse)
	p.mu.Unlock()
	return PoolStats{
		Size:    p.cfg.Size,
		Idle:    idle,
		InUse:   inUse,
		Spawned: atomic.LoadInt64(&p.spawned),
		Reused:  atomic.LoadInt64(&p.reused),
	}
}
