package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
)

var (
	// ErrPoolSealed is returned when scaling a pool whose output was closed.
	ErrPoolSealed = errors.New("worker pool is sealed")
	// ErrUnknownStage is returned for a scale request naming no elastic stage.
	ErrUnknownStage = errors.New("unknown stage")
)

// Token is a worker's cancellation token. A retired token asks its worker
// to exit at the next unit boundary.
type Token struct {
	id      int
	retired atomic.Bool
}

// ID is the worker's spawn sequence number within its pool.
func (t *Token) ID() int { return t.id }

// Retired reports whether the worker should exit before its next unit.
func (t *Token) Retired() bool { return t.retired.Load() }

// WorkerFunc is one worker's loop. It returns nil when its input is
// exhausted or its token was retired, and an error when it cannot continue.
type WorkerFunc func(ctx context.Context, tok *Token) error

// Pool is an elastic, supervised set of workers running the same loop.
// The target is never below one; growing spawns workers at once, shrinking
// retires the newest live tokens, which exit between units.
type Pool struct {
	stage  string
	run    WorkerFunc
	logger *slog.Logger
	ctx    context.Context
	onExit func(stage string, err error)
	// pending reports input still waiting to be taken; nil means none.
	pending func() bool

	mu        sync.Mutex
	target    int
	live      []*Token
	nextID    int
	sealed    bool
	exhausted bool
	draining  bool
	lastErr   error
	lossSent  bool

	active atomic.Int32
	wg     sync.WaitGroup
}

// NewPool creates a pool; no worker runs until Start.
func NewPool(ctx context.Context, stage string, run WorkerFunc, logger *slog.Logger) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{
		stage:  stage,
		run:    run,
		logger: logger.With("stage", stage),
		ctx:    ctx,
	}
}

// SetPending installs the check for input still waiting to be taken. While
// it reports true the pool neither seals nor counts as exhausted, and a
// worker exiting cleanly as the last running one is replaced. Call before
// Start.
func (p *Pool) SetPending(fn func() bool) {
	p.mu.Lock()
	p.pending = fn
	p.mu.Unlock()
}

// Stage returns the pool's stage name.
func (p *Pool) Stage() string { return p.stage }

// Start spawns n workers (at least one).
func (p *Pool) Start(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	n = max(n, 1)
	p.target = n
	for range n {
		p.spawnLocked()
	}
}

// Scale adjusts the target by delta and returns the new target.
func (p *Pool) Scale(delta int) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sealed {
		return p.target, fmt.Errorf("%s: %w", p.stage, ErrPoolSealed)
	}
	newTarget := max(p.target+delta, 1)

	// Live workers may be fewer than target after failures; top up to target.
	running := p.runningLocked()
	for running < newTarget {
		p.spawnLocked()
		running++
	}
	if running > newTarget {
		p.retireNewestLocked(running - newTarget)
	}
	p.logger.Info("scaled worker pool", "from", p.target, "to", newTarget)
	p.target = newTarget
	return newTarget, nil
}

// Target returns the desired worker count.
func (p *Pool) Target() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.target
}

// Active returns the number of workers currently running.
func (p *Pool) Active() int { return int(p.active.Load()) }

// Wait blocks until every spawned worker has exited.
func (p *Pool) Wait() { p.wg.Wait() }

// SealIfDrained seals the pool once no worker is running and no further
// input will be taken: input was exhausted, the pool is draining or the
// run was cancelled. A sealed pool refuses Scale.
func (p *Pool) SealIfDrained() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sealed {
		return true
	}
	if len(p.live) > 0 {
		return false
	}
	if p.inputLeftLocked() {
		return false
	}
	if !p.exhausted && !p.draining && p.ctx.Err() == nil {
		return false
	}
	p.sealed = true
	return true
}

// Drain lets the pool seal as soon as its running workers exit, even with
// input left. Used when the run is stopping.
func (p *Pool) Drain() {
	p.mu.Lock()
	p.draining = true
	p.mu.Unlock()
}

// takeLoss returns the last worker error when every worker failed with
// input remaining, at most once per loss.
func (p *Pool) takeLoss() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sealed || p.exhausted || p.draining || len(p.live) > 0 || p.lastErr == nil || p.lossSent {
		return nil
	}
	p.lossSent = true
	return p.lastErr
}

// inputLeftLocked reports input that a live run still has to take.
func (p *Pool) inputLeftLocked() bool {
	return p.pending != nil && !p.draining && p.ctx.Err() == nil && p.pending()
}

func (p *Pool) runningLocked() int {
	n := 0
	for _, t := range p.live {
		if !t.Retired() {
			n++
		}
	}
	return n
}

func (p *Pool) retireNewestLocked(n int) {
	for i := len(p.live) - 1; i >= 0 && n > 0; i-- {
		if p.live[i].retired.CompareAndSwap(false, true) {
			n--
		}
	}
}

func (p *Pool) spawnLocked() {
	tok := &Token{id: p.nextID}
	p.nextID++
	p.live = append(p.live, tok)
	p.lossSent = false
	p.active.Add(1)
	p.wg.Add(1)
	go p.work(tok)
}

func (p *Pool) work(tok *Token) {
	defer p.wg.Done()
	log := p.logger.With("worker", tok.id)
	log.Debug("worker started")

	err := p.run(p.ctx, tok)

	p.mu.Lock()
	for i, t := range p.live {
		if t == tok {
			p.live = append(p.live[:i], p.live[i+1:]...)
			break
		}
	}
	replaced := false
	switch {
	case err != nil:
		p.lastErr = err
	case p.inputLeftLocked():
		// A retired worker handed input back after the others saw none.
		if !p.sealed && p.runningLocked() == 0 {
			p.exhausted = false
			p.spawnLocked()
			replaced = true
		}
	case !tok.Retired() && p.ctx.Err() == nil:
		p.exhausted = true
	}
	p.mu.Unlock()
	p.active.Add(-1)

	if err != nil {
		log.Error("worker failed", "error", err)
	} else {
		log.Debug("worker exited", "retired", tok.Retired(), "replaced", replaced)
	}
	if p.onExit != nil {
		p.onExit(p.stage, err)
	}
}
