// Package runs keeps track of the pipeline runs owned by one process.
package runs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/MeKo-Tech/endzone/internal/pipeline"
)

var (
	// ErrRunNotFound is returned for ids the registry never saw.
	ErrRunNotFound = errors.New("run not found")
	// ErrRunActive is returned when starting an id that is still running.
	ErrRunActive = errors.New("run already active")
)

// Info describes a registered run.
type Info struct {
	ID        string            `json:"id"`
	Source    string            `json:"source"`
	OutputDir string            `json:"output_dir"`
	StartedAt time.Time         `json:"started_at"`
	Progress  pipeline.Snapshot `json:"progress"`
}

type entry struct {
	manager   *pipeline.Manager
	source    string
	outputDir string
	startedAt time.Time
}

func (e *entry) running() bool {
	select {
	case <-e.manager.Done():
		return false
	default:
		return true
	}
}

// DefaultMaxFinished caps how many finished runs stay listed.
const DefaultMaxFinished = 1024

// Registry maps run ids to their managers. Finished runs stay listed so
// their final progress can still be read; past maxFinished the oldest
// finished runs are dropped.
type Registry struct {
	mu          sync.RWMutex
	runs        map[string]*entry
	order       []string
	maxFinished int
	log         *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		runs:        make(map[string]*entry),
		maxFinished: DefaultMaxFinished,
		log:         logger,
	}
}

// Start creates and starts a run. An empty cfg.RunID gets a fresh uuid. An
// id whose previous run finished is replaced; a running one is refused.
// ctx bounds the whole run, not just the call.
func (r *Registry) Start(ctx context.Context, cfg pipeline.Config) (*pipeline.Manager, error) {
	m, err := pipeline.NewManager(cfg)
	if err != nil {
		return nil, err
	}
	id := m.RunID()
	e := &entry{manager: m, source: cfg.Source, outputDir: cfg.OutputDir, startedAt: time.Now()}

	r.mu.Lock()
	prev, ok := r.runs[id]
	if ok {
		if prev.running() {
			r.mu.Unlock()
			return nil, fmt.Errorf("%s: %w", id, ErrRunActive)
		}
	} else {
		r.order = append(r.order, id)
	}
	// Reserved before Start so a concurrent start of the same id is refused.
	r.runs[id] = e
	r.pruneLocked()
	r.mu.Unlock()

	if err := m.Start(ctx); err != nil {
		r.release(id, e, prev)
		return nil, err
	}
	r.log.Info("run registered", "run_id", id, "source", cfg.Source)
	return m, nil
}

// release undoes the reservation e of id after a failed start, putting back
// the finished run prev it replaced, if any.
func (r *Registry) release(id string, e, prev *entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.runs[id] != e {
		return
	}
	if prev != nil {
		r.runs[id] = prev
		return
	}
	delete(r.runs, id)
	for i, v := range r.order {
		if v == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// pruneLocked drops the oldest finished runs beyond maxFinished.
func (r *Registry) pruneLocked() {
	finished := 0
	for _, id := range r.order {
		if !r.runs[id].running() {
			finished++
		}
	}
	if finished <= r.maxFinished {
		return
	}
	kept := r.order[:0]
	for _, id := range r.order {
		if finished > r.maxFinished && !r.runs[id].running() {
			delete(r.runs, id)
			finished--
			continue
		}
		kept = append(kept, id)
	}
	r.order = kept
}

// Get returns the manager of a run.
func (r *Registry) Get(id string) (*pipeline.Manager, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.runs[id]
	if !ok {
		return nil, fmt.Errorf("%s: %w", id, ErrRunNotFound)
	}
	return e.manager, nil
}

// Stop asks a run to drain. Stopping a finished run is a no-op.
func (r *Registry) Stop(id string) error {
	m, err := r.Get(id)
	if err != nil {
		return err
	}
	m.Stop()
	return nil
}

// List returns every run in start order.
func (r *Registry) List() []Info {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Info, 0, len(r.order))
	for _, id := range r.order {
		e := r.runs[id]
		out = append(out, Info{
			ID:        id,
			Source:    e.source,
			OutputDir: e.outputDir,
			StartedAt: e.startedAt,
			Progress:  e.manager.Progress(),
		})
	}
	return out
}

// Active returns the number of runs still in flight.
func (r *Registry) Active() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, e := range r.runs {
		if e.running() {
			n++
		}
	}
	return n
}

// Shutdown stops every running run and waits for them to finish or for ctx
// to expire.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.RLock()
	var pending []*entry
	for _, e := range r.runs {
		if e.running() {
			pending = append(pending, e)
		}
	}
	r.mu.RUnlock()

	for _, e := range pending {
		e.manager.Stop()
	}
	for _, e := range pending {
		select {
		case <-e.manager.Done():
		case <-ctx.Done():
			return fmt.Errorf("waiting for runs to drain: %w", ctx.Err())
		}
	}
	if len(pending) > 0 {
		r.log.Info("runs drained", "count", len(pending))
	}
	return nil
}
