package pipeline

import (
	"sync"
	"sync/atomic"

	"github.com/MeKo-Tech/endzone/internal/common"
)

// emaAlpha weights a new sample in the moving averages.
const emaAlpha = 0.05

// StageProgress is the per-stage slot of a progress snapshot.
type StageProgress struct {
	Current   int64   `json:"current"`
	Total     int64   `json:"total"`
	MsPerUnit float64 `json:"ms_per_unit"`
}

// WorkerCount reports a pool's live and desired worker counts.
type WorkerCount struct {
	Active int `json:"active"`
	Target int `json:"target"`
}

// Resources is a point-in-time view of process memory.
type Resources struct {
	HeapBytes  uint64 `json:"heap_bytes"`
	SysBytes   uint64 `json:"sys_bytes"`
	NumGC      uint32 `json:"num_gc"`
	Goroutines int    `json:"goroutines"`
}

// Snapshot is a consistent copy of ProcessingState for progress readers.
type Snapshot struct {
	RunID           string                   `json:"run_id"`
	FramesRead      int64                    `json:"frames_read"`
	FramesProcessed int64                    `json:"frames_processed"`
	TotalFrames     int64                    `json:"total_frames"`
	IsActive        bool                     `json:"is_active"`
	IsComplete      bool                     `json:"is_complete"`
	Error           string                   `json:"error,omitempty"`
	ProcessingRate  float64                  `json:"processing_rate"`
	Stages          map[string]StageProgress `json:"stages"`
	Workers         map[string]WorkerCount   `json:"workers"`
	Resources       Resources                `json:"resources"`
}

type workerCounter interface {
	Active() int
	Target() int
}

// ProcessingState is shared by every worker of a run. Counters are atomics;
// the stage map and rate sit behind a read-write lock and each slot is only
// written by its own stage.
type ProcessingState struct {
	runID string

	framesRead      atomic.Int64
	framesProcessed atomic.Int64
	totalUnits      atomic.Int64
	totalCorrected  atomic.Bool
	active          atomic.Bool
	complete        atomic.Bool

	mu     sync.RWMutex
	stages map[string]*StageProgress
	rate   float64
	err    string
	pools  map[string]workerCounter
}

// NewProcessingState creates an active state for a run of total units.
func NewProcessingState(runID string, total int) *ProcessingState {
	s := &ProcessingState{
		runID:  runID,
		stages: make(map[string]*StageProgress, len(Stages)),
		pools:  make(map[string]workerCounter, len(ElasticStages)),
	}
	s.totalUnits.Store(int64(total))
	s.active.Store(true)
	for _, name := range Stages {
		s.stages[name] = &StageProgress{Total: int64(total)}
	}
	return s
}

// RunID returns the run this state belongs to.
func (s *ProcessingState) RunID() string { return s.runID }

// Total returns the current total unit count.
func (s *ProcessingState) Total() int { return int(s.totalUnits.Load()) }

// IsActive reports whether the run has not been stopped or completed.
func (s *ProcessingState) IsActive() bool { return s.active.Load() }

// IsComplete reports whether finalize performed its last write.
func (s *ProcessingState) IsComplete() bool { return s.complete.Load() }

// Deactivate clears the global active flag. Workers see it between units.
func (s *ProcessingState) Deactivate() { s.active.Store(false) }

// MarkComplete sets the completion flag and clears the active flag.
func (s *ProcessingState) MarkComplete() {
	s.complete.Store(true)
	s.active.Store(false)
}

// AddRead counts one decoded unit.
func (s *ProcessingState) AddRead() { s.framesRead.Add(1) }

// AddProcessed counts one unit that left the feature stage.
func (s *ProcessingState) AddProcessed() { s.framesProcessed.Add(1) }

// UpdateStage adds n to a stage's counter and folds ms into its moving
// average. The first sample seeds the average.
func (s *ProcessingState) UpdateStage(stage string, n int, ms float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.stages[stage]
	if !ok {
		p = &StageProgress{Total: s.totalUnits.Load()}
		s.stages[stage] = p
	}
	p.Current += int64(n)
	p.MsPerUnit = ema(p.MsPerUnit, ms)
}

// ObserveThroughput folds one unit latency into the global rate, in units
// per second.
func (s *ProcessingState) ObserveThroughput(ms float64) {
	if ms <= 0 {
		return
	}
	s.mu.Lock()
	s.rate = ema(s.rate, 1000/ms)
	s.mu.Unlock()
}

// CorrectTotal lowers the total to n for every stage. The total only ever
// decreases: a value at or above the current total is ignored, so readers
// racing past the real end settle on the earliest end of stream reported.
// It reports whether this call changed the total.
func (s *ProcessingState) CorrectTotal(n int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if int64(n) >= s.totalUnits.Load() {
		return false
	}
	s.totalCorrected.Store(true)
	s.totalUnits.Store(int64(n))
	for _, p := range s.stages {
		p.Total = int64(n)
	}
	return true
}

// TotalCorrected reports whether end of stream shortened the run.
func (s *ProcessingState) TotalCorrected() bool { return s.totalCorrected.Load() }

// SetError records the first fatal error message; later ones are dropped.
func (s *ProcessingState) SetError(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err == "" {
		s.err = msg
	}
}

// Err returns the recorded error message, if any.
func (s *ProcessingState) Err() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.err
}

func (s *ProcessingState) registerPool(stage string, p workerCounter) {
	s.mu.Lock()
	s.pools[stage] = p
	s.mu.Unlock()
}

// Snapshot copies the state for readers.
func (s *ProcessingState) Snapshot() Snapshot {
	snap := Snapshot{
		RunID:           s.runID,
		FramesRead:      s.framesRead.Load(),
		FramesProcessed: s.framesProcessed.Load(),
		TotalFrames:     s.totalUnits.Load(),
		IsActive:        s.active.Load(),
		IsComplete:      s.complete.Load(),
	}

	s.mu.RLock()
	snap.Stages = make(map[string]StageProgress, len(s.stages))
	snap.Workers = make(map[string]WorkerCount, len(s.pools))
	snap.Error = s.err
	snap.ProcessingRate = s.rate
	for name, p := range s.stages {
		snap.Stages[name] = *p
	}
	pools := make(map[string]workerCounter, len(s.pools))
	for name, p := range s.pools {
		pools[name] = p
	}
	s.mu.RUnlock()

	for name, p := range pools {
		snap.Workers[name] = WorkerCount{Active: p.Active(), Target: p.Target()}
	}

	mem := common.GetMemoryStats()
	snap.Resources = Resources{
		HeapBytes:  mem.HeapAlloc,
		SysBytes:   mem.Sys,
		NumGC:      mem.NumGC,
		Goroutines: mem.Goroutines,
	}
	return snap
}

func ema(prev, sample float64) float64 {
	if prev == 0 {
		return sample
	}
	return prev*(1-emaAlpha) + sample*emaAlpha
}
