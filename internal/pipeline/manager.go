package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/MeKo-Tech/endzone/internal/artifacts"
	"github.com/MeKo-Tech/endzone/internal/detector"
	"github.com/MeKo-Tech/endzone/internal/features"
	"github.com/MeKo-Tech/endzone/internal/source"
	"github.com/google/uuid"
)

// Manager defaults.
const (
	DefaultSupervisorInterval = 50 * time.Millisecond
	DefaultProgressInterval   = 500 * time.Millisecond
	DefaultFlushTimeout       = 30 * time.Second
)

var (
	// ErrNotStarted is returned by control calls made before Start.
	ErrNotStarted = errors.New("pipeline not started")
	// ErrAlreadyStarted is returned when Start is called twice.
	ErrAlreadyStarted = errors.New("pipeline already started")
)

// Config describes one run.
type Config struct {
	RunID      string
	Source     string
	SourceKind string
	Open       source.Opener
	Regions    []artifacts.CropRegion

	NewDetector   DetectorFactory
	Slice         detector.SliceConfig
	TargetRegions []string
	MinConfidence float64
	TargetClass   string

	OutputDir  string
	SampleRate float64
	Engine     features.EngineConfig

	Readers         int
	Croppers        int
	Detectors       int
	ChunkSize       int
	MaxReorderDepth int
	EnhanceContrast bool

	// StopOnStageLoss stops the run when every worker of a stage failed
	// while its input is still open. Otherwise the run waits for a scale
	// request.
	StopOnStageLoss bool
	// FlushTimeout bounds how long Stop waits for in-flight units before
	// cancelling. Zero waits indefinitely.
	FlushTimeout time.Duration

	SaveCrops     bool
	Annotate      bool
	SnapshotEvery int

	SupervisorInterval time.Duration
	ProgressInterval   time.Duration
	Progress           ProgressCallback
	Logger             *slog.Logger
	Version            string
}

// Manager owns a run: its state, the elastic pools, the supervisor and the
// two single-instance stages.
type Manager struct {
	cfg      Config
	log      *slog.Logger
	progress ProgressCallback

	mu     sync.Mutex
	state  *ProcessingState
	pools  map[string]*Pool
	order  []*Pool
	cancel context.CancelFunc
	err    error

	stopOnce sync.Once
	wg       sync.WaitGroup
	done     chan struct{}
}

// NewManager validates cfg and fills defaults. Nothing runs until Start.
func NewManager(cfg Config) (*Manager, error) {
	switch {
	case cfg.Open == nil:
		return nil, errors.New("pipeline: no frame source")
	case cfg.NewDetector == nil:
		return nil, errors.New("pipeline: no detector factory")
	case len(cfg.Regions) == 0:
		return nil, errors.New("pipeline: no crop regions")
	case cfg.OutputDir == "":
		return nil, errors.New("pipeline: no output directory")
	case cfg.SampleRate <= 0:
		return nil, fmt.Errorf("pipeline: sample rate must be positive, got %v", cfg.SampleRate)
	}

	if cfg.RunID == "" {
		cfg.RunID = uuid.NewString()
	}
	if cfg.Engine == (features.EngineConfig{}) {
		cfg.Engine = features.DefaultEngineConfig()
	}
	cfg.Readers = max(cfg.Readers, 1)
	cfg.Croppers = max(cfg.Croppers, 1)
	cfg.Detectors = max(cfg.Detectors, 1)
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = DefaultChunkSize
	}
	if cfg.MaxReorderDepth <= 0 {
		cfg.MaxReorderDepth = features.DefaultMaxReorderDepth
	}
	if cfg.SnapshotEvery <= 0 {
		cfg.SnapshotEvery = DefaultSnapshotEvery
	}
	if cfg.SupervisorInterval <= 0 {
		cfg.SupervisorInterval = DefaultSupervisorInterval
	}
	if cfg.ProgressInterval <= 0 {
		cfg.ProgressInterval = DefaultProgressInterval
	}
	if len(cfg.TargetRegions) == 0 {
		cfg.TargetRegions = DefaultTargetRegions
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	progress := cfg.Progress
	if progress == nil {
		progress = NoOpProgressCallback{}
	}
	return &Manager{
		cfg:      cfg,
		log:      logger.With("run_id", cfg.RunID),
		progress: progress,
		done:     make(chan struct{}),
	}, nil
}

// RunID returns the run's id.
func (m *Manager) RunID() string { return m.cfg.RunID }

// Start opens the source to read its length, writes metadata.json and
// launches every stage.
// It returns once the run is underway; use Wait for completion.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != nil {
		return ErrAlreadyStarted
	}

	total, fps, err := m.inspectSource()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(m.cfg.OutputDir, 0o750); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	if err := artifacts.WriteMetadata(m.cfg.OutputDir, m.metadata(total, fps)); err != nil {
		return fmt.Errorf("write metadata: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.state = NewProcessingState(m.cfg.RunID, total)
	m.log.Info("starting run", "units", total, "source_fps", fps, "sample_rate", m.cfg.SampleRate,
		"readers", m.cfg.Readers, "croppers", m.cfg.Croppers, "detectors", m.cfg.Detectors)

	rawCh := make(chan RawFrame, 2*m.cfg.Readers)
	cropQ := newQueue[PreprocessedFrame](runCtx)
	detQ := newQueue[DetectedFrame](runCtx)
	finCh := make(chan DetectedFrame, m.cfg.Detectors)

	reader := &ReadWorker{
		Ranges: NewRangePool(total, m.cfg.ChunkSize),
		Open:   m.cfg.Open,
		Out:    rawCh,
		State:  m.state,
		Logger: m.stageLogger(StageReader),
	}
	cropper := &CropWorker{
		Regions: m.cfg.Regions,
		Enhance: m.cfg.EnhanceContrast,
		In:      rawCh,
		Out:     cropQ.In(),
		State:   m.state,
		Logger:  m.stageLogger(StageCrop),
	}
	detect := &DetectWorker{
		NewDetector:   m.cfg.NewDetector,
		Slice:         m.cfg.Slice,
		Targets:       m.cfg.TargetRegions,
		MinConfidence: m.cfg.MinConfidence,
		TargetClass:   m.cfg.TargetClass,
		In:            cropQ.Out(),
		Out:           detQ.In(),
		State:         m.state,
		Logger:        m.stageLogger(StageDetect),
	}
	feature := &FeatureStage{
		Engine:          m.cfg.Engine,
		MaxReorderDepth: m.cfg.MaxReorderDepth,
		OutputDir:       m.cfg.OutputDir,
		In:              detQ.Out(),
		Out:             finCh,
		State:           m.state,
		Logger:          m.stageLogger(StageFeature),
	}
	finalize := &FinalizeStage{
		OutputDir:     m.cfg.OutputDir,
		SaveCrops:     m.cfg.SaveCrops,
		Annotate:      m.cfg.Annotate,
		SnapshotEvery: m.cfg.SnapshotEvery,
		In:            finCh,
		State:         m.state,
		Logger:        m.stageLogger(StageFinalize),
	}

	m.pools = make(map[string]*Pool, len(ElasticStages))
	m.order = nil
	counts := map[string]int{StageReader: m.cfg.Readers, StageCrop: m.cfg.Croppers, StageDetect: m.cfg.Detectors}
	runs := map[string]WorkerFunc{StageReader: reader.Run, StageCrop: cropper.Run, StageDetect: detect.Run}
	for _, stage := range ElasticStages {
		p := NewPool(runCtx, stage, runs[stage], m.log)
		p.onExit = m.workerExited
		if stage == StageReader {
			p.SetPending(func() bool { return reader.State.IsActive() && reader.Ranges.Remaining() > 0 })
		}
		m.pools[stage] = p
		m.order = append(m.order, p)
		m.state.registerPool(stage, p)
	}
	closers := []func(){
		func() { close(rawCh) },
		cropQ.Close,
		detQ.Close,
	}

	m.progress.OnStart(total)
	for _, p := range m.order {
		p.Start(counts[p.Stage()])
		observeWorkers(p)
	}

	m.wg.Add(3)
	go m.supervise(closers)
	go m.runFeature(runCtx, feature)
	go m.runFinalize(finalize)
	go m.report()
	return nil
}

func (m *Manager) inspectSource() (total int, fps float64, err error) {
	src, err := m.cfg.Open()
	if err != nil {
		return 0, 0, fmt.Errorf("open source: %w", err)
	}
	defer func() { _ = src.Close() }()
	total, fps = src.UnitCount(), src.SourceFPS()
	if total <= 0 {
		return 0, 0, fmt.Errorf("source %s has no units", m.cfg.Source)
	}
	return total, fps, nil
}

func (m *Manager) metadata(total int, fps float64) artifacts.Metadata {
	names := make([]string, len(m.cfg.Regions))
	for i, r := range m.cfg.Regions {
		names[i] = r.Name
	}
	return artifacts.Metadata{
		RunID:      m.cfg.RunID,
		Source:     m.cfg.Source,
		SourceKind: m.cfg.SourceKind,
		SampleRate: m.cfg.SampleRate,
		TeamSize:   m.cfg.Engine.TeamSize,
		TotalUnits: total,
		SourceFPS:  fps,
		Crops:      names,
		CreatedAt:  time.Now().UTC(),
		Version:    m.cfg.Version,
	}
}

// supervise seals the elastic pools strictly in pipeline order, closing
// each output only once its producers can no longer send.
func (m *Manager) supervise(closers []func()) {
	defer m.wg.Done()
	ticker := time.NewTicker(m.cfg.SupervisorInterval)
	defer ticker.Stop()

	sealed := 0
	for {
		for sealed < len(m.order) && m.order[sealed].SealIfDrained() {
			p := m.order[sealed]
			closers[sealed]()
			m.log.Info("stage drained, output closed", "stage", p.Stage())
			sealed++
		}
		for _, p := range m.order {
			observeWorkers(p)
			if err := p.takeLoss(); err != nil {
				m.stageLost(p.Stage(), err)
			}
		}
		if sealed == len(m.order) {
			return
		}
		<-ticker.C
	}
}

func (m *Manager) stageLost(stage string, err error) {
	msg := fmt.Sprintf("all %s workers failed: %v", stage, err)
	m.state.SetError(msg)
	if !m.cfg.StopOnStageLoss {
		m.log.Error("stage lost, waiting for scale request", "stage", stage, "error", err)
		return
	}
	m.log.Error("stage lost, stopping run", "stage", stage, "error", err)
	m.mu.Lock()
	m.err = errors.Join(m.err, fmt.Errorf("stage %s lost: %w", stage, err))
	m.mu.Unlock()
	m.Stop()
}

func (m *Manager) workerExited(stage string, err error) {
	if err == nil {
		return
	}
	workerFailures.WithLabelValues(stage).Inc()
	m.state.SetError(fmt.Sprintf("%s: %v", stage, err))
	m.progress.OnError(stage, err)
}

func (m *Manager) runFeature(ctx context.Context, s *FeatureStage) {
	defer m.wg.Done()
	if err := s.Run(ctx); err != nil {
		m.log.Error("feature stage failed", "error", err)
		m.state.SetError(fmt.Sprintf("%s: %v", StageFeature, err))
		m.mu.Lock()
		m.err = errors.Join(m.err, err)
		m.mu.Unlock()
		// Nothing downstream can use further units.
		m.cancel()
	}
}

func (m *Manager) runFinalize(s *FinalizeStage) {
	defer m.wg.Done()
	if err := s.Run(); err != nil {
		m.log.Error("finalize failed", "error", err)
		m.state.SetError(fmt.Sprintf("%s: %v", StageFinalize, err))
		m.mu.Lock()
		m.err = errors.Join(m.err, err)
		m.mu.Unlock()
	}
}

// report publishes snapshots until the run finished, then tears down.
func (m *Manager) report() {
	finished := make(chan struct{})
	go func() {
		m.wg.Wait()
		for _, p := range m.order {
			p.Wait()
		}
		close(finished)
	}()

	ticker := time.NewTicker(m.cfg.ProgressInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			m.progress.OnProgress(m.state.Snapshot())
		case <-finished:
			m.cancel()
			snap := m.state.Snapshot()
			m.log.Info("run finished", "processed", snap.FramesProcessed, "total", snap.TotalFrames,
				"total_corrected", m.state.TotalCorrected(), "error", snap.Error)
			m.progress.OnComplete(snap)
			close(m.done)
			return
		}
	}
}

// ScaleWorkers changes an elastic stage's target by delta and returns the
// new target. A zero delta respawns workers lost to failures.
func (m *Manager) ScaleWorkers(stage string, delta int) (int, error) {
	m.mu.Lock()
	p, ok := m.pools[stage]
	started := m.state != nil
	m.mu.Unlock()
	if !started {
		return 0, ErrNotStarted
	}
	if !ok {
		return 0, fmt.Errorf("%q: %w", stage, ErrUnknownStage)
	}
	target, err := p.Scale(delta)
	observeWorkers(p)
	return target, err
}

// Stop asks the run to wind down: readers stop at the next unit, every
// pool may seal once its workers exit, and what is already in flight is
// flushed to the artifacts. After FlushTimeout the run is cancelled.
func (m *Manager) Stop() {
	m.mu.Lock()
	started := m.state != nil
	m.mu.Unlock()
	if !started {
		return
	}
	m.stopOnce.Do(func() {
		m.log.Info("stop requested, draining in-flight units")
		m.state.Deactivate()
		for _, p := range m.order {
			p.Drain()
		}
		if m.cfg.FlushTimeout <= 0 {
			return
		}
		go func() {
			t := time.NewTimer(m.cfg.FlushTimeout)
			defer t.Stop()
			select {
			case <-t.C:
				m.log.Warn("flush timeout reached, cancelling run", "timeout", m.cfg.FlushTimeout)
				m.cancel()
			case <-m.done:
			}
		}()
	})
}

// Progress returns a snapshot of the run.
func (m *Manager) Progress() Snapshot {
	m.mu.Lock()
	state := m.state
	m.mu.Unlock()
	if state == nil {
		return Snapshot{RunID: m.cfg.RunID}
	}
	return state.Snapshot()
}

// State returns the run's shared state, nil before Start.
func (m *Manager) State() *ProcessingState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Done is closed once finalize completed and every worker exited.
func (m *Manager) Done() <-chan struct{} { return m.done }

// Wait blocks until the run finished and returns its fatal errors.
func (m *Manager) Wait() error {
	if m.State() == nil {
		return ErrNotStarted
	}
	<-m.done
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.err
}

func (m *Manager) stageLogger(stage string) *slog.Logger {
	return m.log.With("stage", stage)
}
