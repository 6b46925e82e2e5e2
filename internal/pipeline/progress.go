package pipeline

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"
)

// ProgressCallback receives run progress from the Manager.
type ProgressCallback interface {
	// OnStart is called once with the advertised unit count.
	OnStart(total int)

	// OnProgress is called periodically with a fresh snapshot.
	OnProgress(s Snapshot)

	// OnComplete is called once after finalize wrote its last file.
	OnComplete(s Snapshot)

	// OnError is called when a worker of stage exits with a fatal error.
	OnError(stage string, err error)
}

// NoOpProgressCallback implements ProgressCallback but does nothing.
type NoOpProgressCallback struct{}

func (NoOpProgressCallback) OnStart(int)           {}
func (NoOpProgressCallback) OnProgress(Snapshot)   {}
func (NoOpProgressCallback) OnComplete(Snapshot)   {}
func (NoOpProgressCallback) OnError(string, error) {}

// ConsoleProgressCallback draws a single-line progress bar with the
// processing rate and the worker counts of the elastic stages.
type ConsoleProgressCallback struct {
	writer    io.Writer
	prefix    string
	width     int
	mutex     sync.Mutex
	startTime time.Time
}

// NewConsoleProgressCallback creates a console reporter writing to writer
// (stderr when nil).
func NewConsoleProgressCallback(writer io.Writer, prefix string) *ConsoleProgressCallback {
	if writer == nil {
		writer = os.Stderr
	}
	return &ConsoleProgressCallback{writer: writer, prefix: prefix, width: 40}
}

// WithWidth sets the progress bar width.
func (c *ConsoleProgressCallback) WithWidth(width int) *ConsoleProgressCallback {
	c.width = width
	return c
}

func (c *ConsoleProgressCallback) OnStart(total int) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.startTime = time.Now()
	_, _ = fmt.Fprintf(c.writer, "%s0/%d units\n", c.prefix, total)
}

func (c *ConsoleProgressCallback) OnProgress(s Snapshot) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	_, _ = fmt.Fprint(c.writer, "\r"+c.line(s))
}

func (c *ConsoleProgressCallback) OnComplete(s Snapshot) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	_, _ = fmt.Fprintf(c.writer, "\r%s\n%sCompleted %d units in %v\n",
		c.line(s), c.prefix, s.FramesProcessed, time.Since(c.startTime).Round(time.Millisecond))
}

func (c *ConsoleProgressCallback) OnError(stage string, err error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	_, _ = fmt.Fprintf(c.writer, "\n%s%s worker failed: %v\n", c.prefix, stage, err)
}

func (c *ConsoleProgressCallback) line(s Snapshot) string {
	total := max(s.TotalFrames, 1)
	done := min(s.FramesProcessed, total)
	filled := int(int64(c.width) * done / total)
	bar := strings.Repeat("█", filled) + strings.Repeat("░", c.width-filled)

	var b strings.Builder
	fmt.Fprintf(&b, "%s[%s] %d/%d (%.1f%%)", c.prefix, bar, s.FramesProcessed, s.TotalFrames,
		float64(done)/float64(total)*100)
	if s.ProcessingRate > 0 {
		fmt.Fprintf(&b, " %.1f/s", s.ProcessingRate)
	}
	for _, stage := range ElasticStages {
		if w, ok := s.Workers[stage]; ok {
			fmt.Fprintf(&b, " %s:%d/%d", stage, w.Active, w.Target)
		}
	}
	return b.String()
}

// LogProgressCallback logs progress with slog every interval processed
// units.
type LogProgressCallback struct {
	logger   *slog.Logger
	level    slog.Level
	interval int64
	mutex    sync.Mutex
	lastLog  int64
	start    time.Time
}

// NewLogProgressCallback creates a log-based progress reporter.
func NewLogProgressCallback(logger *slog.Logger, level slog.Level) *LogProgressCallback {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogProgressCallback{logger: logger, level: level, interval: 100}
}

// WithInterval sets how many processed units pass between log lines.
func (l *LogProgressCallback) WithInterval(interval int) *LogProgressCallback {
	l.interval = int64(max(interval, 1))
	return l
}

func (l *LogProgressCallback) OnStart(total int) {
	l.mutex.Lock()
	l.start = time.Now()
	l.lastLog = 0
	l.mutex.Unlock()
	l.logger.Log(nil, l.level, "processing started", "total", total)
}

func (l *LogProgressCallback) OnProgress(s Snapshot) {
	l.mutex.Lock()
	if s.FramesProcessed-l.lastLog < l.interval {
		l.mutex.Unlock()
		return
	}
	l.lastLog = s.FramesProcessed
	elapsed := time.Since(l.start)
	l.mutex.Unlock()

	l.logger.Log(nil, l.level, "progress",
		"run_id", s.RunID,
		"read", s.FramesRead,
		"processed", s.FramesProcessed,
		"total", s.TotalFrames,
		"rate", fmt.Sprintf("%.1f/s", s.ProcessingRate),
		"elapsed", elapsed.Round(time.Millisecond),
	)
}

func (l *LogProgressCallback) OnComplete(s Snapshot) {
	l.mutex.Lock()
	elapsed := time.Since(l.start)
	l.mutex.Unlock()
	l.logger.Log(nil, l.level, "processing completed",
		"run_id", s.RunID, "processed", s.FramesProcessed, "elapsed", elapsed.Round(time.Millisecond))
}

func (l *LogProgressCallback) OnError(stage string, err error) {
	l.logger.Error("worker failed", "stage", stage, "error", err)
}

// MultiProgressCallback fans out to several callbacks.
type MultiProgressCallback struct {
	callbacks []ProgressCallback
}

// NewMultiProgressCallback creates a callback reporting to all of callbacks.
func NewMultiProgressCallback(callbacks ...ProgressCallback) *MultiProgressCallback {
	return &MultiProgressCallback{callbacks: callbacks}
}

// Add adds another progress callback.
func (m *MultiProgressCallback) Add(callback ProgressCallback) {
	m.callbacks = append(m.callbacks, callback)
}

func (m *MultiProgressCallback) OnStart(total int) {
	for _, cb := range m.callbacks {
		cb.OnStart(total)
	}
}

func (m *MultiProgressCallback) OnProgress(s Snapshot) {
	for _, cb := range m.callbacks {
		cb.OnProgress(s)
	}
}

func (m *MultiProgressCallback) OnComplete(s Snapshot) {
	for _, cb := range m.callbacks {
		cb.OnComplete(s)
	}
}

func (m *MultiProgressCallback) OnError(stage string, err error) {
	for _, cb := range m.callbacks {
		cb.OnError(stage, err)
	}
}
