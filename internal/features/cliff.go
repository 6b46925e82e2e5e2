package features

import "sort"

// CliffConfig tunes the point-start detector.
type CliffConfig struct {
	MinDrop             float64 `mapstructure:"min_drop" yaml:"min_drop" json:"min_drop"`
	MinPrepointDuration int     `mapstructure:"min_prepoint_duration" yaml:"min_prepoint_duration" json:"min_prepoint_duration"`
	MinPostDuration     int     `mapstructure:"min_post_duration" yaml:"min_post_duration" json:"min_post_duration"`
	MaxPostScore        float64 `mapstructure:"max_post_score" yaml:"max_post_score" json:"max_post_score"`
	AbsoluteThreshold   float64 `mapstructure:"absolute_threshold" yaml:"absolute_threshold" json:"absolute_threshold"`
	MinGap              int     `mapstructure:"min_gap" yaml:"min_gap" json:"min_gap"`
	SmoothingWindow     int     `mapstructure:"smoothing_window" yaml:"smoothing_window" json:"smoothing_window"`
}

// DefaultCliffConfig returns the tuned defaults.
func DefaultCliffConfig() CliffConfig {
	return CliffConfig{
		MinDrop:             0.15,
		MinPrepointDuration: 10,
		MinPostDuration:     10,
		MaxPostScore:        0.55,
		AbsoluteThreshold:   0.5,
		MinGap:              20,
		SmoothingWindow:     3,
	}
}

// plateauLevel is the smoothed median the pre-transition window must reach.
const plateauLevel = 0.5

// CliffDecision is the final verdict for one unit.
type CliffDecision struct {
	ID      int
	IsCliff bool
}

// CliffDetector is a streaming point-start detector over the readiness
// score. Every pushed unit eventually receives exactly one decision, in id
// order, and decisions are never revisited.
type CliffDetector struct {
	cfg CliffConfig

	ids    []int
	scores []float64
	// decided is the number of leading history entries with a decision.
	decided int

	lastCliff    int
	hasLastCliff bool
}

// NewCliffDetector creates a detector. Non-positive window settings fall
// back to 1.
func NewCliffDetector(cfg CliffConfig) *CliffDetector {
	cfg.SmoothingWindow = max(cfg.SmoothingWindow, 1)
	cfg.MinPrepointDuration = max(cfg.MinPrepointDuration, 1)
	cfg.MinPostDuration = max(cfg.MinPostDuration, 1)
	return &CliffDetector{cfg: cfg}
}

// Config returns the effective configuration.
func (c *CliffDetector) Config() CliffConfig { return c.cfg }

// Push appends a score and returns the decisions that became final.
// Ids must be pushed in increasing order.
func (c *CliffDetector) Push(id int, score float64) []CliffDecision {
	c.ids = append(c.ids, id)
	c.scores = append(c.scores, score)
	return c.process(false)
}

// Flush decides every remaining unit. Units lacking trailing context are
// decided as non-cliffs.
func (c *CliffDetector) Flush() []CliffDecision {
	out := c.process(true)
	// Histories shorter than the smoothing window never get evaluated.
	for i := c.decided; i < len(c.ids); i++ {
		out = append(out, CliffDecision{ID: c.ids[i]})
	}
	c.decided = len(c.ids)
	return out
}

// Pending returns how many pushed units still await a decision.
func (c *CliffDetector) Pending() int { return len(c.ids) - c.decided }

func (c *CliffDetector) process(flush bool) []CliffDecision {
	n := len(c.ids)
	if n < c.cfg.SmoothingWindow {
		return nil
	}

	end := n
	if !flush {
		end = max(n-c.cfg.MinPostDuration, 0)
	}
	if end <= c.decided {
		return nil
	}

	smoothed := c.smooth()
	out := make([]CliffDecision, 0, end-c.decided)
	for i := c.decided; i < end; i++ {
		id := c.ids[i]
		final := false
		if c.isCliffAt(smoothed, i) {
			if !c.hasLastCliff || id-c.lastCliff >= c.cfg.MinGap {
				final = true
				c.lastCliff = id
				c.hasLastCliff = true
			}
		}
		out = append(out, CliffDecision{ID: id, IsCliff: final})
	}
	c.decided = end
	c.prune()
	return out
}

// prune drops history no future window can reach.
func (c *CliffDetector) prune() {
	keep := c.cfg.MinPrepointDuration + c.cfg.SmoothingWindow + 2
	if c.decided <= keep {
		return
	}
	cut := c.decided - keep
	c.ids = append(c.ids[:0], c.ids[cut:]...)
	c.scores = append(c.scores[:0], c.scores[cut:]...)
	c.decided -= cut
}

// smooth applies a trailing box filter.
func (c *CliffDetector) smooth() []float64 {
	w := c.cfg.SmoothingWindow
	out := make([]float64, len(c.scores))
	if w <= 1 {
		copy(out, c.scores)
		return out
	}
	sum := 0.0
	for i, v := range c.scores {
		sum += v
		if i >= w {
			sum -= c.scores[i-w]
		}
		out[i] = sum / float64(min(i+1, w))
	}
	return out
}

func (c *CliffDetector) isCliffAt(smoothed []float64, i int) bool {
	n := len(c.scores)
	cfg := c.cfg
	if n < cfg.MinPrepointDuration+cfg.MinPostDuration {
		return false
	}
	if i < cfg.MinPrepointDuration || i+cfg.MinPostDuration >= n {
		return false
	}

	drop := smoothed[i] - smoothed[i+1]
	start := max(i-(cfg.SmoothingWindow-1), 0)
	cumulative := smoothed[start] - smoothed[i+1]
	if max(drop, cumulative) < cfg.MinDrop {
		return false
	}
	if smoothed[i+1] > cfg.AbsoluteThreshold {
		return false
	}

	pre := smoothed[i-cfg.MinPrepointDuration : i]
	if median(pre) < plateauLevel {
		return false
	}

	post := c.scores[i+1 : i+1+cfg.MinPostDuration]
	return median(post) <= cfg.MaxPostScore
}

// median returns the upper median of vals without modifying it.
func median(vals []float64) float64 {
	if len(vals) == 0 {
		return 0
	}
	s := append([]float64(nil), vals...)
	sort.Float64s(s)
	return s[len(s)/2]
}
