package features

// Sample is the derived feature row of one unit.
type Sample struct {
	ID    int     `json:"id"`
	Left  float64 `json:"left"`
	Right float64 `json:"right"`
	Field float64 `json:"field"`
	Score float64 `json:"score"`
}

// Released is a unit whose cliff and attribution flags are final.
type Released[T any] struct {
	Sample
	Attribution
	IsCliff bool
	Payload T
}

// EngineConfig configures the streaming feature engine.
type EngineConfig struct {
	TeamSize  int
	Lookback  int
	Lookahead int
	Cliff     CliffConfig
	// HistoryLimit caps retained occupancy samples used for tie-breaking.
	HistoryLimit int
}

// DefaultHistoryLimit is the default occupancy history kept for tie-breaks.
const DefaultHistoryLimit = 1024

// DefaultEngineConfig returns the tuned defaults.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		TeamSize:     7,
		Lookback:     10,
		Lookahead:    15,
		Cliff:        DefaultCliffConfig(),
		HistoryLimit: DefaultHistoryLimit,
	}
}

type pendingUnit[T any] struct {
	sample  Sample
	payload T
	decided bool
	isCliff bool
}

// Engine consumes in-order samples and releases them once they have left
// the lookahead window and their cliff decision is final.
type Engine[T any] struct {
	cfg       EngineConfig
	cliff     *CliffDetector
	lookahead []*pendingUnit[T]
	history   []Occupancy
}

// NewEngine creates an engine.
func NewEngine[T any](cfg EngineConfig) *Engine[T] {
	cfg.HistoryLimit = max(cfg.HistoryLimit, cfg.Lookback+cfg.Lookahead+2)
	return &Engine[T]{
		cfg:   cfg,
		cliff: NewCliffDetector(cfg.Cliff),
	}
}

// Push scores a unit and returns every unit that became final.
func (e *Engine[T]) Push(id int, left, right, field float64, payload T) []Released[T] {
	s := Sample{
		ID:    id,
		Left:  left,
		Right: right,
		Field: field,
		Score: ReadinessScore(left, right, field, e.cfg.TeamSize),
	}
	e.history = append(e.history, Occupancy{ID: id, Left: left, Right: right})
	e.lookahead = append(e.lookahead, &pendingUnit[T]{sample: s, payload: payload})
	e.apply(e.cliff.Push(id, s.Score))

	var out []Released[T]
	for len(e.lookahead) > e.cfg.Lookahead && e.lookahead[0].decided {
		out = append(out, e.release())
	}
	e.trimHistory()
	return out
}

// Flush finalizes and releases everything still buffered.
func (e *Engine[T]) Flush() []Released[T] {
	e.apply(e.cliff.Flush())
	out := make([]Released[T], 0, len(e.lookahead))
	for guard := len(e.lookahead); guard > 0 && len(e.lookahead) > 0; guard-- {
		out = append(out, e.release())
	}
	return out
}

// Buffered returns the number of units held in the lookahead window.
func (e *Engine[T]) Buffered() int { return len(e.lookahead) }

func (e *Engine[T]) apply(decisions []CliffDecision) {
	for _, d := range decisions {
		for _, u := range e.lookahead {
			if u.sample.ID == d.ID {
				u.decided = true
				u.isCliff = d.IsCliff
				break
			}
		}
	}
}

func (e *Engine[T]) release() Released[T] {
	u := e.lookahead[0]
	e.lookahead[0] = nil
	e.lookahead = e.lookahead[1:]

	r := Released[T]{Sample: u.sample, IsCliff: u.isCliff, Payload: u.payload}
	if u.isCliff {
		r.Attribution = Attribute(e.history, u.sample.ID, e.cfg.Lookback, e.cfg.Lookahead)
	}
	return r
}

func (e *Engine[T]) trimHistory() {
	limit := e.cfg.HistoryLimit
	if len(e.history) <= 2*limit {
		return
	}
	e.history = append(e.history[:0], e.history[len(e.history)-limit:]...)
}
