package common

import (
	"fmt"
	"strings"
	"time"
)

// Lap is one named phase measured by a Timer.
type Lap struct {
	Name     string
	Duration time.Duration
}

// Timer measures a sequence of named phases.
type Timer struct {
	start    time.Time
	lapStart time.Time
	laps     []Lap
	now      func() time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return newTimerAt(time.Now)
}

func newTimerAt(now func() time.Time) *Timer {
	t := now()
	return &Timer{start: t, lapStart: t, now: now}
}

// Lap closes the current phase under name and starts the next one.
func (t *Timer) Lap(name string) time.Duration {
	now := t.now()
	d := now.Sub(t.lapStart)
	t.laps = append(t.laps, Lap{Name: name, Duration: d})
	t.lapStart = now
	return d
}

// Laps returns the recorded phases in order.
func (t *Timer) Laps() []Lap {
	return append([]Lap(nil), t.laps...)
}

// Elapsed is the time since the timer was created.
func (t *Timer) Elapsed() time.Duration {
	return t.now().Sub(t.start)
}

// String renders every lap followed by the total.
func (t *Timer) String() string {
	var b strings.Builder
	for _, l := range t.laps {
		fmt.Fprintf(&b, "%s: %v, ", l.Name, l.Duration.Round(time.Millisecond))
	}
	fmt.Fprintf(&b, "total: %v", t.Elapsed().Round(time.Millisecond))
	return b.String()
}
