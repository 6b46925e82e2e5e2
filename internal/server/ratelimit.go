package server

import (
	"fmt"
	"sync"
	"time"
)

// RateLimiter caps control requests per client over a minute, an hour and
// a calendar day. A zero limit is not enforced.
type RateLimiter struct {
	mu sync.Mutex

	perMinute int
	perHour   int
	perDay    int

	clients map[string]*clientUsage
	now     func() time.Time
}

type clientUsage struct {
	minuteStart time.Time
	hourStart   time.Time
	dayStart    time.Time

	minute int
	hour   int
	day    int
}

// NewRateLimiter creates a rate limiter with the given limits.
func NewRateLimiter(perMinute, perHour, perDay int) *RateLimiter {
	return &RateLimiter{
		perMinute: perMinute,
		perHour:   perHour,
		perDay:    perDay,
		clients:   make(map[string]*clientUsage),
		now:       time.Now,
	}
}

// CheckRateLimit records a request from clientID or returns a
// *RateLimitError when one of the windows is full.
func (rl *RateLimiter) CheckRateLimit(clientID string) error {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	u, ok := rl.clients[clientID]
	if !ok {
		u = &clientUsage{minuteStart: now, hourStart: now, dayStart: startOfDay(now)}
		rl.clients[clientID] = u
	}
	rl.roll(u, now)

	switch {
	case rl.perMinute > 0 && u.minute >= rl.perMinute:
		return &RateLimitError{Window: "minute", Limit: rl.perMinute, RetryAfter: u.minuteStart.Add(time.Minute).Sub(now)}
	case rl.perHour > 0 && u.hour >= rl.perHour:
		return &RateLimitError{Window: "hour", Limit: rl.perHour, RetryAfter: u.hourStart.Add(time.Hour).Sub(now)}
	case rl.perDay > 0 && u.day >= rl.perDay:
		return &RateLimitError{Window: "day", Limit: rl.perDay, RetryAfter: u.dayStart.AddDate(0, 0, 1).Sub(now)}
	}

	u.minute++
	u.hour++
	u.day++
	return nil
}

// roll resets every window that has elapsed.
func (rl *RateLimiter) roll(u *clientUsage, now time.Time) {
	if now.Sub(u.minuteStart) >= time.Minute {
		u.minute, u.minuteStart = 0, now
	}
	if now.Sub(u.hourStart) >= time.Hour {
		u.hour, u.hourStart = 0, now
	}
	if day := startOfDay(now); day.After(u.dayStart) {
		u.day, u.dayStart = 0, day
	}
}

// Usage returns the requests counted for clientID in the current minute,
// hour and day.
func (rl *RateLimiter) Usage(clientID string) (minute, hour, day int) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	if u, ok := rl.clients[clientID]; ok {
		return u.minute, u.hour, u.day
	}
	return 0, 0, 0
}

func startOfDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// RateLimitError represents a rate limit violation.
type RateLimitError struct {
	Window     string        // "minute", "hour" or "day"
	Limit      int           // the limit that was exceeded
	RetryAfter time.Duration // how long to wait before retrying
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limit exceeded for %s (limit: %d, retry after: %v)", e.Window, e.Limit, e.RetryAfter)
}
