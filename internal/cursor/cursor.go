// Package cursor implements the interval-quantized cache cursor. Every
// request inside the same interval computes the same cursor, so a CDN can
// collapse concurrent live requests onto one cache entry; jitter on
// collision prevents a cached response from pinning clients to a stale
// "next" cursor forever.
package cursor

import (
	"math/rand"
	"strconv"
	"time"
)

// DefaultEpoch is the fixed cursor epoch.
var DefaultEpoch = time.Date(2025, 12, 19, 0, 0, 0, 0, time.UTC)

// DefaultInterval is the default cursor interval length.
const DefaultInterval = 20 * time.Second

// Jitter bounds, in seconds, applied when a client echoes the current cursor.
const (
	minJitterSeconds = 1
	maxJitterSeconds = 3600
)

// Engine computes cursors from a fixed epoch and interval. The zero value is
// not usable; construct with New.
type Engine struct {
	epoch    time.Time
	interval time.Duration

	// test seams
	now    func() time.Time
	jitter func() int
}

// New creates an engine. Zero arguments select the protocol defaults.
func New(epoch time.Time, interval time.Duration) *Engine {
	if epoch.IsZero() {
		epoch = DefaultEpoch
	}
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Engine{
		epoch:    epoch,
		interval: interval,
		now:      time.Now,
		jitter: func() int {
			return minJitterSeconds + rand.Intn(maxJitterSeconds-minJitterSeconds+1)
		},
	}
}

// Current returns the cursor for the present interval.
func (e *Engine) Current() string {
	return strconv.FormatInt(e.currentInterval(), 10)
}

func (e *Engine) currentInterval() int64 {
	elapsed := e.now().Sub(e.epoch)
	return int64(elapsed / e.interval)
}

// Next computes the cursor to return for a request that supplied previous.
// Normally this is the current interval. When previous is at or past the
// current interval (a collision: the client is echoing a cursor computed in
// this same interval, possibly from a cached response), the result advances
// past it by a random jitter so the returned cursor is strictly greater than
// the supplied one.
func (e *Engine) Next(previous string) string {
	current := e.currentInterval()
	if previous == "" {
		return strconv.FormatInt(current, 10)
	}

	prev, err := strconv.ParseInt(previous, 10, 64)
	if err != nil || prev < current {
		return strconv.FormatInt(current, 10)
	}

	jitterSeconds := e.jitter()
	intervalSeconds := int64(e.interval / time.Second)
	if intervalSeconds <= 0 {
		intervalSeconds = 1
	}
	advance := (int64(jitterSeconds) + intervalSeconds - 1) / intervalSeconds
	if advance < 1 {
		advance = 1
	}
	return strconv.FormatInt(prev+advance, 10)
}
