package mqtt

import (
	"sync"
	"time"
)

// Backoff grows by half on every Next, between a floor and a ceiling.
type Backoff struct {
	mu       sync.Mutex
	min, max time.Duration
	cur      time.Duration
	reset    chan struct{}
}

// NewBackoff starts at min.
func NewBackoff(min, max time.Duration) *Backoff {
	if max < min {
		max = min
	}
	return &Backoff{min: min, max: max, cur: min, reset: make(chan struct{}, 1)}
}

// Current returns the present interval.
func (b *Backoff) Current() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cur
}

// Next grows the interval and returns the new value.
func (b *Backoff) Next() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	next := b.cur * 3 / 2
	if next < b.min {
		next = b.min
	}
	if next > b.max {
		next = b.max
	}
	b.cur = next
	return next
}

// Reset returns to the floor and wakes anyone waiting on Resets.
func (b *Backoff) Reset() {
	b.mu.Lock()
	b.cur = b.min
	b.mu.Unlock()
	select {
	case b.reset <- struct{}{}:
	default:
	}
}

// Resets signals after Reset.
func (b *Backoff) Resets() <-chan struct{} {
	return b.reset
}
