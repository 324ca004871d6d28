package transport

import "time"

// TimeProvider abstracts time so tests can run the worker loop with short
// intervals and a fixed clock.
type TimeProvider interface {
	// Now returns the current time.
	Now() time.Time
	// NewTimer creates a timer that fires after d.
	NewTimer(d time.Duration) *time.Timer
}

// RealTimeProvider implements TimeProvider with the system clock.
type RealTimeProvider struct{}

// Now returns the current system time.
func (RealTimeProvider) Now() time.Time {
	return time.Now()
}

// NewTimer creates a standard library timer.
func (RealTimeProvider) NewTimer(d time.Duration) *time.Timer {
	return time.NewTimer(d)
}

func timeProvider(tp TimeProvider) TimeProvider {
	if tp != nil {
		return tp
	}
	return RealTimeProvider{}
}
