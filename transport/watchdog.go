package transport

import (
	"context"
	"io"
	"sync/atomic"
	"time"
)

const (
	watchArmed int32 = iota
	watchStopped
	watchFired
)

// Watchdog closes a resource when an exchange runs past its deadline or
// the owning context is cancelled, unblocking any read in progress. Once
// Stop returns true the resource will never be closed by the watchdog.
type Watchdog struct {
	state   atomic.Int32
	timer   *time.Timer
	stopCtx func() bool
}

// StartWatchdog arms a watchdog that closes c after timeout or when ctx is
// done, whichever comes first.
func StartWatchdog(ctx context.Context, timeout time.Duration, c io.Closer) *Watchdog {
	w := &Watchdog{}
	fire := func() {
		if w.state.CompareAndSwap(watchArmed, watchFired) {
			_ = c.Close()
		}
	}
	w.timer = time.AfterFunc(timeout, fire)
	w.stopCtx = context.AfterFunc(ctx, fire)
	return w
}

// Stop disarms the watchdog. It reports false if the watchdog had already
// fired and closed the resource.
func (w *Watchdog) Stop() bool {
	w.timer.Stop()
	w.stopCtx()
	if w.state.CompareAndSwap(watchArmed, watchStopped) {
		return true
	}
	return w.state.Load() != watchFired
}

// Fired reports whether the watchdog closed the resource.
func (w *Watchdog) Fired() bool {
	return w.state.Load() == watchFired
}
