package ledger

import (
	"errors"
	"sync"

	"github.com/sirupsen/logrus"
)

// DefaultMaxSendFail is the number of failed attempts after which an item
// is abandoned.
const DefaultMaxSendFail = 3

// ErrDuplicateItem indicates an item that is already held by the ledger.
var ErrDuplicateItem = errors.New("item already pending")

// Result is the outcome of one attempt made while draining.
type Result int

const (
	// Delivered removes the item.
	Delivered Result = iota
	// Failed counts a failure against the item and stops the drain.
	Failed
	// Interrupted keeps the item unchanged and stops the drain. Workers
	// return it when they are shutting down mid-send.
	Interrupted
)

// Hooks receive ledger notifications. They run on the goroutine that
// caused the change, after the ledger lock has been released.
type Hooks struct {
	// OnRetry is called when a failed item is kept for another attempt.
	OnRetry func(dest string, item Item)
	// OnFailout is called exactly once when an item is abandoned.
	OnFailout func(dest string, item Item)
}

// Ledger holds per-destination ordered lists of unacknowledged items.
type Ledger struct {
	mu      sync.Mutex
	pending map[string][]*Item
	order   []string
	maxFail int
	hooks   Hooks
}

// New creates a ledger that abandons items after maxFail failed attempts.
func New(maxFail int, hooks Hooks) *Ledger {
	if maxFail <= 0 {
		maxFail = DefaultMaxSendFail
	}
	return &Ledger{
		pending: make(map[string][]*Item),
		maxFail: maxFail,
		hooks:   hooks,
	}
}

// MaxSendFail returns the configured failure cap.
func (l *Ledger) MaxSendFail() int {
	return l.maxFail
}

// Record appends item to dest's pending list without counting a failure.
// Workers use it for items held back behind an undrained backlog.
func (l *Ledger) Record(dest string, item *Item) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.containsLocked(item) {
		return ErrDuplicateItem
	}
	l.appendLocked(dest, item)
	return nil
}

// Fail counts one failed attempt for item. If the item has now reached the
// failure cap it is removed (or never inserted) and reported as a failout;
// otherwise it is kept, appended to dest's list if not already present.
// It reports whether the item is still pending.
func (l *Ledger) Fail(dest string, item *Item) bool {
	l.mu.Lock()
	item.FailCount++
	snapshot := *item
	failout := item.FailCount >= l.maxFail
	if failout {
		l.removeLocked(dest, item)
	} else if !l.containsLocked(item) {
		l.appendLocked(dest, item)
	}
	l.mu.Unlock()

	if failout {
		logrus.WithFields(logrus.Fields{
			"function":   "Ledger.Fail",
			"dest":       dest,
			"cmd":        item.Cmd.String(),
			"game_id":    item.GameID,
			"fail_count": snapshot.FailCount,
		}).Warn("Giving up on item after repeated failures")
		if l.hooks.OnFailout != nil {
			l.hooks.OnFailout(dest, snapshot)
		}
		return false
	}

	if l.hooks.OnRetry != nil {
		l.hooks.OnRetry(dest, snapshot)
	}
	return true
}

// DrainAttempt tries every pending item for dest in order. Delivered items
// are removed; the first failure is counted through Fail and stops the
// drain so later items cannot overtake it. An interrupted attempt stops
// the drain without counting. It returns true only if dest has nothing
// pending afterwards.
//
// The ledger lock is not held while send runs.
func (l *Ledger) DrainAttempt(dest string, send func(*Item) Result) bool {
	l.mu.Lock()
	items := append([]*Item(nil), l.pending[dest]...)
	l.mu.Unlock()

loop:
	for _, item := range items {
		if !l.stillPending(dest, item) {
			continue
		}
		switch send(item) {
		case Delivered:
			l.mu.Lock()
			l.removeLocked(dest, item)
			l.mu.Unlock()
		case Failed:
			l.Fail(dest, item)
			break loop
		default:
			break loop
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.pending[dest]) == 0
}

// DrainAll runs DrainAttempt for every destination in the order they were
// first recorded.
func (l *Ledger) DrainAll(send func(*Item) Result) {
	for _, dest := range l.Destinations() {
		l.DrainAttempt(dest, send)
	}
}

// Take empties the ledger and returns what it held, destinations in the
// order they were first recorded and items in order within each.
func (l *Ledger) Take() []*Item {
	l.mu.Lock()
	defer l.mu.Unlock()

	var out []*Item
	for _, dest := range l.order {
		out = append(out, l.pending[dest]...)
	}
	l.pending = make(map[string][]*Item)
	l.order = nil
	return out
}

// HasPending reports whether any destination has pending items.
func (l *Ledger) HasPending() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.order) > 0
}

// Len returns the number of pending items across all destinations.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	n := 0
	for _, items := range l.pending {
		n += len(items)
	}
	return n
}

// Destinations lists destinations with pending items.
func (l *Ledger) Destinations() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.order...)
}

// Snapshot returns a copy of the pending items keyed by destination.
func (l *Ledger) Snapshot() map[string][]Item {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make(map[string][]Item, len(l.pending))
	for dest, items := range l.pending {
		copied := make([]Item, len(items))
		for i, item := range items {
			copied[i] = *item
		}
		out[dest] = copied
	}
	return out
}

// DropGame removes every pending item that carries gameID, except game-gone
// notices, and returns copies of what was removed.
func (l *Ledger) DropGame(gameID uint32) []Item {
	l.mu.Lock()
	defer l.mu.Unlock()

	var dropped []Item
	for _, dest := range append([]string(nil), l.order...) {
		for _, item := range append([]*Item(nil), l.pending[dest]...) {
			if item.GameID == gameID && item.Cmd.HasPayload() {
				dropped = append(dropped, *item)
				l.removeLocked(dest, item)
			}
		}
	}
	return dropped
}

// ResetFailCounts gives every pending item a fresh set of attempts.
func (l *Ledger) ResetFailCounts() {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, items := range l.pending {
		for _, item := range items {
			item.FailCount = 0
		}
	}
}

func (l *Ledger) stillPending(dest string, item *Item) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, it := range l.pending[dest] {
		if it == item {
			return true
		}
	}
	return false
}

func (l *Ledger) containsLocked(item *Item) bool {
	for _, items := range l.pending {
		for _, it := range items {
			if it == item {
				return true
			}
		}
	}
	return false
}

func (l *Ledger) appendLocked(dest string, item *Item) {
	if len(l.pending[dest]) == 0 {
		l.order = append(l.order, dest)
	}
	l.pending[dest] = append(l.pending[dest], item)
}

func (l *Ledger) removeLocked(dest string, item *Item) {
	items := l.pending[dest]
	for i, it := range items {
		if it == item {
			items = append(items[:i:i], items[i+1:]...)
			break
		}
	}
	if len(items) > 0 {
		l.pending[dest] = items
		return
	}
	delete(l.pending, dest)
	for i, d := range l.order {
		if d == dest {
			l.order = append(l.order[:i:i], l.order[i+1:]...)
			break
		}
	}
}
