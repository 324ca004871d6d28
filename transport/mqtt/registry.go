package mqtt

import (
	"sync"

	"github.com/opd-ai/gamelink/transport"
	"github.com/sirupsen/logrus"
)

// registry owns the single live broker connection. Creation, replacement
// and destruction all happen under its lock; tearing down the previous
// connection happens outside it.
type registry struct {
	mu      sync.Mutex
	cur     *conn
	nextID  uint64
	created int
	session *transport.Session
	build   func(id uint64) *conn
}

func newRegistry(session *transport.Session, build func(id uint64) *conn) *registry {
	return &registry{session: session, build: build}
}

// current returns the live connection, or nil.
func (r *registry) current() *conn {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cur
}

// isCurrent reports whether c is the live connection.
func (r *registry) isCurrent(c *conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cur == c
}

// getOrStart returns the live connection, creating and starting one if
// there is none or the live one never came up.
func (r *registry) getOrStart() *conn {
	r.mu.Lock()
	c := r.cur
	var stale *conn
	if c != nil && c.failed() {
		stale, c = c, nil
	}
	if c == nil {
		c = r.newLocked()
	}
	r.mu.Unlock()

	if stale != nil {
		stale.close()
	}
	return c
}

// replace installs a fresh connection and closes the one it displaced.
func (r *registry) replace() *conn {
	r.mu.Lock()
	old := r.cur
	c := r.newLocked()
	r.mu.Unlock()

	if old != nil {
		old.close()
	}
	return c
}

// clear destroys c. If c is the live connection the registry is left
// empty so the next getOrStart builds a new one.
func (r *registry) clear(c *conn) {
	if c == nil {
		return
	}
	r.mu.Lock()
	wasCurrent := r.cur == c
	if wasCurrent {
		r.cur = nil
	}
	r.mu.Unlock()

	if wasCurrent {
		r.session.Set(transport.StateNone)
	}
	c.close()
}

// destroy clears whatever connection is live.
func (r *registry) destroy() {
	r.clear(r.current())
}

// generations returns how many connections have been created.
func (r *registry) generations() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.created
}

func (r *registry) newLocked() *conn {
	r.nextID++
	r.created++
	c := r.build(r.nextID)
	r.cur = c

	logrus.WithFields(logrus.Fields{
		"function": "registry.newLocked",
		"conn":     c.id,
	}).Debug("Starting MQTT connection")
	go c.run()
	return c
}

// report forwards c's transitions to the session while c is live.
func (r *registry) report(c *conn, s connState) {
	if r.isCurrent(c) {
		r.session.Set(s.sessionState())
	}
}
