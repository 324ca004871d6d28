// Package addrbook keeps the per-transport table of known peer addresses
// and the display names that go with them.
package addrbook

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// DefaultDebounce is how long Book waits after a change before persisting,
// so a burst of adds costs one write.
const DefaultDebounce = 2 * time.Second

var (
	// ErrUnresolved indicates no real address could be found for a peer.
	ErrUnresolved = errors.New("cannot resolve peer address")
	// ErrPlaceholder indicates an attempt to store the platform placeholder.
	ErrPlaceholder = errors.New("placeholder address")
)

// Entry is one known peer.
type Entry struct {
	Addr string
	Name string
}

// Persister stores a transport's address table. It is called with the
// complete table after every debounced change.
type Persister interface {
	SaveAddresses(transport string, entries []Entry) error
}

// DeviceLister enumerates devices the platform already knows about, such
// as bonded Bluetooth devices, as a name to address table.
type DeviceLister interface {
	KnownDevices() (map[string]string, error)
}

// Book is a thread-safe address table for one transport. Every mutation
// holds the book's lock only for the duration of the change.
type Book struct {
	mu          sync.Mutex
	transport   string
	entries     map[string]Entry
	placeholder string
	isAddress   func(string) bool

	lister  DeviceLister
	devices map[string]string

	// seen orders entries by last Add, for picking between entries that
	// share a name.
	seen map[string]uint64
	tick uint64

	persister Persister
	debounce  time.Duration
	timer     *time.Timer
	dirty     bool
}

// Option configures a Book.
type Option func(*Book)

// WithPersister saves the table through p, at most once per debounce
// window.
func WithPersister(p Persister, debounce time.Duration) Option {
	return func(b *Book) {
		b.persister = p
		if debounce > 0 {
			b.debounce = debounce
		}
	}
}

// WithDeviceLister supplies the platform device table used to resolve
// placeholder addresses by name.
func WithDeviceLister(l DeviceLister) Option {
	return func(b *Book) {
		b.lister = l
	}
}

// WithPlaceholder names the address value the platform hands out instead
// of the real one.
func WithPlaceholder(addr string) Option {
	return func(b *Book) {
		b.placeholder = addr
	}
}

// WithAddressValidator sets the check deciding whether a string is an
// address (as opposed to a display name).
func WithAddressValidator(fn func(string) bool) Option {
	return func(b *Book) {
		b.isAddress = fn
	}
}

// WithEntries seeds the book, typically from storage. Seeding does not
// trigger persistence.
func WithEntries(entries []Entry) Option {
	return func(b *Book) {
		for _, e := range entries {
			if e.Addr != "" {
				b.entries[e.Addr] = e
			}
		}
	}
}

// New creates an empty book for transport.
func New(transport string, opts ...Option) *Book {
	b := &Book{
		transport: transport,
		entries:   make(map[string]Entry),
		seen:      make(map[string]uint64),
		debounce:  DefaultDebounce,
		isAddress: func(s string) bool { return s != "" },
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Add records addr under name and marks it as the most recently seen
// entry. It reports whether the table changed; only changes schedule a
// persist.
func (b *Book) Add(addr, name string) (bool, error) {
	if addr == "" {
		return false, fmt.Errorf("%w: empty", ErrUnresolved)
	}
	if b.placeholder != "" && addr == b.placeholder {
		return false, ErrPlaceholder
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.tick++
	b.seen[addr] = b.tick
	old, ok := b.entries[addr]
	if ok && (name == "" || old.Name == name) {
		return false, nil
	}
	if name == "" {
		name = old.Name
	}
	b.entries[addr] = Entry{Addr: addr, Name: name}
	b.scheduleLocked()
	return true, nil
}

// Remove forgets addr and reports whether it was known.
func (b *Book) Remove(addr string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.entries[addr]; !ok {
		return false
	}
	delete(b.entries, addr)
	delete(b.seen, addr)
	b.scheduleLocked()
	return true
}

// List returns the known addresses, sorted.
func (b *Book) List() []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	addrs := make([]string, 0, len(b.entries))
	for addr := range b.entries {
		addrs = append(addrs, addr)
	}
	sort.Strings(addrs)
	return addrs
}

// Entries returns a copy of the table sorted by address.
func (b *Book) Entries() []Entry {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.entriesLocked()
}

func (b *Book) entriesLocked() []Entry {
	out := make([]Entry, 0, len(b.entries))
	for _, e := range b.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Addr < out[j].Addr })
	return out
}

// Name returns the display name stored for addr.
func (b *Book) Name(addr string) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.entries[addr].Name
}

// Resolve returns a real address for a peer known by addr and/or name. A
// usable addr is returned unchanged. Otherwise name is looked up in the
// table and then in the platform's device list, which is enumerated the
// first time it is needed and again whenever a lookup misses. When several
// entries share the name, the most recently seen wins, then the lowest
// address. The device list is enumerated without holding the book's lock.
func (b *Book) Resolve(addr, name string) (string, error) {
	if b.isUsable(addr) {
		return addr, nil
	}
	if name == "" && addr != b.placeholder {
		name = addr
	}
	if name == "" {
		return "", fmt.Errorf("%w: placeholder %q without a name", ErrUnresolved, addr)
	}

	b.mu.Lock()
	if resolved, ok := b.byNameLocked(name); ok {
		b.mu.Unlock()
		return resolved, nil
	}
	if resolved, ok := b.devices[name]; ok && b.isUsable(resolved) {
		b.mu.Unlock()
		return resolved, nil
	}
	lister := b.lister
	b.mu.Unlock()

	if lister == nil {
		return "", fmt.Errorf("%w: no device named %q", ErrUnresolved, name)
	}
	devices, err := lister.KnownDevices()
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function":  "Book.Resolve",
			"transport": b.transport,
			"error":     err.Error(),
		}).Warn("Failed to enumerate known devices")
		return "", fmt.Errorf("%w: %v", ErrUnresolved, err)
	}

	b.mu.Lock()
	b.devices = devices
	b.mu.Unlock()
	if resolved, ok := devices[name]; ok && b.isUsable(resolved) {
		return resolved, nil
	}
	return "", fmt.Errorf("%w: no device named %q", ErrUnresolved, name)
}

func (b *Book) byNameLocked(name string) (string, bool) {
	var best string
	found := false
	for a, e := range b.entries {
		if e.Name != name {
			continue
		}
		if !found || b.seen[a] > b.seen[best] || (b.seen[a] == b.seen[best] && a < best) {
			best = a
			found = true
		}
	}
	return best, found
}

// isUsable only reads configuration fixed at construction, so it needs
// no lock.
func (b *Book) isUsable(addr string) bool {
	if addr == "" || (b.placeholder != "" && addr == b.placeholder) {
		return false
	}
	return b.isAddress(addr)
}

func (b *Book) scheduleLocked() {
	if b.persister == nil {
		return
	}
	b.dirty = true
	if b.timer == nil {
		b.timer = time.AfterFunc(b.debounce, func() {
			if err := b.Flush(); err != nil {
				logrus.WithFields(logrus.Fields{
					"function":  "Book.scheduleLocked",
					"transport": b.transport,
					"error":     err.Error(),
				}).Error("Failed to persist address book")
			}
		})
	}
}

// Flush persists pending changes now.
func (b *Book) Flush() error {
	b.mu.Lock()
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	if !b.dirty || b.persister == nil {
		b.mu.Unlock()
		return nil
	}
	b.dirty = false
	entries := b.entriesLocked()
	b.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function":  "Book.Flush",
		"transport": b.transport,
		"count":     len(entries),
	}).Debug("Persisting address book")
	return b.persister.SaveAddresses(b.transport, entries)
}

// Close persists any pending change.
func (b *Book) Close() error {
	return b.Flush()
}
