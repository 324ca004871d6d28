package gamelink

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/opd-ai/gamelink/event"
	"github.com/opd-ai/gamelink/interfaces"
	"github.com/opd-ai/gamelink/invite"
	"github.com/opd-ai/gamelink/ledger"
	"github.com/opd-ai/gamelink/metrics"
	"github.com/opd-ai/gamelink/protocol"
	"github.com/opd-ai/gamelink/transport"
	"github.com/sirupsen/logrus"
)

var (
	// ErrNoTransport indicates a transport kind that was never registered.
	ErrNoTransport = errors.New("transport not registered")
	// ErrAlreadyRegistered indicates a second registration for one kind.
	ErrAlreadyRegistered = errors.New("transport already registered")
	// ErrNoEngine indicates Options without a game engine.
	ErrNoEngine = errors.New("no game engine")
	// ErrNilInvitation indicates EnqueueInvite without an invitation.
	ErrNilInvitation = errors.New("nil invitation")
)

// Peer names a destination. Addr is the transport address; Name is used
// to resolve placeholder or missing addresses through the address book.
type Peer struct {
	Addr string
	Name string
}

// LinkBuilder creates a transport from the dispatcher's shared
// collaborators. It is called again on Reinit.
type LinkBuilder func(deps transport.Deps) transport.Link

// Options configures a Dispatcher.
type Options struct {
	// Engine is the game layer. Required.
	Engine interfaces.GameEngine
	// Bus carries events; one is created if nil.
	Bus *event.Bus
	// Metrics may be nil.
	Metrics *metrics.Metrics
	// Codec defaults to the current protocol version.
	Codec *protocol.Codec
	// Peers persists address books; nil keeps them in memory.
	Peers transport.PeerStore
}

// Status describes one registered transport.
type Status struct {
	Kind    transport.Kind
	State   transport.State
	Pending int
	// Err is the setup failure that disabled the transport, if any.
	Err error
}

type slot struct {
	build    LinkBuilder
	link     transport.Link
	started  bool
	disabled error
}

// Dispatcher routes application requests to the right transport and
// isolates transports from each other's failures.
type Dispatcher struct {
	deps    transport.Deps
	ownsBus bool

	mu     sync.RWMutex
	slots  map[transport.Kind]*slot
	ctx    context.Context
	closed bool
}

// New creates a dispatcher with no transports.
func New(opts Options) (*Dispatcher, error) {
	if opts.Engine == nil {
		return nil, ErrNoEngine
	}
	d := &Dispatcher{slots: make(map[transport.Kind]*slot)}
	if opts.Bus == nil {
		opts.Bus = event.NewBus()
		d.ownsBus = true
	}
	if opts.Codec == nil {
		opts.Codec = protocol.NewCodec(protocol.DefaultVersion)
	}
	d.deps = transport.Deps{
		Engine:  opts.Engine,
		Invites: invite.NewHandler(opts.Engine),
		Bus:     opts.Bus,
		Metrics: opts.Metrics,
		Codec:   opts.Codec,
		Peers:   opts.Peers,
	}
	return d, nil
}

// Register adds a transport. Registration after Start starts it at once.
func (d *Dispatcher) Register(build LinkBuilder) error {
	link := build(d.deps)

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return transport.ErrClosed
	}
	if _, ok := d.slots[link.Kind()]; ok {
		d.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrAlreadyRegistered, link.Kind())
	}
	s := &slot{build: build, link: link}
	d.slots[link.Kind()] = s
	ctx := d.ctx
	d.mu.Unlock()

	if ctx != nil {
		return d.startSlot(ctx, s)
	}
	return nil
}

// Start starts every registered transport. A transport that fails is
// marked disabled and reported with a TransportDisabled event; the others
// keep running. The returned error joins every failure.
func (d *Dispatcher) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return transport.ErrClosed
	}
	d.ctx = ctx
	slots := d.sortedSlotsLocked()
	d.mu.Unlock()

	var errs []error
	for _, s := range slots {
		if err := d.startSlot(ctx, s); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (d *Dispatcher) startSlot(ctx context.Context, s *slot) error {
	d.mu.Lock()
	if s.started {
		d.mu.Unlock()
		return nil
	}
	link := s.link
	d.mu.Unlock()

	err := link.Start(ctx)

	d.mu.Lock()
	defer d.mu.Unlock()
	if err != nil {
		s.disabled = err
		logrus.WithFields(logrus.Fields{
			"function":  "Dispatcher.startSlot",
			"transport": link.Kind().String(),
			"error":     err.Error(),
		}).Error("Transport setup failed; disabled until re-initialized")
		d.deps.Bus.Publish(event.Event{Type: event.TransportDisabled, Transport: link.Kind().String(), Err: err})
		return err
	}
	s.started = true
	s.disabled = nil
	logrus.WithFields(logrus.Fields{
		"function":  "Dispatcher.startSlot",
		"transport": link.Kind().String(),
	}).Info("Transport started")
	return nil
}

// Reinit replaces a transport with a freshly built one and starts it.
// Everything the old transport had not delivered, whether pending, queued
// or in flight, is handed to the new one with fresh attempt counts. If the
// new transport fails to start the items stay with it for the next Reinit.
func (d *Dispatcher) Reinit(ctx context.Context, kind transport.Kind) error {
	d.mu.Lock()
	s, ok := d.slots[kind]
	if !ok {
		d.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNoTransport, kind)
	}
	old := s.link
	s.link = s.build(d.deps)
	s.started = false
	d.mu.Unlock()

	if err := old.Close(); err != nil {
		logrus.WithFields(logrus.Fields{
			"function":  "Dispatcher.Reinit",
			"transport": kind.String(),
			"error":     err.Error(),
		}).Warn("Error closing replaced transport")
	}

	// Carried items go ahead of anything queued on the new link meanwhile.
	carried := old.Worker().Drain()
	s.link.Worker().Adopt(carried)
	if len(carried) > 0 {
		logrus.WithFields(logrus.Fields{
			"function":  "Dispatcher.Reinit",
			"transport": kind.String(),
			"items":     len(carried),
		}).Info("Carried undelivered items to new transport")
	}

	return d.startSlot(ctx, s)
}

// link returns kind's transport if it can take work.
func (d *Dispatcher) link(kind transport.Kind, addr string) (transport.Link, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return nil, transport.ErrClosed
	}
	s, ok := d.slots[kind]
	if !ok {
		return nil, transport.NewError("enqueue", kind, addr, ErrNoTransport)
	}
	if s.disabled != nil {
		return nil, transport.NewError("enqueue", kind, addr, fmt.Errorf("%w: %v", transport.ErrDisabled, s.disabled))
	}
	return s.link, nil
}

// Link returns the transport registered for kind.
func (d *Dispatcher) Link(kind transport.Kind) (transport.Link, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	s, ok := d.slots[kind]
	if !ok {
		return nil, false
	}
	return s.link, true
}

func (d *Dispatcher) enqueue(kind transport.Kind, peer Peer, cmd protocol.Command, gameID uint32, payload []byte, noRetry bool) error {
	link, err := d.link(kind, peer.Addr)
	if err != nil {
		return err
	}
	addr, err := link.Book().Resolve(peer.Addr, peer.Name)
	if err != nil {
		return transport.NewError("resolve", kind, peer.Addr, err)
	}
	if peer.Name != "" {
		_, _ = link.Book().Add(addr, peer.Name)
	}

	item := ledger.NewItem(cmd, gameID, addr, payload)
	item.NoRetry = noRetry

	logrus.WithFields(logrus.Fields{
		"function":  "Dispatcher.enqueue",
		"transport": kind.String(),
		"dest":      addr,
		"cmd":       cmd.String(),
		"game_id":   gameID,
	}).Debug("Queueing outbound item")
	return link.Worker().Enqueue(item)
}

// EnqueueSend queues a game payload for gameID to peer.
func (d *Dispatcher) EnqueueSend(kind transport.Kind, gameID uint32, peer Peer, payload []byte) error {
	return d.enqueue(kind, peer, protocol.CmdMesgSend, gameID, payload, false)
}

// EnqueueInvite queues an invitation to peer.
func (d *Dispatcher) EnqueueInvite(kind transport.Kind, peer Peer, inv *invite.Invitation) error {
	if inv == nil {
		return ErrNilInvitation
	}
	if err := inv.Validate(); err != nil {
		return err
	}
	data, err := inv.Marshal()
	if err != nil {
		return fmt.Errorf("failed to encode invitation: %w", err)
	}
	return d.enqueue(kind, peer, protocol.CmdInvite, inv.GameID, data, false)
}

// EnqueueGameDied stops delivery for gameID on kind and tells peer the
// game is gone. Pending payloads for the game are dropped, and a later
// invitation to the same game is no longer treated as a duplicate.
func (d *Dispatcher) EnqueueGameDied(kind transport.Kind, gameID uint32, peer Peer) error {
	link, err := d.link(kind, peer.Addr)
	if err != nil {
		return err
	}
	link.Worker().DropGame(gameID)
	d.deps.Invites.ForgetGame(gameID)
	return d.enqueue(kind, peer, protocol.CmdMesgGameGone, gameID, nil, false)
}

// EnqueuePing queues a liveness check. gameID may be zero; otherwise the
// peer also reports whether it still has that game. Pings are never
// retried.
func (d *Dispatcher) EnqueuePing(kind transport.Kind, peer Peer, gameID uint32) error {
	return d.enqueue(kind, peer, protocol.CmdPing, gameID, nil, true)
}

// ResendAllPending asks the given transports, or all of them, to retry
// their pending items now. force grants every item a fresh set of
// attempts.
func (d *Dispatcher) ResendAllPending(force bool, kinds ...transport.Kind) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for kind, s := range d.slots {
		if len(kinds) > 0 && !containsKind(kinds, kind) {
			continue
		}
		if s.started {
			s.link.Worker().Resend(force)
		}
	}
}

func containsKind(kinds []transport.Kind, k transport.Kind) bool {
	for _, kind := range kinds {
		if kind == k {
			return true
		}
	}
	return false
}

// Subscribe returns a channel of events and a function to stop them.
func (d *Dispatcher) Subscribe(buffer int) (<-chan event.Event, func()) {
	return d.deps.Bus.Subscribe(buffer)
}

// Status reports every registered transport, ordered by kind.
func (d *Dispatcher) Status() []Status {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]Status, 0, len(d.slots))
	for _, s := range d.sortedSlotsLocked() {
		w := s.link.Worker()
		out = append(out, Status{
			Kind:    s.link.Kind(),
			State:   w.Session().State(),
			Pending: w.Ledger().Len(),
			Err:     s.disabled,
		})
	}
	return out
}

// Pending returns a copy of kind's retry ledger.
func (d *Dispatcher) Pending(kind transport.Kind) (map[string][]ledger.Item, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	s, ok := d.slots[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoTransport, kind)
	}
	return s.link.Worker().Ledger().Snapshot(), nil
}

func (d *Dispatcher) sortedSlotsLocked() []*slot {
	slots := make([]*slot, 0, len(d.slots))
	for _, s := range d.slots {
		slots = append(slots, s)
	}
	sort.Slice(slots, func(i, j int) bool { return slots[i].link.Kind() < slots[j].link.Kind() })
	return slots
}

// Close stops every transport. The dispatcher cannot be used afterwards.
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return nil
	}
	d.closed = true
	slots := d.sortedSlotsLocked()
	d.mu.Unlock()

	var errs []error
	for _, s := range slots {
		if err := s.link.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.link.Kind(), err))
		}
	}
	if d.ownsBus {
		d.deps.Bus.Close()
	}
	logrus.WithFields(logrus.Fields{
		"function": "Dispatcher.Close",
	}).Info("Dispatcher closed")
	return errors.Join(errs...)
}
