package gamelink

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/opd-ai/gamelink/addrbook"
	"github.com/opd-ai/gamelink/event"
	"github.com/opd-ai/gamelink/invite"
	"github.com/opd-ai/gamelink/ledger"
	"github.com/opd-ai/gamelink/protocol"
	"github.com/opd-ai/gamelink/simulation"
	"github.com/opd-ai/gamelink/transport"
	"github.com/opd-ai/gamelink/transport/sms"
	"github.com/opd-ai/gamelink/transport/wifidirect"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errRadioOff = errors.New("radio off")

// flakySender fails while down and accepts otherwise. With stall set it
// signals there and blocks every send until shutdown.
type flakySender struct {
	down     atomic.Bool
	stall    chan struct{}
	mu       sync.Mutex
	sent     []protocol.Command
	payloads []string
}

func (s *flakySender) Send(ctx context.Context, item *ledger.Item) (transport.Outcome, error) {
	if s.stall != nil {
		s.stall <- struct{}{}
		<-ctx.Done()
		return 0, ctx.Err()
	}
	if s.down.Load() {
		return 0, errRadioOff
	}
	s.mu.Lock()
	s.sent = append(s.sent, item.Cmd)
	s.payloads = append(s.payloads, string(item.Payload))
	s.mu.Unlock()
	return transport.OutcomeAccepted, nil
}

func (s *flakySender) delivered() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.payloads...)
}

type fakeLink struct {
	transport.Runner
	kind     transport.Kind
	startErr error
	worker   *transport.Worker
	book     *addrbook.Book
	sender   *flakySender
}

func newFakeLink(kind transport.Kind, deps transport.Deps, startErr error) *fakeLink {
	l := &fakeLink{kind: kind, startErr: startErr, sender: &flakySender{}}
	l.worker = transport.NewWorker(transport.WorkerConfig{
		Kind:           kind,
		ResendInterval: time.Hour,
	}, l.sender, deps.NewSession(kind))
	l.book = deps.NewBook(kind)
	return l
}

func (l *fakeLink) Kind() transport.Kind      { return l.kind }
func (l *fakeLink) Worker() *transport.Worker { return l.worker }
func (l *fakeLink) Book() *addrbook.Book      { return l.book }
func (l *fakeLink) Close() error              { l.Stop(); return l.book.Close() }
func (l *fakeLink) Start(ctx context.Context) error {
	if l.startErr != nil {
		return l.startErr
	}
	ctx = l.Context(ctx)
	l.Go("fake-worker", func() { l.worker.Run(ctx) })
	return nil
}

type device struct {
	*Dispatcher
	engine *simulation.Engine
	events <-chan event.Event
}

func newDevice(t *testing.T) *device {
	t.Helper()
	engine := simulation.NewEngine()
	d, err := New(Options{Engine: engine})
	require.NoError(t, err)
	events, _ := d.Subscribe(128)
	t.Cleanup(func() { _ = d.Close() })
	return &device{Dispatcher: d, engine: engine, events: events}
}

func (d *device) addSMS(t *testing.T, net *simulation.RadioNetwork, phone string) {
	t.Helper()
	require.NoError(t, d.Register(func(deps transport.Deps) transport.Link {
		return sms.New(sms.Config{
			Phone:       phone,
			Radio:       net.Radio(phone),
			CombineWait: 10 * time.Millisecond,
			RateCount:   -1,
		}, deps)
	}))
}

func (d *device) wait(t *testing.T, want event.Type) event.Event {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case e := <-d.events:
			if e.Type == want {
				return e
			}
		case <-deadline:
			t.Fatalf("no %s event", want)
			return event.Event{}
		}
	}
}

func TestNewRequiresEngine(t *testing.T) {
	_, err := New(Options{})
	assert.ErrorIs(t, err, ErrNoEngine)
}

func TestSendOverSMS(t *testing.T) {
	net := simulation.NewRadioNetwork()
	a, b := newDevice(t), newDevice(t)
	a.addSMS(t, net, "+15550001")
	b.addSMS(t, net, "+15550002")
	b.engine.AddGame(0x1234)
	require.NoError(t, a.Start(context.Background()))
	require.NoError(t, b.Start(context.Background()))

	require.NoError(t, a.EnqueueSend(transport.KindSMS, 0x1234, Peer{Addr: "+15550002"}, []byte("move")))
	e := a.wait(t, event.MessageAccepted)
	assert.Equal(t, "sms", e.Transport)
	assert.Equal(t, "+15550002", e.Dest)
	require.Eventually(t, func() bool { return len(b.engine.Accepted(0x1234)) == 1 }, time.Second, 10*time.Millisecond)

	require.NoError(t, a.EnqueuePing(transport.KindSMS, Peer{Addr: "+15550002"}, 0))
	a.wait(t, event.HostPonged)
}

func TestDuplicateInviteAcrossTransports(t *testing.T) {
	net := simulation.NewRadioNetwork()
	a, b := newDevice(t), newDevice(t)
	a.addSMS(t, net, "+15550001")
	b.addSMS(t, net, "+15550002")

	var bWiFi *wifidirect.Transport
	require.NoError(t, b.Register(func(deps transport.Deps) transport.Link {
		bWiFi = wifidirect.New(wifidirect.Config{MAC: "bb:bb:bb:bb:bb:02", ListenAddr: "127.0.0.1:0", DisableDiscovery: true}, deps)
		return bWiFi
	}))
	var aWiFi *wifidirect.Transport
	require.NoError(t, a.Register(func(deps transport.Deps) transport.Link {
		aWiFi = wifidirect.New(wifidirect.Config{MAC: "aa:aa:aa:aa:aa:01", ListenAddr: "127.0.0.1:0", DisableDiscovery: true}, deps)
		return aWiFi
	}))
	require.NoError(t, b.Start(context.Background()))
	require.NoError(t, a.Start(context.Background()))
	aWiFi.AddPeer(wifidirect.Peer{MAC: "bb:bb:bb:bb:bb:02", Endpoint: bWiFi.Addr().String()})

	inv := invite.New(0x77, "rematch", "dict", "en", 2, 1).
		AddSMS("+15550001", false, 30).
		AddWiFiDirect("aa:aa:aa:aa:aa:01")

	require.NoError(t, a.EnqueueInvite(transport.KindSMS, Peer{Addr: "+15550002"}, inv))
	a.wait(t, event.NewGameSuccess)
	require.NoError(t, a.EnqueueInvite(transport.KindWiFiDirect, Peer{Addr: "bb:bb:bb:bb:bb:02"}, inv))
	e := a.wait(t, event.NewGameDupRejected)
	assert.Equal(t, "wifidirect", e.Transport)

	assert.Len(t, b.engine.Invitations(), 1)
}

func TestDeletedGameCanBeInvitedAgain(t *testing.T) {
	net := simulation.NewRadioNetwork()
	a, b := newDevice(t), newDevice(t)
	a.addSMS(t, net, "+15550001")
	b.addSMS(t, net, "+15550002")
	require.NoError(t, a.Start(context.Background()))
	require.NoError(t, b.Start(context.Background()))

	inv := invite.New(0x88, "again", "dict", "en", 2, 1).AddSMS("+15550001", false, 30)
	require.NoError(t, a.EnqueueInvite(transport.KindSMS, Peer{Addr: "+15550002"}, inv))
	a.wait(t, event.NewGameSuccess)

	b.engine.RemoveGame(0x88)
	require.NoError(t, b.EnqueueGameDied(transport.KindSMS, 0x88, Peer{Addr: "+15550001"}))

	require.NoError(t, a.EnqueueInvite(transport.KindSMS, Peer{Addr: "+15550002"}, inv))
	a.wait(t, event.NewGameSuccess)
	assert.Len(t, b.engine.Invitations(), 2)
}

func TestSetupFailureIsolated(t *testing.T) {
	net := simulation.NewRadioNetwork()
	a, b := newDevice(t), newDevice(t)
	b.addSMS(t, net, "+15550002")
	b.engine.AddGame(5)
	require.NoError(t, b.Start(context.Background()))

	var broken atomic.Bool
	broken.Store(true)
	errNoAdapter := errors.New("no adapter")
	require.NoError(t, a.Register(func(deps transport.Deps) transport.Link {
		var startErr error
		if broken.Load() {
			startErr = errNoAdapter
		}
		return newFakeLink(transport.KindBT, deps, startErr)
	}))
	a.addSMS(t, net, "+15550001")

	err := a.Start(context.Background())
	require.ErrorIs(t, err, errNoAdapter)
	e := a.wait(t, event.TransportDisabled)
	assert.Equal(t, "bt", e.Transport)

	err = a.EnqueueSend(transport.KindBT, 5, Peer{Addr: "AA:BB:CC:DD:EE:FF"}, []byte("x"))
	assert.ErrorIs(t, err, transport.ErrDisabled)

	// The other transport is unaffected.
	require.NoError(t, a.EnqueueSend(transport.KindSMS, 5, Peer{Addr: "+15550002"}, []byte("x")))
	a.wait(t, event.MessageAccepted)

	status := a.Status()
	require.Len(t, status, 2)
	assert.Equal(t, transport.KindBT, status[0].Kind)
	assert.ErrorIs(t, status[0].Err, errNoAdapter)
	assert.NoError(t, status[1].Err)

	broken.Store(false)
	require.NoError(t, a.Reinit(context.Background(), transport.KindBT))
	require.NoError(t, a.EnqueueSend(transport.KindBT, 5, Peer{Addr: "AA:BB:CC:DD:EE:FF"}, []byte("x")))
	a.wait(t, event.MessageAccepted)
}

func TestReinitCarriesUndeliveredItems(t *testing.T) {
	a := newDevice(t)
	var links []*fakeLink
	require.NoError(t, a.Register(func(deps transport.Deps) transport.Link {
		l := newFakeLink(transport.KindBT, deps, nil)
		if len(links) == 0 {
			l.sender.stall = make(chan struct{}, 1)
		}
		links = append(links, l)
		return l
	}))
	require.NoError(t, a.Start(context.Background()))

	peer := Peer{Addr: "AA:BB:CC:DD:EE:FF"}
	require.NoError(t, a.EnqueueSend(transport.KindBT, 1, peer, []byte("m0")))
	select {
	case <-links[0].sender.stall:
	case <-time.After(2 * time.Second):
		t.Fatal("first send never started")
	}
	for _, m := range []string{"m1", "m2", "m3"} {
		require.NoError(t, a.EnqueueSend(transport.KindBT, 1, peer, []byte(m)))
	}

	require.NoError(t, a.Reinit(context.Background(), transport.KindBT))
	require.Len(t, links, 2)
	fresh := links[1].sender
	require.Eventually(t, func() bool { return len(fresh.delivered()) == 4 }, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"m0", "m1", "m2", "m3"}, fresh.delivered())
	require.Eventually(t, func() bool {
		pending, err := a.Pending(transport.KindBT)
		return err == nil && len(pending) == 0
	}, time.Second, 10*time.Millisecond)
}

func TestReinitKeepsItemsWhenRestartFails(t *testing.T) {
	a := newDevice(t)
	var builds atomic.Int32
	errNoAdapter := errors.New("no adapter")
	var first *fakeLink
	require.NoError(t, a.Register(func(deps transport.Deps) transport.Link {
		if builds.Add(1) == 1 {
			first = newFakeLink(transport.KindBT, deps, nil)
			return first
		}
		return newFakeLink(transport.KindBT, deps, errNoAdapter)
	}))
	require.NoError(t, a.Start(context.Background()))
	first.sender.down.Store(true)

	peer := Peer{Addr: "AA:BB:CC:DD:EE:FF"}
	require.NoError(t, a.EnqueueSend(transport.KindBT, 1, peer, []byte("m0")))
	a.wait(t, event.MessageResend)

	assert.ErrorIs(t, a.Reinit(context.Background(), transport.KindBT), errNoAdapter)
	pending, err := a.Pending(transport.KindBT)
	require.NoError(t, err)
	require.Len(t, pending[peer.Addr], 1)
	assert.Zero(t, pending[peer.Addr][0].FailCount)
}

func TestRegistrationErrors(t *testing.T) {
	a := newDevice(t)
	build := func(deps transport.Deps) transport.Link { return newFakeLink(transport.KindMQTT, deps, nil) }
	require.NoError(t, a.Register(build))
	assert.ErrorIs(t, a.Register(build), ErrAlreadyRegistered)

	err := a.EnqueueSend(transport.KindSMS, 1, Peer{Addr: "+1555"}, []byte("x"))
	assert.ErrorIs(t, err, ErrNoTransport)
	assert.ErrorIs(t, a.Reinit(context.Background(), transport.KindSMS), ErrNoTransport)
	assert.ErrorIs(t, a.EnqueueInvite(transport.KindMQTT, Peer{Addr: "x"}, nil), ErrNilInvitation)
}

func TestGameDiedDropsPending(t *testing.T) {
	a := newDevice(t)
	var link *fakeLink
	require.NoError(t, a.Register(func(deps transport.Deps) transport.Link {
		link = newFakeLink(transport.KindBT, deps, nil)
		return link
	}))
	require.NoError(t, a.Start(context.Background()))
	link.sender.down.Store(true)

	peer := Peer{Addr: "AA:BB:CC:DD:EE:FF"}
	require.NoError(t, a.EnqueueSend(transport.KindBT, 9, peer, []byte("m1")))
	a.wait(t, event.MessageResend)

	require.NoError(t, a.EnqueueGameDied(transport.KindBT, 9, peer))
	e := a.wait(t, event.MessageDropped)
	assert.Equal(t, uint32(9), e.GameID)

	// Payloads queued after the game died are discarded too.
	require.NoError(t, a.EnqueueSend(transport.KindBT, 9, peer, []byte("m2")))
	a.wait(t, event.MessageDropped)

	require.Eventually(t, func() bool {
		pending, err := a.Pending(transport.KindBT)
		require.NoError(t, err)
		items := pending[peer.Addr]
		return len(items) == 1 && items[0].Cmd == protocol.CmdMesgGameGone
	}, time.Second, 10*time.Millisecond)

	link.sender.down.Store(false)
	a.ResendAllPending(true)
	require.Eventually(t, func() bool {
		link.sender.mu.Lock()
		defer link.sender.mu.Unlock()
		return len(link.sender.sent) == 1 && link.sender.sent[0] == protocol.CmdMesgGameGone
	}, time.Second, 10*time.Millisecond)
}

func TestPlaceholderResolvedByName(t *testing.T) {
	a := newDevice(t)
	var link *fakeLink
	require.NoError(t, a.Register(func(deps transport.Deps) transport.Link {
		link = newFakeLink(transport.KindBT, deps, nil)
		return link
	}))
	require.NoError(t, a.Start(context.Background()))
	_, err := link.Book().Add("11:22:33:44:55:66", "Bob's phone")
	require.NoError(t, err)

	require.NoError(t, a.EnqueuePing(transport.KindBT, Peer{Addr: "", Name: "Bob's phone"}, 0))
	require.Eventually(t, func() bool {
		link.sender.mu.Lock()
		defer link.sender.mu.Unlock()
		return len(link.sender.sent) == 1
	}, time.Second, 10*time.Millisecond)

	err = a.EnqueuePing(transport.KindBT, Peer{Name: "Nobody"}, 0)
	assert.ErrorIs(t, err, addrbook.ErrUnresolved)
}

func TestClosedDispatcherRefusesWork(t *testing.T) {
	a := newDevice(t)
	require.NoError(t, a.Close())
	assert.ErrorIs(t, a.EnqueueSend(transport.KindSMS, 1, Peer{Addr: "+1555"}, nil), transport.ErrClosed)
	assert.ErrorIs(t, a.Start(context.Background()), transport.ErrClosed)
	assert.NoError(t, a.Close())
}
