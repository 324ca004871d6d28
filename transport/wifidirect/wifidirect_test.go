package wifidirect

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/grandcat/zeroconf"
	"github.com/opd-ai/gamelink/addrbook"
	"github.com/opd-ai/gamelink/event"
	"github.com/opd-ai/gamelink/ledger"
	"github.com/opd-ai/gamelink/protocol"
	"github.com/opd-ai/gamelink/simulation"
	"github.com/opd-ai/gamelink/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	macA = "aa:aa:aa:aa:aa:01"
	macB = "bb:bb:bb:bb:bb:02"
	macC = "cc:cc:cc:cc:cc:03"
)

type node struct {
	*Transport
	engine *simulation.Engine
	events <-chan event.Event
}

func startNode(t *testing.T, cfg Config) *node {
	t.Helper()
	bus := event.NewBus()
	events, _ := bus.Subscribe(64)
	engine := simulation.NewEngine()

	if cfg.ListenAddr == "" {
		cfg.ListenAddr = "127.0.0.1:0"
	}
	if cfg.Discovery == nil {
		cfg.DisableDiscovery = true
	}
	tr := New(cfg, transport.Deps{Engine: engine, Bus: bus})
	require.NoError(t, tr.Start(context.Background()))
	t.Cleanup(func() {
		_ = tr.Close()
		bus.Close()
	})
	return &node{Transport: tr, engine: engine, events: events}
}

func (n *node) wait(t *testing.T, want event.Type) event.Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case e := <-n.events:
			if e.Type == want {
				return e
			}
		case <-deadline:
			t.Fatalf("no %s event", want)
			return event.Event{}
		}
	}
}

func TestDirectSend(t *testing.T) {
	b := startNode(t, Config{MAC: macB, Name: "Bob"})
	b.engine.AddGame(42)
	a := startNode(t, Config{MAC: macA, Name: "Alice"})
	a.AddPeer(Peer{MAC: macB, Name: "Bob", Endpoint: b.Addr().String()})

	require.NoError(t, a.Worker().Enqueue(ledger.NewItem(protocol.CmdMesgSend, 42, macB, []byte("move"))))
	e := a.wait(t, event.MessageAccepted)
	assert.Equal(t, macB, e.Dest)

	log := b.engine.DeliveryLog()
	require.Len(t, log, 1)
	assert.Equal(t, macA, log[0].From.Addr)
	assert.Equal(t, "Alice", log[0].From.Name)
}

func TestPingMergesNames(t *testing.T) {
	b := startNode(t, Config{MAC: macB, Name: "Bob"})
	_, err := b.Book().Add(macC, "Carol")
	require.NoError(t, err)

	a := startNode(t, Config{MAC: macA, Name: "Alice"})
	a.AddPeer(Peer{MAC: macB, Endpoint: b.Addr().String()})

	ping := ledger.NewItem(protocol.CmdPing, 0, macB, nil)
	ping.NoRetry = true
	require.NoError(t, a.Worker().Enqueue(ping))
	a.wait(t, event.HostPonged)

	assert.Equal(t, "Bob", a.Book().Name(macB))
	assert.Equal(t, "Carol", a.Book().Name(macC))
	assert.Equal(t, "Alice", b.Book().Name(macA))
}

func TestGroupOwnerRelays(t *testing.T) {
	b := startNode(t, Config{MAC: macB, Name: "Bob"})
	b.engine.AddGame(7)

	owner := startNode(t, Config{MAC: macC, Name: "Owner"})
	owner.AddPeer(Peer{MAC: macB, Endpoint: b.Addr().String()})

	a := startNode(t, Config{MAC: macA, Name: "Alice", GroupOwner: owner.Addr().String()})

	require.NoError(t, a.Worker().Enqueue(ledger.NewItem(protocol.CmdMesgSend, 7, macB, []byte("via owner"))))
	a.wait(t, event.MessageAccepted)
	assert.Equal(t, [][]byte{[]byte("via owner")}, b.engine.Accepted(7))
	assert.Empty(t, owner.engine.DeliveryLog())
}

func TestNoRouteIsRetried(t *testing.T) {
	a := startNode(t, Config{MAC: macA, Worker: transport.WorkerConfig{ResendInterval: time.Hour}})

	require.NoError(t, a.Worker().Enqueue(ledger.NewItem(protocol.CmdMesgSend, 1, macB, []byte("x"))))
	e := a.wait(t, event.MessageResend)
	assert.Equal(t, 1, e.Attempt)
}

func TestStartRequiresMAC(t *testing.T) {
	tr := New(Config{ListenAddr: "127.0.0.1:0", DisableDiscovery: true}, transport.Deps{Engine: simulation.NewEngine()})
	assert.ErrorIs(t, tr.Start(context.Background()), addrbook.ErrUnresolved)
}

type fakeDiscovery struct {
	peers      []Peer
	advertised chan int
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

func (f *fakeDiscovery) Advertise(mac, name string, port int) (io.Closer, error) {
	f.advertised <- port
	return nopCloser{}, nil
}

func (f *fakeDiscovery) Browse(ctx context.Context, found func(Peer)) error {
	for _, p := range f.peers {
		found(p)
	}
	<-ctx.Done()
	return nil
}

func TestDiscoveryFeedsEndpoints(t *testing.T) {
	d := &fakeDiscovery{
		peers:      []Peer{{MAC: "BB:BB:BB:BB:BB:02", Name: "Bob", Endpoint: "10.0.0.2:5432"}},
		advertised: make(chan int, 1),
	}
	a := startNode(t, Config{MAC: macA, Name: "Alice", Discovery: d})

	port := <-d.advertised
	assert.Equal(t, a.Addr().(*net.TCPAddr).Port, port)
	require.Eventually(t, func() bool {
		ep, err := a.route(macB)
		return err == nil && ep == "10.0.0.2:5432"
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, "Bob", a.Book().Name(macB))
}

func TestZeroconfEntryParsing(t *testing.T) {
	z := Zeroconf{Flavor: "gamelink"}

	entry := zeroconf.NewServiceEntry("srvc_gamelink", ServiceType, "local.")
	entry.Text = []string{"mac=aa:bb:cc:dd:ee:ff", "name=Tablet", "junk"}
	entry.AddrIPv4 = []net.IP{net.ParseIP("192.168.49.1")}
	entry.Port = 5432

	peer, ok := z.peerFromEntry(entry)
	require.True(t, ok)
	assert.Equal(t, Peer{MAC: "aa:bb:cc:dd:ee:ff", Name: "Tablet", Endpoint: "192.168.49.1:5432"}, peer)

	other := zeroconf.NewServiceEntry("srvc_otherapp", ServiceType, "local.")
	other.Text = entry.Text
	_, ok = z.peerFromEntry(other)
	assert.False(t, ok)

	nomac := zeroconf.NewServiceEntry("srvc_gamelink", ServiceType, "local.")
	_, ok = z.peerFromEntry(nomac)
	assert.False(t, ok)
}
