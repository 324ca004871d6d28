package wifidirect

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/opd-ai/gamelink/addrbook"
	"github.com/opd-ai/gamelink/interfaces"
	"github.com/opd-ai/gamelink/protocol"
	"github.com/opd-ai/gamelink/transport"
	"github.com/opd-ai/gamelink/transport/socket"
	"github.com/sirupsen/logrus"
)

const (
	// DefaultPort is the TCP port every group member listens on.
	DefaultPort = 5432
	// DefaultFlavor names the app in the DNS-SD instance.
	DefaultFlavor = "gamelink"
)

// ErrNoRoute indicates a destination with no known endpoint and no group
// owner to relay through.
var ErrNoRoute = errors.New("no route to peer")

// Config configures the WiFi-Direct transport.
type Config struct {
	// MAC is this device's P2P hardware address. Required.
	MAC  string
	Name string

	Flavor string
	// ListenAddr defaults to all interfaces on DefaultPort.
	ListenAddr string
	// GroupOwner is the host:port of the group owner, used as a relay for
	// peers whose endpoint is unknown. Empty on the owner itself.
	GroupOwner string

	Timeout     time.Duration
	PingTimeout time.Duration
	Worker      transport.WorkerConfig

	// Discovery overrides multicast DNS; set DisableDiscovery to run
	// without any.
	Discovery        Discovery
	DisableDiscovery bool
}

// Transport is the WiFi-Direct link.
type Transport struct {
	transport.Runner

	cfg       Config
	framer    *socket.JSONFramer
	session   *transport.Session
	book      *addrbook.Book
	sender    *socket.Sender
	worker    *transport.Worker
	receiver  *transport.Receiver
	listener  *socket.Listener
	discovery Discovery
	advert    io.Closer

	mu        sync.RWMutex
	endpoints map[string]string
	port      int
}

// New creates the WiFi-Direct transport.
func New(cfg Config, deps transport.Deps) *Transport {
	if cfg.Flavor == "" {
		cfg.Flavor = DefaultFlavor
	}
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = ":" + strconv.Itoa(DefaultPort)
	}
	cfg.MAC = strings.ToLower(cfg.MAC)

	t := &Transport{
		cfg:       cfg,
		framer:    socket.NewJSONFramer(deps.CodecOrDefault()),
		session:   deps.NewSession(transport.KindWiFiDirect),
		endpoints: make(map[string]string),
		port:      DefaultPort,
	}
	if !cfg.DisableDiscovery {
		t.discovery = cfg.Discovery
		if t.discovery == nil {
			t.discovery = Zeroconf{Flavor: cfg.Flavor}
		}
	}
	t.book = deps.NewBook(transport.KindWiFiDirect, addrbook.WithAddressValidator(addrbook.IsMAC))

	t.sender = socket.NewSender(socket.SenderConfig{
		Dial:        dialTCP,
		Framer:      t.framer,
		Resolve:     t.route,
		Timeout:     cfg.Timeout,
		PingTimeout: cfg.PingTimeout,
		Decorate:    t.decorate,
		OnReply:     t.learnReply,
	}, t.session)

	wc := cfg.Worker
	wc.Kind = transport.KindWiFiDirect
	t.worker = transport.NewWorker(wc, t.sender, t.session)
	t.receiver = deps.NewReceiver(t.session, t.book, transport.ReceiverConfig{})
	return t
}

func dialTCP(ctx context.Context, addr string) (net.Conn, error) {
	var d net.Dialer
	return d.DialContext(ctx, "tcp", addr)
}

// Kind implements transport.Link.
func (t *Transport) Kind() transport.Kind { return transport.KindWiFiDirect }

// Worker implements transport.Link.
func (t *Transport) Worker() *transport.Worker { return t.worker }

// Book implements transport.Link.
func (t *Transport) Book() *addrbook.Book { return t.book }

// Addr returns the listening address once started.
func (t *Transport) Addr() net.Addr {
	if t.listener == nil {
		return nil
	}
	return t.listener.Addr()
}

// Start listens, advertises and begins browsing for peers.
func (t *Transport) Start(ctx context.Context) error {
	if !addrbook.IsMAC(t.cfg.MAC) {
		return transport.NewError("start", transport.KindWiFiDirect, t.cfg.MAC, fmt.Errorf("%w: local mac", addrbook.ErrUnresolved))
	}
	ln, err := net.Listen("tcp", t.cfg.ListenAddr)
	if err != nil {
		return transport.NewError("listen", transport.KindWiFiDirect, t.cfg.ListenAddr, err)
	}
	if tcp, ok := ln.Addr().(*net.TCPAddr); ok {
		t.mu.Lock()
		t.port = tcp.Port
		t.mu.Unlock()
	}

	t.listener = socket.NewListener(ln, socket.ListenerConfig{
		Framer:  t.framer,
		Handler: t,
		Observe: t.observe,
	}, t.session)

	if t.discovery != nil {
		advert, err := t.discovery.Advertise(t.cfg.MAC, t.cfg.Name, t.localPort())
		if err != nil {
			// Peers can still reach us through the group owner.
			logrus.WithFields(logrus.Fields{
				"function": "Transport.Start",
				"error":    err.Error(),
			}).Warn("Failed to advertise WiFi-Direct service")
		}
		t.advert = advert
	}

	ctx = t.Context(ctx)
	t.Go("wifidirect-worker", func() { t.worker.Run(ctx) })
	t.Go("wifidirect-listener", func() {
		if err := t.listener.Serve(ctx); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "Transport.Start",
				"error":    err.Error(),
			}).Error("WiFi-Direct listener failed")
		}
	})
	if t.discovery != nil {
		t.Go("wifidirect-browse", func() {
			if err := t.discovery.Browse(ctx, t.AddPeer); err != nil {
				logrus.WithFields(logrus.Fields{
					"function": "Transport.Start",
					"error":    err.Error(),
				}).Warn("WiFi-Direct discovery stopped")
			}
		})
	}
	return nil
}

// Close stops the transport.
func (t *Transport) Close() error {
	if t.advert != nil {
		_ = t.advert.Close()
	}
	t.Stop()
	return t.book.Close()
}

// AddPeer records a discovered peer.
func (t *Transport) AddPeer(p Peer) {
	mac := strings.ToLower(p.MAC)
	if mac == "" || mac == t.cfg.MAC {
		return
	}
	if p.Endpoint != "" {
		t.mu.Lock()
		t.endpoints[mac] = p.Endpoint
		t.mu.Unlock()
	}
	if _, err := t.book.Add(mac, p.Name); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Transport.AddPeer",
			"mac":      mac,
			"error":    err.Error(),
		}).Debug("Not recording discovered peer")
	}
	logrus.WithFields(logrus.Fields{
		"function": "Transport.AddPeer",
		"mac":      mac,
		"endpoint": p.Endpoint,
	}).Debug("WiFi-Direct peer")
}

func (t *Transport) localPort() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.port
}

func (t *Transport) endpoint(mac string) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	ep, ok := t.endpoints[strings.ToLower(mac)]
	return ep, ok
}

// route picks where to connect for dest: the peer itself when its
// endpoint is known, otherwise the group owner.
func (t *Transport) route(dest string) (string, error) {
	if ep, ok := t.endpoint(dest); ok {
		return ep, nil
	}
	if t.cfg.GroupOwner != "" {
		return t.cfg.GroupOwner, nil
	}
	return "", fmt.Errorf("%w: %s", ErrNoRoute, dest)
}

// decorate stamps outbound envelopes with addressing and, on pings and
// pongs, the table of names this device knows.
func (t *Transport) decorate(dest string, f *protocol.Frame) {
	f.Src = t.cfg.MAC
	f.MAC = t.cfg.MAC
	f.Name = t.cfg.Name
	if dest != "" {
		f.Dest = strings.ToLower(dest)
	}
	if f.Cmd == protocol.CmdPing || f.Cmd == protocol.CmdPong {
		f.Names = t.names()
	}
}

func (t *Transport) names() map[string]string {
	names := map[string]string{t.cfg.MAC: t.cfg.Name}
	for _, e := range t.book.Entries() {
		if e.Name != "" {
			names[e.Addr] = e.Name
		}
	}
	return names
}

// learnReply merges a peer's name table from its pong.
func (t *Transport) learnReply(dest string, reply protocol.Frame) {
	if reply.Src != "" {
		_, _ = t.book.Add(strings.ToLower(reply.Src), reply.Name)
	}
	for mac, name := range reply.Names {
		if strings.ToLower(mac) != t.cfg.MAC {
			_, _ = t.book.Add(strings.ToLower(mac), name)
		}
	}
}

// observe identifies inbound peers by the MAC in their envelope and
// learns how to reach them directly.
func (t *Transport) observe(conn net.Conn, f protocol.Frame, from *interfaces.Sender) {
	if f.Src == "" {
		return
	}
	mac := strings.ToLower(f.Src)
	from.Addr = mac
	if f.Name != "" {
		from.Name = f.Name
	}
	if mac == t.cfg.MAC {
		return
	}
	if _, known := t.endpoint(mac); known {
		return
	}
	if tcp, ok := conn.RemoteAddr().(*net.TCPAddr); ok {
		t.mu.Lock()
		t.endpoints[mac] = net.JoinHostPort(tcp.IP.String(), strconv.Itoa(t.port))
		t.mu.Unlock()
	}
}

// Handle implements socket.Handler. Frames addressed to another device
// are relayed there and the peer's reply is passed back; everything else
// goes to the receiver.
func (t *Transport) Handle(ctx context.Context, f protocol.Frame, from interfaces.Sender) (protocol.Frame, bool) {
	if f.Dest != "" && strings.ToLower(f.Dest) != t.cfg.MAC {
		return t.forward(ctx, f)
	}

	reply, ok := t.receiver.Handle(ctx, f, from)
	if ok {
		t.decorate(from.Addr, &reply)
	}
	return reply, ok
}

// HandleDecodeError implements socket.Handler.
func (t *Transport) HandleDecodeError(err error, from string) protocol.Frame {
	return t.receiver.HandleDecodeError(err, from)
}

func (t *Transport) forward(ctx context.Context, f protocol.Frame) (protocol.Frame, bool) {
	logger := logrus.WithFields(logrus.Fields{
		"function": "Transport.forward",
		"src":      f.Src,
		"dest":     f.Dest,
		"cmd":      f.Cmd.String(),
	})

	ep, ok := t.endpoint(f.Dest)
	if !ok {
		logger.Warn("Cannot relay to unknown peer")
		return protocol.Frame{}, false
	}
	reply, err := t.sender.Exchange(ctx, ep, f, 0)
	if err != nil {
		logger.WithField("error", err.Error()).Warn("Relay failed")
		return protocol.Frame{}, false
	}
	logger.Debug("Relayed frame")
	return reply, true
}
