package bt

import (
	"context"
	"net"
	"time"

	"github.com/opd-ai/gamelink/addrbook"
	"github.com/opd-ai/gamelink/interfaces"
	"github.com/opd-ai/gamelink/transport"
	"github.com/opd-ai/gamelink/transport/socket"
	"github.com/sirupsen/logrus"
)

// DefaultChannel is the RFCOMM channel the listener binds.
const DefaultChannel uint8 = 1

// Network opens RFCOMM streams. The default implementation uses kernel
// Bluetooth sockets; tests substitute TCP.
type Network interface {
	Dial(ctx context.Context, addr string) (net.Conn, error)
	Listen() (net.Listener, error)
}

type rfcommNetwork struct {
	channel uint8
}

func (n rfcommNetwork) Dial(ctx context.Context, addr string) (net.Conn, error) {
	return dialRFCOMM(ctx, addr, n.channel)
}

func (n rfcommNetwork) Listen() (net.Listener, error) {
	return listenRFCOMM(n.channel)
}

// Config configures the Bluetooth transport.
type Config struct {
	Channel     uint8
	Timeout     time.Duration
	PingTimeout time.Duration
	Worker      transport.WorkerConfig
	// Adapter limits paired-device lookups to one controller, such as
	// "hci0". Empty means every adapter.
	Adapter string
	// Devices overrides the BlueZ paired-device lister.
	Devices addrbook.DeviceLister
	// Network overrides kernel RFCOMM sockets.
	Network Network
}

// Transport is the Bluetooth link.
type Transport struct {
	transport.Runner

	network  Network
	framer   socket.Framer
	session  *transport.Session
	book     *addrbook.Book
	worker   *transport.Worker
	receiver *transport.Receiver
	listener *socket.Listener
}

// New creates the Bluetooth transport. Nothing touches the radio until
// Start.
func New(cfg Config, deps transport.Deps) *Transport {
	if cfg.Channel == 0 {
		cfg.Channel = DefaultChannel
	}
	network := cfg.Network
	if network == nil {
		network = rfcommNetwork{channel: cfg.Channel}
	}

	devices := cfg.Devices
	if devices == nil {
		devices = BlueZDevices{Adapter: cfg.Adapter}
	}

	t := &Transport{
		network: network,
		framer:  socket.NewBinaryFramer(deps.CodecOrDefault()),
		session: deps.NewSession(transport.KindBT),
	}
	t.book = deps.NewBook(transport.KindBT,
		addrbook.WithPlaceholder(addrbook.BogusBTAddr),
		addrbook.WithAddressValidator(addrbook.IsMAC),
		addrbook.WithDeviceLister(devices),
	)

	sender := socket.NewSender(socket.SenderConfig{
		Dial:        network.Dial,
		Framer:      t.framer,
		Resolve:     t.resolve,
		Timeout:     cfg.Timeout,
		PingTimeout: cfg.PingTimeout,
	}, t.session)

	wc := cfg.Worker
	wc.Kind = transport.KindBT
	t.worker = transport.NewWorker(wc, sender, t.session)
	t.receiver = deps.NewReceiver(t.session, t.book, transport.ReceiverConfig{})
	return t
}

// Kind implements transport.Link.
func (t *Transport) Kind() transport.Kind { return transport.KindBT }

// Worker implements transport.Link.
func (t *Transport) Worker() *transport.Worker { return t.worker }

// Book implements transport.Link.
func (t *Transport) Book() *addrbook.Book { return t.book }

// Start opens the listening socket and starts serving.
func (t *Transport) Start(ctx context.Context) error {
	ln, err := t.network.Listen()
	if err != nil {
		return transport.NewError("listen", transport.KindBT, "", err)
	}
	t.listener = socket.NewListener(ln, socket.ListenerConfig{
		Framer:  t.framer,
		Handler: t.receiver,
		Peer:    t.peer,
	}, t.session)

	ctx = t.Context(ctx)
	t.Go("bt-worker", func() { t.worker.Run(ctx) })
	t.Go("bt-listener", func() {
		if err := t.listener.Serve(ctx); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "Transport.Start",
				"error":    err.Error(),
			}).Error("Bluetooth listener failed")
		}
	})
	return nil
}

// Close stops the transport.
func (t *Transport) Close() error {
	t.Stop()
	return t.book.Close()
}

// resolve turns a queued destination, an address or a device name, into
// a dialable address.
func (t *Transport) resolve(dest string) (string, error) {
	return t.book.Resolve(dest, t.book.Name(dest))
}

func (t *Transport) peer(conn net.Conn) interfaces.Sender {
	addr := conn.RemoteAddr().String()
	return interfaces.Sender{
		Transport: transport.KindBT.String(),
		Addr:      addr,
		Name:      t.book.Name(addr),
	}
}
