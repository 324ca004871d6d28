package mqtt

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/opd-ai/gamelink/addrbook"
	"github.com/opd-ai/gamelink/interfaces"
	"github.com/opd-ai/gamelink/ledger"
	"github.com/opd-ai/gamelink/protocol"
	"github.com/opd-ai/gamelink/transport"
	"github.com/sirupsen/logrus"
)

const (
	// DefaultPort is the broker port assumed when the host carries none.
	DefaultPort = 1883
	// DefaultQoS asks the broker for exactly-once delivery.
	DefaultQoS = 2
	// DefaultConnectWait bounds how long a send waits for the connection.
	DefaultConnectWait = 10 * time.Second
	// DefaultPublishTimeout bounds one publish or subscribe round trip.
	DefaultPublishTimeout = 10 * time.Second
	// DefaultMinBackoff and DefaultMaxBackoff bound the liveness check
	// interval.
	DefaultMinBackoff = 5 * time.Second
	DefaultMaxBackoff = time.Hour

	devicePrefix = "xw4/device/"
	inboxSize    = 256
)

// ErrNoDevID indicates the transport has no valid device id to subscribe
// with.
var ErrNoDevID = errors.New("missing or malformed device id")

// DeviceTopic returns the topic devID subscribes to.
func DeviceTopic(devID string) string {
	return devicePrefix + strings.ToUpper(devID)
}

// Config configures the MQTT transport.
type Config struct {
	// Broker is a host, host:port or URL. Required.
	Broker   string
	Username string
	Password string
	// DevID is this device's 16 hex digit id. Required.
	DevID string

	QoS            byte
	KeepAlive      time.Duration
	ConnectWait    time.Duration
	PublishTimeout time.Duration
	MinBackoff     time.Duration
	MaxBackoff     time.Duration
	Worker         transport.WorkerConfig

	// NewClient overrides the paho client, mostly for tests.
	NewClient ClientFactory
}

// BrokerURL normalizes a configured broker into a paho server URL.
func BrokerURL(broker string) string {
	b := strings.TrimSpace(broker)
	if b == "" {
		return ""
	}
	if !strings.Contains(b, "://") {
		b = "tcp://" + b
	}
	hostPart := b[strings.Index(b, "://")+3:]
	if !strings.Contains(hostPart, ":") {
		b = fmt.Sprintf("%s:%d", b, DefaultPort)
	}
	return b
}

// Transport is the MQTT link.
type Transport struct {
	transport.Runner

	cfg      Config
	codec    *protocol.Codec
	session  *transport.Session
	book     *addrbook.Book
	worker   *transport.Worker
	receiver *transport.Receiver
	reg      *registry
	backoff  *Backoff
	inbox    chan inbound

	done     chan struct{}
	doneOnce sync.Once
}

type inbound struct {
	topic string
	data  []byte
}

// New creates the MQTT transport.
func New(cfg Config, deps transport.Deps) *Transport {
	if cfg.QoS == 0 {
		cfg.QoS = DefaultQoS
	}
	if cfg.ConnectWait <= 0 {
		cfg.ConnectWait = DefaultConnectWait
	}
	if cfg.PublishTimeout <= 0 {
		cfg.PublishTimeout = DefaultPublishTimeout
	}
	if cfg.MinBackoff <= 0 {
		cfg.MinBackoff = DefaultMinBackoff
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = DefaultMaxBackoff
	}
	if cfg.NewClient == nil {
		cfg.NewClient = NewPahoClient
	}
	cfg.Broker = BrokerURL(cfg.Broker)
	cfg.DevID = strings.ToUpper(cfg.DevID)

	t := &Transport{
		cfg:     cfg,
		codec:   deps.CodecOrDefault(),
		session: deps.NewSession(transport.KindMQTT),
		backoff: NewBackoff(cfg.MinBackoff, cfg.MaxBackoff),
		inbox:   make(chan inbound, inboxSize),
		done:    make(chan struct{}),
	}
	t.book = deps.NewBook(transport.KindMQTT, addrbook.WithAddressValidator(addrbook.IsDevID))
	t.reg = newRegistry(t.session, t.newConn)

	wc := cfg.Worker
	wc.Kind = transport.KindMQTT
	t.worker = transport.NewWorker(wc, publisher{t}, t.session)
	t.receiver = deps.NewReceiver(t.session, t.book, transport.ReceiverConfig{Async: true})
	return t
}

// Kind implements transport.Link.
func (t *Transport) Kind() transport.Kind { return transport.KindMQTT }

// Worker implements transport.Link.
func (t *Transport) Worker() *transport.Worker { return t.worker }

// Book implements transport.Link.
func (t *Transport) Book() *addrbook.Book { return t.book }

// DevID returns this device's id as used in topics.
func (t *Transport) DevID() string { return t.cfg.DevID }

// Start validates configuration, begins connecting and launches the
// worker, the inbound loop and the liveness supervisor.
func (t *Transport) Start(ctx context.Context) error {
	if !addrbook.IsDevID(t.cfg.DevID) {
		return transport.NewError("start", transport.KindMQTT, t.cfg.DevID, ErrNoDevID)
	}
	if t.cfg.Broker == "" {
		return transport.NewError("start", transport.KindMQTT, "", errors.New("no broker configured"))
	}

	ctx = t.Context(ctx)
	t.reg.getOrStart()
	t.Go("mqtt-worker", func() { t.worker.Run(ctx) })
	t.Go("mqtt-inbound", func() {
		t.readLoop(ctx)
		t.shutdown()
	})
	t.Go("mqtt-supervisor", func() { t.supervise(ctx) })
	return nil
}

// Close stops the transport and disconnects from the broker.
func (t *Transport) Close() error {
	t.shutdown()
	t.Stop()
	t.reg.destroy()
	return t.book.Close()
}

// Reconnect replaces the broker connection, as after a configuration
// change.
func (t *Transport) Reconnect() {
	t.reg.replace()
}

// CheckAlive replaces the broker connection if it is not up. It reports
// whether a new connection was started.
func (t *Transport) CheckAlive() bool {
	c := t.reg.current()
	if c != nil && c.isConnected() {
		return false
	}
	logrus.WithFields(logrus.Fields{
		"function": "Transport.CheckAlive",
		"devid":    t.cfg.DevID,
	}).Info("MQTT connection down; restarting")
	if c != nil {
		t.reg.clear(c)
	}
	t.reg.getOrStart()
	return true
}

// Connected reports whether the broker connection is up and subscribed.
func (t *Transport) Connected() bool {
	c := t.reg.current()
	return c != nil && c.isConnected()
}

func (t *Transport) newConn(id uint64) *conn {
	var c *conn
	client := t.cfg.NewClient(ClientConfig{
		Broker:    t.cfg.Broker,
		ClientID:  t.cfg.DevID,
		Username:  t.cfg.Username,
		Password:  t.cfg.Password,
		KeepAlive: t.cfg.KeepAlive,
		OnLost: func(err error) {
			logrus.WithFields(logrus.Fields{
				"function": "Transport.onLost",
				"error":    fmt.Sprint(err),
			}).Warn("MQTT connection lost")
			t.reg.clear(c)
		},
	})
	c = newConn(id, client, DeviceTopic(t.cfg.DevID), t.cfg.QoS, t.cfg.PublishTimeout, t.onMessage, t.reg.report)
	return c
}

// onMessage runs on the client's goroutine and only hands off. A full
// inbox blocks it, which holds back the client and so the broker; nothing
// the broker delivered is discarded while the transport runs.
func (t *Transport) onMessage(_ paho.Client, m paho.Message) {
	msg := inbound{topic: m.Topic(), data: append([]byte(nil), m.Payload()...)}
	select {
	case t.inbox <- msg:
		return
	default:
	}

	logrus.WithFields(logrus.Fields{
		"function": "Transport.onMessage",
		"topic":    msg.topic,
	}).Debug("MQTT inbox full; waiting")
	select {
	case t.inbox <- msg:
	case <-t.done:
		logrus.WithFields(logrus.Fields{
			"function": "Transport.onMessage",
			"topic":    msg.topic,
		}).Warn("Transport stopped; message not handled")
	}
}

// shutdown releases handlers blocked on a full inbox.
func (t *Transport) shutdown() {
	t.doneOnce.Do(func() { close(t.done) })
}

func (t *Transport) readLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-t.inbox:
			t.deliver(ctx, msg)
		}
	}
}

// deliver handles one inbound envelope. Any reply goes out as a new
// message to the sender's topic.
func (t *Transport) deliver(ctx context.Context, msg inbound) {
	t.backoff.Reset()

	f, err := t.codec.DecodeEnvelope(msg.data)
	if err != nil {
		t.receiver.HandleDecodeError(err, decodeErrorSource(f.Src, msg.topic))
		return
	}
	src := strings.ToUpper(f.Src)
	from := interfaces.Sender{Transport: transport.KindMQTT.String(), Addr: src, Name: f.Name}

	reply, ok := t.receiver.Handle(ctx, f, from)
	if !ok || src == "" {
		return
	}
	item := ledger.NewItem(reply.Cmd, reply.GameID, src, nil)
	item.NoRetry = reply.Cmd == protocol.CmdPong
	if err := t.worker.Enqueue(item); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Transport.deliver",
			"dest":     src,
			"cmd":      reply.Cmd.String(),
			"error":    err.Error(),
		}).Warn("Failed to queue reply")
	}
}

// decodeErrorSource names the sender of an undecodable envelope: its
// source id when the JSON got that far, else the topic it arrived on.
func decodeErrorSource(src, topic string) string {
	if src != "" {
		return strings.ToUpper(src)
	}
	return topic
}

// supervise checks the connection on the backoff schedule. Traffic in
// either direction resets the schedule to its floor.
func (t *Transport) supervise(ctx context.Context) {
	timer := time.NewTimer(t.backoff.Current())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.backoff.Resets():
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(t.backoff.Current())
		case <-timer.C:
			t.CheckAlive()
			timer.Reset(t.backoff.Next())
		}
	}
}

// publisher sends items by publishing them to the destination's topic.
type publisher struct {
	t *Transport
}

// Send implements transport.Sender. The broker's acknowledgement is the
// delivery confirmation; answers such as PONG arrive later as messages.
func (p publisher) Send(ctx context.Context, item *ledger.Item) (transport.Outcome, error) {
	t := p.t
	dest := strings.ToUpper(item.Dest)

	c := t.reg.getOrStart()
	if err := c.waitReady(ctx, t.cfg.ConnectWait); err != nil {
		if ctx.Err() == nil {
			// Give up on this connection; the next send or check starts over.
			t.reg.clear(c)
		}
		return 0, transport.NewError("connect", transport.KindMQTT, t.cfg.Broker, errors.Join(transport.ErrNotConnected, err))
	}

	f := item.Frame()
	f.Src = t.cfg.DevID
	f.Dest = dest
	data, err := t.codec.EncodeEnvelope(f)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "publisher.Send",
			"dest":     dest,
			"cmd":      item.Cmd.String(),
			"error":    err.Error(),
		}).Error("Unencodable item")
		return transport.OutcomeBadProto, nil
	}

	if err := wait(c.client.Publish(DeviceTopic(dest), t.cfg.QoS, false, data), t.cfg.PublishTimeout); err != nil {
		return 0, transport.NewError("publish", transport.KindMQTT, dest, err)
	}
	t.backoff.Reset()
	return transport.OutcomeAccepted, nil
}
