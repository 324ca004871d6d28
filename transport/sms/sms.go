package sms

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/opd-ai/gamelink/addrbook"
	"github.com/opd-ai/gamelink/interfaces"
	"github.com/opd-ai/gamelink/invite"
	"github.com/opd-ai/gamelink/ledger"
	"github.com/opd-ai/gamelink/protocol"
	"github.com/opd-ai/gamelink/smsproto"
	"github.com/opd-ai/gamelink/transport"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

const (
	// DefaultPort is the data SMS port games listen on.
	DefaultPort = 3344
	// DefaultRateCount messages may be sent per DefaultRatePeriod, after an
	// initial DefaultRateBurst.
	DefaultRateCount  = 30
	DefaultRatePeriod = 30 * time.Minute
	DefaultRateBurst  = 5

	// MsgIDCounter names the persisted message id counter.
	MsgIDCounter = "sms.msgid"

	inboxSize = 256
)

// ErrNoRadio indicates the transport was configured without a radio.
var ErrNoRadio = errors.New("no sms radio")

// ErrNotTaken indicates the local game layer refused a looped-back payload.
var ErrNotTaken = errors.New("payload not taken")

// Radio sends and receives binary data messages on the game port.
type Radio interface {
	SendData(ctx context.Context, phone string, data []byte) error
	// Listen registers the handler for inbound data messages; nil stops
	// delivery.
	Listen(handler func(from string, data []byte))
}

// Counters persists small integers across restarts.
type Counters interface {
	Counter(name string) (int64, error)
	SetCounter(name string, value int64) error
}

// Config configures the SMS transport.
type Config struct {
	// Phone is this device's own number; sends to it are delivered
	// locally.
	Phone string
	Radio Radio

	CombineWait time.Duration
	PartialTTL  time.Duration

	// RateCount messages per RatePeriod, after RateBurst. A negative
	// RateCount disables limiting.
	RateCount  int
	RatePeriod time.Duration
	RateBurst  int

	Worker transport.WorkerConfig
	// Counters may be nil, in which case message ids restart at zero.
	Counters Counters
}

func (c Config) limiter() *rate.Limiter {
	if c.RateCount < 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	count, period, burst := c.RateCount, c.RatePeriod, c.RateBurst
	if count == 0 {
		count = DefaultRateCount
	}
	if period <= 0 {
		period = DefaultRatePeriod
	}
	if burst <= 0 {
		burst = DefaultRateBurst
	}
	return rate.NewLimiter(rate.Every(period/time.Duration(count)), burst)
}

type inbound struct {
	from string
	data []byte
}

// Transport is the SMS link.
type Transport struct {
	transport.Runner

	cfg      Config
	codec    *protocol.Codec
	session  *transport.Session
	book     *addrbook.Book
	worker   *transport.Worker
	receiver *transport.Receiver
	self     *transport.Receiver
	out      *smsproto.Outbound
	in       *smsproto.Inbound
	limiter  *rate.Limiter
	clock    transport.TimeProvider
	inbox    chan inbound

	mu   sync.Mutex
	held map[uint64]*ledger.Item
}

// New creates the SMS transport.
func New(cfg Config, deps transport.Deps) *Transport {
	if cfg.CombineWait == 0 {
		cfg.CombineWait = smsproto.DefaultCombineWait
	}

	t := &Transport{
		cfg:     cfg,
		codec:   deps.CodecOrDefault(),
		session: deps.NewSession(transport.KindSMS),
		in:      smsproto.NewInbound(cfg.PartialTTL),
		limiter: cfg.limiter(),
		clock:   cfg.Worker.Clock,
		inbox:   make(chan inbound, inboxSize),
		held:    make(map[uint64]*ledger.Item),
	}
	if t.clock == nil {
		t.clock = transport.RealTimeProvider{}
	}
	t.out = smsproto.NewOutbound(t.outboundOptions()...)
	t.book = deps.NewBook(transport.KindSMS, addrbook.WithAddressValidator(addrbook.IsPhone))

	wc := cfg.Worker
	wc.Kind = transport.KindSMS
	t.worker = transport.NewWorker(wc, t, t.session)
	if deps.Invites == nil {
		deps.Invites = invite.NewHandler(deps.Engine)
	}
	t.receiver = deps.NewReceiver(t.session, t.book, transport.ReceiverConfig{Async: true, GoneOnce: true})
	// Sends to our own number are answered in place, like a socket peer.
	t.self = deps.NewReceiver(t.session, t.book, transport.ReceiverConfig{})
	return t
}

func (t *Transport) outboundOptions() []smsproto.OutboundOption {
	opts := []smsproto.OutboundOption{smsproto.WithCombineWait(t.cfg.CombineWait)}
	if t.cfg.Counters == nil {
		return opts
	}
	last, err := t.cfg.Counters.Counter(MsgIDCounter)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Transport.outboundOptions",
			"error":    err.Error(),
		}).Warn("Failed to load SMS message id; starting over")
	}
	counters := t.cfg.Counters
	return append(opts,
		smsproto.WithStartID(uint8(last)),
		smsproto.WithIDObserver(func(id uint8) {
			if err := counters.SetCounter(MsgIDCounter, int64(id)); err != nil {
				logrus.WithFields(logrus.Fields{
					"function": "Transport.saveMsgID",
					"error":    err.Error(),
				}).Warn("Failed to persist SMS message id")
			}
		}),
	)
}

// Kind implements transport.Link.
func (t *Transport) Kind() transport.Kind { return transport.KindSMS }

// Worker implements transport.Link.
func (t *Transport) Worker() *transport.Worker { return t.worker }

// Book implements transport.Link.
func (t *Transport) Book() *addrbook.Book { return t.book }

// Start begins listening on the radio and launches the worker and the
// inbound loop.
func (t *Transport) Start(ctx context.Context) error {
	if t.cfg.Radio == nil {
		return transport.NewError("start", transport.KindSMS, "", ErrNoRadio)
	}
	ctx = t.Context(ctx)
	t.cfg.Radio.Listen(t.onData)
	t.session.Set(transport.StateReady)

	t.Go("sms-worker", func() { t.worker.Run(ctx) })
	t.Go("sms-inbound", func() { t.readLoop(ctx) })
	return nil
}

// Close stops listening and shuts the transport down.
func (t *Transport) Close() error {
	if t.cfg.Radio != nil {
		t.cfg.Radio.Listen(nil)
	}
	t.Stop()
	return t.book.Close()
}

func (t *Transport) onData(from string, data []byte) {
	select {
	case t.inbox <- inbound{from: from, data: data}:
	default:
		logrus.WithFields(logrus.Fields{
			"function": "Transport.onData",
			"from":     from,
		}).Warn("SMS inbox full; dropping packet")
	}
}

func (t *Transport) readLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case m := <-t.inbox:
			t.receive(ctx, m.from, m.data)
		}
	}
}

// receive reassembles one packet and handles every frame it completes.
func (t *Transport) receive(ctx context.Context, from string, packet []byte) {
	msgs, err := t.in.Receive(from, packet, t.clock.Now())
	if err != nil {
		t.receiver.HandleDecodeError(err, from)
		return
	}
	for _, msg := range msgs {
		f, err := t.codec.DecodeSocket(msg)
		if err != nil {
			t.receiver.HandleDecodeError(err, from)
			continue
		}
		t.handleFrame(ctx, from, f)
	}
}

func (t *Transport) handleFrame(ctx context.Context, from string, f protocol.Frame) {
	sender := interfaces.Sender{Transport: transport.KindSMS.String(), Addr: from}
	reply, ok := t.receiver.Handle(ctx, f, sender)
	if !ok {
		return
	}
	item := ledger.NewItem(reply.Cmd, reply.GameID, from, nil)
	item.NoRetry = reply.Cmd == protocol.CmdPong
	if err := t.worker.Enqueue(item); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Transport.handleFrame",
			"dest":     from,
			"cmd":      reply.Cmd.String(),
			"error":    err.Error(),
		}).Warn("Failed to queue reply")
	}
}

// Send implements transport.Sender. Items are held for combining and
// reported when Flush transmits them. Sends to our own number are handled
// locally at once.
func (t *Transport) Send(ctx context.Context, item *ledger.Item) (transport.Outcome, error) {
	data, err := t.codec.EncodeSocket(item.Frame())
	if err != nil {
		return transport.OutcomeBadProto, nil
	}

	if t.cfg.Phone != "" && item.Dest == t.cfg.Phone {
		return t.loopback(ctx, item)
	}

	if err := t.out.Add(item.Dest, data, item.ID, t.clock.Now()); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Transport.Send",
			"dest":     item.Dest,
			"cmd":      item.Cmd.String(),
			"error":    err.Error(),
		}).Error("Frame cannot be sent by SMS")
		return transport.OutcomeBadProto, nil
	}
	t.mu.Lock()
	t.held[item.ID] = item
	t.mu.Unlock()
	return transport.OutcomeDeferred, nil
}

// loopback hands item to our own receiver and reads its verdict from the
// reply instead of sending one.
func (t *Transport) loopback(ctx context.Context, item *ledger.Item) (transport.Outcome, error) {
	sender := interfaces.Sender{Transport: transport.KindSMS.String(), Addr: item.Dest}
	reply, ok := t.self.Handle(ctx, item.Frame(), sender)
	if !ok {
		return 0, transport.NewError("loopback", transport.KindSMS, item.Dest, ErrNotTaken)
	}
	outcome, err := transport.OutcomeForReply(item.Cmd, reply.Cmd)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Transport.loopback",
			"cmd":      item.Cmd.String(),
			"reply":    reply.Cmd.String(),
			"error":    err.Error(),
		}).Warn("Unexpected loopback reply")
	}
	return outcome, nil
}

// Release implements transport.Holder, returning items still waiting to
// be combined in the order they were sent.
func (t *Transport) Release() []*ledger.Item {
	t.mu.Lock()
	defer t.mu.Unlock()
	items := make([]*ledger.Item, 0, len(t.held))
	for _, it := range t.held {
		items = append(items, it)
	}
	clear(t.held)
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return items
}

// Flush implements transport.Flusher. Each ready batch goes out packet by
// packet under the rate limit; a failed packet fails every item in its
// batch.
func (t *Transport) Flush(ctx context.Context, force bool) transport.FlushResult {
	batches, wait := t.out.Flush(t.clock.Now(), force)
	res := transport.FlushResult{Wait: wait}

	for _, b := range batches {
		err := t.transmit(ctx, b)
		items := t.release(b.Tags)
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "Transport.Flush",
				"dest":     b.Phone,
				"packets":  len(b.Packets),
				"error":    err.Error(),
			}).Warn("SMS batch failed")
			res.Failed = append(res.Failed, items...)
			continue
		}
		res.Sent = append(res.Sent, items...)
	}
	return res
}

func (t *Transport) transmit(ctx context.Context, b smsproto.Batch) error {
	for i, packet := range b.Packets {
		if err := t.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limit: %w", err)
		}
		if err := t.cfg.Radio.SendData(ctx, b.Phone, packet); err != nil {
			return transport.NewError("send", transport.KindSMS, b.Phone, fmt.Errorf("packet %d of %d: %w", i+1, len(b.Packets), err))
		}
	}
	return nil
}

func (t *Transport) release(tags []uint64) []*ledger.Item {
	t.mu.Lock()
	defer t.mu.Unlock()
	items := make([]*ledger.Item, 0, len(tags))
	for _, tag := range tags {
		if it, ok := t.held[tag]; ok {
			items = append(items, it)
			delete(t.held, tag)
		}
	}
	return items
}
