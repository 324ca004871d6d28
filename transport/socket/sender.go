package socket

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/opd-ai/gamelink/ledger"
	"github.com/opd-ai/gamelink/protocol"
	"github.com/opd-ai/gamelink/transport"
	"github.com/sirupsen/logrus"
)

const (
	// DefaultTimeout bounds one whole exchange, from dial to reply.
	DefaultTimeout = 10 * time.Second
	// DefaultPingTimeout is the shorter bound used for liveness pings.
	DefaultPingTimeout = 5 * time.Second
)

// Dialer opens a stream to addr.
type Dialer func(ctx context.Context, addr string) (net.Conn, error)

// Resolver maps a queued destination to a dialable address.
type Resolver func(dest string) (string, error)

// SenderConfig configures a Sender.
type SenderConfig struct {
	Dial        Dialer
	Framer      Framer
	Resolve     Resolver
	Timeout     time.Duration
	PingTimeout time.Duration

	// Decorate, if set, fills in envelope fields before a request is
	// written.
	Decorate func(dest string, f *protocol.Frame)

	// OnReply, if set, sees every reply that decoded.
	OnReply func(dest string, reply protocol.Frame)
}

// Sender performs one connection per item. It implements
// transport.Sender and drives the session through
// CONNECTING, CONNECTED, HANDSHAKING and READY.
type Sender struct {
	cfg     SenderConfig
	session *transport.Session
}

// NewSender creates a sender reporting to session.
func NewSender(cfg SenderConfig, session *transport.Session) *Sender {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.PingTimeout <= 0 {
		cfg.PingTimeout = DefaultPingTimeout
	}
	return &Sender{cfg: cfg, session: session}
}

// Send delivers item and interprets the reply. Connection failures,
// timeouts and lost replies are returned as errors so the item is retried;
// replies the peer could not make sense of become OutcomeBadProto.
func (s *Sender) Send(ctx context.Context, item *ledger.Item) (transport.Outcome, error) {
	kind := s.session.Kind()
	logger := logrus.WithFields(logrus.Fields{
		"function":  "Sender.Send",
		"transport": kind.String(),
		"dest":      item.Dest,
		"cmd":       item.Cmd.String(),
	})

	addr := item.Dest
	if s.cfg.Resolve != nil {
		resolved, err := s.cfg.Resolve(item.Dest)
		if err != nil {
			return transport.OutcomeBadProto, transport.NewError("resolve", kind, item.Dest, err)
		}
		addr = resolved
	}

	timeout := s.cfg.Timeout
	if item.Cmd == protocol.CmdPing {
		timeout = s.cfg.PingTimeout
	}
	f := item.Frame()
	if s.cfg.Decorate != nil {
		s.cfg.Decorate(item.Dest, &f)
	}

	// An oversized frame can never be delivered, so it is not retried.
	if err := s.cfg.Framer.Fits(f); err != nil {
		logger.WithField("error", err.Error()).Error("Frame cannot be sent")
		return transport.OutcomeBadProto, nil
	}

	reply, err := s.Exchange(ctx, addr, f, timeout)
	if err != nil {
		if errors.Is(err, protocol.ErrBadProto) && !errors.Is(err, protocol.ErrTruncated) {
			logger.WithField("error", err.Error()).Warn("Peer sent an unreadable reply")
			return transport.OutcomeBadProto, nil
		}
		return transport.OutcomeBadProto, err
	}

	if s.cfg.OnReply != nil {
		s.cfg.OnReply(item.Dest, reply)
	}
	outcome, err := transport.OutcomeForReply(item.Cmd, reply.Cmd)
	if err != nil {
		logger.WithField("error", err.Error()).Warn("Reply does not answer request")
	}
	logger.WithField("outcome", outcome.String()).Debug("Exchange complete")
	return outcome, nil
}

// Exchange writes f to addr and returns the peer's reply. The whole
// exchange, dial included, is bounded by timeout; a zero timeout uses the
// configured default.
func (s *Sender) Exchange(ctx context.Context, addr string, f protocol.Frame, timeout time.Duration) (protocol.Frame, error) {
	kind := s.session.Kind()
	if timeout <= 0 {
		timeout = s.cfg.Timeout
	}
	exchangeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	s.session.Set(transport.StateConnecting)
	defer s.session.Set(transport.StateNone)

	conn, err := s.cfg.Dial(exchangeCtx, addr)
	if err != nil {
		return protocol.Frame{}, transport.NewError("dial", kind, addr, errors.Join(transport.ErrNotConnected, err))
	}
	s.session.Set(transport.StateConnected)

	watchdog := transport.StartWatchdog(exchangeCtx, timeout, conn)
	reply, err := s.exchange(conn, f)
	fired := !watchdog.Stop()
	_ = conn.Close()

	if fired {
		return protocol.Frame{}, transport.NewError("exchange", kind, addr, transport.ErrTimeout)
	}
	if err != nil {
		if errors.Is(err, protocol.ErrBadProto) && !errors.Is(err, protocol.ErrTruncated) {
			return reply, err
		}
		return protocol.Frame{}, transport.NewError("exchange", kind, addr, err)
	}
	s.session.Set(transport.StateReady)
	return reply, nil
}

func (s *Sender) exchange(conn net.Conn, f protocol.Frame) (protocol.Frame, error) {
	s.session.Set(transport.StateHandshaking)
	if err := s.cfg.Framer.WriteRequest(conn, f); err != nil {
		return protocol.Frame{}, err
	}
	return s.cfg.Framer.ReadReply(conn)
}
