package socket

import (
	"bufio"
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/opd-ai/gamelink/event"
	"github.com/opd-ai/gamelink/interfaces"
	"github.com/opd-ai/gamelink/protocol"
	"github.com/opd-ai/gamelink/transport"
	"github.com/sirupsen/logrus"
)

// DefaultIdleTimeout bounds how long a connection may sit between
// requests.
const DefaultIdleTimeout = 10 * time.Second

// Handler answers decoded requests. *transport.Receiver implements it.
type Handler interface {
	Handle(ctx context.Context, f protocol.Frame, from interfaces.Sender) (protocol.Frame, bool)
	HandleDecodeError(err error, from string) protocol.Frame
}

// PeerFunc identifies the remote side of an accepted connection.
type PeerFunc func(conn net.Conn) interfaces.Sender

// ListenerConfig configures a Listener.
type ListenerConfig struct {
	Framer      Framer
	Handler     Handler
	IdleTimeout time.Duration
	Peer        PeerFunc

	// Observe, if set, sees every decoded request before it is handled
	// and may refine the sender identity from envelope fields.
	Observe func(conn net.Conn, f protocol.Frame, from *interfaces.Sender)
}

// Listener serves each inbound connection on its own goroutine.
type Listener struct {
	cfg     ListenerConfig
	ln      net.Listener
	session *transport.Session
}

// NewListener wraps ln.
func NewListener(ln net.Listener, cfg ListenerConfig, session *transport.Session) *Listener {
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.Peer == nil {
		kind := session.Kind().String()
		cfg.Peer = func(conn net.Conn) interfaces.Sender {
			return interfaces.Sender{Transport: kind, Addr: conn.RemoteAddr().String()}
		}
	}
	return &Listener{cfg: cfg, ln: ln, session: session}
}

// Addr returns the listening address.
func (l *Listener) Addr() net.Addr {
	return l.ln.Addr()
}

// Serve accepts connections until ctx is cancelled or the listener is
// closed. A failing connection never stops the loop. Serve returns only
// after every connection it accepted has been closed.
func (l *Listener) Serve(ctx context.Context) error {
	logger := logrus.WithFields(logrus.Fields{
		"function":  "Listener.Serve",
		"transport": l.session.Kind().String(),
		"addr":      l.ln.Addr().String(),
	})
	logger.Info("Listening")

	stop := context.AfterFunc(ctx, func() { _ = l.ln.Close() })
	defer stop()

	var conns sync.WaitGroup
	defer conns.Wait()

	for {
		conn, err := l.ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				logger.Info("Listener stopped")
				return nil
			}
			logger.WithField("error", err.Error()).Warn("Accept failed")
			continue
		}
		conns.Add(1)
		go func() {
			defer conns.Done()
			l.serveConn(ctx, conn)
		}()
	}
}

// Close stops the listener.
func (l *Listener) Close() error {
	return l.ln.Close()
}

func (l *Listener) serveConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	defer func() {
		if r := recover(); r != nil {
			logrus.WithFields(logrus.Fields{
				"function": "Listener.serveConn",
				"panic":    r,
			}).Error("Recovered panic while serving connection")
		}
	}()

	from := l.cfg.Peer(conn)
	logger := logrus.WithFields(logrus.Fields{
		"function":  "Listener.serveConn",
		"transport": l.session.Kind().String(),
		"from":      from.Addr,
	})

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	r := bufio.NewReader(conn)
	for {
		_ = conn.SetReadDeadline(time.Now().Add(l.cfg.IdleTimeout))
		if _, err := r.Peek(1); err != nil {
			if err != io.EOF && ctx.Err() == nil {
				logger.WithField("error", err.Error()).Debug("Connection ended")
			}
			return
		}

		f, err := l.cfg.Framer.ReadRequest(r)
		if err != nil {
			reply := l.cfg.Handler.HandleDecodeError(err, from.Addr)
			l.session.Status(event.Inbound, false, from.Addr, err)
			_ = conn.SetWriteDeadline(time.Now().Add(l.cfg.IdleTimeout))
			if werr := l.cfg.Framer.WriteReply(conn, reply); werr != nil {
				logger.WithField("error", werr.Error()).Debug("Failed to write BAD_PROTO")
			}
			return
		}

		peer := from
		if l.cfg.Observe != nil {
			l.cfg.Observe(conn, f, &peer)
		}
		reply, ok := l.cfg.Handler.Handle(ctx, f, peer)
		if !ok {
			// Closing without a reply makes the sender retry promptly.
			return
		}
		_ = conn.SetWriteDeadline(time.Now().Add(l.cfg.IdleTimeout))
		if err := l.cfg.Framer.WriteReply(conn, reply); err != nil {
			logger.WithField("error", err.Error()).Warn("Failed to write reply")
			return
		}
	}
}
