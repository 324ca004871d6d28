package transport

import (
	"context"
	"sync"

	"github.com/opd-ai/gamelink/addrbook"
	"github.com/opd-ai/gamelink/event"
	"github.com/opd-ai/gamelink/interfaces"
	"github.com/opd-ai/gamelink/invite"
	"github.com/opd-ai/gamelink/protocol"
	"github.com/sirupsen/logrus"
)

// ReceiverConfig selects how a Receiver answers.
type ReceiverConfig struct {
	// Async is set for transports where replies travel as new messages
	// rather than on the request's connection (MQTT, SMS). Inbound reply
	// commands are then turned into events instead of being rejected, and
	// payloads are not acknowledged with MESG_ACCPT.
	Async bool

	// GoneOnce limits MESG_GAMEGONE replies to one per game, for media
	// where every reply costs the user something.
	GoneOnce bool
}

// Receiver applies the inbound half of the protocol: it routes requests to
// the game layer and decides what, if anything, to send back. It is safe
// for concurrent use.
type Receiver struct {
	session *Session
	engine  interfaces.GameEngine
	invites *invite.Handler
	book    *addrbook.Book
	cfg     ReceiverConfig

	mu       sync.Mutex
	goneSent map[uint32]bool
}

// NewReceiver creates a receiver. book may be nil.
func NewReceiver(session *Session, engine interfaces.GameEngine, invites *invite.Handler, book *addrbook.Book, cfg ReceiverConfig) *Receiver {
	return &Receiver{
		session:  session,
		engine:   engine,
		invites:  invites,
		book:     book,
		cfg:      cfg,
		goneSent: make(map[uint32]bool),
	}
}

// Handle processes one decoded frame from from. When ok is true the
// caller must send reply back to from.
func (r *Receiver) Handle(ctx context.Context, f protocol.Frame, from interfaces.Sender) (reply protocol.Frame, ok bool) {
	kind := r.session.Kind().String()
	logger := logrus.WithFields(logrus.Fields{
		"function":  "Receiver.Handle",
		"transport": kind,
		"from":      from.Addr,
		"cmd":       f.Cmd.String(),
		"game_id":   f.GameID,
	})
	logger.Debug("Handling inbound frame")

	r.session.Metrics().Received(kind, f.Cmd.String())
	r.session.Status(event.Inbound, true, from.Addr, nil)

	switch f.Cmd {
	case protocol.CmdPing:
		r.remember(from, f)
		if f.GameID != 0 && !r.engine.GameIsKnown(f.GameID) {
			return r.gameGone(f.GameID)
		}
		return r.reply(protocol.CmdPong, f.GameID)

	case protocol.CmdInvite:
		r.remember(from, f)
		return r.invitation(ctx, f, from, logger)

	case protocol.CmdMesgSend:
		switch r.engine.ReceiveMessage(ctx, f.GameID, f.Payload, from) {
		case interfaces.ReceiveOK:
			if r.cfg.Async {
				return protocol.Frame{}, false
			}
			return r.reply(protocol.CmdMesgAccept, f.GameID)
		case interfaces.ReceiveGameGone:
			return r.gameGone(f.GameID)
		default:
			logger.Warn("Game layer could not take payload; leaving it unacknowledged")
			return protocol.Frame{}, false
		}

	case protocol.CmdMesgGameGone:
		r.session.Emit(event.Event{Type: event.MessageNoGame, Dest: from.Addr, GameID: f.GameID})
		if r.cfg.Async {
			return protocol.Frame{}, false
		}
		return r.reply(protocol.CmdMesgAccept, f.GameID)

	case protocol.CmdPong, protocol.CmdInviteAccept, protocol.CmdInviteDupID,
		protocol.CmdInviteDecline, protocol.CmdMesgAccept, protocol.CmdBadProto:
		if !r.cfg.Async {
			logger.Warn("Reply command arrived as a request")
			r.session.Metrics().BadProto(kind)
			return protocol.BadProto(), true
		}
		if f.Cmd == protocol.CmdPong {
			r.remember(from, f)
		}
		r.session.Emit(event.Event{Type: replyEvent(f.Cmd), Dest: from.Addr, GameID: f.GameID})
		return protocol.Frame{}, false
	}

	logger.Warn("Unhandled command")
	r.session.Metrics().BadProto(kind)
	return protocol.BadProto(), true
}

// HandleDecodeError records a frame that failed to decode and returns the
// BAD_PROTO reply for transports that answer on the same connection.
func (r *Receiver) HandleDecodeError(err error, from string) protocol.Frame {
	kind := r.session.Kind().String()
	logrus.WithFields(logrus.Fields{
		"function":  "Receiver.HandleDecodeError",
		"transport": kind,
		"from":      from,
		"error":     err.Error(),
	}).Warn("Undecodable inbound frame")

	r.session.Metrics().BadProto(kind)
	if protocol.IsVersionMismatch(err) {
		r.session.Emit(event.Event{Type: event.BadProto, Dest: from, Err: err})
	}
	return protocol.BadProto()
}

func (r *Receiver) invitation(ctx context.Context, f protocol.Frame, from interfaces.Sender, logger *logrus.Entry) (protocol.Frame, bool) {
	inv, err := invite.Parse(f.Payload)
	if err != nil {
		logger.WithField("error", err.Error()).Warn("Unparseable invitation")
		return r.reply(protocol.CmdInviteDecline, f.GameID)
	}

	switch r.invites.Handle(ctx, inv, from.Addr) {
	case invite.Accepted:
		r.session.Emit(event.Event{Type: event.GameCreated, Dest: from.Addr, GameID: inv.GameID})
		return r.reply(protocol.CmdInviteAccept, inv.GameID)
	case invite.Duplicate:
		return r.reply(protocol.CmdInviteDupID, inv.GameID)
	default:
		return r.reply(protocol.CmdInviteDecline, inv.GameID)
	}
}

func (r *Receiver) gameGone(gameID uint32) (protocol.Frame, bool) {
	if r.cfg.GoneOnce {
		r.mu.Lock()
		sent := r.goneSent[gameID]
		r.goneSent[gameID] = true
		r.mu.Unlock()
		if sent {
			return protocol.Frame{}, false
		}
	}
	return r.reply(protocol.CmdMesgGameGone, gameID)
}

func (r *Receiver) reply(cmd protocol.Command, gameID uint32) (protocol.Frame, bool) {
	return protocol.Frame{Cmd: cmd, GameID: gameID}, true
}

// remember records the peer and any names it shared in the address book.
func (r *Receiver) remember(from interfaces.Sender, f protocol.Frame) {
	if r.book == nil || from.Addr == "" {
		return
	}
	name := from.Name
	if name == "" {
		name = f.Name
	}
	if _, err := r.book.Add(from.Addr, name); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Receiver.remember",
			"addr":     from.Addr,
			"error":    err.Error(),
		}).Debug("Not recording peer address")
	}
	for addr, n := range f.Names {
		_, _ = r.book.Add(addr, n)
	}
}

func replyEvent(cmd protocol.Command) event.Type {
	switch cmd {
	case protocol.CmdPong:
		return event.HostPonged
	case protocol.CmdInviteAccept:
		return event.NewGameSuccess
	case protocol.CmdInviteDupID:
		return event.NewGameDupRejected
	case protocol.CmdInviteDecline:
		return event.NewGameFailure
	case protocol.CmdMesgAccept:
		return event.MessageAccepted
	default:
		return event.BadProto
	}
}
