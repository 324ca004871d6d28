package transport

import (
	"github.com/opd-ai/gamelink/addrbook"
	"github.com/opd-ai/gamelink/event"
	"github.com/opd-ai/gamelink/interfaces"
	"github.com/opd-ai/gamelink/invite"
	"github.com/opd-ai/gamelink/metrics"
	"github.com/opd-ai/gamelink/protocol"
	"github.com/sirupsen/logrus"
)

// PeerStore persists address books across restarts.
type PeerStore interface {
	addrbook.Persister
	LoadAddresses(transport string) ([]addrbook.Entry, error)
}

// Deps are the shared collaborators every transport is built with.
type Deps struct {
	Engine  interfaces.GameEngine
	Invites *invite.Handler
	Bus     *event.Bus
	Metrics *metrics.Metrics
	Codec   *protocol.Codec
	// Peers may be nil, in which case address books live in memory.
	Peers PeerStore
}

// NewSession creates the session for kind.
func (d Deps) NewSession(kind Kind) *Session {
	return NewSession(kind, d.Bus, d.Metrics)
}

// CodecOrDefault returns the configured codec or one for the default
// protocol version.
func (d Deps) CodecOrDefault() *protocol.Codec {
	if d.Codec != nil {
		return d.Codec
	}
	return protocol.NewCodec(protocol.DefaultVersion)
}

// NewBook creates kind's address book, seeded from and saved to Peers.
func (d Deps) NewBook(kind Kind, opts ...addrbook.Option) *addrbook.Book {
	if d.Peers != nil {
		entries, err := d.Peers.LoadAddresses(kind.String())
		if err != nil {
			logrus.WithFields(logrus.Fields{
				"function":  "Deps.NewBook",
				"transport": kind.String(),
				"error":     err.Error(),
			}).Warn("Failed to load saved peers")
		}
		opts = append([]addrbook.Option{
			addrbook.WithEntries(entries),
			addrbook.WithPersister(d.Peers, addrbook.DefaultDebounce),
		}, opts...)
	}
	return addrbook.New(kind.String(), opts...)
}

// NewReceiver creates a receiver for session backed by the shared engine
// and invitation handler.
func (d Deps) NewReceiver(session *Session, book *addrbook.Book, cfg ReceiverConfig) *Receiver {
	invites := d.Invites
	if invites == nil {
		invites = invite.NewHandler(d.Engine)
	}
	return NewReceiver(session, d.Engine, invites, book, cfg)
}
