// Package event defines the notifications the game link reports to the
// application and a Bus that fans them out to subscribers.
package event

import (
	"fmt"
	"time"
)

// Type identifies what happened.
type Type int

const (
	// MessageAccepted is emitted when a peer acknowledges a game payload.
	MessageAccepted Type = iota
	// MessageNoGame is emitted when a peer reports the game no longer exists.
	MessageNoGame
	// MessageResend is emitted when a failed send is kept for another try.
	MessageResend
	// MessageFailout is emitted once when a send is abandoned.
	MessageFailout
	// MessageDropped is emitted for queued sends discarded because their
	// game died locally.
	MessageDropped
	// NewGameSuccess is emitted when an invitee created the invited game.
	NewGameSuccess
	// NewGameDupRejected is emitted when an invitee already had the game.
	NewGameDupRejected
	// NewGameFailure is emitted when an invitee rejected the invitation.
	NewGameFailure
	// GameCreated is emitted on the invitee side after an invitation
	// created a game.
	GameCreated
	// HostPonged is emitted when a ping is answered.
	HostPonged
	// BadProto is emitted when a peer speaks an incompatible protocol.
	BadProto
	// ConnectionStatus reports the outcome of one exchange in one direction.
	ConnectionStatus
	// TransportDisabled is emitted when a transport fails setup.
	TransportDisabled
)

var typeNames = [...]string{
	MessageAccepted:    "MESSAGE_ACCEPTED",
	MessageNoGame:      "MESSAGE_NOGAME",
	MessageResend:      "MESSAGE_RESEND",
	MessageFailout:     "MESSAGE_FAILOUT",
	MessageDropped:     "MESSAGE_DROPPED",
	NewGameSuccess:     "NEWGAME_SUCCESS",
	NewGameDupRejected: "NEWGAME_DUP_REJECTED",
	NewGameFailure:     "NEWGAME_FAILURE",
	GameCreated:        "GAME_CREATED",
	HostPonged:         "HOST_PONGED",
	BadProto:           "BAD_PROTO",
	ConnectionStatus:   "CONNECTION_STATUS",
	TransportDisabled:  "TRANSPORT_DISABLED",
}

func (t Type) String() string {
	if t >= 0 && int(t) < len(typeNames) {
		return typeNames[t]
	}
	return fmt.Sprintf("EVENT(%d)", int(t))
}

// Direction distinguishes outbound from inbound traffic in status events.
type Direction int

const (
	Outbound Direction = iota
	Inbound
)

func (d Direction) String() string {
	if d == Inbound {
		return "in"
	}
	return "out"
}

// Event is one notification. Fields that do not apply to the Type are
// left zero.
type Event struct {
	Type      Type
	Transport string
	Dest      string
	GameID    uint32

	// Backoff and Attempt describe resend and failout notices.
	Backoff time.Duration
	Attempt int

	// Direction and OK describe connection status changes.
	Direction Direction
	OK        bool

	Err  error
	Time time.Time
}

func (e Event) String() string {
	s := fmt.Sprintf("%s transport=%s", e.Type, e.Transport)
	if e.Dest != "" {
		s += " dest=" + e.Dest
	}
	if e.GameID != 0 {
		s += fmt.Sprintf(" game=%#x", e.GameID)
	}
	switch e.Type {
	case MessageResend, MessageFailout:
		s += fmt.Sprintf(" attempt=%d backoff=%s", e.Attempt, e.Backoff)
	case ConnectionStatus:
		s += fmt.Sprintf(" dir=%s ok=%t", e.Direction, e.OK)
	}
	if e.Err != nil {
		s += " err=" + e.Err.Error()
	}
	return s
}
