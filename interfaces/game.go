package interfaces

import (
	"context"

	"github.com/opd-ai/gamelink/invite"
)

// ReceiveResult is the game layer's verdict on an incoming payload.
type ReceiveResult int

const (
	// ReceiveOK means the payload was taken; the sender is acknowledged.
	ReceiveOK ReceiveResult = iota
	// ReceiveGameGone means no such game exists locally.
	ReceiveGameGone
	// ReceiveError means the payload could not be handled right now; the
	// sender is not acknowledged and will retry.
	ReceiveError
)

func (r ReceiveResult) String() string {
	switch r {
	case ReceiveOK:
		return "OK"
	case ReceiveGameGone:
		return "GAME_GONE"
	case ReceiveError:
		return "ERROR"
	}
	return "UNKNOWN"
}

// Sender identifies where an inbound frame came from.
type Sender struct {
	Transport string
	Addr      string
	Name      string
}

// GameEngine is everything the game link consumes from the game layer.
// Implementations must be safe for concurrent use: every transport calls
// in from its own goroutine.
type GameEngine interface {
	invite.GameCreator

	// ReceiveMessage delivers a payload for gameID.
	ReceiveMessage(ctx context.Context, gameID uint32, payload []byte, from Sender) ReceiveResult
}
