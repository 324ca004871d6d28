package transport

import (
	"fmt"

	"github.com/opd-ai/gamelink/protocol"
)

// Outcome is what a completed exchange told us about an item.
type Outcome int

const (
	// OutcomeAccepted means the peer (or the medium, for pub/sub and SMS)
	// took the item.
	OutcomeAccepted Outcome = iota
	// OutcomeGameGone means the peer has no such game.
	OutcomeGameGone
	// OutcomePonged means a ping was answered.
	OutcomePonged
	// OutcomeInviteAccepted means the invitation created a game.
	OutcomeInviteAccepted
	// OutcomeInviteDuplicate means the peer already had the game.
	OutcomeInviteDuplicate
	// OutcomeInviteDeclined means the peer rejected the invitation.
	OutcomeInviteDeclined
	// OutcomeBadProto means the peer could not understand us.
	OutcomeBadProto
	// OutcomeDeferred means the sender is holding the item and will report
	// it through Flush.
	OutcomeDeferred
)

var outcomeNames = [...]string{
	OutcomeAccepted:        "accepted",
	OutcomeGameGone:        "game_gone",
	OutcomePonged:          "ponged",
	OutcomeInviteAccepted:  "invite_accepted",
	OutcomeInviteDuplicate: "invite_duplicate",
	OutcomeInviteDeclined:  "invite_declined",
	OutcomeBadProto:        "bad_proto",
	OutcomeDeferred:        "deferred",
}

func (o Outcome) String() string {
	if o >= 0 && int(o) < len(outcomeNames) {
		return outcomeNames[o]
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

// OutcomeForReply interprets the reply a peer sent to request. A reply
// that cannot answer request is an ErrUnexpectedReply.
func OutcomeForReply(request, reply protocol.Command) (Outcome, error) {
	switch reply {
	case protocol.CmdBadProto:
		return OutcomeBadProto, nil
	case protocol.CmdMesgGameGone:
		if request == protocol.CmdMesgSend || request == protocol.CmdPing {
			return OutcomeGameGone, nil
		}
	case protocol.CmdMesgAccept:
		if request == protocol.CmdMesgSend || request == protocol.CmdMesgGameGone {
			return OutcomeAccepted, nil
		}
	case protocol.CmdPong:
		if request == protocol.CmdPing {
			return OutcomePonged, nil
		}
	case protocol.CmdInviteAccept:
		if request == protocol.CmdInvite {
			return OutcomeInviteAccepted, nil
		}
	case protocol.CmdInviteDupID:
		if request == protocol.CmdInvite {
			return OutcomeInviteDuplicate, nil
		}
	case protocol.CmdInviteDecline:
		if request == protocol.CmdInvite {
			return OutcomeInviteDeclined, nil
		}
	}
	return OutcomeBadProto, fmt.Errorf("%w: %s in answer to %s", ErrUnexpectedReply, reply, request)
}
