package protocol

import (
	"fmt"
	"strings"
)

// Command identifies the purpose of a frame. The set is closed: values not
// listed below are decoded as CmdBadProto.
type Command uint8

const (
	// CmdBadProto is sent back to a peer whose frame could not be understood.
	CmdBadProto Command = 0
	// CmdPing is a liveness check, optionally naming a game.
	CmdPing Command = 1
	// CmdPong answers a ping.
	CmdPong Command = 2
	// CmdInvite carries an invitation descriptor.
	CmdInvite Command = 4
	// CmdInviteAccept reports that an invitation created a game.
	CmdInviteAccept Command = 5
	// CmdInviteDecline reports that an invitation was rejected.
	CmdInviteDecline Command = 6
	// CmdInviteDupID reports that the invited game already exists.
	CmdInviteDupID Command = 7
	// CmdMesgSend carries a game payload.
	CmdMesgSend Command = 9
	// CmdMesgAccept acknowledges a game payload.
	CmdMesgAccept Command = 10
	// CmdMesgGameGone reports that the named game no longer exists.
	CmdMesgGameGone Command = 12
)

// layout describes the optional fields that follow the command byte.
type layout uint8

const (
	layoutUnknown layout = iota
	layoutBare
	layoutGameID
	layoutGameIDPayload
)

// layout is the single exhaustive match over the vocabulary. Every other
// per-command decision in this package goes through it.
func (c Command) layout() layout {
	switch c {
	case CmdBadProto:
		return layoutBare
	case CmdPing, CmdPong, CmdInviteAccept, CmdInviteDecline, CmdInviteDupID, CmdMesgAccept, CmdMesgGameGone:
		return layoutGameID
	case CmdInvite, CmdMesgSend:
		return layoutGameIDPayload
	default:
		return layoutUnknown
	}
}

// Valid reports whether c is part of the vocabulary.
func (c Command) Valid() bool {
	return c.layout() != layoutUnknown
}

// HasGameID reports whether frames of this command carry a game id.
func (c Command) HasGameID() bool {
	l := c.layout()
	return l == layoutGameID || l == layoutGameIDPayload
}

// HasPayload reports whether frames of this command carry a payload.
func (c Command) HasPayload() bool {
	return c.layout() == layoutGameIDPayload
}

// IsReply reports whether c is only ever sent in answer to another frame.
// CmdMesgGameGone is both a reply and an unsolicited notice, so it is not
// included.
func (c Command) IsReply() bool {
	switch c {
	case CmdBadProto, CmdPong, CmdInviteAccept, CmdInviteDecline, CmdInviteDupID, CmdMesgAccept:
		return true
	}
	return false
}

var commandNames = map[Command]string{
	CmdBadProto:      "BAD_PROTO",
	CmdPing:          "PING",
	CmdPong:          "PONG",
	CmdInvite:        "INVITE",
	CmdInviteAccept:  "INVITE_ACCPT",
	CmdInviteDecline: "INVITE_DECL",
	CmdInviteDupID:   "INVITE_DUPID",
	CmdMesgSend:      "MESG_SEND",
	CmdMesgAccept:    "MESG_ACCPT",
	CmdMesgGameGone:  "MESG_GAMEGONE",
}

// String returns the protocol name of the command.
func (c Command) String() string {
	if name, ok := commandNames[c]; ok {
		return name
	}
	return fmt.Sprintf("CMD(%d)", uint8(c))
}

// Commands returns the full vocabulary in wire order.
func Commands() []Command {
	return []Command{
		CmdBadProto, CmdPing, CmdPong,
		CmdInvite, CmdInviteAccept, CmdInviteDecline, CmdInviteDupID,
		CmdMesgSend, CmdMesgAccept, CmdMesgGameGone,
	}
}

// ParseCommand maps a protocol name (case-insensitive) to its Command.
func ParseCommand(name string) (Command, error) {
	upper := strings.ToUpper(strings.TrimSpace(name))
	for cmd, n := range commandNames {
		if n == upper {
			return cmd, nil
		}
	}
	return CmdBadProto, fmt.Errorf("%w: %q", ErrUnknownCommand, name)
}
