// Package invite models game invitations and decides what to do with the
// ones that arrive.
//
// An Invitation carries everything a peer needs to build a matching game:
// the game id, the dictionary and language, player counts, and the
// connection parameters for every transport the inviter can be reached
// on. It travels as compact JSON inside an INVITE frame or as the query
// string of a launch URI.
//
// Handler is shared by every transport's inbound path so that the same
// invitation arriving twice, whether retransmitted or sent over two
// transports at once, creates exactly one game.
package invite
