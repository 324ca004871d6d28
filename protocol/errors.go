package protocol

import (
	"errors"
	"fmt"
)

var (
	// ErrBadProto is the parent of every decode failure. A frame that fails
	// to decode is answered with CmdBadProto.
	ErrBadProto = errors.New("bad protocol frame")

	// ErrBadVersion indicates the peer speaks a different protocol version.
	ErrBadVersion = fmt.Errorf("%w: unsupported protocol version", ErrBadProto)

	// ErrUnknownCommand indicates a command byte outside the vocabulary.
	ErrUnknownCommand = fmt.Errorf("%w: unknown command", ErrBadProto)

	// ErrTruncated indicates the frame ended before its fields did.
	ErrTruncated = fmt.Errorf("%w: truncated frame", ErrBadProto)

	// ErrMalformed indicates a frame whose structure is invalid.
	ErrMalformed = fmt.Errorf("%w: malformed frame", ErrBadProto)

	// ErrLayout indicates an attempt to encode a field the command's layout
	// does not carry.
	ErrLayout = errors.New("field not carried by command")
)

// IsVersionMismatch reports whether err was caused by a peer speaking a
// different protocol version.
func IsVersionMismatch(err error) bool {
	return errors.Is(err, ErrBadVersion)
}
