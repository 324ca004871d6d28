package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/opd-ai/gamelink/limits"
)

// DefaultVersion is the protocol version written by this build.
const DefaultVersion uint8 = 1

// Frame is a decoded protocol message. GameID and Payload are meaningful
// only when the command's layout carries them. The remaining fields travel
// only in JSON envelopes.
type Frame struct {
	Cmd     Command
	GameID  uint32
	Payload []byte

	Src   string
	Dest  string
	MAC   string
	Name  string
	Names map[string]string
}

// BadProto returns the frame a decoder yields for input it cannot
// understand.
func BadProto() Frame {
	return Frame{Cmd: CmdBadProto}
}

// Codec encodes and decodes frames for one configured protocol version.
// A Codec holds no mutable state and is safe for concurrent use.
type Codec struct {
	version uint8
}

// NewCodec creates a codec that writes version and accepts only frames
// carrying that same version.
func NewCodec(version uint8) *Codec {
	if version == 0 {
		version = DefaultVersion
	}
	return &Codec{version: version}
}

// Version returns the protocol version the codec writes and accepts.
func (c *Codec) Version() uint8 {
	return c.version
}

// checkLayout verifies the frame carries nothing its command cannot.
func checkLayout(f Frame) error {
	l := f.Cmd.layout()
	if l == layoutUnknown {
		return fmt.Errorf("%w: %d", ErrUnknownCommand, uint8(f.Cmd))
	}
	if l == layoutBare && f.GameID != 0 {
		return fmt.Errorf("%w: %s has no game id", ErrLayout, f.Cmd)
	}
	if l != layoutGameIDPayload && len(f.Payload) > 0 {
		return fmt.Errorf("%w: %s has no payload", ErrLayout, f.Cmd)
	}
	if err := limits.ValidatePayload(f.Payload); err != nil {
		return err
	}
	return nil
}

// EncodeSocket returns the binary socket framing of f.
func (c *Codec) EncodeSocket(f Frame) ([]byte, error) {
	if err := checkLayout(f); err != nil {
		return nil, err
	}

	size := 2
	switch f.Cmd.layout() {
	case layoutGameID:
		size += 4
	case layoutGameIDPayload:
		size += 4 + 2 + len(f.Payload)
	}

	buf := make([]byte, size)
	buf[0] = c.version
	buf[1] = byte(f.Cmd)
	if f.Cmd.HasGameID() {
		binary.BigEndian.PutUint32(buf[2:6], f.GameID)
	}
	if f.Cmd.HasPayload() {
		binary.BigEndian.PutUint16(buf[6:8], uint16(len(f.Payload)))
		copy(buf[8:], f.Payload)
	}
	return buf, nil
}

// DecodeSocket decodes one complete socket frame. Trailing bytes are an
// error.
func (c *Codec) DecodeSocket(data []byte) (Frame, error) {
	r := bytes.NewReader(data)
	f, err := c.ReadSocketFrame(r)
	if err != nil {
		return f, err
	}
	if r.Len() != 0 {
		return BadProto(), fmt.Errorf("%w: %d trailing bytes", ErrMalformed, r.Len())
	}
	return f, nil
}

// ReadSocketFrame reads exactly one socket frame from r. Reading stops at
// the first field that identifies the frame as bad, so a peer speaking
// another version is never read past its header.
func (c *Codec) ReadSocketFrame(r io.Reader) (Frame, error) {
	var header [2]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return BadProto(), readError(err)
	}
	if header[0] != c.version {
		return BadProto(), fmt.Errorf("%w: got %d, want %d", ErrBadVersion, header[0], c.version)
	}

	f := Frame{Cmd: Command(header[1])}
	if !f.Cmd.Valid() {
		return BadProto(), fmt.Errorf("%w: %d", ErrUnknownCommand, header[1])
	}

	if f.Cmd.HasGameID() {
		var gid [4]byte
		if _, err := io.ReadFull(r, gid[:]); err != nil {
			return BadProto(), readError(err)
		}
		f.GameID = binary.BigEndian.Uint32(gid[:])
	}

	if f.Cmd.HasPayload() {
		var length [2]byte
		if _, err := io.ReadFull(r, length[:]); err != nil {
			return BadProto(), readError(err)
		}
		n := binary.BigEndian.Uint16(length[:])
		if n > 0 {
			f.Payload = make([]byte, n)
			if _, err := io.ReadFull(r, f.Payload); err != nil {
				return BadProto(), readError(err)
			}
		}
	}
	return f, nil
}

// ReadReply reads the single command byte a socket session answers with.
func (c *Codec) ReadReply(r io.Reader) (Command, error) {
	var b [1]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return CmdBadProto, readError(err)
	}
	cmd := Command(b[0])
	if !cmd.Valid() {
		return CmdBadProto, fmt.Errorf("%w: reply %d", ErrUnknownCommand, b[0])
	}
	return cmd, nil
}

func readError(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%w: %v", ErrTruncated, err)
	}
	return fmt.Errorf("read frame: %w", err)
}
