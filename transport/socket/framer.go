package socket

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/opd-ai/gamelink/limits"
	"github.com/opd-ai/gamelink/protocol"
)

// Framer reads and writes requests and replies on a stream.
type Framer interface {
	// Fits reports, without writing, whether f can be sent as a request.
	// An oversized frame fails with limits.ErrTooLarge.
	Fits(f protocol.Frame) error
	WriteRequest(w io.Writer, f protocol.Frame) error
	ReadRequest(r io.Reader) (protocol.Frame, error)
	WriteReply(w io.Writer, f protocol.Frame) error
	ReadReply(r io.Reader) (protocol.Frame, error)
}

// BinaryFramer uses the binary socket frame for requests and a single
// command byte for replies.
type BinaryFramer struct {
	Codec *protocol.Codec
}

// NewBinaryFramer creates a binary framer for codec.
func NewBinaryFramer(codec *protocol.Codec) *BinaryFramer {
	return &BinaryFramer{Codec: codec}
}

func (b *BinaryFramer) encode(f protocol.Frame) ([]byte, error) {
	data, err := b.Codec.EncodeSocket(f)
	if err != nil {
		return nil, err
	}
	return data, limits.ValidatePacket(data)
}

func (b *BinaryFramer) Fits(f protocol.Frame) error {
	_, err := b.encode(f)
	return err
}

func (b *BinaryFramer) WriteRequest(w io.Writer, f protocol.Frame) error {
	data, err := b.encode(f)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}

func (b *BinaryFramer) ReadRequest(r io.Reader) (protocol.Frame, error) {
	return b.Codec.ReadSocketFrame(r)
}

func (b *BinaryFramer) WriteReply(w io.Writer, f protocol.Frame) error {
	_, err := w.Write([]byte{byte(f.Cmd)})
	return err
}

func (b *BinaryFramer) ReadReply(r io.Reader) (protocol.Frame, error) {
	cmd, err := b.Codec.ReadReply(r)
	return protocol.Frame{Cmd: cmd}, err
}

// JSONFramer writes JSON envelopes behind a 4-byte big-endian length in
// both directions.
type JSONFramer struct {
	Codec *protocol.Codec
}

// NewJSONFramer creates a JSON framer for codec.
func NewJSONFramer(codec *protocol.Codec) *JSONFramer {
	return &JSONFramer{Codec: codec}
}

func (j *JSONFramer) encode(f protocol.Frame) ([]byte, error) {
	data, err := j.Codec.EncodeEnvelope(f)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, 4+len(data))
	binary.BigEndian.PutUint32(buf[:4], uint32(len(data)))
	copy(buf[4:], data)
	return buf, limits.ValidatePacket(buf)
}

func (j *JSONFramer) Fits(f protocol.Frame) error {
	_, err := j.encode(f)
	return err
}

func (j *JSONFramer) WriteRequest(w io.Writer, f protocol.Frame) error {
	buf, err := j.encode(f)
	if err != nil {
		return err
	}
	_, err = w.Write(buf)
	return err
}

func (j *JSONFramer) ReadRequest(r io.Reader) (protocol.Frame, error) {
	var prefix [4]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return protocol.BadProto(), lengthError(err)
	}
	n := binary.BigEndian.Uint32(prefix[:])
	if n == 0 || n > limits.MaxPacketLen-4 {
		return protocol.BadProto(), fmt.Errorf("%w: envelope length %d", protocol.ErrMalformed, n)
	}

	data := make([]byte, n)
	if _, err := io.ReadFull(r, data); err != nil {
		return protocol.BadProto(), lengthError(err)
	}
	return j.Codec.DecodeEnvelope(data)
}

func (j *JSONFramer) WriteReply(w io.Writer, f protocol.Frame) error {
	return j.WriteRequest(w, f)
}

func (j *JSONFramer) ReadReply(r io.Reader) (protocol.Frame, error) {
	return j.ReadRequest(r)
}

func lengthError(err error) error {
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return fmt.Errorf("%w: %v", protocol.ErrTruncated, err)
	}
	return err
}
