package limits

import (
	"errors"
	"fmt"
)

const (
	// MaxPacketLen bounds a single framed packet on stream transports,
	// including any length prefix the framer adds.
	MaxPacketLen = 4096

	// MaxPayload is the largest payload the 2-byte length field of a
	// socket frame can describe.
	MaxPayload = 0xFFFF

	// MaxSMSBinary is the usable size of one binary SMS data message after
	// the fragment header.
	MaxSMSBinary = 115

	// SMSFragmentHeader is the size of the v1 fragment header
	// [proto][msgID][index][count].
	SMSFragmentHeader = 4

	// MaxSMSFragments caps the number of fragments a single message can be
	// split into; the count travels in one byte.
	MaxSMSFragments = 0xFF
)

var (
	// ErrEmpty indicates an empty buffer where data was required.
	ErrEmpty = errors.New("empty payload")

	// ErrTooLarge indicates a buffer exceeds its size limit.
	ErrTooLarge = errors.New("payload too large")
)

// ValidateSize validates data against the given maximum size.
// Empty data is accepted; callers that require content check for it.
func ValidateSize(data []byte, maxSize int) error {
	if len(data) > maxSize {
		return fmt.Errorf("%w: size %d exceeds limit %d", ErrTooLarge, len(data), maxSize)
	}
	return nil
}

// ValidatePayload validates a frame payload against MaxPayload.
func ValidatePayload(payload []byte) error {
	return ValidateSize(payload, MaxPayload)
}

// ValidatePacket validates a complete framed packet against MaxPacketLen.
func ValidatePacket(packet []byte) error {
	if len(packet) == 0 {
		return ErrEmpty
	}
	return ValidateSize(packet, MaxPacketLen)
}

// ValidateSMSMessage checks that a message fits into the maximum number of
// SMS fragments.
func ValidateSMSMessage(message []byte) error {
	if len(message) == 0 {
		return ErrEmpty
	}
	return ValidateSize(message, MaxSMSBinary*MaxSMSFragments)
}
