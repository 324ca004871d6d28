package smsproto

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// DefaultPartialTTL bounds how long an incomplete fragment set is kept.
const DefaultPartialTTL = time.Hour

var (
	// ErrUnknownFormat indicates a packet whose first byte is not a known
	// format.
	ErrUnknownFormat = errors.New("unknown sms packet format")
	// ErrCorruptPacket indicates a packet whose structure is inconsistent.
	ErrCorruptPacket = errors.New("corrupt sms packet")
)

type partialKey struct {
	phone string
	id    uint8
}

type partial struct {
	parts   [][]byte
	have    int
	started time.Time
}

// Inbound reassembles messages from received packets. It is safe for
// concurrent use.
type Inbound struct {
	mu       sync.Mutex
	partials map[partialKey]*partial
	ttl      time.Duration
}

// NewInbound creates a reassembler that drops fragment sets older than
// ttl. A non-positive ttl selects DefaultPartialTTL.
func NewInbound(ttl time.Duration) *Inbound {
	if ttl <= 0 {
		ttl = DefaultPartialTTL
	}
	return &Inbound{
		partials: make(map[partialKey]*partial),
		ttl:      ttl,
	}
}

// Receive consumes one packet from phone and returns every message it
// completes, in order.
func (in *Inbound) Receive(phone string, packet []byte, now time.Time) ([][]byte, error) {
	if len(packet) == 0 {
		return nil, fmt.Errorf("%w: empty", ErrCorruptPacket)
	}

	switch packet[0] {
	case FormatCombo:
		return splitCombo(packet[1:])
	case FormatFragment:
		return in.addFragment(phone, packet[1:], now)
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownFormat, packet[0])
	}
}

func splitCombo(body []byte) ([][]byte, error) {
	var msgs [][]byte
	for len(body) > 0 {
		if len(body) < comboEntryHeader {
			return msgs, fmt.Errorf("%w: short combo entry", ErrCorruptPacket)
		}
		n := int(body[0])
		body = body[comboEntryHeader:]
		if n == 0 || n > len(body) {
			return msgs, fmt.Errorf("%w: combo entry length %d", ErrCorruptPacket, n)
		}
		msg := make([]byte, n)
		copy(msg, body[:n])
		msgs = append(msgs, msg)
		body = body[n:]
	}
	return msgs, nil
}

func (in *Inbound) addFragment(phone string, body []byte, now time.Time) ([][]byte, error) {
	if len(body) < 3 {
		return nil, fmt.Errorf("%w: short fragment header", ErrCorruptPacket)
	}
	id, index, count := body[0], int(body[1]), int(body[2])
	chunk := body[3:]
	if count == 0 || index >= count || len(chunk) == 0 {
		return nil, fmt.Errorf("%w: fragment %d of %d", ErrCorruptPacket, index, count)
	}

	in.mu.Lock()
	defer in.mu.Unlock()
	in.expire(now)

	if count == 1 {
		return [][]byte{append([]byte(nil), chunk...)}, nil
	}

	key := partialKey{phone: phone, id: id}
	p, ok := in.partials[key]
	if !ok || len(p.parts) != count {
		p = &partial{parts: make([][]byte, count), started: now}
		in.partials[key] = p
	}
	if p.parts[index] == nil {
		p.parts[index] = append([]byte(nil), chunk...)
		p.have++
	}
	if p.have < count {
		return nil, nil
	}

	delete(in.partials, key)
	var msg []byte
	for _, part := range p.parts {
		msg = append(msg, part...)
	}
	return [][]byte{msg}, nil
}

func (in *Inbound) expire(now time.Time) {
	for key, p := range in.partials {
		if now.Sub(p.started) > in.ttl {
			delete(in.partials, key)
		}
	}
}

// Partials reports how many incomplete fragment sets are held.
func (in *Inbound) Partials() int {
	in.mu.Lock()
	defer in.mu.Unlock()
	return len(in.partials)
}
