package simulation

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
)

// ErrOffline indicates the destination phone is unreachable.
var ErrOffline = errors.New("phone offline")

// RadioNetwork delivers data messages between simulated phones.
type RadioNetwork struct {
	mu      sync.RWMutex
	radios  map[string]*Radio
	offline map[string]bool
	sent    int
}

// NewRadioNetwork creates an empty network.
func NewRadioNetwork() *RadioNetwork {
	return &RadioNetwork{
		radios:  make(map[string]*Radio),
		offline: make(map[string]bool),
	}
}

// Radio returns the radio for phone, creating it on first use.
func (n *RadioNetwork) Radio(phone string) *Radio {
	n.mu.Lock()
	defer n.mu.Unlock()

	if r, ok := n.radios[phone]; ok {
		return r
	}
	r := &Radio{phone: phone, network: n, inbox: make(chan radioMessage, inboxSize)}
	n.radios[phone] = r
	return r
}

// SetOffline makes sends to phone fail until it is set online again.
func (n *RadioNetwork) SetOffline(phone string, offline bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.offline[phone] = offline
}

// Sent returns how many messages the network has carried.
func (n *RadioNetwork) Sent() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.sent
}

func (n *RadioNetwork) deliver(from, to string, data []byte) error {
	n.mu.Lock()
	dest, ok := n.radios[to]
	if !ok || n.offline[to] {
		n.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrOffline, to)
	}
	n.sent++
	n.mu.Unlock()

	return dest.receive(from, append([]byte(nil), data...))
}

// inboxSize bounds the messages a radio holds before its handler runs.
const inboxSize = 1024

type radioMessage struct {
	from string
	data []byte
}

// Radio is one simulated phone. Inbound messages are handed to the
// registered handler in arrival order on the radio's own goroutine.
type Radio struct {
	phone   string
	network *RadioNetwork

	mu      sync.RWMutex
	handler func(from string, data []byte)
	inbox   chan radioMessage
	once    sync.Once
}

// Phone returns the radio's number.
func (r *Radio) Phone() string {
	return r.phone
}

// SendData transmits one binary data message.
func (r *Radio) SendData(ctx context.Context, phone string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	logrus.WithFields(logrus.Fields{
		"function": "Radio.SendData",
		"from":     r.phone,
		"to":       phone,
		"size":     len(data),
	}).Debug("Simulated SMS send")
	return r.network.deliver(r.phone, phone, data)
}

// Listen registers the inbound handler, replacing any earlier one.
// Messages that arrived before the first Listen are delivered to it.
func (r *Radio) Listen(handler func(from string, data []byte)) {
	r.mu.Lock()
	r.handler = handler
	r.mu.Unlock()
	r.once.Do(func() { go r.dispatch() })
}

func (r *Radio) receive(from string, data []byte) error {
	select {
	case r.inbox <- radioMessage{from: from, data: data}:
		return nil
	default:
		return fmt.Errorf("%w: %s inbox full", ErrOffline, r.phone)
	}
}

func (r *Radio) dispatch() {
	for m := range r.inbox {
		r.mu.RLock()
		h := r.handler
		r.mu.RUnlock()
		if h != nil {
			h(m.from, m.data)
		}
	}
}
