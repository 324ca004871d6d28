package smsproto

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/opd-ai/gamelink/limits"
)

const (
	// FormatFragment marks a packet carrying one fragment of a message.
	FormatFragment byte = 1
	// FormatCombo marks a packet carrying several whole messages.
	FormatCombo byte = 2

	// DefaultCombineWait is how long a small frame may wait for company.
	DefaultCombineWait = 5 * time.Second

	// comboEntryHeader is the per-message [len][msgID] prefix in a combo.
	comboEntryHeader = 2

	// msgIDModulus keeps message ids in a single byte, 0xFF excluded.
	msgIDModulus = 0xFF
)

// ErrEmptyPhone indicates a message was queued without a destination.
var ErrEmptyPhone = errors.New("empty phone number")

// Batch is the set of packets that must be transmitted to one phone, and
// the tags of the queued messages they carry.
type Batch struct {
	Phone   string
	Packets [][]byte
	Tags    []uint64
}

type queued struct {
	msg   []byte
	tag   uint64
	added time.Time
}

// Outbound holds frames per destination until they are worth a radio
// transmission. It is safe for concurrent use.
type Outbound struct {
	mu     sync.Mutex
	queues map[string][]queued
	wait   time.Duration
	nextID uint8
	onID   func(uint8)
}

// OutboundOption customizes an Outbound.
type OutboundOption func(*Outbound)

// WithCombineWait sets how long small frames are held for combining.
func WithCombineWait(d time.Duration) OutboundOption {
	return func(o *Outbound) {
		if d >= 0 {
			o.wait = d
		}
	}
}

// WithStartID resumes message id allocation after a restart.
func WithStartID(id uint8) OutboundOption {
	return func(o *Outbound) {
		o.nextID = id % msgIDModulus
	}
}

// WithIDObserver registers fn to be told of every allocated message id so
// the counter can be persisted.
func WithIDObserver(fn func(uint8)) OutboundOption {
	return func(o *Outbound) {
		o.onID = fn
	}
}

// NewOutbound creates an empty outbound accumulator.
func NewOutbound(opts ...OutboundOption) *Outbound {
	o := &Outbound{
		queues: make(map[string][]queued),
		wait:   DefaultCombineWait,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Add queues msg for phone. tag is returned in the Batch that eventually
// carries the message.
func (o *Outbound) Add(phone string, msg []byte, tag uint64, now time.Time) error {
	if phone == "" {
		return ErrEmptyPhone
	}
	if err := limits.ValidateSMSMessage(msg); err != nil {
		return err
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	o.queues[phone] = append(o.queues[phone], queued{msg: msg, tag: tag, added: now})
	return nil
}

// Pending reports how many messages are held for all phones.
func (o *Outbound) Pending() int {
	o.mu.Lock()
	defer o.mu.Unlock()

	n := 0
	for _, q := range o.queues {
		n += len(q)
	}
	return n
}

// Flush returns a Batch for every phone whose queue is ready to go, and
// the time until the next queue becomes ready (zero if none remain). A
// queue is ready when its content no longer fits one message, when its
// oldest frame has waited the combine window, or when force is set.
func (o *Outbound) Flush(now time.Time, force bool) ([]Batch, time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()

	phones := make([]string, 0, len(o.queues))
	for phone := range o.queues {
		phones = append(phones, phone)
	}
	sort.Strings(phones)

	var batches []Batch
	var wait time.Duration
	for _, phone := range phones {
		q := o.queues[phone]
		if len(q) == 0 {
			delete(o.queues, phone)
			continue
		}

		age := now.Sub(q[0].added)
		if !force && totalSize(q) <= limits.MaxSMSBinary && age < o.wait {
			remaining := o.wait - age
			if wait == 0 || remaining < wait {
				wait = remaining
			}
			continue
		}

		batches = append(batches, o.pack(phone, q))
		delete(o.queues, phone)
	}
	return batches, wait
}

func totalSize(q []queued) int {
	n := 0
	for _, item := range q {
		n += len(item.msg)
	}
	return n
}

// pack turns a queue into packets. Consecutive messages are combined while
// their summed length stays within one binary message; a message too long
// for that on its own is fragmented.
func (o *Outbound) pack(phone string, q []queued) Batch {
	batch := Batch{Phone: phone}
	var combo []byte
	sum := 0

	flushCombo := func() {
		if len(combo) > 1 {
			batch.Packets = append(batch.Packets, combo)
		}
		combo = nil
		sum = 0
	}

	for _, item := range q {
		batch.Tags = append(batch.Tags, item.tag)
		id := o.allocID()

		if len(item.msg) > limits.MaxSMSBinary {
			flushCombo()
			batch.Packets = append(batch.Packets, fragment(id, item.msg)...)
			continue
		}

		if combo != nil && sum+len(item.msg) > limits.MaxSMSBinary {
			flushCombo()
		}
		if combo == nil {
			combo = []byte{FormatCombo}
		}
		combo = append(combo, byte(len(item.msg)), id)
		combo = append(combo, item.msg...)
		sum += len(item.msg)
	}
	flushCombo()
	return batch
}

func (o *Outbound) allocID() uint8 {
	o.nextID = (o.nextID + 1) % msgIDModulus
	if o.onID != nil {
		o.onID(o.nextID)
	}
	return o.nextID
}

func fragment(id uint8, msg []byte) [][]byte {
	count := (len(msg) + limits.MaxSMSBinary - 1) / limits.MaxSMSBinary
	packets := make([][]byte, 0, count)
	for i := 0; i < count; i++ {
		start := i * limits.MaxSMSBinary
		end := start + limits.MaxSMSBinary
		if end > len(msg) {
			end = len(msg)
		}
		packet := make([]byte, 0, limits.SMSFragmentHeader+end-start)
		packet = append(packet, FormatFragment, id, byte(i), byte(count))
		packet = append(packet, msg[start:end]...)
		packets = append(packets, packet)
	}
	return packets
}
