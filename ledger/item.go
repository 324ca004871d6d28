package ledger

import (
	"sync/atomic"
	"time"

	"github.com/opd-ai/gamelink/protocol"
)

var lastItemID atomic.Uint64

// Item is one outbound command awaiting acknowledgement.
type Item struct {
	ID        uint64
	Cmd       protocol.Command
	GameID    uint32
	Payload   []byte
	Dest      string
	FailCount int
	Enqueued  time.Time

	// NoRetry marks items such as liveness pings that are dropped on their
	// first failure instead of entering the ledger.
	NoRetry bool
}

// NewItem creates an item with a process-unique ID.
func NewItem(cmd protocol.Command, gameID uint32, dest string, payload []byte) *Item {
	return &Item{
		ID:       lastItemID.Add(1),
		Cmd:      cmd,
		GameID:   gameID,
		Payload:  payload,
		Dest:     dest,
		Enqueued: time.Now(),
	}
}

// Frame returns the protocol frame that carries the item.
func (it *Item) Frame() protocol.Frame {
	f := protocol.Frame{Cmd: it.Cmd}
	if it.Cmd.HasGameID() {
		f.GameID = it.GameID
	}
	if it.Cmd.HasPayload() {
		f.Payload = it.Payload
	}
	return f
}
