package transport

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/opd-ai/gamelink/event"
	"github.com/opd-ai/gamelink/interfaces"
	"github.com/opd-ai/gamelink/invite"
	"github.com/opd-ai/gamelink/ledger"
	"github.com/stretchr/testify/require"
)

var errLinkDown = errors.New("link down")

type sendResult struct {
	outcome Outcome
	err     error
}

// scriptedSender returns queued results per destination and records every
// attempt. With no script left it accepts.
type scriptedSender struct {
	mu      sync.Mutex
	script  map[string][]sendResult
	always  map[string]sendResult
	sent    []*ledger.Item
	attempt chan *ledger.Item
}

func newScriptedSender() *scriptedSender {
	return &scriptedSender{
		script:  make(map[string][]sendResult),
		always:  make(map[string]sendResult),
		attempt: make(chan *ledger.Item, 64),
	}
}

func (s *scriptedSender) push(dest string, r sendResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.script[dest] = append(s.script[dest], r)
}

func (s *scriptedSender) set(dest string, r sendResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.always[dest] = r
}

func (s *scriptedSender) clear(dest string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.always, dest)
}

func (s *scriptedSender) Send(_ context.Context, item *ledger.Item) (Outcome, error) {
	s.mu.Lock()
	s.sent = append(s.sent, item)
	r, ok := s.always[item.Dest]
	if !ok {
		if q := s.script[item.Dest]; len(q) > 0 {
			r = q[0]
			s.script[item.Dest] = q[1:]
		}
	}
	s.mu.Unlock()

	select {
	case s.attempt <- item:
	default:
	}
	return r.outcome, r.err
}

func (s *scriptedSender) attempts() []*ledger.Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*ledger.Item(nil), s.sent...)
}

func nextEvent(t *testing.T, ch <-chan event.Event, want event.Type) event.Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case e := <-ch:
			if e.Type == want {
				return e
			}
		case <-deadline:
			t.Fatalf("no %s event", want)
			return event.Event{}
		}
	}
}

func noEvent(t *testing.T, ch <-chan event.Event, unwanted event.Type, wait time.Duration) {
	t.Helper()
	deadline := time.After(wait)
	for {
		select {
		case e := <-ch:
			require.NotEqual(t, unwanted, e.Type, "unexpected %s", e)
		case <-deadline:
			return
		}
	}
}

// fakeEngine is a minimal game layer.
type fakeEngine struct {
	mu       sync.Mutex
	games    map[uint32]bool
	received map[uint32][][]byte
	result   *interfaces.ReceiveResult
	create   invite.CreateResult
}

func newFakeEngine(games ...uint32) *fakeEngine {
	e := &fakeEngine{games: make(map[uint32]bool), received: make(map[uint32][][]byte)}
	for _, g := range games {
		e.games[g] = true
	}
	return e
}

func (e *fakeEngine) GameIsKnown(gameID uint32) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.games[gameID]
}

func (e *fakeEngine) CreateOrUpdateGame(_ context.Context, inv *invite.Invitation) invite.CreateResult {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.create == invite.Created {
		e.games[inv.GameID] = true
	}
	return e.create
}

func (e *fakeEngine) ReceiveMessage(_ context.Context, gameID uint32, payload []byte, _ interfaces.Sender) interfaces.ReceiveResult {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.result != nil {
		return *e.result
	}
	if !e.games[gameID] {
		return interfaces.ReceiveGameGone
	}
	e.received[gameID] = append(e.received[gameID], payload)
	return interfaces.ReceiveOK
}
