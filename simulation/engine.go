package simulation

import (
	"context"
	"sync"
	"time"

	"github.com/opd-ai/gamelink/interfaces"
	"github.com/opd-ai/gamelink/invite"
	"github.com/sirupsen/logrus"
)

// DeliveryRecord is one payload handed to the engine.
type DeliveryRecord struct {
	GameID    uint32
	Payload   []byte
	From      interfaces.Sender
	Result    interfaces.ReceiveResult
	Timestamp time.Time
}

// Engine is an in-memory game layer.
type Engine struct {
	mu            sync.RWMutex
	games         map[uint32]bool
	invites       []*invite.Invitation
	deliveryLog   []DeliveryRecord
	receiveResult *interfaces.ReceiveResult
	createResult  invite.CreateResult
}

// NewEngine creates an engine with no games that accepts invitations.
func NewEngine() *Engine {
	return &Engine{
		games:        make(map[uint32]bool),
		createResult: invite.Created,
	}
}

// AddGame makes gameID known.
func (e *Engine) AddGame(gameID uint32) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.games[gameID] = true
}

// RemoveGame forgets gameID; later payloads for it report the game gone.
func (e *Engine) RemoveGame(gameID uint32) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.games, gameID)
}

// SetReceiveResult forces the verdict for every payload. Pass nil to go
// back to deciding by game membership.
func (e *Engine) SetReceiveResult(r *interfaces.ReceiveResult) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.receiveResult = r
}

// SetCreateResult sets what invitations produce.
func (e *Engine) SetCreateResult(r invite.CreateResult) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.createResult = r
}

// GameIsKnown implements invite.GameCreator.
func (e *Engine) GameIsKnown(gameID uint32) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.games[gameID]
}

// CreateOrUpdateGame implements invite.GameCreator.
func (e *Engine) CreateOrUpdateGame(_ context.Context, inv *invite.Invitation) invite.CreateResult {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.games[inv.GameID] {
		return invite.AlreadyExists
	}
	if e.createResult == invite.Created {
		e.games[inv.GameID] = true
		e.invites = append(e.invites, inv)
	}
	logrus.WithFields(logrus.Fields{
		"function": "Engine.CreateOrUpdateGame",
		"game_id":  inv.GameID,
		"result":   int(e.createResult),
	}).Debug("Simulated game creation")
	return e.createResult
}

// ReceiveMessage implements interfaces.GameEngine.
func (e *Engine) ReceiveMessage(_ context.Context, gameID uint32, payload []byte, from interfaces.Sender) interfaces.ReceiveResult {
	e.mu.Lock()
	defer e.mu.Unlock()

	result := interfaces.ReceiveOK
	switch {
	case e.receiveResult != nil:
		result = *e.receiveResult
	case !e.games[gameID]:
		result = interfaces.ReceiveGameGone
	}

	e.deliveryLog = append(e.deliveryLog, DeliveryRecord{
		GameID:    gameID,
		Payload:   append([]byte(nil), payload...),
		From:      from,
		Result:    result,
		Timestamp: time.Now(),
	})
	return result
}

// DeliveryLog returns a copy of every payload received so far.
func (e *Engine) DeliveryLog() []DeliveryRecord {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]DeliveryRecord(nil), e.deliveryLog...)
}

// Accepted returns the payloads accepted for gameID, in arrival order.
func (e *Engine) Accepted(gameID uint32) [][]byte {
	e.mu.RLock()
	defer e.mu.RUnlock()

	var out [][]byte
	for _, r := range e.deliveryLog {
		if r.GameID == gameID && r.Result == interfaces.ReceiveOK {
			out = append(out, r.Payload)
		}
	}
	return out
}

// Invitations returns the invitations that created games.
func (e *Engine) Invitations() []*invite.Invitation {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]*invite.Invitation(nil), e.invites...)
}

// ClearDeliveryLog empties the delivery log.
func (e *Engine) ClearDeliveryLog() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.deliveryLog = nil
}

// Stats summarises the delivery log.
type Stats struct {
	Games     int
	Delivered int
	GameGone  int
	Errors    int
}

// GetStats returns counts over the delivery log.
func (e *Engine) GetStats() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()

	s := Stats{Games: len(e.games)}
	for _, r := range e.deliveryLog {
		switch r.Result {
		case interfaces.ReceiveOK:
			s.Delivered++
		case interfaces.ReceiveGameGone:
			s.GameGone++
		default:
			s.Errors++
		}
	}
	return s
}
