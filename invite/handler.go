package invite

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Result is the outcome of handling an invitation.
type Result int

const (
	// Accepted means the invitation created a new game.
	Accepted Result = iota
	// Duplicate means the invited game already exists locally.
	Duplicate
	// Rejected means the invitation was invalid or game creation failed.
	Rejected
)

func (r Result) String() string {
	switch r {
	case Accepted:
		return "ACCEPTED"
	case Duplicate:
		return "DUPLICATE"
	case Rejected:
		return "REJECTED"
	}
	return "UNKNOWN"
}

// CreateResult is what the game layer reports after trying to build a
// game from an invitation.
type CreateResult int

const (
	Created CreateResult = iota
	AlreadyExists
	CreateFailed
)

// GameCreator is the part of the game layer the handler needs.
type GameCreator interface {
	// GameIsKnown reports whether a game with this id exists locally.
	GameIsKnown(gameID uint32) bool
	// CreateOrUpdateGame builds a game from a validated invitation.
	CreateOrUpdateGame(ctx context.Context, inv *Invitation) CreateResult
}

// DefaultRememberedInvites bounds the set of invite keys kept for
// duplicate detection.
const DefaultRememberedInvites = 512

// Handler applies accept/duplicate/reject logic to incoming invitations.
// It is safe for concurrent use by every transport's inbound path.
type Handler struct {
	mu       sync.Mutex
	creator  GameCreator
	inflight map[string]struct{}
	seen     map[string]seenInvite
	maxSeen  int
}

type seenInvite struct {
	at     time.Time
	gameID uint32
}

// NewHandler creates a handler that builds games through creator.
func NewHandler(creator GameCreator) *Handler {
	return &Handler{
		creator:  creator,
		inflight: make(map[string]struct{}),
		seen:     make(map[string]seenInvite),
		maxSeen:  DefaultRememberedInvites,
	}
}

// Handle decides what to do with inv, received from sender. An invitation
// whose key is already being handled, was handled before, or names a game
// the creator already knows is a Duplicate; the creator is only asked to
// build a game when nothing matches.
func (h *Handler) Handle(ctx context.Context, inv *Invitation, sender string) Result {
	logger := logrus.WithFields(logrus.Fields{
		"function": "Handler.Handle",
		"sender":   sender,
	})

	if inv == nil {
		logger.Warn("Rejecting nil invitation")
		return Rejected
	}
	if err := inv.Validate(); err != nil {
		logger.WithField("error", err.Error()).Warn("Rejecting invalid invitation")
		return Rejected
	}

	key := inv.Key()
	logger = logger.WithFields(logrus.Fields{"invite_id": key, "game_id": inv.GameID})

	h.mu.Lock()
	_, busy := h.inflight[key]
	_, done := h.seen[key]
	if busy || done {
		h.mu.Unlock()
		logger.Info("Invitation matches one already handled")
		return Duplicate
	}
	h.inflight[key] = struct{}{}
	h.mu.Unlock()

	result := h.create(ctx, inv)

	h.mu.Lock()
	delete(h.inflight, key)
	if result != Rejected {
		h.rememberLocked(key, inv.GameID)
	}
	h.mu.Unlock()

	logger.WithField("result", result.String()).Info("Handled invitation")
	return result
}

func (h *Handler) create(ctx context.Context, inv *Invitation) Result {
	if h.creator.GameIsKnown(inv.GameID) {
		return Duplicate
	}
	switch h.creator.CreateOrUpdateGame(ctx, inv) {
	case Created:
		return Accepted
	case AlreadyExists:
		return Duplicate
	default:
		return Rejected
	}
}

func (h *Handler) rememberLocked(key string, gameID uint32) {
	h.seen[key] = seenInvite{at: time.Now(), gameID: gameID}
	if len(h.seen) <= h.maxSeen {
		return
	}
	var oldestKey string
	var oldest time.Time
	for k, s := range h.seen {
		if oldestKey == "" || s.at.Before(oldest) {
			oldestKey, oldest = k, s.at
		}
	}
	delete(h.seen, oldestKey)
}

// ForgetGame drops every remembered invitation for gameID, so a fresh
// invitation to a deleted game is accepted again. It returns how many
// were dropped.
func (h *Handler) ForgetGame(gameID uint32) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for key, s := range h.seen {
		if s.gameID == gameID {
			delete(h.seen, key)
			n++
		}
	}
	return n
}
