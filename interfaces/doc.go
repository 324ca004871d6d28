// Package interfaces defines the contract between the game link and the
// game layer that sits on top of it.
//
// The game link never interprets game payloads. It hands them to a
// [GameEngine], asks it whether a game exists, and asks it to build games
// from invitations:
//
//	type engine struct{ games map[uint32]*Game }
//
//	func (e *engine) ReceiveMessage(ctx context.Context, gameID uint32, payload []byte, from Sender) ReceiveResult {
//	    g, ok := e.games[gameID]
//	    if !ok {
//	        return ReceiveGameGone
//	    }
//	    return g.Apply(payload)
//	}
//
// An in-memory implementation for tests and demos lives in the simulation
// package.
package interfaces
