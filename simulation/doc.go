// Package simulation provides in-memory stand-ins for the pieces of the
// game link that touch the outside world, for deterministic tests and for
// running a daemon without hardware.
//
// # Game engine
//
// Engine implements interfaces.GameEngine over a map of games. Every call
// is recorded in a delivery log that tests inspect afterwards:
//
//	engine := simulation.NewEngine()
//	engine.AddGame(42)
//	// ... drive a transport ...
//	log := engine.DeliveryLog()
//	if len(log) != 1 || log[0].Result != interfaces.ReceiveOK {
//	    t.Error("expected one accepted payload")
//	}
//
// Use SetReceiveResult to force a verdict (for example ReceiveError to
// make senders retry) and SetCreateResult to control invitation outcomes.
//
// # Radio network
//
// RadioNetwork connects any number of simulated phones. Data messages sent
// from one Radio are delivered to the handler registered by the Radio
// owning the destination number. Numbers can be taken offline to exercise
// retry paths.
//
// # Thread Safety
//
// All types in this package are safe for concurrent use.
package simulation
