// Package transport holds the machinery shared by every game link
// transport: the worker loop that turns a lossy medium into at-least-once
// delivery, the session state it reports, the watchdog that bounds a
// blocking exchange, and the Receiver that dispatches inbound frames.
//
// # Architecture
//
// Each transport (Bluetooth, SMS, MQTT, WiFi-Direct) supplies a Sender
// and runs exactly one Worker:
//
//	sess := deps.NewSession(transport.KindBT)
//	sender := socket.NewSender(socket.SenderConfig{Dial: dial, Framer: framer}, sess)
//	worker := transport.NewWorker(transport.WorkerConfig{Kind: transport.KindBT}, sender, sess)
//	go worker.Run(ctx)
//
// The Worker owns one bounded queue and one ledger.Ledger. For every item
// it first drains the destination's backlog; only when the backlog is
// empty is the new item attempted, so a retry is never overtaken by a
// fresher item for the same peer. Failed items wait in the ledger and are
// retried every resend interval until they succeed or fail out.
//
// Inbound frames from any transport go through a Receiver, which routes
// invitations to invite.Handler and payloads to the game engine and
// chooses the reply.
//
// Implementations live in the socket, bt, wifidirect, mqtt and sms
// subpackages.
package transport
