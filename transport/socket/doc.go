// Package socket implements the request/reply exchange shared by the
// stream transports (Bluetooth RFCOMM and WiFi-Direct TCP).
//
// A sender dials, writes one request and waits for one reply under a
// watchdog, then closes. A Listener serves each accepted connection concurrently and
// answers every request it can decode; requests it cannot decode are
// answered with BAD_PROTO and the connection is dropped, but the listener
// keeps serving.
//
// The wire framing is pluggable. BinaryFramer writes the compact socket
// frame and answers with a single command byte. JSONFramer length-prefixes
// JSON envelopes in both directions so peers can exchange names and
// addresses alongside each command.
package socket
