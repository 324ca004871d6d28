// Package bt carries game traffic over Bluetooth RFCOMM.
//
// Each send opens a fresh RFCOMM connection to the peer, writes one binary
// socket frame and waits for the one-byte reply. The listener accepts
// connections on a fixed channel and serves each on its own goroutine.
//
// Peers are usually known by name: platforms that hide the real adapter
// address report the placeholder 02:00:00:00:00:00, so destinations are
// resolved through the address book and, failing that, through the
// paired devices the BlueZ daemon reports over D-Bus.
package bt
