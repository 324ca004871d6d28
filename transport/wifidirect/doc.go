// Package wifidirect carries game traffic between devices in a WiFi-Direct
// group over TCP.
//
// Frames are JSON envelopes naming the source and destination hardware
// addresses, so a group owner can relay traffic between clients that
// cannot reach each other directly. Peers find each other through DNS-SD
// (service _presence._tcp, instance srvc_<flavor>) and trade their known
// address to name tables on every ping and pong.
package wifidirect
