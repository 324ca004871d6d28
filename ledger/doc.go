// Package ledger tracks outbound items that have not yet been acknowledged.
//
// Every transport worker owns one Ledger. Items are kept per destination in
// the order they were queued, and a destination's backlog must drain before
// anything newer for that destination is attempted. An item that fails
// MaxSendFail times is dropped and reported through the failout hook; it is
// never retried again.
package ledger
