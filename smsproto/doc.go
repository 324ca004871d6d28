// Package smsproto packs protocol frames into binary SMS data messages and
// unpacks them again.
//
// A data SMS carries at most limits.MaxSMSBinary bytes of content, so the
// outbound side does two things: small frames bound for the same phone are
// held for a short combine window and then sent together in a single
// "combo" packet, and frames too large for one message are split into
// numbered fragments. The inbound side reverses both, reassembling
// fragment sets keyed by sender and message id.
//
// Packet formats, first byte is the format version:
//
//	fragment: [1][msgID][index][count][chunk...]
//	combo:    [2]([len][msgID][frame...])+
package smsproto
