// Package protocol implements the command vocabulary shared by every game
// link transport and the two wire framings it travels in.
//
// Socket transports (Bluetooth RFCOMM, SMS after reassembly) carry a
// compact binary frame:
//
//	[version:1][command:1][gameID:4, optional][length:2 + payload, optional]
//
// Pub/sub transports (MQTT, WiFi-Direct) carry a flat JSON envelope with
// short keys:
//
//	{"v":1,"cmd":9,"src":"...","dest":"...","gmid":4660,"data":"<base64>"}
//
// Which optional fields a frame carries is fixed by its Command. A socket
// session answers a request with a single command byte; the full reply
// frame, game id included, is only sent over pub/sub and SMS. Decoding
// never panics: any frame that cannot be understood comes back as a
// CmdBadProto frame together with an error wrapping ErrBadProto, so that
// a listener can always answer a confused peer.
//
// Example:
//
//	codec := protocol.NewCodec(protocol.DefaultVersion)
//	data, err := codec.EncodeSocket(protocol.Frame{Cmd: protocol.CmdMesgSend, GameID: 0x1234, Payload: move})
//	frame, err := codec.DecodeSocket(data)
package protocol
