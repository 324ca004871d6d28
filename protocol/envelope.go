package protocol

import (
	"encoding/json"
	"fmt"
)

// envelope is the JSON shape of a frame. Keys are short because MQTT and
// SMS-adjacent links are metered.
type envelope struct {
	V      *uint8            `json:"v"`
	Cmd    *uint8            `json:"cmd"`
	Src    string            `json:"src,omitempty"`
	Dest   string            `json:"dest,omitempty"`
	GameID uint32            `json:"gmid,omitempty"`
	Data   []byte            `json:"data,omitempty"`
	NLI    json.RawMessage   `json:"nli,omitempty"`
	MAC    string            `json:"mac,omitempty"`
	Name   string            `json:"name,omitempty"`
	Map    map[string]string `json:"map,omitempty"`
}

// EncodeEnvelope returns the JSON framing of f. Invitation payloads are
// embedded under "nli" as JSON and must therefore be valid JSON; all other
// payloads are base64 under "data".
func (c *Codec) EncodeEnvelope(f Frame) ([]byte, error) {
	if err := checkLayout(f); err != nil {
		return nil, err
	}

	v := c.version
	cmd := uint8(f.Cmd)
	env := envelope{
		V:      &v,
		Cmd:    &cmd,
		Src:    f.Src,
		Dest:   f.Dest,
		GameID: f.GameID,
		MAC:    f.MAC,
		Name:   f.Name,
		Map:    f.Names,
	}

	if f.Cmd == CmdInvite {
		if len(f.Payload) == 0 || !json.Valid(f.Payload) {
			return nil, fmt.Errorf("%w: invitation payload is not JSON", ErrMalformed)
		}
		env.NLI = json.RawMessage(f.Payload)
	} else if len(f.Payload) > 0 {
		env.Data = f.Payload
	}

	return json.Marshal(env)
}

// DecodeEnvelope decodes a JSON envelope. Like DecodeSocket it yields a
// CmdBadProto frame for anything it cannot understand.
func (c *Codec) DecodeEnvelope(data []byte) (Frame, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return BadProto(), fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	// Past this point the sender is known even if the frame is unusable.
	bad := BadProto()
	bad.Src = env.Src
	if env.V == nil {
		return bad, fmt.Errorf("%w: missing version", ErrBadVersion)
	}
	if *env.V != c.version {
		return bad, fmt.Errorf("%w: got %d, want %d", ErrBadVersion, *env.V, c.version)
	}
	if env.Cmd == nil {
		return bad, fmt.Errorf("%w: missing command", ErrMalformed)
	}

	f := Frame{
		Cmd:   Command(*env.Cmd),
		Src:   env.Src,
		Dest:  env.Dest,
		MAC:   env.MAC,
		Name:  env.Name,
		Names: env.Map,
	}
	if !f.Cmd.Valid() {
		return bad, fmt.Errorf("%w: %d", ErrUnknownCommand, *env.Cmd)
	}

	if f.Cmd.HasGameID() {
		f.GameID = env.GameID
	}
	if f.Cmd.HasPayload() {
		if f.Cmd == CmdInvite {
			if len(env.NLI) > 0 {
				f.Payload = []byte(env.NLI)
			}
		} else if len(env.Data) > 0 {
			f.Payload = env.Data
		}
	}
	return f, nil
}
