package invite

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// TransportSet is a bitmask of the transports an invitation can be
// answered over.
type TransportSet uint16

const (
	ViaRelay      TransportSet = 1 << 2
	ViaBT         TransportSet = 1 << 3
	ViaSMS        TransportSet = 1 << 4
	ViaWiFiDirect TransportSet = 1 << 5
	ViaMQTT       TransportSet = 1 << 7
)

// Has reports whether every transport in t is in s.
func (s TransportSet) Has(t TransportSet) bool {
	return s&t == t
}

// DefaultLaunchURL is the base of launch URIs built by URI.
const DefaultLaunchURL = "https://eehouse.org/xw4/newgame"

var (
	// ErrInvalidInvitation indicates an invitation missing required fields.
	ErrInvalidInvitation = errors.New("invalid invitation")
)

// Invitation describes a game a peer is being asked to join. JSON keys are
// deliberately short; the same keys are used as URI query parameters.
type Invitation struct {
	GameID        uint32       `json:"gid"`
	InviteID      string       `json:"id,omitempty"`
	GameName      string       `json:"nm,omitempty"`
	Dict          string       `json:"wl"`
	Lang          string       `json:"lang"`
	TotalPlayers  int          `json:"np"`
	LocalPlayers  int          `json:"nh"`
	ForceChannel  int          `json:"fc,omitempty"`
	RemotesRobots bool         `json:"rr,omitempty"`
	Transports    TransportSet `json:"ad"`

	Room      string `json:"room,omitempty"`
	BTName    string `json:"btn,omitempty"`
	BTAddr    string `json:"bta,omitempty"`
	Phone     string `json:"phn,omitempty"`
	IsGSM     bool   `json:"gsm,omitempty"`
	OSVers    int    `json:"osv,omitempty"`
	MQTTDevID string `json:"mqtt,omitempty"`
	P2PMAC    string `json:"p2,omitempty"`
}

// New creates an invitation for a live game. The invite id is freshly
// generated; transports are added with the Add* methods.
func New(gameID uint32, gameName, dict, lang string, totalPlayers, localPlayers int) *Invitation {
	return &Invitation{
		GameID:       gameID,
		InviteID:     strings.ReplaceAll(uuid.NewString(), "-", ""),
		GameName:     gameName,
		Dict:         dict,
		Lang:         lang,
		TotalPlayers: totalPlayers,
		LocalPlayers: localPlayers,
	}
}

// AddBT makes the invitation answerable over Bluetooth.
func (inv *Invitation) AddBT(name, addr string) *Invitation {
	inv.Transports |= ViaBT
	inv.BTName, inv.BTAddr = name, addr
	return inv
}

// AddSMS makes the invitation answerable over SMS.
func (inv *Invitation) AddSMS(phone string, isGSM bool, osVers int) *Invitation {
	inv.Transports |= ViaSMS
	inv.Phone, inv.IsGSM, inv.OSVers = phone, isGSM, osVers
	return inv
}

// AddMQTT makes the invitation answerable over MQTT.
func (inv *Invitation) AddMQTT(devID string) *Invitation {
	inv.Transports |= ViaMQTT
	inv.MQTTDevID = devID
	return inv
}

// AddWiFiDirect makes the invitation answerable over WiFi-Direct.
func (inv *Invitation) AddWiFiDirect(mac string) *Invitation {
	inv.Transports |= ViaWiFiDirect
	inv.P2PMAC = mac
	return inv
}

// AddRelay records a relay room.
func (inv *Invitation) AddRelay(room string) *Invitation {
	inv.Transports |= ViaRelay
	inv.Room = room
	return inv
}

// Key identifies the game the invitation creates. Invitations without an
// explicit invite id fall back to the hex game id.
func (inv *Invitation) Key() string {
	if inv.InviteID != "" {
		return inv.InviteID
	}
	return fmt.Sprintf("%08X", inv.GameID)
}

// Validate reports why the invitation cannot be used, or nil.
func (inv *Invitation) Validate() error {
	switch {
	case inv.GameID == 0:
		return fmt.Errorf("%w: no game id", ErrInvalidInvitation)
	case inv.Dict == "":
		return fmt.Errorf("%w: no dictionary", ErrInvalidInvitation)
	case inv.Lang == "":
		return fmt.Errorf("%w: no language", ErrInvalidInvitation)
	case inv.TotalPlayers <= 0:
		return fmt.Errorf("%w: no player count", ErrInvalidInvitation)
	case inv.LocalPlayers <= 0 || inv.LocalPlayers > inv.TotalPlayers:
		return fmt.Errorf("%w: %d local of %d players", ErrInvalidInvitation, inv.LocalPlayers, inv.TotalPlayers)
	case inv.Transports == 0:
		return fmt.Errorf("%w: no transports", ErrInvalidInvitation)
	}

	checks := []struct {
		via  TransportSet
		ok   bool
		what string
	}{
		{ViaRelay, inv.Room != "", "relay room"},
		{ViaBT, inv.BTAddr != "", "bluetooth address"},
		{ViaSMS, inv.Phone != "" && inv.OSVers > 0, "phone"},
		{ViaMQTT, inv.MQTTDevID != "", "mqtt device id"},
		{ViaWiFiDirect, inv.P2PMAC != "", "wifi-direct mac"},
	}
	for _, c := range checks {
		if inv.Transports.Has(c.via) && !c.ok {
			return fmt.Errorf("%w: missing %s", ErrInvalidInvitation, c.what)
		}
	}
	return nil
}

// Valid reports whether the invitation can be turned into a game.
func (inv *Invitation) Valid() bool {
	return inv.Validate() == nil
}

// Marshal returns the compact JSON form.
func (inv *Invitation) Marshal() ([]byte, error) {
	return json.Marshal(inv)
}

// Parse decodes the JSON form. The result is not validated.
func Parse(data []byte) (*Invitation, error) {
	var inv Invitation
	if err := json.Unmarshal(data, &inv); err != nil {
		return nil, fmt.Errorf("parse invitation: %w", err)
	}
	return &inv, nil
}

// URI returns a launch URI under base carrying the invitation as query
// parameters. An empty base selects DefaultLaunchURL.
func (inv *Invitation) URI(base string) (string, error) {
	if base == "" {
		base = DefaultLaunchURL
	}
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse launch base: %w", err)
	}

	q := url.Values{}
	q.Set("gid", strconv.FormatUint(uint64(inv.GameID), 10))
	q.Set("lang", inv.Lang)
	q.Set("np", strconv.Itoa(inv.TotalPlayers))
	q.Set("nh", strconv.Itoa(inv.LocalPlayers))
	q.Set("fc", strconv.Itoa(inv.ForceChannel))
	q.Set("ad", strconv.Itoa(int(inv.Transports)))
	setIf(q, "id", inv.InviteID)
	setIf(q, "nm", inv.GameName)
	setIf(q, "wl", inv.Dict)

	if inv.Transports.Has(ViaRelay) {
		q.Set("room", inv.Room)
	}
	if inv.Transports.Has(ViaBT) {
		q.Set("bta", inv.BTAddr)
		setIf(q, "btn", inv.BTName)
	}
	if inv.Transports.Has(ViaSMS) {
		q.Set("phn", inv.Phone)
		q.Set("gsm", boolFlag(inv.IsGSM))
		q.Set("osv", strconv.Itoa(inv.OSVers))
	}
	if inv.Transports.Has(ViaMQTT) {
		q.Set("mqtt", inv.MQTTDevID)
	}
	if inv.Transports.Has(ViaWiFiDirect) {
		q.Set("p2", inv.P2PMAC)
	}
	if inv.RemotesRobots {
		q.Set("rr", "1")
	}

	u.RawQuery = q.Encode()
	return u.String(), nil
}

// ParseURI decodes a launch URI. The result is not validated.
func ParseURI(raw string) (*Invitation, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse invitation uri: %w", err)
	}
	q := u.Query()

	inv := &Invitation{
		InviteID:      q.Get("id"),
		GameName:      q.Get("nm"),
		Dict:          q.Get("wl"),
		Lang:          q.Get("lang"),
		Room:          q.Get("room"),
		BTAddr:        q.Get("bta"),
		BTName:        q.Get("btn"),
		Phone:         q.Get("phn"),
		IsGSM:         q.Get("gsm") == "1",
		MQTTDevID:     q.Get("mqtt"),
		P2PMAC:        q.Get("p2"),
		RemotesRobots: q.Get("rr") == "1",
	}

	var ints = []struct {
		key string
		dst *int
	}{
		{"np", &inv.TotalPlayers},
		{"nh", &inv.LocalPlayers},
		{"fc", &inv.ForceChannel},
		{"osv", &inv.OSVers},
	}
	for _, f := range ints {
		if v := q.Get(f.key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return nil, fmt.Errorf("parse invitation uri %s: %w", f.key, err)
			}
			*f.dst = n
		}
	}
	if inv.LocalPlayers == 0 {
		inv.LocalPlayers = 1
	}

	if v := q.Get("gid"); v != "" {
		n, err := strconv.ParseUint(v, 0, 32)
		if err != nil {
			return nil, fmt.Errorf("parse invitation uri gid: %w", err)
		}
		inv.GameID = uint32(n)
	}

	if v := q.Get("ad"); v != "" {
		n, err := strconv.ParseUint(v, 0, 16)
		if err != nil {
			return nil, fmt.Errorf("parse invitation uri ad: %w", err)
		}
		inv.Transports = TransportSet(n)
	} else {
		inv.Transports = inferTransports(inv)
	}
	return inv, nil
}

// inferTransports handles URIs from builds that did not write "ad".
func inferTransports(inv *Invitation) TransportSet {
	var s TransportSet
	if inv.Room != "" {
		s |= ViaRelay
	}
	if inv.BTAddr != "" {
		s |= ViaBT
	}
	if inv.Phone != "" {
		s |= ViaSMS
	}
	if inv.MQTTDevID != "" {
		s |= ViaMQTT
	}
	if inv.P2PMAC != "" {
		s |= ViaWiFiDirect
	}
	return s
}

func setIf(q url.Values, key, value string) {
	if value != "" {
		q.Set(key, value)
	}
}

func boolFlag(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
