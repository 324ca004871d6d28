package invite

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validInvitation() *Invitation {
	return New(0x1234, "Sunday game", "CollegeEng_2to8", "en", 2, 1).
		AddBT("Pixel", "AA:BB:CC:DD:EE:FF").
		AddMQTT("0123456789abcdef")
}

func TestNewGeneratesInviteID(t *testing.T) {
	a, b := validInvitation(), validInvitation()
	assert.Len(t, a.InviteID, 32)
	assert.NotEqual(t, a.InviteID, b.InviteID)
	assert.True(t, a.Valid())
}

func TestKeyFallsBackToGameID(t *testing.T) {
	inv := &Invitation{GameID: 0xBEEF}
	assert.Equal(t, "0000BEEF", inv.Key())
	inv.InviteID = "abc"
	assert.Equal(t, "abc", inv.Key())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Invitation)
	}{
		{"no game id", func(i *Invitation) { i.GameID = 0 }},
		{"no dict", func(i *Invitation) { i.Dict = "" }},
		{"no lang", func(i *Invitation) { i.Lang = "" }},
		{"no players", func(i *Invitation) { i.TotalPlayers = 0 }},
		{"too many local", func(i *Invitation) { i.LocalPlayers = 3 }},
		{"no transports", func(i *Invitation) { i.Transports = 0 }},
		{"bt without address", func(i *Invitation) { i.BTAddr = "" }},
		{"mqtt without devid", func(i *Invitation) { i.MQTTDevID = "" }},
		{"sms without os", func(i *Invitation) { i.AddSMS("+15550001", true, 0) }},
		{"p2p without mac", func(i *Invitation) { i.AddWiFiDirect("") }},
		{"relay without room", func(i *Invitation) { i.AddRelay("") }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inv := validInvitation()
			tt.mutate(inv)
			err := inv.Validate()
			if !errors.Is(err, ErrInvalidInvitation) {
				t.Errorf("Validate() = %v, want ErrInvalidInvitation", err)
			}
		})
	}
}

func TestJSONRoundTrip(t *testing.T) {
	inv := validInvitation().AddSMS("+15550001", true, 33).AddWiFiDirect("02:11:22:33:44:55")
	data, err := inv.Marshal()
	require.NoError(t, err)
	assert.Contains(t, string(data), `"gid":4660`)
	assert.Contains(t, string(data), `"wl":"CollegeEng_2to8"`)

	got, err := Parse(data)
	require.NoError(t, err)
	assert.Equal(t, inv, got)

	_, err = Parse([]byte("{"))
	assert.Error(t, err)
}

func TestURIRoundTrip(t *testing.T) {
	inv := validInvitation().AddSMS("+15550001", true, 33).AddWiFiDirect("02:11:22:33:44:55")
	inv.ForceChannel = 2

	uri, err := inv.URI("")
	require.NoError(t, err)
	assert.Contains(t, uri, DefaultLaunchURL)

	got, err := ParseURI(uri)
	require.NoError(t, err)
	assert.Equal(t, inv, got)
	assert.True(t, got.Valid())
}

func TestParseURIInfersTransports(t *testing.T) {
	got, err := ParseURI("https://example.com/new?gid=77&wl=dict&lang=en&np=2&bta=AA:BB:CC:DD:EE:FF")
	require.NoError(t, err)
	assert.Equal(t, ViaBT, got.Transports)
	assert.Equal(t, 1, got.LocalPlayers)
	assert.True(t, got.Valid())

	_, err = ParseURI("https://example.com/new?gid=abc")
	assert.Error(t, err)
}
