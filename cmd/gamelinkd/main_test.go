package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/opd-ai/gamelink/config"
	"github.com/opd-ai/gamelink/event"
	"github.com/opd-ai/gamelink/invite"
	"github.com/opd-ai/gamelink/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const ownPhone = "+15550009"

func writeConfig(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "gamelink.yaml")
	data := []byte(`
sms:
  enabled: true
  phone: "+15550009"
  combine_wait: 10ms
  rate_count: -1
logging:
  level: error
`)
	require.NoError(t, os.WriteFile(path, data, 0o600))
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestVersion(t *testing.T) {
	out, err := run(t, "version", "--config", "")
	require.NoError(t, err)
	assert.Contains(t, out, "gamelinkd version "+version)
	assert.Contains(t, out, "protocol version 1")
}

func TestSendLoopback(t *testing.T) {
	out, err := run(t, "send", "--config", writeConfig(t), "--simulate",
		"--transport", "sms", "--addr", ownPhone, "--name", "",
		"--game", "0x10", "--text", "hello", "--timeout", "5s")
	require.NoError(t, err)
	assert.Contains(t, out, "MESSAGE_ACCEPTED")
}

func TestPingLoopback(t *testing.T) {
	out, err := run(t, "ping", "--config", writeConfig(t), "--simulate",
		"--transport", "sms", "--addr", ownPhone, "--name", "",
		"--game", "0", "--timeout", "5s")
	require.NoError(t, err)
	assert.Contains(t, out, "HOST_PONGED")
}

func TestInviteLoopback(t *testing.T) {
	uri, err := invite.New(0x99, "chess", "CollinsEnglish", "en", 2, 1).AddSMS("+15550001", false, 30).URI("")
	require.NoError(t, err)

	out, err := run(t, "invite", "--config", writeConfig(t), "--simulate",
		"--transport", "sms", "--addr", ownPhone, "--name", "",
		"--uri", uri, "--timeout", "5s")
	require.NoError(t, err)
	assert.Contains(t, out, "NEWGAME_SUCCESS")
}

func TestSendWithoutPeer(t *testing.T) {
	_, err := run(t, "send", "--config", writeConfig(t), "--simulate",
		"--transport", "sms", "--addr", "", "--name", "",
		"--game", "1", "--text", "x")
	assert.ErrorContains(t, err, "--addr or --name is required")
}

func TestUnknownTransport(t *testing.T) {
	_, err := run(t, "ping", "--config", writeConfig(t),
		"--transport", "carrier-pigeon", "--addr", "x", "--game", "0")
	assert.Error(t, err)
}

func TestParseGameID(t *testing.T) {
	id, err := parseGameID("0x1234")
	require.NoError(t, err)
	assert.Equal(t, uint32(0x1234), id)

	id, err = parseGameID("4660")
	require.NoError(t, err)
	assert.Equal(t, uint32(4660), id)

	_, err = parseGameID("0x100000000")
	assert.Error(t, err)
	_, err = parseGameID("game")
	assert.Error(t, err)
}

func TestParsePayload(t *testing.T) {
	data, err := parsePayload("0xcafe", "")
	require.NoError(t, err)
	assert.Equal(t, []byte{0xca, 0xfe}, data)

	data, err = parsePayload("", "e2e4")
	require.NoError(t, err)
	assert.Equal(t, []byte("e2e4"), data)

	_, err = parsePayload("zz", "")
	assert.Error(t, err)
}

func TestParseInvitationNeedsInput(t *testing.T) {
	_, err := parseInvitation("", "")
	assert.Error(t, err)

	inv, err := parseInvitation(`{"gid":7}`, "")
	require.NoError(t, err)
	assert.Equal(t, uint32(7), inv.GameID)
}

func TestOutcomes(t *testing.T) {
	tests := []struct {
		name    string
		settled outcome
		event   event.Event
		done    bool
		failed  bool
	}{
		{"send accepted", sendOutcome, event.Event{Type: event.MessageAccepted}, true, false},
		{"send resend keeps waiting", sendOutcome, event.Event{Type: event.MessageResend}, false, false},
		{"send failout", sendOutcome, event.Event{Type: event.MessageFailout}, true, true},
		{"send game gone", sendOutcome, event.Event{Type: event.MessageNoGame}, true, true},
		{"invite duplicate is fine", inviteOutcome, event.Event{Type: event.NewGameDupRejected}, true, false},
		{"invite declined", inviteOutcome, event.Event{Type: event.NewGameFailure}, true, true},
		{"ping ponged", pingOutcome, event.Event{Type: event.HostPonged}, true, false},
		{"ping failed attempt", pingOutcome, event.Event{Type: event.ConnectionStatus, Direction: event.Outbound}, true, true},
		{"ping inbound status ignored", pingOutcome, event.Event{Type: event.ConnectionStatus, Direction: event.Inbound}, false, false},
		{"ping successful attempt", pingOutcome, event.Event{Type: event.ConnectionStatus, OK: true}, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			done, err := tt.settled(tt.event)
			assert.Equal(t, tt.done, done)
			if tt.failed {
				assert.ErrorIs(t, err, ErrNotDelivered)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestOnlyDisablesOthers(t *testing.T) {
	c := config.Default()
	c.BT.Enabled = true
	c.MQTT.Enabled = true

	got := only(c, transport.KindMQTT)
	assert.False(t, got.BT.Enabled)
	assert.True(t, got.MQTT.Enabled)
	assert.False(t, got.SMS.Enabled)
	assert.True(t, c.BT.Enabled, "input left untouched")
}
