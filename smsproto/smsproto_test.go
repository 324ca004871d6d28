package smsproto

import (
	"bytes"
	"testing"
	"time"

	"github.com/opd-ai/gamelink/limits"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func TestSmallFrameWaitsForCombineWindow(t *testing.T) {
	out := NewOutbound(WithCombineWait(5 * time.Second))
	require.NoError(t, out.Add("+15550001", []byte("hello"), 1, epoch))

	batches, wait := out.Flush(epoch.Add(2*time.Second), false)
	assert.Empty(t, batches)
	assert.Equal(t, 3*time.Second, wait)

	batches, wait = out.Flush(epoch.Add(5*time.Second), false)
	require.Len(t, batches, 1)
	assert.Zero(t, wait)
	assert.Equal(t, []uint64{1}, batches[0].Tags)
	assert.Equal(t, 0, out.Pending())
}

func TestCloseFramesAreCombined(t *testing.T) {
	out := NewOutbound()
	require.NoError(t, out.Add("+15550001", []byte("one"), 1, epoch))
	require.NoError(t, out.Add("+15550001", []byte("two"), 2, epoch.Add(time.Second)))

	batches, _ := out.Flush(epoch.Add(time.Second), true)
	require.Len(t, batches, 1)
	require.Len(t, batches[0].Packets, 1, "both frames should share one packet")
	assert.Equal(t, FormatCombo, batches[0].Packets[0][0])

	in := NewInbound(0)
	msgs, err := in.Receive("+15550001", batches[0].Packets[0], epoch)
	require.NoError(t, err)
	assert.Equal(t, [][]byte{[]byte("one"), []byte("two")}, msgs)
}

func TestOversizeQueueSendsImmediately(t *testing.T) {
	out := NewOutbound()
	require.NoError(t, out.Add("+1", bytes.Repeat([]byte{'a'}, 60), 1, epoch))
	require.NoError(t, out.Add("+1", bytes.Repeat([]byte{'b'}, 60), 2, epoch))

	batches, wait := out.Flush(epoch, false)
	require.Len(t, batches, 1)
	assert.Zero(t, wait)
	assert.Len(t, batches[0].Packets, 2)
	for _, p := range batches[0].Packets {
		assert.Equal(t, FormatCombo, p[0])
	}
}

func TestCombineStopsAtSummedLength(t *testing.T) {
	out := NewOutbound()
	// 50+50+15 is exactly one binary message of content; one byte more is not.
	for i, n := range []int{50, 50, 15, 1} {
		require.NoError(t, out.Add("+1", bytes.Repeat([]byte{byte('a' + i)}, n), uint64(i), epoch))
	}

	batches, _ := out.Flush(epoch, true)
	require.Len(t, batches, 1)
	packets := batches[0].Packets
	require.Len(t, packets, 2)
	assert.Len(t, packets[0], 1+limits.MaxSMSBinary+3*comboEntryHeader)
	assert.Len(t, packets[1], 1+1+comboEntryHeader)

	in := NewInbound(0)
	msgs, err := in.Receive("+1", packets[0], epoch)
	require.NoError(t, err)
	assert.Len(t, msgs, 3)

	exact := NewOutbound()
	require.NoError(t, exact.Add("+1", bytes.Repeat([]byte{'x'}, limits.MaxSMSBinary), 1, epoch))
	require.NoError(t, exact.Add("+1", bytes.Repeat([]byte{'y'}, limits.MaxSMSBinary+1), 2, epoch))
	batches, _ = exact.Flush(epoch, true)
	require.Len(t, batches, 1)
	packets = batches[0].Packets
	require.Len(t, packets, 3, "a full-size message is combined alone; one byte more is fragmented")
	assert.Equal(t, FormatCombo, packets[0][0])
	assert.Equal(t, FormatFragment, packets[1][0])
	assert.Equal(t, FormatFragment, packets[2][0])
}

func TestLargeMessageFragmentsAndReassembles(t *testing.T) {
	msg := make([]byte, 300)
	for i := range msg {
		msg[i] = byte(i)
	}

	out := NewOutbound()
	require.NoError(t, out.Add("+1", msg, 9, epoch))
	batches, _ := out.Flush(epoch, false)
	require.Len(t, batches, 1)
	packets := batches[0].Packets
	require.Len(t, packets, 3)

	in := NewInbound(0)
	// Deliver out of order; only the last one completes the message.
	order := []int{2, 0, 1}
	var got [][]byte
	for i, idx := range order {
		msgs, err := in.Receive("+1", packets[idx], epoch)
		require.NoError(t, err)
		if i < len(order)-1 {
			assert.Empty(t, msgs)
			assert.Equal(t, 1, in.Partials())
		}
		got = msgs
	}
	require.Len(t, got, 1)
	assert.Equal(t, msg, got[0])
	assert.Equal(t, 0, in.Partials())
}

func TestPartialsExpire(t *testing.T) {
	in := NewInbound(time.Minute)
	_, err := in.Receive("+1", []byte{FormatFragment, 7, 0, 2, 'x'}, epoch)
	require.NoError(t, err)
	assert.Equal(t, 1, in.Partials())

	_, err = in.Receive("+2", []byte{FormatFragment, 8, 0, 2, 'y'}, epoch.Add(2*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, in.Partials(), "the stale set from +1 should be gone")
}

func TestMessageIDsWrapAndArePersisted(t *testing.T) {
	var seen []uint8
	out := NewOutbound(WithStartID(0xFD), WithIDObserver(func(id uint8) { seen = append(seen, id) }))
	for i := 0; i < 3; i++ {
		require.NoError(t, out.Add("+1", []byte{byte(i)}, uint64(i), epoch))
	}
	out.Flush(epoch, true)
	assert.Equal(t, []uint8{0xFE, 0x00, 0x01}, seen)
}

func TestReceiveRejectsCorruptPackets(t *testing.T) {
	in := NewInbound(0)
	cases := map[string][]byte{
		"empty":          nil,
		"unknown format": {9, 1, 2},
		"short fragment": {FormatFragment, 1},
		"bad index":      {FormatFragment, 1, 3, 2, 'x'},
		"combo overrun":  {FormatCombo, 10, 1, 'x'},
	}
	for name, packet := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := in.Receive("+1", packet, epoch)
			assert.Error(t, err)
		})
	}
}

func TestAddValidatesInput(t *testing.T) {
	out := NewOutbound()
	assert.ErrorIs(t, out.Add("", []byte("x"), 0, epoch), ErrEmptyPhone)
	assert.ErrorIs(t, out.Add("+1", nil, 0, epoch), limits.ErrEmpty)
}
