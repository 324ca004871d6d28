package simulation

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/opd-ai/gamelink/interfaces"
	"github.com/opd-ai/gamelink/invite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var peer = interfaces.Sender{Transport: "sms", Addr: "+15550001111"}

func TestEngineReceiveMessage(t *testing.T) {
	e := NewEngine()
	e.AddGame(42)

	assert.Equal(t, interfaces.ReceiveOK, e.ReceiveMessage(context.Background(), 42, []byte("a"), peer))
	assert.Equal(t, interfaces.ReceiveGameGone, e.ReceiveMessage(context.Background(), 43, []byte("b"), peer))

	e.RemoveGame(42)
	assert.Equal(t, interfaces.ReceiveGameGone, e.ReceiveMessage(context.Background(), 42, []byte("c"), peer))

	stats := e.GetStats()
	assert.Equal(t, 1, stats.Delivered)
	assert.Equal(t, 2, stats.GameGone)
	assert.Equal(t, [][]byte{[]byte("a")}, e.Accepted(42))
}

func TestEngineForcedResult(t *testing.T) {
	e := NewEngine()
	e.AddGame(1)
	busy := interfaces.ReceiveError
	e.SetReceiveResult(&busy)

	assert.Equal(t, interfaces.ReceiveError, e.ReceiveMessage(context.Background(), 1, nil, peer))
	e.SetReceiveResult(nil)
	assert.Equal(t, interfaces.ReceiveOK, e.ReceiveMessage(context.Background(), 1, nil, peer))
	assert.Equal(t, 1, e.GetStats().Errors)
}

func TestEngineCreateGame(t *testing.T) {
	e := NewEngine()
	inv := invite.New(77, "g", "dict", "en", 2, 1).AddSMS("+15550001111", true, 10)

	assert.Equal(t, invite.Created, e.CreateOrUpdateGame(context.Background(), inv))
	assert.True(t, e.GameIsKnown(77))
	assert.Equal(t, invite.AlreadyExists, e.CreateOrUpdateGame(context.Background(), inv))
	assert.Len(t, e.Invitations(), 1)

	e.SetCreateResult(invite.CreateFailed)
	other := invite.New(78, "g", "dict", "en", 2, 1)
	assert.Equal(t, invite.CreateFailed, e.CreateOrUpdateGame(context.Background(), other))
	assert.False(t, e.GameIsKnown(78))
}

func TestDeliveryLogIsCopy(t *testing.T) {
	e := NewEngine()
	e.AddGame(1)
	e.ReceiveMessage(context.Background(), 1, []byte("x"), peer)

	log := e.DeliveryLog()
	log[0].GameID = 99
	assert.Equal(t, uint32(1), e.DeliveryLog()[0].GameID)

	e.ClearDeliveryLog()
	assert.Empty(t, e.DeliveryLog())
}

func TestRadioDeliversInOrder(t *testing.T) {
	n := NewRadioNetwork()
	a, b := n.Radio("+1000"), n.Radio("+2000")

	var mu sync.Mutex
	var got []string
	b.Listen(func(from string, data []byte) {
		mu.Lock()
		defer mu.Unlock()
		assert.Equal(t, "+1000", from)
		got = append(got, string(data))
	})

	for _, m := range []string{"one", "two", "three"} {
		require.NoError(t, a.SendData(context.Background(), "+2000", []byte(m)))
	}
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 3
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"one", "two", "three"}, got)
	assert.Equal(t, 3, n.Sent())
}

func TestRadioOffline(t *testing.T) {
	n := NewRadioNetwork()
	a := n.Radio("+1000")
	n.Radio("+2000")

	n.SetOffline("+2000", true)
	assert.ErrorIs(t, a.SendData(context.Background(), "+2000", []byte("x")), ErrOffline)
	assert.ErrorIs(t, a.SendData(context.Background(), "+3000", []byte("x")), ErrOffline)

	n.SetOffline("+2000", false)
	assert.NoError(t, a.SendData(context.Background(), "+2000", []byte("x")))
}
