package socket

import (
	"bytes"
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/opd-ai/gamelink/event"
	"github.com/opd-ai/gamelink/invite"
	"github.com/opd-ai/gamelink/ledger"
	"github.com/opd-ai/gamelink/limits"
	"github.com/opd-ai/gamelink/protocol"
	"github.com/opd-ai/gamelink/simulation"
	"github.com/opd-ai/gamelink/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func tcpDial(ctx context.Context, addr string) (net.Conn, error) {
	var d net.Dialer
	return d.DialContext(ctx, "tcp", addr)
}

type testServer struct {
	engine *simulation.Engine
	addr   string
	events <-chan event.Event
}

func startServer(t *testing.T, framer Framer) *testServer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	bus := event.NewBus()
	events, _ := bus.Subscribe(64)
	engine := simulation.NewEngine()
	session := transport.NewSession(transport.KindWiFiDirect, bus, nil)
	recv := transport.NewReceiver(session, engine, invite.NewHandler(engine), nil, transport.ReceiverConfig{})
	l := NewListener(ln, ListenerConfig{Framer: framer, Handler: recv, IdleTimeout: time.Second}, session)

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		assert.NoError(t, l.Serve(ctx))
	}()
	t.Cleanup(func() {
		cancel()
		wg.Wait()
		bus.Close()
	})
	return &testServer{engine: engine, addr: l.Addr().String(), events: events}
}

func newTestSender(framer Framer, timeout time.Duration) *Sender {
	return NewSender(SenderConfig{Dial: tcpDial, Framer: framer, Timeout: timeout, PingTimeout: timeout},
		transport.NewSession(transport.KindWiFiDirect, nil, nil))
}

func framers() map[string]Framer {
	codec := protocol.NewCodec(protocol.DefaultVersion)
	return map[string]Framer{"binary": NewBinaryFramer(codec), "json": NewJSONFramer(codec)}
}

func TestSendMessage(t *testing.T) {
	for name, framer := range framers() {
		t.Run(name, func(t *testing.T) {
			srv := startServer(t, framer)
			srv.engine.AddGame(42)
			s := newTestSender(framer, time.Second)

			outcome, err := s.Send(context.Background(), ledger.NewItem(protocol.CmdMesgSend, 42, srv.addr, []byte("move")))
			require.NoError(t, err)
			assert.Equal(t, transport.OutcomeAccepted, outcome)
			assert.Equal(t, [][]byte{[]byte("move")}, srv.engine.Accepted(42))

			outcome, err = s.Send(context.Background(), ledger.NewItem(protocol.CmdMesgSend, 99, srv.addr, []byte("late")))
			require.NoError(t, err)
			assert.Equal(t, transport.OutcomeGameGone, outcome)
		})
	}
}

func TestSendInvitationAndPing(t *testing.T) {
	for name, framer := range framers() {
		t.Run(name, func(t *testing.T) {
			srv := startServer(t, framer)
			s := newTestSender(framer, time.Second)

			nli, err := invite.New(0xCAFE, "g", "dict", "en", 2, 1).AddWiFiDirect("aa:bb:cc:dd:ee:ff").Marshal()
			require.NoError(t, err)

			outcome, err := s.Send(context.Background(), ledger.NewItem(protocol.CmdInvite, 0xCAFE, srv.addr, nli))
			require.NoError(t, err)
			assert.Equal(t, transport.OutcomeInviteAccepted, outcome)

			outcome, err = s.Send(context.Background(), ledger.NewItem(protocol.CmdInvite, 0xCAFE, srv.addr, nli))
			require.NoError(t, err)
			assert.Equal(t, transport.OutcomeInviteDuplicate, outcome)

			outcome, err = s.Send(context.Background(), ledger.NewItem(protocol.CmdPing, 0xCAFE, srv.addr, nil))
			require.NoError(t, err)
			assert.Equal(t, transport.OutcomePonged, outcome)
		})
	}
}

func TestListenerAnswersBadVersionAndKeepsServing(t *testing.T) {
	framer := NewBinaryFramer(protocol.NewCodec(protocol.DefaultVersion))
	srv := startServer(t, framer)
	srv.engine.AddGame(1)

	conn, err := net.Dial("tcp", srv.addr)
	require.NoError(t, err)
	_, err = conn.Write([]byte{2, byte(protocol.CmdPing)})
	require.NoError(t, err)

	reply := make([]byte, 1)
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(time.Second)))
	_, err = conn.Read(reply)
	require.NoError(t, err)
	assert.Equal(t, byte(protocol.CmdBadProto), reply[0])
	conn.Close()

	s := newTestSender(framer, time.Second)
	outcome, err := s.Send(context.Background(), ledger.NewItem(protocol.CmdMesgSend, 1, srv.addr, []byte("ok")))
	require.NoError(t, err)
	assert.Equal(t, transport.OutcomeAccepted, outcome)
}

func TestIdleConnectionDoesNotBlockOtherClients(t *testing.T) {
	framer := NewBinaryFramer(protocol.NewCodec(protocol.DefaultVersion))
	srv := startServer(t, framer)
	srv.engine.AddGame(1)

	idle, err := net.Dial("tcp", srv.addr)
	require.NoError(t, err)
	defer idle.Close()

	// The send must finish well inside the listener's one second idle timeout.
	s := newTestSender(framer, 300*time.Millisecond)
	outcome, err := s.Send(context.Background(), ledger.NewItem(protocol.CmdMesgSend, 1, srv.addr, []byte("ok")))
	require.NoError(t, err)
	assert.Equal(t, transport.OutcomeAccepted, outcome)
}

func TestListenerSurvivesTruncatedFrame(t *testing.T) {
	framer := NewBinaryFramer(protocol.NewCodec(protocol.DefaultVersion))
	srv := startServer(t, framer)
	srv.engine.AddGame(1)

	conn, err := net.Dial("tcp", srv.addr)
	require.NoError(t, err)
	_, err = conn.Write([]byte{1, byte(protocol.CmdMesgSend), 0, 0})
	require.NoError(t, err)
	conn.Close()

	s := newTestSender(framer, time.Second)
	outcome, err := s.Send(context.Background(), ledger.NewItem(protocol.CmdMesgSend, 1, srv.addr, []byte("ok")))
	require.NoError(t, err)
	assert.Equal(t, transport.OutcomeAccepted, outcome)
}

func TestSendTimesOutOnSilentPeer(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			defer conn.Close()
			time.Sleep(time.Second)
		}
	}()

	s := newTestSender(NewBinaryFramer(protocol.NewCodec(protocol.DefaultVersion)), 50*time.Millisecond)
	start := time.Now()
	_, err = s.Send(context.Background(), ledger.NewItem(protocol.CmdMesgSend, 1, ln.Addr().String(), []byte("x")))
	assert.ErrorIs(t, err, transport.ErrTimeout)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}

func TestSendDialFailure(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()

	s := newTestSender(NewBinaryFramer(protocol.NewCodec(protocol.DefaultVersion)), time.Second)
	_, err = s.Send(context.Background(), ledger.NewItem(protocol.CmdPing, 0, addr, nil))
	assert.ErrorIs(t, err, transport.ErrNotConnected)

	var terr *transport.Error
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, "dial", terr.Op)
}

func TestOversizedFrameIsRejectedWithoutDialing(t *testing.T) {
	for name, framer := range framers() {
		t.Run(name, func(t *testing.T) {
			dials := 0
			s := NewSender(SenderConfig{
				Dial: func(ctx context.Context, addr string) (net.Conn, error) {
					dials++
					return tcpDial(ctx, addr)
				},
				Framer: framer,
			}, transport.NewSession(transport.KindWiFiDirect, nil, nil))

			big := bytes.Repeat([]byte("x"), limits.MaxPacketLen+1)
			assert.ErrorIs(t, framer.Fits(protocol.Frame{Cmd: protocol.CmdMesgSend, GameID: 1, Payload: big}), limits.ErrTooLarge)

			outcome, err := s.Send(context.Background(), ledger.NewItem(protocol.CmdMesgSend, 1, "127.0.0.1:1", big))
			require.NoError(t, err)
			assert.Equal(t, transport.OutcomeBadProto, outcome)
			assert.Zero(t, dials)
		})
	}
}

func TestJSONFramerRejectsOversizedLength(t *testing.T) {
	framer := NewJSONFramer(protocol.NewCodec(protocol.DefaultVersion))

	f, err := framer.ReadRequest(bytes.NewReader([]byte{0, 1, 0, 0}))
	assert.ErrorIs(t, err, protocol.ErrMalformed)
	assert.Equal(t, protocol.CmdBadProto, f.Cmd)

	_, err = framer.ReadRequest(bytes.NewReader([]byte{0, 0, 0, 10, '{'}))
	assert.ErrorIs(t, err, protocol.ErrTruncated)
}

func TestJSONFramerCarriesEnvelopeFields(t *testing.T) {
	framer := NewJSONFramer(protocol.NewCodec(protocol.DefaultVersion))
	var buf bytes.Buffer

	in := protocol.Frame{Cmd: protocol.CmdPong, GameID: 3, Src: "aa", MAC: "aa", Names: map[string]string{"bb": "Tablet"}}
	require.NoError(t, framer.WriteReply(&buf, in))
	out, err := framer.ReadReply(&buf)
	require.NoError(t, err)
	assert.Equal(t, in.Names, out.Names)
	assert.Equal(t, "aa", out.Src)
	assert.Equal(t, uint32(3), out.GameID)
}
