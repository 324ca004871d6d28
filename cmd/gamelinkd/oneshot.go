package main

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/opd-ai/gamelink"
	"github.com/opd-ai/gamelink/config"
	"github.com/opd-ai/gamelink/event"
	"github.com/opd-ai/gamelink/factory"
	"github.com/opd-ai/gamelink/invite"
	"github.com/opd-ai/gamelink/simulation"
	"github.com/opd-ai/gamelink/transport"
	"github.com/spf13/cobra"
)

// Flags shared by the one-shot commands.
var (
	kindName string
	addr     string
	peerName string
	gameStr  string
	timeout  time.Duration

	dataHex string
	text    string

	nliJSON string
	nliURI  string
)

// ErrNotDelivered is returned when the request ended in anything but
// success.
var ErrNotDelivered = errors.New("request not delivered")

var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Send one game payload and wait for the peer's answer",
	RunE: func(cmd *cobra.Command, args []string) error {
		gameID, err := parseGameID(gameStr)
		if err != nil {
			return err
		}
		payload, err := parsePayload(dataHex, text)
		if err != nil {
			return err
		}
		return oneShot(cmd, gameID, func(d *gamelink.Dispatcher, kind transport.Kind, peer gamelink.Peer) error {
			return d.EnqueueSend(kind, gameID, peer, payload)
		}, sendOutcome)
	},
}

var inviteCmd = &cobra.Command{
	Use:   "invite",
	Short: "Send an invitation and wait for the invitee's answer",
	RunE: func(cmd *cobra.Command, args []string) error {
		inv, err := parseInvitation(nliJSON, nliURI)
		if err != nil {
			return err
		}
		return oneShot(cmd, 0, func(d *gamelink.Dispatcher, kind transport.Kind, peer gamelink.Peer) error {
			return d.EnqueueInvite(kind, peer, inv)
		}, inviteOutcome)
	},
}

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Check that a peer is reachable and, with --game, still has the game",
	RunE: func(cmd *cobra.Command, args []string) error {
		var gameID uint32
		if gameStr != "" {
			id, err := parseGameID(gameStr)
			if err != nil {
				return err
			}
			gameID = id
		}
		return oneShot(cmd, gameID, func(d *gamelink.Dispatcher, kind transport.Kind, peer gamelink.Peer) error {
			return d.EnqueuePing(kind, peer, gameID)
		}, pingOutcome)
	},
}

func init() {
	for _, c := range []*cobra.Command{sendCmd, inviteCmd, pingCmd} {
		c.Flags().StringVar(&kindName, "transport", "", "bt, sms, mqtt or wifidirect")
		c.Flags().StringVar(&addr, "addr", "", "peer address: MAC, phone number or device id")
		c.Flags().StringVar(&peerName, "name", "", "peer name, used when the address is missing or a placeholder")
		c.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "how long to wait for an answer")
		_ = c.MarkFlagRequired("transport")
		rootCmd.AddCommand(c)
	}
	sendCmd.Flags().StringVar(&gameStr, "game", "", "game id, decimal or 0x hex")
	sendCmd.Flags().StringVar(&dataHex, "data", "", "payload as hex")
	sendCmd.Flags().StringVar(&text, "text", "", "payload as text")
	_ = sendCmd.MarkFlagRequired("game")
	sendCmd.MarkFlagsMutuallyExclusive("data", "text")

	inviteCmd.Flags().StringVar(&nliJSON, "nli", "", "invitation as JSON")
	inviteCmd.Flags().StringVar(&nliURI, "uri", "", "invitation as a launch URI")
	inviteCmd.MarkFlagsMutuallyExclusive("nli", "uri")

	pingCmd.Flags().StringVar(&gameStr, "game", "", "game id the peer should still have")
}

// outcome classifies an event: done reports whether the request is
// finished, and err is non-nil when it finished badly.
type outcome func(e event.Event) (done bool, err error)

func sendOutcome(e event.Event) (bool, error) {
	switch e.Type {
	case event.MessageAccepted:
		return true, nil
	case event.MessageNoGame, event.MessageFailout, event.MessageDropped, event.BadProto:
		return true, fmt.Errorf("%w: %s", ErrNotDelivered, e.Type)
	}
	return false, nil
}

func inviteOutcome(e event.Event) (bool, error) {
	switch e.Type {
	case event.NewGameSuccess, event.NewGameDupRejected:
		return true, nil
	case event.NewGameFailure, event.MessageFailout, event.BadProto:
		return true, fmt.Errorf("%w: %s", ErrNotDelivered, e.Type)
	}
	return false, nil
}

func pingOutcome(e event.Event) (bool, error) {
	switch e.Type {
	case event.HostPonged:
		return true, nil
	case event.MessageNoGame, event.BadProto:
		return true, fmt.Errorf("%w: %s", ErrNotDelivered, e.Type)
	case event.ConnectionStatus:
		// Pings are not retried, so one failed attempt ends them.
		if e.Direction == event.Outbound && !e.OK {
			return true, fmt.Errorf("%w: %v", ErrNotDelivered, e.Err)
		}
	}
	return false, nil
}

// oneShot starts only the requested transport, queues one request and
// prints events for the peer until one settles it.
func oneShot(cmd *cobra.Command, gameID uint32, enqueue func(*gamelink.Dispatcher, transport.Kind, gamelink.Peer) error, settled outcome) error {
	kind, err := transport.ParseKind(kindName)
	if err != nil {
		return err
	}
	if addr == "" && peerName == "" {
		return errors.New("--addr or --name is required")
	}

	engine := simulation.NewEngine()
	if gameID != 0 {
		engine.AddGame(gameID)
	}
	node, err := factory.Build(only(cfg, kind), nodeOptions(engine))
	if err != nil {
		return err
	}
	defer node.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
	defer cancel()

	events, unsubscribe := node.Subscribe(64)
	defer unsubscribe()
	if err := node.Start(ctx); err != nil {
		return err
	}

	peer := gamelink.Peer{Addr: addr, Name: peerName}
	if err := enqueue(node.Dispatcher, kind, peer); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: no answer within %s", ErrNotDelivered, timeout)
		case e, ok := <-events:
			if !ok {
				return transport.ErrClosed
			}
			if e.Transport != kind.String() || !samePeer(e.Dest, addr) {
				continue
			}
			fmt.Fprintln(cmd.OutOrStdout(), e)
			if done, err := settled(e); done {
				return err
			}
		}
	}
}

// only returns a copy of c with every transport but kind disabled.
func only(c *config.Config, kind transport.Kind) *config.Config {
	out := *c
	out.BT.Enabled = kind == transport.KindBT
	out.SMS.Enabled = kind == transport.KindSMS
	out.MQTT.Enabled = kind == transport.KindMQTT
	out.WiFiDirect.Enabled = kind == transport.KindWiFiDirect
	return &out
}

// samePeer matches an event's destination against the requested address.
// Requests by name alone match any destination.
func samePeer(dest, want string) bool {
	return want == "" || strings.EqualFold(dest, want)
}

func parseGameID(s string) (uint32, error) {
	id, err := strconv.ParseUint(strings.TrimSpace(s), 0, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid game id %q: %w", s, err)
	}
	return uint32(id), nil
}

func parsePayload(hexData, text string) ([]byte, error) {
	if text != "" {
		return []byte(text), nil
	}
	data, err := hex.DecodeString(strings.TrimPrefix(hexData, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid --data: %w", err)
	}
	return data, nil
}

func parseInvitation(jsonText, uri string) (*invite.Invitation, error) {
	switch {
	case jsonText != "":
		return invite.Parse([]byte(jsonText))
	case uri != "":
		return invite.ParseURI(uri)
	}
	return nil, errors.New("--nli or --uri is required")
}
