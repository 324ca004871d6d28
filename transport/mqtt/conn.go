package mqtt

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/opd-ai/gamelink/transport"
	"github.com/sirupsen/logrus"
)

// connState is the broker connection's lifecycle.
type connState int

const (
	connNone connState = iota
	connConnecting
	connConnected
	connSubscribing
	connSubscribed
	connClosing
)

var connStateNames = [...]string{
	connNone:        "NONE",
	connConnecting:  "CONNECTING",
	connConnected:   "CONNECTED",
	connSubscribing: "SUBSCRIBING",
	connSubscribed:  "SUBSCRIBED",
	connClosing:     "CLOSING",
}

func (s connState) String() string {
	if s >= 0 && int(s) < len(connStateNames) {
		return connStateNames[s]
	}
	return "UNKNOWN"
}

// sessionState maps the connection lifecycle onto the shared session
// states.
func (s connState) sessionState() transport.State {
	switch s {
	case connConnecting:
		return transport.StateConnecting
	case connConnected:
		return transport.StateConnected
	case connSubscribing:
		return transport.StateHandshaking
	case connSubscribed:
		return transport.StateReady
	case connClosing:
		return transport.StateClosing
	default:
		return transport.StateNone
	}
}

// canEnter reports whether the lifecycle allows moving from s to next.
func (s connState) canEnter(next connState) bool {
	switch next {
	case connConnecting:
		return s == connNone
	case connConnected:
		return s == connConnecting
	case connSubscribing:
		return s == connConnected
	case connSubscribed:
		return s == connSubscribing
	case connClosing:
		return s != connClosing
	}
	return false
}

var errConnClosed = errors.New("connection closed")

// conn is one broker connection and its subscription.
type conn struct {
	id      uint64
	client  Client
	topic   string
	qos     byte
	handler paho.MessageHandler
	// report sees every accepted transition.
	report  func(c *conn, s connState)
	timeout time.Duration

	mu    sync.Mutex
	state connState
	ready chan struct{}
	done  chan struct{}
	err   error
}

func newConn(id uint64, client Client, topic string, qos byte, timeout time.Duration, handler paho.MessageHandler, report func(*conn, connState)) *conn {
	return &conn{
		id:      id,
		client:  client,
		topic:   topic,
		qos:     qos,
		handler: handler,
		report:  report,
		timeout: timeout,
		ready:   make(chan struct{}),
		done:    make(chan struct{}),
	}
}

func (c *conn) getState() connState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// setState applies a lifecycle transition, refusing ones the lifecycle
// does not allow.
func (c *conn) setState(next connState) bool {
	c.mu.Lock()
	prev := c.state
	ok := prev.canEnter(next)
	if ok {
		c.state = next
	}
	c.mu.Unlock()

	if !ok {
		logrus.WithFields(logrus.Fields{
			"function": "conn.setState",
			"conn":     c.id,
			"from":     prev.String(),
			"to":       next.String(),
		}).Error("Refusing MQTT state change")
		return false
	}
	if c.report != nil {
		c.report(c, next)
	}
	return true
}

// run connects and subscribes. It returns once the subscription is in
// place or the attempt failed.
func (c *conn) run() {
	defer close(c.done)

	if !c.setState(connConnecting) {
		c.fail(errConnClosed)
		return
	}
	if err := wait(c.client.Connect(), c.timeout); err != nil {
		c.fail(fmt.Errorf("connect: %w", err))
		return
	}
	if !c.setState(connConnected) || !c.setState(connSubscribing) {
		c.fail(errConnClosed)
		return
	}
	if err := wait(c.client.Subscribe(c.topic, c.qos, c.handler), c.timeout); err != nil {
		c.fail(fmt.Errorf("subscribe %s: %w", c.topic, err))
		return
	}
	if !c.setState(connSubscribed) {
		c.fail(errConnClosed)
		return
	}
	close(c.ready)

	logrus.WithFields(logrus.Fields{
		"function": "conn.run",
		"conn":     c.id,
		"topic":    c.topic,
	}).Info("MQTT connection ready")
}

func (c *conn) fail(err error) {
	c.mu.Lock()
	c.err = err
	c.mu.Unlock()
	logrus.WithFields(logrus.Fields{
		"function": "conn.fail",
		"conn":     c.id,
		"error":    err.Error(),
	}).Warn("MQTT connection attempt failed")
}

// waitReady blocks until the connection is subscribed, the attempt fails,
// ctx ends or d elapses.
func (c *conn) waitReady(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-c.ready:
		return nil
	default:
	}
	select {
	case <-c.ready:
		return nil
	case <-c.done:
		select {
		case <-c.ready:
			return nil
		default:
		}
		c.mu.Lock()
		err := c.err
		c.mu.Unlock()
		if err == nil {
			err = errConnClosed
		}
		return err
	case <-timer.C:
		return transport.ErrTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

// failed reports whether the connection attempt ended without a
// subscription.
func (c *conn) failed() bool {
	select {
	case <-c.ready:
		return false
	default:
	}
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// isConnected reports whether the connection is subscribed and the
// client still considers itself online.
func (c *conn) isConnected() bool {
	return c.getState() == connSubscribed && c.client.IsConnected()
}

// close tears the connection down. Each step is attempted even if an
// earlier one fails. A closed conn stays in connClosing for good.
func (c *conn) close() {
	if c.getState() == connClosing || !c.setState(connClosing) {
		return
	}

	if err := wait(c.client.Unsubscribe(c.topic), c.timeout); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "conn.close",
			"conn":     c.id,
			"error":    err.Error(),
		}).Debug("Unsubscribe failed")
	}
	c.client.Disconnect(250)
}

func wait(tok paho.Token, d time.Duration) error {
	if !tok.WaitTimeout(d) {
		return transport.ErrTimeout
	}
	return tok.Error()
}
