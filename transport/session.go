package transport

import (
	"sync/atomic"

	"github.com/opd-ai/gamelink/event"
	"github.com/opd-ai/gamelink/metrics"
	"github.com/sirupsen/logrus"
)

// State is a transport's connection or session state.
type State int32

const (
	StateNone State = iota
	StateConnecting
	StateConnected
	StateHandshaking
	StateReady
	StateClosing
)

var stateNames = [...]string{
	StateNone:        "NONE",
	StateConnecting:  "CONNECTING",
	StateConnected:   "CONNECTED",
	StateHandshaking: "HANDSHAKING",
	StateReady:       "READY",
	StateClosing:     "CLOSING",
}

func (s State) String() string {
	if s >= 0 && int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "UNKNOWN"
}

// Session carries a transport's state and the sinks every part of the
// transport reports to. State is written only by the goroutine driving the
// session and may be read from any goroutine.
type Session struct {
	kind    Kind
	state   atomic.Int32
	bus     *event.Bus
	metrics *metrics.Metrics
}

// NewSession creates a session in StateNone. bus and m may be nil.
func NewSession(kind Kind, bus *event.Bus, m *metrics.Metrics) *Session {
	return &Session{kind: kind, bus: bus, metrics: m}
}

// Kind returns the transport kind.
func (s *Session) Kind() Kind {
	return s.kind
}

// State returns the current state.
func (s *Session) State() State {
	return State(s.state.Load())
}

// Set moves the session to state.
func (s *Session) Set(state State) {
	old := State(s.state.Swap(int32(state)))
	if old == state {
		return
	}
	s.metrics.SetState(s.kind.String(), int(state))
	logrus.WithFields(logrus.Fields{
		"function":  "Session.Set",
		"transport": s.kind.String(),
		"from":      old.String(),
		"to":        state.String(),
	}).Debug("Session state change")
}

// Emit publishes e stamped with this transport.
func (s *Session) Emit(e event.Event) {
	if s.bus == nil {
		return
	}
	e.Transport = s.kind.String()
	s.bus.Publish(e)
}

// Status publishes a connection status event.
func (s *Session) Status(dir event.Direction, ok bool, dest string, err error) {
	s.Emit(event.Event{Type: event.ConnectionStatus, Direction: dir, OK: ok, Dest: dest, Err: err})
}

// Metrics returns the session's metrics sink, possibly nil.
func (s *Session) Metrics() *metrics.Metrics {
	return s.metrics
}
