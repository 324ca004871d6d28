package mqtt

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
)

var errRefused = errors.New("connection refused")

type fakeToken struct {
	err  error
	done chan struct{}
}

func doneToken(err error) *fakeToken {
	t := &fakeToken{err: err, done: make(chan struct{})}
	close(t.done)
	return t
}

func (t *fakeToken) Wait() bool                     { return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t *fakeToken) Done() <-chan struct{}          { return t.done }
func (t *fakeToken) Error() error                   { return t.err }

type fakeMessage struct {
	topic   string
	payload []byte
}

func (m fakeMessage) Duplicate() bool   { return false }
func (m fakeMessage) Qos() byte         { return DefaultQoS }
func (m fakeMessage) Retained() bool    { return false }
func (m fakeMessage) Topic() string     { return m.topic }
func (m fakeMessage) MessageID() uint16 { return 0 }
func (m fakeMessage) Payload() []byte   { return m.payload }
func (m fakeMessage) Ack()              {}

// fakeBroker routes publishes to subscribed fake clients in memory.
type fakeBroker struct {
	mu        sync.Mutex
	subs      map[string]paho.MessageHandler
	clients   map[string]*fakeClient
	refuse    bool
	published []fakeMessage
	built     atomic.Int32
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{
		subs:    make(map[string]paho.MessageHandler),
		clients: make(map[string]*fakeClient),
	}
}

func (b *fakeBroker) factory(cfg ClientConfig) Client {
	b.built.Add(1)
	c := &fakeClient{broker: b, cfg: cfg}
	b.mu.Lock()
	b.clients[cfg.ClientID] = c
	b.mu.Unlock()
	return c
}

func (b *fakeBroker) setRefuse(refuse bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.refuse = refuse
}

func (b *fakeBroker) refusing() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.refuse
}

// drop severs clientID's connection as a network failure would.
func (b *fakeBroker) drop(clientID string) {
	b.mu.Lock()
	c := b.clients[clientID]
	b.mu.Unlock()
	if c == nil {
		return
	}
	c.connected.Store(false)
	if c.cfg.OnLost != nil {
		c.cfg.OnLost(errors.New("connection reset"))
	}
}

func (b *fakeBroker) publishedTo(topic string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, m := range b.published {
		if m.topic == topic {
			n++
		}
	}
	return n
}

type fakeClient struct {
	broker       *fakeBroker
	cfg          ClientConfig
	connected    atomic.Bool
	disconnected atomic.Bool
}

func (c *fakeClient) Connect() paho.Token {
	c.broker.mu.Lock()
	refuse := c.broker.refuse
	c.broker.mu.Unlock()
	if refuse {
		return doneToken(errRefused)
	}
	c.connected.Store(true)
	return doneToken(nil)
}

func (c *fakeClient) IsConnected() bool { return c.connected.Load() }

func (c *fakeClient) Publish(topic string, _ byte, _ bool, payload interface{}) paho.Token {
	if !c.connected.Load() {
		return doneToken(errors.New("not connected"))
	}
	data, _ := payload.([]byte)
	m := fakeMessage{topic: topic, payload: data}

	c.broker.mu.Lock()
	c.broker.published = append(c.broker.published, m)
	handler := c.broker.subs[topic]
	c.broker.mu.Unlock()

	if handler != nil {
		handler(nil, m)
	}
	return doneToken(nil)
}

func (c *fakeClient) Subscribe(topic string, _ byte, callback paho.MessageHandler) paho.Token {
	c.broker.mu.Lock()
	c.broker.subs[topic] = callback
	c.broker.mu.Unlock()
	return doneToken(nil)
}

func (c *fakeClient) Unsubscribe(topics ...string) paho.Token {
	c.broker.mu.Lock()
	for _, t := range topics {
		delete(c.broker.subs, t)
	}
	c.broker.mu.Unlock()
	return doneToken(nil)
}

func (c *fakeClient) Disconnect(uint) {
	c.connected.Store(false)
	c.disconnected.Store(true)
}
