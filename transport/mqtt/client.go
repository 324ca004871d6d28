package mqtt

import (
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
)

// Client is the subset of the paho client the transport uses.
type Client interface {
	Connect() paho.Token
	IsConnected() bool
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
	Subscribe(topic string, qos byte, callback paho.MessageHandler) paho.Token
	Unsubscribe(topics ...string) paho.Token
	Disconnect(quiesce uint)
}

// ClientConfig is what a ClientFactory needs to build a client.
type ClientConfig struct {
	Broker    string
	ClientID  string
	Username  string
	Password  string
	KeepAlive time.Duration
	// OnLost is called when an established connection drops.
	OnLost func(err error)
}

// ClientFactory builds a broker client.
type ClientFactory func(cfg ClientConfig) Client

// NewPahoClient builds a paho client with a persistent session. Automatic
// reconnection is left off; the transport's supervisor replaces dead
// connections itself.
func NewPahoClient(cfg ClientConfig) Client {
	opts := paho.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetCleanSession(false).
		SetAutoReconnect(false).
		SetConnectRetry(false).
		SetOrderMatters(true)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username).SetPassword(cfg.Password)
	}
	if cfg.KeepAlive > 0 {
		opts.SetKeepAlive(cfg.KeepAlive)
	}
	if cfg.OnLost != nil {
		onLost := cfg.OnLost
		opts.SetConnectionLostHandler(func(_ paho.Client, err error) { onLost(err) })
	}
	return paho.NewClient(opts)
}
