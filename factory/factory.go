package factory

import (
	"errors"
	"fmt"
	"net"
	"strconv"

	"github.com/opd-ai/gamelink"
	"github.com/opd-ai/gamelink/config"
	"github.com/opd-ai/gamelink/crypto"
	"github.com/opd-ai/gamelink/interfaces"
	"github.com/opd-ai/gamelink/metrics"
	"github.com/opd-ai/gamelink/protocol"
	"github.com/opd-ai/gamelink/simulation"
	"github.com/opd-ai/gamelink/store"
	"github.com/opd-ai/gamelink/transport"
	"github.com/opd-ai/gamelink/transport/bt"
	"github.com/opd-ai/gamelink/transport/mqtt"
	"github.com/opd-ai/gamelink/transport/sms"
	"github.com/opd-ai/gamelink/transport/wifidirect"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

// RadioFactory opens the platform's SMS modem for phone, listening on the
// data port.
type RadioFactory func(phone string, port int) (sms.Radio, error)

// Options supplies what a configuration file cannot.
type Options struct {
	// Engine is the game layer. Required.
	Engine interfaces.GameEngine
	// Radio opens the SMS modem. Without it, and without Network, an
	// enabled SMS transport fails setup and is disabled.
	Radio RadioFactory
	// Network simulates SMS in-process. It takes precedence over Radio.
	Network *simulation.RadioNetwork
	// MQTTClient overrides the paho client factory.
	MQTTClient mqtt.ClientFactory
	// BTNetwork overrides kernel RFCOMM sockets.
	BTNetwork bt.Network
}

// Node is a dispatcher together with the resources Build opened for it.
type Node struct {
	*gamelink.Dispatcher

	// Store is nil when the configuration keeps state in memory.
	Store *store.Store
	// Registry holds the collectors; nil when metrics are disabled.
	Registry *prometheus.Registry
	// DevID is the MQTT device id, empty when MQTT is disabled.
	DevID string
}

// Build creates a Node for cfg with every enabled transport registered.
func Build(cfg *config.Config, opts Options) (*Node, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if opts.Engine == nil {
		return nil, gamelink.ErrNoEngine
	}

	n := &Node{}
	var m *metrics.Metrics
	if cfg.Metrics.Addr != "" {
		n.Registry = prometheus.NewRegistry()
		m = metrics.New(n.Registry)
	}

	if cfg.Store.Path != "" {
		st, err := store.Open(cfg.Store.Path)
		if err != nil {
			return nil, err
		}
		n.Store = st
	}

	if cfg.MQTT.Enabled {
		devID, err := deviceID(cfg.MQTT)
		if err != nil {
			n.closeStore()
			return nil, err
		}
		n.DevID = devID
	}

	dopts := gamelink.Options{
		Engine:  opts.Engine,
		Metrics: m,
		Codec:   protocol.NewCodec(cfg.Protocol.Version),
	}
	if n.Store != nil {
		dopts.Peers = n.Store
	}
	d, err := gamelink.New(dopts)
	if err != nil {
		n.closeStore()
		return nil, err
	}
	n.Dispatcher = d

	var counters sms.Counters
	if n.Store != nil {
		counters = n.Store
	}
	builders := Builders(cfg, opts, counters, n.DevID)
	for _, build := range builders {
		if err := d.Register(build); err != nil {
			_ = n.Close()
			return nil, err
		}
	}

	logrus.WithFields(logrus.Fields{
		"function":   "factory.Build",
		"transports": len(builders),
		"store":      cfg.Store.Path,
		"metrics":    cfg.Metrics.Addr,
		"simulated":  opts.Network != nil,
	}).Info("Built game link node")
	return n, nil
}

// Builders returns one LinkBuilder per enabled transport. counters may be
// nil; devID is only used when MQTT is enabled.
func Builders(cfg *config.Config, opts Options, counters sms.Counters, devID string) []gamelink.LinkBuilder {
	worker := transport.WorkerConfig{
		QueueSize:      cfg.Delivery.QueueSize,
		ResendInterval: cfg.Delivery.ResendInterval,
		MaxSendFail:    cfg.Delivery.MaxSendFail,
	}

	var builders []gamelink.LinkBuilder
	if cfg.BT.Enabled {
		btCfg := bt.Config{
			Channel:     cfg.BT.Channel,
			Timeout:     cfg.Delivery.ConnectTimeout,
			PingTimeout: cfg.Delivery.PingTimeout,
			Worker:      worker,
			Adapter:     cfg.BT.Adapter,
			Network:     opts.BTNetwork,
		}
		builders = append(builders, func(deps transport.Deps) transport.Link {
			return bt.New(btCfg, deps)
		})
	}
	if cfg.SMS.Enabled {
		smsCfg := sms.Config{
			Phone:       cfg.SMS.Phone,
			Radio:       smsRadio(cfg.SMS, opts),
			CombineWait: cfg.SMS.CombineWait,
			RateCount:   cfg.SMS.RateCount,
			RatePeriod:  cfg.SMS.RatePeriod,
			RateBurst:   cfg.SMS.RateBurst,
			Worker:      worker,
			Counters:    counters,
		}
		builders = append(builders, func(deps transport.Deps) transport.Link {
			return sms.New(smsCfg, deps)
		})
	}
	if cfg.MQTT.Enabled {
		mqttCfg := mqtt.Config{
			Broker:      net.JoinHostPort(cfg.MQTT.Host, strconv.Itoa(cfg.MQTT.Port)),
			Username:    cfg.MQTT.Username,
			Password:    cfg.MQTT.Password,
			DevID:       devID,
			QoS:         cfg.MQTT.QoS,
			ConnectWait: cfg.Delivery.ConnectTimeout,
			MinBackoff:  cfg.MQTT.MinBackoff,
			MaxBackoff:  cfg.MQTT.MaxBackoff,
			Worker:      worker,
			NewClient:   opts.MQTTClient,
		}
		builders = append(builders, func(deps transport.Deps) transport.Link {
			return mqtt.New(mqttCfg, deps)
		})
	}
	if cfg.WiFiDirect.Enabled {
		wdCfg := wifidirect.Config{
			MAC:              cfg.WiFiDirect.MAC,
			Name:             cfg.WiFiDirect.Name,
			Flavor:           cfg.WiFiDirect.Flavor,
			ListenAddr:       ":" + strconv.Itoa(cfg.WiFiDirect.Port),
			GroupOwner:       cfg.WiFiDirect.GroupOwner,
			Timeout:          cfg.Delivery.ConnectTimeout,
			PingTimeout:      cfg.Delivery.PingTimeout,
			Worker:           worker,
			DisableDiscovery: !cfg.WiFiDirect.Discovery,
		}
		builders = append(builders, func(deps transport.Deps) transport.Link {
			return wifidirect.New(wdCfg, deps)
		})
	}
	return builders
}

// smsRadio picks the simulated or platform radio. A nil result makes the
// transport fail setup with sms.ErrNoRadio.
func smsRadio(cfg config.SMSConfig, opts Options) sms.Radio {
	if opts.Network != nil {
		return opts.Network.Radio(cfg.Phone)
	}
	if opts.Radio == nil {
		return nil
	}
	radio, err := opts.Radio(cfg.Phone, cfg.Port)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "factory.smsRadio",
			"phone":    cfg.Phone,
			"port":     cfg.Port,
			"error":    err.Error(),
		}).Error("Failed to open SMS radio")
		return nil
	}
	return radio
}

// deviceID returns the configured id or derives one from the seed file.
func deviceID(cfg config.MQTTConfig) (string, error) {
	if cfg.DevID != "" {
		return cfg.DevID, nil
	}
	id, err := crypto.DeviceID(cfg.SeedFile)
	if err != nil {
		return "", fmt.Errorf("failed to derive MQTT device id: %w", err)
	}
	return id, nil
}

func (n *Node) closeStore() error {
	if n.Store == nil {
		return nil
	}
	return n.Store.Close()
}

// Close stops the dispatcher and then closes the store, so address books
// get their final flush.
func (n *Node) Close() error {
	var errs []error
	if n.Dispatcher != nil {
		errs = append(errs, n.Dispatcher.Close())
	}
	errs = append(errs, n.closeStore())
	return errors.Join(errs...)
}
