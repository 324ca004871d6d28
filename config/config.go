// Package config loads the game link's settings from a YAML file and
// GAMELINK_* environment variables.
//
// Loading starts from Default, overlays the file if one is given, then
// applies environment overrides. Overrides that fail to parse or fall
// outside their bounds are logged and ignored; Validate then rejects any
// configuration the transports cannot run with.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Bounds enforced by Validate and environment overrides.
const (
	MinResendInterval = 100 * time.Millisecond
	MaxResendInterval = time.Hour
	MinMaxSendFail    = 1
	MaxMaxSendFail    = 100
	MinQueueSize      = 1
	MaxQueueSize      = 100000
	MinTimeout        = 100 * time.Millisecond
	MaxTimeout        = 10 * time.Minute
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid configuration")

// Config is the complete configuration.
type Config struct {
	Protocol   ProtocolConfig   `yaml:"protocol"`
	Delivery   DeliveryConfig   `yaml:"delivery"`
	BT         BTConfig         `yaml:"bt"`
	SMS        SMSConfig        `yaml:"sms"`
	MQTT       MQTTConfig       `yaml:"mqtt"`
	WiFiDirect WiFiDirectConfig `yaml:"wifidirect"`
	Store      StoreConfig      `yaml:"store"`
	Logging    LoggingConfig    `yaml:"logging"`
	Metrics    MetricsConfig    `yaml:"metrics"`
}

// ProtocolConfig selects the wire protocol version.
type ProtocolConfig struct {
	Version uint8 `yaml:"version"`
}

// DeliveryConfig tunes every transport's worker.
type DeliveryConfig struct {
	ResendInterval time.Duration `yaml:"resend_interval"`
	MaxSendFail    int           `yaml:"max_send_fail"`
	QueueSize      int           `yaml:"queue_size"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	PingTimeout    time.Duration `yaml:"ping_timeout"`
}

// BTConfig configures Bluetooth RFCOMM.
type BTConfig struct {
	Enabled bool   `yaml:"enabled"`
	Channel uint8  `yaml:"channel"`
	Adapter string `yaml:"adapter"`
}

// SMSConfig configures data SMS.
type SMSConfig struct {
	Enabled     bool          `yaml:"enabled"`
	Phone       string        `yaml:"phone"`
	Port        int           `yaml:"port"`
	CombineWait time.Duration `yaml:"combine_wait"`
	RateCount   int           `yaml:"rate_count"`
	RatePeriod  time.Duration `yaml:"rate_period"`
	RateBurst   int           `yaml:"rate_burst"`
}

// MQTTConfig configures the broker connection.
type MQTTConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	// DevID overrides the id derived from SeedFile.
	DevID      string        `yaml:"devid"`
	SeedFile   string        `yaml:"seed_file"`
	QoS        byte          `yaml:"qos"`
	MinBackoff time.Duration `yaml:"min_backoff"`
	MaxBackoff time.Duration `yaml:"max_backoff"`
}

// WiFiDirectConfig configures the WiFi-Direct group link.
type WiFiDirectConfig struct {
	Enabled    bool   `yaml:"enabled"`
	MAC        string `yaml:"mac"`
	Name       string `yaml:"name"`
	Port       int    `yaml:"port"`
	GroupOwner string `yaml:"group_owner"`
	Flavor     string `yaml:"flavor"`
	Discovery  bool   `yaml:"discovery"`
}

// StoreConfig locates the SQLite database. An empty Path keeps address
// books in memory.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// LoggingConfig configures logrus.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig configures the Prometheus endpoint. An empty Addr
// disables it.
type MetricsConfig struct {
	Addr string `yaml:"addr"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Protocol: ProtocolConfig{Version: 1},
		Delivery: DeliveryConfig{
			ResendInterval: 5 * time.Second,
			MaxSendFail:    3,
			QueueSize:      64,
			ConnectTimeout: 10 * time.Second,
			PingTimeout:    5 * time.Second,
		},
		BT: BTConfig{Channel: 1},
		SMS: SMSConfig{
			Port:        3344,
			CombineWait: 5 * time.Second,
			RateCount:   30,
			RatePeriod:  30 * time.Minute,
			RateBurst:   5,
		},
		MQTT: MQTTConfig{
			Host:       "localhost",
			Port:       1883,
			QoS:        2,
			MinBackoff: 5 * time.Second,
			MaxBackoff: time.Hour,
		},
		WiFiDirect: WiFiDirectConfig{Port: 5432, Flavor: "gamelink", Discovery: true},
		Logging:    LoggingConfig{Level: "info", Format: "text"},
	}
}

// Load builds the configuration from path, which may be empty, and the
// environment.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}
	applyEnvironmentOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports the first setting the transports cannot run with.
func (c *Config) Validate() error {
	d := c.Delivery
	switch {
	case c.Protocol.Version == 0:
		return fmt.Errorf("%w: protocol.version must be positive", ErrInvalid)
	case d.ResendInterval < MinResendInterval || d.ResendInterval > MaxResendInterval:
		return fmt.Errorf("%w: delivery.resend_interval %s outside [%s, %s]", ErrInvalid, d.ResendInterval, MinResendInterval, MaxResendInterval)
	case d.MaxSendFail < MinMaxSendFail || d.MaxSendFail > MaxMaxSendFail:
		return fmt.Errorf("%w: delivery.max_send_fail %d outside [%d, %d]", ErrInvalid, d.MaxSendFail, MinMaxSendFail, MaxMaxSendFail)
	case d.QueueSize < MinQueueSize || d.QueueSize > MaxQueueSize:
		return fmt.Errorf("%w: delivery.queue_size %d outside [%d, %d]", ErrInvalid, d.QueueSize, MinQueueSize, MaxQueueSize)
	case d.ConnectTimeout < MinTimeout || d.ConnectTimeout > MaxTimeout:
		return fmt.Errorf("%w: delivery.connect_timeout %s outside [%s, %s]", ErrInvalid, d.ConnectTimeout, MinTimeout, MaxTimeout)
	case d.PingTimeout < MinTimeout || d.PingTimeout > MaxTimeout:
		return fmt.Errorf("%w: delivery.ping_timeout %s outside [%s, %s]", ErrInvalid, d.PingTimeout, MinTimeout, MaxTimeout)
	}

	if c.BT.Enabled && (c.BT.Channel < 1 || c.BT.Channel > 30) {
		return fmt.Errorf("%w: bt.channel %d outside [1, 30]", ErrInvalid, c.BT.Channel)
	}
	if c.SMS.Enabled {
		if err := validPort("sms.port", c.SMS.Port); err != nil {
			return err
		}
		if c.SMS.RateCount > 0 && c.SMS.RatePeriod <= 0 {
			return fmt.Errorf("%w: sms.rate_period must be positive", ErrInvalid)
		}
	}
	if c.MQTT.Enabled {
		if c.MQTT.Host == "" {
			return fmt.Errorf("%w: mqtt.host is required", ErrInvalid)
		}
		if err := validPort("mqtt.port", c.MQTT.Port); err != nil {
			return err
		}
		if c.MQTT.QoS > 2 {
			return fmt.Errorf("%w: mqtt.qos %d outside [0, 2]", ErrInvalid, c.MQTT.QoS)
		}
		if c.MQTT.MinBackoff <= 0 || c.MQTT.MaxBackoff < c.MQTT.MinBackoff {
			return fmt.Errorf("%w: mqtt backoff must satisfy 0 < min_backoff <= max_backoff", ErrInvalid)
		}
		if c.MQTT.DevID == "" && c.MQTT.SeedFile == "" {
			return fmt.Errorf("%w: mqtt needs devid or seed_file", ErrInvalid)
		}
	}
	if c.WiFiDirect.Enabled {
		if c.WiFiDirect.MAC == "" {
			return fmt.Errorf("%w: wifidirect.mac is required", ErrInvalid)
		}
		if err := validPort("wifidirect.port", c.WiFiDirect.Port); err != nil {
			return err
		}
	}

	if _, err := logrus.ParseLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("%w: logging.level: %v", ErrInvalid, err)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "", "text", "json":
	default:
		return fmt.Errorf("%w: logging.format must be text or json", ErrInvalid)
	}
	return nil
}

func validPort(field string, port int) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("%w: %s %d outside [1, 65535]", ErrInvalid, field, port)
	}
	return nil
}

// ConfigureLogging applies the logging section to the standard logrus
// logger.
func (c *Config) ConfigureLogging() {
	if level, err := logrus.ParseLevel(c.Logging.Level); err == nil {
		logrus.SetLevel(level)
	}
	if strings.EqualFold(c.Logging.Format, "json") {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
}
