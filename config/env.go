package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// EnvPrefix starts every environment override.
const EnvPrefix = "GAMELINK_"

func applyEnvironmentOverrides(cfg *Config) {
	envString("LOG_LEVEL", &cfg.Logging.Level)
	envString("LOG_FORMAT", &cfg.Logging.Format)
	envString("STORE_PATH", &cfg.Store.Path)
	envString("METRICS_ADDR", &cfg.Metrics.Addr)

	envDuration("RESEND_INTERVAL", &cfg.Delivery.ResendInterval, MinResendInterval, MaxResendInterval)
	envInt("MAX_SEND_FAIL", &cfg.Delivery.MaxSendFail, MinMaxSendFail, MaxMaxSendFail)
	envInt("QUEUE_SIZE", &cfg.Delivery.QueueSize, MinQueueSize, MaxQueueSize)
	envDuration("CONNECT_TIMEOUT", &cfg.Delivery.ConnectTimeout, MinTimeout, MaxTimeout)
	envDuration("PING_TIMEOUT", &cfg.Delivery.PingTimeout, MinTimeout, MaxTimeout)

	envBool("BT_ENABLED", &cfg.BT.Enabled)
	envString("BT_ADAPTER", &cfg.BT.Adapter)

	envBool("SMS_ENABLED", &cfg.SMS.Enabled)
	envString("SMS_PHONE", &cfg.SMS.Phone)
	envInt("SMS_PORT", &cfg.SMS.Port, 1, 65535)

	envBool("MQTT_ENABLED", &cfg.MQTT.Enabled)
	envString("MQTT_HOST", &cfg.MQTT.Host)
	envInt("MQTT_PORT", &cfg.MQTT.Port, 1, 65535)
	envString("MQTT_USERNAME", &cfg.MQTT.Username)
	envString("MQTT_PASSWORD", &cfg.MQTT.Password)
	envString("MQTT_DEVID", &cfg.MQTT.DevID)
	envString("MQTT_SEED_FILE", &cfg.MQTT.SeedFile)

	envBool("WIFIDIRECT_ENABLED", &cfg.WiFiDirect.Enabled)
	envString("WIFIDIRECT_MAC", &cfg.WiFiDirect.MAC)
	envString("WIFIDIRECT_NAME", &cfg.WiFiDirect.Name)
	envInt("WIFIDIRECT_PORT", &cfg.WiFiDirect.Port, 1, 65535)
	envString("WIFIDIRECT_GROUP_OWNER", &cfg.WiFiDirect.GroupOwner)
}

func envString(name string, dst *string) {
	if v, ok := os.LookupEnv(EnvPrefix + name); ok {
		*dst = strings.TrimSpace(v)
	}
}

func envBool(name string, dst *bool) {
	raw, ok := os.LookupEnv(EnvPrefix + name)
	if !ok || raw == "" {
		return
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function":    "envBool",
			"env_var":     EnvPrefix + name,
			"value":       raw,
			"error":       err.Error(),
			"using_value": *dst,
		}).Warn("Failed to parse environment override, using configured value")
		return
	}
	*dst = v
}

func envInt(name string, dst *int, min, max int) {
	raw, ok := os.LookupEnv(EnvPrefix + name)
	if !ok || raw == "" {
		return
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function":    "envInt",
			"env_var":     EnvPrefix + name,
			"value":       raw,
			"error":       err.Error(),
			"using_value": *dst,
		}).Warn("Failed to parse environment override, using configured value")
		return
	}
	if v < min || v > max {
		logrus.WithFields(logrus.Fields{
			"function":    "envInt",
			"env_var":     EnvPrefix + name,
			"value":       v,
			"min":         min,
			"max":         max,
			"using_value": *dst,
		}).Warn("Environment override out of bounds, using configured value")
		return
	}
	*dst = v
}

func envDuration(name string, dst *time.Duration, min, max time.Duration) {
	raw, ok := os.LookupEnv(EnvPrefix + name)
	if !ok || raw == "" {
		return
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function":    "envDuration",
			"env_var":     EnvPrefix + name,
			"value":       raw,
			"error":       err.Error(),
			"using_value": dst.String(),
		}).Warn("Failed to parse environment override, using configured value")
		return
	}
	if v < min || v > max {
		logrus.WithFields(logrus.Fields{
			"function":    "envDuration",
			"env_var":     EnvPrefix + name,
			"value":       v.String(),
			"min":         min.String(),
			"max":         max.String(),
			"using_value": dst.String(),
		}).Warn("Environment override out of bounds, using configured value")
		return
	}
	*dst = v
}
