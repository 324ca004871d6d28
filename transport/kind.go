package transport

import (
	"fmt"
	"strings"
)

// Kind names one physical transport.
type Kind uint8

const (
	KindBT Kind = iota
	KindSMS
	KindMQTT
	KindWiFiDirect
)

var kindNames = [...]string{
	KindBT:         "bt",
	KindSMS:        "sms",
	KindMQTT:       "mqtt",
	KindWiFiDirect: "wifidirect",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Kinds lists every transport kind.
func Kinds() []Kind {
	return []Kind{KindBT, KindSMS, KindMQTT, KindWiFiDirect}
}

// ParseKind maps a transport name to its Kind. "p2p" is accepted for
// WiFi-Direct.
func ParseKind(name string) (Kind, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	if n == "p2p" {
		return KindWiFiDirect, nil
	}
	for k, s := range kindNames {
		if s == n {
			return Kind(k), nil
		}
	}
	return 0, fmt.Errorf("unknown transport %q", name)
}
