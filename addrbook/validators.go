package addrbook

import (
	"net"
	"regexp"
	"strings"
)

// BogusBTAddr is the address Android reports in place of the local
// adapter's real one.
const BogusBTAddr = "02:00:00:00:00:00"

var (
	phonePattern = regexp.MustCompile(`^\+?[0-9]{3,15}$`)
	devIDPattern = regexp.MustCompile(`^[0-9A-Fa-f]{16}$`)
)

// IsMAC reports whether s is a 48-bit colon-separated hardware address.
func IsMAC(s string) bool {
	if len(s) != 17 || strings.Count(s, ":") != 5 {
		return false
	}
	_, err := net.ParseMAC(s)
	return err == nil
}

// IsPhone reports whether s looks like a dialable number.
func IsPhone(s string) bool {
	return phonePattern.MatchString(s)
}

// IsDevID reports whether s is a 16 hex digit MQTT device id.
func IsDevID(s string) bool {
	return devIDPattern.MatchString(s)
}
