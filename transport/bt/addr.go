package bt

import (
	"fmt"
	"strconv"
	"strings"
)

// btAddr is an RFCOMM endpoint.
type btAddr struct {
	addr    string
	channel uint8
}

func (a btAddr) Network() string { return "rfcomm" }

func (a btAddr) String() string {
	if a.addr == "" {
		return fmt.Sprintf("*:%d", a.channel)
	}
	return a.addr
}

// parseBDAddr converts "AA:BB:CC:DD:EE:FF" to the little-endian byte
// order the kernel expects.
func parseBDAddr(s string) ([6]uint8, error) {
	var bd [6]uint8
	parts := strings.Split(s, ":")
	if len(parts) != 6 {
		return bd, fmt.Errorf("invalid bluetooth address %q", s)
	}
	for i, p := range parts {
		v, err := strconv.ParseUint(p, 16, 8)
		if err != nil || len(p) != 2 {
			return bd, fmt.Errorf("invalid bluetooth address %q", s)
		}
		bd[5-i] = uint8(v)
	}
	return bd, nil
}

func formatBDAddr(bd [6]uint8) string {
	return fmt.Sprintf("%02X:%02X:%02X:%02X:%02X:%02X", bd[5], bd[4], bd[3], bd[2], bd[1], bd[0])
}
