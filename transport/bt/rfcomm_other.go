//go:build !linux

package bt

import (
	"context"
	"errors"
	"net"
)

func dialRFCOMM(context.Context, string, uint8) (net.Conn, error) {
	return nil, errors.ErrUnsupported
}

func listenRFCOMM(uint8) (net.Listener, error) {
	return nil, errors.ErrUnsupported
}
