//go:build linux

package bt

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"golang.org/x/sys/unix"
)

func dialRFCOMM(ctx context.Context, addr string, channel uint8) (net.Conn, error) {
	bd, err := parseBDAddr(addr)
	if err != nil {
		return nil, err
	}

	fd, err := unix.Socket(unix.AF_BLUETOOTH, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, unix.BTPROTO_RFCOMM)
	if err != nil {
		return nil, os.NewSyscallError("socket", err)
	}
	err = unix.Connect(fd, &unix.SockaddrRFCOMM{Addr: bd, Channel: channel})
	if err != nil && !errors.Is(err, unix.EINPROGRESS) {
		_ = unix.Close(fd)
		return nil, os.NewSyscallError("connect", err)
	}

	f := os.NewFile(uintptr(fd), "rfcomm:"+addr)
	if err := waitConnected(ctx, f); err != nil {
		_ = f.Close()
		return nil, err
	}
	return &rfcommConn{f: f, remote: btAddr{addr: addr, channel: channel}}, nil
}

// waitConnected blocks in the runtime poller until the nonblocking
// connect completes or ctx ends.
func waitConnected(ctx context.Context, f *os.File) error {
	raw, err := f.SyscallConn()
	if err != nil {
		return err
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = f.SetWriteDeadline(deadline)
	}
	stop := context.AfterFunc(ctx, func() { _ = f.SetWriteDeadline(time.Now()) })
	defer stop()

	var connErr error
	werr := raw.Write(func(fd uintptr) bool {
		if _, err := unix.Getpeername(int(fd)); err == nil {
			return true
		} else if !errors.Is(err, unix.ENOTCONN) {
			connErr = os.NewSyscallError("getpeername", err)
			return true
		}
		soErr, err := unix.GetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_ERROR)
		if err != nil {
			connErr = os.NewSyscallError("getsockopt", err)
			return true
		}
		if soErr != 0 {
			connErr = os.NewSyscallError("connect", unix.Errno(soErr))
			return true
		}
		return false
	})
	if werr != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return werr
	}
	if connErr != nil {
		return connErr
	}
	return f.SetWriteDeadline(time.Time{})
}

func listenRFCOMM(channel uint8) (net.Listener, error) {
	fd, err := unix.Socket(unix.AF_BLUETOOTH, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, unix.BTPROTO_RFCOMM)
	if err != nil {
		return nil, os.NewSyscallError("socket", err)
	}
	if err := unix.Bind(fd, &unix.SockaddrRFCOMM{Channel: channel}); err != nil {
		_ = unix.Close(fd)
		return nil, os.NewSyscallError("bind", err)
	}
	if err := unix.Listen(fd, 4); err != nil {
		_ = unix.Close(fd)
		return nil, os.NewSyscallError("listen", err)
	}
	f := os.NewFile(uintptr(fd), fmt.Sprintf("rfcomm-listen:%d", channel))
	return &rfcommListener{f: f, addr: btAddr{channel: channel}}, nil
}

type rfcommListener struct {
	f    *os.File
	addr btAddr
}

func (l *rfcommListener) Accept() (net.Conn, error) {
	raw, err := l.f.SyscallConn()
	if err != nil {
		return nil, closedOr(err)
	}

	var nfd int
	var sa unix.Sockaddr
	var acceptErr error
	rerr := raw.Read(func(fd uintptr) bool {
		nfd, sa, acceptErr = unix.Accept4(int(fd), unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		return !errors.Is(acceptErr, unix.EAGAIN)
	})
	if rerr != nil {
		return nil, closedOr(rerr)
	}
	if acceptErr != nil {
		return nil, os.NewSyscallError("accept", acceptErr)
	}

	remote := btAddr{}
	if rc, ok := sa.(*unix.SockaddrRFCOMM); ok {
		remote = btAddr{addr: formatBDAddr(rc.Addr), channel: rc.Channel}
	}
	f := os.NewFile(uintptr(nfd), "rfcomm:"+remote.addr)
	return &rfcommConn{f: f, local: l.addr, remote: remote}, nil
}

func (l *rfcommListener) Close() error {
	return l.f.Close()
}

func (l *rfcommListener) Addr() net.Addr {
	return l.addr
}

func closedOr(err error) error {
	if errors.Is(err, os.ErrClosed) {
		return fmt.Errorf("accept: %w", net.ErrClosed)
	}
	return err
}

// rfcommConn adapts a pollable RFCOMM socket file to net.Conn.
type rfcommConn struct {
	f      *os.File
	local  btAddr
	remote btAddr
}

func (c *rfcommConn) Read(b []byte) (int, error)         { return c.f.Read(b) }
func (c *rfcommConn) Write(b []byte) (int, error)        { return c.f.Write(b) }
func (c *rfcommConn) Close() error                       { return c.f.Close() }
func (c *rfcommConn) LocalAddr() net.Addr                { return c.local }
func (c *rfcommConn) RemoteAddr() net.Addr               { return c.remote }
func (c *rfcommConn) SetDeadline(t time.Time) error      { return c.f.SetDeadline(t) }
func (c *rfcommConn) SetReadDeadline(t time.Time) error  { return c.f.SetReadDeadline(t) }
func (c *rfcommConn) SetWriteDeadline(t time.Time) error { return c.f.SetWriteDeadline(t) }
