package wifidirect

import (
	"context"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"

	"github.com/grandcat/zeroconf"
	"github.com/sirupsen/logrus"
)

const (
	// ServiceType is the DNS-SD service peers advertise.
	ServiceType = "_presence._tcp"
	// InstancePrefix precedes the app flavor in the instance name.
	InstancePrefix = "srvc_"

	txtMAC  = "mac"
	txtName = "name"
)

// Peer is a device found through discovery.
type Peer struct {
	MAC      string
	Name     string
	Endpoint string
}

// Discovery advertises this device and reports others.
type Discovery interface {
	// Advertise publishes the local service until the returned closer is
	// closed.
	Advertise(mac, name string, port int) (io.Closer, error)
	// Browse reports peers until ctx is done.
	Browse(ctx context.Context, found func(Peer)) error
}

// Zeroconf discovers peers with multicast DNS.
type Zeroconf struct {
	Flavor string
	Domain string
}

func (z Zeroconf) instance() string {
	return InstancePrefix + z.Flavor
}

func (z Zeroconf) domain() string {
	if z.Domain == "" {
		return "local."
	}
	return z.Domain
}

type shutdownCloser struct {
	server *zeroconf.Server
}

func (s shutdownCloser) Close() error {
	s.server.Shutdown()
	return nil
}

// Advertise implements Discovery.
func (z Zeroconf) Advertise(mac, name string, port int) (io.Closer, error) {
	txt := []string{txtMAC + "=" + mac, txtName + "=" + name}
	server, err := zeroconf.Register(z.instance(), ServiceType, z.domain(), port, txt, nil)
	if err != nil {
		return nil, fmt.Errorf("register %s: %w", ServiceType, err)
	}
	return shutdownCloser{server: server}, nil
}

// Browse implements Discovery.
func (z Zeroconf) Browse(ctx context.Context, found func(Peer)) error {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return fmt.Errorf("mdns resolver: %w", err)
	}

	entries := make(chan *zeroconf.ServiceEntry, 16)
	if err := resolver.Browse(ctx, ServiceType, z.domain(), entries); err != nil {
		return fmt.Errorf("browse %s: %w", ServiceType, err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case entry, ok := <-entries:
			if !ok {
				return nil
			}
			if peer, ok := z.peerFromEntry(entry); ok {
				found(peer)
			}
		}
	}
}

func (z Zeroconf) peerFromEntry(entry *zeroconf.ServiceEntry) (Peer, bool) {
	if entry == nil || !strings.HasPrefix(entry.Instance, z.instance()) {
		return Peer{}, false
	}
	peer := parseTXT(entry.Text)
	if peer.MAC == "" {
		logrus.WithFields(logrus.Fields{
			"function": "Zeroconf.peerFromEntry",
			"instance": entry.Instance,
		}).Debug("Ignoring service without a mac record")
		return Peer{}, false
	}

	var ip net.IP
	if len(entry.AddrIPv4) > 0 {
		ip = entry.AddrIPv4[0]
	} else if len(entry.AddrIPv6) > 0 {
		ip = entry.AddrIPv6[0]
	}
	if ip != nil && entry.Port > 0 {
		peer.Endpoint = net.JoinHostPort(ip.String(), strconv.Itoa(entry.Port))
	}
	return peer, true
}

func parseTXT(records []string) Peer {
	var p Peer
	for _, rec := range records {
		key, value, ok := strings.Cut(rec, "=")
		if !ok {
			continue
		}
		switch key {
		case txtMAC:
			p.MAC = value
		case txtName:
			p.Name = value
		}
	}
	return p
}
