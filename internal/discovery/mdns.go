package discovery

import (
	"context"
	"fmt"
	"net"
	"strconv"

	"github.com/betamos/zeroconf"
)

const (
	ServiceType = "_meshproxy._udp"
	Domain      = "local."
	DefaultPort = 6121
)

// Bridge is a bridge found on the local network
type Bridge struct {
	Name string
	Addr string // host:port, ready for transport.DialQUIC
	Port int
}

// Discovery wraps one zeroconf client: either advertising a bridge or
// browsing for bridges
type Discovery struct {
	client *zeroconf.Client
}

// Advertise publishes a bridge named nodeName listening on port
func Advertise(nodeName string, port int) (*Discovery, error) {
	client, err := zeroconf.New().
		Publish(zeroconf.NewService(zeroconf.NewType(ServiceType), nodeName, servicePort(port))).
		Open()
	if err != nil {
		return nil, fmt.Errorf("zeroconf: %w", err)
	}
	return &Discovery{client: client}, nil
}

// Browse calls onBridge for every bridge seen on the local network
func Browse(onBridge func(Bridge)) (*Discovery, error) {
	client, err := zeroconf.New().
		Browse(func(e zeroconf.Event) {
			if b, ok := bridgeFromEvent(e); ok && onBridge != nil {
				onBridge(b)
			}
		}, zeroconf.NewType(ServiceType)).
		Open()
	if err != nil {
		return nil, fmt.Errorf("zeroconf: %w", err)
	}
	return &Discovery{client: client}, nil
}

// FindBridge browses until the first bridge answers or ctx is done
func FindBridge(ctx context.Context) (Bridge, error) {
	found := make(chan Bridge, 1)
	d, err := Browse(func(b Bridge) {
		select {
		case found <- b:
		default:
		}
	})
	if err != nil {
		return Bridge{}, err
	}
	defer d.Close()
	select {
	case b := <-found:
		return b, nil
	case <-ctx.Done():
		return Bridge{}, fmt.Errorf("no bridge found: %w", ctx.Err())
	}
}

func bridgeFromEvent(e zeroconf.Event) (Bridge, bool) {
	var addr string
	for _, a := range e.Addrs {
		if !a.IsValid() {
			continue
		}
		candidate := net.JoinHostPort(a.String(), strconv.Itoa(int(e.Port)))
		if addr == "" || a.Is4() {
			addr = candidate
		}
		if a.Is4() {
			break
		}
	}
	if addr == "" {
		return Bridge{}, false
	}
	return Bridge{Name: e.Name, Addr: addr, Port: int(e.Port)}, true
}

func servicePort(port int) uint16 {
	if port <= 0 || port > 65535 {
		return DefaultPort
	}
	return uint16(port)
}

// Close stops discovery
func (d *Discovery) Close() error {
	if d.client != nil {
		return d.client.Close()
	}
	return nil
}

// ParseAddr splits "host:port"
func ParseAddr(s string) (host string, port int, err error) {
	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		return "", 0, err
	}
	port, err = strconv.Atoi(portStr)
	if err != nil {
		return "", 0, err
	}
	return host, port, nil
}
