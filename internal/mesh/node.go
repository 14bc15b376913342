package mesh

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/SWAI-Ltd/meshproxy/internal/discovery"
	"github.com/SWAI-Ltd/meshproxy/internal/proto"
	"github.com/SWAI-Ltd/meshproxy/internal/transport"
)

// DefaultDiscoverTimeout bounds the mDNS search for a bridge.
const DefaultDiscoverTimeout = 10 * time.Second

// Node is the device end of the mesh: one link to one bridge
type Node struct {
	conn     *transport.Conn
	nodeID   string
	addr     string
	onPacket func(*proto.Packet)
	done     chan struct{}
	log      *slog.Logger
}

// Config for Dial
type Config struct {
	NodeID string
	// BridgeAddr is the bridge's link address. When empty and Discover is
	// set, the first bridge found over mDNS is used.
	BridgeAddr string
	Discover   bool
	// OnPacket receives every proxy packet from the bridge.
	OnPacket func(*proto.Packet)
	Logger   *slog.Logger
}

// Dial links this device to a bridge and announces NodeID
func Dial(ctx context.Context, cfg Config) (*Node, error) {
	if cfg.NodeID == "" {
		return nil, errors.New("mesh: node id required")
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	addr := cfg.BridgeAddr
	if addr == "" {
		if !cfg.Discover {
			return nil, errors.New("mesh: no bridge address and discovery disabled")
		}
		dctx, cancel := context.WithTimeout(ctx, DefaultDiscoverTimeout)
		b, err := discovery.FindBridge(dctx)
		cancel()
		if err != nil {
			return nil, err
		}
		log.Info("bridge discovered", "name", b.Name, "addr", b.Addr)
		addr = b.Addr
	}

	conn, err := transport.DialQUIC(ctx, addr)
	if err != nil {
		return nil, fmt.Errorf("mesh: dial bridge %s: %w", addr, err)
	}
	if err := conn.SendPacket(proto.NewAnnounce(cfg.NodeID)); err != nil {
		conn.Close()
		return nil, fmt.Errorf("mesh: announce: %w", err)
	}
	n := &Node{
		conn:     conn,
		nodeID:   cfg.NodeID,
		addr:     addr,
		onPacket: cfg.OnPacket,
		done:     make(chan struct{}),
		log:      log.With("component", "mesh-node"),
	}
	go n.recvLoop()
	return n, nil
}

func (n *Node) recvLoop() {
	defer close(n.done)
	for {
		pkt := new(proto.Packet)
		if err := n.conn.RecvPacket(pkt); err != nil {
			n.log.Debug("recvLoop: recv ended", "err", err)
			return
		}
		if pkt.Type != proto.PacketTypeNostrRelay {
			continue
		}
		if n.onPacket != nil {
			n.onPacket(pkt)
		}
	}
}

// SendPacket sends pkt to the bridge
func (n *Node) SendPacket(pkt *proto.Packet) error {
	return n.conn.SendPacket(pkt)
}

// BridgeAddr returns the address of the linked bridge
func (n *Node) BridgeAddr() string {
	return n.addr
}

// Done is closed when the link to the bridge ends
func (n *Node) Done() <-chan struct{} {
	return n.done
}

// Close drops the link and waits for the receive loop
func (n *Node) Close() error {
	err := n.conn.Close()
	<-n.done
	return err
}
