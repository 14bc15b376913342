package mesh

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/SWAI-Ltd/meshproxy/internal/proto"
	"github.com/SWAI-Ltd/meshproxy/internal/transport"
)

// LinkServer is the bridge end of the mesh: it accepts links from BLE-only
// devices, hands their proxy packets to OnPacket and broadcasts outgoing
// packets to every linked device.
type LinkServer struct {
	server       *transport.Server
	peers        sync.Map // peer id -> *transport.Conn
	onPacket     func(*proto.Packet)
	onDisconnect func(peerID string)
	log          *slog.Logger
}

// LinkServerConfig for ListenLink
type LinkServerConfig struct {
	Addr string
	// OnPacket receives every proxy packet; SenderID is the announced id of
	// the link it arrived on.
	OnPacket func(*proto.Packet)
	// OnDisconnect is called once when a peer's link ends.
	OnDisconnect func(peerID string)
	Logger       *slog.Logger
}

// ListenLink starts a link server on cfg.Addr
func ListenLink(ctx context.Context, cfg LinkServerConfig) (*LinkServer, error) {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	s := &LinkServer{
		onPacket:     cfg.OnPacket,
		onDisconnect: cfg.OnDisconnect,
		log:          log.With("component", "link-server"),
	}
	server, err := transport.ListenQUIC(ctx, cfg.Addr, s.handleConn)
	if err != nil {
		return nil, err
	}
	s.server = server
	s.log.Info("link server listening", "addr", server.LocalAddr())
	return s, nil
}

func (s *LinkServer) handleConn(c *transport.Conn) {
	var hello proto.Packet
	if err := c.RecvPacket(&hello); err != nil || hello.Type != proto.PacketTypeAnnounce || hello.SenderID == "" {
		s.log.Debug("link closed before announce", "remote", c.RemoteAddr(), "err", err)
		c.Close()
		return
	}
	peerID := hello.SenderID
	if old, loaded := s.peers.Swap(peerID, c); loaded {
		// the peer reconnected; its old link no longer counts
		old.(*transport.Conn).Close()
	}
	s.log.Info("peer linked", "peer", peerID, "remote", c.RemoteAddr())
	defer func() {
		c.Close()
		if s.peers.CompareAndDelete(peerID, c) {
			s.log.Info("peer unlinked", "peer", peerID)
			if s.onDisconnect != nil {
				s.onDisconnect(peerID)
			}
		}
	}()

	for {
		pkt := new(proto.Packet)
		if err := c.RecvPacket(pkt); err != nil {
			return
		}
		if pkt.Type != proto.PacketTypeNostrRelay {
			continue
		}
		pkt.SenderID = peerID
		if s.onPacket != nil {
			s.onPacket(pkt)
		}
	}
}

// SendPacket delivers pkt to every linked peer. It fails only if some peer
// could not be reached.
func (s *LinkServer) SendPacket(pkt *proto.Packet) error {
	var errs []error
	s.peers.Range(func(k, v interface{}) bool {
		if err := v.(*transport.Conn).SendPacket(pkt); err != nil {
			errs = append(errs, fmt.Errorf("peer %s: %w", k, err))
		}
		return true
	})
	return errors.Join(errs...)
}

// Peers returns the ids of the linked peers
func (s *LinkServer) Peers() []string {
	var out []string
	s.peers.Range(func(k, _ interface{}) bool {
		out = append(out, k.(string))
		return true
	})
	slices.Sort(out)
	return out
}

// Addr returns the local QUIC listen address
func (s *LinkServer) Addr() string {
	return s.server.LocalAddr()
}

// Close stops listening and drops every link
func (s *LinkServer) Close() error {
	err := s.server.Close()
	s.peers.Range(func(_, v interface{}) bool {
		v.(*transport.Conn).Close()
		return true
	})
	return err
}
