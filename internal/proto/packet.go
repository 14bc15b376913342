package proto

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"
)

// PacketType identifies what a mesh packet carries.
type PacketType uint8

const (
	// PacketTypeAnnounce is the first packet a device sends on a new link;
	// it binds the link to the sender's peer id.
	PacketTypeAnnounce PacketType = 0x01
	// PacketTypeNostrRelay carries a proxy payload produced by Encode.
	PacketTypeNostrRelay PacketType = 0x02
)

const (
	// ProxyHopLimit is the TTL of every proxy packet: direct delivery only.
	ProxyHopLimit = 1
	// MaxPacketSize bounds a framed packet body on a stream link.
	MaxPacketSize = 1 << 20
)

// Packet is the mesh transport envelope.
type Packet struct {
	Type     PacketType `cbor:"1,keyasint"`
	TTL      uint8      `cbor:"2,keyasint"`
	SenderID string     `cbor:"3,keyasint"`
	Payload  []byte     `cbor:"4,keyasint,omitempty"`
}

// NewProxyPacket wraps a proxy payload for single-hop delivery.
func NewProxyPacket(senderID string, payload []byte) *Packet {
	return &Packet{
		Type:     PacketTypeNostrRelay,
		TTL:      ProxyHopLimit,
		SenderID: senderID,
		Payload:  payload,
	}
}

// NewAnnounce builds the packet a device opens a link with.
func NewAnnounce(senderID string) *Packet {
	return &Packet{Type: PacketTypeAnnounce, TTL: ProxyHopLimit, SenderID: senderID}
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	decMode, err = cbor.DecOptions{DupMapKey: cbor.DupMapKeyEnforcedAPF}.DecMode()
	if err != nil {
		panic(err)
	}
}

// Encode writes a length-prefixed CBOR packet to w
func (p *Packet) Encode(w io.Writer) error {
	data, err := encMode.Marshal(p)
	if err != nil {
		return err
	}
	if len(data) > MaxPacketSize {
		return fmt.Errorf("proto: packet of %d bytes exceeds limit", len(data))
	}
	// 4-byte big-endian length prefix
	lenBuf := make([]byte, 4, 4+len(data))
	binary.BigEndian.PutUint32(lenBuf, uint32(len(data)))
	_, err = w.Write(append(lenBuf, data...))
	return err
}

// Decode reads a length-prefixed CBOR packet from r
func (p *Packet) Decode(r io.Reader) error {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return err
	}
	length := binary.BigEndian.Uint32(lenBuf[:])
	if length > MaxPacketSize {
		return io.ErrShortBuffer
	}
	data := make([]byte, length)
	if _, err := io.ReadFull(r, data); err != nil {
		return err
	}
	*p = Packet{}
	return decMode.Unmarshal(data, p)
}
