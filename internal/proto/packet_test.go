package proto

import (
	"bytes"
	"encoding/binary"
	"io"
	"testing"
)

func TestPacketStreamFraming(t *testing.T) {
	var buf bytes.Buffer
	in := []*Packet{
		NewAnnounce("0011223344556677"),
		NewProxyPacket("0011223344556677", []byte{0x02, 0x00}),
		NewProxyPacket("8899aabbccddeeff", nil),
	}
	for _, p := range in {
		if err := p.Encode(&buf); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}
	var p Packet
	for i, want := range in {
		if err := p.Decode(&buf); err != nil {
			t.Fatalf("decode %d: %v", i, err)
		}
		if p.Type != want.Type || p.TTL != want.TTL || p.SenderID != want.SenderID || !bytes.Equal(p.Payload, want.Payload) {
			t.Fatalf("packet %d mismatch: %+v != %+v", i, p, *want)
		}
	}
	if err := p.Decode(&buf); err != io.EOF {
		t.Fatalf("expected io.EOF at end of stream, got %v", err)
	}
}

func TestNewProxyPacketHopLimit(t *testing.T) {
	p := NewProxyPacket("peer", []byte{1})
	if p.TTL != 1 || p.Type != PacketTypeNostrRelay {
		t.Fatalf("unexpected packet %+v", p)
	}
}

func TestPacketDecodeRejectsOversize(t *testing.T) {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], MaxPacketSize+1)
	var p Packet
	if err := p.Decode(bytes.NewReader(lenBuf[:])); err != io.ErrShortBuffer {
		t.Fatalf("err = %v, want io.ErrShortBuffer", err)
	}
}
