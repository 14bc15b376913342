package proto

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
)

// MessageType is the sub-type tag carried in byte 0 of a proxy payload.
// The values are shared with every other implementation of the proxy
// protocol and must not change.
type MessageType uint8

const (
	TypePublish     MessageType = 0x01
	TypeSubscribe   MessageType = 0x02
	TypeUnsubscribe MessageType = 0x03
	TypeEvent       MessageType = 0x04
)

func (t MessageType) String() string {
	switch t {
	case TypePublish:
		return "publish"
	case TypeSubscribe:
		return "subscribe"
	case TypeUnsubscribe:
		return "unsubscribe"
	case TypeEvent:
		return "event"
	default:
		return fmt.Sprintf("unknown(0x%02x)", uint8(t))
	}
}

const (
	// PubkeySize is the raw length of a pubkey on the wire.
	PubkeySize = 32
	// MaxPubkeys is the largest list a one-byte count can describe.
	MaxPubkeys = 255
	// MaxEventSize caps the decompressed event JSON accepted by Decode.
	MaxEventSize = 1 << 20
)

var (
	ErrEmptyPayload   = errors.New("proto: empty payload")
	ErrUnknownType    = errors.New("proto: unknown message type")
	ErrTruncated      = errors.New("proto: payload shorter than declared pubkey count")
	ErrTooManyPubkeys = errors.New("proto: more than 255 pubkeys")
	ErrInvalidPubkey  = errors.New("proto: pubkey is not 32 bytes of hex")
	ErrCorruptPayload = errors.New("proto: corrupt compressed payload")
	ErrEventTooLarge  = errors.New("proto: event exceeds size limit")
)

// Message is one of Publish, Subscribe, Unsubscribe or Event.
type Message interface {
	Type() MessageType
}

// Publish asks the bridge to write a pre-signed event to the relay network.
type Publish struct {
	EventJSON string
}

// Subscribe asks the bridge to forward future events addressed to any of
// Pubkeys. Geohash is optional context; "" means none was supplied.
// Decode reports an empty pubkey list as nil, so Subscribe{Pubkeys: []string{}}
// comes back as Subscribe{}.
type Subscribe struct {
	Pubkeys []string
	Geohash string
}

// Unsubscribe asks the bridge to stop forwarding events for Pubkeys. As with
// Subscribe, an empty list decodes as nil.
type Unsubscribe struct {
	Pubkeys []string
}

// Event carries a relay event from the bridge back to a device.
type Event struct {
	EventJSON string
}

func (Publish) Type() MessageType     { return TypePublish }
func (Subscribe) Type() MessageType   { return TypeSubscribe }
func (Unsubscribe) Type() MessageType { return TypeUnsubscribe }
func (Event) Type() MessageType       { return TypeEvent }

// Encode serializes m into a proxy payload. It fails for pubkeys that are
// not 64 hex characters, for lists longer than MaxPubkeys, and if
// compression fails; callers skip sending in that case.
func Encode(m Message) ([]byte, error) {
	switch m := m.(type) {
	case Publish:
		return encodeCompressed(TypePublish, m.EventJSON)
	case *Publish:
		return encodeCompressed(TypePublish, m.EventJSON)
	case Event:
		return encodeCompressed(TypeEvent, m.EventJSON)
	case *Event:
		return encodeCompressed(TypeEvent, m.EventJSON)
	case Subscribe:
		return encodePubkeys(TypeSubscribe, m.Pubkeys, m.Geohash)
	case *Subscribe:
		return encodePubkeys(TypeSubscribe, m.Pubkeys, m.Geohash)
	case Unsubscribe:
		return encodePubkeys(TypeUnsubscribe, m.Pubkeys, "")
	case *Unsubscribe:
		return encodePubkeys(TypeUnsubscribe, m.Pubkeys, "")
	case nil:
		return nil, errors.New("proto: nil message")
	default:
		return nil, fmt.Errorf("proto: unsupported message %T", m)
	}
}

func encodeCompressed(t MessageType, s string) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte(byte(t))
	zw := gzip.NewWriter(&buf)
	if _, err := io.WriteString(zw, s); err != nil {
		return nil, fmt.Errorf("proto: compress %s: %w", t, err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("proto: compress %s: %w", t, err)
	}
	return buf.Bytes(), nil
}

func encodePubkeys(t MessageType, pubkeys []string, trailer string) ([]byte, error) {
	if len(pubkeys) > MaxPubkeys {
		return nil, fmt.Errorf("%w: %d", ErrTooManyPubkeys, len(pubkeys))
	}
	out := make([]byte, 2, 2+len(pubkeys)*PubkeySize+len(trailer))
	out[0] = byte(t)
	out[1] = byte(len(pubkeys))
	for i, pk := range pubkeys {
		if len(pk) != PubkeySize*2 {
			return nil, fmt.Errorf("%w: index %d has length %d", ErrInvalidPubkey, i, len(pk))
		}
		raw, err := hex.DecodeString(pk)
		if err != nil {
			return nil, fmt.Errorf("%w: index %d: %v", ErrInvalidPubkey, i, err)
		}
		out = append(out, raw...)
	}
	return append(out, trailer...), nil
}

// Decode parses a proxy payload. A nil Message is always accompanied by a
// non-nil error; partial decodes are never returned.
func Decode(b []byte) (Message, error) {
	if len(b) == 0 {
		return nil, ErrEmptyPayload
	}
	t, body := MessageType(b[0]), b[1:]
	switch t {
	case TypePublish:
		s, err := decompress(body)
		if err != nil {
			return nil, err
		}
		return Publish{EventJSON: s}, nil
	case TypeEvent:
		s, err := decompress(body)
		if err != nil {
			return nil, err
		}
		return Event{EventJSON: s}, nil
	case TypeSubscribe:
		pubkeys, rest, err := decodePubkeys(body)
		if err != nil {
			return nil, err
		}
		return Subscribe{Pubkeys: pubkeys, Geohash: string(rest)}, nil
	case TypeUnsubscribe:
		pubkeys, _, err := decodePubkeys(body)
		if err != nil {
			return nil, err
		}
		return Unsubscribe{Pubkeys: pubkeys}, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownType, t)
	}
}

func decompress(body []byte) (string, error) {
	zr, err := gzip.NewReader(bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCorruptPayload, err)
	}
	defer zr.Close()
	data, err := io.ReadAll(io.LimitReader(zr, MaxEventSize+1))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrCorruptPayload, err)
	}
	if len(data) > MaxEventSize {
		return "", ErrEventTooLarge
	}
	return string(data), nil
}

// decodePubkeys reads the count byte and the pubkey list from body and
// returns whatever follows them.
func decodePubkeys(body []byte) ([]string, []byte, error) {
	if len(body) < 1 {
		return nil, nil, fmt.Errorf("%w: missing count", ErrTruncated)
	}
	count := int(body[0])
	need := 1 + count*PubkeySize
	if len(body) < need {
		return nil, nil, fmt.Errorf("%w: need %d bytes, have %d", ErrTruncated, need, len(body))
	}
	var pubkeys []string
	if count > 0 {
		pubkeys = make([]string, count)
	}
	for i := range count {
		off := 1 + i*PubkeySize
		pubkeys[i] = hex.EncodeToString(body[off : off+PubkeySize])
	}
	return pubkeys, body[need:], nil
}
