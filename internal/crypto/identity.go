package crypto

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/nacl/box"
)

const (
	PublicKeySize  = 32
	PrivateKeySize = 32
	// PeerIDSize is the number of public key bytes that name a node on the mesh.
	PeerIDSize = 8
)

// KeyPair holds a node's Curve25519 identity key pair. Only the public half
// is used, as the seed of the mesh peer id; nothing is sealed with it.
type KeyPair struct {
	Public  *[PublicKeySize]byte
	Private *[PrivateKeySize]byte
}

// GenerateKeyPair creates a new X25519 key pair
func GenerateKeyPair() (*KeyPair, error) {
	public, private, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate identity: %w", err)
	}
	return &KeyPair{Public: public, Private: private}, nil
}

// PeerID returns the mesh sender id for this key pair
func (k *KeyPair) PeerID() string {
	return PeerID(k.Public)
}

// PeerID returns the first 8 bytes of pub, hex encoded
func PeerID(pub *[PublicKeySize]byte) string {
	return hex.EncodeToString(pub[:PeerIDSize])
}
