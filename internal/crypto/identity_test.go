package crypto

import (
	"encoding/hex"
	"strings"
	"testing"
)

func TestPeerID(t *testing.T) {
	var pub [PublicKeySize]byte
	for i := range pub {
		pub[i] = byte(i)
	}
	if got := PeerID(&pub); got != "0001020304050607" {
		t.Fatalf("PeerID = %q", got)
	}
}

func TestGenerateKeyPair(t *testing.T) {
	a, err := GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	b, err := GenerateKeyPair()
	if err != nil {
		t.Fatal(err)
	}
	if a.PeerID() == b.PeerID() {
		t.Fatal("two fresh identities share a peer id")
	}
	if len(a.PeerID()) != 2*PeerIDSize || !strings.HasPrefix(hex.EncodeToString(a.Public[:]), a.PeerID()) {
		t.Fatalf("peer id %q does not prefix the public key", a.PeerID())
	}
}
