package settlement

import (
	"crypto/ed25519"
	"encoding/hex"
	"fmt"

	"github.com/mr-tron/base58"
)

// Signer signs outgoing intents with the engine's operator key so the
// gateway can authenticate them. Signatures cover the canonical JSON
// encoding of the intent body.
type Signer struct {
	priv ed25519.PrivateKey
}

// NewSigner creates a Signer from a hex-encoded ed25519 seed or full
// private key.
func NewSigner(hexKey string) (*Signer, error) {
	raw, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("decode operator key: %w", err)
	}

	switch len(raw) {
	case ed25519.SeedSize:
		return &Signer{priv: ed25519.NewKeyFromSeed(raw)}, nil
	case ed25519.PrivateKeySize:
		return &Signer{priv: ed25519.PrivateKey(raw)}, nil
	default:
		return nil, fmt.Errorf("operator key must be %d or %d bytes, got %d",
			ed25519.SeedSize, ed25519.PrivateKeySize, len(raw))
	}
}

// Sign returns the hex-encoded signature over payload.
func (s *Signer) Sign(payload []byte) string {
	return hex.EncodeToString(ed25519.Sign(s.priv, payload))
}

// PublicKeyBase58 returns the operator public key as a base58 account
// address, the same encoding holder accounts use.
func (s *Signer) PublicKeyBase58() string {
	pub := s.priv.Public().(ed25519.PublicKey)
	return base58.Encode(pub)
}
