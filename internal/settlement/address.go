package settlement

import (
	"fmt"

	"filippo.io/edwards25519"
	"github.com/mr-tron/base58"
)

// accountAddressLen is the decoded length of a settlement account address.
const accountAddressLen = 32

// ValidateAccountAddress checks that addr is a base58-encoded 32-byte
// ed25519 public key on the canonical curve. Payouts to malformed
// addresses are rejected before any intent leaves the engine.
func ValidateAccountAddress(addr string) error {
	if addr == "" {
		return fmt.Errorf("empty account address")
	}

	decoded, err := base58.Decode(addr)
	if err != nil {
		return fmt.Errorf("decode account address: %w", err)
	}
	if len(decoded) != accountAddressLen {
		return fmt.Errorf("account address must decode to %d bytes, got %d", accountAddressLen, len(decoded))
	}

	if _, err := new(edwards25519.Point).SetBytes(decoded); err != nil {
		return fmt.Errorf("account address is not a valid curve point: %w", err)
	}
	return nil
}

// EncodeAccountAddress encodes a raw 32-byte public key as base58.
func EncodeAccountAddress(pub []byte) (string, error) {
	if len(pub) != accountAddressLen {
		return "", fmt.Errorf("public key must be %d bytes, got %d", accountAddressLen, len(pub))
	}
	return base58.Encode(pub), nil
}
