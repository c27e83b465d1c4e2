// Package wallet turns base58 secrets into Solana signers and creates new ones.
package wallet

import (
	"bytes"
	"crypto/ed25519"
	"fmt"
	"strings"

	"github.com/gagliardetto/solana-go"
	"github.com/mr-tron/base58"

	"github.com/vitwit/x402-pocket/types"
)

// InvalidFormatMessage is the message of every Decode failure.
const InvalidFormatMessage = "Invalid private key format. Must be base58 encoded."

// Wallet is a generated keypair in its portable form.
type Wallet struct {
	Address    string `json:"address"`
	PrivateKey string `json:"privateKey"`
}

// Decode builds a signer from a base58 encoded 64 byte secret key
// (32 byte seed followed by the 32 byte public key).
func Decode(secret string) (solana.PrivateKey, error) {
	// Decoder errors quote the offending digit, so they are not wrapped.
	raw, err := base58.Decode(strings.TrimSpace(secret))
	if err != nil || len(raw) != ed25519.PrivateKeySize {
		return nil, invalidFormat()
	}

	derived := ed25519.NewKeyFromSeed(raw[:ed25519.SeedSize])
	if !bytes.Equal(derived[ed25519.SeedSize:], raw[ed25519.SeedSize:]) {
		return nil, invalidFormat()
	}

	return solana.PrivateKey(raw), nil
}

// Generate creates a fresh keypair.
func Generate() (Wallet, error) {
	key, err := solana.NewRandomPrivateKey()
	if err != nil {
		return Wallet{}, fmt.Errorf("failed to generate keypair: %w", err)
	}

	return Wallet{
		Address:    key.PublicKey().String(),
		PrivateKey: key.String(),
	}, nil
}

func invalidFormat() error {
	return &types.X402Error{
		Code:    types.ErrInvalidSignerFormat,
		Message: InvalidFormatMessage,
	}
}
