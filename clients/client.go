package clients

import (
	"context"
	"encoding/json"

	"github.com/gagliardetto/solana-go"
	x402types "github.com/vitwit/x402-pocket/types"
)

// Signer authorizes transactions. solana.PrivateKey satisfies it.
type Signer interface {
	PublicKey() solana.PublicKey
	Sign(payload []byte) (solana.Signature, error)
}

// Client parses 402 payloads and executes native-token payments.
type Client interface {
	ParseRequirements(payload json.RawMessage) (*x402types.PaymentRequirements, error)
	ExecutePayment(ctx context.Context, signer Signer, req *x402types.PaymentRequest) (*x402types.PaymentResult, error)
	PayForRequirements(ctx context.Context, signer Signer, payload json.RawMessage) (*x402types.PaymentResult, error)
	GetNetwork() x402types.Network
	Close()
}
