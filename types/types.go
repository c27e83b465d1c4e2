package types

import (
	"errors"
	"fmt"
)

// X402Version represents the version of the x402 protocol
type X402Version int

const (
	X402Version1 X402Version = 1
)

// TokenNative is the token identifier for the chain's native currency (SOL).
const TokenNative = "native"

// NativeDecimals is the number of decimals of SOL (1 SOL = 10^9 lamports).
const NativeDecimals = 9

// Credentials is the credential record a batch run is configured with.
type Credentials struct {
	// Network is the Solana cluster to pay on.
	Network Network `json:"network" validate:"required"`

	// PrivateKey is the base58 encoded 64 byte ed25519 secret key of the payer.
	PrivateKey string `json:"privateKey" validate:"required"`

	// RPCUrl overrides the default RPC endpoint of the network (optional).
	RPCUrl string `json:"rpcUrl,omitempty" validate:"omitempty,url"`
}

// String never includes the private key.
func (c Credentials) String() string {
	return fmt.Sprintf("Credentials{Network: %s, RPCUrl: %q, PrivateKey: [REDACTED]}", c.Network, c.RPCUrl)
}

func (c Credentials) GoString() string {
	return c.String()
}

// LogFields returns the fields of the credentials that are safe to log.
func (c Credentials) LogFields() map[string]any {
	return map[string]any{
		"network": c.Network.String(),
		"rpc_url": c.RPCUrl,
	}
}

// PaymentRequest is a single native-token payment handed to a client.
type PaymentRequest struct {
	Amount          float64 `json:"amount" validate:"gt=0"`
	Recipient       string  `json:"recipient" validate:"required,solanaaddress"`
	Token           string  `json:"token" validate:"required"`
	Network         Network `json:"network" validate:"required"`
	Decimals        int     `json:"decimals" validate:"gte=0,lte=18"`
	PaymentOptionID string  `json:"paymentOptionId" validate:"required"`
}

// PaymentResult is returned by a client after a payment landed on chain.
type PaymentResult struct {
	Signature string  `json:"signature"`
	Amount    float64 `json:"amount"`
	Recipient string  `json:"recipient"`
	// Timestamp in epoch milliseconds.
	Timestamp int64 `json:"timestamp"`
}

// PaymentOption is one acceptable way of paying for a resource.
type PaymentOption struct {
	ID        string  `json:"id" validate:"required"`
	Amount    float64 `json:"amount" validate:"gt=0"`
	Recipient string  `json:"recipient" validate:"required"`
	Token     string  `json:"token" validate:"required"`
	Network   string  `json:"network" validate:"required"`
	Decimals  int     `json:"decimals" validate:"gte=0,lte=18"`
	Scheme    string  `json:"scheme,omitempty"`
}

// PaymentRequirements is the normalized form of a 402 response body.
type PaymentRequirements struct {
	Version        string          `json:"version"`
	Resource       string          `json:"resource,omitempty"`
	Description    string          `json:"description,omitempty"`
	PaymentOptions []PaymentOption `json:"paymentOptions" validate:"required,min=1,dive"`
}

// AcceptedRequirement is one entry of the "accepts" list of an x402 response.
type AcceptedRequirement struct {
	// Scheme of the payment protocol to use (e.g., "exact").
	Scheme string `json:"scheme" validate:"required"`

	// Network of the blockchain to send payment on (e.g., "solana-devnet").
	Network string `json:"network" validate:"required"`

	// Maximum amount required to pay for the resource in atomic units of the asset.
	MaxAmountRequired string `json:"maxAmountRequired" validate:"required"`

	// URL of the resource to pay for.
	Resource string `json:"resource"`

	// Description of the resource being purchased.
	Description string `json:"description"`

	// MIME type of the resource response (e.g., "application/json").
	MimeType string `json:"mimeType"`

	// Address to which the payment must be sent.
	PayTo string `json:"payTo" validate:"required"`

	// Maximum time in seconds for the resource server to respond.
	MaxTimeoutSeconds int `json:"maxTimeoutSeconds"`

	// Mint address of the asset, empty or "native" for SOL.
	Asset string `json:"asset"`

	// Extra information about payment details specific to the scheme.
	Extra map[string]interface{} `json:"extra,omitempty"`
}

// X402Response represents a server response that includes supported payment options.
type X402Response struct {
	// Version of the x402 payment protocol.
	X402Version int `json:"x402Version"`

	// List of payment requirements that the resource server accepts.
	Accepts []AcceptedRequirement `json:"accepts" validate:"required,min=1,dive"`

	// Message from the resource server indicating any processing error.
	Error string `json:"error"`
}

// X402Error is the error type returned across the library.
type X402Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	// Reason narrows Code down, e.g. which step of a payment failed.
	Reason string `json:"reason,omitempty"`
	Cause  error  `json:"-"`
}

func (e *X402Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *X402Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new X402Error.
func NewError(code, message string, cause error) *X402Error {
	return &X402Error{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// ErrorCode extracts the code of the first X402Error in err's chain.
func ErrorCode(err error) string {
	var xe *X402Error
	if errors.As(err, &xe) {
		return xe.Code
	}
	return ""
}

// Common error codes
const (
	ErrInvalidSignerFormat = "INVALID_SIGNER_FORMAT"
	ErrMissingParameter    = "MISSING_PARAMETER"
	ErrInvalidParameter    = "INVALID_PARAMETER"
	ErrParseFailed         = "PARSE_ERROR"
	ErrPaymentFailed       = "PAYMENT_ERROR"
	ErrUnsupportedNetwork  = "UNSUPPORTED_NETWORK"
	ErrConfigError         = "CONFIG_ERROR"
)
