package clients

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
	"github.com/gagliardetto/solana-go/rpc"
	x402types "github.com/vitwit/x402-pocket/types"
	"github.com/vitwit/x402-pocket/utils"
)

var errNotConfirmed = errors.New("transaction not yet confirmed")

// rpcAPI is the subset of *rpc.Client the Solana client relies on.
type rpcAPI interface {
	GetLatestBlockhash(ctx context.Context, commitment rpc.CommitmentType) (*rpc.GetLatestBlockhashResult, error)
	SendTransactionWithOpts(ctx context.Context, transaction *solana.Transaction, opts rpc.TransactionOpts) (solana.Signature, error)
	GetSignatureStatuses(ctx context.Context, searchTransactionHistory bool, transactionSignatures ...solana.Signature) (*rpc.GetSignatureStatusesResult, error)
	GetBalance(ctx context.Context, account solana.PublicKey, commitment rpc.CommitmentType) (*rpc.GetBalanceResult, error)
	Close() error
}

// SolanaClient pays x402 requirements with native SOL transfers
type SolanaClient struct {
	network    x402types.Network
	rpcURL     string
	client     rpcAPI
	commitment rpc.CommitmentType

	retryAttempts   uint
	retryDelay      time.Duration
	confirmAttempts uint
	confirmDelay    time.Duration

	now func() time.Time
}

var _ Client = (*SolanaClient)(nil)

// SolanaOption configures a SolanaClient.
type SolanaOption func(*SolanaClient)

// WithCommitment sets the commitment used for blockhash, preflight and confirmation.
func WithCommitment(c rpc.CommitmentType) SolanaOption {
	return func(s *SolanaClient) {
		s.commitment = c
	}
}

// WithRetry sets how often, and how far apart to start, RPC reads are retried.
func WithRetry(attempts uint, delay time.Duration) SolanaOption {
	return func(s *SolanaClient) {
		s.retryAttempts = attempts
		s.retryDelay = delay
	}
}

// WithConfirmation sets how many times, and how often, the signature status is polled.
func WithConfirmation(attempts uint, delay time.Duration) SolanaOption {
	return func(s *SolanaClient) {
		s.confirmAttempts = attempts
		s.confirmDelay = delay
	}
}

func withRPC(api rpcAPI) SolanaOption {
	return func(s *SolanaClient) {
		s.client = api
	}
}

// NewSolanaClient creates a Solana client. An empty rpcURL selects the
// public endpoint of the network.
func NewSolanaClient(network x402types.Network, rpcURL string, opts ...SolanaOption) (*SolanaClient, error) {
	network, err := x402types.ParseNetwork(string(network))
	if err != nil {
		return nil, err
	}

	if rpcURL == "" {
		rpcURL = network.DefaultRPCURL()
	}

	c := &SolanaClient{
		network:         network,
		rpcURL:          rpcURL,
		commitment:      rpc.CommitmentConfirmed,
		retryAttempts:   3,
		retryDelay:      500 * time.Millisecond,
		confirmAttempts: 30,
		confirmDelay:    time.Second,
		now:             time.Now,
	}

	for _, opt := range opts {
		opt(c)
	}

	if c.client == nil {
		c.client = rpc.New(rpcURL)
	}

	return c, nil
}

// ParseRequirements parses a 402 response body
func (s *SolanaClient) ParseRequirements(payload json.RawMessage) (*x402types.PaymentRequirements, error) {
	return utils.ParsePaymentRequirements(payload)
}

// ExecutePayment transfers req.Amount SOL from the signer to req.Recipient and
// waits until the transfer is confirmed
func (s *SolanaClient) ExecutePayment(
	ctx context.Context,
	signer Signer,
	req *x402types.PaymentRequest,
) (*x402types.PaymentResult, error) {
	if signer == nil {
		return nil, paymentError(ErrInvalidPaymentRequest, "signer is required", nil)
	}
	if req == nil {
		return nil, paymentError(ErrInvalidPaymentRequest, "payment request is required", nil)
	}

	if !utils.IsNativeAsset(req.Token) {
		return nil, paymentError(ErrUnsupportedToken, fmt.Sprintf("token %q is not supported, only native SOL", req.Token), nil)
	}

	network, err := x402types.ParseNetwork(string(req.Network))
	if err != nil || network != s.network {
		return nil, paymentError(ErrNetworkMismatch, fmt.Sprintf("payment is for network %q but client is on %s", req.Network, s.network), nil)
	}

	if err := utils.ValidateStruct(req); err != nil {
		return nil, paymentError(ErrInvalidPaymentRequest, "invalid payment request", err)
	}

	if req.Decimals != x402types.NativeDecimals {
		return nil, paymentError(ErrInvalidAmount, fmt.Sprintf("native payments use %d decimals, got %d", x402types.NativeDecimals, req.Decimals), nil)
	}

	to, err := solana.PublicKeyFromBase58(req.Recipient)
	if err != nil {
		return nil, paymentError(ErrInvalidRecipient, fmt.Sprintf("invalid recipient %q", req.Recipient), err)
	}

	amount, err := utils.ValidatePaymentAmount(req.Amount, req.Decimals)
	if err != nil {
		return nil, paymentError(ErrInvalidAmount, "invalid amount", err)
	}

	lamports, err := utils.ParseAmountWithDecimals(amount, req.Decimals)
	if err != nil || !lamports.IsUint64() {
		return nil, paymentError(ErrInvalidAmount, fmt.Sprintf("amount %s cannot be expressed in lamports", amount), err)
	}

	tx, err := s.buildTransfer(ctx, signer, to, lamports.Uint64())
	if err != nil {
		return nil, err
	}

	sig, err := s.client.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
		PreflightCommitment: s.commitment,
	})
	if err != nil {
		return nil, paymentError(ErrSendTransaction, "failed to send transaction", err)
	}

	if err := s.waitForConfirmation(ctx, sig); err != nil {
		return nil, err
	}

	return &x402types.PaymentResult{
		Signature: sig.String(),
		Amount:    req.Amount,
		Recipient: to.String(),
		Timestamp: s.now().UnixMilli(),
	}, nil
}

// PayForRequirements parses a 402 response body and pays the first native
// option offered on the client's network
func (s *SolanaClient) PayForRequirements(
	ctx context.Context,
	signer Signer,
	payload json.RawMessage,
) (*x402types.PaymentResult, error) {
	requirements, err := s.ParseRequirements(payload)
	if err != nil {
		return nil, err
	}

	option, err := s.selectOption(requirements)
	if err != nil {
		return nil, err
	}

	return s.ExecutePayment(ctx, signer, &x402types.PaymentRequest{
		Amount:          option.Amount,
		Recipient:       option.Recipient,
		Token:           x402types.TokenNative,
		Network:         s.network,
		Decimals:        x402types.NativeDecimals,
		PaymentOptionID: option.ID,
	})
}

// Balance returns the lamport balance of owner.
func (s *SolanaClient) Balance(ctx context.Context, owner string) (uint64, error) {
	account, err := solana.PublicKeyFromBase58(owner)
	if err != nil {
		return 0, fmt.Errorf("invalid address %q: %w", owner, err)
	}

	out, err := retry.DoWithData(
		func() (*rpc.GetBalanceResult, error) {
			return s.client.GetBalance(ctx, account, s.commitment)
		},
		s.retryOptions(ctx)...,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to get balance of %s: %w", owner, err)
	}
	if out == nil {
		return 0, fmt.Errorf("empty balance response for %s", owner)
	}

	return out.Value, nil
}

func (s *SolanaClient) selectOption(req *x402types.PaymentRequirements) (*x402types.PaymentOption, error) {
	for i := range req.PaymentOptions {
		option := &req.PaymentOptions[i]
		if !utils.IsNativeAsset(option.Token) {
			continue
		}
		if option.Decimals != 0 && option.Decimals != x402types.NativeDecimals {
			continue
		}
		network, err := x402types.ParseNetwork(option.Network)
		if err != nil || network != s.network {
			continue
		}
		return option, nil
	}

	return nil, paymentError(ErrNoMatchingOption, fmt.Sprintf("no native SOL payment option for network %s", s.network), nil)
}

func (s *SolanaClient) buildTransfer(
	ctx context.Context,
	signer Signer,
	to solana.PublicKey,
	lamports uint64,
) (*solana.Transaction, error) {
	blockhash, err := retry.DoWithData(
		func() (solana.Hash, error) {
			out, err := s.client.GetLatestBlockhash(ctx, s.commitment)
			if err != nil {
				return solana.Hash{}, err
			}
			if out == nil || out.Value == nil {
				return solana.Hash{}, errors.New("empty blockhash response")
			}
			return out.Value.Blockhash, nil
		},
		s.retryOptions(ctx)...,
	)
	if err != nil {
		return nil, paymentError(ErrBlockhashUnavailable, "failed to get latest blockhash", err)
	}

	from := signer.PublicKey()
	tx, err := solana.NewTransaction(
		[]solana.Instruction{
			system.NewTransferInstruction(lamports, from, to).Build(),
		},
		blockhash,
		solana.TransactionPayer(from),
	)
	if err != nil {
		return nil, paymentError(ErrBuildTransaction, "failed to build transfer", err)
	}

	message, err := tx.Message.MarshalBinary()
	if err != nil {
		return nil, paymentError(ErrBuildTransaction, "failed to encode transaction message", err)
	}

	sig, err := signer.Sign(message)
	if err != nil {
		return nil, paymentError(ErrSignTransaction, "failed to sign transaction", err)
	}
	tx.Signatures = []solana.Signature{sig}

	return tx, nil
}

// waitForConfirmation polls the signature status until it reaches the
// client's commitment, the transaction fails, or attempts run out
func (s *SolanaClient) waitForConfirmation(ctx context.Context, sig solana.Signature) error {
	err := retry.Do(
		func() error {
			out, err := s.client.GetSignatureStatuses(ctx, false, sig)
			if err != nil {
				return err
			}
			if out == nil || len(out.Value) == 0 || out.Value[0] == nil {
				return errNotConfirmed
			}

			status := out.Value[0]
			if status.Err != nil {
				return retry.Unrecoverable(paymentError(
					ErrTransactionFailed,
					fmt.Sprintf("transaction %s failed: %v", sig, status.Err),
					nil,
				))
			}
			if s.reachedCommitment(status.ConfirmationStatus) {
				return nil
			}
			return errNotConfirmed
		},
		retry.Attempts(s.confirmAttempts),
		retry.Delay(s.confirmDelay),
		retry.DelayType(retry.FixedDelay),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
	)
	if err == nil {
		return nil
	}

	var xe *x402types.X402Error
	if errors.As(err, &xe) {
		return xe
	}
	return paymentError(ErrConfirmationTimedOut, fmt.Sprintf("transaction %s not confirmed", sig), err)
}

func (s *SolanaClient) reachedCommitment(status rpc.ConfirmationStatusType) bool {
	switch status {
	case rpc.ConfirmationStatusFinalized:
		return true
	case rpc.ConfirmationStatusConfirmed:
		return s.commitment != rpc.CommitmentFinalized
	case rpc.ConfirmationStatusProcessed:
		return s.commitment == rpc.CommitmentProcessed
	}
	return false
}

func (s *SolanaClient) retryOptions(ctx context.Context) []retry.Option {
	return []retry.Option{
		retry.Attempts(s.retryAttempts),
		retry.Delay(s.retryDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.Context(ctx),
		retry.LastErrorOnly(true),
	}
}

func (s *SolanaClient) GetNetwork() x402types.Network { return s.network }

func (s *SolanaClient) RPCURL() string { return s.rpcURL }

func (s *SolanaClient) Close() {
	_ = s.client.Close()
}

func paymentError(reason, message string, cause error) error {
	return &x402types.X402Error{
		Code:    x402types.ErrPaymentFailed,
		Message: message,
		Reason:  reason,
		Cause:   cause,
	}
}
