package x402

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/vitwit/x402-pocket/clients"
	"github.com/vitwit/x402-pocket/logger"
	"github.com/vitwit/x402-pocket/metrics"
	"github.com/vitwit/x402-pocket/types"
	"github.com/vitwit/x402-pocket/utils"
	"github.com/vitwit/x402-pocket/wallet"
)

// Dispatcher runs batches of parse and payment items against one signer and
// one payment client.
type Dispatcher struct {
	network types.Network
	signer  clients.Signer
	client  clients.Client

	logger      logger.Logger
	metrics     metrics.Recorder
	concurrency int
	now         func() time.Time
}

// New resolves the signer and the payment client for creds. A secret that is
// not a base58 encoded keypair fails with INVALID_SIGNER_FORMAT before any
// client is built.
func New(creds types.Credentials, opts ...Option) (*Dispatcher, error) {
	signer, err := wallet.Decode(creds.PrivateKey)
	if err != nil {
		return nil, err
	}

	if err := utils.ValidateCredentials(&creds); err != nil {
		return nil, err
	}

	d := &Dispatcher{
		network:     creds.Network,
		signer:      signer,
		logger:      logger.NoopLogger{},
		metrics:     metrics.NoopRecorder{},
		concurrency: 1,
		now:         time.Now,
	}

	for _, opt := range opts {
		opt(d)
	}

	if d.client == nil {
		client, err := clients.NewSolanaClient(creds.Network, creds.RPCUrl)
		if err != nil {
			return nil, &types.X402Error{
				Code:    types.ErrConfigError,
				Message: fmt.Sprintf("failed to create Solana client for %s", creds.Network),
				Cause:   err,
			}
		}
		d.client = client
	}

	fields := creds.LogFields()
	fields["address"] = d.Address()
	d.logger.Debug("dispatcher ready", fields)

	return d, nil
}

// Address is the public key of the signer.
func (d *Dispatcher) Address() string {
	return d.signer.PublicKey().String()
}

// Network is the cluster payments are made on.
func (d *Dispatcher) Network() types.Network {
	return d.network
}

// Run processes items in order. Output record i is paired with items[i].
//
// With continueOnFail a failed item yields an ErrorOutput record and the batch
// goes on, so len(records) == len(items). Without it the batch stops at the
// first failure and returns the records produced so far with an *ItemError.
// A cancelled ctx stops the batch after the items already completed.
func (d *Dispatcher) Run(ctx context.Context, items []Item, continueOnFail bool) ([]Record, error) {
	log := logger.With(d.logger, map[string]any{"batch_id": uuid.NewString()})

	concurrent := continueOnFail && d.concurrency > 1 && len(items) > 1
	log.Info("batch started", map[string]any{
		"items":            len(items),
		"continue_on_fail": continueOnFail,
		"concurrent":       concurrent,
		"network":          d.network.String(),
		"address":          d.Address(),
	})

	var (
		records []Record
		err     error
	)
	if concurrent {
		records, err = d.runConcurrent(ctx, log, items)
	} else {
		records, err = d.runSequential(ctx, log, items, continueOnFail)
	}

	if err != nil {
		log.Error("batch stopped", map[string]any{"records": len(records), "error": err})
		return records, err
	}

	log.Info("batch finished", map[string]any{"records": len(records)})
	return records, nil
}

func (d *Dispatcher) runSequential(ctx context.Context, log logger.Logger, items []Item, continueOnFail bool) ([]Record, error) {
	records := make([]Record, 0, len(items))

	for i, item := range items {
		if err := ctx.Err(); err != nil {
			return records, err
		}

		output, err := d.process(ctx, log, item, i)
		if err != nil {
			if !continueOnFail {
				return records, &ItemError{Index: i, Err: err}
			}
			records = append(records, errorRecord(i, err))
			continue
		}

		records = append(records, newRecord(i, output))
	}

	return records, nil
}

// runConcurrent writes every record into its own slot, so the output order
// does not depend on completion order.
func (d *Dispatcher) runConcurrent(ctx context.Context, log logger.Logger, items []Item) ([]Record, error) {
	records := make([]Record, len(items))
	done := make([]bool, len(items))

	var g errgroup.Group
	g.SetLimit(d.concurrency)

	for i, item := range items {
		i, item := i, item
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}

			output, err := d.process(ctx, log, item, i)
			if err != nil {
				records[i] = errorRecord(i, err)
			} else {
				records[i] = newRecord(i, output)
			}
			done[i] = true
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		completed := 0
		for completed < len(done) && done[completed] {
			completed++
		}
		return records[:completed], err
	}

	return records, nil
}

// process runs a single item and returns its output.
func (d *Dispatcher) process(ctx context.Context, log logger.Logger, item Item, index int) (any, error) {
	start := d.now()

	op, err := DecodeOperation(item)
	if err != nil {
		d.recordFailure(log, index, "", err)
		return nil, err
	}

	kind := op.Kind()
	output, err := d.execute(ctx, op)
	d.metrics.ObserveLatency(string(kind), d.now().Sub(start), d.labels(kind))

	if err != nil {
		d.recordFailure(log, index, kind, err)
		return nil, err
	}

	d.metrics.IncCounter(metrics.ItemSucceeded, d.labels(kind))
	log.Debug("item processed", map[string]any{
		"index":     index,
		"operation": string(kind),
	})

	return output, nil
}

func (d *Dispatcher) execute(ctx context.Context, op Operation) (any, error) {
	switch op := op.(type) {
	case *ParseOperation:
		parsed, err := d.client.ParseRequirements(op.Payload)
		if err != nil {
			return nil, err
		}
		return &ParseOutput{Parsed: true, PaymentDetails: parsed}, nil

	case *PayOperation:
		paymentID := op.PaymentID
		if paymentID == "" {
			paymentID = fmt.Sprintf("manual-%d", d.now().UnixMilli())
		}

		result, err := d.client.ExecutePayment(ctx, d.signer, &types.PaymentRequest{
			Amount:          op.Amount,
			Recipient:       op.Recipient,
			Token:           types.TokenNative,
			Network:         d.network,
			Decimals:        types.NativeDecimals,
			PaymentOptionID: paymentID,
		})
		if err != nil {
			return nil, err
		}
		return d.paymentOutput(result)

	case *ParseAndPayOperation:
		result, err := d.client.PayForRequirements(ctx, d.signer, op.Payload)
		if err != nil {
			return nil, err
		}
		return d.paymentOutput(result)

	default:
		return nil, &types.X402Error{
			Code:    types.ErrInvalidParameter,
			Message: fmt.Sprintf("unsupported operation %T", op),
		}
	}
}

func (d *Dispatcher) paymentOutput(result *types.PaymentResult) (*PaymentOutput, error) {
	if result == nil {
		return nil, &types.X402Error{
			Code:    types.ErrPaymentFailed,
			Message: "payment client returned no result",
		}
	}

	return &PaymentOutput{
		Success:     true,
		Signature:   result.Signature,
		Amount:      result.Amount,
		Recipient:   result.Recipient,
		Timestamp:   result.Timestamp,
		ExplorerURL: d.network.ExplorerURL(result.Signature),
	}, nil
}

func (d *Dispatcher) recordFailure(log logger.Logger, index int, kind OperationKind, err error) {
	d.metrics.IncCounter(metrics.ItemFailed, d.labels(kind))
	log.Warn("item failed", map[string]any{
		"index":     index,
		"operation": string(kind),
		"code":      types.ErrorCode(err),
		"error":     err,
	})
}

func (d *Dispatcher) labels(kind OperationKind) map[string]string {
	if kind == "" {
		kind = "unknown"
	}
	return map[string]string{
		"operation": string(kind),
		"network":   d.network.String(),
	}
}

// Close releases the payment client.
func (d *Dispatcher) Close() {
	d.client.Close()
}
