package x402

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/vitwit/x402-pocket/clients"
	"github.com/vitwit/x402-pocket/logger"
	"github.com/vitwit/x402-pocket/types"
	"github.com/vitwit/x402-pocket/wallet"
)

const recipient = "8qEoLvRsumJpNCn7Q5PT19W5X5g62TKjCaMBDVBpu1hr"

var fixedNow = time.UnixMilli(1_700_000_000_000)

type mockClient struct {
	mock.Mock
}

func (m *mockClient) ParseRequirements(payload json.RawMessage) (*types.PaymentRequirements, error) {
	args := m.Called(payload)
	req, _ := args.Get(0).(*types.PaymentRequirements)
	return req, args.Error(1)
}

func (m *mockClient) ExecutePayment(ctx context.Context, signer clients.Signer, req *types.PaymentRequest) (*types.PaymentResult, error) {
	args := m.Called(ctx, signer, req)
	res, _ := args.Get(0).(*types.PaymentResult)
	return res, args.Error(1)
}

func (m *mockClient) PayForRequirements(ctx context.Context, signer clients.Signer, payload json.RawMessage) (*types.PaymentResult, error) {
	args := m.Called(ctx, signer, payload)
	res, _ := args.Get(0).(*types.PaymentResult)
	return res, args.Error(1)
}

func (m *mockClient) GetNetwork() types.Network { return types.NetworkDevnet }

func (m *mockClient) Close() { m.Called() }

type countingRecorder struct {
	mu       sync.Mutex
	counters map[string]int
	observed int
}

func (r *countingRecorder) IncCounter(name string, labels map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.counters == nil {
		r.counters = map[string]int{}
	}
	r.counters[name+"/"+labels["operation"]+"/"+labels["network"]]++
}

func (r *countingRecorder) ObserveLatency(string, time.Duration, map[string]string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observed++
}

func testCredentials(t *testing.T) types.Credentials {
	t.Helper()

	key, err := solana.NewRandomPrivateKey()
	require.NoError(t, err)
	return types.Credentials{Network: types.NetworkDevnet, PrivateKey: key.String()}
}

func newTestDispatcher(t *testing.T, client clients.Client, opts ...Option) *Dispatcher {
	t.Helper()

	opts = append([]Option{WithClient(client), WithClock(func() time.Time { return fixedNow })}, opts...)
	d, err := New(testCredentials(t), opts...)
	require.NoError(t, err)
	return d
}

func paymentResult(sig string, amount float64) *types.PaymentResult {
	return &types.PaymentResult{
		Signature: sig,
		Amount:    amount,
		Recipient: recipient,
		Timestamp: fixedNow.UnixMilli(),
	}
}

func validRequirements() *types.PaymentRequirements {
	return &types.PaymentRequirements{
		Version: "1.0",
		PaymentOptions: []types.PaymentOption{{
			ID: "opt-1", Amount: 0.01, Recipient: recipient, Token: "native", Network: "devnet", Decimals: 9,
		}},
	}
}

func TestNew_InvalidSigner(t *testing.T) {
	for _, secret := range []string{"", "not base58!", "0OIl", "3mJr7AoUXx2Wqd"} {
		t.Run(secret, func(t *testing.T) {
			client := &mockClient{}
			d, err := New(types.Credentials{Network: types.NetworkDevnet, PrivateKey: secret}, WithClient(client))
			require.Error(t, err)
			assert.Nil(t, d)
			assert.Equal(t, types.ErrInvalidSignerFormat, types.ErrorCode(err))
			assert.Equal(t, wallet.InvalidFormatMessage, err.Error())
			client.AssertExpectations(t)
		})
	}
}

func TestNew_UnsupportedNetwork(t *testing.T) {
	creds := testCredentials(t)
	creds.Network = "testnet"

	_, err := New(creds)
	require.Error(t, err)
	assert.Equal(t, types.ErrUnsupportedNetwork, types.ErrorCode(err))
}

func TestNew_BuildsSolanaClient(t *testing.T) {
	creds := testCredentials(t)
	creds.Network = "mainnet"
	creds.RPCUrl = "https://rpc.example.com"

	d, err := New(creds)
	require.NoError(t, err)
	defer d.Close()

	client, ok := d.client.(*clients.SolanaClient)
	require.True(t, ok)
	assert.Equal(t, "https://rpc.example.com", client.RPCURL())
	assert.Equal(t, types.NetworkMainnet, d.Network())

	key, err := wallet.Decode(creds.PrivateKey)
	require.NoError(t, err)
	assert.Equal(t, key.PublicKey().String(), d.Address())
}

func TestRun_ContinueOnFail_PairsEveryItem(t *testing.T) {
	client := &mockClient{}
	client.On("ParseRequirements", json.RawMessage(`{"version":"1.0"}`)).Return(validRequirements(), nil).Once()
	client.On("ParseRequirements", json.RawMessage(`{malformed json}`)).
		Return(nil, types.NewError(types.ErrParseFailed, "failed to parse payment requirements", errors.New("invalid character 'm'"))).Once()
	client.On("ExecutePayment", mock.Anything, mock.Anything, mock.Anything).Return(paymentResult("sig-1", 0.01), nil).Once()

	d := newTestDispatcher(t, client)
	items := []Item{
		{"operation": "parse402", "response402": `{"version":"1.0"}`},
		{"operation": "parse402", "response402": `{malformed json}`},
		{"operation": "makePayment", "recipient": recipient, "amount": 0.01},
		{"operation": "refund"},
	}

	records, err := d.Run(context.Background(), items, true)
	require.NoError(t, err)
	require.Len(t, records, len(items))

	for i, r := range records {
		assert.Equal(t, i, r.PairedItem.Item)
	}

	parsed, ok := records[0].JSON.(*ParseOutput)
	require.True(t, ok)
	assert.True(t, parsed.Parsed)
	assert.Equal(t, "opt-1", parsed.PaymentDetails.PaymentOptions[0].ID)

	failed, ok := records[1].JSON.(*ErrorOutput)
	require.True(t, ok)
	assert.Contains(t, failed.Error, "failed to parse payment requirements")

	_, ok = records[2].JSON.(*PaymentOutput)
	assert.True(t, ok)

	_, ok = records[3].JSON.(*ErrorOutput)
	assert.True(t, ok)

	client.AssertExpectations(t)
}

func TestRun_ErrorRecordShape(t *testing.T) {
	client := &mockClient{}
	d := newTestDispatcher(t, client)

	records, err := d.Run(context.Background(), []Item{{"operation": "makePayment", "recipient": recipient}}, true)
	require.NoError(t, err)
	require.Len(t, records, 1)

	out, err := json.Marshal(records[0])
	require.NoError(t, err)
	assert.JSONEq(t, `{"json":{"error":"missing required parameter \"amount\""},"pairedItem":{"item":0}}`, string(out))
}

func TestRun_PayOnly(t *testing.T) {
	client := &mockClient{}
	client.On("ExecutePayment", mock.Anything, mock.Anything, mock.MatchedBy(func(req *types.PaymentRequest) bool {
		return req.Amount == 0.25 &&
			req.Recipient == recipient &&
			req.Token == types.TokenNative &&
			req.Network == types.NetworkDevnet &&
			req.Decimals == 9 &&
			req.PaymentOptionID == "manual-1700000000000"
	})).Return(paymentResult("5VERv8NMvzbJMEkV8xnrLkEaWRtSz9CosKDYjCJjBRnbJLgp8uirBgmQpjKhoR4tjF3ZpRzrFmBV6UjKdiSZkQUW", 0.25), nil).Once()

	d := newTestDispatcher(t, client)
	records, err := d.Run(context.Background(), []Item{
		{"operation": "payOnly", "recipient": recipient, "amount": "0.25", "paymentId": ""},
	}, false)
	require.NoError(t, err)
	require.Len(t, records, 1)

	out, ok := records[0].JSON.(*PaymentOutput)
	require.True(t, ok)
	assert.True(t, out.Success)
	assert.NotEmpty(t, out.Signature)
	assert.Equal(t, 0.25, out.Amount)
	assert.Equal(t, recipient, out.Recipient)
	assert.Equal(t, fixedNow.UnixMilli(), out.Timestamp)
	assert.Equal(t,
		"https://explorer.solana.com/tx/"+out.Signature+"?cluster=devnet",
		out.ExplorerURL,
	)

	client.AssertExpectations(t)
}

func TestRun_PayOnly_KeepsPaymentID(t *testing.T) {
	client := &mockClient{}
	client.On("ExecutePayment", mock.Anything, mock.Anything, mock.MatchedBy(func(req *types.PaymentRequest) bool {
		return req.PaymentOptionID == "invoice-42"
	})).Return(paymentResult("sig", 1), nil).Once()

	d := newTestDispatcher(t, client)
	_, err := d.Run(context.Background(), []Item{
		{"operation": "makePayment", "recipient": recipient, "amount": 1, "paymentId": "invoice-42"},
	}, false)
	require.NoError(t, err)
	client.AssertExpectations(t)
}

func TestRun_PayOnly_InvalidAmountNeverReachesClient(t *testing.T) {
	client := &mockClient{}
	d := newTestDispatcher(t, client)

	items := []Item{
		{"operation": "makePayment", "recipient": recipient, "amount": 0},
		{"operation": "makePayment", "recipient": recipient, "amount": 0.0000005},
		{"operation": "makePayment", "recipient": recipient, "amount": -3},
		{"operation": "makePayment", "recipient": recipient, "amount": 0.1234567891},
	}
	records, err := d.Run(context.Background(), items, true)
	require.NoError(t, err)
	require.Len(t, records, len(items))

	for _, r := range records {
		_, ok := r.JSON.(*ErrorOutput)
		assert.True(t, ok)
	}
	client.AssertNotCalled(t, "ExecutePayment", mock.Anything, mock.Anything, mock.Anything)

	_, err = d.Run(context.Background(), items[:1], false)
	assert.Equal(t, types.ErrInvalidParameter, types.ErrorCode(err))
}

func TestRun_ParseAndPay_DelegatesOnce(t *testing.T) {
	payload := `{"x402Version":1,"accepts":[{"scheme":"exact","network":"solana-devnet","maxAmountRequired":"100000","payTo":"` + recipient + `"}]}`

	client := &mockClient{}
	client.On("PayForRequirements", mock.Anything, mock.Anything, json.RawMessage(payload)).
		Return(paymentResult("sig-pp", 0.0001), nil).Once()

	d := newTestDispatcher(t, client)
	records, err := d.Run(context.Background(), []Item{
		{"operation": "parseAndPay", "response402": payload},
	}, false)
	require.NoError(t, err)
	require.Len(t, records, 1)

	out, ok := records[0].JSON.(*PaymentOutput)
	require.True(t, ok)
	assert.Equal(t, "sig-pp", out.Signature)
	assert.Contains(t, out.ExplorerURL, "sig-pp")

	client.AssertExpectations(t)
	client.AssertNotCalled(t, "ParseRequirements", mock.Anything)
	client.AssertNotCalled(t, "ExecutePayment", mock.Anything, mock.Anything, mock.Anything)
}

func TestRun_FailFast_StopsAtFailedItem(t *testing.T) {
	client := &mockClient{}
	client.On("ParseRequirements", json.RawMessage(`{"version":"1.0"}`)).Return(validRequirements(), nil).Once()
	paymentErr := &types.X402Error{Code: types.ErrPaymentFailed, Message: "failed to send transaction", Reason: clients.ErrSendTransaction}
	client.On("ExecutePayment", mock.Anything, mock.Anything, mock.Anything).Return(nil, paymentErr).Once()

	d := newTestDispatcher(t, client)
	items := []Item{
		{"operation": "parse402", "response402": `{"version":"1.0"}`},
		{"operation": "makePayment", "recipient": recipient, "amount": 0.5},
		{"operation": "parseAndPay", "response402": `{"version":"1.0"}`},
	}

	records, err := d.Run(context.Background(), items, false)
	require.Error(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, 0, records[0].PairedItem.Item)

	var itemErr *ItemError
	require.True(t, errors.As(err, &itemErr))
	assert.Equal(t, 1, itemErr.Index)
	assert.Equal(t, types.ErrPaymentFailed, types.ErrorCode(err))
	assert.Same(t, paymentErr, itemErr.Err)

	client.AssertExpectations(t)
	client.AssertNotCalled(t, "PayForRequirements", mock.Anything, mock.Anything, mock.Anything)
}

func TestRun_NilPaymentResultIsAFailure(t *testing.T) {
	client := &mockClient{}
	client.On("ExecutePayment", mock.Anything, mock.Anything, mock.Anything).Return(nil, nil).Once()

	d := newTestDispatcher(t, client)
	_, err := d.Run(context.Background(), []Item{
		{"operation": "makePayment", "recipient": recipient, "amount": 1},
	}, false)
	assert.Equal(t, types.ErrPaymentFailed, types.ErrorCode(err))
}

// Synthesized payment ids only carry millisecond resolution, so two payments
// in the same millisecond share an id.
func TestRun_SynthesizedPaymentIDsCollideWithinAMillisecond(t *testing.T) {
	var (
		mu  sync.Mutex
		ids []string
	)

	client := &mockClient{}
	client.On("ExecutePayment", mock.Anything, mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			mu.Lock()
			defer mu.Unlock()
			ids = append(ids, args.Get(2).(*types.PaymentRequest).PaymentOptionID)
		}).
		Return(paymentResult("sig", 1), nil).Twice()

	d := newTestDispatcher(t, client)
	_, err := d.Run(context.Background(), []Item{
		{"operation": "makePayment", "recipient": recipient, "amount": 1},
		{"operation": "makePayment", "recipient": recipient, "amount": 1},
	}, false)
	require.NoError(t, err)

	require.Len(t, ids, 2)
	assert.Regexp(t, `^manual-\d+$`, ids[0])
	assert.Equal(t, ids[0], ids[1])
}

func TestRun_Concurrent_KeepsInputOrder(t *testing.T) {
	const n = 12

	client := &mockClient{}
	items := make([]Item, n)
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("pay-%d", i)
		items[i] = Item{"operation": "makePayment", "recipient": recipient, "amount": 1, "paymentId": id}

		if i == 5 {
			client.On("ExecutePayment", mock.Anything, mock.Anything, mock.MatchedBy(func(req *types.PaymentRequest) bool {
				return req.PaymentOptionID == id
			})).Return(nil, types.NewError(types.ErrPaymentFailed, "boom", nil)).Once()
			continue
		}

		// Earlier items finish later.
		delay := time.Duration(n-i) * time.Millisecond
		client.On("ExecutePayment", mock.Anything, mock.Anything, mock.MatchedBy(func(req *types.PaymentRequest) bool {
			return req.PaymentOptionID == id
		})).After(delay).Return(paymentResult("sig-"+id, 1), nil).Once()
	}

	d := newTestDispatcher(t, client, WithConcurrency(4))
	records, err := d.Run(context.Background(), items, true)
	require.NoError(t, err)
	require.Len(t, records, n)

	for i, r := range records {
		assert.Equal(t, i, r.PairedItem.Item)
		if i == 5 {
			failed, ok := r.JSON.(*ErrorOutput)
			require.True(t, ok)
			assert.Equal(t, "boom", failed.Error)
			continue
		}
		out, ok := r.JSON.(*PaymentOutput)
		require.True(t, ok)
		assert.Equal(t, fmt.Sprintf("sig-pay-%d", i), out.Signature)
	}

	client.AssertExpectations(t)
}

func TestRun_ConcurrencyIgnoredWhenFailFast(t *testing.T) {
	client := &mockClient{}
	client.On("ExecutePayment", mock.Anything, mock.Anything, mock.Anything).
		Return(nil, types.NewError(types.ErrPaymentFailed, "boom", nil)).Once()

	d := newTestDispatcher(t, client, WithConcurrency(8))
	items := []Item{
		{"operation": "makePayment", "recipient": recipient, "amount": 1},
		{"operation": "makePayment", "recipient": recipient, "amount": 1},
		{"operation": "makePayment", "recipient": recipient, "amount": 1},
	}

	records, err := d.Run(context.Background(), items, false)
	require.Error(t, err)
	assert.Empty(t, records)
	client.AssertNumberOfCalls(t, "ExecutePayment", 1)
}

func TestRun_CancelledContext(t *testing.T) {
	client := &mockClient{}
	d := newTestDispatcher(t, client)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	records, err := d.Run(ctx, []Item{{"operation": "parse402", "response402": "{}"}}, true)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, records)
	client.AssertNotCalled(t, "ParseRequirements", mock.Anything)

	d = newTestDispatcher(t, client, WithConcurrency(2))
	records, err = d.Run(ctx, []Item{
		{"operation": "parse402", "response402": "{}"},
		{"operation": "parse402", "response402": "{}"},
	}, true)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, records)
}

func TestRun_EmptyBatch(t *testing.T) {
	d := newTestDispatcher(t, &mockClient{})

	records, err := d.Run(context.Background(), nil, false)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestRun_Metrics(t *testing.T) {
	client := &mockClient{}
	client.On("ExecutePayment", mock.Anything, mock.Anything, mock.Anything).Return(paymentResult("sig", 1), nil).Once()

	rec := &countingRecorder{}
	d := newTestDispatcher(t, client, WithMetrics(rec))

	_, err := d.Run(context.Background(), []Item{
		{"operation": "makePayment", "recipient": recipient, "amount": 1},
		{"operation": "parse402"},
		{},
	}, true)
	require.NoError(t, err)

	assert.Equal(t, map[string]int{
		"item_succeeded/makePayment/devnet": 1,
		"item_failed/unknown/devnet":        2,
	}, rec.counters)
	assert.Equal(t, 1, rec.observed)
}

func TestRun_LogsNeverContainSecret(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)

	creds := testCredentials(t)
	client := &mockClient{}
	client.On("ExecutePayment", mock.Anything, mock.Anything, mock.Anything).
		Return(nil, types.NewError(types.ErrPaymentFailed, "failed to send transaction", errors.New("insufficient funds"))).Once()

	d, err := New(creds, WithClient(client), WithLogger(logger.NewZap(zap.New(core))))
	require.NoError(t, err)

	_, err = d.Run(context.Background(), []Item{
		{"operation": "makePayment", "recipient": recipient, "amount": 1},
		{"operation": "parse402"},
	}, true)
	require.NoError(t, err)

	entries := logs.AllUntimed()
	require.NotEmpty(t, entries)

	var batchID any
	for _, e := range entries {
		assert.NotContains(t, e.Message, creds.PrivateKey)
		for k, v := range e.ContextMap() {
			assert.NotContains(t, fmt.Sprint(v), creds.PrivateKey, "field %s", k)
		}
		if e.Message == "batch started" {
			batchID = e.ContextMap()["batch_id"]
			assert.Equal(t, d.Address(), e.ContextMap()["address"])
		}
	}
	assert.NotEmpty(t, batchID)

	failures := logs.FilterMessage("item failed").AllUntimed()
	require.Len(t, failures, 2)
	assert.Equal(t, types.ErrPaymentFailed, failures[0].ContextMap()["code"])
	assert.Equal(t, batchID, failures[0].ContextMap()["batch_id"])
	assert.True(t, strings.HasPrefix(fmt.Sprint(failures[1].ContextMap()["error"]), "missing required parameter"))
}

func TestDispatcher_Close(t *testing.T) {
	client := &mockClient{}
	client.On("Close").Return().Once()

	d := newTestDispatcher(t, client)
	d.Close()
	client.AssertExpectations(t)
}
