package x402

import (
	"fmt"

	"github.com/vitwit/x402-pocket/types"
)

// Record is one output element of a batch, paired with the input item it
// was produced from.
type Record struct {
	JSON       any        `json:"json"`
	PairedItem PairedItem `json:"pairedItem"`
}

// PairedItem holds the zero-based index of the input item.
type PairedItem struct {
	Item int `json:"item"`
}

// ParseOutput is the output of a parse402 item.
type ParseOutput struct {
	Parsed         bool                       `json:"parsed"`
	PaymentDetails *types.PaymentRequirements `json:"paymentDetails"`
}

// PaymentOutput is the output of makePayment and parseAndPay items.
type PaymentOutput struct {
	Success     bool    `json:"success"`
	Signature   string  `json:"signature"`
	Amount      float64 `json:"amount"`
	Recipient   string  `json:"recipient"`
	Timestamp   int64   `json:"timestamp"`
	ExplorerURL string  `json:"explorerUrl"`
}

// ErrorOutput replaces the output of a failed item when failures are tolerated.
type ErrorOutput struct {
	Error string `json:"error"`
}

// ItemError is returned by Run when an item fails and failures are not
// tolerated. Index is zero-based.
type ItemError struct {
	Index int
	Err   error
}

func (e *ItemError) Error() string {
	return fmt.Sprintf("item %d: %v", e.Index, e.Err)
}

func (e *ItemError) Unwrap() error {
	return e.Err
}

func newRecord(index int, output any) Record {
	return Record{JSON: output, PairedItem: PairedItem{Item: index}}
}

func errorRecord(index int, err error) Record {
	return newRecord(index, &ErrorOutput{Error: err.Error()})
}
