package x402

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/vitwit/x402-pocket/types"
	"github.com/vitwit/x402-pocket/utils"
)

// Item is one input element of a batch.
type Item map[string]any

// Item fields read by the dispatcher.
const (
	FieldOperation   = "operation"
	FieldResponse402 = "response402"
	FieldRecipient   = "recipient"
	FieldAmount      = "amount"
	FieldPaymentID   = "paymentId"
)

// OperationKind selects what the dispatcher does with an item.
type OperationKind string

const (
	OperationParse       OperationKind = "parse402"
	OperationPay         OperationKind = "makePayment"
	OperationParseAndPay OperationKind = "parseAndPay"
)

// ParseOperationKind maps an operation name to its kind. "parseOnly" and
// "payOnly" are accepted for parse402 and makePayment.
func ParseOperationKind(s string) (OperationKind, error) {
	switch strings.TrimSpace(s) {
	case string(OperationParse), "parseOnly":
		return OperationParse, nil
	case string(OperationPay), "payOnly":
		return OperationPay, nil
	case string(OperationParseAndPay):
		return OperationParseAndPay, nil
	case "":
		return "", missingParameter(FieldOperation)
	default:
		return "", invalidParameter(FieldOperation, fmt.Sprintf("unknown operation %q", s), nil)
	}
}

// Operation is one validated unit of work. It is implemented by
// *ParseOperation, *PayOperation and *ParseAndPayOperation only.
type Operation interface {
	Kind() OperationKind
	isOperation()
}

// ParseOperation parses a 402 payload without paying.
type ParseOperation struct {
	Payload json.RawMessage `json:"response402" validate:"required"`
}

// PayOperation sends a native-token payment to a recipient.
type PayOperation struct {
	Recipient string  `json:"recipient" validate:"required"`
	Amount    float64 `json:"amount" validate:"gte=0.000001,maxdecimals=9"`
	// PaymentID is optional; the dispatcher synthesizes one when empty.
	PaymentID string `json:"paymentId"`
}

// ParseAndPayOperation hands a 402 payload to the client, which both parses
// and pays it.
type ParseAndPayOperation struct {
	Payload json.RawMessage `json:"response402" validate:"required"`
}

func (*ParseOperation) Kind() OperationKind       { return OperationParse }
func (*PayOperation) Kind() OperationKind         { return OperationPay }
func (*ParseAndPayOperation) Kind() OperationKind { return OperationParseAndPay }

func (*ParseOperation) isOperation()       {}
func (*PayOperation) isOperation()         {}
func (*ParseAndPayOperation) isOperation() {}

// DecodeOperation reads the operation selector of item and builds the
// matching, validated Operation. Missing fields yield MISSING_PARAMETER,
// malformed or out of range ones INVALID_PARAMETER.
func DecodeOperation(item Item) (Operation, error) {
	name, err := stringField(item, FieldOperation)
	if err != nil {
		return nil, err
	}

	kind, err := ParseOperationKind(name)
	if err != nil {
		return nil, err
	}

	var op Operation
	switch kind {
	case OperationParse:
		payload, err := payloadField(item, FieldResponse402)
		if err != nil {
			return nil, err
		}
		op = &ParseOperation{Payload: payload}

	case OperationParseAndPay:
		payload, err := payloadField(item, FieldResponse402)
		if err != nil {
			return nil, err
		}
		op = &ParseAndPayOperation{Payload: payload}

	case OperationPay:
		pay, err := decodePay(item)
		if err != nil {
			return nil, err
		}
		op = pay
	}

	if err := utils.ValidateStruct(op); err != nil {
		return nil, &types.X402Error{
			Code:    types.ErrInvalidParameter,
			Message: fmt.Sprintf("invalid %s parameters", kind),
			Cause:   err,
		}
	}

	return op, nil
}

func decodePay(item Item) (*PayOperation, error) {
	recipient, err := stringField(item, FieldRecipient)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(recipient) == "" {
		return nil, missingParameter(FieldRecipient)
	}

	amount, err := amountField(item, FieldAmount)
	if err != nil {
		return nil, err
	}

	paymentID, err := stringField(item, FieldPaymentID)
	if err != nil {
		return nil, err
	}

	return &PayOperation{
		Recipient: strings.TrimSpace(recipient),
		Amount:    amount,
		PaymentID: strings.TrimSpace(paymentID),
	}, nil
}

// stringField returns "" for an absent or null field.
func stringField(item Item, key string) (string, error) {
	v, ok := item[key]
	if !ok || v == nil {
		return "", nil
	}

	s, ok := v.(string)
	if !ok {
		return "", invalidParameter(key, fmt.Sprintf("%s must be a string, got %T", key, v), nil)
	}
	return s, nil
}

// payloadField accepts a 402 body as JSON text or as an already decoded value.
func payloadField(item Item, key string) (json.RawMessage, error) {
	v, ok := item[key]
	if !ok || v == nil {
		return nil, missingParameter(key)
	}

	switch p := v.(type) {
	case string:
		if strings.TrimSpace(p) == "" {
			return nil, missingParameter(key)
		}
		return json.RawMessage(p), nil
	case json.RawMessage:
		if len(p) == 0 {
			return nil, missingParameter(key)
		}
		return p, nil
	case []byte:
		if len(p) == 0 {
			return nil, missingParameter(key)
		}
		return json.RawMessage(p), nil
	default:
		raw, err := json.Marshal(p)
		if err != nil {
			return nil, invalidParameter(key, fmt.Sprintf("%s is not JSON encodable", key), err)
		}
		return raw, nil
	}
}

// amountField accepts numbers, json.Number and numeric strings.
func amountField(item Item, key string) (float64, error) {
	v, ok := item[key]
	if !ok || v == nil {
		return 0, missingParameter(key)
	}

	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	case json.Number:
		d, err := decimal.NewFromString(n.String())
		if err != nil {
			return 0, invalidParameter(key, fmt.Sprintf("%s %q is not a number", key, n), err)
		}
		f = d.InexactFloat64()
	case string:
		if strings.TrimSpace(n) == "" {
			return 0, missingParameter(key)
		}
		d, err := decimal.NewFromString(strings.TrimSpace(n))
		if err != nil {
			return 0, invalidParameter(key, fmt.Sprintf("%s %q is not a number", key, n), err)
		}
		f = d.InexactFloat64()
	default:
		return 0, invalidParameter(key, fmt.Sprintf("%s must be a number, got %T", key, v), nil)
	}

	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, invalidParameter(key, fmt.Sprintf("%s must be a finite number", key), nil)
	}
	return f, nil
}

func missingParameter(field string) error {
	return &types.X402Error{
		Code:    types.ErrMissingParameter,
		Message: fmt.Sprintf("missing required parameter %q", field),
	}
}

func invalidParameter(field, message string, cause error) error {
	return &types.X402Error{
		Code:    types.ErrInvalidParameter,
		Message: message,
		Reason:  field,
		Cause:   cause,
	}
}
