package utils

import (
	"encoding/json"
	"fmt"
	"math"
	"math/big"
	"regexp"

	"github.com/shopspring/decimal"
)

// MinAmount is the smallest native amount a payment may carry (1000 lamports).
var MinAmount = decimal.New(1, -6)

var base58Pattern = regexp.MustCompile("^[1-9A-HJ-NP-Za-km-z]+$")

// ValidateJSON validates that a string is valid JSON
func ValidateJSON(data string) error {
	var js json.RawMessage
	return json.Unmarshal([]byte(data), &js)
}

// ValidateAmount checks if an amount string is a valid decimal
func ValidateAmount(amount string) (*decimal.Decimal, error) {
	if amount == "" {
		return nil, fmt.Errorf("amount cannot be empty")
	}

	dec, err := decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("invalid amount format: %w", err)
	}

	if dec.IsNegative() {
		return nil, fmt.Errorf("amount cannot be negative")
	}

	return &dec, nil
}

// DecimalFromFloat converts a host number to a decimal, rejecting NaN and infinities.
func DecimalFromFloat(f float64) (decimal.Decimal, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return decimal.Zero, fmt.Errorf("amount must be a finite number")
	}
	return decimal.NewFromFloat(f), nil
}

// ValidatePrecision checks that amount has at most decimals fractional digits.
func ValidatePrecision(amount decimal.Decimal, decimals int) error {
	if !amount.Shift(int32(decimals)).IsInteger() {
		return fmt.Errorf("amount %s has more than %d decimal places", amount.String(), decimals)
	}
	return nil
}

// ValidatePaymentAmount enforces the minimum and the precision of a native payment.
func ValidatePaymentAmount(f float64, decimals int) (decimal.Decimal, error) {
	amount, err := DecimalFromFloat(f)
	if err != nil {
		return decimal.Zero, err
	}

	if amount.LessThan(MinAmount) {
		return decimal.Zero, fmt.Errorf("amount must be at least %s, got %s", MinAmount.String(), amount.String())
	}

	if err := ValidatePrecision(amount, decimals); err != nil {
		return decimal.Zero, err
	}

	return amount, nil
}

// ValidateSolanaAddress validates a base58 Solana address, typically 32-44 characters
func ValidateSolanaAddress(address string) error {
	if address == "" {
		return fmt.Errorf("address cannot be empty")
	}

	if len(address) < 32 || len(address) > 44 {
		return fmt.Errorf("Solana address has invalid length")
	}

	if !base58Pattern.MatchString(address) {
		return fmt.Errorf("Solana address must be valid base58")
	}

	return nil
}

// ParseAmountWithDecimals converts a decimal amount to atomic units. Amounts that
// would need more precision than decimals are rejected rather than rounded.
func ParseAmountWithDecimals(amount decimal.Decimal, decimals int) (*big.Int, error) {
	if err := ValidatePrecision(amount, decimals); err != nil {
		return nil, err
	}

	return amount.Shift(int32(decimals)).BigInt(), nil
}

// FormatAmountFromAtomic formats an atomic amount string to a decimal with the specified decimals
func FormatAmountFromAtomic(atomic string, decimals int) (decimal.Decimal, error) {
	dec, err := ValidateAmount(atomic)
	if err != nil {
		return decimal.Zero, err
	}

	if !dec.IsInteger() {
		return decimal.Zero, fmt.Errorf("atomic amount %s is not an integer", atomic)
	}

	return dec.Shift(-int32(decimals)), nil
}
