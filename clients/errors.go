package clients

// Failure reasons attached to PAYMENT_ERROR results.
const (
	// -----------------------------
	// REQUEST
	// -----------------------------
	ErrInvalidPaymentRequest = "invalid_payment_request"
	ErrUnsupportedToken      = "unsupported_token"
	ErrNetworkMismatch       = "network_mismatch"
	ErrInvalidRecipient      = "invalid_recipient"
	ErrInvalidAmount         = "invalid_amount"
	ErrNoMatchingOption      = "no_matching_payment_option"

	// -----------------------------
	// TRANSACTION
	// -----------------------------
	ErrBlockhashUnavailable = "blockhash_unavailable"
	ErrBuildTransaction     = "build_transaction_failed"
	ErrSignTransaction      = "sign_transaction_failed"
	ErrSendTransaction      = "send_transaction_failed"

	// -----------------------------
	// CONFIRMATION
	// -----------------------------
	ErrTransactionFailed    = "transaction_failed"
	ErrConfirmationTimedOut = "transaction_confirmation_timed_out"
)
