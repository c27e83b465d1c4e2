// Package x402 pays HTTP 402 payment requirements in native SOL.
//
// A Dispatcher is built once from credentials and then runs batches of
// items. Each item selects one operation: parse a 402 body (parse402), send a
// payment (makePayment), or let the payment client parse and pay a 402 body
// in one call (parseAndPay).
package x402

// Version information
const (
	Version         = "1.0.0"
	ProtocolVersion = 1
)

// GetVersion returns version information
func GetVersion() map[string]interface{} {
	return map[string]interface{}{
		"library_version":  Version,
		"protocol_version": ProtocolVersion,
		"supported_networks": []string{
			"devnet", "mainnet-beta",
		},
		"supported_operations": []string{
			string(OperationParse), string(OperationPay), string(OperationParseAndPay),
		},
		"supported_tokens": []string{
			"native",
		},
	}
}
