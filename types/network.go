package types

import (
	"fmt"
	"strings"

	"github.com/gagliardetto/solana-go/rpc"
)

// Network represents a supported Solana cluster
type Network string

const (
	NetworkDevnet  Network = "devnet"
	NetworkMainnet Network = "mainnet-beta"
)

// explorerBaseURL is the transaction page of the Solana explorer.
const explorerBaseURL = "https://explorer.solana.com/tx/"

// ParseNetwork maps a cluster name or one of its aliases to a Network.
func ParseNetwork(s string) (Network, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "devnet", "solana-devnet":
		return NetworkDevnet, nil
	case "mainnet-beta", "mainnet", "solana", "solana-mainnet":
		return NetworkMainnet, nil
	default:
		return "", &X402Error{
			Code:    ErrUnsupportedNetwork,
			Message: fmt.Sprintf("unsupported network: %q", s),
		}
	}
}

func (n Network) IsTestnet() bool {
	return n == NetworkDevnet
}

// DefaultRPCURL returns the public RPC endpoint of the cluster.
func (n Network) DefaultRPCURL() string {
	if n == NetworkMainnet {
		return rpc.MainNetBeta_RPC
	}
	return rpc.DevNet_RPC
}

// ExplorerURL links a transaction signature to the explorer page of the cluster.
func (n Network) ExplorerURL(signature string) string {
	return explorerBaseURL + signature + "?cluster=" + string(n)
}

func (n Network) String() string {
	return string(n)
}
