package main

import (
	"github.com/spf13/cobra"

	"github.com/vitwit/x402-pocket/wallet"
)

func walletCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "wallet",
		Short: "Manage payer keypairs",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "generate",
		Short: "Generate a new keypair and print its address and base58 private key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			w, err := wallet.Generate()
			if err != nil {
				return err
			}
			return writeJSON(cmd, w)
		},
	})

	return cmd
}
