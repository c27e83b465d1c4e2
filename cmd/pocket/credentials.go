package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/vitwit/x402-pocket/clients"
	"github.com/vitwit/x402-pocket/types"
	"github.com/vitwit/x402-pocket/utils"
	"github.com/vitwit/x402-pocket/wallet"
)

func credentialsCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "credentials",
		Short: "Inspect the configured credentials",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "test",
		Short: "Decode the private key and query the balance of its address",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return testCredentials(cmd, v)
		},
	})

	return cmd
}

type credentialsReport struct {
	Address  string `json:"address"`
	Network  string `json:"network"`
	Lamports uint64 `json:"lamports"`
	Balance  string `json:"balance"`
}

func testCredentials(cmd *cobra.Command, v *viper.Viper) error {
	key, err := wallet.Decode(v.GetString(keyPrivateKey))
	if err != nil {
		return err
	}

	creds, err := validatedCredentials(v)
	if err != nil {
		return err
	}

	client, err := clients.NewSolanaClient(creds.Network, creds.RPCUrl)
	if err != nil {
		return err
	}
	defer client.Close()

	address := key.PublicKey().String()
	lamports, err := client.Balance(cmd.Context(), address)
	if err != nil {
		return fmt.Errorf("credentials test failed: %w", err)
	}

	balance, err := utils.FormatAmountFromAtomic(strconv.FormatUint(lamports, 10), types.NativeDecimals)
	if err != nil {
		return err
	}

	return writeJSON(cmd, credentialsReport{
		Address:  address,
		Network:  creds.Network.String(),
		Lamports: lamports,
		Balance:  balance.String(),
	})
}
