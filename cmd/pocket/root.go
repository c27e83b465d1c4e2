package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/vitwit/x402-pocket/logger"
	"github.com/vitwit/x402-pocket/types"
	"github.com/vitwit/x402-pocket/utils"
)

const envPrefix = "POCKET"

// Configuration keys shared by flags, POCKET_* variables and the config file.
const (
	keyNetwork    = "network"
	keyPrivateKey = "private-key"
	keyRPCURL     = "rpc-url"
	keyLogLevel   = "log-level"
)

func rootCmd(v *viper.Viper) *cobra.Command {
	var configFile string

	cmd := &cobra.Command{
		Use:           "pocket",
		Short:         "Pay x402 payment requirements with native SOL.",
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if configFile == "" {
				return nil
			}
			v.SetConfigFile(configFile)
			if err := v.ReadInConfig(); err != nil {
				return fmt.Errorf("reading config file %s: %w", configFile, err)
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVar(&configFile, "config", "", "Path of a config file (json, yaml or toml)")
	flags.String(keyNetwork, string(types.NetworkDevnet), `Solana cluster: "devnet" or "mainnet-beta"`)
	flags.String(keyPrivateKey, "", "Base58 encoded 64 byte secret key of the payer")
	flags.String(keyRPCURL, "", "RPC endpoint, defaults to the public endpoint of the network")
	flags.String(keyLogLevel, "info", `Log level: "debug", "info", "warn" or "error"`)

	for _, key := range []string{keyNetwork, keyPrivateKey, keyRPCURL, keyLogLevel} {
		if err := v.BindPFlag(key, flags.Lookup(key)); err != nil {
			panic(err)
		}
	}
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	cmd.AddCommand(runCmd(v))
	cmd.AddCommand(credentialsCmd(v))
	cmd.AddCommand(walletCmd())

	return cmd
}

func credentialsFromConfig(v *viper.Viper) types.Credentials {
	return types.Credentials{
		Network:    types.Network(v.GetString(keyNetwork)),
		PrivateKey: v.GetString(keyPrivateKey),
		RPCUrl:     v.GetString(keyRPCURL),
	}
}

// validatedCredentials reads the credentials and normalizes the network.
func validatedCredentials(v *viper.Viper) (types.Credentials, error) {
	creds := credentialsFromConfig(v)
	if err := utils.ValidateCredentials(&creds); err != nil {
		return types.Credentials{}, err
	}
	return creds, nil
}

func newLogger(v *viper.Viper) logger.Logger {
	return logger.NewZapLogger(v.GetString(keyLogLevel))
}

func writeJSON(cmd *cobra.Command, value any) error {
	out, err := utils.NormalizeJSON(value)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cmd.OutOrStdout(), string(out))
	return err
}
