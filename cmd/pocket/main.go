// Command pocket runs x402 payment batches from JSON files.
package main

import (
	"os"

	"github.com/spf13/viper"
)

func main() {
	if err := rootCmd(viper.New()).Execute(); err != nil {
		os.Exit(1)
	}
}
