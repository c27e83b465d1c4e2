package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	x402 "github.com/vitwit/x402-pocket"
	"github.com/vitwit/x402-pocket/metrics"
)

type runOptions struct {
	itemsPath      string
	continueOnFail bool
	concurrency    int
	metricsFile    string
}

func runCmd(v *viper.Viper) *cobra.Command {
	opts := runOptions{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a batch of parse402, makePayment and parseAndPay items",
		Long: `Reads a JSON array of items and prints one record per processed item.

Each item carries an "operation" of parse402, makePayment or parseAndPay and
the fields of that operation: "response402" for parsing, "recipient",
"amount" and an optional "paymentId" for payments.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBatch(cmd, v, opts)
		},
	}

	cmd.Flags().StringVar(&opts.itemsPath, "items", "-", `JSON file holding the items, "-" reads stdin`)
	cmd.Flags().BoolVar(&opts.continueOnFail, "continue-on-fail", false, "Record failed items and keep going")
	cmd.Flags().IntVar(&opts.concurrency, "concurrency", 1, "Items processed at once when --continue-on-fail is set")
	cmd.Flags().StringVar(&opts.metricsFile, "metrics-file", "", "Write Prometheus metrics of the run to this file")

	return cmd
}

func runBatch(cmd *cobra.Command, v *viper.Viper, opts runOptions) error {
	items, err := readItems(cmd, opts.itemsPath)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	recorder, err := metrics.NewPrometheusRecorder(reg)
	if err != nil {
		return err
	}

	log := newLogger(v)
	dispatcher, err := x402.New(
		credentialsFromConfig(v),
		x402.WithLogger(log),
		x402.WithMetrics(recorder),
		x402.WithConcurrency(opts.concurrency),
	)
	if err != nil {
		return err
	}
	defer dispatcher.Close()

	records, runErr := dispatcher.Run(cmd.Context(), items, opts.continueOnFail)

	if err := writeJSON(cmd, records); err != nil {
		return err
	}

	if opts.metricsFile != "" {
		if err := prometheus.WriteToTextfile(opts.metricsFile, reg); err != nil {
			return fmt.Errorf("writing metrics: %w", err)
		}
	}

	return runErr
}

func readItems(cmd *cobra.Command, path string) ([]x402.Item, error) {
	var r io.Reader
	if path == "" || path == "-" {
		r = cmd.InOrStdin()
	} else {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("opening items: %w", err)
		}
		defer f.Close()
		r = f
	}

	dec := json.NewDecoder(r)
	dec.UseNumber()

	var items []x402.Item
	if err := dec.Decode(&items); err != nil {
		return nil, fmt.Errorf("decoding items: %w", err)
	}
	return items, nil
}
