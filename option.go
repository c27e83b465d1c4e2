package x402

import (
	"time"

	"github.com/vitwit/x402-pocket/clients"
	"github.com/vitwit/x402-pocket/logger"
	"github.com/vitwit/x402-pocket/metrics"
)

type Option func(*Dispatcher)

func WithLogger(l logger.Logger) Option {
	return func(d *Dispatcher) {
		d.logger = l
	}
}

func WithMetrics(r metrics.Recorder) Option {
	return func(d *Dispatcher) {
		d.metrics = r
	}
}

// WithClient replaces the Solana client built from the credentials.
func WithClient(c clients.Client) Option {
	return func(d *Dispatcher) {
		d.client = c
	}
}

// WithConcurrency lets batches that tolerate failures process up to n items
// at once. Fail-fast batches are always sequential.
func WithConcurrency(n int) Option {
	return func(d *Dispatcher) {
		d.concurrency = n
	}
}

// WithClock sets the clock used for synthesized payment ids and latencies.
func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) {
		d.now = now
	}
}
