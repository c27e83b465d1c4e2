package metrics

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrometheusRecorder(t *testing.T) {
	reg := prometheus.NewPedanticRegistry()
	r, err := NewPrometheusRecorder(reg)
	require.NoError(t, err)

	labels := map[string]string{"operation": "makePayment", "network": "devnet"}
	r.IncCounter(ItemSucceeded, labels)
	r.IncCounter(ItemSucceeded, labels)
	r.IncCounter(ItemFailed, map[string]string{"operation": "parse402", "network": "devnet"})
	r.ObserveLatency("makePayment", 250*time.Millisecond, labels)

	assert.Equal(t, 2.0, testutil.ToFloat64(r.counters.WithLabelValues(ItemSucceeded, "makePayment", "devnet")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.counters.WithLabelValues(ItemFailed, "parse402", "devnet")))

	expected := `
# HELP x402_pocket_items_total Processed batch items by outcome
# TYPE x402_pocket_items_total counter
x402_pocket_items_total{network="devnet",operation="makePayment",type="item_succeeded"} 2
x402_pocket_items_total{network="devnet",operation="parse402",type="item_failed"} 1
`
	require.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "x402_pocket_items_total"))
	assert.Equal(t, 1, testutil.CollectAndCount(r.histogram))
}

func TestPrometheusRecorder_DuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := NewPrometheusRecorder(reg)
	require.NoError(t, err)

	_, err = NewPrometheusRecorder(reg)
	assert.Error(t, err)
}

func TestNoopRecorder(t *testing.T) {
	var r Recorder = NoopRecorder{}
	assert.NotPanics(t, func() {
		r.IncCounter(ItemFailed, nil)
		r.ObserveLatency("parse402", time.Second, nil)
	})
}
