package metrics

import "time"

// Event names recorded by the dispatcher.
const (
	ItemSucceeded = "item_succeeded"
	ItemFailed    = "item_failed"
)

// Recorder receives dispatcher events. Labels carry "operation" and "network".
type Recorder interface {
	IncCounter(name string, labels map[string]string)
	ObserveLatency(name string, duration time.Duration, labels map[string]string)
}
