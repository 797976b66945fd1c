package redisx

import "time"

const (
	// Settled payment callback: webhook:done:{transaction_id} -> "1"
	KeyWebhookDone = "webhook:done:%s"

	// Cached order view: order:{order_id} -> order JSON
	KeyOrder = "order:{%s}"

	// Highest order version invalidated: order:fence:{order_id} -> version.
	// Shares the hash tag with KeyOrder so both fit one script.
	KeyOrderFence = "order:fence:{%s}"

	// Dedup event processing: dedup:{service}:{event_id}
	KeyDedup = "dedup:%s:%s"
)

var (
	TTLWebhookDone = 24 * time.Hour
	TTLOrderCache  = 5 * time.Minute
	TTLOrderFence  = 10 * time.Minute
	TTLDedup       = 48 * time.Hour
)
