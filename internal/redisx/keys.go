package redisx

import "time"

const (
	// idem:order:create:{idempotency_key} -> "" while claimed, then the stored response
	KeyIdemOrderCreate = "idem:order:create:%s"

	// order_status:{order_id} -> {"status": "...", "updated_at": "..."}
	KeyOrderStatus = "order_status:%s"

	// dedup:{service}:{event_id}
	KeyDedup = "dedup:%s:%s"
)

var (
	TTLIdempotency      = 24 * time.Hour
	TTLIdempotencyClaim = time.Minute
	TTLStatusCache      = 5 * time.Minute
	TTLDedup            = 48 * time.Hour
)
