package orders

import (
	"encoding/json"
	"time"
)

// Lifecycle events di-mirror ke Kafka (topic order.lifecycle) untuk
// konsumen eksternal (analytics, notifikasi). Pipeline sendiri jalan di
// Redis Streams; Kafka di sini produce-only.
const (
	TopicOrderLifecycle = "order.lifecycle"

	EventOrderCreated     = "OrderCreated"
	EventPaymentConfirmed = "PaymentConfirmed"
	EventPaymentFailed    = "PaymentFailed"
	EventOrderConfirmed   = "OrderConfirmed"
	EventOrderCancelled   = "OrderCancelled"
)

type Envelope struct {
	EventID       string          `json:"event_id"`      // uuid
	EventType     string          `json:"event_type"`    // salah satu const di atas
	EventVersion  int             `json:"event_version"` // 1
	OccurredAt    time.Time       `json:"occurred_at"`   // RFC3339
	Producer      string          `json:"producer"`      // e.g., "order-api"
	CorrelationID string          `json:"correlation_id,omitempty"` // biasanya order_id
	Payload       json.RawMessage `json:"payload"`
}

// ---- Payload tipe per event ----

type OrderCreatedPayload struct {
	OrderID    string `json:"order_id"`
	CustomerID string `json:"customer_id"`
	ItemCount  int    `json:"item_count"`
}

type PaymentResultPayload struct {
	OrderID string `json:"order_id"`
	Status  string `json:"status"` // CONFIRMED | FAILED
}

type OrderFinalizedPayload struct {
	OrderID     string `json:"order_id"`
	FinalStatus string `json:"final_status"` // CONFIRMED | CANCELLED
	Reason      string `json:"reason,omitempty"`
}

// Partition key = order_id, supaya semua event 1 order maintain urutan.
func PartitionKey(orderID string) []byte { return []byte(orderID) }
