package payment

import (
	"context"
	"log"
	"math/rand"
	"time"

	"github.com/ariefcatur/go-async-orders.git/internal/kafka"
	"github.com/ariefcatur/go-async-orders.git/internal/orders"
	"github.com/ariefcatur/go-async-orders.git/internal/redisx"
	"github.com/google/uuid"
	kafkago "github.com/segmentio/kafka-go"
)

// Stream: operasi yg dibutuhkan worker dari layer stream (redisx.Streams).
type Stream interface {
	EnsureGroup(ctx context.Context, stream, group string) error
	Claim(ctx context.Context, stream, group, consumer string, count int64, block time.Duration) ([]redisx.Message, error)
	Reclaim(ctx context.Context, stream, group, consumer string, minIdle time.Duration, count int64) ([]redisx.Message, error)
	Ack(ctx context.Context, stream, group string, ids ...string) error
	Append(ctx context.Context, stream string, values map[string]any) (string, error)
}

// Publisher: mirror lifecycle event ke Kafka (best-effort, boleh nil).
type Publisher interface {
	Publish(key, value []byte, headers ...kafkago.Header)
}

// Worker mengkonsumsi payment_requests (group payment_group), simulasi
// keputusan pembayaran, lalu append hasilnya ke payment_confirmed atau
// payment_failed. Ack HANYA setelah append downstream sukses: crash di
// tengah berarti redelivery dan percobaan pembayaran baru yg independen,
// bukan order yg hilang.
type Worker struct {
	Stream      Stream
	Lifecycle   Publisher
	ServiceName string

	Consumer    string
	Batch       int64
	Block       time.Duration
	PendingIdle time.Duration

	SuccessRate float64
	Delay       time.Duration

	// override utk test; default rand / timer beneran
	Decide func() bool
	Sleep  func(ctx context.Context, d time.Duration)
}

// Run: loop claim -> process -> ack sampai ctx selesai. Error per event
// cuma di-log (tanpa ack, biar di-redeliver); hanya gagal bikin consumer
// group yg dianggap fatal.
func (w *Worker) Run(ctx context.Context) error {
	if err := w.Stream.EnsureGroup(ctx, orders.StreamPaymentRequests, orders.GroupPayment); err != nil {
		return err
	}
	log.Printf("payment worker started: group=%s consumer=%s", orders.GroupPayment, w.Consumer)

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		msgs := w.claim(ctx)
		for _, m := range msgs {
			if err := w.handle(ctx, m); err != nil {
				// no ack -> entry tetap pending, nanti di-redeliver
				log.Printf("payment: handle %s: %v", m.ID, err)
			}
		}
	}
}

// claim: prioritas entry pending yg nyangkut di consumer mati, baru entry baru.
func (w *Worker) claim(ctx context.Context) []redisx.Message {
	msgs, err := w.Stream.Reclaim(ctx, orders.StreamPaymentRequests, orders.GroupPayment, w.Consumer, w.PendingIdle, w.Batch)
	if err != nil && ctx.Err() == nil {
		log.Printf("payment: reclaim: %v", err)
	}
	if len(msgs) > 0 {
		return msgs
	}

	msgs, err = w.Stream.Claim(ctx, orders.StreamPaymentRequests, orders.GroupPayment, w.Consumer, w.Batch, w.Block)
	if err != nil && ctx.Err() == nil {
		log.Printf("payment: claim: %v", err)
		w.sleep(ctx, 200*time.Millisecond) // backoff ringan biar gak spin saat redis down
	}
	return msgs
}

func (w *Worker) handle(ctx context.Context, m redisx.Message) error {
	req := orders.ParsePaymentRequest(m.Values)
	if req.OrderID == "" {
		// record cacat, redelivery tidak akan memperbaikinya
		log.Printf("payment: malformed entry %s, skipping", m.ID)
		return w.Stream.Ack(ctx, orders.StreamPaymentRequests, orders.GroupPayment, m.ID)
	}

	log.Printf("payment: processing order %s (customer %s)", req.OrderID, req.CustomerID)
	w.sleep(ctx, w.Delay)

	// Keputusan independen per attempt: redelivery = percobaan baru.
	if w.decide() {
		if _, err := w.Stream.Append(ctx, orders.StreamPaymentConfirmed,
			orders.PaymentResultValues(req.OrderID, "CONFIRMED")); err != nil {
			return err
		}
		log.Printf("payment: order %s confirmed", req.OrderID)
		w.mirror(orders.EventPaymentConfirmed, req.OrderID, orders.PaymentResultPayload{
			OrderID: req.OrderID, Status: "CONFIRMED",
		})
	} else {
		if _, err := w.Stream.Append(ctx, orders.StreamPaymentFailed,
			orders.PaymentResultValues(req.OrderID, "FAILED")); err != nil {
			return err
		}
		log.Printf("payment: order %s failed", req.OrderID)
		w.mirror(orders.EventPaymentFailed, req.OrderID, orders.PaymentResultPayload{
			OrderID: req.OrderID, Status: "FAILED",
		})
	}

	return w.Stream.Ack(ctx, orders.StreamPaymentRequests, orders.GroupPayment, m.ID)
}

func (w *Worker) decide() bool {
	if w.Decide != nil {
		return w.Decide()
	}
	return rand.Float64() < w.SuccessRate
}

func (w *Worker) sleep(ctx context.Context, d time.Duration) {
	if w.Sleep != nil {
		w.Sleep(ctx, d)
		return
	}
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

func (w *Worker) mirror(eventType, orderID string, payload any) {
	if w.Lifecycle == nil {
		return
	}
	ev := orders.Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      w.ServiceName,
		CorrelationID: orderID,
		Payload:       kafka.MustMarshal(payload),
	}
	w.Lifecycle.Publish(orders.PartitionKey(orderID), kafka.MustMarshal(ev),
		kafkago.Header{Key: "x-event-type", Value: []byte(eventType)},
		kafkago.Header{Key: "x-event-version", Value: []byte("1")},
	)
}
