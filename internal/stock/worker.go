package stock

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/ariefcatur/go-async-orders.git/internal/kafka"
	"github.com/ariefcatur/go-async-orders.git/internal/orders"
	"github.com/ariefcatur/go-async-orders.git/internal/redisx"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"
)

type Stream interface {
	EnsureGroup(ctx context.Context, stream, group string) error
	Claim(ctx context.Context, stream, group, consumer string, count int64, block time.Duration) ([]redisx.Message, error)
	Reclaim(ctx context.Context, stream, group, consumer string, minIdle time.Duration, count int64) ([]redisx.Message, error)
	Ack(ctx context.Context, stream, group string, ids ...string) error
}

type OrderReader interface {
	GetOrderWithItems(ctx context.Context, orderID string) (*orders.Order, error)
}

type StockStore interface {
	Reconcile(ctx context.Context, orderID string, items []orders.OrderItem) (orders.Outcome, error)
	CancelPending(ctx context.Context, orderID string) (bool, error)
}

type Publisher interface {
	Publish(key, value []byte, headers ...kafkago.Header)
}

// Worker mengkonsumsi payment_confirmed (group stock_group) dan
// merekonsiliasi stok per order: semua item ter-reserve atomik, atau order
// dibatalkan tanpa decrement tersisa. Ack hanya setelah transaksi store
// commit (jalur sukses maupun cancel).
type Worker struct {
	Stream    Stream
	Orders    OrderReader
	Stock     StockStore
	Cache     *redis.Client // boleh nil
	Lifecycle Publisher     // boleh nil

	ServiceName string
	Consumer    string
	Batch       int64
	Block       time.Duration
	PendingIdle time.Duration
}

func (w *Worker) Run(ctx context.Context) error {
	if err := w.Stream.EnsureGroup(ctx, orders.StreamPaymentConfirmed, orders.GroupStock); err != nil {
		return err
	}
	log.Printf("stock worker started: group=%s consumer=%s", orders.GroupStock, w.Consumer)

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		msgs := claim(ctx, w.Stream, orders.StreamPaymentConfirmed, orders.GroupStock, w.Consumer, w.Batch, w.Block, w.PendingIdle)
		for _, m := range msgs {
			if err := w.handle(ctx, m); err != nil {
				log.Printf("stock: handle %s: %v", m.ID, err)
			}
		}
	}
}

func (w *Worker) handle(ctx context.Context, m redisx.Message) error {
	res := orders.ParsePaymentResult(m.Values)
	if res.OrderID == "" {
		log.Printf("stock: malformed entry %s, skipping", m.ID)
		return w.ack(ctx, m.ID)
	}

	log.Printf("stock: validating order %s", res.OrderID)

	o, err := w.Orders.GetOrderWithItems(ctx, res.OrderID)
	if errors.Is(err, orders.ErrOrderNotFound) {
		// anomali referensial: redelivery tidak akan bikin order-nya ada
		log.Printf("stock: order %s not found, acking", res.OrderID)
		return w.ack(ctx, m.ID)
	}
	if err != nil {
		return err // transient, biarkan redelivery
	}

	outcome, err := w.Stock.Reconcile(ctx, o.ID, o.Items)
	if errors.Is(err, orders.ErrOrderNotFound) {
		return w.ack(ctx, m.ID)
	}
	if err != nil {
		return err
	}

	switch outcome {
	case orders.OutcomeConfirmed:
		log.Printf("stock: order %s confirmed, stock reserved", o.ID)
		w.setStatusCache(ctx, o.ID, orders.StatusConfirmed)
		w.mirror(orders.EventOrderConfirmed, o.ID, orders.OrderFinalizedPayload{
			OrderID: o.ID, FinalStatus: "CONFIRMED",
		})
	case orders.OutcomeCancelled:
		log.Printf("stock: insufficient stock, order %s cancelled", o.ID)
		w.setStatusCache(ctx, o.ID, orders.StatusCancelled)
		w.mirror(orders.EventOrderCancelled, o.ID, orders.OrderFinalizedPayload{
			OrderID: o.ID, FinalStatus: "CANCELLED", Reason: "OUT_OF_STOCK",
		})
	case orders.OutcomeAlreadyFinal:
		// redelivery utk order yg sudah final: no-op, jangan sentuh stok lagi
		log.Printf("stock: order %s already finalized, acking", o.ID)
	}

	return w.ack(ctx, m.ID)
}

func (w *Worker) ack(ctx context.Context, id string) error {
	return w.Stream.Ack(ctx, orders.StreamPaymentConfirmed, orders.GroupStock, id)
}

func (w *Worker) setStatusCache(ctx context.Context, orderID string, s orders.Status) {
	setStatusCache(ctx, w.Cache, orderID, s)
}

func (w *Worker) mirror(eventType, orderID string, payload any) {
	mirror(w.Lifecycle, w.ServiceName, eventType, orderID, payload)
}

// claim: prioritas pending entry yg nyangkut (consumer mati), baru entry baru.
// Dipakai Worker dan CancelWorker.
func claim(ctx context.Context, s Stream, stream, group, consumer string, batch int64, block, pendingIdle time.Duration) []redisx.Message {
	msgs, err := s.Reclaim(ctx, stream, group, consumer, pendingIdle, batch)
	if err != nil && ctx.Err() == nil {
		log.Printf("stock: reclaim %s: %v", stream, err)
	}
	if len(msgs) > 0 {
		return msgs
	}

	msgs, err = s.Claim(ctx, stream, group, consumer, batch, block)
	if err != nil && ctx.Err() == nil {
		log.Printf("stock: claim %s: %v", stream, err)
		t := time.NewTimer(200 * time.Millisecond) // backoff ringan biar gak spin saat redis down
		defer t.Stop()
		select {
		case <-ctx.Done():
		case <-t.C:
		}
	}
	return msgs
}

func setStatusCache(ctx context.Context, cache *redis.Client, orderID string, s orders.Status) {
	if cache == nil {
		return
	}
	key := fmt.Sprintf(redisx.KeyOrderStatus, orderID)
	body := fmt.Sprintf(`{"status":%q}`, s)
	if err := cache.Set(ctx, key, body, redisx.TTLStatusCache).Err(); err != nil {
		log.Printf("stock: status cache %s: %v", orderID, err)
	}
}

func mirror(pub Publisher, producer, eventType, orderID string, payload any) {
	if pub == nil {
		return
	}
	ev := orders.Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      producer,
		CorrelationID: orderID,
		Payload:       kafka.MustMarshal(payload),
	}
	pub.Publish(orders.PartitionKey(orderID), kafka.MustMarshal(ev),
		kafkago.Header{Key: "x-event-type", Value: []byte(eventType)},
		kafkago.Header{Key: "x-event-version", Value: []byte("1")},
	)
}
