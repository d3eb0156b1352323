package stock

import (
	"context"
	"log"
	"time"

	"github.com/ariefcatur/go-async-orders.git/internal/orders"
	"github.com/ariefcatur/go-async-orders.git/internal/redisx"
	"github.com/redis/go-redis/v9"
)

// CancelWorker mengkonsumsi payment_failed (group cancel_group) dan
// membatalkan order yg pembayarannya gagal. Tanpa sentuh stok: belum ada
// yg di-reserve untuk order yg tidak pernah confirmed. Transisi dijaga
// (hanya PENDING_PAYMENT -> CANCELLED), jadi redelivery aman.
type CancelWorker struct {
	Stream    Stream
	Stock     StockStore
	Cache     *redis.Client // boleh nil
	Lifecycle Publisher     // boleh nil

	ServiceName string
	Consumer    string
	Batch       int64
	Block       time.Duration
	PendingIdle time.Duration
}

func (w *CancelWorker) Run(ctx context.Context) error {
	if err := w.Stream.EnsureGroup(ctx, orders.StreamPaymentFailed, orders.GroupCancel); err != nil {
		return err
	}
	log.Printf("cancel worker started: group=%s consumer=%s", orders.GroupCancel, w.Consumer)

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		msgs := claim(ctx, w.Stream, orders.StreamPaymentFailed, orders.GroupCancel, w.Consumer, w.Batch, w.Block, w.PendingIdle)
		for _, m := range msgs {
			if err := w.handle(ctx, m); err != nil {
				log.Printf("cancel: handle %s: %v", m.ID, err)
			}
		}
	}
}

func (w *CancelWorker) handle(ctx context.Context, m redisx.Message) error {
	res := orders.ParsePaymentResult(m.Values)
	if res.OrderID == "" {
		log.Printf("cancel: malformed entry %s, skipping", m.ID)
		return w.ack(ctx, m.ID)
	}

	matched, err := w.Stock.CancelPending(ctx, res.OrderID)
	if err != nil {
		return err // transient, biarkan redelivery
	}
	if matched {
		log.Printf("cancel: order %s cancelled (payment failed)", res.OrderID)
		setStatusCache(ctx, w.Cache, res.OrderID, orders.StatusCancelled)
		mirror(w.Lifecycle, w.ServiceName, orders.EventOrderCancelled, res.OrderID, orders.OrderFinalizedPayload{
			OrderID: res.OrderID, FinalStatus: "CANCELLED", Reason: "PAYMENT_FAILED",
		})
	} else {
		// sudah final atau order tidak ada; dua-duanya aman di-ack
		log.Printf("cancel: order %s not pending, acking", res.OrderID)
	}

	return w.ack(ctx, m.ID)
}

func (w *CancelWorker) ack(ctx context.Context, id string) error {
	return w.Stream.Ack(ctx, orders.StreamPaymentFailed, orders.GroupCancel, id)
}
