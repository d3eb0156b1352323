package stock

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ariefcatur/go-async-orders.git/internal/orders"
	"github.com/ariefcatur/go-async-orders.git/internal/redisx"
)

// Mock stream layer
type mockStream struct {
	mu      sync.Mutex
	pending []redisx.Message
	acked   map[string][]string
}

func newMockStream(pending ...redisx.Message) *mockStream {
	return &mockStream{pending: pending, acked: map[string][]string{}}
}

func (m *mockStream) EnsureGroup(ctx context.Context, stream, group string) error { return nil }

func (m *mockStream) Claim(ctx context.Context, stream, group, consumer string, count int64, block time.Duration) ([]redisx.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.pending) == 0 {
		return nil, nil
	}
	n := int(count)
	if n > len(m.pending) {
		n = len(m.pending)
	}
	out := m.pending[:n]
	m.pending = m.pending[n:]
	return out, nil
}

func (m *mockStream) Reclaim(ctx context.Context, stream, group, consumer string, minIdle time.Duration, count int64) ([]redisx.Message, error) {
	return nil, nil
}

func (m *mockStream) Ack(ctx context.Context, stream, group string, ids ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.acked[stream] = append(m.acked[stream], ids...)
	return nil
}

// Mock store: meniru kontrak storage layer, conditional decrement
// all-or-nothing per order, diserialisasi oleh satu mutex (peran yg di
// production dipegang transaksi + conditional update Postgres).
type mockStore struct {
	mu      sync.Mutex
	stock   map[string]int            // productID -> stock
	status  map[string]orders.Status  // orderID -> status
	items   map[string][]orders.OrderItem
	readErr error
}

func newMockStore() *mockStore {
	return &mockStore{
		stock:  map[string]int{},
		status: map[string]orders.Status{},
		items:  map[string][]orders.OrderItem{},
	}
}

func (m *mockStore) addOrder(orderID string, items ...orders.OrderItem) {
	m.status[orderID] = orders.StatusPendingPayment
	m.items[orderID] = items
}

func (m *mockStore) GetOrderWithItems(ctx context.Context, orderID string) (*orders.Order, error) {
	if m.readErr != nil {
		return nil, m.readErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.status[orderID]
	if !ok {
		return nil, orders.ErrOrderNotFound
	}
	return &orders.Order{ID: orderID, Status: st, Items: m.items[orderID]}, nil
}

func (m *mockStore) Reconcile(ctx context.Context, orderID string, items []orders.OrderItem) (orders.Outcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	st, ok := m.status[orderID]
	if !ok {
		return 0, orders.ErrOrderNotFound
	}
	if st.Terminal() {
		return orders.OutcomeAlreadyFinal, nil
	}

	for _, it := range items {
		if m.stock[it.ProductID] < it.Qty {
			m.status[orderID] = orders.StatusCancelled
			return orders.OutcomeCancelled, nil // tidak ada decrement yg tersisa
		}
	}
	for _, it := range items {
		m.stock[it.ProductID] -= it.Qty
	}
	m.status[orderID] = orders.StatusConfirmed
	return orders.OutcomeConfirmed, nil
}

func (m *mockStore) CancelPending(ctx context.Context, orderID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.status[orderID] != orders.StatusPendingPayment {
		return false, nil
	}
	m.status[orderID] = orders.StatusCancelled
	return true, nil
}

func newStockWorker(s *mockStream, store *mockStore) *Worker {
	return &Worker{Stream: s, Orders: store, Stock: store, Consumer: "test-1", Batch: 1}
}

func confirmedMsg(id, orderID string) redisx.Message {
	return redisx.Message{ID: id, Values: map[string]string{
		orders.FieldOrderID: orderID,
		orders.FieldStatus:  "CONFIRMED",
	}}
}

func TestHandle_SufficientStockConfirms(t *testing.T) {
	store := newMockStore()
	store.stock["p-1"] = 5
	store.addOrder("o-1", orders.OrderItem{ProductID: "p-1", Qty: 5})
	s := newMockStream()
	w := newStockWorker(s, store)

	if err := w.handle(context.Background(), confirmedMsg("1-1", "o-1")); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if store.status["o-1"] != orders.StatusConfirmed {
		t.Errorf("expected CONFIRMED, got %s", store.status["o-1"])
	}
	if store.stock["p-1"] != 0 {
		t.Errorf("expected stock 0, got %d", store.stock["p-1"])
	}
	if len(s.acked[orders.StreamPaymentConfirmed]) != 1 {
		t.Error("entry should be acked after commit")
	}
}

// Order dgn dua item: satu cukup, satu kurang. Tidak boleh ada decrement
// parsial yg tersisa setelah cancel.
func TestHandle_InsufficientStockCancelsWithoutPartialDecrement(t *testing.T) {
	store := newMockStore()
	store.stock["p-1"] = 3
	store.stock["p-2"] = 1
	store.addOrder("o-2",
		orders.OrderItem{ProductID: "p-1", Qty: 2},
		orders.OrderItem{ProductID: "p-2", Qty: 2},
	)
	s := newMockStream()
	w := newStockWorker(s, store)

	if err := w.handle(context.Background(), confirmedMsg("1-2", "o-2")); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if store.status["o-2"] != orders.StatusCancelled {
		t.Errorf("expected CANCELLED, got %s", store.status["o-2"])
	}
	if store.stock["p-1"] != 3 {
		t.Errorf("p-1 stock must be untouched, got %d", store.stock["p-1"])
	}
	if store.stock["p-2"] != 1 {
		t.Errorf("p-2 stock must be untouched, got %d", store.stock["p-2"])
	}
	if len(s.acked[orders.StreamPaymentConfirmed]) != 1 {
		t.Error("cancel path should still ack")
	}
}

func TestHandle_UnknownOrderAckedWithoutMutation(t *testing.T) {
	store := newMockStore()
	store.stock["p-1"] = 5
	s := newMockStream()
	w := newStockWorker(s, store)

	if err := w.handle(context.Background(), confirmedMsg("1-3", "o-missing")); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if store.stock["p-1"] != 5 {
		t.Error("no stock mutation expected for unknown order")
	}
	if len(s.acked[orders.StreamPaymentConfirmed]) != 1 {
		t.Error("unknown order is a non-retryable anomaly and must be acked")
	}
}

// Redelivery event yg sama utk order yg sudah CONFIRMED tidak boleh
// decrement dua kali.
func TestHandle_RedeliveryIsNoop(t *testing.T) {
	store := newMockStore()
	store.stock["p-1"] = 10
	store.addOrder("o-4", orders.OrderItem{ProductID: "p-1", Qty: 3})
	s := newMockStream()
	w := newStockWorker(s, store)

	if err := w.handle(context.Background(), confirmedMsg("1-4", "o-4")); err != nil {
		t.Fatalf("first delivery: %v", err)
	}
	if err := w.handle(context.Background(), confirmedMsg("1-4", "o-4")); err != nil {
		t.Fatalf("redelivery: %v", err)
	}
	if store.stock["p-1"] != 7 {
		t.Errorf("stock decremented more than once: got %d, want 7", store.stock["p-1"])
	}
	if store.status["o-4"] != orders.StatusConfirmed {
		t.Errorf("status flipped on redelivery: %s", store.status["o-4"])
	}
	if len(s.acked[orders.StreamPaymentConfirmed]) != 2 {
		t.Error("both deliveries should be acked")
	}
}

func TestHandle_TransientReadErrorLeavesUnacked(t *testing.T) {
	store := newMockStore()
	store.readErr = errors.New("store timeout")
	s := newMockStream()
	w := newStockWorker(s, store)

	if err := w.handle(context.Background(), confirmedMsg("1-5", "o-5")); err == nil {
		t.Fatal("expected transient error")
	}
	if len(s.acked[orders.StreamPaymentConfirmed]) != 0 {
		t.Error("transient failure must leave the entry unacked for redelivery")
	}
}

// N order concurrent rebutan satu product: total decrement tepat sebesar
// stok awal, sisanya cancel.
func TestConcurrentOrdersNeverOversell(t *testing.T) {
	const initialStock = 5
	const numOrders = 20

	store := newMockStore()
	store.stock["p-hot"] = initialStock

	s := newMockStream()
	w := newStockWorker(s, store)

	ids := make([]string, numOrders)
	for i := 0; i < numOrders; i++ {
		ids[i] = "o-" + string(rune('a'+i))
		store.addOrder(ids[i], orders.OrderItem{ProductID: "p-hot", Qty: 1})
	}

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_ = w.handle(context.Background(), confirmedMsg("1-"+id, id))
		}(id)
	}
	wg.Wait()

	if store.stock["p-hot"] != 0 {
		t.Errorf("expected stock 0, got %d", store.stock["p-hot"])
	}
	confirmed, cancelled := 0, 0
	for _, st := range store.status {
		switch st {
		case orders.StatusConfirmed:
			confirmed++
		case orders.StatusCancelled:
			cancelled++
		}
	}
	if confirmed != initialStock {
		t.Errorf("expected exactly %d confirmed orders, got %d", initialStock, confirmed)
	}
	if cancelled != numOrders-initialStock {
		t.Errorf("expected %d cancelled orders, got %d", numOrders-initialStock, cancelled)
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	store := newMockStore()
	store.stock["p-1"] = 1
	store.addOrder("o-run", orders.OrderItem{ProductID: "p-1", Qty: 1})
	s := newMockStream(confirmedMsg("1-run", "o-run"))
	w := newStockWorker(s, store)
	w.Block = time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	deadline := time.After(2 * time.Second)
	for {
		s.mu.Lock()
		n := len(s.acked[orders.StreamPaymentConfirmed])
		s.mu.Unlock()
		if n == 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for entry to be processed")
		case <-time.After(5 * time.Millisecond):
		}
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}
