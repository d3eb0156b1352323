package payment

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
	mu        sync.Mutex
	pending   []redisx.Message
	appended  map[string][]map[string]any // stream -> records
	acked     map[string][]string         // stream -> entry ids
	appendErr error
	groupErr  error
}

func newMockStream(pending ...redisx.Message) *mockStream {
	return &mockStream{
		pending:  pending,
		appended: map[string][]map[string]any{},
		acked:    map[string][]string{},
	}
}

func (m *mockStream) EnsureGroup(ctx context.Context, stream, group string) error {
	return m.groupErr
}

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

func (m *mockStream) Append(ctx context.Context, stream string, values map[string]any) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.appendErr != nil {
		return "", m.appendErr
	}
	m.appended[stream] = append(m.appended[stream], values)
	return "1-0", nil
}

func newWorker(s *mockStream, approve bool) *Worker {
	return &Worker{
		Stream:   s,
		Consumer: "test-1",
		Batch:    1,
		Decide:   func() bool { return approve },
		Sleep:    func(ctx context.Context, d time.Duration) {},
	}
}

func requestMsg(id, orderID, customerID string) redisx.Message {
	return redisx.Message{ID: id, Values: map[string]string{
		orders.FieldOrderID:    orderID,
		orders.FieldCustomerID: customerID,
		orders.FieldStatus:     "PENDING_PAYMENT",
	}}
}

func TestHandle_Approved(t *testing.T) {
	s := newMockStream()
	w := newWorker(s, true)

	err := w.handle(context.Background(), requestMsg("1-1", "o-1", "c-1"))
	if err != nil {
		t.Fatalf("handle: %v", err)
	}

	got := s.appended[orders.StreamPaymentConfirmed]
	if len(got) != 1 {
		t.Fatalf("expected 1 record on payment_confirmed, got %d", len(got))
	}
	if got[0][orders.FieldOrderID] != "o-1" || got[0][orders.FieldStatus] != "CONFIRMED" {
		t.Errorf("unexpected record: %v", got[0])
	}
	if len(s.appended[orders.StreamPaymentFailed]) != 0 {
		t.Error("nothing should be appended to payment_failed")
	}
	if acked := s.acked[orders.StreamPaymentRequests]; len(acked) != 1 || acked[0] != "1-1" {
		t.Errorf("source entry not acked: %v", acked)
	}
}

func TestHandle_Declined(t *testing.T) {
	s := newMockStream()
	w := newWorker(s, false)

	if err := w.handle(context.Background(), requestMsg("1-2", "o-2", "c-2")); err != nil {
		t.Fatalf("handle: %v", err)
	}

	got := s.appended[orders.StreamPaymentFailed]
	if len(got) != 1 || got[0][orders.FieldStatus] != "FAILED" {
		t.Fatalf("expected FAILED record on payment_failed, got %v", got)
	}
	if len(s.appended[orders.StreamPaymentConfirmed]) != 0 {
		t.Error("nothing should be appended to payment_confirmed")
	}
	if len(s.acked[orders.StreamPaymentRequests]) != 1 {
		t.Error("source entry should be acked")
	}
}

// Crash antara decision dan ack disimulasikan lewat append yg gagal:
// entry tidak boleh di-ack, supaya di-redeliver dan dicoba lagi.
func TestHandle_AppendErrorLeavesUnacked(t *testing.T) {
	s := newMockStream()
	s.appendErr = errors.New("stream unreachable")
	w := newWorker(s, true)

	if err := w.handle(context.Background(), requestMsg("1-3", "o-3", "c-3")); err == nil {
		t.Fatal("expected error from handle")
	}
	if len(s.acked[orders.StreamPaymentRequests]) != 0 {
		t.Error("entry must not be acked when downstream append fails")
	}
}

func TestHandle_MalformedEntryAckedWithoutAppend(t *testing.T) {
	s := newMockStream()
	w := newWorker(s, true)

	m := redisx.Message{ID: "1-4", Values: map[string]string{"garbage": "x"}}
	if err := w.handle(context.Background(), m); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(s.appended[orders.StreamPaymentConfirmed])+len(s.appended[orders.StreamPaymentFailed]) != 0 {
		t.Error("malformed entry must not produce downstream records")
	}
	if len(s.acked[orders.StreamPaymentRequests]) != 1 {
		t.Error("malformed entry should be acked (retry is useless)")
	}
}

func TestRun_DrainsAndStopsOnCancel(t *testing.T) {
	s := newMockStream(
		requestMsg("1-5", "o-5", "c-5"),
		requestMsg("1-6", "o-6", "c-6"),
	)
	w := newWorker(s, true)
	w.Block = time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	deadline := time.After(2 * time.Second)
	for {
		s.mu.Lock()
		n := len(s.acked[orders.StreamPaymentRequests])
		s.mu.Unlock()
		if n == 2 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for both entries to be processed")
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

func TestRun_FatalWhenGroupCreateFails(t *testing.T) {
	s := newMockStream()
	s.groupErr = errors.New("NOGROUP something else")
	w := newWorker(s, true)

	if err := w.Run(context.Background()); err == nil {
		t.Fatal("expected startup error when consumer group cannot be created")
	}
}
