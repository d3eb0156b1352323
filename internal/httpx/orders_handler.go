package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	kafkax "github.com/ariefcatur/go-async-orders.git/internal/kafka"
	"github.com/ariefcatur/go-async-orders.git/internal/orders"
	"github.com/ariefcatur/go-async-orders.git/internal/redisx"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"
)

// OrderStore: subset repo yg dipakai intake (lihat orders.Repo).
type OrderStore interface {
	CreateOrderTx(ctx context.Context, customerID string, items []orders.ItemInput) (string, error)
	GetOrderWithItems(ctx context.Context, orderID string) (*orders.Order, error)
	GetOrderStatus(ctx context.Context, orderID string) (orders.Status, error)
	ListOrdersByCustomer(ctx context.Context, customerID string) ([]orders.Order, error)
	ListProducts(ctx context.Context) ([]orders.Product, error)
}

// StreamAppender: kontrak producer intake ke pipeline, append satu event
// SETELAH row order commit.
type StreamAppender interface {
	Append(ctx context.Context, stream string, values map[string]any) (string, error)
}

type Publisher interface {
	Publish(key, value []byte, headers ...kafkago.Header)
}

type OrdersHandler struct {
	Store     OrderStore
	Streams   StreamAppender
	Lifecycle Publisher     // boleh nil
	Redis     *redis.Client // boleh nil
	Service   string
}

type CreateOrderReq struct {
	CustomerID string             `json:"customerId"`
	Products   []orders.ItemInput `json:"products"`
}

type CreateOrderResp struct {
	Message string `json:"message"`
	OrderID string `json:"orderId"`
	Status  string `json:"status"`
}

func (h *OrdersHandler) Register(r *chi.Mux) {
	r.Post("/orders", h.createOrder)
	r.Get("/orders/my-orders", h.myOrders)
	r.Get("/orders/{id}", h.getOrder)
	r.Get("/orders/{id}/status", h.getOrderStatus)
	r.Post("/orders/{id}/confirm-payment", h.confirmPayment)
	r.Get("/products", h.listProducts)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// createOrder: persist order (PENDING_PAYMENT) + items dalam satu tx, lalu
// append event ke payment_requests. Request path selesai di sini; payment
// dan stok jalan async di worker.
func (h *OrdersHandler) createOrder(w http.ResponseWriter, r *http.Request) {
	var req CreateOrderReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid json"})
		return
	}
	if req.CustomerID == "" || len(req.Products) == 0 {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing customerId or products"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	orderID, err := h.Store.CreateOrderTx(ctx, req.CustomerID, req.Products)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	// Cache status (PENDING_PAYMENT) agar GET cepat
	if h.Redis != nil {
		statusKey := fmt.Sprintf(redisx.KeyOrderStatus, orderID)
		_ = h.Redis.Set(ctx, statusKey, `{"status":"PENDING_PAYMENT"}`, redisx.TTLStatusCache).Err()
	}

	// Append SETELAH commit. Kalau ini gagal, order nyangkut PENDING_PAYMENT
	// (gap yg diterima, tanpa outbox sweep); log via response error saja.
	if _, err := h.Streams.Append(ctx, orders.StreamPaymentRequests,
		orders.PaymentRequestValues(orderID, req.CustomerID, orders.StatusPendingPayment)); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "order created but payment enqueue failed", "orderId": orderID})
		return
	}

	h.mirror(orders.EventOrderCreated, orderID, orders.OrderCreatedPayload{
		OrderID: orderID, CustomerID: req.CustomerID, ItemCount: len(req.Products),
	})

	writeJSON(w, http.StatusCreated, CreateOrderResp{
		Message: "order created, payment is being processed",
		OrderID: orderID,
		Status:  string(orders.StatusPendingPayment),
	})
}

func (h *OrdersHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")
	if orderID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing id"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	o, err := h.Store.GetOrderWithItems(ctx, orderID)
	if errors.Is(err, orders.ErrOrderNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		return
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, o)
}

// getOrderStatus: polling endpoint, cache-first (status order adalah satu-
// satunya outcome yg visible dari pipeline).
func (h *OrdersHandler) getOrderStatus(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	key := fmt.Sprintf(redisx.KeyOrderStatus, orderID)
	if h.Redis != nil {
		if s, err := h.Redis.Get(ctx, key).Result(); err == nil && s != "" {
			writeJSON(w, http.StatusOK, json.RawMessage(s))
			return
		}
	}

	status, err := h.Store.GetOrderStatus(ctx, orderID)
	if errors.Is(err, orders.ErrOrderNotFound) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
		return
	}
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	body := map[string]any{"status": status}
	if h.Redis != nil {
		b, _ := json.Marshal(body)
		_ = h.Redis.Set(ctx, key, b, redisx.TTLStatusCache).Err()
	}
	writeJSON(w, http.StatusOK, body)
}

func (h *OrdersHandler) myOrders(w http.ResponseWriter, r *http.Request) {
	customerID := r.URL.Query().Get("customer_id")
	if customerID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing customer_id"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	list, err := h.Store.ListOrdersByCustomer(ctx, customerID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// confirmPayment: trigger manual, append langsung ke payment_confirmed.
// Status order tetap PENDING_PAYMENT sampai stock worker jalan.
func (h *OrdersHandler) confirmPayment(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "id")

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	if _, err := h.Store.GetOrderStatus(ctx, orderID); err != nil {
		if errors.Is(err, orders.ErrOrderNotFound) {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
			return
		}
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	if _, err := h.Streams.Append(ctx, orders.StreamPaymentConfirmed,
		orders.PaymentResultValues(orderID, "CONFIRMED")); err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"message": "payment confirmation queued"})
}

func (h *OrdersHandler) listProducts(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	ps, err := h.Store.ListProducts(ctx)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, ps)
}

func (h *OrdersHandler) mirror(eventType, orderID string, payload any) {
	if h.Lifecycle == nil {
		return
	}
	ev := orders.Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      h.Service,
		CorrelationID: orderID,
		Payload:       kafkax.MustMarshal(payload),
	}
	h.Lifecycle.Publish(orders.PartitionKey(orderID), kafkax.MustMarshal(ev),
		kafkago.Header{Key: "x-event-type", Value: []byte(eventType)},
		kafkago.Header{Key: "x-event-version", Value: []byte("1")},
	)
}
