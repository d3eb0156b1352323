package orders

// Nama stream & consumer group adalah bagian dari wire contract;
// jangan diubah tanpa koordinasi dengan intake & worker lain.
const (
	StreamPaymentRequests  = "payment_requests"
	StreamPaymentConfirmed = "payment_confirmed"
	StreamPaymentFailed    = "payment_failed"

	GroupPayment = "payment_group" // di payment_requests
	GroupStock   = "stock_group"   // di payment_confirmed
	GroupCancel  = "cancel_group"  // di payment_failed
)

// Field keys untuk record flat di stream.
const (
	FieldOrderID    = "orderId"
	FieldCustomerID = "customerId"
	FieldStatus     = "status"
)

// PaymentRequestValues: record yg di-append intake ke payment_requests.
func PaymentRequestValues(orderID, customerID string, status Status) map[string]any {
	return map[string]any{
		FieldOrderID:    orderID,
		FieldCustomerID: customerID,
		FieldStatus:     string(status),
	}
}

// PaymentResultValues: record utk payment_confirmed / payment_failed.
// Status di wire: "CONFIRMED" atau "FAILED" (bukan enum status order).
func PaymentResultValues(orderID, status string) map[string]any {
	return map[string]any{
		FieldOrderID: orderID,
		FieldStatus:  status,
	}
}

// PaymentRequest adalah view atas record payment_requests; field yg tidak
// dikenal dibiarkan saja (consumer wajib toleran).
type PaymentRequest struct {
	OrderID    string
	CustomerID string
	Status     string
}

func ParsePaymentRequest(values map[string]string) PaymentRequest {
	return PaymentRequest{
		OrderID:    values[FieldOrderID],
		CustomerID: values[FieldCustomerID],
		Status:     values[FieldStatus],
	}
}

type PaymentResult struct {
	OrderID string
	Status  string
}

func ParsePaymentResult(values map[string]string) PaymentResult {
	return PaymentResult{
		OrderID: values[FieldOrderID],
		Status:  values[FieldStatus],
	}
}
