package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// Hard bounds the gateway also enforces; checked locally so an out-of-range
// amount never produces an outbound call.
const (
	minPaymentAmount = 100
	maxPaymentAmount = 10_000_000
)

func validAmount(amount int64) bool {
	return amount >= minPaymentAmount && amount <= maxPaymentAmount
}

// newOrderID generates a merchant order ID: prefix, millisecond timestamp,
// random suffix.
func newOrderID(prefix string) string {
	const alphabet = "abcdefghijklmnopqrstuvwxyz0123456789"
	suffix := make([]byte, 13)
	for i := range suffix {
		suffix[i] = alphabet[rand.Intn(len(alphabet))]
	}
	return fmt.Sprintf("%s_%d_%s", prefix, time.Now().UnixMilli(), suffix)
}

func customerKeyFor(userID string) string {
	return "CUSTOMER_" + userID
}

// writeGatewayError forwards the gateway's own status code and error body;
// other errors become a generic 500.
func writeGatewayError(w http.ResponseWriter, err error, fallback string) {
	var gwErr *TossError
	if errors.As(err, &gwErr) {
		writeJSON(w, gwErr.Status, map[string]interface{}{
			"error":   fallback,
			"details": gwErr.Body,
		})
		return
	}
	writeJSON(w, 500, map[string]string{"error": fallback})
}

// recordPayment persists a payment row after the gateway call succeeded.
// Best-effort: a failure is logged and the caller still gets a success
// response, because the money already moved.
func (a *App) recordPayment(r *http.Request, userID, subscriptionID string, p *TossPayment, paymentType string) {
	var subID interface{}
	if subscriptionID != "" {
		subID = subscriptionID
	}
	_, err := a.db.ExecContext(r.Context(), `
		INSERT INTO payments (id, user_id, subscription_id, payment_key, order_id, order_name,
		                      amount, currency, payment_method, status, payment_type, approved_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, 'KRW', ?, ?, ?, ?, ?)
	`, uuid.New().String(), userID, subID, p.PaymentKey, p.OrderID, p.OrderName,
		p.TotalAmount, p.Method, p.Status, paymentType, p.ApprovedAt, nowRFC3339())
	if err != nil {
		log.Printf("payment record save failed (order %s): %v", p.OrderID, err)
	}
}

func (a *App) handleCreatePayment(w http.ResponseWriter, r *http.Request) {
	userID := r.Context().Value(userIDKey).(string)
	maxBody(r, defaultBodyLimit)

	var req struct {
		OrderName     string `json:"orderName"`
		Amount        int64  `json:"amount"`
		CustomerEmail string `json:"customerEmail"`
		CustomerName  string `json:"customerName"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, 400, map[string]string{"error": "invalid request body"})
		return
	}
	if req.OrderName == "" || req.Amount == 0 {
		writeJSON(w, 400, map[string]string{"error": "orderName and amount required"})
		return
	}
	if !validAmount(req.Amount) {
		writeJSON(w, 400, map[string]string{"error": "amount must be between 100 and 10,000,000"})
		return
	}

	orderID := newOrderID("order")
	payment, err := a.toss.CreatePayment(map[string]interface{}{
		"orderId":       orderID,
		"orderName":     req.OrderName,
		"amount":        req.Amount,
		"customerEmail": req.CustomerEmail,
		"customerName":  req.CustomerName,
		"successUrl":    a.cfg.AppBaseURL + "/payment/success",
		"failUrl":       a.cfg.AppBaseURL + "/payment/fail",
	})
	if err != nil {
		log.Printf("payment create failed (order %s): %v", orderID, err)
		writeGatewayError(w, err, "payment request failed")
		return
	}

	a.recordPayment(r, userID, "", payment, "one_time")

	writeJSON(w, 200, map[string]interface{}{
		"success": true,
		"data": map[string]interface{}{
			"paymentKey": payment.PaymentKey,
			"orderId":    payment.OrderID,
			"orderName":  payment.OrderName,
			"amount":     payment.TotalAmount,
			"status":     payment.Status,
		},
	})
}

func (a *App) handleConfirmPayment(w http.ResponseWriter, r *http.Request) {
	maxBody(r, defaultBodyLimit)

	var req struct {
		PaymentKey string `json:"paymentKey"`
		OrderID    string `json:"orderId"`
		Amount     int64  `json:"amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, 400, map[string]string{"error": "invalid request body"})
		return
	}
	if req.PaymentKey == "" || req.OrderID == "" || req.Amount == 0 {
		writeJSON(w, 400, map[string]string{"error": "paymentKey, orderId and amount required"})
		return
	}

	payment, err := a.toss.ConfirmPayment(req.PaymentKey, req.OrderID, req.Amount)
	if err != nil {
		log.Printf("payment confirm failed (order %s): %v", req.OrderID, err)
		writeGatewayError(w, err, "payment confirmation failed")
		return
	}

	// Status update is best-effort, same as the create path.
	res, err := a.db.ExecContext(r.Context(), `
		UPDATE payments SET status = ?, approved_at = ?, receipt_url = ?
		WHERE order_id = ?
	`, payment.Status, payment.ApprovedAt, payment.Receipt.URL, payment.OrderID)
	if err != nil {
		log.Printf("payment status update failed (order %s): %v", payment.OrderID, err)
	} else if n, _ := res.RowsAffected(); n == 0 {
		log.Printf("payment record not found for order %s, confirmation not persisted", payment.OrderID)
	}

	writeJSON(w, 200, map[string]interface{}{
		"success": true,
		"data": map[string]interface{}{
			"paymentKey":  payment.PaymentKey,
			"orderId":     payment.OrderID,
			"orderName":   payment.OrderName,
			"status":      payment.Status,
			"approvedAt":  payment.ApprovedAt,
			"method":      payment.Method,
			"card":        payment.Card,
			"totalAmount": payment.TotalAmount,
			"vat":         payment.VAT,
		},
	})
}

func (a *App) handleCancelPayment(w http.ResponseWriter, r *http.Request) {
	maxBody(r, defaultBodyLimit)

	var req struct {
		PaymentKey   string `json:"paymentKey"`
		CancelReason string `json:"cancelReason"`
		CancelAmount int64  `json:"cancelAmount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, 400, map[string]string{"error": "invalid request body"})
		return
	}
	if req.PaymentKey == "" || req.CancelReason == "" {
		writeJSON(w, 400, map[string]string{"error": "paymentKey and cancelReason required"})
		return
	}

	payment, err := a.toss.CancelPayment(req.PaymentKey, req.CancelReason, req.CancelAmount)
	if err != nil {
		log.Printf("payment cancel failed (key %s): %v", req.PaymentKey, err)
		writeGatewayError(w, err, "payment cancellation failed")
		return
	}

	if _, err := a.db.ExecContext(r.Context(),
		`UPDATE payments SET status = ? WHERE payment_key = ?`,
		payment.Status, req.PaymentKey); err != nil {
		log.Printf("payment cancel status update failed (key %s): %v", req.PaymentKey, err)
	}

	writeJSON(w, 200, map[string]interface{}{
		"success": true,
		"data": map[string]interface{}{
			"paymentKey": payment.PaymentKey,
			"orderId":    payment.OrderID,
			"status":     payment.Status,
		},
	})
}

// handleGetPaymentByOrder proxies the gateway's order lookup. The caller
// must own the order when a local row exists; orders the app never recorded
// fall through to the gateway unchecked (the create path is best-effort).
func (a *App) handleGetPaymentByOrder(w http.ResponseWriter, r *http.Request) {
	userID := r.Context().Value(userIDKey).(string)
	orderID := chi.URLParam(r, "orderId")

	var ownerID string
	err := a.db.QueryRowContext(r.Context(),
		`SELECT user_id FROM payments WHERE order_id = ?`, orderID).Scan(&ownerID)
	if err == nil && ownerID != userID {
		writeJSON(w, 404, map[string]string{"error": "payment not found"})
		return
	}

	payment, err := a.toss.GetPaymentByOrderID(orderID)
	if err != nil {
		writeGatewayError(w, err, "payment lookup failed")
		return
	}

	writeJSON(w, 200, map[string]interface{}{
		"paymentKey":  payment.PaymentKey,
		"orderId":     payment.OrderID,
		"orderName":   payment.OrderName,
		"status":      payment.Status,
		"method":      payment.Method,
		"totalAmount": payment.TotalAmount,
		"approvedAt":  payment.ApprovedAt,
	})
}

func (a *App) handleListPayments(w http.ResponseWriter, r *http.Request) {
	userID := r.Context().Value(userIDKey).(string)

	rows, err := a.db.QueryContext(r.Context(), `
		SELECT id, order_id, order_name, amount, currency, COALESCE(payment_method, ''),
		       status, payment_type, COALESCE(approved_at, ''), created_at
		FROM payments
		WHERE user_id = ?
		ORDER BY created_at DESC
		LIMIT 100
	`, userID)
	if err != nil {
		writeJSON(w, 500, map[string]string{"error": "failed to list payments"})
		return
	}
	defer rows.Close()

	var payments []map[string]interface{}
	for rows.Next() {
		var id, orderID, orderName, currency, method, status, paymentType, approvedAt, createdAt string
		var amount int64
		if err := rows.Scan(&id, &orderID, &orderName, &amount, &currency, &method,
			&status, &paymentType, &approvedAt, &createdAt); err != nil {
			continue
		}
		payments = append(payments, map[string]interface{}{
			"id": id, "orderId": orderID, "orderName": orderName,
			"amount": amount, "currency": currency, "method": method,
			"status": status, "paymentType": paymentType,
			"approvedAt": approvedAt, "createdAt": createdAt,
		})
	}
	if err := rows.Err(); err != nil {
		log.Printf("handleListPayments: rows iteration error: %v", err)
	}

	writeJSON(w, 200, map[string]interface{}{"payments": payments})
}
