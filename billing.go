package main

import (
	"encoding/json"
	"log"
	"net/http"
	"regexp"

	"github.com/google/uuid"
)

var nonDigits = regexp.MustCompile(`\D`)

func (a *App) handleIssueBillingKey(w http.ResponseWriter, r *http.Request) {
	userID := r.Context().Value(userIDKey).(string)
	maxBody(r, defaultBodyLimit)

	var req struct {
		CardNumber             string `json:"cardNumber"`
		CardExpirationYear     string `json:"cardExpirationYear"`
		CardExpirationMonth    string `json:"cardExpirationMonth"`
		CustomerIdentityNumber string `json:"customerIdentityNumber"`
		CardPassword           string `json:"cardPassword"`
		CustomerName           string `json:"customerName"`
		CustomerEmail          string `json:"customerEmail"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, 400, map[string]string{"error": "invalid request body"})
		return
	}
	if req.CardNumber == "" || req.CardExpirationYear == "" || req.CardExpirationMonth == "" ||
		req.CustomerIdentityNumber == "" {
		writeJSON(w, 400, map[string]string{"error": "missing required card fields"})
		return
	}

	cardNumber := nonDigits.ReplaceAllString(req.CardNumber, "")
	if len(cardNumber) < 13 || len(cardNumber) > 19 {
		writeJSON(w, 400, map[string]string{"error": "invalid card number"})
		return
	}

	customerKey := customerKeyFor(userID)
	body := map[string]interface{}{
		"customerKey":            customerKey,
		"cardNumber":             cardNumber,
		"cardExpirationYear":     req.CardExpirationYear,
		"cardExpirationMonth":    req.CardExpirationMonth,
		"customerIdentityNumber": req.CustomerIdentityNumber,
	}
	if req.CardPassword != "" {
		body["cardPassword"] = req.CardPassword
	}
	if req.CustomerName != "" {
		body["customerName"] = req.CustomerName
	}
	if req.CustomerEmail != "" {
		body["customerEmail"] = req.CustomerEmail
	}

	bk, err := a.toss.IssueBillingKey(body)
	if err != nil {
		log.Printf("billing key issue failed for user %s: %v", userID, err)
		writeGatewayError(w, err, "billing key issue failed")
		return
	}

	// Unlike payment rows, a billing key the app cannot find later is
	// unusable, so a failed write here is a hard error.
	_, err = a.db.ExecContext(r.Context(), `
		INSERT INTO billing_keys (id, user_id, billing_key, customer_key, method,
		                          card_company, card_number_masked, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, 'active', ?)
	`, uuid.New().String(), userID, bk.BillingKey, bk.CustomerKey, bk.Method,
		bk.Card.Company, bk.Card.Number, nowRFC3339())
	if err != nil {
		log.Printf("billing key save failed for user %s: %v", userID, err)
		writeJSON(w, 500, map[string]string{"error": "failed to save billing key"})
		return
	}

	writeJSON(w, 200, map[string]interface{}{
		"success": true,
		"data": map[string]interface{}{
			"billingKey":  bk.BillingKey,
			"customerKey": bk.CustomerKey,
			"method":      bk.Method,
			"cardCompany": bk.Card.Company,
			"cardNumber":  bk.Card.Number,
		},
	})
}

func (a *App) handleBillingPay(w http.ResponseWriter, r *http.Request) {
	userID := r.Context().Value(userIDKey).(string)
	maxBody(r, defaultBodyLimit)

	var req struct {
		BillingKey    string `json:"billingKey"`
		OrderName     string `json:"orderName"`
		Amount        int64  `json:"amount"`
		CustomerEmail string `json:"customerEmail"`
		CustomerName  string `json:"customerName"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, 400, map[string]string{"error": "invalid request body"})
		return
	}
	if req.BillingKey == "" || req.OrderName == "" || req.Amount == 0 {
		writeJSON(w, 400, map[string]string{"error": "billingKey, orderName and amount required"})
		return
	}
	if !validAmount(req.Amount) {
		writeJSON(w, 400, map[string]string{"error": "amount must be between 100 and 10,000,000"})
		return
	}

	// The key must belong to the caller and still be active before any
	// gateway charge goes out.
	var status string
	err := a.db.QueryRowContext(r.Context(),
		`SELECT status FROM billing_keys WHERE billing_key = ? AND user_id = ?`,
		req.BillingKey, userID,
	).Scan(&status)
	if err != nil || status != "active" {
		writeJSON(w, 400, map[string]string{"error": "invalid billing key"})
		return
	}

	orderID := newOrderID("sub")
	payment, err := a.toss.ChargeBillingKey(req.BillingKey, map[string]interface{}{
		"customerKey":   customerKeyFor(userID),
		"orderId":       orderID,
		"orderName":     req.OrderName,
		"amount":        req.Amount,
		"customerEmail": req.CustomerEmail,
		"customerName":  req.CustomerName,
	})
	if err != nil {
		log.Printf("billing charge failed (order %s): %v", orderID, err)
		writeGatewayError(w, err, "recurring payment failed")
		return
	}

	a.recordPayment(r, userID, "", payment, "subscription")

	writeJSON(w, 200, map[string]interface{}{
		"success": true,
		"data": map[string]interface{}{
			"paymentKey": payment.PaymentKey,
			"orderId":    payment.OrderID,
			"orderName":  payment.OrderName,
			"amount":     payment.TotalAmount,
			"status":     payment.Status,
			"approvedAt": payment.ApprovedAt,
		},
	})
}

func (a *App) handleDeleteBillingKey(w http.ResponseWriter, r *http.Request) {
	userID := r.Context().Value(userIDKey).(string)
	maxBody(r, defaultBodyLimit)

	var req struct {
		BillingKey string `json:"billingKey"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.BillingKey == "" {
		writeJSON(w, 400, map[string]string{"error": "billingKey required"})
		return
	}

	var status string
	err := a.db.QueryRowContext(r.Context(),
		`SELECT status FROM billing_keys WHERE billing_key = ? AND user_id = ?`,
		req.BillingKey, userID,
	).Scan(&status)
	if err != nil {
		writeJSON(w, 404, map[string]string{"error": "billing key not found"})
		return
	}

	if err := a.toss.DeleteBillingKey(req.BillingKey, customerKeyFor(userID)); err != nil {
		log.Printf("billing key delete failed for user %s: %v", userID, err)
		writeGatewayError(w, err, "billing key deletion failed")
		return
	}

	if _, err := a.db.ExecContext(r.Context(),
		`UPDATE billing_keys SET status = 'deleted' WHERE billing_key = ? AND user_id = ?`,
		req.BillingKey, userID); err != nil {
		log.Printf("billing key status update failed for user %s: %v", userID, err)
	}

	writeJSON(w, 200, map[string]string{"status": "deleted"})
}

func (a *App) handleListBillingKeys(w http.ResponseWriter, r *http.Request) {
	userID := r.Context().Value(userIDKey).(string)

	rows, err := a.db.QueryContext(r.Context(), `
		SELECT billing_key, COALESCE(method, ''), COALESCE(card_company, ''),
		       COALESCE(card_number_masked, ''), status, created_at
		FROM billing_keys
		WHERE user_id = ? AND status = 'active'
		ORDER BY created_at DESC
	`, userID)
	if err != nil {
		writeJSON(w, 500, map[string]string{"error": "failed to list billing keys"})
		return
	}
	defer rows.Close()

	var keys []map[string]interface{}
	for rows.Next() {
		var billingKey, method, company, masked, status, createdAt string
		if err := rows.Scan(&billingKey, &method, &company, &masked, &status, &createdAt); err != nil {
			continue
		}
		keys = append(keys, map[string]interface{}{
			"billingKey": billingKey, "method": method,
			"cardCompany": company, "cardNumber": masked,
			"status": status, "createdAt": createdAt,
		})
	}

	writeJSON(w, 200, map[string]interface{}{"billingKeys": keys})
}
