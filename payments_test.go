package main

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strings"
	"sync/atomic"
	"testing"
)

func TestValidAmount(t *testing.T) {
	cases := []struct {
		amount int64
		want   bool
	}{
		{99, false},
		{100, true},
		{4900, true},
		{10_000_000, true},
		{10_000_001, false},
		{-500, false},
	}
	for _, tc := range cases {
		if got := validAmount(tc.amount); got != tc.want {
			t.Fatalf("validAmount(%d) = %v, want %v", tc.amount, got, tc.want)
		}
	}
}

func TestNewOrderID(t *testing.T) {
	pattern := regexp.MustCompile(`^order_\d+_[a-z0-9]{13}$`)
	seen := map[string]bool{}
	for i := 0; i < 50; i++ {
		id := newOrderID("order")
		if !pattern.MatchString(id) {
			t.Fatalf("order id %q does not match expected shape", id)
		}
		if seen[id] {
			t.Fatalf("duplicate order id %q", id)
		}
		seen[id] = true
	}
}

func TestCustomerKeyFor(t *testing.T) {
	if got := customerKeyFor("abc-123"); got != "CUSTOMER_abc-123" {
		t.Fatalf("customerKeyFor = %q", got)
	}
}

// Out-of-range amounts must be rejected before any gateway traffic.
func TestCreatePaymentAmountBounds(t *testing.T) {
	app := newTestApp(t)
	token := registerUser(t, app, "payer@test.com", "password123")

	var gatewayHits int64
	newGatewayStub(t, app, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&gatewayHits, 1)
		w.WriteHeader(500)
	})

	for _, amount := range []int64{50, 99, 10_000_001} {
		body := map[string]interface{}{"orderName": "테스트 결제", "amount": amount}
		req := authRequest(t, app, "POST", "/api/payments/create", body, token)
		rec := httptest.NewRecorder()
		app.handleCreatePayment(rec, req)
		if rec.Code != 400 {
			t.Fatalf("amount %d: got %d, want 400", amount, rec.Code)
		}
	}
	if hits := atomic.LoadInt64(&gatewayHits); hits != 0 {
		t.Fatalf("gateway called %d times for invalid amounts", hits)
	}
}

func TestCreatePaymentHappyPath(t *testing.T) {
	app := newTestApp(t)
	token := registerUser(t, app, "buyer@test.com", "password123")

	newGatewayStub(t, app, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/payments" {
			t.Errorf("unexpected gateway path %s", r.URL.Path)
		}
		if !strings.HasPrefix(r.Header.Get("Authorization"), "Basic ") {
			t.Error("missing Basic auth header")
		}
		var body map[string]interface{}
		json.NewDecoder(r.Body).Decode(&body)
		writeJSON(w, 200, map[string]interface{}{
			"paymentKey":  "pay_abc",
			"orderId":     body["orderId"],
			"orderName":   body["orderName"],
			"status":      "READY",
			"totalAmount": body["amount"],
		})
	})

	body := map[string]interface{}{"orderName": "프로 플랜", "amount": 14900}
	req := authRequest(t, app, "POST", "/api/payments/create", body, token)
	rec := httptest.NewRecorder()
	app.handleCreatePayment(rec, req)
	if rec.Code != 200 {
		t.Fatalf("got %d: %s", rec.Code, rec.Body.String())
	}
	resp := decodeJSON(t, rec)
	data := resp["data"].(map[string]interface{})
	if data["paymentKey"] != "pay_abc" || data["amount"].(float64) != 14900 {
		t.Fatalf("unexpected response data: %v", data)
	}

	// A payment row was recorded.
	var count int
	app.db.QueryRow(`SELECT COUNT(*) FROM payments WHERE payment_key = 'pay_abc'`).Scan(&count)
	if count != 1 {
		t.Fatalf("payment rows = %d, want 1", count)
	}
}

// Gateway errors are forwarded with the gateway's own status code and body.
func TestCreatePaymentForwardsGatewayError(t *testing.T) {
	app := newTestApp(t)
	token := registerUser(t, app, "rejected@test.com", "password123")

	newGatewayStub(t, app, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, 403, map[string]string{"code": "REJECT_CARD_COMPANY", "message": "카드사 거절"})
	})

	body := map[string]interface{}{"orderName": "결제", "amount": 5000}
	req := authRequest(t, app, "POST", "/api/payments/create", body, token)
	rec := httptest.NewRecorder()
	app.handleCreatePayment(rec, req)
	if rec.Code != 403 {
		t.Fatalf("got %d, want forwarded 403", rec.Code)
	}
	resp := decodeJSON(t, rec)
	details := resp["details"].(map[string]interface{})
	if details["code"] != "REJECT_CARD_COMPANY" {
		t.Fatalf("gateway body not forwarded: %v", resp)
	}
}

func TestConfirmPaymentUpdatesRecord(t *testing.T) {
	app := newTestApp(t)
	token := registerUser(t, app, "confirm@test.com", "password123")

	var orderID string
	newGatewayStub(t, app, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]interface{}
		json.NewDecoder(r.Body).Decode(&body)
		switch r.URL.Path {
		case "/v1/payments":
			orderID = body["orderId"].(string)
			writeJSON(w, 200, map[string]interface{}{
				"paymentKey": "pay_conf", "orderId": orderID, "status": "READY",
				"totalAmount": body["amount"],
			})
		case "/v1/payments/confirm":
			writeJSON(w, 200, map[string]interface{}{
				"paymentKey": "pay_conf", "orderId": body["orderId"], "status": "DONE",
				"approvedAt":  "2025-06-01T12:00:00+09:00",
				"totalAmount": body["amount"],
				"receipt":     map[string]string{"url": "https://receipt.example/r/1"},
			})
		default:
			t.Errorf("unexpected gateway path %s", r.URL.Path)
		}
	})

	// Create first so a row exists to update.
	req := authRequest(t, app, "POST", "/api/payments/create",
		map[string]interface{}{"orderName": "구독", "amount": 4900}, token)
	rec := httptest.NewRecorder()
	app.handleCreatePayment(rec, req)
	if rec.Code != 200 {
		t.Fatalf("create: got %d", rec.Code)
	}

	req = authRequest(t, app, "POST", "/api/payments/confirm",
		map[string]interface{}{"paymentKey": "pay_conf", "orderId": orderID, "amount": 4900}, token)
	rec = httptest.NewRecorder()
	app.handleConfirmPayment(rec, req)
	if rec.Code != 200 {
		t.Fatalf("confirm: got %d: %s", rec.Code, rec.Body.String())
	}

	var status, receiptURL string
	app.db.QueryRow(`SELECT status, COALESCE(receipt_url, '') FROM payments WHERE order_id = ?`, orderID).
		Scan(&status, &receiptURL)
	if status != "DONE" {
		t.Fatalf("persisted status = %q, want DONE", status)
	}
	if receiptURL != "https://receipt.example/r/1" {
		t.Fatalf("receipt url = %q", receiptURL)
	}
}

func TestCancelPayment(t *testing.T) {
	app := newTestApp(t)
	token := registerUser(t, app, "refund@test.com", "password123")

	var orderID string
	newGatewayStub(t, app, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]interface{}
		json.NewDecoder(r.Body).Decode(&body)
		switch {
		case r.URL.Path == "/v1/payments":
			orderID = body["orderId"].(string)
			writeJSON(w, 200, map[string]interface{}{
				"paymentKey": "pay_refund", "orderId": orderID, "status": "DONE",
				"totalAmount": body["amount"],
			})
		case strings.HasSuffix(r.URL.Path, "/cancel"):
			writeJSON(w, 200, map[string]interface{}{
				"paymentKey": "pay_refund", "orderId": orderID, "status": "CANCELED",
			})
		default:
			t.Errorf("unexpected gateway path %s", r.URL.Path)
		}
	})

	req := authRequest(t, app, "POST", "/api/payments/create",
		map[string]interface{}{"orderName": "환불 대상", "amount": 5000}, token)
	rec := httptest.NewRecorder()
	app.handleCreatePayment(rec, req)
	if rec.Code != 200 {
		t.Fatalf("create: got %d", rec.Code)
	}

	req = authRequest(t, app, "POST", "/api/payments/cancel",
		map[string]interface{}{"paymentKey": "pay_refund", "cancelReason": "고객 요청"}, token)
	rec = httptest.NewRecorder()
	app.handleCancelPayment(rec, req)
	if rec.Code != 200 {
		t.Fatalf("cancel: got %d: %s", rec.Code, rec.Body.String())
	}

	var status string
	app.db.QueryRow(`SELECT status FROM payments WHERE payment_key = 'pay_refund'`).Scan(&status)
	if status != "CANCELED" {
		t.Fatalf("persisted status = %q, want CANCELED", status)
	}

	// Missing reason
	req = authRequest(t, app, "POST", "/api/payments/cancel",
		map[string]interface{}{"paymentKey": "pay_refund"}, token)
	rec = httptest.NewRecorder()
	app.handleCancelPayment(rec, req)
	if rec.Code != 400 {
		t.Fatalf("missing reason: got %d, want 400", rec.Code)
	}
}

func TestGetPaymentByOrderHidesForeignOrders(t *testing.T) {
	app := newTestApp(t)
	ownerToken := registerUser(t, app, "order-owner@test.com", "password123")

	var orderID string
	newGatewayStub(t, app, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]interface{}
		json.NewDecoder(r.Body).Decode(&body)
		if r.URL.Path == "/v1/payments" {
			orderID = body["orderId"].(string)
			writeJSON(w, 200, map[string]interface{}{
				"paymentKey": "pay_ord", "orderId": orderID, "status": "DONE",
				"totalAmount": body["amount"],
			})
			return
		}
		writeJSON(w, 200, map[string]interface{}{
			"paymentKey": "pay_ord", "orderId": orderID, "status": "DONE", "totalAmount": 3000,
		})
	})

	req := authRequest(t, app, "POST", "/api/payments/create",
		map[string]interface{}{"orderName": "주문", "amount": 3000}, ownerToken)
	rec := httptest.NewRecorder()
	app.handleCreatePayment(rec, req)
	if rec.Code != 200 {
		t.Fatalf("create: got %d", rec.Code)
	}

	// Owner sees it
	req = authRequest(t, app, "GET", "/api/payments/order/"+orderID, nil, ownerToken)
	req = withChiParam(req, "orderId", orderID)
	rec = httptest.NewRecorder()
	app.handleGetPaymentByOrder(rec, req)
	if rec.Code != 200 {
		t.Fatalf("owner lookup: got %d: %s", rec.Code, rec.Body.String())
	}

	// Another user does not
	otherToken := registerUser(t, app, "order-other@test.com", "password123")
	req = authRequest(t, app, "GET", "/api/payments/order/"+orderID, nil, otherToken)
	req = withChiParam(req, "orderId", orderID)
	rec = httptest.NewRecorder()
	app.handleGetPaymentByOrder(rec, req)
	if rec.Code != 404 {
		t.Fatalf("foreign lookup: got %d, want 404", rec.Code)
	}
}

func TestListPayments(t *testing.T) {
	app := newTestApp(t)
	token := registerUser(t, app, "lister@test.com", "password123")

	newGatewayStub(t, app, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]interface{}
		json.NewDecoder(r.Body).Decode(&body)
		writeJSON(w, 200, map[string]interface{}{
			"paymentKey": "pay_list", "orderId": body["orderId"], "status": "READY",
			"totalAmount": body["amount"],
		})
	})

	req := authRequest(t, app, "POST", "/api/payments/create",
		map[string]interface{}{"orderName": "주문", "amount": 1000}, token)
	rec := httptest.NewRecorder()
	app.handleCreatePayment(rec, req)

	req = authRequest(t, app, "GET", "/api/payments", nil, token)
	rec = httptest.NewRecorder()
	app.handleListPayments(rec, req)
	if rec.Code != 200 {
		t.Fatalf("list: got %d", rec.Code)
	}
	resp := decodeJSON(t, rec)
	payments := resp["payments"].([]interface{})
	if len(payments) != 1 {
		t.Fatalf("payments = %d, want 1", len(payments))
	}

	// Another user sees nothing.
	otherToken := registerUser(t, app, "other@test.com", "password123")
	req = authRequest(t, app, "GET", "/api/payments", nil, otherToken)
	rec = httptest.NewRecorder()
	app.handleListPayments(rec, req)
	resp = decodeJSON(t, rec)
	if resp["payments"] != nil {
		t.Fatalf("other user's payments = %v, want empty", resp["payments"])
	}
}

// --- billing keys ---

func issueTestBillingKey(t *testing.T, app *App, token string) string {
	t.Helper()
	body := map[string]string{
		"cardNumber":             "4111-1111-1111-1111",
		"cardExpirationYear":     "28",
		"cardExpirationMonth":    "12",
		"customerIdentityNumber": "900101",
	}
	req := authRequest(t, app, "POST", "/api/billing/issue", body, token)
	rec := httptest.NewRecorder()
	app.handleIssueBillingKey(rec, req)
	if rec.Code != 200 {
		t.Fatalf("issue billing key: %d %s", rec.Code, rec.Body.String())
	}
	resp := decodeJSON(t, rec)
	return resp["data"].(map[string]interface{})["billingKey"].(string)
}

func billingGatewayStub(t *testing.T, app *App) {
	t.Helper()
	newGatewayStub(t, app, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]interface{}
		json.NewDecoder(r.Body).Decode(&body)
		switch {
		case r.URL.Path == "/v1/billing/authorizations/card":
			writeJSON(w, 200, map[string]interface{}{
				"billingKey":  "bk_test_1",
				"customerKey": body["customerKey"],
				"method":      "카드",
				"card": map[string]string{
					"number": "411111******1111", "company": "비자", "cardType": "신용",
				},
			})
		case r.Method == "DELETE":
			w.WriteHeader(200)
		case strings.HasPrefix(r.URL.Path, "/v1/billing/"):
			writeJSON(w, 200, map[string]interface{}{
				"paymentKey": "pay_bk", "orderId": body["orderId"], "status": "DONE",
				"totalAmount": body["amount"], "approvedAt": "2025-06-01T12:00:00+09:00",
			})
		default:
			t.Errorf("unexpected gateway path %s %s", r.Method, r.URL.Path)
		}
	})
}

func TestIssueBillingKeyCardValidation(t *testing.T) {
	app := newTestApp(t)
	token := registerUser(t, app, "cards@test.com", "password123")

	var gatewayHits int64
	newGatewayStub(t, app, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt64(&gatewayHits, 1)
		w.WriteHeader(500)
	})

	cases := []map[string]string{
		// too few digits
		{"cardNumber": "4111-1111", "cardExpirationYear": "28", "cardExpirationMonth": "12", "customerIdentityNumber": "900101"},
		// too many digits
		{"cardNumber": "41111111111111111111", "cardExpirationYear": "28", "cardExpirationMonth": "12", "customerIdentityNumber": "900101"},
		// missing expiry
		{"cardNumber": "4111111111111111", "cardExpirationMonth": "12", "customerIdentityNumber": "900101"},
	}
	for i, body := range cases {
		req := authRequest(t, app, "POST", "/api/billing/issue", body, token)
		rec := httptest.NewRecorder()
		app.handleIssueBillingKey(rec, req)
		if rec.Code != 400 {
			t.Fatalf("case %d: got %d, want 400", i, rec.Code)
		}
	}
	if hits := atomic.LoadInt64(&gatewayHits); hits != 0 {
		t.Fatalf("gateway called %d times for invalid cards", hits)
	}
}

func TestBillingKeyLifecycle(t *testing.T) {
	app := newTestApp(t)
	token := registerUser(t, app, "recurring@test.com", "password123")
	billingGatewayStub(t, app)

	key := issueTestBillingKey(t, app, token)
	if key != "bk_test_1" {
		t.Fatalf("billing key = %q", key)
	}

	// Listed while active
	req := authRequest(t, app, "GET", "/api/billing/keys", nil, token)
	rec := httptest.NewRecorder()
	app.handleListBillingKeys(rec, req)
	resp := decodeJSON(t, rec)
	if keys := resp["billingKeys"].([]interface{}); len(keys) != 1 {
		t.Fatalf("billing keys = %v", resp["billingKeys"])
	}

	// Charge against it
	req = authRequest(t, app, "POST", "/api/billing/pay",
		map[string]interface{}{"billingKey": key, "orderName": "정기결제", "amount": 4900}, token)
	rec = httptest.NewRecorder()
	app.handleBillingPay(rec, req)
	if rec.Code != 200 {
		t.Fatalf("billing pay: got %d: %s", rec.Code, rec.Body.String())
	}

	// Delete
	req = authRequest(t, app, "DELETE", "/api/billing/key",
		map[string]string{"billingKey": key}, token)
	rec = httptest.NewRecorder()
	app.handleDeleteBillingKey(rec, req)
	if rec.Code != 200 {
		t.Fatalf("delete: got %d: %s", rec.Code, rec.Body.String())
	}

	// Charging a deleted key is rejected locally.
	req = authRequest(t, app, "POST", "/api/billing/pay",
		map[string]interface{}{"billingKey": key, "orderName": "정기결제", "amount": 4900}, token)
	rec = httptest.NewRecorder()
	app.handleBillingPay(rec, req)
	if rec.Code != 400 {
		t.Fatalf("pay with deleted key: got %d, want 400", rec.Code)
	}
}

func TestBillingPayRejectsForeignKey(t *testing.T) {
	app := newTestApp(t)
	ownerToken := registerUser(t, app, "owner@test.com", "password123")
	billingGatewayStub(t, app)
	key := issueTestBillingKey(t, app, ownerToken)

	intruderToken := registerUser(t, app, "intruder@test.com", "password123")
	req := authRequest(t, app, "POST", "/api/billing/pay",
		map[string]interface{}{"billingKey": key, "orderName": "결제", "amount": 1000}, intruderToken)
	rec := httptest.NewRecorder()
	app.handleBillingPay(rec, req)
	if rec.Code != 400 {
		t.Fatalf("foreign key charge: got %d, want 400", rec.Code)
	}
}

func TestDeleteBillingKeyNotFound(t *testing.T) {
	app := newTestApp(t)
	token := registerUser(t, app, "nokey@test.com", "password123")

	req := authRequest(t, app, "DELETE", "/api/billing/key",
		map[string]string{"billingKey": "bk_missing"}, token)
	rec := httptest.NewRecorder()
	app.handleDeleteBillingKey(rec, req)
	if rec.Code != 404 {
		t.Fatalf("got %d, want 404", rec.Code)
	}
}

// --- subscriptions ---

func TestListPlans(t *testing.T) {
	app := newTestApp(t)
	req := httptest.NewRequest("GET", "/api/plans", nil)
	rec := httptest.NewRecorder()
	app.handleListPlans(rec, req)
	if rec.Code != 200 {
		t.Fatalf("got %d", rec.Code)
	}
	resp := decodeJSON(t, rec)
	plans := resp["plans"].([]interface{})
	if len(plans) != 2 {
		t.Fatalf("seeded plans = %d, want 2", len(plans))
	}
	// Ordered by price ascending: basic before pro.
	first := plans[0].(map[string]interface{})
	if first["name"] != "basic" || first["price"].(float64) != 4900 {
		t.Fatalf("first plan = %v", first)
	}
}

func TestSubscriptionLifecycle(t *testing.T) {
	app := newTestApp(t)
	token := registerUser(t, app, "subscriber@test.com", "password123")
	billingGatewayStub(t, app)
	key := issueTestBillingKey(t, app, token)

	// Subscribe
	req := authRequest(t, app, "POST", "/api/subscriptions",
		map[string]string{"planId": "plan-basic", "billingKey": key}, token)
	rec := httptest.NewRecorder()
	app.handleSubscribe(rec, req)
	if rec.Code != 200 {
		t.Fatalf("subscribe: got %d: %s", rec.Code, rec.Body.String())
	}
	resp := decodeJSON(t, rec)
	data := resp["data"].(map[string]interface{})
	if data["plan"] != "basic" || data["status"] != "active" {
		t.Fatalf("subscribe data = %v", data)
	}
	if data["nextBillingDate"] == "" {
		t.Fatal("nextBillingDate missing")
	}

	// Double subscribe conflicts
	req = authRequest(t, app, "POST", "/api/subscriptions",
		map[string]string{"planId": "plan-pro", "billingKey": key}, token)
	rec = httptest.NewRecorder()
	app.handleSubscribe(rec, req)
	if rec.Code != 409 {
		t.Fatalf("double subscribe: got %d, want 409", rec.Code)
	}

	// Current subscription
	req = authRequest(t, app, "GET", "/api/me/subscription", nil, token)
	rec = httptest.NewRecorder()
	app.handleGetSubscription(rec, req)
	if rec.Code != 200 {
		t.Fatalf("get subscription: got %d", rec.Code)
	}
	resp = decodeJSON(t, rec)
	sub := resp["subscription"].(map[string]interface{})
	if sub["plan"] != "basic" || sub["price"].(float64) != 4900 {
		t.Fatalf("subscription = %v", sub)
	}

	// Profile shows it too
	req = authRequest(t, app, "GET", "/api/me", nil, token)
	rec = httptest.NewRecorder()
	app.handleGetProfile(rec, req)
	resp = decodeJSON(t, rec)
	if resp["subscription"] == nil {
		t.Fatal("profile subscription missing")
	}

	// The charge was recorded as a subscription payment.
	var paymentType string
	app.db.QueryRow(`SELECT payment_type FROM payments WHERE user_id = (SELECT id FROM users WHERE email = ?)`,
		"subscriber@test.com").Scan(&paymentType)
	if paymentType != "subscription" {
		t.Fatalf("payment_type = %q, want subscription", paymentType)
	}

	// Cancel
	req = authRequest(t, app, "DELETE", "/api/me/subscription", nil, token)
	rec = httptest.NewRecorder()
	app.handleCancelSubscription(rec, req)
	if rec.Code != 200 {
		t.Fatalf("cancel: got %d", rec.Code)
	}

	// No active subscription anymore
	req = authRequest(t, app, "GET", "/api/me/subscription", nil, token)
	rec = httptest.NewRecorder()
	app.handleGetSubscription(rec, req)
	if rec.Code != 404 {
		t.Fatalf("after cancel: got %d, want 404", rec.Code)
	}

	// Cancelling twice is a 404 as well
	req = authRequest(t, app, "DELETE", "/api/me/subscription", nil, token)
	rec = httptest.NewRecorder()
	app.handleCancelSubscription(rec, req)
	if rec.Code != 404 {
		t.Fatalf("double cancel: got %d, want 404", rec.Code)
	}
}

func TestSubscribeUnknownPlan(t *testing.T) {
	app := newTestApp(t)
	token := registerUser(t, app, "noplan@test.com", "password123")
	billingGatewayStub(t, app)
	key := issueTestBillingKey(t, app, token)

	req := authRequest(t, app, "POST", "/api/subscriptions",
		map[string]string{"planId": "plan-enterprise", "billingKey": key}, token)
	rec := httptest.NewRecorder()
	app.handleSubscribe(rec, req)
	if rec.Code != 404 {
		t.Fatalf("got %d, want 404", rec.Code)
	}
}

func TestSubscribeRequiresActiveBillingKey(t *testing.T) {
	app := newTestApp(t)
	token := registerUser(t, app, "inactive@test.com", "password123")
	billingGatewayStub(t, app)

	req := authRequest(t, app, "POST", "/api/subscriptions",
		map[string]string{"planId": "plan-basic", "billingKey": "bk_never_issued"}, token)
	rec := httptest.NewRecorder()
	app.handleSubscribe(rec, req)
	if rec.Code != 400 {
		t.Fatalf("got %d, want 400", rec.Code)
	}
}
