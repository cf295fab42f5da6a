package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"stitchpos/backend/internal/service"
	"stitchpos/backend/internal/store/memory"
)

// newTestAPI builds a full API with an in-memory store, real AuthManager and
// real Service so handler tests exercise the complete request path.
func newTestAPI(t *testing.T) *API {
	t.Helper()

	repo := memory.NewSeeded()
	svc := service.New(repo, nil, nil, nil, nil)
	auth := NewAuthManager("test-secret-key-0123456789abcdef", time.Hour, repo)

	return New(svc, auth, "*", nil)
}

// loginAs logs in through the real handler and returns the bearer token.
func loginAs(t *testing.T, handler http.Handler, username string, password string) string {
	t.Helper()

	payload, _ := json.Marshal(map[string]string{
		"username": username,
		"password": password,
	})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("login as %s failed: %d (body: %s)", username, rec.Code, rec.Body.String())
	}

	var body struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode login body: %v", err)
	}
	if body.AccessToken == "" {
		t.Fatalf("expected access token for %s", username)
	}
	return body.AccessToken
}

func doJSON(handler http.Handler, method string, path string, token string, payload any) *httptest.ResponseRecorder {
	var body *bytes.Reader
	if payload != nil {
		raw, _ := json.Marshal(payload)
		body = bytes.NewReader(raw)
	} else {
		body = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, body)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec
}

func TestHandleHealth(t *testing.T) {
	handler := newTestAPI(t).Handler()

	rec := doJSON(handler, http.MethodGet, "/healthz", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var body map[string]any
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body["ok"] != true {
		t.Fatalf("expected ok:true, got %v", body["ok"])
	}
}

func TestHandleLogin_InvalidCredentials(t *testing.T) {
	handler := newTestAPI(t).Handler()

	rec := doJSON(handler, http.MethodPost, "/api/v1/auth/login", "", map[string]string{
		"username": "admin",
		"password": "wrongpassword",
	})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestHandleLogin_RateLimit(t *testing.T) {
	handler := newTestAPI(t).Handler()

	// The loginLimiter allows 5 attempts per minute.
	// Fire 6 requests from the same "IP" (httptest uses RemoteAddr "192.0.2.1:1234").
	payload, _ := json.Marshal(map[string]string{
		"username": "admin",
		"password": "badpass",
	})

	var lastCode int
	for i := 0; i < 6; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", bytes.NewReader(payload))
		req.Header.Set("Content-Type", "application/json")
		req.RemoteAddr = "192.0.2.1:1234"
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		lastCode = rec.Code
	}

	if lastCode != http.StatusTooManyRequests {
		t.Fatalf("expected 429 after 6 attempts, got %d", lastCode)
	}
}

func TestHandleProducts_RequiresAuth(t *testing.T) {
	handler := newTestAPI(t).Handler()

	rec := doJSON(handler, http.MethodGet, "/api/v1/products", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestHandleEmployees_CashierForbidden(t *testing.T) {
	handler := newTestAPI(t).Handler()
	token := loginAs(t, handler, "cashier.downtown", "cashier123")

	rec := doJSON(handler, http.MethodGet, "/api/v1/employees", token, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d (body: %s)", rec.Code, rec.Body.String())
	}
}

func TestHandleMe_ReturnsActingEmployee(t *testing.T) {
	handler := newTestAPI(t).Handler()
	token := loginAs(t, handler, "cashier.downtown", "cashier123")

	rec := doJSON(handler, http.MethodGet, "/api/v1/auth/me", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	var body struct {
		Employee struct {
			Username string `json:"username"`
		} `json:"employee"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Employee.Username != "cashier.downtown" {
		t.Fatalf("expected cashier.downtown, got %s", body.Employee.Username)
	}
}

func TestBillingFlowOverHTTP(t *testing.T) {
	handler := newTestAPI(t).Handler()
	token := loginAs(t, handler, "cashier.downtown", "cashier123")

	rec := doJSON(handler, http.MethodPost, "/api/v1/billing", token, map[string]any{
		"items":          []map[string]any{{"sku": "TSH-RED-S", "quantity": 2}},
		"payment_method": "cash",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	var created struct {
		Bill struct {
			ID         string `json:"id"`
			BillNumber string `json:"bill_number"`
		} `json:"bill"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&created); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if created.Bill.BillNumber != "BR-1f6a-00001" {
		t.Fatalf("unexpected bill number %s", created.Bill.BillNumber)
	}

	rec = doJSON(handler, http.MethodGet, "/api/v1/billing/"+created.Bill.ID, token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 fetching bill, got %d", rec.Code)
	}

	rec = doJSON(handler, http.MethodPost, "/api/v1/billing/return", token, map[string]any{
		"original_bill_id": created.Bill.ID,
		"items":            []map[string]any{{"sku": "TSH-RED-S", "quantity": 1}},
		"reason":           "wrong size",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201 for return, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	var returned struct {
		OriginalBillStatus string `json:"original_bill_status"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&returned); err != nil {
		t.Fatalf("decode return body: %v", err)
	}
	if returned.OriginalBillStatus != "partial-return" {
		t.Fatalf("expected partial-return, got %s", returned.OriginalBillStatus)
	}
}

func TestBillingErrorsMapToStatusCodes(t *testing.T) {
	handler := newTestAPI(t).Handler()
	token := loginAs(t, handler, "cashier.downtown", "cashier123")

	// More than the 30 units on the downtown shelf.
	rec := doJSON(handler, http.MethodPost, "/api/v1/billing", token, map[string]any{
		"items":          []map[string]any{{"sku": "TSH-RED-S", "quantity": 31}},
		"payment_method": "cash",
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 for insufficient stock, got %d", rec.Code)
	}

	rec = doJSON(handler, http.MethodPost, "/api/v1/billing", token, map[string]any{
		"items":          []map[string]any{{"sku": "NOPE-000", "quantity": 1}},
		"payment_method": "cash",
	})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown sku, got %d", rec.Code)
	}

	rec = doJSON(handler, http.MethodPost, "/api/v1/billing/return", token, map[string]any{
		"original_bill_id": "missing-bill",
		"items":            []map[string]any{{"sku": "TSH-RED-S", "quantity": 1}},
	})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown bill, got %d", rec.Code)
	}
}

func TestInventoryRoutesAdminOnly(t *testing.T) {
	handler := newTestAPI(t).Handler()

	cashier := loginAs(t, handler, "cashier.downtown", "cashier123")
	rec := doJSON(handler, http.MethodPost, "/api/v1/inventory/stock-in", cashier, map[string]any{
		"sku": "TSH-RED-S", "branch_id": memory.SeedBranchDowntown, "quantity": 5,
	})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for cashier, got %d", rec.Code)
	}

	admin := loginAs(t, handler, "admin", "admin123")
	rec = doJSON(handler, http.MethodPost, "/api/v1/inventory/stock-in", admin, map[string]any{
		"sku": "TSH-RED-S", "branch_id": memory.SeedBranchDowntown, "quantity": 5,
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for admin, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	var resp struct {
		BranchQty int `json:"branch_qty"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if resp.BranchQty != 35 {
		t.Fatalf("expected branch qty 35, got %d", resp.BranchQty)
	}
}

func TestLowStockRejectsBadThreshold(t *testing.T) {
	handler := newTestAPI(t).Handler()
	admin := loginAs(t, handler, "admin", "admin123")

	rec := doJSON(handler, http.MethodGet, "/api/v1/inventory/low-stock?threshold=zero", admin, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for non-numeric threshold, got %d", rec.Code)
	}

	rec = doJSON(handler, http.MethodGet, "/api/v1/inventory/low-stock", admin, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestBarcodeLookupRoute(t *testing.T) {
	handler := newTestAPI(t).Handler()
	token := loginAs(t, handler, "cashier.downtown", "cashier123")

	rec := doJSON(handler, http.MethodGet, "/api/v1/products/barcode/8901001000017", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (body: %s)", rec.Code, rec.Body.String())
	}

	var body struct {
		Variant struct {
			SKU string `json:"sku"`
		} `json:"variant"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Variant.SKU != "TSH-RED-S" {
		t.Fatalf("expected TSH-RED-S, got %s", body.Variant.SKU)
	}
}

func TestBillListFilterRejectsBadTime(t *testing.T) {
	handler := newTestAPI(t).Handler()
	token := loginAs(t, handler, "admin", "admin123")

	rec := doJSON(handler, http.MethodGet, "/api/v1/billing?from=yesterday", token, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad time filter, got %d", rec.Code)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	handler := newTestAPI(t).Handler()
	token := loginAs(t, handler, "admin", "admin123")

	rec := doJSON(handler, http.MethodPut, "/api/v1/billing", token, map[string]any{})
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}

func TestCORSPreflight(t *testing.T) {
	handler := newTestAPI(t).Handler()

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/products", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204 for preflight, got %d", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatalf("expected CORS origin header")
	}
}
