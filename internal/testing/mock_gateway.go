// mock_gateway.go - in-process payment gateway for tests
package testing

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"

	"regbackend/internal/config"
	"regbackend/internal/payment"
)

// MockGatewayService provides a mock payment gateway API for testing. It
// speaks the same order endpoints the live gateway does and can sign
// checkout triples and webhook bodies with its own secrets.
type MockGatewayService struct {
	Server        *httptest.Server
	Orders        map[string]*MockOrder
	KeyID         string
	KeySecret     string
	WebhookSecret string
	mu            sync.RWMutex

	// Configuration for failure simulation
	ShouldFailOrderCreate bool
	ShouldFailFetch       bool
	SimulateNetworkDelay  time.Duration

	// Counters for tracking
	OrderAttempts int
	FetchAttempts int
	orderSeq      int
}

type MockOrder struct {
	ID        string
	Status    string
	Amount    int64
	Currency  string
	Receipt   string
	PaymentID string
	Created   time.Time
	PaidAt    *time.Time
}

// NewMockGatewayService creates a new mock gateway with test credentials
func NewMockGatewayService() *MockGatewayService {
	mock := &MockGatewayService{
		Orders:        make(map[string]*MockOrder),
		KeyID:         "rzp_test_mock",
		KeySecret:     "mock_key_secret",
		WebhookSecret: "mock_webhook_secret",
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/orders", mock.handleOrders)
	mux.HandleFunc("/v1/orders/", mock.handleOrderDetails)

	mock.Server = httptest.NewServer(mux)
	return mock
}

// Close shuts down the mock server
func (m *MockGatewayService) Close() {
	m.Server.Close()
}

// Activate points the config package at this mock so payment package calls
// hit the test server
func (m *MockGatewayService) Activate() {
	config.SetAPIBase(m.Server.URL)
	config.SetGatewayCredentials(m.KeyID, m.KeySecret)
	config.SetWebhookSecret(m.WebhookSecret)
}

// MarkPaid marks an order as paid and returns the payment ID and checkout
// signature the real widget would hand back to the frontend
func (m *MockGatewayService) MarkPaid(orderID string) (paymentID, signature string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	order, exists := m.Orders[orderID]
	if !exists {
		return "", "", fmt.Errorf("order not found: %s", orderID)
	}

	paymentID = fmt.Sprintf("pay_MOCK%d", time.Now().UnixNano())
	now := time.Now()
	order.Status = "paid"
	order.PaymentID = paymentID
	order.PaidAt = &now

	signature = payment.SignPayload(orderID+"|"+paymentID, m.KeySecret)
	return paymentID, signature, nil
}

// SignWebhookBody computes the signature header value for a webhook body
func (m *MockGatewayService) SignWebhookBody(body []byte) string {
	return payment.SignPayload(string(body), m.WebhookSecret)
}

// GetOrder retrieves a mock order
func (m *MockGatewayService) GetOrder(orderID string) (*MockOrder, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	order, exists := m.Orders[orderID]
	return order, exists
}

// HTTP Handlers

func (m *MockGatewayService) handleOrders(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	delay := m.SimulateNetworkDelay
	m.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}

	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	m.handleCreateOrder(w, r)
}

func (m *MockGatewayService) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	m.OrderAttempts++
	shouldFail := m.ShouldFailOrderCreate
	m.mu.Unlock()

	if !m.checkAuth(w, r) {
		return
	}

	if shouldFail {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"error": map[string]string{
				"code":        "BAD_REQUEST_ERROR",
				"description": "mock: order creation failed",
			},
		})
		return
	}

	var orderRequest struct {
		Amount   int64  `json:"amount"`
		Currency string `json:"currency"`
		Receipt  string `json:"receipt"`
	}
	if err := json.NewDecoder(r.Body).Decode(&orderRequest); err != nil {
		http.Error(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	if orderRequest.Amount <= 0 {
		w.WriteHeader(http.StatusBadRequest)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"error": map[string]string{
				"code":        "BAD_REQUEST_ERROR",
				"description": "amount must be positive",
			},
		})
		return
	}

	m.mu.Lock()
	m.orderSeq++
	orderID := fmt.Sprintf("order_MOCK%d", m.orderSeq)
	order := &MockOrder{
		ID:       orderID,
		Status:   "created",
		Amount:   orderRequest.Amount,
		Currency: orderRequest.Currency,
		Receipt:  orderRequest.Receipt,
		Created:  time.Now(),
	}
	m.Orders[orderID] = order
	m.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(m.orderResponse(order))
}

func (m *MockGatewayService) handleOrderDetails(w http.ResponseWriter, r *http.Request) {
	orderID := strings.TrimPrefix(r.URL.Path, "/v1/orders/")

	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	m.mu.Lock()
	m.FetchAttempts++
	shouldFail := m.ShouldFailFetch
	delay := m.SimulateNetworkDelay
	m.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}

	if !m.checkAuth(w, r) {
		return
	}

	if shouldFail {
		http.Error(w, "mock: gateway unavailable", http.StatusInternalServerError)
		return
	}

	order, exists := m.GetOrder(orderID)
	if !exists {
		http.Error(w, "Order not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(m.orderResponse(order))
}

func (m *MockGatewayService) checkAuth(w http.ResponseWriter, r *http.Request) bool {
	user, pass, ok := r.BasicAuth()
	if !ok || user != m.KeyID || pass != m.KeySecret {
		w.WriteHeader(http.StatusUnauthorized)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"error": map[string]string{
				"code":        "BAD_REQUEST_ERROR",
				"description": "Authentication failed",
			},
		})
		return false
	}
	return true
}

func (m *MockGatewayService) orderResponse(order *MockOrder) map[string]interface{} {
	return map[string]interface{}{
		"id":         order.ID,
		"amount":     order.Amount,
		"currency":   order.Currency,
		"receipt":    order.Receipt,
		"status":     order.Status,
		"created_at": order.Created.Unix(),
	}
}

// Test Utilities

// SetFailureMode configures the mock to simulate failure scenarios
func (m *MockGatewayService) SetFailureMode(createFail, fetchFail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.ShouldFailOrderCreate = createFail
	m.ShouldFailFetch = fetchFail
}

// SetNetworkDelay simulates network latency
func (m *MockGatewayService) SetNetworkDelay(delay time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.SimulateNetworkDelay = delay
}

// GetOrderCount returns the number of orders created
func (m *MockGatewayService) GetOrderCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.Orders)
}

// GetPaidOrderCount returns the number of orders marked paid
func (m *MockGatewayService) GetPaidOrderCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	count := 0
	for _, order := range m.Orders {
		if order.Status == "paid" {
			count++
		}
	}
	return count
}

// GetStats returns statistics about mock usage
func (m *MockGatewayService) GetStats() map[string]int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	paid := 0
	for _, order := range m.Orders {
		if order.Status == "paid" {
			paid++
		}
	}

	return map[string]int{
		"order_attempts": m.OrderAttempts,
		"fetch_attempts": m.FetchAttempts,
		"total_orders":   len(m.Orders),
		"paid_orders":    paid,
	}
}

// Reset clears all mock data
func (m *MockGatewayService) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Orders = make(map[string]*MockOrder)
	m.ShouldFailOrderCreate = false
	m.ShouldFailFetch = false
	m.SimulateNetworkDelay = 0
	m.OrderAttempts = 0
	m.FetchAttempts = 0
}
