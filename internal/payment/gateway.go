package payment

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"crypto/tls"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"regbackend/internal/config"
	"regbackend/internal/logger"
)

// Gateway order statuses as reported by the payment provider.
const (
	OrderStatusCreated   = "created"
	OrderStatusAttempted = "attempted"
	OrderStatusPaid      = "paid"
)

// GatewayOrder is an order created at the payment gateway. Amounts are in
// minor currency units (paise for INR).
type GatewayOrder struct {
	ID        string `json:"id"`
	Amount    int64  `json:"amount"`
	Currency  string `json:"currency"`
	Receipt   string `json:"receipt"`
	Status    string `json:"status"`
	CreatedAt int64  `json:"created_at"`
}

// GatewayError is an error response body from the gateway API.
type GatewayError struct {
	ErrorInfo struct {
		Code        string `json:"code"`
		Description string `json:"description"`
	} `json:"error"`
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("gateway error %s: %s", e.ErrorInfo.Code, e.ErrorInfo.Description)
}

func gatewayHTTPClient() *http.Client {
	return &http.Client{
		Timeout: 30 * time.Second,
		Transport: &http.Transport{
			TLSClientConfig:     &tls.Config{MinVersion: tls.VersionTLS12},
			MaxIdleConns:        10,
			IdleConnTimeout:     90 * time.Second,
			MaxIdleConnsPerHost: 5,
		},
	}
}

// CreateGatewayOrder creates an order at the gateway for the given amount.
// The receipt ties the order back to our registration.
func CreateGatewayOrder(ctx context.Context, amountMinor int64, currency, receipt string) (*GatewayOrder, error) {
	orderURL := fmt.Sprintf("%s/v1/orders", config.APIBase())

	payload := map[string]interface{}{
		"amount":   amountMinor,
		"currency": currency,
		"receipt":  receipt,
	}
	bodyBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshaling order payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, orderURL, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("creating gateway order request: %w", err)
	}
	req.SetBasicAuth(config.KeyID(), config.KeySecret())
	req.Header.Set("Content-Type", "application/json")

	logger.LogInfo("Creating gateway order: amount=%d %s, receipt=%s", amountMinor, currency, receipt)
	resp, err := gatewayHTTPClient().Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing gateway order request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading gateway response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		logger.LogError("Gateway API error (HTTP %d): %s", resp.StatusCode, string(body))
		var gatewayErr GatewayError
		if json.Unmarshal(body, &gatewayErr) == nil && gatewayErr.ErrorInfo.Code != "" {
			return nil, &gatewayErr
		}
		return nil, fmt.Errorf("gateway returned status %d: %s", resp.StatusCode, string(body))
	}

	var order GatewayOrder
	if err := json.Unmarshal(body, &order); err != nil {
		return nil, fmt.Errorf("parsing gateway order response: %w", err)
	}
	if order.ID == "" {
		return nil, fmt.Errorf("order id missing from gateway response")
	}

	logger.LogInfo("Gateway order created: %s", order.ID)
	return &order, nil
}

// FetchGatewayOrder retrieves the current state of an order from the gateway.
func FetchGatewayOrder(ctx context.Context, orderID string) (*GatewayOrder, error) {
	orderURL := fmt.Sprintf("%s/v1/orders/%s", config.APIBase(), orderID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, orderURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating gateway fetch request: %w", err)
	}
	req.SetBasicAuth(config.KeyID(), config.KeySecret())

	resp, err := gatewayHTTPClient().Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing gateway fetch request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading gateway response body: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		logger.LogError("Gateway API error for order %s (HTTP %d): %s", orderID, resp.StatusCode, string(body))
		return nil, fmt.Errorf("gateway returned status %d for order %s", resp.StatusCode, orderID)
	}

	var order GatewayOrder
	if err := json.Unmarshal(body, &order); err != nil {
		return nil, fmt.Errorf("parsing gateway order response: %w", err)
	}
	return &order, nil
}

// VerifySignature checks the signature returned by the checkout widget. The
// gateway signs "orderID|paymentID" with the key secret using HMAC-SHA256 and
// sends the hex digest as the third member of the triple.
func VerifySignature(orderID, paymentID, signature string) bool {
	if orderID == "" || paymentID == "" || signature == "" {
		return false
	}
	expected := SignPayload(orderID+"|"+paymentID, config.KeySecret())
	return subtle.ConstantTimeCompare([]byte(expected), []byte(signature)) == 1
}

// SignPayload computes the hex HMAC-SHA256 of payload under the given secret.
// Shared with webhook verification, which signs the raw request body.
func SignPayload(payload, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}
