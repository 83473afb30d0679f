package testing

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"regbackend/internal/data"
	"regbackend/internal/payment"
	"regbackend/internal/webhook"
)

func TestPaymentFlow(t *testing.T) {
	suite := NewTestSuite(t)

	mock := NewMockGatewayService()
	defer mock.Close()
	mock.Activate()

	t.Run("ServerSidePricing", func(t *testing.T) {
		testServerSidePricing(t, suite)
	})

	t.Run("CheckoutHappyPath", func(t *testing.T) {
		testCheckoutHappyPath(t, suite, mock)
	})

	t.Run("TamperedSignature", func(t *testing.T) {
		testTamperedSignature(t, suite, mock)
	})

	t.Run("GatewayFailure", func(t *testing.T) {
		testGatewayFailure(t, suite, mock)
	})

	t.Run("WebhookReconciliation", func(t *testing.T) {
		testWebhookReconciliation(t, suite, mock)
	})
}

// Order amounts must come from the catalog, never from anything the client
// posted.
func testServerSidePricing(t *testing.T, suite *TestSuite) {
	cases := []struct {
		categoryID string
		expected   int64
	}{
		{"delegate", 150000},
		{"speaker", 100000},
		{"workshop-seat", 50000},
	}

	for _, tc := range cases {
		amount, currency, err := suite.Catalog.CategoryAmount(tc.categoryID)
		suite.AssertNoError(t, err)
		if amount != tc.expected {
			t.Errorf("%s: expected amount %d, got %d", tc.categoryID, tc.expected, amount)
		}
		if currency != "INR" {
			t.Errorf("%s: expected INR, got %s", tc.categoryID, currency)
		}
	}

	if _, _, err := suite.Catalog.CategoryAmount("no-such-category"); err == nil {
		t.Error("Expected error for unknown category")
	}
}

func testCheckoutHappyPath(t *testing.T, suite *TestSuite, mock *MockGatewayService) {
	repo := data.NewRegistrationRepository()

	testData := suite.GenerateTestRegistration()
	reg := testData.ToRegistration()
	suite.AssertNoError(t, data.InsertRegistration(reg))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	order, err := payment.CreateGatewayOrder(ctx, reg.AmountMinor, reg.Currency, reg.RegistrationID)
	suite.AssertNoError(t, err)
	if order.Amount != 150000 || order.Status != payment.OrderStatusCreated {
		t.Fatalf("Unexpected gateway order: %+v", order)
	}
	if order.Receipt != reg.RegistrationID {
		t.Errorf("Receipt should carry the registration ID, got %q", order.Receipt)
	}

	suite.AssertNoError(t, repo.UpdateOrder(reg.RegistrationID, order.ID, time.Now()))

	// The widget hands back the signed triple after the user pays.
	paymentID, signature, err := mock.MarkPaid(order.ID)
	suite.AssertNoError(t, err)

	if !payment.VerifySignature(order.ID, paymentID, signature) {
		t.Fatal("Valid checkout signature rejected")
	}

	// Cross-check with the gateway before trusting the triple.
	fetched, err := payment.FetchGatewayOrder(ctx, order.ID)
	suite.AssertNoError(t, err)
	if fetched.Status != payment.OrderStatusPaid {
		t.Fatalf("Expected paid order at gateway, got %q", fetched.Status)
	}

	suite.AssertNoError(t, repo.UpdatePaymentVerified(reg.RegistrationID, paymentID, time.Now()))

	final, err := data.GetRegistrationByID(reg.RegistrationID)
	suite.AssertNoError(t, err)
	if final.PaymentStatus != "paid" || !final.Submitted {
		t.Errorf("Registration not finalized: status=%q submitted=%t", final.PaymentStatus, final.Submitted)
	}
}

func testTamperedSignature(t *testing.T, suite *TestSuite, mock *MockGatewayService) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	order, err := payment.CreateGatewayOrder(ctx, 150000, "INR", "tamper-check")
	suite.AssertNoError(t, err)

	paymentID, signature, err := mock.MarkPaid(order.ID)
	suite.AssertNoError(t, err)

	cases := []struct {
		name      string
		orderID   string
		paymentID string
		signature string
	}{
		{"flipped signature", order.ID, paymentID, signature[:len(signature)-1] + "0"},
		{"signature for another order", "order_other", paymentID, signature},
		{"swapped payment id", order.ID, "pay_forged", signature},
		{"empty signature", order.ID, paymentID, ""},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if payment.VerifySignature(tc.orderID, tc.paymentID, tc.signature) {
				t.Error("Tampered triple accepted")
			}
		})
	}
}

func testGatewayFailure(t *testing.T, suite *TestSuite, mock *MockGatewayService) {
	mock.SetFailureMode(true, false)
	defer mock.SetFailureMode(false, false)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	before := mock.GetStats()["order_attempts"]

	_, err := payment.CreateGatewayOrder(ctx, 150000, "INR", "fail-check")
	suite.AssertError(t, err)

	// No retry loop: exactly one attempt per call.
	after := mock.GetStats()["order_attempts"]
	if after-before != 1 {
		t.Errorf("Expected a single order attempt, got %d", after-before)
	}
}

func testWebhookReconciliation(t *testing.T, suite *TestSuite, mock *MockGatewayService) {
	repo := data.NewRegistrationRepository()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Registration whose browser never came back after paying.
	testData := suite.GenerateTestRegistration()
	reg := testData.ToRegistration()
	suite.AssertNoError(t, data.InsertRegistration(reg))

	order, err := payment.CreateGatewayOrder(ctx, reg.AmountMinor, reg.Currency, reg.RegistrationID)
	suite.AssertNoError(t, err)
	suite.AssertNoError(t, repo.UpdateOrder(reg.RegistrationID, order.ID, time.Now()))

	paymentID, _, err := mock.MarkPaid(order.ID)
	suite.AssertNoError(t, err)

	body := webhookBody(t, "payment.captured", paymentID, order.ID, reg.AmountMinor, "")

	t.Run("RejectsBadSignature", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/gateway-webhook", bytes.NewReader(body))
		req.Header.Set("X-Webhook-Signature", "deadbeef")
		rec := httptest.NewRecorder()
		webhook.GatewayWebhookHandler(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Errorf("Expected 401 for bad signature, got %d", rec.Code)
		}
	})

	t.Run("MarksPaid", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/gateway-webhook", bytes.NewReader(body))
		req.Header.Set("X-Webhook-Signature", mock.SignWebhookBody(body))
		rec := httptest.NewRecorder()
		webhook.GatewayWebhookHandler(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("Expected 200, got %d: %s", rec.Code, rec.Body.String())
		}

		final, err := data.GetRegistrationByID(reg.RegistrationID)
		suite.AssertNoError(t, err)
		if final.PaymentStatus != "paid" || !final.Submitted {
			t.Errorf("Webhook did not finalize registration: status=%q submitted=%t",
				final.PaymentStatus, final.Submitted)
		}
		if final.PaymentID != paymentID {
			t.Errorf("PaymentID mismatch: got %q", final.PaymentID)
		}
	})

	t.Run("RecordsFailure", func(t *testing.T) {
		failData := suite.GenerateTestRegistration()
		failReg := failData.ToRegistration()
		suite.AssertNoError(t, data.InsertRegistration(failReg))

		failOrder, err := payment.CreateGatewayOrder(ctx, failReg.AmountMinor, failReg.Currency, failReg.RegistrationID)
		suite.AssertNoError(t, err)
		suite.AssertNoError(t, repo.UpdateOrder(failReg.RegistrationID, failOrder.ID, time.Now()))

		failBody := webhookBody(t, "payment.failed", "pay_declined", failOrder.ID, failReg.AmountMinor, "card declined")
		req := httptest.NewRequest(http.MethodPost, "/api/gateway-webhook", bytes.NewReader(failBody))
		req.Header.Set("X-Webhook-Signature", mock.SignWebhookBody(failBody))
		rec := httptest.NewRecorder()
		webhook.GatewayWebhookHandler(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("Expected 200, got %d", rec.Code)
		}

		final, err := data.GetRegistrationByID(failReg.RegistrationID)
		suite.AssertNoError(t, err)
		if final.PaymentStatus != "failed" {
			t.Errorf("Expected failed status, got %q", final.PaymentStatus)
		}
		if final.PaymentError != "card declined" {
			t.Errorf("Expected failure reason recorded, got %q", final.PaymentError)
		}
		if final.Submitted {
			t.Error("Failed payment must not mark the registration submitted")
		}
	})
}

func webhookBody(t *testing.T, event, paymentID, orderID string, amount int64, errorDesc string) []byte {
	t.Helper()

	status := "captured"
	if event == "payment.failed" {
		status = "failed"
	}

	body, err := json.Marshal(map[string]interface{}{
		"event": event,
		"payload": map[string]interface{}{
			"payment": map[string]interface{}{
				"entity": map[string]interface{}{
					"id":                paymentID,
					"order_id":          orderID,
					"status":            status,
					"amount":            amount,
					"currency":          "INR",
					"error_description": errorDesc,
				},
			},
		},
	})
	if err != nil {
		t.Fatalf("Failed to marshal webhook body: %v", err)
	}
	return body
}
