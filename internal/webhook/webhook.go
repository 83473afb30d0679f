package webhook

import (
	"crypto/subtle"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"regbackend/internal/config"
	"regbackend/internal/data"
	"regbackend/internal/email"
	"regbackend/internal/logger"
	"regbackend/internal/payment"
)

// webhookEvent is the envelope the gateway posts on payment state changes.
type webhookEvent struct {
	Event   string `json:"event"`
	Payload struct {
		Payment struct {
			Entity paymentEntity `json:"entity"`
		} `json:"payment"`
	} `json:"payload"`
}

type paymentEntity struct {
	ID               string `json:"id"`
	OrderID          string `json:"order_id"`
	Status           string `json:"status"`
	Amount           int64  `json:"amount"`
	Currency         string `json:"currency"`
	ErrorCode        string `json:"error_code"`
	ErrorDescription string `json:"error_description"`
}

// GatewayWebhookHandler processes payment notifications pushed by the
// gateway. It is the safety net for payments the browser never reported
// back, e.g. when the user closed the tab between paying and verification.
func GatewayWebhookHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}

	logger.LogInfo("Received gateway webhook request")
	logger.LogHTTPRequest(r)

	payloadBytes, err := io.ReadAll(r.Body)
	if err != nil {
		logger.LogHTTPError(r, http.StatusBadRequest, err)
		http.Error(w, "Failed to read request body", http.StatusBadRequest)
		return
	}

	if !verifyWebhookSignature(r.Header.Get("X-Webhook-Signature"), payloadBytes) {
		logger.LogError("Invalid gateway webhook signature")
		http.Error(w, "Invalid signature", http.StatusUnauthorized)
		return
	}

	var event webhookEvent
	if err := json.Unmarshal(payloadBytes, &event); err != nil {
		logger.LogHTTPError(r, http.StatusBadRequest, err)
		http.Error(w, "Invalid JSON payload", http.StatusBadRequest)
		return
	}

	logger.LogInfo("Webhook event type: %s", event.Event)

	entity := event.Payload.Payment.Entity
	if entity.OrderID == "" {
		logger.LogInfo("No order id in webhook payload, ignoring")
		w.WriteHeader(http.StatusOK)
		return
	}

	reg, err := data.GetRegistrationByOrderID(entity.OrderID)
	if err != nil {
		logger.LogWarn("No registration found for webhook order %s: %v", entity.OrderID, err)
		w.WriteHeader(http.StatusOK)
		return
	}

	repo := data.NewRegistrationRepository()

	switch event.Event {
	case "payment.captured", "order.paid":
		if reg.Submitted {
			logger.LogInfo("Registration %s already paid, webhook is a no-op", reg.RegistrationID)
			break
		}
		if err := repo.UpdatePaymentVerified(reg.RegistrationID, entity.ID, time.Now()); err != nil {
			logger.LogError("Failed to mark %s paid from webhook: %v", reg.RegistrationID, err)
			http.Error(w, "Failed to update registration", http.StatusInternalServerError)
			return
		}
		payment.CheckoutOrchestrator().Resume(reg.RegistrationID, payment.PhaseSucceeded)
		logger.LogInfo("Registration %s marked paid via webhook", reg.RegistrationID)

		if err := email.SendConfirmationEmail(reg.RegistrationID); err != nil {
			logger.LogWarn("Failed to send confirmation email for %s: %v", reg.RegistrationID, err)
		}

	case "payment.failed":
		if reg.Submitted {
			break
		}
		reason := entity.ErrorDescription
		if reason == "" {
			reason = entity.ErrorCode
		}
		if err := repo.UpdatePaymentFailed(reg.RegistrationID, entity.ID, reason); err != nil {
			logger.LogError("Failed to record failed payment from webhook for %s: %v", reg.RegistrationID, err)
		}

	default:
		logger.LogInfo("Ignoring webhook event type %s", event.Event)
	}

	logger.LogInfo("Webhook for order %s processed successfully.", entity.OrderID)
	w.WriteHeader(http.StatusOK)
}

// verifyWebhookSignature checks the HMAC the gateway computes over the raw
// request body with the shared webhook secret.
func verifyWebhookSignature(signature string, payload []byte) bool {
	if config.UseMockGateway {
		logger.LogInfo("Mock gateway enabled. Skipping webhook signature verification.")
		return true
	}

	if config.WebhookSecret() == "" {
		logger.LogWarn("Missing RAZORPAY_WEBHOOK_SECRET; signature verification will fail")
		return false
	}
	if signature == "" {
		return false
	}

	expected := payment.SignPayload(string(payload), config.WebhookSecret())
	return subtle.ConstantTimeCompare([]byte(expected), []byte(signature)) == 1
}
