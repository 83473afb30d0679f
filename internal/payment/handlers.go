package payment

import (
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"regbackend/internal/catalog"
	"regbackend/internal/config"
	"regbackend/internal/data"
	"regbackend/internal/email"
	"regbackend/internal/logger"
	"regbackend/internal/middleware"
)

// inject catalog service from main
var (
	catalogService *catalog.Service
	orchestrator   = NewOrchestrator()
)

func SetCatalogService(service *catalog.Service) {
	catalogService = service
}

// CheckoutOrchestrator exposes the package orchestrator for webhook sync and
// tests.
func CheckoutOrchestrator() *Orchestrator {
	return orchestrator
}

type CheckoutConfigResponse struct {
	KeyID    string `json:"keyID"`
	Currency string `json:"currency"`
}

type CreateOrderRequest struct {
	RegistrationID string `json:"registrationID"`
}

type CreateOrderResponse struct {
	OrderID        string `json:"orderID"`
	RegistrationID string `json:"registrationID"`
	Amount         int64  `json:"amount"`
	Currency       string `json:"currency"`
}

type VerifyPaymentRequest struct {
	RegistrationID string `json:"registrationID"`
	OrderID        string `json:"orderID"`
	PaymentID      string `json:"paymentID"`
	Signature      string `json:"signature"`
}

type VerifyPaymentResponse struct {
	Status      string `json:"status"`
	RedirectURL string `json:"redirect_url"`
}

// CheckoutConfigHandler returns the publishable gateway key the checkout
// widget needs. Moves the registration out of loading-gateway.
func CheckoutConfigHandler(w http.ResponseWriter, r *http.Request) {
	middleware.WriteAPISuccess(w, r, CheckoutConfigResponse{
		KeyID:    config.KeyID(),
		Currency: config.Currency,
	})
}

// CreateOrderHandler creates a gateway order for a registration. The amount
// always comes from the server-side category price. If the registration
// already holds an order, that order is returned instead of creating a
// second one.
func CreateOrderHandler(w http.ResponseWriter, r *http.Request) {
	var req CreateOrderRequest
	if err := middleware.ParseJSONRequest(r, &req); err != nil {
		middleware.WriteAPIError(w, r, http.StatusBadRequest, "invalid_request",
			"Invalid JSON request", err.Error())
		return
	}

	token := middleware.GetToken(r.Context())
	if err := middleware.ValidateRegistrationAccess(r.Context(), req.RegistrationID, token); err != nil {
		middleware.WriteAPIError(w, r, http.StatusForbidden, "access_denied",
			"Access denied to this registration", "")
		return
	}

	reg, err := data.GetRegistrationByID(req.RegistrationID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			middleware.WriteAPIError(w, r, http.StatusNotFound, "not_found",
				"Registration not found", "")
			return
		}
		logger.LogError("Failed to load registration %s: %v", req.RegistrationID, err)
		middleware.WriteAPIError(w, r, http.StatusInternalServerError, "database_error",
			"Failed to load registration", "")
		return
	}

	if reg.Submitted {
		middleware.WriteAPIError(w, r, http.StatusConflict, "already_paid",
			"This registration is already paid", "")
		return
	}

	// Reuse the existing order instead of creating a duplicate.
	if reg.OrderID != "" {
		logger.LogInfo("Existing gateway order found for %s: %s", reg.RegistrationID, reg.OrderID)
		orchestrator.Resume(reg.RegistrationID, PhaseReady)
		middleware.WriteAPISuccess(w, r, CreateOrderResponse{
			OrderID:        reg.OrderID,
			RegistrationID: reg.RegistrationID,
			Amount:         reg.AmountMinor,
			Currency:       reg.Currency,
		})
		return
	}

	if catalogService == nil {
		middleware.WriteAPIError(w, r, http.StatusInternalServerError, "catalog_unavailable",
			"Catalog service not initialized", "")
		return
	}

	amount, currency, err := catalogService.CategoryAmount(reg.CategoryID)
	if err != nil {
		logger.LogError("Unknown category for registration %s: %v", reg.RegistrationID, err)
		middleware.WriteAPIError(w, r, http.StatusBadRequest, "unknown_category",
			"Registration category not found", "")
		return
	}
	if amount <= 0 {
		logger.LogError("Attempt to create order with zero amount for %s", reg.RegistrationID)
		middleware.WriteAPIError(w, r, http.StatusBadRequest, "invalid_amount",
			"Invalid order amount", "")
		return
	}

	if err := orchestrator.Transition(reg.RegistrationID, PhaseCreatingOrder); err != nil {
		middleware.WriteAPIError(w, r, http.StatusConflict, "invalid_state", err.Error(), "")
		return
	}

	order, err := CreateGatewayOrder(r.Context(), amount, currency, reg.RegistrationID)
	if err != nil {
		orchestrator.Transition(reg.RegistrationID, PhaseFailed)
		logger.LogError("Gateway order creation failed for %s: %v", reg.RegistrationID, err)
		middleware.WriteAPIError(w, r, http.StatusBadGateway, "order_creation_failed",
			"Could not reach the payment gateway. Please try again.", "")
		return
	}

	if err := data.NewRegistrationRepository().UpdateOrder(reg.RegistrationID, order.ID, time.Now()); err != nil {
		logger.LogError("Failed to store order id for %s: %v", reg.RegistrationID, err)
	}

	orchestrator.Transition(reg.RegistrationID, PhaseReady)
	middleware.WriteAPISuccess(w, r, CreateOrderResponse{
		OrderID:        order.ID,
		RegistrationID: reg.RegistrationID,
		Amount:         amount,
		Currency:       currency,
	})
}

// OpenCheckoutHandler marks that the checkout widget was opened for a
// registration. Verification is only accepted after this step.
func OpenCheckoutHandler(w http.ResponseWriter, r *http.Request) {
	var req CreateOrderRequest
	if err := middleware.ParseJSONRequest(r, &req); err != nil {
		middleware.WriteAPIError(w, r, http.StatusBadRequest, "invalid_request",
			"Invalid JSON request", err.Error())
		return
	}

	token := middleware.GetToken(r.Context())
	if err := middleware.ValidateRegistrationAccess(r.Context(), req.RegistrationID, token); err != nil {
		middleware.WriteAPIError(w, r, http.StatusForbidden, "access_denied",
			"Access denied to this registration", "")
		return
	}

	if err := orchestrator.Transition(req.RegistrationID, PhaseOpeningWidget); err != nil {
		middleware.WriteAPIError(w, r, http.StatusConflict, "invalid_state", err.Error(), "")
		return
	}
	middleware.WriteAPISuccess(w, r, map[string]string{"phase": string(PhaseOpeningWidget)})
}

// DismissCheckoutHandler handles the user closing the widget without paying.
// The registration returns to ready so checkout can be reopened against the
// same order.
func DismissCheckoutHandler(w http.ResponseWriter, r *http.Request) {
	var req CreateOrderRequest
	if err := middleware.ParseJSONRequest(r, &req); err != nil {
		middleware.WriteAPIError(w, r, http.StatusBadRequest, "invalid_request",
			"Invalid JSON request", err.Error())
		return
	}

	token := middleware.GetToken(r.Context())
	if err := middleware.ValidateRegistrationAccess(r.Context(), req.RegistrationID, token); err != nil {
		middleware.WriteAPIError(w, r, http.StatusForbidden, "access_denied",
			"Access denied to this registration", "")
		return
	}

	if err := orchestrator.Transition(req.RegistrationID, PhaseReady); err != nil {
		middleware.WriteAPIError(w, r, http.StatusConflict, "invalid_state", err.Error(), "")
		return
	}

	logger.LogInfo("Checkout dismissed for %s", req.RegistrationID)
	middleware.WriteAPISuccess(w, r, map[string]string{"phase": string(PhaseReady)})
}

// VerifyPaymentHandler validates the signature triple returned by the
// checkout widget and finalizes the registration. A signature mismatch and a
// gateway outage get distinct messages and redirect targets so the user
// knows whether to retry or contact support.
func VerifyPaymentHandler(w http.ResponseWriter, r *http.Request) {
	var req VerifyPaymentRequest
	if err := middleware.ParseJSONRequest(r, &req); err != nil {
		middleware.WriteAPIError(w, r, http.StatusBadRequest, "invalid_request",
			"Invalid JSON request", err.Error())
		return
	}
	if req.RegistrationID == "" || req.OrderID == "" || req.PaymentID == "" || req.Signature == "" {
		middleware.WriteAPIError(w, r, http.StatusBadRequest, "missing_fields",
			"registrationID, orderID, paymentID and signature are required", "")
		return
	}

	token := middleware.GetToken(r.Context())
	if err := middleware.ValidateRegistrationAccess(r.Context(), req.RegistrationID, token); err != nil {
		middleware.WriteAPIError(w, r, http.StatusForbidden, "access_denied",
			"Access denied to this registration", "")
		return
	}

	reg, err := data.GetRegistrationByID(req.RegistrationID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			middleware.WriteAPIError(w, r, http.StatusNotFound, "not_found",
				"Registration not found", "")
			return
		}
		logger.LogError("Failed to load registration %s: %v", req.RegistrationID, err)
		middleware.WriteAPIError(w, r, http.StatusInternalServerError, "database_error",
			"Failed to load registration", "")
		return
	}

	// Idempotency: a second verify call for an already-paid registration
	// gets the success response again.
	if reg.Submitted && reg.PaymentStatus == "paid" {
		middleware.WriteAPISuccess(w, r, VerifyPaymentResponse{
			Status:      "succeeded",
			RedirectURL: successRedirectURL(reg.RegistrationID, reg.PaymentID),
		})
		return
	}

	if reg.OrderID != req.OrderID {
		middleware.WriteAPIError(w, r, http.StatusBadRequest, "order_mismatch",
			"Order does not belong to this registration", "")
		return
	}

	if err := orchestrator.Transition(req.RegistrationID, PhaseVerifying); err != nil {
		middleware.WriteAPIError(w, r, http.StatusConflict, "invalid_state", err.Error(), "")
		return
	}

	repo := data.NewRegistrationRepository()

	if !VerifySignature(req.OrderID, req.PaymentID, req.Signature) {
		orchestrator.Transition(req.RegistrationID, PhaseFailed)
		reason := "signature verification failed"
		if err := repo.UpdatePaymentFailed(req.RegistrationID, req.PaymentID, reason); err != nil {
			logger.LogError("Failed to record failed payment for %s: %v", req.RegistrationID, err)
		}
		logger.LogWarn("Signature verification failed for %s (order=%s, payment=%s)",
			req.RegistrationID, req.OrderID, req.PaymentID)
		middleware.WriteAPISuccess(w, r, VerifyPaymentResponse{
			Status:      "verification-failed",
			RedirectURL: failureRedirectURL(req.RegistrationID, "verification-failed", "We could not verify your payment. If money was deducted, it will be refunded automatically."),
		})
		return
	}

	// Cross-check with the gateway so a forged triple with a stolen secret
	// still cannot mark an unpaid order as paid.
	order, err := FetchGatewayOrder(r.Context(), req.OrderID)
	if err != nil {
		orchestrator.Transition(req.RegistrationID, PhaseFailed)
		logger.LogError("Gateway order fetch failed during verification for %s: %v", req.RegistrationID, err)
		middleware.WriteAPISuccess(w, r, VerifyPaymentResponse{
			Status:      "network-error",
			RedirectURL: failureRedirectURL(req.RegistrationID, "network-error", "We could not reach the payment gateway to confirm your payment. Please check back in a few minutes."),
		})
		return
	}

	if order.Status != OrderStatusPaid {
		orchestrator.Transition(req.RegistrationID, PhaseFailed)
		reason := fmt.Sprintf("gateway reports order status %q", order.Status)
		if err := repo.UpdatePaymentFailed(req.RegistrationID, req.PaymentID, reason); err != nil {
			logger.LogError("Failed to record failed payment for %s: %v", req.RegistrationID, err)
		}
		middleware.WriteAPISuccess(w, r, VerifyPaymentResponse{
			Status:      "verification-failed",
			RedirectURL: failureRedirectURL(req.RegistrationID, "verification-failed", "The payment gateway did not confirm this payment."),
		})
		return
	}

	if err := repo.UpdatePaymentVerified(req.RegistrationID, req.PaymentID, time.Now()); err != nil {
		logger.LogError("Failed to record verified payment for %s: %v", req.RegistrationID, err)
		middleware.WriteAPIError(w, r, http.StatusInternalServerError, "database_error",
			"Payment verified but could not be recorded", "")
		return
	}

	orchestrator.Transition(req.RegistrationID, PhaseSucceeded)
	logger.LogInfo("Payment verified for %s: order=%s, payment=%s",
		req.RegistrationID, req.OrderID, req.PaymentID)

	go func(registrationID string) {
		if err := email.SendConfirmationEmail(registrationID); err != nil {
			logger.LogWarn("Failed to send confirmation email for %s: %v", registrationID, err)
		}
	}(req.RegistrationID)

	middleware.WriteAPISuccess(w, r, VerifyPaymentResponse{
		Status:      "succeeded",
		RedirectURL: successRedirectURL(req.RegistrationID, req.PaymentID),
	})
}

func successRedirectURL(registrationID, paymentID string) string {
	params := url.Values{}
	params.Set("registrationID", registrationID)
	params.Set("paymentID", paymentID)
	return fmt.Sprintf("%s/registration/success?%s", config.RedirectBaseURL, params.Encode())
}

// failureRedirectURL routes verification failures and gateway outages to
// distinct frontend targets. A verification failure is final (the gateway
// refunds automatically); a network error means the payment may still settle
// through the webhook, so the frontend shows a pending page instead.
func failureRedirectURL(registrationID, reason, message string) string {
	params := url.Values{}
	params.Set("registrationID", registrationID)
	params.Set("reason", reason)
	params.Set("message", message)
	route := "/registration/failed"
	if reason == "network-error" {
		route = "/registration/payment-pending"
	}
	return fmt.Sprintf("%s%s?%s", config.RedirectBaseURL, route, params.Encode())
}
