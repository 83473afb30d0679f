package payment

import (
	"strings"
	"testing"

	"regbackend/internal/config"
)

// A verification failure is final, a network error is provisional. The two
// must land on different frontend routes.
func TestFailureRedirectTargetsAreDistinct(t *testing.T) {
	config.RedirectBaseURL = "https://conf.example.org"

	verifyFailed := failureRedirectURL("reg-1", "verification-failed", "not verified")
	networkError := failureRedirectURL("reg-1", "network-error", "gateway unreachable")

	if !strings.Contains(verifyFailed, "/registration/failed?") {
		t.Errorf("verification failure should redirect to the failed page, got %s", verifyFailed)
	}
	if !strings.Contains(networkError, "/registration/payment-pending?") {
		t.Errorf("network error should redirect to the pending page, got %s", networkError)
	}
	if !strings.Contains(verifyFailed, "reason=verification-failed") {
		t.Errorf("missing reason param: %s", verifyFailed)
	}
	if !strings.Contains(networkError, "reason=network-error") {
		t.Errorf("missing reason param: %s", networkError)
	}
}

func TestSuccessRedirectCarriesPaymentID(t *testing.T) {
	config.RedirectBaseURL = "https://conf.example.org"

	got := successRedirectURL("reg-1", "pay_X1")
	if !strings.Contains(got, "/registration/success?") || !strings.Contains(got, "paymentID=pay_X1") {
		t.Errorf("unexpected success redirect: %s", got)
	}
}
