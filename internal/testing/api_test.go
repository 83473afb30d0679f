// api_test.go - end-to-end tests against the real route wiring
package testing

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"regbackend/internal/abstract"
	"regbackend/internal/badge"
	"regbackend/internal/data"
	"regbackend/internal/event"
	"regbackend/internal/middleware"
	"regbackend/internal/payment"
	"regbackend/internal/registration"
	"regbackend/internal/security"
	"regbackend/internal/webhook"
)

// apiEnvelope matches middleware.WriteAPISuccess output
type apiEnvelope struct {
	Success   bool            `json:"success"`
	Data      json.RawMessage `json:"data"`
	RequestID string          `json:"request_id"`
}

var forwardedIPSeq int64

// createTestServer mirrors the route wiring in main.go
func createTestServer(suite *TestSuite) *httptest.Server {
	apiMux := http.NewServeMux()

	apiMux.HandleFunc("/csrf-token", security.CSRFTokenHandler)
	apiMux.HandleFunc("/events", middleware.PublicAPIMiddleware(event.ListEventsHandler))
	apiMux.HandleFunc("/event", middleware.PublicAPIMiddleware(event.GetEventHandler))
	apiMux.HandleFunc("/submit-registration", registration.SubmitRegistrationHandler)
	apiMux.HandleFunc("/submit-abstract", abstract.SubmitAbstractHandler)
	apiMux.HandleFunc("/registration", middleware.APIMiddleware(registration.GetRegistrationHandler))
	apiMux.HandleFunc("/uploads/", middleware.APIMiddleware(registration.ServeUploadHandler))
	apiMux.HandleFunc("/badge", middleware.APIMiddleware(badge.BadgeHandler))
	apiMux.HandleFunc("/checkout/create-order", middleware.APIMiddleware(payment.CreateOrderHandler))
	apiMux.HandleFunc("/checkout/open", middleware.APIMiddleware(payment.OpenCheckoutHandler))
	apiMux.HandleFunc("/checkout/dismiss", middleware.APIMiddleware(payment.DismissCheckoutHandler))
	apiMux.HandleFunc("/checkout/verify", middleware.APIMiddleware(payment.VerifyPaymentHandler))
	apiMux.HandleFunc("/gateway-webhook", webhook.GatewayWebhookHandler)

	mux := http.NewServeMux()
	mux.Handle("/api/", http.StripPrefix("/api", apiMux))

	server := httptest.NewServer(mux)
	suite.Server = server
	return server
}

// fetchCSRFToken gets a fresh single-use CSRF token from the server
func fetchCSRFToken(t *testing.T, suite *TestSuite) string {
	t.Helper()

	resp, err := suite.Client.Get(suite.Server.URL + "/api/csrf-token")
	suite.AssertNoError(t, err)
	defer resp.Body.Close()

	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("Failed to decode CSRF response: %v", err)
	}
	if body["csrf_token"] == "" {
		t.Fatal("Empty CSRF token")
	}
	return body["csrf_token"]
}

// nextClientIP returns a unique forwarded IP so the per-IP submission rate
// limit never trips across tests
func nextClientIP() string {
	n := atomic.AddInt64(&forwardedIPSeq, 1)
	return fmt.Sprintf("10.0.%d.%d", n/250, n%250+1)
}

type registrationForm struct {
	csrfToken      string
	honeypot       string
	eventID        string
	categoryID     string
	profile        map[string]string
	mealPreference string
	acceptedTerms  []string
	dynamic        map[string][]string
	additional     map[string]string
	fileField      string
	fileName       string
	fileContent    []byte
}

func defaultRegistrationForm(t *testing.T, suite *TestSuite, td TestRegistrationData) registrationForm {
	form := registrationForm{
		csrfToken:  fetchCSRFToken(t, suite),
		eventID:    td.EventID,
		categoryID: td.CategoryID,
		profile: map[string]string{
			"name":         td.Name,
			"email":        td.Email,
			"mobile":       td.Mobile,
			"organization": td.Organization,
			"address":      "12 MG Road",
			"city":         "Bengaluru",
			"country":      "India",
		},
		mealPreference: td.MealPreference,
		acceptedTerms:  td.AcceptedTerms,
		dynamic: map[string][]string{
			"dietary":     td.Dietary,
			"tshirt-size": {"M"},
		},
	}
	if td.CategoryID == "speaker" {
		form.additional = map[string]string{
			"badge-name": td.BadgeName,
			"talk-track": td.TalkTrack,
		}
		form.fileField = "id-proof"
		form.fileName = "passport.pdf"
		form.fileContent = []byte("%PDF-1.4 test document")
	}
	return form
}

// submitRegistration posts a multipart registration form and returns the
// raw response
func submitRegistration(t *testing.T, suite *TestSuite, form registrationForm) *http.Response {
	t.Helper()

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	writeField := func(key, value string) {
		if err := writer.WriteField(key, value); err != nil {
			t.Fatalf("Failed to write form field %s: %v", key, err)
		}
	}

	writeField("csrf_token", form.csrfToken)
	if form.honeypot != "" {
		writeField("hidden_field", form.honeypot)
	}
	writeField("event_id", form.eventID)
	writeField("category_id", form.categoryID)
	for key, value := range form.profile {
		writeField(key, value)
	}
	if form.mealPreference != "" {
		writeField("meal_preference", form.mealPreference)
	}
	for _, term := range form.acceptedTerms {
		writeField("accepted_terms", term)
	}
	for fieldID, values := range form.dynamic {
		for _, value := range values {
			writeField("dynamic_"+fieldID, value)
		}
	}
	for fieldID, value := range form.additional {
		writeField("additional_"+fieldID, value)
	}
	if form.fileField != "" {
		part, err := writer.CreateFormFile("additional_file_"+form.fileField, form.fileName)
		if err != nil {
			t.Fatalf("Failed to create file part: %v", err)
		}
		if _, err := part.Write(form.fileContent); err != nil {
			t.Fatalf("Failed to write file content: %v", err)
		}
	}

	if err := writer.Close(); err != nil {
		t.Fatalf("Failed to close multipart writer: %v", err)
	}

	req, err := http.NewRequest(http.MethodPost, suite.Server.URL+"/api/submit-registration", &buf)
	suite.AssertNoError(t, err)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("X-Forwarded-For", nextClientIP())

	resp, err := suite.Client.Do(req)
	suite.AssertNoError(t, err)
	return resp
}

func TestAPIEndpoints(t *testing.T) {
	suite := NewTestSuite(t)

	mock := NewMockGatewayService()
	defer mock.Close()
	mock.Activate()

	createTestServer(suite)

	t.Run("EventDiscovery", func(t *testing.T) {
		testEventDiscovery(t, suite)
	})

	t.Run("SubmitDelegate", func(t *testing.T) {
		testSubmitDelegate(t, suite)
	})

	t.Run("SubmitSpeakerWithFile", func(t *testing.T) {
		testSubmitSpeakerWithFile(t, suite)
	})

	t.Run("SubmissionRejections", func(t *testing.T) {
		testSubmissionRejections(t, suite)
	})

	t.Run("ValidationErrors", func(t *testing.T) {
		testValidationErrors(t, suite)
	})

	t.Run("CheckoutAndBadge", func(t *testing.T) {
		testCheckoutAndBadge(t, suite, mock)
	})

	t.Run("AbstractSubmission", func(t *testing.T) {
		testAbstractSubmission(t, suite)
	})

	t.Run("OrderCreateRetry", func(t *testing.T) {
		testOrderCreateRetry(t, suite, mock)
	})
}

// A gateway outage during order creation must not wedge the registration:
// re-entering the checkout flow retries order creation from scratch.
func testOrderCreateRetry(t *testing.T, suite *TestSuite, mock *MockGatewayService) {
	td := suite.GenerateTestRegistration()
	form := defaultRegistrationForm(t, suite, td)

	resp := submitRegistration(t, suite, form)
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		t.Fatalf("Submission failed (%d): %s", resp.StatusCode, body)
	}
	var submitResult map[string]string
	suite.AssertNoError(t, json.NewDecoder(resp.Body).Decode(&submitResult))
	resp.Body.Close()

	registrationID := submitResult["registrationID"]
	token := submitResult["token"]
	orderReq := payment.CreateOrderRequest{RegistrationID: registrationID}

	mock.SetFailureMode(true, false)
	time.Sleep(2100 * time.Millisecond) // per-token rate limit window
	r, err := suite.MakeAPIRequest(http.MethodPost, "/api/checkout/create-order", orderReq, token)
	suite.AssertNoError(t, err)
	suite.AssertStatusCode(t, r, http.StatusBadGateway)
	r.Body.Close()

	mock.SetFailureMode(false, false)
	time.Sleep(2100 * time.Millisecond)
	r, err = suite.MakeAPIRequest(http.MethodPost, "/api/checkout/create-order", orderReq, token)
	suite.AssertNoError(t, err)

	var envelope apiEnvelope
	suite.AssertNoError(t, suite.ParseJSONResponse(r, &envelope))
	suite.AssertStatusCode(t, r, http.StatusOK)

	var orderResult payment.CreateOrderResponse
	suite.AssertNoError(t, json.Unmarshal(envelope.Data, &orderResult))
	if orderResult.OrderID == "" || orderResult.Amount != 150000 {
		t.Fatalf("Retry after gateway failure should create an order, got %+v", orderResult)
	}
}

func submitAbstract(t *testing.T, suite *TestSuite, eventID, title, docName string, authors []string) *http.Response {
	t.Helper()

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	writer.WriteField("csrf_token", fetchCSRFToken(t, suite))
	writer.WriteField("event_id", eventID)
	writer.WriteField("title", title)
	writer.WriteField("track", "backend")
	writer.WriteField("summary", "Scaling a registration pipeline on SQLite.")
	for _, author := range authors {
		writer.WriteField("authors", author)
	}
	if docName != "" {
		part, err := writer.CreateFormFile("document", docName)
		if err != nil {
			t.Fatalf("Failed to create document part: %v", err)
		}
		part.Write([]byte("%PDF-1.4 abstract document"))
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("Failed to close multipart writer: %v", err)
	}

	req, err := http.NewRequest("POST", suite.Server.URL+"/api/submit-abstract", &buf)
	if err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("X-Forwarded-For", nextClientIP())

	resp, err := suite.Client.Do(req)
	if err != nil {
		t.Fatalf("Abstract submission request failed: %v", err)
	}
	return resp
}

func testAbstractSubmission(t *testing.T, suite *TestSuite) {
	t.Run("WithDocument", func(t *testing.T) {
		resp := submitAbstract(t, suite, "goconf-2026", "Go at the Edge", "paper.pdf",
			[]string{"Priya Sharma", "Arun Iyer"})
		defer resp.Body.Close()
		suite.AssertStatusCode(t, resp, http.StatusOK)

		var result map[string]string
		suite.AssertNoError(t, json.NewDecoder(resp.Body).Decode(&result))
		if !strings.HasPrefix(result["abstractID"], "abs-") {
			t.Fatalf("Unexpected abstract ID: %q", result["abstractID"])
		}

		stored, err := data.NewAbstractRepository().GetByID(result["abstractID"])
		suite.AssertNoError(t, err)
		if stored.Title != "Go at the Edge" || len(stored.Authors) != 2 {
			t.Errorf("Stored abstract mismatch: %+v", stored)
		}
		if stored.FilePath == "" || !strings.HasSuffix(stored.FilePath, ".pdf") {
			t.Errorf("Expected stored document path, got %q", stored.FilePath)
		}
	})

	t.Run("RejectsBadDocumentType", func(t *testing.T) {
		resp := submitAbstract(t, suite, "goconf-2026", "Malware Talk", "payload.exe",
			[]string{"Priya Sharma"})
		suite.AssertStatusCode(t, resp, http.StatusBadRequest)
		resp.Body.Close()
	})

	t.Run("RequiresAuthors", func(t *testing.T) {
		resp := submitAbstract(t, suite, "goconf-2026", "Orphan Talk", "", nil)
		suite.AssertStatusCode(t, resp, http.StatusBadRequest)
		resp.Body.Close()
	})

	t.Run("UnknownEvent", func(t *testing.T) {
		resp := submitAbstract(t, suite, "no-such-event", "Ghost Talk", "",
			[]string{"Priya Sharma"})
		suite.AssertStatusCode(t, resp, http.StatusNotFound)
		resp.Body.Close()
	})
}

func testEventDiscovery(t *testing.T, suite *TestSuite) {
	resp, err := suite.Client.Get(suite.Server.URL + "/api/events")
	suite.AssertNoError(t, err)
	suite.AssertStatusCode(t, resp, http.StatusOK)

	var envelope apiEnvelope
	suite.AssertNoError(t, suite.ParseJSONResponse(resp, &envelope))

	var events []data.Event
	suite.AssertNoError(t, json.Unmarshal(envelope.Data, &events))

	if len(events) != 1 {
		t.Fatalf("Expected 1 published event, got %d", len(events))
	}
	if events[0].EventID != "goconf-2026" {
		t.Errorf("Unexpected event: %s", events[0].EventID)
	}

	// Event detail carries everything the form needs.
	resp, err = suite.Client.Get(suite.Server.URL + "/api/event?eventID=goconf-2026")
	suite.AssertNoError(t, err)
	suite.AssertStatusCode(t, resp, http.StatusOK)

	envelope = apiEnvelope{}
	suite.AssertNoError(t, suite.ParseJSONResponse(resp, &envelope))

	var detail event.EventDetail
	suite.AssertNoError(t, json.Unmarshal(envelope.Data, &detail))

	if len(detail.Categories) != 2 {
		t.Errorf("Expected 2 categories, got %d", len(detail.Categories))
	}
	if len(detail.DynamicFields) != 2 {
		t.Errorf("Expected 2 dynamic fields, got %d", len(detail.DynamicFields))
	}
	if len(detail.Meals) != 2 || len(detail.Terms) != 2 {
		t.Errorf("Expected 2 meals and 2 terms, got %d and %d", len(detail.Meals), len(detail.Terms))
	}
	if len(detail.ProfileFields) == 0 {
		t.Error("Profile field list should not be empty")
	}

	for _, category := range detail.Categories {
		if category.ID == "speaker" && !category.NeedsAdditionalInfo {
			t.Error("Speaker category should need additional info")
		}
	}

	// Unknown events 404.
	resp, err = suite.Client.Get(suite.Server.URL + "/api/event?eventID=nope")
	suite.AssertNoError(t, err)
	suite.AssertStatusCode(t, resp, http.StatusNotFound)
	resp.Body.Close()
}

func testSubmitDelegate(t *testing.T, suite *TestSuite) {
	td := suite.GenerateTestRegistration()
	form := defaultRegistrationForm(t, suite, td)

	resp := submitRegistration(t, suite, form)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("Submission failed (%d): %s", resp.StatusCode, body)
	}

	var result map[string]string
	suite.AssertNoError(t, json.NewDecoder(resp.Body).Decode(&result))

	if result["status"] != "success" {
		t.Fatalf("Expected success, got %q", result["status"])
	}
	registrationID := result["registrationID"]
	token := result["token"]
	if registrationID == "" || token == "" {
		t.Fatal("Response missing registrationID or token")
	}
	if !strings.Contains(result["redirect_url"], registrationID) {
		t.Errorf("Redirect URL should carry the registration ID: %s", result["redirect_url"])
	}

	// The stored registration is readable with the returned token.
	detailResp, err := suite.MakeAPIRequest(http.MethodGet,
		"/api/registration?registrationID="+registrationID, nil, token)
	suite.AssertNoError(t, err)
	suite.AssertStatusCode(t, detailResp, http.StatusOK)

	var envelope apiEnvelope
	suite.AssertNoError(t, suite.ParseJSONResponse(detailResp, &envelope))

	var reg data.Registration
	suite.AssertNoError(t, json.Unmarshal(envelope.Data, &reg))
	if reg.Profile["email"] != td.Email {
		t.Errorf("Email mismatch: got %q", reg.Profile["email"])
	}
	if reg.AmountMinor != 150000 {
		t.Errorf("Server-side amount expected 150000, got %d", reg.AmountMinor)
	}
	if reg.MealPreference != "veg" {
		t.Errorf("Meal preference mismatch: got %q", reg.MealPreference)
	}

	// A foreign token must not read it.
	otherToken, err := suite.GenerateAccessToken("some-other-reg", "registration")
	suite.AssertNoError(t, err)
	time.Sleep(2100 * time.Millisecond) // per-token rate limit window
	foreignResp, err := suite.MakeAPIRequest(http.MethodGet,
		"/api/registration?registrationID="+registrationID, nil, otherToken)
	suite.AssertNoError(t, err)
	suite.AssertStatusCode(t, foreignResp, http.StatusForbidden)
	foreignResp.Body.Close()

	// No token at all is unauthorized.
	noTokenResp, err := suite.MakeAPIRequest(http.MethodGet,
		"/api/registration?registrationID="+registrationID, nil, "")
	suite.AssertNoError(t, err)
	suite.AssertStatusCode(t, noTokenResp, http.StatusUnauthorized)
	noTokenResp.Body.Close()
}

func testSubmitSpeakerWithFile(t *testing.T, suite *TestSuite) {
	td := suite.GenerateTestRegistration("speaker")
	form := defaultRegistrationForm(t, suite, td)

	resp := submitRegistration(t, suite, form)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("Speaker submission failed (%d): %s", resp.StatusCode, body)
	}

	var result map[string]string
	suite.AssertNoError(t, json.NewDecoder(resp.Body).Decode(&result))
	registrationID := result["registrationID"]

	reg, err := data.GetRegistrationByID(registrationID)
	suite.AssertNoError(t, err)

	var badgeName, idProofValue string
	for _, answer := range reg.AdditionalAnswers {
		switch answer.FieldID {
		case "badge-name":
			badgeName = answer.Value
		case "id-proof":
			idProofValue = answer.Value
		}
	}
	if badgeName != "Priya S." {
		t.Errorf("Badge name answer mismatch: got %q", badgeName)
	}
	if !strings.HasPrefix(idProofValue, "/api/uploads/"+registrationID+"/") {
		t.Errorf("ID proof answer should hold the stored URL, got %q", idProofValue)
	}

	uploads, err := data.NewRegistrationRepository().ListUploads(registrationID)
	suite.AssertNoError(t, err)
	if len(uploads) != 1 {
		t.Fatalf("Expected 1 upload row, got %d", len(uploads))
	}
	if uploads[0].FieldID != "id-proof" || uploads[0].OriginalName != "passport.pdf" {
		t.Errorf("Upload row mismatch: %+v", uploads[0])
	}

	// The stored URL on the answer should serve the file back to the owner.
	fileResp, err := suite.MakeAPIRequest("GET", idProofValue, nil, result["token"])
	suite.AssertNoError(t, err)
	suite.AssertStatusCode(t, fileResp, http.StatusOK)
	content, _ := io.ReadAll(fileResp.Body)
	fileResp.Body.Close()
	if !strings.Contains(string(content), "%PDF-1.4") {
		t.Errorf("Served upload content mismatch: %q", content)
	}
}

func testSubmissionRejections(t *testing.T, suite *TestSuite) {
	t.Run("MissingCSRF", func(t *testing.T) {
		td := suite.GenerateTestRegistration()
		form := defaultRegistrationForm(t, suite, td)
		form.csrfToken = "forged-token"
		resp := submitRegistration(t, suite, form)
		suite.AssertStatusCode(t, resp, http.StatusForbidden)
		resp.Body.Close()
	})

	t.Run("Honeypot", func(t *testing.T) {
		td := suite.GenerateTestRegistration()
		form := defaultRegistrationForm(t, suite, td)
		form.honeypot = "I am a bot"
		resp := submitRegistration(t, suite, form)
		suite.AssertStatusCode(t, resp, http.StatusForbidden)
		resp.Body.Close()
	})

	t.Run("UnpublishedEvent", func(t *testing.T) {
		td := suite.GenerateTestRegistration()
		form := defaultRegistrationForm(t, suite, td)
		form.eventID = "draft-workshop"
		form.categoryID = "workshop-seat"
		resp := submitRegistration(t, suite, form)
		suite.AssertStatusCode(t, resp, http.StatusForbidden)
		resp.Body.Close()
	})

	t.Run("CategoryFromAnotherEvent", func(t *testing.T) {
		td := suite.GenerateTestRegistration()
		form := defaultRegistrationForm(t, suite, td)
		form.categoryID = "workshop-seat"
		resp := submitRegistration(t, suite, form)
		suite.AssertStatusCode(t, resp, http.StatusNotFound)
		resp.Body.Close()
	})

	t.Run("RequiredTermNotAccepted", func(t *testing.T) {
		td := suite.GenerateTestRegistration()
		form := defaultRegistrationForm(t, suite, td)
		form.acceptedTerms = []string{"marketing-emails"}
		resp := submitRegistration(t, suite, form)
		suite.AssertStatusCode(t, resp, http.StatusBadRequest)
		resp.Body.Close()
	})

	t.Run("UnlistedMeal", func(t *testing.T) {
		td := suite.GenerateTestRegistration()
		form := defaultRegistrationForm(t, suite, td)
		form.mealPreference = "steak"
		resp := submitRegistration(t, suite, form)
		suite.AssertStatusCode(t, resp, http.StatusBadRequest)
		resp.Body.Close()
	})

	t.Run("DuplicateSubmission", func(t *testing.T) {
		td := suite.GenerateTestRegistration()
		form := defaultRegistrationForm(t, suite, td)
		resp := submitRegistration(t, suite, form)
		suite.AssertStatusCode(t, resp, http.StatusOK)
		resp.Body.Close()

		// Same name and email again within the duplicate window.
		form = defaultRegistrationForm(t, suite, td)
		resp = submitRegistration(t, suite, form)
		suite.AssertStatusCode(t, resp, http.StatusTooManyRequests)
		resp.Body.Close()
	})

	t.Run("DuplicateEmailUnderDifferentName", func(t *testing.T) {
		td := suite.GenerateTestRegistration()
		form := defaultRegistrationForm(t, suite, td)
		resp := submitRegistration(t, suite, form)
		suite.AssertStatusCode(t, resp, http.StatusOK)
		resp.Body.Close()

		// A changed name skips the in-memory key. The stored registration
		// still blocks the same email within the window.
		form = defaultRegistrationForm(t, suite, td)
		form.profile["name"] = "P. Sharma"
		resp = submitRegistration(t, suite, form)
		suite.AssertStatusCode(t, resp, http.StatusTooManyRequests)
		resp.Body.Close()
	})
}

func testValidationErrors(t *testing.T, suite *TestSuite) {
	td := suite.GenerateTestRegistration("speaker")
	form := defaultRegistrationForm(t, suite, td)

	// Strip the required badge name, track and ID proof.
	form.additional = nil
	form.fileField = ""

	resp := submitRegistration(t, suite, form)
	defer resp.Body.Close()
	suite.AssertStatusCode(t, resp, http.StatusBadRequest)

	var result struct {
		Status string `json:"status"`
		Errors []struct {
			Key     string `json:"key"`
			Message string `json:"message"`
		} `json:"errors"`
	}
	suite.AssertNoError(t, json.NewDecoder(resp.Body).Decode(&result))

	if result.Status != "validation_failed" {
		t.Fatalf("Expected validation_failed, got %q", result.Status)
	}

	missing := map[string]bool{}
	for _, fieldErr := range result.Errors {
		missing[fieldErr.Key] = true
	}
	for _, key := range []string{"additional_badge-name", "additional_talk-track", "additional_id-proof"} {
		if !missing[key] {
			t.Errorf("Expected a field error for %s, got %v", key, result.Errors)
		}
	}
}

func testCheckoutAndBadge(t *testing.T, suite *TestSuite, mock *MockGatewayService) {
	td := suite.GenerateTestRegistration()
	form := defaultRegistrationForm(t, suite, td)

	resp := submitRegistration(t, suite, form)
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		t.Fatalf("Submission failed (%d): %s", resp.StatusCode, body)
	}
	var submitResult map[string]string
	suite.AssertNoError(t, json.NewDecoder(resp.Body).Decode(&submitResult))
	resp.Body.Close()

	registrationID := submitResult["registrationID"]
	token := submitResult["token"]

	// Badge is gated until payment completes.
	badgeResp, err := suite.Client.Get(suite.Server.URL +
		"/api/badge?registrationID=" + registrationID + "&token=" + token)
	suite.AssertNoError(t, err)
	suite.AssertStatusCode(t, badgeResp, http.StatusConflict)
	badgeResp.Body.Close()

	gatedCall := func(path string, body interface{}, dest *apiEnvelope) *http.Response {
		t.Helper()
		time.Sleep(2100 * time.Millisecond) // per-token rate limit window
		r, err := suite.MakeAPIRequest(http.MethodPost, path, body, token)
		suite.AssertNoError(t, err)
		if dest != nil {
			suite.AssertNoError(t, suite.ParseJSONResponse(r, dest))
		}
		return r
	}

	// Create the gateway order. Amount must be the catalog price.
	var envelope apiEnvelope
	r := gatedCall("/api/checkout/create-order",
		payment.CreateOrderRequest{RegistrationID: registrationID}, &envelope)
	suite.AssertStatusCode(t, r, http.StatusOK)

	var orderResult payment.CreateOrderResponse
	suite.AssertNoError(t, json.Unmarshal(envelope.Data, &orderResult))
	if orderResult.Amount != 150000 || orderResult.Currency != "INR" {
		t.Fatalf("Unexpected order pricing: %+v", orderResult)
	}
	if orderResult.OrderID == "" {
		t.Fatal("Missing order ID")
	}

	// Verification before the widget opens is rejected.
	r = gatedCall("/api/checkout/verify", payment.VerifyPaymentRequest{
		RegistrationID: registrationID,
		OrderID:        orderResult.OrderID,
		PaymentID:      "pay_premature",
		Signature:      "sig",
	}, nil)
	suite.AssertStatusCode(t, r, http.StatusConflict)

	// Open, dismiss, reopen: the same order is reused throughout.
	r = gatedCall("/api/checkout/open",
		payment.CreateOrderRequest{RegistrationID: registrationID}, nil)
	suite.AssertStatusCode(t, r, http.StatusOK)
	r = gatedCall("/api/checkout/dismiss",
		payment.CreateOrderRequest{RegistrationID: registrationID}, nil)
	suite.AssertStatusCode(t, r, http.StatusOK)

	envelope = apiEnvelope{}
	r = gatedCall("/api/checkout/create-order",
		payment.CreateOrderRequest{RegistrationID: registrationID}, &envelope)
	suite.AssertStatusCode(t, r, http.StatusOK)
	var reusedOrder payment.CreateOrderResponse
	suite.AssertNoError(t, json.Unmarshal(envelope.Data, &reusedOrder))
	if reusedOrder.OrderID != orderResult.OrderID {
		t.Errorf("Expected order reuse, got %s then %s", orderResult.OrderID, reusedOrder.OrderID)
	}

	r = gatedCall("/api/checkout/open",
		payment.CreateOrderRequest{RegistrationID: registrationID}, nil)
	suite.AssertStatusCode(t, r, http.StatusOK)

	// The user pays in the widget; the gateway hands back the triple.
	paymentID, signature, err := mock.MarkPaid(orderResult.OrderID)
	suite.AssertNoError(t, err)

	envelope = apiEnvelope{}
	r = gatedCall("/api/checkout/verify", payment.VerifyPaymentRequest{
		RegistrationID: registrationID,
		OrderID:        orderResult.OrderID,
		PaymentID:      paymentID,
		Signature:      signature,
	}, &envelope)
	suite.AssertStatusCode(t, r, http.StatusOK)

	var verifyResult payment.VerifyPaymentResponse
	suite.AssertNoError(t, json.Unmarshal(envelope.Data, &verifyResult))
	if verifyResult.Status != "succeeded" {
		t.Fatalf("Expected succeeded, got %q", verifyResult.Status)
	}
	if !strings.Contains(verifyResult.RedirectURL, "success") {
		t.Errorf("Unexpected redirect URL: %s", verifyResult.RedirectURL)
	}

	// Badge renders now.
	time.Sleep(2100 * time.Millisecond)
	badgeResp, err = suite.Client.Get(suite.Server.URL +
		"/api/badge?registrationID=" + registrationID + "&token=" + token)
	suite.AssertNoError(t, err)
	suite.AssertStatusCode(t, badgeResp, http.StatusOK)

	badgeHTML, err := io.ReadAll(badgeResp.Body)
	badgeResp.Body.Close()
	suite.AssertNoError(t, err)

	final, err := data.GetRegistrationByID(registrationID)
	suite.AssertNoError(t, err)
	if final.BadgeCode == "" {
		t.Fatal("Badge code should be persisted after rendering")
	}
	if !strings.Contains(string(badgeHTML), final.BadgeCode) {
		t.Error("Badge page should contain the badge code")
	}
	if !strings.Contains(string(badgeHTML), td.Name) {
		t.Error("Badge page should contain the attendee name")
	}

	// Verify is idempotent for a paid registration.
	envelope = apiEnvelope{}
	r = gatedCall("/api/checkout/verify", payment.VerifyPaymentRequest{
		RegistrationID: registrationID,
		OrderID:        orderResult.OrderID,
		PaymentID:      paymentID,
		Signature:      signature,
	}, &envelope)
	suite.AssertStatusCode(t, r, http.StatusOK)
	verifyResult = payment.VerifyPaymentResponse{}
	suite.AssertNoError(t, json.Unmarshal(envelope.Data, &verifyResult))
	if verifyResult.Status != "succeeded" {
		t.Errorf("Repeat verify should succeed, got %q", verifyResult.Status)
	}
}
