package registration

import (
	"crypto/sha256"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"regbackend/internal/catalog"
	"regbackend/internal/config"
	"regbackend/internal/data"
	"regbackend/internal/forms"
	"regbackend/internal/logger"
	"regbackend/internal/middleware"
	"regbackend/internal/security"
)

var (
	recentSubmissions  = make(map[string]time.Time)
	submissionMu       sync.Mutex
	duplicateThreshold = time.Minute * 3
	rateLimiter        = make(map[string]time.Time)
	rateLimitDuration  = time.Minute
	rateLimiterMu      sync.Mutex
)

var (
	statsMu               sync.Mutex
	totalSubmissions      int
	successfulSubmissions int
	csrfFailures          int
	rateLimitBlocks       int
	duplicateBlocks       int
	validationFailures    int
)

// inject catalog service from main
var catalogService *catalog.Service

func SetCatalogService(service *catalog.Service) {
	catalogService = service
}

func logAndIncrement(stat *int, label string) {
	statsMu.Lock()
	*stat++
	count := *stat
	statsMu.Unlock()
	logger.LogInfo("Stat update: %s = %d", label, count)
}

// SubmitRegistrationHandler processes a multipart registration post: profile
// fields flat by name, category answers under additional_<id>, event-wide
// answers under dynamic_<id>, and file parts under the matching
// additional_file_/dynamic_file_ names.
func SubmitRegistrationHandler(w http.ResponseWriter, r *http.Request) {
	logger.LogHTTPRequest(r)

	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}

	if err := r.ParseMultipartForm(10 << 20); err != nil {
		if err := r.ParseForm(); err != nil {
			logger.LogHTTPError(r, http.StatusBadRequest, err)
			http.Error(w, "Invalid form submission", http.StatusBadRequest)
			return
		}
	}

	logAndIncrement(&totalSubmissions, "total_submissions")

	// Honeypot trap
	if r.FormValue("hidden_field") != "" {
		logger.LogWarn("Honeypot triggered by %s", logger.GetClientIP(r))
		http.Error(w, "Invalid submission", http.StatusForbidden)
		return
	}

	csrfToken := r.FormValue("csrf_token")
	if csrfToken == "" || !security.ValidateCSRFToken(csrfToken) {
		err := fmt.Errorf("invalid CSRF token")
		logger.LogHTTPError(r, http.StatusForbidden, err)
		logAndIncrement(&csrfFailures, "csrf_failures")
		http.Error(w, err.Error(), http.StatusForbidden)
		return
	}

	clientIP := logger.GetClientIP(r)
	if isRateLimited(clientIP) {
		err := fmt.Errorf("rate limit exceeded for %s", clientIP)
		logger.LogHTTPError(r, http.StatusTooManyRequests, err)
		logAndIncrement(&rateLimitBlocks, "rate_limit_blocks")
		http.Error(w, "Rate limit exceeded", http.StatusTooManyRequests)
		return
	}
	setRateLimit(clientIP)

	eventID := strings.TrimSpace(r.FormValue("event_id"))
	categoryID := strings.TrimSpace(r.FormValue("category_id"))
	if eventID == "" || categoryID == "" {
		http.Error(w, "event_id and category_id are required", http.StatusBadRequest)
		return
	}

	event, err := data.GetEventByID(eventID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			http.Error(w, "Event not found", http.StatusNotFound)
			return
		}
		logger.LogError("Failed to load event %s: %v", eventID, err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	if !event.Published {
		http.Error(w, "Event is not open for registration", http.StatusForbidden)
		return
	}

	category, err := data.GetCategoryByID(categoryID)
	if err != nil || category.EventID != eventID {
		http.Error(w, "Registration category not found", http.StatusNotFound)
		return
	}

	dynamicFields, err := data.ListDynamicFields(eventID)
	if err != nil {
		logger.LogError("Failed to load dynamic fields for %s: %v", eventID, err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	sub, fieldErrors := buildSubmission(r, category, dynamicFields)
	if len(fieldErrors) > 0 {
		logAndIncrement(&validationFailures, "validation_failures")
		writeFieldErrors(w, fieldErrors)
		return
	}

	if err := validateMealAndTerms(r, eventID, sub); err != nil {
		logAndIncrement(&validationFailures, "validation_failures")
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	// Duplicate trap before any side effects.
	submissionKey := generateSubmissionKey(sub.Profile[forms.ProfileEmail], eventID, sub.Profile[forms.ProfileName])
	now := time.Now()
	submissionMu.Lock()
	lastSubmit, exists := recentSubmissions[submissionKey]
	if exists && now.Sub(lastSubmit) < duplicateThreshold {
		submissionMu.Unlock()
		logger.LogWarn("Duplicate registration detected for key %s", submissionKey)
		logAndIncrement(&duplicateBlocks, "duplicate_blocks")
		http.Error(w, "Duplicate detected. Please wait before submitting again.", http.StatusTooManyRequests)
		return
	}
	recentSubmissions[submissionKey] = now
	submissionMu.Unlock()

	// The in-memory trap does not survive restarts. The database holds the
	// persistent half, keyed on event and email.
	dup, err := data.NewRegistrationRepository().HasRecentDuplicate(
		eventID, sub.Profile[forms.ProfileEmail], duplicateThreshold)
	if err != nil {
		logger.LogError("Duplicate check failed for key %s: %v", submissionKey, err)
	} else if dup {
		logger.LogWarn("Duplicate registration detected in database for key %s", submissionKey)
		logAndIncrement(&duplicateBlocks, "duplicate_blocks")
		http.Error(w, "Duplicate detected. Please wait before submitting again.", http.StatusTooManyRequests)
		return
	}

	registrationID := generateRegistrationID(eventID)
	accessToken, err := security.GenerateAccessToken()
	if err != nil {
		logger.LogError("Failed to generate access token: %v", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	uploads, err := storeUploads(registrationID, sub)
	if err != nil {
		logger.LogError("Failed to store uploads for %s: %v", registrationID, err)
		http.Error(w, "Failed to store uploaded files", http.StatusInternalServerError)
		return
	}

	amount, currency := category.AmountMinor, category.Currency
	if catalogService != nil {
		if a, c, err := catalogService.CategoryAmount(categoryID); err == nil {
			amount, currency = a, c
		}
	}

	reg := &data.Registration{
		RegistrationID:    registrationID,
		AccessToken:       accessToken,
		EventID:           eventID,
		CategoryID:        categoryID,
		SubmissionDate:    now,
		Profile:           sub.Profile,
		MealPreference:    strings.TrimSpace(r.FormValue("meal_preference")),
		AcceptedTerms:     nonEmptyValues(r.Form["accepted_terms"]),
		AdditionalAnswers: sub.AdditionalAnswers,
		DynamicAnswers:    sub.DynamicAnswers,
		AmountMinor:       amount,
		Currency:          currency,
	}

	if err := data.InsertRegistration(reg); err != nil {
		logger.LogHTTPError(r, http.StatusInternalServerError, err)
		http.Error(w, "Failed to save registration", http.StatusInternalServerError)
		return
	}

	repo := data.NewRegistrationRepository()
	for _, upload := range uploads {
		if err := repo.InsertUpload(upload); err != nil {
			logger.LogError("Failed to record upload %s: %v", upload.UploadID, err)
		}
	}

	security.StoreAccessToken(accessToken, registrationID, "registration")

	logger.LogInfo("Registration %s accepted", registrationID)
	logAndIncrement(&successfulSubmissions, "successful_submissions")

	resp := map[string]string{
		"status":         "success",
		"redirect_url":   checkoutRedirectURL(registrationID, accessToken),
		"registrationID": registrationID,
		"token":          accessToken,
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// buildSubmission normalizes and validates the posted form against the
// synthesized schema. Required files are checked before anything is written.
func buildSubmission(r *http.Request, category *forms.RegistrationCategory,
	dynamicFields []forms.FieldDescriptor) (*forms.Submission, []forms.FieldError) {

	values := url.Values{}
	for key, vals := range r.Form {
		switch key {
		case "csrf_token", "hidden_field", "event_id", "category_id", "meal_preference", "accepted_terms":
			continue
		}
		values[key] = vals
	}

	var fileHeaders map[string][]*multipart.FileHeader
	if r.MultipartForm != nil {
		fileHeaders = r.MultipartForm.File
	}

	sub := forms.Normalize(values, fileHeaders, category, dynamicFields)

	schema := forms.BuildSchema(category, dynamicFields)
	fieldErrors := schema.Validate(values)
	fieldErrors = append(fieldErrors, sub.CheckRequiredFiles(category, dynamicFields)...)
	fieldErrors = append(fieldErrors, sub.ValidateUploads(category, dynamicFields)...)

	if len(fieldErrors) > 0 {
		return nil, fieldErrors
	}
	return sub, nil
}

func validateMealAndTerms(r *http.Request, eventID string, sub *forms.Submission) error {
	repo := data.NewEventRepository()

	meal := strings.TrimSpace(r.FormValue("meal_preference"))
	meals, err := repo.ListMealPreferences(eventID)
	if err != nil {
		return fmt.Errorf("failed to load meal preferences: %w", err)
	}
	if len(meals) > 0 {
		found := false
		for _, m := range meals {
			if m.MealID == meal {
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("a valid meal preference is required")
		}
	}

	terms, err := repo.ListTerms(eventID)
	if err != nil {
		return fmt.Errorf("failed to load terms: %w", err)
	}
	accepted := make(map[string]bool)
	for _, id := range r.Form["accepted_terms"] {
		accepted[id] = true
	}
	for _, term := range terms {
		if term.Required && !accepted[term.TermID] {
			return fmt.Errorf("all required terms must be accepted")
		}
	}
	return nil
}

func writeFieldErrors(w http.ResponseWriter, fieldErrors []forms.FieldError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status": "validation_failed",
		"errors": fieldErrors,
	})
}

// storeUploads writes pending file parts to the uploads directory under
// random names and points the matching answers at the stored URLs.
func storeUploads(registrationID string, sub *forms.Submission) ([]data.Upload, error) {
	if len(sub.Files) == 0 {
		return nil, nil
	}

	dir := filepath.Join(config.UploadsDirectory(), registrationID)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create uploads directory: %w", err)
	}

	var uploads []data.Upload
	for _, file := range sub.Files {
		src, err := file.Header.Open()
		if err != nil {
			return nil, fmt.Errorf("failed to open upload %s: %w", file.PartName, err)
		}

		storedName := uuid.NewString() + strings.ToLower(filepath.Ext(file.Header.Filename))
		storedPath := filepath.Join(dir, storedName)

		dst, err := os.Create(storedPath)
		if err != nil {
			src.Close()
			return nil, fmt.Errorf("failed to create stored file: %w", err)
		}
		size, err := io.Copy(dst, src)
		src.Close()
		dst.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to write stored file: %w", err)
		}

		storedURL := fmt.Sprintf("/api/uploads/%s/%s", registrationID, storedName)
		sub.SetFileURL(file.FieldID, storedURL)

		uploads = append(uploads, data.Upload{
			UploadID:       uuid.NewString(),
			RegistrationID: registrationID,
			FieldID:        file.FieldID,
			PartName:       file.PartName,
			OriginalName:   file.Header.Filename,
			StoredPath:     storedPath,
			SizeBytes:      size,
			CreatedAt:      time.Now(),
		})
	}
	return uploads, nil
}

func generateRegistrationID(eventID string) string {
	sanitized := time.Now().Format("2006-01-02_15-04-05")

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	randomBytes := make([]byte, 4)
	rng.Read(randomBytes)

	token := base64.URLEncoding.EncodeToString(randomBytes)[:6]
	return fmt.Sprintf("%s-%s-%s", eventID, sanitized, token)
}

func generateSubmissionKey(email, eventID, fullName string) string {
	base := strings.ToLower(strings.TrimSpace(email)) + "|" +
		strings.ToLower(strings.TrimSpace(eventID)) + "|" +
		strings.ToLower(strings.TrimSpace(fullName))
	return fmt.Sprintf("%x", sha256.Sum256([]byte(base)))
}

func checkoutRedirectURL(registrationID, token string) string {
	return fmt.Sprintf("%s/checkout?registrationID=%s&token=%s",
		config.RedirectBaseURL, registrationID, token)
}

func nonEmptyValues(values []string) []string {
	var out []string
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			out = append(out, v)
		}
	}
	return out
}

func isRateLimited(ip string) bool {
	rateLimiterMu.Lock()
	defer rateLimiterMu.Unlock()
	last, ok := rateLimiter[ip]
	return ok && time.Since(last) < rateLimitDuration
}

func setRateLimit(ip string) {
	rateLimiterMu.Lock()
	defer rateLimiterMu.Unlock()
	rateLimiter[ip] = time.Now()
}

// ServeUploadHandler streams a stored upload back to its owner. The URL
// shape matches what storeUploads records on the answer, so the summary
// view can link files directly. Token-gated through the API middleware.
func ServeUploadHandler(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/uploads/")
	parts := strings.SplitN(rest, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		middleware.WriteAPIError(w, r, http.StatusBadRequest, "missing_parameter",
			"Upload path must be /uploads/{registrationID}/{file}", "")
		return
	}
	registrationID := parts[0]
	storedName := filepath.Base(parts[1])

	token := middleware.GetToken(r.Context())
	if err := middleware.ValidateRegistrationAccess(r.Context(), registrationID, token); err != nil {
		middleware.WriteAPIError(w, r, http.StatusForbidden, "access_denied",
			"Access denied to this registration", "")
		return
	}

	storedPath := filepath.Join(config.UploadsDirectory(), registrationID, storedName)
	info, err := os.Stat(storedPath)
	if err != nil || info.IsDir() {
		middleware.WriteAPIError(w, r, http.StatusNotFound, "not_found",
			"Upload not found", "")
		return
	}

	http.ServeFile(w, r, storedPath)
}

// GetRegistrationHandler returns a registration's stored answers for the
// summary and edit views. Token-gated through the API middleware.
func GetRegistrationHandler(w http.ResponseWriter, r *http.Request) {
	registrationID := r.URL.Query().Get("registrationID")
	if registrationID == "" {
		middleware.WriteAPIError(w, r, http.StatusBadRequest, "missing_parameter",
			"registrationID query parameter is required", "")
		return
	}

	token := middleware.GetToken(r.Context())
	if err := middleware.ValidateRegistrationAccess(r.Context(), registrationID, token); err != nil {
		middleware.WriteAPIError(w, r, http.StatusForbidden, "access_denied",
			"Access denied to this registration", "")
		return
	}

	reg, err := data.GetRegistrationByID(registrationID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			middleware.WriteAPIError(w, r, http.StatusNotFound, "not_found",
				"Registration not found", "")
			return
		}
		logger.LogError("Failed to load registration %s: %v", registrationID, err)
		middleware.WriteAPIError(w, r, http.StatusInternalServerError, "database_error",
			"Failed to load registration", "")
		return
	}

	middleware.WriteAPISuccess(w, r, reg)
}
