package abstract

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"

	"regbackend/internal/config"
	"regbackend/internal/data"
	"regbackend/internal/logger"
	"regbackend/internal/security"
)

const maxDocumentBytes = 15 << 20

var allowedDocumentExtensions = []string{".pdf", ".doc", ".docx"}

// SubmitAbstractHandler accepts a paper/talk abstract as a multipart post:
// title, track, authors (repeated), summary, and an optional document part.
func SubmitAbstractHandler(w http.ResponseWriter, r *http.Request) {
	logger.LogHTTPRequest(r)

	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}

	if err := r.ParseMultipartForm(maxDocumentBytes); err != nil {
		logger.LogHTTPError(r, http.StatusBadRequest, err)
		http.Error(w, "Invalid form submission", http.StatusBadRequest)
		return
	}

	csrfToken := r.FormValue("csrf_token")
	if csrfToken == "" || !security.ValidateCSRFToken(csrfToken) {
		err := fmt.Errorf("invalid CSRF token")
		logger.LogHTTPError(r, http.StatusForbidden, err)
		http.Error(w, err.Error(), http.StatusForbidden)
		return
	}

	eventID := strings.TrimSpace(r.FormValue("event_id"))
	title := strings.TrimSpace(r.FormValue("title"))
	if eventID == "" || title == "" {
		http.Error(w, "event_id and title are required", http.StatusBadRequest)
		return
	}

	if _, err := data.GetEventByID(eventID); err != nil {
		http.Error(w, "Event not found", http.StatusNotFound)
		return
	}

	var authors []string
	for _, author := range r.Form["authors"] {
		if a := strings.TrimSpace(author); a != "" {
			authors = append(authors, a)
		}
	}
	if len(authors) == 0 {
		http.Error(w, "At least one author is required", http.StatusBadRequest)
		return
	}

	abstractID := fmt.Sprintf("abs-%s-%s", time.Now().Format("2006-01-02"), uuid.NewString()[:8])

	filePath, err := storeDocument(r, abstractID)
	if err != nil {
		logger.LogHTTPError(r, http.StatusBadRequest, err)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	record := &data.Abstract{
		AbstractID:     abstractID,
		EventID:        eventID,
		RegistrationID: strings.TrimSpace(r.FormValue("registration_id")),
		Title:          title,
		Track:          strings.TrimSpace(r.FormValue("track")),
		Authors:        authors,
		Summary:        strings.TrimSpace(r.FormValue("summary")),
		FilePath:       filePath,
		SubmissionDate: time.Now(),
	}

	if err := data.NewAbstractRepository().Insert(record); err != nil {
		logger.LogHTTPError(r, http.StatusInternalServerError, err)
		http.Error(w, "Failed to save abstract", http.StatusInternalServerError)
		return
	}

	logger.LogInfo("Abstract %s submitted for event %s", abstractID, eventID)

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"status":     "success",
		"abstractID": abstractID,
	})
}

// storeDocument saves the optional "document" part to the uploads directory.
// Returns empty path when no document was attached.
func storeDocument(r *http.Request, abstractID string) (string, error) {
	if r.MultipartForm == nil {
		return "", nil
	}
	headers := r.MultipartForm.File["document"]
	if len(headers) == 0 {
		return "", nil
	}
	header := headers[0]

	if header.Size > maxDocumentBytes {
		return "", fmt.Errorf("document too large: %s exceeds the %s limit",
			humanize.Bytes(uint64(header.Size)), humanize.Bytes(uint64(maxDocumentBytes)))
	}

	ext := strings.ToLower(filepath.Ext(header.Filename))
	allowed := false
	for _, a := range allowedDocumentExtensions {
		if ext == a {
			allowed = true
			break
		}
	}
	if !allowed {
		return "", fmt.Errorf("document must be one of: %s", strings.Join(allowedDocumentExtensions, ", "))
	}

	src, err := header.Open()
	if err != nil {
		return "", fmt.Errorf("failed to open document: %w", err)
	}
	defer src.Close()

	dir := filepath.Join(config.UploadsDirectory(), "abstracts")
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return "", fmt.Errorf("failed to create abstracts directory: %w", err)
	}

	storedPath := filepath.Join(dir, abstractID+ext)
	dst, err := os.Create(storedPath)
	if err != nil {
		return "", fmt.Errorf("failed to create stored document: %w", err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return "", fmt.Errorf("failed to write stored document: %w", err)
	}
	return storedPath, nil
}
