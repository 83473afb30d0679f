// test_helpers.go - shared harness for integration tests
package testing

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"regbackend/internal/catalog"
	"regbackend/internal/config"
	"regbackend/internal/data"
	"regbackend/internal/payment"
	"regbackend/internal/registration"
	"regbackend/internal/security"
)

// TestConfig holds configuration for test runs
type TestConfig struct {
	DBPath      string
	CatalogPath string
	TestDataDir string
}

// TestSuite provides utilities for integration testing
type TestSuite struct {
	Config    TestConfig
	Server    *httptest.Server
	Client    *http.Client
	DB        *sql.DB
	Catalog   *catalog.Service
	mu        sync.Mutex
	testCount int
}

// NewTestSuite sets up a fresh database and catalog under a temporary
// directory and wires the catalog into the handler packages.
func NewTestSuite(t *testing.T) *TestSuite {
	testDir := filepath.Join(os.TempDir(), fmt.Sprintf("regtest_%d_%d",
		time.Now().UnixNano(), os.Getpid()))
	if err := os.MkdirAll(testDir, 0755); err != nil {
		t.Fatalf("Failed to create test directory: %v", err)
	}

	dbPath := filepath.Join(testDir, fmt.Sprintf("test_%d.db", time.Now().UnixNano()))

	catalogPath := filepath.Join(testDir, "test_catalog.json")
	if err := createTestCatalog(catalogPath); err != nil {
		t.Fatalf("Failed to create test catalog: %v", err)
	}

	// Route handler paths (uploads, data dir) into the test directory.
	os.Setenv("ENVIRONMENT", "dev")
	os.Setenv("EMAIL_MOCK_MODE", "true")
	os.Setenv("DATA_DIRECTORY_DEV", testDir)
	os.Setenv("UPLOADS_DIRECTORY_DEV", filepath.Join(testDir, "uploads"))
	config.ConfigurePaths()
	config.RedirectBaseURL = "https://conf.example.org"
	config.Currency = "INR"

	suite := &TestSuite{
		Config: TestConfig{
			DBPath:      dbPath,
			CatalogPath: catalogPath,
			TestDataDir: testDir,
		},
		Client: &http.Client{Timeout: 30 * time.Second},
	}

	if err := suite.InitDatabase(); err != nil {
		t.Fatalf("Failed to initialize test database: %v", err)
	}

	suite.Catalog = catalog.NewService()
	if err := suite.Catalog.LoadFromFile(catalogPath); err != nil {
		t.Fatalf("Failed to load test catalog: %v", err)
	}
	if err := suite.Catalog.SeedDatabase(); err != nil {
		t.Fatalf("Failed to seed catalog tables: %v", err)
	}

	registration.SetCatalogService(suite.Catalog)
	payment.SetCatalogService(suite.Catalog)

	t.Cleanup(func() {
		suite.Cleanup()
	})

	return suite
}

// InitDatabase sets up the test database using the data package so the
// schema matches production exactly.
func (ts *TestSuite) InitDatabase() error {
	if err := data.InitDB(ts.Config.DBPath); err != nil {
		return fmt.Errorf("failed to init data package: %w", err)
	}

	db, err := data.GetDB()
	if err != nil {
		return fmt.Errorf("failed to get database connection: %w", err)
	}
	ts.DB = db

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	if err := data.CreateTables(); err != nil {
		return fmt.Errorf("failed to create tables: %w", err)
	}

	return nil
}

// Cleanup removes temporary test files and closes the database
func (ts *TestSuite) Cleanup() {
	if ts.Server != nil {
		ts.Server.Close()
	}

	if err := data.CloseDB(); err != nil {
		fmt.Printf("Warning: failed to close data package database: %v\n", err)
	}

	// Wait a moment for file handles to be released
	time.Sleep(200 * time.Millisecond)

	if err := os.RemoveAll(ts.Config.TestDataDir); err != nil {
		fmt.Printf("Warning: failed to cleanup test directory %s: %v\n", ts.Config.TestDataDir, err)
	}
}

// ExecuteWithRetry executes a database operation with retry logic for BUSY errors
func (ts *TestSuite) ExecuteWithRetry(operation func() error, maxRetries int) error {
	var lastErr error
	for i := 0; i < maxRetries; i++ {
		if err := operation(); err != nil {
			lastErr = err
			if isBusyError(err) {
				backoff := time.Duration(i+1) * 10 * time.Millisecond
				time.Sleep(backoff)
				continue
			}
			return err
		}
		return nil
	}
	return fmt.Errorf("operation failed after %d retries: %w", maxRetries, lastErr)
}

// isBusyError checks if an error is a SQLite BUSY error
func isBusyError(err error) bool {
	return err != nil && (err.Error() == "database is locked" ||
		err.Error() == "database is locked (5) (SQLITE_BUSY)" ||
		err.Error() == "database table is locked")
}

// GenerateRegistrationID creates a unique test registration ID
func (ts *TestSuite) GenerateRegistrationID(eventID string) string {
	ts.mu.Lock()
	ts.testCount++
	count := ts.testCount
	ts.mu.Unlock()

	return fmt.Sprintf("%s-test-%d-%d", eventID, time.Now().Unix(), count)
}

// GenerateAccessToken creates and stores a test access token
func (ts *TestSuite) GenerateAccessToken(registrationID, scope string) (string, error) {
	token, err := security.GenerateAccessToken()
	if err != nil {
		return "", err
	}

	security.StoreAccessToken(token, registrationID, scope)
	return token, nil
}

// MakeAPIRequest makes an authenticated JSON API request against ts.Server
func (ts *TestSuite) MakeAPIRequest(method, path string, body interface{}, token string) (*http.Response, error) {
	var reqBody *bytes.Buffer

	if body != nil {
		bodyBytes, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		reqBody = bytes.NewBuffer(bodyBytes)
	} else {
		reqBody = bytes.NewBuffer(nil)
	}

	req, err := http.NewRequest(method, ts.Server.URL+path, reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("X-Access-Token", token)
	}

	return ts.Client.Do(req)
}

// ParseJSONResponse parses a JSON response into the provided interface
func (ts *TestSuite) ParseJSONResponse(resp *http.Response, dest interface{}) error {
	defer resp.Body.Close()
	return json.NewDecoder(resp.Body).Decode(dest)
}

// AssertStatusCode checks if response has expected status code
func (ts *TestSuite) AssertStatusCode(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Errorf("Expected status code %d, got %d", expected, resp.StatusCode)
	}
}

// AssertNoError fails the test if error is not nil
func (ts *TestSuite) AssertNoError(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
}

// AssertError fails the test if error is nil
func (ts *TestSuite) AssertError(t *testing.T, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("Expected error but got nil")
	}
}

// WaitForCondition waits for a condition to be true or timeout
func (ts *TestSuite) WaitForCondition(condition func() bool, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return true
		}
		time.Sleep(100 * time.Millisecond)
	}
	return false
}

// createTestCatalog writes a catalog file with one published conference and
// one unpublished draft event
func createTestCatalog(path string) error {
	catalogData := map[string]interface{}{
		"events": []map[string]interface{}{
			{
				"id":        "goconf-2026",
				"name":      "GoConf 2026",
				"venue":     "Convention Centre",
				"city":      "Bengaluru",
				"published": true,
				"categories": []map[string]interface{}{
					{
						"id":       "delegate",
						"name":     "Delegate",
						"amount":   150000,
						"currency": "INR",
					},
					{
						"id":                  "speaker",
						"name":                "Speaker",
						"amount":              100000,
						"currency":            "INR",
						"needsAdditionalInfo": true,
						"fields": []map[string]interface{}{
							{
								"id": "badge-name", "kind": "text-input",
								"label": "Badge Name", "required": true,
							},
							{
								"id": "talk-track", "kind": "single-select",
								"label": "Talk Track", "required": true,
								"options": []string{"backend", "frontend", "devops"},
							},
							{
								"id": "id-proof", "kind": "file-input",
								"label": "ID Proof", "required": true,
								"fileTypes":     []string{".pdf", ".jpg", ".png"},
								"maxFileSizeMB": 5,
							},
						},
					},
				},
				"dynamicFields": []map[string]interface{}{
					{
						"id": "dietary", "kind": "checkbox-group",
						"label":   "Dietary Requirements",
						"options": []string{"vegetarian", "vegan", "gluten-free", "jain"},
						"minSelected": 1, "maxSelected": 2,
					},
					{
						"id": "tshirt-size", "kind": "single-select",
						"label":   "T-Shirt Size",
						"options": []string{"S", "M", "L", "XL"},
					},
				},
				"meals": []map[string]interface{}{
					{"id": "veg", "name": "Vegetarian"},
					{"id": "non-veg", "name": "Non-Vegetarian"},
				},
				"terms": []map[string]interface{}{
					{"id": "code-of-conduct", "text": "I agree to the code of conduct.", "required": true},
					{"id": "marketing-emails", "text": "Send me updates about future events.", "required": false},
				},
			},
			{
				"id":        "draft-workshop",
				"name":      "Cloud Workshop (draft)",
				"city":      "Pune",
				"published": false,
				"categories": []map[string]interface{}{
					{
						"id":       "workshop-seat",
						"name":     "Workshop Seat",
						"amount":   50000,
						"currency": "INR",
					},
				},
			},
		},
	}

	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	encoder := json.NewEncoder(file)
	encoder.SetIndent("", "  ")
	return encoder.Encode(catalogData)
}
