// internal/config/config.go
package config

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"regbackend/internal/logger"
)

// Variables available everywhere
var (
	keyID, keySecret, apiBase string
	webhookSecret             string
	baseDir                   string
	dataDirectory             string
	logsDirectory             string
	uploadsDirectory          string
	catalogFilePath           string

	// Exported settings
	LogFileFormat   string
	AllowedOrigin   string // For CORS
	RedirectBaseURL string
	Currency        string
	UseMockGateway  bool
)

//
// --- Utility Helpers ---
//

// Helper: get a setting based on ENVIRONMENT (dev or prod)
func GetEnvBasedSetting(base string) string {
	env := os.Getenv("ENVIRONMENT")
	if env == "" {
		env = "dev"
	}
	return os.Getenv(fmt.Sprintf("%s_%s", base, strings.ToUpper(env)))
}

// Helper: log which environment is running
func LogCurrentEnvironment() {
	env := os.Getenv("ENVIRONMENT")
	if env == "" {
		env = "dev"
	}

	if env == "dev" {
		logger.LogInfo("Running in development environment")
	} else {
		logger.LogInfo("Running in production environment")
	}
}

//
// --- Loaders ---
//

// LoadEnv reads .env file
func LoadEnv() {
	wd, err := os.Getwd()
	if err != nil {
		log.Printf("Could not determine working directory: %v", err)
	}

	if err := godotenv.Load(".env"); err != nil {
		log.Printf("No .env file found in %s. Using system environment variables.", wd)
	} else {
		log.Printf("Loaded environment variables from .env file in %s", wd)
	}

	UseMockGateway = os.Getenv("USE_MOCK_GATEWAY") == "true"
	if UseMockGateway {
		logger.LogInfo("Mock payment gateway verification enabled. Skipping live signature checks.")
	}
}

// LoggerConfig returns a logger.Config struct populated from environment
func LoggerConfig() logger.Config {
	logDir := GetEnvBasedSetting("LOGS_DIRECTORY")
	if logDir == "" {
		logDir = "./logs"
	}

	logFormat := GetEnvBasedSetting("LOG_FILE_FORMAT")
	if logFormat == "" {
		logFormat = "server_%s.log"
	}

	return logger.Config{
		LogsDirectory: logDir,
		LogFileFormat: logFormat,
		MinLevel:      os.Getenv("LOG_LEVEL"),
	}
}

// ConfigurePaths sets up folders and paths
func ConfigurePaths() {
	wd, err := os.Getwd()
	if err != nil {
		logger.LogFatal("Failed to get working directory: %v", err)
	}
	baseDir = wd

	dataDir := GetEnvBasedSetting("DATA_DIRECTORY")
	if dataDir != "" {
		dataDirectory = dataDir
	} else {
		dataDirectory = filepath.Join(baseDir, "data")
	}

	logsDir := GetEnvBasedSetting("LOGS_DIRECTORY")
	if logsDir != "" {
		logsDirectory = logsDir
	} else {
		logsDirectory = filepath.Join(baseDir, "logs")
	}

	uploadsDir := GetEnvBasedSetting("UPLOADS_DIRECTORY")
	if uploadsDir != "" {
		uploadsDirectory = uploadsDir
	} else {
		uploadsDirectory = filepath.Join(dataDirectory, "uploads")
	}

	catalogFile := GetEnvBasedSetting("CATALOG_FILE")
	if catalogFile != "" {
		catalogFilePath = catalogFile
	} else {
		catalogFilePath = filepath.Join(dataDirectory, "catalog.json")
	}

	LogFileFormat = filepath.Join(logsDirectory, "server_%s.log")
}

// LoadGatewayConfig sets up payment gateway credentials
func LoadGatewayConfig() error {
	keyID = os.Getenv("RAZORPAY_KEY_ID")
	keySecret = os.Getenv("RAZORPAY_KEY_SECRET")

	if keyID == "" || keySecret == "" {
		return fmt.Errorf("payment gateway credentials are missing or incomplete")
	}

	apiBase = os.Getenv("RAZORPAY_API_BASE")
	if apiBase == "" {
		apiBase = "https://api.razorpay.com"
	}
	logger.LogInfo("Payment gateway API base: %s", apiBase)

	webhookSecret = os.Getenv("RAZORPAY_WEBHOOK_SECRET")
	if webhookSecret == "" {
		logger.LogWarn("RAZORPAY_WEBHOOK_SECRET is not set in environment")
	}

	Currency = os.Getenv("PAYMENT_CURRENCY")
	if Currency == "" {
		Currency = "INR"
	}

	return nil
}

// LoadCORSConfig loads CORS settings
func LoadCORSConfig() {
	AllowedOrigin = GetEnvBasedSetting("ALLOWED_ORIGIN")
	if AllowedOrigin == "" {
		AllowedOrigin = "*" // Allow all - be careful in prod
		logger.LogWarn("ALLOWED_ORIGIN not set, using '*' (allow all origins) - SECURITY RISK")
	} else {
		logger.LogInfo("Allowed Origin: %s", AllowedOrigin)
	}
}

// LoadRedirectConfig loads Redirect Base URL
func LoadRedirectConfig() {
	RedirectBaseURL = GetEnvBasedSetting("REDIRECT_BASE_URL")
	if RedirectBaseURL == "" {
		RedirectBaseURL = "http://localhost:3000"
		logger.LogWarn("REDIRECT_BASE_URL not set, using default: %s", RedirectBaseURL)
	} else {
		logger.LogInfo("Redirect base URL: %s", RedirectBaseURL)
	}
}

//
// --- Getters (exported) ---
//

func DataDirectory() string {
	return dataDirectory
}

func UploadsDirectory() string {
	return uploadsDirectory
}

func LogsDirectory() string {
	return logsDirectory
}

func CatalogFile() string {
	return catalogFilePath
}

func APIBase() string {
	return apiBase
}

// SetAPIBase points the gateway client somewhere else. Tests use this to
// target a mock gateway server.
func SetAPIBase(base string) {
	apiBase = base
}

func KeyID() string {
	return keyID
}

func KeySecret() string {
	return keySecret
}

// SetGatewayCredentials overrides gateway credentials; test hook.
func SetGatewayCredentials(id, secret string) {
	keyID = id
	keySecret = secret
}

func WebhookSecret() string {
	return webhookSecret
}

func SetWebhookSecret(secret string) {
	webhookSecret = secret
}
