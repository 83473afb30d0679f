// internal/security/security.go
package security

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"regbackend/internal/config"
	"regbackend/internal/logger"
)

var (
	csrfTokens   = make(map[string]time.Time)
	csrfTokensMu sync.Mutex
	csrfTokenTTL = time.Hour * 1
)

// TokenInfo ties an access token to the registration it may read.
type TokenInfo struct {
	RegistrationID string
	Scope          string // "registration" or "abstract"
	IssuedAt       time.Time
}

var (
	accessTokens   = make(map[string]TokenInfo)
	accessTokensMu sync.Mutex
)

// GenerateAccessToken mints the token a registrant uses to retrieve their
// own submission on the checkout and success pages.
func GenerateAccessToken() (string, error) {
	bytes := make([]byte, 16)
	_, err := rand.Read(bytes)
	if err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(bytes), nil
}

// StoreAccessToken records which registration a token grants access to.
func StoreAccessToken(token, registrationID, scope string) {
	accessTokensMu.Lock()
	accessTokens[token] = TokenInfo{
		RegistrationID: registrationID,
		Scope:          scope,
		IssuedAt:       time.Now(),
	}
	accessTokensMu.Unlock()
}

// ValidateAccessToken reports whether a token is known and younger than maxAge.
func ValidateAccessToken(token string, maxAge time.Duration) bool {
	accessTokensMu.Lock()
	defer accessTokensMu.Unlock()

	info, ok := accessTokens[token]
	if !ok {
		return false
	}
	if time.Since(info.IssuedAt) > maxAge {
		delete(accessTokens, token)
		return false
	}
	return true
}

// GetTokenInfo returns the registration binding for a token, or nil.
func GetTokenInfo(token string) *TokenInfo {
	accessTokensMu.Lock()
	defer accessTokensMu.Unlock()

	info, ok := accessTokens[token]
	if !ok {
		return nil
	}
	return &info
}

// GenerateCSRFToken generates a new CSRF token.
func GenerateCSRFToken() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		// Can't securely continue if randomness fails
		panic("Failed to generate CSRF token: " + err.Error())
	}
	token := base64.StdEncoding.EncodeToString(b)

	csrfTokensMu.Lock()
	csrfTokens[token] = time.Now().Add(csrfTokenTTL)
	csrfTokensMu.Unlock()

	return token
}

// ValidateCSRFToken validates a CSRF token.
func ValidateCSRFToken(token string) bool {
	csrfTokensMu.Lock()
	defer csrfTokensMu.Unlock()

	expiry, ok := csrfTokens[token]
	if !ok || time.Now().After(expiry) {
		return false
	}
	delete(csrfTokens, token) // Consume the token
	return true
}

// CSRFTokenHandler generates and returns a CSRF token.
func CSRFTokenHandler(w http.ResponseWriter, r *http.Request) {
	logger.LogHTTPRequest(r)

	if r.Method == "OPTIONS" {
		w.WriteHeader(http.StatusOK)
		return
	}

	token := GenerateCSRFToken()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"csrf_token": token})
}

// CleanExpiredTokens periodically cleans up expired CSRF and access tokens.
func CleanExpiredTokens() {
	ticker := time.NewTicker(time.Minute * 5)
	defer ticker.Stop()

	for range ticker.C {
		now := time.Now()

		csrfTokensMu.Lock()
		for token, expiry := range csrfTokens {
			if now.After(expiry) {
				delete(csrfTokens, token)
			}
		}
		csrfTokensMu.Unlock()

		accessTokensMu.Lock()
		for token, info := range accessTokens {
			if now.Sub(info.IssuedAt) > time.Hour {
				delete(accessTokens, token)
			}
		}
		accessTokensMu.Unlock()

		logger.LogDebug("Token cleanup completed")
	}
}

// AddCORSHeaders adds CORS headers and handles OPTIONS requests globally.
func AddCORSHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", config.AllowedOrigin) // From config
		w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Access-Token")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}
