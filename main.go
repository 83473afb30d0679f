// main.go
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"regbackend/internal/abstract"
	"regbackend/internal/badge"
	"regbackend/internal/catalog"
	"regbackend/internal/cleanup"
	"regbackend/internal/config"
	"regbackend/internal/data"
	"regbackend/internal/event"
	"regbackend/internal/info"
	"regbackend/internal/logger"
	"regbackend/internal/middleware"
	"regbackend/internal/payment"
	"regbackend/internal/registration"
	"regbackend/internal/security"
	"regbackend/internal/webhook"
)

type App struct {
	addr          string
	mux           *http.ServeMux
	connections   sync.WaitGroup
	totalRequests int64
}

func main() {
	// Step 1: Setup configuration first
	config.LoadEnv()
	config.ConfigurePaths()

	// Step 2: Setup logging
	loggerConfig := config.LoggerConfig()
	if err := logger.SetupLogger(loggerConfig); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	// Only NOW is logging safe to use!
	logger.LogInfo("Environment and paths loaded. Logger ready.")

	// Step 3: Load gateway and frontend configuration
	if err := config.LoadGatewayConfig(); err != nil {
		logger.LogFatal("Failed to load payment gateway config: %v", err)
	}
	config.LoadCORSConfig()
	config.LoadRedirectConfig()
	config.LogCurrentEnvironment()

	// Step 4: Open the database and create tables
	dbPath := filepath.Join(config.DataDirectory(), "registrations.db")
	if err := data.InitDB(dbPath); err != nil {
		logger.LogFatal("Failed to initialize database: %v", err)
	}
	defer data.CloseDB()

	if err := data.CreateTables(); err != nil {
		logger.LogFatal("Failed to create database tables: %v", err)
	}

	// Step 5: Load the event catalog and seed it into the database
	catalogService := catalog.NewService()
	if err := catalogService.LoadFromFile(config.CatalogFile()); err != nil {
		logger.LogFatal("Failed to load event catalog: %v", err)
	}
	if err := catalogService.SeedDatabase(); err != nil {
		logger.LogFatal("Failed to seed event catalog: %v", err)
	}
	payment.SetCatalogService(catalogService)
	registration.SetCatalogService(catalogService)

	// Step 6: Setup app
	app := &App{
		addr: serverAddress(),
		mux:  routes(),
	}

	// Step 7: Start background tasks
	go security.CleanExpiredTokens()
	cleanup.StartCleanupRoutine()

	// Step 8: Run server
	app.Run()
}

// serverAddress builds the server address from environment variables
func serverAddress() string {
	host := os.Getenv("SERVER_HOST")
	if host == "" {
		host = "127.0.0.1"
	}
	port := os.Getenv("SERVER_PORT")
	if port == "" {
		port = "5051"
	}
	return host + ":" + port
}

// routes sets up all API routes
func routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	mux.HandleFunc("/info", info.InfoPageHandler)

	apiMux := http.NewServeMux()

	// Public catalog and form endpoints
	apiMux.HandleFunc("/csrf-token", security.CSRFTokenHandler)
	apiMux.HandleFunc("/events", middleware.PublicAPIMiddleware(event.ListEventsHandler))
	apiMux.HandleFunc("/event", middleware.PublicAPIMiddleware(event.GetEventHandler))
	apiMux.HandleFunc("/submit-registration", registration.SubmitRegistrationHandler)
	apiMux.HandleFunc("/submit-abstract", abstract.SubmitAbstractHandler)

	// Token-gated registration and checkout endpoints
	apiMux.HandleFunc("/registration", middleware.APIMiddleware(registration.GetRegistrationHandler))
	apiMux.HandleFunc("/uploads/", middleware.APIMiddleware(registration.ServeUploadHandler))
	apiMux.HandleFunc("/badge", middleware.APIMiddleware(badge.BadgeHandler))
	apiMux.HandleFunc("/checkout/config", middleware.PublicAPIMiddleware(payment.CheckoutConfigHandler))
	apiMux.HandleFunc("/checkout/create-order", middleware.APIMiddleware(payment.CreateOrderHandler))
	apiMux.HandleFunc("/checkout/open", middleware.APIMiddleware(payment.OpenCheckoutHandler))
	apiMux.HandleFunc("/checkout/dismiss", middleware.APIMiddleware(payment.DismissCheckoutHandler))
	apiMux.HandleFunc("/checkout/verify", middleware.APIMiddleware(payment.VerifyPaymentHandler))

	// Gateway callbacks
	apiMux.HandleFunc("/gateway-webhook", webhook.GatewayWebhookHandler)

	mux.Handle("/api/", http.StripPrefix("/api", apiMux))

	return mux
}

// Run starts the HTTP server

func (a *App) Run() {
	server := &http.Server{
		Addr:         a.addr,
		Handler:      a.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Channel to listen for shutdown signals
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	// Start server in a separate goroutine
	go func() {
		logger.LogInfo("Starting server on %s", a.addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.LogFatal("Server failed: %v", err)
		}
	}()

	// Wait for a shutdown signal
	<-stop
	logger.LogInfo("Shutdown signal received")

	// Create context with timeout for shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Shutdown the server gracefully
	if err := server.Shutdown(ctx); err != nil {
		logger.LogError("Server shutdown error: %v", err)
	} else {
		logger.LogInfo("Server shut down gracefully")
	}

	// Wait for active connections to finish
	logger.LogInfo("Waiting for active connections to finish...")
	a.connections.Wait()
	logger.LogInfo("All connections closed. Total requests handled: %d", atomic.LoadInt64(&a.totalRequests))
}

// Handler assembles all middleware around the main mux
func (a *App) Handler() http.Handler {
	var handler http.Handler = a.mux

	handler = security.AddCORSHeaders(handler)
	handler = a.trackConnections(handler)
	handler = logRequests(handler)
	handler = withTimeout(handler, 15*time.Second)

	return handler
}

// Middleware: timeout handler
func withTimeout(h http.Handler, timeout time.Duration) http.Handler {
	return http.TimeoutHandler(h, timeout, "Request timed out")
}

// Middleware: log requests
func logRequests(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		h.ServeHTTP(w, r)

		duration := time.Since(start)
		logger.LogInfo("%s %s took %v", r.Method, r.URL.Path, duration)
	})
}

// Middleware: track active connections and total requests
func (a *App) trackConnections(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		a.connections.Add(1)
		atomic.AddInt64(&a.totalRequests, 1)
		defer a.connections.Done()

		h.ServeHTTP(w, r)
	})
}
