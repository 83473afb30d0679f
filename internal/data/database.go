package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"regbackend/internal/logger"
)

// =============================================================================
// CONSTANTS AND GLOBAL VARIABLES
// =============================================================================

// Global database instance
var (
	db   *sql.DB
	dbMu sync.RWMutex
)

// Database connection pool configuration
const (
	maxOpenConns    = 25
	maxIdleConns    = 5
	connMaxLifetime = time.Hour
	connMaxIdleTime = time.Minute * 15
	queryTimeout    = time.Second * 30
)

const TimeFormat = time.RFC3339

// =============================================================================
// DATABASE CONNECTION AND SETUP
// =============================================================================

// InitDB initializes the database with connection pooling and resilience
func InitDB(dataSourceName string) error {
	dbMu.Lock()
	defer dbMu.Unlock()

	// Close existing connection if any
	if db != nil {
		db.Close()
	}

	return initDBWithRetry(dataSourceName, 3)
}

func initDBWithRetry(dataSourceName string, maxRetries int) error {
	var err error

	for attempt := 1; attempt <= maxRetries; attempt++ {
		db, err = sql.Open("sqlite", dataSourceName)
		if err != nil {
			logger.LogWarn("Database connection attempt %d failed: %v", attempt, err)
			if attempt < maxRetries {
				time.Sleep(time.Duration(attempt) * time.Second)
				continue
			}
			return fmt.Errorf("failed to open database after %d attempts: %w", maxRetries, err)
		}

		// Configure connection pool
		db.SetMaxOpenConns(maxOpenConns)
		db.SetMaxIdleConns(maxIdleConns)
		db.SetConnMaxLifetime(connMaxLifetime)
		db.SetConnMaxIdleTime(connMaxIdleTime)

		// Test the connection
		ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
		err = db.PingContext(ctx)
		cancel()

		if err != nil {
			logger.LogWarn("Database ping attempt %d failed: %v", attempt, err)
			db.Close()
			if attempt < maxRetries {
				time.Sleep(time.Duration(attempt) * time.Second)
				continue
			}
			return fmt.Errorf("failed to ping database after %d attempts: %w", maxRetries, err)
		}

		if err := enablePragmas(db); err != nil {
			logger.LogWarn("Failed to enable some database optimizations: %v", err)
			// Don't fail initialization for pragma errors
		}

		logger.LogInfo("Database connection established successfully (attempt %d)", attempt)
		return nil
	}

	return fmt.Errorf("failed to initialize database after %d attempts", maxRetries)
}

func enablePragmas(conn *sql.DB) error {
	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA cache_size = -64000",
		"PRAGMA temp_store = MEMORY",
	}

	var lastErr error
	for _, pragma := range pragmas {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second*5)
		_, err := conn.ExecContext(ctx, pragma)
		cancel()

		if err != nil {
			logger.LogWarn("Failed to execute %s: %v", pragma, err)
			lastErr = err
		}
	}
	return lastErr
}

// GetDB returns the database connection with health check
func GetDB() (*sql.DB, error) {
	dbMu.RLock()
	defer dbMu.RUnlock()

	if db == nil {
		return nil, fmt.Errorf("database not initialized")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second*2)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		logger.LogError("Database health check failed: %v", err)
		return nil, fmt.Errorf("database connection unhealthy: %w", err)
	}

	return db, nil
}

// CloseDB closes the database connection gracefully
func CloseDB() error {
	dbMu.Lock()
	defer dbMu.Unlock()

	if db != nil {
		err := db.Close()
		db = nil
		return err
	}
	return nil
}

// =============================================================================
// SCHEMA DEFINITIONS
// =============================================================================

const eventTableSchema = `
	CREATE TABLE IF NOT EXISTS events (
		event_id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		description TEXT DEFAULT '',
		venue TEXT DEFAULT '',
		city TEXT DEFAULT '',
		start_date TEXT,
		end_date TEXT,
		published BOOLEAN DEFAULT 1
	);
	CREATE INDEX IF NOT EXISTS idx_events_start_date ON events(start_date);`

const categoryTableSchema = `
	CREATE TABLE IF NOT EXISTS registration_categories (
		category_id TEXT PRIMARY KEY,
		event_id TEXT NOT NULL,
		name TEXT NOT NULL,
		description TEXT DEFAULT '',
		amount_minor INTEGER NOT NULL DEFAULT 0,
		currency TEXT NOT NULL DEFAULT 'INR',
		needs_additional_info BOOLEAN DEFAULT 0,
		fields_json TEXT DEFAULT '[]',
		sort_order INTEGER DEFAULT 0,
		FOREIGN KEY (event_id) REFERENCES events(event_id)
	);
	CREATE INDEX IF NOT EXISTS idx_categories_event ON registration_categories(event_id);`

const dynamicFieldTableSchema = `
	CREATE TABLE IF NOT EXISTS dynamic_form_fields (
		field_id TEXT NOT NULL,
		event_id TEXT NOT NULL,
		descriptor_json TEXT NOT NULL,
		sort_order INTEGER DEFAULT 0,
		PRIMARY KEY (event_id, field_id),
		FOREIGN KEY (event_id) REFERENCES events(event_id)
	);`

const mealPreferenceTableSchema = `
	CREATE TABLE IF NOT EXISTS meal_preferences (
		meal_id TEXT NOT NULL,
		event_id TEXT NOT NULL,
		name TEXT NOT NULL,
		sort_order INTEGER DEFAULT 0,
		PRIMARY KEY (event_id, meal_id),
		FOREIGN KEY (event_id) REFERENCES events(event_id)
	);`

const termsTableSchema = `
	CREATE TABLE IF NOT EXISTS terms_and_conditions (
		term_id TEXT NOT NULL,
		event_id TEXT NOT NULL,
		text TEXT NOT NULL,
		required BOOLEAN DEFAULT 1,
		sort_order INTEGER DEFAULT 0,
		PRIMARY KEY (event_id, term_id),
		FOREIGN KEY (event_id) REFERENCES events(event_id)
	);`

const registrationTableSchema = `
	CREATE TABLE IF NOT EXISTS registrations (
		registration_id TEXT PRIMARY KEY,
		access_token TEXT,
		event_id TEXT NOT NULL,
		category_id TEXT NOT NULL,
		submission_date TEXT NOT NULL,
		name TEXT NOT NULL,
		email TEXT NOT NULL,
		mobile TEXT NOT NULL,
		organization TEXT DEFAULT '',
		designation TEXT DEFAULT '',
		address TEXT DEFAULT '',
		city TEXT DEFAULT '',
		country TEXT DEFAULT '',
		meal_preference TEXT DEFAULT '',
		accepted_terms_json TEXT DEFAULT '[]',
		additional_answers_json TEXT DEFAULT '[]',
		dynamic_answers_json TEXT DEFAULT '[]',
		amount_minor INTEGER DEFAULT 0,
		currency TEXT DEFAULT 'INR',
		order_id TEXT,
		order_created_at TEXT,
		payment_id TEXT,
		payment_status TEXT,
		payment_error TEXT,
		badge_code TEXT,
		submitted BOOLEAN DEFAULT 0,
		submitted_at TEXT,
		confirmation_email_sent BOOLEAN DEFAULT 0,
		confirmation_email_sent_at TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_registrations_event ON registrations(event_id);
	CREATE INDEX IF NOT EXISTS idx_registrations_email ON registrations(email);
	CREATE INDEX IF NOT EXISTS idx_registrations_submitted ON registrations(submitted);`

const uploadTableSchema = `
	CREATE TABLE IF NOT EXISTS registration_uploads (
		upload_id TEXT PRIMARY KEY,
		registration_id TEXT NOT NULL,
		field_id TEXT NOT NULL,
		part_name TEXT NOT NULL,
		original_name TEXT NOT NULL,
		stored_path TEXT NOT NULL,
		size_bytes INTEGER DEFAULT 0,
		created_at TEXT NOT NULL,
		FOREIGN KEY (registration_id) REFERENCES registrations(registration_id)
	);
	CREATE INDEX IF NOT EXISTS idx_uploads_registration ON registration_uploads(registration_id);`

const abstractTableSchema = `
	CREATE TABLE IF NOT EXISTS abstracts (
		abstract_id TEXT PRIMARY KEY,
		event_id TEXT NOT NULL,
		registration_id TEXT DEFAULT '',
		title TEXT NOT NULL,
		track TEXT DEFAULT '',
		authors_json TEXT DEFAULT '[]',
		summary TEXT DEFAULT '',
		file_path TEXT DEFAULT '',
		submission_date TEXT NOT NULL,
		FOREIGN KEY (event_id) REFERENCES events(event_id)
	);
	CREATE INDEX IF NOT EXISTS idx_abstracts_event ON abstracts(event_id);`

// =============================================================================
// TABLE CREATION AND MIGRATIONS
// =============================================================================

func CreateTables() error {
	tables := []struct {
		name   string
		schema string
	}{
		{"events", eventTableSchema},
		{"registration_categories", categoryTableSchema},
		{"dynamic_form_fields", dynamicFieldTableSchema},
		{"meal_preferences", mealPreferenceTableSchema},
		{"terms_and_conditions", termsTableSchema},
		{"registrations", registrationTableSchema},
		{"registration_uploads", uploadTableSchema},
		{"abstracts", abstractTableSchema},
	}

	for _, table := range tables {
		if _, err := db.Exec(table.schema); err != nil {
			return fmt.Errorf("failed to create %s table: %w", table.name, err)
		}
	}

	if err := migrateRegistrationTable(); err != nil {
		return fmt.Errorf("failed to migrate registrations table: %w", err)
	}

	return nil
}

// migrateRegistrationTable backfills the badge_code column on databases
// created before badges existed.
func migrateRegistrationTable() error {
	var count int
	err := db.QueryRow(`
		SELECT COUNT(*) FROM pragma_table_info('registrations')
		WHERE name='badge_code'
	`).Scan(&count)

	if err != nil {
		return fmt.Errorf("failed to check for badge_code column: %w", err)
	}

	if count == 0 {
		if _, err := db.Exec(`ALTER TABLE registrations ADD COLUMN badge_code TEXT`); err != nil {
			return fmt.Errorf("failed to add badge_code column: %w", err)
		}
		logger.LogInfo("Added badge_code column to registrations table")
	}

	return nil
}

// =============================================================================
// UTILITY FUNCTIONS (JSON AND TIME HANDLING)
// =============================================================================

// JSON utilities

func marshalJSON(v interface{}) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("failed to marshal JSON: %w", err)
	}
	return string(data), nil
}

func unmarshalJSON(data string, v interface{}) error {
	if data == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(data), v); err != nil {
		return fmt.Errorf("failed to unmarshal JSON: %w", err)
	}
	return nil
}

// Time utilities

func formatTime(t time.Time) string {
	return t.Format(TimeFormat)
}

func formatNullableTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.Format(TimeFormat)
}

func parseTime(timeStr string) (time.Time, error) {
	return time.Parse(TimeFormat, timeStr)
}

func parseNullableTime(nullStr sql.NullString) (*time.Time, error) {
	if !nullStr.Valid || nullStr.String == "" {
		return nil, nil
	}

	parsedTime, err := time.Parse(TimeFormat, nullStr.String)
	if err != nil {
		return nil, fmt.Errorf("failed to parse time: %w", err)
	}

	return &parsedTime, nil
}

// =============================================================================
// GENERIC DATABASE OPERATIONS
// =============================================================================

// ExecDB executes a statement with timeout and error logging
func ExecDB(query string, args ...interface{}) (sql.Result, error) {
	dbConn, err := GetDB()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
	defer cancel()

	result, err := dbConn.ExecContext(ctx, query, args...)
	if err != nil {
		logger.LogError("Database exec failed: query=%s, error=%v", query, err)
		return nil, fmt.Errorf("database execution failed: %w", err)
	}

	return result, nil
}

// QueryDB executes a query with timeout and returns rows
func QueryDB(query string, args ...interface{}) (*sql.Rows, error) {
	dbConn, err := GetDB()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
	defer cancel()

	rows, err := dbConn.QueryContext(ctx, query, args...)
	if err != nil {
		logger.LogError("Database query failed: query=%s, error=%v", query, err)
		return nil, fmt.Errorf("database query failed: %w", err)
	}

	return rows, nil
}

// QueryRowDB executes a query that returns a single row
func QueryRowDB(query string, args ...interface{}) *sql.Row {
	dbConn, _ := GetDB() // We'll let the query fail if DB is unavailable

	ctx, cancel := context.WithTimeout(context.Background(), queryTimeout)
	defer cancel()

	return dbConn.QueryRowContext(ctx, query, args...)
}
