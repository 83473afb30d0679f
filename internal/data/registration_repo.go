package data

import (
	"database/sql"
	"fmt"
	"time"

	"regbackend/internal/forms"
	"regbackend/internal/logger"
)

// =============================================================================
// REGISTRATION REPOSITORY
// =============================================================================

// Registration is one attendee registration, possibly awaiting payment.
type Registration struct {
	RegistrationID string            `json:"registrationID"`
	AccessToken    string            `json:"-"`
	EventID        string            `json:"eventID"`
	CategoryID     string            `json:"categoryID"`
	SubmissionDate time.Time         `json:"submissionDate"`
	Profile        map[string]string `json:"profile"`

	MealPreference    string                `json:"mealPreference,omitempty"`
	AcceptedTerms     []string              `json:"acceptedTerms,omitempty"`
	AdditionalAnswers []forms.Answer        `json:"additionalAnswers,omitempty"`
	DynamicAnswers    []forms.DynamicAnswer `json:"dynamicAnswers,omitempty"`

	AmountMinor int64  `json:"amount"`
	Currency    string `json:"currency"`

	OrderID        string     `json:"orderID,omitempty"`
	OrderCreatedAt *time.Time `json:"orderCreatedAt,omitempty"`
	PaymentID      string     `json:"paymentID,omitempty"`
	PaymentStatus  string     `json:"paymentStatus,omitempty"`
	PaymentError   string     `json:"paymentError,omitempty"`

	BadgeCode   string     `json:"badgeCode,omitempty"`
	Submitted   bool       `json:"submitted"`
	SubmittedAt *time.Time `json:"submittedAt,omitempty"`

	ConfirmationEmailSent   bool       `json:"-"`
	ConfirmationEmailSentAt *time.Time `json:"-"`
}

// Upload is a stored file attached to a registration answer.
type Upload struct {
	UploadID       string    `json:"uploadID"`
	RegistrationID string    `json:"registrationID"`
	FieldID        string    `json:"fieldID"`
	PartName       string    `json:"partName"`
	OriginalName   string    `json:"originalName"`
	StoredPath     string    `json:"storedPath"`
	SizeBytes      int64     `json:"sizeBytes"`
	CreatedAt      time.Time `json:"createdAt"`
}

type RegistrationRepository struct {
	db *sql.DB
}

func NewRegistrationRepository() *RegistrationRepository {
	return &RegistrationRepository{db: db}
}

const registrationColumns = `
	registration_id, access_token, event_id, category_id, submission_date,
	name, email, mobile, organization, designation, address, city, country,
	meal_preference, accepted_terms_json, additional_answers_json, dynamic_answers_json,
	amount_minor, currency, order_id, order_created_at,
	payment_id, payment_status, payment_error,
	badge_code, submitted, submitted_at,
	confirmation_email_sent, confirmation_email_sent_at`

// =============================================================================
// INSERT AND FETCH
// =============================================================================

func (r *RegistrationRepository) Insert(reg *Registration) error {
	acceptedTermsJSON, err := marshalJSON(reg.AcceptedTerms)
	if err != nil {
		return fmt.Errorf("failed to marshal accepted terms: %w", err)
	}
	additionalJSON, err := marshalJSON(reg.AdditionalAnswers)
	if err != nil {
		return fmt.Errorf("failed to marshal additional answers: %w", err)
	}
	dynamicJSON, err := marshalJSON(reg.DynamicAnswers)
	if err != nil {
		return fmt.Errorf("failed to marshal dynamic answers: %w", err)
	}

	const stmt = `
		INSERT INTO registrations (
			registration_id, access_token, event_id, category_id, submission_date,
			name, email, mobile, organization, designation, address, city, country,
			meal_preference, accepted_terms_json, additional_answers_json, dynamic_answers_json,
			amount_minor, currency
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = ExecDB(stmt,
		reg.RegistrationID, reg.AccessToken, reg.EventID, reg.CategoryID,
		formatTime(reg.SubmissionDate),
		reg.Profile[forms.ProfileName], reg.Profile[forms.ProfileEmail],
		reg.Profile[forms.ProfileMobile], reg.Profile[forms.ProfileOrganization],
		reg.Profile[forms.ProfileDesignation], reg.Profile[forms.ProfileAddress],
		reg.Profile[forms.ProfileCity], reg.Profile[forms.ProfileCountry],
		reg.MealPreference, acceptedTermsJSON, additionalJSON, dynamicJSON,
		reg.AmountMinor, reg.Currency,
	)
	if err != nil {
		return fmt.Errorf("failed to insert registration: %w", err)
	}

	logger.LogInfo("Registration inserted: id=%s, event=%s, category=%s",
		reg.RegistrationID, reg.EventID, reg.CategoryID)
	return nil
}

func (r *RegistrationRepository) GetByID(registrationID string) (*Registration, error) {
	stmt := `SELECT ` + registrationColumns + ` FROM registrations WHERE registration_id = ?`
	row := QueryRowDB(stmt, registrationID)
	return scanRegistration(row.Scan)
}

func (r *RegistrationRepository) GetByOrderID(orderID string) (*Registration, error) {
	stmt := `SELECT ` + registrationColumns + ` FROM registrations WHERE order_id = ?`
	row := QueryRowDB(stmt, orderID)
	return scanRegistration(row.Scan)
}

func scanRegistration(scan func(dest ...interface{}) error) (*Registration, error) {
	var reg Registration
	var submissionDate string
	var name, email, mobile, organization, designation, address, city, country string
	var acceptedTermsJSON, additionalJSON, dynamicJSON sql.NullString
	var orderID, orderCreatedAt, paymentID, paymentStatus, paymentError sql.NullString
	var badgeCode, submittedAt, emailSentAt sql.NullString

	err := scan(
		&reg.RegistrationID, &reg.AccessToken, &reg.EventID, &reg.CategoryID, &submissionDate,
		&name, &email, &mobile, &organization, &designation, &address, &city, &country,
		&reg.MealPreference, &acceptedTermsJSON, &additionalJSON, &dynamicJSON,
		&reg.AmountMinor, &reg.Currency, &orderID, &orderCreatedAt,
		&paymentID, &paymentStatus, &paymentError,
		&badgeCode, &reg.Submitted, &submittedAt,
		&reg.ConfirmationEmailSent, &emailSentAt,
	)
	if err != nil {
		return nil, err
	}

	if reg.SubmissionDate, err = parseTime(submissionDate); err != nil {
		return nil, fmt.Errorf("failed to parse submission date: %w", err)
	}

	reg.Profile = map[string]string{
		forms.ProfileName:         name,
		forms.ProfileEmail:        email,
		forms.ProfileMobile:       mobile,
		forms.ProfileOrganization: organization,
		forms.ProfileDesignation:  designation,
		forms.ProfileAddress:      address,
		forms.ProfileCity:         city,
		forms.ProfileCountry:      country,
	}

	if acceptedTermsJSON.Valid {
		if err := unmarshalJSON(acceptedTermsJSON.String, &reg.AcceptedTerms); err != nil {
			return nil, fmt.Errorf("failed to unmarshal accepted terms: %w", err)
		}
	}
	if additionalJSON.Valid {
		if err := unmarshalJSON(additionalJSON.String, &reg.AdditionalAnswers); err != nil {
			return nil, fmt.Errorf("failed to unmarshal additional answers: %w", err)
		}
	}
	if dynamicJSON.Valid {
		if err := unmarshalJSON(dynamicJSON.String, &reg.DynamicAnswers); err != nil {
			return nil, fmt.Errorf("failed to unmarshal dynamic answers: %w", err)
		}
	}

	reg.OrderID = orderID.String
	reg.PaymentID = paymentID.String
	reg.PaymentStatus = paymentStatus.String
	reg.PaymentError = paymentError.String
	reg.BadgeCode = badgeCode.String

	if reg.OrderCreatedAt, err = parseNullableTime(orderCreatedAt); err != nil {
		return nil, fmt.Errorf("failed to parse order creation time: %w", err)
	}
	if reg.SubmittedAt, err = parseNullableTime(submittedAt); err != nil {
		return nil, fmt.Errorf("failed to parse submit time: %w", err)
	}
	if reg.ConfirmationEmailSentAt, err = parseNullableTime(emailSentAt); err != nil {
		return nil, fmt.Errorf("failed to parse email sent time: %w", err)
	}

	return &reg, nil
}

// =============================================================================
// PAYMENT LIFECYCLE UPDATES
// =============================================================================

// UpdateOrder records the gateway order attached to a registration.
func (r *RegistrationRepository) UpdateOrder(registrationID, orderID string, createdAt time.Time) error {
	const stmt = `
		UPDATE registrations
		SET order_id = ?, order_created_at = ?, payment_status = 'created', payment_error = ''
		WHERE registration_id = ?`

	result, err := ExecDB(stmt, orderID, formatTime(createdAt), registrationID)
	if err != nil {
		return fmt.Errorf("failed to update order info: %w", err)
	}
	return requireRowUpdated(result, registrationID)
}

// UpdatePaymentVerified marks a registration paid after signature verification.
func (r *RegistrationRepository) UpdatePaymentVerified(registrationID, paymentID string, verifiedAt time.Time) error {
	const stmt = `
		UPDATE registrations
		SET payment_id = ?, payment_status = 'paid', payment_error = '',
			submitted = 1, submitted_at = ?
		WHERE registration_id = ?`

	result, err := ExecDB(stmt, paymentID, formatTime(verifiedAt), registrationID)
	if err != nil {
		return fmt.Errorf("failed to record verified payment: %w", err)
	}
	return requireRowUpdated(result, registrationID)
}

// UpdatePaymentFailed records a failed or rejected payment attempt.
func (r *RegistrationRepository) UpdatePaymentFailed(registrationID, paymentID, reason string) error {
	const stmt = `
		UPDATE registrations
		SET payment_id = ?, payment_status = 'failed', payment_error = ?
		WHERE registration_id = ?`

	result, err := ExecDB(stmt, paymentID, reason, registrationID)
	if err != nil {
		return fmt.Errorf("failed to record failed payment: %w", err)
	}
	return requireRowUpdated(result, registrationID)
}

func (r *RegistrationRepository) UpdateBadgeCode(registrationID, badgeCode string) error {
	const stmt = `UPDATE registrations SET badge_code = ? WHERE registration_id = ?`

	result, err := ExecDB(stmt, badgeCode, registrationID)
	if err != nil {
		return fmt.Errorf("failed to update badge code: %w", err)
	}
	return requireRowUpdated(result, registrationID)
}

func (r *RegistrationRepository) MarkEmailSent(registrationID string, sentAt time.Time) error {
	const stmt = `
		UPDATE registrations
		SET confirmation_email_sent = 1, confirmation_email_sent_at = ?
		WHERE registration_id = ?`

	result, err := ExecDB(stmt, formatTime(sentAt), registrationID)
	if err != nil {
		return fmt.Errorf("failed to mark confirmation email sent: %w", err)
	}
	return requireRowUpdated(result, registrationID)
}

func requireRowUpdated(result sql.Result, registrationID string) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("registration not found: %s", registrationID)
	}
	return nil
}

// ListByYear returns all registrations submitted in a calendar year, newest
// first. RFC3339 timestamps sort lexicographically so string bounds work.
func (r *RegistrationRepository) ListByYear(year int) ([]Registration, error) {
	stmt := `SELECT ` + registrationColumns + `
		FROM registrations
		WHERE submission_date >= ? AND submission_date < ?
		ORDER BY submission_date DESC`

	lower := fmt.Sprintf("%04d-01-01", year)
	upper := fmt.Sprintf("%04d-01-01", year+1)

	rows, err := QueryDB(stmt, lower, upper)
	if err != nil {
		return nil, fmt.Errorf("failed to query registrations: %w", err)
	}
	defer rows.Close()

	var result []Registration
	for rows.Next() {
		reg, err := scanRegistration(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("failed to scan registration row: %w", err)
		}
		result = append(result, *reg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating registration rows: %w", err)
	}
	return result, nil
}

// =============================================================================
// DUPLICATE DETECTION AND CLEANUP
// =============================================================================

// HasRecentDuplicate reports whether the same email already registered for the
// event within the window. Used to absorb accidental double submissions.
func (r *RegistrationRepository) HasRecentDuplicate(eventID, email string, window time.Duration) (bool, error) {
	const stmt = `
		SELECT COUNT(*) FROM registrations
		WHERE event_id = ? AND email = ? AND submission_date > ?`

	cutoff := formatTime(time.Now().Add(-window))
	row := QueryRowDB(stmt, eventID, email, cutoff)

	var count int
	if err := row.Scan(&count); err != nil {
		return false, fmt.Errorf("failed to check for duplicate registration: %w", err)
	}
	return count > 0, nil
}

// DeleteAbandoned removes unpaid registrations older than the cutoff and
// returns how many were removed. Uploads belonging to them go first.
func (r *RegistrationRepository) DeleteAbandoned(cutoff time.Time) (int64, error) {
	const uploadStmt = `
		DELETE FROM registration_uploads
		WHERE registration_id IN (
			SELECT registration_id FROM registrations
			WHERE submitted = 0 AND submission_date < ?
		)`

	cutoffStr := formatTime(cutoff)
	if _, err := ExecDB(uploadStmt, cutoffStr); err != nil {
		return 0, fmt.Errorf("failed to delete abandoned uploads: %w", err)
	}

	const stmt = `DELETE FROM registrations WHERE submitted = 0 AND submission_date < ?`
	result, err := ExecDB(stmt, cutoffStr)
	if err != nil {
		return 0, fmt.Errorf("failed to delete abandoned registrations: %w", err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count deleted registrations: %w", err)
	}
	return deleted, nil
}

// ListAbandonedUploadPaths returns stored file paths for unpaid registrations
// older than the cutoff so the cleanup routine can remove them from disk.
func (r *RegistrationRepository) ListAbandonedUploadPaths(cutoff time.Time) ([]string, error) {
	const stmt = `
		SELECT u.stored_path FROM registration_uploads u
		JOIN registrations reg ON reg.registration_id = u.registration_id
		WHERE reg.submitted = 0 AND reg.submission_date < ?`

	rows, err := QueryDB(stmt, formatTime(cutoff))
	if err != nil {
		return nil, fmt.Errorf("failed to query abandoned upload paths: %w", err)
	}
	defer rows.Close()

	var paths []string
	for rows.Next() {
		var path string
		if err := rows.Scan(&path); err != nil {
			return nil, fmt.Errorf("failed to scan upload path: %w", err)
		}
		paths = append(paths, path)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating upload path rows: %w", err)
	}
	return paths, nil
}

// =============================================================================
// UPLOADS
// =============================================================================

func (r *RegistrationRepository) InsertUpload(upload Upload) error {
	const stmt = `
		INSERT INTO registration_uploads (
			upload_id, registration_id, field_id, part_name,
			original_name, stored_path, size_bytes, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := ExecDB(stmt,
		upload.UploadID, upload.RegistrationID, upload.FieldID, upload.PartName,
		upload.OriginalName, upload.StoredPath, upload.SizeBytes, formatTime(upload.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert upload record: %w", err)
	}
	return nil
}

func (r *RegistrationRepository) ListUploads(registrationID string) ([]Upload, error) {
	const stmt = `
		SELECT upload_id, registration_id, field_id, part_name,
			original_name, stored_path, size_bytes, created_at
		FROM registration_uploads WHERE registration_id = ?`

	rows, err := QueryDB(stmt, registrationID)
	if err != nil {
		return nil, fmt.Errorf("failed to query uploads: %w", err)
	}
	defer rows.Close()

	var result []Upload
	for rows.Next() {
		var upload Upload
		var createdAt string
		if err := rows.Scan(&upload.UploadID, &upload.RegistrationID, &upload.FieldID,
			&upload.PartName, &upload.OriginalName, &upload.StoredPath,
			&upload.SizeBytes, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan upload row: %w", err)
		}
		if upload.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("failed to parse upload time: %w", err)
		}
		result = append(result, upload)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating upload rows: %w", err)
	}
	return result, nil
}

// =============================================================================
// LEGACY-STYLE PACKAGE FUNCTIONS
// =============================================================================

func InsertRegistration(reg *Registration) error {
	return NewRegistrationRepository().Insert(reg)
}

func GetRegistrationByID(registrationID string) (*Registration, error) {
	return NewRegistrationRepository().GetByID(registrationID)
}

func GetRegistrationByOrderID(orderID string) (*Registration, error) {
	return NewRegistrationRepository().GetByOrderID(orderID)
}
