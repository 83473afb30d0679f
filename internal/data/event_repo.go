package data

import (
	"database/sql"
	"fmt"
	"time"

	"regbackend/internal/forms"
)

// =============================================================================
// EVENT REPOSITORY
// =============================================================================

// Event is a conference/event open for registration.
type Event struct {
	EventID     string     `json:"id"`
	Name        string     `json:"name"`
	Description string     `json:"description,omitempty"`
	Venue       string     `json:"venue,omitempty"`
	City        string     `json:"city,omitempty"`
	StartDate   *time.Time `json:"startDate,omitempty"`
	EndDate     *time.Time `json:"endDate,omitempty"`
	Published   bool       `json:"published"`
}

// MealPreference is one selectable meal option for an event.
type MealPreference struct {
	MealID string `json:"id"`
	Name   string `json:"name"`
}

// Term is one terms-and-conditions clause shown during registration.
type Term struct {
	TermID   string `json:"id"`
	Text     string `json:"text"`
	Required bool   `json:"required"`
}

type EventRepository struct {
	db *sql.DB
}

func NewEventRepository() *EventRepository {
	return &EventRepository{db: db}
}

// =============================================================================
// EVENTS
// =============================================================================

func (r *EventRepository) Insert(event Event) error {
	const stmt = `
		INSERT INTO events (event_id, name, description, venue, city, start_date, end_date, published)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := ExecDB(stmt,
		event.EventID, event.Name, event.Description, event.Venue, event.City,
		formatNullableTime(event.StartDate), formatNullableTime(event.EndDate), event.Published,
	)
	if err != nil {
		return fmt.Errorf("failed to insert event: %w", err)
	}
	return nil
}

func (r *EventRepository) GetByID(eventID string) (*Event, error) {
	const stmt = `
		SELECT event_id, name, description, venue, city, start_date, end_date, published
		FROM events WHERE event_id = ?`

	row := QueryRowDB(stmt, eventID)

	var event Event
	var startDate, endDate sql.NullString
	err := row.Scan(&event.EventID, &event.Name, &event.Description, &event.Venue,
		&event.City, &startDate, &endDate, &event.Published)
	if err != nil {
		return nil, err
	}

	if event.StartDate, err = parseNullableTime(startDate); err != nil {
		return nil, fmt.Errorf("failed to parse event start date: %w", err)
	}
	if event.EndDate, err = parseNullableTime(endDate); err != nil {
		return nil, fmt.Errorf("failed to parse event end date: %w", err)
	}

	return &event, nil
}

func (r *EventRepository) ListPublished() ([]Event, error) {
	const stmt = `
		SELECT event_id, name, description, venue, city, start_date, end_date, published
		FROM events WHERE published = 1 ORDER BY start_date`

	rows, err := QueryDB(stmt)
	if err != nil {
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	var result []Event
	for rows.Next() {
		var event Event
		var startDate, endDate sql.NullString
		if err := rows.Scan(&event.EventID, &event.Name, &event.Description, &event.Venue,
			&event.City, &startDate, &endDate, &event.Published); err != nil {
			return nil, fmt.Errorf("failed to scan event row: %w", err)
		}
		if event.StartDate, err = parseNullableTime(startDate); err != nil {
			return nil, fmt.Errorf("failed to parse event start date: %w", err)
		}
		if event.EndDate, err = parseNullableTime(endDate); err != nil {
			return nil, fmt.Errorf("failed to parse event end date: %w", err)
		}
		result = append(result, event)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating event rows: %w", err)
	}

	return result, nil
}

// =============================================================================
// REGISTRATION CATEGORIES (SLABS)
// =============================================================================

func (r *EventRepository) InsertCategory(category forms.RegistrationCategory, sortOrder int) error {
	fieldsJSON, err := marshalJSON(category.Fields)
	if err != nil {
		return fmt.Errorf("failed to marshal category fields: %w", err)
	}

	const stmt = `
		INSERT INTO registration_categories (
			category_id, event_id, name, description, amount_minor, currency,
			needs_additional_info, fields_json, sort_order
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = ExecDB(stmt,
		category.ID, category.EventID, category.Name, category.Description,
		category.AmountMinor, category.Currency, category.NeedsAdditionalInfo,
		fieldsJSON, sortOrder,
	)
	if err != nil {
		return fmt.Errorf("failed to insert registration category: %w", err)
	}
	return nil
}

func (r *EventRepository) GetCategoryByID(categoryID string) (*forms.RegistrationCategory, error) {
	const stmt = `
		SELECT category_id, event_id, name, description, amount_minor, currency,
			needs_additional_info, fields_json
		FROM registration_categories WHERE category_id = ?`

	row := QueryRowDB(stmt, categoryID)
	return scanCategory(row.Scan)
}

func (r *EventRepository) ListCategories(eventID string) ([]forms.RegistrationCategory, error) {
	const stmt = `
		SELECT category_id, event_id, name, description, amount_minor, currency,
			needs_additional_info, fields_json
		FROM registration_categories WHERE event_id = ? ORDER BY sort_order`

	rows, err := QueryDB(stmt, eventID)
	if err != nil {
		return nil, fmt.Errorf("failed to query categories: %w", err)
	}
	defer rows.Close()

	var result []forms.RegistrationCategory
	for rows.Next() {
		category, err := scanCategory(rows.Scan)
		if err != nil {
			return nil, err
		}
		result = append(result, *category)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating category rows: %w", err)
	}

	return result, nil
}

func scanCategory(scan func(dest ...interface{}) error) (*forms.RegistrationCategory, error) {
	var category forms.RegistrationCategory
	var fieldsJSON sql.NullString

	err := scan(&category.ID, &category.EventID, &category.Name, &category.Description,
		&category.AmountMinor, &category.Currency, &category.NeedsAdditionalInfo, &fieldsJSON)
	if err != nil {
		return nil, err
	}

	if fieldsJSON.Valid && fieldsJSON.String != "" {
		if err := unmarshalJSON(fieldsJSON.String, &category.Fields); err != nil {
			return nil, fmt.Errorf("failed to unmarshal category fields: %w", err)
		}
	}

	return &category, nil
}

// =============================================================================
// DYNAMIC FORM FIELDS
// =============================================================================

func (r *EventRepository) InsertDynamicField(eventID string, field forms.FieldDescriptor, sortOrder int) error {
	descriptorJSON, err := marshalJSON(field)
	if err != nil {
		return fmt.Errorf("failed to marshal field descriptor: %w", err)
	}

	const stmt = `
		INSERT INTO dynamic_form_fields (field_id, event_id, descriptor_json, sort_order)
		VALUES (?, ?, ?, ?)`

	if _, err := ExecDB(stmt, field.ID, eventID, descriptorJSON, sortOrder); err != nil {
		return fmt.Errorf("failed to insert dynamic field: %w", err)
	}
	return nil
}

func (r *EventRepository) ListDynamicFields(eventID string) ([]forms.FieldDescriptor, error) {
	const stmt = `
		SELECT descriptor_json FROM dynamic_form_fields
		WHERE event_id = ? ORDER BY sort_order`

	rows, err := QueryDB(stmt, eventID)
	if err != nil {
		return nil, fmt.Errorf("failed to query dynamic fields: %w", err)
	}
	defer rows.Close()

	var result []forms.FieldDescriptor
	for rows.Next() {
		var descriptorJSON string
		if err := rows.Scan(&descriptorJSON); err != nil {
			return nil, fmt.Errorf("failed to scan dynamic field row: %w", err)
		}
		var field forms.FieldDescriptor
		if err := unmarshalJSON(descriptorJSON, &field); err != nil {
			return nil, fmt.Errorf("failed to unmarshal field descriptor: %w", err)
		}
		result = append(result, field)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating dynamic field rows: %w", err)
	}

	return result, nil
}

// =============================================================================
// MEAL PREFERENCES AND TERMS
// =============================================================================

func (r *EventRepository) InsertMealPreference(eventID string, meal MealPreference, sortOrder int) error {
	const stmt = `
		INSERT INTO meal_preferences (meal_id, event_id, name, sort_order)
		VALUES (?, ?, ?, ?)`

	if _, err := ExecDB(stmt, meal.MealID, eventID, meal.Name, sortOrder); err != nil {
		return fmt.Errorf("failed to insert meal preference: %w", err)
	}
	return nil
}

func (r *EventRepository) ListMealPreferences(eventID string) ([]MealPreference, error) {
	const stmt = `
		SELECT meal_id, name FROM meal_preferences
		WHERE event_id = ? ORDER BY sort_order`

	rows, err := QueryDB(stmt, eventID)
	if err != nil {
		return nil, fmt.Errorf("failed to query meal preferences: %w", err)
	}
	defer rows.Close()

	var result []MealPreference
	for rows.Next() {
		var meal MealPreference
		if err := rows.Scan(&meal.MealID, &meal.Name); err != nil {
			return nil, fmt.Errorf("failed to scan meal preference row: %w", err)
		}
		result = append(result, meal)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating meal preference rows: %w", err)
	}

	return result, nil
}

func (r *EventRepository) InsertTerm(eventID string, term Term, sortOrder int) error {
	const stmt = `
		INSERT INTO terms_and_conditions (term_id, event_id, text, required, sort_order)
		VALUES (?, ?, ?, ?, ?)`

	if _, err := ExecDB(stmt, term.TermID, eventID, term.Text, term.Required, sortOrder); err != nil {
		return fmt.Errorf("failed to insert term: %w", err)
	}
	return nil
}

func (r *EventRepository) ListTerms(eventID string) ([]Term, error) {
	const stmt = `
		SELECT term_id, text, required FROM terms_and_conditions
		WHERE event_id = ? ORDER BY sort_order`

	rows, err := QueryDB(stmt, eventID)
	if err != nil {
		return nil, fmt.Errorf("failed to query terms: %w", err)
	}
	defer rows.Close()

	var result []Term
	for rows.Next() {
		var term Term
		if err := rows.Scan(&term.TermID, &term.Text, &term.Required); err != nil {
			return nil, fmt.Errorf("failed to scan term row: %w", err)
		}
		result = append(result, term)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating term rows: %w", err)
	}

	return result, nil
}

// =============================================================================
// LEGACY-STYLE PACKAGE FUNCTIONS
// =============================================================================

func GetEventByID(eventID string) (*Event, error) {
	return NewEventRepository().GetByID(eventID)
}

func ListPublishedEvents() ([]Event, error) {
	return NewEventRepository().ListPublished()
}

func GetCategoryByID(categoryID string) (*forms.RegistrationCategory, error) {
	return NewEventRepository().GetCategoryByID(categoryID)
}

func ListCategories(eventID string) ([]forms.RegistrationCategory, error) {
	return NewEventRepository().ListCategories(eventID)
}

func ListDynamicFields(eventID string) ([]forms.FieldDescriptor, error) {
	return NewEventRepository().ListDynamicFields(eventID)
}
