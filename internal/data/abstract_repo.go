package data

import (
	"database/sql"
	"fmt"
	"time"
)

// Abstract is a submitted paper/talk abstract for an event.
type Abstract struct {
	AbstractID     string    `json:"abstractID"`
	EventID        string    `json:"eventID"`
	RegistrationID string    `json:"registrationID,omitempty"`
	Title          string    `json:"title"`
	Track          string    `json:"track,omitempty"`
	Authors        []string  `json:"authors"`
	Summary        string    `json:"summary,omitempty"`
	FilePath       string    `json:"-"`
	SubmissionDate time.Time `json:"submissionDate"`
}

type AbstractRepository struct {
	db *sql.DB
}

func NewAbstractRepository() *AbstractRepository {
	return &AbstractRepository{db: db}
}

func (r *AbstractRepository) Insert(abstract *Abstract) error {
	authorsJSON, err := marshalJSON(abstract.Authors)
	if err != nil {
		return fmt.Errorf("failed to marshal authors: %w", err)
	}

	const stmt = `
		INSERT INTO abstracts (
			abstract_id, event_id, registration_id, title, track,
			authors_json, summary, file_path, submission_date
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = ExecDB(stmt,
		abstract.AbstractID, abstract.EventID, abstract.RegistrationID,
		abstract.Title, abstract.Track, authorsJSON, abstract.Summary,
		abstract.FilePath, formatTime(abstract.SubmissionDate),
	)
	if err != nil {
		return fmt.Errorf("failed to insert abstract: %w", err)
	}
	return nil
}

func (r *AbstractRepository) GetByID(abstractID string) (*Abstract, error) {
	const stmt = `
		SELECT abstract_id, event_id, registration_id, title, track,
			authors_json, summary, file_path, submission_date
		FROM abstracts WHERE abstract_id = ?`

	row := QueryRowDB(stmt, abstractID)

	var abstract Abstract
	var authorsJSON sql.NullString
	var submissionDate string
	err := row.Scan(&abstract.AbstractID, &abstract.EventID, &abstract.RegistrationID,
		&abstract.Title, &abstract.Track, &authorsJSON, &abstract.Summary,
		&abstract.FilePath, &submissionDate)
	if err != nil {
		return nil, err
	}

	if authorsJSON.Valid {
		if err := unmarshalJSON(authorsJSON.String, &abstract.Authors); err != nil {
			return nil, fmt.Errorf("failed to unmarshal authors: %w", err)
		}
	}
	if abstract.SubmissionDate, err = parseTime(submissionDate); err != nil {
		return nil, fmt.Errorf("failed to parse abstract submission date: %w", err)
	}

	return &abstract, nil
}

func (r *AbstractRepository) ListByEvent(eventID string) ([]Abstract, error) {
	const stmt = `
		SELECT abstract_id, event_id, registration_id, title, track,
			authors_json, summary, file_path, submission_date
		FROM abstracts WHERE event_id = ? ORDER BY submission_date`

	rows, err := QueryDB(stmt, eventID)
	if err != nil {
		return nil, fmt.Errorf("failed to query abstracts: %w", err)
	}
	defer rows.Close()

	var result []Abstract
	for rows.Next() {
		var abstract Abstract
		var authorsJSON sql.NullString
		var submissionDate string
		if err := rows.Scan(&abstract.AbstractID, &abstract.EventID, &abstract.RegistrationID,
			&abstract.Title, &abstract.Track, &authorsJSON, &abstract.Summary,
			&abstract.FilePath, &submissionDate); err != nil {
			return nil, fmt.Errorf("failed to scan abstract row: %w", err)
		}
		if authorsJSON.Valid {
			if err := unmarshalJSON(authorsJSON.String, &abstract.Authors); err != nil {
				return nil, fmt.Errorf("failed to unmarshal authors: %w", err)
			}
		}
		if abstract.SubmissionDate, err = parseTime(submissionDate); err != nil {
			return nil, fmt.Errorf("failed to parse abstract submission date: %w", err)
		}
		result = append(result, abstract)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating abstract rows: %w", err)
	}
	return result, nil
}
