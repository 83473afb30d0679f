package event

import (
	"database/sql"
	"errors"
	"net/http"

	"regbackend/internal/data"
	"regbackend/internal/forms"
	"regbackend/internal/logger"
	"regbackend/internal/middleware"
)

// EventDetail bundles everything the registration form needs for one event.
type EventDetail struct {
	data.Event
	Categories    []forms.RegistrationCategory `json:"categories"`
	DynamicFields []forms.FieldDescriptor      `json:"dynamicFields"`
	Meals         []data.MealPreference        `json:"meals"`
	Terms         []data.Term                  `json:"terms"`
	ProfileFields []string                     `json:"profileFields"`
}

// ListEventsHandler returns all published events for the discovery page.
func ListEventsHandler(w http.ResponseWriter, r *http.Request) {
	events, err := data.ListPublishedEvents()
	if err != nil {
		logger.LogError("Failed to list events: %v", err)
		middleware.WriteAPIError(w, r, http.StatusInternalServerError, "database_error",
			"Failed to load events", "")
		return
	}
	if events == nil {
		events = []data.Event{}
	}
	middleware.WriteAPISuccess(w, r, events)
}

// GetEventHandler returns one event with its categories, dynamic fields,
// meal options and terms. This is the payload the registration form is
// synthesized from.
func GetEventHandler(w http.ResponseWriter, r *http.Request) {
	eventID := r.URL.Query().Get("eventID")
	if eventID == "" {
		middleware.WriteAPIError(w, r, http.StatusBadRequest, "missing_parameter",
			"eventID query parameter is required", "")
		return
	}

	repo := data.NewEventRepository()

	event, err := repo.GetByID(eventID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			middleware.WriteAPIError(w, r, http.StatusNotFound, "not_found",
				"Event not found", "")
			return
		}
		logger.LogError("Failed to load event %s: %v", eventID, err)
		middleware.WriteAPIError(w, r, http.StatusInternalServerError, "database_error",
			"Failed to load event", "")
		return
	}

	detail := EventDetail{Event: *event, ProfileFields: forms.ProfileFieldKeys()}

	if detail.Categories, err = repo.ListCategories(eventID); err != nil {
		logger.LogError("Failed to load categories for %s: %v", eventID, err)
		middleware.WriteAPIError(w, r, http.StatusInternalServerError, "database_error",
			"Failed to load registration categories", "")
		return
	}
	if detail.DynamicFields, err = repo.ListDynamicFields(eventID); err != nil {
		logger.LogError("Failed to load dynamic fields for %s: %v", eventID, err)
		middleware.WriteAPIError(w, r, http.StatusInternalServerError, "database_error",
			"Failed to load form fields", "")
		return
	}
	if detail.Meals, err = repo.ListMealPreferences(eventID); err != nil {
		logger.LogError("Failed to load meal preferences for %s: %v", eventID, err)
		middleware.WriteAPIError(w, r, http.StatusInternalServerError, "database_error",
			"Failed to load meal preferences", "")
		return
	}
	if detail.Terms, err = repo.ListTerms(eventID); err != nil {
		logger.LogError("Failed to load terms for %s: %v", eventID, err)
		middleware.WriteAPIError(w, r, http.StatusInternalServerError, "database_error",
			"Failed to load terms", "")
		return
	}

	if detail.Categories == nil {
		detail.Categories = []forms.RegistrationCategory{}
	}
	if detail.DynamicFields == nil {
		detail.DynamicFields = []forms.FieldDescriptor{}
	}
	if detail.Meals == nil {
		detail.Meals = []data.MealPreference{}
	}
	if detail.Terms == nil {
		detail.Terms = []data.Term{}
	}

	middleware.WriteAPISuccess(w, r, detail)
}
