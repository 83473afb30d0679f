package catalog

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"regbackend/internal/data"
	"regbackend/internal/forms"
	"regbackend/internal/logger"
)

// CatalogData is the on-disk shape of the event catalog file. Everything an
// event offers for registration lives here: categories, extra form fields,
// meal options and terms.
type CatalogData struct {
	Events []EventEntry `json:"events"`
}

type EventEntry struct {
	data.Event
	Categories    []forms.RegistrationCategory `json:"categories"`
	DynamicFields []forms.FieldDescriptor      `json:"dynamicFields,omitempty"`
	Meals         []data.MealPreference        `json:"meals,omitempty"`
	Terms         []data.Term                  `json:"terms,omitempty"`
}

// Service holds the loaded catalog in memory for fast price lookups. Order
// amounts always come from here, never from the client.
type Service struct {
	events     map[string]EventEntry
	categories map[string]forms.RegistrationCategory

	lastLoaded time.Time
	mutex      sync.RWMutex
}

func NewService() *Service {
	return &Service{
		events:     make(map[string]EventEntry),
		categories: make(map[string]forms.RegistrationCategory),
	}
}

// LoadFromFile reads and validates the catalog file, replacing any previously
// loaded data.
func (s *Service) LoadFromFile(catalogPath string) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	logger.LogInfo("Loading event catalog from: %s", catalogPath)

	raw, err := os.ReadFile(catalogPath)
	if err != nil {
		return fmt.Errorf("failed to read catalog file: %w", err)
	}

	var catalog CatalogData
	if err := json.Unmarshal(raw, &catalog); err != nil {
		return fmt.Errorf("failed to parse catalog file: %w", err)
	}

	events := make(map[string]EventEntry)
	categories := make(map[string]forms.RegistrationCategory)

	for _, entry := range catalog.Events {
		if entry.EventID == "" {
			return fmt.Errorf("catalog event missing id: %q", entry.Name)
		}
		if _, exists := events[entry.EventID]; exists {
			return fmt.Errorf("duplicate catalog event id: %s", entry.EventID)
		}

		for i := range entry.Categories {
			category := &entry.Categories[i]
			category.EventID = entry.EventID
			if category.ID == "" {
				return fmt.Errorf("event %s: category missing id", entry.EventID)
			}
			if _, exists := categories[category.ID]; exists {
				return fmt.Errorf("duplicate category id: %s", category.ID)
			}
			if category.AmountMinor < 0 {
				return fmt.Errorf("category %s: negative amount", category.ID)
			}
			for j := range category.Fields {
				field := &category.Fields[j]
				field.Sanitize()
				if err := field.Validate(); err != nil {
					return fmt.Errorf("category %s: %w", category.ID, err)
				}
			}
			categories[category.ID] = *category
		}

		for i := range entry.DynamicFields {
			field := &entry.DynamicFields[i]
			field.Sanitize()
			if err := field.Validate(); err != nil {
				return fmt.Errorf("event %s: %w", entry.EventID, err)
			}
		}

		events[entry.EventID] = entry
	}

	s.events = events
	s.categories = categories
	s.lastLoaded = time.Now()

	logger.LogInfo("Catalog loaded: %d events, %d categories", len(events), len(categories))
	return nil
}

// SeedDatabase writes the loaded catalog into the database tables so the API
// handlers can serve it. Existing catalog rows are replaced.
func (s *Service) SeedDatabase() error {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	if len(s.events) == 0 {
		return fmt.Errorf("catalog not loaded")
	}

	tables := []string{"terms_and_conditions", "meal_preferences", "dynamic_form_fields", "registration_categories", "events"}
	for _, table := range tables {
		if _, err := data.ExecDB(`DELETE FROM ` + table); err != nil {
			return fmt.Errorf("failed to clear %s: %w", table, err)
		}
	}

	repo := data.NewEventRepository()
	for _, entry := range s.events {
		if err := repo.Insert(entry.Event); err != nil {
			return err
		}
		for i, category := range entry.Categories {
			if err := repo.InsertCategory(category, i); err != nil {
				return err
			}
		}
		for i, field := range entry.DynamicFields {
			if err := repo.InsertDynamicField(entry.EventID, field, i); err != nil {
				return err
			}
		}
		for i, meal := range entry.Meals {
			if err := repo.InsertMealPreference(entry.EventID, meal, i); err != nil {
				return err
			}
		}
		for i, term := range entry.Terms {
			if err := repo.InsertTerm(entry.EventID, term, i); err != nil {
				return err
			}
		}
	}

	logger.LogInfo("Catalog seeded into database")
	return nil
}

// GetEvent returns a catalog event by id.
func (s *Service) GetEvent(eventID string) (EventEntry, bool) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	entry, ok := s.events[eventID]
	return entry, ok
}

// GetCategory returns a registration category by id.
func (s *Service) GetCategory(categoryID string) (forms.RegistrationCategory, bool) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	category, ok := s.categories[categoryID]
	return category, ok
}

// CategoryAmount returns the server-side price for a category in minor
// currency units.
func (s *Service) CategoryAmount(categoryID string) (int64, string, error) {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	category, ok := s.categories[categoryID]
	if !ok {
		return 0, "", fmt.Errorf("unknown registration category: %s", categoryID)
	}
	return category.AmountMinor, category.Currency, nil
}

// LastLoaded reports when the catalog was last read from disk.
func (s *Service) LastLoaded() time.Time {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.lastLoaded
}
