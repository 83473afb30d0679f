package testing

import (
	"fmt"
	"time"

	"regbackend/internal/data"
	"regbackend/internal/forms"
)

// TestRegistrationData generates test registration data matching the
// catalog fixture in test_helpers.go
type TestRegistrationData struct {
	RegistrationID string
	AccessToken    string
	EventID        string
	CategoryID     string
	Name           string
	Email          string
	Mobile         string
	Organization   string
	MealPreference string
	AcceptedTerms  []string
	Dietary        []string
	AmountMinor    int64
	Currency       string

	// Set for the speaker category only
	BadgeName string
	TalkTrack string
}

// GenerateTestRegistration creates a test registration for the fixture
// conference. Variations adjust category and optional answers.
func (ts *TestSuite) GenerateTestRegistration(variations ...string) TestRegistrationData {
	registrationID := ts.GenerateRegistrationID("goconf-2026")
	token, _ := ts.GenerateAccessToken(registrationID, "registration")

	ts.mu.Lock()
	seq := ts.testCount
	ts.mu.Unlock()

	testData := TestRegistrationData{
		RegistrationID: registrationID,
		AccessToken:    token,
		EventID:        "goconf-2026",
		CategoryID:     "delegate",
		Name:           "Priya Sharma",
		Email:          fmt.Sprintf("priya.sharma+%d@example.in", seq),
		Mobile:         "+91 98765 43210",
		Organization:   "Acme Systems",
		MealPreference: "veg",
		AcceptedTerms:  []string{"code-of-conduct"},
		Dietary:        []string{"vegetarian"},
		AmountMinor:    150000,
		Currency:       "INR",
	}

	for _, variation := range variations {
		switch variation {
		case "speaker":
			testData.CategoryID = "speaker"
			testData.AmountMinor = 100000
			testData.BadgeName = "Priya S."
			testData.TalkTrack = "backend"
		case "no_meal":
			testData.MealPreference = ""
		case "no_dietary":
			testData.Dietary = nil
		case "all_terms":
			testData.AcceptedTerms = []string{"code-of-conduct", "marketing-emails"}
		}
	}

	return testData
}

// ToRegistration converts test data to a data.Registration ready for insert
func (td TestRegistrationData) ToRegistration() *data.Registration {
	reg := &data.Registration{
		RegistrationID: td.RegistrationID,
		AccessToken:    td.AccessToken,
		EventID:        td.EventID,
		CategoryID:     td.CategoryID,
		SubmissionDate: time.Now(),
		Profile: map[string]string{
			forms.ProfileName:         td.Name,
			forms.ProfileEmail:        td.Email,
			forms.ProfileMobile:       td.Mobile,
			forms.ProfileOrganization: td.Organization,
		},
		MealPreference: td.MealPreference,
		AcceptedTerms:  td.AcceptedTerms,
		AmountMinor:    td.AmountMinor,
		Currency:       td.Currency,
	}

	if len(td.Dietary) > 0 {
		reg.DynamicAnswers = []forms.DynamicAnswer{
			{
				Answer: forms.Answer{FieldID: "dietary", Values: td.Dietary},
				Kind:   forms.KindCheckboxGroup,
				Label:  "Dietary Requirements",
			},
		}
	}

	if td.CategoryID == "speaker" {
		reg.AdditionalAnswers = []forms.Answer{
			{FieldID: "badge-name", Value: td.BadgeName},
			{FieldID: "talk-track", Value: td.TalkTrack},
		}
	}

	return reg
}

// GenerateTestAbstract creates a test abstract tied to a registration
func (ts *TestSuite) GenerateTestAbstract(registrationID string) *data.Abstract {
	ts.mu.Lock()
	ts.testCount++
	seq := ts.testCount
	ts.mu.Unlock()

	return &data.Abstract{
		AbstractID:     fmt.Sprintf("abs-test-%d-%d", time.Now().Unix(), seq),
		EventID:        "goconf-2026",
		RegistrationID: registrationID,
		Title:          "Profiling Go Services Under Load",
		Track:          "backend",
		Authors:        []string{"Priya Sharma", "Arjun Mehta"},
		Summary:        "A walkthrough of finding allocation hotspots in production services.",
		SubmissionDate: time.Now(),
	}
}
