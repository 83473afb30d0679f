// internal/forms/schema.go
package forms

import (
	"fmt"
	"strings"
)

// Profile field keys. The wire aliases older clients send (fullName, phone)
// are translated once, at the API boundary, by CanonicalProfileKey.
const (
	ProfileName         = "name"
	ProfileEmail        = "email"
	ProfileMobile       = "mobile"
	ProfileOrganization = "organization"
	ProfileDesignation  = "designation"
	ProfileAddress      = "address"
	ProfileCity         = "city"
	ProfileCountry      = "country"
)

var profileKeyAliases = map[string]string{
	"fullName":  ProfileName,
	"full_name": ProfileName,
	"phone":     ProfileMobile,
}

// CanonicalProfileKey maps a wire field name to its canonical profile key.
// Unknown names pass through unchanged.
func CanonicalProfileKey(key string) string {
	if canonical, ok := profileKeyAliases[key]; ok {
		return canonical
	}
	return key
}

// profileFields is the fixed set of always-present profile fields every
// registration collects, independent of category and event.
var profileFields = []FieldDescriptor{
	{ID: ProfileName, Kind: KindTextInput, Label: "Full Name", Required: true},
	{ID: ProfileEmail, Kind: KindTextInput, Label: "Email", Required: true},
	{ID: ProfileMobile, Kind: KindTextInput, Label: "Mobile Number", Required: true},
	{ID: ProfileOrganization, Kind: KindTextInput, Label: "Organization"},
	{ID: ProfileDesignation, Kind: KindTextInput, Label: "Designation"},
	{ID: ProfileAddress, Kind: KindTextArea, Label: "Address", Required: true},
	{ID: ProfileCity, Kind: KindTextInput, Label: "City", Required: true},
	{ID: ProfileCountry, Kind: KindTextInput, Label: "Country", Required: true},
}

// ProfileFieldKeys returns the canonical profile keys in collection order.
func ProfileFieldKeys() []string {
	keys := make([]string, len(profileFields))
	for i, f := range profileFields {
		keys[i] = f.ID
	}
	return keys
}

// Rule validates one flat form key. Scalar kinds validate a single string,
// checkbox-group validates the full value slice.
type Rule struct {
	Key         string
	Label       string
	Kind        Kind
	Required    bool
	Options     []string
	MinSelected int
	MaxSelected int
}

// FieldError is a validation failure tied to a specific form key.
type FieldError struct {
	Key     string `json:"key"`
	Label   string `json:"label"`
	Message string `json:"message"`
}

func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %s", e.Label, e.Message)
}

// Validate checks the submitted values for this rule's key. values holds
// every part submitted under the key (checkbox groups submit one per choice).
func (r Rule) Validate(values []string) *FieldError {
	switch r.Kind {
	case KindCheckboxGroup:
		selected := nonEmpty(values)
		// Length bounds bind required groups only. An optional group accepts
		// any selection, including none.
		if r.Required {
			min := r.MinSelected
			if min < 1 {
				min = 1
			}
			if len(selected) < min {
				return &FieldError{Key: r.Key, Label: r.Label,
					Message: fmt.Sprintf("select at least %d option(s)", min)}
			}
			if r.MaxSelected > 0 && len(selected) > r.MaxSelected {
				return &FieldError{Key: r.Key, Label: r.Label,
					Message: fmt.Sprintf("select at most %d option(s)", r.MaxSelected)}
			}
		}
		if bad := firstUnknownOption(selected, r.Options); bad != "" {
			return &FieldError{Key: r.Key, Label: r.Label,
				Message: fmt.Sprintf("%q is not a valid option", bad)}
		}
		return nil

	case KindFileInput:
		// File required-ness cannot be expressed here: a browser file handle
		// does not survive persisted form state. CheckRequiredFiles enforces
		// it at submission time.
		return nil

	case KindSingleSelect, KindRadio:
		value := firstValue(values)
		if r.Required && value == "" {
			return &FieldError{Key: r.Key, Label: r.Label, Message: "this field is required"}
		}
		if value != "" && len(r.Options) > 0 {
			if bad := firstUnknownOption([]string{value}, r.Options); bad != "" {
				return &FieldError{Key: r.Key, Label: r.Label,
					Message: fmt.Sprintf("%q is not a valid option", bad)}
			}
		}
		return nil

	default:
		// text-input, text-area, date, and any unrecognized kind: a malformed
		// descriptor must not block the whole form, so unknowns degrade to
		// optional-string acceptance.
		if r.Required && r.Kind.Known() && firstValue(values) == "" {
			return &FieldError{Key: r.Key, Label: r.Label, Message: "this field is required"}
		}
		return nil
	}
}

// Schema maps every flat form key to its validation rule. Schemas are built
// fresh from the current category and dynamic field set; they are never
// mutated after construction, so a newer field set always means a new schema.
type Schema struct {
	rules map[string]Rule
	order []string
}

// BuildSchema synthesizes the validation schema for the fixed profile fields,
// the selected category's additional fields (when it wants them), and the
// event's dynamic fields. category may be nil.
func BuildSchema(category *RegistrationCategory, dynamicFields []FieldDescriptor) *Schema {
	s := &Schema{rules: make(map[string]Rule)}

	for _, f := range profileFields {
		s.add(ruleFor(f, f.ID))
	}

	if category != nil && category.NeedsAdditionalInfo {
		for _, f := range category.Fields {
			s.add(ruleFor(f, AdditionalKey(f.ID)))
		}
	}

	for _, f := range dynamicFields {
		s.add(ruleFor(f, DynamicKey(f.ID)))
	}

	return s
}

func ruleFor(f FieldDescriptor, key string) Rule {
	return Rule{
		Key:         key,
		Label:       f.Label,
		Kind:        f.Kind,
		Required:    f.Required,
		Options:     f.Options,
		MinSelected: f.MinSelected,
		MaxSelected: f.MaxSelected,
	}
}

func (s *Schema) add(r Rule) {
	if _, exists := s.rules[r.Key]; !exists {
		s.order = append(s.order, r.Key)
	}
	s.rules[r.Key] = r
}

// Rule looks up the rule for a flat form key.
func (s *Schema) Rule(key string) (Rule, bool) {
	r, ok := s.rules[key]
	return r, ok
}

// Keys returns every schema key in synthesis order.
func (s *Schema) Keys() []string {
	return append([]string(nil), s.order...)
}

// Validate runs every rule against the submitted form values and returns all
// failures. values maps flat form keys to the raw parts submitted under them.
func (s *Schema) Validate(values map[string][]string) []FieldError {
	var errs []FieldError
	for _, key := range s.order {
		rule := s.rules[key]
		if err := rule.Validate(values[key]); err != nil {
			errs = append(errs, *err)
		}
	}
	return errs
}

func firstValue(values []string) string {
	for _, v := range values {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func nonEmpty(values []string) []string {
	var out []string
	for _, v := range values {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func firstUnknownOption(selected, options []string) string {
	for _, v := range selected {
		found := false
		for _, opt := range options {
			if v == opt {
				found = true
				break
			}
		}
		if !found {
			return v
		}
	}
	return ""
}
