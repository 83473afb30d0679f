// internal/forms/field.go
package forms

import (
	"fmt"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// Kind enumerates the input kinds an organizer can attach to an event or
// registration category. Values match what the admin tooling stores.
type Kind string

const (
	KindTextInput     Kind = "text-input"
	KindTextArea      Kind = "text-area"
	KindSingleSelect  Kind = "single-select"
	KindRadio         Kind = "radio"
	KindCheckboxGroup Kind = "checkbox-group"
	KindDate          Kind = "date"
	KindFileInput     Kind = "file-input"
)

// FieldDescriptor is the server-defined description of one extra form field,
// either category-conditional ("additional") or event-level ("dynamic").
type FieldDescriptor struct {
	ID          string   `json:"id"`
	Kind        Kind     `json:"kind"`
	Label       string   `json:"label"`
	Placeholder string   `json:"placeholder,omitempty"`
	Description string   `json:"description,omitempty"`
	Required    bool     `json:"required"`
	Options     []string `json:"options,omitempty"`

	// checkbox-group bounds; MinSelected 0 means "default to 1 when required"
	MinSelected int `json:"minSelected,omitempty"`
	MaxSelected int `json:"maxSelected,omitempty"`

	// file-input constraints
	FileTypes     []string `json:"fileTypes,omitempty"`
	MaxFileSizeMB int      `json:"maxFileSizeMB,omitempty"`
}

// RegistrationCategory is a priced tier ("slab"). Categories that set
// NeedsAdditionalInfo carry their own field set, distinct from the
// event-level dynamic fields.
type RegistrationCategory struct {
	ID                  string            `json:"id"`
	EventID             string            `json:"eventId"`
	Name                string            `json:"name"`
	Description         string            `json:"description,omitempty"`
	AmountMinor         int64             `json:"amount"` // minor currency units
	Currency            string            `json:"currency"`
	NeedsAdditionalInfo bool              `json:"needsAdditionalInfo"`
	Fields              []FieldDescriptor `json:"fields,omitempty"`
}

// IsChoice reports whether the kind carries an option list.
func (k Kind) IsChoice() bool {
	switch k {
	case KindSingleSelect, KindRadio, KindCheckboxGroup:
		return true
	}
	return false
}

// Known reports whether the kind is one the schema synthesizer recognizes.
// Unknown kinds still get a permissive rule; this only drives ingest warnings.
func (k Kind) Known() bool {
	switch k {
	case KindTextInput, KindTextArea, KindSingleSelect, KindRadio,
		KindCheckboxGroup, KindDate, KindFileInput:
		return true
	}
	return false
}

// Validate enforces the descriptor invariants on ingest: options present iff
// the kind is a choice kind, file constraints present iff the kind is file-input.
func (d FieldDescriptor) Validate() error {
	if strings.TrimSpace(d.ID) == "" {
		return fmt.Errorf("field descriptor missing id")
	}
	if strings.TrimSpace(d.Label) == "" {
		return fmt.Errorf("field %s: missing label", d.ID)
	}

	if d.Kind.IsChoice() {
		if len(d.Options) == 0 {
			return fmt.Errorf("field %s (%s): choice kind requires options", d.ID, d.Kind)
		}
	} else if len(d.Options) > 0 {
		return fmt.Errorf("field %s (%s): options only allowed on choice kinds", d.ID, d.Kind)
	}

	if d.Kind == KindFileInput {
		if d.MaxFileSizeMB < 0 {
			return fmt.Errorf("field %s: negative max file size", d.ID)
		}
	} else if len(d.FileTypes) > 0 || d.MaxFileSizeMB > 0 {
		return fmt.Errorf("field %s (%s): file constraints only allowed on file-input", d.ID, d.Kind)
	}

	if d.Kind == KindCheckboxGroup {
		if d.MinSelected < 0 || d.MaxSelected < 0 {
			return fmt.Errorf("field %s: negative selection bound", d.ID)
		}
		if d.MaxSelected > 0 && d.MinSelected > d.MaxSelected {
			return fmt.Errorf("field %s: minSelected %d exceeds maxSelected %d",
				d.ID, d.MinSelected, d.MaxSelected)
		}
	}

	return nil
}

// Display metadata comes from organizer input and is echoed back to every
// registrant's browser, so it gets sanitized on ingest.
var labelPolicy = bluemonday.StrictPolicy()

// Sanitize strips any markup from the descriptor's display metadata.
func (d *FieldDescriptor) Sanitize() {
	d.Label = strings.TrimSpace(labelPolicy.Sanitize(d.Label))
	d.Placeholder = strings.TrimSpace(labelPolicy.Sanitize(d.Placeholder))
	d.Description = strings.TrimSpace(labelPolicy.Sanitize(d.Description))
	for i, opt := range d.Options {
		d.Options[i] = strings.TrimSpace(labelPolicy.Sanitize(opt))
	}
}

// Key prefixes for the flat multipart form. Text answers arrive under
// <prefix><field id>; file parts under <prefix>file_<field id> so the
// receiving side can associate binaries without relying on part order.
const (
	AdditionalKeyPrefix  = "additional_"
	DynamicKeyPrefix     = "dynamic_"
	AdditionalFilePrefix = "additional_file_"
	DynamicFilePrefix    = "dynamic_file_"
)

// AdditionalKey returns the flat form key for a category-additional field.
func AdditionalKey(fieldID string) string { return AdditionalKeyPrefix + fieldID }

// DynamicKey returns the flat form key for an event-level dynamic field.
func DynamicKey(fieldID string) string { return DynamicKeyPrefix + fieldID }

// AdditionalFileKey returns the multipart part name for a category-additional upload.
func AdditionalFileKey(fieldID string) string { return AdditionalFilePrefix + fieldID }

// DynamicFileKey returns the multipart part name for a dynamic-field upload.
func DynamicFileKey(fieldID string) string { return DynamicFilePrefix + fieldID }
