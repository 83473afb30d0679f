// internal/forms/normalize.go
package forms

import (
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/url"
)

// Answer is one collected value for a category-additional field, keyed by the
// descriptor id. Scalar kinds fill Value; checkbox groups always fill Values
// with an array, never a bare string. For file fields Value holds the stored
// file URL once the upload lands (or the pre-existing URL when editing).
type Answer struct {
	FieldID string   `json:"fieldId"`
	Value   string   `json:"value"`
	Values  []string `json:"values,omitempty"`
}

// DynamicAnswer carries the field's own metadata alongside the value so the
// consuming side can render and re-validate without re-joining against the
// original descriptor set.
type DynamicAnswer struct {
	Answer
	Kind     Kind     `json:"kind"`
	Label    string   `json:"label"`
	Required bool     `json:"required"`
	Options  []string `json:"options,omitempty"`
}

// FileUpload is a pending binary attached to a file-input field. Uploads live
// in their own side table keyed by part name; they are never unioned into the
// textual answer slot.
type FileUpload struct {
	FieldID  string
	PartName string
	Header   *multipart.FileHeader
}

// Submission is the normalized shape of one registration form post: flat
// profile fields, the two ordered answer buckets, and the file side table.
type Submission struct {
	Profile           map[string]string
	AdditionalAnswers []Answer
	DynamicAnswers    []DynamicAnswer
	Files             map[string]*FileUpload
}

// Normalize reshapes the raw multipart form into the three answer buckets and
// splits pending uploads out into the file table. It does not validate; run
// the synthesized schema and CheckRequiredFiles before trusting the result.
func Normalize(values url.Values, files map[string][]*multipart.FileHeader,
	category *RegistrationCategory, dynamicFields []FieldDescriptor) *Submission {

	sub := &Submission{
		Profile: make(map[string]string),
		Files:   make(map[string]*FileUpload),
	}

	for key := range values {
		canonical := CanonicalProfileKey(key)
		if isProfileKey(canonical) {
			sub.Profile[canonical] = firstValue(values[key])
		}
	}

	if category != nil && category.NeedsAdditionalInfo {
		for _, f := range category.Fields {
			answer, upload := normalizeField(f, AdditionalKey(f.ID), AdditionalFileKey(f.ID), values, files)
			sub.AdditionalAnswers = append(sub.AdditionalAnswers, answer)
			if upload != nil {
				sub.Files[upload.PartName] = upload
			}
		}
	}

	for _, f := range dynamicFields {
		answer, upload := normalizeField(f, DynamicKey(f.ID), DynamicFileKey(f.ID), values, files)
		sub.DynamicAnswers = append(sub.DynamicAnswers, DynamicAnswer{
			Answer:   answer,
			Kind:     f.Kind,
			Label:    f.Label,
			Required: f.Required,
			Options:  f.Options,
		})
		if upload != nil {
			sub.Files[upload.PartName] = upload
		}
	}

	return sub
}

// normalizeField applies the per-kind branching for one field: checkbox
// values become arrays, live uploads move to the file table with an emptied
// textual answer, and string values on file fields (already-uploaded URLs
// from an edit) stay textual.
func normalizeField(f FieldDescriptor, key, fileKey string,
	values url.Values, files map[string][]*multipart.FileHeader) (Answer, *FileUpload) {

	answer := Answer{FieldID: f.ID}

	switch f.Kind {
	case KindCheckboxGroup:
		selected := nonEmpty(values[key])
		if selected == nil {
			selected = []string{}
		}
		answer.Values = selected

	case KindFileInput:
		if headers := files[fileKey]; len(headers) > 0 && headers[0] != nil {
			return answer, &FileUpload{
				FieldID:  f.ID,
				PartName: fileKey,
				Header:   headers[0],
			}
		}
		// No live upload: a string value here is the URL of a previously
		// persisted file, kept as the textual answer. A missing required
		// file must be caught by CheckRequiredFiles, not swallowed here.
		answer.Value = firstValue(values[key])

	default:
		answer.Value = firstValue(values[key])
	}

	return answer, nil
}

// CheckRequiredFiles is the submit-time gate for the constraint the schema
// cannot express: a required file field with neither a pending upload nor a
// pre-existing URL. Any hit must abort the submission before side effects.
func (s *Submission) CheckRequiredFiles(category *RegistrationCategory, dynamicFields []FieldDescriptor) []FieldError {
	var errs []FieldError

	if category != nil && category.NeedsAdditionalInfo {
		for _, f := range category.Fields {
			if err := s.requiredFileError(f, AdditionalKey(f.ID), AdditionalFileKey(f.ID), s.AdditionalAnswers); err != nil {
				errs = append(errs, *err)
			}
		}
	}

	for _, f := range dynamicFields {
		dynamicAnswers := make([]Answer, len(s.DynamicAnswers))
		for i, a := range s.DynamicAnswers {
			dynamicAnswers[i] = a.Answer
		}
		if err := s.requiredFileError(f, DynamicKey(f.ID), DynamicFileKey(f.ID), dynamicAnswers); err != nil {
			errs = append(errs, *err)
		}
	}

	return errs
}

func (s *Submission) requiredFileError(f FieldDescriptor, key, fileKey string, answers []Answer) *FieldError {
	if f.Kind != KindFileInput || !f.Required {
		return nil
	}
	if _, ok := s.Files[fileKey]; ok {
		return nil
	}
	for _, a := range answers {
		if a.FieldID == f.ID && a.Value != "" {
			return nil // existing upload URL from an edit
		}
	}
	return &FieldError{Key: key, Label: f.Label, Message: "a file is required for this field"}
}

// SetFileURL records the stored URL for a field's answer after its upload has
// been written out, in whichever bucket the field lives.
func (s *Submission) SetFileURL(fieldID, storedURL string) {
	for i := range s.AdditionalAnswers {
		if s.AdditionalAnswers[i].FieldID == fieldID {
			s.AdditionalAnswers[i].Value = storedURL
			return
		}
	}
	for i := range s.DynamicAnswers {
		if s.DynamicAnswers[i].FieldID == fieldID {
			s.DynamicAnswers[i].Value = storedURL
			return
		}
	}
}

// AdditionalAnswersJSON renders the category-additional bucket as the
// JSON-encoded array the persistence layer and downstream consumers expect.
func (s *Submission) AdditionalAnswersJSON() (string, error) {
	if s.AdditionalAnswers == nil {
		return "[]", nil
	}
	data, err := json.Marshal(s.AdditionalAnswers)
	if err != nil {
		return "", fmt.Errorf("failed to marshal additional answers: %w", err)
	}
	return string(data), nil
}

// DynamicAnswersJSON renders the dynamic-field bucket as a JSON-encoded array.
func (s *Submission) DynamicAnswersJSON() (string, error) {
	if s.DynamicAnswers == nil {
		return "[]", nil
	}
	data, err := json.Marshal(s.DynamicAnswers)
	if err != nil {
		return "", fmt.Errorf("failed to marshal dynamic answers: %w", err)
	}
	return string(data), nil
}

func isProfileKey(key string) bool {
	for _, f := range profileFields {
		if f.ID == key {
			return true
		}
	}
	return false
}
