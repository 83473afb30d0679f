// internal/forms/files.go
package forms

import (
	"mime/multipart"
	"path/filepath"
	"strings"

	"github.com/dustin/go-humanize"
)

// DefaultMaxFileSizeMB applies when a file-input descriptor sets no limit.
const DefaultMaxFileSizeMB = 10

// ValidateUpload checks a pending upload against the descriptor's file
// constraints. The returned FieldError message is meant for direct display.
func ValidateUpload(f FieldDescriptor, key string, header *multipart.FileHeader) *FieldError {
	if f.Kind != KindFileInput || header == nil {
		return nil
	}

	maxMB := f.MaxFileSizeMB
	if maxMB <= 0 {
		maxMB = DefaultMaxFileSizeMB
	}
	maxBytes := int64(maxMB) << 20

	if header.Size > maxBytes {
		return &FieldError{
			Key:   key,
			Label: f.Label,
			Message: "file is " + humanize.Bytes(uint64(header.Size)) +
				", larger than the " + humanize.Bytes(uint64(maxBytes)) + " limit",
		}
	}

	if len(f.FileTypes) > 0 {
		ext := strings.ToLower(filepath.Ext(header.Filename))
		if !extensionAllowed(ext, f.FileTypes) {
			return &FieldError{
				Key:     key,
				Label:   f.Label,
				Message: "file type " + ext + " is not allowed (accepted: " + strings.Join(f.FileTypes, ", ") + ")",
			}
		}
	}

	return nil
}

// ValidateUploads runs ValidateUpload over every pending file in a submission.
func (s *Submission) ValidateUploads(category *RegistrationCategory, dynamicFields []FieldDescriptor) []FieldError {
	var errs []FieldError

	byID := make(map[string]FieldDescriptor)
	if category != nil {
		for _, f := range category.Fields {
			byID[AdditionalFileKey(f.ID)] = f
		}
	}
	for _, f := range dynamicFields {
		byID[DynamicFileKey(f.ID)] = f
	}

	for partName, upload := range s.Files {
		desc, ok := byID[partName]
		if !ok {
			continue
		}
		if err := ValidateUpload(desc, partName, upload.Header); err != nil {
			errs = append(errs, *err)
		}
	}

	return errs
}

func extensionAllowed(ext string, allowed []string) bool {
	for _, t := range allowed {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		if !strings.HasPrefix(t, ".") {
			t = "." + t
		}
		if ext == t {
			return true
		}
	}
	return false
}
