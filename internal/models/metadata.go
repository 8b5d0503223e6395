package models

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// InstitutionMetadata carries institution-specific fields a connector needs
// beyond username and password. The set of meaningful fields is keyed by the
// institution slug: Bank of Melbourne requires a security number, Amex needs
// nothing extra. Unknown fields are rejected at the vault boundary rather
// than passed through untyped.
type InstitutionMetadata struct {
	SecurityNumber string `json:"securityNumber,omitempty"`
}

// ParseInstitutionMetadata decodes and validates the decrypted metadata blob
// for the given institution. A nil or empty blob is valid for institutions
// that require no extra fields.
func ParseInstitutionMetadata(slug string, data []byte) (InstitutionMetadata, error) {
	var meta InstitutionMetadata
	if len(data) > 0 {
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&meta); err != nil {
			return InstitutionMetadata{}, fmt.Errorf("invalid metadata for institution %q: %w", slug, err)
		}
	}
	if err := meta.Validate(slug); err != nil {
		return InstitutionMetadata{}, err
	}
	return meta, nil
}

// Validate checks that the fields required by the institution are present.
func (m InstitutionMetadata) Validate(slug string) error {
	switch slug {
	case "bom":
		if m.SecurityNumber == "" {
			return fmt.Errorf("institution %q requires a security number", slug)
		}
	}
	return nil
}
