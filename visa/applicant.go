// Package visa holds the visa-tracking domain: applicants, the settings
// document with its ordered step list, the registries that persist them,
// and the awaiting-step computation.
package visa

import (
	"bytes"
	"encoding/json"
	"fmt"
	"maps"
	"strings"
	"time"
)

// Document references an uploaded file.
type Document struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// Documents is the ordered list of files attached to an applicant.
//
// It always encodes as a JSON array. Decoding also accepts the legacy
// string-encoded form (a JSON string holding an array), an empty string and
// null, all of which normalise to a plain list.
type Documents []Document

// MarshalJSON encodes nil as an empty array.
func (d Documents) MarshalJSON() ([]byte, error) {
	if d == nil {
		return []byte("[]"), nil
	}
	return json.Marshal([]Document(d))
}

// UnmarshalJSON accepts an array or a string-encoded array.
func (d *Documents) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*d = Documents{}
		return nil
	}

	if data[0] == '"' {
		var encoded string
		if err := json.Unmarshal(data, &encoded); err != nil {
			return err
		}
		if len(bytes.TrimSpace([]byte(encoded))) == 0 {
			*d = Documents{}
			return nil
		}
		data = []byte(encoded)
	}

	var list []Document
	if err := json.Unmarshal(data, &list); err != nil {
		return fmt.Errorf("documents: %w", err)
	}
	if list == nil {
		list = []Document{}
	}
	*d = list
	return nil
}

// Applicant is one tracked visa case.
//
// Keys this version does not know are kept verbatim in Extra and written
// back at the top level of the record.
type Applicant struct {
	ID             string          `json:"id"`
	FullName       string          `json:"FullName"`
	PassportNumber string          `json:"PassportNumber"`
	FileNumber     string          `json:"FileNumber"`
	UIDNumber      string          `json:"UIDNumber"`
	Email          string          `json:"Email"`
	Phone          string          `json:"Phone"`
	Nationality    string          `json:"Nationality"`
	Documents      Documents       `json:"Documents"`
	StepsCompleted map[string]bool `json:"StepsCompleted"`
	CreatedAt      time.Time       `json:"CreatedAt,omitzero"`
	UpdatedAt      time.Time       `json:"UpdatedAt,omitzero"`

	Extra map[string]json.RawMessage `json:"-"`
}

// applicantFields is Applicant without its JSON methods.
type applicantFields Applicant

// applicantKeys are the wire keys decoded into Applicant fields.
var applicantKeys = []string{
	"id", "FullName", "PassportNumber", "FileNumber", "UIDNumber", "Email", "Phone",
	"Nationality", "Documents", "StepsCompleted", "CreatedAt", "UpdatedAt",
}

// MarshalJSON flattens Extra next to the known keys. Known keys win.
func (a Applicant) MarshalJSON() ([]byte, error) {
	known, err := json.Marshal(applicantFields(a))
	if err != nil || len(a.Extra) == 0 {
		return known, err
	}

	doc := maps.Clone(a.Extra)
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(known, &fields); err != nil {
		return nil, err
	}
	maps.Copy(doc, fields)
	return json.Marshal(doc)
}

// UnmarshalJSON decodes the known keys and keeps the rest in Extra.
func (a *Applicant) UnmarshalJSON(data []byte) error {
	var fields applicantFields
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	// encoding/json matches field names case-insensitively, so do the same here.
	for k := range raw {
		for _, known := range applicantKeys {
			if strings.EqualFold(k, known) {
				delete(raw, k)
				break
			}
		}
	}
	fields.Extra = nil
	if len(raw) > 0 {
		fields.Extra = raw
	}

	*a = Applicant(fields)
	return nil
}

// normalize replaces nil collections with empty ones so stored records
// always carry an array and an object.
func (a *Applicant) normalize() {
	if a.Documents == nil {
		a.Documents = Documents{}
	}
	if a.StepsCompleted == nil {
		a.StepsCompleted = map[string]bool{}
	}
}

// IsStepComplete reports whether the applicant has completed step.
func (a Applicant) IsStepComplete(step string) bool {
	return a.StepsCompleted[step]
}

// ApplicantPatch carries the fields of a create or partial update request.
// A nil field is absent from the request and leaves the stored value alone.
//
// id, CreatedAt and UpdatedAt are accepted so clients can send back a whole
// record, but they are server-managed and ignored.
type ApplicantPatch struct {
	FullName       *string         `json:"FullName,omitempty"`
	PassportNumber *string         `json:"PassportNumber,omitempty"`
	FileNumber     *string         `json:"FileNumber,omitempty"`
	UIDNumber      *string         `json:"UIDNumber,omitempty"`
	Email          *string         `json:"Email,omitempty"`
	Phone          *string         `json:"Phone,omitempty"`
	Nationality    *string         `json:"Nationality,omitempty"`
	Documents      *Documents      `json:"Documents,omitempty"`
	StepsCompleted map[string]bool `json:"StepsCompleted,omitempty"`

	ID        *string          `json:"id,omitempty"`
	CreatedAt *json.RawMessage `json:"CreatedAt,omitempty"`
	UpdatedAt *json.RawMessage `json:"UpdatedAt,omitempty"`
}

// DecodePatch decodes a request body into a patch, rejecting unknown keys.
func DecodePatch(data []byte) (ApplicantPatch, error) {
	var p ApplicantPatch
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&p); err != nil {
		return ApplicantPatch{}, fmt.Errorf("%w: %v", ErrInvalidApplicant, err)
	}
	if dec.More() {
		return ApplicantPatch{}, fmt.Errorf("%w: trailing data after object", ErrInvalidApplicant)
	}
	return p, nil
}

// ApplyTo overlays the provided fields onto a.
// StepsCompleted, when present, replaces the whole map.
func (p ApplicantPatch) ApplyTo(a *Applicant) {
	setString(&a.FullName, p.FullName)
	setString(&a.PassportNumber, p.PassportNumber)
	setString(&a.FileNumber, p.FileNumber)
	setString(&a.UIDNumber, p.UIDNumber)
	setString(&a.Email, p.Email)
	setString(&a.Phone, p.Phone)
	setString(&a.Nationality, p.Nationality)

	if p.Documents != nil {
		a.Documents = append(Documents{}, (*p.Documents)...)
	}
	if p.StepsCompleted != nil {
		a.StepsCompleted = maps.Clone(p.StepsCompleted)
	}
	a.normalize()
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}
