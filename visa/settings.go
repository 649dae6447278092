package visa

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
)

// SettingsID is the fixed id of the singleton settings document.
const SettingsID = "settings"

// DefaultAdminPassword is the placeholder password written on first start.
// Operators are expected to change it.
const DefaultAdminPassword = "changeme"

// Settings wire keys.
const (
	keyID            = "id"
	keyVisaSteps     = "VISA_STEPS"
	keyAdminPassword = "ADMIN_PASSWORD"
)

// DefaultVisaSteps is the step sequence seeded on first start.
var DefaultVisaSteps = []string{
	"Application Submitted",
	"Entry Permit Issued",
	"Change of Status",
	"Medical Test",
	"Emirates ID Biometrics",
	"Visa Stamping",
	"Emirates ID Received",
}

// Settings is the singleton configuration document.
//
// Keys other than id, VISA_STEPS and ADMIN_PASSWORD are kept verbatim in
// Extra and written back at the top level of the document.
type Settings struct {
	ID            string
	VisaSteps     []string
	AdminPassword string
	Extra         map[string]json.RawMessage
}

// DefaultSettings returns the document seeded on first start.
func DefaultSettings() Settings {
	return Settings{
		ID:            SettingsID,
		VisaSteps:     slices.Clone(DefaultVisaSteps),
		AdminPassword: DefaultAdminPassword,
	}
}

// Redacted returns a copy without the admin password.
func (s Settings) Redacted() Settings {
	out := s.clone()
	out.AdminPassword = ""
	return out
}

func (s Settings) clone() Settings {
	out := s
	out.VisaSteps = slices.Clone(s.VisaSteps)
	if s.Extra != nil {
		out.Extra = maps.Clone(s.Extra)
	}
	return out
}

// MarshalJSON flattens Extra next to the known keys.
// An empty admin password is omitted.
func (s Settings) MarshalJSON() ([]byte, error) {
	doc := make(map[string]any, len(s.Extra)+3)
	for k, v := range s.Extra {
		doc[k] = v
	}
	doc[keyID] = SettingsID
	steps := s.VisaSteps
	if steps == nil {
		steps = []string{}
	}
	doc[keyVisaSteps] = steps
	if s.AdminPassword != "" {
		doc[keyAdminPassword] = s.AdminPassword
	}
	return json.Marshal(doc)
}

// UnmarshalJSON splits a settings object into known keys and Extra.
// The incoming id is ignored; settings always carry SettingsID.
func (s *Settings) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw == nil {
		return fmt.Errorf("settings must be an object")
	}

	out := Settings{ID: SettingsID, VisaSteps: []string{}}

	if v, ok := raw[keyVisaSteps]; ok {
		if err := json.Unmarshal(v, &out.VisaSteps); err != nil {
			return fmt.Errorf("%s must be a list of step names: %w", keyVisaSteps, err)
		}
		if out.VisaSteps == nil {
			out.VisaSteps = []string{}
		}
	}
	if v, ok := raw[keyAdminPassword]; ok {
		if err := json.Unmarshal(v, &out.AdminPassword); err != nil {
			return fmt.Errorf("%s must be a string: %w", keyAdminPassword, err)
		}
	}

	delete(raw, keyID)
	delete(raw, keyVisaSteps)
	delete(raw, keyAdminPassword)
	if len(raw) > 0 {
		out.Extra = raw
	}

	*s = out
	return nil
}

// Validate checks the settings can be saved.
func (s Settings) Validate() error {
	if s.AdminPassword == "" {
		return fmt.Errorf("%w: %s is required", ErrInvalidSettings, keyAdminPassword)
	}
	seen := make(map[string]bool, len(s.VisaSteps))
	for _, step := range s.VisaSteps {
		if step == "" {
			return fmt.Errorf("%w: step names must not be empty", ErrInvalidSettings)
		}
		if seen[step] {
			return fmt.Errorf("%w: duplicate step %q", ErrInvalidSettings, step)
		}
		seen[step] = true
	}
	return nil
}
