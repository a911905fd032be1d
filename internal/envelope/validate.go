package envelope

import "fmt"

// ValidationError reports a missing required envelope field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s %s", e.Field, e.Reason)
}

// Validate checks the fields every stored signal must carry. Timestamps and
// payloads are not validated here; the store canonicalizes timestamps and
// treats payloads as opaque.
func (s SignalEnvelope) Validate() error {
	if s.SignalID == "" {
		return &ValidationError{Field: "signal_id", Reason: "is required for stable IDs"}
	}
	if s.SchemaVersion == "" {
		return &ValidationError{Field: "schema_version", Reason: "is required"}
	}
	return nil
}

// Validate checks the fields every stored emission must carry.
func (e EmissionEnvelope) Validate() error {
	if e.EmissionID == "" {
		return &ValidationError{Field: "emission_id", Reason: "is required for stable IDs"}
	}
	if e.SchemaVersion == "" {
		return &ValidationError{Field: "schema_version", Reason: "is required"}
	}
	return nil
}
