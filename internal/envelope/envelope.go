package envelope

import (
	"fmt"
	"time"
)

// EntityRef identifies an external entity referenced by an envelope.
// Equality is component-wise; Platform is optional.
type EntityRef struct {
	RefType  string `json:"ref_type"`
	Platform string `json:"platform,omitempty"`
	Value    string `json:"value"`
}

// Key returns the stable "ref_type:platform:value" form used for
// entity-level deduplication in ranked queries.
func (r EntityRef) Key() string {
	return fmt.Sprintf("%s:%s:%s", r.RefType, r.Platform, r.Value)
}

// ContainedIn reports whether the ref appears in refs under component-wise
// equality.
func (r EntityRef) ContainedIn(refs []EntityRef) bool {
	for _, candidate := range refs {
		if candidate == r {
			return true
		}
	}
	return false
}

// SignalEnvelope is an observed input record.
//
// SignalID must be globally unique and non-empty; it is the idempotency key
// for ingestion. Timestamp may carry any zone and is canonicalized to UTC at
// every store boundary. Source is hierarchical and dot-separated
// (e.g. "route.worker").
type SignalEnvelope struct {
	SignalID      string
	Timestamp     time.Time
	Source        string
	PayloadType   string
	Payload       map[string]any
	EntityRefs    []EntityRef
	SchemaVersion string
}

// EmissionEnvelope is a downstream result record. CausedBy refers to the
// signal_id that produced it.
type EmissionEnvelope struct {
	EmissionID    string
	Timestamp     time.Time
	EmissionType  string
	Payload       map[string]any
	CausedBy      string
	EntityRefs    []EntityRef
	SchemaVersion string
}
