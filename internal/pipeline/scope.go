package pipeline

type ScopeKind string

const (
	ScopeBillingAccount      ScopeKind = "billing_account"
	ScopeProject             ScopeKind = "project"
	ScopeRecommenderLocation ScopeKind = "recommender_location"
	ScopeReport              ScopeKind = "report"
	ScopeOrganization        ScopeKind = "organization"
	ScopeControlSource       ScopeKind = "control_source"
)

// Scope is one discovery unit. It is created by an Enumerator and never mutated.
type Scope struct {
	ID    string
	Kind  ScopeKind
	Attrs map[string]string
}

func (s Scope) Attr(key string) string {
	if s.Attrs == nil {
		return ""
	}
	return s.Attrs[key]
}

// Common scope attribute keys.
const (
	AttrProjectID       = "project_id"
	AttrProjectNumber   = "project_number"
	AttrLocation        = "location"
	AttrRecommenderType = "recommender_type"
	AttrDisplayName     = "display_name"
)

// RawRecord is one remote entity as fetched.
type RawRecord struct {
	NaturalKey string
	Payload    map[string]any
	ScopeID    string
}

func (r RawRecord) String(field string) string {
	v, _ := r.Payload[field].(string)
	return v
}

// EnrichedRecord is ready for the BatchWriter. Fields is owned by the writer once added.
type EnrichedRecord struct {
	DocumentID string
	Fields     map[string]any
	ScopeID    string
}
