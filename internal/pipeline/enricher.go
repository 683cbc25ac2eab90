package pipeline

import "maps"

// Lookup is the read side of EnrichmentCache.
type Lookup interface {
	Lookup(projectID string) (map[string]any, bool)
}

// JoinOutcome describes what enrichment found for one record.
type JoinOutcome int

const (
	// JoinSkipped means the record carries no project id.
	JoinSkipped JoinOutcome = iota
	JoinMatched
	JoinMiss
)

// Enricher merges fetched payloads with project metadata and derives the
// document id. It performs no I/O.
type Enricher struct {
	Cache        Lookup
	ProjectField string
	Key          KeyFunc
}

// Enrich returns a new record; rec.Payload is not modified.
func (e Enricher) Enrich(rec RawRecord) (EnrichedRecord, JoinOutcome, error) {
	key := e.Key
	if key == nil {
		key = NaturalKey
	}
	id, err := key(rec)
	if err != nil {
		return EnrichedRecord{}, JoinSkipped, err
	}

	fields := make(map[string]any, len(rec.Payload)+2)
	maps.Copy(fields, rec.Payload)
	outcome := ApplyEnrichment(e.Cache, e.projectID(rec), fields)

	return EnrichedRecord{DocumentID: id, Fields: fields, ScopeID: rec.ScopeID}, outcome, nil
}

func (e Enricher) projectID(rec RawRecord) string {
	field := e.ProjectField
	if field == "" {
		field = "project_id"
	}
	id, _ := rec.Payload[field].(string)
	return id
}

// ApplyEnrichment copies the matched entry into dst. On a miss dst is left untouched.
func ApplyEnrichment(cache Lookup, projectID string, dst map[string]any) JoinOutcome {
	if cache == nil || projectID == "" {
		return JoinSkipped
	}
	entry, ok := cache.Lookup(projectID)
	if !ok {
		return JoinMiss
	}
	maps.Copy(dst, entry)
	return JoinMatched
}
