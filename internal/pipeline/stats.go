package pipeline

import (
	"slices"
	"sync"
	"sync/atomic"
)

// RunStatistics aggregates outcomes across concurrent scopes.
type RunStatistics struct {
	scopesTotal         atomic.Int64
	scopesSucceeded     atomic.Int64
	scopesFailed        atomic.Int64
	recordsFetched      atomic.Int64
	recordsFiltered     atomic.Int64
	recordsEnriched     atomic.Int64
	recordsCommitted    atomic.Int64
	recordsFailed       atomic.Int64
	staleRecordsDeleted atomic.Int64
	joinMisses          atomic.Int64
	retries             atomic.Int64

	mu           sync.Mutex
	failedIDs    []string
	failedScopes []string
}

// StatsSnapshot is a point-in-time copy, safe to log and serialize.
type StatsSnapshot struct {
	ScopesTotal         int64    `json:"scopes_total"`
	ScopesSucceeded     int64    `json:"scopes_succeeded"`
	ScopesFailed        int64    `json:"scopes_failed"`
	RecordsFetched      int64    `json:"records_fetched"`
	RecordsFiltered     int64    `json:"records_filtered"`
	RecordsEnriched     int64    `json:"records_enriched"`
	RecordsCommitted    int64    `json:"records_committed"`
	RecordsFailed       int64    `json:"records_failed"`
	StaleRecordsDeleted int64    `json:"stale_records_deleted"`
	JoinMisses          int64    `json:"join_misses"`
	Retries             int64    `json:"retries"`
	FailedIDs           []string `json:"failed_ids,omitempty"`
	FailedScopes        []string `json:"failed_scopes,omitempty"`
}

func NewRunStatistics() *RunStatistics {
	return &RunStatistics{}
}

func (s *RunStatistics) SetScopesTotal(n int) { s.scopesTotal.Store(int64(n)) }
func (s *RunStatistics) AddFetched(n int64)   { s.recordsFetched.Add(n) }
func (s *RunStatistics) AddFiltered(n int64)  { s.recordsFiltered.Add(n) }
func (s *RunStatistics) AddEnriched(n int64)  { s.recordsEnriched.Add(n) }
func (s *RunStatistics) AddCommitted(n int64) { s.recordsCommitted.Add(n) }
func (s *RunStatistics) AddJoinMiss(n int64)  { s.joinMisses.Add(n) }
func (s *RunStatistics) AddRetries(n int64)   { s.retries.Add(n) }
func (s *RunStatistics) AddDeleted(n int64)   { s.staleRecordsDeleted.Add(n) }

// AddFailed records document ids that could not be committed.
func (s *RunStatistics) AddFailed(ids ...string) {
	if len(ids) == 0 {
		return
	}
	s.recordsFailed.Add(int64(len(ids)))
	s.mu.Lock()
	s.failedIDs = append(s.failedIDs, ids...)
	s.mu.Unlock()
}

func (s *RunStatistics) ScopeSucceeded() { s.scopesSucceeded.Add(1) }

func (s *RunStatistics) ScopeFailed(scopeID string) {
	s.scopesFailed.Add(1)
	s.mu.Lock()
	s.failedScopes = append(s.failedScopes, scopeID)
	s.mu.Unlock()
}

func (s *RunStatistics) ScopesSucceeded() int64 { return s.scopesSucceeded.Load() }
func (s *RunStatistics) ScopesFailed() int64    { return s.scopesFailed.Load() }
func (s *RunStatistics) RecordsFailed() int64   { return s.recordsFailed.Load() }
func (s *RunStatistics) RecordsCommitted() int64 {
	return s.recordsCommitted.Load()
}

// Success is true iff at least one scope succeeded and no record failed.
func (s *RunStatistics) Success() bool {
	return s.scopesSucceeded.Load() > 0 && s.recordsFailed.Load() == 0
}

// ExitCode maps Success onto a process exit status.
func (s *RunStatistics) ExitCode() int {
	if s.Success() {
		return 0
	}
	return 1
}

func (s *RunStatistics) Snapshot() StatsSnapshot {
	s.mu.Lock()
	failedIDs := slices.Clone(s.failedIDs)
	failedScopes := slices.Clone(s.failedScopes)
	s.mu.Unlock()
	slices.Sort(failedIDs)
	slices.Sort(failedScopes)

	return StatsSnapshot{
		ScopesTotal:         s.scopesTotal.Load(),
		ScopesSucceeded:     s.scopesSucceeded.Load(),
		ScopesFailed:        s.scopesFailed.Load(),
		RecordsFetched:      s.recordsFetched.Load(),
		RecordsFiltered:     s.recordsFiltered.Load(),
		RecordsEnriched:     s.recordsEnriched.Load(),
		RecordsCommitted:    s.recordsCommitted.Load(),
		RecordsFailed:       s.recordsFailed.Load(),
		StaleRecordsDeleted: s.staleRecordsDeleted.Load(),
		JoinMisses:          s.joinMisses.Load(),
		Retries:             s.retries.Load(),
		FailedIDs:           failedIDs,
		FailedScopes:        failedScopes,
	}
}

// Map renders the counters as document fields for run metadata.
func (s StatsSnapshot) Map() map[string]any {
	return map[string]any{
		"scopes_total":          s.ScopesTotal,
		"scopes_succeeded":      s.ScopesSucceeded,
		"scopes_failed":         s.ScopesFailed,
		"records_fetched":       s.RecordsFetched,
		"records_filtered":      s.RecordsFiltered,
		"records_enriched":      s.RecordsEnriched,
		"records_committed":     s.RecordsCommitted,
		"records_failed":        s.RecordsFailed,
		"stale_records_deleted": s.StaleRecordsDeleted,
		"join_misses":           s.JoinMisses,
	}
}
