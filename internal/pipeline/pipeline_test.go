package pipeline

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/smallbiznis/cloudcost/internal/docstore"
	"github.com/smallbiznis/cloudcost/internal/retry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func instantPolicy() retry.Policy {
	p := retry.Default()
	p.Sleep = func(context.Context, time.Duration) error { return nil }
	p.Jitter = func(time.Duration) time.Duration { return 0 }
	return p
}

// sliceFetcher serves fixed records per scope id.
type sliceFetcher map[string][]RawRecord

func (f sliceFetcher) Fetch(_ context.Context, scope Scope) iter.Seq2[RawRecord, error] {
	return func(yield func(RawRecord, error) bool) {
		for _, rec := range f[scope.ID] {
			if !yield(rec, nil) {
				return
			}
		}
	}
}

func costRecord(scope, project, service string) RawRecord {
	return RawRecord{
		ScopeID: scope,
		Payload: map[string]any{
			"billing_account_id": scope,
			"date":               "2025-10-29",
			"project_id":         project,
			"service":            service,
			"cost":               12.5,
		},
	}
}

func TestCostDocumentIDIsDeterministic(t *testing.T) {
	want := "012345_2025_10_29_proj_a_Compute_Engine"
	for i := 0; i < 3; i++ {
		if got := CostDocumentID("012345", "2025-10-29", "proj-a", "Compute Engine"); got != want {
			t.Fatalf("expected %q, got %q", want, got)
		}
	}

	id, err := CostKey(costRecord("012345", "proj-a", "Compute Engine"))
	require.NoError(t, err)
	assert.Equal(t, "012345_2025_10_29_proj_a_Compute_Engine", id)
}

func TestKeyFuncs(t *testing.T) {
	id, err := InvoiceKey(RawRecord{Payload: map[string]any{"billing_account_id": "01AB-CD", "invoice_month": "2025-09"}})
	require.NoError(t, err)
	assert.Equal(t, "01AB-CD-2025-09", id)

	id, err = ProviderKey(RawRecord{NaturalKey: "billingAccounts/01AB/anomalies/an-42"})
	require.NoError(t, err)
	assert.Equal(t, "an-42", id)

	_, err = ProviderKey(RawRecord{ScopeID: "s"})
	assert.ErrorIs(t, err, ErrMalformedRecord)

	long := NormalizeID(strings.Repeat("x", 2000))
	assert.Len(t, long, 1500)
}

func TestEnrichJoin(t *testing.T) {
	cache := NewEnrichmentCache(docstore.NewMemory(), EnrichmentCacheConfig{Collection: "projects"}, nil)
	cache.Set(NewEnrichmentSnapshot(map[string]map[string]any{
		"proj-a": {"appcode": "APP001", "lob": "Eng"},
	}))
	enricher := Enricher{Cache: cache, Key: CostKey}

	hit, outcome, err := enricher.Enrich(costRecord("acct", "proj-a", "BigQuery"))
	require.NoError(t, err)
	assert.Equal(t, JoinMatched, outcome)
	assert.Equal(t, "APP001", hit.Fields["appcode"])
	assert.Equal(t, "Eng", hit.Fields["lob"])

	miss, outcome, err := enricher.Enrich(costRecord("acct", "proj-missing", "BigQuery"))
	require.NoError(t, err)
	assert.Equal(t, JoinMiss, outcome)
	assert.NotContains(t, miss.Fields, "appcode")
	assert.NotContains(t, miss.Fields, "lob")

	_, outcome, err = enricher.Enrich(costRecord("acct", "", "Support"))
	require.NoError(t, err)
	assert.Equal(t, JoinSkipped, outcome)
}

func TestOrchestratorCountsJoinMissOnce(t *testing.T) {
	store := docstore.NewMemory()
	cache := NewEnrichmentCache(store, EnrichmentCacheConfig{Collection: "projects"}, nil)
	cache.Set(NewEnrichmentSnapshot(map[string]map[string]any{"proj-a": {"appcode": "APP001", "lob": "Eng"}}))

	o := &Orchestrator{Policy: instantPolicy()}
	report, err := o.Run(context.Background(), Definition{
		Name:       "costs",
		Enumerator: StaticScopes{Scopes: []Scope{{ID: "acct"}}},
		Fetcher: sliceFetcher{"acct": {
			costRecord("acct", "proj-a", "BigQuery"),
			costRecord("acct", "proj-missing", "BigQuery"),
		}},
		Enricher:   Enricher{Cache: cache, Key: CostKey},
		Sink:       store,
		Collection: func(Scope) string { return "daily_costs" },
	})
	require.NoError(t, err)

	snap := report.Stats.Snapshot()
	assert.Equal(t, int64(1), snap.JoinMisses)
	assert.Equal(t, int64(1), snap.RecordsEnriched)
	assert.Equal(t, int64(2), snap.RecordsCommitted)
	assert.Equal(t, 0, report.ExitCode())
}

func TestRejectedRecordIsIdentifiedInReplaySet(t *testing.T) {
	undated := costRecord("acct", "proj-a", "BigQuery")
	delete(undated.Payload, "date")

	o := &Orchestrator{Policy: instantPolicy()}
	report, err := o.Run(context.Background(), Definition{
		Name:       "costs",
		Enumerator: StaticScopes{Scopes: []Scope{{ID: "acct"}}},
		Fetcher: sliceFetcher{"acct": {
			undated,
			{ScopeID: "acct", NaturalKey: "billingAccounts/acct/anomalies/a1", Payload: map[string]any{}},
		}},
		Enricher:   Enricher{Key: CostKey},
		Sink:       docstore.NewMemory(),
		Collection: func(Scope) string { return "daily_costs" },
	})
	require.NoError(t, err)

	failures := report.Failures()
	require.Len(t, failures, 2)
	assert.Equal(t, "acct#billing_account_id=acct,project_id=proj-a,service=BigQuery", failures[0].DocumentID)
	assert.Equal(t, "acct#billingAccounts/acct/anomalies/a1", failures[1].DocumentID)
	assert.EqualValues(t, 2, report.Stats.RecordsFailed())
}

func TestBatchWriterCeiling(t *testing.T) {
	store := docstore.NewMemory()
	w := NewBatchWriter(store, WriterOptions{Collection: "c", BatchSize: 500, Policy: instantPolicy()})

	ctx := context.Background()
	for i := 0; i < 1301; i++ {
		require.NoError(t, w.Add(ctx, EnrichedRecord{DocumentID: fmt.Sprintf("doc-%04d", i), Fields: map[string]any{"i": i}}))
	}
	_, err := w.Flush(ctx)
	require.NoError(t, err)

	commits := store.Commits()
	require.Len(t, commits, 3)
	assert.Len(t, commits[0], 500)
	assert.Len(t, commits[1], 500)
	assert.Len(t, commits[2], 301)
	assert.Equal(t, 1301, store.Len("c"))
	assert.Equal(t, BatchCommitted, w.State())
}

func TestBatchWriterMergesDuplicateIDsInBuffer(t *testing.T) {
	store := docstore.NewMemory()
	w := NewBatchWriter(store, WriterOptions{Collection: "c", Merge: true, Policy: instantPolicy()})
	ctx := context.Background()

	require.NoError(t, w.Add(ctx, EnrichedRecord{DocumentID: "x", Fields: map[string]any{"a": 1, "b": 1}}))
	require.NoError(t, w.Add(ctx, EnrichedRecord{DocumentID: "x", Fields: map[string]any{"b": 2}}))
	assert.Equal(t, 1, w.Pending())

	_, err := w.Flush(ctx)
	require.NoError(t, err)
	doc, err := store.Get(ctx, "c", "x")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"a": 1, "b": 2}, doc.Data)
}

func TestBatchWriterPartialFailure(t *testing.T) {
	store := docstore.NewMemory()
	store.CommitHook = func([]docstore.Write) error { return status.Error(codes.Unavailable, "down") }
	stats := NewRunStatistics()
	w := NewBatchWriter(store, WriterOptions{Collection: "c", Policy: instantPolicy(), Stats: stats})

	ctx := context.Background()
	require.NoError(t, w.Add(ctx, EnrichedRecord{DocumentID: "a", Fields: map[string]any{}}))
	require.NoError(t, w.Add(ctx, EnrichedRecord{DocumentID: "b", Fields: map[string]any{}}))

	result, err := w.Flush(ctx)
	var partial *PartialWriteFailure
	require.ErrorAs(t, err, &partial)
	assert.Equal(t, []string{"a", "b"}, partial.DocumentIDs)
	assert.Equal(t, 3, partial.Attempts)
	assert.Equal(t, BatchPartiallyFailed, result.State)
	assert.Equal(t, 2, result.RetryCount)
	assert.Len(t, store.Commits(), 3)
	assert.Empty(t, w.Committed())
	assert.Equal(t, int64(2), stats.RecordsFailed())
}

func TestPaginateRetriesTransientPageExactlyThreeTimes(t *testing.T) {
	var waits []time.Duration
	policy := retry.Default()
	policy.Sleep = func(_ context.Context, d time.Duration) error {
		waits = append(waits, d)
		return nil
	}

	calls := 0
	seq := Paginate(context.Background(), "list anomalies", policy, func(context.Context, string) ([]int, string, error) {
		calls++
		return nil, "", status.Error(codes.ResourceExhausted, "quota")
	})

	var got []error
	for _, err := range seq {
		got = append(got, err)
	}
	require.Len(t, got, 1)
	assert.Equal(t, 3, calls)

	var transient *TransientRemoteError
	require.ErrorAs(t, got[0], &transient)
	assert.Equal(t, 3, transient.Attempts)
	assert.Equal(t, ErrorClassTransientRemote, ErrorClass(got[0]))

	require.Len(t, waits, 2)
	assert.GreaterOrEqual(t, waits[1], waits[0])
}

func TestPaginateResumesFromFailedPage(t *testing.T) {
	pages := map[string][]string{"": {"a", "b"}, "p2": {"c"}}
	next := map[string]string{"": "p2", "p2": ""}
	failedOnce := false
	var tokens []string

	seq := Paginate(context.Background(), "list", instantPolicy(), func(_ context.Context, token string) ([]string, string, error) {
		tokens = append(tokens, token)
		if token == "p2" && !failedOnce {
			failedOnce = true
			return nil, "", status.Error(codes.Unavailable, "blip")
		}
		return pages[token], next[token], nil
	})

	var items []string
	for item, err := range seq {
		require.NoError(t, err)
		items = append(items, item)
	}
	assert.Equal(t, []string{"a", "b", "c"}, items)
	assert.Equal(t, []string{"", "p2", "p2"}, tokens)
}

func TestPaginatePermanentErrorIsNotRetried(t *testing.T) {
	calls := 0
	seq := Paginate(context.Background(), "list", instantPolicy(), func(context.Context, string) ([]int, string, error) {
		calls++
		return nil, "", status.Error(codes.PermissionDenied, "denied")
	})
	for _, err := range seq {
		var permanent *PermanentRemoteError
		require.ErrorAs(t, err, &permanent)
	}
	assert.Equal(t, 1, calls)
}

func TestPartialFailureIsolation(t *testing.T) {
	for _, workers := range []int{1, 3} {
		t.Run(fmt.Sprintf("workers=%d", workers), func(t *testing.T) {
			store := docstore.NewMemory()
			store.CommitHook = func(writes []docstore.Write) error {
				for _, w := range writes {
					if strings.HasPrefix(w.DocumentID, "B_") {
						return status.Error(codes.DeadlineExceeded, "commit deadline")
					}
				}
				return nil
			}

			visited := sync.Map{}
			fetch := FetcherFunc(func(ctx context.Context, scope Scope) iter.Seq2[RawRecord, error] {
				visited.Store(scope.ID, true)
				return sliceFetcher{
					scope.ID: {costRecord(scope.ID, "p1", "svc"), costRecord(scope.ID, "p2", "svc")},
				}.Fetch(ctx, scope)
			})

			o := &Orchestrator{Workers: workers, Policy: instantPolicy()}
			report, err := o.Run(context.Background(), Definition{
				Name:       "costs",
				Enumerator: StaticScopes{Scopes: []Scope{{ID: "A"}, {ID: "B"}, {ID: "C"}}},
				Fetcher:    fetch,
				Enricher:   Enricher{Key: CostKey},
				Sink:       store,
				Collection: func(Scope) string { return "daily_costs" },
			})
			require.NoError(t, err)

			snap := report.Stats.Snapshot()
			assert.Equal(t, int64(2), snap.ScopesSucceeded)
			assert.Equal(t, []string{"B"}, snap.FailedScopes)
			assert.Equal(t, []string{"B_2025_10_29_p1_svc", "B_2025_10_29_p2_svc"}, snap.FailedIDs)
			assert.Equal(t, int64(4), snap.RecordsCommitted)
			assert.Equal(t, 1, report.ExitCode())

			_, visitedC := visited.Load("C")
			assert.True(t, visitedC)
			docs := store.Snapshot("daily_costs")
			assert.Contains(t, docs, "A_2025_10_29_p1_svc")
			assert.Contains(t, docs, "C_2025_10_29_p2_svc")
			assert.NotContains(t, docs, "B_2025_10_29_p1_svc")
			assert.Contains(t, report.Written("daily_costs"), "B_2025_10_29_p1_svc")
		})
	}
}

func TestRunIsIdempotent(t *testing.T) {
	store := docstore.NewMemory()
	def := Definition{
		Name:       "costs",
		Enumerator: StaticScopes{Scopes: []Scope{{ID: "acct-1"}, {ID: "acct-2"}}},
		Fetcher: sliceFetcher{
			"acct-1": {costRecord("acct-1", "proj-a", "Compute Engine"), costRecord("acct-1", "proj-b", "BigQuery")},
			"acct-2": {costRecord("acct-2", "proj-a", "Cloud Storage")},
		},
		Enricher:   Enricher{Key: CostKey},
		Sink:       store,
		Collection: func(Scope) string { return "daily_costs" },
		Merge:      true,
	}
	o := &Orchestrator{Workers: 2, Policy: instantPolicy()}

	_, err := o.Run(context.Background(), def)
	require.NoError(t, err)
	first := store.Snapshot("daily_costs")

	_, err = o.Run(context.Background(), def)
	require.NoError(t, err)
	second := store.Snapshot("daily_costs")

	assert.Len(t, first, 3)
	assert.Equal(t, first, second)
}

func TestRunZeroScopesIsFailure(t *testing.T) {
	o := &Orchestrator{Policy: instantPolicy()}
	report, err := o.Run(context.Background(), Definition{
		Name:       "anomalies",
		Enumerator: StaticScopes{},
		Fetcher:    sliceFetcher{},
		Sink:       docstore.NewMemory(),
	})
	require.NoError(t, err)
	assert.Equal(t, 1, report.ExitCode())
}

func TestRunReturnsConfigurationError(t *testing.T) {
	o := &Orchestrator{Policy: instantPolicy()}
	_, err := o.Run(context.Background(), Definition{
		Name:       "recommendations",
		Enumerator: SingleProject{},
		Fetcher:    sliceFetcher{},
		Sink:       docstore.NewMemory(),
	})
	assert.True(t, IsConfigurationError(err))
}

func TestSweepDeletesStaleAndRecomputesStatus(t *testing.T) {
	ctx := context.Background()
	store := docstore.NewMemory()
	for _, id := range []string{"A", "B", "C", "Z"} {
		require.NoError(t, store.Set(ctx, "events", id, map[string]any{"event_id": id}, false))
	}

	now := time.Date(2025, 10, 29, 0, 0, 0, 0, time.UTC)
	stats := NewRunStatistics()
	s := &Sweeper{Store: store, Policy: instantPolicy(), Stats: stats, Now: func() time.Time { return now }}

	inP := func(id string) bool { return id != "Z" }
	partition := Partition{
		Collection: "events",
		Status: []StatusTarget{
			{Collection: "status", DocumentID: "P", Fields: map[string]any{"region": "P"}, Match: inP},
			{Collection: "status", DocumentID: "all"},
		},
	}
	result, err := s.Sweep(ctx, partition, map[string]struct{}{"A": {}, "C": {}, "Z": {}})
	require.NoError(t, err)
	assert.Equal(t, []string{"B"}, result.Deleted)
	assert.Equal(t, 3, result.Remaining)
	assert.Equal(t, int64(1), stats.Snapshot().StaleRecordsDeleted)

	ids, err := store.DocumentIDs(ctx, "events")
	require.NoError(t, err)
	assert.Equal(t, map[string]struct{}{"A": {}, "C": {}, "Z": {}}, ids)

	statusDoc, err := store.Get(ctx, "status", "P")
	require.NoError(t, err)
	assert.Equal(t, StatusUnhealthy, statusDoc.Data["status"])
	assert.Equal(t, 2, statusDoc.Data["event_count"])
	assert.Equal(t, "P", statusDoc.Data["region"])
	allDoc, err := store.Get(ctx, "status", "all")
	require.NoError(t, err)
	assert.Equal(t, 3, allDoc.Data["event_count"])

	_, err = s.Sweep(ctx, partition, map[string]struct{}{"Z": {}})
	require.NoError(t, err)
	statusDoc, err = store.Get(ctx, "status", "P")
	require.NoError(t, err)
	assert.Equal(t, StatusHealthy, statusDoc.Data["status"])
	assert.Equal(t, 0, statusDoc.Data["event_count"])
}

func TestSweepCountsFailedDeletes(t *testing.T) {
	ctx := context.Background()
	store := docstore.NewMemory()
	for _, id := range []string{"A", "B"} {
		require.NoError(t, store.Set(ctx, "rows", id, map[string]any{"id": id}, false))
	}
	store.CommitHook = func([]docstore.Write) error { return status.Error(codes.Unavailable, "down") }

	stats := NewRunStatistics()
	stats.ScopeSucceeded()
	s := &Sweeper{Store: store, Policy: instantPolicy(), Stats: stats}
	result, err := s.Sweep(ctx, Partition{Collection: "rows"}, map[string]struct{}{"A": {}})
	require.Error(t, err)
	assert.Empty(t, result.Deleted)
	assert.Equal(t, 2, result.Remaining)

	snap := stats.Snapshot()
	assert.EqualValues(t, 1, snap.RecordsFailed)
	assert.Equal(t, []string{"B"}, snap.FailedIDs)
	assert.EqualValues(t, 0, snap.RecordsCommitted)
	assert.Equal(t, 1, stats.ExitCode())
	assert.Equal(t, 2, store.Len("rows"))
}

func TestEnrichmentCacheReloadSwapsAtomically(t *testing.T) {
	ctx := context.Background()
	store := docstore.NewMemory()
	require.NoError(t, store.Set(ctx, "projects", "1", map[string]any{"project_id": "proj-a", "appcode": "APP001", "lob": "Eng", "owner": "x"}, false))
	require.NoError(t, store.Set(ctx, "projects", "2", map[string]any{"project_id": "proj-b"}, false))

	cache := NewEnrichmentCache(store, EnrichmentCacheConfig{Collection: "projects", Fields: []string{"appcode", "lob"}}, nil)
	n, err := cache.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	entry, ok := cache.Lookup("proj-a")
	require.True(t, ok)
	assert.NotContains(t, entry, "owner")

	held := cache.Snapshot()
	require.NoError(t, store.Set(ctx, "projects", "2", map[string]any{"project_id": "proj-b", "appcode": "APP002"}, false))

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				if _, ok := cache.Lookup("proj-a"); !ok {
					t.Errorf("proj-a vanished during reload")
					return
				}
			}
		}()
	}
	n, err = cache.Reload(ctx)
	wg.Wait()
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, ok = held.Lookup("proj-b")
	assert.False(t, ok, "held snapshot must not change")
	_, ok = cache.Lookup("proj-b")
	assert.True(t, ok)

	n, err = cache.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

type fakeAccounts struct {
	accounts []BillingAccount
	err      error
}

func (f fakeAccounts) BillingAccounts(context.Context) iter.Seq2[BillingAccount, error] {
	return func(yield func(BillingAccount, error) bool) {
		for _, a := range f.accounts {
			if !yield(a, nil) {
				return
			}
		}
		if f.err != nil {
			yield(BillingAccount{}, f.err)
		}
	}
}

func TestBillingAccountsEnumerator(t *testing.T) {
	lister := fakeAccounts{accounts: []BillingAccount{
		{ID: "AAA", Open: true},
		{ID: "BBB", Open: true},
		{ID: "CCC", Open: false},
	}}

	scopes, err := BillingAccounts{Lister: lister}.Enumerate(context.Background())
	require.NoError(t, err)
	assert.Len(t, scopes, 2)

	scopes, err = BillingAccounts{Lister: lister, AllowList: []string{"billingAccounts/BBB", "ZZZ"}}.Enumerate(context.Background())
	require.NoError(t, err)
	require.Len(t, scopes, 1)
	assert.Equal(t, "BBB", scopes[0].ID)

	_, err = BillingAccounts{Lister: lister, AllowList: []string{"ZZZ"}}.Enumerate(context.Background())
	assert.True(t, IsConfigurationError(err))

	failing := fakeAccounts{err: status.Error(codes.PermissionDenied, "no list")}
	scopes, err = BillingAccounts{Lister: failing, AllowList: []string{"XYZ"}}.Enumerate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "XYZ", scopes[0].ID)

	_, err = BillingAccounts{Lister: failing}.Enumerate(context.Background())
	assert.False(t, IsConfigurationError(err))
	assert.Error(t, err)
}

type fakeProjects map[string][]Project

func (f fakeProjects) Projects(_ context.Context, parent string) iter.Seq2[Project, error] {
	return func(yield func(Project, error) bool) {
		projects, ok := f[parent]
		if !ok {
			yield(Project{}, errors.New("parent not readable"))
			return
		}
		for _, p := range projects {
			if !yield(p, nil) {
				return
			}
		}
	}
}

func TestProjectEnumerators(t *testing.T) {
	lister := fakeProjects{
		"folders/1": {{ID: "a", Number: "11", State: "ACTIVE"}, {ID: "b", State: "DELETE_REQUESTED"}},
		"folders/2": {{ID: "a", State: "ACTIVE"}, {ID: "c", State: "ACTIVE"}},
	}

	scopes, err := FolderProjects{Lister: lister, FolderIDs: []string{"1", "folders/2", "3"}}.Enumerate(context.Background())
	require.NoError(t, err)
	require.Len(t, scopes, 2)
	assert.Equal(t, "a", scopes[0].ID)
	assert.Equal(t, "11", scopes[0].Attr(AttrProjectNumber))

	scopes, err = OrganizationProjects{Lister: lister, OrganizationID: "9", Fallback: "home"}.Enumerate(context.Background())
	require.NoError(t, err)
	require.Len(t, scopes, 1)
	assert.Equal(t, "home", scopes[0].ID)

	cross, err := CrossProduct{
		Base:      StaticScopes{Scopes: []Scope{{ID: "a", Kind: ScopeProject}}},
		Types:     []string{"t1", "t2"},
		Locations: []string{"global", "us-central1", "asia-south1"},
	}.Enumerate(context.Background())
	require.NoError(t, err)
	assert.Len(t, cross, 6)
	assert.Equal(t, ScopeRecommenderLocation, cross[0].Kind)
	assert.Equal(t, "a", cross[0].Attr(AttrProjectID))
}

func TestInventoryProjects(t *testing.T) {
	ctx := context.Background()
	store := docstore.NewMemory()
	require.NoError(t, store.Set(ctx, "projects", "x", map[string]any{"project_id": "a", "project_number": "101"}, false))
	require.NoError(t, store.Set(ctx, "projects", "y", map[string]any{"project_id": "b", "state": "DELETE_REQUESTED"}, false))
	require.NoError(t, store.Set(ctx, "projects", "z", map[string]any{"name": "no id"}, false))

	scopes, err := InventoryProjects{Store: store, Collection: "projects"}.Enumerate(ctx)
	require.NoError(t, err)
	require.Len(t, scopes, 1)
	assert.Equal(t, "101", scopes[0].Attr(AttrProjectNumber))
}

func TestFilterFetcherCountsDropped(t *testing.T) {
	inner := sliceFetcher{"s": {
		{NaturalKey: "a", Payload: map[string]any{"keep": true}},
		{NaturalKey: "b", Payload: map[string]any{"keep": false}},
		{NaturalKey: "c", Payload: map[string]any{"keep": true}},
	}}
	f := FilterFetcher(inner, func(r RawRecord) bool { return r.Payload["keep"] == true })

	var keys []string
	for rec, err := range f.Fetch(context.Background(), Scope{ID: "s"}) {
		require.NoError(t, err)
		keys = append(keys, rec.NaturalKey)
	}
	assert.Equal(t, []string{"a", "c"}, keys)
	assert.Equal(t, int64(1), f.Dropped())
}
