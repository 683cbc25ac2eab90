// Package health mirrors active Service Health events of an organization and
// derives a status per monitored region.
package health

import (
	"context"
	"errors"
	"iter"
	"slices"
	"sync"
	"sync/atomic"

	"cloud.google.com/go/servicehealth/apiv1/servicehealthpb"
	"github.com/smallbiznis/cloudcost/internal/batch"
	"github.com/smallbiznis/cloudcost/internal/docstore"
	"github.com/smallbiznis/cloudcost/internal/pipeline"
	"go.uber.org/zap"
)

const Name = "health"

// Lister lists organization events.
type Lister interface {
	OrganizationEvents(ctx context.Context, parent, filter string) iter.Seq2[*servicehealthpb.OrganizationEvent, error]
}

type Job struct {
	env    batch.Env
	events Lister
}

func New(env batch.Env, events Lister) *Job {
	return &Job{env: env, events: events}
}

func (j *Job) Name() string { return Name }

func (j *Job) Run(ctx context.Context) (*pipeline.Report, error) {
	cfg, err := LoadConfig(j.env.Config)
	if err != nil {
		return nil, err
	}
	log := j.env.Logger(Name)
	store, err := j.env.Stores.Open(ctx, cfg.Database)
	if err != nil {
		return nil, pipeline.RemoteError("open database "+cfg.Database, 1, err)
	}
	cache := j.env.Enrichment(ctx, Name)

	var known map[string]struct{}
	attempts, err := j.env.Policy.Do(ctx, func(ctx context.Context) error {
		var err error
		known, err = store.DocumentIDs(ctx, cfg.EventsCollection)
		return err
	})
	if err != nil {
		return nil, pipeline.RemoteError("list "+cfg.EventsCollection, attempts, err)
	}

	tally := newRegionTally(cfg.Regions)
	fetch := &eventFetcher{job: j, cfg: cfg, known: known, tally: tally, log: log}
	report, err := j.env.Orchestrator.Run(ctx, pipeline.Definition{
		Name: Name,
		Enumerator: pipeline.StaticScopes{Scopes: []pipeline.Scope{{
			ID:   cfg.Parent(),
			Kind: pipeline.ScopeOrganization,
		}}},
		Fetcher:    fetch,
		Enricher:   pipeline.Enricher{Cache: cache, Key: pipeline.ProviderKey},
		Sink:       store,
		Collection: func(pipeline.Scope) string { return cfg.EventsCollection },
		Merge:      true,
	})
	if err != nil {
		return report, err
	}
	report.Stats.AddFiltered(fetch.dropped.Load())

	if !report.Complete() {
		log.Warn("event listing incomplete, keeping stored events and region status")
		return report, nil
	}
	if err := j.reconcile(ctx, cfg, store, report, tally, log); err != nil {
		return report, err
	}
	return report, nil
}

// reconcile removes events the API no longer reports, rewrites region status
// from the surviving events and drops status documents of regions that are
// no longer monitored. Sweep failures do not stop the remaining steps.
func (j *Job) reconcile(ctx context.Context, cfg Config, store docstore.Store, report *pipeline.Report, tally *regionTally, log *zap.Logger) error {
	sweeper := &pipeline.Sweeper{
		Store:     store,
		Policy:    j.env.Policy,
		BatchSize: j.env.Config.Pipeline.BatchSize,
		Job:       Name,
		Stats:     report.Stats,
		Metrics:   j.env.Metrics,
		Log:       log,
		Now:       j.env.Now,
	}

	monitored := make(map[string]struct{}, len(cfg.Regions))
	targets := make([]pipeline.StatusTarget, 0, len(cfg.Regions))
	for _, region := range cfg.Regions {
		monitored[region] = struct{}{}
		targets = append(targets, pipeline.StatusTarget{
			Collection: cfg.RegionsCollection,
			DocumentID: region,
			Fields:     map[string]any{"region": region},
			Match:      tally.affects(region),
		})
		log.Info("region.status", zap.String("region", region), zap.Int("event_count", tally.count(region)))
	}
	for region, n := range tally.unmonitored() {
		log.Warn("event affects unmonitored region", zap.String("region", region), zap.Int("events", n))
	}

	var errs error
	if _, err := sweeper.Sweep(ctx, pipeline.Partition{
		Collection: cfg.EventsCollection,
		Status:     targets,
	}, report.Written(cfg.EventsCollection)); err != nil {
		log.Error("sweep.failed", zap.String("collection", cfg.EventsCollection), zap.Error(err))
		errs = errors.Join(errs, err)
	}
	if _, err := sweeper.Sweep(ctx, pipeline.Partition{Collection: cfg.RegionsCollection}, monitored); err != nil {
		log.Error("sweep.failed", zap.String("collection", cfg.RegionsCollection), zap.Error(err))
		errs = errors.Join(errs, err)
	}
	return errs
}

type eventFetcher struct {
	job     *Job
	cfg     Config
	known   map[string]struct{}
	tally   *regionTally
	log     *zap.Logger
	dropped atomic.Int64
}

func (f *eventFetcher) Fetch(ctx context.Context, scope pipeline.Scope) iter.Seq2[pipeline.RawRecord, error] {
	return func(yield func(pipeline.RawRecord, error) bool) {
		now := f.job.env.Now()
		for e, err := range f.job.events.OrganizationEvents(ctx, scope.ID, f.cfg.Filter()) {
			if err != nil {
				yield(pipeline.RawRecord{}, err)
				return
			}
			ev := parseEvent(e)
			if !f.keep(ev) {
				f.dropped.Add(1)
				continue
			}
			f.tally.add(pipeline.LastSegment(e.GetName()), ev.affected())

			fields := ev.fields
			fields["collected_at"] = now
			fields["last_seen_at"] = now
			// Operator annotations are only initialized on first sight so
			// merges never reset them.
			if _, seen := f.known[pipeline.LastSegment(e.GetName())]; !seen {
				fields["ignore"] = false
				fields["comment"] = ""
			}
			if !yield(pipeline.RawRecord{NaturalKey: e.GetName(), Payload: fields, ScopeID: scope.ID}, nil) {
				return
			}
		}
	}
}

func (f *eventFetcher) keep(ev event) bool {
	if ev.closed() {
		f.log.Debug("skipping closed event", zap.Any("event_id", ev.fields["event_id"]), zap.String("state", ev.state))
		return false
	}
	if !ev.inRegions(f.cfg.Regions) {
		return false
	}
	if f.cfg.FilterByProduct && len(f.cfg.Products) > 0 && !ev.hasProduct(f.cfg.Products) {
		return false
	}
	return true
}

// regionTally records the affected regions of every kept event by document id.
type regionTally struct {
	mu        sync.Mutex
	monitored map[string]struct{}
	events    map[string][]string
}

func newRegionTally(regions []string) *regionTally {
	t := &regionTally{monitored: map[string]struct{}{}, events: map[string][]string{}}
	for _, r := range regions {
		t.monitored[r] = struct{}{}
	}
	return t
}

func (t *regionTally) add(id string, regions []string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.events[id] = regions
}

// affects matches the event ids that touch region.
func (t *regionTally) affects(region string) func(id string) bool {
	return func(id string) bool {
		t.mu.Lock()
		defer t.mu.Unlock()
		return slices.Contains(t.events[id], region)
	}
}

func (t *regionTally) count(region string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, regions := range t.events {
		if slices.Contains(regions, region) {
			n++
		}
	}
	return n
}

func (t *regionTally) unmonitored() map[string]int {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := map[string]int{}
	for _, regions := range t.events {
		for _, r := range regions {
			if _, ok := t.monitored[r]; !ok {
				out[r]++
			}
		}
	}
	return out
}
