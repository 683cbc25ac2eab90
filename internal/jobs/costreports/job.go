// Package costreports materializes dashboard aggregations of the daily cost
// table into one collection per report.
package costreports

import (
	"context"
	"errors"
	"iter"
	"slices"

	"cloud.google.com/go/bigquery"
	"github.com/smallbiznis/cloudcost/internal/batch"
	"github.com/smallbiznis/cloudcost/internal/docstore"
	"github.com/smallbiznis/cloudcost/internal/pipeline"
	"go.uber.org/zap"
)

const Name = "cost-reports"

type Job struct {
	env    batch.Env
	source Source
}

func New(env batch.Env, source Source) *Job {
	return &Job{env: env, source: source}
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

	scopes := make([]pipeline.Scope, 0, len(cfg.Reports))
	for _, name := range cfg.Reports {
		scopes = append(scopes, pipeline.Scope{ID: name, Kind: pipeline.ScopeReport})
	}

	report, err := j.env.Orchestrator.Run(ctx, pipeline.Definition{
		Name:       Name,
		Enumerator: pipeline.StaticScopes{Scopes: scopes},
		Fetcher:    j.fetcher(cfg),
		Enricher: pipeline.Enricher{Key: func(rec pipeline.RawRecord) (string, error) {
			r, _ := Lookup(rec.ScopeID)
			return r.Key(rec)
		}},
		Sink:       store,
		Collection: func(s pipeline.Scope) string { return cfg.Collection(s.ID) },
	})
	if err != nil {
		return report, err
	}

	return report, j.finish(ctx, cfg, store, report, log)
}

func (j *Job) fetcher(cfg Config) pipeline.Fetcher {
	return pipeline.FetcherFunc(func(ctx context.Context, scope pipeline.Scope) iter.Seq2[pipeline.RawRecord, error] {
		r, _ := Lookup(scope.ID)
		params := Params{Source: cfg.Source(), Days: cfg.DaysBack}
		if r.TopN {
			params.Days, params.Limit = cfg.TopDriversDays, cfg.TopDriversCount
		}
		return pipeline.Records(j.source.Rows(ctx, r, params), scope, func(row map[string]bigquery.Value) (pipeline.RawRecord, bool) {
			fields := make(map[string]any, len(row)+2)
			for k, v := range row {
				fields[k] = v
			}
			withSlugs(fields)
			return pipeline.RawRecord{Payload: fields}, true
		})
	})
}

// finish sweeps rows that dropped out of each successful report and writes
// the per-report metadata document. Sweep failures are returned after every
// report has been handled.
func (j *Job) finish(ctx context.Context, cfg Config, store docstore.Store, report *pipeline.Report, log *zap.Logger) error {
	failed := report.Stats.Snapshot().FailedScopes
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
	var errs error
	for _, name := range cfg.Reports {
		if slices.Contains(failed, name) {
			log.Warn("report failed, keeping previous rows", zap.String("report", name))
			continue
		}
		collection := cfg.Collection(name)
		current := report.Written(collection)
		if _, err := sweeper.Sweep(ctx, pipeline.Partition{Collection: collection}, current); err != nil {
			log.Error("sweep.failed", zap.String("collection", collection), zap.Error(err))
			errs = errors.Join(errs, err)
		}
		err := pipeline.WriteRunMetadata(ctx, store, j.env.Policy, pipeline.RunMetadata{
			Collection:  cfg.MetadataCollection,
			DocumentID:  name,
			Target:      collection,
			Environment: cfg.Environment,
			Stats:       report.Stats.Snapshot(),
			Extra: map[string]any{
				"report_name":    name,
				"document_count": len(current),
			},
		}, j.env.Now())
		if err != nil {
			log.Error("metadata.write_failed", zap.String("report", name), zap.Error(err))
		}
	}
	return errs
}
