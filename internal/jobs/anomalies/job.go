// Package anomalies collects billing cost anomalies above an impact threshold.
package anomalies

import (
	"context"
	"iter"
	"math"
	"slices"
	"sync"
	"time"

	"github.com/smallbiznis/cloudcost/internal/batch"
	"github.com/smallbiznis/cloudcost/internal/currency"
	"github.com/smallbiznis/cloudcost/internal/gcp"
	"github.com/smallbiznis/cloudcost/internal/pipeline"
	"go.uber.org/zap"
)

const Name = "anomalies"

// Lister lists the anomalies of one billing account.
type Lister interface {
	Anomalies(ctx context.Context, account string, since time.Time) iter.Seq2[gcp.Anomaly, error]
}

type Job struct {
	env       batch.Env
	accounts  pipeline.BillingAccountLister
	anomalies Lister
	rates     *currency.Holder
}

func New(env batch.Env, accounts pipeline.BillingAccountLister, anomalies Lister, rates *currency.Holder) *Job {
	if rates == nil {
		rates = currency.NewStaticHolder(currency.Default())
	}
	return &Job{env: env, accounts: accounts, anomalies: anomalies, rates: rates}
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

	now := j.env.Now()
	since := now.AddDate(0, 0, -cfg.DaysBack)
	tally := newBreakdown(cache, cfg.EnrichmentFields)
	filter := pipeline.FilterFetcher(j.fetcher(since, now), func(rec pipeline.RawRecord) bool {
		if !j.keep(cfg, rec) {
			return false
		}
		tally.add(rec)
		return true
	})

	report, err := j.env.Orchestrator.Run(ctx, pipeline.Definition{
		Name: Name,
		Enumerator: pipeline.BillingAccounts{
			Lister:    j.accounts,
			AllowList: cfg.AccountIDs,
			Log:       log,
		},
		Fetcher:    filter,
		Enricher:   pipeline.Enricher{Cache: cache, Key: pipeline.ProviderKey},
		Sink:       store,
		Collection: func(pipeline.Scope) string { return cfg.Collection },
		Merge:      true,
	})
	if err != nil {
		return report, err
	}
	report.Stats.AddFiltered(filter.Dropped())
	log.Info("anomalies filtered",
		zap.Int64("dropped", filter.Dropped()),
		zap.Float64("min_impact_usd", cfg.MinImpactUSD),
		zap.Strings("types", cfg.Types),
	)

	extra := tally.fields()
	extra["anomaly_count"] = report.Stats.RecordsCommitted()
	extra["enrichment_fields"] = cfg.EnrichmentFields
	err = pipeline.WriteRunMetadata(ctx, store, j.env.Policy, pipeline.RunMetadata{
		Collection:  cfg.MetaCollection,
		DocumentID:  "latest",
		Target:      cfg.Collection,
		Environment: cfg.Environment,
		Stats:       report.Stats.Snapshot(),
		Extra:       extra,
	}, j.env.Now())
	if err != nil {
		log.Error("metadata.write_failed", zap.Error(err))
	}
	return report, nil
}

func (j *Job) fetcher(since, now time.Time) pipeline.Fetcher {
	return pipeline.FetcherFunc(func(ctx context.Context, scope pipeline.Scope) iter.Seq2[pipeline.RawRecord, error] {
		return pipeline.Records(j.anomalies.Anomalies(ctx, scope.ID, since), scope, func(a gcp.Anomaly) (pipeline.RawRecord, bool) {
			fields := map[string]any{
				"anomaly_id":         pipeline.LastSegment(a.Name),
				"billing_account_id": scope.ID,
				"detection_time":     a.DetectionTime,
				"update_time":        a.UpdateTime,
				"project_id":         a.Scope.ProjectID,
				"service":            a.Scope.Service,
				"location":           a.Scope.Location,
				"cost_change":        a.CostImpact.CostChange,
				"percentage_change":  a.CostImpact.PercentageChange,
				"currency_code":      a.CostImpact.CurrencyCode,
				"cost_change_usd":    j.rates.ToUSD(a.CostImpact.CostChange, a.CostImpact.CurrencyCode),
				"period_start":       a.TimePeriod.StartTime,
				"period_end":         a.TimePeriod.EndTime,
				"severity":           a.Severity,
				"type":               a.Type,
				"description":        a.Description,
				"collected_at":       now,
			}
			return pipeline.RawRecord{NaturalKey: a.Name, Payload: fields}, true
		})
	})
}

// keep applies the USD impact threshold and the optional type allow-list.
// The threshold is signed, so cost drops never pass a positive minimum.
func (j *Job) keep(cfg Config, rec pipeline.RawRecord) bool {
	usd, _ := rec.Payload["cost_change_usd"].(float64)
	if usd < cfg.MinImpactUSD {
		return false
	}
	if len(cfg.Types) > 0 && !slices.Contains(cfg.Types, rec.String("type")) {
		return false
	}
	return true
}

// breakdown counts kept anomalies for the metadata document.
type breakdown struct {
	cache  pipeline.Lookup
	fields []string

	mu         sync.Mutex
	byProject  map[string]int
	byService  map[string]int
	byType     map[string]int
	bySeverity map[string]int
	impact     float64
	enriched   int
}

func newBreakdown(cache pipeline.Lookup, fields []string) *breakdown {
	return &breakdown{
		cache:      cache,
		fields:     fields,
		byProject:  map[string]int{},
		byService:  map[string]int{},
		byType:     map[string]int{},
		bySeverity: map[string]int{},
	}
}

func (b *breakdown) add(rec pipeline.RawRecord) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.byProject[orUnknown(rec.String("project_id"))]++
	b.byService[orUnknown(rec.String("service"))]++
	b.byType[orUnknown(rec.String("type"))]++
	b.bySeverity[orUnknown(rec.String("severity"))]++
	change, _ := rec.Payload["cost_change"].(float64)
	b.impact += math.Abs(change)
	if entry, ok := b.cache.Lookup(rec.String("project_id")); ok {
		for _, f := range b.fields {
			if entry[f] != nil {
				b.enriched++
				break
			}
		}
	}
}

func (b *breakdown) fields() map[string]any {
	b.mu.Lock()
	defer b.mu.Unlock()
	return map[string]any{
		"by_project":        counts(b.byProject),
		"by_service":        counts(b.byService),
		"by_type":           counts(b.byType),
		"by_severity":       counts(b.bySeverity),
		"total_cost_impact": b.impact,
		"enriched_count":    b.enriched,
	}
}

func counts(m map[string]int) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func orUnknown(s string) string {
	if s == "" {
		return "unknown"
	}
	return s
}
