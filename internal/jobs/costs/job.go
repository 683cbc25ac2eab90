// Package costs collects billing export costs per billing account into the
// daily cost collection.
package costs

import (
	"context"
	"iter"
	"time"

	"github.com/smallbiznis/cloudcost/internal/batch"
	"github.com/smallbiznis/cloudcost/internal/pipeline"
	"go.uber.org/zap"
)

const Name = "costs"

type Job struct {
	env      batch.Env
	accounts pipeline.BillingAccountLister
	source   Source
}

func New(env batch.Env, accounts pipeline.BillingAccountLister, source Source) *Job {
	return &Job{env: env, accounts: accounts, source: source}
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
	end := now.Format(time.DateOnly)
	start := now.AddDate(0, 0, -cfg.DaysBack).Format(time.DateOnly)
	log.Info("cost window",
		zap.String("start", start),
		zap.String("end", end),
		zap.String("aggregation_level", cfg.Level),
		zap.Bool("include_details", cfg.IncludeDetails),
	)

	return j.env.Orchestrator.Run(ctx, pipeline.Definition{
		Name: Name,
		Enumerator: pipeline.BillingAccounts{
			Lister:    j.accounts,
			AllowList: cfg.AccountIDs,
			Log:       log,
		},
		Fetcher:    j.fetcher(cfg, start, end, now),
		Enricher:   pipeline.Enricher{Cache: cache, Key: pipeline.CostKey},
		Sink:       store,
		Collection: func(pipeline.Scope) string { return cfg.Collection },
		Merge:      true,
	})
}

func (j *Job) fetcher(cfg Config, start, end string, now time.Time) pipeline.Fetcher {
	return pipeline.FetcherFunc(func(ctx context.Context, scope pipeline.Scope) iter.Seq2[pipeline.RawRecord, error] {
		rows := j.source.Rows(ctx, Query{
			Table:   cfg.Table(scope.ID),
			Level:   cfg.Level,
			Details: cfg.IncludeDetails,
			Start:   start,
			End:     end,
		})
		base := map[string]any{
			"billing_account_id": scope.ID,
			"aggregation_level":  cfg.Level,
			"collected_at":       now,
		}
		if name := scope.Attr(pipeline.AttrDisplayName); name != "" {
			base["billing_account_name"] = name
		}
		if cfg.nested() {
			return groupSKUs(rows, base, scope.ID)
		}
		return pipeline.Records(rows, scope, func(r Row) (pipeline.RawRecord, bool) {
			p := r.payload(base)
			p["usage_amount"] = r.UsageAmount.Float64
			p["usage_unit"] = r.UsageUnit.StringVal
			return pipeline.RawRecord{Payload: p}, true
		})
	})
}

func (r Row) payload(base map[string]any) map[string]any {
	p := make(map[string]any, len(base)+10)
	for k, v := range base {
		p[k] = v
	}
	p["date"] = r.Date
	p["project_id"] = r.ProjectID.StringVal
	p["project_name"] = r.ProjectName.StringVal
	p["service"] = r.Service.StringVal
	p["cost"] = r.Cost
	p["currency"] = r.Currency
	return p
}

func (r Row) group() [3]string {
	return [3]string{r.Date, r.ProjectID.StringVal, r.Service.StringVal}
}

// groupSKUs folds consecutive SKU rows of one (date, project, service) into a
// single record carrying the rows under skus. A row error discards the group
// being folded.
func groupSKUs(rows iter.Seq2[Row, error], base map[string]any, scopeID string) iter.Seq2[pipeline.RawRecord, error] {
	return func(yield func(pipeline.RawRecord, error) bool) {
		var (
			cur     map[string]any
			key     [3]string
			skus    []any
			units   map[string]struct{}
			usage   float64
			cost    float64
			started bool
		)
		emit := func() bool {
			if !started {
				return true
			}
			cur["cost"] = cost
			cur["usage_amount"] = usage
			cur["usage_unit"] = "mixed"
			if len(units) == 1 {
				for u := range units {
					cur["usage_unit"] = u
				}
			}
			cur["skus"] = skus
			return yield(pipeline.RawRecord{Payload: cur, ScopeID: scopeID}, nil)
		}

		for r, err := range rows {
			if err != nil {
				// The open group is incomplete; merging it would overwrite
				// the stored totals with an undercount.
				yield(pipeline.RawRecord{}, err)
				return
			}
			if !started || r.group() != key {
				if !emit() {
					return
				}
				started = true
				key = r.group()
				cur = r.payload(base)
				skus, units, usage, cost = nil, map[string]struct{}{}, 0, 0
			}
			cost += r.Cost
			usage += r.UsageAmount.Float64
			units[r.UsageUnit.StringVal] = struct{}{}
			skus = append(skus, map[string]any{
				"sku":          r.SKU.StringVal,
				"usage_unit":   r.UsageUnit.StringVal,
				"cost":         r.Cost,
				"usage_amount": r.UsageAmount.Float64,
			})
		}
		emit()
	}
}
