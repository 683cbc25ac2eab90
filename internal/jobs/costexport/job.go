// Package costexport copies one day of the billing export into the shared
// daily cost table.
package costexport

import (
	"context"
	"iter"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/smallbiznis/cloudcost/internal/batch"
	"github.com/smallbiznis/cloudcost/internal/pipeline"
	"go.uber.org/zap"
)

const Name = "cost-export"

type Job struct {
	env      batch.Env
	accounts pipeline.BillingAccountLister
	source   Source
	dest     Destination
}

func New(env batch.Env, accounts pipeline.BillingAccountLister, source Source, dest Destination) *Job {
	return &Job{env: env, accounts: accounts, source: source, dest: dest}
}

func (j *Job) Name() string { return Name }

func (j *Job) Run(ctx context.Context) (*pipeline.Report, error) {
	cfg, err := LoadConfig(j.env.Config)
	if err != nil {
		return nil, err
	}
	log := j.env.Logger(Name)
	now := j.env.Now()
	date := cfg.Date(now)

	var sink pipeline.Sink
	attempts, err := j.env.Policy.Do(ctx, func(ctx context.Context) error {
		var err error
		sink, err = j.dest.Ensure(ctx, cfg.Dataset, cfg.Table)
		return err
	})
	if err != nil {
		return nil, pipeline.RemoteError("ensure "+cfg.Dataset+"."+cfg.Table, attempts, err)
	}
	log.Info("exporting billing day", zap.String("date", date), zap.String("table", cfg.Dataset+"."+cfg.Table))

	return j.env.Orchestrator.Run(ctx, pipeline.Definition{
		Name: Name,
		Enumerator: pipeline.BillingAccounts{
			Lister:    j.accounts,
			AllowList: cfg.AccountIDs,
			Log:       log,
		},
		Fetcher: pipeline.FetcherFunc(func(ctx context.Context, scope pipeline.Scope) iter.Seq2[pipeline.RawRecord, error] {
			rows := j.source.Rows(ctx, cfg.ExportTables(), scope.ID, date)
			return pipeline.Records(rows, scope, func(r Row) (pipeline.RawRecord, bool) {
				return pipeline.RawRecord{Payload: r.fields(scope, date, now)}, true
			})
		}),
		Enricher:   pipeline.Enricher{Key: InsertID},
		Sink:       sink,
		Collection: func(pipeline.Scope) string { return cfg.Dataset + "." + cfg.Table },
	})
}

func (r Row) fields(scope pipeline.Scope, date string, now time.Time) map[string]any {
	return map[string]any{
		"billing_account_id":   scope.ID,
		"billing_account_name": scope.Attr(pipeline.AttrDisplayName),
		"date":                 date,
		"project_id":           nullString(r.ProjectID),
		"project_name":         nullString(r.ProjectName),
		"service_description":  nullString(r.Service),
		"sku_description":      nullString(r.SKU),
		"usage_start_time":     nullTime(r.UsageStartTime),
		"usage_end_time":       nullTime(r.UsageEndTime),
		"cost":                 r.Cost,
		"currency":             r.Currency,
		"usage_amount":         r.UsageAmount.Float64,
		"usage_unit":           nullString(r.UsageUnit),
		"credits":              r.Credits,
		"location_region":      nullString(r.Region),
		"location_zone":        nullString(r.Zone),
		"labels":               nullString(r.Labels),
		"collected_at":         now,
	}
}

// insertNamespace scopes the name-based insert ids of this table.
var insertNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("cloudcost/daily_costs"))

// InsertID is stable for one (cost key, sku, location, unit, labels) row so a
// replay inside the streaming dedup window does not add rows.
func InsertID(rec pipeline.RawRecord) (string, error) {
	str := func(k string) string { s, _ := rec.Payload[k].(string); return s }
	key, err := pipeline.CostKey(pipeline.RawRecord{
		ScopeID: rec.ScopeID,
		Payload: map[string]any{
			"billing_account_id": str("billing_account_id"),
			"date":               str("date"),
			"project_id":         str("project_id"),
			"service":            str("service_description"),
		},
	})
	if err != nil {
		return "", err
	}
	name := strings.Join([]string{key, str("sku_description"), str("location_region"), str("location_zone"), str("usage_unit"), str("labels")}, "|")
	return uuid.NewSHA1(insertNamespace, []byte(name)).String(), nil
}
