package costreports

import (
	"context"
	"errors"
	"iter"
	"testing"

	"cloud.google.com/go/bigquery"
	"github.com/smallbiznis/cloudcost/internal/batch/batchtest"
	"github.com/smallbiznis/cloudcost/internal/docstore"
	"github.com/smallbiznis/cloudcost/internal/pipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	rows   map[string][]map[string]bigquery.Value
	err    map[string]error
	params map[string]Params
}

func (f *fakeSource) Rows(_ context.Context, r Report, p Params) iter.Seq2[map[string]bigquery.Value, error] {
	if f.params == nil {
		f.params = map[string]Params{}
	}
	f.params[r.Name] = p
	return batchtest.Seq(f.rows[r.Name], f.err[r.Name])
}

func TestRunWritesReportsAndMetadata(t *testing.T) {
	t.Setenv("REPORTS", "service_cost_summary,top_cost_drivers,location_cost_summary")

	db := docstore.NewMemory()
	source := &fakeSource{rows: map[string][]map[string]bigquery.Value{
		ServiceCostSummary: {
			{"service_description": "Compute Engine", "total_cost": 120.5, "currency": "USD"},
			{"service_description": "Cloud Storage/Archive", "total_cost": 3.0, "currency": "USD"},
		},
		TopCostDrivers: {
			{"service_description": "Compute Engine", "sku_description": "N2 Instance Core running in Jakarta with a very long description", "total_cost": 90.0},
		},
		LocationCostSummary: {
			{"region": "global", "zone": nil, "total_cost": 10.0},
			{"region": "asia-southeast2", "zone": "asia-southeast2-a", "total_cost": 20.0},
		},
	}}
	job := New(batchtest.Env(docstore.StaticOpener{"": db}), source)

	report, err := job.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, report.ExitCode())

	services := db.Snapshot("cost_reports_service_cost_summary")
	require.Contains(t, services, "Compute Engine")
	require.Contains(t, services, "Cloud Storage_Archive")
	assert.Equal(t, "compute-engine", services["Compute Engine"]["service_slug"])

	drivers := db.Snapshot("cost_reports_top_cost_drivers")
	require.Len(t, drivers, 1)
	assert.Contains(t, drivers, "Compute Engine_N2 Instance Core running in Jakarta with a very lo")

	locations := db.Snapshot("cost_reports_location_cost_summary")
	assert.Contains(t, locations, "global_none")
	assert.Contains(t, locations, "asia-southeast2_asia-southeast2-a")

	assert.Equal(t, Params{Source: "cost-proj.billing_data.daily_costs", Days: 7, Limit: 20}, source.params[TopCostDrivers])
	assert.Equal(t, 30, source.params[ServiceCostSummary].Days)

	meta := db.Snapshot("cost_reports_metadata")
	require.Len(t, meta, 3)
	assert.Equal(t, 2, meta[ServiceCostSummary]["document_count"])
	assert.Equal(t, "cost_reports_service_cost_summary", meta[ServiceCostSummary]["collection_name"])
	assert.Equal(t, ServiceCostSummary, meta[ServiceCostSummary]["report_name"])
}

func TestRunSweepsOnlySuccessfulReports(t *testing.T) {
	t.Setenv("REPORTS", "service_cost_summary,daily_cost_trends")

	db := docstore.NewMemory()
	ctx := context.Background()
	require.NoError(t, db.Set(ctx, "cost_reports_service_cost_summary", "Retired Service", map[string]any{"total_cost": 1.0}, false))
	require.NoError(t, db.Set(ctx, "cost_reports_daily_cost_trends", "2025-09-01", map[string]any{"total_cost": 1.0}, false))

	source := &fakeSource{
		rows: map[string][]map[string]bigquery.Value{
			ServiceCostSummary: {{"service_description": "BigQuery", "total_cost": 4.0}},
		},
		err: map[string]error{DailyCostTrends: &pipeline.TransientRemoteError{Op: "report", Attempts: 3, Err: errors.New("backend error")}},
	}
	job := New(batchtest.Env(docstore.StaticOpener{"": db}), source)
	report, err := job.Run(ctx)
	require.NoError(t, err)

	services := db.Snapshot("cost_reports_service_cost_summary")
	assert.NotContains(t, services, "Retired Service")
	assert.Contains(t, services, "BigQuery")

	trends := db.Snapshot("cost_reports_daily_cost_trends")
	assert.Contains(t, trends, "2025-09-01", "a failed report keeps its previous rows")
	assert.EqualValues(t, 1, report.Stats.Snapshot().StaleRecordsDeleted)
}

func TestRunReportsFailedSweep(t *testing.T) {
	t.Setenv("REPORTS", "service_cost_summary")

	db := docstore.NewMemory()
	ctx := context.Background()
	require.NoError(t, db.Set(ctx, "cost_reports_service_cost_summary", "Retired Service", map[string]any{"total_cost": 1.0}, false))
	db.CommitHook = func(writes []docstore.Write) error {
		for _, w := range writes {
			if w.Delete {
				return errors.New("permission denied")
			}
		}
		return nil
	}

	source := &fakeSource{rows: map[string][]map[string]bigquery.Value{
		ServiceCostSummary: {{"service_description": "BigQuery", "total_cost": 4.0}},
	}}
	report, err := New(batchtest.Env(docstore.StaticOpener{"": db}), source).Run(ctx)
	require.Error(t, err)

	snap := report.Stats.Snapshot()
	assert.EqualValues(t, 1, snap.RecordsFailed)
	assert.Equal(t, []string{"Retired Service"}, snap.FailedIDs)
	assert.Equal(t, 1, report.ExitCode())
	assert.Contains(t, db.Snapshot("cost_reports_service_cost_summary"), "Retired Service")
	assert.Contains(t, db.Snapshot("cost_reports_metadata"), ServiceCostSummary)
}

func TestLoadConfigRejectsUnknownReport(t *testing.T) {
	t.Setenv("REPORTS", "project_cost_summary,monthly_forecast")
	_, err := LoadConfig(batchtest.Env(nil).Config)
	assert.True(t, pipeline.IsConfigurationError(err))
}

func TestEveryReportHasQueryAndKey(t *testing.T) {
	for _, name := range Names() {
		r, ok := Lookup(name)
		require.True(t, ok)
		sql := r.SQL("p.d.t")
		assert.Contains(t, sql, "`p.d.t`", name)
		assert.Contains(t, sql, "@days", name)
		require.NotNil(t, r.Key, name)
	}
	assert.Len(t, Names(), 6)
}
