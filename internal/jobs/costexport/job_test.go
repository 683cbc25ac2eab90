package costexport

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

type fakeExport struct {
	rows     map[string][]Row
	requests []string
}

func (f *fakeExport) Rows(_ context.Context, tables, account, date string) iter.Seq2[Row, error] {
	f.requests = append(f.requests, tables+"|"+account+"|"+date)
	return batchtest.Seq(f.rows[account], nil)
}

type fakeDestination struct {
	sink    *docstore.Memory
	err     error
	ensured []string
}

func (f *fakeDestination) Ensure(_ context.Context, dataset, table string) (pipeline.Sink, error) {
	f.ensured = append(f.ensured, dataset+"."+table)
	if f.err != nil {
		return nil, f.err
	}
	return f.sink, nil
}

func row(project, sku, region string, cost float64) Row {
	return Row{
		ProjectID: bigquery.NullString{StringVal: project, Valid: true},
		Service:   bigquery.NullString{StringVal: "Compute Engine", Valid: true},
		SKU:       bigquery.NullString{StringVal: sku, Valid: true},
		Cost:      cost,
		Currency:  "USD",
		Region:    bigquery.NullString{StringVal: region, Valid: region != ""},
		Labels:    bigquery.NullString{StringVal: `[{"key":"env","value":"prod"}]`, Valid: true},
	}
}

func TestRunExportsYesterday(t *testing.T) {
	sink := docstore.NewMemory()
	dest := &fakeDestination{sink: sink}
	src := &fakeExport{rows: map[string][]Row{"01-AB": {
		row("proj-a", "N2 Core", "asia-southeast2", 4),
		row("proj-a", "N2 RAM", "asia-southeast2", 1),
		row("proj-a", "N2 Core", "asia-south1", 2),
	}}}

	job := New(batchtest.Env(nil), batchtest.Accounts{{ID: "01-AB", Open: true}}, src, dest)
	report, err := job.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, report.ExitCode())

	assert.Equal(t, []string{"billing_data.daily_costs"}, dest.ensured)
	assert.Equal(t, []string{"cost-proj.billing_data.gcp_billing_export_*|01-AB|2025-10-29"}, src.requests)

	rows := sink.Snapshot("billing_data.daily_costs")
	require.Len(t, rows, 3)
	for _, r := range rows {
		assert.Equal(t, "2025-10-29", r["date"])
		assert.Equal(t, `[{"key":"env","value":"prod"}]`, r["labels"])
	}
}

func TestInsertIDIsStable(t *testing.T) {
	rec := pipeline.RawRecord{Payload: row("proj-a", "N2 Core", "asia-south1", 2).fields(
		pipeline.Scope{ID: "01-AB"}, "2025-10-29", batchtest.Now)}
	first, err := InsertID(rec)
	require.NoError(t, err)
	second, err := InsertID(rec)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	other := pipeline.RawRecord{Payload: row("proj-a", "N2 RAM", "asia-south1", 2).fields(
		pipeline.Scope{ID: "01-AB"}, "2025-10-29", batchtest.Now)}
	otherID, err := InsertID(other)
	require.NoError(t, err)
	assert.NotEqual(t, first, otherID)
}

func TestEnsureFailureEndsRun(t *testing.T) {
	dest := &fakeDestination{err: errors.New("permission denied on dataset")}
	job := New(batchtest.Env(nil), batchtest.Accounts{{ID: "01-AB", Open: true}}, &fakeExport{}, dest)
	report, err := job.Run(context.Background())
	require.Error(t, err)
	assert.Nil(t, report)
	assert.False(t, pipeline.IsConfigurationError(err))
}

func TestTargetDateOverride(t *testing.T) {
	t.Setenv("TARGET_DATE", "2025-01-31")
	cfg, err := LoadConfig(batchtest.Env(nil).Config)
	require.NoError(t, err)
	assert.Equal(t, "2025-01-31", cfg.Date(batchtest.Now))

	t.Setenv("TARGET_DATE", "31/01/2025")
	_, err = LoadConfig(batchtest.Env(nil).Config)
	assert.True(t, pipeline.IsConfigurationError(err))
}
