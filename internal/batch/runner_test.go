package batch

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/smallbiznis/cloudcost/internal/clock"
	"github.com/smallbiznis/cloudcost/internal/config"
	obsmetrics "github.com/smallbiznis/cloudcost/internal/observability/metrics"
	"github.com/smallbiznis/cloudcost/internal/pipeline"
	"github.com/smallbiznis/cloudcost/internal/runledger"
	"github.com/smallbiznis/cloudcost/pkg/db"
	"github.com/smallbiznis/cloudcost/pkg/db/pagination"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type stubJob struct {
	name string
	run  func(ctx context.Context) (*pipeline.Report, error)
}

func (j stubJob) Name() string { return j.name }

func (j stubJob) Run(ctx context.Context) (*pipeline.Report, error) { return j.run(ctx) }

type recordingPusher struct {
	calls int
}

func (p *recordingPusher) Push(context.Context, prometheus.Gatherer) error {
	p.calls++
	return nil
}

type fixture struct {
	runner   *Runner
	registry *prometheus.Registry
	ledger   *runledger.Ledger
	pusher   *recordingPusher
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	conn, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, runledger.Migrate(conn, db.DriverSQLite))
	ledger := runledger.New(conn, nil)

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	registry := prometheus.NewRegistry()
	pusher := &recordingPusher{}

	runner := NewRunner(RunnerParams{
		Config:   config.Config{Environment: "test", Pipeline: config.PipelineConfig{BatchSize: 500, Workers: 1}},
		GenID:    node,
		Clock:    clock.NewFakeClock(time.Date(2025, 10, 30, 2, 0, 0, 0, time.UTC)),
		Log:      zap.NewNop(),
		Metrics:  obsmetrics.NewPipelineMetrics(registry, obsmetrics.Config{ServiceName: "cloudcost", Environment: "test"}),
		Ledger:   ledger,
		Pusher:   pusher,
		Gatherer: registry,
	})
	return fixture{runner: runner, registry: registry, ledger: ledger, pusher: pusher}
}

func reportWith(job string, fn func(s *pipeline.RunStatistics)) *pipeline.Report {
	stats := pipeline.NewRunStatistics()
	fn(stats)
	return &pipeline.Report{Job: job, Stats: stats}
}

func metricValue(t *testing.T, g prometheus.Gatherer, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := g.Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		for _, m := range f.GetMetric() {
			if !hasLabels(m, labels) {
				continue
			}
			switch {
			case m.GetCounter() != nil:
				return m.GetCounter().GetValue()
			case m.GetGauge() != nil:
				return m.GetGauge().GetValue()
			case m.GetHistogram() != nil:
				return float64(m.GetHistogram().GetSampleCount())
			}
		}
	}
	return 0
}

func hasLabels(m *dto.Metric, want map[string]string) bool {
	got := map[string]string{}
	for _, l := range m.GetLabel() {
		got[l.GetName()] = l.GetValue()
	}
	for k, v := range want {
		if got[k] != v {
			return false
		}
	}
	return true
}

func TestRunnerSuccess(t *testing.T) {
	f := newFixture(t)
	job := stubJob{name: "costs", run: func(ctx context.Context) (*pipeline.Report, error) {
		return reportWith("costs", func(s *pipeline.RunStatistics) {
			s.SetScopesTotal(2)
			s.ScopeSucceeded()
			s.ScopeSucceeded()
			s.AddCommitted(120)
		}), nil
	}}

	code := f.runner.Run(context.Background(), job)
	assert.Equal(t, ExitSuccess, code)
	assert.Equal(t, 1, f.pusher.calls)
	assert.Equal(t, 1.0, metricValue(t, f.registry, "cloudcost_job_runs_total", map[string]string{"job": "costs"}))
	assert.Equal(t, float64(time.Date(2025, 10, 30, 2, 0, 0, 0, time.UTC).Unix()),
		metricValue(t, f.registry, "cloudcost_job_last_success_timestamp_seconds", map[string]string{"job": "costs"}))

	run, err := f.ledger.LatestRun(context.Background(), "costs")
	require.NoError(t, err)
	require.NotNil(t, run)
	assert.Equal(t, runledger.StatusSucceeded, run.Status)
	assert.Equal(t, "test", run.Environment)
}

func TestRunnerFailedRecordsExitNonZeroAndStoreReplaySet(t *testing.T) {
	f := newFixture(t)
	job := stubJob{name: "invoices", run: func(ctx context.Context) (*pipeline.Report, error) {
		return reportWith("invoices", func(s *pipeline.RunStatistics) {
			s.SetScopesTotal(1)
			s.ScopeSucceeded()
			s.AddCommitted(3)
			s.AddFailed("0A1B2C-3D4E5F-6A7B8C-2025-09")
		}), nil
	}}

	assert.Equal(t, ExitFailure, f.runner.Run(context.Background(), job))
	assert.Zero(t, metricValue(t, f.registry, "cloudcost_job_last_success_timestamp_seconds", map[string]string{"job": "invoices"}))

	run, err := f.ledger.LatestRun(context.Background(), "invoices")
	require.NoError(t, err)
	assert.Equal(t, runledger.StatusFailed, run.Status)
	rows, _, err := f.ledger.FailedWrites(context.Background(), run.ID, pagination.Pagination{})
	require.NoError(t, err)
	assert.Empty(t, rows, "stub report carries counters only")
}

func TestRunnerConfigurationError(t *testing.T) {
	f := newFixture(t)
	job := stubJob{name: "health", run: func(ctx context.Context) (*pipeline.Report, error) {
		return nil, pipeline.NewConfigurationError("ORGANIZATION_ID", "is required")
	}}

	assert.Equal(t, ExitConfiguration, f.runner.Run(context.Background(), job))
	assert.Equal(t, 1.0, metricValue(t, f.registry, "cloudcost_job_errors_total",
		map[string]string{"job": "health", "reason": pipeline.ErrorClassConfiguration}))
}

func TestRunnerRecoversPanic(t *testing.T) {
	f := newFixture(t)
	job := stubJob{name: "anomalies", run: func(ctx context.Context) (*pipeline.Report, error) {
		panic("boom")
	}}
	assert.Equal(t, ExitFailure, f.runner.Run(context.Background(), job))
	assert.Equal(t, 1, f.pusher.calls)
}

func TestRegistry(t *testing.T) {
	r := NewRegistry(registryParams{Jobs: []Job{
		stubJob{name: "health"},
		stubJob{name: "costs"},
	}})
	assert.Equal(t, []string{"costs", "health"}, r.Names())
	if _, err := r.Get("missing"); err == nil {
		t.Fatalf("expected unknown job error")
	}
}

func TestNewPolicyFromConfig(t *testing.T) {
	p := NewPolicy(config.Config{Pipeline: config.PipelineConfig{
		RetryMaxAttempts: 5,
		RetryBaseDelay:   2 * time.Second,
		RetryMaxJitter:   0,
	}})
	assert.Equal(t, 5, p.MaxAttempts)
	assert.Equal(t, 2*time.Second, p.BaseDelay)
	assert.Equal(t, time.Duration(0), p.MaxJitter)
}
