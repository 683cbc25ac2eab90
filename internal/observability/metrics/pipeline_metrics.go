package metrics

import (
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	ScopeOutcomeSucceeded = "succeeded"
	ScopeOutcomeFailed    = "failed"

	BatchOutcomeCommitted = "committed"
	BatchOutcomeFailed    = "failed"

	RecordStageFetched   = "fetched"
	RecordStageFiltered  = "filtered"
	RecordStageEnriched  = "enriched"
	RecordStageJoinMiss  = "join_miss"
	RecordStageCommitted = "committed"
	RecordStageFailed    = "failed"
	RecordStageDeleted   = "deleted"
)

// PipelineMetrics captures batch job health for alerting on stale dashboards.
type PipelineMetrics struct {
	jobRuns        *prometheus.CounterVec
	jobDuration    *prometheus.HistogramVec
	jobErrors      *prometheus.CounterVec
	jobTimeouts    *prometheus.CounterVec
	jobLastSuccess *prometheus.GaugeVec
	scopes         *prometheus.CounterVec
	records        *prometheus.CounterVec
	batchCommits   *prometheus.CounterVec
	batchSize      *prometheus.HistogramVec
	remoteRetries  *prometheus.CounterVec
	cacheEntries   *prometheus.GaugeVec
}

var (
	pipelineMetricsOnce sync.Once
	pipelineMetrics     *PipelineMetrics
)

// Pipeline returns the singleton pipeline metrics registry.
func Pipeline() *PipelineMetrics {
	return PipelineWithConfig(Config{})
}

// PipelineWithConfig returns the singleton pipeline metrics using config labels.
func PipelineWithConfig(cfg Config) *PipelineMetrics {
	pipelineMetricsOnce.Do(func() {
		pipelineMetrics = NewPipelineMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return pipelineMetrics
}

// ResetPipelineMetricsForTest resets the singleton for tests.
func ResetPipelineMetricsForTest() {
	pipelineMetricsOnce = sync.Once{}
	pipelineMetrics = nil
}

func NewPipelineMetrics(registerer prometheus.Registerer, cfg Config) *PipelineMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "cloudcost"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}
	constLabels := prometheus.Labels{
		"service": serviceName,
		"env":     environment,
	}

	jobRuns := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "cloudcost_job_runs_total",
		Help:        "Batch job runs by name.",
		ConstLabels: constLabels,
	}, []string{"job"})
	jobDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:        "cloudcost_job_duration_seconds",
		Help:        "Batch job wall time.",
		Buckets:     []float64{1, 5, 10, 30, 60, 120, 300, 600, 900, 1800, 3600},
		ConstLabels: constLabels,
	}, []string{"job"})
	jobErrors := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "cloudcost_job_errors_total",
		Help:        "Batch job errors by low-cardinality error class.",
		ConstLabels: constLabels,
	}, []string{"job", "reason"})
	jobTimeouts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "cloudcost_job_timeouts_total",
		Help:        "Batch jobs stopped by their deadline.",
		ConstLabels: constLabels,
	}, []string{"job"})
	jobLastSuccess := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name:        "cloudcost_job_last_success_timestamp_seconds",
		Help:        "Unix time of the last fully successful run.",
		ConstLabels: constLabels,
	}, []string{"job"})
	scopes := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "cloudcost_scopes_total",
		Help:        "Scopes processed by outcome.",
		ConstLabels: constLabels,
	}, []string{"job", "outcome"})
	records := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "cloudcost_records_total",
		Help:        "Records by pipeline stage.",
		ConstLabels: constLabels,
	}, []string{"job", "stage"})
	batchCommits := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "cloudcost_batch_commits_total",
		Help:        "Document store batch commits by outcome.",
		ConstLabels: constLabels,
	}, []string{"job", "outcome"})
	batchSize := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:        "cloudcost_batch_size",
		Help:        "Operations per batch commit.",
		Buckets:     []float64{1, 10, 50, 100, 250, 400, 500},
		ConstLabels: constLabels,
	}, []string{"job"})
	remoteRetries := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:        "cloudcost_remote_retries_total",
		Help:        "Retried remote calls by operation.",
		ConstLabels: constLabels,
	}, []string{"job", "op"})
	cacheEntries := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name:        "cloudcost_enrichment_cache_entries",
		Help:        "Projects in the enrichment cache.",
		ConstLabels: constLabels,
	}, []string{"job"})

	registerer.MustRegister(
		jobRuns,
		jobDuration,
		jobErrors,
		jobTimeouts,
		jobLastSuccess,
		scopes,
		records,
		batchCommits,
		batchSize,
		remoteRetries,
		cacheEntries,
	)

	return &PipelineMetrics{
		jobRuns:        jobRuns,
		jobDuration:    jobDuration,
		jobErrors:      jobErrors,
		jobTimeouts:    jobTimeouts,
		jobLastSuccess: jobLastSuccess,
		scopes:         scopes,
		records:        records,
		batchCommits:   batchCommits,
		batchSize:      batchSize,
		remoteRetries:  remoteRetries,
		cacheEntries:   cacheEntries,
	}
}

func (m *PipelineMetrics) IncJobRun(job string) {
	if m == nil {
		return
	}
	m.jobRuns.WithLabelValues(job).Inc()
}

func (m *PipelineMetrics) ObserveJobDuration(job string, duration time.Duration) {
	if m == nil {
		return
	}
	m.jobDuration.WithLabelValues(job).Observe(duration.Seconds())
}

// IncJobError counts a job level failure; reason is an error class name.
func (m *PipelineMetrics) IncJobError(job, reason string) {
	if m == nil || reason == "" {
		return
	}
	m.jobErrors.WithLabelValues(job, reason).Inc()
}

func (m *PipelineMetrics) IncJobTimeout(job string) {
	if m == nil {
		return
	}
	m.jobTimeouts.WithLabelValues(job).Inc()
}

func (m *PipelineMetrics) SetLastSuccess(job string, at time.Time) {
	if m == nil {
		return
	}
	m.jobLastSuccess.WithLabelValues(job).Set(float64(at.Unix()))
}

func (m *PipelineMetrics) IncScope(job, outcome string) {
	if m == nil {
		return
	}
	m.scopes.WithLabelValues(job, outcome).Inc()
}

func (m *PipelineMetrics) AddRecords(job, stage string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.records.WithLabelValues(job, stage).Add(float64(count))
}

func (m *PipelineMetrics) ObserveBatch(job, outcome string, size int) {
	if m == nil {
		return
	}
	m.batchCommits.WithLabelValues(job, outcome).Inc()
	m.batchSize.WithLabelValues(job).Observe(float64(size))
}

func (m *PipelineMetrics) IncRemoteRetry(job, op string) {
	if m == nil {
		return
	}
	m.remoteRetries.WithLabelValues(job, op).Inc()
}

func (m *PipelineMetrics) SetCacheEntries(job string, n int) {
	if m == nil {
		return
	}
	m.cacheEntries.WithLabelValues(job).Set(float64(n))
}
