// Package batchtest builds job environments backed by in-memory stores.
package batchtest

import (
	"context"
	"iter"
	"time"

	"github.com/smallbiznis/cloudcost/internal/batch"
	"github.com/smallbiznis/cloudcost/internal/clock"
	"github.com/smallbiznis/cloudcost/internal/config"
	"github.com/smallbiznis/cloudcost/internal/docstore"
	"github.com/smallbiznis/cloudcost/internal/pipeline"
	"github.com/smallbiznis/cloudcost/internal/retry"
	"go.uber.org/zap"
)

// Now is the fixed clock of every environment built here.
var Now = time.Date(2025, 10, 30, 2, 0, 0, 0, time.UTC)

// InstantPolicy retries without sleeping.
func InstantPolicy() retry.Policy {
	p := retry.Default()
	p.Sleep = func(context.Context, time.Duration) error { return nil }
	p.Jitter = func(time.Duration) time.Duration { return 0 }
	return p
}

// Env wires a sequential orchestrator to stores. The enrichment database is
// served by the "dashboard" entry when present.
func Env(stores docstore.StaticOpener) batch.Env {
	cfg := config.Config{
		ProjectID:   "cost-proj",
		Environment: "test",
		Enrichment: config.EnrichmentConfig{
			Database:       "dashboard",
			Collection:     "projects",
			ProjectIDField: "project_id",
			Fields:         []string{"appcode", "lob"},
		},
		Pipeline: config.PipelineConfig{BatchSize: config.MaxBatchSize, Workers: 1, ProgressEvery: 50},
	}
	clk := clock.NewFakeClock(Now)
	policy := InstantPolicy()
	return batch.Env{
		Config: cfg,
		Orchestrator: &pipeline.Orchestrator{
			Workers:   1,
			BatchSize: config.MaxBatchSize,
			Policy:    policy,
			Clock:     clk,
			Log:       zap.NewNop(),
		},
		Policy: policy,
		Stores: stores,
		Clock:  clk,
		Log:    zap.NewNop(),
	}
}

// Projects seeds the enrichment table with project_id -> fields.
func Projects(entries map[string]map[string]any) *docstore.Memory {
	mem := docstore.NewMemory()
	for id, fields := range entries {
		data := map[string]any{"project_id": id}
		for k, v := range fields {
			data[k] = v
		}
		_ = mem.Set(context.Background(), "projects", id, data, false)
	}
	return mem
}

// Accounts is a fixed billing account listing.
type Accounts []pipeline.BillingAccount

func (a Accounts) BillingAccounts(context.Context) iter.Seq2[pipeline.BillingAccount, error] {
	return func(yield func(pipeline.BillingAccount, error) bool) {
		for _, acct := range a {
			if !yield(acct, nil) {
				return
			}
		}
	}
}

// Seq serves items as a sequence, ending with err when it is non-nil.
func Seq[T any](items []T, err error) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		for _, item := range items {
			if !yield(item, nil) {
				return
			}
		}
		if err != nil {
			var zero T
			yield(zero, err)
		}
	}
}
