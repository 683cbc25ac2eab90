package pipeline

import (
	"context"
	"errors"
	"maps"
	"slices"
	"time"

	"github.com/smallbiznis/cloudcost/internal/docstore"
	"github.com/smallbiznis/cloudcost/internal/observability/metrics"
	"github.com/smallbiznis/cloudcost/internal/retry"
	"go.uber.org/zap"
)

const (
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
)

// Partition is the slice of a collection one sweep owns.
type Partition struct {
	Collection string
	// Status lists documents whose derived status is rewritten from the ids
	// that survive the sweep.
	Status []StatusTarget
}

// StatusTarget is a document holding a derived status. Match selects the
// surviving ids it counts; a nil Match counts all of them.
type StatusTarget struct {
	Collection string
	DocumentID string
	Fields     map[string]any
	Match      func(id string) bool
}

type SweepResult struct {
	Existing  int
	Deleted   []string
	Remaining int
}

// Sweeper deletes documents that the current run no longer reports. Call it
// only after the current set has been committed. Deletes and status writes
// that fail are counted as failed records in Stats.
type Sweeper struct {
	Store     docstore.Store
	Policy    retry.Policy
	BatchSize int
	Job       string
	Stats     *RunStatistics
	Metrics   *metrics.PipelineMetrics
	Log       *zap.Logger
	Now       func() time.Time
}

func (s *Sweeper) Sweep(ctx context.Context, p Partition, current map[string]struct{}) (SweepResult, error) {
	log := nopIfNil(s.Log).With(zap.String("collection", p.Collection))
	stats := s.Stats
	if stats == nil {
		stats = NewRunStatistics()
	}

	var existing map[string]struct{}
	attempts, err := s.Policy.Do(ctx, func(ctx context.Context) error {
		var err error
		existing, err = s.Store.DocumentIDs(ctx, p.Collection)
		return err
	})
	if err != nil {
		return SweepResult{}, RemoteError("list "+p.Collection, attempts, err)
	}

	stale := make([]string, 0)
	for id := range existing {
		if _, ok := current[id]; !ok {
			stale = append(stale, id)
		}
	}
	slices.Sort(stale)

	result := SweepResult{Existing: len(existing)}
	survivors := maps.Clone(existing)
	var sweepErr error
	if len(stale) > 0 {
		// Deletes are not committed records, so the writer keeps its own counters.
		writer := NewBatchWriter(s.Store, WriterOptions{
			Job:        s.Job,
			Collection: p.Collection,
			BatchSize:  s.BatchSize,
			ScopeID:    "sweep",
			Policy:     s.Policy,
			Metrics:    s.Metrics,
			Log:        s.Log,
		})
		for _, id := range stale {
			if err := writer.Delete(ctx, id); err != nil {
				sweepErr = err
			}
		}
		if _, err := writer.Flush(ctx); err != nil {
			sweepErr = err
		}
		for id := range writer.Committed() {
			delete(survivors, id)
			result.Deleted = append(result.Deleted, id)
			log.Info("sweep.deleted", zap.String("document_id", id))
		}
		slices.Sort(result.Deleted)
		stats.AddDeleted(int64(len(result.Deleted)))
		stats.AddFailed(sortedKeys(writer.Failed())...)
		s.Metrics.AddRecords(s.Job, metrics.RecordStageDeleted, len(result.Deleted))
	}
	result.Remaining = len(survivors)

	for _, target := range p.Status {
		if err := s.writeStatus(ctx, target, countMatching(survivors, target.Match)); err != nil {
			stats.AddFailed(target.DocumentID)
			sweepErr = errors.Join(sweepErr, err)
		}
	}
	if sweepErr != nil {
		return result, sweepErr
	}
	log.Info("sweep.done",
		zap.Int("existing", result.Existing),
		zap.Int("deleted", len(result.Deleted)),
		zap.Int("remaining", result.Remaining),
	)
	return result, nil
}

func countMatching(ids map[string]struct{}, match func(string) bool) int {
	if match == nil {
		return len(ids)
	}
	n := 0
	for id := range ids {
		if match(id) {
			n++
		}
	}
	return n
}

func (s *Sweeper) writeStatus(ctx context.Context, target StatusTarget, remaining int) error {
	now := time.Now().UTC()
	if s.Now != nil {
		now = s.Now()
	}
	data := StatusFields(remaining, now)
	for k, v := range target.Fields {
		data[k] = v
	}
	attempts, err := s.Policy.Do(ctx, func(ctx context.Context) error {
		return s.Store.Set(ctx, target.Collection, target.DocumentID, data, false)
	})
	if err != nil {
		return RemoteError("write status "+target.DocumentID, attempts, err)
	}
	return nil
}

// StatusFields is the derived status document: healthy iff count is zero.
func StatusFields(count int, now time.Time) map[string]any {
	status := StatusHealthy
	if count > 0 {
		status = StatusUnhealthy
	}
	return map[string]any{
		"status":       status,
		"event_count":  count,
		"last_updated": now,
	}
}
