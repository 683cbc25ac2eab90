package pipeline

import (
	"context"
	"maps"
	"slices"
	"time"

	"github.com/smallbiznis/cloudcost/internal/docstore"
	"github.com/smallbiznis/cloudcost/internal/observability/metrics"
	"github.com/smallbiznis/cloudcost/internal/retry"
	"go.uber.org/zap"
)

// Sink receives committed batches. docstore.Store satisfies it.
type Sink interface {
	Commit(ctx context.Context, writes []docstore.Write) error
}

type BatchState int

const (
	BatchAccumulating BatchState = iota
	BatchCommitting
	BatchCommitted
	BatchPartiallyFailed
)

func (s BatchState) String() string {
	switch s {
	case BatchAccumulating:
		return "ACCUMULATING"
	case BatchCommitting:
		return "COMMITTING"
	case BatchCommitted:
		return "COMMITTED"
	case BatchPartiallyFailed:
		return "PARTIALLY_FAILED"
	default:
		return "UNKNOWN"
	}
}

// BatchCommitResult describes one flush.
type BatchCommitResult struct {
	AttemptedCount int
	CommittedCount int
	FailedIDs      []string
	RetryCount     int
	State          BatchState
}

type WriterOptions struct {
	Job        string
	Collection string
	Merge      bool
	BatchSize  int
	ScopeID    string
	Policy     retry.Policy
	Stats      *RunStatistics
	Metrics    *metrics.PipelineMetrics
	Log        *zap.Logger
}

// BatchWriter buffers writes and commits them in batches of at most
// BatchSize operations. Writes for a document id already in the buffer are
// merged into the pending write.
type BatchWriter struct {
	sink Sink
	opts WriterOptions
	log  *zap.Logger

	buf   []docstore.Write
	index map[string]int
	state BatchState

	committed map[string]struct{}
	failed    map[string]struct{}
	results   []BatchCommitResult
}

func NewBatchWriter(sink Sink, opts WriterOptions) *BatchWriter {
	if opts.BatchSize <= 0 || opts.BatchSize > docstore.MaxWritesPerCommit {
		opts.BatchSize = docstore.MaxWritesPerCommit
	}
	if opts.Stats == nil {
		opts.Stats = NewRunStatistics()
	}
	log := nopIfNil(opts.Log).With(
		zap.String("collection", opts.Collection),
		zap.String("scope_id", opts.ScopeID),
	)
	return &BatchWriter{
		sink:      sink,
		opts:      opts,
		log:       log,
		buf:       make([]docstore.Write, 0, opts.BatchSize),
		index:     map[string]int{},
		committed: map[string]struct{}{},
		failed:    map[string]struct{}{},
	}
}

// Add buffers rec and flushes when the buffer is full. A non-nil error is a
// *PartialWriteFailure from that flush; the writer stays usable.
func (w *BatchWriter) Add(ctx context.Context, rec EnrichedRecord) error {
	return w.AddWrite(ctx, docstore.Write{
		Collection: w.opts.Collection,
		DocumentID: rec.DocumentID,
		Data:       rec.Fields,
		Merge:      w.opts.Merge,
	})
}

// Delete buffers a delete of id.
func (w *BatchWriter) Delete(ctx context.Context, id string) error {
	return w.AddWrite(ctx, docstore.Write{
		Collection: w.opts.Collection,
		DocumentID: id,
		Delete:     true,
	})
}

func (w *BatchWriter) AddWrite(ctx context.Context, write docstore.Write) error {
	if write.Collection == "" {
		write.Collection = w.opts.Collection
	}
	key := write.Collection + "/" + write.DocumentID
	if i, ok := w.index[key]; ok {
		w.buf[i] = combine(w.buf[i], write)
		return nil
	}

	w.index[key] = len(w.buf)
	w.buf = append(w.buf, write)
	w.state = BatchAccumulating
	if len(w.buf) >= w.opts.BatchSize {
		_, err := w.Flush(ctx)
		return err
	}
	return nil
}

// Flush commits the buffer. Empty buffers are a no-op.
func (w *BatchWriter) Flush(ctx context.Context) (BatchCommitResult, error) {
	if len(w.buf) == 0 {
		return BatchCommitResult{State: w.state}, nil
	}

	writes := w.buf
	w.buf = make([]docstore.Write, 0, w.opts.BatchSize)
	w.index = map[string]int{}
	w.state = BatchCommitting

	policy := w.opts.Policy
	policy.OnRetry = func(attempt int, wait time.Duration, err error) {
		w.opts.Metrics.IncRemoteRetry(w.opts.Job, "commit")
		w.log.Warn("batch.retry",
			zap.Int("attempt", attempt),
			zap.Int("batch_size", len(writes)),
			zap.Duration("wait", wait),
			zap.String("error_class", retry.Class(err)),
			zap.Error(err),
		)
	}
	attempts, err := policy.Do(ctx, func(ctx context.Context) error {
		return w.sink.Commit(ctx, writes)
	})

	result := BatchCommitResult{
		AttemptedCount: len(writes),
		RetryCount:     max(attempts-1, 0),
	}
	w.opts.Stats.AddRetries(int64(result.RetryCount))

	if err == nil {
		result.CommittedCount = len(writes)
		result.State = BatchCommitted
		for _, write := range writes {
			w.committed[write.DocumentID] = struct{}{}
		}
		w.opts.Stats.AddCommitted(int64(len(writes)))
		w.opts.Metrics.ObserveBatch(w.opts.Job, metrics.BatchOutcomeCommitted, len(writes))
		w.opts.Metrics.AddRecords(w.opts.Job, metrics.RecordStageCommitted, len(writes))
		w.log.Debug("batch.commit", zap.Int("batch_size", len(writes)), zap.Int("attempts", attempts))
		w.state = BatchCommitted
		w.results = append(w.results, result)
		return result, nil
	}

	result.State = BatchPartiallyFailed
	result.FailedIDs = make([]string, 0, len(writes))
	for _, write := range writes {
		result.FailedIDs = append(result.FailedIDs, write.DocumentID)
		w.failed[write.DocumentID] = struct{}{}
	}
	w.opts.Stats.AddFailed(result.FailedIDs...)
	w.opts.Metrics.ObserveBatch(w.opts.Job, metrics.BatchOutcomeFailed, len(writes))
	w.opts.Metrics.AddRecords(w.opts.Job, metrics.RecordStageFailed, len(writes))

	class := ErrorClass(RemoteError("commit", attempts, err))
	for _, id := range result.FailedIDs {
		w.log.Error("batch.failed",
			zap.String("document_id", id),
			zap.Int("attempts", attempts),
			zap.String("error_class", class),
			zap.Error(err),
		)
	}
	w.state = BatchPartiallyFailed
	w.results = append(w.results, result)

	return result, &PartialWriteFailure{
		Collection:  w.opts.Collection,
		DocumentIDs: result.FailedIDs,
		Attempts:    attempts,
		Err:         err,
	}
}

func (w *BatchWriter) State() BatchState { return w.state }

func (w *BatchWriter) Pending() int { return len(w.buf) }

func (w *BatchWriter) Results() []BatchCommitResult { return slices.Clone(w.results) }

// Committed is the set of document ids durably written by this writer.
func (w *BatchWriter) Committed() map[string]struct{} { return maps.Clone(w.committed) }

// Failed is the set of document ids that exhausted commit retries.
func (w *BatchWriter) Failed() map[string]struct{} { return maps.Clone(w.failed) }

// combine folds next into a pending write for the same document so the
// result equals applying prev then next.
func combine(prev, next docstore.Write) docstore.Write {
	if next.Delete || !next.Merge || prev.Delete {
		if prev.Delete && next.Merge && !next.Delete {
			next.Merge = false
		}
		return next
	}
	merged := next
	merged.Data = docstore.MergeFields(maps.Clone(prev.Data), next.Data)
	merged.Merge = prev.Merge
	return merged
}
