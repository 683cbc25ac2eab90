package runledger

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/smallbiznis/cloudcost/internal/pipeline"
	"github.com/smallbiznis/cloudcost/pkg/db"
	"github.com/smallbiznis/cloudcost/pkg/db/pagination"
	"github.com/smallbiznis/cloudcost/pkg/repository"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Ledger records job runs and their failed writes. A nil *Ledger is a valid,
// disabled ledger: writes are dropped and reads return ErrDisabled.
type Ledger struct {
	db       *gorm.DB
	runs     repository.Repository[JobRun]
	failures repository.Repository[FailedWrite]
	log      *zap.Logger
}

func New(conn *gorm.DB, log *zap.Logger) *Ledger {
	if conn == nil {
		return nil
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Ledger{
		db:       conn,
		runs:     repository.ProvideStore[JobRun](conn),
		failures: repository.ProvideStore[FailedWrite](conn),
		log:      log.Named("runledger"),
	}
}

func (l *Ledger) Enabled() bool { return l != nil }

// Start inserts a running row for runID. A row that already exists means the
// run was started before and is left as is.
func (l *Ledger) Start(ctx context.Context, runID int64, job, environment string, startedAt time.Time) error {
	if l == nil {
		return nil
	}
	err := l.runs.Create(ctx, &JobRun{
		ID:          runID,
		Job:         job,
		Status:      StatusRunning,
		Environment: environment,
		StartedAt:   startedAt.UTC(),
	})
	if db.IsDuplicateKeyErr(err) {
		l.log.Info("run already started", zap.Int64("run_id", runID), zap.String("job", job))
		return nil
	}
	return err
}

// Outcome is what Finish stores about a completed run.
type Outcome struct {
	ExitCode   int
	Err        error
	Stats      pipeline.StatsSnapshot
	Failures   []pipeline.Failure
	FinishedAt time.Time
}

// Finish closes the run row and stores its replay set in one transaction.
func (l *Ledger) Finish(ctx context.Context, runID int64, out Outcome) error {
	if l == nil {
		return nil
	}
	stats, err := json.Marshal(out.Stats)
	if err != nil {
		return fmt.Errorf("encode statistics: %w", err)
	}
	status := StatusSucceeded
	if out.ExitCode != 0 {
		status = StatusFailed
	}
	errText := ""
	if out.Err != nil {
		errText = out.Err.Error()
	}
	finishedAt := out.FinishedAt.UTC()

	return l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := l.runs.WithTrx(tx).Update(ctx, runID, map[string]any{
			"status":      status,
			"finished_at": finishedAt,
			"exit_code":   out.ExitCode,
			"error":       errText,
			"statistics":  datatypes.JSON(stats),
		}); err != nil {
			return fmt.Errorf("update run: %w", err)
		}

		rows := make([]*FailedWrite, 0, len(out.Failures))
		for _, f := range out.Failures {
			rows = append(rows, &FailedWrite{
				RunID:      runID,
				Collection: f.Collection,
				DocumentID: f.DocumentID,
				ScopeID:    f.ScopeID,
				ErrorClass: f.ErrorClass,
				CreatedAt:  finishedAt,
			})
		}
		if err := l.failures.WithTrx(tx).BatchCreate(ctx, rows, 200); err != nil {
			return fmt.Errorf("store failed writes: %w", err)
		}
		return nil
	})
}

// Runs returns the latest runs, newest first. An empty job lists every job.
func (l *Ledger) Runs(ctx context.Context, job string, limit int) ([]*JobRun, error) {
	if l == nil {
		return nil, ErrDisabled
	}
	if limit <= 0 {
		limit = 20
	}
	return l.runs.Find(ctx, &JobRun{Job: job},
		repository.OrderBy("started_at DESC"),
		repository.Limit(limit),
	)
}

// LatestRun returns the newest run of job, or nil when there is none.
func (l *Ledger) LatestRun(ctx context.Context, job string) (*JobRun, error) {
	if l == nil {
		return nil, ErrDisabled
	}
	return l.runs.FindOne(ctx, &JobRun{Job: job}, repository.OrderBy("started_at DESC"))
}

// FailedWrites pages through the replay set of a run in insertion order.
func (l *Ledger) FailedWrites(ctx context.Context, runID int64, page pagination.Pagination) ([]*FailedWrite, *pagination.PageInfo, error) {
	if l == nil {
		return nil, nil, ErrDisabled
	}
	cursor, err := pagination.DecodeCursor(page.PageToken)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid page token: %w", err)
	}
	size := page.Size()
	rows, err := l.failures.Find(ctx, &FailedWrite{RunID: runID},
		repository.Where("id > ?", cursor.ID),
		repository.OrderBy("id ASC"),
		repository.Limit(size+1),
	)
	if err != nil {
		return nil, nil, err
	}
	return pagination.BuildCursorPageInfo(rows, size, func(f *FailedWrite) pagination.Cursor {
		return pagination.Cursor{ID: f.ID}
	})
}
