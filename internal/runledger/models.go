package runledger

import (
	"time"

	"gorm.io/datatypes"
)

const (
	StatusRunning   = "running"
	StatusSucceeded = "succeeded"
	StatusFailed    = "failed"
)

// JobRun is one execution of a batch job.
type JobRun struct {
	ID          int64          `gorm:"primaryKey;autoIncrement:false"`
	Job         string         `gorm:"size:64;not null;index:idx_job_runs_job_started,priority:1"`
	Status      string         `gorm:"size:16;not null"`
	Environment string         `gorm:"size:32;not null;default:''"`
	StartedAt   time.Time      `gorm:"not null;index:idx_job_runs_job_started,priority:2,sort:desc"`
	FinishedAt  *time.Time
	ExitCode    int            `gorm:"not null;default:0"`
	Error       string         `gorm:"type:text"`
	Statistics  datatypes.JSON
}

func (JobRun) TableName() string { return "job_runs" }

// FailedWrite is one document that a run could not commit. The rows of a run
// are the replay set for that run.
type FailedWrite struct {
	ID         uint64 `gorm:"primaryKey"`
	RunID      int64  `gorm:"not null;index:idx_failed_writes_run,priority:1"`
	Collection string `gorm:"size:255;not null"`
	DocumentID string `gorm:"size:1500;not null"`
	ScopeID    string `gorm:"size:512;not null;default:''"`
	ErrorClass string `gorm:"size:32;not null"`
	CreatedAt  time.Time
}

func (FailedWrite) TableName() string { return "failed_writes" }
