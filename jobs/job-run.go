package jobs

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type JobRunStatus string

const (
	// lock was held by another run, body not invoked
	JobSkipped JobRunStatus = "skipped"

	// successfully processed
	JobSucceed JobRunStatus = "succeed"

	// error during processing
	JobFailed JobRunStatus = "failed"
)

type JobRun struct {
	Id        uuid.UUID
	Job       string
	Origin    Origin
	Status    JobRunStatus
	Reason    *string
	StartDate time.Time
	EndDate   *time.Time
}

// RunStorage keeps the history of job attempts.
type RunStorage interface {
	AddRun(ctx context.Context, run JobRun) error
	GetRuns(ctx context.Context, job string, limit int) ([]JobRun, error)
}

func NewJobRun(job string, origin Origin, now func() time.Time) JobRun {
	return JobRun{
		Id:        uuid.New(),
		Job:       job,
		Origin:    origin,
		Reason:    nil,
		StartDate: now().Round(time.Second),
		EndDate:   nil,
	}
}

func (jr *JobRun) Skipped(now func() time.Time) {
	reason := ErrJobAlreadyRunning.Msg
	jr.Status = JobSkipped
	jr.Reason = &reason
	end := now().Round(time.Second)
	jr.EndDate = &end
}

func (jr *JobRun) Succeed(now func() time.Time) {
	jr.Status = JobSucceed
	end := now().Round(time.Second)
	jr.EndDate = &end
}

func (jr *JobRun) Failed(reason string, now func() time.Time) {
	jr.Status = JobFailed
	jr.Reason = &reason
	end := now().Round(time.Second)
	jr.EndDate = &end
}
