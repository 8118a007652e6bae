package queries

import (
	"context"
	"time"

	"hearth/jobs"
	"hearth/libs"

	"github.com/google/uuid"
)

const (
	DefaultRunsLimit = 50
	MaxRunsLimit     = 500
)

var ErrInvalidRunsLimit = libs.Error{
	Code: "INVALID_RUNS_LIMIT",
	Msg:  "runs limit must be between 1 and 500"}

type GetJobRuns struct {
	Job   string
	Limit int
}

type JobRunDto struct {
	Id        uuid.UUID         `json:"id"`
	Job       string            `json:"job"`
	Origin    jobs.Origin       `json:"origin"`
	Status    jobs.JobRunStatus `json:"status"`
	Reason    *string           `json:"reason"`
	StartDate time.Time         `json:"startDate"`
	EndDate   *time.Time        `json:"endDate"`
}

type GetJobRunsHandler struct {
	Storage  jobs.RunStorage
	Families *jobs.Families
}

// Handle returns the newest runs of a registered job first.
func (h GetJobRunsHandler) Handle(ctx context.Context, q GetJobRuns) ([]JobRunDto, error) {
	if _, err := h.Families.Get(q.Job); err != nil {
		return nil, err
	}

	limit := q.Limit
	if limit == 0 {
		limit = DefaultRunsLimit
	}
	if limit < 0 || limit > MaxRunsLimit {
		return nil, ErrInvalidRunsLimit
	}

	runs, err := h.Storage.GetRuns(ctx, q.Job, limit)
	if err != nil {
		return nil, err
	}

	dtos := make([]JobRunDto, 0, len(runs))
	for _, run := range runs {
		dtos = append(dtos, JobRunDto{
			Id:        run.Id,
			Job:       run.Job,
			Origin:    run.Origin,
			Status:    run.Status,
			Reason:    run.Reason,
			StartDate: run.StartDate,
			EndDate:   run.EndDate,
		})
	}

	return dtos, nil
}
