package commands

import (
	"context"
	"time"

	"hearth/jobs"

	"github.com/google/uuid"
)

type TriggerJob struct {
	Job    string
	Origin jobs.Origin
}

type TriggerJobResponse struct {
	JobRunId  uuid.UUID         `json:"jobRunId"`
	Job       string            `json:"job"`
	Status    jobs.JobRunStatus `json:"status"`
	StartDate time.Time         `json:"startDate"`
	EndDate   *time.Time        `json:"endDate"`
}

type TriggerJobHandler struct {
	Families *jobs.Families
}

// Handle runs the job under its family lock and waits for the result. A run
// skipped because the job is already running returns ErrJobAlreadyRunning
// together with the recorded run.
func (h TriggerJobHandler) Handle(ctx context.Context, c TriggerJob) (TriggerJobResponse, error) {
	family, err := h.Families.Get(c.Job)
	if err != nil {
		return TriggerJobResponse{}, err
	}

	origin := c.Origin
	if origin == "" {
		origin = jobs.OriginOperator
	}

	run, err := family.TryRun(ctx, origin)
	res := TriggerJobResponse{
		JobRunId:  run.Id,
		Job:       run.Job,
		Status:    run.Status,
		StartDate: run.StartDate,
		EndDate:   run.EndDate,
	}

	if err != nil {
		return res, err
	}

	if run.Status == jobs.JobSkipped {
		return res, jobs.ErrJobAlreadyRunning
	}

	return res, nil
}
