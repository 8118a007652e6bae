package queries

import (
	"context"
	"time"

	"hearth/jobs"
)

type JobDto struct {
	Name              string     `json:"name"`
	Schedule          string     `json:"schedule"`
	Timezone          string     `json:"timezone"`
	Running           bool       `json:"running"`
	NextExecutionDate *time.Time `json:"nextExecutionDate"`
}

type GetJobsHandler struct {
	Families  *jobs.Families
	Schedules map[string]jobs.ScheduleSpec
	Now       func() time.Time
}

func (h GetJobsHandler) Handle(_ context.Context) ([]JobDto, error) {
	now := time.Now
	if h.Now != nil {
		now = h.Now
	}

	names := h.Families.Names()
	dtos := make([]JobDto, 0, len(names))
	for _, name := range names {
		family, err := h.Families.Get(name)
		if err != nil {
			return nil, err
		}

		dto := JobDto{Name: name, Running: family.Running()}

		if spec, ok := h.Schedules[name]; ok {
			dto.Schedule = spec.Expression
			dto.Timezone = spec.Timezone

			next, err := spec.Next(now())
			if err != nil {
				return nil, err
			}
			next = next.UTC()
			dto.NextExecutionDate = &next
		}

		dtos = append(dtos, dto)
	}

	return dtos, nil
}
