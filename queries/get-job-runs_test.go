package queries

import (
	"context"
	"errors"
	"testing"
	"time"

	"hearth/jobs"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

func TestGetJobRuns(t *testing.T) {
	tests := map[string]struct {
		query GetJobRuns

		expectLen   int
		expectLimit int
		expectErr   error
	}{
		"default_limit": {
			query:       GetJobRuns{Job: "reindex"},
			expectLen:   2,
			expectLimit: DefaultRunsLimit,
		},
		"explicit_limit": {
			query:       GetJobRuns{Job: "reindex", Limit: 1},
			expectLen:   1,
			expectLimit: 1,
		},
		"limit_out_of_range": {
			query:     GetJobRuns{Job: "reindex", Limit: MaxRunsLimit + 1},
			expectErr: ErrInvalidRunsLimit,
		},
		"unknown_job": {
			query:     GetJobRuns{Job: "backfill"},
			expectErr: jobs.ErrUnknownJob,
		},
		"storage_returns_error": {
			query:     GetJobRuns{Job: "broken"},
			expectErr: errStorage,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			deps := getDeps()
			runs, err := deps.runsHandler.Handle(context.Background(), test.query)

			if test.expectErr != nil {
				if !errors.Is(err, test.expectErr) {
					t.Errorf("expect error %v, got %v", test.expectErr, err)
				}
				return
			}

			if err != nil {
				t.Fatalf("unexpected error %v", err)
			}
			if len(runs) != test.expectLen {
				t.Errorf("expect %d runs, got %d", test.expectLen, len(runs))
			}
			if deps.storage.limit != test.expectLimit {
				t.Errorf("expect limit %d, got %d", test.expectLimit, deps.storage.limit)
			}
			if runs[0].Job != "reindex" || runs[0].Status != jobs.JobFailed {
				t.Errorf("expect newest run first, got %+v", runs[0])
			}
		})
	}
}

func TestGetJobs(t *testing.T) {
	deps := getDeps()

	result, err := deps.jobsHandler.Handle(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	if len(result) != 3 {
		t.Fatalf("expect 3 jobs, got %d", len(result))
	}

	reindex := result[0]
	if reindex.Name != "reindex" || reindex.Schedule != "0 3 * * *" || reindex.Running {
		t.Errorf("unexpected job %+v", reindex)
	}

	expectNext := time.Date(2000, 1, 2, 3, 0, 0, 0, time.UTC)
	if reindex.NextExecutionDate == nil || !reindex.NextExecutionDate.Equal(expectNext) {
		t.Errorf("expect next execution %s, got %v", expectNext, reindex.NextExecutionDate)
	}

	if result[2].NextExecutionDate != nil {
		t.Errorf("expect job without schedule to have no next execution")
	}
}

var errStorage = errors.New("storage error")

type dependencies struct {
	storage     *storageDriverMock
	runsHandler GetJobRunsHandler
	jobsHandler GetJobsHandler
}

func getDeps() dependencies {
	logger := zap.NewNop().Sugar()
	noop := func(context.Context) error { return nil }

	families := jobs.NewFamilies(
		jobs.NewFamily(jobs.NewLock("reindex"), noop, nil, nil, logger),
		jobs.NewFamily(jobs.NewLock("sitemap"), noop, nil, nil, logger),
		jobs.NewFamily(jobs.NewLock("broken"), noop, nil, nil, logger),
	)

	reason := "search cluster unavailable"
	end := getFakeDate().Add(time.Minute)
	storage := &storageDriverMock{
		runs: []jobs.JobRun{
			{Id: uuid.New(), Job: "reindex", Origin: jobs.OriginScheduler, Status: jobs.JobFailed,
				Reason: &reason, StartDate: getFakeDate(), EndDate: &end},
			{Id: uuid.New(), Job: "reindex", Origin: jobs.OriginOperator, Status: jobs.JobSucceed,
				StartDate: getFakeDate().Add(-time.Hour), EndDate: &end},
		},
	}

	return dependencies{
		storage:     storage,
		runsHandler: GetJobRunsHandler{Storage: storage, Families: families},
		jobsHandler: GetJobsHandler{
			Families: families,
			Schedules: map[string]jobs.ScheduleSpec{
				"reindex": {Expression: "0 3 * * *", Timezone: "UTC"},
				"sitemap": {Expression: "@hourly"},
			},
			Now: getFakeDate,
		},
	}
}

func getFakeDate() time.Time {
	return time.Date(2000, 1, 1, 10, 30, 0, 0, time.UTC)
}

type storageDriverMock struct {
	runs  []jobs.JobRun
	limit int
}

func (s *storageDriverMock) AddRun(_ context.Context, run jobs.JobRun) error {
	s.runs = append(s.runs, run)
	return nil
}

func (s *storageDriverMock) GetRuns(_ context.Context, job string, limit int) ([]jobs.JobRun, error) {
	s.limit = limit
	if job == "broken" {
		return nil, errStorage
	}

	var result []jobs.JobRun
	for _, run := range s.runs {
		if run.Job == job && len(result) < limit {
			result = append(result, run)
		}
	}

	return result, nil
}
