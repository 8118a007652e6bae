package commands

import (
	"context"
	"errors"
	"testing"
	"time"

	"hearth/jobs"

	"go.uber.org/zap"
)

func TestTriggerJob(t *testing.T) {
	tests := map[string]struct {
		job  string
		held bool
		body jobs.Body

		expectStatus jobs.JobRunStatus
		expectErr    error
	}{
		"job_succeeds": {
			job:          "reindex",
			body:         func(context.Context) error { return nil },
			expectStatus: jobs.JobSucceed,
		},
		"job_fails": {
			job:          "reindex",
			body:         func(context.Context) error { return errors.New("search cluster unavailable") },
			expectStatus: jobs.JobFailed,
		},
		"job_already_running": {
			job:          "reindex",
			held:         true,
			body:         func(context.Context) error { return nil },
			expectStatus: jobs.JobSkipped,
			expectErr:    jobs.ErrJobAlreadyRunning,
		},
		"unknown_job": {
			job:       "backfill",
			body:      func(context.Context) error { return nil },
			expectErr: jobs.ErrUnknownJob,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			deps := getDeps(test.body)

			if test.held {
				release := deps.hold(t)
				defer release()
			}

			res, err := deps.trigger.Handle(context.Background(), TriggerJob{Job: test.job})

			if test.expectErr != nil {
				if !errors.Is(err, test.expectErr) {
					t.Errorf("expect error %v, got %v", test.expectErr, err)
				}
			}
			if test.expectStatus == jobs.JobFailed && err == nil {
				t.Errorf("expect failed run to return an error")
			}
			if res.Status != test.expectStatus {
				t.Errorf("expect status %q, got %q", test.expectStatus, res.Status)
			}
		})
	}
}

type dependencies struct {
	lock     *jobs.Lock
	families *jobs.Families
	trigger  TriggerJobHandler
	replier  *replierMock
}

func getDeps(body jobs.Body) dependencies {
	logger := zap.NewNop().Sugar()
	lock := jobs.NewLock("reindex")
	families := jobs.NewFamilies(
		jobs.NewFamily(lock, body, nil, nil, logger),
		jobs.NewFamily(jobs.NewLock("sitemap"), func(context.Context) error { return nil }, nil, nil, logger),
	)

	return dependencies{
		lock:     lock,
		families: families,
		trigger:  TriggerJobHandler{Families: families},
		replier:  &replierMock{},
	}
}

// hold keeps the reindex lock busy until the returned func is called.
func (d dependencies) hold(t *testing.T) func() {
	t.Helper()

	release := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = jobs.TryRun(context.Background(), d.lock, func(context.Context) (struct{}, error) {
			<-release
			return struct{}{}, nil
		})
	}()

	for !d.lock.Held() {
		select {
		case <-done:
			t.Fatal("lock was not acquired")
		default:
			time.Sleep(time.Millisecond)
		}
	}

	return func() {
		close(release)
		<-done
	}
}
