package jobs

import (
	"testing"
	"time"
)

func TestNewJobRun(t *testing.T) {
	expected := JobRun{
		Id:        [16]byte{},
		Job:       "reindex",
		Origin:    OriginOperator,
		Status:    "",
		Reason:    nil,
		StartDate: getFakeDate().Round(time.Second),
		EndDate:   nil,
	}

	jr := NewJobRun("reindex", OriginOperator, getFakeDate)

	expected.Id = jr.Id

	if jr != expected {
		t.Errorf("expect result %+v, got %+v", expected, jr)
	}
}

func TestJobRunTransitions(t *testing.T) {
	tests := map[string]struct {
		apply func(jr *JobRun)

		expectStatus JobRunStatus
		expectReason string
	}{
		"succeed": {
			apply:        func(jr *JobRun) { jr.Succeed(getFakeDate) },
			expectStatus: JobSucceed,
		},
		"failed": {
			apply:        func(jr *JobRun) { jr.Failed("index unavailable", getFakeDate) },
			expectStatus: JobFailed,
			expectReason: "index unavailable",
		},
		"skipped": {
			apply:        func(jr *JobRun) { jr.Skipped(getFakeDate) },
			expectStatus: JobSkipped,
			expectReason: ErrJobAlreadyRunning.Msg,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			jr := NewJobRun("sitemap", OriginScheduler, getFakeDate)
			test.apply(&jr)

			if jr.Status != test.expectStatus {
				t.Errorf("expect status %s, got %s", test.expectStatus, jr.Status)
			}
			if jr.EndDate == nil || !jr.EndDate.Equal(getFakeDate()) {
				t.Errorf("expect end date %s, got %v", getFakeDate(), jr.EndDate)
			}

			reason := ""
			if jr.Reason != nil {
				reason = *jr.Reason
			}
			if reason != test.expectReason {
				t.Errorf("expect reason %q, got %q", test.expectReason, reason)
			}
		})
	}
}

func getFakeDate() time.Time {
	d, err := time.Parse(time.RFC3339, "2000-01-01T10:30:00+01:00")
	if err != nil {
		panic(err)
	}

	return d
}
