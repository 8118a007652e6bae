package integration

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"hearth/jobs"
	"hearth/storage"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"
)

func TestJobRunsStorage(t *testing.T) {
	ctx := context.Background()
	pgStorage := startStorage(ctx, t)

	first := jobs.NewJobRun("reindex", jobs.OriginScheduler, getStubDate)
	first.Failed("search cluster unavailable", getStubDate)

	second := jobs.NewJobRun("reindex", jobs.OriginRetry, func() time.Time { return getStubDate().Add(time.Minute) })
	second.Succeed(func() time.Time { return getStubDate().Add(2 * time.Minute) })

	other := jobs.NewJobRun("sitemap", jobs.OriginOperator, getStubDate)
	other.Skipped(getStubDate)

	for _, run := range []jobs.JobRun{first, second, other} {
		if err := pgStorage.AddRun(ctx, run); err != nil {
			t.Fatal(err)
		}
	}

	if err := pgStorage.AddRun(ctx, first); !errors.Is(err, storage.ErrJobRunAlreadyExists) {
		t.Errorf("expect duplicate run error, got %v", err)
	}

	runs, err := pgStorage.GetRuns(ctx, "reindex", 10)
	if err != nil {
		t.Fatal(err)
	}

	if len(runs) != 2 {
		t.Fatalf("expect 2 reindex runs, got %d", len(runs))
	}
	assertRun(t, second, runs[0])
	assertRun(t, first, runs[1])

	limited, err := pgStorage.GetRuns(ctx, "reindex", 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(limited) != 1 || limited[0].Id != second.Id {
		t.Errorf("expect only the newest run, got %+v", limited)
	}
}

func TestFamilyRecordsRunsInStorage(t *testing.T) {
	ctx := context.Background()
	pgStorage := startStorage(ctx, t)

	lock := jobs.NewLock("thread-sync")
	family := jobs.NewFamily(lock, func(context.Context) error { return nil }, pgStorage, nil,
		zap.NewNop().Sugar())

	run, err := family.TryRun(ctx, jobs.OriginOperator)
	if err != nil {
		t.Fatal(err)
	}

	runs, err := pgStorage.GetRuns(ctx, "thread-sync", 0)
	if err != nil {
		t.Fatal(err)
	}

	if len(runs) != 1 {
		t.Fatalf("expect one stored run, got %d", len(runs))
	}
	assertRun(t, run, runs[0])
}

func assertRun(t *testing.T, expected, actual jobs.JobRun) {
	t.Helper()

	if expected.Id != actual.Id || expected.Job != actual.Job || expected.Origin != actual.Origin ||
		expected.Status != actual.Status {
		t.Errorf("expected %+v, got %+v", expected, actual)
	}

	if !expected.StartDate.Equal(actual.StartDate) {
		t.Errorf("expected start date %s, got %s", expected.StartDate, actual.StartDate)
	}

	if (expected.EndDate == nil) != (actual.EndDate == nil) ||
		(expected.EndDate != nil && !expected.EndDate.Equal(*actual.EndDate)) {
		t.Errorf("expected end date %v, got %v", expected.EndDate, actual.EndDate)
	}

	if (expected.Reason == nil) != (actual.Reason == nil) ||
		(expected.Reason != nil && *expected.Reason != *actual.Reason) {
		t.Errorf("expected reason %v, got %v", expected.Reason, actual.Reason)
	}
}

func startStorage(ctx context.Context, t *testing.T) *storage.Pgsql {
	t.Helper()

	pgContainer, err := startPostgres(ctx)
	if err != nil {
		t.Fatal(err)
	}

	t.Cleanup(func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Fatalf("failed to terminate pgContainer: %s", err)
		}
	})

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatal(err)
	}

	pgStorage, err := storage.NewPgsqlConnection(ctx, connStr)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(pgStorage.Close)

	return pgStorage
}

func getStubDate() time.Time {
	d, err := time.Parse(time.RFC3339, "2000-01-01T10:30:00+01:00")
	if err != nil {
		panic(err)
	}

	return d
}

func startPostgres(ctx context.Context) (*postgres.PostgresContainer, error) {
	pgContainer, err := postgres.Run(ctx,
		"postgres:15.3-alpine",
		postgres.WithInitScripts(filepath.Join("../..", "database_schema.sql")),
		postgres.WithDatabase("hearth-integration-test-db"),
		postgres.WithUsername("postgres"),
		postgres.WithPassword("postgres"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).WithStartupTimeout(5*time.Second)))

	return pgContainer, err
}
