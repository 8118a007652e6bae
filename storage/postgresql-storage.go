// Package storage persists job run history in PostgreSQL.
package storage

import (
	"context"
	"errors"

	"hearth/jobs"
	"hearth/libs"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	UniqueConstraintViolation string = "23505"
	DefaultRunsLimit          int    = 50
)

var (
	ErrJobRunAlreadyExists = libs.Error{Code: "JOB_RUN_ALREADY_EXISTS", Msg: "job run already stored"}
)

type Pgsql struct {
	pool *pgxpool.Pool
}

func NewPgsqlConnection(ctx context.Context, connectionString string) (*Pgsql, error) {
	dbPool, err := pgxpool.New(ctx, connectionString)
	if err != nil {
		return nil, err
	}

	if err = dbPool.Ping(ctx); err != nil {
		dbPool.Close()
		return nil, err
	}

	return &Pgsql{pool: dbPool}, nil
}

func (s *Pgsql) Close() {
	s.pool.Close()
}

func (s *Pgsql) AddRun(ctx context.Context, run jobs.JobRun) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO job_runs (id, job, origin, status, reason, start_date, end_date)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		run.Id, run.Job, run.Origin, run.Status, run.Reason, run.StartDate, run.EndDate)

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == UniqueConstraintViolation {
			return ErrJobRunAlreadyExists
		}

		return err
	}

	return nil
}

// GetRuns returns the newest runs of job first.
func (s *Pgsql) GetRuns(ctx context.Context, job string, limit int) ([]jobs.JobRun, error) {
	if limit <= 0 {
		limit = DefaultRunsLimit
	}

	rows, err := s.pool.Query(ctx,
		`SELECT id, job, origin, status, reason, start_date, end_date
			FROM job_runs
			WHERE job = $1
			ORDER BY start_date DESC
			LIMIT $2`, job, limit)
	if err != nil {
		return nil, err
	}

	runs, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (jobs.JobRun, error) {
		var run jobs.JobRun
		err := row.Scan(&run.Id, &run.Job, &run.Origin, &run.Status, &run.Reason, &run.StartDate, &run.EndDate)
		return run, err
	})
	if err != nil {
		return nil, err
	}

	return runs, nil
}
