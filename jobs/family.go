package jobs

import (
	"context"
	"fmt"
	"time"

	"hearth/report"

	"go.uber.org/zap"
)

// Family binds a job body to the lock every trigger of that job contends
// for: the scheduler, its retries and operator commands.
type Family struct {
	Name     string
	lock     *Lock
	body     Body
	storage  RunStorage
	reporter report.Reporter
	logger   *zap.SugaredLogger
	now      func() time.Time
}

func NewFamily(lock *Lock, body Body, storage RunStorage, reporter report.Reporter,
	logger *zap.SugaredLogger) *Family {
	return &Family{
		Name:     lock.Name(),
		lock:     lock,
		body:     body,
		storage:  storage,
		reporter: reporter,
		logger:   logger,
		now:      time.Now,
	}
}

// TryRun runs the body unless another run holds the lock. A skipped run
// comes back with status JobSkipped and a nil error; a failed body comes
// back with status JobFailed and the body's error, already reported.
func (f *Family) TryRun(ctx context.Context, origin Origin) (JobRun, error) {
	run := NewJobRun(f.Name, origin, f.now)

	attempt, err := TryRun(withOrigin(ctx, origin), f.lock, func(ctx context.Context) (struct{}, error) {
		f.logger.Infof("job %s/%s started by %s", f.Name, run.Id, origin)
		return struct{}{}, f.body(ctx)
	})

	switch {
	case !attempt.Ran:
		run.Skipped(f.now)
	case err != nil:
		run.Failed(err.Error(), f.now)
		f.logger.Errorf("job %s/%s failed - %v", f.Name, run.Id, err)
		report.Safely(ctx, f.reporter, fmt.Errorf("job %s started by %s: %w", f.Name, origin, err))
	default:
		run.Succeed(f.now)
		f.logger.Infof("job %s/%s finished", f.Name, run.Id)
	}

	f.record(ctx, run)

	return run, err
}

func (f *Family) record(ctx context.Context, run JobRun) {
	if f.storage == nil {
		return
	}

	if err := f.storage.AddRun(context.WithoutCancel(ctx), run); err != nil {
		f.logger.Warnf("storing job run %s error - %v", run.Id, err)
	}
}

// Wait blocks until the run in flight, if any, has finished.
func (f *Family) Wait(ctx context.Context) error {
	return f.lock.Wait(ctx)
}

func (f *Family) Running() bool {
	return f.lock.Held()
}

// Families indexes the registered job families by name.
type Families struct {
	families map[string]*Family
	names    []string
}

func NewFamilies(families ...*Family) *Families {
	fs := &Families{families: make(map[string]*Family, len(families))}
	for _, f := range families {
		fs.families[f.Name] = f
		fs.names = append(fs.names, f.Name)
	}

	return fs
}

func (fs *Families) Get(name string) (*Family, error) {
	f, ok := fs.families[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}

	return f, nil
}

func (fs *Families) Names() []string {
	return append([]string(nil), fs.names...)
}
