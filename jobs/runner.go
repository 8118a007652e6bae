package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

type RunnerState string

const (
	Stopped RunnerState = "stopped"
	Running RunnerState = "running"
)

// Runner fires a job family on a cron schedule until stopped. A tick that
// finds the family's lock held is skipped; a failed tick never ends the
// recurrence.
type Runner struct {
	family   *Family
	spec     ScheduleSpec
	schedule cron.Schedule
	location *time.Location
	retry    RetryPolicy
	logger   *zap.SugaredLogger

	mu       sync.Mutex
	state    RunnerState
	cron     *cron.Cron
	retryCtx context.Context
	cancel   context.CancelFunc
	retries  sync.WaitGroup
	attempt  int
}

type RunnerOption func(*Runner)

func WithRetryPolicy(retryPolicy RetryPolicy) RunnerOption {
	return func(r *Runner) {
		r.retry = retryPolicy
	}
}

func NewRunner(family *Family, spec ScheduleSpec, logger *zap.SugaredLogger, opts ...RunnerOption) (*Runner, error) {
	sch, err := spec.Parse()
	if err != nil {
		return nil, err
	}

	loc, err := spec.Location()
	if err != nil {
		return nil, err
	}

	r := &Runner{
		family:   family,
		spec:     spec,
		schedule: sch,
		location: loc,
		logger:   logger,
		state:    Stopped,
	}

	for _, opt := range opts {
		opt(r)
	}

	return r, nil
}

func (r *Runner) State() RunnerState {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.state
}

// Start begins the recurrence in the background and returns immediately.
func (r *Runner) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state == Running {
		return ErrRunnerRunning
	}

	cl := cronLogger{logger: r.logger}
	r.cron = cron.New(
		cron.WithLocation(r.location),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl)))
	r.cron.Schedule(r.schedule, cron.FuncJob(r.tick))

	r.retryCtx, r.cancel = context.WithCancel(context.Background())
	r.attempt = 0
	r.cron.Start()
	r.state = Running

	r.logger.Infof("runner for %s started with schedule %q (%s)", r.family.Name, r.spec.Expression, r.location)

	return nil
}

// Stop ends the recurrence, drops pending retries and waits for the job in
// flight to finish so a batch run is never cut off by shutdown.
func (r *Runner) Stop(ctx context.Context) error {
	r.mu.Lock()
	if r.state == Stopped {
		r.mu.Unlock()
		return nil
	}
	r.state = Stopped
	c := r.cron
	r.cancel()
	r.mu.Unlock()

	ticks := c.Stop()
	select {
	case <-ticks.Done():
	case <-ctx.Done():
		return ctx.Err()
	}

	if err := waitGroup(ctx, &r.retries); err != nil {
		return err
	}

	if err := r.family.Wait(ctx); err != nil {
		return err
	}

	r.logger.Infof("runner for %s stopped", r.family.Name)

	return nil
}

func (r *Runner) tick() {
	r.attemptRun(OriginScheduler)
}

func (r *Runner) attemptRun(origin Origin) {
	run, err := r.family.TryRun(context.Background(), origin)

	if run.Status == JobSkipped {
		r.logger.Infof("job %s is already running, %s attempt skipped", r.family.Name, origin)
		return
	}

	if err != nil {
		r.scheduleRetry()
		return
	}

	r.mu.Lock()
	r.attempt = 0
	r.mu.Unlock()
}

func (r *Runner) scheduleRetry() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.state != Running || r.retryCtx.Err() != nil {
		return
	}

	r.attempt++
	delay, ok := r.retry.Delay(r.attempt)
	if !ok {
		if r.retry != (RetryPolicy{}) {
			r.logger.Warnf("job %s retries exhausted after %d attempts", r.family.Name, r.attempt-1)
		}
		r.attempt = 0
		return
	}

	r.logger.Infof("job %s retry %d in %s", r.family.Name, r.attempt, delay)

	ctx := r.retryCtx
	r.retries.Add(1)
	go func() {
		defer r.retries.Done()

		timer := time.NewTimer(delay)
		defer timer.Stop()

		select {
		case <-timer.C:
			r.attemptRun(OriginRetry)
		case <-ctx.Done():
		}
	}()
}

func waitGroup(ctx context.Context, wg *sync.WaitGroup) error {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// cronLogger routes robfig/cron logging into zap. Routine scheduling output
// goes to debug.
type cronLogger struct {
	logger *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Errorw(msg, append(keysAndValues, "error", err)...)
}
