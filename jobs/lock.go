package jobs

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/semaphore"
)

// Lock is a single-permit gate for one job family. It is not a queue: a
// caller that finds it held is told so and never waits.
type Lock struct {
	name string
	sem  *semaphore.Weighted

	// serializes non-blocking acquires so Held never steals a TryRun permit
	mu sync.Mutex
}

func NewLock(name string) *Lock {
	return &Lock{name: name, sem: semaphore.NewWeighted(1)}
}

func (l *Lock) Name() string {
	return l.name
}

// Held reports the permit state itself: it is true exactly when a TryRun
// started at the same moment would be skipped.
func (l *Lock) Held() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.sem.TryAcquire(1) {
		return true
	}
	l.sem.Release(1)

	return false
}

func (l *Lock) tryAcquire() bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.sem.TryAcquire(1)
}

// TryRun runs job only if the permit is free right now. The permit is
// released on every exit path of job.
func TryRun[T any](ctx context.Context, l *Lock, job func(ctx context.Context) (T, error)) (Attempt[T], error) {
	if !l.tryAcquire() {
		return Attempt[T]{}, nil
	}
	defer l.sem.Release(1)

	result, err := guard(ctx, job)
	if err != nil {
		return Attempt[T]{Ran: true}, err
	}

	return Attempt[T]{Ran: true, Result: result}, nil
}

// RunExclusive waits for the permit. Only shutdown paths use it; new runs
// always go through TryRun.
func RunExclusive[T any](ctx context.Context, l *Lock, job func(ctx context.Context) (T, error)) (T, error) {
	if err := l.sem.Acquire(ctx, 1); err != nil {
		var zero T
		return zero, err
	}
	defer l.sem.Release(1)

	return guard(ctx, job)
}

// Wait blocks until no job holds the lock.
func (l *Lock) Wait(ctx context.Context) error {
	_, err := RunExclusive(ctx, l, func(context.Context) (struct{}, error) {
		return struct{}{}, nil
	})

	return err
}

func guard[T any](ctx context.Context, job func(ctx context.Context) (T, error)) (result T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrJobPanic, r)
		}
	}()

	return job(ctx)
}

// Locks holds the one lock of every job family. It is built once at start
// and never changes afterwards.
type Locks struct {
	locks map[string]*Lock
}

func NewLocks(names ...string) *Locks {
	locks := make(map[string]*Lock, len(names))
	for _, name := range names {
		if _, exists := locks[name]; !exists {
			locks[name] = NewLock(name)
		}
	}

	return &Locks{locks: locks}
}

func (l *Locks) Get(name string) (*Lock, error) {
	lock, ok := l.locks[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}

	return lock, nil
}
