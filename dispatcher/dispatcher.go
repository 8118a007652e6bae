// Package dispatcher forks one tracked task per subscribed handler for every
// event read from the gateway connection.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"hearth/report"

	"go.uber.org/zap"
)

type subscription struct {
	id      uint64
	handler Handler
}

type Dispatcher struct {
	registry *Registry
	reporter report.Reporter
	logger   *zap.SugaredLogger
	baseCtx  context.Context
	now      func() time.Time

	mu      sync.Mutex
	subs    map[EventKind][]subscription
	nextId  uint64
	seen    map[EventKind]struct{}
	stopped bool
}

type Option func(*Dispatcher)

// WithBaseContext sets the context handlers run under. It is never derived
// from the receive path.
func WithBaseContext(ctx context.Context) Option {
	return func(d *Dispatcher) {
		d.baseCtx = ctx
	}
}

func WithRegistry(r *Registry) Option {
	return func(d *Dispatcher) {
		d.registry = r
	}
}

func New(reporter report.Reporter, logger *zap.SugaredLogger, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		registry: NewRegistry(),
		reporter: reporter,
		logger:   logger,
		baseCtx:  context.Background(),
		now:      time.Now,
		subs:     make(map[EventKind][]subscription),
		seen:     make(map[EventKind]struct{}),
	}

	for _, opt := range opts {
		opt(d)
	}

	return d
}

// Subscribe registers handler for kind. The returned func stops future
// dispatch for this registration only; tasks already forked keep running.
func (d *Dispatcher) Subscribe(kind EventKind, handler Handler) func() {
	d.mu.Lock()
	d.nextId++
	id := d.nextId
	d.subs[kind] = append(d.subs[kind], subscription{id: id, handler: handler})
	d.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			d.unsubscribe(kind, id)
		})
	}
}

func (d *Dispatcher) unsubscribe(kind EventKind, id uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	subs := d.subs[kind]
	for i, s := range subs {
		if s.id == id {
			d.subs[kind] = slices.Delete(subs, i, i+1)
			break
		}
	}

	if len(d.subs[kind]) == 0 {
		delete(d.subs, kind)
	}
}

// Dispatch forks one task per active subscription of evt.Kind and returns
// without waiting for any of them.
func (d *Dispatcher) Dispatch(evt Event) error {
	if evt.ReceivedAt.IsZero() {
		evt.ReceivedAt = d.now()
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return ErrDispatcherStopped
	}

	subs := d.subs[evt.Kind]
	if len(subs) == 0 {
		d.logger.Debugf("no handlers for %s", evt.Kind)
		return nil
	}

	d.seen[evt.Kind] = struct{}{}
	for _, s := range subs {
		task := newTask(evt.Kind)
		d.registry.Track(evt.Kind, task)

		go d.runTask(task, s.handler, evt)
	}

	return nil
}

func (d *Dispatcher) runTask(task *Task, handler Handler, evt Event) {
	var err error
	defer func() {
		d.registry.Untrack(task.Kind, task)
		task.finish(err)
	}()

	err = invoke(d.baseCtx, handler, evt)
	if err != nil {
		d.logger.Warnf("handler task %s for %s failed - %v", task.Id, task.Kind, err)
		report.Safely(d.baseCtx, d.reporter, fmt.Errorf("%s handler: %w", task.Kind, err))
	}
}

func invoke(ctx context.Context, handler Handler, evt Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: %v", ErrHandlerPanic, r)
		}
	}()

	return handler(ctx, evt)
}

// Drain waits for every task of kind that is in flight at call time.
func (d *Dispatcher) Drain(ctx context.Context, kind EventKind) error {
	return d.registry.AwaitAll(ctx, kind)
}

func (d *Dispatcher) Pending(kind EventKind) int {
	return d.registry.Pending(kind)
}

// Shutdown stops intake and only then drains every kind ever dispatched.
// Once it has taken the lock no Dispatch can fork further tasks, so the
// drained sets can only shrink.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	d.stopped = true
	kinds := make([]EventKind, 0, len(d.seen))
	for kind := range d.seen {
		kinds = append(kinds, kind)
	}
	d.mu.Unlock()

	d.logger.Infof("dispatcher intake stopped, draining %d event kinds", len(kinds))

	for _, kind := range kinds {
		if err := d.Drain(ctx, kind); err != nil {
			return fmt.Errorf("drain %s: %w", kind, err)
		}
	}

	d.logger.Infoln("dispatcher drained")

	return nil
}

// Run feeds events from source into Dispatch until the source closes, ctx
// ends or the dispatcher is shut down. Every event taken from the source is
// settled: accepted when Dispatch forked it, refused otherwise.
func (d *Dispatcher) Run(ctx context.Context, source Source) error {
	events, err := source.Events(ctx)
	if err != nil {
		return err
	}

	for {
		if err = ctx.Err(); err != nil {
			refuseBuffered(events)
			return err
		}

		select {
		case <-ctx.Done():
			refuseBuffered(events)
			return ctx.Err()
		case evt, ok := <-events:
			if !ok {
				d.logger.Infoln("event source closed")
				return nil
			}

			err = d.Dispatch(evt)
			if evt.Settle != nil {
				evt.Settle(err == nil)
			}
			if errors.Is(err, ErrDispatcherStopped) {
				refuseBuffered(events)
				return nil
			}
		}
	}
}

// refuseBuffered settles the events a source has already queued when intake
// ends, so they are redelivered instead of lost.
func refuseBuffered(events <-chan Event) {
	for {
		select {
		case evt, ok := <-events:
			if !ok {
				return
			}
			if evt.Settle != nil {
				evt.Settle(false)
			}
		default:
			return
		}
	}
}
