package dispatcher

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

type TaskState int32

const (
	Pending TaskState = iota
	Completed
	Failed
)

func (s TaskState) String() string {
	switch s {
	case Completed:
		return "completed"
	case Failed:
		return "failed"
	default:
		return "pending"
	}
}

// Task is one forked handler invocation for one event occurrence.
type Task struct {
	Id   uuid.UUID
	Kind EventKind

	state atomic.Int32
	done  chan struct{}
	once  sync.Once
}

func newTask(kind EventKind) *Task {
	return &Task{
		Id:   uuid.New(),
		Kind: kind,
		done: make(chan struct{}),
	}
}

func (t *Task) State() TaskState {
	return TaskState(t.state.Load())
}

func (t *Task) Done() <-chan struct{} {
	return t.done
}

func (t *Task) finish(err error) {
	t.once.Do(func() {
		if err != nil {
			t.state.Store(int32(Failed))
		} else {
			t.state.Store(int32(Completed))
		}
		close(t.done)
	})
}

// Registry keeps the set of in-flight tasks per event kind. A kind has no
// entry at all while nothing of that kind is running.
type Registry struct {
	mu    sync.Mutex
	tasks map[EventKind]map[uuid.UUID]*Task
}

func NewRegistry() *Registry {
	return &Registry{tasks: make(map[EventKind]map[uuid.UUID]*Task)}
}

func (r *Registry) Track(kind EventKind, task *Task) {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.tasks[kind]
	if !ok {
		set = make(map[uuid.UUID]*Task)
		r.tasks[kind] = set
	}
	set[task.Id] = task
}

func (r *Registry) Untrack(kind EventKind, task *Task) {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.tasks[kind]
	if !ok {
		return
	}

	delete(set, task.Id)
	if len(set) == 0 {
		delete(r.tasks, kind)
	}
}

// AwaitAll waits for the tasks tracked under kind at call time. Tasks tracked
// later are not waited on.
func (r *Registry) AwaitAll(ctx context.Context, kind EventKind) error {
	r.mu.Lock()
	set := r.tasks[kind]
	pending := make([]<-chan struct{}, 0, len(set))
	for _, task := range set {
		pending = append(pending, task.done)
	}
	r.mu.Unlock()

	for _, done := range pending {
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return nil
}

func (r *Registry) Pending(kind EventKind) int {
	r.mu.Lock()
	defer r.mu.Unlock()

	return len(r.tasks[kind])
}
