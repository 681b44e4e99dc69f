package plugin

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/pteroca-com/pluginhost/internal/ports"
)

// DeferredQueue holds work that must run only after the current command
// has finished with the files it touches, such as cache invalidation.
type DeferredQueue struct {
	mu     sync.Mutex
	tasks  []deferredTask
	logger ports.Logger
}

type deferredTask struct {
	name string
	fn   func(context.Context) error
}

// NewDeferredQueue creates an empty queue.
func NewDeferredQueue(logger ports.Logger) *DeferredQueue {
	if logger == nil {
		logger = discardLogger{}
	}
	return &DeferredQueue{logger: logger}
}

// Defer schedules fn to run on the next Flush.
func (q *DeferredQueue) Defer(name string, fn func(context.Context) error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.tasks = append(q.tasks, deferredTask{name: name, fn: fn})
}

// Len returns the number of pending tasks.
func (q *DeferredQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

// Flush runs every pending task in order. All tasks run even if some fail.
func (q *DeferredQueue) Flush(ctx context.Context) error {
	q.mu.Lock()
	tasks := q.tasks
	q.tasks = nil
	q.mu.Unlock()

	var errs []error
	for _, t := range tasks {
		if err := t.fn(ctx); err != nil {
			q.logger.Warn(ctx, "deferred task failed", ports.F("task", t.name), ports.F("error", err.Error()))
			errs = append(errs, fmt.Errorf("%s: %w", t.name, err))
			continue
		}
		q.logger.Debug(ctx, "deferred task done", ports.F("task", t.name))
	}
	return errors.Join(errs...)
}
