// Package sched provides a small scheduler with named, cancellable,
// reschedulable tasks. Components register repeating ticks (liveness
// checks, REST polls) and one-shot timers (reconnect backoff, fee
// grace) by name and tear them down explicitly when their owner goes
// away.
package sched

import (
	"log/slog"
	"sync"
	"time"
)

// Scheduler owns a set of named tasks. Scheduling a name that is
// already registered replaces the previous task.
type Scheduler struct {
	logger *slog.Logger

	mu     sync.Mutex
	tasks  map[string]*task
	closed bool
}

type task struct {
	stop chan struct{}
	once sync.Once
}

func (t *task) cancel() {
	t.once.Do(func() { close(t.stop) })
}

// New creates an empty scheduler.
func New(logger *slog.Logger) *Scheduler {
	return &Scheduler{
		logger: logger.With(slog.String("component", "sched")),
		tasks:  make(map[string]*task),
	}
}

// Every runs fn repeatedly at the given interval until the task is
// cancelled or the scheduler closed. The first run happens after one
// interval, not immediately.
func (s *Scheduler) Every(name string, interval time.Duration, fn func()) {
	t := s.register(name)
	if t == nil {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-t.stop:
				return
			case <-ticker.C:
				fn()
			}
		}
	}()
}

// After runs fn once after d, unless cancelled first. Rescheduling the
// same name resets the delay.
func (s *Scheduler) After(name string, d time.Duration, fn func()) {
	t := s.register(name)
	if t == nil {
		return
	}
	go func() {
		timer := time.NewTimer(d)
		defer timer.Stop()
		select {
		case <-t.stop:
		case <-timer.C:
			// Deregister before running so fn may reschedule itself.
			s.Cancel(name)
			fn()
		}
	}()
}

// Cancel stops the named task. Cancelling an unknown name is a no-op.
func (s *Scheduler) Cancel(name string) {
	s.mu.Lock()
	t, ok := s.tasks[name]
	if ok {
		delete(s.tasks, name)
	}
	s.mu.Unlock()
	if ok {
		t.cancel()
	}
}

// Active reports whether a task with the given name is registered.
func (s *Scheduler) Active(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.tasks[name]
	return ok
}

// Close cancels every task. The scheduler accepts no new tasks after
// Close.
func (s *Scheduler) Close() {
	s.mu.Lock()
	tasks := s.tasks
	s.tasks = make(map[string]*task)
	s.closed = true
	s.mu.Unlock()

	for _, t := range tasks {
		t.cancel()
	}
}

// register creates (or replaces) the named task. Returns nil when the
// scheduler is closed.
func (s *Scheduler) register(name string) *task {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.logger.Warn("schedule on closed scheduler", slog.String("task", name))
		return nil
	}
	if prev, ok := s.tasks[name]; ok {
		prev.cancel()
	}
	t := &task{stop: make(chan struct{})}
	s.tasks[name] = t
	s.mu.Unlock()
	return t
}
