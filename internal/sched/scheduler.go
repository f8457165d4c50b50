package sched

import (
	"sync"
	"time"
)

// Scheduler runs keyed one-shot and repeating tasks. Scheduling under an
// existing key replaces the previous task, so callers can re-arm timers
// without tracking whether one is already live.
type Scheduler struct {
	mu    sync.Mutex
	tasks map[string]*task
}

type task struct {
	stop chan struct{}
	once sync.Once
}

func (t *task) cancel() {
	t.once.Do(func() { close(t.stop) })
}

// New creates a Scheduler.
func New() *Scheduler {
	return &Scheduler{tasks: make(map[string]*task)}
}

// ScheduleOnce runs fn once after delay under the given key.
func (s *Scheduler) ScheduleOnce(key string, delay time.Duration, fn func()) {
	t := s.replace(key)
	go func() {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-t.stop:
		case <-timer.C:
			s.remove(key, t)
			fn()
		}
	}()
}

// ScheduleRepeating runs fn every period after an initial delay under the
// given key, until the key is canceled or replaced.
func (s *Scheduler) ScheduleRepeating(key string, initialDelay, period time.Duration, fn func()) {
	t := s.replace(key)
	go func() {
		timer := time.NewTimer(initialDelay)
		defer timer.Stop()
		select {
		case <-t.stop:
			return
		case <-timer.C:
			fn()
		}

		ticker := time.NewTicker(period)
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

// Cancel stops the task registered under key, if any.
func (s *Scheduler) Cancel(key string) {
	s.mu.Lock()
	t, ok := s.tasks[key]
	if ok {
		delete(s.tasks, key)
	}
	s.mu.Unlock()
	if ok {
		t.cancel()
	}
}

// Active reports whether a task is currently registered under key.
func (s *Scheduler) Active(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.tasks[key]
	return ok
}

// Shutdown cancels every registered task.
func (s *Scheduler) Shutdown() {
	s.mu.Lock()
	tasks := s.tasks
	s.tasks = make(map[string]*task)
	s.mu.Unlock()
	for _, t := range tasks {
		t.cancel()
	}
}

func (s *Scheduler) replace(key string) *task {
	t := &task{stop: make(chan struct{})}
	s.mu.Lock()
	prev, ok := s.tasks[key]
	s.tasks[key] = t
	s.mu.Unlock()
	if ok {
		prev.cancel()
	}
	return t
}

// remove drops the key only if it still maps to t; a task that replaced it
// must not be unregistered by the finished one.
func (s *Scheduler) remove(key string, t *task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.tasks[key]; ok && cur == t {
		delete(s.tasks, key)
	}
}
