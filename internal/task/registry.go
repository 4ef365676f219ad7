package task

import (
	"math"
	"sync"
	"time"
)

// speedWindow is the minimum spacing between speed recomputations so
// the smoothing policy is uniform no matter how often a backend reports.
const speedWindow = 500 * time.Millisecond

type entry struct {
	task       Task
	lastSample time.Time
	lastBytes  int64
}

// Registry is the concurrent-safe store of all known tasks and the sole
// mutator of task state. Workers report progress and outcomes through
// it; a write against an ID that has been removed is a silent no-op, so
// a worker outliving its task cannot corrupt anything.
type Registry struct {
	mu    sync.RWMutex
	tasks map[string]*entry
	order []string
}

func NewRegistry() *Registry {
	return &Registry{tasks: make(map[string]*entry)}
}

func (r *Registry) Add(t Task) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tasks[t.ID]; exists {
		return
	}
	r.tasks[t.ID] = &entry{task: t, lastSample: t.CreatedAt}
	r.order = append(r.order, t.ID)
}

// Get returns a value snapshot of the task.
func (r *Registry) Get(id string) (Task, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.tasks[id]
	if !ok {
		return Task{}, false
	}
	return e.task, true
}

// List returns snapshots in insertion order.
func (r *Registry) List() []Task {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Task, 0, len(r.order))
	for _, id := range r.order {
		if e, ok := r.tasks[id]; ok {
			out = append(out, e.task)
		}
	}
	return out
}

func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tasks[id]; !ok {
		return false
	}
	delete(r.tasks, id)
	for i, oid := range r.order {
		if oid == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return true
}

// ActiveCount returns the number of tasks that have not finished.
func (r *Registry) ActiveCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	n := 0
	for _, e := range r.tasks {
		if !e.task.Status.Terminal() {
			n++
		}
	}
	return n
}

// MarkRunning flips a queued task to running. Any other state is left alone.
func (r *Registry) MarkRunning(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.tasks[id]
	if !ok || e.task.Status != StatusQueued {
		return
	}
	e.task.Status = StatusRunning
}

// UpdateProgress records a progress observation from a worker and
// recomputes speed from the byte/time delta since the last sample.
func (r *Registry) UpdateProgress(id string, downloaded, total int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.tasks[id]
	if !ok || e.task.Status.Terminal() {
		return
	}
	if total > 0 {
		e.task.Total = total
	}
	if downloaded > e.task.Downloaded {
		e.task.Downloaded = downloaded
	}
	if e.task.Total > 0 && e.task.Downloaded > e.task.Total {
		e.task.Downloaded = e.task.Total
	}

	now := time.Now()
	if since := now.Sub(e.lastSample); since >= speedWindow {
		e.task.Speed = float64(e.task.Downloaded-e.lastBytes) / since.Seconds()
		e.lastSample = now
		e.lastBytes = e.task.Downloaded
	}
	e.task.Progress = percent(e.task.Downloaded, e.task.Total)
}

// Finish moves a task into a terminal state. Transitions out of a
// terminal state are ignored, as are non-terminal targets.
func (r *Registry) Finish(id string, status Status, errMsg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.tasks[id]
	if !ok || e.task.Status.Terminal() || !status.Terminal() {
		return
	}
	e.task.Status = status
	e.task.Speed = 0
	e.task.FinishedAt = time.Now()
	if status == StatusFailed {
		e.task.Error = errMsg
	}
	if status == StatusCompleted {
		if e.task.Total > 0 {
			e.task.Downloaded = e.task.Total
		} else {
			e.task.Total = e.task.Downloaded
		}
	}
	e.task.Progress = percent(e.task.Downloaded, e.task.Total)
}

func percent(downloaded, total int64) float64 {
	if total <= 0 {
		return 0
	}
	return math.Round(float64(downloaded)/float64(total)*1000) / 10
}
