package task

import (
	"context"
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"resoluta-leech/internal/downloader"
	"resoluta-leech/internal/history"
	"resoluta-leech/internal/storage"
)

var (
	ErrNotFound        = errors.New("task not found")
	ErrAlreadyFinished = errors.New("task already finished")
)

// removeWait bounds how long Remove blocks waiting for a cancelled
// worker to confirm. Past the deadline the task is removed anyway and
// the worker's later writes miss the registry.
const removeWait = 5 * time.Second

// Manager accepts download requests, selects a backend per URL, and
// runs one worker goroutine per download. There is no concurrency cap:
// every accepted request starts immediately.
type Manager struct {
	registry *Registry
	backends []downloader.Backend
	dir      string
	hist     *history.Store // optional, may be nil

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
	done    map[string]chan struct{}
}

func NewManager(dir string, backends []downloader.Backend, hist *history.Store) *Manager {
	return &Manager{
		registry: NewRegistry(),
		backends: backends,
		dir:      dir,
		hist:     hist,
		cancels:  make(map[string]context.CancelFunc),
		done:     make(map[string]chan struct{}),
	}
}

// Options carries optional per-download parameters.
type Options struct {
	Filename string
}

// Add validates and classifies the URL, registers a queued task and
// starts its worker. The destination path is fixed here and never
// changes afterwards.
func (m *Manager) Add(rawURL string, opts Options) (Task, error) {
	if err := downloader.ValidateSource(rawURL); err != nil {
		return Task{}, err
	}
	b := downloader.Select(m.backends, rawURL)

	filename := opts.Filename
	if filename == "" {
		filename = storage.FilenameFromURL(rawURL)
	}
	if filename == "" {
		filename = fmt.Sprintf("download_%d", time.Now().Unix())
	}
	dest := storage.UniquePath(m.dir, storage.SanitizeFilename(filename))

	t := Task{
		ID:        uuid.NewString()[:8],
		URL:       rawURL,
		Host:      b.Name(),
		Status:    StatusQueued,
		Filename:  filepath.Base(dest),
		Filepath:  dest,
		CreatedAt: time.Now(),
	}
	m.registry.Add(t)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	m.mu.Lock()
	m.cancels[t.ID] = cancel
	m.done[t.ID] = done
	m.mu.Unlock()

	go m.run(ctx, t, b, done)
	return t, nil
}

// Status returns a snapshot of the task, or ErrNotFound.
func (m *Manager) Status(id string) (Task, error) {
	t, ok := m.registry.Get(id)
	if !ok {
		return Task{}, ErrNotFound
	}
	return t, nil
}

// List returns snapshots of all known tasks in submission order.
func (m *Manager) List() []Task {
	return m.registry.List()
}

// ActiveCount returns the number of downloads that have not finished.
func (m *Manager) ActiveCount() int {
	return m.registry.ActiveCount()
}

// Cancel requests cooperative cancellation. It does not block waiting
// for the worker: the task turns cancelled once the worker confirms.
func (m *Manager) Cancel(id string) error {
	t, ok := m.registry.Get(id)
	if !ok {
		return ErrNotFound
	}
	if t.Status.Terminal() {
		return ErrAlreadyFinished
	}
	m.mu.Lock()
	cancel := m.cancels[id]
	m.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	return nil
}

// Remove deletes the task record. A still-running download is cancelled
// first and given removeWait to stop; after that the record goes away
// regardless and the worker's remaining writes are dropped by the
// registry.
func (m *Manager) Remove(id string) error {
	t, ok := m.registry.Get(id)
	if !ok {
		return ErrNotFound
	}
	if !t.Status.Terminal() {
		m.mu.Lock()
		cancel := m.cancels[id]
		done := m.done[id]
		m.mu.Unlock()
		if cancel != nil {
			cancel()
		}
		if done != nil {
			select {
			case <-done:
			case <-time.After(removeWait):
				log.Printf("task %s did not stop within %s, removing anyway", id, removeWait)
			}
		}
	}
	m.registry.Remove(id)
	m.mu.Lock()
	delete(m.cancels, id)
	delete(m.done, id)
	m.mu.Unlock()
	return nil
}

// HostInfo describes one supported download host.
type HostInfo struct {
	Name      string   `json:"name"`
	Patterns  []string `json:"patterns"`
	Available bool     `json:"available"`
}

// Hosts reports every registered backend and whether it can serve
// requests right now.
func (m *Manager) Hosts() []HostInfo {
	hosts := make([]HostInfo, 0, len(m.backends))
	for _, b := range m.backends {
		hosts = append(hosts, HostInfo{
			Name:      b.Name(),
			Patterns:  b.Patterns(),
			Available: b.Available(),
		})
	}
	return hosts
}

// HelperAvailable reports whether the MEGA helper backend can run.
func (m *Manager) HelperAvailable() bool {
	for _, b := range m.backends {
		if b.Name() == "MEGA.nz" {
			return b.Available()
		}
	}
	return false
}

// run executes one download to its terminal state. Backend faults are
// recorded on the task, never propagated: one failing download must not
// affect the others.
func (m *Manager) run(ctx context.Context, t Task, b downloader.Backend, done chan struct{}) {
	defer func() {
		m.mu.Lock()
		if cancel := m.cancels[t.ID]; cancel != nil {
			cancel()
		}
		delete(m.cancels, t.ID)
		delete(m.done, t.ID)
		m.mu.Unlock()
		close(done)
	}()

	m.registry.MarkRunning(t.ID)

	err := b.Download(ctx, t.URL, t.Filepath, func(downloaded, total int64) {
		m.registry.UpdateProgress(t.ID, downloaded, total)
	})

	switch {
	case err == nil:
		m.registry.Finish(t.ID, StatusCompleted, "")
	case errors.Is(err, context.Canceled):
		m.registry.Finish(t.ID, StatusCancelled, "")
	default:
		m.registry.Finish(t.ID, StatusFailed, err.Error())
		log.Printf("download %s failed: %v", t.ID, err)
	}

	m.record(t.ID)
}

// record appends the terminal outcome to the history store.
func (m *Manager) record(id string) {
	if m.hist == nil {
		return
	}
	t, ok := m.registry.Get(id)
	if !ok || !t.Status.Terminal() {
		return
	}
	rec := history.Record{
		TaskID:     t.ID,
		URL:        t.URL,
		Host:       t.Host,
		Status:     t.Status.String(),
		Filename:   t.Filename,
		Size:       t.Downloaded,
		Error:      t.Error,
		CreatedAt:  t.CreatedAt,
		FinishedAt: t.FinishedAt,
	}
	if err := m.hist.Add(rec); err != nil {
		log.Printf("failed to record history for task %s: %v", t.ID, err)
	}
}
