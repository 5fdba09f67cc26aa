package registry

import (
	"sync"

	"github.com/google/uuid"

	"github.com/osvaldoandrade/docsync/pkg/domain"
)

// Registry is the ordered collection of upload tasks and the single source
// of truth for what the user currently sees in the upload list. It is a pure
// state container; all transitions are driven by the orchestrator.
type Registry struct {
	mu    sync.Mutex
	order []string
	tasks map[string]*domain.UploadTask
}

func New() *Registry {
	return &Registry{tasks: make(map[string]*domain.UploadTask)}
}

// Add registers a task in arrival order and returns its id.
func (r *Registry) Add(task domain.UploadTask) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	if task.Status == "" {
		task.Status = domain.UploadQueued
	}
	r.order = append(r.order, task.ID)
	r.tasks[task.ID] = &task
	return task.ID
}

// SetProgress updates a task's progress percent, clamped to [0,100].
func (r *Registry) SetProgress(id string, percent int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[id]
	if !ok {
		return
	}
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	t.Progress = percent
}

// SetStatus updates a task's lifecycle status.
func (r *Registry) SetStatus(id string, status domain.UploadStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.tasks[id]; ok {
		t.Status = status
	}
}

// Remove deletes a task. Unknown ids are a no-op.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tasks[id]; !ok {
		return
	}
	delete(r.tasks, id)
	for i, tid := range r.order {
		if tid == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}

// Get returns a copy of one task.
func (r *Registry) Get(id string) (domain.UploadTask, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[id]
	if !ok {
		return domain.UploadTask{}, false
	}
	return *t, true
}

// List returns copies of all tasks in arrival order.
func (r *Registry) List() []domain.UploadTask {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.UploadTask, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, *r.tasks[id])
	}
	return out
}

// NextQueued returns a copy of the first task still waiting to upload.
func (r *Registry) NextQueued() (domain.UploadTask, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range r.order {
		if t := r.tasks[id]; t.Status == domain.UploadQueued {
			return *t, true
		}
	}
	return domain.UploadTask{}, false
}
