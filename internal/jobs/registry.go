package jobs

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"modelgen/internal/domain"
	"modelgen/internal/infra"
)

// ChangeKind classifies a registry mutation.
type ChangeKind string

const (
	ChangeAdded    ChangeKind = "added"
	ChangeUpdated  ChangeKind = "updated"
	ChangeDeleted  ChangeKind = "deleted"
	ChangeRestored ChangeKind = "restored"
)

// Change describes one committed mutation. Job is a copy of the job after the
// change (before it, for deletions). From is the status before the change.
type Change struct {
	Kind  ChangeKind
	JobID string
	From  domain.Status
	Job   domain.Job
}

// Transitioned reports whether the change moved the job into a new status.
func (c Change) Transitioned() bool {
	return c.Kind == ChangeUpdated && c.From != c.Job.Status
}

// Listener receives change notifications in commit order, after the registry
// lock is released. Listeners may read the registry but must not mutate it
// synchronously.
type Listener func(Change)

// Registry is the single source of truth for the jobs known to a session.
// Jobs are kept newest first. It performs no I/O.
type Registry struct {
	// commitMu serializes mutations together with their delivery.
	commitMu sync.Mutex

	mu    sync.RWMutex
	order []string
	jobs  map[string]domain.Job

	subsMu sync.RWMutex
	subs   map[int]Listener
	nextID int

	logger *infra.Logger
	now    func() time.Time
}

// RegistryOptions configures a Registry.
type RegistryOptions struct {
	Logger *infra.Logger
	Now    func() time.Time
}

// NewRegistry constructs an empty registry.
func NewRegistry(opts RegistryOptions) *Registry {
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Registry{
		jobs:   make(map[string]domain.Job),
		subs:   make(map[int]Listener),
		logger: infra.OrDiscard(opts.Logger),
		now:    now,
	}
}

// Subscribe registers fn for change notifications and returns a function that
// removes it.
func (r *Registry) Subscribe(fn Listener) func() {
	r.subsMu.Lock()
	id := r.nextID
	r.nextID++
	r.subs[id] = fn
	r.subsMu.Unlock()
	return func() {
		r.subsMu.Lock()
		delete(r.subs, id)
		r.subsMu.Unlock()
	}
}

func (r *Registry) publish(c Change) {
	r.subsMu.RLock()
	listeners := make([]Listener, 0, len(r.subs))
	for _, fn := range r.subs {
		listeners = append(listeners, fn)
	}
	r.subsMu.RUnlock()
	for _, fn := range listeners {
		fn(c)
	}
}

// Add inserts job at the head of the registry. Duplicate ids are rejected.
func (r *Registry) Add(job domain.Job) error {
	r.commitMu.Lock()
	defer r.commitMu.Unlock()

	job.ID = strings.TrimSpace(job.ID)
	if job.ID == "" {
		return fmt.Errorf("jobs: add: id is required")
	}
	if job.Status == "" {
		job.Status = domain.StatusPending
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = r.now()
	}
	job = job.Clone()

	r.mu.Lock()
	if _, exists := r.jobs[job.ID]; exists {
		r.mu.Unlock()
		return fmt.Errorf("jobs: add %s: %w", job.ID, domain.ErrDuplicateID)
	}
	r.jobs[job.ID] = job
	r.order = append([]string{job.ID}, r.order...)
	r.mu.Unlock()

	r.publish(Change{Kind: ChangeAdded, JobID: job.ID, From: job.Status, Job: job.Clone()})
	return nil
}

// Update merges patch into the job identified by id. The merge is applied
// atomically; readers never observe a partially merged job.
func (r *Registry) Update(id string, patch domain.Patch) (domain.Job, error) {
	r.commitMu.Lock()
	defer r.commitMu.Unlock()

	r.mu.Lock()
	current, ok := r.jobs[id]
	if !ok {
		r.mu.Unlock()
		return domain.Job{}, fmt.Errorf("jobs: update %s: %w", id, domain.ErrNotFound)
	}
	next, err := domain.Merge(current, patch, r.now())
	if err != nil {
		r.mu.Unlock()
		return current.Clone(), err
	}
	r.jobs[id] = next
	r.mu.Unlock()

	if next.Status == domain.StatusCompleted && current.Status != domain.StatusCompleted && len(next.Downloads) == 0 {
		r.logger.Warn().Str("job_id", id).Msg("registry: job completed without downloads")
	}
	r.publish(Change{Kind: ChangeUpdated, JobID: id, From: current.Status, Job: next.Clone()})
	return next.Clone(), nil
}

// Rename changes the display name of a job in any status. It never touches
// the status fields, so it is allowed on terminal jobs.
func (r *Registry) Rename(id, name string) (domain.Job, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.Job{}, fmt.Errorf("jobs: rename %s: name is required", id)
	}
	r.commitMu.Lock()
	defer r.commitMu.Unlock()

	r.mu.Lock()
	job, ok := r.jobs[id]
	if !ok {
		r.mu.Unlock()
		return domain.Job{}, fmt.Errorf("jobs: rename %s: %w", id, domain.ErrNotFound)
	}
	job.Name = name
	r.jobs[id] = job
	r.mu.Unlock()

	r.publish(Change{Kind: ChangeUpdated, JobID: id, From: job.Status, Job: job.Clone()})
	return job.Clone(), nil
}

// Delete removes the job. The generation API is not notified.
func (r *Registry) Delete(id string) (domain.Job, error) {
	r.commitMu.Lock()
	defer r.commitMu.Unlock()

	r.mu.Lock()
	job, ok := r.jobs[id]
	if !ok {
		r.mu.Unlock()
		return domain.Job{}, fmt.Errorf("jobs: delete %s: %w", id, domain.ErrNotFound)
	}
	delete(r.jobs, id)
	for i, existing := range r.order {
		if existing == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	r.mu.Unlock()

	r.publish(Change{Kind: ChangeDeleted, JobID: id, From: job.Status, Job: job.Clone()})
	return job.Clone(), nil
}

// Get returns a copy of the job identified by id.
func (r *Registry) Get(id string) (domain.Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	job, ok := r.jobs[id]
	if !ok {
		return domain.Job{}, fmt.Errorf("jobs: get %s: %w", id, domain.ErrNotFound)
	}
	return job.Clone(), nil
}

// List returns a newest-first copy of every job.
func (r *Registry) List() []domain.Job {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Job, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.jobs[id].Clone())
	}
	return out
}

// Len reports the number of jobs.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// Active returns the ids of non-terminal jobs, newest first.
func (r *Registry) Active() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var ids []string
	for _, id := range r.order {
		if !r.jobs[id].Status.Terminal() {
			ids = append(ids, id)
		}
	}
	return ids
}

// HasActive reports whether any job is non-terminal.
func (r *Registry) HasActive() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, job := range r.jobs {
		if !job.Status.Terminal() {
			return true
		}
	}
	return false
}

// Restore replaces the registry contents with jobs loaded from a durable
// store. Input order is kept; entries without an id or repeating an earlier id
// are skipped.
func (r *Registry) Restore(jobs []domain.Job) int {
	r.commitMu.Lock()
	defer r.commitMu.Unlock()

	order := make([]string, 0, len(jobs))
	byID := make(map[string]domain.Job, len(jobs))
	for _, job := range jobs {
		id := strings.TrimSpace(job.ID)
		if id == "" {
			r.logger.Warn().Msg("registry: skipping restored job without id")
			continue
		}
		if _, dup := byID[id]; dup {
			r.logger.Warn().Str("job_id", id).Msg("registry: skipping duplicate restored job")
			continue
		}
		if _, known := domain.ParseStatus(string(job.Status)); !known {
			r.logger.Warn().Str("job_id", id).Str("status", string(job.Status)).Msg("registry: restored job has unknown status, treating as pending")
			job.Status = domain.StatusPending
		}
		job.ID = id
		byID[id] = job.Clone()
		order = append(order, id)
	}

	r.mu.Lock()
	r.order = order
	r.jobs = byID
	r.mu.Unlock()

	r.publish(Change{Kind: ChangeRestored})
	return len(order)
}
