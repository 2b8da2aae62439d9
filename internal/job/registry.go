package job

import (
	"errors"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// ErrJobNotFound is returned by Get for unknown ids.
var ErrJobNotFound = errors.New("job not found")

// Registry is the process-wide table of jobs.
//
// Jobs are never removed; the table is bounded by process lifetime.
type Registry struct {
	mu   sync.RWMutex
	jobs map[string]*Job
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{jobs: make(map[string]*Job)}
}

// Create allocates a job with a fresh id and status processing.
func (r *Registry) Create(src Source) *Job {
	j := newJob(uuid.NewString(), src)

	r.mu.Lock()
	r.jobs[j.ID] = j
	r.mu.Unlock()

	return j
}

// Get returns the job with the given id or ErrJobNotFound.
func (r *Registry) Get(id string) (*Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	j, ok := r.jobs[id]
	if !ok {
		return nil, ErrJobNotFound
	}
	return j, nil
}

// List returns status snapshots of every job, oldest first.
func (r *Registry) List() []StatusSnapshot {
	r.mu.RLock()
	jobs := make([]*Job, 0, len(r.jobs))
	for _, j := range r.jobs {
		jobs = append(jobs, j)
	}
	r.mu.RUnlock()

	sort.Slice(jobs, func(a, b int) bool {
		return jobs[a].CreatedAt.Before(jobs[b].CreatedAt)
	})

	out := make([]StatusSnapshot, len(jobs))
	for i, j := range jobs {
		out[i] = j.Snapshot()
	}
	return out
}

// Len returns the number of jobs ever created.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.jobs)
}

// CountByStatus returns how many jobs are in each status.
func (r *Registry) CountByStatus() map[Status]int {
	r.mu.RLock()
	jobs := make([]*Job, 0, len(r.jobs))
	for _, j := range r.jobs {
		jobs = append(jobs, j)
	}
	r.mu.RUnlock()

	counts := make(map[Status]int, 4)
	for _, j := range jobs {
		counts[j.Status()]++
	}
	return counts
}
