// Package memory provides a fully in-memory implementation of store.Store.
// It is safe for concurrent access and intended for unit testing and
// development.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/xraph/tether"
	"github.com/xraph/tether/event"
	"github.com/xraph/tether/id"
	"github.com/xraph/tether/job"
)

// Ensure Store implements the subsystem contracts at compile time.
// We can't import store here (import cycle with its tests), so we verify
// each one.
var (
	_ job.Store      = (*Store)(nil)
	_ event.Notifier = (*Store)(nil)
)

// Store is a fully in-memory implementation of store.Store. A single mutex
// serializes writes, which makes every mutator linearizable.
type Store struct {
	mu sync.RWMutex

	jobs map[string]*job.Job
	// keys maps queue + key to a job id string.
	keys map[string]string
	// waiting indexes waiting job ids per queue.
	waiting map[string]map[string]struct{}

	hub *event.Hub
}

// New returns a new empty Store.
func New() *Store {
	return &Store{
		jobs:    make(map[string]*job.Job),
		keys:    make(map[string]string),
		waiting: make(map[string]map[string]struct{}),
		hub:     event.NewHub(),
	}
}

// Migrate is a no-op for the memory store.
func (m *Store) Migrate(_ context.Context) error { return nil }

// Ping always succeeds for the memory store.
func (m *Store) Ping(_ context.Context) error { return nil }

// Close is a no-op for the memory store.
func (m *Store) Close() error { return nil }

// ──────────────────────────────────────────────────
// Job Store
// ──────────────────────────────────────────────────

// CreateJobs persists jobs and applies parentFn to their parents, all
// under one lock. Nothing is written if any step fails.
func (m *Store) CreateJobs(_ context.Context, jobs []*job.Job, parentFn job.ParentFunc) ([]*job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	result := make([]*job.Job, len(jobs))
	created := make([]*job.Job, 0, len(jobs))
	batchKeys := make(map[string]*job.Job)

	for i, j := range jobs {
		if j.Key != "" {
			k := keyIndex(j.Queue, j.Key)
			if existing, ok := m.keys[k]; ok {
				result[i] = m.jobs[existing].Clone()
				continue
			}
			if dup, ok := batchKeys[k]; ok {
				result[i] = dup.Clone()
				continue
			}
		}
		if _, exists := m.jobs[j.ID.String()]; exists {
			return nil, fmt.Errorf("%w: %s", tether.ErrJobAlreadyExists, j.ID)
		}
		cp := j.Clone()
		if j.Key != "" {
			batchKeys[keyIndex(j.Queue, j.Key)] = cp
		}
		created = append(created, cp)
		result[i] = cp.Clone()
	}

	parents := make(map[string]*job.Job)
	if parentFn != nil {
		order, counts := job.GroupByParent(created)
		for _, pid := range order {
			p, ok := m.jobs[pid.String()]
			if !ok {
				return nil, fmt.Errorf("%w: parent %s", tether.ErrJobNotFound, pid)
			}
			n := counts[pid.String()]
			updated, err := job.Mutate(p, func(pj *job.Job) error { return parentFn(pj, n) })
			if err != nil {
				return nil, err
			}
			parents[pid.String()] = updated
		}
	}

	for _, p := range parents {
		m.put(p)
	}
	for _, j := range created {
		m.put(j)
		if j.Key != "" {
			m.keys[keyIndex(j.Queue, j.Key)] = j.ID.String()
		}
	}
	return result, nil
}

// GetJob retrieves a job by ID.
func (m *Store) GetJob(_ context.Context, jobID id.JobID) (*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	j, ok := m.jobs[jobID.String()]
	if !ok {
		return nil, fmt.Errorf("%w: %s", tether.ErrJobNotFound, jobID)
	}
	return j.Clone(), nil
}

// UpdateJob applies fn to the job under the write lock.
func (m *Store) UpdateJob(_ context.Context, jobID id.JobID, fn job.Mutator) (*job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	j, ok := m.jobs[jobID.String()]
	if !ok {
		return nil, fmt.Errorf("%w: %s", tether.ErrJobNotFound, jobID)
	}
	updated, err := job.Mutate(j, fn)
	if err != nil {
		return nil, err
	}
	m.put(updated)
	return updated.Clone(), nil
}

// UpdateFamily applies childFn to the child and parentFn to its parent
// under one write lock.
func (m *Store) UpdateFamily(_ context.Context, childID id.JobID, childFn, parentFn job.Mutator) (*job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.jobs[childID.String()]
	if !ok {
		return nil, fmt.Errorf("%w: %s", tether.ErrJobNotFound, childID)
	}
	child, err := job.Mutate(c, childFn)
	if err != nil {
		return nil, err
	}

	var parent *job.Job
	if c.HasParent() && parentFn != nil {
		if p, ok := m.jobs[c.Parent.ID.String()]; ok {
			parent, err = job.Mutate(p, parentFn)
			if err != nil {
				return nil, err
			}
		}
	}

	m.put(child)
	if parent != nil {
		m.put(parent)
	}
	return child.Clone(), nil
}

// ClaimJob applies fn to the oldest waiting job of queue.
func (m *Store) ClaimJob(_ context.Context, queue string, fn job.Mutator) (*job.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	candidates := make([]*job.Job, 0, len(m.waiting[queue]))
	for key := range m.waiting[queue] {
		candidates = append(candidates, m.jobs[key])
	}
	if len(candidates) == 0 {
		return nil, nil
	}
	sortJobs(candidates)

	updated, err := job.Mutate(candidates[0], fn)
	if err != nil {
		return nil, err
	}
	m.put(updated)
	return updated.Clone(), nil
}

// ListJobs returns jobs matching the options, oldest first.
func (m *Store) ListJobs(_ context.Context, opts job.ListOpts) ([]*job.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*job.Job, 0, len(m.jobs))
	for _, j := range m.jobs {
		if opts.Queue != "" && j.Queue != opts.Queue {
			continue
		}
		if opts.State != "" && j.State != opts.State {
			continue
		}
		if !opts.Parent.IsNil() && (!j.HasParent() || !j.Parent.ID.Equal(opts.Parent)) {
			continue
		}
		result = append(result, j.Clone())
	}
	sortJobs(result)

	if opts.Offset > 0 {
		if opts.Offset >= len(result) {
			return nil, nil
		}
		result = result[opts.Offset:]
	}
	if opts.Limit > 0 && len(result) > opts.Limit {
		result = result[:opts.Limit]
	}
	return result, nil
}

// CountJobs returns the number of jobs matching the given options.
func (m *Store) CountJobs(_ context.Context, opts job.CountOpts) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var count int64
	for _, j := range m.jobs {
		if opts.Queue != "" && j.Queue != opts.Queue {
			continue
		}
		if opts.State != "" && j.State != opts.State {
			continue
		}
		count++
	}
	return count, nil
}

// DeleteJob removes a job by ID.
func (m *Store) DeleteJob(_ context.Context, jobID id.JobID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := jobID.String()
	j, ok := m.jobs[key]
	if !ok {
		return fmt.Errorf("%w: %s", tether.ErrJobNotFound, jobID)
	}
	delete(m.jobs, key)
	delete(m.waiting[j.Queue], key)
	if j.Key != "" {
		delete(m.keys, keyIndex(j.Queue, j.Key))
	}
	return nil
}

// ──────────────────────────────────────────────────
// Notifier
// ──────────────────────────────────────────────────

// Publish wakes the subscribers of queue.
func (m *Store) Publish(ctx context.Context, queue string) error {
	return m.hub.Publish(ctx, queue)
}

// Subscribe registers interest in queue.
func (m *Store) Subscribe(ctx context.Context, queue string) (*event.Subscription, error) {
	return m.hub.Subscribe(ctx, queue)
}

// put stores j and keeps the waiting index in step. Callers hold mu.
func (m *Store) put(j *job.Job) {
	key := j.ID.String()
	m.jobs[key] = j

	set := m.waiting[j.Queue]
	if j.State == job.StateWaiting {
		if set == nil {
			set = make(map[string]struct{})
			m.waiting[j.Queue] = set
		}
		set[key] = struct{}{}
		return
	}
	delete(set, key)
}

func keyIndex(queue, key string) string { return queue + "\x00" + key }

// sortJobs orders by creation time, then by id, which is time-ordered.
func sortJobs(jobs []*job.Job) {
	sort.Slice(jobs, func(i, k int) bool {
		if !jobs[i].CreatedAt.Equal(jobs[k].CreatedAt) {
			return jobs[i].CreatedAt.Before(jobs[k].CreatedAt)
		}
		return jobs[i].ID.String() < jobs[k].ID.String()
	})
}
