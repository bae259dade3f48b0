package queue

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/xraph/tether"
	"github.com/xraph/tether/event"
	"github.com/xraph/tether/gate"
	"github.com/xraph/tether/id"
	"github.com/xraph/tether/job"
)

// Queue is a named queue of jobs.
type Queue struct {
	name   string
	store  job.Store
	gate   *gate.Gate
	bus    *event.Bus
	logger *slog.Logger
	now    func() time.Time
	onAdd  func(ctx context.Context, j *job.Job)
}

// Option configures a Queue.
type Option func(*Queue)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(q *Queue) { q.logger = l }
}

// WithClock overrides the time source used for lease checks.
func WithClock(now func() time.Time) Option {
	return func(q *Queue) { q.now = now }
}

// OnAdd registers fn to run for every newly created job.
func OnAdd(fn func(ctx context.Context, j *job.Job)) Option {
	return func(q *Queue) { q.onAdd = fn }
}

// New creates a queue. The name must be non-empty and free of whitespace.
func New(name string, store job.Store, g *gate.Gate, bus *event.Bus, opts ...Option) (*Queue, error) {
	if err := ValidateName(name); err != nil {
		return nil, err
	}
	q := &Queue{
		name:   name,
		store:  store,
		gate:   g,
		bus:    bus,
		logger: slog.Default(),
		now:    func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(q)
	}
	return q, nil
}

// ValidateName checks a queue name.
func ValidateName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty queue name", tether.ErrInvalidArgument)
	}
	if strings.ContainsAny(name, " \t\r\n") {
		return fmt.Errorf("%w: queue name %q contains whitespace", tether.ErrInvalidArgument, name)
	}
	return nil
}

// Name returns the queue name.
func (q *Queue) Name() string { return q.name }

// Add creates one waiting job. See AddBulk for parent handling.
func (q *Queue) Add(ctx context.Context, name string, data any, opts ...job.Option) (*job.Job, error) {
	jobs, err := q.AddBulk(ctx, []job.Entry{{Name: name, Data: data, Options: opts}})
	if err != nil {
		return nil, err
	}
	return jobs[0], nil
}

// AddBulk creates all entries in one atomic batch. Every entry with a
// parent adds one pending child to that parent within the batch. The
// returned slice is parallel to entries. An empty batch is a no-op.
func (q *Queue) AddBulk(ctx context.Context, entries []job.Entry) ([]*job.Job, error) {
	if len(entries) == 0 {
		return nil, nil
	}

	jobs := make([]*job.Job, len(entries))
	for i, e := range entries {
		j, err := q.build(e)
		if err != nil {
			return nil, fmt.Errorf("entry %d: %w", i, err)
		}
		jobs[i] = j
	}

	stored, err := q.store.CreateJobs(ctx, jobs, q.gate.Registrar(jobs))
	if err != nil {
		return nil, fmt.Errorf("queue %q: add: %w", q.name, err)
	}

	created := 0
	for i, s := range stored {
		if !s.ID.Equal(jobs[i].ID) {
			continue
		}
		created++
		if q.onAdd != nil {
			q.onAdd(ctx, s)
		}
	}

	if created > 0 {
		// Jobs are durable at this point; workers fall back to polling
		// if the notification is lost.
		if err := q.bus.Publish(ctx, q.name); err != nil {
			q.logger.Warn("queue notify failed",
				slog.String("queue", q.name),
				slog.String("error", err.Error()),
			)
		}
	}

	q.logger.Debug("jobs added",
		slog.String("queue", q.name),
		slog.Int("entries", len(entries)),
		slog.Int("created", created),
	)
	return stored, nil
}

func (q *Queue) build(e job.Entry) (*job.Job, error) {
	if e.Name == "" {
		return nil, fmt.Errorf("%w: empty job name", tether.ErrInvalidArgument)
	}
	data, err := job.EncodeData(e.Data)
	if err != nil {
		return nil, err
	}
	opts := job.Apply(e.Options...)
	if opts.Parent != nil && (opts.Parent.ID.IsNil() || opts.Parent.Queue == "") {
		return nil, fmt.Errorf("%w: parent reference needs an id and a queue", tether.ErrInvalidArgument)
	}
	if opts.Timeout < 0 {
		return nil, fmt.Errorf("%w: negative timeout", tether.ErrInvalidArgument)
	}

	return &job.Job{
		Entity:  tether.NewEntity(),
		ID:      id.NewJobID(),
		Queue:   q.name,
		Name:    e.Name,
		Key:     opts.Key,
		Data:    data,
		State:   job.StateWaiting,
		Parent:  opts.Parent,
		Timeout: opts.Timeout,
	}, nil
}

// GetJob returns a job of this queue.
func (q *Queue) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	j, err := q.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if j.Queue != q.name {
		return nil, fmt.Errorf("%w: %s is not in queue %q", tether.ErrJobNotFound, jobID, q.name)
	}
	return j, nil
}

// UpdateData shallow-merges the JSON object patch into the job's data.
// Only the current lease holder may update.
func (q *Queue) UpdateData(ctx context.Context, jobID id.JobID, token id.LeaseID, patch any) (*job.Job, error) {
	if _, err := job.EncodeData(patch); err != nil {
		return nil, err
	}
	return q.store.UpdateJob(ctx, jobID, func(j *job.Job) error {
		if j.Queue != q.name {
			return fmt.Errorf("%w: %s is not in queue %q", tether.ErrJobNotFound, jobID, q.name)
		}
		if err := j.CheckLease(token, q.now()); err != nil {
			return err
		}
		data, err := job.MergeData(j.Data, patch)
		if err != nil {
			return err
		}
		j.Data = data
		return nil
	})
}

// IsWaitingChildren reports whether the job is suspended on its children.
func (q *Queue) IsWaitingChildren(ctx context.Context, jobID id.JobID) (bool, error) {
	j, err := q.GetJob(ctx, jobID)
	if err != nil {
		return false, err
	}
	return j.IsWaitingChildren(), nil
}

// Counts returns the number of jobs of this queue in every state.
func (q *Queue) Counts(ctx context.Context) (map[job.State]int64, error) {
	states := []job.State{
		job.StateWaiting, job.StateActive, job.StateWaitingChildren,
		job.StateCompleted, job.StateFailed,
	}
	out := make(map[job.State]int64, len(states))
	for _, s := range states {
		n, err := q.store.CountJobs(ctx, job.CountOpts{Queue: q.name, State: s})
		if err != nil {
			return nil, fmt.Errorf("queue %q: count %s: %w", q.name, s, err)
		}
		out[s] = n
	}
	return out, nil
}

// List returns jobs of this queue, oldest first.
func (q *Queue) List(ctx context.Context, opts job.ListOpts) ([]*job.Job, error) {
	opts.Queue = q.name
	return q.store.ListJobs(ctx, opts)
}
