package fanout

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/tether"
	"github.com/xraph/tether/id"
	"github.com/xraph/tether/job"
)

// Step is the position of a parent in its step machine.
type Step int

const (
	// Initial adds the children.
	Initial Step = iota
	// Waiting suspends the parent until its children are terminal.
	Waiting
	// Finish is the final step.
	Finish
)

// String returns the step name.
func (s Step) String() string {
	switch s {
	case Initial:
		return "initial"
	case Waiting:
		return "waiting"
	case Finish:
		return "finish"
	default:
		return fmt.Sprintf("step(%d)", int(s))
	}
}

// Valid reports whether s belongs to the step machine.
func (s Step) Valid() bool { return s >= Initial && s <= Finish }

// ParentData is the persisted state of a parent job.
type ParentData struct {
	Step Step `json:"step"`
}

// ChildData is the payload of the children created by a Parent.
type ChildData struct {
	Foo string `json:"foo,omitempty"`
}

// ChildKey returns the idempotency key of the i-th child of parent.
func ChildKey(parent id.JobID, i int) string {
	return fmt.Sprintf("%s/%d", parent, i)
}

// ChildName returns the name of the i-th child of the parent job called
// parentName.
func ChildName(parentName string, i int) string {
	return fmt.Sprintf("%s:child_job:%d", parentName, i)
}

// Option configures a Parent.
type Option func(*Parent)

// WithLogger sets the logger of the processor.
func WithLogger(l *slog.Logger) Option {
	return func(p *Parent) { p.logger = l }
}

// WithChildData sets the payload builder for the i-th child. The default
// yields ChildData{Foo: "bar-<i>"}.
func WithChildData(fn func(i int) any) Option {
	return func(p *Parent) { p.childData = fn }
}

// Parent fans out a fixed number of children and completes once all of
// them are terminal.
type Parent struct {
	childQueue string
	children   int
	childData  func(i int) any
	logger     *slog.Logger
}

var _ job.Processor = (*Parent)(nil)

// NewParent creates a Parent that adds n children to childQueue.
func NewParent(childQueue string, n int, opts ...Option) *Parent {
	p := &Parent{
		childQueue: childQueue,
		children:   n,
		childData: func(i int) any {
			return ChildData{Foo: fmt.Sprintf("bar-%d", i)}
		},
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Process implements job.Processor.
func (p *Parent) Process(ctx context.Context, h job.Handle) (any, error) {
	j := h.Job()
	step, err := decodeStep(j.Data)
	if err != nil {
		return nil, err
	}
	p.logger.Info("parent dispatched",
		slog.String("job_id", j.ID.String()),
		slog.String("job_name", j.Name),
		slog.String("step", step.String()),
	)

	for {
		switch step {
		case Initial:
			entries := make([]job.Entry, p.children)
			for i := range p.children {
				entries[i] = job.Entry{
					Name:    ChildName(j.Name, i),
					Data:    p.childData(i),
					Options: []job.Option{job.WithKey(ChildKey(j.ID, i))},
				}
			}
			if _, err := h.AddChildren(ctx, p.childQueue, entries); err != nil {
				return nil, fmt.Errorf("add children: %w", err)
			}
			step = Waiting
			if err := h.UpdateData(ctx, ParentData{Step: step}); err != nil {
				return nil, fmt.Errorf("persist step: %w", err)
			}

		case Waiting:
			wait, err := h.SuspendIfPending(ctx)
			if err != nil {
				return nil, fmt.Errorf("suspend: %w", err)
			}
			if wait {
				p.logger.Info("parent waiting for children",
					slog.String("job_id", j.ID.String()),
				)
				return nil, nil
			}
			step = Finish
			if err := h.UpdateData(ctx, ParentData{Step: step}); err != nil {
				return nil, fmt.Errorf("persist step: %w", err)
			}
			p.logger.Info("parent finished", slog.String("job_id", j.ID.String()))
			return step, nil

		case Finish:
			// Finish was persisted but the completion was not.
			return step, nil

		default:
			return nil, fmt.Errorf("%w: %d", tether.ErrInvalidStep, int(step))
		}
	}
}

func decodeStep(data json.RawMessage) (Step, error) {
	var d struct {
		Step *json.Number `json:"step"`
	}
	if len(data) > 0 {
		if err := json.Unmarshal(data, &d); err != nil {
			return 0, fmt.Errorf("%w: %v", tether.ErrInvalidStep, err)
		}
	}
	if d.Step == nil {
		return Initial, nil
	}
	n, err := d.Step.Int64()
	if err != nil {
		return 0, fmt.Errorf("%w: %q", tether.ErrInvalidStep, d.Step.String())
	}
	s := Step(n)
	if !s.Valid() {
		return 0, fmt.Errorf("%w: %d", tether.ErrInvalidStep, n)
	}
	return s, nil
}

// Child is a leaf processor that sleeps for a fixed delay.
type Child struct {
	delay  time.Duration
	logger *slog.Logger
}

var _ job.Processor = (*Child)(nil)

// NewChild creates a Child that sleeps for delay on every dispatch.
func NewChild(delay time.Duration, logger *slog.Logger) *Child {
	if logger == nil {
		logger = slog.Default()
	}
	return &Child{delay: delay, logger: logger}
}

// Process implements job.Processor.
func (c *Child) Process(ctx context.Context, h job.Handle) (any, error) {
	j := h.Job()
	c.logger.Info("child started", slog.String("job_name", j.Name))

	t := time.NewTimer(c.delay)
	defer t.Stop()
	select {
	case <-t.C:
		return nil, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
