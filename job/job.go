package job

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/xraph/tether"
	"github.com/xraph/tether/id"
)

// State represents the lifecycle state of a job.
type State string

const (
	// StateWaiting means the job is ready to be leased by a worker.
	StateWaiting State = "waiting"
	// StateActive means a worker holds a lease on the job.
	StateActive State = "active"
	// StateWaitingChildren means the job suspended itself until its pending
	// children reach a terminal state.
	StateWaitingChildren State = "waiting-children"
	// StateCompleted means the processor finished successfully.
	StateCompleted State = "completed"
	// StateFailed means the processor returned an error. Failed jobs are
	// never retried by the engine.
	StateFailed State = "failed"
)

// IsTerminal reports whether no further transitions can happen from s.
func (s State) IsTerminal() bool {
	return s == StateCompleted || s == StateFailed
}

// Valid reports whether s is a known state.
func (s State) Valid() bool {
	switch s {
	case StateWaiting, StateActive, StateWaitingChildren, StateCompleted, StateFailed:
		return true
	}
	return false
}

// ParentRef points from a child to the job waiting on it. It is set when
// the child is created and never changes.
type ParentRef struct {
	ID    id.JobID `json:"id"`
	Queue string   `json:"queue"`
}

// Job is a unit of work on a named queue.
type Job struct {
	tether.Entity

	ID    id.JobID `json:"id"`
	Queue string   `json:"queue"`
	Name  string   `json:"name"`
	// Key deduplicates creation within a queue. Empty means no key.
	Key  string          `json:"key,omitempty"`
	Data json.RawMessage `json:"data"`

	State  State      `json:"state"`
	Parent *ParentRef `json:"parent,omitempty"`
	// PendingChildren is owned by the dependency gate.
	PendingChildren int `json:"pending_children"`
	// ParentResolved is set in the same write that releases this job's
	// slot on its parent, so the slot is released at most once.
	ParentResolved bool `json:"parent_resolved,omitempty"`

	LeaseToken     id.LeaseID  `json:"lease_token"`
	LeaseExpiresAt *time.Time  `json:"lease_expires_at,omitempty"`
	WorkerID       id.WorkerID `json:"worker_id"`
	Attempts       int         `json:"attempts"`

	Result json.RawMessage `json:"result,omitempty"`
	Error  string          `json:"error,omitempty"`

	Timeout    time.Duration `json:"timeout,omitempty"`
	StartedAt  *time.Time    `json:"started_at,omitempty"`
	FinishedAt *time.Time    `json:"finished_at,omitempty"`
}

// Clone returns a deep copy of j.
func (j *Job) Clone() *Job {
	cp := *j
	cp.Data = cloneRaw(j.Data)
	cp.Result = cloneRaw(j.Result)
	if j.Parent != nil {
		p := *j.Parent
		cp.Parent = &p
	}
	cp.LeaseExpiresAt = cloneTime(j.LeaseExpiresAt)
	cp.StartedAt = cloneTime(j.StartedAt)
	cp.FinishedAt = cloneTime(j.FinishedAt)
	return &cp
}

// HasParent reports whether j was created as a child.
func (j *Job) HasParent() bool { return j.Parent != nil && !j.Parent.ID.IsNil() }

// IsWaitingChildren reports whether j is suspended on its children.
func (j *Job) IsWaitingChildren() bool { return j.State == StateWaitingChildren }

// CheckLease verifies that token is the live lease on j at time now.
func (j *Job) CheckLease(token id.LeaseID, now time.Time) error {
	if token.IsNil() || j.State != StateActive || !j.LeaseToken.Equal(token) {
		return fmt.Errorf("%w: job %s", tether.ErrLeaseLost, j.ID)
	}
	if j.LeaseExpiresAt == nil || !now.Before(*j.LeaseExpiresAt) {
		return fmt.Errorf("%w: job %s", tether.ErrLeaseExpired, j.ID)
	}
	return nil
}

// ClearLease drops the lease fields.
func (j *Job) ClearLease() {
	j.LeaseToken = id.Nil
	j.LeaseExpiresAt = nil
	j.WorkerID = id.Nil
}

// Decode unmarshals the job data into v.
func (j *Job) Decode(v any) error {
	if len(j.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(j.Data, v); err != nil {
		return fmt.Errorf("decode data for job %s: %w", j.ID, err)
	}
	return nil
}

func cloneRaw(r json.RawMessage) json.RawMessage {
	if r == nil {
		return nil
	}
	return append(json.RawMessage(nil), r...)
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
