// Package lease grants exclusive, time-bounded ownership of jobs to a
// worker. A Manager serves one queue: it bounds the number of leases held
// at once, claims the oldest waiting job, renews and releases leases, and
// sweeps expired ones back to waiting.
package lease

import (
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/xraph/tether/id"
)

// Lease is one worker's ownership of one job.
type Lease struct {
	JobID    id.JobID
	Queue    string
	Token    id.LeaseID
	WorkerID id.WorkerID

	expiresAt atomic.Int64
	released  atomic.Bool
}

func newLease(jobID id.JobID, queue string, token id.LeaseID, worker id.WorkerID, exp time.Time) *Lease {
	l := &Lease{JobID: jobID, Queue: queue, Token: token, WorkerID: worker}
	l.expiresAt.Store(exp.UnixNano())
	return l
}

// ExpiresAt returns the expiry as of the last grant or renewal.
func (l *Lease) ExpiresAt() time.Time {
	return time.Unix(0, l.expiresAt.Load()).UTC()
}

func (l *Lease) setExpiry(t time.Time) { l.expiresAt.Store(t.UnixNano()) }

// Released reports whether the lease's slot has been given back.
func (l *Lease) Released() bool { return l.released.Load() }

type outcomeKind int

const (
	outcomeCompleted outcomeKind = iota
	outcomeFailed
	outcomeWaiting
)

// Outcome tells Release how a dispatch ended.
type Outcome struct {
	kind   outcomeKind
	result any
	err    error
}

// Completed ends the job successfully with result, which is stored as JSON.
func Completed(result any) Outcome {
	return Outcome{kind: outcomeCompleted, result: result}
}

// Failed ends the job with err.
func Failed(err error) Outcome {
	return Outcome{kind: outcomeFailed, err: err}
}

// ReleaseForWaiting gives back the slot of a job that suspended itself on
// its children. The lease on the record is already cleared.
func ReleaseForWaiting() Outcome {
	return Outcome{kind: outcomeWaiting}
}

// String returns the outcome name.
func (o Outcome) String() string {
	switch o.kind {
	case outcomeCompleted:
		return "completed"
	case outcomeFailed:
		return "failed"
	default:
		return "waiting-children"
	}
}

func encodeResult(v any) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	if raw, ok := v.(json.RawMessage); ok {
		return raw, nil
	}
	return json.Marshal(v)
}
