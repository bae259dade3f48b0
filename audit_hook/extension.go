package audithook

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/tether/ext"
	"github.com/xraph/tether/job"
)

// Compile-time interface checks.
var (
	_ ext.Extension      = (*Extension)(nil)
	_ ext.JobAdded       = (*Extension)(nil)
	_ ext.JobStarted     = (*Extension)(nil)
	_ ext.JobCompleted   = (*Extension)(nil)
	_ ext.JobFailed      = (*Extension)(nil)
	_ ext.JobSuspended   = (*Extension)(nil)
	_ ext.JobResumed     = (*Extension)(nil)
	_ ext.LeaseReclaimed = (*Extension)(nil)
)

// Recorder persists audit events.
type Recorder interface {
	Record(ctx context.Context, event *AuditEvent) error
}

// AuditEvent is one audit record.
type AuditEvent struct {
	Action   string `json:"action"`
	Resource string `json:"resource"`
	Category string `json:"category"`

	ResourceID string         `json:"resource_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Outcome    string         `json:"outcome"`
	Severity   string         `json:"severity"`
	Reason     string         `json:"reason,omitempty"`
}

// RecorderFunc adapts a function to Recorder.
type RecorderFunc func(ctx context.Context, event *AuditEvent) error

// Record implements Recorder.
func (f RecorderFunc) Record(ctx context.Context, event *AuditEvent) error {
	return f(ctx, event)
}

// NewSlogRecorder returns a Recorder that writes every event as one log
// record. Critical events are logged at error level, warnings at warn.
func NewSlogRecorder(logger *slog.Logger) Recorder {
	return RecorderFunc(func(ctx context.Context, evt *AuditEvent) error {
		level := slog.LevelInfo
		switch evt.Severity {
		case SeverityWarning:
			level = slog.LevelWarn
		case SeverityCritical:
			level = slog.LevelError
		}
		attrs := []slog.Attr{
			slog.String("action", evt.Action),
			slog.String("resource_id", evt.ResourceID),
			slog.String("outcome", evt.Outcome),
		}
		for k, v := range evt.Metadata {
			attrs = append(attrs, slog.Any(k, v))
		}
		logger.LogAttrs(ctx, level, "audit", attrs...)
		return nil
	})
}

// Severity levels.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// Outcomes.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
	OutcomePending = "pending"
)

// Extension records tether lifecycle events through a Recorder.
type Extension struct {
	recorder Recorder
	enabled  map[string]bool // nil = all enabled
	logger   *slog.Logger
}

// New creates an Extension that records through r.
func New(r Recorder, opts ...Option) *Extension {
	e := &Extension{
		recorder: r,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements ext.Extension.
func (e *Extension) Name() string { return "audit-hook" }

// OnJobAdded implements ext.JobAdded.
func (e *Extension) OnJobAdded(ctx context.Context, j *job.Job) error {
	kv := []any{"job_name", j.Name, "queue", j.Queue}
	if j.HasParent() {
		kv = append(kv, "parent_id", j.Parent.ID.String(), "parent_queue", j.Parent.Queue)
	}
	return e.record(ctx, ActionJobAdded, SeverityInfo, OutcomeSuccess, j.ID.String(), nil, kv...)
}

// OnJobStarted implements ext.JobStarted.
func (e *Extension) OnJobStarted(ctx context.Context, j *job.Job) error {
	return e.record(ctx, ActionJobStarted, SeverityInfo, OutcomeSuccess, j.ID.String(), nil,
		"job_name", j.Name,
		"queue", j.Queue,
		"worker_id", j.WorkerID.String(),
		"attempt", j.Attempts,
	)
}

// OnJobCompleted implements ext.JobCompleted.
func (e *Extension) OnJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) error {
	return e.record(ctx, ActionJobCompleted, SeverityInfo, OutcomeSuccess, j.ID.String(), nil,
		"job_name", j.Name,
		"queue", j.Queue,
		"elapsed_ms", elapsed.Milliseconds(),
	)
}

// OnJobFailed implements ext.JobFailed.
func (e *Extension) OnJobFailed(ctx context.Context, j *job.Job, jobErr error) error {
	return e.record(ctx, ActionJobFailed, SeverityCritical, OutcomeFailure, j.ID.String(), jobErr,
		"job_name", j.Name,
		"queue", j.Queue,
		"attempt", j.Attempts,
	)
}

// OnJobSuspended implements ext.JobSuspended.
func (e *Extension) OnJobSuspended(ctx context.Context, j *job.Job) error {
	return e.record(ctx, ActionJobSuspended, SeverityInfo, OutcomePending, j.ID.String(), nil,
		"job_name", j.Name,
		"queue", j.Queue,
	)
}

// OnJobResumed implements ext.JobResumed.
func (e *Extension) OnJobResumed(ctx context.Context, parent *job.ParentRef) error {
	return e.record(ctx, ActionJobResumed, SeverityInfo, OutcomeSuccess, parent.ID.String(), nil,
		"queue", parent.Queue,
	)
}

// OnLeaseReclaimed implements ext.LeaseReclaimed.
func (e *Extension) OnLeaseReclaimed(ctx context.Context, j *job.Job) error {
	return e.record(ctx, ActionLeaseReclaimed, SeverityWarning, OutcomeFailure, j.ID.String(), nil,
		"job_name", j.Name,
		"queue", j.Queue,
		"attempt", j.Attempts,
	)
}

// record sends one event if its action is enabled. kv is a flat list of
// metadata key/value pairs. Recorder errors are logged, never returned.
func (e *Extension) record(ctx context.Context, action, severity, outcome, resourceID string, err error, kv ...any) error {
	if e.enabled != nil && !e.enabled[action] {
		return nil
	}

	meta := make(map[string]any, len(kv)/2+1)
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			key = fmt.Sprint(kv[i])
		}
		meta[key] = kv[i+1]
	}

	var reason string
	if err != nil {
		reason = err.Error()
		meta["error"] = reason
	}

	evt := &AuditEvent{
		Action:     action,
		Resource:   ResourceJob,
		Category:   CategoryJob,
		ResourceID: resourceID,
		Metadata:   meta,
		Outcome:    outcome,
		Severity:   severity,
		Reason:     reason,
	}
	if recErr := e.recorder.Record(ctx, evt); recErr != nil {
		e.logger.Warn("audit_hook: failed to record audit event",
			slog.String("action", action),
			slog.String("resource_id", resourceID),
			slog.String("error", recErr.Error()),
		)
	}
	return nil
}
