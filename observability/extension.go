package observability

import (
	"context"
	"time"

	gu "github.com/xraph/go-utils/metrics"

	"github.com/xraph/tether/ext"
	"github.com/xraph/tether/job"
)

// Compile-time interface checks.
var (
	_ ext.Extension      = (*MetricsExtension)(nil)
	_ ext.JobAdded       = (*MetricsExtension)(nil)
	_ ext.JobStarted     = (*MetricsExtension)(nil)
	_ ext.JobCompleted   = (*MetricsExtension)(nil)
	_ ext.JobFailed      = (*MetricsExtension)(nil)
	_ ext.JobSuspended   = (*MetricsExtension)(nil)
	_ ext.JobResumed     = (*MetricsExtension)(nil)
	_ ext.LeaseReclaimed = (*MetricsExtension)(nil)
)

// MetricsExtension records system-wide lifecycle metrics via go-utils
// MetricFactory. Register it as an extension to track add rates,
// dispatches, outcomes, parent suspensions and resumptions, and expired
// leases.
type MetricsExtension struct {
	JobAdded       gu.Counter
	JobStarted     gu.Counter
	JobCompleted   gu.Counter
	JobFailed      gu.Counter
	JobSuspended   gu.Counter
	JobResumed     gu.Counter
	LeaseReclaimed gu.Counter
}

// NewMetricsExtension creates a MetricsExtension using a default metrics collector.
func NewMetricsExtension() *MetricsExtension {
	return NewMetricsExtensionWithFactory(gu.NewMetricsCollector("tether/observability"))
}

// NewMetricsExtensionWithFactory creates a MetricsExtension with the provided MetricFactory.
func NewMetricsExtensionWithFactory(factory gu.MetricFactory) *MetricsExtension {
	return &MetricsExtension{
		JobAdded:       factory.Counter("tether.job.added"),
		JobStarted:     factory.Counter("tether.job.started"),
		JobCompleted:   factory.Counter("tether.job.completed"),
		JobFailed:      factory.Counter("tether.job.failed"),
		JobSuspended:   factory.Counter("tether.job.suspended"),
		JobResumed:     factory.Counter("tether.job.resumed"),
		LeaseReclaimed: factory.Counter("tether.lease.reclaimed"),
	}
}

// Name implements ext.Extension.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

// OnJobAdded implements ext.JobAdded.
func (m *MetricsExtension) OnJobAdded(_ context.Context, _ *job.Job) error {
	m.JobAdded.Inc()
	return nil
}

// OnJobStarted implements ext.JobStarted.
func (m *MetricsExtension) OnJobStarted(_ context.Context, _ *job.Job) error {
	m.JobStarted.Inc()
	return nil
}

// OnJobCompleted implements ext.JobCompleted.
func (m *MetricsExtension) OnJobCompleted(_ context.Context, _ *job.Job, _ time.Duration) error {
	m.JobCompleted.Inc()
	return nil
}

// OnJobFailed implements ext.JobFailed.
func (m *MetricsExtension) OnJobFailed(_ context.Context, _ *job.Job, _ error) error {
	m.JobFailed.Inc()
	return nil
}

// OnJobSuspended implements ext.JobSuspended.
func (m *MetricsExtension) OnJobSuspended(_ context.Context, _ *job.Job) error {
	m.JobSuspended.Inc()
	return nil
}

// OnJobResumed implements ext.JobResumed.
func (m *MetricsExtension) OnJobResumed(_ context.Context, _ *job.ParentRef) error {
	m.JobResumed.Inc()
	return nil
}

// OnLeaseReclaimed implements ext.LeaseReclaimed.
func (m *MetricsExtension) OnLeaseReclaimed(_ context.Context, _ *job.Job) error {
	m.LeaseReclaimed.Inc()
	return nil
}
