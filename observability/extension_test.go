package observability_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	gu "github.com/xraph/go-utils/metrics"

	"github.com/xraph/tether/ext"
	"github.com/xraph/tether/id"
	"github.com/xraph/tether/job"
	"github.com/xraph/tether/observability"
)

func newTestExtension() *observability.MetricsExtension {
	return observability.NewMetricsExtensionWithFactory(gu.NewMetricsCollector("test"))
}

func newTestJob() *job.Job {
	return &job.Job{
		ID:    id.NewJobID(),
		Name:  "parent-job",
		Queue: "parents",
	}
}

func TestMetricsExtension_Name(t *testing.T) {
	e := newTestExtension()
	if e.Name() != "observability-metrics" {
		t.Errorf("expected name %q, got %q", "observability-metrics", e.Name())
	}
}

func TestMetricsExtension_Hooks(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name    string
		call    func(e *observability.MetricsExtension) error
		counter func(e *observability.MetricsExtension) gu.Counter
	}{
		{
			"JobAdded",
			func(e *observability.MetricsExtension) error { return e.OnJobAdded(ctx, newTestJob()) },
			func(e *observability.MetricsExtension) gu.Counter { return e.JobAdded },
		},
		{
			"JobStarted",
			func(e *observability.MetricsExtension) error { return e.OnJobStarted(ctx, newTestJob()) },
			func(e *observability.MetricsExtension) gu.Counter { return e.JobStarted },
		},
		{
			"JobCompleted",
			func(e *observability.MetricsExtension) error {
				return e.OnJobCompleted(ctx, newTestJob(), 100*time.Millisecond)
			},
			func(e *observability.MetricsExtension) gu.Counter { return e.JobCompleted },
		},
		{
			"JobFailed",
			func(e *observability.MetricsExtension) error {
				return e.OnJobFailed(ctx, newTestJob(), errors.New("boom"))
			},
			func(e *observability.MetricsExtension) gu.Counter { return e.JobFailed },
		},
		{
			"JobSuspended",
			func(e *observability.MetricsExtension) error { return e.OnJobSuspended(ctx, newTestJob()) },
			func(e *observability.MetricsExtension) gu.Counter { return e.JobSuspended },
		},
		{
			"JobResumed",
			func(e *observability.MetricsExtension) error {
				return e.OnJobResumed(ctx, &job.ParentRef{ID: id.NewJobID(), Queue: "parents"})
			},
			func(e *observability.MetricsExtension) gu.Counter { return e.JobResumed },
		},
		{
			"LeaseReclaimed",
			func(e *observability.MetricsExtension) error { return e.OnLeaseReclaimed(ctx, newTestJob()) },
			func(e *observability.MetricsExtension) gu.Counter { return e.LeaseReclaimed },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestExtension()
			if err := tt.call(e); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got := tt.counter(e).Value(); got != 1 {
				t.Errorf("%s: want 1, got %v", tt.name, got)
			}
		})
	}
}

func TestMetricsExtension_ViaRegistry(t *testing.T) {
	e := newTestExtension()
	reg := ext.NewRegistry(slog.Default())
	reg.Register(e)

	ctx := context.Background()
	j := newTestJob()

	reg.EmitJobAdded(ctx, j)
	reg.EmitJobStarted(ctx, j)
	reg.EmitJobSuspended(ctx, j)
	reg.EmitJobResumed(ctx, &job.ParentRef{ID: j.ID, Queue: j.Queue})
	reg.EmitJobCompleted(ctx, j, 50*time.Millisecond)
	reg.EmitJobFailed(ctx, j, errors.New("fail"))
	reg.EmitLeaseReclaimed(ctx, j)

	checks := []struct {
		name  string
		value float64
	}{
		{"JobAdded", e.JobAdded.Value()},
		{"JobStarted", e.JobStarted.Value()},
		{"JobSuspended", e.JobSuspended.Value()},
		{"JobResumed", e.JobResumed.Value()},
		{"JobCompleted", e.JobCompleted.Value()},
		{"JobFailed", e.JobFailed.Value()},
		{"LeaseReclaimed", e.LeaseReclaimed.Value()},
	}
	for _, c := range checks {
		if c.value != 1 {
			t.Errorf("%s: want 1, got %v", c.name, c.value)
		}
	}
}
