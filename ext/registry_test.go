package ext_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/xraph/tether/ext"
	"github.com/xraph/tether/id"
	"github.com/xraph/tether/job"
)

// ──────────────────────────────────────────────────
// Test extensions
// ──────────────────────────────────────────────────

// allHooksExt implements every lifecycle hook for testing.
type allHooksExt struct {
	calls []string
}

func (e *allHooksExt) Name() string { return "all-hooks" }

func (e *allHooksExt) OnJobAdded(_ context.Context, _ *job.Job) error {
	e.calls = append(e.calls, "OnJobAdded")
	return nil
}

func (e *allHooksExt) OnJobStarted(_ context.Context, _ *job.Job) error {
	e.calls = append(e.calls, "OnJobStarted")
	return nil
}

func (e *allHooksExt) OnJobCompleted(_ context.Context, _ *job.Job, _ time.Duration) error {
	e.calls = append(e.calls, "OnJobCompleted")
	return nil
}

func (e *allHooksExt) OnJobFailed(_ context.Context, _ *job.Job, _ error) error {
	e.calls = append(e.calls, "OnJobFailed")
	return nil
}

func (e *allHooksExt) OnJobSuspended(_ context.Context, _ *job.Job) error {
	e.calls = append(e.calls, "OnJobSuspended")
	return nil
}

func (e *allHooksExt) OnJobResumed(_ context.Context, _ *job.ParentRef) error {
	e.calls = append(e.calls, "OnJobResumed")
	return nil
}

func (e *allHooksExt) OnLeaseReclaimed(_ context.Context, _ *job.Job) error {
	e.calls = append(e.calls, "OnLeaseReclaimed")
	return nil
}

func (e *allHooksExt) OnShutdown(_ context.Context) error {
	e.calls = append(e.calls, "OnShutdown")
	return nil
}

// addedOnlyExt only implements a subset of the hooks.
type addedOnlyExt struct {
	calls []string
}

func (e *addedOnlyExt) Name() string { return "added-only" }

func (e *addedOnlyExt) OnJobAdded(_ context.Context, _ *job.Job) error {
	e.calls = append(e.calls, "OnJobAdded")
	return nil
}

func (e *addedOnlyExt) OnJobCompleted(_ context.Context, _ *job.Job, _ time.Duration) error {
	e.calls = append(e.calls, "OnJobCompleted")
	return nil
}

// failingExt returns errors from hooks.
type failingExt struct{}

func (e *failingExt) Name() string { return "failing" }

func (e *failingExt) OnJobAdded(_ context.Context, _ *job.Job) error {
	return errors.New("boom")
}

func (e *failingExt) OnShutdown(_ context.Context) error {
	return errors.New("shutdown boom")
}

// ──────────────────────────────────────────────────
// Tests
// ──────────────────────────────────────────────────

func TestRegistry_RegisterDiscoversInterfaces(t *testing.T) {
	r := ext.NewRegistry(slog.Default())
	r.Register(&allHooksExt{})

	if got := len(r.Extensions()); got != 1 {
		t.Fatalf("expected 1 extension, got %d", got)
	}
	if got := r.Extensions()[0].Name(); got != "all-hooks" {
		t.Fatalf("expected name 'all-hooks', got %q", got)
	}
}

func TestRegistry_EmitFiresOnlyImplementors(t *testing.T) {
	r := ext.NewRegistry(slog.Default())
	all := &allHooksExt{}
	ao := &addedOnlyExt{}
	r.Register(all)
	r.Register(ao)

	ctx := context.Background()
	j := &job.Job{Name: "test-job"}

	r.EmitJobAdded(ctx, j)
	if len(all.calls) != 1 || all.calls[0] != "OnJobAdded" {
		t.Fatalf("all: expected [OnJobAdded], got %v", all.calls)
	}
	if len(ao.calls) != 1 || ao.calls[0] != "OnJobAdded" {
		t.Fatalf("ao: expected [OnJobAdded], got %v", ao.calls)
	}

	r.EmitJobSuspended(ctx, j)
	if len(all.calls) != 2 || all.calls[1] != "OnJobSuspended" {
		t.Fatalf("all: expected OnJobSuspended as 2nd, got %v", all.calls)
	}
	if len(ao.calls) != 1 {
		t.Fatalf("ao: should still have 1 call, got %v", ao.calls)
	}
}

func TestRegistry_AllHooksFire(t *testing.T) {
	r := ext.NewRegistry(slog.Default())
	all := &allHooksExt{}
	r.Register(all)

	ctx := context.Background()
	j := &job.Job{Name: "test-job"}

	r.EmitJobAdded(ctx, j)
	r.EmitJobStarted(ctx, j)
	r.EmitJobSuspended(ctx, j)
	r.EmitJobResumed(ctx, &job.ParentRef{ID: id.NewJobID(), Queue: "parents"})
	r.EmitJobCompleted(ctx, j, time.Second)
	r.EmitJobFailed(ctx, j, errors.New("fail"))
	r.EmitLeaseReclaimed(ctx, j)
	r.EmitShutdown(ctx)

	expected := []string{
		"OnJobAdded", "OnJobStarted", "OnJobSuspended", "OnJobResumed",
		"OnJobCompleted", "OnJobFailed", "OnLeaseReclaimed", "OnShutdown",
	}
	if len(all.calls) != len(expected) {
		t.Fatalf("expected %d calls, got %d: %v", len(expected), len(all.calls), all.calls)
	}
	for i, want := range expected {
		if all.calls[i] != want {
			t.Errorf("call[%d] = %q, want %q", i, all.calls[i], want)
		}
	}
}

func TestRegistry_HookErrorsLoggedNotPropagated(t *testing.T) {
	r := ext.NewRegistry(slog.Default())
	all := &allHooksExt{}

	// Register failing first, then all-hooks. Both should be called.
	r.Register(&failingExt{})
	r.Register(all)

	ctx := context.Background()
	r.EmitJobAdded(ctx, &job.Job{Name: "test-job"})
	r.EmitShutdown(ctx)

	if len(all.calls) != 2 || all.calls[0] != "OnJobAdded" {
		t.Fatalf("all: expected hooks to fire despite failing ext, got %v", all.calls)
	}
}

func TestRegistry_EmptyRegistryNoOp(_ *testing.T) {
	r := ext.NewRegistry(slog.Default())
	ctx := context.Background()

	r.EmitJobAdded(ctx, &job.Job{})
	r.EmitJobStarted(ctx, &job.Job{})
	r.EmitJobCompleted(ctx, &job.Job{}, time.Second)
	r.EmitJobFailed(ctx, &job.Job{}, errors.New("x"))
	r.EmitJobSuspended(ctx, &job.Job{})
	r.EmitJobResumed(ctx, &job.ParentRef{})
	r.EmitLeaseReclaimed(ctx, &job.Job{})
	r.EmitShutdown(ctx)
}

func TestRegistry_MultipleExtensionsOrderPreserved(t *testing.T) {
	r := ext.NewRegistry(slog.Default())
	var order []string
	first := &orderExt{name: "first", order: &order}
	second := &orderExt{name: "second", order: &order}
	r.Register(first)
	r.Register(second)

	r.EmitJobAdded(context.Background(), &job.Job{})

	if len(order) != 2 || order[0] != "first" || order[1] != "second" {
		t.Errorf("order = %v, want [first second]", order)
	}
}

type orderExt struct {
	name  string
	order *[]string
}

func (e *orderExt) Name() string { return e.name }

func (e *orderExt) OnJobAdded(_ context.Context, _ *job.Job) error {
	*e.order = append(*e.order, e.name)
	return nil
}
