package queue_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/xraph/tether"
	"github.com/xraph/tether/event"
	"github.com/xraph/tether/gate"
	"github.com/xraph/tether/id"
	"github.com/xraph/tether/job"
	"github.com/xraph/tether/queue"
	"github.com/xraph/tether/store/memory"
)

type env struct {
	store *memory.Store
	gate  *gate.Gate
	bus   *event.Bus
}

func newEnv() *env {
	s := memory.New()
	return &env{store: s, gate: gate.New(s, s), bus: event.NewBus(s)}
}

func (e *env) queue(t *testing.T, name string, opts ...queue.Option) *queue.Queue {
	t.Helper()
	q, err := queue.New(name, e.store, e.gate, e.bus, opts...)
	if err != nil {
		t.Fatalf("queue.New(%q): %v", name, err)
	}
	return q
}

// lease marks a job active under a fresh token, as the lease manager does.
func (e *env) lease(t *testing.T, jobID id.JobID) id.LeaseID {
	t.Helper()
	token := id.NewLeaseID()
	_, err := e.store.UpdateJob(context.Background(), jobID, func(j *job.Job) error {
		exp := time.Now().UTC().Add(time.Minute)
		j.State = job.StateActive
		j.LeaseToken = token
		j.LeaseExpiresAt = &exp
		return nil
	})
	if err != nil {
		t.Fatalf("lease: %v", err)
	}
	return token
}

func TestNew_ValidatesName(t *testing.T) {
	e := newEnv()
	for _, name := range []string{"", "has space", "tab\there"} {
		if _, err := queue.New(name, e.store, e.gate, e.bus); !errors.Is(err, tether.ErrInvalidArgument) {
			t.Errorf("New(%q) = %v, want ErrInvalidArgument", name, err)
		}
	}
}

func TestAdd(t *testing.T) {
	e := newEnv()
	ctx := context.Background()
	q := e.queue(t, "parents")

	sub, _ := e.store.Subscribe(ctx, "parents")
	defer sub.Close()

	j, err := q.Add(ctx, "parent-job", map[string]string{"foo": "bar"})
	if err != nil {
		t.Fatalf("Add: %v", err)
	}
	if j.State != job.StateWaiting || j.Queue != "parents" || j.Name != "parent-job" {
		t.Errorf("job = %+v", j)
	}
	if string(j.Data) != `{"foo":"bar"}` {
		t.Errorf("Data = %s", j.Data)
	}

	select {
	case <-sub.C():
	case <-time.After(time.Second):
		t.Fatal("Add did not notify the queue")
	}

	got, err := q.GetJob(ctx, j.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if !got.ID.Equal(j.ID) {
		t.Errorf("GetJob returned %s", got.ID)
	}
}

func TestAdd_InvalidArguments(t *testing.T) {
	e := newEnv()
	ctx := context.Background()
	q := e.queue(t, "q")

	tests := []struct {
		name    string
		jobName string
		data    any
		opts    []job.Option
	}{
		{"empty name", "", nil, nil},
		{"array data", "j", []int{1, 2}, nil},
		{"string data", "j", "text", nil},
		{"parent without queue", "j", nil, []job.Option{job.WithParent(id.NewJobID(), "")}},
		{"negative timeout", "j", nil, []job.Option{job.WithTimeout(-time.Second)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := q.Add(ctx, tt.jobName, tt.data, tt.opts...); !errors.Is(err, tether.ErrInvalidArgument) {
				t.Errorf("got %v, want ErrInvalidArgument", err)
			}
		})
	}

	n, _ := e.store.CountJobs(ctx, job.CountOpts{})
	if n != 0 {
		t.Errorf("%d jobs created by invalid adds", n)
	}
}

func TestAddBulk_RegistersChildren(t *testing.T) {
	e := newEnv()
	ctx := context.Background()
	parents := e.queue(t, "parents")
	children := e.queue(t, "children")

	p, err := parents.Add(ctx, "parent", nil)
	if err != nil {
		t.Fatalf("Add parent: %v", err)
	}

	entries := make([]job.Entry, 25)
	for i := range entries {
		entries[i] = job.Entry{
			Name:    "parent:child_job",
			Data:    map[string]any{"foo": i},
			Options: []job.Option{job.WithParent(p.ID, "parents")},
		}
	}
	kids, err := children.AddBulk(ctx, entries)
	if err != nil {
		t.Fatalf("AddBulk: %v", err)
	}
	if len(kids) != 25 {
		t.Fatalf("got %d children, want 25", len(kids))
	}
	for _, k := range kids {
		if !k.HasParent() || !k.Parent.ID.Equal(p.ID) {
			t.Fatalf("child %s has parent %+v", k.ID, k.Parent)
		}
	}

	got, _ := parents.GetJob(ctx, p.ID)
	if got.PendingChildren != 25 {
		t.Errorf("PendingChildren = %d, want 25", got.PendingChildren)
	}
}

func TestAddBulk_Empty(t *testing.T) {
	e := newEnv()
	q := e.queue(t, "q")
	jobs, err := q.AddBulk(context.Background(), nil)
	if err != nil || jobs != nil {
		t.Errorf("AddBulk(nil) = %v, %v", jobs, err)
	}
}

func TestAddBulk_MissingParentCreatesNothing(t *testing.T) {
	e := newEnv()
	ctx := context.Background()
	q := e.queue(t, "children")

	_, err := q.AddBulk(ctx, []job.Entry{
		{Name: "orphan", Options: []job.Option{job.WithParent(id.NewJobID(), "parents")}},
	})
	if !errors.Is(err, tether.ErrJobNotFound) {
		t.Fatalf("got %v, want ErrJobNotFound", err)
	}
	if n, _ := e.store.CountJobs(ctx, job.CountOpts{}); n != 0 {
		t.Errorf("%d jobs visible after failed batch", n)
	}
}

func TestAddBulk_ParentQueueMismatch(t *testing.T) {
	e := newEnv()
	ctx := context.Background()
	parents := e.queue(t, "parents")
	children := e.queue(t, "children")

	p, err := parents.Add(ctx, "parent", nil)
	if err != nil {
		t.Fatalf("Add parent: %v", err)
	}
	_, err = children.AddBulk(ctx, []job.Entry{
		{Name: "ok", Options: []job.Option{job.WithParent(p.ID, "parents")}},
		{Name: "misfiled", Options: []job.Option{job.WithParent(p.ID, "elsewhere")}},
	})
	if !errors.Is(err, tether.ErrInvalidArgument) {
		t.Fatalf("got %v, want ErrInvalidArgument", err)
	}
	got, err := e.store.GetJob(ctx, p.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.PendingChildren != 0 {
		t.Errorf("PendingChildren = %d, want 0", got.PendingChildren)
	}
	if n, _ := e.store.CountJobs(ctx, job.CountOpts{Queue: "children"}); n != 0 {
		t.Errorf("%d children visible after rejected batch", n)
	}
}

func TestAddBulk_TerminalParentRejected(t *testing.T) {
	e := newEnv()
	ctx := context.Background()
	parents := e.queue(t, "parents")
	children := e.queue(t, "children")

	p, _ := parents.Add(ctx, "parent", nil)
	_, _ = e.store.UpdateJob(ctx, p.ID, func(j *job.Job) error {
		j.State = job.StateCompleted
		return nil
	})

	_, err := children.Add(ctx, "late", nil, job.WithParent(p.ID, "parents"))
	if !errors.Is(err, tether.ErrInvalidState) {
		t.Errorf("got %v, want ErrInvalidState", err)
	}
}

func TestAddBulk_KeyIsIdempotent(t *testing.T) {
	e := newEnv()
	ctx := context.Background()
	parents := e.queue(t, "parents")

	var added int
	children := e.queue(t, "children", queue.OnAdd(func(context.Context, *job.Job) { added++ }))

	p, _ := parents.Add(ctx, "parent", nil)
	entries := []job.Entry{
		{Name: "c", Options: []job.Option{job.WithParent(p.ID, "parents"), job.WithKey(p.ID.String() + "/0")}},
		{Name: "c", Options: []job.Option{job.WithParent(p.ID, "parents"), job.WithKey(p.ID.String() + "/1")}},
	}

	first, err := children.AddBulk(ctx, entries)
	if err != nil {
		t.Fatalf("AddBulk: %v", err)
	}
	second, err := children.AddBulk(ctx, entries)
	if err != nil {
		t.Fatalf("AddBulk again: %v", err)
	}
	for i := range first {
		if !first[i].ID.Equal(second[i].ID) {
			t.Errorf("entry %d: re-add created %s, want %s", i, second[i].ID, first[i].ID)
		}
	}

	got, _ := parents.GetJob(ctx, p.ID)
	if got.PendingChildren != 2 {
		t.Errorf("PendingChildren = %d, want 2", got.PendingChildren)
	}
	if added != 2 {
		t.Errorf("OnAdd ran %d times, want 2", added)
	}
}

func TestGetJob_OtherQueue(t *testing.T) {
	e := newEnv()
	ctx := context.Background()
	a := e.queue(t, "a")
	b := e.queue(t, "b")

	j, _ := a.Add(ctx, "j", nil)
	if _, err := b.GetJob(ctx, j.ID); !errors.Is(err, tether.ErrJobNotFound) {
		t.Errorf("got %v, want ErrJobNotFound", err)
	}
}

func TestUpdateData(t *testing.T) {
	e := newEnv()
	ctx := context.Background()
	q := e.queue(t, "q")

	j, _ := q.Add(ctx, "j", map[string]any{"step": 0, "keep": "me"})

	if _, err := q.UpdateData(ctx, j.ID, id.NewLeaseID(), map[string]int{"step": 1}); !errors.Is(err, tether.ErrLeaseLost) {
		t.Fatalf("unleased update: got %v, want ErrLeaseLost", err)
	}

	token := e.lease(t, j.ID)
	updated, err := q.UpdateData(ctx, j.ID, token, map[string]int{"step": 1})
	if err != nil {
		t.Fatalf("UpdateData: %v", err)
	}
	var data struct {
		Step int    `json:"step"`
		Keep string `json:"keep"`
	}
	if err := updated.Decode(&data); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if data.Step != 1 || data.Keep != "me" {
		t.Errorf("data = %+v", data)
	}

	if _, err := q.UpdateData(ctx, j.ID, id.NewLeaseID(), map[string]int{"step": 2}); !errors.Is(err, tether.ErrLeaseLost) {
		t.Errorf("wrong token: got %v, want ErrLeaseLost", err)
	}
	if _, err := q.UpdateData(ctx, j.ID, token, []int{1}); !errors.Is(err, tether.ErrInvalidArgument) {
		t.Errorf("non-object patch: got %v, want ErrInvalidArgument", err)
	}
}

func TestIsWaitingChildrenAndCounts(t *testing.T) {
	e := newEnv()
	ctx := context.Background()
	parents := e.queue(t, "parents")
	children := e.queue(t, "children")

	p, _ := parents.Add(ctx, "parent", nil)
	_, _ = parents.Add(ctx, "other", nil)
	token := e.lease(t, p.ID)
	_, _ = children.Add(ctx, "child", nil, job.WithParent(p.ID, "parents"))

	waiting, err := parents.IsWaitingChildren(ctx, p.ID)
	if err != nil || waiting {
		t.Fatalf("IsWaitingChildren = %v, %v before suspend", waiting, err)
	}

	if ok, err := e.gate.SuspendIfPending(ctx, p.ID, token); err != nil || !ok {
		t.Fatalf("SuspendIfPending = %v, %v", ok, err)
	}
	waiting, _ = parents.IsWaitingChildren(ctx, p.ID)
	if !waiting {
		t.Error("expected parent to be waiting for children")
	}

	counts, err := parents.Counts(ctx)
	if err != nil {
		t.Fatalf("Counts: %v", err)
	}
	if counts[job.StateWaitingChildren] != 1 || counts[job.StateWaiting] != 1 || counts[job.StateActive] != 0 {
		t.Errorf("counts = %v", counts)
	}

	list, _ := children.List(ctx, job.ListOpts{Parent: p.ID})
	if len(list) != 1 {
		t.Errorf("List by parent = %d jobs, want 1", len(list))
	}
}
