package postgres

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"

	"github.com/xraph/tether"
	"github.com/xraph/tether/id"
	"github.com/xraph/tether/job"
)

func TestFilter(t *testing.T) {
	parent := id.NewJobID()
	tests := []struct {
		name      string
		queue     string
		state     job.State
		parent    id.JobID
		wantWhere string
		wantArgs  []any
	}{
		{"none", "", "", id.ID{}, "", nil},
		{"queue", "q", "", id.ID{}, " WHERE queue = $1", []any{"q"}},
		{"queue and state", "q", job.StateWaiting, id.ID{}, " WHERE queue = $1 AND state = $2", []any{"q", "waiting"}},
		{"parent", "", "", parent, " WHERE parent_id = $1", []any{parent.String()}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			where, args := filter(tt.queue, tt.state, tt.parent)
			require.Equal(t, tt.wantWhere, where)
			require.Equal(t, tt.wantArgs, args)
		})
	}
}

func TestErrorClassification(t *testing.T) {
	serialization := &pgconn.PgError{Code: "40001"}
	deadlock := &pgconn.PgError{Code: "40P01"}
	keyConflict := &pgconn.PgError{Code: "23505", ConstraintName: keyIndexName}
	pkConflict := &pgconn.PgError{Code: "23505", ConstraintName: "tether_jobs_pkey"}
	syntax := &pgconn.PgError{Code: "42601"}

	require.True(t, isUnavailable(serialization))
	require.True(t, isUnavailable(deadlock))
	require.False(t, isUnavailable(syntax))

	require.True(t, isDuplicateKey(keyConflict))
	require.True(t, isKeyConflict(keyConflict))
	require.True(t, isDuplicateKey(pkConflict))
	require.False(t, isKeyConflict(pkConflict))

	require.ErrorIs(t, pgErr("claim job", deadlock), tether.ErrStorageUnavailable)
	require.NotErrorIs(t, pgErr("claim job", syntax), tether.ErrStorageUnavailable)

	// Mutator errors pass through transactions untouched.
	require.Equal(t, tether.ErrLeaseLost, txErr("update job", tether.ErrLeaseLost))
	require.ErrorIs(t, txErr("update job", fmt.Errorf("wrap: %w", deadlock)), tether.ErrStorageUnavailable)
}

func newJob(name, queue string, created time.Time) *job.Job {
	return &job.Job{
		Entity: tether.Entity{CreatedAt: created, UpdatedAt: created},
		ID:     id.NewJobID(),
		Name:   name,
		Queue:  queue,
		Data:   []byte(`{"n": 1}`),
		State:  job.StateWaiting,
	}
}

// uniqueQueue keeps runs against a shared database apart.
func uniqueQueue(prefix string) string { return prefix + "-" + id.NewEventID().String() }

func addPending(p *job.Job, n int) error {
	p.PendingChildren += n
	return nil
}

func TestPostgres_FamilyLifecycle(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)
	parents, children := uniqueQueue("parents"), uniqueQueue("children")

	parent := newJob("parent", parents, now)
	_, err := s.CreateJobs(ctx, []*job.Job{parent}, nil)
	require.NoError(t, err)

	mk := func(key string) *job.Job {
		c := newJob("child", children, now)
		c.Key = key
		c.Parent = &job.ParentRef{ID: parent.ID, Queue: parents}
		return c
	}
	first := mk("a")
	_, err = s.CreateJobs(ctx, []*job.Job{first, mk("a"), mk("b")}, addPending)
	require.NoError(t, err)
	got, err := s.CreateJobs(ctx, []*job.Job{mk("a")}, addPending)
	require.NoError(t, err)
	require.True(t, got[0].ID.Equal(first.ID))

	p, err := s.GetJob(ctx, parent.ID)
	require.NoError(t, err)
	require.Equal(t, 2, p.PendingChildren)

	claimed, err := s.ClaimJob(ctx, children, func(j *job.Job) error {
		j.State = job.StateActive
		return nil
	})
	require.NoError(t, err)
	require.True(t, claimed.ID.Equal(first.ID))

	_, err = s.UpdateFamily(ctx, first.ID,
		func(c *job.Job) error { c.State = job.StateCompleted; c.Result = []byte(`"ok"`); return nil },
		func(p *job.Job) error { p.PendingChildren--; return nil },
	)
	require.NoError(t, err)

	p, err = s.GetJob(ctx, parent.ID)
	require.NoError(t, err)
	require.Equal(t, 1, p.PendingChildren)

	list, err := s.ListJobs(ctx, job.ListOpts{Parent: parent.ID})
	require.NoError(t, err)
	require.Len(t, list, 2)

	n, err := s.CountJobs(ctx, job.CountOpts{Queue: children, State: job.StateCompleted})
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	require.NoError(t, s.DeleteJob(ctx, parent.ID))
	_, err = s.GetJob(ctx, parent.ID)
	require.ErrorIs(t, err, tether.ErrJobNotFound)
}

func TestPostgres_UpdateJobAborts(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	j := newJob("work", uniqueQueue("default"), time.Now().UTC())
	_, err := s.CreateJobs(ctx, []*job.Job{j}, nil)
	require.NoError(t, err)

	boom := errors.New("boom")
	_, err = s.UpdateJob(ctx, j.ID, func(cur *job.Job) error {
		cur.State = job.StateFailed
		return boom
	})
	require.ErrorIs(t, err, boom)

	got, err := s.GetJob(ctx, j.ID)
	require.NoError(t, err)
	require.Equal(t, job.StateWaiting, got.State)
}

func TestPostgres_ExclusiveClaims(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	queue := uniqueQueue("claims")
	base := time.Now().UTC()

	const total = 20
	jobs := make([]*job.Job, total)
	for i := range jobs {
		jobs[i] = newJob("j", queue, base.Add(time.Duration(i)*time.Millisecond))
	}
	_, err := s.CreateJobs(ctx, jobs, nil)
	require.NoError(t, err)

	var (
		mu      sync.Mutex
		claimed = make(map[string]int)
		wg      sync.WaitGroup
	)
	for range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				j, err := s.ClaimJob(ctx, queue, func(j *job.Job) error {
					j.State = job.StateActive
					return nil
				})
				if err != nil || j == nil {
					return
				}
				mu.Lock()
				claimed[j.ID.String()]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Len(t, claimed, total)
	for _, n := range claimed {
		require.Equal(t, 1, n)
	}
}

func TestPostgres_Notify(t *testing.T) {
	s := newStore(t)
	ctx := context.Background()
	queue := uniqueQueue("notify")

	sub, err := s.Subscribe(ctx, queue)
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, s.Publish(ctx, queue))
	select {
	case <-sub.C():
	case <-time.After(5 * time.Second):
		t.Fatal("no notification")
	}
}
