package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/xraph/tether"
	"github.com/xraph/tether/id"
	"github.com/xraph/tether/job"
)

const jobColumns = `
	id, queue, name, key, data, state, parent_id, parent_queue,
	pending_children, parent_resolved, lease_token, lease_expires_at,
	worker_id, attempts, result, error, timeout,
	started_at, finished_at, created_at, updated_at`

// createAttempts bounds retries when a concurrent batch inserts the same
// idempotency key first.
const createAttempts = 3

// CreateJobs inserts the batch and applies parentFn to each parent under
// its row lock, all in one transaction.
func (s *Store) CreateJobs(ctx context.Context, jobs []*job.Job, parentFn job.ParentFunc) ([]*job.Job, error) {
	if len(jobs) == 0 {
		return nil, nil
	}
	var (
		result []*job.Job
		err    error
	)
	for range createAttempts {
		err = pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
			var txErr error
			result, txErr = createJobs(ctx, tx, jobs, parentFn)
			return txErr
		})
		// The winner of a key race has committed; the retry returns its job.
		if !isKeyConflict(err) {
			break
		}
	}
	if err != nil {
		return nil, txErr("create jobs", err)
	}
	return result, nil
}

func createJobs(ctx context.Context, tx pgx.Tx, jobs []*job.Job, parentFn job.ParentFunc) ([]*job.Job, error) {
	result := make([]*job.Job, len(jobs))
	created := make([]*job.Job, 0, len(jobs))
	batchKeys := make(map[string]*job.Job)

	for i, j := range jobs {
		bk := j.Queue + "\x00" + j.Key
		if j.Key != "" {
			if dup, ok := batchKeys[bk]; ok {
				result[i] = dup.Clone()
				continue
			}
			existing, err := scanJob(tx.QueryRow(ctx,
				`SELECT `+jobColumns+` FROM tether_jobs WHERE queue = $1 AND key = $2`,
				j.Queue, j.Key,
			))
			if err == nil {
				result[i] = existing
				continue
			}
			if !isNoRows(err) {
				return nil, err
			}
		}
		cp := j.Clone()
		if j.Key != "" {
			batchKeys[bk] = cp
		}
		created = append(created, cp)
		result[i] = cp.Clone()
	}

	if parentFn != nil {
		order, counts := job.GroupByParent(created)
		for _, pid := range order {
			p, err := lockJob(ctx, tx, pid)
			if isNoRows(err) {
				return nil, fmt.Errorf("%w: parent %s", tether.ErrJobNotFound, pid)
			}
			if err != nil {
				return nil, err
			}
			n := counts[pid.String()]
			updated, err := job.Mutate(p, func(pj *job.Job) error { return parentFn(pj, n) })
			if err != nil {
				return nil, err
			}
			if err := updateJob(ctx, tx, updated); err != nil {
				return nil, err
			}
		}
	}

	if len(created) == 0 {
		return result, nil
	}
	b := &pgx.Batch{}
	for _, j := range created {
		b.Queue(`INSERT INTO tether_jobs (`+jobColumns+`) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11,
			$12, $13, $14, $15, $16, $17, $18, $19, $20, $21)`,
			jobArgs(j)...,
		)
	}
	br := tx.SendBatch(ctx, b)
	for _, j := range created {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			if isDuplicateKey(err) && !isKeyConflict(err) {
				return nil, fmt.Errorf("%w: %s", tether.ErrJobAlreadyExists, j.ID)
			}
			return nil, err
		}
	}
	if err := br.Close(); err != nil {
		return nil, err
	}
	return result, nil
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	j, err := scanJob(s.pool.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM tether_jobs WHERE id = $1`,
		jobID.String(),
	))
	if err != nil {
		if isNoRows(err) {
			return nil, fmt.Errorf("%w: %s", tether.ErrJobNotFound, jobID)
		}
		return nil, pgErr("get job", err)
	}
	return j, nil
}

// UpdateJob applies fn to the job under its row lock.
func (s *Store) UpdateJob(ctx context.Context, jobID id.JobID, fn job.Mutator) (*job.Job, error) {
	var updated *job.Job
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		cur, err := lockJob(ctx, tx, jobID)
		if err != nil {
			return notFound(jobID, err)
		}
		updated, err = job.Mutate(cur, fn)
		if err != nil {
			return err
		}
		return updateJob(ctx, tx, updated)
	})
	if err != nil {
		return nil, txErr("update job", err)
	}
	return updated, nil
}

// UpdateFamily locks the child, then its parent, and writes both in one
// transaction. Locks are always taken child first, so concurrent children
// of the same parent queue up on the parent row without deadlocking.
func (s *Store) UpdateFamily(ctx context.Context, childID id.JobID, childFn, parentFn job.Mutator) (*job.Job, error) {
	var child *job.Job
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		cur, err := lockJob(ctx, tx, childID)
		if err != nil {
			return notFound(childID, err)
		}
		child, err = job.Mutate(cur, childFn)
		if err != nil {
			return err
		}
		if cur.HasParent() && parentFn != nil {
			p, err := lockJob(ctx, tx, cur.Parent.ID)
			switch {
			case isNoRows(err):
			case err != nil:
				return err
			default:
				parent, err := job.Mutate(p, parentFn)
				if err != nil {
					return err
				}
				if err := updateJob(ctx, tx, parent); err != nil {
					return err
				}
			}
		}
		return updateJob(ctx, tx, child)
	})
	if err != nil {
		return nil, txErr("update family", err)
	}
	return child, nil
}

// ClaimJob applies fn to the oldest waiting job of queue. Rows locked by
// concurrent claimers are skipped.
func (s *Store) ClaimJob(ctx context.Context, queue string, fn job.Mutator) (*job.Job, error) {
	var claimed *job.Job
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		cur, err := scanJob(tx.QueryRow(ctx, `
			SELECT `+jobColumns+` FROM tether_jobs
			WHERE queue = $1 AND state = 'waiting'
			ORDER BY created_at ASC, id ASC
			LIMIT 1
			FOR UPDATE SKIP LOCKED`,
			queue,
		))
		if isNoRows(err) {
			return nil
		}
		if err != nil {
			return err
		}
		claimed, err = job.Mutate(cur, fn)
		if err != nil {
			return err
		}
		return updateJob(ctx, tx, claimed)
	})
	if err != nil {
		return nil, txErr("claim job", err)
	}
	return claimed, nil
}

// ListJobs returns jobs matching the options, oldest first.
func (s *Store) ListJobs(ctx context.Context, opts job.ListOpts) ([]*job.Job, error) {
	where, args := filter(opts.Queue, opts.State, opts.Parent)
	query := `SELECT ` + jobColumns + ` FROM tether_jobs` + where + ` ORDER BY created_at ASC, id ASC`
	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if opts.Offset > 0 {
		args = append(args, opts.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, pgErr("list jobs", err)
	}
	defer rows.Close()
	return collectJobs(rows)
}

// CountJobs returns the number of jobs matching the given options.
func (s *Store) CountJobs(ctx context.Context, opts job.CountOpts) (int64, error) {
	where, args := filter(opts.Queue, opts.State, id.ID{})
	var n int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM tether_jobs`+where, args...).Scan(&n); err != nil {
		return 0, pgErr("count jobs", err)
	}
	return n, nil
}

// DeleteJob removes a job by ID.
func (s *Store) DeleteJob(ctx context.Context, jobID id.JobID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM tether_jobs WHERE id = $1`, jobID.String())
	if err != nil {
		return pgErr("delete job", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", tether.ErrJobNotFound, jobID)
	}
	return nil
}

// ── helpers ──

// filter builds the WHERE clause shared by ListJobs and CountJobs.
func filter(queue string, state job.State, parent id.JobID) (string, []any) {
	var (
		conds []string
		args  []any
	)
	if queue != "" {
		args = append(args, queue)
		conds = append(conds, fmt.Sprintf("queue = $%d", len(args)))
	}
	if state != "" {
		args = append(args, string(state))
		conds = append(conds, fmt.Sprintf("state = $%d", len(args)))
	}
	if !parent.IsNil() {
		args = append(args, parent.String())
		conds = append(conds, fmt.Sprintf("parent_id = $%d", len(args)))
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func lockJob(ctx context.Context, tx pgx.Tx, jobID id.JobID) (*job.Job, error) {
	return scanJob(tx.QueryRow(ctx,
		`SELECT `+jobColumns+` FROM tether_jobs WHERE id = $1 FOR UPDATE`,
		jobID.String(),
	))
}

func updateJob(ctx context.Context, tx pgx.Tx, j *job.Job) error {
	_, err := tx.Exec(ctx, `
		UPDATE tether_jobs SET
			data = $2, state = $3, pending_children = $4, parent_resolved = $5,
			lease_token = $6, lease_expires_at = $7, worker_id = $8, attempts = $9,
			result = $10, error = $11, started_at = $12, finished_at = $13,
			updated_at = $14
		WHERE id = $1`,
		j.ID.String(), []byte(j.Data), string(j.State), j.PendingChildren, j.ParentResolved,
		optionalID(j.LeaseToken), j.LeaseExpiresAt, optionalID(j.WorkerID), j.Attempts,
		nullableJSON(j.Result), j.Error, j.StartedAt, j.FinishedAt,
		j.UpdatedAt,
	)
	return err
}

func notFound(jobID id.JobID, err error) error {
	if isNoRows(err) {
		return fmt.Errorf("%w: %s", tether.ErrJobNotFound, jobID)
	}
	return err
}

// txErr keeps errors returned by mutators as they are and wraps
// everything coming from the driver.
func txErr(op string, err error) error {
	var pgError *pgconn.PgError
	if errors.As(err, &pgError) || isUnavailable(err) ||
		errors.Is(err, pgx.ErrTxClosed) || errors.Is(err, pgx.ErrTxCommitRollback) {
		return pgErr(op, err)
	}
	return err
}

func jobArgs(j *job.Job) []any {
	var parentID, parentQueue *string
	if j.HasParent() {
		pid := j.Parent.ID.String()
		parentID, parentQueue = &pid, &j.Parent.Queue
	}
	return []any{
		j.ID.String(), j.Queue, j.Name, j.Key, []byte(j.Data), string(j.State),
		parentID, parentQueue, j.PendingChildren, j.ParentResolved,
		optionalID(j.LeaseToken), j.LeaseExpiresAt, optionalID(j.WorkerID), j.Attempts,
		nullableJSON(j.Result), j.Error, j.Timeout.Nanoseconds(),
		j.StartedAt, j.FinishedAt, j.CreatedAt, j.UpdatedAt,
	}
}

func optionalID(i id.ID) string {
	if i.IsNil() {
		return ""
	}
	return i.String()
}

func nullableJSON(raw []byte) any {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}

// scanJob scans a single job row selected with jobColumns.
func scanJob(row pgx.Row) (*job.Job, error) {
	var (
		j           job.Job
		idStr       string
		stateStr    string
		parentID    *string
		parentQueue *string
		tokenStr    string
		workerStr   string
		data        []byte
		result      []byte
		timeoutNs   int64
	)
	err := row.Scan(
		&idStr, &j.Queue, &j.Name, &j.Key, &data, &stateStr, &parentID, &parentQueue,
		&j.PendingChildren, &j.ParentResolved, &tokenStr, &j.LeaseExpiresAt,
		&workerStr, &j.Attempts, &result, &j.Error, &timeoutNs,
		&j.StartedAt, &j.FinishedAt, &j.CreatedAt, &j.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	j.State = job.State(stateStr)
	j.Timeout = time.Duration(timeoutNs)
	j.Data = data
	if len(result) > 0 {
		j.Result = result
	}

	j.ID, err = id.ParseJobID(idStr)
	if err != nil {
		return nil, fmt.Errorf("tether/postgres: parse job id %q: %w", idStr, err)
	}
	j.LeaseToken, err = id.ParseOptional(tokenStr, id.PrefixLease)
	if err != nil {
		return nil, fmt.Errorf("tether/postgres: parse lease token %q: %w", tokenStr, err)
	}
	if workerStr != "" {
		parsedWorker, workerErr := id.ParseWorkerID(workerStr)
		if workerErr == nil {
			j.WorkerID = parsedWorker
		}
	}
	if parentID != nil {
		pid, err := id.ParseJobID(*parentID)
		if err != nil {
			return nil, fmt.Errorf("tether/postgres: parse parent id %q: %w", *parentID, err)
		}
		ref := &job.ParentRef{ID: pid}
		if parentQueue != nil {
			ref.Queue = *parentQueue
		}
		j.Parent = ref
	}
	return &j, nil
}

// collectJobs collects all jobs from query rows.
func collectJobs(rows pgx.Rows) ([]*job.Job, error) {
	var jobs []*job.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("tether/postgres: scan job row: %w", err)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, pgErr("iterate job rows", err)
	}
	return jobs, nil
}
