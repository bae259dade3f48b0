package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/xraph/tether"
	"github.com/xraph/tether/id"
	"github.com/xraph/tether/job"
)

// CreateJobs writes the batch and the parent updates in one MULTI. Keys,
// parents and the new job hashes are watched so a concurrent writer forces
// a retry.
func (s *Store) CreateJobs(ctx context.Context, jobs []*job.Job, parentFn job.ParentFunc) ([]*job.Job, error) {
	if len(jobs) == 0 {
		return nil, nil
	}

	var watched []string
	seen := make(map[string]struct{})
	watchKey := func(k string) {
		if _, ok := seen[k]; !ok {
			seen[k] = struct{}{}
			watched = append(watched, k)
		}
	}
	for _, j := range jobs {
		watchKey(jobKey(j.ID.String()))
		if j.Key != "" {
			watchKey(idempotencyKey(j.Queue))
		}
		if j.HasParent() {
			watchKey(jobKey(j.Parent.ID.String()))
		}
	}

	var result []*job.Job
	err := s.watch(ctx, "create jobs", func(tx *goredis.Tx) error {
		result = make([]*job.Job, len(jobs))
		created := make([]*job.Job, 0, len(jobs))
		batchKeys := make(map[string]*job.Job)

		for i, j := range jobs {
			bk := j.Queue + "\x00" + j.Key
			if j.Key != "" {
				if dup, ok := batchKeys[bk]; ok {
					result[i] = dup.Clone()
					continue
				}
				existing, err := lookupKey(ctx, tx, j.Queue, j.Key)
				if err != nil {
					return err
				}
				if existing != nil {
					result[i] = existing
					continue
				}
			}
			n, err := tx.Exists(ctx, jobKey(j.ID.String())).Result()
			if err != nil {
				return redisErr("create jobs: exists", err)
			}
			if n > 0 {
				return fmt.Errorf("%w: %s", tether.ErrJobAlreadyExists, j.ID)
			}
			cp := j.Clone()
			if j.Key != "" {
				batchKeys[bk] = cp
			}
			created = append(created, cp)
			result[i] = cp.Clone()
		}

		var parents []*job.Job
		if parentFn != nil {
			order, counts := job.GroupByParent(created)
			for _, pid := range order {
				p, err := getJob(ctx, tx, pid.String())
				if errors.Is(err, tether.ErrJobNotFound) {
					return fmt.Errorf("%w: parent %s", tether.ErrJobNotFound, pid)
				}
				if err != nil {
					return err
				}
				n := counts[pid.String()]
				updated, err := job.Mutate(p, func(pj *job.Job) error { return parentFn(pj, n) })
				if err != nil {
					return err
				}
				parents = append(parents, updated)
			}
		}

		if len(created) == 0 {
			return nil
		}
		_, err := tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			for _, p := range parents {
				putJob(ctx, pipe, p)
			}
			for _, j := range created {
				putJob(ctx, pipe, j)
				if j.Key != "" {
					pipe.HSet(ctx, idempotencyKey(j.Queue), j.Key, j.ID.String())
				}
			}
			return nil
		})
		if err != nil {
			return redisErr("create jobs", err)
		}
		return nil
	}, watched...)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	return getJob(ctx, s.client, jobID.String())
}

// UpdateJob applies fn to the job in a WATCH/MULTI transaction.
func (s *Store) UpdateJob(ctx context.Context, jobID id.JobID, fn job.Mutator) (*job.Job, error) {
	var updated *job.Job
	err := s.watch(ctx, "update job", func(tx *goredis.Tx) error {
		cur, err := getJob(ctx, tx, jobID.String())
		if err != nil {
			return err
		}
		updated, err = job.Mutate(cur, fn)
		if err != nil {
			return err
		}
		return commit(ctx, tx, "update job", updated)
	}, jobKey(jobID.String()))
	if err != nil {
		return nil, err
	}
	return updated, nil
}

// UpdateFamily applies childFn to the child and parentFn to its parent in
// one transaction watching both hashes.
func (s *Store) UpdateFamily(ctx context.Context, childID id.JobID, childFn, parentFn job.Mutator) (*job.Job, error) {
	var child *job.Job
	err := s.watch(ctx, "update family", func(tx *goredis.Tx) error {
		cur, err := getJob(ctx, tx, childID.String())
		if err != nil {
			return err
		}
		child, err = job.Mutate(cur, childFn)
		if err != nil {
			return err
		}
		if !cur.HasParent() || parentFn == nil {
			return commit(ctx, tx, "update family", child)
		}

		pkey := cur.Parent.ID.String()
		if err := tx.Watch(ctx, jobKey(pkey)).Err(); err != nil {
			return redisErr("update family: watch parent", err)
		}
		p, err := getJob(ctx, tx, pkey)
		if errors.Is(err, tether.ErrJobNotFound) {
			return commit(ctx, tx, "update family", child)
		}
		if err != nil {
			return err
		}
		parent, err := job.Mutate(p, parentFn)
		if err != nil {
			return err
		}
		return commit(ctx, tx, "update family", child, parent)
	}, jobKey(childID.String()))
	if err != nil {
		return nil, err
	}
	return child, nil
}

// ClaimJob applies fn to the oldest waiting job of queue. Index entries
// that no longer point at a waiting job are dropped on the way.
func (s *Store) ClaimJob(ctx context.Context, queue string, fn job.Mutator) (*job.Job, error) {
	wkey := waitingKey(queue)
	for {
		var (
			claimed *job.Job
			stale   bool
		)
		err := s.watch(ctx, "claim job", func(tx *goredis.Tx) error {
			claimed, stale = nil, false
			ids, err := tx.ZRange(ctx, wkey, 0, 0).Result()
			if err != nil {
				return redisErr("claim job: zrange", err)
			}
			if len(ids) == 0 {
				return nil
			}
			if err := tx.Watch(ctx, jobKey(ids[0])).Err(); err != nil {
				return redisErr("claim job: watch", err)
			}
			cur, err := getJob(ctx, tx, ids[0])
			if err != nil && !errors.Is(err, tether.ErrJobNotFound) {
				return err
			}
			if cur == nil || cur.State != job.StateWaiting || cur.Queue != queue {
				stale = true
				_, err := tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
					pipe.ZRem(ctx, wkey, ids[0])
					return nil
				})
				if err != nil {
					return redisErr("claim job: drop stale", err)
				}
				return nil
			}
			claimed, err = job.Mutate(cur, fn)
			if err != nil {
				return err
			}
			return commit(ctx, tx, "claim job", claimed)
		}, wkey)
		if err != nil {
			return nil, err
		}
		if !stale {
			return claimed, nil
		}
	}
}

// ListJobs returns jobs matching the options, oldest first.
func (s *Store) ListJobs(ctx context.Context, opts job.ListOpts) ([]*job.Job, error) {
	all, err := s.loadJobs(ctx, opts.Queue)
	if err != nil {
		return nil, err
	}
	result := make([]*job.Job, 0, len(all))
	for _, j := range all {
		if opts.State != "" && j.State != opts.State {
			continue
		}
		if !opts.Parent.IsNil() && (!j.HasParent() || !j.Parent.ID.Equal(opts.Parent)) {
			continue
		}
		result = append(result, j)
	}
	sortJobs(result)

	if opts.Offset > 0 {
		if opts.Offset >= len(result) {
			return nil, nil
		}
		result = result[opts.Offset:]
	}
	if opts.Limit > 0 && len(result) > opts.Limit {
		result = result[:opts.Limit]
	}
	return result, nil
}

// CountJobs returns the number of jobs matching the given options.
func (s *Store) CountJobs(ctx context.Context, opts job.CountOpts) (int64, error) {
	if opts.State == job.StateWaiting && opts.Queue != "" {
		n, err := s.client.ZCard(ctx, waitingKey(opts.Queue)).Result()
		if err != nil {
			return 0, redisErr("count jobs: zcard", err)
		}
		return n, nil
	}
	all, err := s.loadJobs(ctx, opts.Queue)
	if err != nil {
		return 0, err
	}
	var count int64
	for _, j := range all {
		if opts.State != "" && j.State != opts.State {
			continue
		}
		count++
	}
	return count, nil
}

// DeleteJob removes a job and its index entries.
func (s *Store) DeleteJob(ctx context.Context, jobID id.JobID) error {
	jID := jobID.String()
	return s.watch(ctx, "delete job", func(tx *goredis.Tx) error {
		j, err := getJob(ctx, tx, jID)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
			pipe.Del(ctx, jobKey(jID))
			pipe.SRem(ctx, jobIDsKey, jID)
			pipe.SRem(ctx, queueJobsKey(j.Queue), jID)
			pipe.ZRem(ctx, waitingKey(j.Queue), jID)
			if j.Key != "" {
				pipe.HDel(ctx, idempotencyKey(j.Queue), j.Key)
			}
			return nil
		})
		if err != nil {
			return redisErr("delete job", err)
		}
		return nil
	}, jobKey(jID))
}

// ── helpers ──

// loadJobs fetches every job of queue, or of all queues when queue is
// empty, in one pipeline.
func (s *Store) loadJobs(ctx context.Context, queue string) ([]*job.Job, error) {
	set := jobIDsKey
	if queue != "" {
		set = queueJobsKey(queue)
	}
	ids, err := s.client.SMembers(ctx, set).Result()
	if err != nil {
		return nil, redisErr("list jobs: smembers", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*goredis.MapStringStringCmd, len(ids))
	for i, jID := range ids {
		cmds[i] = pipe.HGetAll(ctx, jobKey(jID))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, redisErr("list jobs: hgetall", err)
	}

	jobs := make([]*job.Job, 0, len(ids))
	for _, cmd := range cmds {
		vals := cmd.Val()
		if len(vals) == 0 {
			continue // deleted between SMEMBERS and HGETALL
		}
		j, err := mapToJob(vals)
		if err != nil {
			s.logger.Warn("skipping unreadable job", slog.String("error", err.Error()))
			continue
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}

func getJob(ctx context.Context, c goredis.Cmdable, jID string) (*job.Job, error) {
	vals, err := c.HGetAll(ctx, jobKey(jID)).Result()
	if err != nil {
		return nil, redisErr("get job", err)
	}
	if len(vals) == 0 {
		return nil, fmt.Errorf("%w: %s", tether.ErrJobNotFound, jID)
	}
	return mapToJob(vals)
}

// lookupKey returns the job registered under key in queue, or nil.
func lookupKey(ctx context.Context, c goredis.Cmdable, queue, key string) (*job.Job, error) {
	jID, err := c.HGet(ctx, idempotencyKey(queue), key).Result()
	if errors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, redisErr("create jobs: key lookup", err)
	}
	j, err := getJob(ctx, c, jID)
	if errors.Is(err, tether.ErrJobNotFound) {
		return nil, nil
	}
	return j, err
}

func commit(ctx context.Context, tx *goredis.Tx, op string, jobs ...*job.Job) error {
	_, err := tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		for _, j := range jobs {
			putJob(ctx, pipe, j)
		}
		return nil
	})
	if err != nil {
		return redisErr(op, err)
	}
	return nil
}

// putJob queues the writes that store j and keep its indexes in step.
// The hash is replaced so that cleared optional fields disappear.
func putJob(ctx context.Context, pipe goredis.Pipeliner, j *job.Job) {
	jID := j.ID.String()
	key := jobKey(jID)
	pipe.Del(ctx, key)
	pipe.HSet(ctx, key, jobToMap(j))
	pipe.SAdd(ctx, jobIDsKey, jID)
	pipe.SAdd(ctx, queueJobsKey(j.Queue), jID)
	if j.State == job.StateWaiting {
		pipe.ZAdd(ctx, waitingKey(j.Queue), goredis.Z{Score: jobScore(j.CreatedAt), Member: jID})
	} else {
		pipe.ZRem(ctx, waitingKey(j.Queue), jID)
	}
}

// jobScore orders waiting jobs by creation time. Microseconds keep the
// score exact in a float64; equal scores fall back to the time-ordered id.
func jobScore(createdAt time.Time) float64 {
	return float64(createdAt.UnixMicro())
}

// sortJobs orders by creation time, then by id, which is time-ordered.
func sortJobs(jobs []*job.Job) {
	sort.Slice(jobs, func(i, k int) bool {
		if !jobs[i].CreatedAt.Equal(jobs[k].CreatedAt) {
			return jobs[i].CreatedAt.Before(jobs[k].CreatedAt)
		}
		return jobs[i].ID.String() < jobs[k].ID.String()
	})
}

func formatTime(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(time.RFC3339Nano)
}

func jobToMap(j *job.Job) map[string]interface{} {
	m := map[string]interface{}{
		"id":               j.ID.String(),
		"queue":            j.Queue,
		"name":             j.Name,
		"data":             string(j.Data),
		"state":            string(j.State),
		"pending_children": strconv.Itoa(j.PendingChildren),
		"parent_resolved":  strconv.FormatBool(j.ParentResolved),
		"attempts":         strconv.Itoa(j.Attempts),
		"timeout":          strconv.FormatInt(int64(j.Timeout), 10),
		"created_at":       j.CreatedAt.Format(time.RFC3339Nano),
		"updated_at":       j.UpdatedAt.Format(time.RFC3339Nano),
	}
	optional := map[string]string{
		"key":              j.Key,
		"lease_token":      "",
		"worker_id":        "",
		"result":           string(j.Result),
		"error":            j.Error,
		"lease_expires_at": formatTime(j.LeaseExpiresAt),
		"started_at":       formatTime(j.StartedAt),
		"finished_at":      formatTime(j.FinishedAt),
	}
	if !j.LeaseToken.IsNil() {
		optional["lease_token"] = j.LeaseToken.String()
	}
	if !j.WorkerID.IsNil() {
		optional["worker_id"] = j.WorkerID.String()
	}
	if j.HasParent() {
		optional["parent_id"] = j.Parent.ID.String()
		optional["parent_queue"] = j.Parent.Queue
	}
	for k, v := range optional {
		if v != "" {
			m[k] = v
		}
	}
	return m
}

func mapToJob(m map[string]string) (*job.Job, error) {
	jID, err := id.ParseJobID(m["id"])
	if err != nil {
		return nil, fmt.Errorf("tether/redis: parse job id: %w", err)
	}
	token, err := id.ParseOptional(m["lease_token"], id.PrefixLease)
	if err != nil {
		return nil, fmt.Errorf("tether/redis: parse lease token: %w", err)
	}
	wid, err := id.ParseOptional(m["worker_id"], id.PrefixWorker)
	if err != nil {
		return nil, fmt.Errorf("tether/redis: parse worker id: %w", err)
	}

	pending, _ := strconv.Atoi(m["pending_children"])      //nolint:errcheck // best-effort parse from trusted Redis data
	attempts, _ := strconv.Atoi(m["attempts"])             //nolint:errcheck // best-effort parse from trusted Redis data
	resolved, _ := strconv.ParseBool(m["parent_resolved"]) //nolint:errcheck // best-effort parse from trusted Redis data
	timeout, _ := strconv.ParseInt(m["timeout"], 10, 64)   //nolint:errcheck // best-effort parse from trusted Redis data

	createdAt, _ := time.Parse(time.RFC3339Nano, m["created_at"]) //nolint:errcheck // best-effort parse from trusted Redis data
	updatedAt, _ := time.Parse(time.RFC3339Nano, m["updated_at"]) //nolint:errcheck // best-effort parse from trusted Redis data

	j := &job.Job{
		Entity: tether.Entity{
			CreatedAt: createdAt,
			UpdatedAt: updatedAt,
		},
		ID:              jID,
		Queue:           m["queue"],
		Name:            m["name"],
		Key:             m["key"],
		Data:            []byte(m["data"]),
		State:           job.State(m["state"]),
		PendingChildren: pending,
		ParentResolved:  resolved,
		LeaseToken:      token,
		WorkerID:        wid,
		Attempts:        attempts,
		Error:           m["error"],
		Timeout:         time.Duration(timeout),
		LeaseExpiresAt:  parseTime(m["lease_expires_at"]),
		StartedAt:       parseTime(m["started_at"]),
		FinishedAt:      parseTime(m["finished_at"]),
	}
	if v := m["result"]; v != "" {
		j.Result = []byte(v)
	}
	if v := m["parent_id"]; v != "" {
		pid, err := id.ParseJobID(v)
		if err != nil {
			return nil, fmt.Errorf("tether/redis: parse parent id: %w", err)
		}
		j.Parent = &job.ParentRef{ID: pid, Queue: m["parent_queue"]}
	}
	return j, nil
}

func parseTime(v string) *time.Time {
	if v == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, v)
	if err != nil {
		return nil
	}
	return &t
}
