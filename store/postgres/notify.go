package postgres

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xraph/tether/event"
)

// notifyChannel carries the notifications of every queue; the payload
// names the queue.
const notifyChannel = "tether_jobs"

// reconnectDelay is the pause before re-establishing a lost LISTEN
// connection.
const reconnectDelay = time.Second

// Publish announces new work on queue with NOTIFY.
func (s *Store) Publish(ctx context.Context, queue string) error {
	payload, err := event.New(queue).Encode()
	if err != nil {
		return err
	}
	if _, err := s.pool.Exec(ctx, `SELECT pg_notify($1, $2)`, notifyChannel, payload); err != nil {
		return pgErr("notify", err)
	}
	return nil
}

// Subscribe registers interest in queue. The first call opens the LISTEN
// connection shared by all subscriptions of the store.
func (s *Store) Subscribe(ctx context.Context, queue string) (*event.Subscription, error) {
	if err := s.startListener(ctx); err != nil {
		return nil, err
	}
	return s.hub.Add(queue), nil
}

func (s *Store) startListener(ctx context.Context) error {
	s.listenMu.Lock()
	defer s.listenMu.Unlock()
	if s.listenDone != nil {
		return nil
	}

	conn, err := s.listen(ctx)
	if err != nil {
		return err
	}
	listenCtx, cancel := context.WithCancel(context.Background())
	s.listenCancel = cancel
	s.listenDone = make(chan struct{})
	go s.receive(listenCtx, conn, s.listenDone)
	return nil
}

func (s *Store) stopListener() {
	s.listenMu.Lock()
	cancel, done := s.listenCancel, s.listenDone
	s.listenMu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// listen acquires a dedicated connection and issues LISTEN on it.
func (s *Store) listen(ctx context.Context) (*pgxpool.Conn, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, pgErr("listen: acquire", err)
	}
	if _, err := conn.Exec(ctx, "LISTEN "+notifyChannel); err != nil {
		conn.Release()
		return nil, pgErr("listen", err)
	}
	return conn, nil
}

// receive forwards notifications to the hub until ctx is done. A broken
// connection is replaced and every subscriber is woken, since
// notifications sent meanwhile are lost.
func (s *Store) receive(ctx context.Context, conn *pgxpool.Conn, done chan struct{}) {
	defer close(done)
	for {
		n, err := conn.Conn().WaitForNotification(ctx)
		if err == nil {
			queue := n.Payload
			if e, decErr := event.Decode(n.Payload); decErr == nil {
				queue = e.Queue
			}
			s.hub.Broadcast(queue)
			continue
		}

		// A connection interrupted mid-wait cannot go back to the pool.
		_ = conn.Conn().Close(context.Background())
		conn.Release()
		if ctx.Err() != nil {
			return
		}
		s.logger.Warn("notification listener lost connection",
			slog.String("error", err.Error()),
		)

		for {
			select {
			case <-ctx.Done():
				return
			case <-time.After(reconnectDelay):
			}
			conn, err = s.listen(ctx)
			if err == nil {
				break
			}
			if ctx.Err() == nil {
				s.logger.Warn("notification listener reconnect failed",
					slog.String("error", err.Error()),
				)
			}
		}
		for _, q := range s.hub.Queues() {
			s.hub.Broadcast(q)
		}
	}
}
