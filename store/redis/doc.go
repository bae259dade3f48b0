// Package redis implements store.Store on Redis.
//
// Every job is a Hash. Waiting jobs of a queue are indexed in a Sorted Set
// scored by creation time, idempotency keys live in one Hash per queue, and
// every read-modify-write runs as a WATCH/MULTI transaction so mutators are
// linearizable per job. Queue notifications use Pub/Sub.
//
// The caller owns the Redis client lifecycle; Close only drops the
// store's Pub/Sub connection:
//
//	client := goredis.NewClient(&goredis.Options{Addr: "localhost:6379"})
//	s := redis.New(client)
//	if err := s.Ping(ctx); err != nil { ... }
package redis
