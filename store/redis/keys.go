package redis

// Redis key naming conventions for tether data.
// All keys are prefixed with "tether:" to avoid collisions.

const keyPrefix = "tether:"

// jobKey returns the key for a job entity: tether:job:{id}
func jobKey(id string) string { return keyPrefix + "job:" + id }

// jobIDsKey is the Set tracking all job IDs for enumeration.
const jobIDsKey = keyPrefix + "job_ids"

// queueJobsKey returns the Set of job IDs of a queue: tether:queue_jobs:{name}
func queueJobsKey(queue string) string { return keyPrefix + "queue_jobs:" + queue }

// waitingKey returns the Sorted Set of waiting jobs: tether:waiting:{name}
func waitingKey(queue string) string { return keyPrefix + "waiting:" + queue }

// idempotencyKey returns the Hash mapping keys to job IDs: tether:keys:{name}
func idempotencyKey(queue string) string { return keyPrefix + "keys:" + queue }

// channelPrefix prefixes the Pub/Sub channel of every queue.
const channelPrefix = keyPrefix + "notify:"

// channelKey returns the Pub/Sub channel of a queue: tether:notify:{name}
func channelKey(queue string) string { return channelPrefix + queue }
