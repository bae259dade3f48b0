package audithook

// Audit actions. Each one corresponds to an ext lifecycle hook.
const (
	ActionJobAdded       = "job.added"
	ActionJobStarted     = "job.started"
	ActionJobCompleted   = "job.completed"
	ActionJobFailed      = "job.failed"
	ActionJobSuspended   = "job.suspended"
	ActionJobResumed     = "job.resumed"
	ActionLeaseReclaimed = "lease.reclaimed"
)

// CategoryJob groups every action of this extension.
const CategoryJob = "tether.job"

// ResourceJob is the Resource field of every audit event.
const ResourceJob = "job"

// AllActions returns every action this extension can emit.
func AllActions() []string {
	return []string{
		ActionJobAdded,
		ActionJobStarted,
		ActionJobCompleted,
		ActionJobFailed,
		ActionJobSuspended,
		ActionJobResumed,
		ActionLeaseReclaimed,
	}
}
