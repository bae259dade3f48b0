// Package audithook is a tether extension that turns job lifecycle events
// into audit records.
//
// Every hook (added, started, completed, failed, suspended, resumed, lease
// reclaimed) emits one [AuditEvent] through a [Recorder]. Severity follows
// the outcome: info for normal progress, warning for reclaimed leases,
// critical for failed jobs.
//
//	eng, _ := engine.Build(t, engine.WithExtension(
//	    audithook.New(audithook.NewSlogRecorder(logger)),
//	))
//
// Only a subset of actions can be recorded:
//
//	audithook.New(recorder,
//	    audithook.WithActions(
//	        audithook.ActionJobSuspended,
//	        audithook.ActionJobResumed,
//	    ),
//	)
package audithook
