/*
Package promise implements Promise Coordination: create, poll, and
compare-and-swap complete, plus reactivation of whatever worker is
suspended awaiting a promise once it completes.

# Suspend Instead of Block

AwaitPromise never blocks the calling goroutine on external completion.
It polls once; if the promise isn't done, it returns Suspended=true and
the Worker Runtime parks the invocation, to be re-entered on the next
reactivation or explicit resume.

# Reactivation

Complete's compare-and-swap is the single serialization point: only the
completer that wins the CAS calls Reactivate, so a worker suspended on a
promise is nudged at most once per completion. A worker not resident in
the Active Worker Cache at the moment of completion simply observes the
completed promise the next time it (or an operator) triggers a poll.

# Usage

	svc := promise.NewService(store, reactivator)
	id := types.PromiseId{WorkerId: workerId, OplogIndex: idx}
	svc.Create(id)
	outcome, _ := svc.AwaitPromise(id)
	if outcome.Suspended {
		return engineerr.Interrupted(types.InterruptSuspend)
	}
*/
package promise
