/*
Package durability implements the Durability Wrapper, the component every
other part of the engine depends on for correctness: it is what makes a
worker's execution replayable.

# The Envelope

Every effectful host call passes through Wrap, templated on the call's
serializable result type:

	wrap(ctx, kind, name, live):
	  if kind == ReadLocal:
	    return live(ctx)                      // never persisted, never consumes an index
	  if replaying(ctx):
	    entry = oplog.read_next(ctx)
	    require entry.name == name && entry.kind == kind   // else DivergenceError
	    return decode(entry.payload)
	  else:
	    result = live(ctx)
	    oplog.append(ctx, encode(name, kind, result))       // durable before return
	    return result

A HostContext starts in replay mode up to the oplog length recorded when
the worker resumed, and transitions to live mode the first time read_next
would run past that point; only Rewind or ExtendReplayTo can return it to
replay.

# Divergence

During replay, the (name, kind) of the next oplog entry must match the
host call about to run. A mismatch means the worker's code took a
different path than what was recorded — a fatal, non-retriable condition
surfaced as a *DivergenceError; pkg/workerruntime maps this to
WorkerStatusFailed.

# WriteRemote

WriteRemote's append is what makes the external effect "done" from the
engine's perspective: the call does not return to the worker until the
entry recording it has committed, closing the window where an effect
happened but its record did not survive a crash.
*/
package durability
