/*
Package workerruntime drives a single durable worker: its invocation
queue, calling conventions, state machine, interrupt plumbing, and
recovery from the oplog via pkg/durability.

# State Machine

	Idle       --invocation enqueued-->      Running
	Running    --queue empties-->            Idle
	Running    --Suspend interrupt-->        Suspended   (awaiting a promise)
	Running    --Interrupt interrupt-->      Interrupted (external request)
	Running    --Restart interrupt-->        Idle        (restart requested)
	Running    --unrecoverable error-->      Retrying
	Retrying   --retry timer fires-->        Running
	Retrying   --retry budget exhausted-->   Failed
	Suspended  --matching promise completes--> Running

Failed and Exited are terminal except for an explicit delete.

# Interrupt Plumbing

SetInterrupting installs a one-shot signal consumed by
durability.HostContext's interruptCheck hook at the next live host-call
boundary — never mid-instruction, and never during replay, since a
restart-in-progress replay must run to completion before a fresh
interrupt can land. The channel SetInterrupting returns closes once the
runtime has actually paused.

# Calling Conventions

Component, Stdio, and StdioEventloop share one Program interface.
ComponentProgram backs Component with an in-process function table;
StdioProgram backs Stdio/StdioEventloop with a subprocess speaking
newline-framed JSON, spawning fresh per call for Stdio and persisting
across calls for StdioEventloop.

# Recovery

New replays a worker's entire oplog before falling through to live
execution, driven transparently by durability.HostContext — the runtime
itself does not distinguish "resuming after a crash" from "instantiating
for the first time"; both start at oplog index 0.
*/
package workerruntime
