/*
Package health implements liveness checks for durable worker processes:
HTTP, TCP, exec, and plain PID checks, all behind a single Checker
interface so a reconciliation loop can poll any of them the same way.

# Checker

	type Checker interface {
		Check(ctx context.Context) Result
		Type() CheckType
	}

Status tracks consecutive successes/failures against a Config's Retries
threshold and StartPeriod grace window, flipping Healthy only after
enough consecutive results agree — a single flaky check doesn't trip a
worker into the unhealthy state.

# Checkers

HTTPChecker and TCPChecker are general-purpose network probes, useful
for a worker that exposes its own health endpoint or port. ExecChecker
runs a command on the host (a worker's own health-check subcommand, for
instance) and reports success on exit code 0. ProcessChecker checks
whether a PID is still alive via signal 0, for eventloop workers whose
process should keep running between invocations without a synthetic
call to probe it.
*/
package health
