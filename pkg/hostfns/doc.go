/*
Package hostfns implements the Host Function Surface a worker's code calls
into: clocks, randomness, filesystem, HTTP, keyvalue, and promise
capabilities, each routed through the Durability Wrapper with the kind the
capability's determinism profile demands.

# Kind Assignment

  - clocks: ReadLocal — recomputed every replay, never stored.
  - random: WriteLocal — local source, but must replay identically.
  - filesystem, http, keyvalue::eventual: ReadRemote or WriteRemote,
    since all three observe or mutate state outside the worker's own
    deterministic execution.
  - golem::promise::create: WriteLocal — the PromiseId is derived from the
    worker's own oplog position, not an external collaborator.
  - cli::exit: never wrapped. See ExitSignal.

# cli::exit

CliExit bypasses the Durability Wrapper entirely, matching the Golem
original: exiting is an unconditional, unrecorded unwind of the
invocation loop rather than a recorded effect.
*/
package hostfns
