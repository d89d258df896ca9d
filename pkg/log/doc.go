/*
Package log provides structured logging for the worker execution engine
using zerolog.

The log package wraps zerolog to provide JSON-structured logging with
component-specific child loggers, configurable log levels, and helper
functions for the engine's common logging patterns (per-worker, per-shard,
per-promise context).

# Architecture

	Global Logger (zerolog.Logger, set by Init)
	  -> Config{Level, JSONOutput, Output}
	  -> Component Loggers: WithComponent/WithNodeID/WithWorkerID/WithShardID/WithPromiseID
	  -> JSON or console output

# Log Levels

Debug: replay tracing, oplog entry dumps — verbose, development only.
Info: worker status transitions, shard assignment changes — default production level.
Warn: retry scheduled, promise suspend with no completion yet.
Error: divergence detected, oplog append failed, RPC handler error.
Fatal: unrecoverable startup failure.

# Usage

	log.Init(log.Config{Level: log.InfoLevel, JSONOutput: true})
	logger := log.WithWorkerID(workerId.String())
	logger.Info().Str("status", "suspended").Msg("worker suspended awaiting promise")
*/
package log
