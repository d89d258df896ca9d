/*
Package engine implements the node-local worker execution engine: the
object every RPC handler in pkg/api delegates to. It owns one Active
Worker Cache, one Promise Service, and the template registry, and
consults the Shard Service before any operation that touches worker
state.

	eng := engine.New(nodeId, store, shards, templates, engine.DefaultConfig())
	if err := eng.CreateWorker(workerId, 1, nil, nil, "acct-1"); err != nil {
	    var ee *engineerr.EngineError
	    if errors.As(err, &ee) && ee.Kind == engineerr.KindInvalidShardId {
	        // caller should refresh its routing table and retry elsewhere
	    }
	}

Every method returns an *engineerr.EngineError (or wraps one) on failure,
so pkg/api can translate it straight into the wire error envelope without
re-deriving intent from a message string.
*/
package engine
