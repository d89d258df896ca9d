/*
Package cluster wires a node's Raft instance around pkg/shard's Service,
which is itself the Raft FSM: shard register/assign/revoke commands are
raft.Apply'd here and applied there, so the shard map survives leader
failover without a bespoke coordination protocol.

# Bootstrap vs Join

The first node in a cluster calls Bootstrap, which stands up a
single-server Raft configuration and self-signs the cluster's root CA.
Every subsequent node calls JoinExisting to construct its own Raft
instance against the same transport/log layout, then waits for the
leader to call AddVoter on its behalf (driven by the RPC surface in
pkg/api, using a token minted by GenerateJoinToken).

# Node membership

Node liveness (ListNodes, Heartbeat) is tracked in memory rather than
replicated through Raft: it's observability state, refreshed by each
node's own register/heartbeat calls, not something that needs
linearizable consensus the way shard ownership does.

# Usage

	mgr, _ := cluster.NewManager(cfg, store, shards)
	if firstNode {
		_ = mgr.Bootstrap()
	} else {
		_ = mgr.JoinExisting()
	}
*/
package cluster
