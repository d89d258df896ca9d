/*
Package reconciler detects nodes that have stopped heartbeating and moves
their shards to a live node, so a worker whose owning shard went dark
resumes being reachable through the Shard Service instead of staying
stranded on a dead node forever.

# Loop

Every 10 seconds, only on the Raft leader (followers would otherwise all
race to submit the same revoke/assign commands):

 1. Walk registered nodes; any node silent for more than 30 seconds is
    marked down.
 2. For each newly-down node, find the shards it held
    (shard.Service.ShardsOwnedBy) and submit a revoke command for each.
 3. Reassign each revoked shard to a live node, round-robin, via an
    assign command.

Both commands go through the cluster's Raft instance (cluster interface's
Apply), so the reassignment itself is replicated and survives a second
leader failover mid-cycle.

	rec := reconciler.NewReconciler(clusterManager, shardService)
	rec.Start()
	defer rec.Stop()
*/
package reconciler
