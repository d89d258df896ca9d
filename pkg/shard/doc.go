/*
Package shard implements the Shard Service: the worker-id space is
partitioned into a fixed number of shards, and each shard is owned by at
most one node at a time.

# Architecture

The authoritative assignment map is replicated via hashicorp/raft: Service
itself implements raft.FSM, so every node's Apply call sees the same
committed sequence of register/assign/revoke commands and converges to the
same map, surviving leader failover without a bespoke shard-manager wire
protocol.

shard_of is kept separate from the replicated map: it's a pure function of
(workerName, totalShards) via FNV-1a hashing, identical on every node
regardless of Raft state, so routing decisions never need a round trip.

# Usage

	svc := shard.NewService(selfNodeId, totalShards)
	// svc is registered as the FSM passed to raft.NewRaft by pkg/cluster.

	cmd, _ := shard.AssignCommand(nodeId, shardId)
	future := raftInstance.Apply(cmd, 5*time.Second)
	if err := future.Error(); err != nil { ... }

	owner, assigned := svc.Check(shard.ShardOf("worker-1", svc.TotalShards()))
*/
package shard
