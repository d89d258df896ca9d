/*
Package client implements the Routing Client described in SPEC_FULL.md §6b:
a gateway-facing library that turns a worker id into a call against whichever
node currently owns that worker's shard, without the caller needing to track
cluster membership itself.

# Shard-aware routing

Client keeps a cached copy of the cluster's shard map (pkg/api's
GetShardMapResponse), fetched from any seed node — the map is identical
everywhere once Raft has replicated the latest assign/revoke command, so
there is no leader-forwarding concern the way there is for AssignShards
itself. Each call resolves the target shard with shard.ShardOf(workerName,
totalShards) and looks up that shard's owner in the cached map.

# Retry policy

A call that fails with an error matching engineerr.EngineError.Retriable()
- an InvalidShardId response (the cached map pointed at the wrong node) or a
RuntimeError whose message looks like a transport failure - triggers a
shard-map refresh followed by an exponential backoff before retrying, up to
Config.MaxRetries. Any other error kind is returned immediately: a
WorkerNotFound or ValueMismatch isn't going to change on retry.

# Transport

Every call goes over a real *grpc.ClientConn secured with mTLS, using the
CLI certificate and cluster CA stored under security.GetCertDir("cli", ""),
with the call content-subtype set to api.CodecName so the server's jsonCodec
decodes it instead of grpc-go's default proto codec.

# Not in scope

Certificate bootstrap (requesting a fresh CLI certificate from a node that
doesn't have one yet) and cluster-membership operations (AssignShards,
RevokeShards, node join/leave) are out of scope for this package - those are
administrative operations against a specific node, not worker routing, and
belong to a CLI built on top of pkg/api directly.
*/
package client
