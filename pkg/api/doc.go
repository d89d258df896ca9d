/*
Package api implements the node's gRPC-facing RPC Service and its HTTP
health/readiness/metrics endpoints.

The API server is the boundary between external callers (a routing client
in pkg/client, the CLI, or another node) and the node-local worker
execution engine in pkg/engine:

	┌─────────── CLIENT (pkg/client, CLI) ───────────┐
	│  gRPC over mTLS, json content-subtype codec     │
	└───────────────────┬─────────────────────────────┘
	                    │
	┌───────────────────▼──────── NODE ───────────────┐
	│  pkg/api.Server (this package)                   │
	│    - worker-lifecycle RPCs  -> pkg/engine.Engine  │
	│    - AssignShards/RevokeShards -> pkg/cluster,    │
	│      pkg/shard directly                          │
	└───────────────────────────────────────────────────┘

# RPC surface

Every operation spec.md §6 names has a request/response pair in
messages.go and a method on EngineServer (service.go), dispatched through
a hand-written grpc.ServiceDesc rather than protoc-generated stubs — see
DESIGN.md's "RPC wire format" entry for why. connect_worker is the one
server-streaming method; every other operation is unary:

	create_worker, get_invocation_key, invoke_worker,
	invoke_and_await_worker, connect_worker, delete_worker,
	complete_promise, interrupt_worker, resume_worker,
	get_worker_metadata, assign_shards, revoke_shards

Every worker-lifecycle response embeds an *ErrorPayload mirroring
engineerr.EngineError's Kind taxonomy, so a client inspects Kind instead of
parsing a message string. assign_shards/revoke_shards, being direct Raft
proposals rather than engine operations, report a plain string error.

# Wire format

Requests and responses are plain Go structs marshaled by jsonCodec
(codec.go), registered under the "json" content-subtype. This keeps
grpc-go's real transport, streaming, deadlines and interceptor chain, while
sidestepping the missing .proto/generated-stub pair that would otherwise be
required.

# mTLS

NewServer loads the node's own certificate and the cluster CA from disk
(pkg/security) and configures TLS 1.3 with RequestClientCert, the same
posture the teacher's manager server uses: client certs are requested but
neither required nor verified, and no RPC handler or interceptor inspects
the peer certificate, since some bootstrap calls arrive before a node holds
a certificate.

# Leader forwarding

AssignShards and RevokeShards only succeed on the Raft leader; a non-leader
node returns an error naming the current leader address so the caller can
retry there. Worker-lifecycle RPCs have no such restriction — they operate
against whichever node owns the target worker's shard, which is usually not
the Raft leader at all.

# Health and metrics

HealthServer (health.go) exposes /health (liveness), /ready (leader
election + replication-progress checks against pkg/cluster), and /metrics
(pkg/metrics' Prometheus handler) on a separate HTTP listener from the gRPC
port.

# See also

  - pkg/engine for the operations this package dispatches to
  - pkg/cluster and pkg/shard for the membership RPCs
  - pkg/client for the routing client that calls this server
  - pkg/security for the mTLS certificate machinery
*/
package api
