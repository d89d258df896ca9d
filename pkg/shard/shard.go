// Package shard implements the Shard Service: ownership of the worker-id
// space's partitions, replicated across the cluster via a Raft FSM so that
// register/assign/revoke survive leader failover without a bespoke
// shard-manager wire protocol.
package shard

import (
	"encoding/json"
	"fmt"
	"hash/fnv"
	"io"
	"sync"

	"github.com/cuemby/wexec/pkg/types"
	"github.com/hashicorp/raft"
)

// ShardOf deterministically maps a worker name into [0, totalShards) by
// FNV-1a hashing the name, independent of any Raft state. Every node
// computes the same answer given the same totalShards.
func ShardOf(workerName string, totalShards uint32) types.ShardId {
	h := fnv.New32a()
	h.Write([]byte(workerName))
	return types.ShardId(h.Sum32() % totalShards)
}

// commandKind distinguishes the Raft log operations the Shard Service's FSM
// understands.
type commandKind string

const (
	cmdRegisterNode commandKind = "register_node"
	cmdAssignShard  commandKind = "assign_shard"
	cmdRevokeShard  commandKind = "revoke_shard"
)

type command struct {
	Kind    commandKind
	NodeId  string
	ShardId types.ShardId
}

// Service is the authoritative shard map, replicated across the cluster as
// a Raft FSM. assignments[shardId] is the owning node id, or "" if
// unassigned. Every node's Service applies the same committed log, so
// Check and OwnedShards are always consistent with the last-applied index
// regardless of which node answers.
type Service struct {
	mu          sync.RWMutex
	selfNodeId  string
	totalShards uint32
	assignments map[types.ShardId]string
	registered  map[string]bool
}

// NewService creates a Shard Service for totalShards partitions. selfNodeId
// is used by OwnedShardCount/OwnedShards to answer "what does *this* node
// own" without the caller re-supplying its own id on every call.
func NewService(selfNodeId string, totalShards uint32) *Service {
	return &Service{
		selfNodeId:  selfNodeId,
		totalShards: totalShards,
		assignments: make(map[types.ShardId]string),
		registered:  make(map[string]bool),
	}
}

// TotalShards returns the fixed partition count.
func (s *Service) TotalShards() uint32 {
	return s.totalShards
}

// Check returns the node id that owns shardId, and whether it is assigned
// at all.
func (s *Service) Check(shardId types.ShardId) (nodeId string, assigned bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	nodeId, assigned = s.assignments[shardId]
	return nodeId, assigned && nodeId != ""
}

// OwnedShards returns the shards currently assigned to this node.
func (s *Service) OwnedShards() []types.ShardId {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var owned []types.ShardId
	for shardId, nodeId := range s.assignments {
		if nodeId == s.selfNodeId {
			owned = append(owned, shardId)
		}
	}
	return owned
}

// OwnedShardCount implements metrics.ShardView.
func (s *Service) OwnedShardCount() int {
	return len(s.OwnedShards())
}

// ShardsOwnedBy returns the shards currently assigned to nodeId, for any
// node in the cluster. Used by the reconciliation loop to find what needs
// revoking when a node is declared down.
func (s *Service) ShardsOwnedBy(nodeId string) []types.ShardId {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var owned []types.ShardId
	for shardId, owner := range s.assignments {
		if owner == nodeId {
			owned = append(owned, shardId)
		}
	}
	return owned
}

// UnassignedShards returns every shard in [0, totalShards) with no current
// owner.
func (s *Service) UnassignedShards() []types.ShardId {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var free []types.ShardId
	for i := types.ShardId(0); uint32(i) < s.totalShards; i++ {
		if owner, ok := s.assignments[i]; !ok || owner == "" {
			free = append(free, i)
		}
	}
	return free
}

// AllAssignments returns a snapshot of every shard's current owner (absent
// for an unassigned shard), for the GetShardMap RPC the Routing Client
// polls to refresh its cached routing table.
func (s *Service) AllAssignments() map[types.ShardId]string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[types.ShardId]string, len(s.assignments))
	for shardId, owner := range s.assignments {
		out[shardId] = owner
	}
	return out
}

// Registered reports whether nodeId has been registered as a shard-holding
// member of the cluster.
func (s *Service) Registered(nodeId string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.registered[nodeId]
}

// RegisterCommand, AssignCommand and RevokeCommand encode a Raft log entry
// for the corresponding mutation. The caller (pkg/cluster's Manager) is
// responsible for calling raft.Raft.Apply with the returned bytes; the
// Service itself holds no reference to the Raft instance, so it stays
// testable by applying commands directly against Apply.
func RegisterCommand(nodeId string) ([]byte, error) {
	return json.Marshal(command{Kind: cmdRegisterNode, NodeId: nodeId})
}

func AssignCommand(nodeId string, shardId types.ShardId) ([]byte, error) {
	return json.Marshal(command{Kind: cmdAssignShard, NodeId: nodeId, ShardId: shardId})
}

func RevokeCommand(nodeId string, shardId types.ShardId) ([]byte, error) {
	return json.Marshal(command{Kind: cmdRevokeShard, NodeId: nodeId, ShardId: shardId})
}

// Apply implements raft.FSM. It is the single mutation path for shard
// assignment state, called by the Raft library once a log entry commits.
func (s *Service) Apply(log *raft.Log) interface{} {
	var cmd command
	if err := json.Unmarshal(log.Data, &cmd); err != nil {
		return fmt.Errorf("failed to unmarshal shard command: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	switch cmd.Kind {
	case cmdRegisterNode:
		s.registered[cmd.NodeId] = true
		return nil
	case cmdAssignShard:
		s.assignments[cmd.ShardId] = cmd.NodeId
		return nil
	case cmdRevokeShard:
		if s.assignments[cmd.ShardId] == cmd.NodeId {
			delete(s.assignments, cmd.ShardId)
		}
		return nil
	default:
		return fmt.Errorf("unknown shard command: %s", cmd.Kind)
	}
}

// snapshot is the point-in-time shard map persisted by Raft's log
// compaction.
type snapshot struct {
	TotalShards uint32
	Assignments map[types.ShardId]string
	Registered  map[string]bool
}

// Snapshot implements raft.FSM.
func (s *Service) Snapshot() (raft.FSMSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	assignments := make(map[types.ShardId]string, len(s.assignments))
	for k, v := range s.assignments {
		assignments[k] = v
	}
	registered := make(map[string]bool, len(s.registered))
	for k, v := range s.registered {
		registered[k] = v
	}

	return &shardSnapshot{snapshot{
		TotalShards: s.totalShards,
		Assignments: assignments,
		Registered:  registered,
	}}, nil
}

// Restore implements raft.FSM.
func (s *Service) Restore(rc io.ReadCloser) error {
	defer rc.Close()

	var snap snapshot
	if err := json.NewDecoder(rc).Decode(&snap); err != nil {
		return fmt.Errorf("failed to decode shard snapshot: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.totalShards = snap.TotalShards
	s.assignments = snap.Assignments
	if s.assignments == nil {
		s.assignments = make(map[types.ShardId]string)
	}
	s.registered = snap.Registered
	if s.registered == nil {
		s.registered = make(map[string]bool)
	}
	return nil
}

type shardSnapshot struct {
	snapshot
}

func (s *shardSnapshot) Persist(sink raft.SnapshotSink) error {
	err := func() error {
		if err := json.NewEncoder(sink).Encode(s.snapshot); err != nil {
			return err
		}
		return sink.Close()
	}()
	if err != nil {
		sink.Cancel()
	}
	return err
}

func (s *shardSnapshot) Release() {}
