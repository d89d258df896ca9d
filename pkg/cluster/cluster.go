// Package cluster owns a node's Raft instance, whose FSM is pkg/shard's
// Service, plus the ambient cluster-membership concerns a durable-worker
// node needs at startup: join tokens and the cluster's root CA material.
//
// The authoritative shard map lives inside pkg/shard.Service, not here —
// Manager only wires Raft's transport, log/stable/snapshot stores, and
// Apply path to it, so shard ownership survives leader failover without a
// bespoke shard-manager wire protocol.
package cluster

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cuemby/wexec/pkg/metrics"
	"github.com/cuemby/wexec/pkg/security"
	"github.com/cuemby/wexec/pkg/shard"
	"github.com/cuemby/wexec/pkg/storage"
	"github.com/cuemby/wexec/pkg/types"
	"github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb"
)

// Config holds the parameters needed to stand up a node's Raft instance.
type Config struct {
	NodeId      string
	BindAddr    string
	DataDir     string
	TotalShards uint32
}

// Manager owns a node's Raft instance (FSM: pkg/shard.Service), its join
// tokens, and the cluster's root CA. Node membership is tracked in memory,
// refreshed by each node's own register/heartbeat calls, since it is
// observability state rather than something that needs linearizable
// consensus.
type Manager struct {
	nodeId   string
	bindAddr string
	dataDir  string

	raft   *raft.Raft
	shards *shard.Service
	store  storage.Store
	tokens *TokenManager
	ca     *security.CertAuthority

	mu    sync.RWMutex
	nodes map[string]*types.Node
}

// NewManager wires a Manager around an already-constructed Shard Service,
// which doubles as the Raft FSM, and the node's durable store (used only
// for CA material here — shard state lives in Raft's own log/stable/
// snapshot stores).
func NewManager(cfg Config, store storage.Store, shards *shard.Service) (*Manager, error) {
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	return &Manager{
		nodeId:   cfg.NodeId,
		bindAddr: cfg.BindAddr,
		dataDir:  cfg.DataDir,
		shards:   shards,
		store:    store,
		tokens:   NewTokenManager(),
		ca:       security.NewCertAuthority(store),
		nodes:    make(map[string]*types.Node),
	}, nil
}

// raftConfig builds the *raft.Config shared by Bootstrap and Join, tuned
// for LAN-latency failover rather than hashicorp/raft's WAN-oriented
// defaults.
func (m *Manager) raftConfig() *raft.Config {
	cfg := raft.DefaultConfig()
	cfg.LocalID = raft.ServerID(m.nodeId)
	cfg.HeartbeatTimeout = 500 * time.Millisecond
	cfg.ElectionTimeout = 500 * time.Millisecond
	cfg.LeaderLeaseTimeout = 250 * time.Millisecond
	return cfg
}

// newRaft builds the Raft transport, snapshot store, and BoltDB-backed
// log/stable stores, then constructs a *raft.Raft over the Shard Service
// FSM. Shared by Bootstrap and Join.
func (m *Manager) newRaft() (*raft.Raft, error) {
	addr, err := net.ResolveTCPAddr("tcp", m.bindAddr)
	if err != nil {
		return nil, fmt.Errorf("resolving bind address: %w", err)
	}
	transport, err := raft.NewTCPTransport(m.bindAddr, addr, 3, 10*time.Second, os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("creating raft transport: %w", err)
	}
	snapshotStore, err := raft.NewFileSnapshotStore(m.dataDir, 2, os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("creating snapshot store: %w", err)
	}
	logStore, err := raftboltdb.NewBoltStore(filepath.Join(m.dataDir, "raft-log.db"))
	if err != nil {
		return nil, fmt.Errorf("creating raft log store: %w", err)
	}
	stableStore, err := raftboltdb.NewBoltStore(filepath.Join(m.dataDir, "raft-stable.db"))
	if err != nil {
		return nil, fmt.Errorf("creating raft stable store: %w", err)
	}
	return raft.NewRaft(m.raftConfig(), m.shards, logStore, stableStore, snapshotStore, transport)
}

// Bootstrap stands up a brand-new single-node cluster and initializes the
// root CA if one is not already persisted.
func (m *Manager) Bootstrap() error {
	r, err := m.newRaft()
	if err != nil {
		return err
	}
	m.raft = r

	configuration := raft.Configuration{Servers: []raft.Server{{
		ID:      raft.ServerID(m.nodeId),
		Address: raft.ServerAddress(m.bindAddr),
	}}}
	if err := m.raft.BootstrapCluster(configuration).Error(); err != nil {
		return fmt.Errorf("bootstrapping raft cluster: %w", err)
	}

	return m.initializeCA()
}

// JoinExisting constructs this node's Raft instance pointed at the same
// transport/log layout as Bootstrap, without bootstrapping a new
// configuration — the caller is expected to already have been added as a
// voter by the leader (see AddVoter) via the RPC surface in pkg/api.
func (m *Manager) JoinExisting() error {
	r, err := m.newRaft()
	if err != nil {
		return err
	}
	m.raft = r

	// Best-effort: the leader may not have replicated the CA to this
	// node's own store yet at join time. A failure here just means this
	// node's CA() isn't usable until a later LoadCA call succeeds.
	_ = m.ca.LoadFromStore()
	return nil
}

// AddVoter adds nodeId at address as a voting member of the Raft cluster.
// Only the leader can do this; callers must check IsLeader first.
func (m *Manager) AddVoter(nodeId, address string) error {
	if m.raft == nil {
		return fmt.Errorf("raft not initialized")
	}
	return m.raft.AddVoter(raft.ServerID(nodeId), raft.ServerAddress(address), 0, 10*time.Second).Error()
}

// RemoveServer removes nodeId from the Raft cluster.
func (m *Manager) RemoveServer(nodeId string) error {
	if m.raft == nil {
		return fmt.Errorf("raft not initialized")
	}
	return m.raft.RemoveServer(raft.ServerID(nodeId), 0, 10*time.Second).Error()
}

// Apply submits data (a pre-encoded shard.RegisterCommand/AssignCommand/
// RevokeCommand) to the Raft log and waits for it to commit.
func (m *Manager) Apply(data []byte) error {
	if m.raft == nil {
		return fmt.Errorf("raft not initialized")
	}
	future := m.raft.Apply(data, 5*time.Second)
	if err := future.Error(); err != nil {
		return fmt.Errorf("applying raft command: %w", err)
	}
	if resp := future.Response(); resp != nil {
		if err, ok := resp.(error); ok && err != nil {
			return err
		}
	}
	return nil
}

// IsLeader implements metrics.ClusterView.
func (m *Manager) IsLeader() bool {
	return m.raft != nil && m.raft.State() == raft.Leader
}

// LeaderAddr returns the current Raft leader's address, empty if unknown.
func (m *Manager) LeaderAddr() string {
	if m.raft == nil {
		return ""
	}
	return string(m.raft.Leader())
}

// RaftStats implements metrics.ClusterView.
func (m *Manager) RaftStats() map[string]uint64 {
	stats := map[string]uint64{
		"last_log_index": 0,
		"applied_index":  0,
		"num_peers":      0,
	}
	if m.raft == nil {
		return stats
	}
	stats["last_log_index"] = m.raft.LastIndex()
	stats["applied_index"] = m.raft.AppliedIndex()
	if cfgFuture := m.raft.GetConfiguration(); cfgFuture.Error() == nil {
		stats["num_peers"] = uint64(len(cfgFuture.Configuration().Servers))
	}
	return stats
}

// RegisterNode records node as a cluster member with a fresh heartbeat
// timestamp, replacing any earlier record for the same ID. Later liveness
// refreshes of a registered node go through Heartbeat.
func (m *Manager) RegisterNode(node types.Node) {
	m.mu.Lock()
	defer m.mu.Unlock()
	node.LastHeartbeat = time.Now()
	m.nodes[node.ID] = &node
}

// Heartbeat refreshes a registered node's liveness timestamp and status.
func (m *Manager) Heartbeat(nodeId string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	node, ok := m.nodes[nodeId]
	if !ok {
		return fmt.Errorf("node %q is not registered", nodeId)
	}
	node.LastHeartbeat = time.Now()
	node.Status = types.NodeStatusReady
	return nil
}

// ListNodes implements metrics.ClusterView.
func (m *Manager) ListNodes() ([]metrics.NodeSnapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	snapshots := make([]metrics.NodeSnapshot, 0, len(m.nodes))
	for _, node := range m.nodes {
		snapshots = append(snapshots, metrics.NodeSnapshot{Role: string(node.Role), Status: string(node.Status)})
	}
	return snapshots, nil
}

// Nodes returns the full membership records, including LastHeartbeat, for
// callers that need more than ListNodes' metrics-oriented view — notably
// pkg/reconciler's down-node detection.
func (m *Manager) Nodes() []types.Node {
	m.mu.RLock()
	defer m.mu.RUnlock()
	nodes := make([]types.Node, 0, len(m.nodes))
	for _, node := range m.nodes {
		nodes = append(nodes, *node)
	}
	return nodes
}

// MarkNodeDown updates a node's status, called by the reconciler once a
// node has missed heartbeats past the down threshold.
func (m *Manager) MarkNodeDown(nodeId string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if node, ok := m.nodes[nodeId]; ok {
		node.Status = types.NodeStatusDown
	}
}

// GenerateJoinToken issues a time-limited token authorizing a new node of
// the given role to join the cluster. Only the leader may generate tokens.
func (m *Manager) GenerateJoinToken(role string) (*JoinToken, error) {
	if !m.IsLeader() {
		return nil, fmt.Errorf("not the leader, tokens can only be generated by the leader")
	}
	return m.tokens.GenerateToken(role, 24*time.Hour)
}

// ValidateJoinToken validates a join token and returns its role.
func (m *Manager) ValidateJoinToken(token string) (string, error) {
	return m.tokens.ValidateToken(token)
}

// Shutdown gracefully tears down the Raft instance. It does not close the
// store passed to NewManager.
func (m *Manager) Shutdown() error {
	if m.raft != nil {
		if err := m.raft.Shutdown().Error(); err != nil {
			return fmt.Errorf("shutting down raft: %w", err)
		}
	}
	return nil
}

// initializeCA loads the cluster's root CA from this node's store if one
// is already persisted there, or generates and persists a fresh self-
// signed root the first time a cluster is bootstrapped. All generation
// and storage is delegated to security.CertAuthority, which is also what
// issues the per-node leaf certificates in cmd/wexecd.
func (m *Manager) initializeCA() error {
	if err := m.ca.LoadFromStore(); err == nil {
		return nil
	}
	if err := m.ca.Initialize(); err != nil {
		return fmt.Errorf("initializing cluster root CA: %w", err)
	}
	return m.ca.SaveToStore()
}

// LoadCA returns the cluster's root CA certificate (DER-encoded), loaded
// by a node that joined rather than bootstrapped.
func (m *Manager) LoadCA() ([]byte, error) {
	if !m.ca.IsInitialized() {
		if err := m.ca.LoadFromStore(); err != nil {
			return nil, fmt.Errorf("loading cluster root CA: %w", err)
		}
	}
	return m.ca.GetRootCACert(), nil
}

// CA returns this node's CertAuthority, for issuing the leaf certificate
// this node serves mTLS connections with.
func (m *Manager) CA() *security.CertAuthority {
	return m.ca
}

// NodeId returns this manager's Raft server id.
func (m *Manager) NodeId() string {
	return m.nodeId
}
