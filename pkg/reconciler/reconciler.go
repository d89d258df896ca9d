package reconciler

import (
	"sync"
	"time"

	"github.com/cuemby/wexec/pkg/log"
	"github.com/cuemby/wexec/pkg/metrics"
	"github.com/cuemby/wexec/pkg/shard"
	"github.com/cuemby/wexec/pkg/types"
	"github.com/rs/zerolog"
)

// downThreshold is how long a node may go without a heartbeat before the
// reconciler considers it down and revokes its shards.
const downThreshold = 30 * time.Second

// cluster is the subset of pkg/cluster's Manager the reconciler needs: node
// membership plus the ability to submit shard commands through Raft.
type cluster interface {
	Nodes() []types.Node
	MarkNodeDown(nodeId string)
	IsLeader() bool
	Apply(data []byte) error
}

// Reconciler watches node heartbeats and, while leader, revokes shards from
// nodes that have gone quiet and reassigns them to a live node. This is the
// only path by which a worker's owning shard changes hands outside of
// explicit operator action, so a durable worker interrupted mid-oplog-replay
// on a dead node becomes resumable on another one.
type Reconciler struct {
	cluster cluster
	shards  *shard.Service
	logger  zerolog.Logger
	mu      sync.RWMutex
	stopCh  chan struct{}
}

// NewReconciler creates a reconciler over cl (node membership + Raft apply)
// and shards (the local view of the shard map used to pick a reassignment
// target and to find what a down node was still holding).
func NewReconciler(cl cluster, shards *shard.Service) *Reconciler {
	return &Reconciler{
		cluster: cl,
		shards:  shards,
		logger:  log.WithComponent("reconciler"),
		stopCh:  make(chan struct{}),
	}
}

// Start begins the reconciliation loop.
func (r *Reconciler) Start() {
	go r.run()
}

// Stop stops the reconciler.
func (r *Reconciler) Stop() {
	close(r.stopCh)
}

func (r *Reconciler) run() {
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()

	r.logger.Info().Msg("reconciler started")

	for {
		select {
		case <-ticker.C:
			r.reconcile()
		case <-r.stopCh:
			r.logger.Info().Msg("reconciler stopped")
			return
		}
	}
}

// reconcile performs one reconciliation cycle. Only the Raft leader revokes
// and reassigns shards, since Apply must go through the leader anyway and
// followers would otherwise all race to submit the same commands.
func (r *Reconciler) reconcile() {
	timer := metrics.NewTimer()
	defer func() {
		timer.ObserveDuration(metrics.ReconciliationDuration)
		metrics.ReconciliationCyclesTotal.Inc()
	}()

	if !r.cluster.IsLeader() {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	downNodes := r.markDownNodes()
	for _, nodeId := range downNodes {
		r.revokeAndReassign(nodeId)
	}

	r.assignOrphanedShards()
}

// markDownNodes finds nodes that have missed heartbeats past downThreshold,
// marks them down, and returns their ids.
func (r *Reconciler) markDownNodes() []string {
	var down []string
	now := time.Now()
	for _, node := range r.cluster.Nodes() {
		if node.Status == types.NodeStatusDown {
			continue
		}
		if now.Sub(node.LastHeartbeat) > downThreshold {
			r.logger.Warn().
				Str("node_id", node.ID).
				Dur("no_heartbeat_duration", now.Sub(node.LastHeartbeat)).
				Msg("node missed heartbeat threshold, marking down")
			r.cluster.MarkNodeDown(node.ID)
			down = append(down, node.ID)
		}
	}
	return down
}

// revokeAndReassign releases every shard nodeId held and hands each one to
// a live node, round-robin over whatever nodes are currently registered
// with the cluster. If no live node is registered, the shards are
// simply revoked and stay unassigned until one joins.
func (r *Reconciler) revokeAndReassign(nodeId string) {
	owned := r.shards.ShardsOwnedBy(nodeId)
	if len(owned) == 0 {
		return
	}

	candidates := r.liveCandidates(nodeId)

	for i, shardId := range owned {
		revoke, err := shard.RevokeCommand(nodeId, shardId)
		if err != nil {
			r.logger.Error().Err(err).Uint32("shard_id", uint32(shardId)).Msg("failed to encode revoke command")
			continue
		}
		if err := r.cluster.Apply(revoke); err != nil {
			r.logger.Error().Err(err).Str("node_id", nodeId).Uint32("shard_id", uint32(shardId)).Msg("failed to revoke shard")
			continue
		}
		metrics.ShardsRevokedTotal.Inc()

		if len(candidates) == 0 {
			continue
		}
		target := candidates[i%len(candidates)]
		assign, err := shard.AssignCommand(target, shardId)
		if err != nil {
			r.logger.Error().Err(err).Uint32("shard_id", uint32(shardId)).Msg("failed to encode assign command")
			continue
		}
		if err := r.cluster.Apply(assign); err != nil {
			r.logger.Error().Err(err).Str("node_id", target).Uint32("shard_id", uint32(shardId)).Msg("failed to reassign shard")
			continue
		}
		r.logger.Info().
			Str("from_node", nodeId).
			Str("to_node", target).
			Uint32("shard_id", uint32(shardId)).
			Msg("reassigned shard from down node")
	}
}

// liveCandidates returns the registered, non-down nodes other than exclude,
// in a stable order so repeated calls within one reconciliation cycle
// distribute shards round-robin rather than piling them onto one node.
func (r *Reconciler) liveCandidates(exclude string) []string {
	var live []string
	for _, node := range r.cluster.Nodes() {
		if node.ID == exclude || node.Status == types.NodeStatusDown {
			continue
		}
		live = append(live, node.ID)
	}
	return live
}

// assignOrphanedShards hands out any shard with no current owner — left
// over from a cluster that never finished its initial assignment, or from
// a revoke whose matching assign failed earlier this cycle — to a live
// node, round-robin.
func (r *Reconciler) assignOrphanedShards() {
	unassigned := r.shards.UnassignedShards()
	if len(unassigned) == 0 {
		return
	}

	candidates := r.liveCandidates("")
	if len(candidates) == 0 {
		return
	}

	for i, shardId := range unassigned {
		target := candidates[i%len(candidates)]
		assign, err := shard.AssignCommand(target, shardId)
		if err != nil {
			r.logger.Error().Err(err).Uint32("shard_id", uint32(shardId)).Msg("failed to encode assign command")
			continue
		}
		if err := r.cluster.Apply(assign); err != nil {
			r.logger.Error().Err(err).Str("node_id", target).Uint32("shard_id", uint32(shardId)).Msg("failed to assign orphaned shard")
			continue
		}
		r.logger.Info().Str("to_node", target).Uint32("shard_id", uint32(shardId)).Msg("assigned orphaned shard")
	}
}
