package metrics

import (
	"time"
)

// ClusterView is the subset of pkg/cluster's Manager the collector needs.
// It is expressed as an interface here (rather than importing pkg/cluster
// directly) so the metrics package has no dependency edge back onto the
// cluster layer it is instrumenting.
type ClusterView interface {
	ListNodes() ([]NodeSnapshot, error)
	IsLeader() bool
	RaftStats() map[string]uint64
}

// ShardView is the subset of pkg/shard's Service the collector needs.
type ShardView interface {
	OwnedShardCount() int
}

// ActiveWorkerView is the subset of pkg/activeworker's Cache the collector
// needs.
type ActiveWorkerView interface {
	CountByStatus() map[string]int
}

// NodeSnapshot is the minimal node view the collector aggregates over; it
// mirrors the fields of types.Node without importing pkg/types, keeping
// this package's dependency surface to the prometheus client only.
type NodeSnapshot struct {
	Role   string
	Status string
}

// Collector periodically samples cluster, shard and active-worker state
// into the gauges declared in metrics.go.
type Collector struct {
	cluster      ClusterView
	shards       ShardView
	activeWorker ActiveWorkerView
	stopCh       chan struct{}
}

// NewCollector creates a new metrics collector. shards and activeWorker may
// be nil on a node running in manager-only mode.
func NewCollector(cluster ClusterView, shards ShardView, activeWorker ActiveWorkerView) *Collector {
	return &Collector{
		cluster:      cluster,
		shards:       shards,
		activeWorker: activeWorker,
		stopCh:       make(chan struct{}),
	}
}

// Start begins collecting metrics on a background ticker.
func (c *Collector) Start() {
	ticker := time.NewTicker(15 * time.Second)
	go func() {
		c.collect()

		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	c.collectNodeMetrics()
	c.collectRaftMetrics()
	c.collectShardMetrics()
	c.collectActiveWorkerMetrics()
}

func (c *Collector) collectNodeMetrics() {
	if c.cluster == nil {
		return
	}
	nodes, err := c.cluster.ListNodes()
	if err != nil {
		return
	}

	nodeCounts := make(map[string]map[string]int)
	for _, node := range nodes {
		if nodeCounts[node.Role] == nil {
			nodeCounts[node.Role] = make(map[string]int)
		}
		nodeCounts[node.Role][node.Status]++
	}

	for role, statuses := range nodeCounts {
		for status, count := range statuses {
			NodesTotal.WithLabelValues(role, status).Set(float64(count))
		}
	}
}

func (c *Collector) collectRaftMetrics() {
	if c.cluster == nil {
		return
	}
	if c.cluster.IsLeader() {
		RaftLeader.Set(1)
	} else {
		RaftLeader.Set(0)
	}

	stats := c.cluster.RaftStats()
	if stats == nil {
		return
	}
	if lastIndex, ok := stats["last_log_index"]; ok {
		RaftLogIndex.Set(float64(lastIndex))
	}
	if appliedIndex, ok := stats["applied_index"]; ok {
		RaftAppliedIndex.Set(float64(appliedIndex))
	}
	if peers, ok := stats["num_peers"]; ok {
		RaftPeers.Set(float64(peers))
	}
}

func (c *Collector) collectShardMetrics() {
	if c.shards == nil {
		return
	}
	ShardsOwnedTotal.Set(float64(c.shards.OwnedShardCount()))
}

func (c *Collector) collectActiveWorkerMetrics() {
	if c.activeWorker == nil {
		return
	}
	for status, count := range c.activeWorker.CountByStatus() {
		ActiveWorkersTotal.WithLabelValues(status).Set(float64(count))
	}
}
