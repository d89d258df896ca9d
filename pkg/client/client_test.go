package client

import (
	"testing"
	"time"

	"github.com/cuemby/wexec/pkg/api"
	"github.com/cuemby/wexec/pkg/engineerr"
	"github.com/cuemby/wexec/pkg/shard"
	"github.com/cuemby/wexec/pkg/types"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOwnerAddrFallsBackToSeedBeforeShardMapIsPopulated(t *testing.T) {
	c := &Client{seedAddr: "seed:9000"}
	assert.Equal(t, "seed:9000", c.ownerAddr("worker-1"))
}

func TestOwnerAddrResolvesFromCachedShardMap(t *testing.T) {
	const totalShards = 8
	workerName := "worker-42"
	owningShard := shard.ShardOf(workerName, totalShards)

	c := &Client{
		seedAddr: "seed:9000",
		shardMap: api.GetShardMapResponse{
			TotalShards: totalShards,
			Owners:      map[types.ShardId]string{owningShard: "node-2:9000"},
		},
	}

	assert.Equal(t, "node-2:9000", c.ownerAddr(workerName))
}

func TestOwnerAddrFallsBackToSeedForUnassignedShard(t *testing.T) {
	c := &Client{
		seedAddr: "seed:9000",
		shardMap: api.GetShardMapResponse{
			TotalShards: 8,
			Owners:      map[types.ShardId]string{},
		},
	}
	assert.Equal(t, "seed:9000", c.ownerAddr("some-worker"))
}

func TestFromPayloadRoundTripsRetriableKinds(t *testing.T) {
	payload := &api.ErrorPayload{Kind: engineerr.KindInvalidShardId, ShardId: 3, OwnedShards: []types.ShardId{1, 2}}
	ee := fromPayload(payload)
	require.NotNil(t, ee)
	assert.True(t, ee.Retriable())
	assert.Equal(t, types.ShardId(3), ee.ShardId)

	transportPayload := &api.ErrorPayload{Kind: engineerr.KindRuntimeError, Message: "transport error: connection reset"}
	assert.True(t, fromPayload(transportPayload).Retriable())

	notFoundPayload := &api.ErrorPayload{Kind: engineerr.KindWorkerNotFound}
	assert.False(t, fromPayload(notFoundPayload).Retriable())
}

func TestJitterStaysWithinBounds(t *testing.T) {
	d := 100 * time.Millisecond
	for i := 0; i < 50; i++ {
		got := jitter(d)
		assert.GreaterOrEqual(t, got, d/2)
		assert.LessOrEqual(t, got, d)
	}
}

func TestDefaultConfigHasSaneRetryBudget(t *testing.T) {
	cfg := DefaultConfig()
	assert.Greater(t, cfg.MaxRetries, 0)
	assert.Greater(t, cfg.MaxBackoff, cfg.InitialBackoff)
}

// TestCachedShardMapSurvivesAssignment guards against a refreshShardMap
// call accidentally aliasing or truncating the Owners map it stores —
// cmp.Diff reports field-by-field, which is more useful here than a bare
// equality assertion if this regresses.
func TestCachedShardMapSurvivesAssignment(t *testing.T) {
	want := api.GetShardMapResponse{
		TotalShards: 8,
		Owners: map[types.ShardId]string{
			0: "node-1:9000",
			1: "node-2:9000",
			2: "node-1:9000",
		},
	}

	c := &Client{seedAddr: "seed:9000"}
	c.mu.Lock()
	c.shardMap = want
	c.mu.Unlock()

	c.mu.RLock()
	got := c.shardMap
	c.mu.RUnlock()

	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("cached shard map diverged from assignment (-want +got):\n%s", diff)
	}
}
