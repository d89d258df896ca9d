package shard

import (
	"testing"

	"github.com/cuemby/wexec/pkg/types"
	"github.com/hashicorp/raft"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func applyCommand(t *testing.T, svc *Service, data []byte) {
	t.Helper()
	result := svc.Apply(&raft.Log{Data: data})
	if err, ok := result.(error); ok {
		require.NoError(t, err)
	}
}

func TestShardOfIsDeterministic(t *testing.T) {
	a := ShardOf("worker-1", 16)
	b := ShardOf("worker-1", 16)
	assert.Equal(t, a, b)
}

func TestShardOfDistributesAcrossRange(t *testing.T) {
	seen := make(map[types.ShardId]bool)
	for i := 0; i < 200; i++ {
		name := string(rune('a'+(i%26))) + string(rune(i))
		id := ShardOf(name, 16)
		assert.Less(t, uint32(id), uint32(16))
		seen[id] = true
	}
	assert.Greater(t, len(seen), 1, "expected hashing to spread across more than one shard")
}

func TestAssignAndCheck(t *testing.T) {
	svc := NewService("node-1", 4)

	cmd, err := AssignCommand("node-1", 2)
	require.NoError(t, err)
	applyCommand(t, svc, cmd)

	owner, assigned := svc.Check(2)
	assert.True(t, assigned)
	assert.Equal(t, "node-1", owner)
}

func TestRevokeOnlyByOwner(t *testing.T) {
	svc := NewService("node-1", 4)

	cmd, _ := AssignCommand("node-1", 2)
	applyCommand(t, svc, cmd)

	// node-2 revoking a shard it doesn't own is a no-op.
	revoke, _ := RevokeCommand("node-2", 2)
	applyCommand(t, svc, revoke)
	_, assigned := svc.Check(2)
	assert.True(t, assigned)

	revoke, _ = RevokeCommand("node-1", 2)
	applyCommand(t, svc, revoke)
	_, assigned = svc.Check(2)
	assert.False(t, assigned)
}

func TestOwnedShardsFiltersBySelfNode(t *testing.T) {
	svc := NewService("node-1", 4)

	assignments := map[types.ShardId]string{0: "node-1", 1: "node-2", 2: "node-1"}
	for shardId, nodeId := range assignments {
		cmd, _ := AssignCommand(nodeId, shardId)
		applyCommand(t, svc, cmd)
	}

	owned := svc.OwnedShards()
	assert.ElementsMatch(t, []types.ShardId{0, 2}, owned)
	assert.Equal(t, 2, svc.OwnedShardCount())
}

func TestRegisterNode(t *testing.T) {
	svc := NewService("node-1", 4)
	assert.False(t, svc.Registered("node-1"))

	cmd, _ := RegisterCommand("node-1")
	applyCommand(t, svc, cmd)

	assert.True(t, svc.Registered("node-1"))
}

func TestShardsOwnedByAnyNode(t *testing.T) {
	svc := NewService("node-1", 4)

	assignments := map[types.ShardId]string{0: "node-1", 1: "node-2", 2: "node-1"}
	for shardId, nodeId := range assignments {
		cmd, _ := AssignCommand(nodeId, shardId)
		applyCommand(t, svc, cmd)
	}

	assert.ElementsMatch(t, []types.ShardId{0, 2}, svc.ShardsOwnedBy("node-1"))
	assert.ElementsMatch(t, []types.ShardId{1}, svc.ShardsOwnedBy("node-2"))
	assert.Empty(t, svc.ShardsOwnedBy("node-3"))
}

func TestUnassignedShards(t *testing.T) {
	svc := NewService("node-1", 4)

	cmd, _ := AssignCommand("node-1", 1)
	applyCommand(t, svc, cmd)

	assert.ElementsMatch(t, []types.ShardId{0, 2, 3}, svc.UnassignedShards())
}
