package cluster

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.mongodb.org/mongo-driver/bson"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"go-mongodb-shard-setup/internal/operations"
)

func TestTopology(t *testing.T) {
	var none *Topology
	assert.False(t, none.IsMongos())
	assert.Equal(t, "standalone", none.Kind())

	assert.True(t, (&Topology{Msg: "isdbgrid"}).IsMongos())
	assert.Equal(t, "sharded cluster", (&Topology{Msg: "isdbgrid"}).Kind())
	assert.Equal(t, "replica set rs0", (&Topology{SetName: "rs0"}).Kind())
}

func TestClusterStatusVerify(t *testing.T) {
	var none *ClusterStatus
	assert.Error(t, none.Verify())
	assert.Error(t, (&ClusterStatus{}).Verify())
	assert.NoError(t, (&ClusterStatus{Shards: []ShardInfo{{ID: "shard1", State: 1}}}).Verify())
}

func TestLogClusterStatus(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	LogClusterStatus(zap.New(core), &ClusterStatus{
		Shards: []ShardInfo{
			{ID: "shard1", Host: "shard1/a:27018", State: 1},
			{ID: "shard2", Host: "shard2/b:27018", State: 0},
		},
		Balancer: &operations.BalancerState{Mode: "off"},
	})

	assert.Equal(t, 1, logs.FilterMessage("Shards: 2").Len())
	assert.Equal(t, 1, logs.FilterMessageSnippet("STATE(0)").Len())
	assert.Equal(t, 1, logs.FilterMessage("[WARN] Balancer: DISABLED").Len())
}

func TestFields(t *testing.T) {
	m := bson.M{"s": "x", "i32": int32(3), "i64": int64(4), "f": 5.0}
	assert.Equal(t, "x", stringField(m, "s"))
	assert.Equal(t, "", stringField(m, "i32"))
	assert.Equal(t, 3, intField(m, "i32"))
	assert.Equal(t, 4, intField(m, "i64"))
	assert.Equal(t, 5, intField(m, "f"))
	assert.Equal(t, 0, intField(m, "missing"))
}

func TestContainsAny(t *testing.T) {
	assert.True(t, containsAny("sharding already enabled for database", "already enabled"))
	assert.False(t, containsAny("not authorized", "already enabled", "AlreadyInitialized"))
}
