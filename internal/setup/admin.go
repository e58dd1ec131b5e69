package setup

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"go-mongodb-shard-setup/internal/cluster"
	"go-mongodb-shard-setup/internal/operations"
	"go-mongodb-shard-setup/internal/security"
	"go-mongodb-shard-setup/internal/sharding"
)

// Admin is the slice of the cluster's administrative API the runner drives.
type Admin interface {
	Topology(ctx context.Context) (*cluster.Topology, error)
	ConnectionStatus(ctx context.Context) (*security.ConnectionStatus, error)
	ClusterStatus(ctx context.Context) (*cluster.ClusterStatus, error)
	ShardingEnabled(ctx context.Context, db string) (bool, error)
	EnableSharding(ctx context.Context, db string) (alreadyEnabled bool, err error)

	CollectionExists(ctx context.Context, db, coll string) (bool, error)
	CreateCollection(ctx context.Context, db, coll string) error
	ListIndexes(ctx context.Context, db, coll string) ([]sharding.IndexInfo, error)
	CreateIndex(ctx context.Context, db, coll string, spec sharding.IndexSpec) (string, error)
	IndexBuildsInProgress(ctx context.Context, db, coll string) (int, error)

	CollectionSharding(ctx context.Context, ns string) (*sharding.CollectionSharding, error)
	ShardCollection(ctx context.Context, ns string, key sharding.Keys, unique bool) error
	ChunkInfo(ctx context.Context, ns string) (*operations.ChunkInfo, error)
	ListChunks(ctx context.Context, ns string) ([]operations.Chunk, error)
	SplitAt(ctx context.Context, ns string, middle bson.D) error

	CollStats(ctx context.Context, db, coll string) (*sharding.CollStats, error)
	ChunkSizeMB(ctx context.Context) (int64, error)
}

// MongoAdmin implements Admin against a mongos connection.
type MongoAdmin struct {
	client *mongo.Client
}

// NewMongoAdmin wraps a connected client.
func NewMongoAdmin(client *mongo.Client) *MongoAdmin {
	return &MongoAdmin{client: client}
}

func (m *MongoAdmin) Topology(ctx context.Context) (*cluster.Topology, error) {
	return cluster.GetTopology(ctx, m.client)
}

func (m *MongoAdmin) ConnectionStatus(ctx context.Context) (*security.ConnectionStatus, error) {
	return security.GetConnectionStatus(ctx, m.client)
}

func (m *MongoAdmin) ClusterStatus(ctx context.Context) (*cluster.ClusterStatus, error) {
	return cluster.GetClusterStatus(ctx, m.client)
}

func (m *MongoAdmin) ShardingEnabled(ctx context.Context, db string) (bool, error) {
	return cluster.IsShardingEnabled(ctx, m.client, db)
}

func (m *MongoAdmin) EnableSharding(ctx context.Context, db string) (bool, error) {
	return cluster.EnableSharding(ctx, m.client, db)
}

func (m *MongoAdmin) CollectionExists(ctx context.Context, db, coll string) (bool, error) {
	return sharding.CollectionExists(ctx, m.client, db, coll)
}

func (m *MongoAdmin) CreateCollection(ctx context.Context, db, coll string) error {
	return sharding.CreateCollection(ctx, m.client, db, coll)
}

func (m *MongoAdmin) ListIndexes(ctx context.Context, db, coll string) ([]sharding.IndexInfo, error) {
	return sharding.ListIndexes(ctx, m.client, db, coll)
}

func (m *MongoAdmin) CreateIndex(ctx context.Context, db, coll string, spec sharding.IndexSpec) (string, error) {
	return sharding.CreateIndex(ctx, m.client, db, coll, spec)
}

func (m *MongoAdmin) IndexBuildsInProgress(ctx context.Context, db, coll string) (int, error) {
	return operations.IndexBuildsInProgress(ctx, m.client, db, coll)
}

func (m *MongoAdmin) CollectionSharding(ctx context.Context, ns string) (*sharding.CollectionSharding, error) {
	return sharding.GetCollectionSharding(ctx, m.client, ns)
}

func (m *MongoAdmin) ShardCollection(ctx context.Context, ns string, key sharding.Keys, unique bool) error {
	return sharding.ShardCollection(ctx, m.client, ns, key, unique)
}

func (m *MongoAdmin) ChunkInfo(ctx context.Context, ns string) (*operations.ChunkInfo, error) {
	return operations.GetChunkInfo(ctx, m.client, ns)
}

func (m *MongoAdmin) ListChunks(ctx context.Context, ns string) ([]operations.Chunk, error) {
	return operations.ListChunks(ctx, m.client, ns)
}

func (m *MongoAdmin) SplitAt(ctx context.Context, ns string, middle bson.D) error {
	return operations.SplitChunk(ctx, m.client, ns, middle)
}

func (m *MongoAdmin) CollStats(ctx context.Context, db, coll string) (*sharding.CollStats, error) {
	return sharding.GetCollStats(ctx, m.client, db, coll)
}

func (m *MongoAdmin) ChunkSizeMB(ctx context.Context) (int64, error) {
	return operations.GetChunkSizeMB(ctx, m.client)
}
