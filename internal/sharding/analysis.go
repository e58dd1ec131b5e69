package sharding

import (
	"context"
	"sort"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

// ImbalanceThreshold is the max/min per-shard ratio above which a
// distribution is reported as imbalanced.
const ImbalanceThreshold = 1.5

// CollStats holds document and storage totals for a collection, per shard.
type CollStats struct {
	Collection string
	Count      int64
	SizeBytes  int64
	PerShard   map[string]int64
}

// GetCollStats returns how documents are distributed across shards using
// $collStats, which mongos answers with one document per shard.
func GetCollStats(ctx context.Context, client *mongo.Client, db, collection string) (*CollStats, error) {
	stats := &CollStats{
		Collection: collection,
		PerShard:   make(map[string]int64),
	}

	pipeline := mongo.Pipeline{
		{{Key: "$collStats", Value: bson.D{{Key: "storageStats", Value: bson.D{}}}}},
	}

	cursor, err := client.Database(db).Collection(collection).Aggregate(ctx, pipeline)
	if err != nil {
		return nil, errors.Wrapf(err, "collStats for %s", collection)
	}
	defer cursor.Close(ctx)

	for cursor.Next(ctx) {
		var doc bson.M
		if err := cursor.Decode(&doc); err != nil {
			continue
		}

		shard := stringVal(doc, "shard")
		var count, size int64
		if storage, ok := doc["storageStats"].(bson.M); ok {
			count = intVal(storage, "count")
			size = intVal(storage, "size")
		}

		if shard != "" {
			stats.PerShard[shard] += count
		}
		stats.Count += count
		stats.SizeBytes += size
	}
	return stats, cursor.Err()
}

// Imbalance returns the max/min ratio of the per-shard counts. An empty
// shard next to a populated one reports the populated count; fewer than two
// shards report 1.
func Imbalance(perShard map[string]int64) float64 {
	if len(perShard) < 2 {
		return 1
	}
	counts := make([]int64, 0, len(perShard))
	for _, n := range perShard {
		counts = append(counts, n)
	}
	sort.Slice(counts, func(i, j int) bool { return counts[i] < counts[j] })
	low, high := counts[0], counts[len(counts)-1]
	if high == 0 {
		return 1
	}
	if low == 0 {
		return float64(high)
	}
	return float64(high) / float64(low)
}

// CollectionSharding is the sharding metadata of a collection as recorded in
// config.collections.
type CollectionSharding struct {
	Namespace string
	Key       Keys
	Unique    bool
}

// GetCollectionSharding returns the shard key of ns, or nil when the
// collection is not sharded.
func GetCollectionSharding(ctx context.Context, client *mongo.Client, ns string) (*CollectionSharding, error) {
	var doc struct {
		Key     bson.D `bson:"key"`
		Unique  bool   `bson:"unique"`
		Dropped bool   `bson:"dropped"`
	}
	err := client.Database("config").Collection("collections").FindOne(ctx, bson.M{"_id": ns}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "read config.collections for %s", ns)
	}
	if doc.Dropped || len(doc.Key) == 0 {
		return nil, nil
	}

	key, err := KeysFromBSON(doc.Key)
	if err != nil {
		return nil, errors.Wrapf(err, "shard key of %s", ns)
	}
	return &CollectionSharding{Namespace: ns, Key: key, Unique: doc.Unique}, nil
}

// ShardCollection shards ns on key via the admin command.
func ShardCollection(ctx context.Context, client *mongo.Client, ns string, key Keys, unique bool) error {
	cmd := bson.D{
		{Key: "shardCollection", Value: ns},
		{Key: "key", Value: key.BSON()},
	}
	if unique {
		cmd = append(cmd, bson.E{Key: "unique", Value: true})
	}

	var result bson.M
	if err := client.Database("admin").RunCommand(ctx, cmd).Decode(&result); err != nil {
		return errors.Wrapf(err, "shardCollection %s", ns)
	}
	return nil
}

func stringVal(m bson.M, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

func intVal(m bson.M, key string) int64 {
	switch v := m[key].(type) {
	case int64:
		return v
	case int32:
		return int64(v)
	case float64:
		return int64(v)
	case int:
		return int64(v)
	default:
		return 0
	}
}
