package operations

import (
	"context"
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

// DefaultChunkSizeMB is assumed when config.settings has no chunksize entry.
const DefaultChunkSizeMB = 64

// ChunkInfo holds chunk details for a collection.
type ChunkInfo struct {
	Namespace  string
	TotalCount int64
	PerShard   map[string]int64
}

// Chunk is one range of a sharded collection from config.chunks.
type Chunk struct {
	Shard string
	Min   bson.D
	Max   bson.D
}

// GetChunkInfo queries config.chunks to get chunk distribution for a namespace.
func GetChunkInfo(ctx context.Context, client *mongo.Client, ns string) (*ChunkInfo, error) {
	info, err := countChunks(ctx, client, ns, bson.D{{Key: "ns", Value: ns}})
	if err != nil || info.TotalCount == 0 {
		// MongoDB 5.0+ keys chunks by collection uuid instead of ns
		uuid, lookupErr := collectionUUID(ctx, client, ns)
		if lookupErr != nil {
			return &ChunkInfo{Namespace: ns, PerShard: map[string]int64{}}, lookupErr
		}
		return countChunks(ctx, client, ns, bson.D{{Key: "uuid", Value: uuid}})
	}
	return info, nil
}

// countChunks aggregates chunks per shard for the given config.chunks filter.
func countChunks(ctx context.Context, client *mongo.Client, ns string, match bson.D) (*ChunkInfo, error) {
	info := &ChunkInfo{
		Namespace: ns,
		PerShard:  make(map[string]int64),
	}

	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: match}},
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: "$shard"},
			{Key: "count", Value: bson.D{{Key: "$sum", Value: 1}}},
		}}},
	}

	cursor, err := client.Database("config").Collection("chunks").Aggregate(ctx, pipeline)
	if err != nil {
		return info, errors.Wrapf(err, "aggregate chunks for %s", ns)
	}
	defer cursor.Close(ctx)

	for cursor.Next(ctx) {
		var doc bson.M
		if err := cursor.Decode(&doc); err != nil {
			continue
		}
		shard, _ := doc["_id"].(string)
		if shard == "" {
			continue
		}
		count := int64Field(doc, "count")
		info.PerShard[shard] = count
		info.TotalCount += count
	}
	return info, cursor.Err()
}

// ListChunks returns every chunk of a namespace with its bounds.
func ListChunks(ctx context.Context, client *mongo.Client, ns string) ([]Chunk, error) {
	chunks, err := queryChunks(ctx, client, bson.M{"ns": ns})
	if err == nil && len(chunks) > 0 {
		return chunks, nil
	}

	uuid, err := collectionUUID(ctx, client, ns)
	if err != nil {
		return nil, err
	}
	return queryChunks(ctx, client, bson.M{"uuid": uuid})
}

// queryChunks runs a find on config.chunks with the given filter.
func queryChunks(ctx context.Context, client *mongo.Client, filter bson.M) ([]Chunk, error) {
	cursor, err := client.Database("config").Collection("chunks").Find(ctx, filter)
	if err != nil {
		return nil, errors.Wrap(err, "find chunks")
	}
	defer cursor.Close(ctx)

	var chunks []Chunk
	for cursor.Next(ctx) {
		var doc bson.D
		if err := cursor.Decode(&doc); err != nil {
			continue
		}
		chunk := Chunk{}
		for _, e := range doc {
			switch e.Key {
			case "shard":
				chunk.Shard, _ = e.Value.(string)
			case "min":
				chunk.Min, _ = e.Value.(bson.D)
			case "max":
				chunk.Max, _ = e.Value.(bson.D)
			}
		}
		chunks = append(chunks, chunk)
	}
	return chunks, cursor.Err()
}

// collectionUUID looks up the collection uuid from config.collections.
func collectionUUID(ctx context.Context, client *mongo.Client, ns string) (interface{}, error) {
	var collDoc bson.M
	err := client.Database("config").Collection("collections").FindOne(ctx, bson.M{"_id": ns}).Decode(&collDoc)
	if err != nil {
		return nil, errors.Wrapf(err, "lookup collection uuid for %s", ns)
	}
	uuid, ok := collDoc["uuid"]
	if !ok {
		return nil, errors.Errorf("no uuid for %s", ns)
	}
	return uuid, nil
}

// SplitChunk splits the chunk containing middle at exactly that point.
func SplitChunk(ctx context.Context, client *mongo.Client, ns string, middle bson.D) error {
	cmd := bson.D{
		{Key: "split", Value: ns},
		{Key: "middle", Value: middle},
	}

	var result bson.M
	if err := client.Database("admin").RunCommand(ctx, cmd).Decode(&result); err != nil {
		return errors.Wrapf(err, "split %s at %s", ns, FormatBound(middle))
	}
	return nil
}

// GetChunkSizeMB reads the cluster chunk size setting.
func GetChunkSizeMB(ctx context.Context, client *mongo.Client) (int64, error) {
	var doc bson.M
	err := client.Database("config").Collection("settings").FindOne(ctx, bson.M{"_id": "chunksize"}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return DefaultChunkSizeMB, nil
	}
	if err != nil {
		return DefaultChunkSizeMB, errors.Wrap(err, "read chunksize setting")
	}
	if v := int64Field(doc, "value"); v > 0 {
		return v, nil
	}
	return DefaultChunkSizeMB, nil
}

// FormatBound formats a chunk boundary for display.
func FormatBound(bound bson.D) string {
	if len(bound) == 0 {
		return "{}"
	}
	parts := make([]string, 0, len(bound))
	for _, elem := range bound {
		parts = append(parts, fmt.Sprintf("%s: %v", elem.Key, elem.Value))
	}
	return "{ " + strings.Join(parts, ", ") + " }"
}

func int64Field(m bson.M, key string) int64 {
	switch v := m[key].(type) {
	case int32:
		return int64(v)
	case int64:
		return v
	case float64:
		return int64(v)
	case int:
		return int64(v)
	default:
		return 0
	}
}
