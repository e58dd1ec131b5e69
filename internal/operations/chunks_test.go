package operations

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo/integration/mtest"
)

func shardCount(shard string, n int32) bson.D {
	return bson.D{{Key: "_id", Value: shard}, {Key: "count", Value: n}}
}

func TestGetChunkInfo(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))

	mt.Run("chunks keyed by ns", func(mt *mtest.T) {
		mt.AddMockResponses(mtest.CreateCursorResponse(0, "config.chunks", mtest.FirstBatch,
			shardCount("shard1", 3), shardCount("shard2", 2)))

		info, err := GetChunkInfo(context.Background(), mt.Client, "appdb.orders")
		require.NoError(mt, err)
		assert.Equal(mt, int64(5), info.TotalCount)
		assert.Equal(mt, map[string]int64{"shard1": 3, "shard2": 2}, info.PerShard)
	})

	mt.Run("falls back to collection uuid", func(mt *mtest.T) {
		uuid := primitive.Binary{Subtype: 4, Data: make([]byte, 16)}
		mt.AddMockResponses(
			mtest.CreateCursorResponse(0, "config.chunks", mtest.FirstBatch),
			mtest.CreateCursorResponse(0, "config.collections", mtest.FirstBatch, bson.D{
				{Key: "_id", Value: "appdb.orders"},
				{Key: "uuid", Value: uuid},
			}),
			mtest.CreateCursorResponse(0, "config.chunks", mtest.FirstBatch,
				shardCount("shard1", 4), shardCount("shard2", 4)),
		)

		info, err := GetChunkInfo(context.Background(), mt.Client, "appdb.orders")
		require.NoError(mt, err)
		assert.Equal(mt, "appdb.orders", info.Namespace)
		assert.Equal(mt, int64(8), info.TotalCount)
		assert.Len(mt, info.PerShard, 2)
	})

	mt.Run("unsharded collection", func(mt *mtest.T) {
		mt.AddMockResponses(
			mtest.CreateCursorResponse(0, "config.chunks", mtest.FirstBatch),
			mtest.CreateCursorResponse(0, "config.collections", mtest.FirstBatch),
		)

		info, err := GetChunkInfo(context.Background(), mt.Client, "appdb.orders")
		require.Error(mt, err)
		assert.Contains(mt, err.Error(), "lookup collection uuid for appdb.orders")
		assert.Zero(mt, info.TotalCount)
	})
}

func TestListChunks(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))

	mt.Run("bounds and shards", func(mt *mtest.T) {
		mt.AddMockResponses(mtest.CreateCursorResponse(0, "config.chunks", mtest.FirstBatch,
			bson.D{
				{Key: "shard", Value: "shard1"},
				{Key: "min", Value: bson.D{{Key: "_id", Value: primitive.MinKey{}}}},
				{Key: "max", Value: bson.D{{Key: "_id", Value: int64(0)}}},
			},
			bson.D{
				{Key: "shard", Value: "shard2"},
				{Key: "min", Value: bson.D{{Key: "_id", Value: int64(0)}}},
				{Key: "max", Value: bson.D{{Key: "_id", Value: primitive.MaxKey{}}}},
			},
		))

		chunks, err := ListChunks(context.Background(), mt.Client, "appdb.orders")
		require.NoError(mt, err)
		require.Len(mt, chunks, 2)
		assert.Equal(mt, "shard2", chunks[1].Shard)
		assert.Equal(mt, "{ _id: 0 }", FormatBound(chunks[0].Max))
	})
}

func TestGetChunkSizeMB(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))

	tests := []struct {
		name string
		docs []bson.D
		want int64
	}{
		{name: "no setting uses default", want: DefaultChunkSizeMB},
		{
			name: "configured",
			docs: []bson.D{{{Key: "_id", Value: "chunksize"}, {Key: "value", Value: int32(128)}}},
			want: 128,
		},
		{
			name: "non-positive value uses default",
			docs: []bson.D{{{Key: "_id", Value: "chunksize"}, {Key: "value", Value: int32(0)}}},
			want: DefaultChunkSizeMB,
		},
	}
	for _, tc := range tests {
		mt.Run(tc.name, func(mt *mtest.T) {
			mt.AddMockResponses(mtest.CreateCursorResponse(0, "config.settings", mtest.FirstBatch, tc.docs...))

			size, err := GetChunkSizeMB(context.Background(), mt.Client)
			require.NoError(mt, err)
			assert.Equal(mt, tc.want, size)
		})
	}

	mt.Run("read error keeps default", func(mt *mtest.T) {
		mt.AddMockResponses(mtest.CreateCommandErrorResponse(mtest.CommandError{
			Code: 13, Name: "Unauthorized", Message: "not authorized on config",
		}))

		size, err := GetChunkSizeMB(context.Background(), mt.Client)
		require.Error(mt, err)
		assert.Equal(mt, int64(DefaultChunkSizeMB), size)
	})
}

func TestSplitChunk(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))

	mt.Run("too small", func(mt *mtest.T) {
		mt.AddMockResponses(mtest.CreateCommandErrorResponse(mtest.CommandError{
			Code: 106, Name: "CannotSplit", Message: "split failed :: caused by :: chunk is too small to split",
		}))

		err := SplitChunk(context.Background(), mt.Client, "appdb.orders", bson.D{{Key: "_id", Value: int64(0)}})
		require.Error(mt, err)
		assert.Contains(mt, err.Error(), "split appdb.orders at { _id: 0 }")
		assert.Contains(mt, err.Error(), "chunk is too small")
	})
}

func TestIndexBuildsInProgress(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))

	mt.Run("builds running", func(mt *mtest.T) {
		mt.AddMockResponses(mtest.CreateCursorResponse(0, "admin.$cmd.aggregate", mtest.FirstBatch,
			bson.D{{Key: "n", Value: int32(2)}}))

		n, err := IndexBuildsInProgress(context.Background(), mt.Client, "appdb", "orders")
		require.NoError(mt, err)
		assert.Equal(mt, 2, n)
	})

	mt.Run("no builds", func(mt *mtest.T) {
		mt.AddMockResponses(mtest.CreateCursorResponse(0, "admin.$cmd.aggregate", mtest.FirstBatch))

		n, err := IndexBuildsInProgress(context.Background(), mt.Client, "appdb", "orders")
		require.NoError(mt, err)
		assert.Zero(mt, n)
	})

	mt.Run("currentOp refused", func(mt *mtest.T) {
		mt.AddMockResponses(mtest.CreateCommandErrorResponse(mtest.CommandError{
			Code: 13, Name: "Unauthorized", Message: "not authorized on admin to execute command",
		}))

		_, err := IndexBuildsInProgress(context.Background(), mt.Client, "appdb", "orders")
		require.Error(mt, err)
		assert.Contains(mt, err.Error(), "$currentOp for appdb.orders")
	})
}
