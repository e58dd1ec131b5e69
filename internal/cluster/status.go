package cluster

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"

	"go-mongodb-shard-setup/internal/operations"
)

// ClusterStatus holds a snapshot of the sharded cluster state.
type ClusterStatus struct {
	Shards   []ShardInfo
	Balancer *operations.BalancerState
}

// ShardInfo represents one registered shard.
type ShardInfo struct {
	ID    string
	Host  string
	State int
}

// GetClusterStatus fetches shard and balancer info from mongos. A balancer
// read failure leaves Balancer nil rather than failing the snapshot.
func GetClusterStatus(ctx context.Context, client *mongo.Client) (*ClusterStatus, error) {
	status := &ClusterStatus{}

	var shardsResult bson.M
	if err := client.Database("admin").RunCommand(ctx, bson.D{{Key: "listShards", Value: 1}}).Decode(&shardsResult); err != nil {
		return nil, errors.Wrap(err, "listShards")
	}
	if shards, ok := shardsResult["shards"].(bson.A); ok {
		for _, s := range shards {
			if m, ok := s.(bson.M); ok {
				status.Shards = append(status.Shards, ShardInfo{
					ID:    stringField(m, "_id"),
					Host:  stringField(m, "host"),
					State: intField(m, "state"),
				})
			}
		}
	}

	if balancer, err := operations.GetBalancerStatus(ctx, client); err == nil {
		status.Balancer = balancer
	}
	return status, nil
}

// Verify checks that at least one shard is registered.
func (s *ClusterStatus) Verify() error {
	if s == nil || len(s.Shards) == 0 {
		return errors.New("no shards registered with the cluster")
	}
	return nil
}

// LogClusterStatus logs a formatted cluster report.
func LogClusterStatus(log *zap.Logger, s *ClusterStatus) {
	log.Info(fmt.Sprintf("Shards: %d", len(s.Shards)))
	for _, shard := range s.Shards {
		state := "ACTIVE"
		if shard.State != 1 {
			state = fmt.Sprintf("STATE(%d)", shard.State)
		}
		log.Info(fmt.Sprintf("  %-12s %-8s %s", shard.ID, state, shard.Host))
	}

	switch {
	case s.Balancer == nil:
		log.Warn("[WARN] Balancer: unknown")
	case s.Balancer.Enabled():
		fields := []zap.Field{zap.Bool("inRound", s.Balancer.InProgress)}
		if w := s.Balancer.Window; w != nil {
			fields = append(fields, zap.String("window", w.Start+"-"+w.Stop))
		}
		log.Info("Balancer: ENABLED", fields...)
	default:
		log.Warn("[WARN] Balancer: DISABLED", zap.String("mode", s.Balancer.Mode))
	}
}

// stringField safely extracts a string from a bson.M.
func stringField(m bson.M, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}

// intField safely extracts an int from a bson.M (handles int32/int64/float64).
func intField(m bson.M, key string) int {
	switch v := m[key].(type) {
	case int:
		return v
	case int32:
		return int(v)
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return 0
	}
}
