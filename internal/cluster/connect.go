package cluster

import (
	"context"
	"strings"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"go-mongodb-shard-setup/internal/config"
)

// mongosMsg is the hello reply marker of a mongos router.
const mongosMsg = "isdbgrid"

// Topology is what hello reports about the node we are connected to.
type Topology struct {
	Msg            string
	SetName        string
	MaxWireVersion int
}

// IsMongos reports whether the connection goes through a mongos router.
func (t *Topology) IsMongos() bool {
	return t != nil && t.Msg == mongosMsg
}

// Kind names the topology for log lines.
func (t *Topology) Kind() string {
	switch {
	case t.IsMongos():
		return "sharded cluster"
	case t != nil && t.SetName != "":
		return "replica set " + t.SetName
	default:
		return "standalone"
	}
}

// Connect dials the mongos routers in cfg and pings the primary.
func Connect(ctx context.Context, cfg *config.Config) (*mongo.Client, error) {
	uri, err := cfg.ConnectionURI()
	if err != nil {
		return nil, err
	}

	opts := options.Client().
		ApplyURI(uri).
		SetAppName("shard-setup").
		SetConnectTimeout(cfg.ConnectTimeout).
		SetServerSelectionTimeout(cfg.ServerSelectionTimeout).
		SetSocketTimeout(cfg.SocketTimeout)

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, errors.Wrapf(err, "connect to %s", cfg.RedactedURI())
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		client.Disconnect(ctx)
		return nil, errors.Wrapf(err, "ping %s", cfg.RedactedURI())
	}
	return client, nil
}

// GetTopology runs hello on the connected node.
func GetTopology(ctx context.Context, client *mongo.Client) (*Topology, error) {
	var result bson.M
	if err := client.Database("admin").RunCommand(ctx, bson.D{{Key: "hello", Value: 1}}).Decode(&result); err != nil {
		return nil, errors.Wrap(err, "hello")
	}
	return &Topology{
		Msg:            stringField(result, "msg"),
		SetName:        stringField(result, "setName"),
		MaxWireVersion: intField(result, "maxWireVersion"),
	}, nil
}

// IsShardingEnabled reads config.databases for dbName. Before MongoDB 6.0
// the entry carries partitioned; from 6.0 on every registered database can
// hold sharded collections and the field is gone.
func IsShardingEnabled(ctx context.Context, client *mongo.Client, dbName string) (bool, error) {
	var doc bson.M
	err := client.Database("config").Collection("databases").FindOne(ctx, bson.M{"_id": dbName}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrapf(err, "read config.databases for %s", dbName)
	}
	partitioned, ok := doc["partitioned"].(bool)
	return !ok || partitioned, nil
}

// EnableSharding enables sharding on a database. The bool result is true
// when the server reported it was already enabled. MongoDB 6.0+ accepts the
// command on an enabled database without error, so false does not imply a
// state change.
func EnableSharding(ctx context.Context, mongosClient *mongo.Client, dbName string) (bool, error) {
	var result bson.M
	err := mongosClient.Database("admin").RunCommand(ctx, bson.D{{Key: "enableSharding", Value: dbName}}).Decode(&result)
	if err != nil {
		if containsAny(err.Error(), "already enabled", "AlreadyInitialized") {
			return true, nil
		}
		return false, errors.Wrapf(err, "enableSharding %s", dbName)
	}
	return false, nil
}

// containsAny returns true if s contains any of the given substrings.
func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
