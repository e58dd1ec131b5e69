// Package setuptest provides an in-memory cluster admin API for tests.
package setuptest

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"go-mongodb-shard-setup/internal/cluster"
	"go-mongodb-shard-setup/internal/operations"
	"go-mongodb-shard-setup/internal/security"
	"go-mongodb-shard-setup/internal/sharding"
)

// Collection is the simulated state of one namespace.
type Collection struct {
	Indexes []sharding.IndexInfo
	Sharded *sharding.CollectionSharding
	Splits  []string
	Docs    int64
	Bytes   int64
}

// Admin fakes a mongos. Mutating calls are appended to Calls.
type Admin struct {
	Topo   *cluster.Topology
	Conn   *security.ConnectionStatus
	Status *cluster.ClusterStatus

	Databases map[string]bool
	Collections     map[string]*Collection

	// InitialChunks is the chunk count shardCollection leaves behind.
	InitialChunks int
	// TooSmallAfter makes split fail with "chunk is too small" once a
	// namespace has this many splits. Zero disables it.
	TooSmallAfter int
	// PendingBuilds is how many IndexBuildsInProgress polls report a build.
	PendingBuilds int
	// Fail injects errors keyed by "<op> <target>", e.g. "shardCollection db.c".
	Fail map[string]error

	Calls []string
}

// New returns a healthy unauthenticated mongos with the given shards.
func New(shards ...string) *Admin {
	if len(shards) == 0 {
		shards = []string{"shard1", "shard2"}
	}
	status := &cluster.ClusterStatus{Balancer: &operations.BalancerState{Mode: "full"}}
	for _, s := range shards {
		status.Shards = append(status.Shards, cluster.ShardInfo{ID: s, Host: s + "/" + s + "-a:27018", State: 1})
	}
	return &Admin{
		Topo:          &cluster.Topology{Msg: "isdbgrid", MaxWireVersion: 17},
		Conn:          &security.ConnectionStatus{},
		Status:        status,
		Databases:     map[string]bool{},
		Collections:   map[string]*Collection{},
		InitialChunks: 1,
		Fail:          map[string]error{},
	}
}

// CommandError builds a server error the way the driver reports it.
func CommandError(name, msg string) error {
	return mongo.CommandError{Name: name, Message: msg}
}

// AddCollection seeds an existing unsharded collection with its _id index.
func (a *Admin) AddCollection(ns string) *Collection {
	c := &Collection{Indexes: []sharding.IndexInfo{{Name: "_id_", Keys: sharding.Keys{sharding.Asc("_id")}}}}
	a.Collections[ns] = c
	return c
}

// AddSharded seeds an existing collection sharded on key.
func (a *Admin) AddSharded(ns string, key sharding.Keys) *Collection {
	c := a.AddCollection(ns)
	c.Indexes = append(c.Indexes, sharding.IndexInfo{Name: sharding.IndexSpec{Keys: key}.IndexName(), Keys: key})
	c.Sharded = &sharding.CollectionSharding{Namespace: ns, Key: key}
	return c
}

// Mutations returns the recorded calls that start with prefix.
func (a *Admin) Mutations(prefix string) []string {
	var out []string
	for _, c := range a.Calls {
		if strings.HasPrefix(c, prefix) {
			out = append(out, c)
		}
	}
	return out
}

// Chunks returns the simulated chunk count of ns.
func (a *Admin) Chunks(ns string) int {
	c, ok := a.Collections[ns]
	if !ok || c.Sharded == nil {
		return 0
	}
	return a.InitialChunks + len(c.Splits)
}

func (a *Admin) fail(op, target string) error {
	return a.Fail[op+" "+target]
}

func (a *Admin) record(format string, args ...interface{}) {
	a.Calls = append(a.Calls, fmt.Sprintf(format, args...))
}

func (a *Admin) Topology(ctx context.Context) (*cluster.Topology, error) {
	if err := a.fail("hello", ""); err != nil {
		return nil, err
	}
	return a.Topo, nil
}

func (a *Admin) ConnectionStatus(ctx context.Context) (*security.ConnectionStatus, error) {
	if err := a.fail("connectionStatus", ""); err != nil {
		return nil, err
	}
	return a.Conn, nil
}

func (a *Admin) ClusterStatus(ctx context.Context) (*cluster.ClusterStatus, error) {
	if err := a.fail("listShards", ""); err != nil {
		return nil, err
	}
	return a.Status, nil
}

func (a *Admin) ShardingEnabled(ctx context.Context, db string) (bool, error) {
	if err := a.fail("config.databases", db); err != nil {
		return false, err
	}
	return a.Databases[db], nil
}

func (a *Admin) EnableSharding(ctx context.Context, db string) (bool, error) {
	a.record("enableSharding %s", db)
	if err := a.fail("enableSharding", db); err != nil {
		return false, err
	}
	already := a.Databases[db]
	a.Databases[db] = true
	return already, nil
}

func (a *Admin) CollectionExists(ctx context.Context, db, coll string) (bool, error) {
	if err := a.fail("listCollections", db+"."+coll); err != nil {
		return false, err
	}
	_, ok := a.Collections[db+"."+coll]
	return ok, nil
}

func (a *Admin) CreateCollection(ctx context.Context, db, coll string) error {
	ns := db + "." + coll
	a.record("create %s", ns)
	if err := a.fail("create", ns); err != nil {
		return err
	}
	if _, ok := a.Collections[ns]; ok {
		return CommandError("NamespaceExists", "Collection "+ns+" already exists.")
	}
	a.AddCollection(ns)
	return nil
}

func (a *Admin) ListIndexes(ctx context.Context, db, coll string) ([]sharding.IndexInfo, error) {
	ns := db + "." + coll
	if err := a.fail("listIndexes", ns); err != nil {
		return nil, err
	}
	c, ok := a.Collections[ns]
	if !ok {
		return nil, CommandError("NamespaceNotFound", "ns does not exist: "+ns)
	}
	return append([]sharding.IndexInfo(nil), c.Indexes...), nil
}

func (a *Admin) CreateIndex(ctx context.Context, db, coll string, spec sharding.IndexSpec) (string, error) {
	ns := db + "." + coll
	name := spec.IndexName()
	a.record("createIndex %s %s", ns, name)
	if err := a.fail("createIndex", ns+" "+name); err != nil {
		return "", err
	}
	c, ok := a.Collections[ns]
	if !ok {
		c = a.AddCollection(ns)
	}
	if existing, ok := sharding.FindIndex(c.Indexes, spec); ok {
		if !existing.Keys.Equal(spec.Keys) {
			return "", CommandError("IndexKeySpecsConflict", "An existing index has the same name as the requested index")
		}
		return existing.Name, nil
	}
	c.Indexes = append(c.Indexes, sharding.IndexInfo{Name: name, Keys: spec.Keys, Unique: spec.Unique})
	return name, nil
}

func (a *Admin) IndexBuildsInProgress(ctx context.Context, db, coll string) (int, error) {
	if a.PendingBuilds > 0 {
		a.PendingBuilds--
		return 1, nil
	}
	return 0, nil
}

func (a *Admin) CollectionSharding(ctx context.Context, ns string) (*sharding.CollectionSharding, error) {
	if err := a.fail("config.collections", ns); err != nil {
		return nil, err
	}
	c, ok := a.Collections[ns]
	if !ok || c.Sharded == nil {
		return nil, nil
	}
	cs := *c.Sharded
	return &cs, nil
}

func (a *Admin) ShardCollection(ctx context.Context, ns string, key sharding.Keys, unique bool) error {
	a.record("shardCollection %s %s", ns, key)
	if err := a.fail("shardCollection", ns); err != nil {
		return err
	}
	c, ok := a.Collections[ns]
	if !ok {
		c = a.AddCollection(ns)
	}
	if c.Sharded != nil {
		return CommandError("AlreadyInitialized", "sharding already enabled for collection "+ns)
	}
	if !sharding.HasKeyPrefix(c.Indexes, key) {
		if c.Docs > 0 {
			return CommandError("InvalidOptions", "Please create an index that starts with the proposed shard key before sharding the collection")
		}
		c.Indexes = append(c.Indexes, sharding.IndexInfo{Name: sharding.IndexSpec{Keys: key}.IndexName(), Keys: key, Unique: unique})
	}
	c.Sharded = &sharding.CollectionSharding{Namespace: ns, Key: key, Unique: unique}
	return nil
}

func (a *Admin) ChunkInfo(ctx context.Context, ns string) (*operations.ChunkInfo, error) {
	if err := a.fail("config.chunks", ns); err != nil {
		return nil, err
	}
	info := &operations.ChunkInfo{Namespace: ns, PerShard: map[string]int64{}}
	n := a.Chunks(ns)
	for i := 0; i < n; i++ {
		shard := a.Status.Shards[i%len(a.Status.Shards)].ID
		info.PerShard[shard]++
	}
	info.TotalCount = int64(n)
	return info, nil
}

func (a *Admin) ListChunks(ctx context.Context, ns string) ([]operations.Chunk, error) {
	c, ok := a.Collections[ns]
	if !ok || c.Sharded == nil {
		return nil, nil
	}
	bounds := append([]string{"MinKey"}, c.Splits...)
	sort.Strings(bounds[1:])
	bounds = append(bounds, "MaxKey")
	field := c.Sharded.Key[0].Field
	chunks := make([]operations.Chunk, 0, len(bounds)-1)
	for i := 0; i+1 < len(bounds); i++ {
		chunks = append(chunks, operations.Chunk{
			Shard: a.Status.Shards[i%len(a.Status.Shards)].ID,
			Min:   bson.D{{Key: field, Value: bounds[i]}},
			Max:   bson.D{{Key: field, Value: bounds[i+1]}},
		})
	}
	return chunks, nil
}

func (a *Admin) SplitAt(ctx context.Context, ns string, middle bson.D) error {
	point := operations.FormatBound(middle)
	a.record("split %s %s", ns, point)
	if err := a.fail("split", ns); err != nil {
		return err
	}
	c, ok := a.Collections[ns]
	if !ok || c.Sharded == nil {
		return CommandError("NamespaceNotSharded", ns+" is not sharded")
	}
	for _, s := range c.Splits {
		if s == point {
			return CommandError("", "split failed :: caused by :: middle key "+point+" is already a chunk boundary")
		}
	}
	if a.TooSmallAfter > 0 && len(c.Splits) >= a.TooSmallAfter {
		return CommandError("CannotSplit", "split failed :: caused by :: chunk is too small to split")
	}
	c.Splits = append(c.Splits, point)
	return nil
}

func (a *Admin) CollStats(ctx context.Context, db, coll string) (*sharding.CollStats, error) {
	ns := db + "." + coll
	if err := a.fail("collStats", ns); err != nil {
		return nil, err
	}
	c, ok := a.Collections[ns]
	if !ok {
		return nil, CommandError("NamespaceNotFound", "ns does not exist: "+ns)
	}
	return &sharding.CollStats{Collection: coll, Count: c.Docs, SizeBytes: c.Bytes, PerShard: map[string]int64{}}, nil
}

func (a *Admin) ChunkSizeMB(ctx context.Context) (int64, error) {
	return operations.DefaultChunkSizeMB, nil
}
