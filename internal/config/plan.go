package config

import (
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"go-mongodb-shard-setup/internal/sharding"
)

// DefaultInitialChunks is the pre-split target when the plan sets none.
const DefaultInitialChunks = 8

// Plan is the declarative list of collections to shard.
type Plan struct {
	Database      string           `yaml:"database"`
	InitialChunks int              `yaml:"initial_chunks"`
	Collections   []CollectionPlan `yaml:"collections"`
}

// CollectionPlan is the desired sharding state of one collection.
type CollectionPlan struct {
	Name        string               `yaml:"name"`
	ShardKey    sharding.Keys        `yaml:"shard_key"`
	Unique      bool                 `yaml:"unique"`
	Indexes     []sharding.IndexSpec `yaml:"indexes"`
	SplitPoints []sharding.Point     `yaml:"split_points"`
}

// Namespace returns db.collection.
func (c CollectionPlan) Namespace(db string) string {
	return db + "." + c.Name
}

// DefaultPlan is the built-in plan for the migrated ug_* collections.
func DefaultPlan() *Plan {
	return &Plan{
		Database:      "xsdk_v2_test",
		InitialChunks: DefaultInitialChunks,
		Collections: []CollectionPlan{
			{
				Name:     "ug_order",
				ShardKey: sharding.Keys{sharding.Hashed("_id")},
				Indexes: []sharding.IndexSpec{
					{Keys: sharding.Keys{sharding.Asc("uid"), sharding.Desc("createTime")}, Name: "idx_uid_createTime"},
					{Keys: sharding.Keys{sharding.Asc("cpOrderID")}, Name: "idx_cpOrderID", Sparse: true},
					{Keys: sharding.Keys{sharding.Asc("appID"), sharding.Asc("status")}, Name: "idx_appID_status"},
				},
			},
			{
				Name:     "ug_user",
				ShardKey: sharding.Keys{sharding.Hashed("_id")},
				Indexes: []sharding.IndexSpec{
					{Keys: sharding.Keys{sharding.Asc("loginName"), sharding.Asc("appID")}, Name: "idx_loginName_appID"},
					{Keys: sharding.Keys{sharding.Asc("phoneNum")}, Name: "idx_phoneNum", Sparse: true},
				},
			},
			{
				Name:     "ug_id_card_config",
				ShardKey: sharding.Keys{sharding.Asc("appID")},
				Unique:   true,
				Indexes: []sharding.IndexSpec{
					{Keys: sharding.Keys{sharding.Asc("rnAppID")}, Name: "idx_rnAppID"},
				},
			},
		},
	}
}

// LoadPlan reads a YAML plan file. Missing initial_chunks falls back to
// DefaultInitialChunks.
func LoadPlan(path string) (*Plan, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "read plan %s", path)
	}
	plan := &Plan{}
	if err := yaml.Unmarshal(raw, plan); err != nil {
		return nil, errors.Wrapf(err, "parse plan %s", path)
	}
	if plan.InitialChunks == 0 {
		plan.InitialChunks = DefaultInitialChunks
	}
	return plan, nil
}

// Validate checks the plan before anything touches the cluster.
func (p *Plan) Validate() error {
	if p.Database == "" {
		return errors.New("plan: database is required")
	}
	if p.InitialChunks < 1 {
		return errors.Errorf("plan: initial chunks must be >= 1, got %d", p.InitialChunks)
	}
	if len(p.Collections) == 0 {
		return errors.New("plan: no collections")
	}

	seen := make(map[string]bool, len(p.Collections))
	for _, c := range p.Collections {
		if c.Name == "" {
			return errors.New("plan: collection without a name")
		}
		if seen[c.Name] {
			return errors.Errorf("plan: collection %q listed twice", c.Name)
		}
		seen[c.Name] = true
		if err := c.validate(); err != nil {
			return errors.Wrapf(err, "plan: collection %q", c.Name)
		}
	}
	return nil
}

func (c CollectionPlan) validate() error {
	if len(c.ShardKey) == 0 {
		return errors.New("shard key is required")
	}
	hashed := 0
	for _, k := range c.ShardKey {
		if k.Field == "" {
			return errors.New("shard key has an empty field name")
		}
		switch {
		case k.IsHashed():
			hashed++
		case k.Value == int32(1):
		default:
			return errors.Errorf("shard key field %q must be 1 or \"hashed\", got %v", k.Field, k.Value)
		}
	}
	if hashed > 1 {
		return errors.New("shard key may contain at most one hashed field")
	}
	if c.Unique && hashed > 0 {
		return errors.New("hashed shard keys cannot be unique")
	}

	names := make(map[string]bool, len(c.Indexes))
	for _, idx := range c.Indexes {
		if len(idx.Keys) == 0 {
			return errors.Errorf("index %q has no keys", idx.Name)
		}
		name := idx.IndexName()
		if names[name] {
			return errors.Errorf("index %q listed twice", name)
		}
		names[name] = true
		// a sharded cluster only enforces uniqueness on shard key prefixed indexes
		if idx.Unique && (hashed > 0 || !idx.Keys.HasPrefix(c.ShardKey)) {
			return errors.Errorf("unique index %q must be prefixed by ranged shard key %s", name, c.ShardKey)
		}
	}

	if len(c.SplitPoints) > 0 {
		if _, err := sharding.SplitPoints(c.ShardKey, 0, c.SplitPoints); err != nil {
			return err
		}
	}
	return nil
}
