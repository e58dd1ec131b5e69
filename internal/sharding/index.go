package sharding

import (
	"strings"

	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// IndexSpec describes a secondary index the plan wants on a collection.
type IndexSpec struct {
	Keys               Keys   `yaml:"keys"`
	Name               string `yaml:"name"`
	Unique             bool   `yaml:"unique"`
	Sparse             bool   `yaml:"sparse"`
	ExpireAfterSeconds *int32 `yaml:"expire_after_seconds"`
}

// IndexInfo is an index that already exists on the server.
type IndexInfo struct {
	Name   string
	Keys   Keys
	Unique bool
}

// IndexName returns the configured name, or the server's default name
// (field_direction pairs joined by underscores) when none is set.
func (s IndexSpec) IndexName() string {
	if s.Name != "" {
		return s.Name
	}
	parts := make([]string, 0, len(s.Keys)*2)
	for _, k := range s.Keys {
		parts = append(parts, k.Field, formatValue(k.Value))
	}
	return strings.Join(parts, "_")
}

// Model builds the driver index model. Indexes are built in the background
// so a populated collection stays writable during the build.
func (s IndexSpec) Model() mongo.IndexModel {
	opts := options.Index().SetName(s.IndexName()).SetBackground(true)
	if s.Unique {
		opts.SetUnique(true)
	}
	if s.Sparse {
		opts.SetSparse(true)
	}
	if s.ExpireAfterSeconds != nil {
		opts.SetExpireAfterSeconds(*s.ExpireAfterSeconds)
	}
	return mongo.IndexModel{Keys: s.Keys.BSON(), Options: opts}
}

// FindIndex returns the existing index that satisfies spec: same key pattern,
// or same name. The second result is false when nothing matches.
func FindIndex(existing []IndexInfo, spec IndexSpec) (IndexInfo, bool) {
	name := spec.IndexName()
	for _, idx := range existing {
		if idx.Keys.Equal(spec.Keys) || idx.Name == name {
			return idx, true
		}
	}
	return IndexInfo{}, false
}

// HasKeyPrefix reports whether some existing index starts with the given
// pattern, which is what shardCollection requires of the shard key index.
func HasKeyPrefix(existing []IndexInfo, key Keys) bool {
	for _, idx := range existing {
		if idx.Keys.HasPrefix(key) {
			return true
		}
	}
	return false
}

func formatValue(v interface{}) string {
	switch t := v.(type) {
	case int32:
		if t < 0 {
			return "-1"
		}
		return "1"
	case string:
		return t
	default:
		return "1"
	}
}
