package sharding

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"gopkg.in/yaml.v3"
)

// HashedType is the index type value used for hashed keys.
const HashedType = "hashed"

// Key is one field of a key pattern. Value is either an int32 direction
// (1 or -1) or a string index type such as "hashed".
type Key struct {
	Field string
	Value interface{}
}

// Asc returns an ascending key on field.
func Asc(field string) Key { return Key{Field: field, Value: int32(1)} }

// Desc returns a descending key on field.
func Desc(field string) Key { return Key{Field: field, Value: int32(-1)} }

// Hashed returns a hashed key on field.
func Hashed(field string) Key { return Key{Field: field, Value: HashedType} }

// IsHashed reports whether the key is a hashed key.
func (k Key) IsHashed() bool {
	s, ok := k.Value.(string)
	return ok && s == HashedType
}

// Keys is an ordered key pattern. Field order is significant for both
// indexes and shard keys, which is why this is not a map.
type Keys []Key

// BSON returns the key pattern as an ordered document.
func (ks Keys) BSON() bson.D {
	d := make(bson.D, 0, len(ks))
	for _, k := range ks {
		d = append(d, bson.E{Key: k.Field, Value: k.Value})
	}
	return d
}

// Fields returns the field names in order.
func (ks Keys) Fields() []string {
	out := make([]string, len(ks))
	for i, k := range ks {
		out[i] = k.Field
	}
	return out
}

// HashedIndex returns the position of the hashed field, or -1.
func (ks Keys) HashedIndex() int {
	for i, k := range ks {
		if k.IsHashed() {
			return i
		}
	}
	return -1
}

// Equal reports whether two key patterns have the same fields, order and
// directions. Numeric directions compare by sign so {a: 1.0} equals {a: 1}.
func (ks Keys) Equal(other Keys) bool {
	if len(ks) != len(other) {
		return false
	}
	for i := range ks {
		if ks[i].Field != other[i].Field || !sameKeyValue(ks[i].Value, other[i].Value) {
			return false
		}
	}
	return true
}

// HasPrefix reports whether ks starts with the fields of prefix, directions
// included.
func (ks Keys) HasPrefix(prefix Keys) bool {
	if len(prefix) > len(ks) {
		return false
	}
	return ks[:len(prefix)].Equal(prefix)
}

// String formats the pattern the way the mongo shell prints it.
func (ks Keys) String() string {
	if len(ks) == 0 {
		return "{}"
	}
	parts := make([]string, 0, len(ks))
	for _, k := range ks {
		parts = append(parts, fmt.Sprintf("%s: %v", k.Field, k.Value))
	}
	return "{ " + strings.Join(parts, ", ") + " }"
}

// KeysFromBSON converts a key pattern read from the server (listIndexes,
// config.collections) into Keys.
func KeysFromBSON(d bson.D) (Keys, error) {
	ks := make(Keys, 0, len(d))
	for _, e := range d {
		v, err := normalizeKeyValue(e.Value)
		if err != nil {
			return nil, errors.Wrapf(err, "key %q", e.Key)
		}
		ks = append(ks, Key{Field: e.Key, Value: v})
	}
	return ks, nil
}

// UnmarshalYAML decodes a YAML mapping such as `{uid: 1, createTime: -1}`
// keeping the mapping's field order.
func (ks *Keys) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return errors.Errorf("line %d: key pattern must be a mapping", node.Line)
	}
	out := make(Keys, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		field, val := node.Content[i], node.Content[i+1]
		if val.Kind != yaml.ScalarNode {
			return errors.Errorf("line %d: value of %q must be a scalar", val.Line, field.Value)
		}
		var raw interface{}
		if err := val.Decode(&raw); err != nil {
			return errors.Wrapf(err, "line %d", val.Line)
		}
		v, err := normalizeKeyValue(raw)
		if err != nil {
			return errors.Wrapf(err, "line %d: key %q", val.Line, field.Value)
		}
		out = append(out, Key{Field: field.Value, Value: v})
	}
	*ks = out
	return nil
}

func normalizeKeyValue(v interface{}) (interface{}, error) {
	switch t := v.(type) {
	case int:
		return direction(float64(t))
	case int32:
		return direction(float64(t))
	case int64:
		return direction(float64(t))
	case float64:
		return direction(t)
	case string:
		if t == "" {
			return nil, errors.New("empty index type")
		}
		return t, nil
	default:
		return nil, errors.Errorf("unsupported key value %v (%T)", v, v)
	}
}

func direction(f float64) (interface{}, error) {
	switch {
	case f > 0:
		return int32(1), nil
	case f < 0:
		return int32(-1), nil
	default:
		return nil, errors.New("direction must be non-zero")
	}
}

func sameKeyValue(a, b interface{}) bool {
	na, errA := normalizeKeyValue(a)
	nb, errB := normalizeKeyValue(b)
	if errA != nil || errB != nil {
		return false
	}
	return na == nb
}
