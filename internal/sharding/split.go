package sharding

import (
	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"gopkg.in/yaml.v3"
)

// ErrNoSplitPoints is returned when split points cannot be derived from the
// shard key and none were configured.
var ErrNoSplitPoints = errors.New("no split points: ranged shard key without configured points")

// HashedSplitPoints divides the hashed key space (the full int64 range) into
// target equal chunks and returns the target-1 interior bounds in ascending
// order. Fields after the hashed prefix are pinned to MinKey.
func HashedSplitPoints(key Keys, target int) ([]bson.D, error) {
	if key.HashedIndex() != 0 {
		return nil, errors.Errorf("shard key %s does not start with a hashed field", key)
	}
	if target < 2 {
		return nil, nil
	}

	step := ^uint64(0)/uint64(target) + 1
	points := make([]bson.D, 0, target-1)
	for i := 1; i < target; i++ {
		// uint64 wrap-around maps onto int64 starting at MinInt64.
		v := int64(uint64(1)<<63 + uint64(i)*step)
		d := bson.D{{Key: key[0].Field, Value: v}}
		for _, k := range key[1:] {
			d = append(d, bson.E{Key: k.Field, Value: primitive.MinKey{}})
		}
		points = append(points, d)
	}
	return points, nil
}

// SplitPoints returns the bounds to pre-split a collection at. Configured
// points win; otherwise hashed keys get evenly spaced points and ranged keys
// yield ErrNoSplitPoints.
func SplitPoints(key Keys, target int, configured []Point) ([]bson.D, error) {
	if len(configured) > 0 {
		points := make([]bson.D, 0, len(configured))
		for _, p := range configured {
			d, err := orderPoint(key, p)
			if err != nil {
				return nil, err
			}
			points = append(points, d)
		}
		return points, nil
	}
	if key.HashedIndex() == 0 {
		return HashedSplitPoints(key, target)
	}
	return nil, ErrNoSplitPoints
}

// orderPoint lays out a configured split point in shard key field order.
// Fields missing from the point are filled with MinKey.
func orderPoint(key Keys, point Point) (bson.D, error) {
	values := make(map[string]interface{}, len(point))
	for _, e := range point {
		values[e.Key] = e.Value
	}
	d := make(bson.D, 0, len(key))
	for _, k := range key {
		v, ok := values[k.Field]
		if !ok {
			v = primitive.MinKey{}
		}
		delete(values, k.Field)
		d = append(d, bson.E{Key: k.Field, Value: v})
	}
	if len(values) > 0 {
		return nil, errors.Errorf("split point %v has fields outside shard key %s", bson.D(point), key)
	}
	return d, nil
}

// Point is a shard key value used as a split bound, e.g. `{appID: 1000}`.
type Point bson.D

// UnmarshalYAML decodes a mapping into a Point keeping field order.
func (p *Point) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return errors.Errorf("line %d: split point must be a mapping", node.Line)
	}
	out := make(Point, 0, len(node.Content)/2)
	for i := 0; i+1 < len(node.Content); i += 2 {
		var v interface{}
		if err := node.Content[i+1].Decode(&v); err != nil {
			return errors.Wrapf(err, "line %d", node.Content[i+1].Line)
		}
		out = append(out, bson.E{Key: node.Content[i].Value, Value: v})
	}
	*p = out
	return nil
}
