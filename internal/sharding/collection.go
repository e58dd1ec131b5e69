package sharding

import (
	"context"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

// CollectionExists reports whether db.collection exists.
func CollectionExists(ctx context.Context, client *mongo.Client, db, collection string) (bool, error) {
	names, err := client.Database(db).ListCollectionNames(ctx, bson.D{{Key: "name", Value: collection}})
	if err != nil {
		return false, errors.Wrapf(err, "list collections in %s", db)
	}
	return len(names) > 0, nil
}

// CreateCollection creates db.collection. A concurrent create by someone else
// is not an error.
func CreateCollection(ctx context.Context, client *mongo.Client, db, collection string) error {
	err := client.Database(db).CreateCollection(ctx, collection)
	if err != nil && !IsNamespaceExists(err) {
		return errors.Wrapf(err, "create %s.%s", db, collection)
	}
	return nil
}

// ListIndexes returns the indexes defined on db.collection.
func ListIndexes(ctx context.Context, client *mongo.Client, db, collection string) ([]IndexInfo, error) {
	cursor, err := client.Database(db).Collection(collection).Indexes().List(ctx)
	if err != nil {
		return nil, errors.Wrapf(err, "list indexes of %s.%s", db, collection)
	}
	defer cursor.Close(ctx)

	var out []IndexInfo
	for cursor.Next(ctx) {
		var doc struct {
			Name   string `bson:"name"`
			Key    bson.D `bson:"key"`
			Unique bool   `bson:"unique"`
		}
		if err := cursor.Decode(&doc); err != nil {
			return nil, errors.Wrap(err, "decode index")
		}
		keys, err := KeysFromBSON(doc.Key)
		if err != nil {
			// text and 2dsphere indexes carry values we don't model
			keys = nil
		}
		out = append(out, IndexInfo{Name: doc.Name, Keys: keys, Unique: doc.Unique})
	}
	return out, cursor.Err()
}

// CreateIndex builds spec on db.collection and returns the index name.
func CreateIndex(ctx context.Context, client *mongo.Client, db, collection string, spec IndexSpec) (string, error) {
	name, err := client.Database(db).Collection(collection).Indexes().CreateOne(ctx, spec.Model())
	if err != nil {
		return "", errors.Wrapf(err, "create index %s on %s.%s", spec.IndexName(), db, collection)
	}
	return name, nil
}
