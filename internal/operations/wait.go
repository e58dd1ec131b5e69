package operations

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

// ErrWaitTimeout is returned by WaitFor when the condition never held.
var ErrWaitTimeout = errors.New("timed out waiting for condition")

// WaitFor polls cond every interval until it reports true, the timeout
// elapses, or ctx is done. Errors from cond are retried; the last one is
// attached to the timeout error.
func WaitFor(ctx context.Context, interval, timeout time.Duration, cond func(context.Context) (bool, error)) error {
	deadline := time.Now().Add(timeout)
	var lastErr error

	for {
		done, err := cond(ctx)
		if err == nil && done {
			return nil
		}
		if err != nil {
			lastErr = err
		}
		if !time.Now().Before(deadline) {
			if lastErr != nil {
				return errors.Wrap(ErrWaitTimeout, lastErr.Error())
			}
			return ErrWaitTimeout
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}
}

// IndexBuildsInProgress counts in-flight index builds on db.coll using
// $currentOp, which mongos fans out to every shard.
func IndexBuildsInProgress(ctx context.Context, client *mongo.Client, db, coll string) (int, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$currentOp", Value: bson.D{{Key: "allUsers", Value: true}}}},
		{{Key: "$match", Value: bson.D{{Key: "$or", Value: bson.A{
			bson.D{
				{Key: "command.createIndexes", Value: coll},
				{Key: "command.$db", Value: db},
			},
			bson.D{
				{Key: "ns", Value: db + "." + coll},
				{Key: "msg", Value: bson.D{{Key: "$regex", Value: "^Index Build"}}},
			},
		}}}}},
		{{Key: "$count", Value: "n"}},
	}

	cursor, err := client.Database("admin").Aggregate(ctx, pipeline)
	if err != nil {
		return 0, errors.Wrapf(err, "$currentOp for %s.%s", db, coll)
	}
	defer cursor.Close(ctx)

	if !cursor.Next(ctx) {
		return 0, cursor.Err()
	}
	var doc bson.M
	if err := cursor.Decode(&doc); err != nil {
		return 0, errors.Wrap(err, "decode $currentOp count")
	}
	return int(int64Field(doc, "n")), nil
}
