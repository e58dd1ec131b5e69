package sharding

import (
	"strings"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/mongo"
)

// Server replies that mean the cluster is already in the state we asked for.
// Message fragments cover older servers that do not send code names.
var (
	alreadyShardedMsgs = []string{"already sharded", "AlreadyInitialized"}
	chunkTooSmallMsgs  = []string{"chunk is too small", "cannot split", "CannotSplit"}
	splitBoundaryMsgs  = []string{"is a boundary key", "already a chunk boundary", "initial or final chunk boundary"}
	indexExistsMsgs    = []string{"already exists", "IndexAlreadyExists", "IndexOptionsConflict", "IndexKeySpecsConflict"}
	namespaceMsgs      = []string{"already exists", "NamespaceExists"}
)

// IsAlreadySharded reports a shardCollection error for a namespace that is
// already sharded.
func IsAlreadySharded(err error) bool {
	return matches(err, alreadyShardedMsgs)
}

// IsChunkTooSmall reports a split error raised because the chunk holds too
// little data (or too few distinct keys) to be divided further. Boundary
// errors also start with "cannot split" and are excluded.
func IsChunkTooSmall(err error) bool {
	return matches(err, chunkTooSmallMsgs) && !IsSplitBoundary(err)
}

// IsSplitBoundary reports a split at a point that is already a chunk bound.
func IsSplitBoundary(err error) bool {
	return matches(err, splitBoundaryMsgs)
}

// IsIndexExists reports a createIndexes conflict with an existing index.
func IsIndexExists(err error) bool {
	return matches(err, indexExistsMsgs)
}

// IsNamespaceExists reports a create error for a collection created
// concurrently by someone else.
func IsNamespaceExists(err error) bool {
	return matches(err, namespaceMsgs)
}

func matches(err error, subs []string) bool {
	if err == nil {
		return false
	}
	var cmdErr mongo.CommandError
	if errors.As(err, &cmdErr) && cmdErr.Name != "" {
		for _, sub := range subs {
			if cmdErr.Name == sub {
				return true
			}
		}
	}
	return containsAny(err.Error(), subs...)
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
