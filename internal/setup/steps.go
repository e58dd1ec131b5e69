package setup

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	"go.mongodb.org/mongo-driver/bson"
	"go.uber.org/zap"

	"go-mongodb-shard-setup/internal/config"
	"go-mongodb-shard-setup/internal/operations"
	"go-mongodb-shard-setup/internal/sharding"
)

// collectionState is what the steps observed (or, in dry-run, would have
// caused) so far for one collection.
type collectionState struct {
	plan config.CollectionPlan
	db   string
	ns   string
	key  sharding.Keys

	// simulated is set in dry-run when the collection does not exist; later
	// steps treat it as present and empty without reading it.
	simulated bool
	sharded   bool
	// dryRunSharded is set when sharding was only simulated.
	dryRunSharded bool
	indexes       []sharding.IndexInfo
	chunks        int64

	skip       bool
	skipReason string
}

func (r *Runner) ensureCollection(ctx context.Context, st *collectionState, log *zap.Logger) []StepResult {
	const step = "collection"

	exists, err := r.admin.CollectionExists(ctx, st.db, st.plan.Name)
	if err != nil {
		return []StepResult{failed(step, err)}
	}
	if exists {
		log.Debug("Collection exists")
		return []StepResult{noop(step, "exists")}
	}
	if r.opts.DryRun {
		st.simulated = true
		log.Info("[DRY-RUN] would create collection")
		return []StepResult{dryRun(step, "would create collection")}
	}

	if err := r.admin.CreateCollection(ctx, st.db, st.plan.Name); err != nil {
		return []StepResult{failed(step, err)}
	}
	log.Info("[OK] Collection created")
	return []StepResult{mutated(step, "created")}
}

func (r *Runner) checkSharded(ctx context.Context, st *collectionState, log *zap.Logger) []StepResult {
	const step = "sharding state"

	if st.simulated {
		return []StepResult{noop(step, "not sharded")}
	}
	cs, err := r.admin.CollectionSharding(ctx, st.ns)
	if err != nil {
		return []StepResult{failed(step, err)}
	}
	if cs == nil {
		return []StepResult{noop(step, "not sharded")}
	}

	st.sharded = true
	detail := "already sharded on " + cs.Key.String()
	if !cs.Key.Equal(st.plan.ShardKey) {
		// the shard key cannot be changed here; later steps follow the live key
		log.Warn("[WARN] Existing shard key differs from plan",
			zap.Stringer("existing", cs.Key), zap.Stringer("planned", st.plan.ShardKey))
		st.key = cs.Key
	}
	if r.opts.SkipSharded {
		st.skip = true
		st.skipReason = detail
	}
	return []StepResult{noop(step, detail)}
}

// ensureIndexes creates the planned secondary indexes. Failures are warnings
// and never fail the collection.
func (r *Runner) ensureIndexes(ctx context.Context, st *collectionState, log *zap.Logger) []StepResult {
	if !st.simulated {
		indexes, err := r.admin.ListIndexes(ctx, st.db, st.plan.Name)
		if err != nil {
			return []StepResult{failed("list indexes", err)}
		}
		st.indexes = indexes
	}

	results := make([]StepResult, 0, len(st.plan.Indexes))
	created := 0
	for _, spec := range st.plan.Indexes {
		step := "index " + spec.IndexName()
		ilog := log.With(zap.String("index", spec.IndexName()), zap.Stringer("keys", spec.Keys))

		if existing, ok := sharding.FindIndex(st.indexes, spec); ok {
			if !existing.Keys.Equal(spec.Keys) {
				ilog.Warn("[WARN] An index with this name has a different key pattern", zap.Stringer("existing", existing.Keys))
			}
			ilog.Debug("Index exists")
			results = append(results, noop(step, "exists as "+existing.Name))
			continue
		}
		if r.opts.DryRun {
			ilog.Info("[DRY-RUN] would create index", zap.Bool("unique", spec.Unique), zap.Bool("sparse", spec.Sparse))
			results = append(results, dryRun(step, "would create"))
			st.indexes = append(st.indexes, sharding.IndexInfo{Name: spec.IndexName(), Keys: spec.Keys, Unique: spec.Unique})
			continue
		}

		name, err := r.admin.CreateIndex(ctx, st.db, st.plan.Name, spec)
		switch {
		case err == nil:
			created++
			ilog.Info("[OK] Index created")
			results = append(results, mutated(step, "created "+name))
			st.indexes = append(st.indexes, sharding.IndexInfo{Name: name, Keys: spec.Keys, Unique: spec.Unique})
		case sharding.IsIndexExists(err):
			ilog.Info("Index already present", zap.Error(err))
			results = append(results, noop(step, "already exists"))
		default:
			ilog.Warn("[WARN] Index creation failed", zap.Error(err))
			results = append(results, warned(step, err))
		}
	}

	if created > 0 {
		r.waitForIndexBuilds(ctx, st, log)
	}
	return results
}

// waitForIndexBuilds polls $currentOp until no build is running on the
// collection. Timing out is logged and otherwise ignored.
func (r *Runner) waitForIndexBuilds(ctx context.Context, st *collectionState, log *zap.Logger) {
	err := operations.WaitFor(ctx, r.opts.PollInterval, r.opts.WaitTimeout, func(ctx context.Context) (bool, error) {
		n, err := r.admin.IndexBuildsInProgress(ctx, st.db, st.plan.Name)
		if err != nil {
			return false, err
		}
		if n > 0 {
			log.Debug("Index builds in progress", zap.Int("builds", n))
		}
		return n == 0, nil
	})
	if err != nil {
		log.Warn("[WARN] Index builds not confirmed finished", zap.Error(err))
		return
	}
	log.Debug("Index builds finished")
}

// ensureShardKeyIndex creates the index shardCollection needs when no index
// starts with the shard key.
func (r *Runner) ensureShardKeyIndex(ctx context.Context, st *collectionState, log *zap.Logger) []StepResult {
	const step = "shard key index"

	if st.sharded {
		return []StepResult{noop(step, "collection already sharded")}
	}
	if sharding.HasKeyPrefix(st.indexes, st.key) {
		return []StepResult{noop(step, "exists")}
	}

	spec := sharding.IndexSpec{Keys: st.key, Unique: st.plan.Unique}
	klog := log.With(zap.String("index", spec.IndexName()), zap.Stringer("keys", st.key))
	if r.opts.DryRun {
		klog.Info("[DRY-RUN] would create shard key index", zap.Bool("unique", spec.Unique))
		st.indexes = append(st.indexes, sharding.IndexInfo{Name: spec.IndexName(), Keys: st.key, Unique: spec.Unique})
		return []StepResult{dryRun(step, "would create "+spec.IndexName())}
	}

	name, err := r.admin.CreateIndex(ctx, st.db, st.plan.Name, spec)
	if err != nil && !sharding.IsIndexExists(err) {
		// shardCollection reports the real problem if the index is required
		klog.Warn("[WARN] Shard key index creation failed", zap.Error(err))
		return []StepResult{warned(step, err)}
	}
	if err != nil {
		return []StepResult{noop(step, "already exists")}
	}
	st.indexes = append(st.indexes, sharding.IndexInfo{Name: name, Keys: st.key, Unique: spec.Unique})
	r.waitForIndexBuilds(ctx, st, log)
	klog.Info("[OK] Shard key index created")
	return []StepResult{mutated(step, "created "+name)}
}

func (r *Runner) ensureSharded(ctx context.Context, st *collectionState, log *zap.Logger) []StepResult {
	const step = "shard collection"

	if st.sharded {
		return []StepResult{noop(step, "already sharded")}
	}
	if r.opts.DryRun {
		log.Info("[DRY-RUN] would shardCollection", zap.Stringer("key", st.key), zap.Bool("unique", st.plan.Unique))
		st.sharded = true
		st.dryRunSharded = true
		return []StepResult{dryRun(step, "would shard on "+st.key.String())}
	}

	err := r.admin.ShardCollection(ctx, st.ns, st.key, st.plan.Unique)
	if sharding.IsAlreadySharded(err) {
		st.sharded = true
		log.Info("[OK] Collection was already sharded")
		return []StepResult{noop(step, "already sharded")}
	}
	if err != nil {
		return []StepResult{failed(step, err)}
	}
	st.sharded = true
	log.Info("[OK] Collection sharded", zap.Stringer("key", st.key))
	return []StepResult{mutated(step, "sharded on "+st.key.String())}
}

// ensurePresplit splits the collection one point at a time until it has at
// least the target number of chunks.
func (r *Runner) ensurePresplit(ctx context.Context, st *collectionState, log *zap.Logger) []StepResult {
	const step = "pre-split"
	target := r.plan.InitialChunks

	if !st.dryRunSharded {
		info, err := r.admin.ChunkInfo(ctx, st.ns)
		if err != nil {
			return []StepResult{failed(step, err)}
		}
		st.chunks = info.TotalCount
	}
	if st.chunks >= int64(target) {
		log.Info("[OK] Chunk target already met", zap.Int64("chunks", st.chunks), zap.Int("target", target))
		return []StepResult{noop(step, fmt.Sprintf("%d chunks, target %d", st.chunks, target))}
	}

	points, err := sharding.SplitPoints(st.key, target, st.plan.SplitPoints)
	if errors.Is(err, sharding.ErrNoSplitPoints) {
		log.Info("Ranged shard key without configured split points; chunks will split as data arrives",
			zap.Int64("chunks", st.chunks))
		return []StepResult{noop(step, "no split points for ranged key")}
	}
	if err != nil {
		return []StepResult{failed(step, err)}
	}

	if r.opts.DryRun {
		for _, p := range points {
			log.Info("[DRY-RUN] would split", zap.String("middle", operations.FormatBound(p)))
		}
		return []StepResult{dryRun(step, fmt.Sprintf("would split at %d points", len(points)))}
	}

	log.Debug("Split points", zap.Strings("middles", splitMiddles(points)))
	splits := 0
	for _, p := range points {
		if st.chunks >= int64(target) {
			break
		}
		err := r.admin.SplitAt(ctx, st.ns, p)
		switch {
		case err == nil:
			splits++
			log.Debug("Split", zap.String("middle", operations.FormatBound(p)))
			r.waitForSplit(ctx, st, log)
		case sharding.IsSplitBoundary(err):
			log.Debug("Split point is already a chunk boundary", zap.String("middle", operations.FormatBound(p)))
		case sharding.IsChunkTooSmall(err):
			log.Warn("[WARN] Chunk is too small to split further; stopping pre-split",
				zap.Int64("chunks", st.chunks), zap.Int("target", target))
			detail := fmt.Sprintf("stopped early: chunk too small after %d splits, %d chunks", splits, st.chunks)
			if splits == 0 {
				return []StepResult{noop(step, detail)}
			}
			return []StepResult{mutated(step, detail)}
		default:
			return []StepResult{failed(step, errors.Wrapf(err, "after %d splits", splits))}
		}
	}

	log.Info("[OK] Pre-split done", zap.Int("splits", splits), zap.Int64("chunks", st.chunks), zap.Int("target", target))
	if splits == 0 {
		return []StepResult{noop(step, fmt.Sprintf("%d chunks, no split applied", st.chunks))}
	}
	return []StepResult{mutated(step, fmt.Sprintf("split %d times, %d chunks", splits, st.chunks))}
}

// waitForSplit polls config.chunks until the count grows past the last
// observed value. Timing out is logged and the count is bumped by the split.
func (r *Runner) waitForSplit(ctx context.Context, st *collectionState, log *zap.Logger) {
	before := st.chunks
	err := operations.WaitFor(ctx, r.opts.PollInterval, r.opts.WaitTimeout, func(ctx context.Context) (bool, error) {
		info, err := r.admin.ChunkInfo(ctx, st.ns)
		if err != nil {
			return false, err
		}
		if info.TotalCount > before {
			st.chunks = info.TotalCount
			return true, nil
		}
		return false, nil
	})
	if err != nil {
		log.Warn("[WARN] Split not visible in config.chunks yet", zap.Error(err))
		st.chunks = before + 1
	}
}

func splitMiddles(points []bson.D) []string {
	out := make([]string, len(points))
	for i, p := range points {
		out[i] = operations.FormatBound(p)
	}
	return out
}
