package setup

import (
	"context"

	"go.uber.org/zap"

	"go-mongodb-shard-setup/internal/operations"
	"go-mongodb-shard-setup/internal/sharding"
)

// verify reads back the sharding state of every planned collection. Read
// errors are kept on the Verification and never fail the run.
func (r *Runner) verify(ctx context.Context, report *Report) {
	r.log.Info("[VERIFY] Reading back sharding state...")

	size, err := r.admin.ChunkSizeMB(ctx)
	if err != nil {
		r.log.Warn("[WARN] chunksize setting", zap.Error(err))
	}
	report.ChunkSizeMB = size

	for _, c := range r.plan.Collections {
		report.Verifications = append(report.Verifications, r.verifyCollection(ctx, c.Name, c.Namespace(r.plan.Database)))
	}
}

func (r *Runner) verifyCollection(ctx context.Context, coll, ns string) Verification {
	v := Verification{Collection: coll, Namespace: ns, Imbalance: 1}

	cs, err := r.admin.CollectionSharding(ctx, ns)
	if err != nil {
		v.Errors = append(v.Errors, err.Error())
	}
	if cs == nil {
		return v
	}
	v.Sharded = true
	v.Key = cs.Key

	chunks, err := r.admin.ChunkInfo(ctx, ns)
	if err != nil {
		v.Errors = append(v.Errors, err.Error())
	} else {
		v.Chunks = chunks
		v.Imbalance = sharding.Imbalance(chunks.PerShard)
	}

	stats, err := r.admin.CollStats(ctx, r.plan.Database, coll)
	if err != nil {
		v.Errors = append(v.Errors, err.Error())
	} else {
		v.Stats = stats
	}

	if r.log.Core().Enabled(zap.DebugLevel) {
		r.logChunkRanges(ctx, ns)
	}
	return v
}

func (r *Runner) logChunkRanges(ctx context.Context, ns string) {
	list, err := r.admin.ListChunks(ctx, ns)
	if err != nil {
		r.log.Debug("list chunks", zap.String("ns", ns), zap.Error(err))
		return
	}
	for _, c := range list {
		r.log.Debug("chunk",
			zap.String("ns", ns),
			zap.String("shard", c.Shard),
			zap.String("min", operations.FormatBound(c.Min)),
			zap.String("max", operations.FormatBound(c.Max)))
	}
}
