package setup

import (
	"fmt"
	"sort"

	"go.uber.org/zap"

	"go-mongodb-shard-setup/internal/operations"
	"go-mongodb-shard-setup/internal/sharding"
)

// LogReport prints the verification block, the recommendations, the summary
// and the follow-up diagnostic commands.
func LogReport(log *zap.Logger, report *Report) {
	log.Info("")
	log.Info("=== Verification ===")
	for _, v := range report.Verifications {
		logVerification(log, v, report.ChunkSizeMB)
	}

	log.Info("")
	log.Info("=== Recommendations ===")
	for _, line := range Recommendations(report) {
		log.Info(line)
	}

	c := report.Counts()
	log.Info("")
	log.Info("=== Summary ===",
		zap.String("db", report.Database),
		zap.Bool("dryRun", report.DryRun),
		zap.Int("targetChunks", report.InitialChunks),
		zap.Int("collections", c.Total()))
	log.Info(fmt.Sprintf("Succeeded: %d  %v", c.Succeeded, report.ByOutcome(Succeeded)))
	log.Info(fmt.Sprintf("Skipped:   %d  %v", c.Skipped, report.ByOutcome(Skipped)))
	log.Info(fmt.Sprintf("Failed:    %d  %v", c.Failed, report.ByOutcome(Failed)))
	for _, res := range report.Results {
		if res.Outcome == Failed {
			log.Error("[FAIL] "+res.Collection, zap.String("reason", res.Reason))
		}
	}

	log.Info("")
	log.Info("=== Diagnostics ===")
	for _, line := range DiagnosticCommands(report) {
		log.Info(line)
	}
}

func logVerification(log *zap.Logger, v Verification, chunkSizeMB int64) {
	vlog := log.With(zap.String("ns", v.Namespace))
	for _, e := range v.Errors {
		vlog.Warn("[WARN] verification read failed", zap.String("error", e))
	}
	if !v.Sharded {
		vlog.Warn("[VERIFY] not sharded")
		return
	}

	fields := []zap.Field{zap.Stringer("shardKey", v.Key)}
	if v.Chunks != nil {
		fields = append(fields, zap.Int64("chunks", v.Chunks.TotalCount))
	}
	if v.Stats != nil {
		fields = append(fields,
			zap.Int64("docs", v.Stats.Count),
			zap.String("size", fmt.Sprintf("%.2fMB", megabytes(v.Stats.SizeBytes))),
			zap.Int64("chunkSizeMB", chunkSizeMB))
	}
	vlog.Info("[VERIFY] sharded", fields...)

	if v.Chunks != nil {
		shards := make([]string, 0, len(v.Chunks.PerShard))
		for s := range v.Chunks.PerShard {
			shards = append(shards, s)
		}
		sort.Strings(shards)
		for _, s := range shards {
			n := v.Chunks.PerShard[s]
			pct := float64(0)
			if v.Chunks.TotalCount > 0 {
				pct = float64(n) / float64(v.Chunks.TotalCount) * 100
			}
			vlog.Info(fmt.Sprintf("  %-12s %4d chunks  (%.1f%%)", s, n, pct))
		}
		switch {
		case len(v.Chunks.PerShard) == 1:
			vlog.Warn("[WARN] all chunks are on a single shard")
		case v.Imbalance > sharding.ImbalanceThreshold:
			vlog.Warn("[WARN] chunk distribution is imbalanced", zap.String("ratio", fmt.Sprintf("%.2f", v.Imbalance)))
		}
	}
}

// Recommendations suggests follow-ups for collections that ended up with a
// single chunk, plus the balancer checks that always apply.
func Recommendations(report *Report) []string {
	var out []string
	chunkSize := report.ChunkSizeMB
	if chunkSize <= 0 {
		chunkSize = operations.DefaultChunkSizeMB
	}

	for _, v := range report.Verifications {
		if !v.Sharded || v.Chunks == nil || v.Chunks.TotalCount > 1 {
			continue
		}
		sizeMB := float64(0)
		if v.Stats != nil {
			sizeMB = megabytes(v.Stats.SizeBytes)
		}
		out = append(out, fmt.Sprintf("%s has a single chunk (%.2fMB of data, chunk size %dMB)", v.Namespace, sizeMB, chunkSize))
		if sizeMB < float64(chunkSize)*0.5 {
			out = append(out, fmt.Sprintf("  - it will split on its own after about %.2fMB more data", float64(chunkSize)-sizeMB))
		}
		out = append(out, fmt.Sprintf("  - split manually: sh.splitAt('%s', %s)", v.Namespace, examplePoint(v.Key)))
		if sizeMB < 10 {
			out = append(out, "  - or lower the chunk size temporarily: db.getSiblingDB('config').settings.updateOne({_id: 'chunksize'}, {$set: {value: 1}}, {upsert: true})")
		}
	}

	out = append(out,
		"Make sure the balancer is enabled: sh.getBalancerState()",
		"Check for active migrations: sh.isBalancerRunning()")
	return out
}

// DiagnosticCommands is the fixed block of shell commands to inspect the
// result by hand.
func DiagnosticCommands(report *Report) []string {
	out := []string{
		"sh.status()",
		"sh.getBalancerState()",
		"sh.isBalancerRunning()",
		fmt.Sprintf("db.getSiblingDB('config').collections.find({_id: /^%s\\./})", report.Database),
	}
	for _, v := range report.Verifications {
		out = append(out, fmt.Sprintf("db.getSiblingDB('%s').%s.getShardDistribution()", report.Database, v.Collection))
	}
	return out
}

func examplePoint(key sharding.Keys) string {
	if len(key) == 0 {
		return "{}"
	}
	if key[0].IsHashed() {
		return fmt.Sprintf("{ %s: NumberLong(0) }", key[0].Field)
	}
	return fmt.Sprintf("{ %s: <value> }", key[0].Field)
}

func megabytes(b int64) float64 {
	return float64(b) / (1024 * 1024)
}
