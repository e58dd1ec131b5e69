package setup

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"go-mongodb-shard-setup/internal/cluster"
	"go-mongodb-shard-setup/internal/config"
)

// Options tune a run.
type Options struct {
	DryRun       bool
	SkipSharded  bool
	PollInterval time.Duration
	WaitTimeout  time.Duration
}

// Runner applies a Plan to a cluster one collection at a time.
type Runner struct {
	admin Admin
	plan  *config.Plan
	opts  Options
	log   *zap.Logger
}

// NewRunner returns a runner for plan. A nil logger discards output.
func NewRunner(admin Admin, plan *config.Plan, opts Options, log *zap.Logger) *Runner {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}
	if opts.WaitTimeout <= 0 {
		opts.WaitTimeout = 2 * time.Minute
	}
	return &Runner{admin: admin, plan: plan, opts: opts, log: log}
}

// Run validates access, enables sharding on the plan database and runs the
// per-collection pipeline, then verifies the result. The returned error is
// fatal: invalid plan, failed access check or failed enableSharding.
// Per-collection failures are recorded in the report instead.
func (r *Runner) Run(ctx context.Context) (*Report, error) {
	if err := r.plan.Validate(); err != nil {
		return nil, err
	}

	report := &Report{
		Database:      r.plan.Database,
		DryRun:        r.opts.DryRun,
		InitialChunks: r.plan.InitialChunks,
	}
	if r.opts.DryRun {
		r.log.Info("[DRY-RUN] no changes will be made")
	}

	if err := r.validateAccess(ctx); err != nil {
		return nil, errors.Wrap(err, "validate connection")
	}
	if err := r.enableSharding(ctx); err != nil {
		return nil, err
	}

	for _, c := range r.plan.Collections {
		report.Results = append(report.Results, r.processCollection(ctx, c))
	}

	r.verify(ctx, report)
	return report, nil
}

// validateAccess requires a mongos connection, a cluster admin role when
// authenticated and at least one registered shard.
func (r *Runner) validateAccess(ctx context.Context) error {
	r.log.Info("Checking connection and permissions...")

	topo, err := r.admin.Topology(ctx)
	if err != nil {
		return err
	}
	if !topo.IsMongos() {
		return errors.Errorf("connected to a %s, not a mongos router", topo.Kind())
	}
	r.log.Info("[OK] Connected to mongos", zap.Int("maxWireVersion", topo.MaxWireVersion))

	status, err := r.admin.ConnectionStatus(ctx)
	if err != nil {
		return err
	}
	if !status.Authenticated() {
		r.log.Warn("[WARN] Connection is not authenticated; relying on the cluster having no access control")
	} else {
		if err := status.CheckAdmin(r.plan.Database); err != nil {
			return err
		}
		r.log.Info("[OK] Authenticated",
			zap.Strings("users", status.UserNames()),
			zap.Strings("roles", status.RoleNames()))
	}

	clusterStatus, err := r.admin.ClusterStatus(ctx)
	if err != nil {
		return err
	}
	if err := clusterStatus.Verify(); err != nil {
		return err
	}
	cluster.LogClusterStatus(r.log, clusterStatus)
	return nil
}

// enableSharding reads config.databases first so a rerun issues no
// enableSharding. A failed read falls back to the command, whose "already
// enabled" reply is benign.
func (r *Runner) enableSharding(ctx context.Context) error {
	db := r.plan.Database

	enabled, err := r.admin.ShardingEnabled(ctx, db)
	if err != nil {
		r.log.Warn("[WARN] Could not read config.databases; issuing enableSharding", zap.String("db", db), zap.Error(err))
	}
	if enabled {
		r.log.Info("[OK] Sharding already enabled", zap.String("db", db))
		return nil
	}
	if r.opts.DryRun {
		r.log.Info("[DRY-RUN] would enableSharding", zap.String("db", db))
		return nil
	}

	already, err := r.admin.EnableSharding(ctx, db)
	if err != nil {
		return errors.Wrapf(err, "enable sharding on %s", db)
	}
	if already {
		r.log.Info("[OK] Sharding already enabled", zap.String("db", db))
	} else {
		r.log.Info("[OK] Sharding enabled", zap.String("db", db))
	}
	return nil
}

// processCollection runs the guarded steps for one collection. A failed step
// ends the collection; the run continues with the next one.
func (r *Runner) processCollection(ctx context.Context, c config.CollectionPlan) Result {
	st := &collectionState{
		plan: c,
		db:   r.plan.Database,
		ns:   c.Namespace(r.plan.Database),
		key:  c.ShardKey,
	}
	res := Result{Collection: c.Name, Namespace: st.ns}
	log := r.log.With(zap.String("ns", st.ns))
	log.Info("Processing collection", zap.Stringer("shardKey", c.ShardKey))

	steps := []func(context.Context, *collectionState, *zap.Logger) []StepResult{
		r.ensureCollection,
		r.checkSharded,
		r.ensureIndexes,
		r.ensureShardKeyIndex,
		r.ensureSharded,
		r.ensurePresplit,
	}
	for _, step := range steps {
		results := step(ctx, st, log)
		res.Steps = append(res.Steps, results...)
		if last := lastFailure(results); last != nil {
			res.Outcome = Failed
			res.Reason = last.Step + ": " + last.Detail
			log.Error("[FAIL] Collection failed", zap.String("step", last.Step), zap.Error(last.Err))
			return res
		}
		if st.skip {
			res.Outcome = Skipped
			res.Reason = st.skipReason
			log.Info("[SKIP] " + st.skipReason)
			return res
		}
	}

	res.Outcome = Succeeded
	res.Chunks = st.chunks
	log.Info("[OK] Collection done", zap.Int64("chunks", st.chunks))
	return res
}

func lastFailure(results []StepResult) *StepResult {
	for i := len(results) - 1; i >= 0; i-- {
		if results[i].Action == ActionFailed {
			return &results[i]
		}
	}
	return nil
}
