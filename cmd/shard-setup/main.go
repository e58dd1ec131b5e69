package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"go-mongodb-shard-setup/internal/cluster"
	"go-mongodb-shard-setup/internal/config"
	"go-mongodb-shard-setup/internal/logging"
	"go-mongodb-shard-setup/internal/setup"
)

func main() {
	cfg := config.Load()
	if err := newRootCmd(cfg, newFlags(cfg)).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "[FATAL] %v\n", err)
		os.Exit(1)
	}
}

// flags holds the string-typed booleans and the overrides that only apply
// when set on the command line.
type flags struct {
	dryRun      string
	skipSharded string
	hosts       []string
	chunks      int
}

func newFlags(cfg *config.Config) *flags {
	return &flags{dryRun: "false", skipSharded: "true", hosts: cfg.MongosHosts, chunks: config.DefaultInitialChunks}
}

// newRootCmd binds the command-line flags to cfg and f.
func newRootCmd(cfg *config.Config, f *flags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "shard-setup",
		Short: "Shard, index and pre-split the configured collections through mongos",
		Long: `shard-setup enables sharding on a database and, for every collection in the
plan, creates the collection and its indexes, shards it and pre-splits it to
the target chunk count. Every step checks the cluster first, so re-running it
converges instead of failing. Use --dry-run true to see what would change.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := f.apply(cmd, cfg); err != nil {
				return err
			}
			return run(cmd.Context(), cfg, cmd.Flags().Changed("chunks"))
		},
	}

	fs := cmd.Flags()
	fs.StringVar(&f.dryRun, "dry-run", f.dryRun, "Log mutating calls instead of executing them (true|false)")
	fs.StringVar(&cfg.Database, "database", cfg.Database, "Database to shard (overrides the plan)")
	fs.IntVar(&f.chunks, "chunks", f.chunks, "Target chunk count per collection (overrides the plan)")
	fs.StringVar(&cfg.PlanFile, "plan", cfg.PlanFile, "YAML plan file (default: built-in plan)")
	fs.StringVar(&f.skipSharded, "skip-sharded", f.skipSharded, "Skip collections that are already sharded (true|false)")

	fs.StringVar(&cfg.URI, "uri", cfg.URI, "Full connection string; overrides --hosts and credentials")
	fs.StringSliceVar(&f.hosts, "hosts", f.hosts, "Comma-separated mongos host:port list")
	fs.StringVar(&cfg.AdminUser, "user", cfg.AdminUser, "Admin user name")
	fs.StringVar(&cfg.AdminPassword, "password", cfg.AdminPassword, "Admin password")
	fs.StringVar(&cfg.AuthSource, "auth-source", cfg.AuthSource, "Authentication database")

	fs.DurationVar(&cfg.PollInterval, "poll-interval", cfg.PollInterval, "Interval between completion checks")
	fs.DurationVar(&cfg.WaitTimeout, "wait-timeout", cfg.WaitTimeout, "Max wait for an index build or split to show up")
	fs.DurationVar(&cfg.RunTimeout, "timeout", cfg.RunTimeout, "Overall run timeout")
	fs.BoolVarP(&cfg.Verbose, "verbose", "v", cfg.Verbose, "Enable debug logging")
	return cmd
}

// apply copies the parsed flags into cfg.
func (f *flags) apply(cmd *cobra.Command, cfg *config.Config) error {
	var err error
	if cfg.DryRun, err = config.ParseBool(f.dryRun); err != nil {
		return errors.Wrap(err, "--dry-run")
	}
	if cfg.SkipSharded, err = config.ParseBool(f.skipSharded); err != nil {
		return errors.Wrap(err, "--skip-sharded")
	}
	if cmd.Flags().Changed("hosts") {
		cfg.MongosHosts = f.hosts
	}
	if cmd.Flags().Changed("chunks") && f.chunks < 1 {
		return errors.Errorf("--chunks must be >= 1, got %d", f.chunks)
	}
	cfg.InitialChunks = f.chunks
	return nil
}

func run(parent context.Context, cfg *config.Config, chunksSet bool) error {
	log, err := logging.New(cfg.Verbose)
	if err != nil {
		return errors.Wrap(err, "init logger")
	}
	defer log.Sync()

	plan, err := loadPlan(cfg, chunksSet)
	if err != nil {
		return err
	}

	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithTimeout(parent, cfg.RunTimeout)
	defer cancel()

	log.Info("MongoDB shard setup",
		zap.String("uri", cfg.RedactedURI()),
		zap.String("db", plan.Database),
		zap.Int("collections", len(plan.Collections)),
		zap.Int("chunks", plan.InitialChunks),
		zap.Bool("dryRun", cfg.DryRun))

	client, err := cluster.Connect(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		dctx, dcancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer dcancel()
		client.Disconnect(dctx)
	}()
	log.Info("[OK] Connected")

	runner := setup.NewRunner(setup.NewMongoAdmin(client), plan, setup.Options{
		DryRun:       cfg.DryRun,
		SkipSharded:  cfg.SkipSharded,
		PollInterval: cfg.PollInterval,
		WaitTimeout:  cfg.WaitTimeout,
	}, log)

	report, err := runner.Run(ctx)
	if err != nil {
		log.Error("[FATAL] setup aborted", zap.Error(err))
		return err
	}
	setup.LogReport(log, report)
	return nil
}

// loadPlan returns the plan file or the built-in plan with command-line
// overrides applied.
func loadPlan(cfg *config.Config, chunksSet bool) (*config.Plan, error) {
	plan := config.DefaultPlan()
	if cfg.PlanFile != "" {
		var err error
		if plan, err = config.LoadPlan(cfg.PlanFile); err != nil {
			return nil, err
		}
	}
	if cfg.Database != "" {
		plan.Database = cfg.Database
	}
	if chunksSet {
		plan.InitialChunks = cfg.InitialChunks
	}
	return plan, plan.Validate()
}
