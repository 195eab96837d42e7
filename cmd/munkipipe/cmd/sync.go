package cmd

import (
	"context"
	"time"

	"github.com/adahealth/munkipipe/pkg/core"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// syncCmd mirrors the trunk working tree to the object store
var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Mirrors the Munki repository to the object store",
	Long: `Mirrors the working tree of the Munki repository to the object store, transferring only what changed.

Run it from a checkout of the trunk branch, typically on every merge: only reviewed
changes ever reach the object store. The sync refuses to run when another branch is
checked out, unless "--force" is given.

Objects are compared by size and MD5 checksum. The .git directory, dot files and the
patterns listed in sync.excludes are ignored on both sides.

A failed transfer never stops the others. Whatever failed is retried by the next sync.
`,
	Run: func(cmd *cobra.Command, args []string) {
		var err error
		optionInputs := newCliOptionInputs(config, &munkipipeFlags)
		logger, err := optionInputs.getLogger()
		if err != nil {
			wrapFatalln("config log", err)
			return
		}
		defer func(t0 time.Time) {
			logger.Info("sync done", zap.Duration("elapsed", time.Since(t0)), zap.Error(err))
		}(time.Now())

		ctx := context.Background()
		if config.Sync.Timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, config.Sync.Timeout)
			defer cancel()
		}

		src := optionInputs.workingTree()
		dst, err := optionInputs.destination()
		if err != nil {
			wrapFatalln("sync destination", err)
			return
		}
		if munkipipeFlags.sync.force {
			logger.Warn("syncing without checking the trunk branch is checked out")
		} else if err = core.RequireTrunk(ctx, optionInputs.git(), config.Repo.Trunk); err != nil {
			wrapFatalln("sync", err)
			return
		}

		parallel := munkipipeFlags.sync.parallel
		if parallel <= 0 {
			parallel = config.Sync.Parallel
		}
		opts := []core.SyncOption{
			core.WithSyncDryRun(munkipipeFlags.sync.dryRun),
			core.WithSyncParallel(parallel),
			core.WithSyncExcludes(config.Sync.Excludes...),
			core.WithSyncLogger(logger),
			core.WithSyncMetrics(optionInputs.metrics),
			core.WithSyncAlert(optionInputs.notifier(), config.Sync.AlertOnFailure),
		}
		invalidator, err := optionInputs.invalidator()
		if err != nil {
			wrapFatalln("cloudfront", err)
			return
		}
		if invalidator != nil {
			opts = append(opts, core.WithSyncInvalidator(invalidator))
		}

		desc, err := core.Sync(ctx, src, dst, opts...)
		printSyncPlan(cmd.OutOrStdout(), desc.Plan)
		if !desc.DryRun && !desc.Plan.Empty() {
			printSyncDescriptor(cmd.OutOrStdout(), dst, desc)
		}
		if err == nil {
			optionInputs.metrics.Succeeded("sync")
		}
		optionInputs.pushMetrics(ctx, "sync")
		if err != nil {
			wrapFatalln("sync", err)
		}
	},
}

func init() {
	addSyncFlags(syncCmd.Flags())
	rootCmd.AddCommand(syncCmd)
}
