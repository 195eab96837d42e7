package cmd

import (
	"context"
	"time"

	"github.com/adahealth/munkipipe/pkg/core"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// sweepCmd deletes artifacts referenced by no manifest entry
var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Deletes installer artifacts no longer referenced by any manifest entry",
	Long: `Deletes the artifacts under pkgs/ that no pkginfo references, once older than the grace period.

The working tree of the trunk branch is swept: the age of an artifact is the date of the last
commit that changed it, or its modification time when it is not committed yet. Dot files are
never deleted.

All pkginfo files are indexed before anything is deleted: if any of them cannot be parsed,
the sweep stops without deleting anything.

The deletions are committed on a branch, and a pull request is opened against the trunk
branch. Once merged, the next sync removes the artifacts from the object store.
Use "--no-publish" to leave the deletions in the working tree.

Only ONE sweep may run in a working tree: a lock file is set while the sweep runs.
If a sweep fails to complete, it may be run again with "--force" to bypass the lock.
You MUST make sure that no other sweep is still running before doing that.
`,
	Run: func(cmd *cobra.Command, args []string) {
		var err error
		ctx := context.Background()
		optionInputs := newCliOptionInputs(config, &munkipipeFlags)
		logger, err := optionInputs.getLogger()
		if err != nil {
			wrapFatalln("config log", err)
			return
		}
		defer func(t0 time.Time) {
			logger.Info("sweep done", zap.Duration("elapsed", time.Since(t0)), zap.Error(err))
		}(time.Now())

		store := optionInputs.workingTree()
		git := optionInputs.git()

		var publisher *core.Publisher
		if !munkipipeFlags.sweep.dryRun && !munkipipeFlags.sweep.noPublish {
			host, erh := optionInputs.reviewHost(ctx)
			if erh != nil {
				wrapFatalln("review host", erh)
				return
			}
			publisher = core.NewPublisher(git, host,
				core.WithPublishTrunk(config.Repo.Trunk),
				core.WithPublishLogger(logger),
				core.WithPublishMetrics(optionInputs.metrics),
			)
		}
		if !munkipipeFlags.sweep.dryRun {
			unlock, erl := optionInputs.lockWorkingTree()
			if erl != nil {
				wrapFatalln("lock working tree", erl)
				return
			}
			defer unlock()
		}
		if publisher != nil {
			if err = publisher.EnsureTrunk(ctx); err != nil {
				wrapFatalln("sweep", err)
				return
			}
		}

		grace := munkipipeFlags.sweep.grace
		if grace <= 0 {
			grace = config.Sweep.Grace
		}
		indexPath := munkipipeFlags.sweep.indexPath
		if indexPath == "" {
			indexPath = config.Sweep.IndexPath
		}
		logger.Info("sweeping unreferenced artifacts",
			zap.Stringer("store", store),
			zap.Duration("grace", grace),
			zap.Bool("force", munkipipeFlags.sweep.force),
			zap.Bool("dry_run", munkipipeFlags.sweep.dryRun),
			zap.Bool("publish", publisher != nil),
		)

		desc, err := core.Sweep(ctx, store,
			core.WithSweepGrace(grace),
			core.WithSweepDryRun(munkipipeFlags.sweep.dryRun),
			core.WithSweepForce(munkipipeFlags.sweep.force),
			core.WithSweepIndexPath(indexPath),
			core.WithSweepDater(git),
			core.WithSweepLogger(logger),
			core.WithSweepMetrics(optionInputs.metrics),
		)
		if err != nil {
			optionInputs.pushMetrics(ctx, "sweep")
			wrapFatalln("sweep", err)
			return
		}
		printSweepDescriptor(cmd.OutOrStdout(), store, desc)

		if publisher != nil {
			pub, erp := publisher.PublishSweep(ctx, desc)
			if erp != nil {
				err = erp
				optionInputs.pushMetrics(ctx, "sweep")
				wrapFatalln("publish sweep", erp)
				return
			}
			printPublication(cmd.OutOrStdout(), pub)
		}
		optionInputs.metrics.Succeeded("sweep")
		optionInputs.pushMetrics(ctx, "sweep")
	},
}

func init() {
	addSweepFlags(sweepCmd.Flags())
	rootCmd.AddCommand(sweepCmd)
}
