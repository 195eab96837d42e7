package cmd

import (
	"context"
	"time"

	"github.com/adahealth/munkipipe/pkg/core"
	"github.com/adahealth/munkipipe/pkg/errors"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// runCmd runs recipes and publishes their imports for review
var runCmd = &cobra.Command{
	Use:   "run [recipes...]",
	Short: "Runs AutoPkg recipes and submits new imports for review",
	Long: `Runs AutoPkg recipes one after the other, in the working tree of the Munki repository.

Recipes are taken from the command line, or from INPUT_RECIPES (autopkg.recipes),
or else all overrides found in the override directory are run.

The trunk branch is checked out first. Every new import is committed on its own branch,
named after the pkginfo name and version, with only the files of that import: its pkginfo,
its installer item and its icon. The branch is pushed, and a pull request is opened against
the trunk branch. Imports already merged, or already under review, are left untouched:
running the same recipes again is harmless.

A summary is posted to Slack when a webhook is configured.

The command fails only when every recipe failed.
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
			logger.Info("run done", zap.Duration("elapsed", time.Since(t0)), zap.Error(err))
		}(time.Now())

		names := args
		if len(names) == 0 {
			names = config.AutoPkg.Recipes
		}
		recipes, err := resolveRecipes(afero.NewOsFs(), optionInputs.overridesDir(), names)
		if err != nil {
			wrapFatalln("resolve recipes", err)
			return
		}
		if len(recipes) == 0 {
			infoLogger.Println("no recipe to run")
			return
		}

		opts := []core.RunOption{
			core.WithRunID(optionInputs.runID),
			core.WithRunParentRepos(config.AutoPkg.ParentRepos),
			core.WithRunLogger(logger),
			core.WithRunMetrics(optionInputs.metrics),
			core.WithRunRepoRoot(optionInputs.repoRoot()),
		}
		if !munkipipeFlags.run.noPublish {
			host, erh := optionInputs.reviewHost(ctx)
			if erh != nil {
				wrapFatalln("review host", erh)
				return
			}
			unlock, erl := optionInputs.lockWorkingTree()
			if erl != nil {
				wrapFatalln("lock working tree", erl)
				return
			}
			defer unlock()
			opts = append(opts, core.WithRunPublisher(core.NewPublisher(optionInputs.git(), host,
				core.WithPublishTrunk(config.Repo.Trunk),
				core.WithPublishLogger(logger),
				core.WithPublishMetrics(optionInputs.metrics),
			)))
		}
		if !munkipipeFlags.run.noNotify {
			opts = append(opts, core.WithRunNotifier(optionInputs.notifier()))
		}

		report, err := core.RunRecipes(ctx, optionInputs.autopkgClient(), recipes, opts...)
		printRunReport(cmd.OutOrStdout(), report)
		if err == nil {
			optionInputs.metrics.Succeeded("run")
		}
		optionInputs.pushMetrics(ctx, "run")

		if err != nil {
			if errors.Is(err, core.ErrAllRecipesFailed) {
				wrapFatalWithCodef(2, "%v", err)
				return
			}
			wrapFatalln("run recipes", err)
		}
	},
}

func init() {
	addOverridesDirFlag(runCmd)
	addNoPublishFlag(runCmd)
	addNoNotifyFlag(runCmd)
	rootCmd.AddCommand(runCmd)
}
