package core

import (
	"context"

	"github.com/adahealth/munkipipe/pkg/errors"
	"github.com/adahealth/munkipipe/pkg/model"
	"go.uber.org/zap"
)

// ErrAllRecipesFailed is returned when no recipe of a run succeeded
var ErrAllRecipesFailed = errors.New("all recipes failed")

// RunRecipes runs recipes one after the other, publishes their imports and notifies about the outcome.
//
// Recipes share the working tree, so they never run concurrently. The failure of one recipe,
// or of the publication of one import, never prevents the others from running.
//
// An error is returned only when the run could not start, or when every recipe failed.
// All other failures are reported in the returned RunReport.
func RunRecipes(ctx context.Context, runner RecipeRunner, recipes []model.Recipe, opts ...RunOption) (model.RunReport, error) {
	options := defaultRunOptions(opts)
	report := model.RunReport{RunID: options.runID}
	logger := options.l.With(zap.String("run_id", options.runID))

	if err := runner.AddRepos(ctx, options.parentRepos); err != nil {
		return report, err
	}

	if options.publisher != nil {
		// change branches fork from trunk
		if err := options.publisher.EnsureTrunk(ctx); err != nil {
			return report, err
		}
		if err := options.publisher.repo.Fetch(ctx); err != nil {
			logger.Warn("could not fetch remote branches", zap.Error(err))
		}
	}

	for _, recipe := range recipes {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.Recipes++
		runRecipe(ctx, runner, recipe, &report, options, logger.With(zap.String("recipe", recipe.Name)))
	}

	logger.Info("recipe run complete",
		zap.Int("recipes", report.Recipes),
		zap.Int("imports", len(report.Imports)),
		zap.Int("published", len(report.Published)),
		zap.Int("skipped", len(report.Skipped)),
		zap.Int("failed_recipes", report.FailedRecipes),
		zap.Int("git_errors", len(report.GitErrors)),
	)

	if options.notifier != nil {
		options.notifier.NotifyRun(ctx, report)
	}

	if report.AllFailed() {
		return report, ErrAllRecipesFailed
	}
	return report, nil
}

func runRecipe(ctx context.Context, runner RecipeRunner, recipe model.Recipe, report *model.RunReport, options *runOptions, logger *zap.Logger) {
	defer func() {
		if options.publisher == nil {
			return
		}
		// the next recipe starts from a clean trunk
		if err := options.publisher.Reset(ctx); err != nil {
			logger.Warn("could not reset working tree", zap.Error(err))
		}
	}()

	result, err := runner.Run(ctx, recipe)
	if err != nil {
		logger.Error("recipe failed", zap.Error(err))
		report.Failures = append(report.Failures, model.Failure{Recipe: recipe.Name, Message: err.Error()})
		report.FailedRecipes++
		options.metrics.Recipes.WithLabelValues("failed").Inc()
		return
	}

	if len(result.Failures) > 0 {
		for _, failure := range result.Failures {
			logger.Error("recipe reported a failure", zap.String("message", failure.Message))
			if failure.Recipe == "" {
				failure.Recipe = recipe.Name
			}
			report.Failures = append(report.Failures, failure)
		}
		report.FailedRecipes++
		options.metrics.Recipes.WithLabelValues("failed").Inc()
	} else {
		options.metrics.Recipes.WithLabelValues("ok").Inc()
	}

	imports := result.Imports(recipe, options.repoRoot)
	report.Imports = append(report.Imports, imports...)
	options.metrics.Imports.Add(float64(len(imports)))
	if len(imports) == 0 {
		logger.Info("nothing new to import")
		return
	}
	if options.publisher == nil {
		for _, imp := range imports {
			logger.Info("new import not published", zap.Stringer("import", imp))
		}
		return
	}

	for _, imp := range imports {
		pub, erp := options.publisher.Publish(ctx, imp)
		if erp != nil {
			logger.Error("could not publish import", zap.Stringer("import", imp), zap.Error(erp))
			report.GitErrors = append(report.GitErrors, model.GitError{Branch: pub.Branch, Error: erp.Error()})
			continue
		}
		if pub.Status == model.Published {
			report.Published = append(report.Published, pub)
		} else {
			report.Skipped = append(report.Skipped, pub)
		}
	}
}
