package cmd

import (
	"fmt"
	"io"

	"github.com/adahealth/munkipipe/pkg/core"
	"github.com/adahealth/munkipipe/pkg/model"
	"github.com/adahealth/munkipipe/pkg/storage"
	"github.com/docker/go-units"
	"github.com/fatih/color"
	"github.com/gosuri/uitable"
)

const maxColWidth = 100

func humanSize(size int64) string {
	return units.HumanSize(float64(size))
}

func printRecipes(w io.Writer, recipes []model.Recipe) {
	table := uitable.New()
	table.MaxColWidth = maxColWidth
	table.AddRow("NAME", "IDENTIFIER", "PARENT", "SLUG")
	for _, recipe := range recipes {
		table.AddRow(recipe.Name, recipe.Identifier, color.HiBlackString(recipe.ParentRecipe), recipe.Slug())
	}
	fmt.Fprintln(w, table)
}

func printRunReport(w io.Writer, report model.RunReport) {
	fmt.Fprintf(w, "Run %s: %d recipe(s), %d failed, %d new import(s)\n",
		report.RunID, report.Recipes, report.FailedRecipes, len(report.Imports))

	if len(report.Published) > 0 || len(report.Skipped) > 0 {
		table := uitable.New()
		table.MaxColWidth = maxColWidth
		table.AddRow("IMPORT", "BRANCH", "STATUS", "REVIEW")
		for _, pub := range report.Published {
			table.AddRow(pub.Import.String(), pub.Branch, color.GreenString(string(pub.Status)), pub.ReviewURL)
		}
		for _, pub := range report.Skipped {
			table.AddRow(pub.Import.String(), pub.Branch, color.HiBlackString(string(pub.Status)), pub.ReviewURL)
		}
		fmt.Fprintln(w, table)
	} else {
		for _, imp := range report.Imports {
			fmt.Fprintf(w, "  new: %s (%s)\n", color.GreenString(imp.String()), imp.Recipe.Name)
		}
	}

	for _, failure := range report.Failures {
		fmt.Fprintf(w, "%s %s: %s\n", color.YellowString("failed:"), failure.Recipe, failure.Message)
	}
	for _, gitErr := range report.GitErrors {
		fmt.Fprintf(w, "%s %s: %s\n", color.RedString("git error:"), gitErr.Branch, gitErr.Error)
	}
}

func printPublication(w io.Writer, pub model.Publication) {
	switch pub.Status {
	case model.Published:
		fmt.Fprintf(w, "Review requested on branch %s: %s\n", pub.Branch, pub.ReviewURL)
	case model.UnderReview:
		fmt.Fprintf(w, "Branch %s is already under review: %s\n", pub.Branch, pub.ReviewURL)
	default:
		fmt.Fprintf(w, "Nothing to publish (%s)\n", color.HiBlackString(string(pub.Status)))
	}
}

func printSyncPlan(w io.Writer, plan core.SyncPlan) {
	if plan.Empty() {
		fmt.Fprintln(w, "Destination is up to date")
		return
	}
	table := uitable.New()
	table.MaxColWidth = maxColWidth
	table.AddRow("OP", "KEY", "SIZE")
	add := func(op string, attrs []storage.Attributes) {
		for _, a := range attrs {
			table.AddRow(op, a.Key, humanSize(a.Size))
		}
	}
	add(color.GreenString(string(core.SyncAdd)), plan.Add)
	add(color.YellowString(string(core.SyncUpdate)), plan.Update)
	add(color.RedString(string(core.SyncDelete)), plan.Delete)
	fmt.Fprintln(w, table)
	fmt.Fprintf(w, "%d add, %d update, %d delete, %s to upload\n",
		len(plan.Add), len(plan.Update), len(plan.Delete), humanSize(plan.Bytes()))
}

func printSyncDescriptor(w io.Writer, dst storage.Store, desc core.SyncDescriptor) {
	fmt.Fprintf(w,
		"Destination: %v\n"+
			"Uploaded: %d (%s)\n"+
			"Deleted: %d\n"+
			"Failed: %d\n",
		dst,
		desc.Uploaded, humanSize(desc.UploadedBytes),
		desc.Deleted,
		desc.Failed,
	)
	if desc.Invalidation != "" {
		fmt.Fprintf(w, "CloudFront invalidation: %s\n", desc.Invalidation)
	}
}

func printSweepDescriptor(w io.Writer, store storage.Store, desc core.SweepDescriptor) {
	if len(desc.Candidates) > 0 {
		table := uitable.New()
		table.MaxColWidth = maxColWidth
		table.AddRow("ARTIFACT", "SIZE", "UPDATED")
		for _, a := range desc.Candidates {
			table.AddRow(a.Key, humanSize(a.Size), units.HumanDuration(desc.Now.Sub(a.Updated))+" ago")
		}
		fmt.Fprintln(w, table)
	}
	fmt.Fprintf(w,
		"unreferenced artifacts removed (none is actually removed if this is a dry-run).\n"+
			"Store: %v\n"+
			"Num manifest entries scanned: %d\n"+
			"Num artifacts referenced: %d\n"+
			"Num artifacts found: %d\n"+
			"Num artifacts within grace period: %d\n"+
			"Num artifacts deleted: %d\n"+
			"Num bytes relinquished: %s\n"+
			"Num failed deletions: %d\n"+
			"Dry-run: %t\n",
		store,
		desc.Scanned,
		desc.Referenced,
		desc.Artifacts,
		desc.TooRecent,
		desc.Deleted,
		humanSize(desc.DeletedBytes),
		desc.Failed,
		desc.DryRun,
	)
}
