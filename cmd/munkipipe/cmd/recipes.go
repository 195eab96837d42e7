package cmd

import (
	"path/filepath"
	"strings"

	"github.com/adahealth/munkipipe/pkg/autopkg"
	"github.com/adahealth/munkipipe/pkg/model"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
)

// recipesCmd represents the recipe related commands
var recipesCmd = &cobra.Command{
	Use:   "recipes",
	Short: "Commands to inspect AutoPkg recipes",
	Long: `Recipes are discovered from the override directory of the Munki repository
(autopkg/RecipeOverrides by default). Files ending in .recipe, .recipe.plist or .recipe.yaml are recognized.`,
}

var recipesListCmd = &cobra.Command{
	Use:     "list",
	Short:   "Lists the recipe overrides run by default",
	Aliases: []string{"ls"},
	Run: func(cmd *cobra.Command, args []string) {
		optionInputs := newCliOptionInputs(config, &munkipipeFlags)
		recipes, err := autopkg.Discover(afero.NewOsFs(), optionInputs.overridesDir())
		if err != nil {
			wrapFatalln("discover recipes", err)
			return
		}
		printRecipes(cmd.OutOrStdout(), recipes)
	},
}

// resolveRecipes returns the recipes to run: named ones when given, all discovered overrides otherwise.
//
// A named recipe matching a discovered override runs that override.
func resolveRecipes(fs afero.Fs, dir string, names []string) ([]model.Recipe, error) {
	discovered, err := autopkg.Discover(fs, dir)
	if err != nil && len(names) == 0 {
		return nil, err
	}
	if len(names) == 0 {
		return discovered, nil
	}
	byName := make(map[string]model.Recipe, 2*len(discovered))
	for _, recipe := range discovered {
		byName[strings.ToLower(recipe.Name)] = recipe
		byName[strings.ToLower(filepath.Base(recipe.Path))] = recipe
		if recipe.Identifier != "" {
			byName[strings.ToLower(recipe.Identifier)] = recipe
		}
	}
	recipes := make([]model.Recipe, 0, len(names))
	for _, name := range names {
		if recipe, ok := byName[strings.ToLower(name)]; ok {
			recipes = append(recipes, recipe)
			continue
		}
		recipes = append(recipes, model.RecipeFromName(name))
	}
	return recipes, nil
}

func init() {
	recipesCmd.AddCommand(recipesListCmd)
	addOverridesDirFlag(recipesListCmd)
	rootCmd.AddCommand(recipesCmd)
}
