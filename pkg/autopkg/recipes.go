package autopkg

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/adahealth/munkipipe/pkg/model"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v2"
	"howett.net/plist"
)

// override maps the keys of a recipe (override) we care about
type override struct {
	Identifier   string `plist:"Identifier" yaml:"Identifier"`
	ParentRecipe string `plist:"ParentRecipe" yaml:"ParentRecipe"`
}

// Discover walks a recipe override folder and returns all recipes found, sorted by name.
//
// Overrides that cannot be parsed are still returned, without identifier nor parent:
// running them will report the actual problem.
func Discover(fs afero.Fs, dir string) ([]model.Recipe, error) {
	var recipes []model.Recipe
	err := afero.Walk(fs, dir, func(pth string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || !model.IsRecipeFile(info.Name()) {
			return nil
		}
		recipe, _ := ReadRecipe(fs, pth)
		recipes = append(recipes, recipe)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(recipes, func(i, j int) bool { return recipes[i].Name < recipes[j].Name })
	return recipes, nil
}

// ReadRecipe reads a recipe file, either a property list or YAML
func ReadRecipe(fs afero.Fs, pth string) (model.Recipe, error) {
	recipe := model.Recipe{
		Name: recipeName(filepath.Base(pth)),
		Path: pth,
	}
	b, err := afero.ReadFile(fs, pth)
	if err != nil {
		return recipe, err
	}
	var doc override
	if strings.HasSuffix(pth, ".yaml") {
		err = yaml.Unmarshal(b, &doc)
	} else {
		_, err = plist.Unmarshal(b, &doc)
	}
	if err != nil {
		return recipe, err
	}
	recipe.Identifier = doc.Identifier
	recipe.ParentRecipe = doc.ParentRecipe
	return recipe, nil
}

func recipeName(base string) string {
	// longest extensions first
	for _, ext := range []string{".recipe.plist", ".recipe.yaml", ".recipe"} {
		if strings.HasSuffix(base, ext) {
			return strings.TrimSuffix(base, ext)
		}
	}
	return base
}
