package model

import (
	"path/filepath"
	"regexp"
	"strings"
)

// RecipeExtensions lists the file extensions recognized as recipes or recipe overrides
var RecipeExtensions = []string{".recipe", ".recipe.plist", ".recipe.yaml"}

var nonSlugRe = regexp.MustCompile(`[^a-z0-9._-]+`)

// Recipe identifies an AutoPkg recipe.
//
// When discovered from an override file, Path points to the file, Identifier and
// ParentRecipe are read from its content.
type Recipe struct {
	Name         string `json:"name" yaml:"name"`
	Identifier   string `json:"identifier,omitempty" yaml:"identifier,omitempty"`
	ParentRecipe string `json:"parent_recipe,omitempty" yaml:"parent_recipe,omitempty"`
	Path         string `json:"path,omitempty" yaml:"path,omitempty"`
}

// RecipeFromName builds a recipe from a plain identifier, as given on the command line
func RecipeFromName(name string) Recipe {
	return Recipe{Name: strings.TrimSpace(name)}
}

// Ref is the argument given to autopkg run
func (r Recipe) Ref() string {
	if r.Path != "" {
		return r.Path
	}
	return r.Name
}

// Slug is the base name for change branches, e.g. "GoogleChrome.munki.recipe" yields "googlechrome"
func (r Recipe) Slug() string {
	name := filepath.Base(r.Name)
	for _, ext := range RecipeExtensions {
		if strings.HasSuffix(name, ext) {
			name = strings.TrimSuffix(name, ext)
			break
		}
	}
	name = strings.ToLower(strings.ReplaceAll(name, " ", "-"))
	if idx := strings.Index(name, ".munki"); idx > 0 {
		name = name[:idx]
	}
	name = strings.Trim(nonSlugRe.ReplaceAllString(name, "-"), "-.")
	if name == "" {
		return "recipe"
	}
	return name
}

// IsRecipeFile tells if a file name looks like a recipe
func IsRecipeFile(name string) bool {
	for _, ext := range RecipeExtensions {
		if strings.HasSuffix(name, ext) {
			return true
		}
	}
	return false
}
