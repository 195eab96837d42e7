package model

import (
	"fmt"
	"io"
	"strings"

	"howett.net/plist"
)

// MunkiImporterSummary is the key of the munki importer results in an AutoPkg report
const MunkiImporterSummary = "munki_importer_summary_result"

// Report is the content of the property list written by "autopkg run --report-plist"
type Report struct {
	Failures       []Failure                `plist:"failures"`
	SummaryResults map[string]SummaryResult `plist:"summary_results"`
}

// SummaryResult is the summary of one AutoPkg processor across the run
type SummaryResult struct {
	SummaryText string      `plist:"summary_text"`
	Header      []string    `plist:"header"`
	DataRows    []ImportRow `plist:"data_rows"`
}

// ImportRow is one item imported by the MunkiImporter processor
type ImportRow struct {
	Name         string `plist:"name"`
	Version      string `plist:"version"`
	Catalogs     string `plist:"catalogs"`
	PkgInfoPath  string `plist:"pkginfo_path"`
	PkgRepoPath  string `plist:"pkg_repo_path"`
	IconRepoPath string `plist:"icon_repo_path"`
}

// Failure of a recipe
type Failure struct {
	Recipe    string `plist:"recipe" json:"recipe"`
	Message   string `plist:"message" json:"message"`
	Traceback string `plist:"traceback" json:"traceback,omitempty"`
}

// DecodeReport parses an AutoPkg report property list
func DecodeReport(r io.Reader) (Report, error) {
	var report Report
	b, err := io.ReadAll(r)
	if err != nil {
		return report, err
	}
	if _, err = plist.Unmarshal(b, &report); err != nil {
		return report, fmt.Errorf("invalid autopkg report: %w", err)
	}
	return report, nil
}

// Imports lists the items imported into Munki by a recipe run.
//
// AutoPkg reports paths relative to pkgsinfo/, pkgs/ and icons/, or absolute. Absolute paths
// are resolved against root, the directory of the Munki repository.
func (r Report) Imports(recipe Recipe, root string) []Import {
	summary, ok := r.SummaryResults[MunkiImporterSummary]
	if !ok {
		return nil
	}
	imports := make([]Import, 0, len(summary.DataRows))
	for _, row := range summary.DataRows {
		imp := Import{
			Recipe:  recipe,
			Name:    row.Name,
			Version: row.Version,
		}
		for _, catalog := range strings.Split(row.Catalogs, ",") {
			if catalog = strings.TrimSpace(catalog); catalog != "" {
				imp.Catalogs = append(imp.Catalogs, catalog)
			}
		}
		imp.PkgInfoPath, _ = ReportedPath(root, PkgsInfoDir, row.PkgInfoPath)
		imp.PkgPath, _ = ReportedPath(root, PkgsDir, row.PkgRepoPath)
		imp.IconPath, _ = ReportedPath(root, IconsDir, row.IconRepoPath)
		imports = append(imports, imp)
	}
	return imports
}

// Import is a new manifest entry and artifact produced by a recipe run
type Import struct {
	Recipe      Recipe   `json:"recipe"`
	Name        string   `json:"name"`
	Version     string   `json:"version"`
	Catalogs    []string `json:"catalogs,omitempty"`
	PkgInfoPath string   `json:"pkginfo_path,omitempty"`
	PkgPath     string   `json:"pkg_path,omitempty"`
	IconPath    string   `json:"icon_path,omitempty"`
}

// Paths lists the repository files added by this import
func (i Import) Paths() []string {
	paths := make([]string, 0, 3)
	for _, pth := range []string{i.PkgInfoPath, i.PkgPath, i.IconPath} {
		if pth != "" {
			paths = append(paths, pth)
		}
	}
	return paths
}

// Branch is the name of the change branch for this import.
//
// It is made of the pkginfo name and version, so that several items imported by one recipe
// each get their own branch. Imports without a name fall back to the recipe slug.
func (i Import) Branch() string {
	base := strings.Trim(nonSlugRe.ReplaceAllString(strings.ToLower(strings.ReplaceAll(i.Name, " ", "-")), "-"), "-.")
	if base == "" {
		base = i.Recipe.Slug()
	}
	version := strings.Trim(nonSlugRe.ReplaceAllString(strings.ToLower(i.Version), "-"), "-")
	if version == "" {
		return base
	}
	return base + "-" + version
}

// Title describes the change, used for commit messages and review requests
func (i Import) Title() string {
	return fmt.Sprintf("Update %s to version %s", i.Name, i.Version)
}

func (i Import) String() string {
	return i.Name + "@" + i.Version
}
