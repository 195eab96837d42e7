package model

// PublishStatus tells what the publisher did with an import
type PublishStatus string

// Publication outcomes
const (
	// Published: a change branch was pushed and a review requested
	Published PublishStatus = "published"
	// AlreadyOnTrunk: the manifest entry is already merged, nothing to do
	AlreadyOnTrunk PublishStatus = "already-on-trunk"
	// UnderReview: the change branch and its review request exist already
	UnderReview PublishStatus = "under-review"
	// NoChanges: the working tree holds nothing left to commit for this import,
	// typically because another import of the same recipe run carried its files
	NoChanges PublishStatus = "no-changes"
)

// Publication of an import for review
type Publication struct {
	Import    Import        `json:"import"`
	Branch    string        `json:"branch,omitempty"`
	ReviewURL string        `json:"review_url,omitempty"`
	Status    PublishStatus `json:"status"`
}

// GitError records an import that could not be pushed or submitted for review
type GitError struct {
	Branch string `json:"branch"`
	Error  string `json:"error"`
}

// RunReport summarizes a recipe run
type RunReport struct {
	RunID     string        `json:"run_id"`
	Recipes   int           `json:"recipes"`
	Imports   []Import      `json:"imports,omitempty"`
	Published []Publication `json:"published,omitempty"`
	Skipped   []Publication `json:"skipped,omitempty"`
	Failures  []Failure     `json:"failures,omitempty"`
	GitErrors []GitError    `json:"git_errors,omitempty"`
	// FailedRecipes counts recipes with at least one failure
	FailedRecipes int `json:"failed_recipes"`
}

// AllFailed tells if every attempted recipe failed
func (r RunReport) AllFailed() bool {
	return r.Recipes > 0 && r.FailedRecipes == r.Recipes
}
