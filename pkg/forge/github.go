// Package forge requests reviews of change branches on the version control host (GitHub).
package forge

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/adahealth/munkipipe/pkg/errors"
	"github.com/google/go-github/v62/github"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

var (
	// ErrRepository is returned for a malformed "owner/name" repository
	ErrRepository = errors.New("invalid repository, expected owner/name")

	// ErrReview is returned when a review request could not be listed or created
	ErrReview = errors.New("review request failed")
)

// ReviewRequest describes a pull request to open
type ReviewRequest struct {
	Branch string
	Base   string
	Title  string
	Body   string
}

// Review is an open pull request
type Review struct {
	Number int
	URL    string
}

// Option for the GitHub client
type Option func(*GitHub)

// WithBaseURL points the client to another API endpoint (GitHub Enterprise, tests)
func WithBaseURL(base string) Option {
	return func(g *GitHub) {
		g.baseURL = base
	}
}

// WithLabels adds labels to every opened pull request
func WithLabels(labels ...string) Option {
	return func(g *GitHub) {
		g.labels = labels
	}
}

// WithReviewers requests reviews from these users on every opened pull request
func WithReviewers(reviewers ...string) Option {
	return func(g *GitHub) {
		g.reviewers = reviewers
	}
}

// WithHTTPClient sets the underlying HTTP client, before authentication is added
func WithHTTPClient(client *http.Client) Option {
	return func(g *GitHub) {
		g.httpClient = client
	}
}

// WithLogger sets the logger
func WithLogger(zlg *zap.Logger) Option {
	return func(g *GitHub) {
		if zlg != nil {
			g.l = zlg
		}
	}
}

// GitHub opens pull requests on a GitHub repository
type GitHub struct {
	client     *github.Client
	owner      string
	repo       string
	baseURL    string
	labels     []string
	reviewers  []string
	httpClient *http.Client
	l          *zap.Logger
}

// NewGitHub client for a repository given as "owner/name", authenticated with a token
func NewGitHub(ctx context.Context, repository, token string, opts ...Option) (*GitHub, error) {
	parts := strings.Split(repository, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return nil, ErrRepository.Wrapf("%q", repository)
	}
	g := &GitHub{
		owner: parts[0],
		repo:  parts[1],
		l:     zap.NewNop(),
	}
	for _, apply := range opts {
		apply(g)
	}

	if g.httpClient != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, g.httpClient)
	}
	var httpClient *http.Client
	if token != "" {
		httpClient = oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token}))
	} else {
		httpClient = g.httpClient
	}
	g.client = github.NewClient(httpClient)

	if g.baseURL != "" {
		base := g.baseURL
		if !strings.HasSuffix(base, "/") {
			base += "/"
		}
		u, err := url.Parse(base)
		if err != nil {
			return nil, err
		}
		g.client.BaseURL = u
	}
	return g, nil
}

// FindOpenReview returns the open pull request for a branch, or nil
func (g *GitHub) FindOpenReview(ctx context.Context, branch string) (*Review, error) {
	prs, _, err := g.client.PullRequests.List(ctx, g.owner, g.repo, &github.PullRequestListOptions{
		State: "open",
		Head:  g.owner + ":" + branch,
	})
	if err != nil {
		return nil, ErrReview.Wrap(err)
	}
	for _, pr := range prs {
		if pr.GetHead().GetRef() == branch {
			return &Review{Number: pr.GetNumber(), URL: pr.GetHTMLURL()}, nil
		}
	}
	return nil, nil
}

// OpenReview opens a pull request. Labels and reviewers are best-effort.
func (g *GitHub) OpenReview(ctx context.Context, req ReviewRequest) (Review, error) {
	pr, _, err := g.client.PullRequests.Create(ctx, g.owner, g.repo, &github.NewPullRequest{
		Title: github.String(req.Title),
		Head:  github.String(req.Branch),
		Base:  github.String(req.Base),
		Body:  github.String(req.Body),
	})
	if err != nil {
		return Review{}, ErrReview.Wrap(err)
	}
	review := Review{Number: pr.GetNumber(), URL: pr.GetHTMLURL()}
	logger := g.l.With(zap.String("branch", req.Branch), zap.Int("pull_request", review.Number))

	if len(g.labels) > 0 {
		if _, _, erl := g.client.Issues.AddLabelsToIssue(ctx, g.owner, g.repo, review.Number, g.labels); erl != nil {
			logger.Warn("could not label pull request", zap.Error(erl))
		}
	}
	if len(g.reviewers) > 0 {
		if _, _, err := g.client.PullRequests.RequestReviewers(ctx, g.owner, g.repo, review.Number, github.ReviewersRequest{Reviewers: g.reviewers}); err != nil {
			logger.Warn("could not request reviewers", zap.Error(err))
		}
	}
	return review, nil
}

func (g *GitHub) String() string {
	return "github.com/" + g.owner + "/" + g.repo
}
