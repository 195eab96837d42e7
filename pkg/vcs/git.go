// Package vcs drives git in the working tree of the Munki repository.
//
// The git command line is used rather than a library, since artifacts are stored
// with git LFS, which only the command line knows how to handle.
package vcs

import (
	"bufio"
	"bytes"
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/adahealth/munkipipe/pkg/errors"
	"github.com/adahealth/munkipipe/pkg/shell"
	"go.uber.org/zap"
)

var (
	// ErrGit wraps any failed git command
	ErrGit = errors.New("git error")

	// ErrBranch is returned when switching branches failed
	ErrBranch = errors.New("could not switch branch")

	// ErrPush is returned when a branch could not be pushed
	ErrPush = errors.New("could not push branch")
)

const (
	// DefaultRemote is the name of the remote branches are pushed to
	DefaultRemote = "origin"

	// DefaultBinary is the git executable looked up in PATH
	DefaultBinary = "git"
)

// Change is a file changed between two refs
type Change struct {
	Status string
	Path   string
}

// Option for git
type Option func(*Git)

// WithBinary sets the git executable
func WithBinary(binary string) Option {
	return func(g *Git) {
		if binary != "" {
			g.binary = binary
		}
	}
}

// WithRemote sets the remote to push to
func WithRemote(remote string) Option {
	return func(g *Git) {
		if remote != "" {
			g.remote = remote
		}
	}
}

// WithAuthor sets the identity used for commits
func WithAuthor(name, email string) Option {
	return func(g *Git) {
		if name != "" {
			g.env = append(g.env, "GIT_AUTHOR_NAME="+name, "GIT_COMMITTER_NAME="+name)
		}
		if email != "" {
			g.env = append(g.env, "GIT_AUTHOR_EMAIL="+email, "GIT_COMMITTER_EMAIL="+email)
		}
	}
}

// WithLogger sets the logger
func WithLogger(zlg *zap.Logger) Option {
	return func(g *Git) {
		if zlg != nil {
			g.l = zlg
		}
	}
}

// Git runs git commands in a repository
type Git struct {
	runner shell.Runner
	dir    string
	binary string
	remote string
	env    []string
	l      *zap.Logger
}

// New git driver for the repository checked out in dir
func New(runner shell.Runner, dir string, opts ...Option) *Git {
	g := &Git{
		runner: runner,
		dir:    dir,
		binary: DefaultBinary,
		remote: DefaultRemote,
		l:      zap.NewNop(),
	}
	for _, apply := range opts {
		apply(g)
	}
	return g
}

func (g *Git) run(ctx context.Context, args ...string) (shell.Result, error) {
	res, err := g.runner.Run(ctx, shell.Command{Dir: g.dir, Name: g.binary, Args: args, Env: g.env})
	if err != nil {
		return res, ErrGit.Wrap(err)
	}
	return res, nil
}

// succeeds runs a command for which a non-zero exit status means "no"
func (g *Git) succeeds(ctx context.Context, args ...string) (bool, error) {
	res, err := g.runner.Run(ctx, shell.Command{Dir: g.dir, Name: g.binary, Args: args, Env: g.env})
	if err != nil {
		if res.ExitCode > 0 {
			return false, nil
		}
		return false, ErrGit.Wrap(err)
	}
	return true, nil
}

// CurrentBranch returns the name of the checked out branch
func (g *Git) CurrentBranch(ctx context.Context) (string, error) {
	res, err := g.run(ctx, "symbolic-ref", "--short", "HEAD")
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(res.Stdout)), nil
}

// Checkout a branch, possibly creating it from the current HEAD
func (g *Git) Checkout(ctx context.Context, branch string, create bool) error {
	args := []string{"checkout"}
	if create {
		args = append(args, "-b")
	}
	args = append(args, branch)
	if _, err := g.run(ctx, args...); err != nil {
		return ErrBranch.Wrapf("%q: %v", branch, err)
	}
	return nil
}

// Fetch updates remote refs
func (g *Git) Fetch(ctx context.Context) error {
	_, err := g.run(ctx, "fetch", "--prune", g.remote)
	return err
}

// BranchExists tells if a branch exists locally or on the remote
func (g *Git) BranchExists(ctx context.Context, branch string) (bool, error) {
	local, err := g.succeeds(ctx, "rev-parse", "--verify", "--quiet", "refs/heads/"+branch)
	if err != nil || local {
		return local, err
	}
	return g.succeeds(ctx, "ls-remote", "--exit-code", "--heads", g.remote, branch)
}

// ExistsOn tells if a file exists in the tree of a ref
func (g *Git) ExistsOn(ctx context.Context, ref, path string) (bool, error) {
	return g.succeeds(ctx, "cat-file", "-e", ref+":"+path)
}

// HasChanges tells if the working tree has uncommitted changes, untracked files included.
// When paths are given, only changes to these paths are considered.
func (g *Git) HasChanges(ctx context.Context, paths ...string) (bool, error) {
	args := []string{"status", "--porcelain"}
	if len(paths) > 0 {
		args = append(append(args, "--"), paths...)
	}
	res, err := g.run(ctx, args...)
	if err != nil {
		return false, err
	}
	return len(bytes.TrimSpace(res.Stdout)) > 0, nil
}

// Add stages the changes to paths, deletions included
func (g *Git) Add(ctx context.Context, paths ...string) error {
	if len(paths) == 0 {
		return nil
	}
	_, err := g.run(ctx, append([]string{"add", "--all", "--"}, paths...)...)
	return err
}

// DeleteBranch removes a local branch, merged or not
func (g *Git) DeleteBranch(ctx context.Context, branch string) error {
	if _, err := g.run(ctx, "branch", "-D", branch); err != nil {
		return ErrBranch.Wrapf("delete %q: %v", branch, err)
	}
	return nil
}

// Commit staged changes
func (g *Git) Commit(ctx context.Context, message string) error {
	_, err := g.run(ctx, "commit", "-m", message)
	return err
}

// Push a branch to the remote and track it
func (g *Git) Push(ctx context.Context, branch string) error {
	if _, err := g.run(ctx, "push", "--set-upstream", g.remote, branch); err != nil {
		return ErrPush.Wrapf("%q: %v", branch, err)
	}
	return nil
}

// Discard all uncommitted changes, untracked files included
func (g *Git) Discard(ctx context.Context) error {
	if _, err := g.run(ctx, "reset", "--hard", "HEAD"); err != nil {
		return err
	}
	_, err := g.run(ctx, "clean", "-fd")
	return err
}

// LastChanged returns the time of the last commit touching a path, or a zero time
// when no commit does
func (g *Git) LastChanged(ctx context.Context, path string) (time.Time, error) {
	res, err := g.run(ctx, "log", "-1", "--format=%ct", "--", path)
	if err != nil {
		return time.Time{}, err
	}
	out := strings.TrimSpace(string(res.Stdout))
	if out == "" {
		return time.Time{}, nil
	}
	secs, err := strconv.ParseInt(out, 10, 64)
	if err != nil {
		return time.Time{}, ErrGit.Wrapf("unexpected commit time %q for %s", out, path)
	}
	return time.Unix(secs, 0), nil
}

// ChangedFiles lists files changed on head since it forked from base
func (g *Git) ChangedFiles(ctx context.Context, base, head string) ([]Change, error) {
	res, err := g.run(ctx, "diff", "--name-status", base+"..."+head)
	if err != nil {
		return nil, err
	}
	var changes []Change
	scanner := bufio.NewScanner(bytes.NewReader(res.Stdout))
	for scanner.Scan() {
		fields := strings.Split(scanner.Text(), "\t")
		if len(fields) < 2 {
			continue
		}
		changes = append(changes, Change{Status: fields[0], Path: fields[len(fields)-1]})
	}
	return changes, scanner.Err()
}
