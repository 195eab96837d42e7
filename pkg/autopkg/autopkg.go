// Package autopkg drives the AutoPkg command line tool.
//
// Each recipe is run on its own, with its own report property list, so that the
// outcome of one recipe never leaks into another.
package autopkg

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/adahealth/munkipipe/pkg/errors"
	"github.com/adahealth/munkipipe/pkg/model"
	"github.com/adahealth/munkipipe/pkg/shell"
	"github.com/spf13/afero"
	"go.uber.org/zap"
)

// DefaultBinary is the default location of the autopkg executable
const DefaultBinary = "/usr/local/bin/autopkg"

var (
	// ErrNoReport is returned when autopkg did not produce a report for a recipe
	ErrNoReport = errors.New("autopkg did not produce a report")

	// ErrRepoAdd is returned when recipe repositories could not be added
	ErrRepoAdd = errors.New("could not add recipe repositories")
)

// Option for the autopkg client
type Option func(*Client)

// WithBinary sets the path to the autopkg executable
func WithBinary(binary string) Option {
	return func(c *Client) {
		if binary != "" {
			c.binary = binary
		}
	}
}

// WithReportDir sets the folder where report property lists are written
func WithReportDir(dir string) Option {
	return func(c *Client) {
		if dir != "" {
			c.reportDir = dir
		}
	}
}

// WithPrefs sets an alternate AutoPkg preferences file
func WithPrefs(prefs string) Option {
	return func(c *Client) {
		c.prefs = prefs
	}
}

// WithKeys passes input variables to every recipe run (e.g. MUNKI_REPO)
func WithKeys(keys map[string]string) Option {
	return func(c *Client) {
		c.keys = keys
	}
}

// WithFs sets the file system where reports are read
func WithFs(fs afero.Fs) Option {
	return func(c *Client) {
		if fs != nil {
			c.fs = fs
		}
	}
}

// WithLogger sets the logger
func WithLogger(zlg *zap.Logger) Option {
	return func(c *Client) {
		if zlg != nil {
			c.l = zlg
		}
	}
}

// Client runs autopkg commands
type Client struct {
	runner    shell.Runner
	fs        afero.Fs
	binary    string
	reportDir string
	prefs     string
	keys      map[string]string
	l         *zap.Logger
}

// New autopkg client
func New(runner shell.Runner, opts ...Option) *Client {
	c := &Client{
		runner:    runner,
		fs:        afero.NewOsFs(),
		binary:    DefaultBinary,
		reportDir: os.TempDir(),
		l:         zap.NewNop(),
	}
	for _, apply := range opts {
		apply(c)
	}
	return c
}

func (c *Client) globalArgs() []string {
	var args []string
	if c.prefs != "" {
		args = append(args, "--prefs", c.prefs)
	}
	return args
}

// AddRepos makes parent recipes available, with "autopkg repo-add"
func (c *Client) AddRepos(ctx context.Context, repos []string) error {
	if len(repos) == 0 {
		return nil
	}
	args := append([]string{"repo-add"}, repos...)
	args = append(args, c.globalArgs()...)
	c.l.Info("adding recipe repositories", zap.Strings("repos", repos))
	if _, err := c.runner.Run(ctx, shell.Command{Name: c.binary, Args: args}); err != nil {
		return ErrRepoAdd.Wrap(err)
	}
	return nil
}

// ReportPath is where the report for a recipe is written
func (c *Client) ReportPath(recipe model.Recipe) string {
	return filepath.Join(c.reportDir, recipe.Slug()+"-report.plist")
}

// Run a single recipe and return its report.
//
// AutoPkg exits with a non-zero status when a recipe fails, but still writes its report:
// in that case the report is returned and failures are found there. An error is returned
// only when no usable report is available.
func (c *Client) Run(ctx context.Context, recipe model.Recipe) (model.Report, error) {
	reportPath := c.ReportPath(recipe)
	// never pick up a report left over by a previous run
	if err := c.fs.Remove(reportPath); err != nil && !os.IsNotExist(err) {
		return model.Report{}, fmt.Errorf("removing stale report %q: %w", reportPath, err)
	}

	args := []string{"run", "-v", recipe.Ref(), "--report-plist", reportPath}
	args = append(args, c.keyArgs()...)
	args = append(args, c.globalArgs()...)

	logger := c.l.With(zap.String("recipe", recipe.Name))
	logger.Info("running recipe")
	_, erx := c.runner.Run(ctx, shell.Command{Name: c.binary, Args: args, Live: true})

	b, err := afero.ReadFile(c.fs, reportPath)
	if err != nil {
		if erx != nil {
			return model.Report{}, erx
		}
		return model.Report{}, ErrNoReport.Wrap(err)
	}
	report, err := model.DecodeReport(bytes.NewReader(b))
	if err != nil {
		if erx != nil {
			return model.Report{}, erx
		}
		return model.Report{}, err
	}
	if erx != nil {
		logger.Warn("autopkg exited with an error", zap.Error(erx), zap.Int("failures", len(report.Failures)))
		if len(report.Failures) == 0 {
			return model.Report{}, erx
		}
	}
	return report, nil
}

func (c *Client) keyArgs() []string {
	names := make([]string, 0, len(c.keys))
	for name := range c.keys {
		names = append(names, name)
	}
	sort.Strings(names)
	args := make([]string, 0, 2*len(names))
	for _, name := range names {
		args = append(args, "-k", name+"="+c.keys[name])
	}
	return args
}
