package cmd

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/adahealth/munkipipe/pkg/autopkg"
	"github.com/adahealth/munkipipe/pkg/cdn"
	"github.com/adahealth/munkipipe/pkg/dlogger"
	"github.com/adahealth/munkipipe/pkg/forge"
	"github.com/adahealth/munkipipe/pkg/metrics"
	"github.com/adahealth/munkipipe/pkg/notify"
	"github.com/adahealth/munkipipe/pkg/shell"
	"github.com/adahealth/munkipipe/pkg/storage"
	"github.com/adahealth/munkipipe/pkg/storage/localfs"
	"github.com/adahealth/munkipipe/pkg/storage/sthree"
	"github.com/adahealth/munkipipe/pkg/vcs"
	"github.com/aws/aws-sdk-go/aws"
	"github.com/google/uuid"
	"github.com/nightlyone/lockfile"
	"github.com/spf13/afero"
	"go.uber.org/zap"
)

const munkiRepoKey = "MUNKI_REPO"

// cliOptionInputs builds the components used by commands, from the config and the flags
type cliOptionInputs struct {
	config  *Config
	flags   *flagsT
	runID   string
	logger  *zap.Logger
	metrics *metrics.Metrics
}

func newCliOptionInputs(config *Config, flags *flagsT) *cliOptionInputs {
	return &cliOptionInputs{
		config:  config,
		flags:   flags,
		runID:   uuid.NewString(),
		metrics: metrics.New(metrics.DefaultNamespace),
	}
}

func (in *cliOptionInputs) getLogger() (*zap.Logger, error) {
	if in.logger != nil {
		return in.logger, nil
	}
	level := in.flags.root.logLevel
	if level == "" {
		level = dlogger.LogLevelInfo
	}
	l, err := dlogger.GetLogger(level, in.flags.root.console)
	if err != nil {
		return nil, err
	}
	in.logger = l.With(zap.String("run_id", in.runID))
	return in.logger, nil
}

func (in *cliOptionInputs) repoPath() string {
	return in.config.Repo.Path
}

// repoRoot is the absolute path of the working tree, which AutoPkg reports imported files under
func (in *cliOptionInputs) repoRoot() string {
	root, err := filepath.Abs(in.repoPath())
	if err != nil {
		return in.repoPath()
	}
	return root
}

// workingTree is the store over the checked out Munki repository
func (in *cliOptionInputs) workingTree() storage.Store {
	return localfs.NewAt(in.repoPath(), localfs.WithIgnoredDirs(".git"))
}

// lockWorkingTree keeps other munkipipe commands out of the working tree until the returned func is called
func (in *cliOptionInputs) lockWorkingTree() (func(), error) {
	pth := filepath.Join(in.repoRoot(), ".git", "munkipipe.lock")
	lock, err := lockfile.New(pth)
	if err != nil {
		return nil, err
	}
	if err = lock.TryLock(); err != nil {
		return nil, fmt.Errorf("working tree %s is in use by another munkipipe command: %w", in.repoRoot(), err)
	}
	return func() {
		if eru := lock.Unlock(); eru != nil {
			in.logger.Warn("could not release working tree lock", zap.String("lock", pth), zap.Error(eru))
		}
	}, nil
}

// destination is the store the repository is mirrored to
func (in *cliOptionInputs) destination() (storage.Store, error) {
	dest := in.flags.sync.destination
	if dest == "" {
		dest = in.config.Sync.Destination
	}
	if dest == "" {
		return nil, fmt.Errorf("no sync destination configured: set sync.destination or use --destination")
	}
	if !strings.HasPrefix(dest, "s3://") {
		if err := os.MkdirAll(dest, 0755); err != nil {
			return nil, err
		}
		return localfs.NewAt(dest), nil
	}
	u, err := url.Parse(dest)
	if err != nil {
		return nil, fmt.Errorf("invalid sync destination %q: %w", dest, err)
	}
	cfg := aws.NewConfig()
	if in.config.Sync.Region != "" {
		cfg = cfg.WithRegion(in.config.Sync.Region)
	}
	return sthree.New(sthree.Bucket(u.Host), sthree.Prefix(u.Path), sthree.AWSConfig(cfg))
}

func (in *cliOptionInputs) runner() shell.Runner {
	return shell.New(shell.WithLogger(in.logger))
}

func (in *cliOptionInputs) overridesDir() string {
	dir := in.flags.recipes.overridesDir
	if dir == "" {
		dir = in.config.AutoPkg.OverridesDir
	}
	if filepath.IsAbs(dir) {
		return dir
	}
	return filepath.Join(in.repoPath(), dir)
}

// autopkgKeys are the configured recipe input variables. MUNKI_REPO defaults to the working tree.
func (in *cliOptionInputs) autopkgKeys() map[string]string {
	keys := make(map[string]string, len(in.config.AutoPkg.Keys)+1)
	hasRepo := false
	for k, v := range in.config.AutoPkg.Keys {
		keys[k] = v
		hasRepo = hasRepo || strings.EqualFold(k, munkiRepoKey)
	}
	if !hasRepo {
		keys[munkiRepoKey] = in.repoRoot()
	}
	return keys
}

func (in *cliOptionInputs) autopkgClient() *autopkg.Client {
	return autopkg.New(in.runner(),
		autopkg.WithBinary(in.config.AutoPkg.Binary),
		autopkg.WithReportDir(in.config.AutoPkg.ReportDir),
		autopkg.WithPrefs(in.config.AutoPkg.Prefs),
		autopkg.WithKeys(in.autopkgKeys()),
		autopkg.WithFs(afero.NewOsFs()),
		autopkg.WithLogger(in.logger),
	)
}

func (in *cliOptionInputs) git() *vcs.Git {
	opts := []vcs.Option{
		vcs.WithBinary(in.config.Repo.GitBinary),
		vcs.WithRemote(in.config.Repo.Remote),
		vcs.WithLogger(in.logger),
	}
	if in.config.Repo.AuthorName != "" {
		opts = append(opts, vcs.WithAuthor(in.config.Repo.AuthorName, in.config.Repo.AuthorEmail))
	}
	return vcs.New(in.runner(), in.repoPath(), opts...)
}

func (in *cliOptionInputs) reviewHost(ctx context.Context) (*forge.GitHub, error) {
	if in.config.GitHub.Token == "" {
		return nil, fmt.Errorf("no GitHub token: set GITHUB_TOKEN or github.token")
	}
	opts := []forge.Option{
		forge.WithLabels(in.config.GitHub.Labels...),
		forge.WithReviewers(in.config.GitHub.Reviewers...),
		forge.WithLogger(in.logger),
	}
	if in.config.GitHub.APIURL != "" {
		opts = append(opts, forge.WithBaseURL(in.config.GitHub.APIURL))
	}
	return forge.NewGitHub(ctx, in.config.GitHub.Repository, in.config.GitHub.Token, opts...)
}

func (in *cliOptionInputs) notifier() *notify.Notifier {
	return notify.New(in.config.Slack.Webhook, notify.WithLogger(in.logger))
}

func (in *cliOptionInputs) invalidator() (cdn.Invalidator, error) {
	if in.config.Sync.Distribution == "" {
		return nil, nil
	}
	cfg := aws.NewConfig()
	if in.config.Sync.Region != "" {
		cfg = cfg.WithRegion(in.config.Sync.Region)
	}
	cf, err := cdn.NewCloudFront(in.config.Sync.Distribution,
		cdn.WithAWSConfig(cfg),
		cdn.WithPathPrefix(in.config.Sync.CDNPathPrefix),
		cdn.WithLogger(in.logger),
	)
	if err != nil {
		return nil, err
	}
	return cf, nil
}

// pushMetrics sends the metrics of a command to the Pushgateway, when configured
func (in *cliOptionInputs) pushMetrics(ctx context.Context, command string) {
	gateway := in.flags.root.pushGateway
	if gateway == "" {
		return
	}
	opts := []metrics.PushOption{}
	if in.config.Metrics.Instance != "" {
		opts = append(opts, metrics.WithGrouping("instance", in.config.Metrics.Instance))
	}
	if err := in.metrics.Push(ctx, gateway, "munkipipe_"+command, opts...); err != nil {
		in.logger.Warn("could not push metrics", zap.String("gateway", gateway), zap.Error(err))
	}
}
