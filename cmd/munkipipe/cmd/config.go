package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/adahealth/munkipipe/pkg/autopkg"
	"github.com/adahealth/munkipipe/pkg/core"
	"github.com/adahealth/munkipipe/pkg/dlogger"
	"github.com/adahealth/munkipipe/pkg/vcs"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v2"
)

const redacted = "********"

// Config describes the munkipipe configuration.
type Config struct {
	LogLevel string        `mapstructure:"log_level" yaml:"log_level"`
	Repo     RepoConfig    `mapstructure:"repo" yaml:"repo"`
	AutoPkg  AutoPkgConfig `mapstructure:"autopkg" yaml:"autopkg"`
	GitHub   GitHubConfig  `mapstructure:"github" yaml:"github"`
	Slack    SlackConfig   `mapstructure:"slack" yaml:"slack"`
	Sync     SyncConfig    `mapstructure:"sync" yaml:"sync"`
	Sweep    SweepConfig   `mapstructure:"sweep" yaml:"sweep"`
	Metrics  MetricsConfig `mapstructure:"metrics" yaml:"metrics"`
}

// RepoConfig locates the git working tree of the Munki repository
type RepoConfig struct {
	Path        string `mapstructure:"path" yaml:"path"`
	Trunk       string `mapstructure:"trunk" yaml:"trunk"`
	Remote      string `mapstructure:"remote" yaml:"remote"`
	GitBinary   string `mapstructure:"git_binary" yaml:"git_binary"`
	AuthorName  string `mapstructure:"author_name" yaml:"author_name,omitempty"`
	AuthorEmail string `mapstructure:"author_email" yaml:"author_email,omitempty"`
}

// AutoPkgConfig drives the recipe runs
type AutoPkgConfig struct {
	Binary       string            `mapstructure:"binary" yaml:"binary"`
	OverridesDir string            `mapstructure:"overrides_dir" yaml:"overrides_dir"`
	ReportDir    string            `mapstructure:"report_dir" yaml:"report_dir"`
	Prefs        string            `mapstructure:"prefs" yaml:"prefs,omitempty"`
	ParentRepos  []string          `mapstructure:"parent_repos" yaml:"parent_repos,omitempty"`
	Recipes      []string          `mapstructure:"recipes" yaml:"recipes,omitempty"`
	Keys         map[string]string `mapstructure:"keys" yaml:"keys,omitempty"`
}

// GitHubConfig is where review requests are opened
type GitHubConfig struct {
	Repository string   `mapstructure:"repository" yaml:"repository"`
	Token      string   `mapstructure:"token" yaml:"token,omitempty"`
	APIURL     string   `mapstructure:"api_url" yaml:"api_url,omitempty"`
	Labels     []string `mapstructure:"labels" yaml:"labels,omitempty"`
	Reviewers  []string `mapstructure:"reviewers" yaml:"reviewers,omitempty"`
}

// SlackConfig is where run summaries are posted
type SlackConfig struct {
	Webhook string `mapstructure:"webhook" yaml:"webhook,omitempty"`
}

// SyncConfig describes the mirror of the repository in the object store
type SyncConfig struct {
	Destination    string        `mapstructure:"destination" yaml:"destination"`
	Region         string        `mapstructure:"region" yaml:"region,omitempty"`
	Excludes       []string      `mapstructure:"excludes" yaml:"excludes,omitempty"`
	Parallel       int           `mapstructure:"parallel" yaml:"parallel"`
	Distribution   string        `mapstructure:"cloudfront_distribution" yaml:"cloudfront_distribution,omitempty"`
	CDNPathPrefix  string        `mapstructure:"cloudfront_path_prefix" yaml:"cloudfront_path_prefix,omitempty"`
	AlertOnFailure bool          `mapstructure:"alert_on_failure" yaml:"alert_on_failure"`
	Timeout        time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// SweepConfig tunes the retention sweep
type SweepConfig struct {
	Grace     time.Duration `mapstructure:"grace" yaml:"grace"`
	IndexPath string        `mapstructure:"index_path" yaml:"index_path,omitempty"`
}

// MetricsConfig tells where to push metrics
type MetricsConfig struct {
	PushGateway string `mapstructure:"pushgateway" yaml:"pushgateway,omitempty"`
	Instance    string `mapstructure:"instance" yaml:"instance,omitempty"`
}

func defaultRepoPath() string {
	if ws := os.Getenv("GITHUB_WORKSPACE"); ws != "" {
		return filepath.Join(ws, "munki_repo")
	}
	return "."
}

func setConfigDefaults(v *viper.Viper) {
	v.SetDefault("log_level", dlogger.LogLevelInfo)
	v.SetDefault("repo.path", defaultRepoPath())
	v.SetDefault("repo.trunk", core.DefaultTrunk)
	v.SetDefault("repo.remote", vcs.DefaultRemote)
	v.SetDefault("repo.git_binary", vcs.DefaultBinary)
	v.SetDefault("repo.author_name", "")
	v.SetDefault("repo.author_email", "")
	v.SetDefault("autopkg.binary", autopkg.DefaultBinary)
	v.SetDefault("autopkg.overrides_dir", "autopkg/RecipeOverrides")
	v.SetDefault("autopkg.report_dir", os.TempDir())
	v.SetDefault("autopkg.prefs", "")
	v.SetDefault("autopkg.parent_repos", []string{})
	v.SetDefault("autopkg.recipes", []string{})
	v.SetDefault("github.repository", "")
	v.SetDefault("github.token", "")
	v.SetDefault("github.api_url", "")
	v.SetDefault("github.labels", []string{})
	v.SetDefault("github.reviewers", []string{})
	v.SetDefault("slack.webhook", "")
	v.SetDefault("sync.destination", "")
	v.SetDefault("sync.region", "")
	v.SetDefault("sync.excludes", []string{})
	v.SetDefault("sync.parallel", core.DefaultSyncParallel)
	v.SetDefault("sync.cloudfront_distribution", "")
	v.SetDefault("sync.cloudfront_path_prefix", "")
	v.SetDefault("sync.alert_on_failure", false)
	v.SetDefault("sync.timeout", time.Hour)
	v.SetDefault("sweep.grace", core.DefaultSweepGrace)
	v.SetDefault("sweep.index_path", "")
	v.SetDefault("metrics.pushgateway", "")
	v.SetDefault("metrics.instance", "")
}

// bindConfigEnv maps MUNKIPIPE_* variables to config keys, as well as the
// variables set by the GitHub Actions runner.
func bindConfigEnv(v *viper.Viper) {
	v.SetEnvPrefix("MUNKIPIPE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("slack.webhook", "MUNKIPIPE_SLACK_WEBHOOK", "SLACK_WEBHOOK")
	_ = v.BindEnv("github.token", "MUNKIPIPE_GITHUB_TOKEN", "GITHUB_TOKEN")
	_ = v.BindEnv("github.repository", "MUNKIPIPE_GITHUB_REPOSITORY", "GITHUB_REPOSITORY")
	_ = v.BindEnv("autopkg.recipes", "MUNKIPIPE_AUTOPKG_RECIPES", "INPUT_RECIPES")
}

func newConfig(v *viper.Viper) (*Config, error) {
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, err
	}
	c.AutoPkg.Recipes = splitList(c.AutoPkg.Recipes)
	c.AutoPkg.ParentRepos = splitList(c.AutoPkg.ParentRepos)
	if c.Sync.Parallel <= 0 {
		return nil, fmt.Errorf("sync.parallel must be positive, got %d", c.Sync.Parallel)
	}
	if c.Sweep.Grace < 0 {
		return nil, fmt.Errorf("sweep.grace must not be negative, got %v", c.Sweep.Grace)
	}
	return &c, nil
}

// splitList accepts lists given as YAML sequences, or as a single string of comma or blank separated values
func splitList(values []string) []string {
	var res []string
	for _, value := range values {
		res = append(res, strings.FieldsFunc(value, func(r rune) bool {
			return r == ',' || r == ' ' || r == '\t' || r == '\n'
		})...)
	}
	return res
}

// setFlagDefaults fills flags left unset on the command line from the config
func (c *Config) setFlagDefaults(flags *flagsT) {
	if flags.root.logLevel == "" {
		flags.root.logLevel = c.LogLevel
	}
	if flags.root.pushGateway == "" {
		flags.root.pushGateway = c.Metrics.PushGateway
	}
}

// Redacted returns a copy of the config without secrets
func (c Config) Redacted() Config {
	if c.GitHub.Token != "" {
		c.GitHub.Token = redacted
	}
	if c.Slack.Webhook != "" {
		c.Slack.Webhook = redacted
	}
	return c
}

// configCmd represents the config related commands
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Commands to inspect the munkipipe configuration",
	Long: `The configuration is read from munkipipe.yaml, looked up in the current directory,
$HOME/.munkipipe and /etc/munkipipe, or from the file set by MUNKIPIPE_CONFIG.

Every setting may be overridden by an environment variable: MUNKIPIPE_ followed by
the upper-cased key, with dots replaced by underscores (e.g. MUNKIPIPE_SYNC_DESTINATION).

The variables set by the GitHub Actions runner are honored as well:
SLACK_WEBHOOK, GITHUB_TOKEN, GITHUB_REPOSITORY, GITHUB_WORKSPACE and INPUT_RECIPES.`,
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Displays the effective configuration",
	Long:  "Displays the effective configuration as YAML. Secrets are redacted.",
	Run: func(cmd *cobra.Command, args []string) {
		b, err := yaml.Marshal(config.Redacted())
		if err != nil {
			wrapFatalln("render config", err)
			return
		}
		_, _ = cmd.OutOrStdout().Write(b)
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	rootCmd.AddCommand(configCmd)
}
