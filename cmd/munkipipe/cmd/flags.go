package cmd

import (
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

type flagsT struct {
	root struct {
		logLevel    string
		console     bool
		pushGateway string
	}
	run struct {
		noPublish bool
		noNotify  bool
	}
	recipes struct {
		overridesDir string
	}
	sync struct {
		dryRun      bool
		destination string
		parallel    int
		force       bool
	}
	sweep struct {
		dryRun    bool
		force     bool
		grace     time.Duration
		noPublish bool
		indexPath string
	}
	doc struct {
		docTarget string
		man       bool
	}
}

var munkipipeFlags = flagsT{}

func addLogLevelFlag(cmd *cobra.Command) {
	cmd.PersistentFlags().StringVar(&munkipipeFlags.root.logLevel, "loglevel", "", "The logging level: debug, info, warn or none (default: from config, info)")
	cmd.PersistentFlags().BoolVar(&munkipipeFlags.root.console, "console-log", true, "Logs as plain text rather than JSON")
}

func addMetricsFlags(cmd *cobra.Command) {
	cmd.PersistentFlags().StringVar(&munkipipeFlags.root.pushGateway, "pushgateway", "", "The URL of a prometheus Pushgateway receiving metrics when a command completes")
}

func addOverridesDirFlag(cmd *cobra.Command) {
	cmd.Flags().StringVar(&munkipipeFlags.recipes.overridesDir, "overrides", "", "The directory holding recipe overrides, relative to the repository (default: from config)")
}

func addNoPublishFlag(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&munkipipeFlags.run.noPublish, "no-publish", false, "Run recipes and report imports without pushing branches or requesting reviews")
}

func addNoNotifyFlag(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&munkipipeFlags.run.noNotify, "no-notify", false, "Do not post the run summary to Slack")
}

func addSyncFlags(fs *pflag.FlagSet) {
	fs.BoolVar(&munkipipeFlags.sync.dryRun, "dry-run", false, "Print the sync plan without applying it")
	fs.StringVar(&munkipipeFlags.sync.destination, "destination", "", "The destination: s3://bucket/prefix or a local directory (default: from config)")
	fs.IntVar(&munkipipeFlags.sync.parallel, "parallel", 0, "The number of concurrent transfers (default: from config)")
	fs.BoolVar(&munkipipeFlags.sync.force, "force", false, "Sync even when the working tree is not a checkout of the trunk branch")
}

func addSweepFlags(fs *pflag.FlagSet) {
	fs.BoolVar(&munkipipeFlags.sweep.dryRun, "dry-run", false, "List the artifacts that would be deleted, without deleting them")
	fs.BoolVar(&munkipipeFlags.sweep.force, "force", false, "Bypass the lock left by another sweep. Make sure no other sweep is running")
	fs.DurationVar(&munkipipeFlags.sweep.grace, "grace", 0, "Keep unreferenced artifacts younger than this (default: from config, 720h)")
	fs.BoolVar(&munkipipeFlags.sweep.noPublish, "no-publish", false, "Leave the deletions in the working tree, without pushing a branch or requesting a review")
	fs.StringVar(&munkipipeFlags.sweep.indexPath, "index-path", "", "Keep the index of referenced artifacts on disk at this path (default: in memory)")
}

func addTargetFlag(cmd *cobra.Command) {
	cmd.Flags().StringVar(&munkipipeFlags.doc.docTarget, "target-dir", ".", "The target directory for generated documentation")
	cmd.Flags().BoolVar(&munkipipeFlags.doc.man, "man", false, "Generates man pages instead of markdown")
}
