// Copyright © 2018 One Concern

package cmd

import (
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "munkipipe",
	Short: "munkipipe automates a git-backed Munki repository",
	Long: `munkipipe automates a Munki software repository kept in git and served from S3.

It runs AutoPkg recipes and submits every new import for review on its own branch,
posts a summary to Slack, mirrors the reviewed repository to the object store,
and sweeps installer artifacts no longer referenced by any manifest entry.

Typical CI schedule:
  * munkipipe run     on weekday mornings
  * munkipipe sync    on every merge to the trunk branch
  * munkipipe sweep   weekly
`,
	SilenceUsage: true,
}

var config *Config

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	log.SetFlags(0)
	cobra.OnInitialize(initConfig)
	addLogLevelFlag(rootCmd)
	addMetricsFlags(rootCmd)
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	setConfigDefaults(viper.GetViper())
	if os.Getenv("MUNKIPIPE_CONFIG") != "" {
		viper.SetConfigFile(os.Getenv("MUNKIPIPE_CONFIG"))
	} else {
		viper.AddConfigPath(".")
		viper.AddConfigPath("$HOME/.munkipipe")
		viper.AddConfigPath("/etc/munkipipe")
		viper.SetConfigName("munkipipe")
	}
	bindConfigEnv(viper.GetViper())

	// If a config file is found, read it in.
	if err := viper.ReadInConfig(); err == nil {
		log.Println("Using config file:", viper.ConfigFileUsed())
	} else if os.Getenv("MUNKIPIPE_CONFIG") != "" {
		wrapFatalln("read config file", err)
		return
	}
	var err error
	config, err = newConfig(viper.GetViper())
	if err != nil {
		wrapFatalln("invalid configuration", err)
		return
	}
	config.setFlagDefaults(&munkipipeFlags)
}
