package cmd

import (
	"fmt"
	"os"
	"path"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/cobra/doc"
)

func versionHeader(_ string) string {
	return fmt.Sprintf("**munkipipe %s**\n\n", NewVersionInfo().Version)
}

// markdownLink keeps cross-references relative, so the generated pages can live in any folder
func markdownLink(name string) string {
	return "./" + strings.ToLower(path.Base(name))
}

// docCmd generates the usage documentation of all commands
var docCmd = &cobra.Command{
	Use:   "usage",
	Short: "Generates the usage documentation",
	Long: `Generates the usage documentation of munkipipe, as one markdown file per command,
or as man pages with "--man".`,
	Run: func(cmd *cobra.Command, args []string) {
		target := munkipipeFlags.doc.docTarget
		if err := os.MkdirAll(target, 0755); err != nil {
			wrapFatalln("create doc target", err)
			return
		}
		var err error
		if munkipipeFlags.doc.man {
			err = doc.GenManTree(rootCmd, &doc.GenManHeader{
				Title:   "MUNKIPIPE",
				Section: "1",
				Source:  "munkipipe " + NewVersionInfo().Version,
			}, target)
		} else {
			err = doc.GenMarkdownTreeCustom(rootCmd, target, versionHeader, markdownLink)
		}
		if err != nil {
			wrapFatalln("failed to generate doc", err)
		}
	},
}

func init() {
	rootCmd.AddCommand(docCmd)
	addTargetFlag(docCmd)
}
