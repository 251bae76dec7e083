// Package main provides the entry point for the webmirror CLI.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// NewRootCmd creates the root command for webmirror.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "webmirror",
		Short: "Mirror websites for offline browsing",
		Long: `webmirror downloads a website into a local directory and rewrites the
links between downloaded files so the mirror works offline.

Pages, stylesheets, scripts, and images within the site's host are
downloaded; links to other hosts are left pointing at the live site.
Each run is recorded in a local manifest database for later inspection
with 'webmirror status'.`,
		Version:       getVersion(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Global flags that apply to all commands
	cmd.PersistentFlags().BoolP("verbose", "v", false, "Enable verbose logging")

	// Add subcommands
	cmd.AddCommand(NewMirrorCmd())
	cmd.AddCommand(NewStatusCmd())
	cmd.AddCommand(NewInitCmd())
	cmd.AddCommand(NewVersionCmd())

	return cmd
}

// Execute runs the root command.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
