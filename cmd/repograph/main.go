// Package main implements the repograph CLI: a semantic code search
// daemon and the commands to manage its indexed repositories.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	// configPath overrides the default config file location.
	configPath string
	// version information
	version = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "repograph",
	Short: "Semantic code search across repositories",
	Long: `repograph indexes source repositories into a vector store and answers
natural-language searches over them.

Repositories can be local directories or remote git URLs. Indexed
content is tracked in a ledger so repositories can be updated or
removed later.`,
	Version: version,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ~/.config/repograph/config.yaml)")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(addCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(updateCmd)
	rootCmd.AddCommand(removeCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(wipeCmd)
}
