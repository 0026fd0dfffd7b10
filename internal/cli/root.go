package cli

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// NewRootCmd creates the root command
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "pipdeb",
		Short: "Convert Python packages to Debian packages",
		Long: `Pipdeb converts Python source distributions and their transitive
dependencies into Debian binary packages, rewriting package names and
versions to comply with Debian policy while preserving the dependency
relationships between them.

The produced archives are collected in a repository directory that can
be indexed and served to apt directly.`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// Setup logging
			verbose, _ := cmd.Flags().GetBool("verbose")
			if verbose {
				logrus.SetLevel(logrus.DebugLevel)
			} else {
				logrus.SetLevel(logrus.InfoLevel)
			}
		},
	}

	// Global flags
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Enable verbose logging")

	// Add subcommands
	rootCmd.AddCommand(NewConvertCmd())
	rootCmd.AddCommand(NewIndexCmd())

	return rootCmd
}
