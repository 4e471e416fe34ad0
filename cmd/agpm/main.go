package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/agpm-dev/agpm/internal/agpmerrors"
)

var version = "dev"

var rootCmd = &cobra.Command{
	Use:     "agpm",
	Short:   "Git-sourced package manager for AI-assistant resources",
	Version: version,
	Long: `agpm installs agents, snippets, commands, MCP servers, and skills
declared in agpm.toml from arbitrary Git repositories, resolving transitive
dependencies and writing a deterministic agpm.lock.`,
	Run: func(cmd *cobra.Command, args []string) {
		_ = cmd.Help()
	},
}

func init() {
	rootCmd.AddGroup(
		&cobra.Group{ID: "manage", Title: "Manage Commands:"},
		&cobra.Group{ID: "inspect", Title: "Inspect Commands:"},
	)

	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "no effect; diagnostic output is enabled by AGPM_DEBUG")
	rootCmd.PersistentFlags().Bool("no-color", false, "no effect; color is disabled by the NO_COLOR environment variable")
	rootCmd.SetOut(os.Stderr)
	rootCmd.SetVersionTemplate(fmt.Sprintf("agpm version %s\n", version))

	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.AddCommand(newInstallCmd())
	rootCmd.AddCommand(newUpdateCmd())
	rootCmd.AddCommand(newValidateCmd())
	rootCmd.AddCommand(newOutdatedCmd())
	rootCmd.AddCommand(newListCmd())
	rootCmd.AddCommand(newRemoveCmd())

	for _, c := range rootCmd.Commands() {
		switch c.Name() {
		case "install", "update", "remove":
			c.GroupID = "manage"
		case "validate", "outdated", "list":
			c.GroupID = "inspect"
		}
	}
}

func main() {
	if v, ok := os.LookupEnv("NO_COLOR"); ok && v != "" {
		_ = rootCmd.PersistentFlags().Set("no-color", "true")
	}

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(agpmerrors.ExitCode(err))
	}
}
