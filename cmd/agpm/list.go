package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/agpm-dev/agpm/internal/consoleui"
	"github.com/agpm-dev/agpm/internal/lockfile"
)

func newListCmd() *cobra.Command {
	var typeFilter string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List installed resources from agpm.lock",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := projectDir()
			if err != nil {
				return err
			}
			lf, err := lockfile.Parse(dir)
			if err != nil {
				return err
			}
			for _, e := range lf.AllEntries() {
				if typeFilter != "" && typeSegment(e.Name) != typeFilter {
					continue
				}
				fmt.Fprintln(cmd.OutOrStdout(), consoleui.Info(fmt.Sprintf("%-10s %-30s %s", typeSegment(e.Name), e.Name, e.Version)))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&typeFilter, "type", "", "restrict to one resource type (agents, snippets, commands, mcp-servers, skills)")
	return cmd
}

func typeSegment(canonicalName string) string {
	if idx := strings.IndexByte(canonicalName, '/'); idx >= 0 {
		return canonicalName[:idx]
	}
	return canonicalName
}
