package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/agpm-dev/agpm/internal/consoleui"
	"github.com/agpm-dev/agpm/internal/gitcache"
	"github.com/agpm-dev/agpm/internal/lockfile"
	"github.com/agpm-dev/agpm/internal/version"
)

type outdatedRow struct {
	Name    string `json:"name"`
	Current string `json:"current"`
	Latest  string `json:"latest"`
}

func newOutdatedCmd() *cobra.Command {
	var (
		check  bool
		format string
	)

	cmd := &cobra.Command{
		Use:   "outdated [alias...]",
		Short: "Report dependencies with a newer version satisfying their constraint",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := projectDir()
			if err != nil {
				return err
			}
			_, cache, err := loadProject(dir)
			if err != nil {
				return err
			}
			lf, err := lockfile.Parse(dir)
			if err != nil {
				return err
			}

			want := make(map[string]bool, len(args))
			for _, a := range args {
				want[a] = true
			}

			var rows []outdatedRow
			for _, e := range lf.AllEntries() {
				if len(want) > 0 && !want[e.Name] && !want[e.ManifestAlias] {
					continue
				}
				if e.URL == "" {
					continue
				}
				latest, err := latestResolvable(cmd.Context(), cache, e.URL, e.Version)
				if err != nil {
					continue
				}
				if latest != e.ResolvedCommit {
					rows = append(rows, outdatedRow{Name: e.Name, Current: e.ResolvedCommit, Latest: latest})
				}
			}

			if check && len(rows) > 0 {
				return fmt.Errorf("%d outdated dependencies", len(rows))
			}

			if format == "json" {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(rows)
			}
			if len(rows) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), consoleui.Success("all dependencies up to date"))
				return nil
			}
			for _, r := range rows {
				fmt.Fprintln(cmd.OutOrStdout(), consoleui.Warn(fmt.Sprintf("%s: %s -> %s", r.Name, r.Current, r.Latest)))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&check, "check", false, "exit non-zero if any dependency is outdated")
	cmd.Flags().StringVar(&format, "format", "text", "output format: text or json")

	return cmd
}

func latestResolvable(ctx context.Context, cache *gitcache.Cache, url, rawConstraint string) (string, error) {
	c, err := version.ParseConstraint(rawConstraint, "", "")
	if err != nil {
		return "", err
	}
	tags, err := cache.ListTags(ctx, url)
	if err != nil {
		return "", err
	}
	cand, err := c.Resolve(tags)
	if err != nil {
		return "", err
	}
	return cand.Commit, nil
}
