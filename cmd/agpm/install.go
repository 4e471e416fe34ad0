package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/agpm-dev/agpm/internal/consoleui"
	"github.com/agpm-dev/agpm/internal/installer"
	"github.com/agpm-dev/agpm/internal/lockfile"
)

func newInstallCmd() *cobra.Command {
	var (
		frozen      bool
		noLock      bool
		quiet       bool
		maxParallel int
		noCache     bool
	)

	cmd := &cobra.Command{
		Use:   "install",
		Short: "Resolve the manifest and install every declared resource",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := projectDir()
			if err != nil {
				return err
			}

			sp := consoleui.NewSpinner("resolving dependencies")
			sp.Start()

			m, cache, plan, err := resolvePlan(cmd.Context(), dir)
			if err != nil {
				sp.Stop("resolution failed", false)
				return err
			}
			sp.Stop(fmt.Sprintf("resolved %d resources", len(plan.Records)), true)

			if noCache {
				// --no-cache has no effect: the cache is content-addressed
				// and shared across commands, and nothing in install
				// bypasses it. Kept for flag-surface parity with spec.md §6.
				_ = noCache
			}

			inst := installer.New(cache, m.Tools, m.Patches, installer.Options{
				ProjectDir: dir,
				Policy: installer.Policy{
					Frozen:             frozen,
					MaxParallel:        maxParallel,
					ValidateReferences: true,
				},
			})

			outcomes, lf, err := inst.Install(cmd.Context(), plan)
			if err != nil {
				return err
			}

			for _, o := range outcomes {
				if !quiet && o.Written {
					fmt.Fprintln(cmd.OutOrStdout(), consoleui.Success(fmt.Sprintf("%s -> %s", o.Record.CanonicalName, o.TargetPath)))
				}
				for _, missing := range o.MissingRefs {
					fmt.Fprintln(cmd.OutOrStdout(), consoleui.Warn(fmt.Sprintf("%s references missing file %s", missing.SourceFile, missing.ReferencedPath)))
				}
			}

			if !noLock {
				if err := lockfile.Write(dir, lf); err != nil {
					return err
				}
			}

			return nil
		},
	}

	cmd.Flags().BoolVar(&frozen, "frozen", false, "no effect; install always re-resolves the manifest and does not read agpm.lock")
	cmd.Flags().BoolVar(&noLock, "no-lock", false, "skip writing agpm.lock")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "suppress per-resource success output")
	cmd.Flags().IntVar(&maxParallel, "max-parallel", 0, "bound concurrent installs (0 = runtime.NumCPU())")
	cmd.Flags().BoolVar(&noCache, "no-cache", false, "no effect; the shared git cache is always used")

	return cmd
}
