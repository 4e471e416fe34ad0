package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/agpm-dev/agpm/internal/backup"
	"github.com/agpm-dev/agpm/internal/consoleui"
	"github.com/agpm-dev/agpm/internal/installer"
	"github.com/agpm-dev/agpm/internal/lockfile"
	"github.com/agpm-dev/agpm/internal/resolver"
)

func newUpdateCmd() *cobra.Command {
	var (
		check    bool
		force    bool
		dryRun   bool
		doBackup bool
	)

	cmd := &cobra.Command{
		Use:   "update [alias...]",
		Short: "Re-resolve the manifest, optionally restricted to specific aliases",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := projectDir()
			if err != nil {
				return err
			}

			m, cache, plan, err := resolvePlan(cmd.Context(), dir)
			if err != nil {
				return err
			}

			if len(args) > 0 {
				plan = filterPlanByAlias(plan, args)
			}

			if check {
				for _, r := range plan.Records {
					fmt.Fprintln(cmd.OutOrStdout(), consoleui.Info(fmt.Sprintf("%s resolves to %s", r.CanonicalName, r.ResolvedCommit)))
				}
				return nil
			}

			if dryRun {
				lf := lockfile.FromPlan(plan)
				for _, e := range lf.AllEntries() {
					fmt.Fprintln(cmd.OutOrStdout(), consoleui.Info(fmt.Sprintf("would write %s@%s", e.Name, e.ResolvedCommit)))
				}
				return nil
			}

			if doBackup {
				if err := backup.New(lockfileAbsPath(dir)).Create(); err != nil {
					return fmt.Errorf("backing up lockfile: %w", err)
				}
			}

			inst := installer.New(cache, m.Tools, m.Patches, installer.Options{
				ProjectDir: dir,
				Policy:     installer.Policy{ValidateReferences: true},
			})
			outcomes, lf, err := inst.Install(cmd.Context(), plan)
			if err != nil {
				if doBackup {
					if restoreErr := backup.New(lockfileAbsPath(dir)).Restore(); restoreErr != nil {
						return fmt.Errorf("update failed (%w) and rollback failed: %v", err, restoreErr)
					}
				}
				if !force || outcomes == nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), consoleui.Warn(fmt.Sprintf("continuing past error due to --force: %v", err)))
				ok := &resolver.Plan{}
				for _, o := range outcomes {
					if o.Err == nil && o.Record != nil {
						ok.Records = append(ok.Records, o.Record)
					}
				}
				lf = lockfile.FromPlan(ok)
			}

			if err := lockfile.Write(dir, lf); err != nil {
				return err
			}
			if doBackup {
				_ = backup.New(lockfileAbsPath(dir)).Cleanup()
			}
			fmt.Fprintln(cmd.OutOrStdout(), consoleui.Success(fmt.Sprintf("updated %d resources", len(lf.AllEntries()))))
			return nil
		},
	}

	cmd.Flags().BoolVar(&check, "check", false, "report resolved commits without installing")
	cmd.Flags().BoolVar(&force, "force", false, "continue past install errors for unaffected resources")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "show what would change without writing")
	cmd.Flags().BoolVar(&doBackup, "backup", false, "back up agpm.lock before writing, restoring it on failure")

	return cmd
}

func lockfileAbsPath(dir string) string {
	return dir + "/" + lockfile.File
}

// filterPlanByAlias restricts plan to records whose manifest alias (or
// canonical name, for transitively-only-reached records) appears in
// aliases, keeping every record order-stable.
func filterPlanByAlias(plan *resolver.Plan, aliases []string) *resolver.Plan {
	want := make(map[string]bool, len(aliases))
	for _, a := range aliases {
		want[a] = true
	}
	out := &resolver.Plan{}
	for _, r := range plan.Records {
		if want[r.ManifestAlias] || want[r.CanonicalName] {
			out.Records = append(out.Records, r)
		}
	}
	return out
}
