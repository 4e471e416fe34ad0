package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/agpm-dev/agpm/internal/agpmerrors"
	"github.com/agpm-dev/agpm/internal/consoleui"
	"github.com/agpm-dev/agpm/internal/gitcache"
	"github.com/agpm-dev/agpm/internal/lockfile"
	"github.com/agpm-dev/agpm/internal/manifest"
	"github.com/agpm-dev/agpm/internal/refcheck"
	"github.com/agpm-dev/agpm/internal/resolver"
	"github.com/agpm-dev/agpm/internal/template"
)

type validateFinding struct {
	Level   string `json:"level"`
	Message string `json:"message"`
}

type validateOpts struct {
	checkSources bool
	resolve      bool
	checkLock    bool
	checkPaths   bool
	redundancies bool
	render       bool
	strict       bool
	format       string
}

func newValidateCmd() *cobra.Command {
	var opts validateOpts
	var watch bool

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check the manifest, lockfile, and source reachability for problems",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := projectDir()
			if err != nil {
				return err
			}
			if !watch {
				return runValidate(cmd, dir, opts)
			}
			return watchValidate(cmd, dir, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.checkSources, "sources", false, "verify every declared source has a URL")
	cmd.Flags().BoolVar(&opts.resolve, "resolve", false, "run full resolution and report errors")
	cmd.Flags().BoolVar(&opts.checkLock, "check-lock", false, "verify agpm.lock parses without corruption")
	cmd.Flags().BoolVar(&opts.checkPaths, "paths", false, "resolve and verify every referenced markdown path exists")
	cmd.Flags().BoolVar(&opts.redundancies, "check-redundancies", false, "warn about duplicate dependency declarations")
	cmd.Flags().BoolVar(&opts.render, "render", false, "render every resource and report template errors")
	cmd.Flags().BoolVar(&opts.strict, "strict", false, "treat warnings as errors")
	cmd.Flags().StringVar(&opts.format, "format", "text", "output format: text or json")
	cmd.Flags().BoolVar(&watch, "watch", false, "re-run validation whenever agpm.toml or agpm.lock changes")

	return cmd
}

func runValidate(cmd *cobra.Command, dir string, opts validateOpts) error {
	var findings []validateFinding
	addErr := func(msg string) { findings = append(findings, validateFinding{Level: "error", Message: msg}) }
	addWarn := func(msg string) { findings = append(findings, validateFinding{Level: "warning", Message: msg}) }

	m, err := manifest.Load(dir)
	if err != nil {
		addErr(err.Error())
		return report(cmd, findings, opts.format, opts.strict)
	}

	if opts.checkSources {
		for name, src := range m.Sources {
			if src.URL == "" {
				addErr(fmt.Sprintf("source %q has an empty URL", name))
			}
		}
	}

	if opts.redundancies {
		for rt, byAlias := range m.Resources {
			seen := map[string]string{}
			for alias, spec := range byAlias {
				key := fmt.Sprintf("%s|%s", spec.Source, spec.Path)
				if other, ok := seen[key]; ok {
					addWarn(fmt.Sprintf("%s: %q and %q declare the same dependency redundantly", rt, other, alias))
					continue
				}
				seen[key] = alias
			}
		}
	}

	if opts.checkLock {
		if _, err := lockfile.Parse(dir); err != nil {
			addErr(fmt.Sprintf("lockfile: %v", err))
		}
	}

	if opts.resolve || opts.checkPaths || opts.render {
		_, cache, plan, err := resolvePlan(cmd.Context(), dir)
		if err != nil {
			addErr(err.Error())
		} else {
			if opts.checkPaths {
				validatePaths(cmd.Context(), cache, plan, dir, addWarn)
			}
			if opts.render {
				validateRender(cmd.Context(), cache, plan, addErr)
			}
		}
	}

	return report(cmd, findings, opts.format, opts.strict)
}

// watchValidate re-runs runValidate whenever agpm.toml or agpm.lock changes,
// per spec.md's supplemented "validate --watch" (§8.5): a developer keeping
// a manifest open sees diagnostics update live instead of re-invoking the
// command by hand.
func watchValidate(cmd *cobra.Command, dir string, opts validateOpts) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("starting watcher: %w", err)
	}
	defer w.Close()

	for _, f := range []string{manifest.ProjectFile, lockfile.File} {
		if err := w.Add(filepath.Join(dir, f)); err != nil {
			fmt.Fprintln(cmd.OutOrStdout(), consoleui.Warn(fmt.Sprintf("not watching %s: %v", f, err)))
		}
	}

	if err := runValidate(cmd, dir, opts); err != nil {
		fmt.Fprintln(cmd.OutOrStdout(), consoleui.Error(err.Error()))
	}

	for {
		select {
		case <-cmd.Context().Done():
			return nil
		case event, ok := <-w.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			fmt.Fprintln(cmd.OutOrStdout(), consoleui.Info(fmt.Sprintf("%s changed, re-validating", filepath.Base(event.Name))))
			if err := runValidate(cmd, dir, opts); err != nil {
				fmt.Fprintln(cmd.OutOrStdout(), consoleui.Error(err.Error()))
			}
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), consoleui.Warn(err.Error()))
		}
	}
}

func validatePaths(ctx context.Context, cache *gitcache.Cache, plan *resolver.Plan, root string, addWarn func(string)) {
	for _, r := range plan.Records {
		if r.SourceURL == "" {
			continue
		}
		wt, err := cache.GetWorktree(ctx, r.SourceURL, r.ResolvedCommit)
		if err != nil {
			addWarn(fmt.Sprintf("%s: %v", r.CanonicalName, err))
			continue
		}
		data, err := os.ReadFile(filepath.Join(wt, r.Path))
		if err != nil {
			addWarn(fmt.Sprintf("%s: %v", r.CanonicalName, err))
			continue
		}
		for _, missing := range refcheck.CheckDocument(r.CanonicalName, string(data), wt) {
			addWarn(fmt.Sprintf("%s references missing file %s", missing.SourceFile, missing.ReferencedPath))
		}
	}
}

func validateRender(ctx context.Context, cache *gitcache.Cache, plan *resolver.Plan, addErr func(string)) {
	for _, r := range plan.Records {
		if r.SourceURL == "" {
			continue
		}
		wt, err := cache.GetWorktree(ctx, r.SourceURL, r.ResolvedCommit)
		if err != nil {
			addErr(fmt.Sprintf("%s: %v", r.CanonicalName, err))
			continue
		}
		data, err := os.ReadFile(filepath.Join(wt, r.Path))
		if err != nil {
			addErr(fmt.Sprintf("%s: %v", r.CanonicalName, err))
			continue
		}
		raw := string(data)
		frontmatter, body := splitFrontmatterForValidate(raw)
		tctx := template.Context{Vars: r.TemplateVars, Tool: r.Tool, Source: r.Source, Version: r.Version}
		if _, err := template.Render(tctx, frontmatter, body, nil); err != nil {
			addErr(fmt.Sprintf("%s: %v", r.CanonicalName, err))
		}
	}
}

func splitFrontmatterForValidate(raw string) (frontmatter, body string) {
	if !strings.HasPrefix(raw, "---\n") {
		return "", raw
	}
	rest := raw[4:]
	idx := strings.Index(rest, "\n---\n")
	if idx < 0 {
		return "", raw
	}
	return rest[:idx], rest[idx+len("\n---\n"):]
}

func report(cmd *cobra.Command, findings []validateFinding, format string, strict bool) error {
	hasError := false
	for _, f := range findings {
		if f.Level == "error" || (strict && f.Level == "warning") {
			hasError = true
		}
	}

	if format == "json" {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if err := enc.Encode(findings); err != nil {
			return err
		}
	} else {
		for _, f := range findings {
			line := consoleui.Info(f.Message)
			if f.Level == "error" {
				line = consoleui.Error(f.Message)
			} else if f.Level == "warning" {
				line = consoleui.Warn(f.Message)
			}
			fmt.Fprintln(cmd.OutOrStdout(), line)
		}
		if len(findings) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), consoleui.Success("no problems found"))
		}
	}

	if hasError {
		return agpmerrors.New(agpmerrors.ManifestInvalid, "", fmt.Errorf("%d validation finding(s)", len(findings)))
	}
	return nil
}
