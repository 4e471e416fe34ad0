package installer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"sync"

	"github.com/goccy/go-yaml"
	"github.com/sourcegraph/conc/pool"

	"github.com/agpm-dev/agpm/internal/agpmerrors"
	"github.com/agpm-dev/agpm/internal/agpmlog"
	"github.com/agpm-dev/agpm/internal/fsutil"
	"github.com/agpm-dev/agpm/internal/gitcache"
	"github.com/agpm-dev/agpm/internal/lockfile"
	"github.com/agpm-dev/agpm/internal/manifest"
	"github.com/agpm-dev/agpm/internal/refcheck"
	"github.com/agpm-dev/agpm/internal/resolver"
	tmpl "github.com/agpm-dev/agpm/internal/template"
)

var log = agpmlog.New("installer")

// Policy controls how aggressively the installer trusts a stale lockfile,
// per spec.md §4.5's two modes.
type Policy struct {
	// Frozen is set from install --frozen. Install does not read it: the
	// plan it is given is installed as resolved, and no existing lockfile
	// is consulted.
	Frozen bool
	// MaxParallel bounds the worker pool; 0 means runtime.NumCPU().
	MaxParallel int
	// ValidateReferences runs refcheck on every rendered body.
	ValidateReferences bool
}

// Options configures one Install call.
type Options struct {
	ProjectDir string
	Policy     Policy
}

// Outcome reports what happened to one resolved resource.
type Outcome struct {
	Record      *resolver.Record
	TargetPath  string
	Written     bool
	MissingRefs []refcheck.MissingReference
	Err         error
}

// Installer materializes a resolver.Plan onto disk and produces the
// resulting lockfile, using a bounded worker pool the way the teacher's
// pkg/cli/logs.go downloads multiple log archives concurrently via
// sourcegraph/conc/pool.
type Installer struct {
	cache   *gitcache.Cache
	tools   map[string]manifest.ToolConfig
	patches map[manifest.ResourceType]map[string]manifest.PatchSet
	opts    Options
}

// New creates an Installer bound to cache, the manifest's [tools.*]
// configuration, and any [patch.<type>.<alias>] overlays declared in the
// manifest.
func New(cache *gitcache.Cache, tools map[string]manifest.ToolConfig, patches map[manifest.ResourceType]map[string]manifest.PatchSet, opts Options) *Installer {
	return &Installer{cache: cache, tools: tools, patches: patches, opts: opts}
}

// Install writes every file/InstallEnabled() record in plan to disk (or
// merges it into a JSON tool config), returning one Outcome per record in
// plan order and the resulting Lockfile built from only the successful
// writes.
func (in *Installer) Install(ctx context.Context, plan *resolver.Plan) ([]Outcome, *lockfile.Lockfile, error) {
	targets, err := in.precomputeTargets(plan)
	if err != nil {
		return nil, nil, err
	}

	byCanonical := make(map[string]*resolver.Record, len(plan.Records))
	for _, r := range plan.Records {
		byCanonical[r.CanonicalName] = r
	}

	maxParallel := in.opts.Policy.MaxParallel
	if maxParallel <= 0 {
		maxParallel = runtime.NumCPU()
	}

	outcomes := make([]Outcome, len(plan.Records))
	p := pool.New().WithMaxGoroutines(maxParallel)

	var mcpMu sync.Mutex
	mcpByTool := map[string][]MCPEntry{}

	for i, r := range plan.Records {
		i, r := i, r
		if !r.Install {
			outcomes[i] = Outcome{Record: r}
			continue
		}
		target := targets[r]
		p.Go(func() {
			outcome := in.installOne(ctx, r, target, byCanonical)
			outcomes[i] = outcome
			if outcome.Err == nil && resourceTypeOf(r.CanonicalName) == manifest.TypeMCPServer {
				mcpMu.Lock()
				mcpByTool[r.Tool] = append(mcpByTool[r.Tool], MCPEntry{CanonicalName: r.CanonicalName})
				mcpMu.Unlock()
			}
		})
	}
	p.Wait()

	for _, o := range outcomes {
		if o.Err != nil {
			return outcomes, nil, o.Err
		}
	}

	if err := in.mergeMCPConfigs(mcpByTool); err != nil {
		return outcomes, nil, err
	}

	lf := lockfile.FromPlan(plan)
	return outcomes, lf, nil
}

// precomputeTargets computes every record's target path up front and
// fails fatally on any collision, per spec.md §4.5's "Target-path
// collisions are pre-computed and any two resources whose installed_at
// would collide yield a fatal error before any write."
func (in *Installer) precomputeTargets(plan *resolver.Plan) (map[*resolver.Record]string, error) {
	targets := make(map[*resolver.Record]string, len(plan.Records))
	seen := map[string]string{} // target path -> owning canonical name
	var collisions []string

	for _, r := range plan.Records {
		if !r.Install || resourceTypeOf(r.CanonicalName) == manifest.TypeMCPServer {
			continue
		}
		target := TargetPath(in.tools, r)
		targets[r] = target
		if owner, ok := seen[target]; ok && owner != r.CanonicalName {
			collisions = append(collisions, fmt.Sprintf("%s and %s both install to %s", owner, r.CanonicalName, target))
			continue
		}
		seen[target] = r.CanonicalName
	}

	if len(collisions) > 0 {
		sort.Strings(collisions)
		return nil, agpmerrors.New(agpmerrors.TargetCollision, in.opts.ProjectDir, fmt.Errorf("target path collisions detected")).
			WithEntries(collisions...).
			WithRemedy("rename one of the colliding resources with `filename` or `target`")
	}
	return targets, nil
}

func (in *Installer) installOne(ctx context.Context, r *resolver.Record, target string, byCanonical map[string]*resolver.Record) Outcome {
	outcome := Outcome{Record: r, TargetPath: target}

	frontmatter, body, worktree, err := in.readSource(ctx, r)
	if err != nil {
		outcome.Err = err
		return outcome
	}

	deps, err := in.resolveDependencies(ctx, r, byCanonical)
	if err != nil {
		outcome.Err = err
		return outcome
	}

	tctx := tmpl.Context{
		Vars:         r.TemplateVars,
		ResourceName: dependencyAlias(r),
		Tool:         r.Tool,
		Target:       target,
		Source:       r.Source,
		Version:      r.Version,
		Dependencies: deps,
	}

	var funcs = contentFuncsFor(worktree)
	rendered, err := tmpl.Render(tctx, frontmatter, body, funcs)
	if err != nil {
		outcome.Err = err
		return outcome
	}

	appliedPatch := in.patchFor(r)
	if appliedPatch != nil {
		patched, err := applyPatch(rendered.Frontmatter, appliedPatch)
		if err != nil {
			outcome.Err = agpmerrors.New(agpmerrors.TemplateError, r.Path, fmt.Errorf("applying patch: %w", err))
			return outcome
		}
		rendered.Frontmatter = patched
		rendered.ContentHash = tmpl.HashContent(rendered.Frontmatter, rendered.Body)
		r.AppliedPatches = map[string]any(appliedPatch)
	}

	full := joinFrontmatter(rendered.Frontmatter, rendered.Body)

	if in.opts.Policy.ValidateReferences {
		root := in.opts.ProjectDir
		outcome.MissingRefs = refcheck.CheckDocument(r.CanonicalName, full, root)
	}

	outPath := filepath.Join(in.opts.ProjectDir, target)
	if err := fsutil.WriteAtomic(outPath, []byte(full), 0o644); err != nil {
		outcome.Err = agpmerrors.New(agpmerrors.FilesystemError, outPath, err)
		return outcome
	}
	outcome.Written = true
	r.ContentHash = rendered.ContentHash
	r.ContextHash = rendered.ContextHash
	r.InstalledAt = target
	log.Printf("installed %s -> %s", r.CanonicalName, target)
	return outcome
}

// readSource reads r's raw file and splits it into frontmatter/body,
// resolving its source worktree first if it comes from a Git source.
// worktree is "" for a local path dependency, and is threaded through to
// contentFuncsFor so the `content` filter resolves relative to the right
// root.
func (in *Installer) readSource(ctx context.Context, r *resolver.Record) (frontmatter, body, worktree string, err error) {
	if r.SourceURL == "" {
		raw, err := os.ReadFile(filepath.Join(in.opts.ProjectDir, r.Path))
		if err != nil {
			return "", "", "", agpmerrors.New(agpmerrors.FilesystemError, r.Path, err)
		}
		fm, b := splitFrontmatter(string(raw))
		return fm, b, "", nil
	}
	wt, err := in.cache.GetWorktree(ctx, r.SourceURL, r.ResolvedCommit)
	if err != nil {
		return "", "", "", err
	}
	raw, err := os.ReadFile(filepath.Join(wt, r.Path))
	if err != nil {
		return "", "", "", agpmerrors.New(agpmerrors.FilesystemError, r.Path, err)
	}
	fm, b := splitFrontmatter(string(raw))
	return fm, b, wt, nil
}

// resolveDependencies builds the agpm.deps.<type>.<alias> context for r
// from its resolved edges, per spec.md §4.4. Each dependency is rendered
// once, against its own (non-recursive) context — a dependency's frontmatter
// never itself embeds further dependency content, so this only ever
// recurses one level deep.
func (in *Installer) resolveDependencies(ctx context.Context, r *resolver.Record, byCanonical map[string]*resolver.Record) (map[string]map[string]tmpl.DependencyInfo, error) {
	if len(r.Edges) == 0 {
		return nil, nil
	}
	deps := make(map[string]map[string]tmpl.DependencyInfo)
	for _, edge := range r.Edges {
		depType, canonical := splitEdge(edge)
		dep, ok := byCanonical[canonical]
		if !ok {
			continue
		}
		content, err := in.renderDependencyContent(ctx, dep)
		if err != nil {
			return nil, err
		}
		alias := dependencyAlias(dep)
		if deps[depType] == nil {
			deps[depType] = map[string]tmpl.DependencyInfo{}
		}
		deps[depType][alias] = tmpl.DependencyInfo{
			Name:    alias,
			Version: dep.Version,
			Path:    dep.Path,
			Content: content,
		}
	}
	return deps, nil
}

// renderDependencyContent renders dep's own body (frontmatter stripped,
// since a parent only ever embeds a dependency's content, never its
// frontmatter) against dep's own context, for embedding via
// agpm.deps.<type>.<alias>.content.
func (in *Installer) renderDependencyContent(ctx context.Context, dep *resolver.Record) (string, error) {
	frontmatter, body, worktree, err := in.readSource(ctx, dep)
	if err != nil {
		return "", err
	}
	dctx := tmpl.Context{
		Vars:         dep.TemplateVars,
		ResourceName: dependencyAlias(dep),
		Tool:         dep.Tool,
		Target:       dep.Target,
		Source:       dep.Source,
		Version:      dep.Version,
	}
	rendered, err := tmpl.Render(dctx, frontmatter, body, contentFuncsFor(worktree))
	if err != nil {
		return "", err
	}
	return rendered.Body, nil
}

// dependencyAlias derives the name a resource is addressed by under
// agpm.deps.<type>.<alias>, per spec.md §4.4: the manifest-declared alias
// wins, falling back to the pattern alias for a glob-expanded match, and
// finally to the path-aware, collision-resistant stem the GLOSSARY
// describes (e.g. "commands/commit", not just "commit").
func dependencyAlias(r *resolver.Record) string {
	if r.ManifestAlias != "" {
		return r.ManifestAlias
	}
	if r.PatternAlias != "" {
		return r.PatternAlias
	}
	return strings.TrimPrefix(r.CanonicalName, string(resourceTypeOf(r.CanonicalName))+"/")
}

// splitEdge parses one resolver.Record.Edges entry, "<type>:<canonical-
// name>[@version]", into its type and canonical name; the version suffix is
// informational only (the winning commit already lives on the dependency's
// own Record) and is discarded here.
func splitEdge(edge string) (depType, canonical string) {
	typePart, rest, ok := strings.Cut(edge, ":")
	if !ok {
		return "", edge
	}
	canonical, _, _ = strings.Cut(rest, "@")
	return typePart, canonical
}

// patchFor looks up the [patch.<type>.<alias>] overlay declared for r, if
// any, keyed the same way dependency content is: manifest alias first, then
// pattern alias.
func (in *Installer) patchFor(r *resolver.Record) manifest.PatchSet {
	if in.patches == nil {
		return nil
	}
	byAlias := in.patches[resourceTypeOf(r.CanonicalName)]
	if byAlias == nil {
		return nil
	}
	if r.ManifestAlias != "" {
		if p, ok := byAlias[r.ManifestAlias]; ok {
			return p
		}
	}
	if r.PatternAlias != "" {
		if p, ok := byAlias[r.PatternAlias]; ok {
			return p
		}
	}
	return nil
}

// applyPatch overlays patch's keys onto a resource's rendered frontmatter
// (parsed and re-serialized as YAML), per spec.md §3's [patch.<type>.<alias>]
// tables. The checksum is recomputed afterward over the patched bytes —
// spec.md §4.6 requires the lockfile checksum always reflect the final
// written content, patched or not.
func applyPatch(frontmatter string, patch manifest.PatchSet) (string, error) {
	doc := map[string]any{}
	if strings.TrimSpace(frontmatter) != "" {
		if err := yaml.Unmarshal([]byte(frontmatter), &doc); err != nil {
			return "", fmt.Errorf("parsing frontmatter for patch: %w", err)
		}
	}
	for k, v := range patch {
		doc[k] = v
	}
	out, err := yaml.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("re-serializing patched frontmatter: %w", err)
	}
	return strings.TrimRight(string(out), "\n"), nil
}

func (in *Installer) mergeMCPConfigs(byTool map[string][]MCPEntry) error {
	for toolName, entries := range byTool {
		layout := layoutFor(in.tools, toolName)
		if layout.mcpJSON == "" {
			continue
		}
		path := filepath.Join(in.opts.ProjectDir, layout.mcpJSON)
		data, err := MergeMCPConfig(path, layout.mcpKey, entries)
		if err != nil {
			return err
		}
		if err := fsutil.WriteAtomic(path, data, 0o644); err != nil {
			return agpmerrors.New(agpmerrors.FilesystemError, path, err)
		}
	}
	return nil
}

func contentFuncsFor(worktree string) map[string]any {
	if worktree == "" {
		return nil
	}
	funcs := tmpl.ContentFilterFor(1<<20, func(relPath string) ([]byte, int64, error) {
		full := filepath.Join(worktree, relPath)
		info, err := os.Stat(full)
		if err != nil {
			return nil, 0, err
		}
		data, err := os.ReadFile(full)
		if err != nil {
			return nil, 0, err
		}
		return data, info.Size(), nil
	})
	out := make(map[string]any, len(funcs))
	for k, v := range funcs {
		out[k] = v
	}
	return out
}

func splitFrontmatter(raw string) (frontmatter, body string) {
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

func joinFrontmatter(frontmatter, body string) string {
	if frontmatter == "" {
		return body
	}
	return "---\n" + frontmatter + "\n---\n" + body
}
