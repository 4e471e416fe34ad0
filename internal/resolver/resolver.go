// Package resolver implements the worklist-based transitive dependency
// resolution engine described in spec.md §4.3: pattern (glob) expansion,
// semver constraint intersection, fail-fast conflict detection, and cycle
// detection. Backtracking on a version conflict is out of scope (see
// DESIGN.md); a conflict that can't be reconciled by intersecting pending
// ranges surfaces immediately as ConflictUnresolvable rather than
// re-trying earlier choices.
//
// Grounded on spec.md §4.3/§9 ("Ownership graphs... ids instead of shared
// references avoid cycles in ownership") and the teacher's worklist-style
// recursive-descent import resolution in pkg/parser/imports.go (parsing
// "org/repo version path" specs) and pkg/parser/remote_fetch.go (resolving
// a ref to a SHA before fetching content) — both generalized from a single
// GitHub Actions import mechanism into the full manifest dependency graph.
package resolver

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"

	"github.com/agpm-dev/agpm/internal/agpmerrors"
	"github.com/agpm-dev/agpm/internal/agpmlog"
	"github.com/agpm-dev/agpm/internal/gitcache"
	"github.com/agpm-dev/agpm/internal/manifest"
	"github.com/agpm-dev/agpm/internal/version"
)

var log = agpmlog.New("resolver")

// MetadataFetcher extracts a resource's transitive dependency specs from
// its frontmatter at a given worktree path and relative file path. It is
// an interface so the resolver can be tested without reading real files:
// in production it is backed by internal/metadata, which parses the
// frontmatter as written; the frontmatter is not template-rendered first.
type MetadataFetcher interface {
	Dependencies(ctx context.Context, worktree, relPath string) ([]manifest.DependencySpec, error)
}

// Record is one fully resolved dependency in the resolution plan.
type Record struct {
	CanonicalName  string
	ManifestAlias  string // "" if only reached transitively
	Source         string
	SourceURL      string
	Path           string
	Version        string // the constraint as declared
	ResolvedCommit string
	Tool           string
	Filename       string
	Target         string
	Flatten        bool
	TemplateVars   map[string]any
	Install        bool
	PatternAlias   string // set if this record was produced by pattern expansion

	// Edges lists this record's transitive dependency edges, each
	// "<type>:<canonical-name>[@version]" per spec.md §3.
	Edges []string

	// The following are populated by the installer once a record is
	// actually rendered and written, not by Resolve itself — a Plan
	// alone doesn't know the final bytes or target path. They round-trip
	// into the lockfile via lockfile.FromPlan (spec.md §4.6).
	ContentHash    string         // SHA-256 of the final written bytes (lockfile "checksum")
	ContextHash    string         // SHA-256 of the render context, for templated resources
	InstalledAt    string         // the path this record was written to
	AppliedPatches map[string]any // [patch.<type>.<alias>] overlay actually applied, if any

	variantHash string
}

// Plan is the output of a resolution pass: every resource to install, in
// deterministic worklist-expansion order (callers sort for lockfile
// emission separately, per I4).
type Plan struct {
	Records []*Record
}

// Engine computes a Plan from a merged manifest.
type Engine struct {
	cache    *gitcache.Cache
	sources  map[string]manifest.Source
	metadata MetadataFetcher
}

// New builds an Engine over cache, resolving transitive dependency
// metadata via fetcher.
func New(cache *gitcache.Cache, sources map[string]manifest.Source, fetcher MetadataFetcher) *Engine {
	return &Engine{cache: cache, sources: sources, metadata: fetcher}
}

// workItem is one entry in the worklist: a dependency spec plus the
// ancestry chain that enqueued it (for cycle detection) and the parent
// canonical name (for edge bookkeeping).
type workItem struct {
	spec         manifest.DependencySpec
	ancestry     []string
	parent       string // canonical name of the record that introduced this edge, "" for direct
	parentKey    string // resolved-map key of that record, "" for direct
	patternAlias string // alias of the pattern entry this spec was expanded from, if any
}

type pendingConstraint struct {
	origin string // manifest alias or parent canonical name, for diagnostics
	raw    manifest.DependencySpec
}

type resolvedEntry struct {
	record      *Record
	constraints []pendingConstraint
	sourceURL   string
}

// Resolve runs the worklist algorithm in spec.md §4.3 to completion.
func (e *Engine) Resolve(ctx context.Context, m *manifest.Manifest) (*Plan, error) {
	var open []workItem
	for _, spec := range m.AllDirectSpecs() {
		open = append(open, workItem{spec: spec, ancestry: nil, parent: ""})
	}

	resolved := map[string]*resolvedEntry{}
	var order []string // canonical+variant keys, in first-resolved order

	for len(open) > 0 {
		item := open[0]
		open = open[1:]

		spec := item.spec
		if spec.Source != "" {
			if _, ok := m.Sources[spec.Source]; !ok {
				return nil, agpmerrors.New(agpmerrors.SourceInaccessible, spec.Path, fmt.Errorf("unknown source %q", spec.Source))
			}
		}

		// Same-source violation check (P5): a transitive spec naming a
		// *different* source than its parent is rejected at parse time —
		// here, at enqueue time, since specs are parsed eagerly from
		// frontmatter (spec.md's "reject at parse time" for this case
		// means "before any fetch of the mis-scoped dependency").
		if item.parent != "" {
			if parentEntry, ok := resolved[item.parentKey]; ok {
				parentSource := parentEntry.record.Source
				if spec.Source != "" && spec.Source != parentSource {
					return nil, agpmerrors.New(agpmerrors.ManifestInvalid, spec.Path,
						fmt.Errorf("transitive dependency %q declares source %q, but its parent %q is sourced from %q", spec.Path, spec.Source, item.parent, parentSource))
				}
				spec.Source = parentSource
			}
		}

		sourceURL := ""
		if spec.Source != "" {
			sourceURL = m.Sources[spec.Source].URL
		}

		constraint, err := version.ParseConstraint(spec.ConstraintString(), spec.Branch, spec.Rev)
		if err != nil {
			return nil, agpmerrors.New(agpmerrors.ManifestInvalid, spec.Path, err)
		}

		// Pattern expansion: fan this spec into one per matching file.
		if isPattern(spec.Path) {
			expanded, err := e.expandPattern(ctx, sourceURL, constraint, spec)
			if err != nil {
				return nil, err
			}
			for _, child := range expanded {
				open = append(open, workItem{spec: child, ancestry: item.ancestry, parent: item.parent, parentKey: item.parentKey, patternAlias: spec.Alias})
			}
			continue
		}

		canonical := CanonicalName(spec.Type, spec.Path)
		variantHash := hashVariant(effectiveVariant(m.ProjectVars, spec.TemplateVars))
		key := canonical + "\x00" + variantHash

		for _, anc := range item.ancestry {
			if anc == key {
				chain := append(append([]string{}, item.ancestry...), key)
				return nil, agpmerrors.New(agpmerrors.Cycle, canonical, fmt.Errorf("cycle: %v", chain))
			}
		}

		entry, exists := resolved[key]
		if exists {
			entry.constraints = append(entry.constraints, pendingConstraint{origin: originOf(spec, item.parent), raw: spec})
			if err := e.reconcileConstraints(ctx, entry, canonical); err != nil {
				return nil, err
			}
			if item.parent != "" {
				addEdge(resolved[item.parentKey], spec.Type, canonical, spec.ConstraintString())
			}
			if spec.Alias != "" && entry.record.ManifestAlias == "" {
				entry.record.ManifestAlias = spec.Alias
			}
			if item.patternAlias != "" && entry.record.PatternAlias == "" {
				entry.record.PatternAlias = item.patternAlias
			}
			continue
		}

		candidateCommit, candidateVersion, err := e.pickVersion(ctx, sourceURL, constraint)
		if err != nil {
			return nil, agpmerrors.New(agpmerrors.VersionUnresolvable, canonical, err)
		}

		record := &Record{
			CanonicalName:  canonical,
			ManifestAlias:  spec.Alias,
			Source:         spec.Source,
			SourceURL:      sourceURL,
			Path:           spec.Path,
			Version:        candidateVersion,
			ResolvedCommit: candidateCommit,
			Tool:           spec.Tool,
			Filename:       spec.Filename,
			Target:         spec.Target,
			Flatten:        spec.Flatten,
			TemplateVars:   effectiveVariant(m.ProjectVars, spec.TemplateVars),
			Install:        spec.InstallEnabled(),
			PatternAlias:   item.patternAlias,
			variantHash:    variantHash,
		}
		resolved[key] = &resolvedEntry{record: record, constraints: []pendingConstraint{{origin: originOf(spec, item.parent), raw: spec}}, sourceURL: sourceURL}
		order = append(order, key)

		if item.parent != "" {
			addEdge(resolved[item.parentKey], spec.Type, canonical, spec.ConstraintString())
		}

		deps, err := e.fetchTransitiveDeps(ctx, sourceURL, candidateCommit, spec.Path)
		if err != nil {
			return nil, err
		}
		childAncestry := append(append([]string{}, item.ancestry...), key)
		for _, dep := range deps {
			if dep.Source == "" {
				dep.Source = spec.Source
			}
			open = append(open, workItem{spec: dep, ancestry: childAncestry, parent: canonical, parentKey: key})
		}
	}

	plan := &Plan{}
	for _, key := range order {
		plan.Records = append(plan.Records, resolved[key].record)
	}
	log.Printf("resolved %d resources from %d manifest entries", len(plan.Records), len(m.AllDirectSpecs()))
	return plan, nil
}

func originOf(spec manifest.DependencySpec, parent string) string {
	if spec.Alias != "" {
		return spec.Alias
	}
	return parent
}

func addEdge(parent *resolvedEntry, depType manifest.ResourceType, canonical, versionConstraint string) {
	edge := fmt.Sprintf("%s:%s", depType, canonical)
	if versionConstraint != "" {
		edge = fmt.Sprintf("%s@%s", edge, versionConstraint)
	}
	for _, existing := range parent.record.Edges {
		if existing == edge {
			return
		}
	}
	parent.record.Edges = append(parent.record.Edges, edge)
}

// checkCompatibleKinds enforces spec.md §4.3's coarse constraint rule:
// exact-version edges require identity, branch vs semver is always a
// conflict. It does not attempt range intersection — that is
// reconcileConstraints's job, once Kinds are known compatible.
func checkCompatibleKinds(constraints []pendingConstraint) error {
	if len(constraints) < 2 {
		return nil
	}
	first := constraints[0].raw
	firstC, err := version.ParseConstraint(first.ConstraintString(), first.Branch, first.Rev)
	if err != nil {
		return err
	}
	for _, c := range constraints[1:] {
		other, err := version.ParseConstraint(c.raw.ConstraintString(), c.raw.Branch, c.raw.Rev)
		if err != nil {
			return err
		}
		if firstC.Kind != other.Kind {
			if !(firstC.Kind == version.KindUnspecified || other.Kind == version.KindUnspecified) {
				return agpmerrors.New(agpmerrors.ConflictUnresolvable, first.Path,
					fmt.Errorf("incompatible constraint kinds for %s: %q vs %q", first.Path, first.ConstraintString(), c.raw.ConstraintString())).
					WithEntries(constraints[0].origin, c.origin).
					WithRemedy(fmt.Sprintf("both %s and %s require %s at incompatible constraints — reconcile constraints", constraints[0].origin, c.origin, first.Path))
			}
		}
		if firstC.Kind == version.KindExact && other.Kind == version.KindExact && first.ConstraintString() != c.raw.ConstraintString() {
			return agpmerrors.New(agpmerrors.ConflictUnresolvable, first.Path,
				fmt.Errorf("%s requires exact versions %q and %q", first.Path, first.ConstraintString(), c.raw.ConstraintString())).
				WithEntries(constraints[0].origin, c.origin).
				WithRemedy(fmt.Sprintf("both %s and %s require %s at different versions — reconcile constraints", constraints[0].origin, c.origin, first.Path))
		}
	}
	return nil
}

// reconcileConstraints re-derives the winning candidate for entry after a
// new pending constraint has been appended, per spec.md §4.3: the resolved
// version must be the highest tag satisfying *every* pending constraint,
// not just the first one to reach this key. Exact/branch/rev constraints
// only need the identity check already done by checkCompatibleKinds; when
// every pending constraint is a semver range, the ranges are intersected
// and, if the winning candidate moves, entry's record is updated in place.
func (e *Engine) reconcileConstraints(ctx context.Context, entry *resolvedEntry, canonical string) error {
	if err := checkCompatibleKinds(entry.constraints); err != nil {
		return err
	}
	if entry.sourceURL == "" || len(entry.constraints) < 2 {
		return nil
	}

	parsed := make([]version.Constraint, 0, len(entry.constraints))
	for _, pc := range entry.constraints {
		c, err := version.ParseConstraint(pc.raw.ConstraintString(), pc.raw.Branch, pc.raw.Rev)
		if err != nil {
			return err
		}
		parsed = append(parsed, c)
	}
	for _, c := range parsed {
		if c.Kind != version.KindRange {
			return nil
		}
	}

	tags, err := e.cache.ListTags(ctx, entry.sourceURL)
	if err != nil {
		return err
	}
	cand, err := version.ResolveAll(parsed, tags)
	if err != nil {
		first, last := entry.constraints[0], entry.constraints[len(entry.constraints)-1]
		return agpmerrors.New(agpmerrors.ConflictUnresolvable, canonical,
			fmt.Errorf("no version of %s satisfies every pending constraint: %w", canonical, err)).
			WithEntries(first.origin, last.origin).
			WithRemedy(fmt.Sprintf("%s and %s require incompatible version ranges for %s — reconcile constraints", first.origin, last.origin, canonical))
	}
	if cand.Commit != entry.record.ResolvedCommit {
		log.Printf("re-picked %s: %s -> %s after intersecting %d constraints", canonical, entry.record.ResolvedCommit, cand.Commit, len(parsed))
		entry.record.ResolvedCommit = cand.Commit
	}
	return nil
}

func (e *Engine) pickVersion(ctx context.Context, sourceURL string, c version.Constraint) (commit, versionStr string, err error) {
	if sourceURL == "" {
		// Local path dependency: no version concept.
		return "", "", nil
	}
	switch c.Kind {
	case version.KindUnspecified:
		sha, err := e.cache.GetOrFetchSource(ctx, sourceURL, "")
		return sha, "HEAD", err
	case version.KindBranch:
		sha, err := e.cache.GetOrFetchSource(ctx, sourceURL, c.Raw)
		return sha, c.Raw, err
	case version.KindRev:
		sha, err := e.cache.GetOrFetchSource(ctx, sourceURL, c.Raw)
		return sha, c.Raw, err
	default:
		if _, err := e.cache.GetOrFetchSource(ctx, sourceURL, ""); err != nil {
			return "", "", err
		}
		tags, err := e.cache.ListTags(ctx, sourceURL)
		if err != nil {
			return "", "", err
		}
		cand, err := c.Resolve(tags)
		if err != nil {
			return "", "", err
		}
		return cand.Commit, c.Raw, nil
	}
}

func (e *Engine) fetchTransitiveDeps(ctx context.Context, sourceURL, commit, path string) ([]manifest.DependencySpec, error) {
	if e.metadata == nil || sourceURL == "" {
		return nil, nil
	}
	worktree, err := e.cache.GetWorktree(ctx, sourceURL, commit)
	if err != nil {
		return nil, err
	}
	return e.metadata.Dependencies(ctx, worktree, path)
}

// expandPattern fans a glob dependency spec into one spec per matching
// file, per spec.md §4.3's Pattern expansion.
func (e *Engine) expandPattern(ctx context.Context, sourceURL string, c version.Constraint, spec manifest.DependencySpec) ([]manifest.DependencySpec, error) {
	if sourceURL == "" {
		return nil, agpmerrors.New(agpmerrors.ManifestInvalid, spec.Path, fmt.Errorf("pattern dependency %q requires a source", spec.Path))
	}
	commit, _, err := e.pickVersion(ctx, sourceURL, c)
	if err != nil {
		return nil, err
	}
	worktree, err := e.cache.GetWorktree(ctx, sourceURL, commit)
	if err != nil {
		return nil, err
	}
	files, err := e.cache.ListFiles(worktree)
	if err != nil {
		return nil, err
	}
	matches, err := matchGlob(spec.Path, files)
	if err != nil {
		return nil, err
	}

	// One spec per matched file; each match's own transitive metadata is
	// fetched later, one item at a time, when its work item is dequeued
	// (fetchTransitiveDeps is called per dequeued item, not here, since
	// matches is already in hand from one ListFiles call).
	expanded := make([]manifest.DependencySpec, len(matches))
	for i, match := range matches {
		child := spec
		child.Path = match
		child.Alias = "" // concrete matches get the pattern alias (via the work item), not the manifest alias
		expanded[i] = child
	}
	return expanded, nil
}

// CanonicalName derives the collision-resistant identifier described in the
// GLOSSARY: "<type>/<path-stem>", directory-preserving.
func CanonicalName(rt manifest.ResourceType, path string) string {
	stem := path
	for _, ext := range []string{".md", ".yaml", ".yml", ".json"} {
		if len(stem) > len(ext) && stem[len(stem)-len(ext):] == ext {
			stem = stem[:len(stem)-len(ext)]
			break
		}
	}
	return fmt.Sprintf("%s/%s", rt, stem)
}

func effectiveVariant(projectVars map[string]any, templateVars map[string]any) map[string]any {
	merged := map[string]any{}
	for k, v := range projectVars {
		merged[k] = v
	}
	for k, v := range templateVars {
		merged[k] = v
	}
	return merged
}

func hashVariant(vars map[string]any) string {
	keys := make([]string, 0, len(vars))
	for k := range vars {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	canon := make(map[string]any, len(vars))
	for _, k := range keys {
		canon[k] = vars[k]
	}
	data, _ := json.Marshal(canon)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
