// Package manifest parses agpm.toml (and its optional sibling
// agpm.private.toml) into the in-memory model consumed by the resolver.
//
// Grounded on github.com/BurntSushi/toml, already present in the teacher's
// dependency graph; promoted here from an indirect tool dependency to a
// direct, exercised one, the way a CLI's own config file is decoded.
package manifest

import (
	"fmt"
	"os"
	"sort"

	"github.com/BurntSushi/toml"

	"github.com/agpm-dev/agpm/internal/agpmlog"
)

var log = agpmlog.New("manifest")

// ProjectFile is the conventional manifest filename.
const ProjectFile = "agpm.toml"

// PrivateFile is the conventional private-manifest filename.
const PrivateFile = "agpm.private.toml"

// Source identifies a Git repository (or local path via file://) a
// dependency can be drawn from.
type Source struct {
	Name string `toml:"-"`
	URL  string `toml:"-"`
}

// ResourceType enumerates the artifact ecosystems agpm installs.
type ResourceType string

const (
	TypeAgent     ResourceType = "agents"
	TypeSnippet   ResourceType = "snippets"
	TypeCommand   ResourceType = "commands"
	TypeMCPServer ResourceType = "mcp-servers"
	TypeSkill     ResourceType = "skills"
)

// AllResourceTypes lists every recognized resource table, in the order
// lockfile sections are emitted (I4).
var AllResourceTypes = []ResourceType{TypeAgent, TypeSnippet, TypeCommand, TypeMCPServer, TypeSkill}

// DependencySpec is one entry under [<type>.<alias>] in the manifest, or a
// transitive dependency descriptor embedded in a resource's frontmatter.
type DependencySpec struct {
	Alias string       `toml:"-"` // manifest table key, e.g. [agents.my-agent]
	Type  ResourceType `toml:"-"` // which resource table this came from

	Source string `toml:"source,omitempty"` // empty => local path relative to project
	Path   string `toml:"path"`             // literal file or glob pattern

	// Exactly one of the following identifies the version constraint.
	Version string `toml:"version,omitempty"` // exact tag or semver range
	Branch  string `toml:"branch,omitempty"`
	Rev     string `toml:"rev,omitempty"`

	Tool     string `toml:"tool,omitempty"`
	Filename string `toml:"filename,omitempty"`
	Target   string `toml:"target,omitempty"`

	TemplateVars map[string]any `toml:"template_vars,omitempty"`

	Install *bool  `toml:"install,omitempty"` // nil => true
	Name    string `toml:"name,omitempty"`    // inline alias for template references
	Flatten bool   `toml:"flatten,omitempty"`
}

// InstallEnabled reports whether this spec should materialize a file
// (true unless install = false was declared).
func (d *DependencySpec) InstallEnabled() bool {
	return d.Install == nil || *d.Install
}

// ConstraintString returns the single configured version constraint
// (exact/range, branch, or rev), or "" for an unspecified (HEAD) constraint.
func (d *DependencySpec) ConstraintString() string {
	switch {
	case d.Rev != "":
		return d.Rev
	case d.Branch != "":
		return d.Branch
	default:
		return d.Version
	}
}

// ToolConfig configures where one tool ecosystem installs its resources.
type ToolConfig struct {
	Path      string                          `toml:"path,omitempty"`
	Enabled   *bool                           `toml:"enabled,omitempty"`
	Resources map[string]ToolResourceOverride `toml:"resources,omitempty"`
}

// IsEnabled reports whether the tool is active (default true).
func (t ToolConfig) IsEnabled() bool {
	return t.Enabled == nil || *t.Enabled
}

// ToolResourceOverride overrides the default install path for one resource
// type within a tool.
type ToolResourceOverride struct {
	Path string `toml:"path,omitempty"`
}

// PatchSet is a key/value overlay applied to a resource's rendered
// frontmatter, declared as [patch.<type>.<alias>].
type PatchSet map[string]any

// rawManifest mirrors the literal TOML shape; Manifest post-processes it
// into the friendlier model above (TOML tables don't preserve the
// alias-as-map-key pattern needed by DependencySpec.Alias).
type rawManifest struct {
	Sources    map[string]string              `toml:"sources"`
	Project    map[string]any                 `toml:"project"`
	Tools      map[string]ToolConfig          `toml:"tools"`
	Agents     map[string]DependencySpec      `toml:"agents"`
	Snippets   map[string]DependencySpec      `toml:"snippets"`
	Commands   map[string]DependencySpec      `toml:"commands"`
	MCPServers map[string]DependencySpec      `toml:"mcp-servers"`
	Skills     map[string]DependencySpec      `toml:"skills"`
	Patch      map[string]map[string]PatchSet `toml:"patch"`
}

// Manifest is the fully parsed, in-memory form of agpm.toml.
type Manifest struct {
	Sources     map[string]Source
	ProjectVars map[string]any
	Tools       map[string]ToolConfig
	Resources   map[ResourceType]map[string]DependencySpec
	Patches     map[ResourceType]map[string]PatchSet

	// Private is true when agpm.private.toml was merged in.
	Private bool
}

// Load reads agpm.toml from dir, and merges agpm.private.toml if present.
// Per spec.md §6, a private manifest may contribute sources, dependencies,
// and patches, but must not declare [tools.*].
func Load(dir string) (*Manifest, error) {
	m, err := loadOne(dir, ProjectFile)
	if err != nil {
		return nil, err
	}

	privatePath := dir + string(os.PathSeparator) + PrivateFile
	if _, statErr := os.Stat(privatePath); statErr == nil {
		priv, err := loadOne(dir, PrivateFile)
		if err != nil {
			return nil, fmt.Errorf("parsing %s: %w", PrivateFile, err)
		}
		if len(priv.Tools) > 0 {
			return nil, fmt.Errorf("%s must not declare [tools.*]", PrivateFile)
		}
		mergePrivate(m, priv)
		m.Private = true
	}

	log.Printf("loaded manifest: %d sources, %d resource types", len(m.Sources), len(m.Resources))
	return m, nil
}

func loadOne(dir, filename string) (*Manifest, error) {
	path := dir + string(os.PathSeparator) + filename
	var raw rawManifest
	if _, err := toml.DecodeFile(path, &raw); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", filename, err)
	}
	return fromRaw(&raw), nil
}

func fromRaw(raw *rawManifest) *Manifest {
	m := &Manifest{
		Sources:     map[string]Source{},
		ProjectVars: raw.Project,
		Tools:       raw.Tools,
		Resources:   map[ResourceType]map[string]DependencySpec{},
		Patches:     map[ResourceType]map[string]PatchSet{},
	}
	for name, url := range raw.Sources {
		m.Sources[name] = Source{Name: name, URL: url}
	}

	assign := func(rt ResourceType, entries map[string]DependencySpec) {
		if len(entries) == 0 {
			return
		}
		out := make(map[string]DependencySpec, len(entries))
		for alias, spec := range entries {
			spec.Alias = alias
			spec.Type = rt
			out[alias] = spec
		}
		m.Resources[rt] = out
	}
	assign(TypeAgent, raw.Agents)
	assign(TypeSnippet, raw.Snippets)
	assign(TypeCommand, raw.Commands)
	assign(TypeMCPServer, raw.MCPServers)
	assign(TypeSkill, raw.Skills)

	for typeName, byAlias := range raw.Patch {
		rt := ResourceType(typeName)
		m.Patches[rt] = byAlias
	}

	return m
}

func mergePrivate(project, private *Manifest) {
	for name, src := range private.Sources {
		project.Sources[name] = src
	}
	for rt, entries := range private.Resources {
		if project.Resources[rt] == nil {
			project.Resources[rt] = map[string]DependencySpec{}
		}
		for alias, spec := range entries {
			project.Resources[rt][alias] = spec
		}
	}
	for rt, byAlias := range private.Patches {
		if project.Patches[rt] == nil {
			project.Patches[rt] = map[string]PatchSet{}
		}
		// Private patches overlay project patches per-alias, per spec.md §3.
		for alias, patch := range byAlias {
			project.Patches[rt][alias] = patch
		}
	}
}

// SortedResourceAliases returns the manifest's resource aliases for a type,
// sorted for deterministic iteration (I4/I7 rely on downstream sorting, but
// a stable input order keeps worklist expansion deterministic too).
func (m *Manifest) SortedResourceAliases(rt ResourceType) []string {
	entries := m.Resources[rt]
	aliases := make([]string, 0, len(entries))
	for alias := range entries {
		aliases = append(aliases, alias)
	}
	sort.Strings(aliases)
	return aliases
}

// AllDirectSpecs returns every declared dependency spec across all resource
// types, in deterministic (type, alias) order — the resolver's initial
// worklist.
func (m *Manifest) AllDirectSpecs() []DependencySpec {
	var specs []DependencySpec
	for _, rt := range AllResourceTypes {
		for _, alias := range m.SortedResourceAliases(rt) {
			spec := m.Resources[rt][alias]
			specs = append(specs, spec)
		}
	}
	return specs
}
