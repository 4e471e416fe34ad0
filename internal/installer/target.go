// Package installer turns a resolver.Plan into on-disk files (or merged
// JSON config fragments) and the resulting lockfile.
//
// Grounded on spec.md §4.5 and the teacher's pkg/cli/logs.go, which is the
// one place in githubnext-gh-aw that already does bounded concurrent
// filesystem work via sourcegraph/conc/pool — the installer's worker pool
// generalizes that exact pattern from "download N log archives" to
// "install N resolved resources".
package installer

import (
	"path"
	"strings"

	"github.com/agpm-dev/agpm/internal/manifest"
	"github.com/agpm-dev/agpm/internal/resolver"
)

// toolLayout describes where one tool integration expects each resource
// type to live, per spec.md §6's "Installation path conventions".
type toolLayout struct {
	dirFor  func(rt manifest.ResourceType) string // "" means this type merges into JSON, not files
	mcpJSON string                                // path to the merged JSON config, "" if N/A
	mcpKey  string                                // top-level key servers are merged under
}

var builtinLayouts = map[string]toolLayout{
	"claude-code": {
		dirFor: func(rt manifest.ResourceType) string {
			if rt == manifest.TypeMCPServer {
				return ""
			}
			return ".claude/" + string(rt)
		},
		mcpJSON: ".mcp.json",
		mcpKey:  "mcpServers",
	},
	"opencode": {
		dirFor: func(rt manifest.ResourceType) string {
			if rt == manifest.TypeMCPServer {
				return ""
			}
			return ".opencode/" + singular(rt)
		},
		mcpJSON: ".opencode/opencode.json",
		mcpKey:  "mcp",
	},
	"agpm": {
		dirFor: func(rt manifest.ResourceType) string {
			return ".agpm/" + string(rt)
		},
	},
}

func singular(rt manifest.ResourceType) string {
	return strings.TrimSuffix(string(rt), "s")
}

// layoutFor resolves a record's tool to a toolLayout, applying any
// manifest [tools.<tool>] path override.
func layoutFor(tools map[string]manifest.ToolConfig, toolName string) toolLayout {
	layout, ok := builtinLayouts[toolName]
	if !ok {
		layout = builtinLayouts["agpm"]
	}
	if cfg, ok := tools[toolName]; ok && cfg.Path != "" {
		root := strings.TrimSuffix(cfg.Path, "/")
		base := layout
		base.dirFor = func(rt manifest.ResourceType) string {
			if rt == manifest.TypeMCPServer && layout.mcpJSON != "" {
				return ""
			}
			return root + "/" + string(rt)
		}
		return base
	}
	return layout
}

// TargetPath computes a record's installed file path per spec.md §4.5
// step 5: tool root + resource-type dir + alias-or-path-derived name, with
// the resource-type-prefix collapse rule (an "agents/xyz.md" source path
// installed under ".claude/agents/" lands at ".claude/agents/xyz.md", not
// ".claude/agents/agents/xyz.md") and `filename`/`target` overrides.
func TargetPath(tools map[string]manifest.ToolConfig, r *resolver.Record) string {
	if r.Target != "" {
		return r.Target
	}

	layout := layoutFor(tools, r.Tool)
	typeDir := layout.dirFor(resourceTypeOf(r.CanonicalName))

	name := r.Filename
	if name == "" {
		name = baseNameFor(r)
	}

	if typeDir == "" {
		return name
	}
	return collapsePrefix(typeDir, name)
}

func resourceTypeOf(canonicalName string) manifest.ResourceType {
	idx := strings.IndexByte(canonicalName, '/')
	if idx < 0 {
		return manifest.ResourceType(canonicalName)
	}
	return manifest.ResourceType(canonicalName[:idx])
}

// baseNameFor derives the installed filename. A manifest alias always wins
// (it is the explicit "call this resource X" declaration); otherwise the
// source path's directory structure is preserved per spec.md §6 ("Nested
// path structure within the source is preserved unless flatten = true"),
// collapsed to a bare basename only when the dependency sets Flatten.
func baseNameFor(r *resolver.Record) string {
	if r.ManifestAlias != "" {
		return r.ManifestAlias + path.Ext(r.Path)
	}
	if r.Flatten {
		return path.Base(r.Path)
	}
	return r.Path
}

// collapsePrefix avoids doubling a resource-type segment that already
// prefixes name's source path, e.g. typeDir=".claude/agents" and a source
// path of "agents/reviewer.md" yields ".claude/agents/reviewer.md", not
// ".claude/agents/agents/reviewer.md".
func collapsePrefix(typeDir, name string) string {
	typeSegment := path.Base(typeDir)
	if strings.HasPrefix(name, typeSegment+"/") {
		name = strings.TrimPrefix(name, typeSegment+"/")
	}
	return path.Join(typeDir, name)
}
