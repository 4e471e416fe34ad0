// Package metadata implements resolver.MetadataFetcher by reading a
// candidate resource's frontmatter and decoding its declared transitive
// dependencies, per spec.md §4.3's "fetch metadata at candidate (parsed
// frontmatter), extract transitive deps" step and §6's frontmatter schema:
// YAML delimited by "---", with dependencies nested under
// agpm.dependencies.<type>[].
//
// Grounded on the teacher's own YAML frontmatter parsing in
// pkg/parser (github.com/goccy/go-yaml), reused here instead of the
// stdlib-adjacent gopkg.in/yaml.v3 the teacher also carries, since
// goccy/go-yaml is the one the teacher's frontmatter-specific code path
// actually calls.
package metadata

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/goccy/go-yaml"

	"github.com/agpm-dev/agpm/internal/manifest"
)

// Fetcher reads frontmatter dependency declarations directly off disk in a
// given worktree.
type Fetcher struct{}

// New returns a ready-to-use Fetcher.
func New() *Fetcher { return &Fetcher{} }

type frontmatter struct {
	AGPM struct {
		Templating   bool                            `yaml:"templating"`
		Dependencies map[string][]dependencySpecYAML `yaml:"dependencies"`
	} `yaml:"agpm"`
}

// dependencySpecYAML mirrors manifest.DependencySpec's declarable fields;
// kept separate because DependencySpec's struct tags target TOML, not
// YAML, and the manifest/frontmatter shapes are declared in different
// serialization formats per spec.md §6.
type dependencySpecYAML struct {
	Source       string         `yaml:"source"`
	Path         string         `yaml:"path"`
	Version      string         `yaml:"version"`
	Branch       string         `yaml:"branch"`
	Rev          string         `yaml:"rev"`
	Tool         string         `yaml:"tool"`
	Filename     string         `yaml:"filename"`
	Target       string         `yaml:"target"`
	TemplateVars map[string]any `yaml:"template_vars"`
	Install      *bool          `yaml:"install"`
	Name         string         `yaml:"name"`
	Flatten      bool           `yaml:"flatten"`
}

// Dependencies implements resolver.MetadataFetcher.
func (f *Fetcher) Dependencies(ctx context.Context, worktree, relPath string) ([]manifest.DependencySpec, error) {
	raw, err := os.ReadFile(filepath.Join(worktree, relPath))
	if err != nil {
		return nil, fmt.Errorf("reading %s for metadata: %w", relPath, err)
	}
	fm, ok := extractFrontmatter(string(raw))
	if !ok {
		return nil, nil
	}

	var parsed frontmatter
	if err := yaml.Unmarshal([]byte(fm), &parsed); err != nil {
		return nil, fmt.Errorf("parsing frontmatter dependencies in %s: %w", relPath, err)
	}

	var specs []manifest.DependencySpec
	for typeName, entries := range parsed.AGPM.Dependencies {
		rt := manifest.ResourceType(typeName)
		for _, e := range entries {
			specs = append(specs, manifest.DependencySpec{
				Type:         rt,
				Source:       e.Source,
				Path:         e.Path,
				Version:      e.Version,
				Branch:       e.Branch,
				Rev:          e.Rev,
				Tool:         e.Tool,
				Filename:     e.Filename,
				Target:       e.Target,
				TemplateVars: e.TemplateVars,
				Install:      e.Install,
				Name:         e.Name,
				Flatten:      e.Flatten,
			})
		}
	}
	return specs, nil
}

func extractFrontmatter(raw string) (string, bool) {
	if !strings.HasPrefix(raw, "---\n") {
		return "", false
	}
	rest := raw[4:]
	idx := strings.Index(rest, "\n---\n")
	if idx < 0 {
		return "", false
	}
	return rest[:idx], true
}
