package metadata

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDependenciesParsesFrontmatterDeclarations(t *testing.T) {
	dir := t.TempDir()
	content := `---
agpm:
  templating: true
  dependencies:
    snippets:
      - path: snippets/helper.md
        version: "^v1.0.0"
        name: helper
---
body
`
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "agents"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "agents", "reviewer.md"), []byte(content), 0o644))

	f := New()
	deps, err := f.Dependencies(context.Background(), dir, "agents/reviewer.md")
	require.NoError(t, err)
	require.Len(t, deps, 1)
	assert.Equal(t, "snippets/helper.md", deps[0].Path)
	assert.Equal(t, "^v1.0.0", deps[0].Version)
	assert.Equal(t, "helper", deps[0].Name)
}

func TestDependenciesReturnsNilWithoutFrontmatter(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "plain.md"), []byte("no frontmatter here"), 0o644))

	f := New()
	deps, err := f.Dependencies(context.Background(), dir, "plain.md")
	require.NoError(t, err)
	assert.Nil(t, deps)
}
