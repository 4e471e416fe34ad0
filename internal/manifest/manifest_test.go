package manifest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0644))
}

func TestLoadBasicManifest(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, ProjectFile, `
[sources]
community = "https://github.com/example/community.git"

[project]
language = "golang"

[agents.reviewer]
source = "community"
path = "agents/reviewer.md"
version = "^v1.0.0"
`)

	m, err := Load(dir)
	require.NoError(t, err)

	assert.Equal(t, "https://github.com/example/community.git", m.Sources["community"].URL)
	assert.Equal(t, "golang", m.ProjectVars["language"])

	spec, ok := m.Resources[TypeAgent]["reviewer"]
	require.True(t, ok)
	assert.Equal(t, "community", spec.Source)
	assert.Equal(t, "agents/reviewer.md", spec.Path)
	assert.Equal(t, "^v1.0.0", spec.ConstraintString())
	assert.True(t, spec.InstallEnabled())
	assert.False(t, m.Private)
}

func TestLoadWithPrivateOverlay(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, ProjectFile, `
[sources]
community = "https://github.com/example/community.git"

[agents.reviewer]
source = "community"
path = "agents/reviewer.md"
version = "^v1.0.0"
`)
	writeFile(t, dir, PrivateFile, `
[sources]
internal = "https://github.internal/example/tools.git"

[agents.secret-reviewer]
source = "internal"
path = "agents/secret.md"
version = "^v2.0.0"
`)

	m, err := Load(dir)
	require.NoError(t, err)
	assert.True(t, m.Private)
	assert.Contains(t, m.Sources, "internal")
	assert.Contains(t, m.Resources[TypeAgent], "secret-reviewer")
	assert.Contains(t, m.Resources[TypeAgent], "reviewer")
}

func TestPrivateManifestRejectsTools(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, ProjectFile, `
[sources]
community = "https://github.com/example/community.git"
`)
	writeFile(t, dir, PrivateFile, `
[tools.claude-code]
path = ".claude"
`)

	_, err := Load(dir)
	require.Error(t, err)
}

func TestInstallDisabled(t *testing.T) {
	spec := DependencySpec{}
	assert.True(t, spec.InstallEnabled())

	no := false
	spec.Install = &no
	assert.False(t, spec.InstallEnabled())
}

func TestAllDirectSpecsDeterministicOrder(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, ProjectFile, `
[sources]
community = "https://github.com/example/community.git"

[agents.zeta]
source = "community"
path = "agents/zeta.md"

[agents.alpha]
source = "community"
path = "agents/alpha.md"
`)
	m, err := Load(dir)
	require.NoError(t, err)

	specs := m.AllDirectSpecs()
	require.Len(t, specs, 2)
	assert.Equal(t, "alpha", specs[0].Alias)
	assert.Equal(t, "zeta", specs[1].Alias)
}
