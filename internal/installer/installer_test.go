package installer

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agpm-dev/agpm/internal/gitcache"
	"github.com/agpm-dev/agpm/internal/manifest"
	"github.com/agpm-dev/agpm/internal/resolver"
	"github.com/agpm-dev/agpm/internal/testfixture"
)

func TestTargetPathCollapsesResourceTypePrefix(t *testing.T) {
	r := &resolver.Record{CanonicalName: "agents/agents/reviewer", Path: "agents/reviewer.md", Tool: "claude-code"}
	got := TargetPath(nil, r)
	assert.Equal(t, ".claude/agents/reviewer.md", got)
}

func TestTargetPathHonorsFilenameOverride(t *testing.T) {
	r := &resolver.Record{CanonicalName: "agents/agents/reviewer", Path: "agents/reviewer.md", Tool: "claude-code", Filename: "custom.md"}
	got := TargetPath(nil, r)
	assert.Equal(t, ".claude/agents/custom.md", got)
}

func TestTargetPathPreservesNestedStructureUnlessFlattened(t *testing.T) {
	r := &resolver.Record{CanonicalName: "snippets/snippets/utils/helper", Path: "snippets/utils/helper.md", Tool: "claude-code"}
	assert.Equal(t, ".claude/snippets/utils/helper.md", TargetPath(nil, r))

	r.Flatten = true
	assert.Equal(t, ".claude/snippets/helper.md", TargetPath(nil, r))
}

func TestInstallWritesFileAndLockfile(t *testing.T) {
	repo := testfixture.NewRepo(t)
	repo.WriteFile("agents/reviewer.md", "---\ntitle: reviewer\n---\nHello {{ .agpm.tool }}\n")
	repo.Commit("initial")
	repo.Tag("v1.0.0")

	cache, err := gitcache.New(t.TempDir())
	require.NoError(t, err)

	ctx := context.Background()
	sha, err := cache.GetOrFetchSource(ctx, repo.URL(), "")
	require.NoError(t, err)

	projectDir := t.TempDir()
	plan := &resolver.Plan{Records: []*resolver.Record{
		{
			CanonicalName:  "agents/agents/reviewer",
			ManifestAlias:  "reviewer",
			Source:         "community",
			SourceURL:      repo.URL(),
			Path:           "agents/reviewer.md",
			ResolvedCommit: sha,
			Tool:           "claude-code",
			Install:        true,
		},
	}}

	inst := New(cache, map[string]manifest.ToolConfig{}, nil, Options{ProjectDir: projectDir})
	outcomes, lf, err := inst.Install(ctx, plan)
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	assert.True(t, outcomes[0].Written)

	data, err := os.ReadFile(filepath.Join(projectDir, ".claude/agents/reviewer.md"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "Hello claude-code")

	require.Len(t, lf.Agents, 1)
	assert.Equal(t, "agents/agents/reviewer", lf.Agents[0].Name)
}

func TestInstallEmbedsDependencyContentAndRecordsChecksums(t *testing.T) {
	repo := testfixture.NewRepo(t)
	repo.WriteFile("agents/reviewer.md", "---\ntitle: reviewer\n---\nSee: {{ (index .agpm.deps.snippets \"snippets/greeting\").content }}\n")
	repo.WriteFile("snippets/greeting.md", "Hello, {{ .agpm.tool }}!\n")
	repo.Commit("initial")
	repo.Tag("v1.0.0")

	cache, err := gitcache.New(t.TempDir())
	require.NoError(t, err)

	ctx := context.Background()
	sha, err := cache.GetOrFetchSource(ctx, repo.URL(), "")
	require.NoError(t, err)

	projectDir := t.TempDir()
	snippet := &resolver.Record{
		CanonicalName:  "snippets/snippets/greeting",
		Source:         "community",
		SourceURL:      repo.URL(),
		Path:           "snippets/greeting.md",
		ResolvedCommit: sha,
		Tool:           "claude-code",
		Install:        true,
	}
	agent := &resolver.Record{
		CanonicalName:  "agents/agents/reviewer",
		ManifestAlias:  "reviewer",
		Source:         "community",
		SourceURL:      repo.URL(),
		Path:           "agents/reviewer.md",
		ResolvedCommit: sha,
		Tool:           "claude-code",
		Install:        true,
		Edges:          []string{"snippets:snippets/snippets/greeting"},
	}
	plan := &resolver.Plan{Records: []*resolver.Record{agent, snippet}}

	inst := New(cache, map[string]manifest.ToolConfig{}, nil, Options{ProjectDir: projectDir})
	outcomes, lf, err := inst.Install(ctx, plan)
	require.NoError(t, err)
	require.Len(t, outcomes, 2)
	require.NoError(t, outcomes[0].Err)
	require.NoError(t, outcomes[1].Err)

	data, err := os.ReadFile(filepath.Join(projectDir, ".claude/agents/reviewer.md"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "Hello, claude-code!")

	require.Len(t, lf.Agents, 1)
	assert.NotEmpty(t, lf.Agents[0].Checksum)
	assert.NotEmpty(t, lf.Agents[0].ContextChecksum)
	assert.Equal(t, ".claude/agents/reviewer.md", lf.Agents[0].InstalledAt)
	assert.Equal(t, "reviewer", lf.Agents[0].ManifestAlias)
}

func TestInstallAppliesManifestPatchAndRecordsIt(t *testing.T) {
	repo := testfixture.NewRepo(t)
	repo.WriteFile("agents/reviewer.md", "---\ntitle: reviewer\n---\nHello\n")
	repo.Commit("initial")
	repo.Tag("v1.0.0")

	cache, err := gitcache.New(t.TempDir())
	require.NoError(t, err)

	ctx := context.Background()
	sha, err := cache.GetOrFetchSource(ctx, repo.URL(), "")
	require.NoError(t, err)

	projectDir := t.TempDir()
	plan := &resolver.Plan{Records: []*resolver.Record{
		{
			CanonicalName:  "agents/agents/reviewer",
			ManifestAlias:  "reviewer",
			Source:         "community",
			SourceURL:      repo.URL(),
			Path:           "agents/reviewer.md",
			ResolvedCommit: sha,
			Tool:           "claude-code",
			Install:        true,
		},
	}}

	patches := map[manifest.ResourceType]map[string]manifest.PatchSet{
		manifest.TypeAgent: {"reviewer": manifest.PatchSet{"title": "patched reviewer"}},
	}

	inst := New(cache, map[string]manifest.ToolConfig{}, patches, Options{ProjectDir: projectDir})
	outcomes, lf, err := inst.Install(ctx, plan)
	require.NoError(t, err)
	require.Len(t, outcomes, 1)
	require.NoError(t, outcomes[0].Err)

	data, err := os.ReadFile(filepath.Join(projectDir, ".claude/agents/reviewer.md"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "patched reviewer")

	require.Len(t, lf.Agents, 1)
	assert.Equal(t, map[string]any{"title": "patched reviewer"}, lf.Agents[0].AppliedPatches)
}

func TestInstallDetectsTargetCollision(t *testing.T) {
	cache, err := gitcache.New(t.TempDir())
	require.NoError(t, err)

	plan := &resolver.Plan{Records: []*resolver.Record{
		{CanonicalName: "agents/agents/one", Path: "agents/reviewer.md", Filename: "shared.md", Tool: "claude-code", Install: true},
		{CanonicalName: "agents/agents/two", Path: "agents/other.md", Filename: "shared.md", Tool: "claude-code", Install: true},
	}}

	inst := New(cache, map[string]manifest.ToolConfig{}, nil, Options{ProjectDir: t.TempDir()})
	_, _, err = inst.Install(context.Background(), plan)
	require.Error(t, err)
}
