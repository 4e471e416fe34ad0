package resolver

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agpm-dev/agpm/internal/gitcache"
	"github.com/agpm-dev/agpm/internal/manifest"
	"github.com/agpm-dev/agpm/internal/testfixture"
)

// fakeMetadata stubs out transitive frontmatter dependency extraction so
// resolver tests don't depend on internal/metadata.
type fakeMetadata struct {
	byPath map[string][]manifest.DependencySpec
}

func (f *fakeMetadata) Dependencies(ctx context.Context, worktree, relPath string) ([]manifest.DependencySpec, error) {
	return f.byPath[relPath], nil
}

func newCache(t *testing.T) *gitcache.Cache {
	t.Helper()
	c, err := gitcache.New(t.TempDir())
	require.NoError(t, err)
	return c
}

func TestResolveDirectDependency(t *testing.T) {
	repo := testfixture.NewRepo(t)
	repo.WriteFile("agents/reviewer.md", "# reviewer\n")
	repo.Commit("initial")
	repo.Tag("v1.0.0")

	m := &manifest.Manifest{
		Sources: map[string]manifest.Source{"community": {Name: "community", URL: repo.URL()}},
		Resources: map[manifest.ResourceType]map[string]manifest.DependencySpec{
			manifest.TypeAgent: {
				"reviewer": {Alias: "reviewer", Type: manifest.TypeAgent, Source: "community", Path: "agents/reviewer.md", Version: "v1.0.0"},
			},
		},
	}

	e := New(newCache(t), m.Sources, &fakeMetadata{})
	plan, err := e.Resolve(context.Background(), m)
	require.NoError(t, err)
	require.Len(t, plan.Records, 1)
	assert.Equal(t, "agents/agents/reviewer", plan.Records[0].CanonicalName)
	assert.Equal(t, "reviewer", plan.Records[0].ManifestAlias)
	assert.True(t, plan.Records[0].Install)
}

func TestResolveTransitiveDependency(t *testing.T) {
	repo := testfixture.NewRepo(t)
	repo.WriteFile("agents/parent.md", "# parent\n")
	repo.WriteFile("snippets/child.md", "# child\n")
	repo.Commit("initial")
	repo.Tag("v1.0.0")

	m := &manifest.Manifest{
		Sources: map[string]manifest.Source{"community": {Name: "community", URL: repo.URL()}},
		Resources: map[manifest.ResourceType]map[string]manifest.DependencySpec{
			manifest.TypeAgent: {
				"parent": {Alias: "parent", Type: manifest.TypeAgent, Source: "community", Path: "agents/parent.md", Version: "v1.0.0"},
			},
		},
	}

	fm := &fakeMetadata{byPath: map[string][]manifest.DependencySpec{
		"agents/parent.md": {
			{Type: manifest.TypeSnippet, Path: "snippets/child.md", Version: "v1.0.0"},
		},
	}}

	e := New(newCache(t), m.Sources, fm)
	plan, err := e.Resolve(context.Background(), m)
	require.NoError(t, err)
	require.Len(t, plan.Records, 2)
	assert.Equal(t, "agents/agents/parent", plan.Records[0].CanonicalName)
	assert.Equal(t, "snippets/snippets/child", plan.Records[1].CanonicalName)
	assert.Contains(t, plan.Records[0].Edges, "snippets:snippets/snippets/child@v1.0.0")
}

func TestResolveCycleDetection(t *testing.T) {
	repo := testfixture.NewRepo(t)
	repo.WriteFile("agents/a.md", "# a\n")
	repo.WriteFile("agents/b.md", "# b\n")
	repo.Commit("initial")
	repo.Tag("v1.0.0")

	m := &manifest.Manifest{
		Sources: map[string]manifest.Source{"community": {Name: "community", URL: repo.URL()}},
		Resources: map[manifest.ResourceType]map[string]manifest.DependencySpec{
			manifest.TypeAgent: {
				"a": {Alias: "a", Type: manifest.TypeAgent, Source: "community", Path: "agents/a.md", Version: "v1.0.0"},
			},
		},
	}

	fm := &fakeMetadata{byPath: map[string][]manifest.DependencySpec{
		"agents/a.md": {{Type: manifest.TypeAgent, Path: "agents/b.md", Version: "v1.0.0"}},
		"agents/b.md": {{Type: manifest.TypeAgent, Path: "agents/a.md", Version: "v1.0.0"}},
	}}

	e := New(newCache(t), m.Sources, fm)
	_, err := e.Resolve(context.Background(), m)
	require.Error(t, err)
}

func TestResolveConflictingExactVersions(t *testing.T) {
	repo := testfixture.NewRepo(t)
	repo.WriteFile("agents/a.md", "# a\n")
	repo.WriteFile("agents/b.md", "# b\n")
	repo.WriteFile("snippets/shared.md", "# shared\n")
	repo.Commit("initial")
	repo.Tag("v1.0.0")
	repo.Commit("second")
	repo.Tag("v2.0.0")

	m := &manifest.Manifest{
		Sources: map[string]manifest.Source{"community": {Name: "community", URL: repo.URL()}},
		Resources: map[manifest.ResourceType]map[string]manifest.DependencySpec{
			manifest.TypeAgent: {
				"a": {Alias: "a", Type: manifest.TypeAgent, Source: "community", Path: "agents/a.md", Version: "v1.0.0"},
				"b": {Alias: "b", Type: manifest.TypeAgent, Source: "community", Path: "agents/b.md", Version: "v1.0.0"},
			},
		},
	}

	fm := &fakeMetadata{byPath: map[string][]manifest.DependencySpec{
		"agents/a.md": {{Type: manifest.TypeSnippet, Path: "snippets/shared.md", Version: "v1.0.0"}},
		"agents/b.md": {{Type: manifest.TypeSnippet, Path: "snippets/shared.md", Version: "v2.0.0"}},
	}}

	e := New(newCache(t), m.Sources, fm)
	_, err := e.Resolve(context.Background(), m)
	require.Error(t, err)
}

func TestResolveIntersectsRangeConstraintsFromMultipleParents(t *testing.T) {
	repo := testfixture.NewRepo(t)
	repo.WriteFile("snippets/shared.md", "# shared v1\n")
	repo.Commit("v1")
	repo.Tag("v1.0.0")
	repo.WriteFile("snippets/shared.md", "# shared v1.9\n")
	repo.Commit("v1.9")
	repo.Tag("v1.9.0")
	repo.WriteFile("agents/a.md", "# a\n")
	repo.WriteFile("agents/b.md", "# b\n")
	repo.Commit("agents")
	repo.Tag("v2.0.0")

	m := &manifest.Manifest{
		Sources: map[string]manifest.Source{"community": {Name: "community", URL: repo.URL()}},
		Resources: map[manifest.ResourceType]map[string]manifest.DependencySpec{
			manifest.TypeAgent: {
				"a": {Alias: "a", Type: manifest.TypeAgent, Source: "community", Path: "agents/a.md", Version: "v2.0.0"},
				"b": {Alias: "b", Type: manifest.TypeAgent, Source: "community", Path: "agents/b.md", Version: "v2.0.0"},
			},
		},
	}

	// "a" pulls in the widest range (picks v1.9.0, the highest match on
	// its own); "b" pulls in a narrower range that excludes v1.9.0. The
	// winning candidate must satisfy both, landing on v1.0.0 instead of
	// the first-arriving constraint's own pick.
	fm := &fakeMetadata{byPath: map[string][]manifest.DependencySpec{
		"agents/a.md": {{Type: manifest.TypeSnippet, Path: "snippets/shared.md", Version: "^v1.0.0"}},
		"agents/b.md": {{Type: manifest.TypeSnippet, Path: "snippets/shared.md", Version: "<v1.9.0"}},
	}}

	e := New(newCache(t), m.Sources, fm)
	plan, err := e.Resolve(context.Background(), m)
	require.NoError(t, err)

	var shared *Record
	for _, r := range plan.Records {
		if r.CanonicalName == "snippets/snippets/shared" {
			shared = r
		}
	}
	require.NotNil(t, shared)
	assert.Equal(t, repo.TagSHA("v1.0.0"), shared.ResolvedCommit)
}

func TestResolveConflictingRangesWithNoOverlapIsUnresolvable(t *testing.T) {
	repo := testfixture.NewRepo(t)
	repo.WriteFile("snippets/shared.md", "# shared v1\n")
	repo.Commit("v1")
	repo.Tag("v1.0.0")
	repo.WriteFile("snippets/shared.md", "# shared v2\n")
	repo.Commit("v2")
	repo.Tag("v2.0.0")
	repo.WriteFile("agents/a.md", "# a\n")
	repo.WriteFile("agents/b.md", "# b\n")
	repo.Commit("agents")
	repo.Tag("v3.0.0")

	m := &manifest.Manifest{
		Sources: map[string]manifest.Source{"community": {Name: "community", URL: repo.URL()}},
		Resources: map[manifest.ResourceType]map[string]manifest.DependencySpec{
			manifest.TypeAgent: {
				"a": {Alias: "a", Type: manifest.TypeAgent, Source: "community", Path: "agents/a.md", Version: "v3.0.0"},
				"b": {Alias: "b", Type: manifest.TypeAgent, Source: "community", Path: "agents/b.md", Version: "v3.0.0"},
			},
		},
	}

	fm := &fakeMetadata{byPath: map[string][]manifest.DependencySpec{
		"agents/a.md": {{Type: manifest.TypeSnippet, Path: "snippets/shared.md", Version: "^v1.0.0"}},
		"agents/b.md": {{Type: manifest.TypeSnippet, Path: "snippets/shared.md", Version: "^v2.0.0"}},
	}}

	e := New(newCache(t), m.Sources, fm)
	_, err := e.Resolve(context.Background(), m)
	require.Error(t, err)
}

func TestResolvePatternExpansion(t *testing.T) {
	repo := testfixture.NewRepo(t)
	repo.WriteFile("agents/one.md", "# one\n")
	repo.WriteFile("agents/two.md", "# two\n")
	repo.Commit("initial")
	repo.Tag("v1.0.0")

	m := &manifest.Manifest{
		Sources: map[string]manifest.Source{"community": {Name: "community", URL: repo.URL()}},
		Resources: map[manifest.ResourceType]map[string]manifest.DependencySpec{
			manifest.TypeAgent: {
				"bundle": {Alias: "bundle", Type: manifest.TypeAgent, Source: "community", Path: "agents/*.md", Version: "v1.0.0"},
			},
		},
	}

	e := New(newCache(t), m.Sources, &fakeMetadata{})
	plan, err := e.Resolve(context.Background(), m)
	require.NoError(t, err)
	require.Len(t, plan.Records, 2)
	names := []string{plan.Records[0].CanonicalName, plan.Records[1].CanonicalName}
	assert.ElementsMatch(t, []string{"agents/agents/one", "agents/agents/two"}, names)
}
