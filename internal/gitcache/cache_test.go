package gitcache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agpm-dev/agpm/internal/testfixture"
)

func newTestCache(t *testing.T) *Cache {
	t.Helper()
	c, err := New(t.TempDir())
	require.NoError(t, err)
	return c.WithPolicy(Policy{StartBackoff: time.Millisecond, MaxBackoff: 10 * time.Millisecond, Timeout: 2 * time.Second})
}

func TestGetOrFetchSourceAndWorktree(t *testing.T) {
	repo := testfixture.NewRepo(t)
	repo.WriteFile("agents/reviewer.md", "# reviewer\n")
	sha := repo.Commit("initial")
	repo.Tag("v1.0.0")

	cache := newTestCache(t)
	ctx := context.Background()

	resolved, err := cache.GetOrFetchSource(ctx, repo.URL(), "")
	require.NoError(t, err)
	assert.Equal(t, sha, resolved)

	wt, err := cache.GetWorktree(ctx, repo.URL(), sha)
	require.NoError(t, err)

	files, err := cache.ListFiles(wt)
	require.NoError(t, err)
	assert.Contains(t, files, "agents/reviewer.md")
}

func TestGetWorktreeIsSharedAcrossCalls(t *testing.T) {
	repo := testfixture.NewRepo(t)
	sha := repo.Commit("initial")

	cache := newTestCache(t)
	ctx := context.Background()
	_, err := cache.GetOrFetchSource(ctx, repo.URL(), "")
	require.NoError(t, err)

	wt1, err := cache.GetWorktree(ctx, repo.URL(), sha)
	require.NoError(t, err)
	wt2, err := cache.GetWorktree(ctx, repo.URL(), sha)
	require.NoError(t, err)
	assert.Equal(t, wt1, wt2)
}

func TestListTagsCachedPerInstance(t *testing.T) {
	repo := testfixture.NewRepo(t)
	repo.Commit("initial")
	repo.Tag("v1.0.0")
	repo.Commit("second")
	repo.Tag("v1.1.0")

	cache := newTestCache(t)
	ctx := context.Background()

	tags, err := cache.ListTags(ctx, repo.URL())
	require.NoError(t, err)
	assert.Len(t, tags, 2)

	// A second call must not re-shell-out; the cached slice should be the
	// exact same backing data (pointer-identity would be ideal, but a
	// simple re-fetch would still return 2, so assert the sync.Once fired
	// by checking the map has exactly one entry for this URL).
	tags2, err := cache.ListTags(ctx, repo.URL())
	require.NoError(t, err)
	assert.Equal(t, tags, tags2)

	n := 0
	cache.tagCaches.Range(func(_, _ any) bool { n++; return true })
	assert.Equal(t, 1, n)
}

func TestGetWorktreeFailsWithoutBareClone(t *testing.T) {
	cache := newTestCache(t)
	_, err := cache.GetWorktree(context.Background(), "/nonexistent/repo", "deadbeef")
	require.Error(t, err)
}
