package lockfile

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agpm-dev/agpm/internal/resolver"
)

func TestFromPlanSortsWithinTable(t *testing.T) {
	plan := &resolver.Plan{Records: []*resolver.Record{
		{CanonicalName: "agents/zebra", Install: true},
		{CanonicalName: "agents/alpha", Install: true},
		{CanonicalName: "snippets/only", Install: true},
		{CanonicalName: "agents/skipped", Install: false},
	}}

	lf := FromPlan(plan)
	require.Len(t, lf.Agents, 2)
	assert.Equal(t, "agents/alpha", lf.Agents[0].Name)
	assert.Equal(t, "agents/zebra", lf.Agents[1].Name)
	require.Len(t, lf.Snippets, 1)
}

func TestWriteParseRoundTrip(t *testing.T) {
	dir := t.TempDir()
	lf := &Lockfile{
		Version: LockVersion,
		Agents: []Entry{
			{Name: "agents/reviewer", Source: "community", URL: "https://example.com/repo.git", Path: "agents/reviewer.md", Version: "v1.0.0", ResolvedCommit: "deadbeef"},
		},
	}
	require.NoError(t, Write(dir, lf))

	loaded, err := Parse(dir)
	require.NoError(t, err)
	require.Len(t, loaded.Agents, 1)
	assert.Equal(t, "agents/reviewer", loaded.Agents[0].Name)
	assert.Equal(t, "deadbeef", loaded.Agents[0].ResolvedCommit)
}

func TestParseMissingFileReturnsEmpty(t *testing.T) {
	lf, err := Parse(t.TempDir())
	require.NoError(t, err)
	assert.Equal(t, 0, lf.Version)
	assert.Empty(t, lf.AllEntries())
}
