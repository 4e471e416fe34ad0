package refcheck

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractMarkdownLinksAndPaths(t *testing.T) {
	content := "Check the [documentation](./docs/guide.md) for more info.\n" +
		"Also see `.agpm/snippets/example.md` directly.\n" +
		"But not this [external](https://example.com) or `inline code .md`.\n"
	refs := ExtractFileReferences(content)
	assert.Contains(t, refs, "./docs/guide.md")
	assert.Contains(t, refs, ".agpm/snippets/example.md")
	assert.NotContains(t, refs, "https://example.com")
}

func TestExtractSkipsCodeBlocks(t *testing.T) {
	content := "```\nsee docs/hidden.md\n```\nbut [visible](docs/visible.md)\n"
	refs := ExtractFileReferences(content)
	assert.NotContains(t, refs, "docs/hidden.md")
	assert.Contains(t, refs, "docs/visible.md")
}

func TestIsValidFileReference(t *testing.T) {
	cases := map[string]bool{
		"./docs/guide.md":         true,
		"docs/guide.md":           true,
		"http://example.com/x.md": false,
		"/abs/path.md":            false,
		"#anchor":                 false,
		"example.md":              false, // no path separator
		"":                        false,
	}
	for input, want := range cases {
		assert.Equal(t, want, isValidFileReference(input), input)
	}
}

func TestValidateFileReferencesReportsMissing(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "docs"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "docs", "guide.md"), []byte("x"), 0o644))

	missing := ValidateFileReferences([]string{"docs/guide.md", "docs/missing.md"}, dir)
	assert.Equal(t, []string{"docs/missing.md"}, missing)
}
