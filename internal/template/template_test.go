package template

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRenderInterpolation(t *testing.T) {
	ctx := Context{Vars: map[string]any{"name": "Ada"}, Tool: "claude-code"}
	result, err := Render(ctx, "tool: {{ .agpm.tool }}\n", "Hello {{ .agpm.name }}!\n", nil)
	require.NoError(t, err)
	assert.Equal(t, "tool: claude-code\n", result.Frontmatter)
	assert.Equal(t, "Hello Ada!\n", result.Body)
	assert.NotEmpty(t, result.ContextHash)
	assert.NotEmpty(t, result.ContentHash)
}

func TestRenderConditional(t *testing.T) {
	ctx := Context{Vars: map[string]any{"strict": true}}
	result, err := Render(ctx, "", "{% if .strict %}STRICT{% else %}LAX{% endif %}\n", nil)
	require.NoError(t, err)
	assert.Equal(t, "STRICT\n", result.Body)
}

func TestRenderLoop(t *testing.T) {
	ctx := Context{Vars: map[string]any{"items": []string{"a", "b"}}}
	result, err := Render(ctx, "", "{% for item in .items %}[{{ item }}]{% endfor %}\n", nil)
	require.NoError(t, err)
	assert.Equal(t, "[a][b]\n", result.Body)
}

func TestRenderPreservesFencedCodeBlock(t *testing.T) {
	ctx := Context{}
	body := "Example:\n```\n{{ .agpm.tool }}\n```\n"
	result, err := Render(ctx, "", body, nil)
	require.NoError(t, err)
	assert.Equal(t, body, result.Body)
}

func TestRenderPreservesLiteralDirective(t *testing.T) {
	ctx := Context{}
	body := "{% literal %}{{ .agpm.tool }}{% endliteral %}\n"
	result, err := Render(ctx, "", body, nil)
	require.NoError(t, err)
	assert.Equal(t, "{{ .agpm.tool }}\n", result.Body)
}

func TestRenderEmbedsDependencyContent(t *testing.T) {
	ctx := Context{
		Dependencies: map[string]map[string]DependencyInfo{
			"snippets": {
				"commands/commit": {Name: "commands/commit", Version: "v1.0.0", Path: "commands/commit.md", Content: "Use conventional commits."},
			},
		},
	}
	result, err := Render(ctx, "", `{{ (index .agpm.deps.snippets "commands/commit").content }}`+"\n", nil)
	require.NoError(t, err)
	assert.Equal(t, "Use conventional commits.\n", result.Body)
}

func TestRenderSkipsBodyPassWhenTemplatingDisabled(t *testing.T) {
	ctx := Context{Vars: map[string]any{"name": "Ada"}}
	result, err := Render(ctx, "agpm:\n  templating: false\n", "Hello {{ .agpm.name }}!\n", nil)
	require.NoError(t, err)
	assert.Equal(t, "Hello {{ .agpm.name }}!\n", result.Body)
}

func TestContentFilterRejectsTraversal(t *testing.T) {
	funcs := ContentFilterFor(1024, func(path string) ([]byte, int64, error) {
		return []byte("irrelevant"), 10, nil
	})
	fn := funcs["content"].(func(string) (string, error))
	_, err := fn("../../etc/passwd")
	require.Error(t, err)
}

func TestContentFilterRejectsOversize(t *testing.T) {
	funcs := ContentFilterFor(4, func(path string) ([]byte, int64, error) {
		return []byte("toolong"), 7, nil
	})
	fn := funcs["content"].(func(string) (string, error))
	_, err := fn("snippets/big.md")
	require.Error(t, err)
}

func TestDefaultFuncFallsBackWhenEmpty(t *testing.T) {
	ctx := Context{Vars: map[string]any{"label": ""}}
	result, err := Render(ctx, "", fmt.Sprintf("{{ default \"fallback\" .label }}\n"), nil)
	require.NoError(t, err)
	assert.Equal(t, "fallback\n", result.Body)
}
