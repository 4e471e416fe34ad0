// Package template renders a resource's frontmatter and body against the
// agpm template context, in the two-pass order spec.md §4.4 requires:
// pass 1 renders the frontmatter alone against a minimal context (no
// dependency content yet, since frontmatter fields like `path`/`tool`/
// `target` never need it), then the rendered frontmatter is re-parsed as
// YAML to pick up its own `agpm.templating` declaration; pass 2 renders
// the body against the full context, including resolved dependency
// content, only if that flag didn't turn templating off.
//
// No Jinja-family engine appears anywhere in the retrieval pack (grepped
// across every example repo and other_examples/ file — only
// text/template turns up, in the teacher-adjacent campaign tooling). This
// package is therefore built on text/template directly: a small
// preprocessor rewrites the spec's {% if %}/{% endif %}/{{ }} surface
// syntax into text/template's own {{if}}/{{end}}/{{.}} syntax before
// handing the result to text/template.Template, rather than hand-rolling a
// parser for Jinja-like control flow.
package template

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"text/template"

	"github.com/goccy/go-yaml"

	"github.com/agpm-dev/agpm/internal/agpmerrors"
	"github.com/agpm-dev/agpm/internal/agpmlog"
)

var log = agpmlog.New("template")

// Context is the data made available to a template as the top-level
// "agpm" namespace, per spec.md §4.4.
type Context struct {
	Vars         map[string]any // agpm.project.*
	ResourceName string         // agpm.resource.name
	Tool         string
	Target       string // agpm.resource.install_path
	Source       string // agpm.resource.source
	Version      string // agpm.resource.version

	// Dependencies holds resolved transitive dependency data keyed by
	// resource type then alias, for agpm.deps.<type>.<alias>.{content,
	// name,version,path}. Left nil for pass 1's minimal frontmatter
	// context; populated by the installer before pass 2's body render.
	Dependencies map[string]map[string]DependencyInfo
}

// DependencyInfo is one resolved dependency's data, exposed to a template
// under agpm.deps.<type>.<alias> per spec.md §4.4.
type DependencyInfo struct {
	Name    string
	Version string
	Path    string
	Content string
}

// Result carries a render's output plus the checksums spec.md's staleness
// detection (§4.6) compares against the lockfile.
type Result struct {
	Frontmatter string
	Body        string
	ContextHash string
	ContentHash string
}

// sentinel markers wrap literal (non-template) regions so the body pass
// doesn't re-expand `{{ }}`/`{% %}` text a resource author wrote as
// documentation about agpm itself (spec.md's "literal guards"). A fenced
// code block is always treated as literal as well.
const (
	literalOpen  = "\x00AGPM_LITERAL_OPEN\x00"
	literalClose = "\x00AGPM_LITERAL_CLOSE\x00"
)

var fencedBlockRe = regexp.MustCompile("(?s)```.*?```")
var literalDirectiveRe = regexp.MustCompile(`(?s)\{%\s*literal\s*%\}(.*?)\{%\s*endliteral\s*%\}`)

// frontmatterMeta mirrors the handful of agpm.* frontmatter keys the
// render pipeline itself needs to inspect between passes (spec.md §4.4's
// "parses the result as YAML to extract templating, dependencies, etc.").
// Resource authors' own dependency declarations are read earlier, by
// resolver.MetadataFetcher, off the unrendered source — this struct only
// needs the one flag that changes pass 2's behavior.
type frontmatterMeta struct {
	AGPM struct {
		Templating *bool `yaml:"templating"`
	} `yaml:"agpm"`
}

// Render performs the two-pass render described above. frontmatterSrc and
// bodySrc are the raw text segments split by the caller (the installer, or
// cmd/agpm's validate --render) at the "---" frontmatter fence. extraFuncs
// lets the installer bind a `content` filter rooted at the resource's
// source worktree (see ContentFilterFor); a nil map renders without it.
func Render(ctx Context, frontmatterSrc, bodySrc string, extraFuncs template.FuncMap) (*Result, error) {
	log.Printf("rendering template for tool=%s target=%s", ctx.Tool, ctx.Target)

	minimalCtx := ctx
	minimalCtx.Dependencies = nil

	fmOut, err := renderPass(frontmatterSrc, minimalCtx, extraFuncs)
	if err != nil {
		return nil, agpmerrors.New(agpmerrors.TemplateError, "frontmatter", err)
	}

	templating := true
	var meta frontmatterMeta
	if err := yaml.Unmarshal([]byte(fmOut), &meta); err == nil && meta.AGPM.Templating != nil {
		templating = *meta.AGPM.Templating
	}

	bodyOut := bodySrc
	if templating {
		bodyOut, err = renderPass(bodySrc, ctx, extraFuncs)
		if err != nil {
			return nil, agpmerrors.New(agpmerrors.TemplateError, "body", err)
		}
	}

	return &Result{
		Frontmatter: fmOut,
		Body:        bodyOut,
		ContextHash: hashContext(ctx),
		ContentHash: hashContent(fmOut, bodyOut),
	}, nil
}

func renderPass(src string, ctx Context, extraFuncs template.FuncMap) (string, error) {
	protected, literals := extractLiterals(src)
	goSrc := preprocess(protected)

	funcs := funcMap()
	for name, fn := range extraFuncs {
		funcs[name] = fn
	}

	tmpl, err := template.New("resource").Funcs(funcs).Parse(goSrc)
	if err != nil {
		return "", fmt.Errorf("parsing template: %w", err)
	}

	data := map[string]any{"agpm": toTemplateData(ctx)}
	for k, v := range ctx.Vars {
		data[k] = v
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("executing template: %w", err)
	}

	return restoreLiterals(buf.String(), literals), nil
}

// extractLiterals replaces fenced code blocks and explicit
// {% literal %}...{% endliteral %} regions with sentinel placeholders so
// the preprocessor and text/template never touch their contents.
func extractLiterals(src string) (string, []string) {
	var literals []string
	capture := func(s string) string {
		idx := len(literals)
		literals = append(literals, s)
		return fmt.Sprintf("%s%d%s", literalOpen, idx, literalClose)
	}
	src = literalDirectiveRe.ReplaceAllStringFunc(src, func(m string) string {
		sub := literalDirectiveRe.FindStringSubmatch(m)
		return capture(sub[1])
	})
	src = fencedBlockRe.ReplaceAllStringFunc(src, capture)
	return src, literals
}

var literalPlaceholderRe = regexp.MustCompile(regexp.QuoteMeta(literalOpen) + `(\d+)` + regexp.QuoteMeta(literalClose))

func restoreLiterals(out string, literals []string) string {
	return literalPlaceholderRe.ReplaceAllStringFunc(out, func(m string) string {
		sub := literalPlaceholderRe.FindStringSubmatch(m)
		var idx int
		fmt.Sscanf(sub[1], "%d", &idx)
		if idx < 0 || idx >= len(literals) {
			return m
		}
		return literals[idx]
	})
}

var (
	ifRe       = regexp.MustCompile(`\{%\s*if\s+(.+?)\s*%\}`)
	elifRe     = regexp.MustCompile(`\{%\s*elif\s+(.+?)\s*%\}`)
	elseRe     = regexp.MustCompile(`\{%\s*else\s*%\}`)
	endifRe    = regexp.MustCompile(`\{%\s*endif\s*%\}`)
	forBlockRe = regexp.MustCompile(`(?s)\{%\s*for\s+(\w+)\s+in\s+(.+?)\s*%\}(.*?)\{%\s*endfor\s*%\}`)
)

// preprocess rewrites the spec's {% %} control-flow tags into
// text/template's {{ }} equivalents. Plain {{ expr }} interpolation needs
// no rewriting since it is already text/template's native syntax.
//
// For-loops are rewritten as a unit (tag pair plus body) rather than tag
// by tag, because text/template requires the loop variable to carry a `$`
// sigil ({{range $item := .items}}) while bare references to it inside the
// body ({{ item }}) don't — this rewrite only looks one level deep, so
// nested for-loops referencing an outer loop variable aren't supported.
func preprocess(src string) string {
	src = ifRe.ReplaceAllString(src, "{{if $1}}")
	src = elifRe.ReplaceAllString(src, "{{else if $1}}")
	src = elseRe.ReplaceAllString(src, "{{else}}")
	src = endifRe.ReplaceAllString(src, "{{end}}")
	src = forBlockRe.ReplaceAllStringFunc(src, func(block string) string {
		m := forBlockRe.FindStringSubmatch(block)
		varName, expr, body := m[1], m[2], m[3]
		bodyRe := regexp.MustCompile(`\{\{\s*` + regexp.QuoteMeta(varName) + `(\b[^}]*)\}\}`)
		body = bodyRe.ReplaceAllString(body, "{{ $"+varName+"$1}}")
		return fmt.Sprintf("{{range $%s := %s}}%s{{end}}", varName, expr, body)
	})
	return src
}

func funcMap() template.FuncMap {
	return template.FuncMap{
		"content": contentFilter,
		"default": func(def, val any) any {
			if val == nil || val == "" {
				return def
			}
			return val
		},
	}
}

// contentFilter is the default binding of the {{ path | content }} filter
// (spec.md §4.4's "content inclusion"). It has no source root to read
// from, so it always returns an error; a working filter with path-traversal
// and size guards comes from ContentFilterFor via extraFuncs.
func contentFilter(relPath string) (string, error) {
	return "", fmt.Errorf("content filter requires an installer-bound root; use ContentFilterFor")
}

// ContentFilterFor returns a `content` filter that rejects any relPath
// escaping the caller's source root (spec.md's "no .. segments resolving
// outside the source worktree") or exceeding maxBytes; read is expected to
// resolve relPath against that root and report the file's size.
func ContentFilterFor(maxBytes int64, read func(path string) ([]byte, int64, error)) template.FuncMap {
	return template.FuncMap{
		"content": func(relPath string) (string, error) {
			clean := filepath.Clean(relPath)
			if strings.HasPrefix(clean, "..") || filepath.IsAbs(clean) {
				return "", fmt.Errorf("content path %q escapes source root", relPath)
			}
			data, size, err := read(clean)
			if err != nil {
				return "", err
			}
			if size > maxBytes {
				return "", fmt.Errorf("content file %q is %d bytes, exceeds limit %d", relPath, size, maxBytes)
			}
			return string(data), nil
		},
	}
}

func toTemplateData(ctx Context) map[string]any {
	deps := make(map[string]any, len(ctx.Dependencies))
	for typeName, byAlias := range ctx.Dependencies {
		entries := make(map[string]any, len(byAlias))
		for alias, info := range byAlias {
			entries[alias] = map[string]any{
				"name":    info.Name,
				"version": info.Version,
				"path":    info.Path,
				"content": info.Content,
			}
		}
		deps[typeName] = entries
	}

	data := map[string]any{
		"tool":    ctx.Tool,
		"target":  ctx.Target,
		"source":  ctx.Source,
		"version": ctx.Version,
		"project": ctx.Vars,
		"resource": map[string]any{
			"name":         ctx.ResourceName,
			"install_path": ctx.Target,
			"version":      ctx.Version,
			"source":       ctx.Source,
		},
		"deps": deps,
	}
	for k, v := range ctx.Vars {
		data[k] = v
	}
	return data
}

// hashContext checksums the template context's canonical JSON form, for
// spec.md §4.6's "variables changed" staleness signal.
func hashContext(ctx Context) string {
	canon := toTemplateData(ctx)
	keys := make([]string, 0, len(canon))
	for k := range canon {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	ordered := make(map[string]any, len(canon))
	for _, k := range keys {
		ordered[k] = canon[k]
	}
	data, _ := json.Marshal(ordered)
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// hashContent checksums the rendered output in the form the installer
// writes it (the frontmatter between "---" fences followed by the body, or
// the body alone when there is no frontmatter), for spec.md §4.6's "local
// edits" staleness signal (a mismatch against the lockfile's recorded
// content hash means the installed file was hand-edited).
func hashContent(frontmatter, body string) string {
	out := body
	if frontmatter != "" {
		out = "---\n" + frontmatter + "\n---\n" + body
	}
	sum := sha256.Sum256([]byte(out))
	return hex.EncodeToString(sum[:])
}

// HashContent exposes hashContent to callers (the installer) that mutate
// a render's output after the fact — e.g. applying a [patch.*] overlay to
// the frontmatter — and must recompute the checksum over the bytes that
// will actually be written, per spec.md §4.6's "checksum is always
// computed over the final bytes".
func HashContent(frontmatter, body string) string {
	return hashContent(frontmatter, body)
}
