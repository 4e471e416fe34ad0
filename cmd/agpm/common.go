package main

import (
	"context"
	"fmt"
	"os"

	"github.com/agpm-dev/agpm/internal/agpmlog"
	"github.com/agpm-dev/agpm/internal/gitcache"
	"github.com/agpm-dev/agpm/internal/manifest"
	"github.com/agpm-dev/agpm/internal/metadata"
	"github.com/agpm-dev/agpm/internal/opctx"
	"github.com/agpm-dev/agpm/internal/resolver"
)

var cmdLog = agpmlog.New("cmd")

// projectDir resolves the directory a command operates on: always the
// current working directory, matching the teacher's own cwd-rooted
// workflow discovery in pkg/cli.
func projectDir() (string, error) {
	return os.Getwd()
}

// loadProject reads agpm.toml (+ agpm.private.toml) and opens the Git
// cache rooted at $AGPM_CACHE_DIR (or the OS default).
func loadProject(dir string) (*manifest.Manifest, *gitcache.Cache, error) {
	m, err := manifest.Load(dir)
	if err != nil {
		return nil, nil, fmt.Errorf("loading manifest: %w", err)
	}
	cache, err := gitcache.New(os.Getenv("AGPM_CACHE_DIR"))
	if err != nil {
		return nil, nil, fmt.Errorf("opening git cache: %w", err)
	}
	return m, cache, nil
}

// buildEngine wires a resolver.Engine over m's sources, using frontmatter
// metadata extraction for transitive dependency discovery.
func buildEngine(m *manifest.Manifest, cache *gitcache.Cache) *resolver.Engine {
	return resolver.New(cache, m.Sources, metadata.New())
}

// resolvePlan runs one resolution under a freshly stamped operation
// context and logs the operation id once, from this package. The log
// lines internal/resolver emits during the resolve do not carry the id.
func resolvePlan(ctx context.Context, dir string) (*manifest.Manifest, *gitcache.Cache, *resolver.Plan, error) {
	op := opctx.New(ctx)
	defer op.Cancel()
	cmdLog.Printf("op %s: resolving in %s", op.ID, dir)

	m, cache, err := loadProject(dir)
	if err != nil {
		return nil, nil, nil, err
	}
	engine := buildEngine(m, cache)
	plan, err := engine.Resolve(op, m)
	if err != nil {
		return nil, nil, nil, err
	}
	return m, cache, plan, nil
}
