package resolver

import (
	"sort"
	"strings"

	"github.com/gobwas/glob"
)

// patternChars are the glob metacharacters that distinguish a pattern
// dependency path from a literal file path, per spec.md §4.3's Pattern
// expansion.
const patternChars = "*?[{"

func isPattern(path string) bool {
	return strings.ContainsAny(path, patternChars)
}

// matchGlob compiles pattern once and returns every entry in files it
// matches, sorted for deterministic worklist ordering.
func matchGlob(pattern string, files []string) ([]string, error) {
	g, err := glob.Compile(pattern, '/')
	if err != nil {
		return nil, err
	}
	var matches []string
	for _, f := range files {
		if g.Match(f) {
			matches = append(matches, f)
		}
	}
	sort.Strings(matches)
	return matches, nil
}
