// Package version translates a manifest version constraint into a concrete
// tag and commit SHA against a source's tag list.
//
// Grounded on spec.md §4.2. Semver range matching uses
// github.com/Masterminds/semver/v3 (promoted here from an indirect
// dependency of the teacher's toolchain to a direct, exercised one — it is
// the de facto standard Go semver library and several example repos in the
// retrieval pack pull it in transitively for exactly this kind of
// constraint matching).
package version

import (
	"fmt"
	"strings"

	"github.com/Masterminds/semver/v3"

	"github.com/agpm-dev/agpm/internal/agpmlog"
)

var log = agpmlog.New("version")

// Kind discriminates the constraint grammar recognized by spec.md §4.2.
type Kind int

const (
	KindExact Kind = iota
	KindRange
	KindBranch
	KindRev
	KindUnspecified
)

// Constraint is a parsed version constraint, possibly scoped to a tag
// prefix namespace (spec.md's "prefixed version").
type Constraint struct {
	Kind   Kind
	Raw    string
	Prefix string // "" unless this is a prefixed constraint like "agents-^v1.0.0"

	semverConstraint *semver.Constraints // set when Kind == KindRange
	exact            string              // set when Kind == KindExact (post-prefix-strip)
}

// ParseConstraint classifies raw per the grammar in spec.md §4.2:
// an exact tag, a semver range (leading ^ ~ >= < = or a compound range),
// an optional "<prefix>-" namespace wrapper, or — when branch/rev is
// supplied directly instead — a branch or commit constraint.
func ParseConstraint(raw, branch, rev string) (Constraint, error) {
	switch {
	case rev != "":
		return Constraint{Kind: KindRev, Raw: rev}, nil
	case branch != "":
		return Constraint{Kind: KindBranch, Raw: branch}, nil
	case raw == "":
		return Constraint{Kind: KindUnspecified}, nil
	}

	prefix, body := splitPrefix(raw)

	if looksLikeRange(body) {
		c, err := semver.NewConstraint(body)
		if err != nil {
			return Constraint{}, fmt.Errorf("invalid version range %q: %w", raw, err)
		}
		return Constraint{Kind: KindRange, Raw: raw, Prefix: prefix, semverConstraint: c}, nil
	}

	return Constraint{Kind: KindExact, Raw: raw, Prefix: prefix, exact: body}, nil
}

// splitPrefix splits "<prefix>-<constraint>" into its prefix and body.
// A constraint is only treated as prefixed when the text before the first
// "-" is not itself a recognized range operator or a bare semver token —
// i.e. "agents-^v1.0.0" is prefixed, "^v1.0.0" and "v1.0.0" are not.
func splitPrefix(raw string) (prefix, body string) {
	idx := strings.Index(raw, "-")
	if idx <= 0 {
		return "", raw
	}
	candidate := raw[:idx]
	if strings.ContainsAny(candidate, "^~>=<v0123456789") && isVersionLikeToken(candidate) {
		return "", raw
	}
	return candidate, raw[idx+1:]
}

// isVersionLikeToken reports whether s looks like it begins a bare version
// (e.g. "v1", "1", "^v1", "v1.0.0") rather than a prefix namespace name.
func isVersionLikeToken(s string) bool {
	s = strings.TrimLeft(s, "^~>=< ")
	s = strings.TrimPrefix(s, "v")
	if s == "" {
		return false
	}
	for _, r := range s {
		if (r < '0' || r > '9') && r != '.' {
			return false
		}
	}
	return true
}

func looksLikeRange(body string) bool {
	for _, op := range []string{"^", "~", ">=", "<=", ">", "<", "="} {
		if strings.HasPrefix(body, op) {
			return true
		}
	}
	return strings.Contains(body, ",")
}

// Candidate is one tag available on a source, paired with its commit SHA.
type Candidate struct {
	Tag    string
	Commit string
}

// ErrNoMatch is returned by Resolve when no candidate satisfies a constraint.
type ErrNoMatch struct {
	Constraint string
}

func (e *ErrNoMatch) Error() string {
	return fmt.Sprintf("no tag satisfies constraint %q", e.Constraint)
}

// Resolve matches c against tags (as returned by the Git cache's tag
// listing), returning the winning tag. Prefix isolation (P8) applies to
// every kind: an unprefixed constraint never considers prefixed tags, and
// vice versa.
func (c Constraint) Resolve(tags []Candidate) (Candidate, error) {
	candidates := filterByPrefix(tags, c.Prefix)

	switch c.Kind {
	case KindExact:
		for _, cand := range candidates {
			if stripPrefix(cand.Tag, c.Prefix) == c.exact {
				return cand, nil
			}
		}
		return Candidate{}, &ErrNoMatch{Constraint: c.Raw}

	case KindRange:
		var best Candidate
		var bestVer *semver.Version
		for _, cand := range candidates {
			stripped := stripPrefix(cand.Tag, c.Prefix)
			v, err := semver.NewVersion(stripped)
			if err != nil {
				continue // non-semver tags are simply not range candidates
			}
			if !c.semverConstraint.Check(v) {
				continue
			}
			if bestVer == nil || v.GreaterThan(bestVer) {
				bestVer = v
				best = cand
			}
		}
		if bestVer == nil {
			return Candidate{}, &ErrNoMatch{Constraint: c.Raw}
		}
		log.Printf("resolved range %q -> %s", c.Raw, best.Tag)
		return best, nil

	default:
		return Candidate{}, fmt.Errorf("Resolve called on non-tag constraint kind %v", c.Kind)
	}
}

// ResolveAll picks the highest-version candidate satisfying every
// constraint in constraints simultaneously, per spec.md §4.3's "the
// resolved version is the highest tag satisfying all pending constraints"
// — not just the first constraint to reach a given dependency key.
// Callers are expected to have already rejected incompatible Kinds/exact
// mismatches (see resolver.checkCompatibleKinds); ResolveAll itself only
// handles the case all constraints agree on Kind == KindRange, since exact/
// branch/rev constraints resolve to a single candidate with no range to
// intersect.
func ResolveAll(constraints []Constraint, tags []Candidate) (Candidate, error) {
	if len(constraints) == 0 {
		return Candidate{}, fmt.Errorf("ResolveAll called with no constraints")
	}
	if len(constraints) == 1 {
		return constraints[0].Resolve(tags)
	}

	first := constraints[0]
	if first.Kind != KindRange {
		return first.Resolve(tags)
	}

	candidates := filterByPrefix(tags, first.Prefix)
	var best Candidate
	var bestVer *semver.Version
	for _, cand := range candidates {
		stripped := stripPrefix(cand.Tag, first.Prefix)
		v, err := semver.NewVersion(stripped)
		if err != nil {
			continue
		}
		satisfiesAll := true
		for _, c := range constraints {
			if !c.semverConstraint.Check(v) {
				satisfiesAll = false
				break
			}
		}
		if !satisfiesAll {
			continue
		}
		if bestVer == nil || v.GreaterThan(bestVer) {
			bestVer = v
			best = cand
		}
	}
	if bestVer == nil {
		return Candidate{}, &ErrNoMatch{Constraint: "intersection of pending constraints"}
	}
	log.Printf("resolved intersection of %d constraints -> %s", len(constraints), best.Tag)
	return best, nil
}

func filterByPrefix(tags []Candidate, prefix string) []Candidate {
	out := make([]Candidate, 0, len(tags))
	for _, t := range tags {
		if prefix == "" {
			if !hasAnyKnownPrefix(t.Tag) {
				out = append(out, t)
			}
			continue
		}
		if isPrefixed(t.Tag, prefix) {
			out = append(out, t)
		}
	}
	return out
}

func isPrefixed(tag, prefix string) bool {
	return strings.HasPrefix(tag, prefix+"-")
}

// hasAnyKnownPrefix is a conservative heuristic: a tag is "prefixed" if the
// text after its first '-' starts like a version body ('v' or a digit).
// The segment before the '-' is not examined.
func hasAnyKnownPrefix(tag string) bool {
	idx := strings.Index(tag, "-")
	if idx <= 0 {
		return false
	}
	prefixCandidate := tag[idx+1:]
	return strings.HasPrefix(prefixCandidate, "v") || (len(prefixCandidate) > 0 && prefixCandidate[0] >= '0' && prefixCandidate[0] <= '9')
}

func stripPrefix(tag, prefix string) string {
	if prefix == "" {
		return tag
	}
	return strings.TrimPrefix(tag, prefix+"-")
}
