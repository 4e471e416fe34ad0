// Package agpmerrors defines the error taxonomy used across the resolver,
// installer, and command layer so that failures can be reported with a
// stable kind, an exit code, and a structured diagnostic instead of being
// string-matched out of a wrapped error chain.
package agpmerrors

import (
	"errors"
	"fmt"
)

// Kind classifies a failure for exit-code mapping and --format json output.
type Kind string

const (
	ManifestInvalid      Kind = "ManifestInvalid"
	SourceInaccessible   Kind = "SourceInaccessible"
	VersionUnresolvable  Kind = "VersionUnresolvable"
	ConflictUnresolvable Kind = "ConflictUnresolvable"
	Cycle                Kind = "Cycle"
	TargetCollision      Kind = "TargetCollision"
	TemplateError        Kind = "TemplateError"
	LockfileCorrupt      Kind = "LockfileCorrupt"
	FilesystemError      Kind = "FilesystemError"
	Timeout              Kind = "Timeout"
)

// Error is a taxonomy-tagged error carrying the context needed to render a
// user-facing diagnostic: the resource it concerns, the manifest entries
// that produced the conflict (if any), and a suggested remedy.
type Error struct {
	Kind     Kind
	Resource string   // canonical name of the offending resource, if any
	Entries  []string // originating manifest aliases/entries, for conflicts
	Remedy   string   // suggested fix, shown to the user
	Err      error    // underlying cause
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s", e.Kind)
	if e.Resource != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Resource)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	if len(e.Entries) > 0 {
		msg = fmt.Sprintf("%s (entries: %v)", msg, e.Entries)
	}
	if e.Remedy != "" {
		msg = fmt.Sprintf("%s\nremedy: %s", msg, e.Remedy)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an *Error of the given kind wrapping err.
func New(kind Kind, resource string, err error) *Error {
	return &Error{Kind: kind, Resource: resource, Err: err}
}

// WithEntries attaches the originating manifest entries (for conflict
// diagnostics) and returns the same *Error for chaining.
func (e *Error) WithEntries(entries ...string) *Error {
	e.Entries = entries
	return e
}

// WithRemedy attaches a suggested fix and returns the same *Error.
func (e *Error) WithRemedy(remedy string) *Error {
	e.Remedy = remedy
	return e
}

// KindOf extracts the Kind from err, walking the wrap chain. The zero
// value is returned if err carries no taxonomy tag.
func KindOf(err error) Kind {
	var tagged *Error
	if errors.As(err, &tagged) {
		return tagged.Kind
	}
	return ""
}

// ExitCode maps a Kind to a process exit code. All taxonomy kinds exit
// non-zero; an untagged error also exits non-zero via the default case.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	switch KindOf(err) {
	case ManifestInvalid:
		return 2
	case SourceInaccessible:
		return 3
	case VersionUnresolvable:
		return 4
	case ConflictUnresolvable:
		return 5
	case Cycle:
		return 6
	case TargetCollision:
		return 7
	case TemplateError:
		return 8
	case LockfileCorrupt:
		return 9
	case Timeout:
		return 10
	default:
		return 1
	}
}
