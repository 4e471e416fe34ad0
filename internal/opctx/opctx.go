// Package opctx carries per-invocation identity and cancellation through a
// single install/update/validate run, so log lines and error reports
// across concurrent worker-pool tasks can be correlated back to one
// operation (spec.md §5's "operation id").
//
// Grounded on the teacher's pattern of threading a context.Context plus a
// run identifier through pkg/cli's command handlers; google/uuid is
// promoted here from an indirect dependency (pulled in transitively by
// several teacher tool integrations) to the direct source of that
// identifier.
package opctx

import (
	"context"

	"github.com/google/uuid"
)

type ctxKey struct{}

// Context bundles an operation's identity, the root context.Context it
// runs under, and a CancelFunc callers can trigger on fatal error or
// interrupt signal.
type Context struct {
	context.Context
	ID     string
	Cancel context.CancelFunc
}

// New derives an Context from parent, stamping a fresh operation id and
// registering it for retrieval via From.
func New(parent context.Context) *Context {
	ctx, cancel := context.WithCancel(parent)
	id := uuid.NewString()
	ctx = context.WithValue(ctx, ctxKey{}, id)
	return &Context{Context: ctx, ID: id, Cancel: cancel}
}

// From extracts the operation id stamped by New, or "" if ctx wasn't
// derived from one.
func From(ctx context.Context) string {
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}
