package runner

import (
	"context"

	"github.com/roach88/pagegraph/internal/ir"
)

// Request is one query execution.
type Request struct {
	QueryID   string
	Query     string
	Variables ir.Object
}

// Response is what an executor produced. Dependencies lists every node and
// connection the execution read.
type Response struct {
	Data         ir.Object
	Errors       []ir.QueryError
	Dependencies []ir.Dependency
}

// Executor runs query text. A returned error means the executor itself
// failed; query-level problems belong in Response.Errors.
type Executor interface {
	Execute(ctx context.Context, req Request) (Response, error)
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, req Request) (Response, error)

// Execute calls f.
func (f ExecutorFunc) Execute(ctx context.Context, req Request) (Response, error) {
	return f(ctx, req)
}

// Emitter receives live updates in develop mode.
type Emitter interface {
	EmitResult(queryID, resultHash string, result ir.QueryResult)
	EmitError(queryID string, errs []ir.QueryError)
}
