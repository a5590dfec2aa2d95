// Package oracle defines the reasoning capability consumed by the engine.
// An Oracle is opaque, possibly slow, possibly faulting; callers treat any
// returned error as a soft failure, never as something to re-raise.
package oracle

import "context"

// Request carries one prompt plus free-form run context to the oracle.
type Request struct {
	Prompt string         `json:"prompt"`
	Vars   map[string]any `json:"vars,omitempty"`
}

// Response is the oracle's reply to a single request.
type Response struct {
	Content string         `json:"content"`
	Tokens  int            `json:"tokens,omitempty"`
	Meta    map[string]any `json:"meta,omitempty"`
}

// Oracle is the external reasoning capability (e.g. a language model).
type Oracle interface {
	// Name identifies the oracle for logs and metrics.
	Name() string

	// Complete sends one request and blocks until the oracle replies,
	// the context is cancelled, or the call fails.
	Complete(ctx context.Context, req Request) (*Response, error)
}

// CompleteFunc is the signature of a single oracle call.
type CompleteFunc func(ctx context.Context, req Request) (*Response, error)

// Func adapts a plain function to the Oracle interface under the given name.
func Func(name string, fn CompleteFunc) Oracle {
	if name == "" {
		name = "func"
	}
	return funcOracle{name: name, fn: fn}
}

type funcOracle struct {
	name string
	fn   CompleteFunc
}

// Name implements Oracle.
func (f funcOracle) Name() string { return f.name }

// Complete implements Oracle.
func (f funcOracle) Complete(ctx context.Context, req Request) (*Response, error) {
	return f.fn(ctx, req)
}
