package ports

import "context"

// Span is an in-flight trace span.
type Span interface {
	// SetAttr attaches a key/value attribute to the span.
	SetAttr(key string, value any)

	// End completes the span, recording err when non-nil.
	End(err error)
}

// Tracer starts spans around transaction phases and solver runs.
type Tracer interface {
	// Start opens a span named name and returns a context carrying it.
	Start(ctx context.Context, name string) (context.Context, Span)
}
