package observability

import "context"

// Checker is a dependency verified by the readiness probe.
// Check must honour ctx and be safe for concurrent use.
type Checker interface {
	// Name identifies the component in the probe response, e.g. "redis".
	Name() string
	// Check returns nil when the component is healthy.
	Check(ctx context.Context) error
}

// CheckerFunc adapts a function to Checker.
type CheckerFunc struct {
	Component string
	Fn        func(ctx context.Context) error
}

// Name implements Checker.
func (c CheckerFunc) Name() string { return c.Component }

// Check implements Checker.
func (c CheckerFunc) Check(ctx context.Context) error { return c.Fn(ctx) }
