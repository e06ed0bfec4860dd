package observability

import "context"

// Checker is implemented by components that report readiness.
// Implementations must be safe for concurrent use and bound their own work
// with the provided context.
type Checker interface {
	// Name identifies the component ("database", "redis").
	Name() string
	// Check returns nil when the component is healthy.
	Check(ctx context.Context) error
}
