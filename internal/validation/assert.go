// Package validation holds constructor-time contract checks.
package validation

import "fmt"

// AssertNotNil panics when a mandatory dependency is nil. Constructors use it
// to fail fast on wiring mistakes instead of deferring the crash to the first
// request.
func AssertNotNil[T any](ptr *T, name string) {
	if ptr == nil {
		panic(fmt.Sprintf("critical error: %s cannot be nil", name))
	}
}

// AssertNotEmpty panics when a mandatory string dependency is empty.
func AssertNotEmpty(value, name string) {
	if value == "" {
		panic(fmt.Sprintf("critical error: %s cannot be empty", name))
	}
}
