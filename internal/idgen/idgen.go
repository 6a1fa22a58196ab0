// Package idgen wraps the UUID generator so that it can be stubbed in tests.
// Callers should treat identifiers as opaque strings.
package idgen

import "github.com/google/uuid"

// NewFunc generates identifiers. Override in tests for determinism.
var NewFunc = func() string { return uuid.NewString() }

// New returns a new globally unique identifier.
func New() string { return NewFunc() }
